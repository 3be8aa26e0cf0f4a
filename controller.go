// Package mindkite closes the loop between a MindWave EEG headset and a
// Tello drone: decoded samples are smoothed and mapped onto velocity
// commands dispatched at a fixed cadence under safety gating.
package mindkite

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/mindkite/mindkite/mapper"
	"github.com/mindkite/mindkite/mindwave"
	"github.com/mindkite/mindkite/monitor"
	"github.com/mindkite/mindkite/tello"
)

const (
	poorSignalLogInterval = 2 * time.Second

	shutdownJoinTimeout = 5 * time.Second
)

// settle times are variables so tests can shorten them
var (
	takeoffSettle = 3 * time.Second
	landSettle    = 3 * time.Second
)

// ErrLowBattery aborts startup before any motion is attempted.
var ErrLowBattery = errors.New("battery below safe minimum")

// Snapshot is the read-only view served to the dashboard.
type Snapshot struct {
	Sample   mindwave.Sample
	State    tello.State
	Velocity mapper.Velocity
	Airborne bool
	Running  bool
}

// Controller owns the tick loop and the lifecycle of both links.
type Controller struct {
	cfg     Config
	sensor  Sensor
	drone   Drone
	mapper  *mapper.Mapper
	monitor *monitor.UDPForwarder

	wg sync.WaitGroup

	mu           sync.Mutex
	cancel       context.CancelFunc
	running      bool
	stopped      bool
	suppress     bool
	airborne     bool
	lastDispatch time.Time
	lastVelocity mapper.Velocity
	poorSince    time.Time
	lastPoorLog  time.Time
	tickCount    uint64
}

func NewController(cfg Config) *Controller {
	return &Controller{
		cfg:    cfg,
		sensor: sensorConnect(cfg.Headset),
		drone:  droneConnect(cfg.Drone),
		mapper: mapper.New(cfg.MapperSettings()),
	}
}

// SetMonitor attaches a snapshot forwarder fed once per tick. Must be
// called before Start.
func (c *Controller) SetMonitor(m *monitor.UDPForwarder) {
	c.monitor = m
}

// SetTestMode swaps the headset for a synthetic sample generator so the
// loop can run without hardware. Must be called before Start.
func (c *Controller) SetTestMode(on bool) {
	if on {
		log.Info("test mode: generating synthetic EEG data")
		c.sensor = newTestSensor()
	}
}

// Start initializes both links and runs the tick loop until the context
// is cancelled or Stop is called. Initialization failures are returned
// before any motion command is sent.
func (c *Controller) Start(ctx context.Context) error {
	if err := c.cfg.Validate(); err != nil {
		return errors.Wrap(err, "invalid configuration")
	}

	ctx, cancel := context.WithCancel(ctx)
	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		cancel()
		return errors.New("controller already stopped")
	}
	c.cancel = cancel
	c.mu.Unlock()

	log.Info("initializing eeg-drone control")
	if err := c.sensor.Open(); err != nil {
		cancel()
		return errors.Wrapf(err, "unable to open %s", c.sensor.Name())
	}
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		if err := retry(ctx, c.sensor); err != nil {
			log.Infof("%s reader stopped: %v", c.sensor.Name(), err)
		}
	}()

	if err := c.drone.Connect(); err != nil {
		cancel()
		return errors.Wrap(err, "unable to connect to drone")
	}

	battery, err := c.drone.Battery()
	if err != nil {
		cancel()
		c.drone.Disconnect()
		return errors.Wrap(err, "unable to read battery level")
	}
	log.Infof("drone battery level: %d%%", battery)
	if battery < c.cfg.Safety.MinBattery {
		cancel()
		c.drone.Disconnect()
		return errors.Wrapf(ErrLowBattery, "battery at %d%%, minimum %d%%",
			battery, c.cfg.Safety.MinBattery)
	}

	if c.cfg.Control.AutoTakeoff {
		if err := c.drone.Takeoff(); err != nil {
			cancel()
			c.drone.Disconnect()
			return errors.Wrap(err, "automatic takeoff failed")
		}
		c.setAirborne(true)
		time.Sleep(takeoffSettle)
	}

	if c.monitor != nil {
		c.wg.Add(1)
		go func() {
			defer c.wg.Done()
			if err := c.monitor.Start(ctx); err != nil {
				log.Infof("monitor forwarder stopped: %v", err)
			}
		}()
	}

	c.mu.Lock()
	c.running = true
	c.mu.Unlock()
	log.Info("control loop running")

	ticker := time.NewTicker(c.cfg.Control.TickDelay.Duration)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			c.mu.Lock()
			c.running = false
			c.mu.Unlock()
			log.Info("control loop exiting")
			return nil
		case <-ticker.C:
			// a failing tick never terminates the loop
			if err := c.tick(); err != nil {
				log.WithField("err", err).Error("tick failed")
			}
		}
	}
}

// tick consumes the most recent sample snapshot, maps it and dispatches a
// velocity command when the rate limiter allows.
func (c *Controller) tick() error {
	sample := c.sensor.Data()
	now := time.Now()

	c.mu.Lock()
	suppress := c.suppress
	c.tickCount++
	tickCount := c.tickCount
	c.mu.Unlock()
	if suppress {
		return nil
	}

	if !sample.SignalGood(uint8(c.cfg.Safety.MaxPoorSignal)) {
		c.handlePoorSignal(now, sample.SignalQuality)
		// the monitor stream keeps reporting through the episode
		c.forwardFrame(sample, mapper.Velocity{})
		return nil
	}
	c.mu.Lock()
	c.poorSince = time.Time{}
	c.mu.Unlock()

	if tickCount%50 == 0 {
		log.Infof("alpha: %d, attention: %d, meditation: %d",
			sample.Alpha, sample.Attention, sample.Meditation)
	}

	// mapping runs every tick so smoothing stays continuous even when
	// dispatch is rate-limited below
	cyl := c.mapper.Map(float64(sample.Alpha),
		float64(sample.Attention), float64(sample.Meditation))
	vel := c.mapper.Velocity(cyl)

	if landed := c.checkBattery(); landed {
		return nil
	}
	if c.cfg.Safety.MaxHeight > 0 && vel.Z > 0 &&
		c.drone.Height() >= c.cfg.Safety.MaxHeight {
		vel.Z = 0
	}

	c.mu.Lock()
	due := now.Sub(c.lastDispatch) >= c.cfg.Control.CommandInterval.Duration
	if due {
		c.lastDispatch = now
	}
	c.lastVelocity = vel
	c.mu.Unlock()

	c.forwardFrame(sample, vel)

	if !due {
		return nil
	}

	return c.drone.SendRC(vel.X, vel.Y, vel.Z, vel.Yaw)
}

// forwardFrame ships one snapshot to the monitor.
func (c *Controller) forwardFrame(sample mindwave.Sample, vel mapper.Velocity) {
	if c.monitor == nil {
		return
	}
	c.mu.Lock()
	airborne := c.airborne
	running := c.running
	c.mu.Unlock()
	battery, _ := c.drone.State().Float("bat")
	c.monitor.Forward(monitor.Frame{
		SignalQuality: sample.SignalQuality,
		Attention:     sample.Attention,
		Meditation:    sample.Meditation,
		Airborne:      boolByte(airborne),
		Running:       boolByte(running),
		Alpha:         sample.Alpha,
		VelX:          int8(vel.X),
		VelY:          int8(vel.Y),
		VelZ:          int8(vel.Z),
		VelYaw:        int8(vel.Yaw),
		Battery:       float32(battery),
		Height:        float32(c.drone.Height()),
	})
}

func boolByte(b bool) uint8 {
	if b {
		return 1
	}
	return 0
}

// handlePoorSignal suppresses dispatch and, when the signal has been poor
// beyond the configured window while airborne, lands once per episode.
func (c *Controller) handlePoorSignal(now time.Time, quality uint8) {
	c.mu.Lock()
	if c.poorSince.IsZero() {
		c.poorSince = now
	}
	poorFor := now.Sub(c.poorSince)
	shouldLog := now.Sub(c.lastPoorLog) >= poorSignalLogInterval
	if shouldLog {
		c.lastPoorLog = now
	}
	land := c.airborne && poorFor >= c.cfg.Safety.PoorSignalLandAfter.Duration
	if land {
		c.airborne = false
	}
	c.mu.Unlock()

	if shouldLog {
		log.WithField("signalQuality", quality).
			Warn("poor signal, suppressing motion commands")
	}
	if land {
		log.Warnf("signal poor for %v, landing", poorFor.Round(time.Second))
		if err := c.drone.Land(); err != nil {
			log.WithField("err", err).Error("autonomous land failed")
		}
	}
}

// checkBattery reads the state feed's battery value and lands when it
// drops below the minimum in flight. Returns true when dispatch should be
// suppressed this tick.
func (c *Controller) checkBattery() bool {
	battery, ok := c.drone.State().Float("bat")
	if !ok || int(battery) >= c.cfg.Safety.MinBattery {
		return false
	}

	c.mu.Lock()
	airborne := c.airborne
	c.airborne = false
	c.mu.Unlock()

	if airborne {
		log.WithField("battery", battery).Warn("battery below minimum, landing")
		if err := c.drone.Land(); err != nil {
			log.WithField("err", err).Error("low battery land failed")
		}
	}
	return true
}

// Stop suppresses motion, lands, and tears both links down. It is
// idempotent and safe even when Start never ran or failed part-way.
func (c *Controller) Stop() {
	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		return
	}
	c.stopped = true
	c.suppress = true
	c.airborne = false
	cancel := c.cancel
	c.mu.Unlock()

	log.Info("stopping eeg-drone control")
	if cancel != nil {
		cancel()
	}

	if err := c.drone.Land(); err != nil {
		log.WithField("err", err).Warn("land on shutdown failed")
	} else {
		time.Sleep(landSettle)
	}
	c.drone.Disconnect()

	if err := c.sensor.Close(); err != nil {
		log.WithField("err", err).Warnf("unable to close %s", c.sensor.Name())
	}

	done := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(shutdownJoinTimeout):
		log.Warn("sensor reader did not stop in time")
	}
	log.Info("shutdown complete")
}

// Emergency cuts the motors immediately. Safe to call concurrently with
// Stop; it rides the drone link's lock-minimal send path.
func (c *Controller) Emergency() {
	c.mu.Lock()
	c.suppress = true
	c.airborne = false
	c.mu.Unlock()
	if err := c.drone.Emergency(); err != nil {
		log.WithField("err", err).Error("emergency stop failed")
	}
}

// Snapshot returns an owned copy of the loop's current state for the
// dashboard's read-only surface.
func (c *Controller) Snapshot() Snapshot {
	c.mu.Lock()
	vel := c.lastVelocity
	airborne := c.airborne
	running := c.running
	c.mu.Unlock()
	return Snapshot{
		Sample:   c.sensor.Data(),
		State:    c.drone.State(),
		Velocity: vel,
		Airborne: airborne,
		Running:  running,
	}
}

func (c *Controller) setAirborne(v bool) {
	c.mu.Lock()
	c.airborne = v
	c.mu.Unlock()
}
