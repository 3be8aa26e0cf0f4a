// Package tello drives a DJI Tello drone over its plaintext UDP command
// protocol and mirrors the drone's state feed into a snapshot store.
package tello

import (
	"fmt"
	"net"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

const (
	DefaultHost        = "192.168.10.1"
	DefaultCommandPort = 8889
	DefaultStatePort   = 8890
	DefaultLocalPort   = 9000

	handshakeAttempts = 3
	handshakeTimeout  = 5 * time.Second
	takeoffAttempts   = 3
	takeoffTimeout    = 15 * time.Second
	landTimeout       = 10 * time.Second
	emergencyTimeout  = 2 * time.Second
	queryTimeout      = 5 * time.Second
	moveTimeout       = 10 * time.Second

	responsePoll        = 10 * time.Millisecond
	readDeadline        = time.Second
	listenerJoinTimeout = 2 * time.Second

	velocityMax = 100
)

// pauses are variables so tests can shorten them
var (
	handshakePause = 2 * time.Second
	takeoffPause   = time.Second
)

var (
	ErrNotConnected    = errors.New("tello: not connected")
	ErrCommandTimeout  = errors.New("tello: command timeout")
	ErrHandshakeFailed = errors.New("tello: handshake failed")
)

// commandSock pairs the command socket with the drone's address so the
// emergency path can load both in one atomic read.
type commandSock struct {
	conn   *net.UDPConn
	remote *net.UDPAddr
}

// Link is the command/response/state channel to one drone.
type Link struct {
	host        string
	commandPort int
	statePort   int
	localPort   int

	sock  atomic.Pointer[commandSock]
	abort atomic.Bool
	wg    sync.WaitGroup

	mu        sync.Mutex // lifecycle: connected flag and state socket
	connected bool
	stateConn *net.UDPConn

	respMu   sync.Mutex
	response string
	hasResp  bool

	stateMu sync.Mutex
	state   State
}

func NewLink(host string, commandPort, statePort, localPort int) *Link {
	return &Link{
		host:        host,
		commandPort: commandPort,
		statePort:   statePort,
		localPort:   localPort,
		state:       State{},
	}
}

// Connect (re)opens the command channel, starts the response listener and
// attempts to enter command mode up to three times. On success the state
// listener is started as well; on failure the link stays disconnected.
func (l *Link) Connect() error {
	remote, err := net.ResolveUDPAddr("udp",
		fmt.Sprintf("%s:%d", l.host, l.commandPort))
	if err != nil {
		return errors.Wrap(err, "tello: resolve drone address")
	}

	if s := l.sock.Load(); s != nil {
		s.conn.Close()
	}
	conn, err := net.ListenUDP("udp", &net.UDPAddr{Port: l.localPort})
	if err != nil {
		return errors.Wrap(err, "tello: open command channel")
	}

	l.abort.Store(false)
	l.sock.Store(&commandSock{conn: conn, remote: remote})
	l.wg.Add(1)
	go l.responseListener(conn)

	log.Infof("connecting to tello at %s", remote)
	for attempt := 1; attempt <= handshakeAttempts; attempt++ {
		resp, err := l.SendCommand("command", handshakeTimeout)
		if err == nil && strings.EqualFold(resp, "ok") {
			l.mu.Lock()
			l.connected = true
			l.mu.Unlock()
			if err := l.startStateListener(); err != nil {
				log.WithField("err", err).Warn("unable to start state listener")
			}
			log.Info("tello connected")
			return nil
		}
		log.WithField("attempt", attempt).
			WithField("response", resp).
			WithField("err", err).
			Warn("command mode attempt failed")
		if attempt < handshakeAttempts {
			time.Sleep(handshakePause)
		}
	}
	return ErrHandshakeFailed
}

// IsConnected reports whether the handshake has completed.
func (l *Link) IsConnected() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.connected
}

// SendCommand transmits a command and polls the stored response, which the
// listener updates asynchronously, until it appears or the timeout
// elapses.
func (l *Link) SendCommand(cmd string, timeout time.Duration) (string, error) {
	s := l.sock.Load()
	if s == nil {
		return "", ErrNotConnected
	}

	l.respMu.Lock()
	l.response = ""
	l.hasResp = false
	l.respMu.Unlock()

	log.WithField("command", cmd).Debug("sending")
	if _, err := s.conn.WriteToUDP([]byte(cmd), s.remote); err != nil {
		return "", errors.Wrapf(err, "tello: send %q", cmd)
	}

	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		l.respMu.Lock()
		if l.hasResp {
			resp := l.response
			l.respMu.Unlock()
			return resp, nil
		}
		l.respMu.Unlock()
		time.Sleep(responsePoll)
	}
	log.WithField("command", cmd).Warn("command timed out")
	return "", ErrCommandTimeout
}

// SendRC transmits a velocity command without waiting for a reply, so the
// control cadence never stalls on the response channel.
func (l *Link) SendRC(lr, fb, ud, yaw int) error {
	s := l.sock.Load()
	if s == nil {
		return ErrNotConnected
	}
	cmd := fmt.Sprintf("rc %d %d %d %d",
		clampVelocity(lr), clampVelocity(fb), clampVelocity(ud), clampVelocity(yaw))
	_, err := s.conn.WriteToUDP([]byte(cmd), s.remote)
	return errors.Wrap(err, "tello: send rc")
}

// Takeoff blocks until the drone accepts the takeoff. Between attempts it
// re-enters command mode in case the drone dropped out of it.
func (l *Link) Takeoff() error {
	log.Info("taking off")
	for attempt := 1; attempt <= takeoffAttempts; attempt++ {
		if attempt > 1 {
			log.WithField("attempt", attempt).Warn("retrying takeoff")
			if _, err := l.SendCommand("command", queryTimeout); err != nil {
				log.WithField("err", err).Warn("re-entering command mode failed")
			}
			time.Sleep(takeoffPause)
		}
		resp, err := l.SendCommand("takeoff", takeoffTimeout)
		if err == nil && strings.EqualFold(resp, "ok") {
			return nil
		}
	}
	return errors.Errorf("tello: takeoff failed after %d attempts", takeoffAttempts)
}

func (l *Link) Land() error {
	log.Info("landing")
	resp, err := l.SendCommand("land", landTimeout)
	if err != nil {
		return errors.Wrap(err, "tello: land")
	}
	if !strings.EqualFold(resp, "ok") {
		return errors.Errorf("tello: land rejected: %s", resp)
	}
	return nil
}

// Emergency cuts the motors immediately. It goes straight to the socket
// without touching the lifecycle lock, so it stays callable while a
// Disconnect is in progress.
func (l *Link) Emergency() error {
	s := l.sock.Load()
	if s == nil {
		return ErrNotConnected
	}
	log.Warn("EMERGENCY STOP")
	l.respMu.Lock()
	l.response = ""
	l.hasResp = false
	l.respMu.Unlock()
	if _, err := s.conn.WriteToUDP([]byte("emergency"), s.remote); err != nil {
		return errors.Wrap(err, "tello: emergency")
	}

	deadline := time.Now().Add(emergencyTimeout)
	for time.Now().Before(deadline) {
		l.respMu.Lock()
		got := l.hasResp
		l.respMu.Unlock()
		if got {
			return nil
		}
		time.Sleep(responsePoll)
	}
	return ErrCommandTimeout
}

// Battery returns the battery percentage.
func (l *Link) Battery() (int, error) {
	return l.queryInt("battery?")
}

// Speed returns the configured speed in cm/s.
func (l *Link) Speed() (int, error) {
	return l.queryInt("speed?")
}

// FlightTime returns the accumulated flight time in seconds.
func (l *Link) FlightTime() (int, error) {
	return l.queryInt("time?")
}

// SetSpeed sets the forward speed, clamped to the drone's 10-100 cm/s.
func (l *Link) SetSpeed(speed int) error {
	if speed < 10 {
		speed = 10
	} else if speed > 100 {
		speed = 100
	}
	return l.expectOK(fmt.Sprintf("speed %d", speed), queryTimeout)
}

// Move translates the drone in one direction ("up", "down", "left",
// "right", "forward", "back") by a distance clamped to 20-500 cm.
func (l *Link) Move(direction string, distanceCm int) error {
	if distanceCm < 20 {
		distanceCm = 20
	} else if distanceCm > 500 {
		distanceCm = 500
	}
	return l.expectOK(fmt.Sprintf("%s %d", direction, distanceCm), moveTimeout)
}

// Rotate turns the drone by the given degrees, clockwise when positive.
func (l *Link) Rotate(degrees int) error {
	cmd := fmt.Sprintf("cw %d", degrees)
	if degrees < 0 {
		cmd = fmt.Sprintf("ccw %d", -degrees)
	}
	return l.expectOK(cmd, moveTimeout)
}

// Flip performs a flip: "l", "r", "f" or "b".
func (l *Link) Flip(direction string) error {
	return l.expectOK(fmt.Sprintf("flip %s", direction), moveTimeout)
}

// Disconnect aborts the listeners, cuts the motors best-effort, closes
// both channels and waits a bounded time for the listeners to stop. It is
// safe to call repeatedly and before any Connect.
func (l *Link) Disconnect() {
	l.abort.Store(true)

	l.mu.Lock()
	if s := l.sock.Load(); s != nil {
		// motors off even if the handshake never completed
		if _, err := s.conn.WriteToUDP([]byte("emergency"), s.remote); err != nil {
			log.WithField("err", err).Debug("emergency send on disconnect failed")
		}
		time.Sleep(100 * time.Millisecond)
		s.conn.Close()
		l.sock.Store(nil)
	}
	if l.stateConn != nil {
		l.stateConn.Close()
		l.stateConn = nil
	}
	wasConnected := l.connected
	l.connected = false
	l.mu.Unlock()

	done := make(chan struct{})
	go func() {
		l.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(listenerJoinTimeout):
		log.Warn("tello listeners did not stop in time")
	}
	if wasConnected {
		log.Info("tello disconnected")
	}
}

func (l *Link) queryInt(cmd string) (int, error) {
	resp, err := l.SendCommand(cmd, queryTimeout)
	if err != nil {
		return 0, err
	}
	v, err := strconv.Atoi(strings.TrimSpace(resp))
	if err != nil {
		return 0, errors.Wrapf(err, "tello: unexpected %q reply %q", cmd, resp)
	}
	return v, nil
}

func (l *Link) expectOK(cmd string, timeout time.Duration) error {
	resp, err := l.SendCommand(cmd, timeout)
	if err != nil {
		return err
	}
	if !strings.EqualFold(resp, "ok") {
		return errors.Errorf("tello: %q rejected: %s", cmd, resp)
	}
	return nil
}

func (l *Link) responseListener(conn *net.UDPConn) {
	defer l.wg.Done()
	buf := make([]byte, 1024)
	for !l.abort.Load() {
		conn.SetReadDeadline(time.Now().Add(readDeadline))
		n, _, err := conn.ReadFromUDP(buf)
		if err != nil {
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				continue
			}
			if !l.abort.Load() {
				log.WithField("err", err).Debug("response listener stopped")
			}
			return
		}
		resp := strings.TrimSpace(string(buf[:n]))
		l.respMu.Lock()
		l.response = resp
		l.hasResp = true
		l.respMu.Unlock()
		log.WithField("response", resp).Debug("received")
	}
}

func clampVelocity(v int) int {
	if v > velocityMax {
		return velocityMax
	}
	if v < -velocityMax {
		return -velocityMax
	}
	return v
}
