// Package mindwave reads a NeuroSky MindWave Mobile 2 headset over a
// Bluetooth serial port and decodes its ThinkGear frame stream into a
// mutex-guarded latest-sample store.
package mindwave

import (
	"bufio"
	"context"
	"io"
	"sync"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"go.bug.st/serial"
)

const (
	// value reported by the headset when the sensor has no skin contact
	noContactQuality = 200

	readTimeout = time.Second
)

// Sample is the latest complete view of the headset's output. Band powers
// are 24-bit magnitudes; Alpha is the average of LowAlpha and HighAlpha.
type Sample struct {
	SignalQuality uint8 // 0 = best, 200 = no contact
	Attention     uint8 // 0-100
	Meditation    uint8 // 0-100

	Delta     uint32
	Theta     uint32
	LowAlpha  uint32
	HighAlpha uint32
	Alpha     uint32
	LowBeta   uint32
	HighBeta  uint32
	LowGamma  uint32
	MidGamma  uint32

	RawValue  int16
	Timestamp time.Time
}

// SignalGood reports whether the sample's signal quality is below the
// given poor-signal threshold (lower is better).
func (s Sample) SignalGood(threshold uint8) bool {
	return s.SignalQuality < threshold
}

// to allow testing
var serialOpen = func(portName string, baud int) (serial.Port, error) {
	mode := &serial.Mode{
		BaudRate: baud,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}
	return serial.Open(portName, mode)
}

// Headset owns the serial connection and the latest-sample store.
type Headset struct {
	portName string
	baud     int

	conn serial.Port

	mu     sync.Mutex
	sample Sample
}

func New(portName string, baud int) *Headset {
	return &Headset{
		portName: portName,
		baud:     baud,
		sample:   Sample{SignalQuality: noContactQuality},
	}
}

func (h *Headset) Name() string {
	return "mindwave"
}

// Open connects to the headset's serial port. The short read timeout keeps
// the read loop responsive to cancellation.
func (h *Headset) Open() error {
	log.Infof("connecting to mindwave on %s at %d baud", h.portName, h.baud)
	conn, err := serialOpen(h.portName, h.baud)
	if err != nil {
		return errors.Wrapf(err, "unable to open headset port %s", h.portName)
	}
	if err := conn.SetReadTimeout(readTimeout); err != nil {
		conn.Close()
		return errors.Wrap(err, "unable to set headset read timeout")
	}
	h.conn = conn
	return nil
}

func (h *Headset) Close() error {
	if h.conn == nil {
		return nil
	}
	err := h.conn.Close()
	h.conn = nil
	return err
}

// Start runs the read/decode loop until the context is cancelled or the
// port fails. Corrupt frames are discarded and the scanner resynchronizes
// on the next sync marker; only transport errors are returned.
func (h *Headset) Start(ctx context.Context) error {
	if h.conn == nil {
		return errors.New("headset not open")
	}
	return h.run(ctx, h.conn)
}

func (h *Headset) run(ctx context.Context, r io.Reader) error {
	br := bufio.NewReader(&cancelReader{ctx: ctx, r: r})
	for {
		payload, err := readFrame(br)
		switch {
		case err == nil:
			h.parsePayload(payload)
		case recoverable(err):
			log.WithField("err", err).Debug("discarding headset frame")
		case ctx.Err() != nil:
			return ctx.Err()
		default:
			return errors.Wrap(err, "headset read")
		}
	}
}

// Data returns a copy of the latest sample.
func (h *Headset) Data() Sample {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.sample
}

func (h *Headset) update(fn func(s *Sample)) {
	h.mu.Lock()
	fn(&h.sample)
	h.sample.Timestamp = time.Now()
	h.mu.Unlock()
}

// cancelReader turns the serial port's zero-byte timeout reads into
// context polls so shutdown is observed within one read timeout.
type cancelReader struct {
	ctx context.Context
	r   io.Reader
}

func (c *cancelReader) Read(p []byte) (int, error) {
	for {
		if err := c.ctx.Err(); err != nil {
			return 0, err
		}
		n, err := c.r.Read(p)
		if n > 0 || err != nil {
			return n, err
		}
	}
}
