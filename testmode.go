package mindkite

import (
	"context"
	"sync"
	"time"

	"github.com/mindkite/mindkite/mindwave"
)

// testSensor sweeps triangle waves across the EEG metrics so the whole
// loop can be exercised without a headset.
type testSensor struct {
	mu     sync.Mutex
	sample mindwave.Sample
}

func newTestSensor() *testSensor {
	return &testSensor{
		sample: mindwave.Sample{SignalQuality: 0},
	}
}

func (t *testSensor) Name() string { return "testmode" }
func (t *testSensor) Open() error  { return nil }
func (t *testSensor) Close() error { return nil }

func (t *testSensor) Data() mindwave.Sample {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.sample
}

func (t *testSensor) Start(ctx context.Context) error {
	var (
		alpha         uint32
		attention     uint8
		meditation    uint8 = 100
		alphaDown     bool
		attentionDown bool
	)

	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}

		if alphaDown {
			alpha -= 20000
		} else {
			alpha += 20000
		}
		if alpha == 0 {
			alphaDown = false
		} else if alpha == 1000000 {
			alphaDown = true
		}

		if attentionDown {
			attention--
			meditation++
		} else {
			attention++
			meditation--
		}
		if attention == 0 {
			attentionDown = false
		} else if attention == 100 {
			attentionDown = true
		}

		t.mu.Lock()
		t.sample.Alpha = alpha
		t.sample.LowAlpha = alpha
		t.sample.HighAlpha = alpha
		t.sample.Attention = attention
		t.sample.Meditation = meditation
		t.sample.Timestamp = time.Now()
		t.mu.Unlock()
	}
}
