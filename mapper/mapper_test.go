package mapper

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func testSettings() Settings {
	return Settings{
		Mode:            ModeDirect,
		AlphaMin:        0,
		AlphaMax:        1000000,
		R:               Axis{Min: 0, Max: 100},
		Theta:           Axis{Min: -180, Max: 180},
		Z:               Axis{Min: 0, Max: 100},
		SmoothingFactor: 0,
		VelocityScale:   1,
	}
}

func TestEndToEndModeDirect(t *testing.T) {
	m := New(testSettings())

	c := m.Map(500000, 50, 50)
	assert.InDelta(t, 50, c.R, 1e-9)
	assert.InDelta(t, 0, c.Theta, 1e-9)
	assert.InDelta(t, 50, c.Z, 1e-9)

	v := m.Velocity(c)
	assert.Equal(t, Velocity{}, v)
}

func TestModeSwapped(t *testing.T) {
	cfg := testSettings()
	cfg.Mode = ModeSwapped
	m := New(cfg)

	c := m.Map(1000000, 100, 0)
	assert.InDelta(t, 100, c.R, 1e-9, "attention drives r")
	assert.InDelta(t, -180, c.Theta, 1e-9, "meditation drives theta")
	assert.InDelta(t, 100, c.Z, 1e-9, "alpha drives z")
}

func TestSmoothingConvergence(t *testing.T) {
	cfg := testSettings()
	cfg.SmoothingFactor = 0.7
	m := New(cfg)

	const target = 80.0
	for i := 0; i < 50; i++ {
		m.Map(0, target, 0)
	}
	assert.InDelta(t, target, m.attentionEMA, target*0.0001,
		"EMA should converge within 0.01%% after 50 constant samples")
}

func TestSmoothingFrozenAtFactorOne(t *testing.T) {
	cfg := testSettings()
	cfg.SmoothingFactor = 1
	m := New(cfg)

	m.Map(1000000, 100, 100)
	assert.Equal(t, 0.0, m.alphaEMA)
	assert.Equal(t, 0.0, m.attentionEMA)
}

func TestNormalize(t *testing.T) {
	assert.Equal(t, 0.5, normalize(5, 3, 3), "degenerate range yields midpoint")
	assert.Equal(t, 0.0, normalize(-10, 0, 100))
	assert.Equal(t, 1.0, normalize(250, 0, 100))
	assert.Equal(t, 0.25, normalize(25, 0, 100))
}

func TestDeadzoneBoundary(t *testing.T) {
	const (
		center   = 50.0
		deadzone = 10.0
		eps      = 0.001
	)

	for _, v := range []float64{center + deadzone - eps, center - deadzone + eps} {
		assert.Equal(t, center, applyDeadzone(v, center, deadzone))
	}
	for _, v := range []float64{center + deadzone + eps, center - deadzone - eps} {
		assert.Equal(t, v, applyDeadzone(v, center, deadzone))
	}
}

func TestDeadzoneSnapsToNeutralVelocity(t *testing.T) {
	cfg := testSettings()
	cfg.R.Deadzone = 15
	cfg.Theta.Deadzone = 20
	cfg.Z.Deadzone = 15
	m := New(cfg)

	// slightly off-center inputs fall inside every deadzone
	c := m.Map(520000, 51, 52)
	v := m.Velocity(c)
	assert.Equal(t, Velocity{}, v)
}

func TestVelocityProjection(t *testing.T) {
	m := New(testSettings())

	v := m.Velocity(Cylindrical{R: 100, Theta: 90, Z: 0})
	assert.Equal(t, 100, v.Y, "full radius drives full forward")
	assert.Equal(t, 50, v.Yaw, "theta normalized by max magnitude")
	assert.Equal(t, 40, v.X, "lateral is the reduced yaw component")
	assert.Equal(t, -100, v.Z, "bottom of z range drives full descent")
}

func TestVelocityTruncatesTowardZero(t *testing.T) {
	m := New(testSettings())

	v := m.Velocity(Cylindrical{R: 74.95, Theta: 0, Z: 25.05})
	assert.Equal(t, 49, v.Y)
	assert.Equal(t, -49, v.Z)
}

func TestVelocityScale(t *testing.T) {
	cfg := testSettings()
	cfg.VelocityScale = 0.5
	m := New(cfg)

	v := m.Velocity(Cylindrical{R: 100, Theta: 180, Z: 100})
	assert.Equal(t, 50, v.Y)
	assert.Equal(t, 50, v.Yaw)
	assert.Equal(t, 40, v.X)
	assert.Equal(t, 50, v.Z)
}

func TestVelocityClamped(t *testing.T) {
	m := New(testSettings())

	// theta beyond its configured max never escapes [-100, 100]
	v := m.Velocity(Cylindrical{R: 100, Theta: 400, Z: 100})
	assert.Equal(t, 100, v.Yaw)
	assert.Equal(t, 100, v.X)
}

func TestBlinkClassification(t *testing.T) {
	m := New(testSettings())

	// not enough history yet
	assert.Equal(t, classNormal, m.classifyAlpha(500000))
	assert.Equal(t, classNormal, m.classifyAlpha(500000))

	assert.Equal(t, classBlink, m.classifyAlpha(300001))
	assert.Equal(t, classNormal, m.classifyAlpha(150000))
	assert.Equal(t, classLow, m.classifyAlpha(99999))
	assert.Equal(t, classNormal, m.classifyAlpha(250000))
}

func TestBlinkHistoryBounded(t *testing.T) {
	m := New(testSettings())
	for i := 0; i < 50; i++ {
		m.classifyAlpha(float64(i))
	}
	assert.Len(t, m.alphaHistory, historySize)
}

func TestModeBlinkRadius(t *testing.T) {
	cfg := testSettings()
	cfg.Mode = ModeBlink
	m := New(cfg)

	// build history with passive readings: scalar -0.2 -> r 40 -> vy -20
	var c Cylindrical
	for i := 0; i < 5; i++ {
		c = m.Map(150000, 50, 50)
	}
	assert.InDelta(t, 40, c.R, 1e-9)
	assert.Equal(t, -20, m.Velocity(c).Y)

	// blink spike drives full forward
	c = m.Map(400000, 50, 50)
	assert.InDelta(t, 100, c.R, 1e-9)
	assert.Equal(t, 100, m.Velocity(c).Y)

	// low alpha pulls full backward
	c = m.Map(50000, 50, 50)
	assert.InDelta(t, 0, c.R, 1e-9)
	assert.Equal(t, -100, m.Velocity(c).Y)
}

func TestCartesian(t *testing.T) {
	m := New(testSettings())

	x, y, z := m.Cartesian(Cylindrical{R: 10, Theta: 90, Z: 5})
	assert.InDelta(t, 0, x, 1e-9)
	assert.InDelta(t, 10, y, 1e-9)
	assert.Equal(t, 5.0, z)
}

func TestReset(t *testing.T) {
	m := New(testSettings())
	m.Map(500000, 50, 50)
	m.classifyAlpha(1)

	m.Reset()
	assert.Zero(t, m.alphaEMA)
	assert.Zero(t, m.attentionEMA)
	assert.Zero(t, m.meditationEMA)
	assert.Empty(t, m.alphaHistory)
	assert.True(t, math.Abs(m.meditationEMA) < 1e-12)
}
