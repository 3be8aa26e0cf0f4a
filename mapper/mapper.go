// Package mapper turns smoothed EEG metrics into cylindrical motion
// intents (r, theta, z) and projects those onto the drone's four velocity
// axes.
package mapper

import (
	"math"

	log "github.com/sirupsen/logrus"
)

// Mode selects which metric drives which cylindrical axis.
type Mode int

const (
	// ModeDirect maps alpha power to r, attention to theta and
	// meditation to z.
	ModeDirect Mode = 1
	// ModeSwapped maps attention to r, meditation to theta and alpha
	// power to z.
	ModeSwapped Mode = 2
	// ModeBlink uses the ModeDirect axes but drives r from the blink
	// classifier instead of normalized alpha power, so deliberate blink
	// bursts act as a forward trigger.
	ModeBlink Mode = 3
)

const (
	velocityMax = 100

	// lateral motion follows the yaw direction at reduced authority
	lateralGain = 0.8

	attentionMin  = 0
	attentionMax  = 100
	meditationMin = 0
	meditationMax = 100
)

// Axis is one cylindrical coordinate range with its neutral deadzone.
type Axis struct {
	Min      float64
	Max      float64
	Deadzone float64
}

func (a Axis) Center() float64 {
	return (a.Min + a.Max) / 2
}

// Settings is the immutable tuning for a Mapper.
type Settings struct {
	Mode Mode

	AlphaMin float64
	AlphaMax float64

	R     Axis
	Theta Axis
	Z     Axis

	// 0 = no smoothing, 1 = frozen
	SmoothingFactor float64
	// global velocity scaling, 0-1
	VelocityScale float64
}

// Cylindrical is a motion intent: radius drives forward/backward, theta
// drives rotation, z drives height.
type Cylindrical struct {
	R     float64
	Theta float64
	Z     float64
}

// Velocity is an rc-command payload. X is lateral, Y forward/backward,
// Z vertical, Yaw rotation, all in [-100, 100].
type Velocity struct {
	X   int
	Y   int
	Z   int
	Yaw int
}

// Mapper carries the per-channel smoothing state, so it is not safe for
// concurrent use; the control loop owns it.
type Mapper struct {
	cfg Settings

	alphaEMA      float64
	attentionEMA  float64
	meditationEMA float64

	alphaHistory []float64
}

func New(cfg Settings) *Mapper {
	return &Mapper{cfg: cfg}
}

// Map smooths and normalizes one sample's metrics and maps them onto
// cylindrical coordinates per the configured mode. The result is
// deadzoned and clamped into the configured ranges.
func (m *Mapper) Map(alphaPower, attention, meditation float64) Cylindrical {
	m.alphaEMA = m.smooth(alphaPower, m.alphaEMA)
	m.attentionEMA = m.smooth(attention, m.attentionEMA)
	m.meditationEMA = m.smooth(meditation, m.meditationEMA)

	alphaNorm := normalize(m.alphaEMA, m.cfg.AlphaMin, m.cfg.AlphaMax)
	attentionNorm := normalize(m.attentionEMA, attentionMin, attentionMax)
	meditationNorm := normalize(m.meditationEMA, meditationMin, meditationMax)

	var c Cylindrical
	switch m.cfg.Mode {
	case ModeSwapped:
		c.R = mapToRange(attentionNorm, m.cfg.R.Min, m.cfg.R.Max)
		c.Theta = mapToRange(meditationNorm, m.cfg.Theta.Min, m.cfg.Theta.Max)
		c.Z = mapToRange(alphaNorm, m.cfg.Z.Min, m.cfg.Z.Max)
	case ModeBlink:
		s := m.classifyAlpha(alphaPower).scalar()
		c.R = m.cfg.R.Center() + s*(m.cfg.R.Max-m.cfg.R.Center())
		c.Theta = mapToRange(attentionNorm, m.cfg.Theta.Min, m.cfg.Theta.Max)
		c.Z = mapToRange(meditationNorm, m.cfg.Z.Min, m.cfg.Z.Max)
	default:
		c.R = mapToRange(alphaNorm, m.cfg.R.Min, m.cfg.R.Max)
		c.Theta = mapToRange(attentionNorm, m.cfg.Theta.Min, m.cfg.Theta.Max)
		c.Z = mapToRange(meditationNorm, m.cfg.Z.Min, m.cfg.Z.Max)
	}

	c.R = applyDeadzone(c.R, m.cfg.R.Center(), m.cfg.R.Deadzone)
	c.Theta = applyDeadzone(c.Theta, 0, m.cfg.Theta.Deadzone)
	c.Z = applyDeadzone(c.Z, m.cfg.Z.Center(), m.cfg.Z.Deadzone)

	c.R = clamp(c.R, m.cfg.R.Min, m.cfg.R.Max)
	c.Theta = clamp(c.Theta, m.cfg.Theta.Min, m.cfg.Theta.Max)
	c.Z = clamp(c.Z, m.cfg.Z.Min, m.cfg.Z.Max)

	log.WithField("r", c.R).
		WithField("theta", c.Theta).
		WithField("z", c.Z).
		Debug("mapped sample")
	return c
}

// Velocity projects a cylindrical intent onto the four rc axes. Radius
// drives forward/backward around the range midpoint, theta drives yaw
// normalized by its maximum magnitude, z drives vertical around the range
// midpoint. Lateral velocity is the single fixed policy of a reduced yaw
// component (lateralGain * yaw), so a commanded turn also sidesteps into
// the turn without ever fighting it.
func (m *Mapper) Velocity(c Cylindrical) Velocity {
	fb := (c.R - m.cfg.R.Center()) / (m.cfg.R.Max - m.cfg.R.Center()) * velocityMax
	yaw := c.Theta / m.cfg.Theta.Max * velocityMax
	ud := (c.Z - m.cfg.Z.Center()) / (m.cfg.Z.Max - m.cfg.Z.Center()) * velocityMax
	lr := yaw * lateralGain

	scale := m.cfg.VelocityScale
	return Velocity{
		X:   clampVelocity(lr * scale),
		Y:   clampVelocity(fb * scale),
		Z:   clampVelocity(ud * scale),
		Yaw: clampVelocity(yaw * scale),
	}
}

// Cartesian converts a cylindrical intent to cartesian coordinates for
// the read-only dashboard surface.
func (m *Mapper) Cartesian(c Cylindrical) (x, y, z float64) {
	rad := c.Theta * math.Pi / 180
	return c.R * math.Cos(rad), c.R * math.Sin(rad), c.Z
}

// Reset clears the smoothing state and the blink history.
func (m *Mapper) Reset() {
	m.alphaEMA = 0
	m.attentionEMA = 0
	m.meditationEMA = 0
	m.alphaHistory = nil
	log.Info("smoothing filters reset")
}

func (m *Mapper) smooth(raw, smoothed float64) float64 {
	f := m.cfg.SmoothingFactor
	return f*smoothed + (1-f)*raw
}

func normalize(v, min, max float64) float64 {
	if max == min {
		return 0.5
	}
	return clamp((v-min)/(max-min), 0, 1)
}

func mapToRange(t, outMin, outMax float64) float64 {
	return outMin + t*(outMax-outMin)
}

func applyDeadzone(v, center, deadzone float64) float64 {
	if math.Abs(v-center) < deadzone {
		return center
	}
	return v
}

func clamp(v, min, max float64) float64 {
	if v < min {
		return min
	}
	if v > max {
		return max
	}
	return v
}

func clampVelocity(v float64) int {
	if v > velocityMax {
		return velocityMax
	}
	if v < -velocityMax {
		return -velocityMax
	}
	return int(v)
}
