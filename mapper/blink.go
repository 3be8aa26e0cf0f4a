package mapper

// Blink detection thresholds for raw (unsmoothed) alpha power. A blink
// shows up as a short spike well above the passive range; sustained low
// alpha reads as an intentional pull back.
const (
	blinkThreshold = 300000
	lowAlphaBound  = 100000

	historySize = 10
	minHistory  = 3
)

type blinkClass int

const (
	classNormal blinkClass = iota
	classBlink
	classLow
)

// scalar maps a classification to the signed radius fraction: blink
// drives full forward, low alpha full backward, the passive state drifts
// slightly backward so the drone hovers rather than creeps.
func (c blinkClass) scalar() float64 {
	switch c {
	case classBlink:
		return 1.0
	case classLow:
		return -1.0
	default:
		return -0.2
	}
}

// classifyAlpha records the raw alpha reading and classifies the newest
// one. Until enough history accumulates everything reads as normal.
func (m *Mapper) classifyAlpha(alphaPower float64) blinkClass {
	m.alphaHistory = append(m.alphaHistory, alphaPower)
	if len(m.alphaHistory) > historySize {
		m.alphaHistory = m.alphaHistory[1:]
	}
	if len(m.alphaHistory) < minHistory {
		return classNormal
	}

	switch {
	case alphaPower > blinkThreshold:
		return classBlink
	case alphaPower < lowAlphaBound:
		return classLow
	default:
		return classNormal
	}
}
