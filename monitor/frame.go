package monitor

type Header struct {
	Type uint8
}

const (
	TypeSnapshot = 1
)

// Frame is the fixed-size wire form of a control loop snapshot. All
// fields are fixed-width so binary encoding stays stable across builds.
type Frame struct {
	SignalQuality uint8
	Attention     uint8
	Meditation    uint8
	Airborne      uint8
	Running       uint8

	Alpha uint32

	VelX   int8
	VelY   int8
	VelZ   int8
	VelYaw int8

	Battery float32
	Height  float32
}
