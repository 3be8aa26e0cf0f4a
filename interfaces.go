package mindkite

import (
	"context"

	"github.com/mindkite/mindkite/mindwave"
	"github.com/mindkite/mindkite/tello"
)

// Sensor is the headset seam: a supervised device producing the latest
// sample snapshot.
type Sensor interface {
	Open() error
	Close() error
	Start(ctx context.Context) error
	Name() string
	Data() mindwave.Sample
}

// Drone is the actuator seam used by the control loop.
type Drone interface {
	Connect() error
	Disconnect()
	Takeoff() error
	Land() error
	Emergency() error
	SendRC(lr, fb, ud, yaw int) error
	Battery() (int, error)
	Height() float64
	State() tello.State
}

// to allow testing
var sensorConnect = func(cfg HeadsetConfig) Sensor {
	return mindwave.New(cfg.Port, cfg.Baud)
}

var droneConnect = func(cfg DroneConfig) Drone {
	return tello.NewLink(cfg.Host, cfg.CommandPort, cfg.StatePort, cfg.LocalPort)
}
