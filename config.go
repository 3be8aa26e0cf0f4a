package mindkite

import (
	"io"
	"os"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/pkg/errors"

	"github.com/mindkite/mindkite/mapper"
	"github.com/mindkite/mindkite/tello"
)

// duration lets TOML carry values like "50ms" or "10s".
type duration struct {
	time.Duration
}

func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// Config is loaded once at startup and never mutated afterwards.
type Config struct {
	LogLevel string `toml:"log_level"`

	Headset HeadsetConfig `toml:"headset"`
	Drone   DroneConfig   `toml:"drone"`
	Mapping MappingConfig `toml:"mapping"`
	Control ControlConfig `toml:"control"`
	Safety  SafetyConfig  `toml:"safety"`
	Monitor MonitorConfig `toml:"monitor"`
}

type HeadsetConfig struct {
	Port string `toml:"port"`
	Baud int    `toml:"baud"`
}

type DroneConfig struct {
	Host        string `toml:"host"`
	CommandPort int    `toml:"command_port"`
	StatePort   int    `toml:"state_port"`
	LocalPort   int    `toml:"local_port"`
}

type AxisConfig struct {
	Min      float64 `toml:"min"`
	Max      float64 `toml:"max"`
	Deadzone float64 `toml:"deadzone"`
}

type MappingConfig struct {
	Mode            int     `toml:"mode"`
	AlphaMin        float64 `toml:"alpha_min"`
	AlphaMax        float64 `toml:"alpha_max"`
	SmoothingFactor float64 `toml:"smoothing_factor"`
	VelocityScale   float64 `toml:"velocity_scale"`

	R     AxisConfig `toml:"r"`
	Theta AxisConfig `toml:"theta"`
	Z     AxisConfig `toml:"z"`
}

type ControlConfig struct {
	CommandInterval duration `toml:"command_interval"`
	TickDelay       duration `toml:"tick_delay"`
	AutoTakeoff     bool     `toml:"auto_takeoff"`
}

type SafetyConfig struct {
	MinBattery            int      `toml:"min_battery"`
	MaxPoorSignal         int      `toml:"max_poor_signal"`
	PoorSignalLandAfter   duration `toml:"poor_signal_land_after"`
	MaxHeight             float64  `toml:"max_height"`
	MaxHorizontalDistance float64  `toml:"max_horizontal_distance"`
}

// MonitorConfig points snapshot forwarding at a ground station. An
// empty server disables forwarding.
type MonitorConfig struct {
	Server string `toml:"server"`
	Port   int    `toml:"port"`
}

// DefaultConfig matches the stock MindWave Mobile 2 and Tello setup.
func DefaultConfig() Config {
	return Config{
		LogLevel: "info",
		Headset: HeadsetConfig{
			Port: "/dev/rfcomm0",
			Baud: 57600,
		},
		Drone: DroneConfig{
			Host:        tello.DefaultHost,
			CommandPort: tello.DefaultCommandPort,
			StatePort:   tello.DefaultStatePort,
			LocalPort:   tello.DefaultLocalPort,
		},
		Mapping: MappingConfig{
			Mode:            int(mapper.ModeDirect),
			AlphaMin:        0,
			AlphaMax:        1000000,
			SmoothingFactor: 0.7,
			VelocityScale:   1.0,
			R:               AxisConfig{Min: 0, Max: 100, Deadzone: 15},
			Theta:           AxisConfig{Min: -180, Max: 180, Deadzone: 20},
			Z:               AxisConfig{Min: 0, Max: 100, Deadzone: 15},
		},
		Control: ControlConfig{
			CommandInterval: duration{50 * time.Millisecond},
			TickDelay:       duration{50 * time.Millisecond},
			AutoTakeoff:     false,
		},
		Safety: SafetyConfig{
			MinBattery:            20,
			MaxPoorSignal:         50,
			PoorSignalLandAfter:   duration{10 * time.Second},
			MaxHeight:             300,
			MaxHorizontalDistance: 500,
		},
		Monitor: MonitorConfig{
			Server: "",
			Port:   5000,
		},
	}
}

// LoadConfig reads a TOML file over the defaults and validates the result.
func LoadConfig(fileName string) (*Config, error) {
	file, err := os.Open(fileName)
	if err != nil {
		return nil, errors.Wrapf(err, "unable to open config %s", fileName)
	}
	defer file.Close()
	return LoadConfigFromReader(file)
}

func LoadConfigFromReader(configReader io.Reader) (*Config, error) {
	configData, err := io.ReadAll(configReader)
	if err != nil {
		return nil, errors.Wrap(err, "unable to read config")
	}
	cfg := DefaultConfig()
	if _, err := toml.Decode(string(configData), &cfg); err != nil {
		return nil, errors.Wrap(err, "unable to parse config")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate enforces the invariants the rest of the system assumes.
func (c *Config) Validate() error {
	if c.Headset.Port == "" {
		return errors.New("headset port must be set")
	}
	if c.Headset.Baud <= 0 {
		return errors.Errorf("headset baud must be positive, got %d", c.Headset.Baud)
	}
	if c.Drone.Host == "" {
		return errors.New("drone host must be set")
	}

	m := &c.Mapping
	if m.Mode < int(mapper.ModeDirect) || m.Mode > int(mapper.ModeBlink) {
		return errors.Errorf("mapping mode must be 1, 2 or 3, got %d", m.Mode)
	}
	if m.SmoothingFactor < 0 || m.SmoothingFactor > 1 {
		return errors.Errorf("smoothing factor must be in [0,1], got %v", m.SmoothingFactor)
	}
	if m.VelocityScale < 0 || m.VelocityScale > 1 {
		return errors.Errorf("velocity scale must be in [0,1], got %v", m.VelocityScale)
	}
	if m.AlphaMax <= m.AlphaMin {
		return errors.New("alpha range must have min < max")
	}
	for _, axis := range []struct {
		name string
		cfg  AxisConfig
	}{
		{"r", m.R},
		{"theta", m.Theta},
		{"z", m.Z},
	} {
		if axis.cfg.Max <= axis.cfg.Min {
			return errors.Errorf("%s range must have min < max", axis.name)
		}
		if axis.cfg.Deadzone < 0 {
			return errors.Errorf("%s deadzone must be >= 0", axis.name)
		}
	}
	if m.Theta.Min < -180 || m.Theta.Max > 180 || m.Theta.Max <= 0 {
		return errors.New("theta range must be within [-180,180] with max > 0")
	}

	if c.Control.CommandInterval.Duration <= 0 {
		return errors.New("command interval must be positive")
	}
	if c.Control.TickDelay.Duration <= 0 {
		return errors.New("tick delay must be positive")
	}

	s := &c.Safety
	if s.MinBattery < 0 || s.MinBattery > 100 {
		return errors.Errorf("min battery must be in [0,100], got %d", s.MinBattery)
	}
	if s.MaxPoorSignal < 0 || s.MaxPoorSignal > 200 {
		return errors.Errorf("max poor signal must be in [0,200], got %d", s.MaxPoorSignal)
	}
	if s.PoorSignalLandAfter.Duration < 0 {
		return errors.New("poor signal land timeout must be >= 0")
	}
	if s.MaxHeight < 0 || s.MaxHorizontalDistance < 0 {
		return errors.New("safety distances must be >= 0")
	}

	if c.Monitor.Server != "" && (c.Monitor.Port <= 0 || c.Monitor.Port > 65535) {
		return errors.Errorf("monitor port must be in [1,65535], got %d", c.Monitor.Port)
	}
	return nil
}

// MapperSettings renders the mapping section for the mapper package.
func (c *Config) MapperSettings() mapper.Settings {
	m := c.Mapping
	return mapper.Settings{
		Mode:            mapper.Mode(m.Mode),
		AlphaMin:        m.AlphaMin,
		AlphaMax:        m.AlphaMax,
		SmoothingFactor: m.SmoothingFactor,
		VelocityScale:   m.VelocityScale,
		R:               mapper.Axis{Min: m.R.Min, Max: m.R.Max, Deadzone: m.R.Deadzone},
		Theta:           mapper.Axis{Min: m.Theta.Min, Max: m.Theta.Max, Deadzone: m.Theta.Deadzone},
		Z:               mapper.Axis{Min: m.Z.Min, Max: m.Z.Max, Deadzone: m.Z.Deadzone},
	}
}
