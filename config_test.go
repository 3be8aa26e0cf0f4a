package mindkite

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mindkite/mindkite/mapper"
)

func TestDefaultConfigValidates(t *testing.T) {
	cfg := DefaultConfig()
	assert.NoError(t, cfg.Validate())
}

func TestLoadConfigFromReader(t *testing.T) {
	cfg, err := LoadConfigFromReader(strings.NewReader(`
log_level = "debug"

[headset]
port = "/dev/rfcomm1"

[drone]
host = "10.0.0.5"

[mapping]
mode = 2
smoothing_factor = 0.5

[mapping.theta]
min = -90.0
max = 90.0
deadzone = 10.0

[control]
command_interval = "100ms"
auto_takeoff = true

[safety]
min_battery = 30
poor_signal_land_after = "5s"
`))
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, "/dev/rfcomm1", cfg.Headset.Port)
	assert.Equal(t, "10.0.0.5", cfg.Drone.Host)
	assert.Equal(t, 2, cfg.Mapping.Mode)
	assert.Equal(t, 0.5, cfg.Mapping.SmoothingFactor)
	assert.Equal(t, -90.0, cfg.Mapping.Theta.Min)
	assert.Equal(t, 10.0, cfg.Mapping.Theta.Deadzone)
	assert.Equal(t, 100*time.Millisecond, cfg.Control.CommandInterval.Duration)
	assert.True(t, cfg.Control.AutoTakeoff)
	assert.Equal(t, 30, cfg.Safety.MinBattery)
	assert.Equal(t, 5*time.Second, cfg.Safety.PoorSignalLandAfter.Duration)

	// unset fields keep their defaults
	assert.Equal(t, 57600, cfg.Headset.Baud)
	assert.Equal(t, 8889, cfg.Drone.CommandPort)
	assert.Equal(t, 1000000.0, cfg.Mapping.AlphaMax)
	assert.Equal(t, 50*time.Millisecond, cfg.Control.TickDelay.Duration)
	assert.Equal(t, 50, cfg.Safety.MaxPoorSignal)
}

func TestLoadConfigFromReaderParseError(t *testing.T) {
	_, err := LoadConfigFromReader(strings.NewReader("not = [valid"))
	assert.Error(t, err)
}

func TestLoadConfigMissingFile(t *testing.T) {
	_, err := LoadConfig("does-not-exist.toml")
	assert.Error(t, err)
}

func TestValidateRejections(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"empty headset port", func(c *Config) { c.Headset.Port = "" }},
		{"zero baud", func(c *Config) { c.Headset.Baud = 0 }},
		{"empty drone host", func(c *Config) { c.Drone.Host = "" }},
		{"mode too low", func(c *Config) { c.Mapping.Mode = 0 }},
		{"mode too high", func(c *Config) { c.Mapping.Mode = 9 }},
		{"smoothing above one", func(c *Config) { c.Mapping.SmoothingFactor = 1.5 }},
		{"negative velocity scale", func(c *Config) { c.Mapping.VelocityScale = -0.1 }},
		{"alpha range inverted", func(c *Config) { c.Mapping.AlphaMax = c.Mapping.AlphaMin }},
		{"r range inverted", func(c *Config) { c.Mapping.R.Min = 200 }},
		{"negative z deadzone", func(c *Config) { c.Mapping.Z.Deadzone = -1 }},
		{"theta beyond half turn", func(c *Config) { c.Mapping.Theta.Max = 200 }},
		{"zero command interval", func(c *Config) { c.Control.CommandInterval = duration{0} }},
		{"zero tick delay", func(c *Config) { c.Control.TickDelay = duration{0} }},
		{"battery above 100", func(c *Config) { c.Safety.MinBattery = 150 }},
		{"poor signal above 200", func(c *Config) { c.Safety.MaxPoorSignal = 201 }},
		{"negative land timeout", func(c *Config) { c.Safety.PoorSignalLandAfter = duration{-time.Second} }},
		{"negative max height", func(c *Config) { c.Safety.MaxHeight = -1 }},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tc.mutate(&cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestMapperSettings(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Mapping.Mode = 3
	cfg.Mapping.R = AxisConfig{Min: 10, Max: 90, Deadzone: 5}

	settings := cfg.MapperSettings()
	assert.Equal(t, mapper.ModeBlink, settings.Mode)
	assert.Equal(t, mapper.Axis{Min: 10, Max: 90, Deadzone: 5}, settings.R)
	assert.Equal(t, 0.7, settings.SmoothingFactor)
	assert.Equal(t, -180.0, settings.Theta.Min)
}
