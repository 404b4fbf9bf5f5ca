// Package config loads the TOML configuration of the simulated machine.
package config

// Config is the top-level configuration.
type Config struct {
	Machine MachineConfig `toml:"machine"`
	Log     LogConfig     `toml:"log"`
	Metrics MetricsConfig `toml:"metrics"`
}

// MachineConfig sizes the simulated platform.
type MachineConfig struct {
	Frames  int `toml:"frames"`
	MaxEnvs int `toml:"max_envs"`
}

// LogConfig controls platform logging.
type LogConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

// MetricsConfig controls the metrics dump printed after a run.
type MetricsConfig struct {
	Enabled bool `toml:"enabled"`
}

// Default returns a Config with every field set to its default value.
func Default() *Config {
	var cfg Config
	ApplyDefaults(&cfg)
	return &cfg
}
