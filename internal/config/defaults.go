package config

// ApplyDefaults fills in zero-value fields with their default values.
func ApplyDefaults(cfg *Config) {
	if cfg.Machine.Frames == 0 {
		cfg.Machine.Frames = 1024
	}
	if cfg.Machine.MaxEnvs == 0 {
		cfg.Machine.MaxEnvs = 1024
	}

	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "auto"
	}
}
