package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestLoadBytesDefaults(t *testing.T) {
	cfg, warnings, err := LoadBytes([]byte(""), "empty.toml")
	if err != nil {
		t.Fatal(err)
	}
	if len(warnings) != 0 {
		t.Fatalf("expected no warnings, got %v", warnings)
	}

	if cfg.Machine.Frames != 1024 || cfg.Machine.MaxEnvs != 1024 {
		t.Fatalf("expected default machine 1024/1024, got %+v", cfg.Machine)
	}
	if cfg.Log.Level != "info" || cfg.Log.Format != "auto" {
		t.Fatalf("expected default log info/auto, got %+v", cfg.Log)
	}
	if cfg.Metrics.Enabled {
		t.Fatal("expected metrics to be disabled by default")
	}
}

func TestLoadBytes(t *testing.T) {
	data := `
[machine]
frames = 256
max_envs = 32

[log]
level = "debug"
format = "text"

[metrics]
enabled = true
`
	cfg, _, err := LoadBytes([]byte(data), "test.toml")
	if err != nil {
		t.Fatal(err)
	}

	if cfg.Machine.Frames != 256 || cfg.Machine.MaxEnvs != 32 {
		t.Fatalf("unexpected machine config %+v", cfg.Machine)
	}
	if cfg.Log.Level != "debug" || cfg.Log.Format != "text" {
		t.Fatalf("unexpected log config %+v", cfg.Log)
	}
	if !cfg.Metrics.Enabled {
		t.Fatal("expected metrics to be enabled")
	}
}

func TestLoadBytesUnknownKeys(t *testing.T) {
	data := `
[machine]
frames = 64
cpus = 4
`
	_, warnings, err := LoadBytes([]byte(data), "test.toml")
	if err != nil {
		t.Fatal(err)
	}
	if len(warnings) != 1 || warnings[0] != "unknown config key: machine.cpus" {
		t.Fatalf("expected unknown key warning, got %v", warnings)
	}
}

func TestLoadBytesErrors(t *testing.T) {
	specs := []struct {
		data string
		want string
	}{
		{"[machine\n", "config parse error"},
		{"[machine]\nframes = 1\n", "machine.frames must be >= 2"},
		{"[machine]\nmax_envs = 2048\n", "machine.max_envs must be between 1 and 1024"},
		{"[machine]\nmax_envs = -1\n", "machine.max_envs"},
		{"[log]\nlevel = \"loud\"\n", "log.level"},
		{"[log]\nformat = \"xml\"\n", "log.format"},
	}

	for _, spec := range specs {
		t.Run(spec.want, func(t *testing.T) {
			_, _, err := LoadBytes([]byte(spec.data), "bad.toml")
			if err == nil {
				t.Fatal("expected an error")
			}
			if !strings.Contains(err.Error(), spec.want) {
				t.Fatalf("expected error containing %q, got %v", spec.want, err)
			}
		})
	}
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "osi.toml")
	if err := os.WriteFile(path, []byte("[machine]\nframes = 128\n"), 0o600); err != nil {
		t.Fatal(err)
	}

	cfg, _, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Machine.Frames != 128 {
		t.Fatalf("expected 128 frames, got %d", cfg.Machine.Frames)
	}

	if _, _, err := Load(filepath.Join(t.TempDir(), "missing.toml")); err == nil {
		t.Fatal("expected an error for a missing file")
	}
}

func TestDefault(t *testing.T) {
	cfg := Default()
	if errs := Validate(cfg); len(errs) != 0 {
		t.Fatalf("expected the default config to be valid, got %v", errs)
	}
}
