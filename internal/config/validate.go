package config

import (
	"fmt"
	"strings"

	"github.com/jansone-dace/OSI-2019/kernel/env"
)

var validLevels = map[string]bool{
	"debug": true, "info": true, "warn": true, "warning": true, "error": true,
}

var validFormats = map[string]bool{
	"auto": true, "text": true, "json": true,
}

// minFrames is the smallest machine that can run a program: a page table and
// a page for the normal stack.
const minFrames = 2

// Validate checks the config for semantic errors and returns all of them.
func Validate(cfg *Config) []error {
	var errs []error

	if cfg.Machine.Frames < minFrames {
		errs = append(errs, fmt.Errorf("machine.frames must be >= %d, got %d", minFrames, cfg.Machine.Frames))
	}
	if cfg.Machine.MaxEnvs < 1 || cfg.Machine.MaxEnvs > env.MaxEnvs {
		errs = append(errs, fmt.Errorf("machine.max_envs must be between 1 and %d, got %d", env.MaxEnvs, cfg.Machine.MaxEnvs))
	}

	if !validLevels[strings.ToLower(cfg.Log.Level)] {
		errs = append(errs, fmt.Errorf("log.level must be debug, info, warn, or error, got %q", cfg.Log.Level))
	}
	if !validFormats[strings.ToLower(cfg.Log.Format)] {
		errs = append(errs, fmt.Errorf("log.format must be auto, text, or json, got %q", cfg.Log.Format))
	}

	return errs
}
