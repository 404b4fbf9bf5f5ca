// Package kmain boots the simulated platform and runs a user program on it.
package kmain

import (
	"context"
	"io"
	"log/slog"

	"github.com/jansone-dace/OSI-2019/kernel"
	"github.com/jansone-dace/OSI-2019/kernel/env"
	"github.com/jansone-dace/OSI-2019/kernel/kfmt"
	"github.com/jansone-dace/OSI-2019/lib"
)

var (
	errNoProgram = &kernel.Error{Module: "kmain", Message: "no program to run"}
)

// Config describes the machine to boot.
type Config struct {
	Frames  int
	MaxEnvs int

	// Console receives user console output. It becomes the kfmt output
	// sink for the duration of the run.
	Console io.Writer

	Logger   *slog.Logger
	Observer env.Observer
}

// Program is the entry point of the first environment.
type Program func(rt *lib.Runtime)

// Kmain boots a platform described by cfg, loads main into its first
// environment and schedules environments until none is runnable or ctx is
// cancelled. The platform is returned so callers can inspect it after the
// run.
func Kmain(ctx context.Context, cfg Config, name string, main Program) (*env.Kernel, error) {
	if main == nil {
		return nil, errNoProgram
	}

	log := cfg.Logger
	if log == nil {
		log = kfmt.DiscardLogger()
	}

	if cfg.Console != nil {
		kfmt.SetOutputSink(cfg.Console)
		defer kfmt.SetOutputSink(nil)
	}

	k, err := env.New(env.Config{
		Frames:   cfg.Frames,
		MaxEnvs:  cfg.MaxEnvs,
		Console:  kfmt.Writer(),
		Logger:   log,
		Observer: cfg.Observer,
	})
	if err != nil {
		return nil, err
	}

	id, err := lib.Start(k, log, main)
	if err != nil {
		return k, err
	}
	log.Info("program started", "program", name, "env", id.String(), "frames", cfg.Frames)

	if err = k.Run(ctx); err != nil {
		return k, err
	}
	log.Info("no runnable environments", "program", name, "free_frames", k.FreeFrames())

	return k, nil
}
