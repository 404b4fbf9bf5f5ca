package main

import (
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/jansone-dace/OSI-2019/internal/config"
	"github.com/jansone-dace/OSI-2019/internal/metrics"
	"github.com/jansone-dace/OSI-2019/kernel/env"
	"github.com/jansone-dace/OSI-2019/kernel/kfmt"
	"github.com/jansone-dace/OSI-2019/kernel/kmain"
	"github.com/jansone-dace/OSI-2019/user"
)

// isTerminalFn is mocked by tests.
var isTerminalFn = func(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}

var runCmd = &cobra.Command{
	Use:   "run <program>",
	Short: "Boot the platform and run a user program until no environment is runnable",
	Args:  cobra.ExactArgs(1),
	RunE:  runProgram,
}

func init() {
	runCmd.Flags().StringP("config", "c", "", "path to a TOML config file")
	runCmd.Flags().String("log-level", "", "override log level (debug, info, warn, error)")
	runCmd.Flags().String("log-format", "", "override log format (auto, text, json)")
	runCmd.Flags().Bool("metrics", false, "print platform metrics after the run")
	rootCmd.AddCommand(runCmd)
}

func runProgram(cmd *cobra.Command, args []string) error {
	p, ok := user.Lookup(args[0])
	if !ok {
		return fmt.Errorf("unknown program %q, see 'osi programs'", args[0])
	}

	cfg, warnings, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	logOut := cmd.ErrOrStderr()
	format := cfg.Log.Format
	if strings.EqualFold(format, "auto") {
		format = "json"
		if isTerminalFn(logOut) {
			format = "text"
		}
	}
	logger := kfmt.NewLogger(kfmt.LogConfig{Level: cfg.Log.Level, Format: format, Output: logOut})
	for _, w := range warnings {
		logger.Warn(w)
	}

	var (
		collector *metrics.Collector
		observer  env.Observer
	)
	if cfg.Metrics.Enabled {
		collector = metrics.New()
		observer = collector
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
	defer stop()

	_, err = kmain.Kmain(ctx, kmain.Config{
		Frames:   cfg.Machine.Frames,
		MaxEnvs:  cfg.Machine.MaxEnvs,
		Console:  cmd.OutOrStdout(),
		Logger:   logger,
		Observer: observer,
	}, p.Name, p.Main)
	if err != nil {
		return fmt.Errorf("run %s: %w", p.Name, err)
	}

	if collector != nil {
		return collector.WriteText(cmd.OutOrStdout())
	}
	return nil
}

// loadConfig reads the config file named by --config, if any, and applies
// the command line overrides.
func loadConfig(cmd *cobra.Command) (*config.Config, []string, error) {
	cfg := config.Default()

	var warnings []string
	if path, _ := cmd.Flags().GetString("config"); path != "" {
		var err error
		if cfg, warnings, err = config.Load(path); err != nil {
			return nil, warnings, err
		}
	}

	if level, _ := cmd.Flags().GetString("log-level"); level != "" {
		cfg.Log.Level = level
	}
	if format, _ := cmd.Flags().GetString("log-format"); format != "" {
		cfg.Log.Format = format
	}
	if cmd.Flags().Changed("metrics") {
		cfg.Metrics.Enabled, _ = cmd.Flags().GetBool("metrics")
	}

	if errs := config.Validate(cfg); len(errs) > 0 {
		return nil, warnings, errs[0]
	}
	return cfg, warnings, nil
}
