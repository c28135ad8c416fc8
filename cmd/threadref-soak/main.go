// Command threadref-soak repeatedly starts short-lived goroutines that register Refs and
// Finalizers, and checks that every goroutine end is observed exactly once.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/sharnoff/threadref"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	var configPath string
	overrides := defaultConfig()

	rootCommand := &cobra.Command{
		Use:           "threadref-soak",
		Short:         "Soak test goroutine end detection.",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := LoadConfig(configPath)
			if err != nil {
				return report(err)
			}
			applyFlags(cmd.Flags(), &cfg, overrides)
			if err := cfg.Validate(); err != nil {
				return report(fmt.Errorf("invalid config: %w", err))
			}

			log := newLogger(cfg)
			threadref.SetLogger(log.WithField("layer", "threadref"))

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			log.WithFields(logrus.Fields{
				"goroutines":     cfg.Goroutines,
				"rounds":         cfg.Rounds,
				"detach_every":   cfg.DetachEvery,
				"sweep_interval": cfg.SweepInterval.Duration,
				"timeout":        cfg.Timeout.Duration,
			}).Info("starting soak")

			if err := soak(ctx, cfg, log.WithField("layer", "soak")); err != nil {
				return report(err)
			}
			log.Info("soak complete")
			return nil
		},
	}

	flags := rootCommand.Flags()
	flags.StringVarP(&configPath, "config", "c", "", "Path to a TOML config file.")
	flags.IntVarP(&overrides.Goroutines, "goroutines", "n", overrides.Goroutines, "Workers started per round.")
	flags.IntVar(&overrides.Rounds, "rounds", overrides.Rounds, "Number of rounds.")
	flags.IntVar(&overrides.DetachEvery, "detach-every", overrides.DetachEvery, "Detach the finalizer of every Nth worker (0 disables).")
	flags.DurationVar(&overrides.SweepInterval.Duration, "sweep-interval", overrides.SweepInterval.Duration, "Time between sweeps for ended goroutines.")
	flags.DurationVar(&overrides.Timeout.Duration, "timeout", overrides.Timeout.Duration, "Maximum time per round.")
	flags.StringVar(&overrides.LogLevel, "log-level", overrides.LogLevel, "Log level (trace, debug, info, warn, error).")

	return rootCommand
}

// applyFlags copies explicitly set flags over the loaded config.
func applyFlags(flags *pflag.FlagSet, cfg *Config, overrides Config) {
	flags.Visit(func(f *pflag.Flag) {
		switch f.Name {
		case "goroutines":
			cfg.Goroutines = overrides.Goroutines
		case "rounds":
			cfg.Rounds = overrides.Rounds
		case "detach-every":
			cfg.DetachEvery = overrides.DetachEvery
		case "sweep-interval":
			cfg.SweepInterval = overrides.SweepInterval
		case "timeout":
			cfg.Timeout = overrides.Timeout
		case "log-level":
			cfg.LogLevel = overrides.LogLevel
		}
	})
}

func newLogger(cfg Config) *logrus.Entry {
	l := logrus.New()
	l.Out = os.Stderr
	// already checked by Validate
	if lvl, err := logrus.ParseLevel(cfg.LogLevel); err == nil {
		l.Level = lvl
	}
	return logrus.NewEntry(l)
}

func report(err error) error {
	fmt.Fprintln(os.Stderr, "threadref-soak:", err)
	return err
}
