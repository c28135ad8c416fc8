package main

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/sirupsen/logrus"
)

// EnvLogLevel overrides the log level from the config file.
const EnvLogLevel = "THREADREF_LOG_LEVEL"

// Config controls a soak run. Zero values are replaced with defaults by LoadConfig.
type Config struct {
	// Goroutines is the number of workers started per round.
	Goroutines int `toml:"goroutines"`
	// Rounds is the number of rounds to run.
	Rounds int `toml:"rounds"`
	// DetachEvery detaches the finalizer of every Nth worker. Zero disables detaching.
	DetachEvery int `toml:"detach_every"`
	// SweepInterval is how often the sweeper looks for ended goroutines.
	SweepInterval duration `toml:"sweep_interval"`
	// Timeout bounds how long a round may take to observe all goroutine ends.
	Timeout  duration `toml:"timeout"`
	LogLevel string   `toml:"log_level"`
}

// duration lets config files spell durations as strings like "250ms".
type duration struct {
	time.Duration
}

func (d *duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

func defaultConfig() Config {
	return Config{
		Goroutines:    1000,
		Rounds:        5,
		DetachEvery:   3,
		SweepInterval: duration{100 * time.Millisecond},
		Timeout:       duration{30 * time.Second},
		LogLevel:      "info",
	}
}

// LoadConfig reads the config at path, if path is not empty, on top of the defaults.
func LoadConfig(path string) (Config, error) {
	cfg := defaultConfig()
	if path != "" {
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			return Config{}, fmt.Errorf("config load failed (%s): %w", path, err)
		}
	}

	if lvl := strings.TrimSpace(os.Getenv(EnvLogLevel)); lvl != "" {
		cfg.LogLevel = lvl
	}

	return cfg, nil
}

// Validate reports the first problem with cfg, if any.
func (cfg Config) Validate() error {
	switch {
	case cfg.Goroutines <= 0:
		return errors.New("goroutines must be positive")
	case cfg.Rounds <= 0:
		return errors.New("rounds must be positive")
	case cfg.DetachEvery < 0:
		return errors.New("detach_every must not be negative")
	case cfg.SweepInterval.Duration <= 0:
		return errors.New("sweep_interval must be positive")
	case cfg.Timeout.Duration <= 0:
		return errors.New("timeout must be positive")
	}

	if _, err := logrus.ParseLevel(cfg.LogLevel); err != nil {
		return fmt.Errorf("log_level: %w", err)
	}
	return nil
}
