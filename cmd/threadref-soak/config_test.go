package main

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	logtest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/require"
)

func TestLoadConfigDefaults(t *testing.T) {
	t.Setenv(EnvLogLevel, "")

	cfg, err := LoadConfig("")
	require.NoError(t, err)
	require.Equal(t, defaultConfig(), cfg)
	require.NoError(t, cfg.Validate())
}

func TestLoadConfigFile(t *testing.T) {
	t.Setenv(EnvLogLevel, "")

	path := filepath.Join(t.TempDir(), "soak.toml")
	contents := `
goroutines = 20
rounds = 2
detach_every = 0
sweep_interval = "250ms"
timeout = "1m"
log_level = "debug"
`
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o600))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	require.Equal(t, 20, cfg.Goroutines)
	require.Equal(t, 2, cfg.Rounds)
	require.Equal(t, 0, cfg.DetachEvery)
	require.Equal(t, 250*time.Millisecond, cfg.SweepInterval.Duration)
	require.Equal(t, time.Minute, cfg.Timeout.Duration)
	require.Equal(t, "debug", cfg.LogLevel)
}

func TestLoadConfigErrors(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "missing.toml"))
	require.Error(t, err)

	path := filepath.Join(t.TempDir(), "bad.toml")
	require.NoError(t, os.WriteFile(path, []byte(`sweep_interval = "soon"`), 0o600))
	_, err = LoadConfig(path)
	require.ErrorContains(t, err, "config load failed")
}

func TestLoadConfigEnvOverride(t *testing.T) {
	t.Setenv(EnvLogLevel, "warn")

	cfg, err := LoadConfig("")
	require.NoError(t, err)
	require.Equal(t, "warn", cfg.LogLevel)
}

func TestValidate(t *testing.T) {
	t.Parallel()

	cases := map[string]func(*Config){
		"goroutines":     func(c *Config) { c.Goroutines = 0 },
		"rounds":         func(c *Config) { c.Rounds = -1 },
		"detach_every":   func(c *Config) { c.DetachEvery = -1 },
		"sweep_interval": func(c *Config) { c.SweepInterval.Duration = 0 },
		"timeout":        func(c *Config) { c.Timeout.Duration = 0 },
		"log_level":      func(c *Config) { c.LogLevel = "loud" },
	}

	for name, mutate := range cases {
		cfg := defaultConfig()
		mutate(&cfg)
		require.ErrorContains(t, cfg.Validate(), name)
	}
}

func TestApplyFlags(t *testing.T) {
	t.Parallel()

	cmd := newRootCommand()
	require.NoError(t, cmd.Flags().Parse([]string{"-n", "7", "--timeout", "3s"}))

	cfg := defaultConfig()
	cfg.Rounds = 9
	overrides := defaultConfig()
	overrides.Goroutines = 7
	overrides.Timeout.Duration = 3 * time.Second
	overrides.Rounds = 1
	applyFlags(cmd.Flags(), &cfg, overrides)

	require.Equal(t, 7, cfg.Goroutines)
	require.Equal(t, 3*time.Second, cfg.Timeout.Duration)
	// not set on the command line, so the loaded value wins
	require.Equal(t, 9, cfg.Rounds)
}

func TestSoakSmall(t *testing.T) {
	cfg := defaultConfig()
	cfg.Goroutines = 50
	cfg.Rounds = 2
	cfg.SweepInterval.Duration = 5 * time.Millisecond
	cfg.Timeout.Duration = 20 * time.Second

	log, hook := logtest.NewNullLogger()
	require.NoError(t, soak(context.Background(), cfg, logrus.NewEntry(log)))

	var rounds int
	for _, e := range hook.AllEntries() {
		if e.Message == "round complete" {
			rounds += 1
			require.Equal(t, 50, e.Data["workers"])
			require.Equal(t, 50, e.Data["callbacks"])
			require.Equal(t, 50, e.Data["fired"].(int)+e.Data["detached"].(int))
		}
	}
	require.Equal(t, 2, rounds)
}
