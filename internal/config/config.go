// Package config is the single source of truth for runtime settings, file
// paths, and the per-distribution constants baked into each build variant.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Settings holds the runtime configuration, read from the environment.
type Settings struct {
	Addr string `envconfig:"CLAUSECLI_ADDR" default:":8940"`

	// DataDir overrides the default data directory next to the executable.
	DataDir string `envconfig:"CLAUSECLI_DATA_DIR"`

	LogLevel string `envconfig:"CLAUSECLI_LOG_LEVEL" default:"info"`

	// Tamper guard settings.
	GuardInterval  time.Duration `envconfig:"CLAUSECLI_GUARD_INTERVAL" default:"7s"`
	GuardThreshold int           `envconfig:"CLAUSECLI_GUARD_THRESHOLD" default:"3"`

	// Activation attempt limiting.
	ActivationRatePerMin int `envconfig:"CLAUSECLI_ACTIVATION_RATE" default:"6"`
	ActivationBurst      int `envconfig:"CLAUSECLI_ACTIVATION_BURST" default:"4"`
}

// Load reads settings from the environment and resolves the data directory.
func Load() (*Settings, error) {
	var s Settings
	if err := envconfig.Process("clausecli", &s); err != nil {
		return nil, fmt.Errorf("process environment: %w", err)
	}
	if s.DataDir == "" {
		dir, err := defaultDataDir()
		if err != nil {
			return nil, err
		}
		s.DataDir = dir
	}
	return &s, nil
}

// defaultDataDir returns the data directory next to the executable. Paths are
// always relative to the executable location, never the working directory, so
// the binary behaves the same whether launched from a shell or a launcher.
func defaultDataDir() (string, error) {
	exe, err := os.Executable()
	if err != nil {
		return "", fmt.Errorf("resolve executable path: %w", err)
	}
	exe, err = filepath.EvalSymlinks(exe)
	if err != nil {
		return "", fmt.Errorf("resolve executable symlinks: %w", err)
	}
	return filepath.Join(filepath.Dir(exe), "data"), nil
}

// FileExists reports whether path exists and is a regular file.
func FileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.Mode().IsRegular()
}
