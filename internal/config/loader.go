package config

import (
	"fmt"
	"os"

	"github.com/tokenledger/stoscan/internal/log"
)

// Loader resolves the effective AppConfig with precedence ENV > file > defaults.
type Loader struct {
	path    string // optional YAML config file
	version string
}

// NewLoader creates a Loader for the given config file path. An empty path
// skips the file layer.
func NewLoader(path, version string) *Loader {
	return &Loader{path: path, version: version}
}

// Load resolves and validates the configuration.
func (l *Loader) Load() (AppConfig, error) {
	logger := log.WithComponent("config")

	cfg := Defaults()

	if l.path != "" {
		if _, err := os.Stat(l.path); err != nil {
			return AppConfig{}, fmt.Errorf("config file %s: %w", l.path, err)
		}
		merged, err := applyFile(cfg, l.path)
		if err != nil {
			return AppConfig{}, err
		}
		cfg = merged
		logger.Debug().
			Str("event", "config.file_applied").
			Str("path", l.path).
			Msg("applied config file")
	}

	cfg = FromEnv(cfg)
	cfg.Version = l.version

	if err := Validate(cfg); err != nil {
		return AppConfig{}, err
	}
	return cfg, nil
}
