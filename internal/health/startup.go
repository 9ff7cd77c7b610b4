package health

import (
	"context"
	"fmt"
	"net"
	"net/url"
	"os"
	"path/filepath"
	"strconv"

	"github.com/rs/zerolog"

	"github.com/tokenledger/stoscan/internal/config"
	"github.com/tokenledger/stoscan/internal/log"
)

// PerformStartupChecks validates the environment and dependencies before the
// daemon starts serving.
func PerformStartupChecks(ctx context.Context, cfg config.AppConfig) error {
	logger := log.WithComponent("startup-check")
	logger.Info().Msg("running pre-flight startup checks")

	if err := checkDataDir(logger, cfg.DataDir); err != nil {
		return fmt.Errorf("data directory check failed: %w", err)
	}

	if err := checkListenAddr(logger, "api", cfg.APIListenAddr); err != nil {
		return fmt.Errorf("listen address check failed: %w", err)
	}
	if cfg.MetricsEnabled {
		if err := checkListenAddr(logger, "metrics", cfg.MetricsAddr); err != nil {
			return fmt.Errorf("listen address check failed: %w", err)
		}
	}

	if err := checkNodeURL(logger, cfg.NodeURL); err != nil {
		return fmt.Errorf("node URL check failed: %w", err)
	}

	if err := checkKeyFile(logger, cfg.KeyFile); err != nil {
		return fmt.Errorf("key file check failed: %w", err)
	}

	if cfg.APIToken == "" {
		logger.Warn().
			Str("event", "startup.no_api_token").
			Msg("API token not set, mutating endpoints are unauthenticated")
	}

	logger.Info().Msg("all startup checks passed")
	return nil
}

func checkDataDir(logger zerolog.Logger, path string) error {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			if err := os.MkdirAll(path, 0o750); err != nil {
				return fmt.Errorf("cannot create data directory %s: %w", path, err)
			}
			logger.Info().Str("path", path).Msg("data directory created")
			return checkWritable(path)
		}
		return err
	}
	if !info.IsDir() {
		return fmt.Errorf("path is not a directory: %s", path)
	}

	if err := checkWritable(path); err != nil {
		return err
	}
	logger.Info().Str("path", path).Msg("data directory is writable")
	return nil
}

func checkWritable(path string) error {
	testFile := filepath.Join(path, ".write_test")
	if err := os.WriteFile(testFile, []byte("ok"), 0o600); err != nil {
		return fmt.Errorf("directory is not writable: %s (error: %v)", path, err)
	}
	_ = os.Remove(testFile)
	return nil
}

func checkListenAddr(logger zerolog.Logger, name, addr string) error {
	if addr == "" {
		return nil
	}
	_, port, err := net.SplitHostPort(addr)
	if err != nil {
		return fmt.Errorf("invalid %s listen address %q: %w", name, addr, err)
	}
	portNum, err := strconv.Atoi(port)
	if err != nil || portNum < 0 || portNum > 65535 {
		return fmt.Errorf("invalid %s listen port %q in %q", name, port, addr)
	}
	logger.Info().Str("addr", addr).Str("listener", name).Msg("listen address is valid")
	return nil
}

func checkNodeURL(logger zerolog.Logger, raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("invalid node URL %q: %w", raw, err)
	}
	switch u.Scheme {
	case "http", "https", "ws", "wss":
	default:
		return fmt.Errorf("node URL %q must use http(s) or ws(s)", raw)
	}
	if u.Host == "" {
		return fmt.Errorf("node URL %q has no host", raw)
	}
	logger.Info().Str("url", u.Redacted()).Msg("node URL is valid")
	return nil
}

// checkKeyFile rejects group/world readable key files so a misconfigured
// deployment fails fast instead of leaking the broadcast key.
func checkKeyFile(logger zerolog.Logger, path string) error {
	if path == "" {
		return nil
	}
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("key file %s: %w", path, err)
	}
	if info.IsDir() {
		return fmt.Errorf("key file %s is a directory", path)
	}
	if perm := info.Mode().Perm(); perm&0o077 != 0 {
		return fmt.Errorf("key file %s has permissions %04o, want 0600", path, perm)
	}
	logger.Info().Str("path", path).Msg("key file permissions are strict")
	return nil
}
