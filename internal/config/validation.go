package config

import (
	"fmt"
	"net/url"

	"github.com/ethereum/go-ethereum/common"
)

// knownNetworks is the sanity set of supported network names. The scanner
// records the network with every row, so a typo here would silently shard
// the database.
var knownNetworks = map[string]bool{
	"ethereum": true,
	"kovan":    true,
	"ropsten":  true,
	"goerli":   true,
	"sepolia":  true,
	"testing":  true,
}

// Validate checks the configuration for fatal mistakes. It is called by the
// Loader and again by commands that accept a hand-built config.
func Validate(cfg AppConfig) error {
	if cfg.NodeURL == "" {
		return fmt.Errorf("node URL is empty")
	}
	u, err := url.Parse(cfg.NodeURL)
	if err != nil {
		return fmt.Errorf("invalid node URL %q: %w", cfg.NodeURL, err)
	}
	switch u.Scheme {
	case "http", "https", "ws", "wss":
	default:
		return fmt.Errorf("unsupported node URL scheme %q", u.Scheme)
	}
	if u.Host == "" {
		return fmt.Errorf("node URL %q is missing host", cfg.NodeURL)
	}

	if !knownNetworks[cfg.Network] {
		return fmt.Errorf("unknown network %q", cfg.Network)
	}

	if cfg.ChunkSize == 0 {
		return fmt.Errorf("chunk size must be positive")
	}

	for _, t := range cfg.Tokens {
		if !common.IsHexAddress(t) {
			return fmt.Errorf("invalid token address %q", t)
		}
	}

	if cfg.GasLimit < 21000 {
		return fmt.Errorf("gas limit %d below the intrinsic transfer cost", cfg.GasLimit)
	}

	if cfg.DataDir == "" {
		return fmt.Errorf("data dir is empty")
	}

	return nil
}
