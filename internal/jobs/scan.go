// Package jobs wires the scanner into a runnable unit: one call scans every
// configured token and reports an aggregate status for the API.
package jobs

import (
	"context"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/tokenledger/stoscan/internal/ethwatch"
	"github.com/tokenledger/stoscan/internal/log"
	"github.com/tokenledger/stoscan/internal/persistence/sqlite"
	"github.com/tokenledger/stoscan/internal/scanner"
)

// Status represents the outcome of the last scan run.
type Status struct {
	LastRun time.Time `json:"last_run"`
	Tokens  int       `json:"tokens"`
	Blocks  uint64    `json:"blocks"`
	Events  int       `json:"events"`
	Holders int       `json:"holders"`
	Error   string    `json:"error,omitempty"`
}

// Config holds configuration for scan runs.
type Config struct {
	Network       string
	Tokens        []string
	ChunkSize     uint64
	Confirmations uint64
	StartBlock    uint64
}

func validateConfig(cfg Config) error {
	if cfg.Network == "" {
		return fmt.Errorf("network is required")
	}
	if len(cfg.Tokens) == 0 {
		return fmt.Errorf("no tokens configured")
	}
	for _, t := range cfg.Tokens {
		if !common.IsHexAddress(t) {
			return fmt.Errorf("invalid token address %q", t)
		}
	}
	return nil
}

// Scan runs one scan cycle over every configured token. Tokens are scanned
// in order; a failing token aborts the cycle so the next run retries from
// its committed position.
func Scan(ctx context.Context, cfg Config, store *sqlite.Store, chain ethwatch.ChainReader) (*Status, error) {
	if err := validateConfig(cfg); err != nil {
		return nil, err
	}

	logger := log.WithComponentFromContext(ctx, "jobs")
	logger.Info().
		Str("event", "scan_cycle.start").
		Str("network", cfg.Network).
		Int("tokens", len(cfg.Tokens)).
		Msg("starting scan cycle")

	sc := scanner.New(store, chain, scanner.Options{
		Network:       cfg.Network,
		ChunkSize:     cfg.ChunkSize,
		Confirmations: cfg.Confirmations,
		StartBlock:    cfg.StartBlock,
	})

	status := &Status{LastRun: time.Now().UTC(), Tokens: len(cfg.Tokens)}
	for _, token := range cfg.Tokens {
		res, err := sc.ScanToHead(ctx, common.HexToAddress(token))
		if err != nil {
			return nil, fmt.Errorf("scan %s: %w", token, err)
		}
		status.Blocks += res.Blocks
		status.Events += res.Events
		status.Holders += res.Holders
	}

	logger.Info().
		Str("event", "scan_cycle.complete").
		Str("network", cfg.Network).
		Int("tokens", status.Tokens).
		Uint64("blocks", status.Blocks).
		Int("events", status.Events).
		Msg("scan cycle complete")
	return status, nil
}
