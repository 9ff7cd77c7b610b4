package sqlite

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	"github.com/tokenledger/stoscan/internal/log"
)

// Store wraps the scan database.
type Store struct {
	db *sql.DB
}

// OpenStore opens (creating if needed) the scan database at path and
// initializes the schema.
func OpenStore(path string, cfg Config) (*Store, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create database dir: %w", err)
		}
	}

	db, err := Open(path, cfg)
	if err != nil {
		return nil, err
	}

	s := &Store{db: db}
	if err := s.initialize(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("initialize schema: %w", err)
	}

	logger := log.WithComponent("store")
	logger.Debug().
		Str("event", "store.opened").
		Str("path", path).
		Msg("scan database ready")
	return s, nil
}

// NewStore wraps an existing connection and initializes the schema.
// Used by tests and by commands that already hold a connection.
func NewStore(db *sql.DB) (*Store, error) {
	s := &Store{db: db}
	if err := s.initialize(); err != nil {
		return nil, fmt.Errorf("initialize schema: %w", err)
	}
	return s, nil
}

// DB exposes the underlying connection for integrity checks.
func (s *Store) DB() *sql.DB { return s.db }

// Close closes the database connection.
func (s *Store) Close() error { return s.db.Close() }

func (s *Store) initialize() error {
	statusTable := `
	CREATE TABLE IF NOT EXISTS token_scan_status (
		network      TEXT NOT NULL,
		address      TEXT NOT NULL,
		name         TEXT NOT NULL DEFAULT '',
		symbol       TEXT NOT NULL DEFAULT '',
		decimals     INTEGER NOT NULL DEFAULT 0,
		total_supply TEXT NOT NULL DEFAULT '0',
		start_block  INTEGER NOT NULL DEFAULT 0,
		end_block    INTEGER NOT NULL DEFAULT 0,
		updated_at   INTEGER NOT NULL DEFAULT 0,
		PRIMARY KEY (network, address)
	);
	`

	// Balance changes, one row per Transfer event side. delta is a signed
	// decimal string; SQLite integers cannot hold uint256 values.
	deltasTable := `
	CREATE TABLE IF NOT EXISTS holder_deltas (
		network   TEXT NOT NULL,
		token     TEXT NOT NULL,
		holder    TEXT NOT NULL,
		block_num INTEGER NOT NULL,
		tx_hash   TEXT NOT NULL,
		log_index INTEGER NOT NULL,
		delta     TEXT NOT NULL,
		PRIMARY KEY (network, token, tx_hash, log_index, holder)
	);
	CREATE INDEX IF NOT EXISTS idx_deltas_holder ON holder_deltas(network, token, holder, block_num);
	CREATE INDEX IF NOT EXISTS idx_deltas_block ON holder_deltas(network, token, block_num);
	`

	balancesTable := `
	CREATE TABLE IF NOT EXISTS holder_balances (
		network      TEXT NOT NULL,
		token        TEXT NOT NULL,
		holder       TEXT NOT NULL,
		balance      TEXT NOT NULL DEFAULT '0',
		end_block    INTEGER NOT NULL DEFAULT 0,
		end_block_at INTEGER NOT NULL DEFAULT 0,
		updated_at   INTEGER NOT NULL DEFAULT 0,
		PRIMARY KEY (network, token, holder)
	);
	CREATE INDEX IF NOT EXISTS idx_balances_token ON holder_balances(network, token);
	`

	distributionsTable := `
	CREATE TABLE IF NOT EXISTS distributions (
		id           TEXT PRIMARY KEY,
		network      TEXT NOT NULL,
		token        TEXT NOT NULL,
		kind         TEXT NOT NULL,
		total_amount TEXT NOT NULL,
		status       TEXT NOT NULL DEFAULT 'planned',
		created_at   INTEGER NOT NULL
	);
	CREATE TABLE IF NOT EXISTS distribution_entries (
		distribution_id TEXT NOT NULL REFERENCES distributions(id),
		holder          TEXT NOT NULL,
		amount          TEXT NOT NULL,
		nonce           INTEGER NOT NULL DEFAULT 0,
		tx_hash         TEXT NOT NULL DEFAULT '',
		status          TEXT NOT NULL DEFAULT 'pending',
		updated_at      INTEGER NOT NULL DEFAULT 0,
		PRIMARY KEY (distribution_id, holder)
	);
	CREATE INDEX IF NOT EXISTS idx_entries_status ON distribution_entries(distribution_id, status);
	`

	for _, table := range []string{statusTable, deltasTable, balancesTable, distributionsTable} {
		if _, err := s.db.Exec(table); err != nil {
			return fmt.Errorf("create table: %w", err)
		}
	}
	return nil
}
