package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math/big"
	"sort"
	"time"
)

// ErrNotFound is returned when a requested row does not exist.
var ErrNotFound = errors.New("sqlite: not found")

// GetStatus returns the scan status for a token, or ErrNotFound.
func (s *Store) GetStatus(ctx context.Context, network, token string) (*ScanStatus, error) {
	token = NormalizeAddress(token)

	row := s.db.QueryRowContext(ctx, `
		SELECT network, address, name, symbol, decimals, total_supply, start_block, end_block, updated_at
		FROM token_scan_status WHERE network = ? AND address = ?`, network, token)

	var st ScanStatus
	var supply string
	var updatedAt int64
	err := row.Scan(&st.Network, &st.Address, &st.Name, &st.Symbol, &st.Decimals, &supply, &st.StartBlock, &st.EndBlock, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query scan status: %w", err)
	}

	st.TotalSupply = mustBig(supply)
	st.UpdatedAt = time.Unix(updatedAt, 0).UTC()
	return &st, nil
}

// CreateStatus inserts a fresh scan status row. Token metadata is captured
// once at creation, mirroring the first-touch decimals lookup of the scanner.
func (s *Store) CreateStatus(ctx context.Context, st ScanStatus) error {
	supply := "0"
	if st.TotalSupply != nil {
		supply = st.TotalSupply.String()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO token_scan_status (network, address, name, symbol, decimals, total_supply, start_block, end_block, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		st.Network, NormalizeAddress(st.Address), st.Name, st.Symbol, st.Decimals, supply,
		st.StartBlock, st.EndBlock, time.Now().Unix())
	if err != nil {
		return fmt.Errorf("insert scan status: %w", err)
	}
	return nil
}

// UpdateScanEnd advances the scanned range for a token.
func (s *Store) UpdateScanEnd(ctx context.Context, network, token string, endBlock uint64) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE token_scan_status SET end_block = ?, updated_at = ?
		WHERE network = ? AND address = ?`,
		endBlock, time.Now().Unix(), network, NormalizeAddress(token))
	if err != nil {
		return fmt.Errorf("update scan end: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

// UpdateTotalSupply refreshes the cached total supply for a token.
func (s *Store) UpdateTotalSupply(ctx context.Context, network, token string, supply *big.Int) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE token_scan_status SET total_supply = ?, updated_at = ?
		WHERE network = ? AND address = ?`,
		supply.String(), time.Now().Unix(), network, NormalizeAddress(token))
	if err != nil {
		return fmt.Errorf("update total supply: %w", err)
	}
	return nil
}

// ListStatuses returns the scan statuses for all tokens on a network.
func (s *Store) ListStatuses(ctx context.Context, network string) ([]ScanStatus, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT network, address, name, symbol, decimals, total_supply, start_block, end_block, updated_at
		FROM token_scan_status WHERE network = ? ORDER BY address`, network)
	if err != nil {
		return nil, fmt.Errorf("list scan statuses: %w", err)
	}
	defer rows.Close()

	var out []ScanStatus
	for rows.Next() {
		var st ScanStatus
		var supply string
		var updatedAt int64
		if err := rows.Scan(&st.Network, &st.Address, &st.Name, &st.Symbol, &st.Decimals, &supply, &st.StartBlock, &st.EndBlock, &updatedAt); err != nil {
			return nil, fmt.Errorf("scan status row: %w", err)
		}
		st.TotalSupply = mustBig(supply)
		st.UpdatedAt = time.Unix(updatedAt, 0).UTC()
		out = append(out, st)
	}
	return out, rows.Err()
}

// DropDeltasFrom removes all deltas at or above fromBlock so a rescan can
// repopulate them without double counting.
func (s *Store) DropDeltasFrom(ctx context.Context, network, token string, fromBlock uint64) error {
	_, err := s.db.ExecContext(ctx, `
		DELETE FROM holder_deltas WHERE network = ? AND token = ? AND block_num >= ?`,
		network, NormalizeAddress(token), fromBlock)
	if err != nil {
		return fmt.Errorf("drop deltas: %w", err)
	}
	return nil
}

// InsertDeltas writes one chunk of balance changes in a single transaction.
// Rows are idempotent on (tx_hash, log_index, holder): replaying a chunk
// after a partial failure never double-counts.
func (s *Store) InsertDeltas(ctx context.Context, network, token string, deltas []Delta) error {
	if len(deltas) == 0 {
		return nil
	}
	token = NormalizeAddress(token)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin delta tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT OR IGNORE INTO holder_deltas (network, token, holder, block_num, tx_hash, log_index, delta)
		VALUES (?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare delta insert: %w", err)
	}
	defer stmt.Close()

	for _, d := range deltas {
		if _, err := stmt.ExecContext(ctx, network, token, NormalizeAddress(d.Holder), d.Block, d.TxHash, d.LogIndex, d.Amount.String()); err != nil {
			return fmt.Errorf("insert delta: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit delta tx: %w", err)
	}
	return nil
}

// SumDeltas recomputes a holder's balance from scratch by summing all deltas
// up to and including endBlock. Summation happens in Go because the values
// exceed SQLite's integer range. It returns the balance and the last block
// that touched it.
func (s *Store) SumDeltas(ctx context.Context, network, token, holder string, endBlock uint64) (*big.Int, uint64, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT delta, block_num FROM holder_deltas
		WHERE network = ? AND token = ? AND holder = ? AND block_num <= ?`,
		network, NormalizeAddress(token), NormalizeAddress(holder), endBlock)
	if err != nil {
		return nil, 0, fmt.Errorf("query deltas: %w", err)
	}
	defer rows.Close()

	sum := new(big.Int)
	var lastBlock uint64
	for rows.Next() {
		var raw string
		var block uint64
		if err := rows.Scan(&raw, &block); err != nil {
			return nil, 0, fmt.Errorf("scan delta row: %w", err)
		}
		d, ok := new(big.Int).SetString(raw, 10)
		if !ok {
			return nil, 0, fmt.Errorf("corrupt delta value %q for holder %s", raw, holder)
		}
		sum.Add(sum, d)
		if block > lastBlock {
			lastBlock = block
		}
	}
	return sum, lastBlock, rows.Err()
}

// UpsertBalance writes the denormalized last balance for a holder.
func (s *Store) UpsertBalance(ctx context.Context, network, token, holder string, balance *big.Int, endBlock uint64, endBlockAt time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO holder_balances (network, token, holder, balance, end_block, end_block_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(network, token, holder) DO UPDATE SET
			balance = excluded.balance,
			end_block = excluded.end_block,
			end_block_at = excluded.end_block_at,
			updated_at = excluded.updated_at`,
		network, NormalizeAddress(token), NormalizeAddress(holder),
		balance.String(), endBlock, endBlockAt.Unix(), time.Now().Unix())
	if err != nil {
		return fmt.Errorf("upsert balance: %w", err)
	}
	return nil
}

// ListBalances returns all holders with a non-zero balance, largest first.
// Ordering happens in Go: the balance column is a decimal string, and no
// string collation orders signed big integers correctly (a scan whose
// start block postdates a holder's acquisition leaves that holder with a
// negative net balance).
func (s *Store) ListBalances(ctx context.Context, network, token string) ([]HolderBalance, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT holder, balance, end_block, end_block_at, updated_at
		FROM holder_balances
		WHERE network = ? AND token = ? AND balance != '0'`,
		network, NormalizeAddress(token))
	if err != nil {
		return nil, fmt.Errorf("list balances: %w", err)
	}
	defer rows.Close()

	var out []HolderBalance
	for rows.Next() {
		var hb HolderBalance
		var raw string
		var endAt, updatedAt int64
		if err := rows.Scan(&hb.Holder, &raw, &hb.EndBlock, &endAt, &updatedAt); err != nil {
			return nil, fmt.Errorf("scan balance row: %w", err)
		}
		hb.Balance = mustBig(raw)
		hb.EndBlockTime = time.Unix(endAt, 0).UTC()
		hb.UpdatedAt = time.Unix(updatedAt, 0).UTC()
		out = append(out, hb)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	sort.Slice(out, func(a, b int) bool {
		if c := out[a].Balance.Cmp(out[b].Balance); c != 0 {
			return c > 0
		}
		return out[a].Holder < out[b].Holder
	})
	return out, nil
}

// ListHolders returns every holder that has a denormalized balance row,
// including zero balances. Rescans use it to refresh stale rows.
func (s *Store) ListHolders(ctx context.Context, network, token string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT holder FROM holder_balances
		WHERE network = ? AND token = ? ORDER BY holder`,
		network, NormalizeAddress(token))
	if err != nil {
		return nil, fmt.Errorf("list holders: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var h string
		if err := rows.Scan(&h); err != nil {
			return nil, fmt.Errorf("scan holder row: %w", err)
		}
		out = append(out, h)
	}
	return out, rows.Err()
}

// HolderCount returns the number of holders with a non-zero balance.
func (s *Store) HolderCount(ctx context.Context, network, token string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM holder_balances
		WHERE network = ? AND token = ? AND balance != '0'`,
		network, NormalizeAddress(token)).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count holders: %w", err)
	}
	return n, nil
}

func mustBig(s string) *big.Int {
	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return new(big.Int)
	}
	return v
}
