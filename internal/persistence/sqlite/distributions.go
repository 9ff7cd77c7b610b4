package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// CreateDistribution persists a distribution and its entries atomically.
func (s *Store) CreateDistribution(ctx context.Context, d Distribution, entries []DistributionEntry) error {
	if len(entries) == 0 {
		return fmt.Errorf("distribution %s has no entries", d.ID)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin distribution tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO distributions (id, network, token, kind, total_amount, status, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		d.ID, d.Network, NormalizeAddress(d.Token), d.Kind, d.TotalAmount.String(), DistStatusPlanned, d.CreatedAt.Unix())
	if err != nil {
		return fmt.Errorf("insert distribution: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO distribution_entries (distribution_id, holder, amount, status, updated_at)
		VALUES (?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare entry insert: %w", err)
	}
	defer stmt.Close()

	now := time.Now().Unix()
	for _, e := range entries {
		if _, err := stmt.ExecContext(ctx, d.ID, NormalizeAddress(e.Holder), e.Amount.String(), EntryStatusPending, now); err != nil {
			return fmt.Errorf("insert entry for %s: %w", e.Holder, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit distribution tx: %w", err)
	}
	return nil
}

// GetDistribution loads a distribution by id, without entries.
func (s *Store) GetDistribution(ctx context.Context, id string) (*Distribution, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, network, token, kind, total_amount, status, created_at
		FROM distributions WHERE id = ?`, id)

	var d Distribution
	var amount string
	var createdAt int64
	err := row.Scan(&d.ID, &d.Network, &d.Token, &d.Kind, &amount, &d.Status, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query distribution: %w", err)
	}
	d.TotalAmount = mustBig(amount)
	d.CreatedAt = time.Unix(createdAt, 0).UTC()
	return &d, nil
}

// ListEntries returns the entries of a distribution in deterministic
// (holder) order, optionally filtered by status.
func (s *Store) ListEntries(ctx context.Context, distributionID, status string) ([]DistributionEntry, error) {
	query := `
		SELECT distribution_id, holder, amount, nonce, tx_hash, status, updated_at
		FROM distribution_entries WHERE distribution_id = ?`
	args := []any{distributionID}
	if status != "" {
		query += " AND status = ?"
		args = append(args, status)
	}
	query += " ORDER BY holder"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list entries: %w", err)
	}
	defer rows.Close()

	var out []DistributionEntry
	for rows.Next() {
		var e DistributionEntry
		var amount string
		var updatedAt int64
		if err := rows.Scan(&e.DistributionID, &e.Holder, &amount, &e.Nonce, &e.TxHash, &e.Status, &updatedAt); err != nil {
			return nil, fmt.Errorf("scan entry row: %w", err)
		}
		e.Amount = mustBig(amount)
		e.UpdatedAt = time.Unix(updatedAt, 0).UTC()
		out = append(out, e)
	}
	return out, rows.Err()
}

// MarkEntryBroadcast records a successfully sent entry.
func (s *Store) MarkEntryBroadcast(ctx context.Context, distributionID, holder string, nonce uint64, txHash string) error {
	return s.markEntry(ctx, distributionID, holder, EntryStatusBroadcast, nonce, txHash)
}

func (s *Store) markEntry(ctx context.Context, distributionID, holder, status string, nonce uint64, txHash string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE distribution_entries
		SET status = ?, nonce = ?, tx_hash = ?, updated_at = ?
		WHERE distribution_id = ? AND holder = ?`,
		status, nonce, txHash, time.Now().Unix(), distributionID, NormalizeAddress(holder))
	if err != nil {
		return fmt.Errorf("mark entry %s: %w", status, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

// MarkDistributionStatus updates the distribution's terminal status.
func (s *Store) MarkDistributionStatus(ctx context.Context, id, status string) error {
	res, err := s.db.ExecContext(ctx, `UPDATE distributions SET status = ? WHERE id = ?`, status, id)
	if err != nil {
		return fmt.Errorf("mark distribution %s: %w", status, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}
