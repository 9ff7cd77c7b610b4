package captable

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/google/renameio/v2"

	"github.com/tokenledger/stoscan/internal/log"
)

// WriteJSON writes the table to path atomically. A crashed export never
// leaves a truncated file behind.
func WriteJSON(tbl *Table, path string) error {
	data, err := json.MarshalIndent(tbl, "", "  ")
	if err != nil {
		return fmt.Errorf("encode cap table: %w", err)
	}
	data = append(data, '\n')

	if err := renameio.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write cap table: %w", err)
	}

	logger := log.WithComponent("captable")
	logger.Info().
		Str("event", "captable.export").
		Str("path", path).
		Str("token", tbl.Token).
		Int("holders", len(tbl.Entries)).
		Msg("cap table exported")
	return nil
}

// WriteCSV writes the table rows to path atomically. The header row names
// the raw and decimal-scaled amount columns.
func WriteCSV(tbl *Table, path string) error {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)

	if err := w.Write([]string{"rank", "holder", "balance_raw", "balance", "percent"}); err != nil {
		return fmt.Errorf("write csv header: %w", err)
	}
	for _, e := range tbl.Entries {
		row := []string{
			strconv.Itoa(e.Rank),
			e.Holder,
			e.Balance,
			e.Decimal,
			strconv.FormatFloat(e.Percent, 'f', 4, 64),
		}
		if err := w.Write(row); err != nil {
			return fmt.Errorf("write csv row: %w", err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return fmt.Errorf("flush csv: %w", err)
	}

	if err := renameio.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		return fmt.Errorf("write cap table: %w", err)
	}

	logger := log.WithComponent("captable")
	logger.Info().
		Str("event", "captable.export").
		Str("path", path).
		Str("token", tbl.Token).
		Int("holders", len(tbl.Entries)).
		Msg("cap table exported")
	return nil
}
