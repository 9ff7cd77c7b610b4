package distribute

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"github.com/google/uuid"

	"github.com/tokenledger/stoscan/internal/log"
	"github.com/tokenledger/stoscan/internal/metrics"
	"github.com/tokenledger/stoscan/internal/persistence/sqlite"
)

// Distribution kinds.
const (
	KindProRata = "pro-rata"
	KindCSV     = "csv"
)

// Create persists a new distribution with its per-holder entries and returns
// the stored record. The id is a fresh UUID.
func Create(ctx context.Context, store *sqlite.Store, network, token, kind string, shares []Share) (*sqlite.Distribution, error) {
	if len(shares) == 0 {
		return nil, fmt.Errorf("distribution has no shares")
	}

	total := new(big.Int)
	entries := make([]sqlite.DistributionEntry, 0, len(shares))
	for _, sh := range shares {
		if sh.Amount == nil || sh.Amount.Sign() <= 0 {
			return nil, fmt.Errorf("share for %s must be positive", sh.Holder)
		}
		total.Add(total, sh.Amount)
		entries = append(entries, sqlite.DistributionEntry{
			Holder: sh.Holder,
			Amount: sh.Amount,
		})
	}

	d := sqlite.Distribution{
		ID:          uuid.NewString(),
		Network:     network,
		Token:       token,
		Kind:        kind,
		TotalAmount: total,
		Status:      sqlite.DistStatusPlanned,
		CreatedAt:   time.Now().UTC(),
	}
	if err := store.CreateDistribution(ctx, d, entries); err != nil {
		return nil, err
	}

	metrics.IncDistributionEntries(sqlite.EntryStatusPending, len(entries))
	logger := log.WithComponentFromContext(ctx, "distribute")
	logger.Info().
		Str("event", "distribution.planned").
		Str("distribution", d.ID).
		Str("token", token).
		Str("kind", kind).
		Int("entries", len(entries)).
		Str("total", total.String()).
		Msg("distribution planned")
	return &d, nil
}
