package distribute

import (
	"context"
	"crypto/ecdsa"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/tokenledger/stoscan/internal/ethwatch"
	"github.com/tokenledger/stoscan/internal/log"
	"github.com/tokenledger/stoscan/internal/metrics"
	"github.com/tokenledger/stoscan/internal/persistence/sqlite"
)

// Broadcaster signs and sends the pending entries of a distribution as plain
// value transfers, one transaction per holder with sequential nonces.
type Broadcaster struct {
	sender   ethwatch.TxSender
	key      *ecdsa.PrivateKey
	from     common.Address
	gasLimit uint64
}

// NewBroadcaster wraps sender with the signing key. gasLimit applies to
// every transaction; 21000 covers a plain transfer.
func NewBroadcaster(sender ethwatch.TxSender, key *ecdsa.PrivateKey, gasLimit uint64) *Broadcaster {
	if gasLimit == 0 {
		gasLimit = 21000
	}
	return &Broadcaster{
		sender:   sender,
		key:      key,
		from:     crypto.PubkeyToAddress(key.PublicKey),
		gasLimit: gasLimit,
	}
}

// LoadKey reads a hex-encoded private key from path.
func LoadKey(path string) (*ecdsa.PrivateKey, error) {
	key, err := crypto.LoadECDSA(path)
	if err != nil {
		return nil, fmt.Errorf("load key %s: %w", path, err)
	}
	return key, nil
}

// From returns the sending address derived from the key.
func (b *Broadcaster) From() common.Address { return b.from }

// Broadcast sends every pending entry of the distribution. It stops at the
// first send failure: continuing would leave a nonce gap and strand every
// later transaction in the pool. A rejected send consumed no nonce, so the
// entry stays pending and the distribution is marked failed; a later run
// retries it together with the untouched entries, and only a run that
// leaves nothing pending marks the distribution broadcast.
func (b *Broadcaster) Broadcast(ctx context.Context, store *sqlite.Store, distributionID string) (int, error) {
	logger := log.WithComponentFromContext(ctx, "distribute")

	dist, err := store.GetDistribution(ctx, distributionID)
	if err != nil {
		return 0, err
	}

	pending, err := store.ListEntries(ctx, distributionID, sqlite.EntryStatusPending)
	if err != nil {
		return 0, err
	}
	if len(pending) == 0 {
		return 0, nil
	}

	chainID, err := b.sender.ChainID(ctx)
	if err != nil {
		return 0, fmt.Errorf("chain id: %w", err)
	}
	nonce, err := b.sender.PendingNonce(ctx, b.from)
	if err != nil {
		return 0, fmt.Errorf("pending nonce: %w", err)
	}
	gasPrice, err := b.sender.SuggestGasPrice(ctx)
	if err != nil {
		return 0, fmt.Errorf("gas price: %w", err)
	}

	logger.Info().
		Str("event", "distribution.broadcast_start").
		Str("distribution", dist.ID).
		Int("entries", len(pending)).
		Uint64("nonce", nonce).
		Msg("broadcasting distribution")

	signer := types.LatestSignerForChainID(chainID)
	sent := 0
	for _, e := range pending {
		to := common.HexToAddress(e.Holder)
		tx := types.NewTx(&types.LegacyTx{
			Nonce:    nonce,
			To:       &to,
			Value:    e.Amount,
			Gas:      b.gasLimit,
			GasPrice: gasPrice,
		})
		signed, err := types.SignTx(tx, signer, b.key)
		if err != nil {
			return sent, fmt.Errorf("sign tx for %s: %w", e.Holder, err)
		}

		if err := b.sender.SendTransaction(ctx, signed); err != nil {
			// The node rejected the transaction, so no nonce was
			// consumed and the entry is safe to retry as pending.
			metrics.IncDistributionEntries("failed", 1)
			if merr := store.MarkDistributionStatus(ctx, dist.ID, sqlite.DistStatusFailed); merr != nil {
				logger.Error().Err(merr).
					Str("event", "distribution.mark_failed").
					Str("distribution", dist.ID).
					Msg("could not record failed distribution")
			}
			return sent, fmt.Errorf("send to %s: %w", e.Holder, err)
		}

		if err := store.MarkEntryBroadcast(ctx, dist.ID, e.Holder, nonce, signed.Hash().Hex()); err != nil {
			return sent, err
		}
		metrics.IncDistributionEntries(sqlite.EntryStatusBroadcast, 1)

		logger.Info().
			Str("event", "distribution.entry_sent").
			Str("distribution", dist.ID).
			Str("holder", e.Holder).
			Str("tx", signed.Hash().Hex()).
			Uint64("nonce", nonce).
			Msg("entry broadcast")

		nonce++
		sent++
	}

	if err := store.MarkDistributionStatus(ctx, dist.ID, sqlite.DistStatusBroadcast); err != nil {
		return sent, err
	}

	logger.Info().
		Str("event", "distribution.broadcast_complete").
		Str("distribution", dist.ID).
		Int("sent", sent).
		Msg("distribution broadcast complete")
	return sent, nil
}
