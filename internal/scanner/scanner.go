// Package scanner walks Transfer events of a token in block chunks and
// maintains per-holder balance deltas plus denormalized last balances.
package scanner

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/tokenledger/stoscan/internal/ethwatch"
	"github.com/tokenledger/stoscan/internal/log"
	"github.com/tokenledger/stoscan/internal/metrics"
	"github.com/tokenledger/stoscan/internal/persistence/sqlite"
)

// Options tunes one Scanner. Zero values fall back to defaults.
type Options struct {
	// Network is the chain name used as a storage key (e.g. "ethereum").
	Network string

	// ChunkSize is the number of blocks fetched per eth_getLogs call.
	ChunkSize uint64

	// Confirmations is how far the scanner stays behind the head so a
	// reorg cannot invalidate committed deltas.
	Confirmations uint64

	// StartBlock is where scanning begins for tokens seen the first time.
	StartBlock uint64

	// MaxRetries bounds consecutive failed fetches of one chunk. Each
	// retry halves the chunk size first.
	MaxRetries int
}

const (
	defaultChunkSize  = 5000
	defaultMaxRetries = 5
)

// Scanner ingests Transfer events for tokens on one network.
type Scanner struct {
	store *sqlite.Store
	chain ethwatch.ChainReader
	opts  Options
}

// Result summarizes one scan run.
type Result struct {
	Token      string `json:"token"`
	StartBlock uint64 `json:"start_block"`
	EndBlock   uint64 `json:"end_block"`
	Blocks     uint64 `json:"blocks"`
	Events     int    `json:"events"`
	Holders    int    `json:"holders"`
}

// New creates a Scanner over store and chain.
func New(store *sqlite.Store, chain ethwatch.ChainReader, opts Options) *Scanner {
	if opts.ChunkSize == 0 {
		opts.ChunkSize = defaultChunkSize
	}
	if opts.MaxRetries == 0 {
		opts.MaxRetries = defaultMaxRetries
	}
	return &Scanner{store: store, chain: chain, opts: opts}
}

// EnsureStatus loads the scan status for token, creating it on first touch.
// Token metadata (name, symbol, decimals) is read from the contract exactly
// once, when the row is created.
func (s *Scanner) EnsureStatus(ctx context.Context, token common.Address) (*sqlite.ScanStatus, error) {
	st, err := s.store.GetStatus(ctx, s.opts.Network, token.Hex())
	if err == nil {
		return st, nil
	}
	if err != sqlite.ErrNotFound {
		return nil, err
	}

	meta, err := s.chain.TokenMeta(ctx, token)
	if err != nil {
		return nil, fmt.Errorf("token metadata for %s: %w", token.Hex(), err)
	}

	st = &sqlite.ScanStatus{
		Network:     s.opts.Network,
		Address:     token.Hex(),
		Name:        meta.Name,
		Symbol:      meta.Symbol,
		Decimals:    meta.Decimals,
		TotalSupply: meta.TotalSupply,
		StartBlock:  s.opts.StartBlock,
	}
	if err := s.store.CreateStatus(ctx, *st); err != nil {
		return nil, err
	}

	logger := log.WithComponentFromContext(ctx, "scanner")
	logger.Info().
		Str("event", "scan.token_registered").
		Str("token", token.Hex()).
		Str("symbol", meta.Symbol).
		Uint64("start_block", s.opts.StartBlock).
		Msg("token registered for scanning")
	return st, nil
}

// ScanToHead scans token from where the last run stopped up to the newest
// block that has enough confirmations. It is a no-op when there is nothing
// new to scan.
func (s *Scanner) ScanToHead(ctx context.Context, token common.Address) (*Result, error) {
	st, err := s.EnsureStatus(ctx, token)
	if err != nil {
		return nil, err
	}

	head, err := s.chain.LatestBlock(ctx)
	if err != nil {
		metrics.IncScanFailure("head")
		return nil, fmt.Errorf("latest block: %w", err)
	}
	if head < s.opts.Confirmations {
		return &Result{Token: token.Hex()}, nil
	}
	safe := head - s.opts.Confirmations

	start := st.StartBlock
	if st.EndBlock >= st.StartBlock && st.EndBlock > 0 {
		start = st.EndBlock + 1
	}
	if start > safe {
		return &Result{Token: token.Hex(), StartBlock: start, EndBlock: st.EndBlock}, nil
	}

	// Refresh the cached supply; mint and burn move it between scans.
	if meta, err := s.chain.TokenMeta(ctx, token); err == nil && meta.TotalSupply != nil {
		if err := s.store.UpdateTotalSupply(ctx, s.opts.Network, token.Hex(), meta.TotalSupply); err != nil {
			return nil, err
		}
	}

	return s.Scan(ctx, token, start, safe)
}

// Scan ingests Transfer events of token in [start, end], committing chunk by
// chunk so an interrupted run resumes where it stopped. After the walk it
// recomputes the balance of every holder the range touched.
func (s *Scanner) Scan(ctx context.Context, token common.Address, start, end uint64) (*Result, error) {
	if start > end {
		return nil, fmt.Errorf("scan range inverted: %d > %d", start, end)
	}

	logger := log.WithComponentFromContext(ctx, "scanner")
	logger.Info().
		Str("event", "scan.start").
		Str("token", token.Hex()).
		Uint64("start_block", start).
		Uint64("end_block", end).
		Uint64("chunk_size", s.opts.ChunkSize).
		Msg("scan started")

	began := time.Now()
	chunk := s.opts.ChunkSize
	mutated := make(map[string]struct{})
	events := 0

	for from := start; from <= end; {
		transfers, to, err := s.fetchChunk(ctx, token, from, end, &chunk)
		if err != nil {
			metrics.IncScanFailure("fetch")
			return nil, err
		}

		deltas := make([]sqlite.Delta, 0, len(transfers)*2)
		for _, tr := range transfers {
			if tr.Block < from || tr.Block > to {
				continue
			}
			if tr.From != ethwatch.ZeroAddress {
				deltas = append(deltas, sqlite.Delta{
					Holder:   tr.From.Hex(),
					Block:    tr.Block,
					TxHash:   tr.TxHash.Hex(),
					LogIndex: tr.LogIndex,
					Amount:   new(big.Int).Neg(tr.Value),
				})
				mutated[tr.From.Hex()] = struct{}{}
			}
			if tr.To != ethwatch.ZeroAddress {
				deltas = append(deltas, sqlite.Delta{
					Holder:   tr.To.Hex(),
					Block:    tr.Block,
					TxHash:   tr.TxHash.Hex(),
					LogIndex: tr.LogIndex,
					Amount:   new(big.Int).Set(tr.Value),
				})
				mutated[tr.To.Hex()] = struct{}{}
			}
			events++
		}

		if err := s.store.InsertDeltas(ctx, s.opts.Network, token.Hex(), deltas); err != nil {
			metrics.IncScanFailure("persist")
			return nil, err
		}
		if err := s.store.UpdateScanEnd(ctx, s.opts.Network, token.Hex(), to); err != nil {
			metrics.IncScanFailure("persist")
			return nil, err
		}

		metrics.AddBlocksScanned(token.Hex(), to-from+1)
		metrics.AddTransferEvents(token.Hex(), len(transfers))

		logger.Debug().
			Str("event", "scan.chunk").
			Str("token", token.Hex()).
			Uint64("start_block", from).
			Uint64("end_block", to).
			Int("events", len(transfers)).
			Msg("chunk committed")

		from = to + 1
	}

	if err := s.refreshBalances(ctx, token, mutated, end); err != nil {
		metrics.IncScanFailure("balances")
		return nil, err
	}

	if n, err := s.store.HolderCount(ctx, s.opts.Network, token.Hex()); err == nil {
		metrics.RecordHolders(token.Hex(), n)
	}
	metrics.RecordScanEndBlock(token.Hex(), end)
	metrics.ObserveScanDuration(time.Since(began).Seconds())

	res := &Result{
		Token:      token.Hex(),
		StartBlock: start,
		EndBlock:   end,
		Blocks:     end - start + 1,
		Events:     events,
		Holders:    len(mutated),
	}
	logger.Info().
		Str("event", "scan.complete").
		Str("token", token.Hex()).
		Uint64("start_block", start).
		Uint64("end_block", end).
		Int("events", events).
		Int("holders", len(mutated)).
		Dur("duration", time.Since(began)).
		Msg("scan complete")
	return res, nil
}

// Rescan discards all deltas at or above fromBlock and rewinds the scan
// status so the next run re-ingests the range. Denormalized balances of all
// known holders are recomputed against the trimmed history immediately, so
// reads stay consistent between the rewind and the next scan.
func (s *Scanner) Rescan(ctx context.Context, token common.Address, fromBlock uint64) error {
	st, err := s.store.GetStatus(ctx, s.opts.Network, token.Hex())
	if err != nil {
		return err
	}
	if fromBlock <= st.StartBlock {
		fromBlock = st.StartBlock
	}

	if err := s.store.DropDeltasFrom(ctx, s.opts.Network, token.Hex(), fromBlock); err != nil {
		return err
	}

	rewindTo := uint64(0)
	if fromBlock > 0 {
		rewindTo = fromBlock - 1
	}
	if err := s.store.UpdateScanEnd(ctx, s.opts.Network, token.Hex(), rewindTo); err != nil {
		return err
	}

	holders, err := s.store.ListHolders(ctx, s.opts.Network, token.Hex())
	if err != nil {
		return err
	}
	mutated := make(map[string]struct{}, len(holders))
	for _, h := range holders {
		mutated[h] = struct{}{}
	}
	if err := s.refreshBalances(ctx, token, mutated, rewindTo); err != nil {
		return err
	}

	logger := log.WithComponentFromContext(ctx, "scanner")
	logger.Info().
		Str("event", "scan.rewind").
		Str("token", token.Hex()).
		Uint64("block", fromBlock).
		Int("holders", len(holders)).
		Msg("scan state rewound")
	return nil
}

// fetchChunk fetches the next chunk starting at from, never past max. When
// the node rejects a request (typically a response-size limit on a busy
// range) the chunk size is halved and the fetch retried; the reduced size
// sticks for the rest of the run. Returns the transfers and the last block
// actually covered.
func (s *Scanner) fetchChunk(ctx context.Context, token common.Address, from, max uint64, chunk *uint64) ([]ethwatch.Transfer, uint64, error) {
	logger := log.WithComponentFromContext(ctx, "scanner")

	var lastErr error
	for attempt := 0; attempt <= s.opts.MaxRetries; attempt++ {
		if attempt > 0 {
			if *chunk > 1 {
				*chunk /= 2
			}
			metrics.IncChunkRetry()
			logger.Warn().
				Err(lastErr).
				Str("event", "scan.retry").
				Str("token", token.Hex()).
				Uint64("start_block", from).
				Uint64("chunk_size", *chunk).
				Msg("chunk fetch failed, retrying with smaller chunk")
		}

		to := from + *chunk - 1
		if to > max {
			to = max
		}
		transfers, err := s.chain.FilterTransfers(ctx, token, from, to)
		if err == nil {
			return transfers, to, nil
		}
		lastErr = err

		if ctx.Err() != nil {
			return nil, 0, ctx.Err()
		}
	}
	return nil, 0, fmt.Errorf("fetch transfers %s from block %d: %w", token.Hex(), from, lastErr)
}

// refreshBalances recomputes the denormalized balance of every holder in
// mutated as of endBlock.
func (s *Scanner) refreshBalances(ctx context.Context, token common.Address, mutated map[string]struct{}, endBlock uint64) error {
	if len(mutated) == 0 {
		return nil
	}

	endAt, err := s.chain.BlockTimestamp(ctx, endBlock)
	if err != nil {
		return fmt.Errorf("timestamp of block %d: %w", endBlock, err)
	}

	for holder := range mutated {
		balance, _, err := s.store.SumDeltas(ctx, s.opts.Network, token.Hex(), holder, endBlock)
		if err != nil {
			return err
		}
		if err := s.store.UpsertBalance(ctx, s.opts.Network, token.Hex(), holder, balance, endBlock, endAt); err != nil {
			return err
		}
	}
	return nil
}
