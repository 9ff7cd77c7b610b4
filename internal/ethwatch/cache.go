package ethwatch

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/ethereum/go-ethereum/common"

	"github.com/tokenledger/stoscan/internal/log"
	"github.com/tokenledger/stoscan/internal/metrics"
)

// CachedReader decorates a ChainReader with a persistent block-timestamp
// cache. The balance denormalization step asks for the same block headers on
// every incremental scan; timestamps of finalized blocks never change, so
// they are safe to cache forever.
type CachedReader struct {
	inner ChainReader
	db    *badger.DB
}

// NewCachedReader opens (creating if needed) the badger cache at path.
func NewCachedReader(inner ChainReader, path string) (*CachedReader, error) {
	opts := badger.DefaultOptions(path).WithLogger(nil)
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open timestamp cache: %w", err)
	}
	return &CachedReader{inner: inner, db: db}, nil
}

// Close releases the cache. The wrapped reader is not closed.
func (c *CachedReader) Close() error {
	return c.db.Close()
}

// BlockTimestamp serves from the cache, falling back to the node on miss.
func (c *CachedReader) BlockTimestamp(ctx context.Context, block uint64) (time.Time, error) {
	key := tsKey(block)

	var cached time.Time
	err := c.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(key)
		if err != nil {
			return err
		}
		return item.Value(func(v []byte) error {
			if len(v) != 8 {
				return badger.ErrKeyNotFound
			}
			cached = time.Unix(int64(binary.BigEndian.Uint64(v)), 0).UTC()
			return nil
		})
	})
	if err == nil {
		metrics.IncTimestampCache("hit")
		return cached, nil
	}
	if !errors.Is(err, badger.ErrKeyNotFound) {
		logger := log.WithComponent("ethwatch")
		logger.Warn().
			Err(err).
			Str("event", "cache.read_failed").
			Uint64("block", block).
			Msg("timestamp cache read failed, falling back to node")
	}

	metrics.IncTimestampCache("miss")
	ts, err := c.inner.BlockTimestamp(ctx, block)
	if err != nil {
		return time.Time{}, err
	}

	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], uint64(ts.Unix()))
	if err := c.db.Update(func(txn *badger.Txn) error {
		return txn.Set(key, buf[:])
	}); err != nil {
		// Cache writes are best-effort.
		logger := log.WithComponent("ethwatch")
		logger.Warn().
			Err(err).
			Str("event", "cache.write_failed").
			Uint64("block", block).
			Msg("timestamp cache write failed")
	}
	return ts, nil
}

// LatestBlock delegates to the wrapped reader.
func (c *CachedReader) LatestBlock(ctx context.Context) (uint64, error) {
	return c.inner.LatestBlock(ctx)
}

// FilterTransfers delegates to the wrapped reader.
func (c *CachedReader) FilterTransfers(ctx context.Context, token common.Address, from, to uint64) ([]Transfer, error) {
	return c.inner.FilterTransfers(ctx, token, from, to)
}

// TokenMeta delegates to the wrapped reader.
func (c *CachedReader) TokenMeta(ctx context.Context, token common.Address) (TokenMeta, error) {
	return c.inner.TokenMeta(ctx, token)
}

func tsKey(block uint64) []byte {
	key := make([]byte, 3+8)
	copy(key, "ts:")
	binary.BigEndian.PutUint64(key[3:], block)
	return key
}
