// Package ethwatch provides read and write access to an Ethereum node for
// the transfer scanner and the distribution broadcaster.
package ethwatch

import (
	"context"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// Transfer is one decoded ERC-20 Transfer event.
type Transfer struct {
	Token    common.Address
	From     common.Address
	To       common.Address
	Value    *big.Int
	Block    uint64
	TxHash   common.Hash
	LogIndex uint
}

// TokenMeta holds contract-level token metadata, captured once per token.
type TokenMeta struct {
	Name        string
	Symbol      string
	Decimals    uint8
	TotalSupply *big.Int
}

// ChainReader is the read surface the scanner needs. Tests substitute an
// in-memory implementation.
type ChainReader interface {
	// LatestBlock returns the current head block number.
	LatestBlock(ctx context.Context) (uint64, error)

	// BlockTimestamp returns the timestamp of a block.
	BlockTimestamp(ctx context.Context, block uint64) (time.Time, error)

	// FilterTransfers returns all Transfer events of token in [from, to],
	// both bounds inclusive, ordered as the node returns them.
	FilterTransfers(ctx context.Context, token common.Address, from, to uint64) ([]Transfer, error)

	// TokenMeta reads name, symbol, decimals and totalSupply from the
	// token contract.
	TokenMeta(ctx context.Context, token common.Address) (TokenMeta, error)
}

// TxSender is the write surface the distribution broadcaster needs.
type TxSender interface {
	ChainID(ctx context.Context) (*big.Int, error)
	PendingNonce(ctx context.Context, account common.Address) (uint64, error)
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	SendTransaction(ctx context.Context, tx *types.Transaction) error
}

// ZeroAddress is the mint/burn counterparty in Transfer events.
var ZeroAddress = common.Address{}
