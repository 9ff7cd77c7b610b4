package sqlite

import (
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// ScanStatus tracks how far a token has been scanned on a network.
type ScanStatus struct {
	Network     string
	Address     string
	Name        string
	Symbol      string
	Decimals    uint8
	TotalSupply *big.Int
	StartBlock  uint64
	EndBlock    uint64
	UpdatedAt   time.Time
}

// Delta is a single signed balance change derived from one Transfer event.
// The (TxHash, LogIndex) pair makes re-inserting the same event a no-op.
type Delta struct {
	Holder   string
	Block    uint64
	TxHash   string
	LogIndex uint
	Amount   *big.Int // negative for the sender side
}

// HolderBalance is the denormalized last known balance of one holder.
type HolderBalance struct {
	Holder       string
	Balance      *big.Int
	EndBlock     uint64
	EndBlockTime time.Time
	UpdatedAt    time.Time
}

// Distribution statuses.
const (
	DistStatusPlanned   = "planned"
	DistStatusBroadcast = "broadcast"
	DistStatusFailed    = "failed"
)

// Entry statuses. An entry whose send was rejected stays pending: no nonce
// was consumed, so retrying it is safe.
const (
	EntryStatusPending   = "pending"
	EntryStatusBroadcast = "broadcast"
)

// Distribution is a planned payout across token holders.
type Distribution struct {
	ID          string
	Network     string
	Token       string
	Kind        string // "pro-rata" or "csv"
	TotalAmount *big.Int
	Status      string
	CreatedAt   time.Time
}

// DistributionEntry is one holder's slice of a distribution.
type DistributionEntry struct {
	DistributionID string
	Holder         string
	Amount         *big.Int
	Nonce          uint64
	TxHash         string
	Status         string
	UpdatedAt      time.Time
}

// NormalizeAddress canonicalizes an address to its EIP-55 checksum form.
// Every address column stores this form so lookups never miss on case.
func NormalizeAddress(addr string) string {
	return common.HexToAddress(addr).Hex()
}
