package ethwatch

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

func transferLog(from, to common.Address, value *big.Int, block uint64, index uint) types.Log {
	return types.Log{
		Address: common.HexToAddress("0x1194e966965418c7d73a42cceeb254d875860356"),
		Topics: []common.Hash{
			TransferTopic,
			common.BytesToHash(from.Bytes()),
			common.BytesToHash(to.Bytes()),
		},
		Data:        common.LeftPadBytes(value.Bytes(), 32),
		BlockNumber: block,
		TxHash:      common.HexToHash("0xabcd"),
		Index:       index,
	}
}

func TestDecodeTransfer(t *testing.T) {
	from := common.HexToAddress("0x2833f0c0225cdfff99c7948dbf645756bec52c66")
	to := common.HexToAddress("0x52bc44d5378309ee2abf1539bf71de1b7d7be3b5")
	value := big.NewInt(123456789)

	tr, ok := DecodeTransfer(transferLog(from, to, value, 42, 3))
	if !ok {
		t.Fatal("expected decode to succeed")
	}
	if tr.From != from || tr.To != to {
		t.Errorf("party mismatch: %+v", tr)
	}
	if tr.Value.Cmp(value) != 0 {
		t.Errorf("value = %s, want %s", tr.Value, value)
	}
	if tr.Block != 42 || tr.LogIndex != 3 {
		t.Errorf("position mismatch: block=%d index=%d", tr.Block, tr.LogIndex)
	}
}

func TestDecodeTransfer_ZeroValueAndMint(t *testing.T) {
	to := common.HexToAddress("0x52bc44d5378309ee2abf1539bf71de1b7d7be3b5")

	// Mint: from is the zero address.
	tr, ok := DecodeTransfer(transferLog(ZeroAddress, to, big.NewInt(1000), 1, 0))
	if !ok {
		t.Fatal("mint transfer must decode")
	}
	if tr.From != ZeroAddress {
		t.Errorf("expected zero from address, got %s", tr.From.Hex())
	}

	// Zero value transfers are valid per the standard.
	tr, ok = DecodeTransfer(transferLog(to, to, big.NewInt(0), 1, 1))
	if !ok {
		t.Fatal("zero-value transfer must decode")
	}
	if tr.Value.Sign() != 0 {
		t.Errorf("value = %s, want 0", tr.Value)
	}
}

func TestDecodeTransfer_Rejects(t *testing.T) {
	from := common.HexToAddress("0x2833f0c0225cdfff99c7948dbf645756bec52c66")
	to := common.HexToAddress("0x52bc44d5378309ee2abf1539bf71de1b7d7be3b5")

	// Wrong topic count (non-standard token with unindexed parties).
	lg := transferLog(from, to, big.NewInt(1), 1, 0)
	lg.Topics = lg.Topics[:1]
	if _, ok := DecodeTransfer(lg); ok {
		t.Error("single-topic log must be rejected")
	}

	// Wrong topic0.
	lg = transferLog(from, to, big.NewInt(1), 1, 0)
	lg.Topics[0] = common.HexToHash("0x01")
	if _, ok := DecodeTransfer(lg); ok {
		t.Error("foreign event must be rejected")
	}

	// Removed logs belong to reorged blocks.
	lg = transferLog(from, to, big.NewInt(1), 1, 0)
	lg.Removed = true
	if _, ok := DecodeTransfer(lg); ok {
		t.Error("removed log must be rejected")
	}
}
