package ethwatch

import (
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
)

// TransferTopic is keccak256("Transfer(address,address,uint256)"), the
// topic0 of every ERC-20 Transfer event.
var TransferTopic = crypto.Keccak256Hash([]byte("Transfer(address,address,uint256)"))

const erc20ABIJSON = `[
	{"constant":true,"inputs":[],"name":"name","outputs":[{"name":"","type":"string"}],"type":"function"},
	{"constant":true,"inputs":[],"name":"symbol","outputs":[{"name":"","type":"string"}],"type":"function"},
	{"constant":true,"inputs":[],"name":"decimals","outputs":[{"name":"","type":"uint8"}],"type":"function"},
	{"constant":true,"inputs":[],"name":"totalSupply","outputs":[{"name":"","type":"uint256"}],"type":"function"},
	{"anonymous":false,"inputs":[{"indexed":true,"name":"from","type":"address"},{"indexed":true,"name":"to","type":"address"},{"indexed":false,"name":"value","type":"uint256"}],"name":"Transfer","type":"event"}
]`

var erc20ABI = func() abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(erc20ABIJSON))
	if err != nil {
		panic("ethwatch: invalid ERC-20 ABI: " + err.Error())
	}
	return parsed
}()

// DecodeTransfer decodes an ERC-20 Transfer log. It returns false for logs
// that do not match the canonical three-topic layout (some non-standard
// tokens emit Transfer with unindexed parties).
func DecodeTransfer(lg types.Log) (Transfer, bool) {
	if len(lg.Topics) != 3 || lg.Topics[0] != TransferTopic {
		return Transfer{}, false
	}
	if lg.Removed {
		return Transfer{}, false
	}

	return Transfer{
		Token:    lg.Address,
		From:     common.BytesToAddress(lg.Topics[1].Bytes()),
		To:       common.BytesToAddress(lg.Topics[2].Bytes()),
		Value:    bigFromBytes(lg.Data),
		Block:    lg.BlockNumber,
		TxHash:   lg.TxHash,
		LogIndex: lg.Index,
	}, true
}

// bigFromBytes interprets big-endian event data as an unsigned integer.
// Empty data decodes to zero.
func bigFromBytes(data []byte) *big.Int {
	return new(big.Int).SetBytes(data)
}
