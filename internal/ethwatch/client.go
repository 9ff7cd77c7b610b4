package ethwatch

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"golang.org/x/time/rate"

	"github.com/tokenledger/stoscan/internal/metrics"
)

// Client talks to an Ethereum node over JSON-RPC. It implements ChainReader
// and TxSender and throttles all calls through a shared rate limiter so a
// tight scan loop cannot overwhelm the node.
type Client struct {
	eth     *ethclient.Client
	limiter *rate.Limiter
}

// Options configures a Client.
type Options struct {
	// RateLimit is the maximum node requests per second. Zero disables
	// throttling.
	RateLimit float64
}

// Dial connects to the node at url.
func Dial(ctx context.Context, url string, opts Options) (*Client, error) {
	eth, err := ethclient.DialContext(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("dial node %s: %w", url, err)
	}

	var limiter *rate.Limiter
	if opts.RateLimit > 0 {
		limiter = rate.NewLimiter(rate.Limit(opts.RateLimit), int(opts.RateLimit)+1)
	}

	return &Client{eth: eth, limiter: limiter}, nil
}

// Close releases the underlying RPC connection.
func (c *Client) Close() {
	c.eth.Close()
}

func (c *Client) wait(ctx context.Context) error {
	if c.limiter == nil {
		return nil
	}
	return c.limiter.Wait(ctx)
}

// LatestBlock returns the current head block number.
func (c *Client) LatestBlock(ctx context.Context) (uint64, error) {
	if err := c.wait(ctx); err != nil {
		return 0, err
	}
	n, err := c.eth.BlockNumber(ctx)
	if err != nil {
		metrics.IncRPCError("latest")
		return 0, fmt.Errorf("block number: %w", err)
	}
	return n, nil
}

// BlockTimestamp returns the timestamp of a block.
func (c *Client) BlockTimestamp(ctx context.Context, block uint64) (time.Time, error) {
	if err := c.wait(ctx); err != nil {
		return time.Time{}, err
	}
	header, err := c.eth.HeaderByNumber(ctx, new(big.Int).SetUint64(block))
	if err != nil {
		metrics.IncRPCError("header")
		return time.Time{}, fmt.Errorf("header %d: %w", block, err)
	}
	return time.Unix(int64(header.Time), 0).UTC(), nil
}

// FilterTransfers returns all Transfer events of token in [from, to].
func (c *Client) FilterTransfers(ctx context.Context, token common.Address, from, to uint64) ([]Transfer, error) {
	if err := c.wait(ctx); err != nil {
		return nil, err
	}

	query := ethereum.FilterQuery{
		FromBlock: new(big.Int).SetUint64(from),
		ToBlock:   new(big.Int).SetUint64(to),
		Addresses: []common.Address{token},
		Topics:    [][]common.Hash{{TransferTopic}},
	}

	logs, err := c.eth.FilterLogs(ctx, query)
	if err != nil {
		metrics.IncRPCError("filter_logs")
		return nil, fmt.Errorf("filter logs [%d, %d]: %w", from, to, err)
	}

	transfers := make([]Transfer, 0, len(logs))
	for _, lg := range logs {
		t, ok := DecodeTransfer(lg)
		if !ok {
			continue
		}
		transfers = append(transfers, t)
	}
	return transfers, nil
}

// TokenMeta reads contract-level token metadata. Name and symbol are
// best-effort: some contracts do not implement them.
func (c *Client) TokenMeta(ctx context.Context, token common.Address) (TokenMeta, error) {
	meta := TokenMeta{TotalSupply: new(big.Int)}

	decimals, err := c.callUint8(ctx, token, "decimals")
	if err != nil {
		metrics.IncRPCError("meta")
		return meta, fmt.Errorf("decimals of %s: %w", token.Hex(), err)
	}
	meta.Decimals = decimals

	if supply, err := c.callBig(ctx, token, "totalSupply"); err == nil {
		meta.TotalSupply = supply
	} else {
		metrics.IncRPCError("meta")
	}
	if name, err := c.callString(ctx, token, "name"); err == nil {
		meta.Name = name
	}
	if symbol, err := c.callString(ctx, token, "symbol"); err == nil {
		meta.Symbol = symbol
	}
	return meta, nil
}

// ChainID returns the chain id used for transaction signing.
func (c *Client) ChainID(ctx context.Context) (*big.Int, error) {
	if err := c.wait(ctx); err != nil {
		return nil, err
	}
	id, err := c.eth.ChainID(ctx)
	if err != nil {
		return nil, fmt.Errorf("chain id: %w", err)
	}
	return id, nil
}

// PendingNonce returns the next nonce of an account including pending txs.
func (c *Client) PendingNonce(ctx context.Context, account common.Address) (uint64, error) {
	if err := c.wait(ctx); err != nil {
		return 0, err
	}
	nonce, err := c.eth.PendingNonceAt(ctx, account)
	if err != nil {
		return 0, fmt.Errorf("pending nonce of %s: %w", account.Hex(), err)
	}
	return nonce, nil
}

// SuggestGasPrice returns the node's gas price suggestion.
func (c *Client) SuggestGasPrice(ctx context.Context) (*big.Int, error) {
	if err := c.wait(ctx); err != nil {
		return nil, err
	}
	price, err := c.eth.SuggestGasPrice(ctx)
	if err != nil {
		return nil, fmt.Errorf("suggest gas price: %w", err)
	}
	return price, nil
}

// SendTransaction submits a signed transaction.
func (c *Client) SendTransaction(ctx context.Context, tx *types.Transaction) error {
	if err := c.wait(ctx); err != nil {
		return err
	}
	if err := c.eth.SendTransaction(ctx, tx); err != nil {
		metrics.IncRPCError("send")
		return fmt.Errorf("send transaction %s: %w", tx.Hash().Hex(), err)
	}
	return nil
}

func (c *Client) call(ctx context.Context, token common.Address, method string) ([]byte, error) {
	if err := c.wait(ctx); err != nil {
		return nil, err
	}
	data, err := erc20ABI.Pack(method)
	if err != nil {
		return nil, fmt.Errorf("pack %s: %w", method, err)
	}
	out, err := c.eth.CallContract(ctx, ethereum.CallMsg{To: &token, Data: data}, nil)
	if err != nil {
		return nil, fmt.Errorf("call %s: %w", method, err)
	}
	return out, nil
}

func (c *Client) callUint8(ctx context.Context, token common.Address, method string) (uint8, error) {
	out, err := c.call(ctx, token, method)
	if err != nil {
		return 0, err
	}
	vals, err := erc20ABI.Unpack(method, out)
	if err != nil || len(vals) != 1 {
		return 0, fmt.Errorf("unpack %s: %w", method, err)
	}
	v, ok := vals[0].(uint8)
	if !ok {
		return 0, fmt.Errorf("unexpected %s result type %T", method, vals[0])
	}
	return v, nil
}

func (c *Client) callBig(ctx context.Context, token common.Address, method string) (*big.Int, error) {
	out, err := c.call(ctx, token, method)
	if err != nil {
		return nil, err
	}
	vals, err := erc20ABI.Unpack(method, out)
	if err != nil || len(vals) != 1 {
		return nil, fmt.Errorf("unpack %s: %w", method, err)
	}
	v, ok := vals[0].(*big.Int)
	if !ok {
		return nil, fmt.Errorf("unexpected %s result type %T", method, vals[0])
	}
	return v, nil
}

func (c *Client) callString(ctx context.Context, token common.Address, method string) (string, error) {
	out, err := c.call(ctx, token, method)
	if err != nil {
		return "", err
	}
	vals, err := erc20ABI.Unpack(method, out)
	if err != nil || len(vals) != 1 {
		return "", fmt.Errorf("unpack %s: %w", method, err)
	}
	v, ok := vals[0].(string)
	if !ok {
		return "", fmt.Errorf("unexpected %s result type %T", method, vals[0])
	}
	return v, nil
}
