package scanner

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"path/filepath"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/tokenledger/stoscan/internal/ethwatch"
	"github.com/tokenledger/stoscan/internal/persistence/sqlite"
)

var (
	testToken = common.HexToAddress("0x1194e966965418c7d73a42cceeb254d875860356")
	alice     = common.HexToAddress("0x2833f0c0225cdfff99c7948dbf645756bec52c66")
	bob       = common.HexToAddress("0x52bc44d5378309ee2abf1539bf71de1b7d7be3b5")
	carol     = common.HexToAddress("0x8d12a197cb00d4747a1fe03395095ce2a5cc6819")
)

// fakeChain serves canned transfers and fails requests wider than maxSpan,
// imitating a node's response-size limit.
type fakeChain struct {
	head      uint64
	transfers []ethwatch.Transfer
	meta      ethwatch.TokenMeta
	maxSpan   uint64
	calls     int
}

func (f *fakeChain) LatestBlock(ctx context.Context) (uint64, error) { return f.head, nil }

func (f *fakeChain) BlockTimestamp(ctx context.Context, block uint64) (time.Time, error) {
	return time.Unix(int64(1_700_000_000+block*13), 0).UTC(), nil
}

func (f *fakeChain) FilterTransfers(ctx context.Context, token common.Address, from, to uint64) ([]ethwatch.Transfer, error) {
	f.calls++
	if f.maxSpan > 0 && to-from+1 > f.maxSpan {
		return nil, errors.New("query returned more than 10000 results")
	}
	var out []ethwatch.Transfer
	for _, tr := range f.transfers {
		if tr.Token == token && tr.Block >= from && tr.Block <= to {
			out = append(out, tr)
		}
	}
	return out, nil
}

func (f *fakeChain) TokenMeta(ctx context.Context, token common.Address) (ethwatch.TokenMeta, error) {
	return f.meta, nil
}

func transfer(from, to common.Address, value int64, block uint64, index uint) ethwatch.Transfer {
	return ethwatch.Transfer{
		Token:    testToken,
		From:     from,
		To:       to,
		Value:    big.NewInt(value),
		Block:    block,
		TxHash:   common.HexToHash(fmt.Sprintf("0x%x", block*1000+uint64(index))),
		LogIndex: index,
	}
}

func newTestScanner(t *testing.T, chain *fakeChain, opts Options) (*Scanner, *sqlite.Store) {
	t.Helper()
	store, err := sqlite.OpenStore(filepath.Join(t.TempDir(), "scan.db"), sqlite.DefaultConfig())
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	if opts.Network == "" {
		opts.Network = "testing"
	}
	return New(store, chain, opts), store
}

func defaultChain() *fakeChain {
	return &fakeChain{
		head: 120,
		meta: ethwatch.TokenMeta{
			Name:        "Example Security Token",
			Symbol:      "EST",
			Decimals:    18,
			TotalSupply: big.NewInt(10_000),
		},
		transfers: []ethwatch.Transfer{
			transfer(ethwatch.ZeroAddress, alice, 10_000, 10, 0), // mint
			transfer(alice, bob, 3_000, 20, 0),
			transfer(alice, carol, 1_000, 20, 1),
			transfer(bob, carol, 500, 90, 0),
		},
	}
}

func balance(t *testing.T, store *sqlite.Store, holder common.Address) *big.Int {
	t.Helper()
	balances, err := store.ListBalances(context.Background(), "testing", testToken.Hex())
	if err != nil {
		t.Fatalf("list balances: %v", err)
	}
	for _, hb := range balances {
		if hb.Holder == holder.Hex() {
			return hb.Balance
		}
	}
	return big.NewInt(0)
}

func TestScanToHead_FirstRun(t *testing.T) {
	chain := defaultChain()
	sc, store := newTestScanner(t, chain, Options{Network: "testing", ChunkSize: 50, Confirmations: 12})

	res, err := sc.ScanToHead(context.Background(), testToken)
	if err != nil {
		t.Fatalf("ScanToHead: %v", err)
	}

	// head 120 minus 12 confirmations.
	if res.EndBlock != 108 {
		t.Errorf("end block = %d, want 108", res.EndBlock)
	}
	if res.Events != 4 {
		t.Errorf("events = %d, want 4", res.Events)
	}

	st, err := store.GetStatus(context.Background(), "testing", testToken.Hex())
	if err != nil {
		t.Fatalf("GetStatus: %v", err)
	}
	if st.EndBlock != 108 {
		t.Errorf("persisted end block = %d, want 108", st.EndBlock)
	}
	if st.Symbol != "EST" || st.Decimals != 18 {
		t.Errorf("metadata not captured: %+v", st)
	}
	if st.TotalSupply.Cmp(big.NewInt(10_000)) != 0 {
		t.Errorf("total supply = %s, want 10000", st.TotalSupply)
	}

	if got := balance(t, store, alice); got.Cmp(big.NewInt(6_000)) != 0 {
		t.Errorf("alice = %s, want 6000", got)
	}
	if got := balance(t, store, bob); got.Cmp(big.NewInt(2_500)) != 0 {
		t.Errorf("bob = %s, want 2500", got)
	}
	if got := balance(t, store, carol); got.Cmp(big.NewInt(1_500)) != 0 {
		t.Errorf("carol = %s, want 1500", got)
	}

	n, err := store.HolderCount(context.Background(), "testing", testToken.Hex())
	if err != nil {
		t.Fatalf("HolderCount: %v", err)
	}
	if n != 3 {
		t.Errorf("holders = %d, want 3", n)
	}
}

func TestScanToHead_Incremental(t *testing.T) {
	chain := defaultChain()
	sc, store := newTestScanner(t, chain, Options{Network: "testing", ChunkSize: 50, Confirmations: 12})

	if _, err := sc.ScanToHead(context.Background(), testToken); err != nil {
		t.Fatalf("first run: %v", err)
	}

	// Nothing new: the second run must not move the end block backwards
	// or change balances.
	res, err := sc.ScanToHead(context.Background(), testToken)
	if err != nil {
		t.Fatalf("second run: %v", err)
	}
	if res.Events != 0 {
		t.Errorf("events = %d, want 0", res.Events)
	}

	// Chain advances with one new transfer.
	chain.head = 150
	chain.transfers = append(chain.transfers, transfer(carol, alice, 1_500, 130, 0))

	res, err = sc.ScanToHead(context.Background(), testToken)
	if err != nil {
		t.Fatalf("third run: %v", err)
	}
	if res.StartBlock != 109 {
		t.Errorf("start block = %d, want 109", res.StartBlock)
	}
	if res.EndBlock != 138 {
		t.Errorf("end block = %d, want 138", res.EndBlock)
	}
	if got := balance(t, store, alice); got.Cmp(big.NewInt(7_500)) != 0 {
		t.Errorf("alice = %s, want 7500", got)
	}
	if got := balance(t, store, carol); got.Sign() != 0 {
		t.Errorf("carol = %s, want 0", got)
	}
}

func TestScan_ReplayIsIdempotent(t *testing.T) {
	chain := defaultChain()
	sc, store := newTestScanner(t, chain, Options{Network: "testing", ChunkSize: 50, Confirmations: 12})

	if _, err := sc.ScanToHead(context.Background(), testToken); err != nil {
		t.Fatalf("scan: %v", err)
	}
	// Replaying an already scanned range must not double-count.
	if _, err := sc.Scan(context.Background(), testToken, 1, 108); err != nil {
		t.Fatalf("replay: %v", err)
	}

	if got := balance(t, store, alice); got.Cmp(big.NewInt(6_000)) != 0 {
		t.Errorf("alice = %s after replay, want 6000", got)
	}
	if got := balance(t, store, bob); got.Cmp(big.NewInt(2_500)) != 0 {
		t.Errorf("bob = %s after replay, want 2500", got)
	}
}

func TestScan_ShrinksChunkOnNodeLimit(t *testing.T) {
	chain := defaultChain()
	chain.maxSpan = 8
	sc, store := newTestScanner(t, chain, Options{Network: "testing", ChunkSize: 64, Confirmations: 12, MaxRetries: 5})

	if _, err := sc.ScanToHead(context.Background(), testToken); err != nil {
		t.Fatalf("ScanToHead: %v", err)
	}

	if got := balance(t, store, alice); got.Cmp(big.NewInt(6_000)) != 0 {
		t.Errorf("alice = %s, want 6000", got)
	}
	if got := balance(t, store, carol); got.Cmp(big.NewInt(1_500)) != 0 {
		t.Errorf("carol = %s, want 1500", got)
	}
}

func TestScan_FailsAfterMaxRetries(t *testing.T) {
	chain := defaultChain()
	chain.maxSpan = 1 // even the smallest chunk spans 1 block, so shrink to 1 first
	sc, _ := newTestScanner(t, chain, Options{Network: "testing", ChunkSize: 64, Confirmations: 12, MaxRetries: 2})

	// With MaxRetries 2 the chunk only shrinks 64 -> 32 -> 16, still over
	// the node limit, so the scan must surface the node error.
	_, err := sc.ScanToHead(context.Background(), testToken)
	if err == nil {
		t.Fatal("expected scan to fail once retries are exhausted")
	}
}

func TestRescan(t *testing.T) {
	chain := defaultChain()
	sc, store := newTestScanner(t, chain, Options{Network: "testing", ChunkSize: 50, Confirmations: 12})
	ctx := context.Background()

	if _, err := sc.ScanToHead(ctx, testToken); err != nil {
		t.Fatalf("scan: %v", err)
	}

	// Rewind to before the block-90 transfer.
	if err := sc.Rescan(ctx, testToken, 50); err != nil {
		t.Fatalf("Rescan: %v", err)
	}

	st, err := store.GetStatus(ctx, "testing", testToken.Hex())
	if err != nil {
		t.Fatalf("GetStatus: %v", err)
	}
	if st.EndBlock != 49 {
		t.Errorf("end block after rewind = %d, want 49", st.EndBlock)
	}

	// Balances reflect history up to block 49 only.
	if got := balance(t, store, bob); got.Cmp(big.NewInt(3_000)) != 0 {
		t.Errorf("bob = %s after rewind, want 3000", got)
	}
	if got := balance(t, store, carol); got.Cmp(big.NewInt(1_000)) != 0 {
		t.Errorf("carol = %s after rewind, want 1000", got)
	}

	// The next incremental run re-ingests the dropped range.
	if _, err := sc.ScanToHead(ctx, testToken); err != nil {
		t.Fatalf("re-scan: %v", err)
	}
	if got := balance(t, store, bob); got.Cmp(big.NewInt(2_500)) != 0 {
		t.Errorf("bob = %s after re-scan, want 2500", got)
	}
	if got := balance(t, store, carol); got.Cmp(big.NewInt(1_500)) != 0 {
		t.Errorf("carol = %s after re-scan, want 1500", got)
	}
}
