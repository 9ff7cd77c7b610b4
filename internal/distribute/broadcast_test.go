package distribute

import (
	"context"
	"errors"
	"math/big"
	"path/filepath"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/tokenledger/stoscan/internal/persistence/sqlite"
)

type fakeSender struct {
	nonce   uint64
	sent    []*types.Transaction
	failAt  int // fail the Nth SendTransaction (1-based), 0 = never
}

func (f *fakeSender) ChainID(ctx context.Context) (*big.Int, error) { return big.NewInt(1337), nil }

func (f *fakeSender) PendingNonce(ctx context.Context, account common.Address) (uint64, error) {
	return f.nonce, nil
}

func (f *fakeSender) SuggestGasPrice(ctx context.Context) (*big.Int, error) {
	return big.NewInt(2_000_000_000), nil
}

func (f *fakeSender) SendTransaction(ctx context.Context, tx *types.Transaction) error {
	if f.failAt > 0 && len(f.sent)+1 == f.failAt {
		return errors.New("nonce too low")
	}
	f.sent = append(f.sent, tx)
	return nil
}

func newDistribution(t *testing.T) (*sqlite.Store, *sqlite.Distribution) {
	t.Helper()
	store, err := sqlite.OpenStore(filepath.Join(t.TempDir(), "scan.db"), sqlite.DefaultConfig())
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	shares := []Share{
		{Holder: "0x2833f0c0225cDFFF99C7948dbF645756bEc52C66", Amount: big.NewInt(1000)},
		{Holder: "0x52bc44d5378309EE2abF1539BF71dE1b7d7bE3b5", Amount: big.NewInt(2500)},
		{Holder: "0x8d12A197cB00D4747a1fe03395095ce2A5CC6819", Amount: big.NewInt(500)},
	}
	dist, err := Create(context.Background(), store, "testing",
		"0x1194E966965418c7d73a42cceEB254d875860356", KindCSV, shares)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if dist.TotalAmount.Int64() != 4000 {
		t.Fatalf("total = %s, want 4000", dist.TotalAmount)
	}
	return store, dist
}

func testKey(t *testing.T) *Broadcaster {
	t.Helper()
	key, err := crypto.GenerateKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	return NewBroadcaster(nil, key, 0)
}

func TestBroadcast(t *testing.T) {
	store, dist := newDistribution(t)
	sender := &fakeSender{nonce: 7}

	key, err := crypto.GenerateKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	b := NewBroadcaster(sender, key, 0)

	sent, err := b.Broadcast(context.Background(), store, dist.ID)
	if err != nil {
		t.Fatalf("Broadcast: %v", err)
	}
	if sent != 3 {
		t.Errorf("sent = %d, want 3", sent)
	}

	// Sequential nonces from the pending nonce.
	for i, tx := range sender.sent {
		if tx.Nonce() != 7+uint64(i) {
			t.Errorf("tx[%d] nonce = %d, want %d", i, tx.Nonce(), 7+i)
		}
		if tx.Gas() != 21000 {
			t.Errorf("tx[%d] gas = %d, want 21000", i, tx.Gas())
		}
	}

	got, err := store.GetDistribution(context.Background(), dist.ID)
	if err != nil {
		t.Fatalf("GetDistribution: %v", err)
	}
	if got.Status != sqlite.DistStatusBroadcast {
		t.Errorf("status = %s, want %s", got.Status, sqlite.DistStatusBroadcast)
	}

	entries, err := store.ListEntries(context.Background(), dist.ID, sqlite.EntryStatusBroadcast)
	if err != nil {
		t.Fatalf("ListEntries: %v", err)
	}
	if len(entries) != 3 {
		t.Fatalf("broadcast entries = %d, want 3", len(entries))
	}
	for _, e := range entries {
		if e.TxHash == "" {
			t.Errorf("entry %s has no tx hash", e.Holder)
		}
	}

	// A second run has nothing left to send.
	sent, err = b.Broadcast(context.Background(), store, dist.ID)
	if err != nil {
		t.Fatalf("second Broadcast: %v", err)
	}
	if sent != 0 {
		t.Errorf("second run sent = %d, want 0", sent)
	}
}

func TestBroadcast_StopsOnFailure(t *testing.T) {
	store, dist := newDistribution(t)
	sender := &fakeSender{failAt: 2}

	key, err := crypto.GenerateKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	b := NewBroadcaster(sender, key, 0)

	sent, err := b.Broadcast(context.Background(), store, dist.ID)
	if err == nil {
		t.Fatal("expected broadcast to fail")
	}
	if sent != 1 {
		t.Errorf("sent = %d, want 1 before the failure", sent)
	}
	if len(sender.sent) != 1 {
		t.Errorf("transactions on the wire = %d, want 1", len(sender.sent))
	}

	got, err := store.GetDistribution(context.Background(), dist.ID)
	if err != nil {
		t.Fatalf("GetDistribution: %v", err)
	}
	if got.Status != sqlite.DistStatusFailed {
		t.Errorf("status = %s, want %s", got.Status, sqlite.DistStatusFailed)
	}

	// One broadcast; the rejected entry consumed no nonce and stays
	// pending alongside the untouched one.
	for status, want := range map[string]int{
		sqlite.EntryStatusBroadcast: 1,
		sqlite.EntryStatusPending:   2,
	} {
		entries, err := store.ListEntries(context.Background(), dist.ID, status)
		if err != nil {
			t.Fatalf("ListEntries(%s): %v", status, err)
		}
		if len(entries) != want {
			t.Errorf("%s entries = %d, want %d", status, len(entries), want)
		}
	}

	// Resuming after the cause is fixed retries the rejected entry too,
	// so every holder ends up paid and the distribution completes.
	sender.failAt = 0
	sent, err = b.Broadcast(context.Background(), store, dist.ID)
	if err != nil {
		t.Fatalf("resume: %v", err)
	}
	if sent != 2 {
		t.Errorf("resume sent = %d, want 2", sent)
	}

	entries, err := store.ListEntries(context.Background(), dist.ID, sqlite.EntryStatusBroadcast)
	if err != nil {
		t.Fatalf("ListEntries: %v", err)
	}
	if len(entries) != 3 {
		t.Errorf("broadcast entries = %d, want all 3", len(entries))
	}
	for _, e := range entries {
		if e.TxHash == "" {
			t.Errorf("entry %s has no tx hash", e.Holder)
		}
	}

	got, err = store.GetDistribution(context.Background(), dist.ID)
	if err != nil {
		t.Fatalf("GetDistribution: %v", err)
	}
	if got.Status != sqlite.DistStatusBroadcast {
		t.Errorf("status after resume = %s, want %s", got.Status, sqlite.DistStatusBroadcast)
	}
}

func TestBroadcaster_From(t *testing.T) {
	b := testKey(t)
	if b.From() == (common.Address{}) {
		t.Error("sender address must derive from the key")
	}
}
