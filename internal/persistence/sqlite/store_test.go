package sqlite

import (
	"context"
	"math/big"
	"path/filepath"
	"testing"
	"time"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := OpenStore(filepath.Join(t.TempDir(), "scan.db"), DefaultConfig())
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

const (
	testToken  = "0x1194e966965418c7d73a42cceeb254d875860356"
	testHolder = "0x2833f0c0225cdfff99c7948dbf645756bec52c66"
	otherAddr  = "0x52bc44d5378309ee2abf1539bf71de1b7d7be3b5"
)

func TestScanStatus_Lifecycle(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if _, err := s.GetStatus(ctx, "testing", testToken); err != ErrNotFound {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	st := ScanStatus{
		Network:     "testing",
		Address:     testToken,
		Name:        "Example Security Token",
		Symbol:      "EST",
		Decimals:    18,
		TotalSupply: big.NewInt(1000000),
		StartBlock:  100,
	}
	if err := s.CreateStatus(ctx, st); err != nil {
		t.Fatalf("create status: %v", err)
	}

	got, err := s.GetStatus(ctx, "testing", testToken)
	if err != nil {
		t.Fatalf("get status: %v", err)
	}
	if got.Symbol != "EST" || got.Decimals != 18 {
		t.Errorf("unexpected status row: %+v", got)
	}
	if got.TotalSupply.Cmp(big.NewInt(1000000)) != 0 {
		t.Errorf("total supply round trip: %s", got.TotalSupply)
	}

	// Address lookup is case-insensitive through normalization.
	upper := "0x1194E966965418C7D73A42CCEEB254D875860356"
	if _, err := s.GetStatus(ctx, "testing", upper); err != nil {
		t.Errorf("checksum-normalized lookup failed: %v", err)
	}

	if err := s.UpdateScanEnd(ctx, "testing", testToken, 500); err != nil {
		t.Fatalf("update scan end: %v", err)
	}
	got, _ = s.GetStatus(ctx, "testing", testToken)
	if got.EndBlock != 500 {
		t.Errorf("end block = %d, want 500", got.EndBlock)
	}

	if err := s.UpdateScanEnd(ctx, "testing", otherAddr, 500); err != ErrNotFound {
		t.Errorf("expected ErrNotFound for unknown token, got %v", err)
	}
}

func TestInsertDeltas_IdempotentSum(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	deltas := []Delta{
		{Holder: testHolder, Block: 10, TxHash: "0xaa", LogIndex: 0, Amount: big.NewInt(1000)},
		{Holder: testHolder, Block: 12, TxHash: "0xbb", LogIndex: 1, Amount: big.NewInt(-250)},
		{Holder: otherAddr, Block: 12, TxHash: "0xbb", LogIndex: 1, Amount: big.NewInt(250)},
	}
	if err := s.InsertDeltas(ctx, "testing", testToken, deltas); err != nil {
		t.Fatalf("insert deltas: %v", err)
	}
	// Replay the same chunk: INSERT OR IGNORE must keep sums stable.
	if err := s.InsertDeltas(ctx, "testing", testToken, deltas); err != nil {
		t.Fatalf("replay deltas: %v", err)
	}

	sum, last, err := s.SumDeltas(ctx, "testing", testToken, testHolder, 100)
	if err != nil {
		t.Fatalf("sum deltas: %v", err)
	}
	if sum.Cmp(big.NewInt(750)) != 0 {
		t.Errorf("sum = %s, want 750", sum)
	}
	if last != 12 {
		t.Errorf("last block = %d, want 12", last)
	}

	// Upper bound excludes later deltas.
	sum, _, err = s.SumDeltas(ctx, "testing", testToken, testHolder, 11)
	if err != nil {
		t.Fatalf("bounded sum: %v", err)
	}
	if sum.Cmp(big.NewInt(1000)) != 0 {
		t.Errorf("bounded sum = %s, want 1000", sum)
	}
}

func TestDropDeltasFrom(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	deltas := []Delta{
		{Holder: testHolder, Block: 10, TxHash: "0xaa", LogIndex: 0, Amount: big.NewInt(100)},
		{Holder: testHolder, Block: 20, TxHash: "0xbb", LogIndex: 0, Amount: big.NewInt(100)},
		{Holder: testHolder, Block: 30, TxHash: "0xcc", LogIndex: 0, Amount: big.NewInt(100)},
	}
	if err := s.InsertDeltas(ctx, "testing", testToken, deltas); err != nil {
		t.Fatal(err)
	}

	if err := s.DropDeltasFrom(ctx, "testing", testToken, 20); err != nil {
		t.Fatalf("drop deltas: %v", err)
	}

	sum, last, err := s.SumDeltas(ctx, "testing", testToken, testHolder, 100)
	if err != nil {
		t.Fatal(err)
	}
	if sum.Cmp(big.NewInt(100)) != 0 {
		t.Errorf("sum after purge = %s, want 100", sum)
	}
	if last != 10 {
		t.Errorf("last block after purge = %d, want 10", last)
	}
}

func TestBalances_OrderingAndCount(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Now()

	// A value that overflows int64 must order above smaller ones, and a
	// negative net balance (scan started after the holder acquired) must
	// order below every positive one.
	huge, _ := new(big.Int).SetString("100000000000000000000000", 10)

	for _, b := range []struct {
		holder string
		bal    *big.Int
	}{
		{testHolder, big.NewInt(500)},
		{otherAddr, huge},
		{"0x8ba1f109551bd432803012645ac136ddd64dba72", big.NewInt(0)},
		{"0x2910543Af39abA0Cd09dBb2D50200b3E800A63D2", big.NewInt(-250)},
	} {
		if err := s.UpsertBalance(ctx, "testing", testToken, b.holder, b.bal, 42, now); err != nil {
			t.Fatalf("upsert balance: %v", err)
		}
	}

	balances, err := s.ListBalances(ctx, "testing", testToken)
	if err != nil {
		t.Fatalf("list balances: %v", err)
	}
	if len(balances) != 3 {
		t.Fatalf("zero balances must be filtered, got %d rows", len(balances))
	}
	want := []*big.Int{huge, big.NewInt(500), big.NewInt(-250)}
	for i, w := range want {
		if balances[i].Balance.Cmp(w) != 0 {
			t.Errorf("balance[%d] = %s, want %s", i, balances[i].Balance, w)
		}
	}

	n, err := s.HolderCount(ctx, "testing", testToken)
	if err != nil {
		t.Fatal(err)
	}
	if n != 3 {
		t.Errorf("holder count = %d, want 3", n)
	}

	// Upsert replaces, not accumulates.
	if err := s.UpsertBalance(ctx, "testing", testToken, testHolder, big.NewInt(700), 50, now); err != nil {
		t.Fatal(err)
	}
	balances, _ = s.ListBalances(ctx, "testing", testToken)
	for _, b := range balances {
		if b.Holder == NormalizeAddress(testHolder) && b.Balance.Cmp(big.NewInt(700)) != 0 {
			t.Errorf("balance not replaced: %s", b.Balance)
		}
	}
}

func TestDistributions_Flow(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	d := Distribution{
		ID:          "dist-1",
		Network:     "testing",
		Token:       testToken,
		Kind:        "pro-rata",
		TotalAmount: big.NewInt(900),
		CreatedAt:   time.Now(),
	}
	entries := []DistributionEntry{
		{Holder: testHolder, Amount: big.NewInt(600)},
		{Holder: otherAddr, Amount: big.NewInt(300)},
	}
	if err := s.CreateDistribution(ctx, d, entries); err != nil {
		t.Fatalf("create distribution: %v", err)
	}

	got, err := s.GetDistribution(ctx, "dist-1")
	if err != nil {
		t.Fatalf("get distribution: %v", err)
	}
	if got.Status != DistStatusPlanned {
		t.Errorf("status = %q, want planned", got.Status)
	}

	pending, err := s.ListEntries(ctx, "dist-1", EntryStatusPending)
	if err != nil {
		t.Fatal(err)
	}
	if len(pending) != 2 {
		t.Fatalf("pending entries = %d, want 2", len(pending))
	}

	if err := s.MarkEntryBroadcast(ctx, "dist-1", testHolder, 7, "0xdead"); err != nil {
		t.Fatalf("mark broadcast: %v", err)
	}
	pending, _ = s.ListEntries(ctx, "dist-1", EntryStatusPending)
	if len(pending) != 1 {
		t.Errorf("pending entries after broadcast = %d, want 1", len(pending))
	}

	sent, _ := s.ListEntries(ctx, "dist-1", EntryStatusBroadcast)
	if len(sent) != 1 || sent[0].Nonce != 7 || sent[0].TxHash != "0xdead" {
		t.Errorf("broadcast entry not recorded: %+v", sent)
	}

	if err := s.MarkDistributionStatus(ctx, "dist-1", DistStatusBroadcast); err != nil {
		t.Fatal(err)
	}
	if err := s.MarkDistributionStatus(ctx, "nope", DistStatusFailed); err != ErrNotFound {
		t.Errorf("expected ErrNotFound, got %v", err)
	}

	if err := s.CreateDistribution(ctx, d, nil); err == nil {
		t.Error("empty distribution must be rejected")
	}
}

func TestVerifyIntegrity_FreshDatabase(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "fresh.db")
	s, err := OpenStore(path, DefaultConfig())
	if err != nil {
		t.Fatal(err)
	}
	_ = s.Close()

	issues, err := VerifyIntegrity(path, "full")
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if issues != nil {
		t.Errorf("fresh database reported issues: %v", issues)
	}
}
