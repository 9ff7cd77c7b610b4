package distribute

import (
	"math/big"
	"strings"
	"testing"

	"github.com/tokenledger/stoscan/internal/captable"
)

func table(balances ...string) *captable.Table {
	holders := []string{
		"0x2833f0c0225cDFFF99C7948dbF645756bEc52C66",
		"0x52bc44d5378309EE2abF1539BF71dE1b7d7bE3b5",
		"0x8d12A197cB00D4747a1fe03395095ce2A5CC6819",
	}
	tbl := &captable.Table{}
	total := new(big.Int)
	for i, b := range balances {
		v, _ := new(big.Int).SetString(b, 10)
		total.Add(total, v)
		tbl.Entries = append(tbl.Entries, captable.Entry{
			Rank:    i + 1,
			Holder:  holders[i],
			Balance: b,
		})
	}
	tbl.TotalTracked = total.String()
	tbl.Holders = len(balances)
	return tbl
}

func TestPlanProRata_ExactSum(t *testing.T) {
	// 100 units over balances 1/1/1 cannot divide evenly; the plan must
	// still sum to exactly 100.
	tbl := table("1", "1", "1")
	shares, err := PlanProRata(tbl, big.NewInt(100))
	if err != nil {
		t.Fatalf("PlanProRata: %v", err)
	}

	sum := new(big.Int)
	for _, sh := range shares {
		sum.Add(sum, sh.Amount)
	}
	if sum.Cmp(big.NewInt(100)) != 0 {
		t.Errorf("sum = %s, want 100", sum)
	}

	// floor is 33 each; one holder gets the leftover unit.
	var got []int64
	for _, sh := range shares {
		got = append(got, sh.Amount.Int64())
	}
	bumped := 0
	for _, v := range got {
		switch v {
		case 34:
			bumped++
		case 33:
		default:
			t.Errorf("unexpected share %d", v)
		}
	}
	if bumped != 1 {
		t.Errorf("bumped shares = %d, want 1", bumped)
	}
}

func TestPlanProRata_Proportional(t *testing.T) {
	tbl := table("6000", "2500", "1500")
	shares, err := PlanProRata(tbl, big.NewInt(1_000_000))
	if err != nil {
		t.Fatalf("PlanProRata: %v", err)
	}

	want := []int64{600_000, 250_000, 150_000}
	for i, sh := range shares {
		if sh.Amount.Int64() != want[i] {
			t.Errorf("share[%d] = %s, want %d", i, sh.Amount, want[i])
		}
	}
}

func TestPlanProRata_FilteredTable(t *testing.T) {
	// A TopN/MinBalance table keeps TotalTracked at the full population
	// while listing only some holders. The payout must still split over
	// the listed entries and sum exactly.
	tbl := table("4000", "3000")
	tbl.TotalTracked = "10000"

	shares, err := PlanProRata(tbl, big.NewInt(1_000_000))
	if err != nil {
		t.Fatalf("PlanProRata: %v", err)
	}

	sum := new(big.Int)
	for _, sh := range shares {
		sum.Add(sum, sh.Amount)
	}
	if sum.Cmp(big.NewInt(1_000_000)) != 0 {
		t.Errorf("sum = %s, want 1000000", sum)
	}

	// 4000:3000 over the two listed holders, not over the tracked total.
	if shares[0].Amount.Int64() != 571_429 {
		t.Errorf("share[0] = %s, want 571429", shares[0].Amount)
	}
	if shares[1].Amount.Int64() != 428_571 {
		t.Errorf("share[1] = %s, want 428571", shares[1].Amount)
	}
}

func TestPlanProRata_Deterministic(t *testing.T) {
	tbl := table("1", "1", "1")
	a, err := PlanProRata(tbl, big.NewInt(100))
	if err != nil {
		t.Fatalf("PlanProRata: %v", err)
	}
	b, err := PlanProRata(tbl, big.NewInt(100))
	if err != nil {
		t.Fatalf("PlanProRata: %v", err)
	}
	for i := range a {
		if a[i].Amount.Cmp(b[i].Amount) != 0 {
			t.Errorf("plan not deterministic at %d: %s vs %s", i, a[i].Amount, b[i].Amount)
		}
	}
}

func TestPlanProRata_Rejects(t *testing.T) {
	tbl := table("1", "1", "1")
	if _, err := PlanProRata(tbl, big.NewInt(0)); err == nil {
		t.Error("zero total must be rejected")
	}
	if _, err := PlanProRata(&captable.Table{TotalTracked: "0"}, big.NewInt(100)); err == nil {
		t.Error("empty table must be rejected")
	}
}

func TestPlanFromCSV(t *testing.T) {
	in := strings.Join([]string{
		"holder,amount",
		"0x2833f0c0225cDFFF99C7948dbF645756bEc52C66,1000",
		"0x52bc44d5378309EE2abF1539BF71dE1b7d7bE3b5,2500",
	}, "\n")

	shares, err := PlanFromCSV(strings.NewReader(in))
	if err != nil {
		t.Fatalf("PlanFromCSV: %v", err)
	}
	if len(shares) != 2 {
		t.Fatalf("shares = %d, want 2", len(shares))
	}
	if shares[0].Amount.Int64() != 1000 || shares[1].Amount.Int64() != 2500 {
		t.Errorf("amounts = %s, %s", shares[0].Amount, shares[1].Amount)
	}
}

func TestPlanFromCSV_Rejects(t *testing.T) {
	cases := map[string]string{
		"bad address":      "nothex,1000",
		"bad amount":       "0x2833f0c0225cDFFF99C7948dbF645756bEc52C66,xyz\n0x52bc44d5378309EE2abF1539BF71dE1b7d7bE3b5,abc",
		"negative amount":  "0x2833f0c0225cDFFF99C7948dbF645756bEc52C66,-5",
		"duplicate holder": "0x2833f0c0225cDFFF99C7948dbF645756bEc52C66,1\n0x2833F0C0225CDFFF99C7948DBF645756BEC52C66,2",
		"empty":            "",
	}
	for name, in := range cases {
		if _, err := PlanFromCSV(strings.NewReader(in)); err == nil {
			t.Errorf("%s: expected error", name)
		}
	}
}
