// Package distribute plans payouts across token holders and broadcasts them
// as value transfers signed with a local key.
package distribute

import (
	"encoding/csv"
	"fmt"
	"io"
	"math/big"
	"sort"

	"github.com/ethereum/go-ethereum/common"

	"github.com/tokenledger/stoscan/internal/captable"
)

// Share is one holder's planned payout amount in wei.
type Share struct {
	Holder string
	Amount *big.Int
}

// PlanProRata splits totalAmount across the cap table in proportion to each
// holder's balance. The denominator is the sum of the balances actually in
// the table, not TotalTracked: a table filtered by TopN or MinBalance still
// distributes the full payout over the holders it contains. Rounding uses
// the largest-remainder method so the shares always sum to exactly
// totalAmount.
func PlanProRata(tbl *captable.Table, totalAmount *big.Int) ([]Share, error) {
	if totalAmount == nil || totalAmount.Sign() <= 0 {
		return nil, fmt.Errorf("total amount must be positive")
	}
	if len(tbl.Entries) == 0 {
		return nil, fmt.Errorf("cap table has no holders")
	}

	balances := make([]*big.Int, len(tbl.Entries))
	denominator := new(big.Int)
	for i, e := range tbl.Entries {
		balance, ok := new(big.Int).SetString(e.Balance, 10)
		if !ok {
			return nil, fmt.Errorf("corrupt balance %q for %s", e.Balance, e.Holder)
		}
		balances[i] = balance
		denominator.Add(denominator, balance)
	}
	if denominator.Sign() <= 0 {
		return nil, fmt.Errorf("cap table has no balance to distribute over")
	}

	type slice struct {
		idx       int
		remainder *big.Int
	}

	shares := make([]Share, len(tbl.Entries))
	remainders := make([]slice, len(tbl.Entries))
	assigned := new(big.Int)

	for i, e := range tbl.Entries {
		// floor(total * balance / denominator), remainder kept for the
		// largest-remainder pass.
		num := new(big.Int).Mul(totalAmount, balances[i])
		amount, rem := new(big.Int).QuoRem(num, denominator, new(big.Int))

		shares[i] = Share{Holder: e.Holder, Amount: amount}
		remainders[i] = slice{idx: i, remainder: rem}
		assigned.Add(assigned, amount)
	}

	// Hand the leftover units to the largest remainders, holder order as
	// tiebreak so the plan is deterministic.
	leftover := new(big.Int).Sub(totalAmount, assigned)
	sort.SliceStable(remainders, func(a, b int) bool {
		if c := remainders[a].remainder.Cmp(remainders[b].remainder); c != 0 {
			return c > 0
		}
		return shares[remainders[a].idx].Holder < shares[remainders[b].idx].Holder
	})
	one := big.NewInt(1)
	for i := 0; leftover.Sign() > 0 && i < len(remainders); i++ {
		shares[remainders[i].idx].Amount.Add(shares[remainders[i].idx].Amount, one)
		leftover.Sub(leftover, one)
	}
	// The leftover equals the summed remainders over the denominator,
	// strictly below the entry count, so one unit per entry clears it.
	if leftover.Sign() > 0 {
		return nil, fmt.Errorf("pro-rata rounding left %s unassigned", leftover)
	}

	return shares, nil
}

// PlanFromCSV reads explicit holder,amount rows. A header row is skipped
// when the amount column does not parse as an integer.
func PlanFromCSV(r io.Reader) ([]Share, error) {
	rows, err := csv.NewReader(r).ReadAll()
	if err != nil {
		return nil, fmt.Errorf("read plan csv: %w", err)
	}

	var shares []Share
	seen := make(map[string]struct{})
	for i, row := range rows {
		if len(row) < 2 {
			return nil, fmt.Errorf("row %d: want holder,amount", i+1)
		}
		amount, ok := new(big.Int).SetString(row[1], 10)
		if !ok {
			if i == 0 {
				continue // header
			}
			return nil, fmt.Errorf("row %d: bad amount %q", i+1, row[1])
		}
		if amount.Sign() <= 0 {
			return nil, fmt.Errorf("row %d: amount must be positive", i+1)
		}
		if !common.IsHexAddress(row[0]) {
			return nil, fmt.Errorf("row %d: bad address %q", i+1, row[0])
		}
		holder := common.HexToAddress(row[0]).Hex()
		if _, dup := seen[holder]; dup {
			return nil, fmt.Errorf("row %d: duplicate holder %s", i+1, holder)
		}
		seen[holder] = struct{}{}
		shares = append(shares, Share{Holder: holder, Amount: amount})
	}
	if len(shares) == 0 {
		return nil, fmt.Errorf("plan csv has no rows")
	}
	return shares, nil
}
