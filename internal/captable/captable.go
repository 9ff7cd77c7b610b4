// Package captable assembles ownership tables from the denormalized holder
// balances and exports them as JSON or CSV.
package captable

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"github.com/tokenledger/stoscan/internal/persistence/sqlite"
)

// Options filters a cap table build.
type Options struct {
	// TopN keeps only the N largest holders. Zero keeps everyone.
	TopN int

	// MinBalance drops holders below this raw token amount. Nil keeps
	// everyone with a non-zero balance.
	MinBalance *big.Int
}

// Entry is one holder's row in the cap table.
type Entry struct {
	Rank    int    `json:"rank"`
	Holder  string `json:"holder"`
	Balance string `json:"balance"`
	Decimal string `json:"decimal"`
	Percent float64 `json:"percent"`
}

// Table is a cap table snapshot for one token.
type Table struct {
	Network      string    `json:"network"`
	Token        string    `json:"token"`
	Name         string    `json:"name"`
	Symbol       string    `json:"symbol"`
	Decimals     uint8     `json:"decimals"`
	TotalSupply  string    `json:"total_supply"`
	TotalTracked string    `json:"total_tracked"`
	EndBlock     uint64    `json:"end_block"`
	EndBlockTime time.Time `json:"end_block_time"`
	GeneratedAt  time.Time `json:"generated_at"`
	Holders      int       `json:"holders"`
	Entries      []Entry   `json:"entries"`
}

// Build assembles the cap table for token from the scan database. Percent is
// each holder's share of the tracked balance total, so filtered tables still
// sum the full population in the denominator.
func Build(ctx context.Context, store *sqlite.Store, network, token string, opts Options) (*Table, error) {
	st, err := store.GetStatus(ctx, network, token)
	if err != nil {
		return nil, fmt.Errorf("scan status for %s: %w", token, err)
	}

	balances, err := store.ListBalances(ctx, network, token)
	if err != nil {
		return nil, err
	}

	total := new(big.Int)
	for _, hb := range balances {
		total.Add(total, hb.Balance)
	}

	tbl := &Table{
		Network:      st.Network,
		Token:        st.Address,
		Name:         st.Name,
		Symbol:       st.Symbol,
		Decimals:     st.Decimals,
		TotalSupply:  st.TotalSupply.String(),
		TotalTracked: total.String(),
		EndBlock:     st.EndBlock,
		GeneratedAt:  time.Now().UTC(),
		Holders:      len(balances),
	}
	if len(balances) > 0 {
		tbl.EndBlockTime = balances[0].EndBlockTime
	}

	for i, hb := range balances {
		if opts.MinBalance != nil && hb.Balance.Cmp(opts.MinBalance) < 0 {
			// Balances arrive sorted descending, nothing further passes.
			break
		}
		if opts.TopN > 0 && len(tbl.Entries) >= opts.TopN {
			break
		}
		tbl.Entries = append(tbl.Entries, Entry{
			Rank:    i + 1,
			Holder:  hb.Holder,
			Balance: hb.Balance.String(),
			Decimal: FormatUnits(hb.Balance, st.Decimals),
			Percent: percentOf(hb.Balance, total),
		})
	}

	return tbl, nil
}

// Summary condenses a table into the headline numbers shown by the CLI and
// the status API.
type Summary struct {
	Token        string  `json:"token"`
	Symbol       string  `json:"symbol"`
	Holders      int     `json:"holders"`
	TotalTracked string  `json:"total_tracked"`
	TotalDecimal string  `json:"total_decimal"`
	EndBlock     uint64  `json:"end_block"`
	TopTenShare  float64 `json:"top_ten_share"`
}

// Summarize reduces a table to its Summary.
func Summarize(tbl *Table) Summary {
	s := Summary{
		Token:        tbl.Token,
		Symbol:       tbl.Symbol,
		Holders:      tbl.Holders,
		TotalTracked: tbl.TotalTracked,
		EndBlock:     tbl.EndBlock,
	}
	if v, ok := new(big.Int).SetString(tbl.TotalTracked, 10); ok {
		s.TotalDecimal = FormatUnits(v, tbl.Decimals)
	}
	for i, e := range tbl.Entries {
		if i >= 10 {
			break
		}
		s.TopTenShare += e.Percent
	}
	return s
}

func percentOf(part, total *big.Int) float64 {
	if total.Sign() == 0 {
		return 0
	}
	r := new(big.Rat).SetFrac(part, total)
	r.Mul(r, big.NewRat(100, 1))
	f, _ := r.Float64()
	return f
}
