package main

import (
	"context"
	"flag"
	"fmt"
	"math/big"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"

	"github.com/ethereum/go-ethereum/common"

	"github.com/tokenledger/stoscan/internal/captable"
	"github.com/tokenledger/stoscan/internal/config"
	"github.com/tokenledger/stoscan/internal/ethwatch"
	"github.com/tokenledger/stoscan/internal/jobs"
	"github.com/tokenledger/stoscan/internal/persistence/sqlite"
	"github.com/tokenledger/stoscan/internal/scanner"
)

// loadConfig resolves configuration the same way the daemon does so the CLI
// operates on the daemon's database by default.
func loadConfig(path string) (config.AppConfig, error) {
	return config.NewLoader(path, version).Load()
}

func openStore(cfg config.AppConfig) (*sqlite.Store, error) {
	return sqlite.OpenStore(cfg.DatabasePath, sqlite.DefaultConfig())
}

func dialChain(ctx context.Context, cfg config.AppConfig) (*ethwatch.CachedReader, *ethwatch.Client, error) {
	client, err := ethwatch.Dial(ctx, cfg.NodeURL, ethwatch.Options{RateLimit: cfg.RPCRateLimit})
	if err != nil {
		return nil, nil, err
	}
	cache, err := ethwatch.NewCachedReader(client, cfg.CachePath)
	if err != nil {
		client.Close()
		return nil, nil, err
	}
	return cache, client, nil
}

// dialSender connects without the timestamp cache, which broadcast does not need.
func dialSender(ctx context.Context, cfg config.AppConfig) (*ethwatch.Client, error) {
	return ethwatch.Dial(ctx, cfg.NodeURL, ethwatch.Options{RateLimit: cfg.RPCRateLimit})
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}

func parseToken(raw string) (common.Address, error) {
	if !common.IsHexAddress(raw) {
		return common.Address{}, fmt.Errorf("invalid token address %q", raw)
	}
	return common.HexToAddress(raw), nil
}

func runScan(args []string) error {
	fs := flag.NewFlagSet("scan", flag.ExitOnError)
	configPath := fs.String("config", "", "path to config file (YAML)")
	token := fs.String("token", "", "scan only this token (default: all configured)")
	_ = fs.Parse(args)

	cfg, err := loadConfig(*configPath)
	if err != nil {
		return err
	}
	if *token != "" {
		if _, err := parseToken(*token); err != nil {
			return err
		}
		cfg.Tokens = []string{*token}
	}

	ctx, stop := signalContext()
	defer stop()

	store, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	chain, client, err := dialChain(ctx, cfg)
	if err != nil {
		return err
	}
	defer client.Close()
	defer chain.Close()

	status, err := jobs.Scan(ctx, jobs.Config{
		Network:       cfg.Network,
		Tokens:        cfg.Tokens,
		ChunkSize:     cfg.ChunkSize,
		Confirmations: cfg.Confirmations,
		StartBlock:    cfg.StartBlock,
	}, store, chain)
	if err != nil {
		return err
	}

	fmt.Printf("scanned %d token(s): %d blocks, %d events, %d holders touched\n",
		status.Tokens, status.Blocks, status.Events, status.Holders)
	return nil
}

func runRescan(args []string) error {
	fs := flag.NewFlagSet("rescan", flag.ExitOnError)
	configPath := fs.String("config", "", "path to config file (YAML)")
	token := fs.String("token", "", "token address (required)")
	from := fs.Uint64("from", 0, "first block to re-ingest (required)")
	_ = fs.Parse(args)

	cfg, err := loadConfig(*configPath)
	if err != nil {
		return err
	}
	addr, err := parseToken(*token)
	if err != nil {
		return err
	}
	if *from == 0 {
		return fmt.Errorf("-from is required")
	}

	ctx, stop := signalContext()
	defer stop()

	store, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	chain, client, err := dialChain(ctx, cfg)
	if err != nil {
		return err
	}
	defer client.Close()
	defer chain.Close()

	sc := scanner.New(store, chain, scanner.Options{
		Network:       cfg.Network,
		ChunkSize:     cfg.ChunkSize,
		Confirmations: cfg.Confirmations,
		StartBlock:    cfg.StartBlock,
	})
	if err := sc.Rescan(ctx, addr, *from); err != nil {
		return err
	}

	fmt.Printf("rewound %s to block %d, run \"stoscan scan\" to re-ingest\n", addr.Hex(), *from)
	return nil
}

func runStatus(args []string) error {
	fs := flag.NewFlagSet("status", flag.ExitOnError)
	configPath := fs.String("config", "", "path to config file (YAML)")
	_ = fs.Parse(args)

	cfg, err := loadConfig(*configPath)
	if err != nil {
		return err
	}

	store, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	statuses, err := store.ListStatuses(context.Background(), cfg.Network)
	if err != nil {
		return err
	}
	if len(statuses) == 0 {
		fmt.Println("no tokens scanned yet")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "TOKEN\tSYMBOL\tDECIMALS\tSTART\tEND\tUPDATED")
	for _, st := range statuses {
		fmt.Fprintf(w, "%s\t%s\t%d\t%d\t%d\t%s\n",
			st.Address, st.Symbol, st.Decimals, st.StartBlock, st.EndBlock,
			st.UpdatedAt.Format("2006-01-02 15:04:05"))
	}
	return w.Flush()
}

func runCapTable(args []string) error {
	fs := flag.NewFlagSet("captable", flag.ExitOnError)
	configPath := fs.String("config", "", "path to config file (YAML)")
	token := fs.String("token", "", "token address (required)")
	top := fs.Int("top", 0, "keep only the N largest holders")
	min := fs.String("min", "", "drop holders below this raw balance")
	jsonOut := fs.String("json", "", "write the table as JSON to this path")
	csvOut := fs.String("csv", "", "write the table as CSV to this path")
	_ = fs.Parse(args)

	cfg, err := loadConfig(*configPath)
	if err != nil {
		return err
	}
	addr, err := parseToken(*token)
	if err != nil {
		return err
	}

	opts := captable.Options{TopN: *top}
	if *min != "" {
		m, ok := new(big.Int).SetString(*min, 10)
		if !ok {
			return fmt.Errorf("invalid -min value %q", *min)
		}
		opts.MinBalance = m
	}

	store, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	tbl, err := captable.Build(context.Background(), store, cfg.Network, addr.Hex(), opts)
	if err != nil {
		return err
	}

	if *jsonOut != "" {
		if err := captable.WriteJSON(tbl, *jsonOut); err != nil {
			return err
		}
		fmt.Printf("wrote %s\n", *jsonOut)
	}
	if *csvOut != "" {
		if err := captable.WriteCSV(tbl, *csvOut); err != nil {
			return err
		}
		fmt.Printf("wrote %s\n", *csvOut)
	}
	if *jsonOut != "" || *csvOut != "" {
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintf(w, "%s (%s), %d holders, block %d\n", tbl.Name, tbl.Symbol, tbl.Holders, tbl.EndBlock)
	fmt.Fprintln(w, "RANK\tHOLDER\tBALANCE\tPERCENT")
	for _, e := range tbl.Entries {
		fmt.Fprintf(w, "%d\t%s\t%s\t%.4f\n", e.Rank, e.Holder, e.Decimal, e.Percent)
	}
	return w.Flush()
}

func runSummary(args []string) error {
	fs := flag.NewFlagSet("summary", flag.ExitOnError)
	configPath := fs.String("config", "", "path to config file (YAML)")
	token := fs.String("token", "", "token address (required)")
	_ = fs.Parse(args)

	cfg, err := loadConfig(*configPath)
	if err != nil {
		return err
	}
	addr, err := parseToken(*token)
	if err != nil {
		return err
	}

	store, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	tbl, err := captable.Build(context.Background(), store, cfg.Network, addr.Hex(), captable.Options{})
	if err != nil {
		return err
	}
	sum := captable.Summarize(tbl)

	fmt.Printf("token:         %s (%s)\n", sum.Token, sum.Symbol)
	fmt.Printf("holders:       %d\n", sum.Holders)
	fmt.Printf("tracked total: %s (%s raw)\n", sum.TotalDecimal, sum.TotalTracked)
	fmt.Printf("end block:     %d\n", sum.EndBlock)
	fmt.Printf("top-10 share:  %.2f%%\n", sum.TopTenShare)
	return nil
}

func runHolders(args []string) error {
	fs := flag.NewFlagSet("holders", flag.ExitOnError)
	configPath := fs.String("config", "", "path to config file (YAML)")
	token := fs.String("token", "", "token address (required)")
	_ = fs.Parse(args)

	cfg, err := loadConfig(*configPath)
	if err != nil {
		return err
	}
	addr, err := parseToken(*token)
	if err != nil {
		return err
	}

	store, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	balances, err := store.ListBalances(context.Background(), cfg.Network, addr.Hex())
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "HOLDER\tBALANCE\tBLOCK")
	for _, hb := range balances {
		fmt.Fprintf(w, "%s\t%s\t%d\n", hb.Holder, hb.Balance, hb.EndBlock)
	}
	return w.Flush()
}

func runVerify(args []string) error {
	fs := flag.NewFlagSet("verify", flag.ExitOnError)
	configPath := fs.String("config", "", "path to config file (YAML)")
	full := fs.Bool("full", false, "run the full integrity check instead of the quick one")
	_ = fs.Parse(args)

	cfg, err := loadConfig(*configPath)
	if err != nil {
		return err
	}

	mode := "quick"
	if *full {
		mode = "full"
	}
	problems, err := sqlite.VerifyIntegrity(cfg.DatabasePath, mode)
	if err != nil {
		return err
	}
	if len(problems) > 0 {
		for _, p := range problems {
			fmt.Fprintln(os.Stderr, p)
		}
		return fmt.Errorf("database failed %s integrity check (%d problem(s))", mode, len(problems))
	}
	fmt.Println("database integrity ok")
	return nil
}
