package main

import (
	"context"
	"flag"
	"fmt"
	"math/big"
	"os"

	"github.com/tokenledger/stoscan/internal/captable"
	"github.com/tokenledger/stoscan/internal/distribute"
)

func runDistribute(args []string) error {
	fs := flag.NewFlagSet("distribute", flag.ExitOnError)
	configPath := fs.String("config", "", "path to config file (YAML)")
	token := fs.String("token", "", "token address (required)")
	amount := fs.String("amount", "", "total raw amount to split pro-rata over holders")
	csvPath := fs.String("csv", "", "plan from a holder,amount CSV instead of pro-rata")
	_ = fs.Parse(args)

	cfg, err := loadConfig(*configPath)
	if err != nil {
		return err
	}
	addr, err := parseToken(*token)
	if err != nil {
		return err
	}
	if (*amount == "") == (*csvPath == "") {
		return fmt.Errorf("exactly one of -amount or -csv is required")
	}

	ctx := context.Background()

	store, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	var (
		kind   string
		shares []distribute.Share
	)
	if *csvPath != "" {
		f, err := os.Open(*csvPath)
		if err != nil {
			return err
		}
		shares, err = distribute.PlanFromCSV(f)
		f.Close()
		if err != nil {
			return err
		}
		kind = distribute.KindCSV
	} else {
		total, ok := new(big.Int).SetString(*amount, 10)
		if !ok {
			return fmt.Errorf("invalid -amount value %q", *amount)
		}
		tbl, err := captable.Build(ctx, store, cfg.Network, addr.Hex(), captable.Options{})
		if err != nil {
			return err
		}
		shares, err = distribute.PlanProRata(tbl, total)
		if err != nil {
			return err
		}
		kind = distribute.KindProRata
	}

	d, err := distribute.Create(ctx, store, cfg.Network, addr.Hex(), kind, shares)
	if err != nil {
		return err
	}

	fmt.Printf("planned %s distribution %s: %d entries, %s total\n",
		d.Kind, d.ID, len(shares), d.TotalAmount.String())
	fmt.Printf("broadcast with \"stoscan broadcast -id %s\"\n", d.ID)
	return nil
}

func runBroadcast(args []string) error {
	fs := flag.NewFlagSet("broadcast", flag.ExitOnError)
	configPath := fs.String("config", "", "path to config file (YAML)")
	id := fs.String("id", "", "distribution id (required)")
	keyFile := fs.String("key", "", "private key file (default: key_file from config)")
	_ = fs.Parse(args)

	cfg, err := loadConfig(*configPath)
	if err != nil {
		return err
	}
	if *id == "" {
		return fmt.Errorf("-id is required")
	}
	if *keyFile == "" {
		*keyFile = cfg.KeyFile
	}
	if *keyFile == "" {
		return fmt.Errorf("no key file: pass -key or set key_file in config")
	}

	key, err := distribute.LoadKey(*keyFile)
	if err != nil {
		return err
	}

	ctx, stop := signalContext()
	defer stop()

	store, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	client, err := dialSender(ctx, cfg)
	if err != nil {
		return err
	}
	defer client.Close()

	b := distribute.NewBroadcaster(client, key, cfg.GasLimit)
	sent, err := b.Broadcast(ctx, store, *id)
	if err != nil {
		return fmt.Errorf("broadcast stopped after %d transaction(s): %w", sent, err)
	}

	fmt.Printf("broadcast %d transaction(s) for distribution %s\n", sent, *id)
	return nil
}
