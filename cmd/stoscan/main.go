// Command stoscan is the operator CLI: it scans tokens, builds cap tables
// and plans/broadcasts distributions against the same database and
// configuration the daemon uses.
package main

import (
	"fmt"
	"os"

	stolog "github.com/tokenledger/stoscan/internal/log"
)

var (
	version   = "v0.3.0"
	commit    = "none"
	buildDate = "unknown"
)

const usage = `Usage: stoscan <command> [flags]

Commands:
  scan        scan configured tokens up to the confirmed head
  rescan      rewind a token and re-ingest its history
  status      show per-token scan status
  captable    build a cap table and print or export it
  summary     print the headline cap table numbers for a token
  holders     list holders of a token, largest first
  distribute  plan a distribution (pro-rata or from a CSV)
  broadcast   sign and send a planned distribution
  verify      check database integrity
  version     print version information

Run "stoscan <command> -h" for command flags.
`

func main() {
	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}

	stolog.Configure(stolog.Config{
		Level:   "warn", // CLI output stays clean unless asked
		Service: "stoscan",
		Version: version,
	})

	var err error
	switch os.Args[1] {
	case "scan":
		err = runScan(os.Args[2:])
	case "rescan":
		err = runRescan(os.Args[2:])
	case "status":
		err = runStatus(os.Args[2:])
	case "captable":
		err = runCapTable(os.Args[2:])
	case "summary":
		err = runSummary(os.Args[2:])
	case "holders":
		err = runHolders(os.Args[2:])
	case "distribute":
		err = runDistribute(os.Args[2:])
	case "broadcast":
		err = runBroadcast(os.Args[2:])
	case "verify":
		err = runVerify(os.Args[2:])
	case "version":
		fmt.Printf("%s (commit: %s, built: %s)\n", version, commit, buildDate)
	case "-h", "--help", "help":
		fmt.Print(usage)
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n%s", os.Args[1], usage)
		os.Exit(2)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "stoscan: %v\n", err)
		os.Exit(1)
	}
}
