package daemon

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/tokenledger/stoscan/internal/api"
	"github.com/tokenledger/stoscan/internal/config"
	"github.com/tokenledger/stoscan/internal/ethwatch"
	"github.com/tokenledger/stoscan/internal/jobs"
	"github.com/tokenledger/stoscan/internal/persistence/sqlite"
)

// App owns the long-lived runtime lifecycle (the periodic scan loop and the
// on-demand trigger signal) and delegates server management to Manager.
type App struct {
	logger     zerolog.Logger
	manager    Manager
	cfg        config.AppConfig
	apiServer  *api.Server
	store      *sqlite.Store
	chain      ethwatch.ChainReader
	scanSignal os.Signal

	// InitialScan runs one scan cycle immediately on startup instead of
	// waiting a full interval.
	InitialScan bool

	// scanFn allows tests to stub the scan job; defaults to jobs.Scan.
	scanFn func(ctx context.Context, cfg jobs.Config) (*jobs.Status, error)
}

// NewApp creates a new App orchestrator.
func NewApp(logger zerolog.Logger, manager Manager, cfg config.AppConfig, apiServer *api.Server, store *sqlite.Store, chain ethwatch.ChainReader) *App {
	a := &App{
		logger:     logger,
		manager:    manager,
		cfg:        cfg,
		apiServer:  apiServer,
		store:      store,
		chain:      chain,
		scanSignal: syscall.SIGHUP,
	}
	a.scanFn = func(ctx context.Context, jcfg jobs.Config) (*jobs.Status, error) {
		return jobs.Scan(ctx, jcfg, a.store, a.chain)
	}
	return a
}

// Run starts all owned background subsystems and blocks until ctx is
// cancelled or a fatal error occurs.
func (a *App) Run(ctx context.Context) error {
	if a.manager == nil {
		return ErrMissingManager
	}

	g, ctx := errgroup.WithContext(ctx)

	// Periodic scan loop.
	if a.cfg.ScanInterval > 0 && len(a.cfg.Tokens) > 0 {
		g.Go(func() error {
			a.scanLoop(ctx)
			return nil
		})
	}

	// SIGHUP triggers an immediate scan cycle.
	if a.scanSignal != nil {
		g.Go(func() error {
			hupChan := make(chan os.Signal, 1)
			signal.Notify(hupChan, a.scanSignal)
			defer signal.Stop(hupChan)

			for {
				select {
				case <-ctx.Done():
					return nil
				case <-hupChan:
					a.logger.Info().
						Str("event", "scan.signal").
						Str("signal", a.scanSignal.String()).
						Msg("received signal, triggering scan cycle")
					a.runScan(ctx)
				}
			}
		})
	}

	// Main server lifecycle.
	g.Go(func() error {
		err := a.manager.Start(ctx)
		if err != nil {
			_ = a.manager.Shutdown(context.Background())
		}
		return err
	})

	return g.Wait()
}

func (a *App) scanLoop(ctx context.Context) {
	if a.InitialScan {
		a.runScan(ctx)
	}

	ticker := time.NewTicker(a.cfg.ScanInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			a.runScan(ctx)
		}
	}
}

// runScan executes one scan cycle and feeds the outcome to the API server.
// Errors are recorded, not fatal: a flaky node must not take the daemon down.
// The cycle goes through the API server's scan guard, so a periodic or
// signal-triggered run never overlaps an HTTP-triggered one.
func (a *App) runScan(ctx context.Context) {
	jcfg := jobs.Config{
		Network:       a.cfg.Network,
		Tokens:        a.cfg.Tokens,
		ChunkSize:     a.cfg.ChunkSize,
		Confirmations: a.cfg.Confirmations,
		StartBlock:    a.cfg.StartBlock,
	}

	var (
		status *jobs.Status
		err    error
	)
	if a.apiServer != nil {
		status, err = a.apiServer.RunScan(ctx, jcfg)
		if errors.Is(err, api.ErrScanBusy) {
			a.logger.Info().
				Str("event", "scan_cycle.skipped").
				Msg("scan already running, skipping cycle")
			return
		}
	} else {
		status, err = a.scanFn(ctx, jcfg)
	}
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		a.logger.Error().
			Err(err).
			Str("event", "scan_cycle.failed").
			Msg("scan cycle failed")
		if a.apiServer != nil {
			a.apiServer.SetStatus(jobs.Status{LastRun: time.Now().UTC(), Error: err.Error()})
		}
		return
	}

	if a.apiServer != nil {
		a.apiServer.SetStatus(*status)
	}
}
