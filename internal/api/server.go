// Package api provides the HTTP surface of the daemon: scan status, cap
// tables and holder lists, plus a trigger for on-demand scans.
package api

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/tokenledger/stoscan/internal/config"
	"github.com/tokenledger/stoscan/internal/ethwatch"
	"github.com/tokenledger/stoscan/internal/health"
	"github.com/tokenledger/stoscan/internal/jobs"
	"github.com/tokenledger/stoscan/internal/persistence/sqlite"

	mw "github.com/tokenledger/stoscan/internal/api/middleware"
)

// Server represents the HTTP API server.
type Server struct {
	mu       sync.RWMutex
	scanning atomic.Bool // serialize on-demand scans
	cfg      config.AppConfig
	store    *sqlite.Store
	chain    ethwatch.ChainReader
	status   jobs.Status
	hm       *health.Manager

	// scanFn allows tests to stub the scan job; defaults to jobs.Scan.
	scanFn func(ctx context.Context, cfg jobs.Config) (*jobs.Status, error)

	startTime time.Time
}

// New creates the API server.
func New(cfg config.AppConfig, store *sqlite.Store, chain ethwatch.ChainReader, hm *health.Manager) *Server {
	s := &Server{
		cfg:       cfg,
		store:     store,
		chain:     chain,
		hm:        hm,
		startTime: time.Now(),
	}
	s.scanFn = func(ctx context.Context, jcfg jobs.Config) (*jobs.Status, error) {
		return jobs.Scan(ctx, jcfg, s.store, s.chain)
	}
	return s
}

// ErrScanBusy is returned when a scan cycle is already running.
var ErrScanBusy = errors.New("scan already running")

// RunScan executes one scan cycle under the serialization guard shared by
// every trigger (HTTP, periodic loop, SIGHUP). The scanner's per-chunk
// commits make parallel runs over the same token rows a write conflict, not
// a speedup, so a second trigger gets ErrScanBusy instead.
func (s *Server) RunScan(ctx context.Context, jcfg jobs.Config) (*jobs.Status, error) {
	if !s.scanning.CompareAndSwap(false, true) {
		return nil, ErrScanBusy
	}
	defer s.scanning.Store(false)
	return s.scanFn(ctx, jcfg)
}

// SetStatus records the outcome of the latest scan cycle, from the daemon's
// periodic loop or an on-demand trigger.
func (s *Server) SetStatus(st jobs.Status) {
	s.mu.Lock()
	s.status = st
	s.mu.Unlock()
}

// Status returns the last recorded scan status.
func (s *Server) Status() jobs.Status {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.status
}

// LastScan reports the last run time and error for the readiness checker.
func (s *Server) LastScan() (time.Time, string) {
	st := s.Status()
	return st.LastRun, st.Error
}

// Router assembles the full route tree with middleware.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(mw.RequestLogger)
	r.Use(mw.APIRateLimit())

	r.Get("/healthz", s.hm.ServeHealth)
	r.Get("/readyz", s.hm.ServeReady)

	r.Route("/api", func(r chi.Router) {
		r.Get("/status", s.handleStatus)
		r.Get("/tokens", s.handleTokens)
		r.Get("/tokens/{address}", s.handleToken)
		r.Get("/tokens/{address}/captable", s.handleCapTable)
		r.Get("/tokens/{address}/holders", s.handleHolders)

		r.Group(func(r chi.Router) {
			r.Use(s.authMiddleware)
			r.Use(mw.ScanRateLimit())
			r.Post("/scan", s.handleScan)
			r.Post("/tokens/{address}/rescan", s.handleRescan)
		})
	})

	return r
}
