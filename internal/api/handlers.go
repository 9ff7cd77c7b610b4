package api

import (
	"errors"
	"math/big"
	"net/http"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/go-chi/chi/v5"

	"github.com/tokenledger/stoscan/internal/captable"
	"github.com/tokenledger/stoscan/internal/jobs"
	"github.com/tokenledger/stoscan/internal/log"
	"github.com/tokenledger/stoscan/internal/persistence/sqlite"
	"github.com/tokenledger/stoscan/internal/scanner"
)

type statusResponse struct {
	Version  string      `json:"version"`
	Network  string      `json:"network"`
	Uptime   string      `json:"uptime"`
	Tokens   []string    `json:"tokens"`
	LastScan jobs.Status `json:"last_scan"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	s.mu.RLock()
	resp := statusResponse{
		Version:  s.cfg.Version,
		Network:  s.cfg.Network,
		Uptime:   time.Since(s.startTime).Round(time.Second).String(),
		Tokens:   s.cfg.Tokens,
		LastScan: s.status,
	}
	s.mu.RUnlock()

	writeJSON(w, http.StatusOK, resp)
}

type tokenResponse struct {
	Address     string `json:"address"`
	Name        string `json:"name"`
	Symbol      string `json:"symbol"`
	Decimals    uint8  `json:"decimals"`
	TotalSupply string `json:"total_supply"`
	StartBlock  uint64 `json:"start_block"`
	EndBlock    uint64 `json:"end_block"`
	Holders     int    `json:"holders"`
	UpdatedAt   string `json:"updated_at"`
}

func (s *Server) tokenResponse(r *http.Request, st sqlite.ScanStatus) tokenResponse {
	holders, err := s.store.HolderCount(r.Context(), st.Network, st.Address)
	if err != nil {
		log.FromContext(r.Context()).Error().Err(err).
			Str("event", "api.holder_count_failed").
			Str("token", st.Address).
			Msg("holder count query failed")
	}
	return tokenResponse{
		Address:     st.Address,
		Name:        st.Name,
		Symbol:      st.Symbol,
		Decimals:    st.Decimals,
		TotalSupply: st.TotalSupply.String(),
		StartBlock:  st.StartBlock,
		EndBlock:    st.EndBlock,
		Holders:     holders,
		UpdatedAt:   st.UpdatedAt.Format(time.RFC3339),
	}
}

func (s *Server) handleTokens(w http.ResponseWriter, r *http.Request) {
	statuses, err := s.store.ListStatuses(r.Context(), s.cfg.Network)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "token listing failed")
		return
	}

	out := make([]tokenResponse, 0, len(statuses))
	for _, st := range statuses {
		out = append(out, s.tokenResponse(r, st))
	}
	writeJSON(w, http.StatusOK, out)
}

// tokenParam validates the {address} path parameter. A malformed address is
// reported as 400 rather than a guaranteed-empty lookup.
func tokenParam(w http.ResponseWriter, r *http.Request) (string, bool) {
	address := chi.URLParam(r, "address")
	if !common.IsHexAddress(address) {
		writeError(w, http.StatusBadRequest, "invalid token address")
		return "", false
	}
	return common.HexToAddress(address).Hex(), true
}

func (s *Server) handleToken(w http.ResponseWriter, r *http.Request) {
	address, ok := tokenParam(w, r)
	if !ok {
		return
	}

	st, err := s.store.GetStatus(r.Context(), s.cfg.Network, address)
	if errors.Is(err, sqlite.ErrNotFound) {
		writeNotFound(w)
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "token lookup failed")
		return
	}
	writeJSON(w, http.StatusOK, s.tokenResponse(r, *st))
}

func (s *Server) handleCapTable(w http.ResponseWriter, r *http.Request) {
	address, ok := tokenParam(w, r)
	if !ok {
		return
	}

	opts := captable.Options{}
	if v := r.URL.Query().Get("top"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			writeError(w, http.StatusBadRequest, "invalid top parameter")
			return
		}
		opts.TopN = n
	}
	if v := r.URL.Query().Get("min"); v != "" {
		m, okMin := new(big.Int).SetString(v, 10)
		if !okMin || m.Sign() < 0 {
			writeError(w, http.StatusBadRequest, "invalid min parameter")
			return
		}
		opts.MinBalance = m
	}

	tbl, err := captable.Build(r.Context(), s.store, s.cfg.Network, address, opts)
	if errors.Is(err, sqlite.ErrNotFound) {
		writeNotFound(w)
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "cap table build failed")
		return
	}
	writeJSON(w, http.StatusOK, tbl)
}

type holderResponse struct {
	Holder   string `json:"holder"`
	Balance  string `json:"balance"`
	EndBlock uint64 `json:"end_block"`
}

func (s *Server) handleHolders(w http.ResponseWriter, r *http.Request) {
	address, ok := tokenParam(w, r)
	if !ok {
		return
	}

	if _, err := s.store.GetStatus(r.Context(), s.cfg.Network, address); err != nil {
		if errors.Is(err, sqlite.ErrNotFound) {
			writeNotFound(w)
			return
		}
		writeError(w, http.StatusInternalServerError, "token lookup failed")
		return
	}

	balances, err := s.store.ListBalances(r.Context(), s.cfg.Network, address)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "holder listing failed")
		return
	}

	out := make([]holderResponse, 0, len(balances))
	for _, hb := range balances {
		out = append(out, holderResponse{
			Holder:   hb.Holder,
			Balance:  hb.Balance.String(),
			EndBlock: hb.EndBlock,
		})
	}
	writeJSON(w, http.StatusOK, out)
}

// handleScan triggers one scan cycle through the shared guard, so it cannot
// overlap with the daemon's periodic or signal-triggered cycles either.
func (s *Server) handleScan(w http.ResponseWriter, r *http.Request) {
	jcfg := jobs.Config{
		Network:       s.cfg.Network,
		Tokens:        s.cfg.Tokens,
		ChunkSize:     s.cfg.ChunkSize,
		Confirmations: s.cfg.Confirmations,
		StartBlock:    s.cfg.StartBlock,
	}

	status, err := s.RunScan(r.Context(), jcfg)
	if errors.Is(err, ErrScanBusy) {
		writeError(w, http.StatusConflict, err.Error())
		return
	}
	if err != nil {
		s.SetStatus(jobs.Status{LastRun: time.Now().UTC(), Error: err.Error()})
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}

	s.SetStatus(*status)
	writeJSON(w, http.StatusOK, status)
}

// handleRescan rewinds a token to the given block so history from there on
// is re-ingested by the next scan.
func (s *Server) handleRescan(w http.ResponseWriter, r *http.Request) {
	address, ok := tokenParam(w, r)
	if !ok {
		return
	}

	fromStr := r.URL.Query().Get("from")
	from, err := strconv.ParseUint(fromStr, 10, 64)
	if fromStr == "" || err != nil {
		writeError(w, http.StatusBadRequest, "missing or invalid from parameter")
		return
	}

	if !s.scanning.CompareAndSwap(false, true) {
		writeError(w, http.StatusConflict, "scan already running")
		return
	}
	defer s.scanning.Store(false)

	s.mu.RLock()
	opts := scanner.Options{
		Network:       s.cfg.Network,
		ChunkSize:     s.cfg.ChunkSize,
		Confirmations: s.cfg.Confirmations,
		StartBlock:    s.cfg.StartBlock,
	}
	s.mu.RUnlock()

	sc := scanner.New(s.store, s.chain, opts)
	if err := sc.Rescan(r.Context(), common.HexToAddress(address), from); err != nil {
		if errors.Is(err, sqlite.ErrNotFound) {
			writeNotFound(w)
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"token": address,
		"from":  from,
	})
}
