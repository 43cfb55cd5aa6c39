// Package server exposes the sale status and the mint action over HTTP.
package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"candy-mint/internal/candymachine"
	"candy-mint/internal/mint"
	"candy-mint/internal/observability"
	"candy-mint/internal/sale"
	"candy-mint/internal/wallet"
)

// Config for the HTTP handler.
type Config struct {
	Workflow *mint.Workflow
	Wallet   wallet.Wallet
	Program  candymachine.ProgramConfig
	Logger   *zap.Logger
	// Metrics serves /metrics; defaults to observability.Handler.
	Metrics http.Handler
}

type apiErrorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type apiError struct {
	Body apiErrorBody `json:"error"`
}

// SaleResponse is the JSON body of GET /api/sale.
type SaleResponse struct {
	sale.Status
	Remaining uint64  `json:"remaining"`
	CanMint   bool    `json:"canMint"`
	Wallet    string  `json:"wallet,omitempty"`
	Balance   *uint64 `json:"balance,omitempty"`
	Pending   bool    `json:"pending"`
}

type handler struct {
	cfg    Config
	logger *zap.Logger
}

// New returns an HTTP handler exposing the mint API.
func New(cfg Config) http.Handler {
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.Metrics == nil {
		cfg.Metrics = observability.Handler()
	}
	h := &handler{cfg: cfg, logger: cfg.Logger.Named("http")}

	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middleware.Recoverer)
	router.Use(h.accessLog)

	router.Get("/healthz", h.health)
	router.Handle("/metrics", cfg.Metrics)
	router.Route("/api", func(r chi.Router) {
		r.Get("/sale", h.saleStatus)
		r.Post("/mint", h.mint)
	})
	return router
}

func (h *handler) accessLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		h.logger.Debug("request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("elapsed", time.Since(start)),
			zap.String("request_id", middleware.GetReqID(r.Context())),
		)
	})
}

func (h *handler) health(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
}

func (h *handler) saleStatus(w http.ResponseWriter, _ *http.Request) {
	status := h.cfg.Workflow.Syncer().Model().Status()
	resp := SaleResponse{
		Status:    status,
		Remaining: status.Counters.Remaining(),
		CanMint:   h.cfg.Workflow.Syncer().Model().CanMint(),
	}
	if wallet.Connected(h.cfg.Wallet) {
		key := h.cfg.Wallet.PublicKey()
		resp.Wallet = wallet.ShortenAddress(key.ToBase58(), 4)
		if lamports, ok := h.cfg.Workflow.Balance(key); ok {
			resp.Balance = &lamports
		}
		resp.Pending = h.cfg.Workflow.Pending(key)
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *handler) mint(w http.ResponseWriter, r *http.Request) {
	out, err := h.cfg.Workflow.AttemptMint(r.Context(), h.cfg.Wallet, h.cfg.Program)
	switch {
	case errors.Is(err, mint.ErrWalletDisconnected):
		writeError(w, http.StatusPreconditionFailed, "wallet_disconnected", err)
		return
	case errors.Is(err, mint.ErrSoldOut):
		writeError(w, http.StatusGone, "sold_out", err)
		return
	case errors.Is(err, mint.ErrNotLive):
		writeError(w, http.StatusTooEarly, "not_live", err)
		return
	case errors.Is(err, mint.ErrAttemptPending):
		writeError(w, http.StatusConflict, "attempt_pending", err)
		return
	case err != nil:
		h.logger.Error("mint request failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal", err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, code string, err error) {
	writeJSON(w, status, apiError{Body: apiErrorBody{Code: code, Message: err.Error()}})
}
