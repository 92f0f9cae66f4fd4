package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"dumpit/internal/config"
	"dumpit/internal/game"
	"dumpit/internal/oracle"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

type Server struct {
	cfg    config.APIConfig
	log    *slog.Logger
	ledger *game.Ledger
	engine *game.Engine
	annals *game.Annals
	mux    *chi.Mux
}

func New(cfg config.APIConfig, logger *slog.Logger, ledger *game.Ledger, engine *game.Engine, annals *game.Annals) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		cfg:    cfg,
		log:    logger,
		ledger: ledger,
		engine: engine,
		annals: annals,
		mux:    chi.NewRouter(),
	}
	s.routes()
	return s
}

func (s *Server) Handler() http.Handler {
	return s.mux
}

func (s *Server) routes() {
	r := s.mux
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
	})

	r.Route("/v1", func(r chi.Router) {
		r.Post("/players", s.handleCreatePlayer)
		r.Get("/players/{id}/balance", s.handleBalance)
		r.Get("/players/{id}/portfolio", s.handlePortfolio)
		r.Get("/players/{id}/transactions", s.handleTransactions)
		r.Post("/orders", s.handleOrder)
		r.Get("/leaderboard", s.handleLeaderboard)
		r.Get("/annals/{year}", s.handleAnnals)
		r.Post("/ceremony", s.handleCeremony)
	})
}

func (s *Server) handleCreatePlayer(w http.ResponseWriter, r *http.Request) {
	var in struct {
		ID          string `json:"id"`
		DisplayName string `json:"display_name"`
	}
	if err := decodeJSON(r, &in); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	account, err := s.ledger.CreateAccount(r.Context(), in.ID, in.DisplayName)
	if errors.Is(err, game.ErrAlreadyExists) {
		writeJSON(w, http.StatusOK, map[string]any{"account": account, "created": false})
		return
	}
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"account": account, "created": true})
}

func (s *Server) handleBalance(w http.ResponseWriter, r *http.Request) {
	account, err := s.ledger.Account(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"account_id":    account.ID,
		"display_name":  account.DisplayName,
		"balance_cents": account.BalanceCents,
		"balance":       game.Dollars(account.BalanceCents),
	})
}

func (s *Server) handlePortfolio(w http.ResponseWriter, r *http.Request) {
	out, err := s.ledger.ValuePortfolio(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleTransactions(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	out, err := s.ledger.Transactions(r.Context(), chi.URLParam(r, "id"),
		q.Get("timeframe"), q.Get("sort"), q.Get("order"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"transactions": out})
}

func (s *Server) handleOrder(w http.ResponseWriter, r *http.Request) {
	var in struct {
		AccountID string `json:"account_id"`
		Symbol    string `json:"symbol"`
		Side      string `json:"side"`
		Shares    int64  `json:"shares"`
	}
	if err := decodeJSON(r, &in); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	switch strings.ToLower(strings.TrimSpace(in.Side)) {
	case "buy":
		out, err := s.ledger.Buy(r.Context(), in.AccountID, in.Symbol, in.Shares)
		if err != nil {
			writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, out)
	case "sell":
		out, err := s.ledger.Sell(r.Context(), in.AccountID, in.Symbol, in.Shares)
		if err != nil {
			writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, out)
	default:
		writeError(w, http.StatusBadRequest, "side must be buy or sell")
	}
}

func (s *Server) handleLeaderboard(w http.ResponseWriter, r *http.Request) {
	out, err := s.ledger.Leaderboard(r.Context())
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"rows": out})
}

func (s *Server) handleAnnals(w http.ResponseWriter, r *http.Request) {
	year, err := strconv.Atoi(chi.URLParam(r, "year"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "year must be an integer")
		return
	}
	out, err := s.annals.Results(r.Context(), year)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"year": year, "rankings": out})
}

func (s *Server) handleCeremony(w http.ResponseWriter, r *http.Request) {
	var in struct {
		Kind string `json:"kind"`
	}
	if err := decodeJSON(r, &in); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	out, err := s.engine.RunCeremony(r.Context(), in.Kind, time.Now())
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func writeDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, game.ErrNotFound), errors.Is(err, oracle.ErrSymbolNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, game.ErrInvalidSymbol),
		errors.Is(err, game.ErrInsufficientFunds),
		errors.Is(err, game.ErrInsufficientShares):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, oracle.ErrRateLimited):
		writeError(w, http.StatusTooManyRequests, err.Error())
	case errors.Is(err, game.ErrPreconditionFailed):
		writeError(w, http.StatusPreconditionFailed, err.Error())
	case errors.Is(err, game.ErrAlreadyExists), errors.Is(err, game.ErrTxConflict):
		writeError(w, http.StatusConflict, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

func decodeJSON(r *http.Request, out any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(out); err != nil {
		return err
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]any{"error": strings.TrimSpace(message)})
}
