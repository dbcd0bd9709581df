package http

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"github.com/radieske/price-duel/internal/bet-service/dto"
	"github.com/radieske/price-duel/internal/bet-service/engine"
	"github.com/radieske/price-duel/internal/bet-service/store"
	"github.com/radieske/price-duel/internal/wager"
)

// BetCache é o cache de leitura de apostas (Redis em produção)
type BetCache interface {
	Get(ctx context.Context, id uint64) (*wager.Bet, bool, error)
	Generation(ctx context.Context, id uint64) (int64, error)
	SetIfCurrent(ctx context.Context, bet *wager.Bet, gen int64) (bool, error)
}

// Server expõe as operações do engine e as consultas de apostas e carteiras
type Server struct {
	log   *zap.Logger
	eng   *engine.Engine
	store store.Store
	cache BetCache     // opcional
	ws    http.Handler // opcional: /ws

	// CORSOrigins vazio libera qualquer origem
	CORSOrigins []string
}

func NewServer(log *zap.Logger, eng *engine.Engine, s store.Store, c BetCache, ws http.Handler) *Server {
	return &Server{log: log, eng: eng, store: s, cache: c, ws: ws}
}

func (s *Server) Router() http.Handler {
	origins := s.CORSOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}

	r := chi.NewRouter()
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(s.accessLog)
	r.Use(chimiddleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	}))

	r.Post("/v1/master", s.createMaster)
	r.Get("/v1/master", s.getMaster)

	r.Post("/v1/bets", s.createBet)
	r.Get("/v1/bets", s.listBets)
	r.Get("/v1/bets/{id}", s.getBet)
	r.Post("/v1/bets/{id}/enter", s.enterBet)
	r.Post("/v1/bets/{id}/claim", s.claimBet)
	r.Post("/v1/bets/{id}/close", s.closeBet)

	r.Get("/v1/wallets/{player}", s.getWallet)
	r.Post("/v1/wallets/{player}/deposit", s.deposit)

	if s.ws != nil {
		r.Handle("/ws", s.ws)
	}
	return r
}

// accessLog registra cada requisição em nível debug
func (s *Server) accessLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := chimiddleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.log.Debug("http request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("took", time.Since(start)),
			zap.String("request_id", chimiddleware.GetReqID(r.Context())),
		)
	})
}

func (s *Server) createMaster(w http.ResponseWriter, r *http.Request) {
	if err := s.eng.CreateMaster(r.Context()); err != nil {
		s.writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, dto.MasterResponse{LastBetID: 0})
}

func (s *Server) getMaster(w http.ResponseWriter, r *http.Request) {
	last, err := s.store.LastBetID(r.Context())
	if err != nil {
		s.writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, dto.MasterResponse{LastBetID: last})
}

func (s *Server) createBet(w http.ResponseWriter, r *http.Request) {
	var req dto.CreateBetRequest
	if !decode(w, r, &req) {
		return
	}
	bet, err := s.eng.CreateBet(r.Context(), req.Player, req.Amount, req.Price, req.DurationSeconds, req.OracleKey)
	if err != nil {
		s.writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, bet)
}

func (s *Server) listBets(w http.ResponseWriter, r *http.Request) {
	bets, err := s.store.ListBets(r.Context())
	if err != nil {
		s.writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, bets)
}

// getBet consulta primeiro o cache; o engine invalida a chave a cada transição
func (s *Server) getBet(w http.ResponseWriter, r *http.Request) {
	id, ok := betID(w, r)
	if !ok {
		return
	}
	gen := int64(-1)
	if s.cache != nil {
		if b, hit, err := s.cache.Get(r.Context(), id); err == nil && hit {
			writeJSON(w, http.StatusOK, b)
			return
		}
		g, err := s.cache.Generation(r.Context(), id)
		if err != nil {
			s.log.Warn("cache generation failed", zap.Uint64("bet_id", id), zap.Error(err))
		} else {
			gen = g
		}
	}
	bet, err := s.store.GetBet(r.Context(), id)
	if err != nil {
		s.writeErr(w, err)
		return
	}
	// sem geração conhecida não dá para provar que o snapshot é atual
	if gen >= 0 {
		if _, err := s.cache.SetIfCurrent(r.Context(), bet, gen); err != nil {
			s.log.Warn("cache set failed", zap.Uint64("bet_id", id), zap.Error(err))
		}
	}
	writeJSON(w, http.StatusOK, bet)
}

func (s *Server) enterBet(w http.ResponseWriter, r *http.Request) {
	id, ok := betID(w, r)
	if !ok {
		return
	}
	var req dto.EnterBetRequest
	if !decode(w, r, &req) {
		return
	}
	bet, err := s.eng.EnterBet(r.Context(), id, req.Player, req.Price)
	if err != nil {
		s.writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, bet)
}

func (s *Server) claimBet(w http.ResponseWriter, r *http.Request) {
	id, ok := betID(w, r)
	if !ok {
		return
	}
	var req dto.ClaimBetRequest
	if !decode(w, r, &req) {
		return
	}
	bet, err := s.eng.ClaimBet(r.Context(), id, req.OracleAccount)
	if err != nil {
		s.writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, bet)
}

func (s *Server) closeBet(w http.ResponseWriter, r *http.Request) {
	id, ok := betID(w, r)
	if !ok {
		return
	}
	var req dto.CloseBetRequest
	if !decode(w, r, &req) {
		return
	}
	if err := s.eng.CloseBet(r.Context(), id, req.Player); err != nil {
		s.writeErr(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) getWallet(w http.ResponseWriter, r *http.Request) {
	player := chi.URLParam(r, "player")
	bal, err := s.store.Balance(r.Context(), player)
	if err != nil {
		s.writeErr(w, err)
		return
	}
	entries, err := s.store.Ledger(r.Context(), player)
	if err != nil {
		s.writeErr(w, err)
		return
	}
	resp := dto.WalletResponse{Player: player, Balance: bal}
	for _, e := range entries {
		resp.Ledger = append(resp.Ledger, dto.LedgerEntry{
			ID:        e.ID,
			Operation: e.Operation,
			Amount:    e.Amount,
			BetID:     e.BetID,
			CreatedAt: e.CreatedAt,
		})
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) deposit(w http.ResponseWriter, r *http.Request) {
	player := chi.URLParam(r, "player")
	var req dto.DepositRequest
	if !decode(w, r, &req) {
		return
	}
	if req.Amount > math.MaxInt64/2 {
		s.writeErr(w, wager.ErrInvalidAmount)
		return
	}
	bal, err := s.store.Deposit(r.Context(), player, req.Amount)
	if err != nil {
		s.writeErr(w, err)
		return
	}
	s.log.Info("deposit", zap.String("player", player), zap.Uint64("amount", req.Amount), zap.Int64("balance", bal))
	writeJSON(w, http.StatusOK, dto.WalletResponse{Player: player, Balance: bal})
}

// StatusFor traduz erros de domínio em status HTTP; o resto é 500
func StatusFor(err error) int {
	switch {
	case errors.Is(err, wager.ErrBetNotFound):
		return http.StatusNotFound
	case errors.Is(err, wager.ErrInsufficientFunds):
		return http.StatusPaymentRequired
	case errors.Is(err, wager.ErrInvalidPythKey),
		errors.Is(err, wager.ErrInvalidPythAccount),
		errors.Is(err, wager.ErrPriceTooBig):
		return http.StatusUnprocessableEntity
	case errors.Is(err, wager.ErrInvalidAmount),
		errors.Is(err, wager.ErrInvalidDuration),
		errors.Is(err, wager.ErrInvalidPlayer),
		errors.Is(err, wager.ErrInvalidPrice):
		return http.StatusBadRequest
	case errors.Is(err, wager.ErrCannotEnter),
		errors.Is(err, wager.ErrCannotClaim),
		errors.Is(err, wager.ErrCannotClose),
		errors.Is(err, wager.ErrIllegalTransition),
		errors.Is(err, wager.ErrMasterExists),
		errors.Is(err, wager.ErrMasterNotInitialized):
		return http.StatusConflict
	}
	return http.StatusInternalServerError
}

func (s *Server) writeErr(w http.ResponseWriter, err error) {
	status := StatusFor(err)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		s.log.Error("request failed", zap.Error(err))
		msg = "internal error"
	}
	writeJSON(w, status, dto.ErrorResponse{Error: msg})
}

func betID(w http.ResponseWriter, r *http.Request) (uint64, bool) {
	id, err := strconv.ParseUint(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, dto.ErrorResponse{Error: "invalid bet id"})
		return 0, false
	}
	return id, true
}

func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeJSON(w, http.StatusBadRequest, dto.ErrorResponse{Error: "bad json"})
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
