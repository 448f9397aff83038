package poold

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"omnipool/native/pool"
	"omnipool/native/settlement/zklink"
	"omnipool/observability"
)

const maxBodyBytes = 1 << 20

// SettlementQueue exposes the deposits forwarded to the spot network.
type SettlementQueue interface {
	Count() (uint64, error)
	Deposit(seq uint64) (*zklink.Deposit, error)
}

// ServerConfig captures the dependencies required to construct the server.
type ServerConfig struct {
	Executor    *Executor
	Assets      pool.AssetLedger
	Resolver    AssetResolver
	Settlement  SettlementQueue
	Indexer     *Indexer
	Hub         *Hub
	Reconciler  *Reconciler
	Auth        *Authenticator
	Limiter     *RateLimiter
	Idempotency *IdempotencyStore
	Logger      *slog.Logger
}

// Server exposes the pool operations over JSON/HTTP.
type Server struct {
	executor    *Executor
	assets      pool.AssetLedger
	resolver    AssetResolver
	settlement  SettlementQueue
	indexer     *Indexer
	hub         *Hub
	reconciler  *Reconciler
	auth        *Authenticator
	limiter     *RateLimiter
	idempotency *IdempotencyStore
	logger      *slog.Logger
	metrics     *observability.APIMetrics

	router http.Handler
}

// NewServer constructs the HTTP router.
func NewServer(cfg ServerConfig) (*Server, error) {
	if cfg.Executor == nil {
		return nil, errors.New("poold: executor is required")
	}
	if cfg.Auth == nil {
		return nil, errors.New("poold: authenticator is required")
	}
	if cfg.Resolver == nil {
		cfg.Resolver = HexAssetResolver{}
	}
	if cfg.Limiter == nil {
		cfg.Limiter = NewRateLimiter(RateLimitConfig{})
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	srv := &Server{
		executor:    cfg.Executor,
		assets:      cfg.Assets,
		resolver:    cfg.Resolver,
		settlement:  cfg.Settlement,
		indexer:     cfg.Indexer,
		hub:         cfg.Hub,
		reconciler:  cfg.Reconciler,
		auth:        cfg.Auth,
		limiter:     cfg.Limiter,
		idempotency: cfg.Idempotency,
		logger:      cfg.Logger,
		metrics:     observability.API(),
	}
	srv.router = srv.buildRouter()
	return srv, nil
}

// Handler exposes the configured HTTP router.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)
	r.Use(s.instrument)

	r.Get("/healthz", s.handleHealth)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/v1", func(api chi.Router) {
		api.Use(s.auth.Middleware)
		api.Use(s.limiter.Middleware)

		api.Group(func(ops chi.Router) {
			ops.Use(func(next http.Handler) http.Handler {
				return http.MaxBytesHandler(next, maxBodyBytes)
			})
			if s.idempotency != nil {
				ops.Use(s.idempotency.Middleware)
			}
			ops.Post("/deposits", s.handleDeposit)
			ops.Post("/swaps/pool", s.handleSwapFromPool)
			ops.Post("/swaps/user", s.handleSwapFromUser)
			ops.Post("/transfers/spot", s.handleOmniTransfer)
			ops.Post("/transfers/swap-and-bridge", s.handleSwapAndBridge)
			ops.Post("/withdrawals/user", s.handleUserWithdraw)
			ops.Post("/withdrawals/pool", s.handlePoolWithdraw)
			ops.Post("/withdrawals/fee", s.handleFeeWithdraw)
			ops.Post("/withdrawals/emergency/native", s.handleEmergencyNative)
			ops.Post("/withdrawals/emergency/token", s.handleEmergencyToken)
			ops.Post("/admin/pool-balances", s.handleSetPoolBalances)
			ops.Post("/admin/user-balances", s.handleSetUserBalances)
			ops.Post("/admin/multichain-assets", s.handleSetMultiChain)
			ops.Post("/admin/signers", s.handleUpdateSigners)
			ops.Post("/admin/whitelist", s.handleWhitelist)
			ops.Post("/admin/owner", s.handleTransferOwnership)
			ops.Post("/reports/solvency", s.handleSolvencyReport)
		})

		api.Get("/balances/{asset}", s.handlePoolBalances)
		api.Get("/balances/{asset}/users/{user}", s.handleUserBalance)
		api.Get("/holdings/{holder}/{asset}", s.handleHoldings)
		api.Get("/solvency", s.handleSolvency)
		api.Get("/registry", s.handleRegistry)
		api.Get("/registry/whitelist/{address}", s.handleIsWhitelisted)
		api.Get("/registry/signers/{address}", s.handleIsSigner)
		api.Get("/registry/multichain-assets/{asset}", s.handleIsMultiChain)
		api.Get("/orders/{domain}/{orderId}", s.handleOrderConsumed)
		api.Get("/settlement/deposits", s.handleSettlementDeposits)
		api.Get("/records", s.handleRecords)
		if s.hub != nil {
			api.Get("/events/ws", s.hub.ServeHTTP)
		}
	})
	return r
}

func (s *Server) instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		route := r.URL.Path
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if pattern := rctx.RoutePattern(); pattern != "" {
				route = pattern
			}
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		s.metrics.Observe(route, status, time.Since(start))
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	seq, err := s.executor.Sequence()
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, "internal", "state unavailable")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "sequence": seq})
}

type errorBody struct {
	Error errorDetail `json:"error"`
}

type errorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, errorBody{Error: errorDetail{Code: code, Message: message}})
}

// StatusForError maps a pool error kind onto an HTTP status.
func StatusForError(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, pool.ErrAccessDenied):
		return http.StatusForbidden
	case errors.Is(err, pool.ErrAuthorizationFailed):
		return http.StatusUnauthorized
	case errors.Is(err, pool.ErrInsufficientBalance), errors.Is(err, pool.ErrSlippageNotMet):
		return http.StatusConflict
	case errors.Is(err, pool.ErrInvalidArgument), errors.Is(err, pool.ErrArgumentMismatch):
		return http.StatusBadRequest
	case errors.Is(err, pool.ErrExternalCallFailed):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) writePoolError(w http.ResponseWriter, err error) {
	status := StatusForError(err)
	message := err.Error()
	if status == http.StatusInternalServerError {
		s.logger.Error("request failed", "error", err)
		message = "internal error"
	}
	writeError(w, status, pool.KindName(err), message)
}
