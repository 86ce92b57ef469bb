package api

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/dou-wallet/dou-gateway/internal/config"
	"github.com/dou-wallet/dou-gateway/internal/metrics"
	"github.com/dou-wallet/dou-gateway/internal/middleware"
	apperrors "github.com/dou-wallet/dou-gateway/pkg/errors"
)

// Server represents the HTTP server
type Server struct {
	config       *config.Config
	userService  UserService
	signService  SignService
	txService    TransactionService
	keys         KeyResolver
	applications ApplicationDirectory
	contracts    ContractDirectory
	auth         *middleware.AuthMiddleware
	rateLimiter  *middleware.RateLimiter
	log          *slog.Logger
	httpServer   *http.Server
}

// NewServer creates a new API server
func NewServer(
	cfg *config.Config,
	userService UserService,
	signService SignService,
	txService TransactionService,
	keys KeyResolver,
	applications ApplicationDirectory,
	contracts ContractDirectory,
	auth *middleware.AuthMiddleware,
	rateLimiter *middleware.RateLimiter,
	log *slog.Logger,
) *Server {
	return &Server{
		config:       cfg,
		userService:  userService,
		signService:  signService,
		txService:    txService,
		keys:         keys,
		applications: applications,
		contracts:    contracts,
		auth:         auth,
		rateLimiter:  rateLimiter,
		log:          log,
	}
}

// Routes builds the route table. Split from Start so handler tests can
// exercise the full middleware chain without a listener.
func (s *Server) Routes() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", s.handleHealth)
	mux.Handle("GET /metrics", metrics.Handler())

	// Login flow (no session yet)
	mux.Handle("POST /v1/users/code", s.rateLimiter.Limit(http.HandlerFunc(s.handleSendCode)))
	mux.HandleFunc("POST /v1/users/login", s.handleLogin)

	// Signature-bearer resolution for third parties; the signature value is
	// the credential, so this route is rate limited instead of authenticated
	mux.Handle("GET /v1/users/detail", s.rateLimiter.Limit(http.HandlerFunc(s.handleUserDetail)))
	mux.HandleFunc("GET /v1/users/message", s.handleBindMessage)

	// Session routes
	mux.Handle("GET /v1/users/me", s.auth.Authenticate(http.HandlerFunc(s.handleProfile)))
	mux.Handle("POST /v1/users/update", s.auth.Authenticate(http.HandlerFunc(s.handleUpdateProfile)))
	mux.Handle("GET /v1/users/balances", s.auth.Authenticate(http.HandlerFunc(s.handleBalances)))
	mux.Handle("GET /v1/users/txs", s.auth.Authenticate(http.HandlerFunc(s.handleUserTransactions)))
	mux.Handle("POST /v1/users/sign", s.auth.Authenticate(http.HandlerFunc(s.handleIssueSignature)))
	mux.Handle("POST /v1/users/address", s.auth.Authenticate(http.HandlerFunc(s.handleBindAddress)))

	mux.Handle("POST /v1/transactions", s.auth.Authenticate(http.HandlerFunc(s.handleSubmitTransaction)))
	mux.Handle("POST /v1/transactions/estimate", s.auth.Authenticate(http.HandlerFunc(s.handleEstimate)))
	mux.Handle("POST /v1/transactions/{txHash}/speedup", s.auth.Authenticate(http.HandlerFunc(s.handleSpeedUp)))
	mux.Handle("POST /v1/transactions/{txHash}/cancel", s.auth.Authenticate(http.HandlerFunc(s.handleCancel)))

	mux.HandleFunc("GET /v1/applications", s.handleListApplications)
	mux.HandleFunc("GET /v1/applications/{appID}", s.handleGetApplication)
	mux.HandleFunc("GET /v1/applications/contracts/{address}", s.handleGetContract)

	return middleware.RequestID(s.observe(mux))
}

// Start starts the HTTP server
func (s *Server) Start() error {
	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf(":%d", s.config.Port),
		Handler:      s.Routes(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	s.log.Info("starting server", "port", s.config.Port)
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// observe records latency metrics and an access log line per request
func (s *Server) observe(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := middleware.NewStatusRecorder(w)

		next.ServeHTTP(rec, r)

		elapsed := time.Since(start)
		route := r.URL.Path
		if pattern := r.Pattern; pattern != "" {
			route = pattern
		}
		metrics.HTTPDuration.WithLabelValues(r.Method, route, strconv.Itoa(rec.StatusCode)).Observe(elapsed.Seconds())
		s.log.Info("request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", rec.StatusCode,
			"duration_ms", elapsed.Milliseconds(),
		)
	})
}

// handleHealth handles health check requests
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(`{"status":"ok"}`))
}

// writeJSON writes a JSON response
func (s *Server) writeJSON(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(data)
}

// writeError writes an error response
func (s *Server) writeError(w http.ResponseWriter, err error) {
	appErr, ok := apperrors.IsAppError(err)
	if !ok {
		s.log.Error("unhandled error", "error", err)
		appErr = apperrors.ErrInternalError
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(appErr.StatusCode)
	json.NewEncoder(w).Encode(appErr)
}

// decodeJSON decodes a request body into dst
func (s *Server) decodeJSON(r *http.Request, dst interface{}) error {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		return apperrors.NewWithDetail(
			apperrors.ErrCodeBadRequest,
			"Invalid request body",
			err.Error(),
			http.StatusBadRequest,
		)
	}
	return nil
}

// principal extracts the authenticated caller; routes behind the auth
// middleware always have one
func (s *Server) principal(r *http.Request) (*middleware.Principal, error) {
	p, ok := middleware.GetPrincipal(r.Context())
	if !ok {
		return nil, apperrors.ErrUnauthorized
	}
	return p, nil
}
