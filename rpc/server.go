package rpc

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"charityledger/core"
	"charityledger/observability"
)

const (
	defaultMaxBodyBytes = 1 << 20
	requestIDHeader     = "X-Request-ID"
)

// ServerConfig controls the HTTP surface of the ledger.
type ServerConfig struct {
	// JWTSecret signs admin bearer tokens. Admin methods are refused when empty.
	JWTSecret          string
	JWTIssuer          string
	RateLimitPerSecond float64
	RateLimitBurst     int
	AllowedOrigins     []string
	TrustProxyHeaders  bool
	MaxBodyBytes       int64
	ReadTimeout        time.Duration
	WriteTimeout       time.Duration
	Logger             *slog.Logger
}

type handlerFunc func(r *http.Request, params []json.RawMessage) (interface{}, *RPCError)

type Server struct {
	node    *core.Node
	cfg     ServerConfig
	logger  *slog.Logger
	limiter *rateLimiter
	auth    *adminAuth
	methods map[string]handlerFunc
	admin   map[string]bool
	handler http.Handler
	httpSrv *http.Server
	nowFn   func() time.Time
}

func NewServer(node *core.Node, cfg ServerConfig) (*Server, error) {
	if node == nil {
		return nil, fmt.Errorf("rpc: node required")
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = defaultMaxBodyBytes
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		node:    node,
		cfg:     cfg,
		logger:  logger,
		limiter: newRateLimiter(cfg.RateLimitPerSecond, cfg.RateLimitBurst, cfg.TrustProxyHeaders),
		auth:    newAdminAuth(cfg.JWTSecret, cfg.JWTIssuer),
		nowFn:   time.Now,
	}
	s.methods = map[string]handlerFunc{
		"charity_sendTransaction":  s.handleSendTransaction,
		"charity_owner":            s.handleOwner,
		"charity_getCharity":       s.handleGetCharity,
		"charity_getDonationCount": s.handleGetDonationCount,
		"charity_getExpenseCount":  s.handleGetExpenseCount,
		"charity_getDonation":      s.handleGetDonation,
		"charity_getExpense":       s.handleGetExpense,
		"charity_getDonorHistory":  s.handleGetDonorHistory,
		"charity_getPlatformStats": s.handleGetPlatformStats,
		"charity_getAccount":       s.handleGetAccount,
		"admin_fundAccount":        s.handleFundAccount,
	}
	s.admin = map[string]bool{"admin_fundAccount": true}
	s.handler = s.routes()
	s.httpSrv = &http.Server{
		Handler:           s.handler,
		ReadTimeout:       cfg.ReadTimeout,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      cfg.WriteTimeout,
	}
	return s, nil
}

func (s *Server) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.Recoverer)
	r.Use(requestID)
	r.Use(cors(s.cfg.AllowedOrigins))

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		if _, err := s.node.Owner(); err != nil {
			http.Error(w, "ledger not initialised", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Handle("/metrics", promhttp.Handler())
	r.Get("/ws/events", s.handleEventsWS)
	r.With(s.limiter.middleware).Post("/", s.handle)
	return otelhttp.NewHandler(r, "charity-rpc")
}

// Handler returns the fully wired HTTP handler.
func (s *Server) Handler() http.Handler { return s.handler }

// Serve accepts connections on ln until Shutdown is called.
func (s *Server) Serve(ln net.Listener) error {
	s.logger.Info("JSON-RPC server listening", slog.String("addr", ln.Addr().String()))
	err := s.httpSrv.Serve(ln)
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Start listens on addr and serves until Shutdown is called.
func (s *Server) Start(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	return s.Serve(ln)
}

// Shutdown gracefully stops the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpSrv.Shutdown(ctx)
}

func (s *Server) handle(w http.ResponseWriter, r *http.Request) {
	start := s.nowFn()
	w.Header().Set("Content-Type", "application/json")

	reader := http.MaxBytesReader(w, r.Body, s.cfg.MaxBodyBytes)
	defer func() {
		_ = reader.Close()
	}()
	body, err := io.ReadAll(reader)
	if err != nil {
		status := http.StatusBadRequest
		message := "failed to read request body"
		var maxBytesErr *http.MaxBytesError
		if errors.As(err, &maxBytesErr) {
			status = http.StatusRequestEntityTooLarge
			message = fmt.Sprintf("request body exceeds %d bytes", s.cfg.MaxBodyBytes)
		}
		writeError(w, nil, newError(status, codeInvalidRequest, message, nil))
		return
	}
	if len(bytes.TrimSpace(body)) == 0 {
		writeError(w, nil, newError(http.StatusBadRequest, codeInvalidRequest, "request body required", nil))
		return
	}
	req := &RPCRequest{}
	if err := json.Unmarshal(body, req); err != nil {
		writeError(w, nil, newError(http.StatusBadRequest, codeParseError, "invalid JSON payload", err.Error()))
		return
	}
	if req.JSONRPC != "" && req.JSONRPC != jsonRPCVersion {
		writeError(w, req.ID, newError(http.StatusBadRequest, codeInvalidRequest, "unsupported jsonrpc version", req.JSONRPC))
		return
	}

	handler, ok := s.methods[req.Method]
	if !ok {
		s.finish(w, r, req, start, nil, newError(http.StatusNotFound, codeMethodNotFound, fmt.Sprintf("unknown method %s", req.Method), nil))
		return
	}
	if s.admin[req.Method] {
		if authErr := s.auth.authorize(r); authErr != nil {
			s.finish(w, r, req, start, nil, authErr)
			return
		}
	}
	result, rpcErr := handler(r, req.Params)
	s.finish(w, r, req, start, result, rpcErr)
}

func (s *Server) finish(w http.ResponseWriter, r *http.Request, req *RPCRequest, start time.Time, result interface{}, rpcErr *RPCError) {
	status := http.StatusOK
	if rpcErr != nil {
		status = rpcErr.status
		writeError(w, req.ID, rpcErr)
	} else {
		writeResult(w, req.ID, result)
	}
	duration := s.nowFn().Sub(start)
	observability.ModuleMetrics().Observe(methodModule(req.Method), req.Method, status, duration)

	attrs := []any{
		slog.String("method", req.Method),
		slog.String("requestid", w.Header().Get(requestIDHeader)),
		slog.Int("status", status),
		slog.Duration("duration", duration),
	}
	if rpcErr != nil && status >= http.StatusInternalServerError {
		s.logger.Warn("rpc request failed", append(attrs, slog.Int("code", rpcErr.Code))...)
		return
	}
	s.logger.Debug("rpc request", attrs...)
}

func methodModule(method string) string {
	if idx := strings.IndexByte(method, '_'); idx > 0 {
		return method[:idx]
	}
	return "unknown"
}

func requestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := strings.TrimSpace(r.Header.Get(requestIDHeader))
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set(requestIDHeader, id)
		next.ServeHTTP(w, r)
	})
}

func cors(origins []string) func(http.Handler) http.Handler {
	allowed := make(map[string]struct{}, len(origins))
	wildcard := false
	for _, origin := range origins {
		origin = strings.TrimSpace(origin)
		if origin == "*" {
			wildcard = true
		}
		if origin != "" {
			allowed[origin] = struct{}{}
		}
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")
			if origin != "" {
				if _, ok := allowed[origin]; ok || wildcard {
					w.Header().Set("Access-Control-Allow-Origin", origin)
					w.Header().Set("Access-Control-Allow-Headers", "Authorization, Content-Type, X-Request-ID")
					w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
					w.Header().Add("Vary", "Origin")
				}
			}
			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusNoContent)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
