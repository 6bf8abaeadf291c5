package rpc

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"

	"tradesee/core"
	"tradesee/indexer"
	"tradesee/observability"
	"tradesee/rpc/middleware"
)

const (
	jsonRPCVersion  = "2.0"
	maxRequestBytes = 1 << 20 // 1 MiB
	txSeenTTL       = 15 * time.Minute
	moduleName      = "escrow"
)

const (
	codeParseError     = -32700
	codeInvalidRequest = -32600
	codeMethodNotFound = -32601
	codeInvalidParams  = -32602
	codeUnauthorized   = -32001
	codeServerError    = -32000
	codeDuplicateTx    = -32010
	codeRejected       = -32050
)

// EventLister is the read side of the event index.
type EventLister interface {
	List(ctx context.Context, f indexer.Filter) ([]indexer.Record, error)
}

// Config wires the HTTP surface.
type Config struct {
	Processor     *core.Processor
	Events        EventLister
	Hub           *EventHub
	Authenticator *middleware.Authenticator
	RateLimiter   *middleware.RateLimiter
	Observability *middleware.Observability
	CORS          middleware.CORSConfig
	Logger        *slog.Logger
}

type Server struct {
	proc   *core.Processor
	events EventLister
	hub    *EventHub
	auth   *middleware.Authenticator
	logger *slog.Logger
	nowFn  func() time.Time

	wsOrigins []string

	mu     sync.Mutex
	txSeen map[string]time.Time

	handler http.Handler
}

// NewServer builds the JSON-RPC server and its chi router.
func NewServer(cfg Config) (*Server, error) {
	if cfg.Processor == nil {
		return nil, errors.New("rpc: processor required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		proc:   cfg.Processor,
		events: cfg.Events,
		hub:    cfg.Hub,
		auth:   cfg.Authenticator,
		logger: logger,
		nowFn:  time.Now,
		txSeen: make(map[string]time.Time),
	}
	s.wsOrigins = wsOriginPatterns(cfg.CORS.AllowedOrigins)

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.CORS(cfg.CORS))
	obs := cfg.Observability
	if obs != nil {
		r.Use(obs.Middleware("root"))
	}

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	var chain []func(http.Handler) http.Handler
	if cfg.RateLimiter != nil {
		chain = append(chain, cfg.RateLimiter.Middleware("rpc"))
	}
	if cfg.Authenticator != nil {
		chain = append(chain, cfg.Authenticator.Middleware())
	}
	r.With(chain...).Post("/rpc", s.handle)
	r.With(chain...).Get("/ws/events", s.handleEventsWS)
	if obs != nil {
		r.Handle("/metrics", obs.MetricsHandler())
	}
	s.handler = r
	return s, nil
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.handler.ServeHTTP(w, r)
}

// Serve listens on addr until ctx is cancelled, then drains in-flight
// requests.
func (s *Server) Serve(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s,
		ReadHeaderTimeout: 5 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("starting JSON-RPC server", slog.String("addr", addr))
		errCh <- srv.ListenAndServe()
	}()
	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

type RPCRequest struct {
	JSONRPC string            `json:"jsonrpc"`
	Method  string            `json:"method"`
	Params  []json.RawMessage `json:"params"`
	ID      interface{}       `json:"id"`
}

type RPCResponse struct {
	JSONRPC string      `json:"jsonrpc"`
	ID      interface{} `json:"id"`
	Result  interface{} `json:"result,omitempty"`
	Error   *RPCError   `json:"error,omitempty"`
}

type RPCError struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

func (e *RPCError) Error() string { return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message) }

func writeError(w http.ResponseWriter, status int, id interface{}, code int, message string, data interface{}) {
	if status <= 0 {
		status = http.StatusBadRequest
	}
	if status != http.StatusOK {
		w.WriteHeader(status)
	}
	errObj := &RPCError{Code: code, Message: message}
	if data != nil {
		errObj.Data = data
	}
	resp := RPCResponse{JSONRPC: jsonRPCVersion, ID: id, Error: errObj}
	_ = json.NewEncoder(w).Encode(resp)
}

func writeResult(w http.ResponseWriter, id interface{}, result interface{}) {
	resp := RPCResponse{JSONRPC: jsonRPCVersion, ID: id, Result: result}
	_ = json.NewEncoder(w).Encode(resp)
}

type methodHandler func(ctx context.Context, req *RPCRequest) (interface{}, *httpError)

// httpError pairs a JSON-RPC error with the HTTP status it is written with.
type httpError struct {
	status int
	err    RPCError
}

func newHTTPError(status, code int, message string, data interface{}) *httpError {
	return &httpError{status: status, err: RPCError{Code: code, Message: message, Data: data}}
}

func (s *Server) methods() map[string]methodHandler {
	return map[string]methodHandler{
		"escrow_submit":          s.handleSubmit,
		"escrow_getContract":     s.handleGetContract,
		"escrow_getVault":        s.handleGetVault,
		"escrow_getOracleFlag":   s.handleGetOracleFlag,
		"escrow_getTrustScore":   s.handleGetTrustScore,
		"escrow_getBalance":      s.handleGetBalance,
		"escrow_getNonce":        s.handleGetNonce,
		"escrow_events":          s.handleEvents,
		"escrow_deriveAddresses": s.handleDeriveAddresses,
		"escrow_getPolicy":       s.handleGetPolicy,
	}
}

func (s *Server) handle(w http.ResponseWriter, r *http.Request) {
	reader := http.MaxBytesReader(w, r.Body, maxRequestBytes)
	defer func() {
		_ = reader.Close()
	}()

	w.Header().Set("Content-Type", "application/json")

	body, err := io.ReadAll(reader)
	if err != nil {
		status := http.StatusBadRequest
		message := "failed to read request body"
		var maxBytesErr *http.MaxBytesError
		if errors.As(err, &maxBytesErr) {
			status = http.StatusRequestEntityTooLarge
			message = fmt.Sprintf("request body exceeds %d bytes", maxRequestBytes)
		}
		writeError(w, status, nil, codeInvalidRequest, message, err.Error())
		return
	}
	if len(bytes.TrimSpace(body)) == 0 {
		writeError(w, http.StatusBadRequest, nil, codeInvalidRequest, "request body required", nil)
		return
	}

	req := &RPCRequest{}
	if err := json.Unmarshal(body, req); err != nil {
		writeError(w, http.StatusBadRequest, nil, codeParseError, "invalid JSON payload", err.Error())
		return
	}
	if req.JSONRPC != "" && req.JSONRPC != jsonRPCVersion {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidRequest, "unsupported jsonrpc version", req.JSONRPC)
		return
	}
	if req.Method == "" {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidRequest, "method required", nil)
		return
	}

	handler, ok := s.methods()[req.Method]
	if !ok {
		writeError(w, http.StatusNotFound, req.ID, codeMethodNotFound, fmt.Sprintf("method %s not found", req.Method), nil)
		return
	}
	start := time.Now()
	result, herr := handler(r.Context(), req)
	code := 0
	if herr != nil {
		code = herr.err.Code
	}
	observability.ModuleMetrics().Observe(moduleName, req.Method, code, time.Since(start))
	if herr != nil {
		writeError(w, herr.status, req.ID, herr.err.Code, herr.err.Message, herr.err.Data)
		return
	}
	writeResult(w, req.ID, result)
}

func (s *Server) rememberTx(hash string, now time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	for h, seenAt := range s.txSeen {
		if now.Sub(seenAt) > txSeenTTL {
			delete(s.txSeen, h)
		}
	}
	if _, exists := s.txSeen[hash]; exists {
		return false
	}
	s.txSeen[hash] = now
	return true
}

func (s *Server) forgetTx(hash string) {
	s.mu.Lock()
	delete(s.txSeen, hash)
	s.mu.Unlock()
}
