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
	"net/netip"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"tgeledger/config"
	"tgeledger/core"
	"tgeledger/core/events"
	"tgeledger/observability"
	"tgeledger/observability/logging"
)

const (
	jsonRPCVersion  = "2.0"
	maxRequestBytes = 1 << 20 // 1 MiB
	metricsModule   = "sale"

	// maxForwardedForAddrs bounds how many X-Forwarded-For hops are inspected.
	maxForwardedForAddrs = 16
)

const (
	codeParseError     = -32700
	codeInvalidRequest = -32600
	codeMethodNotFound = -32601
	codeInvalidParams  = -32602
	codeUnauthorized   = -32001
	codeServerError    = -32000
	codeRateLimited    = -32020
	codeLedgerError    = -32030
)

// Server exposes a Runtime over JSON-RPC 2.0.
type Server struct {
	runtime *core.Runtime
	feed    *events.Feed
	cfg     config.RPCConfig
	auth    *authenticator
	limiter *rateLimiter
	logger  *slog.Logger
	router  chi.Router
	methods map[string]methodSpec
	proxies []netip.Prefix
}

// NewServer builds the HTTP surface. feed may be nil, in which case the
// websocket stream is not mounted.
func NewServer(runtime *core.Runtime, feed *events.Feed, cfg config.RPCConfig, logger *slog.Logger) (*Server, error) {
	if runtime == nil {
		return nil, fmt.Errorf("rpc: runtime required")
	}
	if logger == nil {
		logger = logging.Discard()
	}
	proxies, err := cfg.TrustedProxyPrefixes()
	if err != nil {
		return nil, err
	}
	s := &Server{
		runtime: runtime,
		feed:    feed,
		cfg:     cfg,
		auth:    newAuthenticator(cfg),
		limiter: newRateLimiter(cfg.RateLimitPerSecond, cfg.RateLimitBurst),
		logger:  logger,
		proxies: proxies,
	}
	s.methods = s.methodTable()
	s.router = s.routes()
	return s, nil
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Get("/healthz", s.handleHealth)
	r.Handle("/metrics", promhttp.Handler())
	if s.feed != nil {
		r.Get("/ws/events", s.handleEventsWS)
	}
	r.Post("/", s.handle)
	return r
}

// Handler returns the instrumented HTTP handler.
func (s *Server) Handler() http.Handler {
	return otelhttp.NewHandler(s.router, "rpc")
}

// Serve runs the server on addr until ctx is cancelled.
func (s *Server) Serve(ctx context.Context, addr string) error {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("rpc: listen %s: %w", addr, err)
	}
	return s.ServeListener(ctx, listener)
}

// ServeListener runs the server on an existing listener until ctx is
// cancelled, then shuts down gracefully.
func (s *Server) ServeListener(ctx context.Context, listener net.Listener) error {
	srv := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       seconds(s.cfg.ReadTimeoutSeconds, 10),
		WriteTimeout:      seconds(s.cfg.WriteTimeoutSeconds, 10),
	}
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("starting JSON-RPC server", slog.String("addr", listener.Addr().String()))
		errCh <- srv.Serve(listener)
	}()
	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("rpc: shutdown: %w", err)
		}
		return nil
	}
}

func seconds(value, fallback int) time.Duration {
	if value <= 0 {
		value = fallback
	}
	return time.Duration(value) * time.Second
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

// failure pairs an RPC error with the HTTP status it is written with.
type failure struct {
	status int
	err    *RPCError
}

func fail(status, code int, message string, data interface{}) *failure {
	return &failure{status: status, err: &RPCError{Code: code, Message: message, Data: data}}
}

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

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	status := "ok"
	if !s.runtime.Deployed() {
		status = "not_deployed"
	}
	_ = json.NewEncoder(w).Encode(map[string]string{"status": status})
}

// handle is the main request handler that routes to specific handlers.
func (s *Server) handle(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
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

	spec, known := s.methods[req.Method]
	metricMethod := req.Method
	if !known {
		metricMethod = "unknown"
	}
	status := http.StatusOK
	defer func() {
		observability.ModuleMetrics().Observe(metricsModule, metricMethod, status, time.Since(start))
	}()

	source := s.clientSource(r)
	if !s.limiter.allow(source) {
		status = http.StatusTooManyRequests
		observability.ModuleMetrics().RecordThrottle(metricsModule, "rate_limit")
		writeError(w, status, req.ID, codeRateLimited, "rate limit exceeded", source)
		return
	}
	if !known {
		status = http.StatusNotFound
		writeError(w, status, req.ID, codeMethodNotFound, fmt.Sprintf("unknown method %s", req.Method), nil)
		return
	}

	var caller common.Address
	if spec.mutating || !s.cfg.AllowAnonymousReads {
		addr, authErr := s.auth.authenticate(r)
		if authErr != nil {
			status = http.StatusUnauthorized
			writeError(w, status, req.ID, codeUnauthorized, authErr.Error(), nil)
			return
		}
		caller = addr
	}

	result, f := spec.handler(r.Context(), caller, req.Params)
	if f != nil {
		status = f.status
		writeError(w, f.status, req.ID, f.err.Code, f.err.Message, f.err.Data)
		return
	}
	writeResult(w, req.ID, result)
}

// clientSource returns the rate-limit key for r. X-Forwarded-For is only
// honoured when the peer is a trusted proxy; the chain is walked from the
// right and the first hop that is not itself a trusted proxy wins.
func (s *Server) clientSource(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	peer, err := netip.ParseAddr(host)
	if err != nil {
		return host
	}
	peer = peer.Unmap()
	if !s.trustedProxy(peer) {
		return peer.String()
	}
	var hops []string
	for _, value := range r.Header.Values("X-Forwarded-For") {
		hops = append(hops, strings.Split(value, ",")...)
	}
	if len(hops) > maxForwardedForAddrs {
		hops = hops[len(hops)-maxForwardedForAddrs:]
	}
	for i := len(hops) - 1; i >= 0; i-- {
		hop, ok := parseHop(hops[i])
		if !ok {
			break
		}
		if s.trustedProxy(hop) {
			continue
		}
		return hop.String()
	}
	return peer.String()
}

func (s *Server) trustedProxy(addr netip.Addr) bool {
	for _, prefix := range s.proxies {
		if prefix.Contains(addr) {
			return true
		}
	}
	return false
}

func parseHop(raw string) (netip.Addr, bool) {
	raw = strings.TrimSpace(raw)
	if ap, err := netip.ParseAddrPort(raw); err == nil {
		return ap.Addr().Unmap(), true
	}
	addr, err := netip.ParseAddr(raw)
	if err != nil {
		return netip.Addr{}, false
	}
	return addr.Unmap(), true
}
