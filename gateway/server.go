package gateway

import (
	"context"
	"crypto/tls"
	"encoding/json"
	stderrors "errors"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/kawaiiTaiga/project-SABA/errors"
	"github.com/kawaiiTaiga/project-SABA/pkg/tlsutil"
)

// HelpText is served at GET /.
const HelpText = "SABA Device API\n\n" +
	"Endpoints:\n" +
	"  GET /               - This help\n" +
	"  GET /status_now     - Publish status immediately\n" +
	"  GET /reannounce     - Re-publish announce + ports (retain)\n" +
	"  GET /clear_retained - Clear retained messages\n" +
	"  GET /factory_reset  - Factory reset & reboot\n" +
	"  GET /healthz        - Device health (JSON)\n" +
	"  GET /metrics        - Prometheus metrics\n" +
	"  GET /assets/{id}    - Stored tool assets\n"

// Plain-text replies of the control endpoints.
const (
	MsgNotConnected    = "MQTT not connected"
	MsgStatusPublished = "Status published"
	MsgReannounced     = "Announce + ports re-published (retain)"
	MsgRetainedCleared = "Retained messages cleared"
	MsgFactoryReset    = "Factory reset done. Rebooting..."
)

// requestID extracts the request ID from headers or generates a new one.
func requestID(r *http.Request) string {
	if reqID := r.Header.Get("X-Request-ID"); reqID != "" {
		return reqID
	}
	return uuid.NewString()
}

type mounted struct {
	prefix  string
	handler HTTPHandler
}

// Option is a functional option for configuring Server
type Option func(*Server)

// WithLogger sets the server logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithMetricsHandler mounts h at /metrics.
func WithMetricsHandler(h http.Handler) Option {
	return func(s *Server) { s.metrics = h }
}

// WithAssetStore serves store at /assets/{id}. Without it the server
// creates its own store sized from Config.
func WithAssetStore(store *AssetStore) Option {
	return func(s *Server) { s.assets = store }
}

// WithHandler mounts h under prefix.
func WithHandler(prefix string, h HTTPHandler) Option {
	return func(s *Server) {
		if h != nil {
			s.extra = append(s.extra, mounted{prefix: prefix, handler: h})
		}
	}
}

// Server is the device HTTP server: operator control endpoints, health,
// metrics and tool assets.
type Server struct {
	cfg     Config
	device  Device
	assets  *AssetStore
	metrics http.Handler
	extra   []mounted
	logger  *slog.Logger

	mux     *http.ServeMux
	handler http.Handler
	baseURL atomic.Value // string

	mu       sync.Mutex
	srv      *http.Server
	listener net.Listener
	done     chan struct{}
	serveErr error
	running  atomic.Bool

	requestsTotal  atomic.Uint64
	requestsFailed atomic.Uint64
}

// Stats reports request counters.
type Stats struct {
	RequestsTotal  uint64 `json:"requests_total"`
	RequestsFailed uint64 `json:"requests_failed"`
}

// New creates a server for device. The server does not listen until Start.
func New(cfg Config, device Device, opts ...Option) (*Server, error) {
	if device == nil {
		return nil, errors.WrapFatal(errors.ErrMissingConfig, "Server", "New",
			"device is required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, errors.WrapInvalid(err, "Server", "New", "config validation")
	}

	s := &Server{
		cfg:    cfg.withDefaults(),
		device: device,
		logger: slog.Default(),
		mux:    http.NewServeMux(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.assets == nil {
		s.assets = NewAssetStore(s.cfg.MaxAssets, s.cfg.MaxAssetBytes)
	}
	s.logger = s.logger.With("component", "gateway")

	host, port, _ := splitAddr(s.cfg.Addr)
	s.baseURL.Store(BaseURL(advertiseHost(s.cfg.AdvertiseHost, host), port, s.cfg.TLS.Enabled))

	s.routes()
	s.handler = s.withRequestID(s.mux)
	return s, nil
}

func (s *Server) routes() {
	s.mux.HandleFunc("GET /{$}", s.handleHelp)
	s.mux.HandleFunc("GET /status_now", s.handleStatusNow)
	s.mux.HandleFunc("GET /reannounce", s.handleReannounce)
	s.mux.HandleFunc("GET /clear_retained", s.handleClearRetained)
	s.mux.HandleFunc("GET /factory_reset", s.handleFactoryReset)
	s.mux.HandleFunc("GET /healthz", s.handleHealth)
	s.mux.Handle("GET "+AssetPath+"{id}", s.assets)
	if s.metrics != nil {
		s.mux.Handle("GET /metrics", s.metrics)
	}

	for _, m := range s.extra {
		prefix := m.prefix
		if !strings.HasSuffix(prefix, "/") {
			prefix += "/"
		}
		m.handler.RegisterHTTPHandlers(prefix, s.mux)
	}
}

// Handler returns the root handler, for tests and embedding.
func (s *Server) Handler() http.Handler { return s.handler }

// Assets returns the asset store served at /assets/.
func (s *Server) Assets() *AssetStore { return s.assets }

// BaseURL returns the advertised base address, or "" when no reachable
// host is known. It is safe to pass as an observation.BaseURLFunc.
func (s *Server) BaseURL() string {
	v, _ := s.baseURL.Load().(string)
	return v
}

// Addr returns the bound listen address once started.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return s.cfg.Addr
	}
	return s.listener.Addr().String()
}

// Stats returns request counters.
func (s *Server) Stats() Stats {
	return Stats{
		RequestsTotal:  s.requestsTotal.Load(),
		RequestsFailed: s.requestsFailed.Load(),
	}
}

// Start binds the listen address and serves in the background.
func (s *Server) Start(_ context.Context) error {
	if !s.running.CompareAndSwap(false, true) {
		return errors.WrapFatal(errors.ErrAlreadyStarted, "Server", "Start",
			"gateway already running")
	}

	var tlsCfg *tls.Config
	if s.cfg.TLS.Enabled {
		var err error
		tlsCfg, err = tlsutil.LoadServerTLSConfig(s.cfg.TLS)
		if err != nil {
			s.running.Store(false)
			return errors.WrapFatal(err, "Server", "Start", "load TLS config")
		}
	}

	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		s.running.Store(false)
		return errors.WrapTransient(err, "Server", "Start", "listen")
	}
	if tlsCfg != nil {
		ln = tls.NewListener(ln, tlsCfg)
	}

	srv := &http.Server{
		Handler:           s.handler,
		ReadTimeout:       s.cfg.ReadTimeout,
		ReadHeaderTimeout: s.cfg.ReadTimeout,
		WriteTimeout:      s.cfg.WriteTimeout,
		ErrorLog:          slog.NewLogLogger(s.logger.Handler(), slog.LevelWarn),
	}

	s.mu.Lock()
	s.srv = srv
	s.listener = ln
	s.done = make(chan struct{})
	done := s.done
	s.mu.Unlock()

	// ":0" binds an ephemeral port; advertise the real one.
	if tcp, ok := ln.Addr().(*net.TCPAddr); ok {
		host, _, _ := splitAddr(s.cfg.Addr)
		s.baseURL.Store(BaseURL(advertiseHost(s.cfg.AdvertiseHost, host), tcp.Port, s.cfg.TLS.Enabled))
	}

	s.logger.Info("HTTP server listening", "addr", ln.Addr().String(), "base_url", s.BaseURL())
	go func() {
		defer close(done)
		if err := srv.Serve(ln); err != nil && !stderrors.Is(err, http.ErrServerClosed) {
			s.logger.Error("HTTP server stopped", "error", err)
			s.mu.Lock()
			s.serveErr = err
			s.mu.Unlock()
		}
	}()
	return nil
}

// Done is closed when the server stops serving, after Stop or a listener
// failure. It is nil before Start.
func (s *Server) Done() <-chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.done
}

// Err returns the error that ended serving; nil after a clean Stop.
func (s *Server) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.serveErr
}

// Stop shuts the server down, waiting up to timeout for active requests.
func (s *Server) Stop(timeout time.Duration) error {
	if !s.running.CompareAndSwap(true, false) {
		return nil
	}
	if timeout <= 0 {
		timeout = DefaultShutdownPeriod
	}

	s.mu.Lock()
	srv, done := s.srv, s.done
	s.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		_ = srv.Close()
		return errors.WrapTransient(err, "Server", "Stop", "shutdown")
	}
	<-done
	return nil
}

func (s *Server) withRequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := requestID(r)
		w.Header().Set("X-Request-ID", id)
		s.requestsTotal.Add(1)

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		if rec.status >= http.StatusBadRequest {
			s.requestsFailed.Add(1)
		}
		s.logger.Debug("HTTP request",
			"method", r.Method, "path", r.URL.Path, "status", rec.status, "request_id", id)
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func writeText(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store, no-cache, must-revalidate")
	w.WriteHeader(status)
	_, _ = w.Write([]byte(msg))
}

func (s *Server) handleHelp(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Pragma", "no-cache")
	writeText(w, http.StatusOK, HelpText)
}

// control runs op when the transport is connected.
func (s *Server) control(w http.ResponseWriter, r *http.Request, name, okMsg string, op func(context.Context) error) {
	if !s.device.IsConnected() {
		writeText(w, http.StatusServiceUnavailable, MsgNotConnected)
		return
	}
	if err := op(r.Context()); err != nil {
		if stderrors.Is(err, errors.ErrNotConnected) {
			writeText(w, http.StatusServiceUnavailable, MsgNotConnected)
			return
		}
		s.logger.Warn("Control request failed", "endpoint", name, "error", err)
		writeText(w, http.StatusBadGateway, name+" failed")
		return
	}
	s.logger.Info("Control request handled", "endpoint", name)
	writeText(w, http.StatusOK, okMsg)
}

func (s *Server) handleStatusNow(w http.ResponseWriter, r *http.Request) {
	s.control(w, r, "status_now", MsgStatusPublished, s.device.PublishStatusNow)
}

func (s *Server) handleReannounce(w http.ResponseWriter, r *http.Request) {
	s.control(w, r, "reannounce", MsgReannounced, s.device.Reannounce)
}

func (s *Server) handleClearRetained(w http.ResponseWriter, r *http.Request) {
	s.control(w, r, "clear_retained", MsgRetainedCleared, s.device.ClearRetained)
}

// handleFactoryReset always runs. The reset outlives the request so a
// client hanging up mid-way cannot leave the device half reset.
func (s *Server) handleFactoryReset(w http.ResponseWriter, r *http.Request) {
	s.logger.Warn("Factory reset requested", "remote", r.RemoteAddr)
	if err := s.device.FactoryReset(context.WithoutCancel(r.Context())); err != nil {
		s.logger.Error("Factory reset failed", "error", err)
		writeText(w, http.StatusInternalServerError, "factory reset failed")
		return
	}
	writeText(w, http.StatusOK, MsgFactoryReset)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	status := s.device.Health()
	code := http.StatusOK
	if status.IsUnhealthy() {
		code = http.StatusServiceUnavailable
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(status)
}
