package rpc

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

const shutdownTimeout = 10 * time.Second

// Config controls the HTTP surface.
type Config struct {
	Listen             string
	JWTSecret          string
	JWTIssuer          string
	RateLimitPerSecond float64
	RateLimitBurst     int
	ReadTimeout        time.Duration
	WriteTimeout       time.Duration
}

// Server exposes the vault over JSON/HTTP.
type Server struct {
	cfg     Config
	vault   Vault
	events  EventLog
	auth    *Authenticator
	limiter *RateLimiter
	idem    *IdempotencyStore
	hub     *hub
	logger  *slog.Logger
	handler http.Handler
}

// NewServer wires the routes. events and idem may be nil, which disables the
// event routes and request replay respectively.
func NewServer(cfg Config, vault Vault, events EventLog, idem *IdempotencyStore, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		cfg:     cfg,
		vault:   vault,
		events:  events,
		auth:    NewAuthenticator(cfg.JWTSecret, cfg.JWTIssuer, logger),
		limiter: NewRateLimiter(cfg.RateLimitPerSecond, cfg.RateLimitBurst),
		idem:    idem,
		hub:     newHub(),
		logger:  logger.With("component", "rpc"),
	}
	if events != nil {
		events.OnAppend(s.hub.publish)
	}
	s.handler = otelhttp.NewHandler(s.routes(), "vaultd")
	return s
}

func (s *Server) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(s.logRequests)
	r.Get("/healthz", s.handleHealth)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			r.Use(s.limiter.Middleware)
			r.Get("/balances/{owner}", s.handleBalance)
			r.Get("/tokens", s.handleTokens)
			r.Get("/tokens/{token}/balances/{owner}", s.handleTokenBalance)
			r.Get("/swap/quote", s.handleQuote)
			r.Get("/config", s.handleConfig)
			r.Get("/stats", s.handleStats)
			r.Get("/events", s.handleEvents)
			r.Get("/events/stream", s.handleEventStream)
		})
		r.Group(func(r chi.Router) {
			r.Use(s.auth.Middleware)
			r.Use(s.limiter.Middleware)
			r.Use(s.idem.Middleware)
			r.Post("/deposit", s.handleDeposit)
			r.Post("/withdraw", s.handleWithdraw)
			r.Post("/tokens/approve", s.handleApprove)
			r.Post("/tokens/lock", s.handleLock)
			r.Post("/tokens/unlock", s.handleUnlock)
			r.Post("/swap/flash", s.handleFlashSwap)
			r.Route("/admin", func(r chi.Router) {
				r.Post("/whitelist", s.handleWhitelist)
				r.Post("/slippage", s.handleSlippage)
				r.Post("/pause", s.handlePause)
				r.Post("/unpause", s.handleUnpause)
				r.Post("/rescue", s.handleRescue)
				r.Post("/ownership/transfer", s.handleTransferOwnership)
				r.Post("/ownership/accept", s.handleAcceptOwnership)
			})
		})
	})
	return r
}

// Handler returns the instrumented router.
func (s *Server) Handler() http.Handler { return s.handler }

// Serve listens on cfg.Listen until ctx is cancelled, then drains in-flight
// requests.
func (s *Server) Serve(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.Listen)
	if err != nil {
		return fmt.Errorf("rpc: listen %s: %w", s.cfg.Listen, err)
	}
	return s.ServeListener(ctx, ln)
}

// ServeListener is Serve on an existing listener.
func (s *Server) ServeListener(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.handler,
		ReadTimeout:       s.cfg.ReadTimeout,
		ReadHeaderTimeout: s.cfg.ReadTimeout,
		WriteTimeout:      s.cfg.WriteTimeout,
	}
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("rpc listening", "addr", ln.Addr().String())
		errCh <- srv.Serve(ln)
	}()
	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("rpc: shutdown: %w", err)
	}
	s.logger.Info("rpc stopped")
	return nil
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

// Hijack keeps websocket upgrades working behind the logger.
func (r *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hj, ok := r.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("rpc: response writer cannot hijack")
	}
	return hj.Hijack()
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		s.logger.Debug("request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", rec.status,
			"duration", time.Since(start))
	})
}
