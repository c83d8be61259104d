// Package server exposes the relay over HTTP: the webhook endpoint plus
// liveness, readiness and metrics probes.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/google/uuid"

	"slack2tg/internal/domain"
	"slack2tg/internal/metrics"
	"slack2tg/internal/payload"
	"slack2tg/internal/routing"
	"slack2tg/internal/security"
)

const (
	HeaderRequestID = "X-Request-ID"

	defaultMaxBody  = 1 << 20
	shutdownTimeout = 10 * time.Second
)

// Authenticator decides whether an inbound webhook may proceed.
type Authenticator interface {
	Check(r *http.Request, routeKey string, body []byte) error
}

var _ Authenticator = (*security.Gate)(nil)

// Config configures the HTTP server.
type Config struct {
	Addr            string
	MaxBodyBytes    int64
	Gate            Authenticator
	Resolver        *routing.Resolver
	Deliverer       domain.Deliverer   // nil = bot not configured, hooks get 503
	Audit           domain.AuditLogger // optional
	Ready           func() bool        // nil = ready when Deliverer is set
	MetricsEndpoint string             // empty = metrics not served
	Logger          *slog.Logger
}

// Server handles webhook requests. Handlers share no per-request state.
type Server struct {
	addr            string
	maxBody         int64
	gate            Authenticator
	resolver        *routing.Resolver
	deliverer       domain.Deliverer
	audit           domain.AuditLogger
	ready           func() bool
	metricsEndpoint string
	logger          *slog.Logger
	httpServer      *http.Server
}

func New(cfg Config) *Server {
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = defaultMaxBody
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Resolver == nil {
		cfg.Resolver = routing.NewResolver(nil, "")
	}
	s := &Server{
		addr:            cfg.Addr,
		maxBody:         cfg.MaxBodyBytes,
		gate:            cfg.Gate,
		resolver:        cfg.Resolver,
		deliverer:       cfg.Deliverer,
		audit:           cfg.Audit,
		ready:           cfg.Ready,
		metricsEndpoint: cfg.MetricsEndpoint,
		logger:          cfg.Logger,
	}
	if s.ready == nil {
		s.ready = func() bool { return s.deliverer != nil }
	}
	return s
}

// Handler returns the routed handler with request-ID middleware applied.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /hook/{routeKey}", s.handleHook)
	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.HandleFunc("GET /ready", s.handleReady)
	if s.metricsEndpoint != "" {
		mux.HandleFunc("GET "+s.metricsEndpoint, metrics.Collector.Handler())
	}
	return withRequestID(mux)
}

// Start serves until ctx is cancelled, then drains in-flight requests.
func (s *Server) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", s.addr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve is Start on an existing listener.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	s.httpServer = &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	s.logger.Info("webhook server starting", "addr", ln.Addr().String(), "routes", s.resolver.Len())

	errCh := make(chan error, 1)
	go func() {
		if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("webhook server shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return s.httpServer.Shutdown(shutdownCtx)
	case err, ok := <-errCh:
		if !ok {
			return nil
		}
		return fmt.Errorf("webhook server: %w", err)
	}
}

func (s *Server) handleHook(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	routeKey := r.PathValue("routeKey")
	reqID := w.Header().Get(HeaderRequestID)
	logger := s.logger.With("request_id", reqID, "route_key", routeKey)

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, s.maxBody))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			metrics.MalformedRequests.Inc()
			writeError(w, http.StatusRequestEntityTooLarge, "body too large")
			return
		}
		writeError(w, http.StatusBadRequest, "cannot read body")
		return
	}

	if s.gate != nil {
		if err := s.gate.Check(r, routeKey, body); err != nil {
			metrics.AuthRejections.Inc()
			if errors.Is(err, domain.ErrForbidden) {
				writeError(w, http.StatusForbidden, "forbidden")
			} else {
				writeError(w, http.StatusUnauthorized, "unauthorized")
			}
			return
		}
	}

	p, err := payload.Decode(body)
	if err != nil {
		metrics.MalformedRequests.Inc()
		logger.Warn("webhook rejected", "reason", "invalid json", "body_len", len(body))
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}

	if s.deliverer == nil {
		writeError(w, http.StatusServiceUnavailable, "telegram bot not configured")
		return
	}

	dest := s.resolver.Resolve(routeKey, p.Channel)
	if dest == "" {
		logger.Warn("webhook rejected", "reason", "no destination")
		writeError(w, http.StatusServiceUnavailable, "no destination configured")
		return
	}

	msg := p.Message()
	if msg.Empty() {
		logger.Info("webhook had nothing to deliver")
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
		return
	}

	metrics.HooksTotal.Inc()
	metrics.InFlight.Inc()
	report, err := s.deliverer.Deliver(r.Context(), dest, msg)
	metrics.InFlight.Dec()
	metrics.DeliveryLatency.ObserveSince(start)

	s.record(r.Context(), domain.DeliveryRecord{
		RequestID:   reqID,
		RouteKey:    routeKey,
		Destination: dest,
		Photos:      report.Photos,
		Documents:   report.Documents,
		Chunks:      report.Chunks,
		Outcome:     outcome(err),
		ErrorClass:  domain.ErrorClass(err),
		DurationMS:  time.Since(start).Milliseconds(),
	}, logger)

	if err != nil {
		metrics.DeliveryFailures.Inc()
		logger.Error("delivery failed",
			"destination", dest,
			"sent", report.Sent(),
			"error_class", domain.ErrorClass(err),
			"err", err,
		)
		writeError(w, http.StatusBadGateway, "delivery failed")
		return
	}

	logger.Info("webhook delivered",
		"destination", dest,
		"text_len", len(msg.Text),
		"photos", report.Photos,
		"documents", report.Documents,
		"chunks", report.Chunks,
	)
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

// record writes the audit entry. Audit failures never fail the request.
func (s *Server) record(ctx context.Context, rec domain.DeliveryRecord, logger *slog.Logger) {
	if s.audit == nil {
		return
	}
	// The request context may already be cancelled when the client went away.
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := s.audit.LogDelivery(ctx, rec); err != nil {
		logger.Warn("audit write failed", "err", err)
	}
}

func outcome(err error) string {
	if err != nil {
		return domain.OutcomeFailed
	}
	return domain.OutcomeOK
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "up"})
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	if !s.ready() {
		writeJSON(w, http.StatusServiceUnavailable, map[string]bool{"ready": false})
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ready": true})
}

// withRequestID echoes the caller's X-Request-ID or assigns a new one.
func withRequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(HeaderRequestID)
		if id == "" || len(id) > 128 {
			id = uuid.NewString()
		}
		w.Header().Set(HeaderRequestID, id)
		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, reason string) {
	writeJSON(w, status, map[string]any{"ok": false, "error": reason})
}
