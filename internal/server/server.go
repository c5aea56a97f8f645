// Package server implements the HTTP server that exposes the retrieval
// engine via a small JSON API: POST /api/ask for question answering, plus
// health, readiness, status, and Prometheus metrics endpoints.
// The server is started by the `hyrag serve` CLI command.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/r4js/hyrag-go/internal/engine"
	"github.com/r4js/hyrag-go/internal/logging"
	"github.com/r4js/hyrag-go/internal/rag"
)

// New constructs a Server from the provided engine and config.
func New(eng asker, cfg *Config) (*Server, error) {
	if eng == nil {
		return nil, fmt.Errorf("server: engine must not be nil")
	}
	if cfg == nil {
		cfg = &Config{}
	}
	if cfg.Host == "" {
		cfg.Host = "127.0.0.1"
	}
	if cfg.Port == 0 {
		cfg.Port = 8080
	}
	if cfg.ReadTimeout == 0 {
		cfg.ReadTimeout = 30 * time.Second
	}
	if cfg.WriteTimeout == 0 {
		// WriteTimeout must cover a full ask round trip, LLM included.
		cfg.WriteTimeout = 5 * time.Minute
	}
	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = 10 * time.Second
	}
	if cfg.AskTimeout == 0 {
		cfg.AskTimeout = 2 * time.Minute
	}
	if cfg.RateLimit == 0 {
		cfg.RateLimit = defaultRateLimit
	}
	if cfg.RateBurst == 0 {
		cfg.RateBurst = defaultRateBurst
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.New()
	}
	if cfg.MetricsRegistry == nil {
		cfg.MetricsRegistry = prometheus.DefaultRegisterer
	}
	if cfg.MetricsGatherer == nil {
		cfg.MetricsGatherer = prometheus.DefaultGatherer
	}

	s := &Server{
		asker:   eng,
		cfg:     cfg,
		log:     cfg.Logger,
		pingers: cfg.Pingers,
		metrics: newServerMetrics(cfg.MetricsRegistry),
	}

	rl, stopRL := newRateLimiter(cfg.RateLimit, cfg.RateBurst, cfg.Logger)
	s.stopRL = stopRL

	if cfg.APIKey == "" {
		cfg.Logger.Warn("server: HYRAG_API_KEY not set — API authentication is disabled")
	}
	protected := func(name string, h http.Handler) http.Handler {
		return authMiddleware(cfg.APIKey, rl.middleware(s.instrument(name, h)))
	}

	mux := http.NewServeMux()
	mux.Handle("POST /api/ask", protected("ask", http.HandlerFunc(s.handleAsk)))
	mux.Handle("GET /api/status", protected("status", http.HandlerFunc(s.handleStatus)))
	mux.Handle("GET /api/health", s.instrument("health", http.HandlerFunc(s.handleHealth)))
	mux.Handle("GET /api/ready", s.instrument("ready", http.HandlerFunc(s.handleReady)))
	mux.Handle("GET /metrics", promhttp.HandlerFor(cfg.MetricsGatherer, promhttp.HandlerOpts{}))

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler:      requestLogger(cfg.Logger, mux),
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}

	return s, nil
}

// Start begins listening and serving HTTP requests. It blocks until the
// context is cancelled, then performs a graceful shutdown.
func (s *Server) Start(ctx context.Context) error {
	errCh := make(chan error, 1)

	go func() {
		s.log.Info("server listening", slog.String("addr", s.httpServer.Addr))
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		s.stopRL()
		return fmt.Errorf("server: listen error: %w", err)
	case <-ctx.Done():
		s.stopRL()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
		defer cancel()
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server: graceful shutdown failed: %w", err)
		}
		return nil
	}
}

// handleAsk handles POST /api/ask. The full retrieval-and-synthesis round
// trip runs under AskTimeout; the response carries the answer, the evidence
// it rests on, and which retrieval strategy produced it.
func (s *Server) handleAsk(w http.ResponseWriter, r *http.Request) {
	log := logging.FromContext(r.Context())
	start := time.Now()

	var req askRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.finishAsk("error", start)
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.Question == "" {
		s.finishAsk("error", start)
		http.Error(w, "question is required", http.StatusBadRequest)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), s.cfg.AskTimeout)
	defer cancel()

	ans, err := s.askWithMode(ctx, req)
	if err != nil {
		switch {
		case errors.Is(err, rag.ErrInvalidInput):
			s.finishAsk("error", start)
			http.Error(w, err.Error(), http.StatusBadRequest)
		case errors.Is(ctx.Err(), context.DeadlineExceeded):
			s.finishAsk("timeout", start)
			log.Error("ask timed out", slog.Any("error", err))
			http.Error(w, "request timed out", http.StatusGatewayTimeout)
		default:
			s.finishAsk("error", start)
			log.Error("ask failed", slog.Any("error", err))
			http.Error(w, "internal error", http.StatusInternalServerError)
		}
		return
	}

	resp := askResponse{
		Answer:       ans.Text,
		StrategyUsed: string(ans.Strategy),
		LatencyMS:    ans.LatencyMS,
		Evidence:     make([]evidenceItem, len(ans.Evidence)),
	}
	for i, c := range ans.Evidence {
		resp.Evidence[i] = evidenceItem{
			Text:   c.Document.Content,
			Source: c.Document.Source,
			Score:  c.Score,
			Origin: string(c.Document.Origin),
			Rank:   c.Rank,
		}
	}

	s.finishAsk("ok", start)
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		log.Error("ask encode error", slog.Any("error", err))
	}
}

// askWithMode validates the optional mode override and runs the engine.
func (s *Server) askWithMode(ctx context.Context, req askRequest) (*engine.Answer, error) {
	mode, err := engine.ParseMode(req.Mode)
	if err != nil {
		return nil, err
	}
	return s.asker.Ask(ctx, req.Question, mode)
}

// finishAsk records the outcome metrics for one /api/ask request.
func (s *Server) finishAsk(outcome string, start time.Time) {
	s.metrics.askRequestsTotal.WithLabelValues(outcome).Inc()
	s.metrics.askDurationSeconds.WithLabelValues(outcome).Observe(time.Since(start).Seconds())
}

// handleStatus handles GET /api/status with current cache counts.
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	log := logging.FromContext(r.Context())

	st, err := s.asker.Status(r.Context())
	if err != nil {
		log.Error("status failed", slog.Any("error", err))
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(statusResponse{Documents: st.Documents, Vectors: st.Vectors}); err != nil {
		log.Error("status encode error", slog.Any("error", err))
	}
}

// handleHealth handles GET /api/health for liveness checks.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

// instrument wraps a handler to record request count and latency under the
// given logical handler name.
func (s *Server) instrument(name string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rw := &responseWriter{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()
		next.ServeHTTP(rw, r)
		s.metrics.httpRequestsTotal.WithLabelValues(r.Method, name, fmt.Sprintf("%d", rw.status)).Inc()
		s.metrics.httpDurationSeconds.WithLabelValues(r.Method, name).Observe(time.Since(start).Seconds())
	})
}
