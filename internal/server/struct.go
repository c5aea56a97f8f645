package server

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/r4js/hyrag-go/internal/engine"
)

// Config holds the HTTP server configuration.
type Config struct {
	// Host is the address to bind to (default: 127.0.0.1).
	Host string
	// Port is the TCP port to listen on (default: 8080).
	Port int
	// ReadTimeout is the maximum duration for reading the request.
	ReadTimeout time.Duration
	// WriteTimeout is the maximum duration for writing the response.
	WriteTimeout time.Duration
	// ShutdownTimeout is the maximum duration for a graceful shutdown.
	ShutdownTimeout time.Duration
	// AskTimeout bounds one /api/ask request end to end: embedding, both
	// retrieval legs, and answer synthesis. Defaults to 2 minutes.
	AskTimeout time.Duration
	// Logger is the structured logger used by the server and its handlers.
	// If nil, [logging.New] is used.
	Logger *slog.Logger
	// Pingers is the ordered list of dependency probes run by GET /api/ready.
	// If empty, /api/ready returns 200 with no checks (liveness-only mode).
	Pingers []Pinger
	// RateLimit is the sustained request rate allowed per IP on rate-limited
	// endpoints (requests/second). Defaults to 5 if zero — every ask request
	// costs an embedding, possibly a web search, and an LLM call.
	RateLimit float64
	// RateBurst is the maximum instantaneous burst per IP. Defaults to 10 if zero.
	RateBurst int
	// APIKey is the Bearer token required on all protected /api/* routes.
	// If empty, authentication is disabled (development mode).
	APIKey string
	// MetricsRegistry receives the server's Prometheus metrics. Defaults to
	// prometheus.DefaultRegisterer.
	MetricsRegistry prometheus.Registerer
	// MetricsGatherer backs GET /metrics. Defaults to prometheus.DefaultGatherer.
	MetricsGatherer prometheus.Gatherer
}

// asker is the interface handleAsk and handleStatus call into the retrieval
// engine through. *engine.Engine satisfies it; tests inject a fake.
type asker interface {
	// Ask retrieves evidence for the question and synthesizes an answer.
	Ask(ctx context.Context, question string, mode engine.Mode) (*engine.Answer, error)
	// Status returns current cache counts.
	Status(ctx context.Context) (engine.Status, error)
}

// Server is the HTTP server that exposes the retrieval engine.
type Server struct {
	// asker is the retrieval engine; overridden by a fake in tests.
	asker asker
	// cfg holds the resolved server configuration.
	cfg *Config
	// httpServer is the underlying net/http server.
	httpServer *http.Server
	// log is the structured logger for this server instance.
	log *slog.Logger
	// pingers is the ordered list of dependency probes for GET /api/ready.
	pingers []Pinger
	// stopRL stops the rate limiter's background eviction goroutine on shutdown.
	stopRL func()
	// metrics holds the server's Prometheus instruments.
	metrics *serverMetrics
}

// askRequest is the JSON body for POST /api/ask.
type askRequest struct {
	// Question is the user's natural language question.
	Question string `json:"question"`
	// Mode optionally forces a retrieval leg: auto, offline, online, hybrid.
	Mode string `json:"mode,omitempty"`
}

// evidenceItem is one ranked evidence passage in an askResponse.
type evidenceItem struct {
	// Text is the passage content.
	Text string `json:"text"`
	// Source is the passage's origin URL or seed label.
	Source string `json:"source,omitempty"`
	// Score is the cosine similarity against the question.
	Score float32 `json:"score"`
	// Origin records how the passage entered the cache: "offline-seed" or
	// "online-cached". Fresh online passages carry "online-cached" too.
	Origin string `json:"origin"`
	// Rank is the 1-based position in the merged ranking.
	Rank int `json:"rank"`
}

// askResponse is the JSON response for POST /api/ask.
type askResponse struct {
	// Answer is the synthesized answer text.
	Answer string `json:"answer"`
	// StrategyUsed names the retrieval path that produced the evidence:
	// offline, online, hybrid, or offline-degraded.
	StrategyUsed string `json:"strategy_used"`
	// LatencyMS is the end-to-end latency in milliseconds.
	LatencyMS int64 `json:"latency_ms"`
	// Evidence is the ranked evidence backing the answer.
	Evidence []evidenceItem `json:"evidence"`
}

// statusResponse is the JSON response for GET /api/status.
type statusResponse struct {
	// Documents is the number of documents in the cache.
	Documents int `json:"documents"`
	// Vectors is the number of entries in the vector index.
	Vectors int `json:"vectors"`
}
