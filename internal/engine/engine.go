// Package engine implements the hybrid retrieval orchestrator: the offline
// cache leg, the threshold-gated online leg, merge and dedup, answer
// synthesis, and asynchronous cache growth.
//
// Query flow: embed the question once, overfetch the cache, and if the best
// cached hit clears the confidence threshold answer from cache alone.
// Otherwise run the online leg, merge the two result sets, and feed novel
// online results back into the cache so the next similar question stays
// offline. An online failure degrades the answer to cached evidence; it never
// fails the query.
package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/r4js/hyrag-go/internal/answer"
	"github.com/r4js/hyrag-go/internal/index"
	"github.com/r4js/hyrag-go/internal/logging"
	"github.com/r4js/hyrag-go/internal/merge"
	"github.com/r4js/hyrag-go/internal/rag"
	"github.com/r4js/hyrag-go/internal/websearch"
)

const (
	// DefaultThetaConfident is the cosine score the best cached hit must reach
	// for the cache alone to be trusted without consulting the online leg.
	DefaultThetaConfident = 0.70

	// DefaultTopK is the number of evidence items returned per query.
	DefaultTopK = 3

	// overfetchFactor is how many times k the cache leg retrieves, so dedup
	// and merging have slack to work with.
	overfetchFactor = 2

	// defaultGrowthQueueSize bounds the async cache-growth queue.
	defaultGrowthQueueSize = 128
)

// Mode selects which retrieval legs a query may use.
type Mode string

const (
	// ModeAuto applies the confidence threshold to decide whether the online
	// leg runs. This is the default.
	ModeAuto Mode = "auto"
	// ModeOffline answers from the cache only, regardless of confidence.
	ModeOffline Mode = "offline"
	// ModeOnline forces the online leg and builds evidence from it alone;
	// cached candidates are not merged in. Novel results still grow the
	// cache, and an online failure degrades to cached evidence.
	ModeOnline Mode = "online"
	// ModeHybrid always runs both legs and merges.
	ModeHybrid Mode = "hybrid"
)

// ParseMode validates a mode string, defaulting empty to ModeAuto.
func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case "", ModeAuto:
		return ModeAuto, nil
	case ModeOffline, ModeOnline, ModeHybrid:
		return Mode(s), nil
	default:
		return "", fmt.Errorf("engine: unknown mode %q — valid values: auto, offline, online, hybrid: %w",
			s, rag.ErrInvalidInput)
	}
}

// Config holds the dependencies and tuning for an Engine.
type Config struct {
	// Embedder embeds the query and any online results. Required.
	Embedder rag.Embedder
	// Index is the vector index over the cache. Required.
	Index rag.VectorIndex
	// Store is the document store paired with Index. Required.
	Store rag.DocumentStore
	// Online is the live search leg. Optional: when nil the engine runs
	// offline-only and ModeOnline queries degrade.
	Online rag.OnlineRetriever
	// Merger combines the two legs. Defaults to merge.New(0, -1).
	Merger *merge.Merger
	// Synthesizer generates answer text for Ask. Optional: when nil, Ask
	// returns an error but Retrieve still works.
	Synthesizer *answer.Synthesizer

	// EmbeddingModel is the model identifier stamped on cached documents.
	EmbeddingModel string

	// ThetaConfident overrides DefaultThetaConfident when positive.
	ThetaConfident float32
	// TopK overrides DefaultTopK when positive.
	TopK int
	// OnlineLimit is the number of online results requested per query.
	// Defaults to the retriever's own default when zero.
	OnlineLimit int
	// ThetaDup is the duplicate threshold used when screening online results
	// against the whole cache. Defaults to merge.DefaultThetaDup.
	ThetaDup float32

	// SyncGrowth applies cache growth inline on the query path instead of
	// through the background worker. Used by tests and the one-shot CLI path.
	SyncGrowth bool
	// GrowthQueueSize bounds the async growth queue. Defaults to 128.
	GrowthQueueSize int

	// Registry receives the engine's Prometheus metrics. Defaults to the
	// global default registerer.
	Registry prometheus.Registerer
}

// Result is the outcome of a retrieval: ranked evidence and the strategy that
// produced it.
type Result struct {
	Evidence []rag.Candidate
	Strategy rag.Strategy
}

// Answer is the outcome of a full question-answering pass.
type Answer struct {
	Text      string
	Evidence  []rag.Candidate
	Strategy  rag.Strategy
	LatencyMS int64
}

// growthBatch is one unit of work for the cache-growth worker.
type growthBatch struct {
	docs []rag.Document
	vecs [][]float32
}

// Engine is the hybrid retrieval orchestrator. Safe for concurrent use.
type Engine struct {
	cfg     Config
	merger  *merge.Merger
	metrics *engineMetrics

	growth chan growthBatch
	wg     sync.WaitGroup

	closeOnce sync.Once
}

// New validates the configuration, verifies cache integrity, and starts the
// cache-growth worker. The integrity check runs before anything is served: an
// index/store mismatch returns rag.ErrIndexCorruption and the engine refuses
// to start.
func New(ctx context.Context, cfg Config) (*Engine, error) {
	if cfg.Embedder == nil {
		return nil, fmt.Errorf("engine: Embedder must not be nil")
	}
	if cfg.Index == nil {
		return nil, fmt.Errorf("engine: Index must not be nil")
	}
	if cfg.Store == nil {
		return nil, fmt.Errorf("engine: Store must not be nil")
	}
	if cfg.ThetaConfident <= 0 {
		cfg.ThetaConfident = DefaultThetaConfident
	}
	if cfg.TopK <= 0 {
		cfg.TopK = DefaultTopK
	}
	if cfg.ThetaDup <= 0 {
		cfg.ThetaDup = merge.DefaultThetaDup
	}
	if cfg.GrowthQueueSize <= 0 {
		cfg.GrowthQueueSize = defaultGrowthQueueSize
	}
	if cfg.Registry == nil {
		cfg.Registry = prometheus.DefaultRegisterer
	}

	if err := index.CheckIntegrity(ctx, cfg.Index, cfg.Store); err != nil {
		return nil, err
	}

	merger := cfg.Merger
	if merger == nil {
		merger = merge.New(cfg.ThetaDup, -1)
	}

	e := &Engine{
		cfg:     cfg,
		merger:  merger,
		metrics: newEngineMetrics(cfg.Registry),
	}
	if n, err := cfg.Store.Count(ctx); err == nil {
		e.metrics.cacheDocuments.Set(float64(n))
	}

	if !cfg.SyncGrowth {
		e.growth = make(chan growthBatch, cfg.GrowthQueueSize)
		e.wg.Add(1)
		go e.growthWorker()
	}
	return e, nil
}

// Close drains and stops the cache-growth worker. Safe to call twice.
func (e *Engine) Close() {
	e.closeOnce.Do(func() {
		if e.growth != nil {
			close(e.growth)
		}
		e.wg.Wait()
	})
}

// Ask retrieves evidence for the question and synthesizes an answer from it.
func (e *Engine) Ask(ctx context.Context, question string, mode Mode) (*Answer, error) {
	if e.cfg.Synthesizer == nil {
		return nil, fmt.Errorf("engine: no synthesizer configured — retrieval-only deployment")
	}
	start := time.Now()

	res, err := e.Retrieve(ctx, question, mode)
	if err != nil {
		return nil, err
	}
	text, err := e.cfg.Synthesizer.Synthesize(ctx, question, res.Evidence)
	if err != nil {
		return nil, err
	}
	return &Answer{
		Text:      text,
		Evidence:  res.Evidence,
		Strategy:  res.Strategy,
		LatencyMS: time.Since(start).Milliseconds(),
	}, nil
}

// AskStream is Ask with the answer text written incrementally to w as the
// model produces it.
func (e *Engine) AskStream(ctx context.Context, question string, mode Mode, w io.Writer) (*Answer, error) {
	if e.cfg.Synthesizer == nil {
		return nil, fmt.Errorf("engine: no synthesizer configured — retrieval-only deployment")
	}
	start := time.Now()

	res, err := e.Retrieve(ctx, question, mode)
	if err != nil {
		return nil, err
	}
	text, err := e.cfg.Synthesizer.Stream(ctx, question, res.Evidence, w)
	if err != nil {
		return nil, err
	}
	return &Answer{
		Text:      text,
		Evidence:  res.Evidence,
		Strategy:  res.Strategy,
		LatencyMS: time.Since(start).Milliseconds(),
	}, nil
}

// Retrieve runs the hybrid retrieval flow for one question and returns ranked
// evidence plus the strategy used.
func (e *Engine) Retrieve(ctx context.Context, question string, mode Mode) (*Result, error) {
	if strings.TrimSpace(question) == "" {
		return nil, fmt.Errorf("engine: empty question: %w", rag.ErrInvalidInput)
	}
	if mode == "" {
		mode = ModeAuto
	}
	log := logging.FromContext(ctx)
	start := time.Now()

	queryVec, err := e.embedOne(ctx, question)
	if err != nil {
		return nil, fmt.Errorf("engine: embedding question: %w", err)
	}

	offline, err := e.offlineLeg(ctx, queryVec)
	if err != nil {
		return nil, err
	}

	res, err := e.decide(ctx, question, queryVec, offline, mode)
	if err != nil {
		return nil, err
	}

	e.metrics.queriesTotal.WithLabelValues(string(res.Strategy)).Inc()
	e.metrics.queryDurationSeconds.WithLabelValues(string(res.Strategy)).Observe(time.Since(start).Seconds())
	log.Debug("retrieval complete",
		slog.String("strategy", string(res.Strategy)),
		slog.Int("evidence", len(res.Evidence)),
		slog.Duration("elapsed", time.Since(start)))
	return res, nil
}

// decide applies the mode and confidence policy, runs the online leg when
// called for, and merges.
func (e *Engine) decide(ctx context.Context, question string, queryVec []float32, offline []merge.Item, mode Mode) (*Result, error) {
	log := logging.FromContext(ctx)

	var bestScore float32
	if len(offline) > 0 {
		bestScore = offline[0].Score
	}

	wantOnline := false
	switch mode {
	case ModeOffline:
		wantOnline = false
	case ModeOnline, ModeHybrid:
		wantOnline = true
	default: // ModeAuto
		wantOnline = len(offline) == 0 || bestScore < e.cfg.ThetaConfident
	}

	if !wantOnline || e.cfg.Online == nil {
		if wantOnline {
			// Online requested but no retriever wired: degraded, not failed.
			return &Result{
				Evidence: e.offlineEvidence(offline),
				Strategy: rag.StrategyOfflineDegraded,
			}, nil
		}
		return &Result{
			Evidence: e.offlineEvidence(offline),
			Strategy: rag.StrategyOffline,
		}, nil
	}

	online, err := e.onlineLeg(ctx, question, queryVec)
	if err != nil {
		e.metrics.onlineFailuresTotal.WithLabelValues(failureClass(err)).Inc()
		log.Warn("online leg failed, degrading to cached evidence", slog.Any("error", err))
		return &Result{
			Evidence: e.offlineEvidence(offline),
			Strategy: rag.StrategyOfflineDegraded,
		}, nil
	}

	if mode == ModeOnline {
		// Forced online: the caller asked for fresh evidence only, so the
		// offline leg is excluded from the merge. Growth still applies.
		merged := e.merger.Merge(nil, online, e.cfg.TopK)
		e.scheduleGrowth(ctx, merged)
		return &Result{Evidence: merged.Evidence, Strategy: rag.StrategyOnline}, nil
	}

	merged := e.merger.Merge(offline, online, e.cfg.TopK)
	e.scheduleGrowth(ctx, merged)

	strategy := rag.StrategyHybrid
	if len(offline) == 0 {
		strategy = rag.StrategyOnline
	}
	return &Result{Evidence: merged.Evidence, Strategy: strategy}, nil
}

// offlineLeg overfetches the cache and resolves hits to documents. A hit whose
// document is missing means the two stores diverged after startup; that is
// corruption, not a miss.
func (e *Engine) offlineLeg(ctx context.Context, queryVec []float32) ([]merge.Item, error) {
	hits, err := e.cfg.Index.Query(ctx, queryVec, e.cfg.TopK*overfetchFactor)
	if err != nil {
		return nil, fmt.Errorf("engine: cache query: %w", err)
	}

	items := make([]merge.Item, 0, len(hits))
	for _, h := range hits {
		doc, err := e.cfg.Store.Get(ctx, h.ID)
		if err != nil {
			if errors.Is(err, rag.ErrNotFound) {
				return nil, fmt.Errorf("engine: indexed document %s missing from store: %w",
					h.ID, rag.ErrIndexCorruption)
			}
			return nil, fmt.Errorf("engine: loading document %s: %w", h.ID, err)
		}
		items = append(items, merge.Item{Doc: doc, Score: h.Score})
	}
	return items, nil
}

// onlineLeg searches the web, embeds the results, and flags anything the
// cache already covers so the merger keeps it out of cache growth.
func (e *Engine) onlineLeg(ctx context.Context, question string, queryVec []float32) ([]merge.Item, error) {
	raw, err := e.cfg.Online.Search(ctx, question, e.cfg.OnlineLimit)
	if err != nil {
		return nil, err
	}
	if len(raw) == 0 {
		return nil, nil
	}

	texts := make([]string, len(raw))
	for i, r := range raw {
		texts[i] = r.Content
	}
	vecs, err := e.cfg.Embedder.Embed(ctx, texts)
	if err != nil {
		// Treat like a provider failure: the query degrades to cache.
		return nil, fmt.Errorf("%v: %w", err, websearch.ErrProvider)
	}
	if len(vecs) != len(raw) {
		return nil, fmt.Errorf("engine: embedder returned %d vectors for %d results: %w",
			len(vecs), len(raw), websearch.ErrProvider)
	}

	now := time.Now().UTC()
	items := make([]merge.Item, 0, len(raw))
	for i, r := range raw {
		vec := rag.NormalizeVector(vecs[i])
		dup, err := e.cachedDuplicate(ctx, r.Content, vec)
		if err != nil {
			return nil, err
		}
		items = append(items, merge.Item{
			Doc: rag.Document{
				ID:         rag.DocumentID(r.Content),
				Content:    r.Content,
				Source:     r.Source,
				Origin:     rag.OriginOnline,
				Model:      e.cfg.EmbeddingModel,
				IngestedAt: now,
			},
			Vec:       vec,
			Score:     rag.Cosine(queryVec, vec),
			CachedDup: dup,
		})
	}
	return items, nil
}

// cachedDuplicate reports whether an online result duplicates the cache,
// either exactly (same normalised text, so same ID) or semantically (nearest
// cached vector at or above the duplicate threshold).
func (e *Engine) cachedDuplicate(ctx context.Context, content string, vec []float32) (bool, error) {
	ok, err := e.cfg.Store.Contains(ctx, rag.DocumentID(content))
	if err != nil {
		return false, fmt.Errorf("engine: duplicate check: %w", err)
	}
	if ok {
		return true, nil
	}
	hits, err := e.cfg.Index.Query(ctx, vec, 1)
	if err != nil {
		return false, fmt.Errorf("engine: duplicate check: %w", err)
	}
	return len(hits) > 0 && hits[0].Score >= e.cfg.ThetaDup, nil
}

// offlineEvidence ranks and caps the cache leg's items as final evidence.
func (e *Engine) offlineEvidence(offline []merge.Item) []rag.Candidate {
	n := len(offline)
	if n > e.cfg.TopK {
		n = e.cfg.TopK
	}
	out := make([]rag.Candidate, n)
	for i := 0; i < n; i++ {
		out[i] = rag.Candidate{Document: offline[i].Doc, Score: offline[i].Score, Rank: i + 1}
	}
	return out
}

// scheduleGrowth hands novel online documents to the cache-growth worker.
// The enqueue never blocks the query path: when the queue is full the batch
// is dropped, which is safe because the same results will recur the next time
// a similar question goes online.
func (e *Engine) scheduleGrowth(ctx context.Context, merged rag.MergedResult) {
	if len(merged.NewDocuments) == 0 {
		return
	}
	batch := growthBatch{docs: merged.NewDocuments, vecs: merged.NewEmbeddings}

	if e.cfg.SyncGrowth {
		e.applyGrowth(context.WithoutCancel(ctx), batch)
		return
	}
	select {
	case e.growth <- batch:
		e.metrics.growthEnqueuedTotal.Add(float64(len(batch.docs)))
	default:
		e.metrics.growthDroppedTotal.Inc()
		logging.FromContext(ctx).Warn("cache-growth queue full, dropping batch",
			slog.Int("documents", len(batch.docs)))
	}
}

// growthWorker applies growth batches until the queue is closed.
func (e *Engine) growthWorker() {
	defer e.wg.Done()
	ctx := context.Background()
	for batch := range e.growth {
		e.applyGrowth(ctx, batch)
	}
}

// applyGrowth writes a batch into the store and the index. Both writes are
// idempotent by document ID, so a batch that is retried or half-applied
// before a crash converges on the next attempt. The document is written
// first: the startup integrity check treats a stored-but-unindexed document
// the same as any other torn write.
func (e *Engine) applyGrowth(ctx context.Context, batch growthBatch) {
	log := logging.FromContext(ctx)
	for i, doc := range batch.docs {
		if i >= len(batch.vecs) {
			log.Error("growth batch missing embedding", slog.String("id", doc.ID))
			break
		}
		if err := e.cfg.Store.Put(ctx, doc); err != nil {
			log.Error("cache growth: storing document", slog.String("id", doc.ID), slog.Any("error", err))
			continue
		}
		if err := e.cfg.Index.Insert(ctx, doc.ID, batch.vecs[i]); err != nil {
			log.Error("cache growth: indexing document", slog.String("id", doc.ID), slog.Any("error", err))
			continue
		}
	}
	if n, err := e.cfg.Store.Count(ctx); err == nil {
		e.metrics.cacheDocuments.Set(float64(n))
	}
}

// Status reports cache size for the status command and readiness probes.
type Status struct {
	Documents int
	Vectors   int
}

// Status returns current cache counts.
func (e *Engine) Status(ctx context.Context) (Status, error) {
	docs, err := e.cfg.Store.Count(ctx)
	if err != nil {
		return Status{}, fmt.Errorf("engine: status: %w", err)
	}
	vecs, err := e.cfg.Index.Count(ctx)
	if err != nil {
		return Status{}, fmt.Errorf("engine: status: %w", err)
	}
	return Status{Documents: docs, Vectors: vecs}, nil
}

// embedOne embeds a single text and returns its unit vector.
func (e *Engine) embedOne(ctx context.Context, text string) ([]float32, error) {
	vecs, err := e.cfg.Embedder.Embed(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	if len(vecs) != 1 {
		return nil, fmt.Errorf("engine: embedder returned %d vectors for 1 text: %w",
			len(vecs), rag.ErrEmbedding)
	}
	return rag.NormalizeVector(vecs[0]), nil
}

// failureClass maps an online-leg error to its metric label.
func failureClass(err error) string {
	switch {
	case errors.Is(err, websearch.ErrRateLimited):
		return "rate_limited"
	case errors.Is(err, websearch.ErrNetwork):
		return "network"
	default:
		return "provider"
	}
}
