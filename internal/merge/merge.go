// Package merge combines offline and online retrieval legs into one ranked
// evidence list, deduplicating semantically equivalent results and deciding
// which online results are novel enough to cache.
package merge

import (
	"sort"

	"github.com/r4js/hyrag-go/internal/rag"
)

const (
	// DefaultThetaDup is the cosine similarity at or above which an online
	// result counts as a duplicate of an existing document.
	DefaultThetaDup = 0.95

	// DefaultEpsilon is the score margin within which an offline candidate
	// outranks an online one. The cache already paid for the offline result;
	// near-ties should not churn the ranking between runs.
	DefaultEpsilon = 0.05
)

// Item is one scored retrieval result entering the merge: the document, its
// unit-normalised embedding, and its cosine similarity to the query.
type Item struct {
	Doc   rag.Document
	Vec   []float32
	Score float32

	// CachedDup marks an online item whose content the cache already holds
	// (set by the orchestrator's whole-cache screen). It stays eligible as
	// evidence this turn but is never re-cached.
	CachedDup bool
}

// Merger implements the dedup-and-rank step between the two retrieval legs.
// The zero value is not usable; construct with New.
type Merger struct {
	thetaDup float32
	epsilon  float32
}

// New creates a Merger. Non-positive parameters fall back to defaults.
func New(thetaDup, epsilon float32) *Merger {
	if thetaDup <= 0 {
		thetaDup = DefaultThetaDup
	}
	if epsilon < 0 {
		epsilon = DefaultEpsilon
	}
	return &Merger{thetaDup: thetaDup, epsilon: epsilon}
}

// Merge deduplicates online items, ranks the union of both legs best-first,
// and returns the top-k evidence plus the novel online documents to feed
// cache growth.
//
// Duplicate policy: an online item whose embedding reaches thetaDup cosine
// similarity against a cached document — an offline-leg item, or flagged
// CachedDup by the orchestrator — still competes for evidence this turn, but
// is excluded from the cache-growth set; the cached copy is canonical. Within
// one online batch, a later item duplicating an earlier one is dropped
// outright: it adds nothing the earlier copy does not.
//
// Ranking: by score descending, with offline items granted an epsilon head
// start so a marginally better online result does not displace a cached one.
// Novel online items are cached even when they fall outside the top-k.
func (m *Merger) Merge(offline, online []Item, k int) rag.MergedResult {
	var res rag.MergedResult
	if k <= 0 {
		return res
	}

	kept := make([]Item, 0, len(online))
	for _, on := range online {
		if m.duplicateOf(on, kept) {
			continue
		}
		kept = append(kept, on)
	}

	for _, it := range kept {
		if it.CachedDup || m.duplicateOf(it, offline) {
			continue
		}
		res.NewDocuments = append(res.NewDocuments, it.Doc)
		res.NewEmbeddings = append(res.NewEmbeddings, it.Vec)
	}

	type ranked struct {
		item      Item
		effective float32
	}
	pool := make([]ranked, 0, len(offline)+len(kept))
	for _, it := range offline {
		pool = append(pool, ranked{item: it, effective: it.Score + m.epsilon})
	}
	for _, it := range kept {
		pool = append(pool, ranked{item: it, effective: it.Score})
	}

	// Stable sort: offline items were appended first, so exact effective-score
	// ties also resolve in their favour.
	sort.SliceStable(pool, func(i, j int) bool {
		return pool[i].effective > pool[j].effective
	})

	if len(pool) > k {
		pool = pool[:k]
	}
	res.Evidence = make([]rag.Candidate, len(pool))
	for i, r := range pool {
		res.Evidence[i] = rag.Candidate{
			Document: r.item.Doc,
			Score:    r.item.Score,
			Rank:     i + 1,
		}
	}
	return res
}

// duplicateOf reports whether it is a semantic duplicate of any item in pool.
func (m *Merger) duplicateOf(it Item, pool []Item) bool {
	for _, p := range pool {
		if p.Doc.ID == it.Doc.ID {
			return true
		}
		if rag.Cosine(it.Vec, p.Vec) >= m.thetaDup {
			return true
		}
	}
	return false
}
