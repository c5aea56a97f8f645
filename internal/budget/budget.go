// Package budget provides token budget estimation and evidence trimming for
// answer synthesis. Because multiple LLM backends with different tokenizers
// are supported, this package uses a conservative character-based heuristic:
// 1 token ≈ 4 characters (English prose). This deliberately under-estimates
// token counts to leave headroom for model-specific overhead.
package budget

import (
	"github.com/cloudwego/eino/schema"

	"github.com/r4js/hyrag-go/internal/rag"
)

const (
	// charsPerToken is the conservative character-to-token ratio used for
	// estimation. 4 chars/token is standard for English prose; using 3 would
	// be more aggressive but risks overflowing context windows.
	charsPerToken = 4

	// DefaultMaxContextTokens is the default input context budget in tokens.
	// Conservative enough to fit within 8k-context models (Llama 3 8B,
	// GPT-3.5) while leaving room for the output. Override per call.
	DefaultMaxContextTokens = 6000
)

// Estimate returns a rough token count for s using the character heuristic.
func Estimate(s string) int {
	n := len(s) / charsPerToken
	if n == 0 && len(s) > 0 {
		return 1
	}
	return n
}

// EstimateMessages returns the estimated total token count for a slice of
// schema.Message values, summing role + content for each message.
func EstimateMessages(msgs []*schema.Message) int {
	total := 0
	for _, m := range msgs {
		// Each message has a small per-message overhead (~4 tokens in most APIs).
		total += 4
		total += Estimate(string(m.Role))
		total += Estimate(m.Content)
	}
	return total
}

// TrimEvidence drops the lowest-ranked evidence items until the estimated
// token count of fixedTokens plus the surviving evidence content fits within
// maxTokens. Evidence is assumed best-first, so trimming from the tail loses
// the least valuable context. At least one item is kept when any fits.
func TrimEvidence(evidence []rag.Candidate, fixedTokens, maxTokens int) []rag.Candidate {
	for len(evidence) > 0 {
		total := fixedTokens
		for _, c := range evidence {
			total += Estimate(c.Document.Content)
		}
		if total <= maxTokens {
			break
		}
		evidence = evidence[:len(evidence)-1]
	}
	return evidence
}
