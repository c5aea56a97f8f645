// Package answer turns ranked evidence into a grounded natural-language
// answer using the configured chat model. It owns prompt assembly and keeps
// the evidence context within the model's token budget.
package answer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"

	"github.com/r4js/hyrag-go/internal/budget"
	"github.com/r4js/hyrag-go/internal/logging"
	"github.com/r4js/hyrag-go/internal/rag"
)

// systemPrompt pins the model to the retrieved context. Questions the
// evidence cannot answer should be declined, not improvised.
const systemPrompt = `You are a careful research assistant. Answer factually using the given CONTEXT.
The CONTEXT contains numbered passages retrieved for the user's question, each
with its source. Base your answer only on those passages. If the CONTEXT does
not contain enough information to answer, say so plainly instead of guessing.
Keep answers concise and cite passage numbers like [1] where a claim comes
from a specific passage.`

// Config holds the settings for a Synthesizer.
type Config struct {
	// ChatModel generates the answer text. Required.
	ChatModel model.ChatModel //nolint:staticcheck // SA1019: model.ChatModel deprecated upstream; migration tracked separately

	// MaxContextTokens bounds the estimated size of the assembled input.
	// Defaults to budget.DefaultMaxContextTokens.
	MaxContextTokens int
}

// Synthesizer assembles evidence into a prompt and runs the chat model.
// Safe for concurrent use.
type Synthesizer struct {
	chatModel        model.ChatModel //nolint:staticcheck // SA1019: model.ChatModel deprecated upstream; migration tracked separately
	maxContextTokens int
}

// New constructs a Synthesizer from the provided Config.
func New(cfg *Config) (*Synthesizer, error) {
	if cfg.ChatModel == nil {
		return nil, fmt.Errorf("answer: ChatModel must not be nil")
	}
	maxCtx := cfg.MaxContextTokens
	if maxCtx <= 0 {
		maxCtx = budget.DefaultMaxContextTokens
	}
	return &Synthesizer{chatModel: cfg.ChatModel, maxContextTokens: maxCtx}, nil
}

// Synthesize generates an answer for the question grounded in the evidence.
// Evidence must be ranked best-first; low-ranked items are dropped if the
// assembled context would exceed the token budget.
func (s *Synthesizer) Synthesize(ctx context.Context, question string, evidence []rag.Candidate) (string, error) {
	messages := s.buildMessages(ctx, question, evidence)
	out, err := s.chatModel.Generate(ctx, messages)
	if err != nil {
		return "", fmt.Errorf("answer: generate failed: %w", err)
	}
	return out.Content, nil
}

// Stream generates an answer and writes it incrementally to w, returning the
// full accumulated text.
func (s *Synthesizer) Stream(ctx context.Context, question string, evidence []rag.Candidate, w io.Writer) (string, error) {
	messages := s.buildMessages(ctx, question, evidence)
	sr, err := s.chatModel.Stream(ctx, messages)
	if err != nil {
		return "", fmt.Errorf("answer: stream failed: %w", err)
	}
	defer sr.Close()

	var buf strings.Builder
	for {
		msg, err := sr.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return "", fmt.Errorf("answer: stream receive error: %w", err)
		}
		if msg != nil && msg.Content != "" {
			buf.WriteString(msg.Content)
			if _, err := fmt.Fprint(w, msg.Content); err != nil {
				return "", fmt.Errorf("answer: write error: %w", err)
			}
		}
	}
	return buf.String(), nil
}

// buildMessages assembles the system prompt, the evidence context, and the
// user question, trimming evidence to fit the token budget.
func (s *Synthesizer) buildMessages(ctx context.Context, question string, evidence []rag.Candidate) []*schema.Message {
	fixed := []*schema.Message{
		schema.SystemMessage(systemPrompt),
		schema.UserMessage(question),
	}
	fixedTokens := budget.EstimateMessages(fixed)

	kept := budget.TrimEvidence(evidence, fixedTokens, s.maxContextTokens)
	if len(kept) < len(evidence) {
		logging.FromContext(ctx).Warn("answer: evidence trimmed to fit context budget",
			slog.Int("kept", len(kept)),
			slog.Int("dropped", len(evidence)-len(kept)))
	}

	messages := []*schema.Message{schema.SystemMessage(systemPrompt)}
	if len(kept) > 0 {
		messages = append(messages, schema.SystemMessage(FormatContext(kept)))
	}
	return append(messages, schema.UserMessage(question))
}

// FormatContext renders evidence as the numbered CONTEXT block the system
// prompt refers to.
func FormatContext(evidence []rag.Candidate) string {
	var b strings.Builder
	b.WriteString("CONTEXT:\n")
	for i, c := range evidence {
		fmt.Fprintf(&b, "\n[%d] %s\n", i+1, c.Document.Content)
		if c.Document.Source != "" {
			fmt.Fprintf(&b, "Source: %s\n", c.Document.Source)
		}
	}
	return b.String()
}
