package answer

import (
	"context"
	"strings"
	"testing"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"

	"github.com/r4js/hyrag-go/internal/rag"
)

// fakeChatModel records the messages it was given and returns a canned answer.
type fakeChatModel struct {
	gotMessages []*schema.Message
}

func (f *fakeChatModel) Generate(_ context.Context, in []*schema.Message, _ ...model.Option) (*schema.Message, error) {
	f.gotMessages = in
	return schema.AssistantMessage("canned answer", nil), nil
}

func (f *fakeChatModel) Stream(_ context.Context, in []*schema.Message, _ ...model.Option) (*schema.StreamReader[*schema.Message], error) {
	f.gotMessages = in
	return schema.StreamReaderFromArray([]*schema.Message{
		schema.AssistantMessage("canned ", nil),
		schema.AssistantMessage("answer", nil),
	}), nil
}

func (f *fakeChatModel) BindTools(_ []*schema.ToolInfo) error { return nil }

func evidenceOf(contents ...string) []rag.Candidate {
	out := make([]rag.Candidate, len(contents))
	for i, c := range contents {
		out[i] = rag.Candidate{
			Document: rag.Document{Content: c, Source: "https://example.com/" + c},
			Rank:     i + 1,
		}
	}
	return out
}

func Test_Synthesize_InjectsNumberedContext(t *testing.T) {
	t.Parallel()
	fake := &fakeChatModel{}
	s, err := New(&Config{ChatModel: fake})
	if err != nil {
		t.Fatalf("new: %v", err)
	}

	got, err := s.Synthesize(context.Background(), "what is go?", evidenceOf("go is a language", "go has goroutines"))
	if err != nil {
		t.Fatalf("synthesize: %v", err)
	}
	if got != "canned answer" {
		t.Errorf("answer = %q", got)
	}

	if len(fake.gotMessages) != 3 {
		t.Fatalf("want system + context + user, got %d messages", len(fake.gotMessages))
	}
	ctxMsg := fake.gotMessages[1].Content
	if !strings.Contains(ctxMsg, "[1] go is a language") || !strings.Contains(ctxMsg, "[2] go has goroutines") {
		t.Errorf("context block malformed:\n%s", ctxMsg)
	}
	if !strings.Contains(ctxMsg, "Source: https://example.com/go is a language") {
		t.Errorf("source attribution missing:\n%s", ctxMsg)
	}
	if fake.gotMessages[2].Content != "what is go?" {
		t.Errorf("user question not last: %q", fake.gotMessages[2].Content)
	}
}

func Test_Synthesize_NoEvidenceOmitsContextBlock(t *testing.T) {
	t.Parallel()
	fake := &fakeChatModel{}
	s, err := New(&Config{ChatModel: fake})
	if err != nil {
		t.Fatalf("new: %v", err)
	}

	if _, err := s.Synthesize(context.Background(), "anything?", nil); err != nil {
		t.Fatalf("synthesize: %v", err)
	}
	if len(fake.gotMessages) != 2 {
		t.Errorf("want system + user only, got %d messages", len(fake.gotMessages))
	}
}

func Test_Stream_AccumulatesAndWrites(t *testing.T) {
	t.Parallel()
	fake := &fakeChatModel{}
	s, err := New(&Config{ChatModel: fake})
	if err != nil {
		t.Fatalf("new: %v", err)
	}

	var sink strings.Builder
	got, err := s.Stream(context.Background(), "q", evidenceOf("a fact"), &sink)
	if err != nil {
		t.Fatalf("stream: %v", err)
	}
	if got != "canned answer" || sink.String() != "canned answer" {
		t.Errorf("stream output = %q / %q", got, sink.String())
	}
}

func Test_Synthesize_TrimsOversizedEvidence(t *testing.T) {
	t.Parallel()
	fake := &fakeChatModel{}
	s, err := New(&Config{ChatModel: fake, MaxContextTokens: 200})
	if err != nil {
		t.Fatalf("new: %v", err)
	}

	// Second passage alone overflows the 200-token budget and must be dropped.
	ev := evidenceOf("short fact", strings.Repeat("x", 4*500))
	if _, err := s.Synthesize(context.Background(), "q", ev); err != nil {
		t.Fatalf("synthesize: %v", err)
	}
	ctxMsg := fake.gotMessages[1].Content
	if !strings.Contains(ctxMsg, "[1] short fact") {
		t.Errorf("top-ranked evidence lost:\n%s", ctxMsg)
	}
	if strings.Contains(ctxMsg, "xxxx") {
		t.Error("oversized evidence not trimmed")
	}
}
