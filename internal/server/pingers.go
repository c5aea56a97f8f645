package server

import (
	"context"
	"fmt"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"github.com/qdrant/go-client/qdrant"
)

// pingable is any dependency exposing a lightweight reachability probe.
// Both *embedder.OllamaEmbedder and future backends satisfy it.
type pingable interface {
	Ping(ctx context.Context) error
}

// EmbedderPinger probes the embedding backend. It satisfies the Pinger
// interface and is used by GET /api/ready.
type EmbedderPinger struct {
	// target is the embedding backend to probe.
	target pingable
	// name identifies the backend in readiness responses (e.g. "ollama-embedder").
	name string
}

// NewEmbedderPinger constructs an EmbedderPinger for the given backend.
func NewEmbedderPinger(target pingable, name string) *EmbedderPinger {
	return &EmbedderPinger{target: target, name: name}
}

// Name returns the backend label used in readiness responses.
func (p *EmbedderPinger) Name() string { return p.name }

// Ping probes the embedding backend for readiness.
func (p *EmbedderPinger) Ping(ctx context.Context) error {
	if err := p.target.Ping(ctx); err != nil {
		return fmt.Errorf("%s unreachable: %w", p.name, err)
	}
	return nil
}

// ChatModelPinger probes an LLM backend by sending a minimal generate
// request. It satisfies the Pinger interface and is used by GET /api/ready.
// The probe consumes a few tokens, so it is only wired when answer synthesis
// is enabled.
type ChatModelPinger struct {
	// model is the chat model to probe.
	model model.BaseChatModel
	// name identifies the backend in readiness responses (e.g. "ollama").
	name string
}

// NewChatModelPinger constructs a ChatModelPinger for the given model and
// backend name.
func NewChatModelPinger(m model.BaseChatModel, name string) *ChatModelPinger {
	return &ChatModelPinger{model: m, name: name}
}

// Name returns the backend label used in readiness responses.
func (p *ChatModelPinger) Name() string { return p.name }

// Ping sends a single-word generate request to the LLM backend.
func (p *ChatModelPinger) Ping(ctx context.Context) error {
	msgs := []*schema.Message{
		schema.UserMessage("ping"),
	}
	resp, err := p.model.Generate(ctx, msgs)
	if err != nil {
		return fmt.Errorf("generate failed: %w", err)
	}
	if resp == nil {
		return fmt.Errorf("generate returned nil response")
	}
	return nil
}

// QdrantPinger probes a Qdrant instance using its native HealthCheck RPC.
// It satisfies the Pinger interface and is used by GET /api/ready.
type QdrantPinger struct {
	// client is the Qdrant gRPC client to probe.
	client *qdrant.Client
}

// NewQdrantPinger constructs a QdrantPinger for the given Qdrant client.
func NewQdrantPinger(client *qdrant.Client) *QdrantPinger {
	return &QdrantPinger{client: client}
}

// Name returns the dependency label used in readiness responses.
func (p *QdrantPinger) Name() string { return "qdrant" }

// Ping calls the Qdrant HealthCheck RPC.
// Returns nil if Qdrant is reachable, or a descriptive error otherwise.
func (p *QdrantPinger) Ping(ctx context.Context) error {
	_, err := p.client.HealthCheck(ctx)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	return nil
}
