package index

import (
	"context"
	"fmt"

	"github.com/qdrant/go-client/qdrant"

	"github.com/r4js/hyrag-go/internal/rag"
)

// QdrantConfig holds connection parameters for a Qdrant vector index.
type QdrantConfig struct {
	// Host is the Qdrant server hostname (default: localhost).
	Host string

	// Port is the Qdrant gRPC port (default: 6334).
	Port int

	// Collection is the Qdrant collection name to use.
	Collection string

	// VectorSize is the dimensionality of the embeddings stored in this collection.
	VectorSize uint64

	// Model is the embedding model identifier the collection is pinned to.
	// Stored on every point payload so mixed-model writes are detectable.
	Model string

	// APIKey is the optional Qdrant API key for authenticated clusters.
	APIKey string

	// UseTLS enables TLS for the gRPC connection.
	UseTLS bool
}

// QdrantIndex implements rag.VectorIndex backed by a Qdrant instance, for
// deployments whose cache outgrows the local brute-force index. The
// collection uses cosine distance, matching the SQLite backend's metric.
//
// Insertion-order tie-breaking is not guaranteed by Qdrant; within a
// collection, equal-score ordering follows Qdrant's internal point order.
type QdrantIndex struct {
	// client is the underlying Qdrant gRPC client.
	client *qdrant.Client

	// cfg holds the resolved configuration for this index.
	cfg *QdrantConfig
}

// NewQdrantIndex creates a QdrantIndex, ensuring the target collection exists
// (creating it if necessary), and returns a ready-to-use index.
func NewQdrantIndex(ctx context.Context, cfg *QdrantConfig) (*QdrantIndex, error) {
	if cfg.Host == "" {
		cfg.Host = "localhost"
	}
	if cfg.Port == 0 {
		cfg.Port = 6334
	}

	client, err := qdrant.NewClient(&qdrant.Config{
		Host:   cfg.Host,
		Port:   cfg.Port,
		APIKey: cfg.APIKey,
		UseTLS: cfg.UseTLS,
	})
	if err != nil {
		return nil, fmt.Errorf("qdrant index: failed to create client: %w", err)
	}

	idx := &QdrantIndex{client: client, cfg: cfg}
	if err := idx.ensureCollection(ctx); err != nil {
		return nil, err
	}
	return idx, nil
}

// ensureCollection creates the Qdrant collection if it does not already exist.
func (x *QdrantIndex) ensureCollection(ctx context.Context) error {
	exists, err := x.client.CollectionExists(ctx, x.cfg.Collection)
	if err != nil {
		return fmt.Errorf("qdrant index: failed to check collection existence: %w", err)
	}
	if exists {
		return nil
	}

	err = x.client.CreateCollection(ctx, &qdrant.CreateCollection{
		CollectionName: x.cfg.Collection,
		VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
			Size:     x.cfg.VectorSize,
			Distance: qdrant.Distance_Cosine,
		}),
	})
	if err != nil {
		return fmt.Errorf("qdrant index: failed to create collection %q: %w", x.cfg.Collection, err)
	}
	return nil
}

// pointID converts a 32-hex document ID to the UUID shape Qdrant requires.
func pointID(id string) string {
	if len(id) != 32 {
		return id
	}
	return id[0:8] + "-" + id[8:12] + "-" + id[12:16] + "-" + id[16:20] + "-" + id[20:32]
}

// Insert upserts one (id, embedding) point. Qdrant upsert is idempotent by
// point ID, which satisfies the no-op-on-duplicate contract.
func (x *QdrantIndex) Insert(ctx context.Context, id string, embedding []float32) error {
	if id == "" {
		return fmt.Errorf("qdrant index: insert: missing ID: %w", rag.ErrInvalidInput)
	}
	if uint64(len(embedding)) != x.cfg.VectorSize {
		return fmt.Errorf("qdrant index: insert %s: dimension %d, want %d: %w",
			id, len(embedding), x.cfg.VectorSize, rag.ErrDimensionMismatch)
	}

	vec := rag.NormalizeVector(cloneVector(embedding))

	_, err := x.client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: x.cfg.Collection,
		Points: []*qdrant.PointStruct{{
			Id:      qdrant.NewIDUUID(pointID(id)),
			Vectors: qdrant.NewVectors(vec...),
			Payload: qdrant.NewValueMap(map[string]interface{}{
				"doc_id": id,
				"model":  x.cfg.Model,
			}),
		}},
	})
	if err != nil {
		return fmt.Errorf("qdrant index: insert %s: %w", id, err)
	}
	return nil
}

// Query performs a cosine similarity search and returns the top-k hits.
func (x *QdrantIndex) Query(ctx context.Context, embedding []float32, k int) ([]rag.Hit, error) {
	if k <= 0 {
		return nil, nil
	}
	if uint64(len(embedding)) != x.cfg.VectorSize {
		return nil, fmt.Errorf("qdrant index: query: dimension %d, want %d: %w",
			len(embedding), x.cfg.VectorSize, rag.ErrDimensionMismatch)
	}

	vec := rag.NormalizeVector(cloneVector(embedding))
	limit := uint64(k)
	results, err := x.client.Query(ctx, &qdrant.QueryPoints{
		CollectionName: x.cfg.Collection,
		Query:          qdrant.NewQuery(vec...),
		Limit:          &limit,
		WithPayload:    qdrant.NewWithPayload(true),
	})
	if err != nil {
		return nil, fmt.Errorf("qdrant index: query: %w", err)
	}

	hits := make([]rag.Hit, 0, len(results))
	for _, r := range results {
		hit := rag.Hit{Score: r.Score}
		if p := r.Payload; p != nil {
			if v, ok := p["doc_id"]; ok {
				hit.ID = v.GetStringValue()
			}
		}
		if hit.ID == "" {
			hit.ID = r.Id.GetUuid()
		}
		hits = append(hits, hit)
	}
	return hits, nil
}

// Remove deletes a point by document ID. Removing an absent ID is a no-op.
func (x *QdrantIndex) Remove(ctx context.Context, id string) error {
	_, err := x.client.Delete(ctx, &qdrant.DeletePoints{
		CollectionName: x.cfg.Collection,
		Points:         qdrant.NewPointsSelector(qdrant.NewIDUUID(pointID(id))),
	})
	if err != nil {
		return fmt.Errorf("qdrant index: remove %s: %w", id, err)
	}
	return nil
}

// IDs returns the set of all document IDs by scrolling the collection.
func (x *QdrantIndex) IDs(ctx context.Context) (map[string]struct{}, error) {
	ids := make(map[string]struct{})
	var offset *qdrant.PointId
	pageSize := uint32(1024)

	for {
		points, err := x.client.Scroll(ctx, &qdrant.ScrollPoints{
			CollectionName: x.cfg.Collection,
			Limit:          &pageSize,
			Offset:         offset,
			WithPayload:    qdrant.NewWithPayload(true),
		})
		if err != nil {
			return nil, fmt.Errorf("qdrant index: scroll: %w", err)
		}
		if len(points) == 0 {
			break
		}
		for _, p := range points {
			id := ""
			if pl := p.Payload; pl != nil {
				if v, ok := pl["doc_id"]; ok {
					id = v.GetStringValue()
				}
			}
			if id == "" {
				id = p.Id.GetUuid()
			}
			ids[id] = struct{}{}
		}
		if uint32(len(points)) < pageSize {
			break
		}
		offset = points[len(points)-1].Id
	}
	return ids, nil
}

// Count returns the number of points in the collection.
func (x *QdrantIndex) Count(ctx context.Context) (int, error) {
	n, err := x.client.Count(ctx, &qdrant.CountPoints{
		CollectionName: x.cfg.Collection,
	})
	if err != nil {
		return 0, fmt.Errorf("qdrant index: count: %w", err)
	}
	return int(n), nil
}

// Client exposes the underlying gRPC client for readiness probes.
func (x *QdrantIndex) Client() *qdrant.Client { return x.client }

// Close closes the underlying Qdrant gRPC connection.
func (x *QdrantIndex) Close() error {
	return x.client.Close()
}
