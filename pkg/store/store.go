// Package store indexes element summaries for similarity search.
package store

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net/url"

	"github.com/google/uuid"
	"github.com/xhad/deptbot/internal/models"
	"github.com/xhad/deptbot/internal/types"
)

// ErrNotFound is returned when updating a row that does not exist.
var ErrNotFound = errors.New("vector document not found")

// DefaultK is the number of hits returned when the caller passes k <= 0.
const DefaultK = 4

type VectorStoreConfig struct {
	ConnString string // local://, postgres://... or memory://
	Dir        string // rows of the local backend
	TableName  string
	VectorDim  int
	BatchSize  int
}

// New opens the backend selected by the connection string scheme.
func New(ctx context.Context, config VectorStoreConfig, embedder types.Embedder) (types.VectorStore, error) {
	if embedder == nil {
		return nil, errors.New("embedder is required")
	}

	u, err := url.Parse(config.ConnString)
	if err != nil {
		return nil, fmt.Errorf("invalid database URL: %w", err)
	}

	switch u.Scheme {
	case "local", "":
		m, err := OpenLocal(config.Dir, embedder, config.BatchSize)
		if err != nil {
			return nil, err
		}
		return m, nil
	case "memory":
		return NewMemory(embedder, config.BatchSize), nil
	case "postgres", "postgresql":
		pg, err := NewWithConfig(ctx, config, embedder)
		if err != nil {
			return nil, err
		}
		return pg, nil
	default:
		return nil, fmt.Errorf("unsupported database scheme: %s", u.Scheme)
	}
}

// assignIDs fills missing document IDs and returns them in order.
func assignIDs(docs []models.Document) []string {
	ids := make([]string, len(docs))
	for i := range docs {
		if docs[i].ID == "" {
			docs[i].ID = uuid.NewString()
		}
		ids[i] = docs[i].ID
	}
	return ids
}

func contents(docs []models.Document) []string {
	out := make([]string, len(docs))
	for i, d := range docs {
		out[i] = sanitizeUTF8(d.Content)
	}
	return out
}

// embedBatches embeds texts batchSize at a time.
func embedBatches(ctx context.Context, embedder types.Embedder, texts []string, batchSize int) ([][]float32, error) {
	if batchSize <= 0 {
		batchSize = len(texts)
	}

	vectors := make([][]float32, 0, len(texts))
	for start := 0; start < len(texts); start += batchSize {
		end := min(start+batchSize, len(texts))
		batch, err := embedder.EmbedDocuments(ctx, texts[start:end])
		if err != nil {
			return nil, fmt.Errorf("failed to create embeddings: %w", err)
		}
		if len(batch) != end-start {
			return nil, fmt.Errorf("embedder returned %d vectors for %d texts", len(batch), end-start)
		}
		vectors = append(vectors, batch...)
	}
	return vectors, nil
}

// cosineSimilarity computes the cosine similarity between two vectors.
func cosineSimilarity(a, b []float32) float32 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	var dot, normA, normB float64
	length := min(len(a), len(b))
	for i := 0; i < length; i++ {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return float32(dot / (math.Sqrt(normA) * math.Sqrt(normB)))
}

func copyMetadata(m map[string]interface{}) map[string]interface{} {
	if m == nil {
		return map[string]interface{}{}
	}
	out := make(map[string]interface{}, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
