// Package retriever resolves summary hits back to the original documents.
package retriever

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/xhad/deptbot/internal/logger"
	"github.com/xhad/deptbot/internal/models"
	"github.com/xhad/deptbot/internal/types"
)

// ErrNoContext is returned by callers that require retrieved context.
var ErrNoContext = errors.New("no context found for the question")

// Search types.
const (
	SearchSimilarity     = "similarity"
	SearchScoreThreshold = "similarity_score_threshold"
)

// MultiVector searches summaries and returns the originals they point to.
type MultiVector struct {
	Store          types.VectorStore
	Docstore       types.DocStore
	IDKey          string
	SearchType     string
	K              int
	ScoreThreshold float32

	logger *slog.Logger
}

var _ types.Retriever = (*MultiVector)(nil)

func NewMultiVector(vs types.VectorStore, ds types.DocStore) *MultiVector {
	return &MultiVector{
		Store:      vs,
		Docstore:   ds,
		IDKey:      models.IDKey,
		SearchType: SearchSimilarity,
		K:          4,
		logger:     logger.Component("retriever"),
	}
}

// Retrieve returns the originals of the best-matching summaries, each at
// most once, in hit order.
func (r *MultiVector) Retrieve(ctx context.Context, query string) ([]models.Document, error) {
	if r.Store == nil || r.Docstore == nil {
		return nil, errors.New("retriever: store and docstore are required")
	}

	var threshold float32
	switch r.SearchType {
	case SearchSimilarity, "":
	case SearchScoreThreshold:
		threshold = r.ScoreThreshold
	default:
		return nil, fmt.Errorf("unknown search type: %s", r.SearchType)
	}

	hits, err := r.Store.SimilaritySearch(ctx, query, r.K, threshold)
	if err != nil {
		return nil, fmt.Errorf("similarity search: %w", err)
	}

	idKey := r.IDKey
	if idKey == "" {
		idKey = models.IDKey
	}

	ids := make([]string, 0, len(hits))
	seen := make(map[string]bool, len(hits))
	for _, hit := range hits {
		id, _ := hit.Metadata[idKey].(string)
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		ids = append(ids, id)
	}
	if len(ids) == 0 {
		return nil, nil
	}

	originals, err := r.Docstore.MGet(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("load originals: %w", err)
	}

	docs := make([]models.Document, 0, len(originals))
	for _, doc := range originals {
		if doc != nil {
			docs = append(docs, *doc)
		}
	}

	r.log().Debug("retrieved",
		"hits", len(hits),
		"ids", len(ids),
		"documents", len(docs),
	)
	return docs, nil
}

func (r *MultiVector) log() *slog.Logger {
	if r.logger != nil {
		return r.logger
	}
	return logger.Component("retriever")
}
