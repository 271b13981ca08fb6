package types

import (
	"context"
	"io"

	"github.com/xhad/deptbot/internal/models"
)

// Core interfaces

// Embedder matches langchaingo's embeddings.Embedder.
type Embedder interface {
	EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error)
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
}

type VectorStore interface {
	AddDocuments(ctx context.Context, docs []models.Document) ([]string, error)
	SimilaritySearch(ctx context.Context, query string, k int, threshold float32) ([]models.ScoredDocument, error)
	UpdateDocument(ctx context.Context, id string, doc models.Document) error
	Delete(ctx context.Context, ids []string) error
	List(ctx context.Context) ([]models.StoredDocument, error)
	Count(ctx context.Context) (int, error)
	Close()
}

// DocStore maps identifiers to original documents.
type DocStore interface {
	MSet(ctx context.Context, pairs []models.Document) error
	MGet(ctx context.Context, ids []string) ([]*models.Document, error)
	MDelete(ctx context.Context, ids []string) error
	YieldKeys(ctx context.Context, prefix string) ([]string, error)
	Close() error
}

type Partitioner interface {
	Partition(ctx context.Context, filename string, r io.Reader) ([]models.Element, error)
}

type Summarizer interface {
	SummarizeBatch(ctx context.Context, contents []string) ([]string, error)
}

type Retriever interface {
	Retrieve(ctx context.Context, query string) ([]models.Document, error)
}
