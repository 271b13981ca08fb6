package store_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xhad/deptbot/internal/mock"
	"github.com/xhad/deptbot/internal/models"
	"github.com/xhad/deptbot/internal/types"
	"github.com/xhad/deptbot/pkg/store"
)

func summaries() []models.Document {
	return []models.Document{
		{Content: "Ketua jurusan teknik elektro adalah Dr. Warindi", Metadata: map[string]interface{}{"doc_id": "d1", "type": "text"}},
		{Content: "Jadwal kuliah semester ganjil dimulai bulan September", Metadata: map[string]interface{}{"doc_id": "d2", "type": "table"}},
		{Content: "Laboratorium elektronika berada di gedung B", Metadata: map[string]interface{}{"doc_id": "d3", "type": "text"}},
	}
}

// exerciseStore runs the shared behavior against any backend.
func exerciseStore(t *testing.T, s types.VectorStore) {
	ctx := context.Background()

	ids, err := s.AddDocuments(ctx, summaries())
	require.NoError(t, err)
	require.Len(t, ids, 3)
	for _, id := range ids {
		assert.NotEmpty(t, id)
	}

	n, err := s.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	hits, err := s.SimilaritySearch(ctx, "siapa ketua jurusan", 2, 0)
	require.NoError(t, err)
	require.Len(t, hits, 2)
	assert.Equal(t, "d1", hits[0].Metadata["doc_id"])
	assert.GreaterOrEqual(t, hits[0].Score, hits[1].Score)

	// Only the matching summary clears a high threshold.
	hits, err = s.SimilaritySearch(ctx, "ketua jurusan teknik elektro adalah Dr. Warindi", 4, 0.9)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.InDelta(t, 1.0, hits[0].Score, 1e-4)

	require.NoError(t, s.UpdateDocument(ctx, ids[2], models.Document{Content: "Laboratorium telekomunikasi pindah ke gedung C"}))
	hits, err = s.SimilaritySearch(ctx, "laboratorium telekomunikasi", 1, 0)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, ids[2], hits[0].ID)
	assert.Equal(t, "d3", hits[0].Metadata["doc_id"], "metadata survives a content-only update")

	err = s.UpdateDocument(ctx, "missing", models.Document{Content: "x"})
	assert.ErrorIs(t, err, store.ErrNotFound)

	require.NoError(t, s.Delete(ctx, []string{ids[0], "missing"}))
	listed, err := s.List(ctx)
	require.NoError(t, err)
	require.Len(t, listed, 2)
	assert.Equal(t, ids[1], listed[0].ID)
	assert.Equal(t, "Laboratorium telekomunikasi pindah ke gedung C", listed[1].Content)
}

func TestMemoryStore(t *testing.T) {
	exerciseStore(t, store.NewMemory(mock.NewEmbedder(256), 2))
}

func TestMemoryStoreKeepsGivenIDs(t *testing.T) {
	s := store.NewMemory(mock.NewEmbedder(32), 0)
	ctx := context.Background()

	ids, err := s.AddDocuments(ctx, []models.Document{{ID: "fixed", Content: "a"}})
	require.NoError(t, err)
	assert.Equal(t, []string{"fixed"}, ids)

	// Upsert on the same ID replaces the row.
	_, err = s.AddDocuments(ctx, []models.Document{{ID: "fixed", Content: "b"}})
	require.NoError(t, err)
	listed, err := s.List(ctx)
	require.NoError(t, err)
	require.Len(t, listed, 1)
	assert.Equal(t, "b", listed[0].Content)
}

func TestMemoryStoreEmbedderError(t *testing.T) {
	emb := mock.NewEmbedder(8)
	emb.Err = errors.New("ollama down")
	s := store.NewMemory(emb, 0)

	_, err := s.AddDocuments(context.Background(), []models.Document{{Content: "a"}})
	assert.ErrorContains(t, err, "ollama down")

	_, err = s.SimilaritySearch(context.Background(), "a", 1, 0)
	assert.Error(t, err)
}

func TestNewSelectsBackend(t *testing.T) {
	emb := mock.NewEmbedder(8)

	s, err := store.New(context.Background(), store.VectorStoreConfig{ConnString: "memory://"}, emb)
	require.NoError(t, err)
	_, ok := s.(*store.Memory)
	assert.True(t, ok)

	s, err = store.New(context.Background(), store.VectorStoreConfig{ConnString: "local://", Dir: t.TempDir()}, emb)
	require.NoError(t, err)
	_, ok = s.(*store.Memory)
	assert.True(t, ok)
	s.Close()

	// A failed open yields a nil interface, safe for deferred cleanup checks.
	blocked := filepath.Join(t.TempDir(), "file")
	require.NoError(t, os.WriteFile(blocked, nil, 0644))
	s, err = store.New(context.Background(), store.VectorStoreConfig{ConnString: "local://", Dir: blocked}, emb)
	require.Error(t, err)
	assert.Nil(t, s)

	_, err = store.New(context.Background(), store.VectorStoreConfig{ConnString: "mysql://x"}, emb)
	assert.Error(t, err)

	_, err = store.New(context.Background(), store.VectorStoreConfig{ConnString: "memory://"}, nil)
	assert.Error(t, err)
}
