package docstore_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xhad/deptbot/internal/models"
	"github.com/xhad/deptbot/pkg/docstore"
)

func openMemory(t *testing.T) *docstore.Store {
	t.Helper()
	s, err := docstore.Open("", true)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestMSetMGet(t *testing.T) {
	s := openMemory(t)
	ctx := context.Background()

	docs := []models.Document{
		{ID: "a", Content: "<table><tr><td>Warindi</td></tr></table>", Metadata: map[string]interface{}{"doc_id": "a", "type": "table", "page": float64(2)}},
		{ID: "b", Content: "Jurusan Teknik Elektro", Metadata: map[string]interface{}{"doc_id": "b", "type": "text"}},
	}
	require.NoError(t, s.MSet(ctx, docs))

	got, err := s.MGet(ctx, []string{"b", "missing", "a"})
	require.NoError(t, err)
	require.Len(t, got, 3)
	require.NotNil(t, got[0])
	assert.Equal(t, docs[1], *got[0])
	assert.Nil(t, got[1])
	require.NotNil(t, got[2])
	assert.Equal(t, docs[0], *got[2])

	// Overwrite keeps one value per key.
	require.NoError(t, s.MSet(ctx, []models.Document{{ID: "a", Content: "baru"}}))
	doc, err := s.Get(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, "baru", doc.Content)
}

func TestMSetRequiresID(t *testing.T) {
	s := openMemory(t)
	err := s.MSet(context.Background(), []models.Document{{Content: "tanpa id"}})
	assert.Error(t, err)
}

func TestGetNotFound(t *testing.T) {
	s := openMemory(t)
	_, err := s.Get(context.Background(), "nope")
	assert.ErrorIs(t, err, docstore.ErrNotFound)
}

func TestMDeleteAndYieldKeys(t *testing.T) {
	s := openMemory(t)
	ctx := context.Background()

	require.NoError(t, s.MSet(ctx, []models.Document{
		{ID: "tbl-1", Content: "1"},
		{ID: "tbl-2", Content: "2"},
		{ID: "txt-1", Content: "3"},
	}))

	keys, err := s.YieldKeys(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, []string{"tbl-1", "tbl-2", "txt-1"}, keys)

	keys, err = s.YieldKeys(ctx, "tbl-")
	require.NoError(t, err)
	assert.Equal(t, []string{"tbl-1", "tbl-2"}, keys)

	require.NoError(t, s.MDelete(ctx, []string{"tbl-1", "unknown"}))
	keys, err = s.YieldKeys(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, []string{"tbl-2", "txt-1"}, keys)
}

func TestPersistence(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "docstore")
	ctx := context.Background()

	s, err := docstore.Open(dir, false)
	require.NoError(t, err)
	require.NoError(t, s.MSet(ctx, []models.Document{{ID: "x", Content: "tetap ada"}}))
	require.NoError(t, s.Close())

	s, err = docstore.Open(dir, false)
	require.NoError(t, err)
	defer s.Close()

	doc, err := s.Get(ctx, "x")
	require.NoError(t, err)
	assert.Equal(t, "tetap ada", doc.Content)
}

func TestOpenRejectsFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "file")
	require.NoError(t, os.WriteFile(path, []byte("x"), 0644))

	_, err := docstore.Open(path, false)
	assert.Error(t, err)
}
