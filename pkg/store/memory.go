package store

import (
	"context"
	"sort"
	"sync"

	"github.com/dgraph-io/badger/v4"
	"github.com/xhad/deptbot/internal/models"
	"github.com/xhad/deptbot/internal/types"
)

type memoryRow struct {
	seq    uint64
	doc    models.StoredDocument
	vector []float32
}

// Memory is a brute-force cosine store. Rows keep insertion order. When
// opened with OpenLocal every write is mirrored to badger before it becomes
// visible in memory.
type Memory struct {
	mu        sync.RWMutex
	embedder  types.Embedder
	batchSize int
	order     []string
	rows      map[string]*memoryRow
	seq       uint64

	db *badger.DB
}

var _ types.VectorStore = (*Memory)(nil)

func NewMemory(embedder types.Embedder, batchSize int) *Memory {
	return &Memory{
		embedder:  embedder,
		batchSize: batchSize,
		rows:      make(map[string]*memoryRow),
	}
}

func (m *Memory) AddDocuments(ctx context.Context, docs []models.Document) ([]string, error) {
	if len(docs) == 0 {
		return nil, nil
	}

	docs = append([]models.Document(nil), docs...)
	ids := assignIDs(docs)
	texts := contents(docs)
	vectors, err := embedBatches(ctx, m.embedder, texts, m.batchSize)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	rows := make([]*memoryRow, len(docs))
	next := m.seq
	batch := make(map[string]uint64, len(docs))
	for i, doc := range docs {
		row := &memoryRow{
			doc: models.StoredDocument{
				ID:       doc.ID,
				Content:  texts[i],
				Metadata: copyMetadata(doc.Metadata),
			},
			vector: vectors[i],
		}
		if old, exists := m.rows[doc.ID]; exists {
			row.seq = old.seq
		} else if seq, seen := batch[doc.ID]; seen {
			row.seq = seq
		} else {
			row.seq = next
			batch[doc.ID] = next
			next++
		}
		rows[i] = row
	}
	if err := m.persist(rows); err != nil {
		return nil, err
	}

	m.seq = next
	for _, row := range rows {
		if _, exists := m.rows[row.doc.ID]; !exists {
			m.order = append(m.order, row.doc.ID)
		}
		m.rows[row.doc.ID] = row
	}
	return ids, nil
}

func (m *Memory) SimilaritySearch(ctx context.Context, query string, k int, threshold float32) ([]models.ScoredDocument, error) {
	if k <= 0 {
		k = DefaultK
	}

	vector, err := m.embedder.EmbedQuery(ctx, query)
	if err != nil {
		return nil, err
	}

	m.mu.RLock()
	results := make([]models.ScoredDocument, 0, len(m.order))
	for _, id := range m.order {
		row := m.rows[id]
		score := cosineSimilarity(vector, row.vector)
		if threshold > 0 && score < threshold {
			continue
		}
		results = append(results, models.ScoredDocument{
			Document: models.Document{
				ID:       row.doc.ID,
				Content:  row.doc.Content,
				Metadata: copyMetadata(row.doc.Metadata),
			},
			Score: score,
		})
	}
	m.mu.RUnlock()

	// Sort by similarity descending; ties keep insertion order
	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Score > results[j].Score
	})
	if len(results) > k {
		results = results[:k]
	}
	return results, nil
}

func (m *Memory) UpdateDocument(ctx context.Context, id string, doc models.Document) error {
	m.mu.RLock()
	_, exists := m.rows[id]
	m.mu.RUnlock()
	if !exists {
		return ErrNotFound
	}

	content := sanitizeUTF8(doc.Content)
	vector, err := m.embedder.EmbedQuery(ctx, content)
	if err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	old, exists := m.rows[id]
	if !exists {
		return ErrNotFound
	}
	row := &memoryRow{seq: old.seq, doc: old.doc, vector: vector}
	row.doc.Content = content
	if doc.Metadata != nil {
		row.doc.Metadata = copyMetadata(doc.Metadata)
	}
	if err := m.persist([]*memoryRow{row}); err != nil {
		return err
	}
	m.rows[id] = row
	return nil
}

func (m *Memory) Delete(ctx context.Context, ids []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	remove := make(map[string]bool, len(ids))
	for _, id := range ids {
		if _, ok := m.rows[id]; ok {
			remove[id] = true
		}
	}
	if len(remove) == 0 {
		return nil
	}
	if err := m.unpersist(remove); err != nil {
		return err
	}
	for id := range remove {
		delete(m.rows, id)
	}

	kept := m.order[:0]
	for _, id := range m.order {
		if !remove[id] {
			kept = append(kept, id)
		}
	}
	m.order = kept
	return nil
}

func (m *Memory) List(ctx context.Context) ([]models.StoredDocument, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]models.StoredDocument, 0, len(m.order))
	for _, id := range m.order {
		row := m.rows[id]
		out = append(out, models.StoredDocument{
			ID:       row.doc.ID,
			Content:  row.doc.Content,
			Metadata: copyMetadata(row.doc.Metadata),
		})
	}
	return out, nil
}

func (m *Memory) Count(ctx context.Context) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.order), nil
}

func (m *Memory) Close() {
	if m.db == nil {
		return
	}
	if err := m.db.Close(); err != nil {
		m.log().Error("close vector store", "error", err)
	}
}
