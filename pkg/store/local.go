package store

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"sort"

	"github.com/dgraph-io/badger/v4"
	"github.com/dgraph-io/badger/v4/options"
	"github.com/xhad/deptbot/internal/logger"
	"github.com/xhad/deptbot/internal/models"
	"github.com/xhad/deptbot/internal/types"
	"github.com/xhad/deptbot/pkg/docstore"
)

// DefaultLocalDir is where the local backend keeps its rows.
const DefaultLocalDir = "./vectorDB"

const vectorPrefix = "vec/"

// localRow is the on-disk form of a memoryRow.
type localRow struct {
	Seq      uint64                 `json:"seq"`
	ID       string                 `json:"id"`
	Content  string                 `json:"content"`
	Metadata map[string]interface{} `json:"metadata"`
	Vector   []float32              `json:"vector"`
}

// OpenLocal opens a Memory store persisted in dir. Rows written by earlier
// runs are loaded back in their original order.
func OpenLocal(dir string, embedder types.Embedder, batchSize int) (*Memory, error) {
	if dir == "" {
		dir = DefaultLocalDir
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create vector dir: %w", err)
	}

	opts := badger.DefaultOptions(dir)
	opts.Logger = docstore.BadgerLogger(logger.Component("store"))
	opts.Compression = options.None

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open vector store: %w", err)
	}

	m := NewMemory(embedder, batchSize)
	m.db = db
	if err := m.load(); err != nil {
		_ = db.Close()
		return nil, err
	}
	m.log().Debug("vector store loaded", "dir", dir, "rows", len(m.order))
	return m, nil
}

func (m *Memory) load() error {
	var rows []localRow
	err := m.db.View(func(tx *badger.Txn) error {
		it := tx.NewIterator(badger.IteratorOptions{Prefix: []byte(vectorPrefix), PrefetchValues: true})
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			var row localRow
			err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &row)
			})
			if err != nil {
				return fmt.Errorf("decode vector row %s: %w", it.Item().Key(), err)
			}
			rows = append(rows, row)
		}
		return nil
	})
	if err != nil {
		return err
	}

	sort.Slice(rows, func(i, j int) bool { return rows[i].Seq < rows[j].Seq })
	for _, r := range rows {
		m.order = append(m.order, r.ID)
		m.rows[r.ID] = &memoryRow{
			seq: r.Seq,
			doc: models.StoredDocument{
				ID:       r.ID,
				Content:  r.Content,
				Metadata: copyMetadata(r.Metadata),
			},
			vector: r.Vector,
		}
		if r.Seq >= m.seq {
			m.seq = r.Seq + 1
		}
	}
	return nil
}

// persist writes rows to disk. Callers hold m.mu.
func (m *Memory) persist(rows []*memoryRow) error {
	if m.db == nil {
		return nil
	}

	wb := m.db.NewWriteBatch()
	defer wb.Cancel()
	for _, row := range rows {
		value, err := json.Marshal(localRow{
			Seq:      row.seq,
			ID:       row.doc.ID,
			Content:  row.doc.Content,
			Metadata: row.doc.Metadata,
			Vector:   row.vector,
		})
		if err != nil {
			return fmt.Errorf("marshal vector row %s: %w", row.doc.ID, err)
		}
		if err := wb.Set([]byte(vectorPrefix+row.doc.ID), value); err != nil {
			return err
		}
	}
	if err := wb.Flush(); err != nil {
		return fmt.Errorf("write vector rows: %w", err)
	}
	return nil
}

// unpersist removes ids from disk. Callers hold m.mu.
func (m *Memory) unpersist(ids map[string]bool) error {
	if m.db == nil {
		return nil
	}

	wb := m.db.NewWriteBatch()
	defer wb.Cancel()
	for id := range ids {
		if err := wb.Delete([]byte(vectorPrefix + id)); err != nil {
			return err
		}
	}
	if err := wb.Flush(); err != nil {
		return fmt.Errorf("delete vector rows: %w", err)
	}
	return nil
}

func (m *Memory) log() *slog.Logger {
	return logger.Component("store")
}
