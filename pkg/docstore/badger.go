// Package docstore keeps the original table and text elements keyed by the
// doc_id that joins them to their indexed summaries.
package docstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/dgraph-io/badger/v4"
	"github.com/dgraph-io/badger/v4/options"
	"github.com/xhad/deptbot/internal/logger"
	"github.com/xhad/deptbot/internal/models"
	"github.com/xhad/deptbot/internal/types"
)

// ErrNotFound is returned by Get for an unknown identifier.
var ErrNotFound = errors.New("document not found")

const keyPrefix = "doc/"

// Store is a badger-backed key/value store of documents.
type Store struct {
	db     *badger.DB
	logger *slog.Logger
}

var _ types.DocStore = (*Store)(nil)

// badgerLoggerAdapter adapts slog.Logger to badger.Logger interface.
type badgerLoggerAdapter struct {
	logger *slog.Logger
}

var _ badger.Logger = (*badgerLoggerAdapter)(nil)

// BadgerLogger routes badger's internal logging to log.
func BadgerLogger(log *slog.Logger) badger.Logger {
	return &badgerLoggerAdapter{logger: log}
}

func (bl *badgerLoggerAdapter) Errorf(msg string, items ...any) {
	bl.logger.Error(strings.TrimSpace(fmt.Sprintf(msg, items...)))
}

func (bl *badgerLoggerAdapter) Warningf(msg string, items ...any) {
	bl.logger.Warn(strings.TrimSpace(fmt.Sprintf(msg, items...)))
}

func (bl *badgerLoggerAdapter) Infof(msg string, items ...any) {
	bl.logger.Debug(strings.TrimSpace(fmt.Sprintf(msg, items...)))
}

func (bl *badgerLoggerAdapter) Debugf(msg string, items ...any) {
	bl.logger.Debug(strings.TrimSpace(fmt.Sprintf(msg, items...)))
}

// Open opens the store in dir, creating the directory if needed. An empty
// dir with inMemory set keeps everything in memory.
func Open(dir string, inMemory bool) (*Store, error) {
	log := logger.Component("docstore")

	var opts badger.Options
	if inMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		info, err := os.Stat(dir)
		if err != nil {
			if !os.IsNotExist(err) {
				return nil, err
			}
			if err := os.MkdirAll(dir, 0755); err != nil {
				return nil, err
			}
		} else if !info.IsDir() {
			return nil, fmt.Errorf("%s is not a directory", dir)
		}
		opts = badger.DefaultOptions(dir)
	}

	opts.Logger = BadgerLogger(log)
	opts.Compression = options.None

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open docstore: %w", err)
	}

	return &Store{db: db, logger: log}, nil
}

func makeKey(id string) []byte {
	return []byte(keyPrefix + id)
}

// MSet writes every document under its ID, replacing existing values.
func (s *Store) MSet(ctx context.Context, docs []models.Document) error {
	if len(docs) == 0 {
		return nil
	}

	wb := s.db.NewWriteBatch()
	defer wb.Cancel()

	for _, doc := range docs {
		if err := ctx.Err(); err != nil {
			return err
		}
		if doc.ID == "" {
			return errors.New("document ID is required")
		}
		value, err := json.Marshal(doc)
		if err != nil {
			return fmt.Errorf("marshal document %s: %w", doc.ID, err)
		}
		if err := wb.Set(makeKey(doc.ID), value); err != nil {
			return err
		}
	}

	if err := wb.Flush(); err != nil {
		return fmt.Errorf("write documents: %w", err)
	}
	s.logger.Debug("documents stored", "count", len(docs))
	return nil
}

// MGet returns the documents in the order of ids; unknown ids yield nil.
func (s *Store) MGet(ctx context.Context, ids []string) ([]*models.Document, error) {
	out := make([]*models.Document, len(ids))

	err := s.withTx(func(tx *badger.Txn) error {
		for i, id := range ids {
			if err := ctx.Err(); err != nil {
				return err
			}
			doc, err := get(tx, id)
			if errors.Is(err, ErrNotFound) {
				continue
			}
			if err != nil {
				return err
			}
			out[i] = doc
		}
		return nil
	}, false)
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Get returns a single document.
func (s *Store) Get(ctx context.Context, id string) (*models.Document, error) {
	var doc *models.Document
	err := s.withTx(func(tx *badger.Txn) error {
		var err error
		doc, err = get(tx, id)
		return err
	}, false)
	return doc, err
}

func get(tx *badger.Txn, id string) (*models.Document, error) {
	item, err := tx.Get(makeKey(id))
	if err != nil {
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}

	var doc models.Document
	err = item.Value(func(val []byte) error {
		return json.Unmarshal(val, &doc)
	})
	if err != nil {
		return nil, fmt.Errorf("decode document %s: %w", id, err)
	}
	return &doc, nil
}

// MDelete removes the documents; unknown ids are ignored.
func (s *Store) MDelete(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}

	wb := s.db.NewWriteBatch()
	defer wb.Cancel()

	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := wb.Delete(makeKey(id)); err != nil {
			return err
		}
	}
	return wb.Flush()
}

// YieldKeys lists stored ids starting with prefix, in key order.
func (s *Store) YieldKeys(ctx context.Context, prefix string) ([]string, error) {
	var keys []string

	err := s.withTx(func(tx *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = makeKey(prefix)
		iter := tx.NewIterator(opts)
		defer iter.Close()

		for iter.Rewind(); iter.Valid(); iter.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			keys = append(keys, strings.TrimPrefix(string(iter.Item().Key()), keyPrefix))
		}
		return nil
	}, false)
	if err != nil {
		return nil, err
	}
	return keys, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// withTx executes fn in a transaction that is discarded afterwards; write
// transactions are committed when fn succeeds.
func (s *Store) withTx(fn func(tx *badger.Txn) error, isWrite bool) error {
	tx := s.db.NewTransaction(isWrite)
	defer tx.Discard()
	if err := fn(tx); err != nil {
		return err
	}
	if isWrite {
		return tx.Commit()
	}
	return nil
}
