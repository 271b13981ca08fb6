package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"unicode/utf8"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"
	"github.com/xhad/deptbot/internal/logger"
	"github.com/xhad/deptbot/internal/models"
	"github.com/xhad/deptbot/internal/types"
)

// PGVector stores summaries in a Postgres table with a pgvector column.
type PGVector struct {
	config   VectorStoreConfig
	pool     *pgxpool.Pool
	embedder types.Embedder
	table    string
	logger   *slog.Logger
}

var _ types.VectorStore = (*PGVector)(nil)

func NewWithConfig(ctx context.Context, config VectorStoreConfig, embedder types.Embedder) (*PGVector, error) {
	if config.TableName == "" {
		config.TableName = "database"
	}
	if config.VectorDim == 0 {
		config.VectorDim = 1024 // mxbai-embed-large
	}
	if config.BatchSize == 0 {
		config.BatchSize = 100
	}

	pool, err := pgxpool.New(ctx, config.ConnString)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	vs := &PGVector{
		config:   config,
		pool:     pool,
		embedder: embedder,
		table:    pgx.Identifier{config.TableName}.Sanitize(),
		logger:   logger.Component("store"),
	}

	if err := vs.initialize(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	return vs, nil
}

func (vs *PGVector) initialize(ctx context.Context) error {
	// Enable pgvector extension
	_, err := vs.pool.Exec(ctx, "CREATE EXTENSION IF NOT EXISTS vector")
	if err != nil {
		return fmt.Errorf("failed to create vector extension: %w", err)
	}

	// Create documents table if it doesn't exist
	createTable := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			id TEXT PRIMARY KEY,
			content TEXT NOT NULL,
			metadata JSONB NOT NULL DEFAULT '{}',
			embedding vector(%d),
			created_at TIMESTAMPTZ NOT NULL DEFAULT clock_timestamp()
		)`, vs.table, vs.config.VectorDim)

	_, err = vs.pool.Exec(ctx, createTable)
	if err != nil {
		return fmt.Errorf("failed to create table: %w", err)
	}

	// Create vector index
	createIndex := fmt.Sprintf(`
		CREATE INDEX IF NOT EXISTS %s
		ON %s
		USING ivfflat (embedding vector_cosine_ops)
		WITH (lists = 100)`,
		pgx.Identifier{vs.config.TableName + "_embedding_idx"}.Sanitize(), vs.table)

	_, err = vs.pool.Exec(ctx, createIndex)
	if err != nil {
		return fmt.Errorf("failed to create index: %w", err)
	}

	return nil
}

// AddDocuments embeds and upserts docs, BatchSize rows per round trip, in
// one transaction.
func (vs *PGVector) AddDocuments(ctx context.Context, docs []models.Document) ([]string, error) {
	if len(docs) == 0 {
		return nil, nil
	}

	docs = append([]models.Document(nil), docs...)
	ids := assignIDs(docs)
	texts := contents(docs)
	vectors, err := embedBatches(ctx, vs.embedder, texts, vs.config.BatchSize)
	if err != nil {
		return nil, err
	}

	// Begin transaction
	tx, err := vs.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	stmt := fmt.Sprintf(`
		INSERT INTO %s (id, content, metadata, embedding)
		VALUES ($1, $2, $3, $4::vector)
		ON CONFLICT (id) DO UPDATE SET
			content = EXCLUDED.content,
			embedding = EXCLUDED.embedding,
			metadata = EXCLUDED.metadata`,
		vs.table)

	for start := 0; start < len(docs); start += vs.config.BatchSize {
		end := min(start+vs.config.BatchSize, len(docs))

		batch := &pgx.Batch{}
		for i := start; i < end; i++ {
			batch.Queue(stmt, ids[i], texts[i], copyMetadata(docs[i].Metadata), pgvector.NewVector(vectors[i]))
		}
		if err := tx.SendBatch(ctx, batch).Close(); err != nil {
			return nil, fmt.Errorf("failed to insert documents: %w", err)
		}
	}

	// Commit transaction
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}

	vs.logger.Debug("documents indexed", "count", len(ids))
	return ids, nil
}

func (vs *PGVector) SimilaritySearch(ctx context.Context, query string, k int, threshold float32) ([]models.ScoredDocument, error) {
	if k <= 0 {
		k = DefaultK
	}

	vector, err := vs.embedder.EmbedQuery(ctx, query)
	if err != nil {
		return nil, err
	}

	// Cosine distance is in [0, 2]; similarity is 1 - distance.
	sql := fmt.Sprintf(`
		SELECT id, content, metadata, 1 - (embedding <=> $1::vector) AS score
		FROM %s
		ORDER BY embedding <=> $1::vector
		LIMIT $2`,
		vs.table)

	rows, err := vs.pool.Query(ctx, sql, pgvector.NewVector(vector), k)
	if err != nil {
		return nil, fmt.Errorf("failed to query documents: %w", err)
	}
	defer rows.Close()

	var docs []models.ScoredDocument
	for rows.Next() {
		var (
			doc   models.ScoredDocument
			score float64
		)
		if err := rows.Scan(&doc.ID, &doc.Content, &doc.Metadata, &score); err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		doc.Score = float32(score)
		if threshold > 0 && doc.Score < threshold {
			continue
		}
		docs = append(docs, doc)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return docs, nil
}

// UpdateDocument replaces the content of a row and re-embeds it. Metadata is
// replaced only when doc carries some.
func (vs *PGVector) UpdateDocument(ctx context.Context, id string, doc models.Document) error {
	content := sanitizeUTF8(doc.Content)
	vector, err := vs.embedder.EmbedQuery(ctx, content)
	if err != nil {
		return err
	}

	var tag pgconn.CommandTag
	if doc.Metadata != nil {
		tag, err = vs.pool.Exec(ctx, fmt.Sprintf(
			`UPDATE %s SET content = $2, embedding = $3::vector, metadata = $4 WHERE id = $1`, vs.table),
			id, content, pgvector.NewVector(vector), doc.Metadata)
	} else {
		tag, err = vs.pool.Exec(ctx, fmt.Sprintf(
			`UPDATE %s SET content = $2, embedding = $3::vector WHERE id = $1`, vs.table),
			id, content, pgvector.NewVector(vector))
	}
	if err != nil {
		return fmt.Errorf("failed to update document: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (vs *PGVector) Delete(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	_, err := vs.pool.Exec(ctx, fmt.Sprintf(`DELETE FROM %s WHERE id = ANY($1)`, vs.table), ids)
	if err != nil {
		return fmt.Errorf("failed to delete documents: %w", err)
	}
	return nil
}

func (vs *PGVector) List(ctx context.Context) ([]models.StoredDocument, error) {
	rows, err := vs.pool.Query(ctx, fmt.Sprintf(
		`SELECT id, content, metadata FROM %s ORDER BY created_at, id`, vs.table))
	if err != nil {
		return nil, fmt.Errorf("failed to list documents: %w", err)
	}

	docs, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (models.StoredDocument, error) {
		var doc models.StoredDocument
		err := row.Scan(&doc.ID, &doc.Content, &doc.Metadata)
		return doc, err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to scan row: %w", err)
	}
	return docs, nil
}

func (vs *PGVector) Count(ctx context.Context) (int, error) {
	var n int
	err := vs.pool.QueryRow(ctx, fmt.Sprintf(`SELECT count(*) FROM %s`, vs.table)).Scan(&n)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, nil
	}
	return n, err
}

func (vs *PGVector) Close() {
	if vs.pool != nil {
		vs.pool.Close()
	}
}

func sanitizeUTF8(s string) string {
	if !utf8.ValidString(s) {
		v := make([]rune, 0, len(s))
		for i, r := range s {
			if r == utf8.RuneError {
				_, size := utf8.DecodeRuneInString(s[i:])
				if size == 1 {
					continue
				}
			}
			v = append(v, r)
		}
		return string(v)
	}
	return s
}
