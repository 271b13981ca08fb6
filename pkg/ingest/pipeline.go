// Package ingest turns uploaded PDFs and crawled pages into docstore
// originals and indexed summaries.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/xhad/deptbot/internal/logger"
	"github.com/xhad/deptbot/internal/models"
	"github.com/xhad/deptbot/internal/types"
	"github.com/xhad/deptbot/pkg/partition"
	"github.com/xhad/deptbot/pkg/scraper"
)

var (
	ErrAlreadyIngested = errors.New("file already ingested")
	ErrNotPDF          = errors.New("only PDF files are supported")
)

// Stage names reported to the progress callback.
type Stage string

const (
	StageSaving           Stage = "saving"
	StagePartitioning     Stage = "partitioning"
	StageSummarizingTable Stage = "summarizing_tables"
	StageSummarizingText  Stage = "summarizing_texts"
	StageStoring          Stage = "storing"
	StageDone             Stage = "done"
)

// Progress is one pipeline event. Count is the number of items the stage
// works on.
type Progress struct {
	Source string
	Stage  Stage
	Count  int
}

// Report summarizes one ingested source.
type Report struct {
	Source string   `json:"source"`
	Tables int      `json:"tables"`
	Texts  int      `json:"texts"`
	DocIDs []string `json:"doc_ids"`
}

type Config struct {
	UploadDir string
	// Scraper is the template for URL crawls; BaseURL is set per call.
	Scraper    scraper.ScraperConfig
	OnProgress func(Progress)
}

type Pipeline struct {
	config      Config
	partitioner types.Partitioner
	summarizer  types.Summarizer
	docstore    types.DocStore
	vectorstore types.VectorStore
	logger      *slog.Logger
}

func New(config Config, p types.Partitioner, s types.Summarizer, ds types.DocStore, vs types.VectorStore) (*Pipeline, error) {
	if p == nil || s == nil || ds == nil || vs == nil {
		return nil, errors.New("ingest: partitioner, summarizer, docstore and vector store are required")
	}
	if config.UploadDir == "" {
		config.UploadDir = "pdfFiles"
	}
	return &Pipeline{
		config:      config,
		partitioner: p,
		summarizer:  s,
		docstore:    ds,
		vectorstore: vs,
		logger:      logger.Component("ingest"),
	}, nil
}

// Exists reports whether a file with this name was already uploaded.
func (p *Pipeline) Exists(name string) bool {
	_, err := os.Stat(filepath.Join(p.config.UploadDir, filepath.Base(strings.TrimSpace(name))))
	return err == nil
}

// IngestFile saves the upload and indexes it. Uploads are keyed by file
// name; a name seen before returns ErrAlreadyIngested without work.
func (p *Pipeline) IngestFile(ctx context.Context, name string, r io.Reader) (*Report, error) {
	name = filepath.Base(strings.TrimSpace(name))
	if name == "." || name == string(filepath.Separator) || !strings.EqualFold(filepath.Ext(name), ".pdf") {
		return nil, ErrNotPDF
	}

	p.progress(name, StageSaving, 1)
	path, err := p.save(name, r)
	if err != nil {
		return nil, err
	}

	report, err := p.ingestFile(ctx, name, path)
	if err != nil {
		// Drop the saved copy so the upload can be retried.
		if rmErr := os.Remove(path); rmErr != nil {
			p.logger.Warn("failed to remove upload", "path", path, "error", rmErr)
		}
		return nil, err
	}
	return report, nil
}

func (p *Pipeline) ingestFile(ctx context.Context, name, path string) (*Report, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	p.progress(name, StagePartitioning, 1)
	elements, err := p.partitioner.Partition(ctx, path, f)
	if err != nil {
		return nil, fmt.Errorf("partition %s: %w", name, err)
	}
	return p.IngestElements(ctx, name, elements)
}

func (p *Pipeline) save(name string, r io.Reader) (string, error) {
	if err := os.MkdirAll(p.config.UploadDir, 0755); err != nil {
		return "", fmt.Errorf("create upload dir: %w", err)
	}

	path := filepath.Join(p.config.UploadDir, name)
	out, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0644)
	if err != nil {
		if errors.Is(err, os.ErrExist) {
			return "", ErrAlreadyIngested
		}
		return "", fmt.Errorf("save upload: %w", err)
	}

	if _, err := io.Copy(out, r); err != nil {
		out.Close()
		os.Remove(path)
		return "", fmt.Errorf("save upload: %w", err)
	}
	if err := out.Close(); err != nil {
		os.Remove(path)
		return "", fmt.Errorf("save upload: %w", err)
	}
	return path, nil
}

// IngestURL crawls from rawURL and indexes the scraped elements.
func (p *Pipeline) IngestURL(ctx context.Context, rawURL string) (*Report, error) {
	config := p.config.Scraper
	config.BaseURL = rawURL
	config.OnProgress = func(u string) {
		p.logger.Debug("crawling", "url", u)
	}

	s, err := scraper.NewWithConfig(config)
	if err != nil {
		return nil, fmt.Errorf("scraper: %w", err)
	}

	p.progress(rawURL, StagePartitioning, 1)
	elements, err := s.Scrape(ctx, rawURL)
	if err != nil && len(elements) == 0 {
		return nil, fmt.Errorf("scrape %s: %w", rawURL, err)
	}
	if len(elements) == 0 {
		return nil, partition.ErrNoElements
	}
	return p.IngestElements(ctx, rawURL, elements)
}

type group struct {
	kind     string
	stage    Stage
	elements []models.Element
}

// IngestElements summarizes tables then texts and writes each
// (original, summary) pair under a fresh doc_id.
func (p *Pipeline) IngestElements(ctx context.Context, source string, elements []models.Element) (*Report, error) {
	if len(elements) == 0 {
		return nil, partition.ErrNoElements
	}

	groups := []*group{
		{kind: models.ElementTable, stage: StageSummarizingTable},
		{kind: models.ElementText, stage: StageSummarizingText},
	}
	for _, el := range elements {
		for _, g := range groups {
			if el.Type == g.kind {
				g.elements = append(g.elements, el)
			}
		}
	}

	report := &Report{Source: source}
	var originals, summaries []models.Document

	for _, g := range groups {
		if len(g.elements) == 0 {
			continue
		}
		p.progress(source, g.stage, len(g.elements))

		texts := make([]string, len(g.elements))
		for i, el := range g.elements {
			texts[i] = el.Content
		}
		out, err := p.summarizer.SummarizeBatch(ctx, texts)
		if err != nil {
			return nil, fmt.Errorf("summarize %ss: %w", g.kind, err)
		}
		if len(out) != len(texts) {
			return nil, fmt.Errorf("summarizer returned %d summaries for %d %ss", len(out), len(texts), g.kind)
		}

		for i, el := range g.elements {
			id := uuid.NewString()
			src := el.Source
			if src == "" {
				src = source
			}

			summary := strings.TrimSpace(out[i])
			if summary == "" {
				summary = el.Content
			}

			originals = append(originals, models.Document{
				ID:      id,
				Content: el.Content,
				Metadata: map[string]interface{}{
					models.IDKey: id,
					"type":       g.kind,
					"source":     src,
					"page":       el.Page,
				},
			})
			summaries = append(summaries, models.Document{
				Content: summary,
				Metadata: map[string]interface{}{
					models.IDKey: id,
					"type":       g.kind,
					"source":     src,
				},
			})
			report.DocIDs = append(report.DocIDs, id)
		}

		if g.kind == models.ElementTable {
			report.Tables = len(g.elements)
		} else {
			report.Texts = len(g.elements)
		}
	}

	if len(originals) == 0 {
		return nil, partition.ErrNoElements
	}

	p.progress(source, StageStoring, len(originals))
	if err := p.docstore.MSet(ctx, originals); err != nil {
		return nil, fmt.Errorf("store originals: %w", err)
	}
	if _, err := p.vectorstore.AddDocuments(ctx, summaries); err != nil {
		// Originals without summaries are unreachable.
		if delErr := p.docstore.MDelete(context.WithoutCancel(ctx), report.DocIDs); delErr != nil {
			p.logger.Warn("failed to roll back originals", "error", delErr)
		}
		return nil, fmt.Errorf("index summaries: %w", err)
	}

	p.progress(source, StageDone, len(report.DocIDs))
	p.logger.Info("source ingested",
		"source", source,
		"tables", report.Tables,
		"texts", report.Texts,
	)
	return report, nil
}

func (p *Pipeline) progress(source string, stage Stage, count int) {
	if p.config.OnProgress != nil {
		p.config.OnProgress(Progress{Source: source, Stage: stage, Count: count})
	}
}
