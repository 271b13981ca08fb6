package partition

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"strings"

	"github.com/ledongthuc/pdf"
	"github.com/xhad/deptbot/internal/logger"
	"github.com/xhad/deptbot/internal/models"
	"github.com/xhad/deptbot/pkg/processor"
)

// Local extracts page text in-process. It cannot detect tables, so every
// element it returns is text.
type Local struct {
	processor processor.Processor
	logger    *slog.Logger
}

func NewLocal(config processor.ProcessorConfig) *Local {
	return &Local{
		processor: processor.NewWithConfig(config),
		logger:    logger.Component("partition"),
	}
}

func (l *Local) Partition(ctx context.Context, filename string, r io.Reader) ([]models.Element, error) {
	content, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read document: %w", err)
	}

	pages, err := l.extractPages(ctx, content)
	if err != nil {
		return nil, err
	}

	elements := l.processor.ProcessPages(pages, filepath.Base(filename))
	l.logger.Info("document partitioned locally",
		"file", filename,
		"pages", len(pages),
		"elements", len(elements),
	)
	if len(elements) == 0 {
		return nil, ErrNoElements
	}
	return elements, nil
}

func (l *Local) extractPages(ctx context.Context, content []byte) ([]processor.Page, error) {
	reader, err := pdf.NewReader(bytes.NewReader(content), int64(len(content)))
	if err != nil {
		return nil, fmt.Errorf("failed to create PDF reader: %w", err)
	}

	var pages []processor.Page
	for i := 1; i <= reader.NumPage(); i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		page := reader.Page(i)
		if page.V.IsNull() {
			continue
		}

		text, err := page.GetPlainText(nil)
		if err != nil {
			// Image-only pages have no text layer.
			l.logger.Warn("failed to extract page text", "page", i, "error", err)
			continue
		}
		if strings.TrimSpace(text) == "" {
			continue
		}
		pages = append(pages, processor.Page{Number: i, Text: text})
	}

	return pages, nil
}
