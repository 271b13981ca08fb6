// Package summarizer condenses partitioned elements into one-sentence
// summaries that are embedded in place of the originals.
package summarizer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/panjf2000/ants/v2"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/prompts"
	"github.com/xhad/deptbot/internal/logger"
)

// PromptTemplate asks for a single Indonesian sentence per document.
const PromptTemplate = "Summarize the content of the following document into a single sentence in Bahasa Indonesia, " +
	"directly without any introductory phrases or opening sentences : {{.doc}}"

// DefaultConcurrency bounds in-flight LLM calls for one batch.
const DefaultConcurrency = 5

var ErrModelRequired = errors.New("summarizer: model is required")

// Summarizer runs summary prompts on a bounded worker pool.
type Summarizer struct {
	model  llms.Model
	prompt prompts.PromptTemplate
	pool   *ants.Pool
	logger *slog.Logger
}

// Option configures a Summarizer.
type Option func(*Summarizer) error

// WithConcurrency sets the worker pool size. Default is DefaultConcurrency.
func WithConcurrency(size int) Option {
	return func(s *Summarizer) error {
		if size < 1 {
			size = 1
		}
		pool, err := ants.NewPool(size)
		if err != nil {
			return err
		}
		if s.pool != nil {
			s.pool.Release()
		}
		s.pool = pool
		return nil
	}
}

// WithLogger sets a custom logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Summarizer) error {
		if l != nil {
			s.logger = l
		}
		return nil
	}
}

func New(model llms.Model, opts ...Option) (*Summarizer, error) {
	if model == nil {
		return nil, ErrModelRequired
	}

	pool, err := ants.NewPool(DefaultConcurrency)
	if err != nil {
		return nil, err
	}

	s := &Summarizer{
		model:  model,
		prompt: prompts.NewPromptTemplate(PromptTemplate, []string{"doc"}),
		pool:   pool,
		logger: logger.Component("summarizer"),
	}
	for _, opt := range opts {
		if err := opt(s); err != nil {
			s.Release()
			return nil, err
		}
	}
	return s, nil
}

// Summarize returns the summary of one document.
func (s *Summarizer) Summarize(ctx context.Context, content string) (string, error) {
	prompt, err := s.prompt.Format(map[string]any{"doc": content})
	if err != nil {
		return "", fmt.Errorf("format summary prompt: %w", err)
	}

	out, err := llms.GenerateFromSinglePrompt(ctx, s.model, prompt, llms.WithTemperature(0))
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(out), nil
}

// SummarizeBatch summarizes contents concurrently. The i-th summary belongs
// to the i-th input; the first failure cancels the rest of the batch.
func (s *Summarizer) SummarizeBatch(ctx context.Context, contents []string) ([]string, error) {
	if len(contents) == 0 {
		return nil, nil
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	summaries := make([]string, len(contents))
	var (
		wg       sync.WaitGroup
		once     sync.Once
		firstErr error
	)
	fail := func(err error) {
		once.Do(func() {
			firstErr = err
			cancel()
		})
	}

	for i, content := range contents {
		if ctx.Err() != nil {
			break
		}

		i, content := i, content
		wg.Add(1)
		err := s.pool.Submit(func() {
			defer wg.Done()
			if ctx.Err() != nil {
				return
			}
			summary, err := s.Summarize(ctx, content)
			if err != nil {
				fail(fmt.Errorf("summarize element %d: %w", i, err))
				return
			}
			summaries[i] = summary
		})
		if err != nil {
			wg.Done()
			fail(fmt.Errorf("submit summary task: %w", err))
			break
		}
	}
	wg.Wait()

	if firstErr != nil {
		return nil, firstErr
	}
	// Parent cancellation without a task failure.
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.logger.Debug("batch summarized", "count", len(summaries))
	return summaries, nil
}

// Release stops the worker pool.
func (s *Summarizer) Release() {
	if s.pool != nil {
		s.pool.Release()
	}
}
