package rag

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/prompts"
	"github.com/xhad/deptbot/internal/models"
	"github.com/xhad/deptbot/internal/types"
	"github.com/xhad/deptbot/pkg/llm"
	"github.com/xhad/deptbot/pkg/retriever"
)

const ProbeTemplate = "Answer the question based only on the following context, which can include text and tables, and answer with Indonesia language:\n" +
	"{{.context}}\n" +
	"Question: {{.question}}"

// DefaultProbeQuestions checks that the knowledge base answers the basics.
var DefaultProbeQuestions = []string{
	"Ketua jurusan ?",
	"Nama lengkap pak misbah ?",
	"Sekjur ?",
	"Nama lengkap pak syafar ?",
}

// ProbeResult is the context and answer for one probe question. Answer is
// empty when nothing was retrieved.
type ProbeResult struct {
	Question string            `json:"question"`
	Context  []models.Document `json:"context"`
	Answer   string            `json:"answer"`
}

// Prober runs the stateless "context + question" chain.
type Prober struct {
	retriever types.Retriever
	model     llms.Model
	prompt    prompts.PromptTemplate
}

func NewProber(r types.Retriever, model llms.Model) (*Prober, error) {
	if r == nil || model == nil {
		return nil, errors.New("retriever and model are required")
	}
	return &Prober{
		retriever: r,
		model:     model,
		prompt:    prompts.NewPromptTemplate(ProbeTemplate, []string{"context", "question"}),
	}, nil
}

// Probe answers question from retrieved context only. With no context it
// returns the empty result and retriever.ErrNoContext.
func (p *Prober) Probe(ctx context.Context, question string) (*ProbeResult, error) {
	question = strings.TrimSpace(question)
	result := &ProbeResult{Question: question}

	docs, err := p.retriever.Retrieve(ctx, question)
	if err != nil {
		return nil, fmt.Errorf("retrieve: %w", err)
	}
	if len(docs) == 0 {
		return result, retriever.ErrNoContext
	}
	result.Context = docs

	prompt, err := p.prompt.Format(map[string]any{
		"context":  llm.StuffDocuments(docs),
		"question": question,
	})
	if err != nil {
		return nil, fmt.Errorf("format probe prompt: %w", err)
	}

	answer, err := llms.GenerateFromSinglePrompt(ctx, p.model, prompt, llms.WithTemperature(0))
	if err != nil {
		return nil, fmt.Errorf("probe: %w", err)
	}
	result.Answer = strings.TrimSpace(answer)
	return result, nil
}

// ProbeAll runs every question; a question without context is reported,
// not fatal.
func (p *Prober) ProbeAll(ctx context.Context, questions []string) ([]ProbeResult, error) {
	if len(questions) == 0 {
		questions = DefaultProbeQuestions
	}

	results := make([]ProbeResult, 0, len(questions))
	for _, q := range questions {
		res, err := p.Probe(ctx, q)
		if err != nil && !errors.Is(err, retriever.ErrNoContext) {
			return results, err
		}
		results = append(results, *res)
	}
	return results, nil
}
