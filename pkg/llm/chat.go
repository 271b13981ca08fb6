package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/prompts"
	"github.com/tmc/langchaingo/schema"
	"github.com/xhad/deptbot/internal/models"
)

// ErrEmptyResponse is returned when the model produced no choices.
var ErrEmptyResponse = errors.New("no response from LLM")

// System prompts keyed by profile. Both are Go templates over {{.context}}.
const (
	GroqSystemTemplate = `You are an indonesian assistant for question-answering about "Information of Electrical Engineering at the University of Mataram". ` +
		`Use the following pieces of retrieved context to answer the question. ` +
		`If you don't know the answer, just say Informasi belum tersedia. ` +
		`if you want make table use |. ` +
		`and answer only from the context. ` +
		"\n\n{{.context}}"

	LocalSystemTemplate = `You are an assistant for question-answering tasks using indonesian language. ` +
		`Use the following pieces of retrieved context to answer the question. ` +
		`If you don't know the answer, just say Informasi belum tersedia. ` +
		`and answer only to the point.` +
		"\n\n{{.context}}"
)

// DocumentSeparator joins retrieved documents inside the system prompt.
const DocumentSeparator = "\n\n"

// ChatConfig represents the configuration for a chat engine.
type ChatConfig struct {
	Temperature float64
	MaxTokens   int
	Profile     string // groq or local
	// SystemTemplate overrides the profile prompt; it must reference {{.context}}.
	SystemTemplate string
}

// ChatEngine answers a question from retrieved documents and chat history.
type ChatEngine struct {
	config ChatConfig
	llm    llms.Model
	system prompts.PromptTemplate
}

// Chunk is one piece of a streamed answer. The final chunk of a failed
// stream carries Err.
type Chunk struct {
	Text string
	Err  error
}

// NewWithConfig creates a new ChatEngine with the given configuration.
func NewWithConfig(llm llms.Model, config ChatConfig) (*ChatEngine, error) {
	if llm == nil {
		return nil, errors.New("llm model is required")
	}
	if config.Temperature < 0 || config.Temperature > 2 {
		return nil, fmt.Errorf("temperature must be between 0 and 2")
	}
	if config.MaxTokens < 0 {
		return nil, fmt.Errorf("max tokens cannot be negative")
	} else if config.MaxTokens == 0 {
		config.MaxTokens = 2000
	}
	if config.SystemTemplate == "" {
		switch config.Profile {
		case "local":
			config.SystemTemplate = LocalSystemTemplate
		case "groq", "":
			config.Profile = "groq"
			config.SystemTemplate = GroqSystemTemplate
		default:
			return nil, fmt.Errorf("unknown prompt profile: %s", config.Profile)
		}
	}
	if !strings.Contains(config.SystemTemplate, "{{.context}}") {
		return nil, fmt.Errorf("system template must reference {{.context}}")
	}

	return &ChatEngine{
		config: config,
		llm:    llm,
		system: prompts.NewPromptTemplate(config.SystemTemplate, []string{"context"}),
	}, nil
}

// Messages builds the prompt: system with stuffed context, the history, then
// the question.
func (ce *ChatEngine) Messages(query string, history []models.ChatMessage, docs []models.Document) ([]llms.MessageContent, error) {
	system, err := ce.system.Format(map[string]any{"context": StuffDocuments(docs)})
	if err != nil {
		return nil, fmt.Errorf("format system prompt: %w", err)
	}

	content := make([]llms.MessageContent, 0, len(history)+2)
	content = append(content, llms.TextParts(schema.ChatMessageTypeSystem, system))
	for _, msg := range history {
		switch msg.Role {
		case models.RoleUser:
			content = append(content, llms.TextParts(schema.ChatMessageTypeHuman, msg.Content))
		case models.RoleAssistant:
			content = append(content, llms.TextParts(schema.ChatMessageTypeAI, msg.Content))
		}
	}
	content = append(content, llms.TextParts(schema.ChatMessageTypeHuman, query))
	return content, nil
}

// Chat generates a response based on the query, history and context documents.
func (ce *ChatEngine) Chat(ctx context.Context, query string, history []models.ChatMessage, docs []models.Document) (string, error) {
	content, err := ce.Messages(query, history, docs)
	if err != nil {
		return "", err
	}

	response, err := ce.llm.GenerateContent(ctx, content, ce.callOptions()...)
	if err != nil {
		return "", fmt.Errorf("chat error: %w", err)
	}
	if response == nil || len(response.Choices) == 0 || response.Choices[0] == nil {
		return "", ErrEmptyResponse
	}

	return response.Choices[0].Content, nil
}

// ChatStream streams the answer as the provider produces it. The channel is
// closed when generation ends.
func (ce *ChatEngine) ChatStream(ctx context.Context, query string, history []models.ChatMessage, docs []models.Document) (<-chan Chunk, error) {
	content, err := ce.Messages(query, history, docs)
	if err != nil {
		return nil, err
	}

	resultChan := make(chan Chunk)

	go func() {
		defer close(resultChan)

		streamed := false
		opts := append(ce.callOptions(), llms.WithStreamingFunc(func(ctx context.Context, chunk []byte) error {
			if len(chunk) == 0 {
				return nil
			}
			streamed = true
			select {
			case resultChan <- Chunk{Text: string(chunk)}:
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		}))

		resp, err := ce.llm.GenerateContent(ctx, content, opts...)
		if err != nil {
			sendChunk(ctx, resultChan, Chunk{Err: fmt.Errorf("chat error: %w", err)})
			return
		}

		// Providers that ignore the streaming callback still return the content.
		if !streamed {
			if resp == nil || len(resp.Choices) == 0 || resp.Choices[0] == nil {
				sendChunk(ctx, resultChan, Chunk{Err: ErrEmptyResponse})
				return
			}
			sendChunk(ctx, resultChan, Chunk{Text: resp.Choices[0].Content})
		}
	}()

	return resultChan, nil
}

func (ce *ChatEngine) callOptions() []llms.CallOption {
	return []llms.CallOption{
		llms.WithTemperature(ce.config.Temperature),
		llms.WithMaxTokens(ce.config.MaxTokens),
	}
}

func sendChunk(ctx context.Context, ch chan<- Chunk, c Chunk) {
	select {
	case ch <- c:
	case <-ctx.Done():
	}
}

// StuffDocuments concatenates document contents for the prompt.
func StuffDocuments(docs []models.Document) string {
	parts := make([]string, 0, len(docs))
	for _, doc := range docs {
		parts = append(parts, doc.Content)
	}
	return strings.Join(parts, DocumentSeparator)
}

// FormatSources lists the distinct sources of the documents for citation.
func FormatSources(docs []models.Document) string {
	var sources []string
	seen := make(map[string]bool)

	for _, doc := range docs {
		src, _ := doc.Metadata["source"].(string)
		if src != "" && !seen[src] {
			sources = append(sources, src)
			seen[src] = true
		}
	}

	if len(sources) == 0 {
		return ""
	}

	return fmt.Sprintf("\nSources:\n%s", strings.Join(sources, "\n"))
}
