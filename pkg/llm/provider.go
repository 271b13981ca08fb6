package llm

import (
	"fmt"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/ollama"
	"github.com/tmc/langchaingo/llms/openai"
)

// ModelConfig selects the hosted or local chat model.
type ModelConfig struct {
	Provider string // groq, openai or ollama
	BaseURL  string
	APIKey   string
	Model    string
}

// NewModel builds the langchaingo model for the configured provider. Groq is
// reached through its OpenAI-compatible endpoint.
func NewModel(config ModelConfig) (llms.Model, error) {
	switch config.Provider {
	case "groq", "openai", "":
		if config.APIKey == "" {
			return nil, fmt.Errorf("API key is required for provider %q", config.Provider)
		}
		opts := []openai.Option{
			openai.WithToken(config.APIKey),
			openai.WithModel(config.Model),
		}
		if config.BaseURL != "" {
			opts = append(opts, openai.WithBaseURL(config.BaseURL))
		}
		llm, err := openai.New(opts...)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize %s model: %w", config.Provider, err)
		}
		return llm, nil
	case "ollama":
		if config.BaseURL == "" {
			config.BaseURL = "http://localhost:11434" // Default Ollama URL
		}
		llm, err := ollama.New(ollama.WithModel(config.Model),
			ollama.WithServerURL(config.BaseURL))
		if err != nil {
			return nil, fmt.Errorf("failed to initialize LLM: %w", err)
		}
		return llm, nil
	default:
		return nil, fmt.Errorf("unknown LLM provider: %s", config.Provider)
	}
}
