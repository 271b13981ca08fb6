package config

import (
	"fmt"
	"net/url"
	"strings"
)

type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

func (c *Config) Validate() []ValidationError {
	var errors []ValidationError

	// Validate LLM config
	switch c.LLM.Provider {
	case "groq", "openai":
		if c.LLM.APIKey == "" {
			errors = append(errors, ValidationError{
				Field:   "llm.api_key",
				Message: fmt.Sprintf("API key is required for provider %s", c.LLM.Provider),
			})
		}
	case "ollama":
	default:
		errors = append(errors, ValidationError{
			Field:   "llm.provider",
			Message: fmt.Sprintf("unknown provider: %s", c.LLM.Provider),
		})
	}

	if !isHTTPURL(c.LLM.BaseURL) {
		errors = append(errors, ValidationError{
			Field:   "llm.base_url",
			Message: "invalid LLM base URL",
		})
	}

	if c.LLM.MaxTokens < 1 || c.LLM.MaxTokens > 8192 {
		errors = append(errors, ValidationError{
			Field:   "llm.max_tokens",
			Message: "max_tokens must be between 1 and 8192",
		})
	}

	if c.LLM.Temperature < 0 || c.LLM.Temperature > 2 {
		errors = append(errors, ValidationError{
			Field:   "llm.temperature",
			Message: "temperature must be between 0 and 2",
		})
	}

	if c.LLM.Profile != "groq" && c.LLM.Profile != "local" {
		errors = append(errors, ValidationError{
			Field:   "llm.profile",
			Message: "profile must be groq or local",
		})
	}

	if c.Summary.MaxConcurrency < 1 {
		errors = append(errors, ValidationError{
			Field:   "summary.max_concurrency",
			Message: "max_concurrency must be positive",
		})
	}

	if !isHTTPURL(c.Embedding.BaseURL) {
		errors = append(errors, ValidationError{
			Field:   "embedding.base_url",
			Message: "invalid embedding base URL",
		})
	}

	// Validate Database config
	if c.Database.URL != "" {
		u, err := url.Parse(c.Database.URL)
		if err != nil || (u.Scheme != "local" && u.Scheme != "memory" && u.Scheme != "postgres" && u.Scheme != "postgresql") {
			errors = append(errors, ValidationError{
				Field:   "database.url",
				Message: "invalid database URL",
			})
		}
	}

	if c.Database.VectorDim < 1 {
		errors = append(errors, ValidationError{
			Field:   "database.vector_dim",
			Message: "vector_dim must be positive",
		})
	}

	if c.Database.BatchSize < 1 {
		errors = append(errors, ValidationError{
			Field:   "database.batch_size",
			Message: "batch_size must be positive",
		})
	}

	if strings.ContainsAny(c.Database.TableName, " ;\"'") {
		errors = append(errors, ValidationError{
			Field:   "database.table_name",
			Message: "table_name must be a plain identifier",
		})
	}

	// Validate Partition config
	if c.Partition.MaxCharacters < 1 {
		errors = append(errors, ValidationError{
			Field:   "partition.max_characters",
			Message: "max_characters must be positive",
		})
	}

	if c.Partition.NewAfterNChars < 1 || c.Partition.NewAfterNChars > c.Partition.MaxCharacters {
		errors = append(errors, ValidationError{
			Field:   "partition.new_after_n_chars",
			Message: "new_after_n_chars must be positive and not exceed max_characters",
		})
	}

	if c.Partition.CombineUnderNChars < 0 || c.Partition.CombineUnderNChars > c.Partition.NewAfterNChars {
		errors = append(errors, ValidationError{
			Field:   "partition.combine_under_n_chars",
			Message: "combine_under_n_chars must be non-negative and not exceed new_after_n_chars",
		})
	}

	if c.Scraper.MaxDepth < 0 {
		errors = append(errors, ValidationError{
			Field:   "scraper.max_depth",
			Message: "max_depth must not be negative",
		})
	}

	if c.Scraper.RateLimit < 0 {
		errors = append(errors, ValidationError{
			Field:   "scraper.rate_limit",
			Message: "rate_limit must not be negative",
		})
	}

	// Validate Retriever config
	if c.Retriever.SearchType != "similarity" && c.Retriever.SearchType != "similarity_score_threshold" {
		errors = append(errors, ValidationError{
			Field:   "retriever.search_type",
			Message: fmt.Sprintf("unknown search type: %s", c.Retriever.SearchType),
		})
	}

	if c.Retriever.K < 1 {
		errors = append(errors, ValidationError{
			Field:   "retriever.k",
			Message: "k must be positive",
		})
	}

	if c.Retriever.ScoreThreshold < 0 || c.Retriever.ScoreThreshold > 1 {
		errors = append(errors, ValidationError{
			Field:   "retriever.score_threshold",
			Message: "score_threshold must be between 0 and 1",
		})
	}

	if c.Server.TypingMode != "char" && c.Server.TypingMode != "word" {
		errors = append(errors, ValidationError{
			Field:   "server.typing_mode",
			Message: "typing_mode must be char or word",
		})
	}

	if c.Server.TypingDelay < 0 {
		errors = append(errors, ValidationError{
			Field:   "server.typing_delay",
			Message: "typing_delay must not be negative",
		})
	}

	return errors
}

func isHTTPURL(s string) bool {
	u, err := url.Parse(s)
	if err != nil {
		return false
	}
	return (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}
