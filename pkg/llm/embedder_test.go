package llm_test

import (
	"context"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xhad/deptbot/pkg/llm"
)

func TestNewEmbedder(t *testing.T) {
	emb, err := llm.NewEmbedder(llm.EmbedderConfig{})
	require.NoError(t, err)
	assert.NotNil(t, emb)
}

func TestNewModel(t *testing.T) {
	tests := []struct {
		name    string
		config  llm.ModelConfig
		wantErr bool
	}{
		{name: "groq", config: llm.ModelConfig{Provider: "groq", APIKey: "gsk", BaseURL: "https://api.groq.com/openai/v1", Model: "llama3-8b-8192"}},
		{name: "groq without key", config: llm.ModelConfig{Provider: "groq"}, wantErr: true},
		{name: "ollama", config: llm.ModelConfig{Provider: "ollama", Model: "llama3"}},
		{name: "unknown", config: llm.ModelConfig{Provider: "palm"}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			model, err := llm.NewModel(tt.config)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.NotNil(t, model)
		})
	}
}

func TestCreateEmbedding(t *testing.T) {
	// Requires a running Ollama server with the model pulled.
	url := os.Getenv("OLLAMA_TEST_URL")
	if url == "" {
		t.Skip("OLLAMA_TEST_URL not set")
	}

	emb, err := llm.NewEmbedder(llm.EmbedderConfig{Model: "nomic-embed-text", BaseURL: url})
	require.NoError(t, err)

	vecs, err := emb.EmbedDocuments(context.Background(), []string{"This is the first chunk.", "And this is the second chunk."})
	require.NoError(t, err)
	require.Len(t, vecs, 2)
	for i := range vecs {
		assert.Equal(t, 768, len(vecs[i]))
	}
}
