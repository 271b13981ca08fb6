package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	LLM struct {
		Provider    string  `yaml:"provider"`
		BaseURL     string  `yaml:"base_url"`
		APIKey      string  `yaml:"api_key"`
		Model       string  `yaml:"model"`
		MaxTokens   int     `yaml:"max_tokens"`
		Temperature float64 `yaml:"temperature"`
		Profile     string  `yaml:"profile"`
		// Requests per minute allowed against the hosted API.
		RateLimit float64 `yaml:"rate_limit"`
	} `yaml:"llm"`

	Summary struct {
		Model          string `yaml:"model"`
		MaxConcurrency int    `yaml:"max_concurrency"`
	} `yaml:"summary"`

	Embedding struct {
		BaseURL string `yaml:"base_url"`
		Model   string `yaml:"model"`
	} `yaml:"embedding"`

	Database struct {
		URL       string `yaml:"url"`
		VectorDir string `yaml:"vector_dir"`
		TableName string `yaml:"table_name"`
		VectorDim int    `yaml:"vector_dim"`
		BatchSize int    `yaml:"batch_size"`
	} `yaml:"database"`

	Docstore struct {
		Dir string `yaml:"dir"`
	} `yaml:"docstore"`

	Partition struct {
		URL                string `yaml:"url"`
		APIKey             string `yaml:"api_key"`
		Strategy           string `yaml:"strategy"`
		InferTables        bool   `yaml:"infer_tables"`
		MaxCharacters      int    `yaml:"max_characters"`
		NewAfterNChars     int    `yaml:"new_after_n_chars"`
		CombineUnderNChars int    `yaml:"combine_under_n_chars"`
		// Drop Indonesian stopwords (plus CustomStopwords) from chunk text.
		RemoveStopwords bool     `yaml:"remove_stopwords"`
		CustomStopwords []string `yaml:"custom_stopwords"`
	} `yaml:"partition"`

	Ingest struct {
		UploadDir string `yaml:"upload_dir"`
	} `yaml:"ingest"`

	Scraper struct {
		MaxDepth       int      `yaml:"max_depth"`
		RateLimit      float64  `yaml:"rate_limit"`
		IgnorePatterns []string `yaml:"ignore_patterns"`
	} `yaml:"scraper"`

	Retriever struct {
		SearchType     string  `yaml:"search_type"`
		K              int     `yaml:"k"`
		ScoreThreshold float32 `yaml:"score_threshold"`
	} `yaml:"retriever"`

	Server struct {
		Port        string        `yaml:"port"`
		CORSOrigins []string      `yaml:"cors_origins"`
		TypingMode  string        `yaml:"typing_mode"`
		TypingDelay time.Duration `yaml:"typing_delay"`
	} `yaml:"server"`

	Log struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
	} `yaml:"log"`
}

// LoadConfig reads the YAML file at path (or the first default location that
// exists), loads .env files, overlays the environment and fills defaults.
func LoadConfig(path string) (*Config, error) {
	loadDotEnv()

	// If no path provided, try default locations
	if path == "" {
		locations := []string{
			"config.yaml",
			"config.yml",
			filepath.Join(os.Getenv("HOME"), ".config/deptbot/config.yaml"),
			"/etc/deptbot/config.yaml",
		}

		for _, loc := range locations {
			if _, err := os.Stat(loc); err == nil {
				path = loc
				break
			}
		}
	}

	if path == "" {
		return getDefaultConfig()
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

	var config Config
	presetDefaults(&config)
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("error parsing config file: %w", err)
	}

	mergeWithEnv(&config)
	applyDefaults(&config)

	return &config, nil
}

func getDefaultConfig() (*Config, error) {
	config := &Config{}
	presetDefaults(config)
	mergeWithEnv(config)
	applyDefaults(config)
	return config, nil
}

// loadDotEnv loads .env from the working directory or its parents, the way
// find_dotenv walks upward. Missing files are not an error.
func loadDotEnv() {
	dir, err := os.Getwd()
	if err != nil {
		return
	}
	for {
		candidate := filepath.Join(dir, ".env")
		if _, err := os.Stat(candidate); err == nil {
			_ = godotenv.Load(candidate)
			return
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return
		}
		dir = parent
	}
}

// presetDefaults sets defaults for fields where the zero value is a valid
// choice, so they must be in place before the file is decoded.
func presetDefaults(config *Config) {
	config.Partition.InferTables = true
	config.Scraper.MaxDepth = 2
	config.Scraper.RateLimit = 2.0
	config.Retriever.ScoreThreshold = 0.5
}

func applyDefaults(config *Config) {
	if config.LLM.Provider == "" {
		config.LLM.Provider = "groq"
	}
	if config.LLM.BaseURL == "" {
		switch config.LLM.Provider {
		case "ollama":
			config.LLM.BaseURL = "http://localhost:11434"
		case "openai":
			config.LLM.BaseURL = "https://api.openai.com/v1"
		default:
			config.LLM.BaseURL = "https://api.groq.com/openai/v1"
		}
	}
	if config.LLM.Model == "" {
		if config.LLM.Provider == "ollama" {
			config.LLM.Model = "llama3"
		} else {
			config.LLM.Model = "llama3-8b-8192"
		}
	}
	if config.LLM.MaxTokens == 0 {
		config.LLM.MaxTokens = 2000
	}
	if config.LLM.Profile == "" {
		if config.LLM.Provider == "ollama" {
			config.LLM.Profile = "local"
		} else {
			config.LLM.Profile = "groq"
		}
	}
	if config.LLM.RateLimit == 0 {
		config.LLM.RateLimit = 30
	}

	if config.Summary.Model == "" {
		config.Summary.Model = config.LLM.Model
	}
	if config.Summary.MaxConcurrency == 0 {
		config.Summary.MaxConcurrency = 5
	}

	if config.Embedding.BaseURL == "" {
		config.Embedding.BaseURL = "http://localhost:11434"
	}
	if config.Embedding.Model == "" {
		config.Embedding.Model = "mxbai-embed-large:latest"
	}

	if config.Database.URL == "" {
		config.Database.URL = "local://"
	}
	if config.Database.VectorDir == "" {
		config.Database.VectorDir = "./vectorDB"
	}
	if config.Database.TableName == "" {
		config.Database.TableName = "database"
	}
	if config.Database.VectorDim == 0 {
		config.Database.VectorDim = 1024
	}
	if config.Database.BatchSize == 0 {
		config.Database.BatchSize = 100
	}

	if config.Docstore.Dir == "" {
		config.Docstore.Dir = "./docstore"
	}

	if config.Partition.URL == "" {
		config.Partition.URL = "https://api.unstructuredapp.io"
	}
	if config.Partition.Strategy == "" {
		config.Partition.Strategy = "hi_res"
	}
	if config.Partition.MaxCharacters == 0 {
		config.Partition.MaxCharacters = 2000
	}
	if config.Partition.NewAfterNChars == 0 {
		config.Partition.NewAfterNChars = 1800
	}
	if config.Partition.CombineUnderNChars == 0 {
		config.Partition.CombineUnderNChars = 1000
	}

	if config.Ingest.UploadDir == "" {
		config.Ingest.UploadDir = "pdfFiles"
	}

	if config.Retriever.SearchType == "" {
		config.Retriever.SearchType = "similarity"
	}
	if config.Retriever.K == 0 {
		config.Retriever.K = 4
	}

	if config.Server.Port == "" {
		config.Server.Port = "8080"
	}
	if len(config.Server.CORSOrigins) == 0 {
		config.Server.CORSOrigins = []string{"*"}
	}
	if config.Server.TypingMode == "" {
		config.Server.TypingMode = "char"
	}
	if config.Server.TypingDelay == 0 {
		if config.Server.TypingMode == "word" {
			config.Server.TypingDelay = 50 * time.Millisecond
		} else {
			config.Server.TypingDelay = 10 * time.Millisecond
		}
	}

	if config.Log.Level == "" {
		config.Log.Level = "info"
	}
	if config.Log.Format == "" {
		config.Log.Format = "json"
	}
}

func mergeWithEnv(config *Config) {
	if key := firstEnv("GROQ_API_KEY", "GROQ_API", "GROQ_API2"); key != "" {
		config.LLM.APIKey = key
	}
	if baseURL := os.Getenv("OLLAMA_BASE_URL"); baseURL != "" {
		config.Embedding.BaseURL = baseURL
		if config.LLM.Provider == "ollama" {
			config.LLM.BaseURL = baseURL
		}
	}
	if dbURL := os.Getenv("DATABASE_URL"); dbURL != "" {
		config.Database.URL = dbURL
	}
	if key := firstEnv("UNSTRUCTURED_API_KEY", "UNSTRUCTURED_API_KEY2"); key != "" {
		config.Partition.APIKey = key
	}
	if u := os.Getenv("UNSTRUCTURED_API_URL"); u != "" {
		config.Partition.URL = u
	}
	if port := os.Getenv("PORT"); port != "" {
		config.Server.Port = port
	}
}

func firstEnv(names ...string) string {
	for _, n := range names {
		if v := os.Getenv(n); v != "" {
			return v
		}
	}
	return ""
}
