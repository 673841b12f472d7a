// Package config loads the canonical ragline configuration: one YAML file,
// environment variables layered in via .env and ${VAR} expansion, fail-fast
// validation, and plain derived option structs for each component. There
// is no ambient global configuration; components receive their options at
// construction.
package config

import (
	"fmt"
	"log"
	"os"
	"path/filepath"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"ragline/internal/chunker"
	"ragline/internal/corpus"
	"ragline/internal/retriever"
	"ragline/internal/vecindex"
)

// Embedding provider names.
const (
	ProviderHash   = "hash"
	ProviderOpenAI = "openai"
)

// Config is the canonical configuration, sectioned the way config.yaml is.
type Config struct {
	Embedding EmbeddingConfig `yaml:"embedding"`
	Retrieval RetrievalConfig `yaml:"retrieval"`
	LLM       LLMConfig       `yaml:"llm"`
	Paths     PathsConfig     `yaml:"paths"`
	Server    ServerConfig    `yaml:"server"`
	System    SystemConfig    `yaml:"system"`
}

// EmbeddingConfig selects and configures the embedding backend.
type EmbeddingConfig struct {
	// Provider is "hash" (local, deterministic, offline) or "openai"
	// (any OpenAI-compatible embeddings endpoint).
	Provider string `yaml:"provider"`
	Model    string `yaml:"model,omitempty"`
	// APIKey supports ${ENV_VAR} expansion.
	APIKey     string `yaml:"api_key,omitempty"`
	BaseURL    string `yaml:"base_url,omitempty"`
	Dimensions int    `yaml:"dimensions,omitempty"`
	BatchSize  int    `yaml:"batch_size,omitempty"`
}

// RetrievalConfig holds chunking and search parameters.
type RetrievalConfig struct {
	ChunkSize           int     `yaml:"chunk_size"`
	ChunkOverlap        int     `yaml:"chunk_overlap"`
	TopK                int     `yaml:"top_k"`
	SimilarityThreshold float32 `yaml:"similarity_threshold"`
	// Structure is the vector index search structure, "flat" or "hnsw".
	Structure       string `yaml:"structure,omitempty"`
	CandidateFactor int    `yaml:"candidate_factor,omitempty"`
}

// LLMConfig configures the chat completion backend.
type LLMConfig struct {
	Model string `yaml:"model"`
	// APIKey supports ${ENV_VAR} expansion.
	APIKey      string  `yaml:"api_key,omitempty"`
	BaseURL     string  `yaml:"base_url,omitempty"`
	MaxTokens   int     `yaml:"max_tokens,omitempty"`
	Temperature float32 `yaml:"temperature,omitempty"`
	MaxRetries  int     `yaml:"max_retries,omitempty"`
}

// PathsConfig locates the corpus and the persisted index.
type PathsConfig struct {
	Documents string `yaml:"documents"`
	Index     string `yaml:"index"`
	// LogFile mirrors log output to a file when set.
	LogFile string `yaml:"log_file,omitempty"`
}

// ServerConfig configures serve mode.
type ServerConfig struct {
	Port int `yaml:"port,omitempty"`
	// ReindexSchedule is a standard 5-field cron expression; empty
	// disables scheduled reindexing.
	ReindexSchedule string `yaml:"reindex_schedule,omitempty"`
}

// SystemConfig holds corpus-wide limits and switches.
type SystemConfig struct {
	MaxDocuments int  `yaml:"max_documents,omitempty"`
	StripHTML    bool `yaml:"strip_html,omitempty"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Embedding: EmbeddingConfig{
			Provider:   ProviderHash,
			Dimensions: 512,
			BatchSize:  32,
		},
		Retrieval: RetrievalConfig{
			ChunkSize:           500,
			ChunkOverlap:        50,
			TopK:                5,
			SimilarityThreshold: 0.3,
			Structure:           vecindex.StructureFlat,
			CandidateFactor:     3,
		},
		LLM: LLMConfig{
			Model:       "deepseek-chat",
			APIKey:      "${DEEPSEEK_API_KEY}",
			BaseURL:     "https://api.deepseek.com/v1",
			MaxTokens:   1000,
			Temperature: 0.7,
			MaxRetries:  3,
		},
		Paths: PathsConfig{
			Documents: "./data/documents",
			Index:     "./data/vectors/index.db",
		},
		Server: ServerConfig{
			Port: 8391,
		},
		System: SystemConfig{
			MaxDocuments: 100,
		},
	}
}

// Load reads the configuration from path, layered over Default. A missing
// file yields the defaults with a warning, matching local-tool
// expectations; a malformed file is an error. A .env file in the working
// directory is loaded first, then ${VAR} placeholders in secret-bearing
// fields are expanded, so keys never have to live in config.yaml.
// Validation failures are fatal here, not at first use.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.Printf("[config] .env not loaded: %v", err)
	}

	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			log.Printf("[config] %s not found, using defaults", path)
		} else {
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}
	} else if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}

	cfg.expandEnv()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// expandEnv expands ${ENV_VAR} placeholders in the fields that carry
// secrets or deployment-specific endpoints. An unset variable expands to
// the empty string; Validate decides whether that matters.
func (c *Config) expandEnv() {
	c.Embedding.APIKey = os.ExpandEnv(c.Embedding.APIKey)
	c.Embedding.BaseURL = os.ExpandEnv(c.Embedding.BaseURL)
	c.LLM.APIKey = os.ExpandEnv(c.LLM.APIKey)
	c.LLM.BaseURL = os.ExpandEnv(c.LLM.BaseURL)
}

// Validate checks structural invariants and fails fast on the first
// violation. API keys are only required for the providers actually
// selected; the LLM key is checked by the chat service at construction
// because index/query modes never need it.
func (c *Config) Validate() error {
	if c.Retrieval.ChunkSize <= 0 {
		return fmt.Errorf("config: retrieval.chunk_size must be positive, got %d", c.Retrieval.ChunkSize)
	}
	if c.Retrieval.ChunkOverlap < 0 || c.Retrieval.ChunkOverlap > c.Retrieval.ChunkSize {
		return fmt.Errorf("config: retrieval.chunk_overlap %d out of range for chunk_size %d",
			c.Retrieval.ChunkOverlap, c.Retrieval.ChunkSize)
	}
	if c.Retrieval.TopK <= 0 {
		return fmt.Errorf("config: retrieval.top_k must be positive, got %d", c.Retrieval.TopK)
	}
	if c.Retrieval.SimilarityThreshold < 0 || c.Retrieval.SimilarityThreshold > 1 {
		return fmt.Errorf("config: retrieval.similarity_threshold must be in [0, 1], got %g", c.Retrieval.SimilarityThreshold)
	}
	switch c.Retrieval.Structure {
	case "", vecindex.StructureFlat, vecindex.StructureHNSW:
	default:
		return fmt.Errorf("config: unknown retrieval.structure %q", c.Retrieval.Structure)
	}
	switch c.Embedding.Provider {
	case ProviderHash:
		if c.Embedding.Dimensions <= 0 {
			return fmt.Errorf("config: embedding.dimensions must be positive for the hash provider, got %d", c.Embedding.Dimensions)
		}
	case ProviderOpenAI:
		if c.Embedding.APIKey == "" {
			return fmt.Errorf("config: embedding.api_key is required for the openai provider")
		}
	default:
		return fmt.Errorf("config: unknown embedding.provider %q", c.Embedding.Provider)
	}
	if c.Paths.Documents == "" {
		return fmt.Errorf("config: paths.documents is required")
	}
	if c.Paths.Index == "" {
		return fmt.Errorf("config: paths.index is required")
	}
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("config: server.port %d out of range", c.Server.Port)
	}
	if c.System.MaxDocuments < 0 {
		return fmt.Errorf("config: system.max_documents must not be negative, got %d", c.System.MaxDocuments)
	}
	return nil
}

// EnsureDataDirs creates the directories the configured paths live in.
func (c *Config) EnsureDataDirs() error {
	for _, dir := range []string{c.Paths.Documents, filepath.Dir(c.Paths.Index)} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("config: create %s: %w", dir, err)
		}
	}
	return nil
}

// ChunkerOptions derives the chunker configuration.
func (c *Config) ChunkerOptions() chunker.Options {
	return chunker.Options{
		ChunkSize:    c.Retrieval.ChunkSize,
		ChunkOverlap: c.Retrieval.ChunkOverlap,
	}
}

// StoreOptions derives the vector index configuration.
func (c *Config) StoreOptions() vecindex.Options {
	return vecindex.Options{Structure: c.Retrieval.Structure}
}

// RetrieverOptions derives the retriever configuration.
func (c *Config) RetrieverOptions() retriever.Options {
	return retriever.Options{
		TopK:                c.Retrieval.TopK,
		SimilarityThreshold: c.Retrieval.SimilarityThreshold,
		BatchSize:           c.Embedding.BatchSize,
		CandidateFactor:     c.Retrieval.CandidateFactor,
	}
}

// CorpusOptions derives the corpus loader configuration.
func (c *Config) CorpusOptions() corpus.Options {
	return corpus.Options{
		Dir:          c.Paths.Documents,
		MaxDocuments: c.System.MaxDocuments,
		StripHTML:    c.System.StripHTML,
	}
}
