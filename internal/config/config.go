package config

import (
	"fmt"
	"os"
	"path/filepath"
)

type Config struct {
	Server    ServerConfig
	Embedding EmbeddingConfig
	Answer    AnswerConfig
	Storage   StorageConfig
	Ingest    IngestConfig
	Retrieval RetrievalConfig
	Log       LogConfig
}

type ServerConfig struct {
	Port     int
	MCPPort  int
	APIToken string
}

type EmbeddingConfig struct {
	BaseURL   string
	Model     string
	APIKey    string
	BatchSize int
	VectorDim int
}

type AnswerConfig struct {
	RenderProse bool
	BaseURL     string
	Model       string
	APIKey      string
}

type StorageConfig struct {
	DataDir       string
	VectorBackend string // "sqlite" or "pgvector"
	PostgresURL   string
	VectorTable   string
}

type IngestConfig struct {
	MaxConcurrent     int
	ChunkSize         int
	ChunkOverlap      int
	WatchDir          string
	FetchTimeout      string // duration string, e.g. "10s"
	FetchRateLimit    float64
	TranscriptBaseURL string
	JobRetention      string // duration string, e.g. "1h"
	VocabPath         string // optional override for scoring tables
}

type RetrievalConfig struct {
	TopK      int
	Threshold float64
}

type LogConfig struct {
	Level string
}

func defaults() Config {
	return Config{
		Server: ServerConfig{
			Port:    4600,
			MCPPort: 4601,
		},
		Embedding: EmbeddingConfig{
			BaseURL:   "http://localhost:11434/v1",
			Model:     "nomic-embed-text",
			BatchSize: 10,
			VectorDim: 768,
		},
		Answer: AnswerConfig{
			RenderProse: false,
			BaseURL:     "http://localhost:11434/v1",
			Model:       "mistral-nemo",
		},
		Storage: StorageConfig{
			DataDir:       defaultDataDir(),
			VectorBackend: "sqlite",
			VectorTable:   "knowledge_vectors",
		},
		Ingest: IngestConfig{
			MaxConcurrent:  4,
			ChunkSize:      1000,
			ChunkOverlap:   100,
			FetchTimeout:   "10s",
			FetchRateLimit: 2,
			JobRetention:   "1h",
		},
		Retrieval: RetrievalConfig{
			TopK:      10,
			Threshold: 0.35,
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// Load reads configuration from the JSON config file at
// $XDG_CONFIG_HOME/sage/config.json, then applies SAGE_* environment
// variable overrides. Secrets (API keys, tokens) are only read from the
// environment.
func Load() (Config, error) {
	return loadWith(newFileBackend(configFilePath()))
}

func loadWith(b Backend) (Config, error) {
	cfg := defaults()

	if err := applyBackend(&cfg, b); err != nil {
		return Config{}, err
	}

	applyEnvOverrides(&cfg)

	if cfg.Storage.VectorBackend != "sqlite" && cfg.Storage.VectorBackend != "pgvector" {
		return Config{}, fmt.Errorf("unknown vector backend %q (want sqlite or pgvector)", cfg.Storage.VectorBackend)
	}
	if cfg.Storage.VectorBackend == "pgvector" && cfg.Storage.PostgresURL == "" {
		return Config{}, fmt.Errorf("vector backend pgvector requires SAGE_POSTGRES_URL")
	}

	return cfg, nil
}

func defaultDataDir() string {
	dir := os.Getenv("XDG_DATA_HOME")
	if dir == "" {
		if home, err := os.UserHomeDir(); err == nil {
			dir = filepath.Join(home, ".local", "share")
		} else {
			return "sage-data"
		}
	}
	return filepath.Join(dir, "sage")
}

func configFilePath() string {
	dir := os.Getenv("XDG_CONFIG_HOME")
	if dir == "" {
		if home, err := os.UserHomeDir(); err == nil {
			dir = filepath.Join(home, ".config")
		} else {
			dir = "."
		}
	}
	return filepath.Join(dir, "sage", "config.json")
}
