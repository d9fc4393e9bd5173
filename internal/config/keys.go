package config

import (
	"fmt"
	"os"
	"strconv"
)

type keyType int

const (
	kString keyType = iota
	kInt
	kBool
	kFloat
)

type keySpec struct {
	key    string
	typ    keyType
	env    string
	secret bool // secrets are never read from the config file
	apply  func(cfg *Config, v any)
}

var specs = []keySpec{
	{
		key: "server.port", typ: kInt, env: "SAGE_SERVER_PORT",
		apply: func(cfg *Config, v any) { cfg.Server.Port = v.(int) },
	},
	{
		key: "server.mcp_port", typ: kInt, env: "SAGE_SERVER_MCP_PORT",
		apply: func(cfg *Config, v any) { cfg.Server.MCPPort = v.(int) },
	},
	{
		key: "server.api_token", typ: kString, env: "SAGE_API_TOKEN", secret: true,
		apply: func(cfg *Config, v any) { cfg.Server.APIToken = v.(string) },
	},
	{
		key: "embedding.base_url", typ: kString, env: "SAGE_EMBEDDING_BASE_URL",
		apply: func(cfg *Config, v any) { cfg.Embedding.BaseURL = v.(string) },
	},
	{
		key: "embedding.model", typ: kString, env: "SAGE_EMBEDDING_MODEL",
		apply: func(cfg *Config, v any) { cfg.Embedding.Model = v.(string) },
	},
	{
		key: "embedding.api_key", typ: kString, env: "SAGE_EMBEDDING_API_KEY", secret: true,
		apply: func(cfg *Config, v any) { cfg.Embedding.APIKey = v.(string) },
	},
	{
		key: "embedding.batch_size", typ: kInt, env: "SAGE_EMBEDDING_BATCH_SIZE",
		apply: func(cfg *Config, v any) { cfg.Embedding.BatchSize = v.(int) },
	},
	{
		key: "embedding.vector_dim", typ: kInt, env: "SAGE_EMBEDDING_VECTOR_DIM",
		apply: func(cfg *Config, v any) { cfg.Embedding.VectorDim = v.(int) },
	},
	{
		key: "answer.render_prose", typ: kBool, env: "SAGE_ANSWER_RENDER_PROSE",
		apply: func(cfg *Config, v any) { cfg.Answer.RenderProse = v.(bool) },
	},
	{
		key: "answer.base_url", typ: kString, env: "SAGE_ANSWER_BASE_URL",
		apply: func(cfg *Config, v any) { cfg.Answer.BaseURL = v.(string) },
	},
	{
		key: "answer.model", typ: kString, env: "SAGE_ANSWER_MODEL",
		apply: func(cfg *Config, v any) { cfg.Answer.Model = v.(string) },
	},
	{
		key: "answer.api_key", typ: kString, env: "SAGE_ANSWER_API_KEY", secret: true,
		apply: func(cfg *Config, v any) { cfg.Answer.APIKey = v.(string) },
	},
	{
		key: "storage.data_dir", typ: kString, env: "SAGE_STORAGE_DATA_DIR",
		apply: func(cfg *Config, v any) { cfg.Storage.DataDir = v.(string) },
	},
	{
		key: "storage.vector_backend", typ: kString, env: "SAGE_VECTOR_BACKEND",
		apply: func(cfg *Config, v any) { cfg.Storage.VectorBackend = v.(string) },
	},
	{
		key: "storage.postgres_url", typ: kString, env: "SAGE_POSTGRES_URL", secret: true,
		apply: func(cfg *Config, v any) { cfg.Storage.PostgresURL = v.(string) },
	},
	{
		key: "storage.vector_table", typ: kString, env: "SAGE_VECTOR_TABLE",
		apply: func(cfg *Config, v any) { cfg.Storage.VectorTable = v.(string) },
	},
	{
		key: "ingest.max_concurrent", typ: kInt, env: "SAGE_INGEST_MAX_CONCURRENT",
		apply: func(cfg *Config, v any) { cfg.Ingest.MaxConcurrent = v.(int) },
	},
	{
		key: "ingest.chunk_size", typ: kInt, env: "SAGE_INGEST_CHUNK_SIZE",
		apply: func(cfg *Config, v any) { cfg.Ingest.ChunkSize = v.(int) },
	},
	{
		key: "ingest.chunk_overlap", typ: kInt, env: "SAGE_INGEST_CHUNK_OVERLAP",
		apply: func(cfg *Config, v any) { cfg.Ingest.ChunkOverlap = v.(int) },
	},
	{
		key: "ingest.watch_dir", typ: kString, env: "SAGE_INGEST_WATCH_DIR",
		apply: func(cfg *Config, v any) { cfg.Ingest.WatchDir = v.(string) },
	},
	{
		key: "ingest.fetch_timeout", typ: kString, env: "SAGE_INGEST_FETCH_TIMEOUT",
		apply: func(cfg *Config, v any) { cfg.Ingest.FetchTimeout = v.(string) },
	},
	{
		key: "ingest.fetch_rate_limit", typ: kFloat, env: "SAGE_INGEST_FETCH_RATE_LIMIT",
		apply: func(cfg *Config, v any) { cfg.Ingest.FetchRateLimit = v.(float64) },
	},
	{
		key: "ingest.transcript_base_url", typ: kString, env: "SAGE_TRANSCRIPT_BASE_URL",
		apply: func(cfg *Config, v any) { cfg.Ingest.TranscriptBaseURL = v.(string) },
	},
	{
		key: "ingest.job_retention", typ: kString, env: "SAGE_INGEST_JOB_RETENTION",
		apply: func(cfg *Config, v any) { cfg.Ingest.JobRetention = v.(string) },
	},
	{
		key: "ingest.vocab_path", typ: kString, env: "SAGE_INGEST_VOCAB_PATH",
		apply: func(cfg *Config, v any) { cfg.Ingest.VocabPath = v.(string) },
	},
	{
		key: "retrieval.top_k", typ: kInt, env: "SAGE_RETRIEVAL_TOP_K",
		apply: func(cfg *Config, v any) { cfg.Retrieval.TopK = v.(int) },
	},
	{
		key: "retrieval.threshold", typ: kFloat, env: "SAGE_RETRIEVAL_THRESHOLD",
		apply: func(cfg *Config, v any) { cfg.Retrieval.Threshold = v.(float64) },
	},
	{
		key: "log.level", typ: kString, env: "SAGE_LOG_LEVEL",
		apply: func(cfg *Config, v any) { cfg.Log.Level = v.(string) },
	},
}

func applyBackend(cfg *Config, b Backend) error {
	for _, s := range specs {
		if s.secret {
			continue
		}
		switch s.typ {
		case kString:
			v, ok, err := b.GetString(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok {
				s.apply(cfg, v)
			}
		case kInt:
			v, ok, err := b.GetInt(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok {
				s.apply(cfg, v)
			}
		case kBool:
			v, ok, err := b.GetString(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok && v != "" {
				if bv, err := strconv.ParseBool(v); err == nil {
					s.apply(cfg, bv)
				} else {
					fmt.Fprintf(os.Stderr, "[WARN] could not parse bool from config key %s=%q: %v. Using default value.\n", s.key, v, err)
				}
			}
		case kFloat:
			v, ok, err := b.GetString(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok && v != "" {
				if f, err := strconv.ParseFloat(v, 64); err == nil {
					s.apply(cfg, f)
				} else {
					fmt.Fprintf(os.Stderr, "[WARN] could not parse float from config key %s=%q: %v. Using default value.\n", s.key, v, err)
				}
			}
		}
	}
	return nil
}

func applyEnvOverrides(cfg *Config) {
	for _, s := range specs {
		if s.env == "" {
			continue
		}
		raw := os.Getenv(s.env)
		if raw == "" {
			continue
		}
		switch s.typ {
		case kString:
			s.apply(cfg, raw)
		case kInt:
			if i, err := strconv.Atoi(raw); err == nil {
				s.apply(cfg, i)
			} else {
				fmt.Fprintf(os.Stderr, "[WARN] could not parse integer from env var %s=%q: %v. Using default value.\n", s.env, raw, err)
			}
		case kBool:
			if b, err := strconv.ParseBool(raw); err == nil {
				s.apply(cfg, b)
			} else {
				fmt.Fprintf(os.Stderr, "[WARN] could not parse bool from env var %s=%q: %v. Using default value.\n", s.env, raw, err)
			}
		case kFloat:
			if f, err := strconv.ParseFloat(raw, 64); err == nil {
				s.apply(cfg, f)
			} else {
				fmt.Fprintf(os.Stderr, "[WARN] could not parse float from env var %s=%q: %v. Using default value.\n", s.env, raw, err)
			}
		}
	}
}
