package graphrag

import (
	"fmt"
	"os"
	"strconv"
)

// Store kinds accepted by Config.GraphStore.
const (
	StoreRelational  = "relational"
	StoreGraphNative = "graph-native"
)

// LLMConfig selects one model endpoint.
type LLMConfig struct {
	Provider string `json:"provider"` // ollama, openai, gemini, custom
	Model    string `json:"model"`
	BaseURL  string `json:"base_url"`
	APIKey   string `json:"api_key"`
}

// Config holds every runtime option of the service. FromEnv fills it
// from the environment; zero values select the documented defaults.
type Config struct {
	// Enabled is the hard switch. When false every ingest/query
	// operation returns ErrDisabled without side effects.
	Enabled bool `json:"enabled"`

	// GraphStore selects the backend: relational (SQLite) or
	// graph-native (in-memory with native traversal).
	GraphStore string `json:"graph_store"`

	// DBPath is the SQLite file for the relational backend.
	DBPath string `json:"db_path"`

	// EmbeddingDim sizes the vec0 table; 0 disables in-store ANN.
	EmbeddingDim int `json:"embedding_dim"`

	Chat      LLMConfig `json:"chat"`
	Embedding LLMConfig `json:"embedding"`

	// VectorStoreURL enables external vector index mirroring when set.
	VectorStoreURL    string `json:"vector_store_url"`
	VectorStoreAPIKey string `json:"vector_store_api_key"`
	VectorCollection  string `json:"vector_collection"`

	DefaultNamespace string `json:"default_namespace"`

	// ArtifactsDir is the orchestrator's working tree.
	ArtifactsDir string `json:"artifacts_dir"`

	// IndexerBin is an optional external indexer; with APIKey set it
	// becomes the orchestrator's primary pipeline.
	IndexerBin string `json:"indexer_bin"`

	// IndexScheduleIntervalSeconds enables the periodic index
	// scheduler; 0 disables it.
	IndexScheduleIntervalSeconds int `json:"index_schedule_interval_seconds"`

	ClusterSummaryDailyTokenBudget int `json:"cluster_summary_daily_token_budget"`
	ClusterSummaryMaxTokensPer     int `json:"cluster_summary_max_tokens_per"`
	ClusterSummaryRateLimitPerMin  int `json:"cluster_summary_rate_limit_per_min"`

	// APIKey guards mutating endpoints when set.
	APIKey string `json:"-"`
}

// FromEnv reads the recognized environment options.
func FromEnv() Config {
	return Config{
		Enabled:          envBool("ENABLE_GRAPHRAG", true),
		GraphStore:       envStr("GRAPH_STORE", StoreRelational),
		DBPath:           envStr("GRAPHRAG_DB_PATH", "graphrag.db"),
		EmbeddingDim:     envInt("GRAPHRAG_EMBEDDING_DIM", 768),
		Chat: LLMConfig{
			Provider: os.Getenv("CHAT_PROVIDER"),
			Model:    os.Getenv("CHAT_MODEL"),
			BaseURL:  os.Getenv("CHAT_BASE_URL"),
			APIKey:   os.Getenv("CHAT_API_KEY"),
		},
		Embedding: LLMConfig{
			Provider: os.Getenv("EMBEDDING_PROVIDER"),
			Model:    os.Getenv("EMBEDDING_MODEL"),
			BaseURL:  os.Getenv("EMBEDDING_BASE_URL"),
			APIKey:   os.Getenv("EMBEDDING_API_KEY"),
		},
		VectorStoreURL:    os.Getenv("VECTOR_STORE_URL"),
		VectorStoreAPIKey: os.Getenv("VECTOR_STORE_API_KEY"),
		VectorCollection:  envStr("VECTOR_COLLECTION", "graphrag_nodes"),
		DefaultNamespace:  envStr("DEFAULT_NAMESPACE", "default"),
		ArtifactsDir:      envStr("GRAPHRAG_ARTIFACTS_DIR", "artifacts"),
		IndexerBin:        os.Getenv("GRAPHRAG_INDEXER_BIN"),

		IndexScheduleIntervalSeconds: envInt("INDEX_SCHEDULE_INTERVAL_SECONDS", 0),

		ClusterSummaryDailyTokenBudget: envInt("CLUSTER_SUMMARY_DAILY_TOKEN_BUDGET", 0),
		ClusterSummaryMaxTokensPer:     envInt("CLUSTER_SUMMARY_MAX_TOKENS_PER", 0),
		ClusterSummaryRateLimitPerMin:  envInt("CLUSTER_SUMMARY_RATE_LIMIT_PER_MIN", 0),

		APIKey: os.Getenv("GRAPHRAG_API_KEY"),
	}
}

// Validate rejects combinations the service cannot run with.
func (c Config) Validate() error {
	switch c.GraphStore {
	case StoreRelational, StoreGraphNative:
	default:
		return fmt.Errorf("unknown GRAPH_STORE %q: %w", c.GraphStore, ErrConfig)
	}
	if c.GraphStore == StoreRelational && c.DBPath == "" {
		return fmt.Errorf("relational store needs a db path: %w", ErrConfig)
	}
	if c.Embedding.Provider != "" && c.Embedding.Model == "" {
		return fmt.Errorf("EMBEDDING_PROVIDER set without EMBEDDING_MODEL: %w", ErrConfig)
	}
	return nil
}

// EmbeddingsEnabled reports whether an embedding client is configured.
func (c Config) EmbeddingsEnabled() bool { return c.Embedding.Provider != "" }

func envStr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envBool(key string, def bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

func envInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}
