package config

import "time"

// Defaults returns a fully-populated YAMLConfig with every default value
// this service ships with, so a deployment only needs to override what
// differs from the baseline.
func Defaults() *YAMLConfig {
	return &YAMLConfig{
		Database: DatabaseConfig{
			Host:            "localhost",
			Port:            5432,
			User:            "diagd",
			Database:        "diagd",
			SSLMode:         "disable",
			MaxOpenConns:    10,
			MaxIdleConns:    5,
			ConnMaxLifetime: 30 * time.Minute,
		},
		Redis: RedisConfig{
			Addr: "localhost:6379",
			DB:   0,
			TTL:  24 * time.Hour,
		},
		LLM: LLMConfig{
			Provider:    "anthropic",
			Model:       "claude-sonnet-4-5",
			Temperature: 0.2,
			MaxTokens:   2048,
			Timeout:     30 * time.Second,
			APIKeyEnv:   "ANTHROPIC_API_KEY",
		},
		Embedding: EmbeddingConfig{
			Provider:  "openai",
			Model:     "text-embedding-3-small",
			Dimension: 1536,
			Timeout:   30 * time.Second,
			APIKeyEnv: "OPENAI_API_KEY",
		},
		Retry: RetryConfig{
			MaxAttempts:     3,
			InitialInterval: 500 * time.Millisecond,
			MaxInterval:     10 * time.Second,
		},
		Cluster: ClusterConfig{
			SimilarityThreshold: 0.85,
		},
		Dialogue: DialogueConfig{
			TopKHypotheses:       3,
			TopNRecommendations:  3,
			DiagnosisThreshold:   0.80,
			ForcedDiagnosisFloor: 0.50,
			RetrievalTopK:        20,
			TurnBudget:           120 * time.Second,
			PerCallTimeout:       30 * time.Second,
		},
		Server: ServerConfig{
			Host: "0.0.0.0",
			Port: 8080,
		},
	}
}
