package config

import "time"

// DatabaseConfig holds PostgreSQL connection settings for the knowledge store.
type DatabaseConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Database string `yaml:"database"`
	SSLMode  string `yaml:"ssl_mode"`

	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
}

// RedisConfig holds connection settings for the session store.
type RedisConfig struct {
	Addr     string        `yaml:"addr"`
	Password string        `yaml:"password"`
	DB       int           `yaml:"db"`
	TTL      time.Duration `yaml:"ttl"`
}

// LLMConfig configures the chat-completion collaborator.
type LLMConfig struct {
	Provider    string        `yaml:"provider"` // "anthropic" (only implemented provider)
	Model       string        `yaml:"model"`
	Temperature float64       `yaml:"temperature"`
	MaxTokens   int           `yaml:"max_tokens"`
	Timeout     time.Duration `yaml:"timeout"`
	APIKeyEnv   string        `yaml:"api_key_env"`
}

// EmbeddingConfig configures the embedding collaborator.
type EmbeddingConfig struct {
	Provider  string        `yaml:"provider"` // "openai" (only implemented provider)
	Model     string        `yaml:"model"`
	Dimension int           `yaml:"dimension"`
	Timeout   time.Duration `yaml:"timeout"`
	APIKeyEnv string        `yaml:"api_key_env"`
}

// RetryConfig bounds the exponential-backoff retry applied to every
// embedding/LLM call.
type RetryConfig struct {
	MaxAttempts     int           `yaml:"max_attempts"`
	InitialInterval time.Duration `yaml:"initial_interval"`
	MaxInterval     time.Duration `yaml:"max_interval"`
}

// ClusterConfig holds the offline index-build thresholds.
type ClusterConfig struct {
	SimilarityThreshold float64 `yaml:"similarity_threshold"` // τ_cluster, default 0.85
}

// DialogueConfig holds the online reasoning-loop constants.
type DialogueConfig struct {
	TopKHypotheses        int           `yaml:"top_k_hypotheses"`        // K, default 3
	TopNRecommendations   int           `yaml:"top_n_recommendations"`   // default 3
	DiagnosisThreshold    float64       `yaml:"diagnosis_threshold"`     // default 0.80
	ForcedDiagnosisFloor  float64       `yaml:"forced_diagnosis_floor"`  // default 0.50
	RetrievalTopK         int           `yaml:"retrieval_top_k"`         // default 20 (tracker candidate gather)
	TurnBudget            time.Duration `yaml:"turn_budget"`             // default 120s
	PerCallTimeout        time.Duration `yaml:"per_call_timeout"`        // default 30s
}

// ServerConfig holds HTTP/WebSocket server settings.
type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}
