// Package config loads and validates the immutable configuration object
// passed explicitly into every component constructor. There is no
// ambient singleton — callers that need configuration receive a *Config
// at construction time (per the "global configuration via singleton"
// re-architecture note).
package config

// YAMLConfig mirrors the on-disk diagd.yaml structure.
type YAMLConfig struct {
	Database  DatabaseConfig  `yaml:"database"`
	Redis     RedisConfig     `yaml:"redis"`
	LLM       LLMConfig       `yaml:"llm"`
	Embedding EmbeddingConfig `yaml:"embedding"`
	Retry     RetryConfig     `yaml:"retry"`
	Cluster   ClusterConfig   `yaml:"cluster"`
	Dialogue  DialogueConfig  `yaml:"dialogue"`
	Server    ServerConfig    `yaml:"server"`
}

// Config is the umbrella configuration object returned by Load and
// passed into every component constructor.
type Config struct {
	configDir string
	YAML      *YAMLConfig
}

// ConfigDir returns the directory the configuration was loaded from.
func (c *Config) ConfigDir() string { return c.configDir }

// Database returns the database configuration.
func (c *Config) Database() DatabaseConfig { return c.YAML.Database }

// Redis returns the session-store configuration.
func (c *Config) Redis() RedisConfig { return c.YAML.Redis }

// LLM returns the chat-completion configuration.
func (c *Config) LLM() LLMConfig { return c.YAML.LLM }

// Embedding returns the embedding configuration.
func (c *Config) Embedding() EmbeddingConfig { return c.YAML.Embedding }

// Retry returns the retry/backoff configuration.
func (c *Config) Retry() RetryConfig { return c.YAML.Retry }

// Cluster returns the offline clustering configuration.
func (c *Config) Cluster() ClusterConfig { return c.YAML.Cluster }

// Dialogue returns the online reasoning-loop configuration.
func (c *Config) Dialogue() DialogueConfig { return c.YAML.Dialogue }

// Server returns the HTTP/WebSocket server configuration.
func (c *Config) Server() ServerConfig { return c.YAML.Server }
