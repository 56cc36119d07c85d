// Package config provides configuration loading and management for
// docdelta.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/c360studio/docdelta/diff"
	"github.com/c360studio/docdelta/embedding"
	"github.com/c360studio/docdelta/intake"
	"github.com/c360studio/docdelta/llm"
	"github.com/c360studio/docdelta/pipeline"
	"github.com/c360studio/docdelta/source/chunker"
	"github.com/c360studio/docdelta/source/webfetch"
)

// Config represents the complete docdelta configuration
type Config struct {
	NATS      NATSConfig      `yaml:"nats"`
	Embedding EmbeddingConfig `yaml:"embedding"`
	Model     ModelConfig     `yaml:"model"`
	Diff      DiffConfig      `yaml:"diff"`
	Chunker   ChunkerConfig   `yaml:"chunker"`
	Pipeline  pipeline.Config `yaml:"pipeline"`
	Fetch     webfetch.Config `yaml:"fetch"`
	Intake    intake.Config   `yaml:"intake"`
	API       APIConfig       `yaml:"api"`

	// ArtifactsDir is where extracted document images are stored
	ArtifactsDir string `yaml:"artifacts_dir"`
}

// NATSConfig configures the NATS connection
type NATSConfig struct {
	// URL is the NATS server URL
	URL string `yaml:"url"`
}

// EmbeddingConfig configures the embedding client
type EmbeddingConfig struct {
	// Endpoint is the OpenAI-compatible embeddings endpoint
	Endpoint string `yaml:"endpoint"`
	// Model is the embedding model name
	Model string `yaml:"model"`
	// APIKey is sent as a bearer token when set
	APIKey string `yaml:"api_key"`
	// Timeout bounds a single embedding call
	Timeout time.Duration `yaml:"timeout"`
	// MaxAttempts is the number of attempts per call
	MaxAttempts int `yaml:"max_attempts"`
	// RequestsPerSecond throttles calls (0 = unthrottled)
	RequestsPerSecond float64 `yaml:"requests_per_second"`
}

// ModelConfig configures the chat model used for adjudication and
// elaboration
type ModelConfig struct {
	// Endpoint is the chat completions URL
	Endpoint string `yaml:"endpoint"`
	// Name is the model name sent in requests
	Name string `yaml:"name"`
	// APIKey is sent as a bearer token when set
	APIKey string `yaml:"api_key"`
	// Temperature controls randomness (0.0-1.0)
	Temperature float64 `yaml:"temperature"`
	// Timeout bounds a single model call
	Timeout time.Duration `yaml:"timeout"`
	// RequestsPerSecond throttles calls (0 = unthrottled)
	RequestsPerSecond float64 `yaml:"requests_per_second"`
}

// DiffConfig configures the change classification engine. DetailPass
// is a pointer so an overlay file can turn it off.
type DiffConfig struct {
	Threshold       float64  `yaml:"threshold"`
	TopK            int      `yaml:"top_k"`
	Workers         int      `yaml:"workers"`
	DetailPass      *bool    `yaml:"detail_pass"`
	DeletionMarkers []string `yaml:"deletion_markers,omitempty"`
}

// ChunkerConfig configures document chunking
type ChunkerConfig struct {
	// MaxTokens is the maximum chunk size in estimated tokens
	MaxTokens int `yaml:"max_tokens"`
}

// APIConfig configures the HTTP API server
type APIConfig struct {
	// Addr is the listen address
	Addr string `yaml:"addr"`
}

// DefaultConfig returns a Config with sensible defaults
func DefaultConfig() *Config {
	embDefaults := embedding.DefaultConfig()
	modelDefaults := llm.DefaultConfig()
	diffDefaults := diff.DefaultConfig()
	detail := diffDefaults.DetailPass

	return &Config{
		NATS: NATSConfig{
			URL: "nats://127.0.0.1:4222",
		},
		Embedding: EmbeddingConfig{
			Endpoint:          embDefaults.Endpoint,
			Model:             embDefaults.Model,
			Timeout:           embDefaults.CallTimeout,
			MaxAttempts:       embDefaults.MaxAttempts,
			RequestsPerSecond: embDefaults.RequestsPerSecond,
		},
		Model: ModelConfig{
			Endpoint:          modelDefaults.Endpoint,
			Name:              modelDefaults.Model,
			Temperature:       modelDefaults.Temperature,
			Timeout:           modelDefaults.CallTimeout,
			RequestsPerSecond: modelDefaults.RequestsPerSecond,
		},
		Diff: DiffConfig{
			Threshold:  diffDefaults.Threshold,
			TopK:       diffDefaults.TopK,
			Workers:    diffDefaults.Workers,
			DetailPass: &detail,
		},
		Chunker: ChunkerConfig{
			MaxTokens: chunker.DefaultConfig().MaxTokens,
		},
		Pipeline: pipeline.DefaultConfig(),
		Fetch:    webfetch.DefaultConfig(),
		Intake:   intake.DefaultConfig(),
		API: APIConfig{
			Addr: ":8080",
		},
		ArtifactsDir: "artifacts",
	}
}

// Validate checks that the configuration is valid
func (c *Config) Validate() error {
	if c.Embedding.Endpoint == "" {
		return fmt.Errorf("embedding.endpoint is required")
	}
	if c.Embedding.Model == "" {
		return fmt.Errorf("embedding.model is required")
	}
	if c.Model.Endpoint == "" {
		return fmt.Errorf("model.endpoint is required")
	}
	if c.Model.Name == "" {
		return fmt.Errorf("model.name is required")
	}
	if c.Model.Temperature < 0 || c.Model.Temperature > 1 {
		return fmt.Errorf("model.temperature must be between 0 and 1")
	}
	if err := c.EngineConfig().Validate(); err != nil {
		return fmt.Errorf("diff: %w", err)
	}
	if err := c.ChunkerConfig().Validate(); err != nil {
		return fmt.Errorf("chunker: %w", err)
	}
	if c.API.Addr == "" {
		return fmt.Errorf("api.addr is required")
	}
	return nil
}

// EmbeddingClientConfig returns the embedding client configuration.
func (c *Config) EmbeddingClientConfig() embedding.Config {
	cfg := embedding.DefaultConfig()
	cfg.Endpoint = c.Embedding.Endpoint
	cfg.Model = c.Embedding.Model
	cfg.APIKey = c.Embedding.APIKey
	if c.Embedding.Timeout > 0 {
		cfg.CallTimeout = c.Embedding.Timeout
	}
	if c.Embedding.MaxAttempts > 0 {
		cfg.MaxAttempts = c.Embedding.MaxAttempts
	}
	cfg.RequestsPerSecond = c.Embedding.RequestsPerSecond
	return cfg
}

// ModelClientConfig returns the chat model client configuration.
func (c *Config) ModelClientConfig() llm.Config {
	cfg := llm.DefaultConfig()
	cfg.Endpoint = c.Model.Endpoint
	cfg.Model = c.Model.Name
	cfg.APIKey = c.Model.APIKey
	cfg.Temperature = c.Model.Temperature
	if c.Model.Timeout > 0 {
		cfg.CallTimeout = c.Model.Timeout
	}
	cfg.RequestsPerSecond = c.Model.RequestsPerSecond
	return cfg
}

// EngineConfig returns the diff engine configuration.
func (c *Config) EngineConfig() diff.Config {
	cfg := diff.DefaultConfig()
	if c.Diff.Threshold != 0 {
		cfg.Threshold = c.Diff.Threshold
	}
	if c.Diff.TopK != 0 {
		cfg.TopK = c.Diff.TopK
	}
	if c.Diff.Workers != 0 {
		cfg.Workers = c.Diff.Workers
	}
	if c.Diff.DetailPass != nil {
		cfg.DetailPass = *c.Diff.DetailPass
	}
	if len(c.Diff.DeletionMarkers) > 0 {
		cfg.DeletionMarkers = c.Diff.DeletionMarkers
	}
	return cfg
}

// ChunkerConfig returns the chunker configuration.
func (c *Config) ChunkerConfig() chunker.Config {
	cfg := chunker.DefaultConfig()
	if c.Chunker.MaxTokens != 0 {
		cfg.MaxTokens = c.Chunker.MaxTokens
	}
	return cfg
}

// LoadFromFile loads configuration from a YAML file
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	config := DefaultConfig()
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	return config, nil
}

// SaveToFile saves configuration to a YAML file
func (c *Config) SaveToFile(path string) error {
	// Ensure parent directory exists
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// Merge merges another config into this one (other takes precedence
// for non-zero values)
func (c *Config) Merge(other *Config) {
	if other == nil {
		return
	}

	if other.NATS.URL != "" {
		c.NATS.URL = other.NATS.URL
	}

	if other.Embedding.Endpoint != "" {
		c.Embedding.Endpoint = other.Embedding.Endpoint
	}
	if other.Embedding.Model != "" {
		c.Embedding.Model = other.Embedding.Model
	}
	if other.Embedding.APIKey != "" {
		c.Embedding.APIKey = other.Embedding.APIKey
	}
	if other.Embedding.Timeout != 0 {
		c.Embedding.Timeout = other.Embedding.Timeout
	}
	if other.Embedding.MaxAttempts != 0 {
		c.Embedding.MaxAttempts = other.Embedding.MaxAttempts
	}
	if other.Embedding.RequestsPerSecond != 0 {
		c.Embedding.RequestsPerSecond = other.Embedding.RequestsPerSecond
	}

	if other.Model.Endpoint != "" {
		c.Model.Endpoint = other.Model.Endpoint
	}
	if other.Model.Name != "" {
		c.Model.Name = other.Model.Name
	}
	if other.Model.APIKey != "" {
		c.Model.APIKey = other.Model.APIKey
	}
	if other.Model.Temperature != 0 {
		c.Model.Temperature = other.Model.Temperature
	}
	if other.Model.Timeout != 0 {
		c.Model.Timeout = other.Model.Timeout
	}
	if other.Model.RequestsPerSecond != 0 {
		c.Model.RequestsPerSecond = other.Model.RequestsPerSecond
	}

	if other.Diff.Threshold != 0 {
		c.Diff.Threshold = other.Diff.Threshold
	}
	if other.Diff.TopK != 0 {
		c.Diff.TopK = other.Diff.TopK
	}
	if other.Diff.Workers != 0 {
		c.Diff.Workers = other.Diff.Workers
	}
	if other.Diff.DetailPass != nil {
		c.Diff.DetailPass = other.Diff.DetailPass
	}
	if len(other.Diff.DeletionMarkers) > 0 {
		c.Diff.DeletionMarkers = other.Diff.DeletionMarkers
	}

	if other.Chunker.MaxTokens != 0 {
		c.Chunker.MaxTokens = other.Chunker.MaxTokens
	}

	if other.Pipeline.StageTimeout != 0 {
		c.Pipeline.StageTimeout = other.Pipeline.StageTimeout
	}

	if other.Fetch.Timeout != 0 {
		c.Fetch.Timeout = other.Fetch.Timeout
	}
	if other.Fetch.UserAgent != "" {
		c.Fetch.UserAgent = other.Fetch.UserAgent
	}
	if other.Fetch.MaxContentSize != 0 {
		c.Fetch.MaxContentSize = other.Fetch.MaxContentSize
	}

	if other.Intake.Enabled {
		c.Intake.Enabled = true
	}
	if other.Intake.Dir != "" {
		c.Intake.Dir = other.Intake.Dir
	}
	if other.Intake.DebounceDelay != "" {
		c.Intake.DebounceDelay = other.Intake.DebounceDelay
	}
	if len(other.Intake.Patterns) > 0 {
		c.Intake.Patterns = other.Intake.Patterns
	}
	if len(other.Intake.ExcludeDirs) > 0 {
		c.Intake.ExcludeDirs = other.Intake.ExcludeDirs
	}
	if other.Intake.DefaultVersion != "" {
		c.Intake.DefaultVersion = other.Intake.DefaultVersion
	}

	if other.API.Addr != "" {
		c.API.Addr = other.API.Addr
	}

	if other.ArtifactsDir != "" {
		c.ArtifactsDir = other.ArtifactsDir
	}
}
