package config

import (
	"fmt"
	"sync"
	"time"

	"github.com/spf13/viper"
)

// Settings is the full application configuration, populated from the viper
// hierarchy (defaults < config file < environment).
type Settings struct {
	Server    ServerConfig    `mapstructure:"server"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	Provider  string          `mapstructure:"provider"`
	Ollama    OllamaConfig    `mapstructure:"ollama"`
	Tools     ToolsConfig     `mapstructure:"tools"`
	Retrieval RetrievalConfig `mapstructure:"retrieval"`
}

// ServerConfig holds the HTTP listener configuration.
type ServerConfig struct {
	Addr string `mapstructure:"addr"`
}

// DatabaseConfig holds event store persistence configuration.
type DatabaseConfig struct {
	Path string `mapstructure:"path"`
}

// LoggingConfig holds logging-related configuration.
type LoggingConfig struct {
	Level   string `mapstructure:"level"`
	LogFile string `mapstructure:"log_file"`
}

// OllamaConfig holds the model provider endpoint configuration.
type OllamaConfig struct {
	URL          string `mapstructure:"url"`
	DefaultModel string `mapstructure:"default_model"`
	Timeout      int    `mapstructure:"timeout"`
}

// RequestTimeout returns the provider timeout as a duration.
func (o OllamaConfig) RequestTimeout() time.Duration {
	if o.Timeout <= 0 {
		return 90 * time.Second
	}
	return time.Duration(o.Timeout) * time.Second
}

// ToolsConfig holds tool execution configuration.
type ToolsConfig struct {
	Enabled     bool `mapstructure:"enabled"`
	AutoConfirm bool `mapstructure:"auto_confirm"`
	MaxRounds   int  `mapstructure:"max_rounds"`
}

// RetrievalConfig holds vector store configuration for rag_sources.
type RetrievalConfig struct {
	Enabled    bool           `mapstructure:"enabled"`
	PersistDir string         `mapstructure:"persist_dir"`
	Collection string         `mapstructure:"collection"`
	TopK       int            `mapstructure:"top_k"`
	Embedder   EmbedderConfig `mapstructure:"embedder"`
}

// EmbedderConfig holds the embedding endpoint for the vector store.
type EmbedderConfig struct {
	Model   string `mapstructure:"model"`
	BaseURL string `mapstructure:"base_url"`
}

var (
	mu       sync.RWMutex
	settings *Settings
)

// Load unmarshals the current viper state into the global Settings.
func Load() (*Settings, error) {
	s := &Settings{}
	if err := viper.Unmarshal(s); err != nil {
		return nil, fmt.Errorf("failed to unmarshal settings: %w", err)
	}

	mu.Lock()
	settings = s
	mu.Unlock()
	return s, nil
}

// Get returns the loaded settings, or defaults when Load has not run (tests
// and library callers).
func Get() *Settings {
	mu.RLock()
	defer mu.RUnlock()
	if settings == nil {
		return defaultSettings()
	}
	return settings
}

// Set replaces the global settings, used by tests.
func Set(s *Settings) {
	mu.Lock()
	defer mu.Unlock()
	settings = s
}

func defaultSettings() *Settings {
	return &Settings{
		Server:   ServerConfig{Addr: ":8844"},
		Database: DatabaseConfig{Path: "strand.db"},
		Logging:  LoggingConfig{Level: "info"},
		Provider: "ollama",
		Ollama: OllamaConfig{
			URL:          "http://localhost:11434",
			DefaultModel: "qwen3:latest",
			Timeout:      90,
		},
		Tools: ToolsConfig{
			Enabled:   true,
			MaxRounds: 10,
		},
		Retrieval: RetrievalConfig{
			Collection: "documents",
			TopK:       4,
			Embedder: EmbedderConfig{
				Model:   "nomic-embed-text",
				BaseURL: "http://localhost:11434",
			},
		},
	}
}
