// Package config provides application settings with multi-source priority.
//
// Sources (highest to lowest priority):
//  1. Environment variables prefixed with RAG_ (e.g. RAG_INDEX_DIR)
//  2. Optional config file (rag-server.yaml in the working directory)
//  3. Built-in defaults
//
// OPENAI_API_KEY is read directly by the OpenAI clients and is not part of
// this package.
package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

var (
	// ErrInvalidDimension indicates the embedding dimension is out of range.
	ErrInvalidDimension = errors.New("invalid embedding dimension")

	// ErrInvalidTopK indicates the default result count is not positive.
	ErrInvalidTopK = errors.New("invalid top_k")

	// ErrInvalidContextBudget indicates the context token budget is not positive.
	ErrInvalidContextBudget = errors.New("invalid max context tokens")

	// ErrInvalidChunking indicates chunk size/overlap values are inconsistent.
	ErrInvalidChunking = errors.New("invalid chunk size or overlap")

	// ErrMissingIndexDir indicates no index directory is configured.
	ErrMissingIndexDir = errors.New("missing index directory")
)

// Settings holds all runtime configuration for the RAG server.
type Settings struct {
	// IndexDir is the directory holding persisted collection indices.
	IndexDir string `mapstructure:"index_dir"`

	// EmbeddingModel is the OpenAI embedding model name.
	EmbeddingModel string `mapstructure:"embedding_model"`

	// EmbeddingDimension is the vector dimension produced by the embedding model.
	EmbeddingDimension int `mapstructure:"embedding_dimension"`

	// CompletionModel is the OpenAI chat model used for answer generation.
	CompletionModel string `mapstructure:"completion_model"`

	// Temperature controls answer-generation sampling.
	Temperature float64 `mapstructure:"temperature"`

	// MaxContextTokens bounds the assembled retrieval context
	// (approximated as 4 characters per token).
	MaxContextTokens int `mapstructure:"max_context_tokens"`

	// TopK is the default number of fragments returned per query.
	TopK int `mapstructure:"top_k"`

	// ChunkSize is the maximum fragment length in characters.
	ChunkSize int `mapstructure:"chunk_size"`

	// ChunkOverlap is the character overlap between consecutive fragments
	// split from an oversized section.
	ChunkOverlap int `mapstructure:"chunk_overlap"`

	// Port is the HTTP listen port (health endpoint and MCP transport).
	Port int `mapstructure:"port"`

	// ServerMode selects HTTP transport when true, stdio when false.
	ServerMode bool `mapstructure:"server_mode"`
}

// Load reads settings from defaults, an optional rag-server.yaml and the
// environment, then validates them.
func Load() (*Settings, error) {
	v := viper.New()

	v.SetDefault("index_dir", "./indices")
	v.SetDefault("embedding_model", "text-embedding-3-small")
	v.SetDefault("embedding_dimension", 1536)
	v.SetDefault("completion_model", "gpt-4o-mini")
	v.SetDefault("temperature", 0.3)
	v.SetDefault("max_context_tokens", 4000)
	v.SetDefault("top_k", 10)
	v.SetDefault("chunk_size", 2000)
	v.SetDefault("chunk_overlap", 200)
	v.SetDefault("port", 8080)
	v.SetDefault("server_mode", false)

	v.SetConfigName("rag-server")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	v.SetEnvPrefix("RAG")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		// No config file is fine, env and defaults apply.
	}

	var s Settings
	if err := v.Unmarshal(&s); err != nil {
		return nil, fmt.Errorf("unmarshal settings: %w", err)
	}

	if err := s.Validate(); err != nil {
		return nil, err
	}
	return &s, nil
}

// Validate checks settings for internally consistent values.
func (s *Settings) Validate() error {
	if s.IndexDir == "" {
		return ErrMissingIndexDir
	}
	if s.EmbeddingDimension <= 0 || s.EmbeddingDimension > 8192 {
		return fmt.Errorf("%w: %d", ErrInvalidDimension, s.EmbeddingDimension)
	}
	if s.TopK <= 0 {
		return fmt.Errorf("%w: %d", ErrInvalidTopK, s.TopK)
	}
	if s.MaxContextTokens <= 0 {
		return fmt.Errorf("%w: %d", ErrInvalidContextBudget, s.MaxContextTokens)
	}
	if s.ChunkSize <= 0 || s.ChunkOverlap < 0 || s.ChunkOverlap >= s.ChunkSize {
		return fmt.Errorf("%w: size=%d overlap=%d", ErrInvalidChunking, s.ChunkSize, s.ChunkOverlap)
	}
	return nil
}
