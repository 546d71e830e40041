package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	// Run from an empty directory so no stray rag-server.yaml is picked up.
	t.Chdir(t.TempDir())

	s, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "./indices", s.IndexDir)
	assert.Equal(t, "text-embedding-3-small", s.EmbeddingModel)
	assert.Equal(t, 1536, s.EmbeddingDimension)
	assert.Equal(t, "gpt-4o-mini", s.CompletionModel)
	assert.InDelta(t, 0.3, s.Temperature, 1e-9)
	assert.Equal(t, 4000, s.MaxContextTokens)
	assert.Equal(t, 10, s.TopK)
	assert.Equal(t, 2000, s.ChunkSize)
	assert.Equal(t, 200, s.ChunkOverlap)
	assert.Equal(t, 8080, s.Port)
	assert.False(t, s.ServerMode)
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("RAG_INDEX_DIR", "/var/lib/rag")
	t.Setenv("RAG_TOP_K", "5")
	t.Setenv("RAG_SERVER_MODE", "true")

	s, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "/var/lib/rag", s.IndexDir)
	assert.Equal(t, 5, s.TopK)
	assert.True(t, s.ServerMode)
}

func TestLoad_InvalidEnvValue(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("RAG_EMBEDDING_DIMENSION", "-1")

	_, err := Load()
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidDimension)
}

func TestValidate(t *testing.T) {
	base := Settings{
		IndexDir:           "./indices",
		EmbeddingDimension: 1536,
		TopK:               10,
		MaxContextTokens:   4000,
		ChunkSize:          2000,
		ChunkOverlap:       200,
	}

	tests := []struct {
		name    string
		mutate  func(*Settings)
		wantErr error
	}{
		{"valid", func(*Settings) {}, nil},
		{"missing index dir", func(s *Settings) { s.IndexDir = "" }, ErrMissingIndexDir},
		{"zero dimension", func(s *Settings) { s.EmbeddingDimension = 0 }, ErrInvalidDimension},
		{"oversized dimension", func(s *Settings) { s.EmbeddingDimension = 9000 }, ErrInvalidDimension},
		{"zero top_k", func(s *Settings) { s.TopK = 0 }, ErrInvalidTopK},
		{"zero context budget", func(s *Settings) { s.MaxContextTokens = 0 }, ErrInvalidContextBudget},
		{"overlap at chunk size", func(s *Settings) { s.ChunkOverlap = s.ChunkSize }, ErrInvalidChunking},
		{"negative overlap", func(s *Settings) { s.ChunkOverlap = -1 }, ErrInvalidChunking},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := base
			tt.mutate(&s)
			err := s.Validate()
			if tt.wantErr == nil {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, tt.wantErr)
			}
		})
	}
}
