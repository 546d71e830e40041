//go:build integration

package ingest

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/studybuddy/rag-server/internal/chunker"
	"github.com/studybuddy/rag-server/internal/embedding"
	"github.com/studybuddy/rag-server/internal/llm"
	"github.com/studybuddy/rag-server/internal/rag"
	"github.com/studybuddy/rag-server/internal/vectorstore"
)

func TestIngestAndAnswer_Integration(t *testing.T) {
	if os.Getenv("OPENAI_API_KEY") == "" {
		t.Skip("OPENAI_API_KEY not set, skipping integration test")
	}

	dir := t.TempDir()
	material := `# Photosynthesis

Photosynthesis converts light energy into chemical energy stored in glucose.
It takes place in the chloroplasts of plant cells.
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "photosynthesis.md"), []byte(material), 0o644))

	client, err := embedding.NewOpenAIClient()
	require.NoError(t, err)

	embedder := embedding.NewService(client)
	async, err := embedding.NewAsync(embedder, embedding.DefaultWorkers)
	require.NoError(t, err)
	defer async.Release()

	store, err := vectorstore.NewStore(t.TempDir(), embedder, slog.Default())
	require.NoError(t, err)

	ragPipeline := rag.NewPipeline(&rag.Config{
		Store:     store,
		Completer: llm.NewClient(client, llm.DefaultModel),
		Logger:    slog.Default(),
	})
	pipeline := NewPipeline(chunker.NewSplitter(0, -1), async, ragPipeline, slog.Default())

	ctx := context.Background()
	result, err := pipeline.IngestDir(ctx, "bio101-it", dir)
	require.NoError(t, err)
	assert.Equal(t, 1, result.SuccessfulFiles)
	assert.Greater(t, result.TotalFragments, 0)

	answer, err := ragPipeline.GenerateAnswer(ctx, "Where does photosynthesis take place?", "bio101-it", 3)
	require.NoError(t, err)
	assert.NotEqual(t, rag.NoMaterialAnswer, answer.Answer)
	assert.NotEmpty(t, answer.Sources)
	assert.Greater(t, answer.Confidence, 0.0)

	assert.True(t, ragPipeline.DeleteCollection("bio101-it"))
}
