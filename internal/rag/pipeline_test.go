package rag

import (
	"context"
	"errors"
	"hash/fnv"
	"math"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/studybuddy/rag-server/internal/vectorstore"
)

// bagEmbedder hashes tokens into a normalized fixed-dimension vector so
// texts sharing words score as similar. Deterministic and offline.
type bagEmbedder struct {
	dim int
}

func (e bagEmbedder) Dimension() int { return e.dim }

func (e bagEmbedder) EmbedBatch(_ context.Context, texts []string) [][]float32 {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = e.embed(t)
	}
	return out
}

func (e bagEmbedder) EmbedQuery(_ context.Context, text string) []float32 {
	return e.embed(text)
}

func (e bagEmbedder) embed(text string) []float32 {
	vec := make([]float32, e.dim)
	for _, tok := range strings.Fields(strings.ToLower(text)) {
		tok = strings.Trim(tok, ".,;:!?\"'()")
		tok = strings.TrimSuffix(tok, "s")
		if tok == "" {
			continue
		}
		h := fnv.New32a()
		h.Write([]byte(tok))
		vec[h.Sum32()%uint32(e.dim)]++
	}
	var sum float64
	for _, v := range vec {
		sum += float64(v) * float64(v)
	}
	if sum > 0 {
		inv := float32(1 / math.Sqrt(sum))
		for i := range vec {
			vec[i] *= inv
		}
	}
	return vec
}

// recordingCompleter captures the prompt and returns a canned reply or error.
type recordingCompleter struct {
	reply      string
	err        error
	lastPrompt string
	calls      int
}

func (c *recordingCompleter) Complete(_ context.Context, prompt string, _ float64) (string, error) {
	c.calls++
	c.lastPrompt = prompt
	return c.reply, c.err
}

func newTestPipeline(t *testing.T, completer *recordingCompleter, cfg Config) *Pipeline {
	t.Helper()
	store, err := vectorstore.NewStore(t.TempDir(), bagEmbedder{dim: 512}, nil)
	require.NoError(t, err)

	cfg.Store = store
	if completer != nil {
		cfg.Completer = completer
	}
	return NewPipeline(&cfg)
}

func TestQuery_EndToEndScenario(t *testing.T) {
	pipeline := newTestPipeline(t, nil, Config{})
	ctx := context.Background()

	_, err := pipeline.AddDocuments(ctx, "bio101", []vectorstore.Fragment{
		{Text: "Photosynthesis converts light into chemical energy.", SourceLabel: "bio101.pdf"},
		{Text: "Mitochondria produce ATP via respiration.", SourceLabel: "bio101.pdf"},
	})
	require.NoError(t, err)

	results, err := pipeline.Query(ctx, "How do plants convert sunlight?", "bio101", 1, true)
	require.NoError(t, err)
	require.Len(t, results, 1, "top_k=1 returns a single fragment")

	top := results[0]
	assert.Contains(t, top.Text, "Photosynthesis")
	assert.Equal(t, "bio101.pdf", top.SourceLabel)
	assert.Greater(t, top.Score, 0.0)
}

func TestQuery_EmptyCollection(t *testing.T) {
	pipeline := newTestPipeline(t, nil, Config{})

	results, err := pipeline.Query(context.Background(), "anything", "no-such-course", 5, true)
	require.NoError(t, err, "an unprocessed collection is a normal state")
	assert.Empty(t, results)
}

func TestRerank_MonotonicityBound(t *testing.T) {
	candidates := []vectorstore.RetrievedFragment{
		{FragmentRecord: vectorstore.FragmentRecord{Importance: 0.0}, Score: 0.9},
		{FragmentRecord: vectorstore.FragmentRecord{Importance: 0.5}, Score: 0.8},
		{FragmentRecord: vectorstore.FragmentRecord{Importance: 1.0}, Score: 0.7},
		{FragmentRecord: vectorstore.FragmentRecord{Importance: 2.5}, Score: 0.6}, // out of range, clamped
		{FragmentRecord: vectorstore.FragmentRecord{Importance: 0.25}, Score: 0.4},
	}

	rerankByImportance(candidates)

	for _, c := range candidates {
		ratio := c.RerankScore / c.Score
		assert.GreaterOrEqual(t, ratio, 0.5, "importance can at most halve a score")
		assert.LessOrEqual(t, ratio, 1.0, "importance never boosts past the raw score")
	}
	for i := 1; i < len(candidates); i++ {
		assert.GreaterOrEqual(t, candidates[i-1].RerankScore, candidates[i].RerankScore)
	}
}

func TestRerank_StableTieBreak(t *testing.T) {
	// Equal rerank scores must preserve similarity-first order.
	candidates := []vectorstore.RetrievedFragment{
		{FragmentRecord: vectorstore.FragmentRecord{FragmentID: "a", Importance: 0.5}, Score: 0.8},
		{FragmentRecord: vectorstore.FragmentRecord{FragmentID: "b", Importance: 0.5}, Score: 0.8},
		{FragmentRecord: vectorstore.FragmentRecord{FragmentID: "c", Importance: 0.5}, Score: 0.8},
	}

	rerankByImportance(candidates)

	assert.Equal(t, "a", candidates[0].FragmentID)
	assert.Equal(t, "b", candidates[1].FragmentID)
	assert.Equal(t, "c", candidates[2].FragmentID)
}

func TestQuery_RerankPromotesImportance(t *testing.T) {
	pipeline := newTestPipeline(t, nil, Config{})
	ctx := context.Background()

	// Identical texts embed identically; only importance separates them.
	_, err := pipeline.AddDocuments(ctx, "course", []vectorstore.Fragment{
		{FragmentID: "low", Text: "shared identical content", Importance: 0.2},
		{FragmentID: "high", Text: "shared identical content", Importance: 0.9},
	})
	require.NoError(t, err)

	reranked, err := pipeline.Query(ctx, "shared identical content", "course", 2, true)
	require.NoError(t, err)
	require.Len(t, reranked, 2)
	assert.Equal(t, "high", reranked[0].FragmentID)

	plain, err := pipeline.Query(ctx, "shared identical content", "course", 2, false)
	require.NoError(t, err)
	require.Len(t, plain, 2)
	assert.Equal(t, "low", plain[0].FragmentID, "without reranking, insertion order wins the tie")
}

func TestGenerateAnswer_NoMaterial(t *testing.T) {
	completer := &recordingCompleter{reply: "should never be used"}
	pipeline := newTestPipeline(t, completer, Config{})

	answer, err := pipeline.GenerateAnswer(context.Background(), "anything", "empty-course", 5)
	require.NoError(t, err)

	assert.Equal(t, NoMaterialAnswer, answer.Answer)
	assert.NotNil(t, answer.Sources)
	assert.Empty(t, answer.Sources)
	assert.Zero(t, answer.Confidence)
	assert.Zero(t, completer.calls, "no generation call without retrieved context")
}

func TestGenerateAnswer_DegradedGeneration(t *testing.T) {
	completer := &recordingCompleter{err: errors.New("rate limited")}
	pipeline := newTestPipeline(t, completer, Config{})
	ctx := context.Background()

	_, err := pipeline.AddDocuments(ctx, "bio101", []vectorstore.Fragment{
		{Text: "Photosynthesis converts light into chemical energy.", SourceLabel: "bio101.pdf", Page: 12},
	})
	require.NoError(t, err)

	answer, err := pipeline.GenerateAnswer(ctx, "How do plants convert sunlight?", "bio101", 3)
	require.NoError(t, err, "generation failure must not fail the request")

	assert.Equal(t, FallbackAnswer, answer.Answer)
	require.Len(t, answer.Sources, 1, "retrieved sources survive generation failure")
	assert.Equal(t, "bio101.pdf", answer.Sources[0].SourceLabel)
	assert.Equal(t, 12, answer.Sources[0].Page)
	assert.Greater(t, answer.Confidence, 0.0)
}

func TestGenerateAnswer_Success(t *testing.T) {
	completer := &recordingCompleter{reply: "Plants capture sunlight through photosynthesis."}
	pipeline := newTestPipeline(t, completer, Config{})
	ctx := context.Background()

	_, err := pipeline.AddDocuments(ctx, "bio101", []vectorstore.Fragment{
		{Text: "Photosynthesis converts light into chemical energy.", SourceLabel: "bio101.pdf"},
	})
	require.NoError(t, err)

	answer, err := pipeline.GenerateAnswer(ctx, "How do plants convert sunlight?", "bio101", 3)
	require.NoError(t, err)

	assert.Equal(t, completer.reply, answer.Answer)
	assert.Contains(t, completer.lastPrompt, "Photosynthesis converts light")
	assert.Contains(t, completer.lastPrompt, "How do plants convert sunlight?")
	assert.LessOrEqual(t, answer.Confidence, 1.0)
}

func TestGenerateAnswer_ContextBudget(t *testing.T) {
	completer := &recordingCompleter{reply: "ok"}
	// Budget of 50 tokens = 200 characters: room for one formatted
	// fragment but not two.
	pipeline := newTestPipeline(t, completer, Config{MaxContextTokens: 50})
	ctx := context.Background()

	first := "sunlight conversion " + strings.Repeat("chloroplast ", 10)
	second := "unrelated " + strings.Repeat("mitochondria ", 10)
	_, err := pipeline.AddDocuments(ctx, "bio101", []vectorstore.Fragment{
		{Text: strings.TrimSpace(first), SourceLabel: "a.md"},
		{Text: strings.TrimSpace(second), SourceLabel: "b.md"},
	})
	require.NoError(t, err)

	answer, err := pipeline.GenerateAnswer(ctx, "sunlight chloroplast", "bio101", 2)
	require.NoError(t, err)
	require.NotEqual(t, NoMaterialAnswer, answer.Answer)

	contextText := extractContext(t, completer.lastPrompt)
	assert.LessOrEqual(t, len(contextText), 50*4, "assembled context stays within the budget")
	assert.Contains(t, contextText, strings.TrimSpace(first), "included fragments are whole, never truncated")
	assert.NotContains(t, contextText, "mitochondria", "overflowing fragment is dropped entirely")
}

func TestGenerateAnswer_ContextBudgetCountsSeparators(t *testing.T) {
	completer := &recordingCompleter{reply: "ok"}
	// Budget of 40 tokens = 160 characters. Each formatted fragment is
	// exactly 80 bytes, so both fit only if the joining newline between
	// them were ignored.
	pipeline := newTestPipeline(t, completer, Config{MaxContextTokens: 40})
	ctx := context.Background()

	first := "alpha " + strings.Repeat("x", 55)
	second := "omega " + strings.Repeat("x", 55)
	_, err := pipeline.AddDocuments(ctx, "course", []vectorstore.Fragment{
		{Text: first, SourceLabel: "a.md"},
		{Text: second, SourceLabel: "b.md"},
	})
	require.NoError(t, err)

	_, err = pipeline.GenerateAnswer(ctx, "alpha", "course", 2)
	require.NoError(t, err)

	contextText := extractContext(t, completer.lastPrompt)
	assert.LessOrEqual(t, len(contextText), 40*4)
	assert.Contains(t, contextText, "alpha")
	assert.NotContains(t, contextText, "omega")
}

func TestGenerateAnswer_ConfidenceCapped(t *testing.T) {
	completer := &recordingCompleter{reply: "ok"}
	pipeline := newTestPipeline(t, completer, Config{})
	ctx := context.Background()

	// An exact text match yields score 1.0; scaled by 1.2 it must cap at 1.
	_, err := pipeline.AddDocuments(ctx, "course", []vectorstore.Fragment{
		{Text: "exact match text"},
	})
	require.NoError(t, err)

	answer, err := pipeline.GenerateAnswer(ctx, "exact match text", "course", 1)
	require.NoError(t, err)
	assert.InDelta(t, 1.0, answer.Confidence, 1e-9)
}

// extractContext pulls the CONTEXT section out of the generated prompt.
func extractContext(t *testing.T, prompt string) string {
	t.Helper()
	_, rest, found := strings.Cut(prompt, "CONTEXT:\n")
	require.True(t, found, "prompt carries a CONTEXT section")
	contextText, _, found := strings.Cut(rest, "\n\nQUESTION:")
	require.True(t, found, "prompt carries a QUESTION section")
	return contextText
}
