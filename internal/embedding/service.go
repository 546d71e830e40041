// Package embedding converts text into fixed-dimension, L2-normalized
// vectors. Embedding failure is absorbed here: callers always receive a
// vector of the configured dimension, never an error.
package embedding

import (
	"context"
	"errors"
	"hash/fnv"
	"log/slog"
	"math"
	"math/rand"
	"os"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/openai/openai-go"
)

const (
	// DefaultModel is the OpenAI model used for generating embeddings.
	DefaultModel = "text-embedding-3-small"

	// DefaultDimension is the vector dimension for text-embedding-3-small.
	DefaultDimension = 1536

	// DefaultBatchSize balances requests-per-minute vs tokens-per-minute
	// rate limits. OpenAI accepts up to 2048 texts per request.
	DefaultBatchSize = 500

	// normEpsilon guards cosine similarity against division by a
	// near-zero norm.
	normEpsilon = 1e-9
)

// NewOpenAIClient creates the OpenAI API client shared by the embedding
// service and the completion client. It requires OPENAI_API_KEY in the
// environment; the SDK reads the key itself.
func NewOpenAIClient() (*openai.Client, error) {
	if os.Getenv("OPENAI_API_KEY") == "" {
		return nil, errors.New("OPENAI_API_KEY environment variable not set")
	}
	client := openai.NewClient()
	return &client, nil
}

// Service generates normalized embedding vectors. API failures degrade to
// deterministic pseudo-random unit vectors of the correct dimension so that
// ingestion and search never fail on collaborator outage.
type Service struct {
	client    *openai.Client
	model     string
	dimension int
	batchSize int
	logger    *slog.Logger
}

// Option configures a Service.
type Option func(*Service)

// WithModel overrides the embedding model name.
func WithModel(model string) Option {
	return func(s *Service) { s.model = model }
}

// WithDimension overrides the embedding dimension.
func WithDimension(dim int) Option {
	return func(s *Service) { s.dimension = dim }
}

// WithBatchSize overrides the per-request batch size.
func WithBatchSize(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.batchSize = n
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// NewService creates an embedding service backed by the given client.
// A nil client is legal: every call then takes the fallback path, which
// keeps the rest of the system operational without credentials.
func NewService(client *openai.Client, opts ...Option) *Service {
	s := &Service{
		client:    client,
		model:     DefaultModel,
		dimension: DefaultDimension,
		batchSize: DefaultBatchSize,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Dimension returns the vector dimension this service produces.
func (s *Service) Dimension() int {
	return s.dimension
}

// EmbedBatch returns one L2-normalized vector per input text, in input
// order. It never returns an error: texts that cannot be embedded get a
// deterministic fallback vector and the failure is logged.
func (s *Service) EmbedBatch(ctx context.Context, texts []string) [][]float32 {
	if len(texts) == 0 {
		return nil
	}

	vectors, err := s.embedAPI(ctx, texts)
	if err != nil {
		s.logger.Error("embedding request failed, using fallback vectors",
			"count", len(texts), "error", err)
		vectors = make([][]float32, len(texts))
		for i, text := range texts {
			vectors[i] = fallbackVector(text, s.dimension)
		}
		return vectors
	}

	for i := range vectors {
		normalize(vectors[i])
	}
	return vectors
}

// EmbedQuery embeds a single text and returns exactly one normalized
// vector. This is deliberately a distinct operation rather than a
// batch-of-one with index extraction.
func (s *Service) EmbedQuery(ctx context.Context, text string) []float32 {
	return s.EmbedBatch(ctx, []string{text})[0]
}

// embedAPI calls the OpenAI embeddings endpoint in batches, retrying rate
// limit errors with exponential backoff. All errors propagate to the
// public boundary, where the fallback is constructed.
func (s *Service) embedAPI(ctx context.Context, texts []string) ([][]float32, error) {
	if s.client == nil {
		return nil, errors.New("embedding client not configured")
	}

	all := make([][]float32, 0, len(texts))
	for i := 0; i < len(texts); i += s.batchSize {
		end := min(i+s.batchSize, len(texts))
		batch, err := s.embedChunk(ctx, texts[i:end])
		if err != nil {
			return nil, err
		}
		all = append(all, batch...)
	}
	return all, nil
}

func (s *Service) embedChunk(ctx context.Context, texts []string) ([][]float32, error) {
	var vectors [][]float32

	operation := func() error {
		resp, err := s.client.Embeddings.New(ctx, openai.EmbeddingNewParams{
			Input: openai.EmbeddingNewParamsInputUnion{
				OfArrayOfStrings: texts,
			},
			Model:      s.model,
			Dimensions: openai.Int(int64(s.dimension)),
		})
		if err != nil {
			if isRateLimitError(err) {
				return err // retry with backoff
			}
			return backoff.Permanent(err)
		}

		vectors = make([][]float32, len(resp.Data))
		for i, data := range resp.Data {
			vectors[i] = toFloat32(data.Embedding)
		}
		return nil
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 500 * time.Millisecond
	b.MaxInterval = 10 * time.Second
	b.MaxElapsedTime = 30 * time.Second

	if err := backoff.Retry(operation, backoff.WithContext(b, ctx)); err != nil {
		return nil, err
	}
	return vectors, nil
}

// Similarity computes cosine similarity between one query vector and N
// document vectors, returned in document order. Norms are guarded with a
// small epsilon so degenerate vectors yield a finite score.
func Similarity(query []float32, docs [][]float32) []float64 {
	qn := float64(norm(query)) + normEpsilon

	scores := make([]float64, len(docs))
	for i, doc := range docs {
		if len(doc) != len(query) {
			continue
		}
		var dot float64
		for j := range doc {
			dot += float64(query[j]) * float64(doc[j])
		}
		scores[i] = dot / (qn * (float64(norm(doc)) + normEpsilon))
	}
	return scores
}

// fallbackVector derives a unit vector from a fixed pseudo-random
// distribution seeded by the text, so the degraded path is deterministic
// for a given input.
func fallbackVector(text string, dim int) []float32 {
	h := fnv.New64a()
	h.Write([]byte(text))
	rng := rand.New(rand.NewSource(int64(h.Sum64())))

	vec := make([]float32, dim)
	for i := range vec {
		vec[i] = float32(rng.NormFloat64())
	}
	normalize(vec)
	return vec
}

// normalize scales vec to unit L2 norm in place. Zero vectors are left
// unchanged rather than producing NaNs.
func normalize(vec []float32) {
	n := norm(vec)
	if n == 0 {
		return
	}
	inv := 1 / n
	for i := range vec {
		vec[i] *= inv
	}
}

func norm(vec []float32) float32 {
	var sum float64
	for _, v := range vec {
		sum += float64(v) * float64(v)
	}
	return float32(math.Sqrt(sum))
}

// isRateLimitError checks for an HTTP 429 from the OpenAI API.
func isRateLimitError(err error) bool {
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode == 429
	}
	return false
}

// toFloat32 narrows the API's float64 vectors for storage.
func toFloat32(f64 []float64) []float32 {
	f32 := make([]float32, len(f64))
	for i, v := range f64 {
		f32[i] = float32(v)
	}
	return f32
}
