// Package rag turns a free-text query into ranked, budgeted context and,
// optionally, a generated answer with cited sources. The pipeline is
// stateless: every call is a self-contained request/response cycle.
package rag

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"strings"

	"github.com/studybuddy/rag-server/internal/llm"
	"github.com/studybuddy/rag-server/internal/vectorstore"
)

const (
	// DefaultTopK is the number of fragments returned when the caller
	// does not specify one.
	DefaultTopK = 10

	// DefaultMaxContextTokens bounds the assembled context.
	DefaultMaxContextTokens = 4000

	// charsPerToken approximates the token budget in characters.
	charsPerToken = 4

	// rerankOverfetch is the candidate multiplier when reranking: the
	// reranker needs room to reorder beyond the final cut.
	rerankOverfetch = 2

	// confidenceScale stretches the mean top-score heuristic before
	// capping at 1.0.
	confidenceScale = 1.2

	// maxCitedSources caps the sources attached to an answer.
	maxCitedSources = 5
)

// FallbackAnswer is returned when generation fails after successful
// retrieval.
const FallbackAnswer = "I found relevant material but couldn't generate an answer right now. Please try again, or review the cited sources directly."

// NoMaterialAnswer is the designed low-confidence outcome for a query with
// no matching fragments. Not an error path.
const NoMaterialAnswer = "I couldn't find relevant information in your course materials. Try rephrasing your question or make sure you've uploaded relevant materials."

// Source is one cited origin of an answer.
type Source struct {
	SourceLabel string  `json:"source_label"`
	Page        int     `json:"page,omitempty"`
	Score       float64 `json:"score"`
}

// Answer is the result of GenerateAnswer. Confidence is a retrieval-quality
// heuristic in [0,1], not a calibrated probability.
type Answer struct {
	Answer     string   `json:"answer"`
	Sources    []Source `json:"sources"`
	Confidence float64  `json:"confidence"`
}

// Config holds pipeline dependencies and tunables.
type Config struct {
	Store *vectorstore.Store
	// Completer may be nil; answer generation then always takes the
	// fallback path while retrieval keeps working.
	Completer        llm.Completer
	Logger           *slog.Logger
	TopK             int
	MaxContextTokens int
	Temperature      float64
}

// Pipeline orchestrates retrieve, rerank, context assembly and generation.
type Pipeline struct {
	store            *vectorstore.Store
	completer        llm.Completer
	logger           *slog.Logger
	topK             int
	maxContextTokens int
	temperature      float64
}

// NewPipeline creates a pipeline from cfg, applying defaults for unset
// tunables.
func NewPipeline(cfg *Config) *Pipeline {
	p := &Pipeline{
		store:            cfg.Store,
		completer:        cfg.Completer,
		logger:           cfg.Logger,
		topK:             cfg.TopK,
		maxContextTokens: cfg.MaxContextTokens,
		temperature:      cfg.Temperature,
	}
	if p.logger == nil {
		p.logger = slog.Default()
	}
	if p.topK <= 0 {
		p.topK = DefaultTopK
	}
	if p.maxContextTokens <= 0 {
		p.maxContextTokens = DefaultMaxContextTokens
	}
	return p
}

// AddDocuments inserts fragments into a collection and returns the count
// inserted.
func (p *Pipeline) AddDocuments(ctx context.Context, collectionID string, fragments []vectorstore.Fragment) (int, error) {
	return p.store.Add(ctx, collectionID, fragments)
}

// AddEmbedded inserts fragments whose vectors were computed out of band,
// e.g. on the ingestion worker pool.
func (p *Pipeline) AddEmbedded(ctx context.Context, collectionID string, fragments []vectorstore.Fragment, vectors [][]float32) (int, error) {
	return p.store.AddVectors(ctx, collectionID, fragments, vectors)
}

// Query retrieves fragments for a query. With rerank enabled it over-fetches
// 2x topK candidates, reorders them by importance-weighted score, and
// truncates to topK. Zero candidates is a normal outcome, returned as an
// empty slice.
func (p *Pipeline) Query(ctx context.Context, query, collectionID string, topK int, rerank bool) ([]vectorstore.RetrievedFragment, error) {
	if topK <= 0 {
		topK = p.topK
	}

	fetch := topK
	if rerank {
		fetch = topK * rerankOverfetch
	}

	results, err := p.store.Search(ctx, collectionID, query, fetch)
	if err != nil {
		return nil, fmt.Errorf("search collection %s: %w", collectionID, err)
	}
	if len(results) == 0 {
		return nil, nil
	}

	if rerank {
		rerankByImportance(results)
	} else {
		for i := range results {
			results[i].RerankScore = results[i].Score
		}
	}

	if len(results) > topK {
		results = results[:topK]
	}
	return results, nil
}

// rerankByImportance blends each candidate's similarity with its importance
// weight: rerank = score x (0.5 + importance x 0.5). Importance can scale a
// score down to 0.5x or leave it untouched at 1.0x; it never inverts the
// contribution of similarity. The stable sort preserves similarity order
// among equal rerank scores.
func rerankByImportance(results []vectorstore.RetrievedFragment) {
	for i := range results {
		importance := clamp01(results[i].Importance)
		results[i].RerankScore = results[i].Score * (0.5 + importance*0.5)
	}
	sort.SliceStable(results, func(a, b int) bool {
		return results[a].RerankScore > results[b].RerankScore
	})
}

// GenerateAnswer runs the full pipeline: retrieve, assemble context, invoke
// the generation collaborator, and attach sources plus a confidence score.
// Generation failure never fails the request; retrieval success stands on
// its own and the answer text degrades to FallbackAnswer.
func (p *Pipeline) GenerateAnswer(ctx context.Context, query, collectionID string, topK int) (*Answer, error) {
	fragments, err := p.Query(ctx, query, collectionID, topK, true)
	if err != nil {
		return nil, err
	}

	if len(fragments) == 0 {
		return &Answer{
			Answer:     NoMaterialAnswer,
			Sources:    []Source{},
			Confidence: 0,
		}, nil
	}

	contextText := p.buildContext(fragments)
	prompt := buildPrompt(contextText, query)

	answerText := p.complete(ctx, prompt)

	// Mean similarity of the top 3 fragments, stretched and capped. A
	// "how well did retrieval match" heuristic, not a probability.
	n := min(len(fragments), 3)
	var sum float64
	for _, f := range fragments[:n] {
		sum += f.Score
	}
	confidence := math.Min(sum/float64(n)*confidenceScale, 1.0)

	sources := make([]Source, 0, maxCitedSources)
	for _, f := range fragments[:min(len(fragments), maxCitedSources)] {
		sources = append(sources, Source{
			SourceLabel: f.SourceLabel,
			Page:        f.Page,
			Score:       math.Round(f.Score*1000) / 1000,
		})
	}

	return &Answer{
		Answer:     answerText,
		Sources:    sources,
		Confidence: confidence,
	}, nil
}

// DeleteCollection removes all retrieval data for a collection.
func (p *Pipeline) DeleteCollection(collectionID string) bool {
	return p.store.DeleteCollection(collectionID)
}

// Stats reports index statistics for a collection.
func (p *Pipeline) Stats(collectionID string) (vectorstore.CollectionStats, error) {
	return p.store.Stats(collectionID)
}

// complete invokes the collaborator, degrading to FallbackAnswer on any
// failure or empty output.
func (p *Pipeline) complete(ctx context.Context, prompt string) string {
	if p.completer == nil {
		p.logger.Warn("no completion client configured, returning fallback answer")
		return FallbackAnswer
	}
	text, err := p.completer.Complete(ctx, prompt, p.temperature)
	if err != nil {
		p.logger.Error("answer generation failed", "error", err)
		return FallbackAnswer
	}
	if text == "" {
		p.logger.Warn("answer generation returned empty text")
		return FallbackAnswer
	}
	return text
}

// buildContext concatenates fragment texts in rerank order under the
// character budget, counting the joining newlines against it. A fragment
// that would overflow the budget ends assembly; fragments are always
// included whole so citations stay valid.
func (p *Pipeline) buildContext(fragments []vectorstore.RetrievedFragment) string {
	budget := p.maxContextTokens * charsPerToken

	var parts []string
	length := 0
	for _, f := range fragments {
		formatted := formatFragment(f)
		needed := len(formatted)
		if length > 0 {
			needed++ // the joining newline
		}
		if length+needed > budget {
			break
		}
		parts = append(parts, formatted)
		length += needed
	}
	return strings.Join(parts, "\n")
}

func formatFragment(f vectorstore.RetrievedFragment) string {
	var b strings.Builder
	b.WriteString("[Source: ")
	b.WriteString(f.SourceLabel)
	if f.Page > 0 {
		fmt.Fprintf(&b, ", Page %d", f.Page)
	}
	b.WriteString("]\n")
	b.WriteString(f.Text)
	b.WriteString("\n---")
	return b.String()
}

func buildPrompt(contextText, query string) string {
	return fmt.Sprintf(`Use the following context from course materials to answer the question.
If the answer is not in the context, say so and provide what you know.

CONTEXT:
%s

QUESTION: %s

Provide a clear, helpful answer. Cite sources when relevant.`, contextText, query)
}

func clamp01(v float64) float64 {
	return math.Min(math.Max(v, 0), 1)
}
