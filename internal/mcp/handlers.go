package mcp

import (
	"context"
	"fmt"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/studybuddy/rag-server/internal/rag"
	"github.com/studybuddy/rag-server/internal/vectorstore"
)

// askTimeout bounds the generation collaborator call so a stalled upstream
// never hangs an ask request; on timeout the pipeline falls back to its
// degraded answer path.
const askTimeout = 60 * time.Second

// makeSearchHandler creates the search_materials tool handler. Empty
// results are a normal outcome and reported with an explanatory message.
func makeSearchHandler(pipeline *rag.Pipeline) func(
	context.Context, *mcp.CallToolRequest, SearchInput,
) (*mcp.CallToolResult, SearchOutput, error) {
	return func(ctx context.Context, req *mcp.CallToolRequest, input SearchInput) (
		*mcp.CallToolResult, SearchOutput, error,
	) {
		fragments, err := pipeline.Query(ctx, input.Query, input.CollectionID, input.TopK, !input.NoRerank)
		if err != nil {
			return nil, SearchOutput{}, fmt.Errorf("search failed: %w", err)
		}

		if len(fragments) == 0 {
			return nil, SearchOutput{
				Results: []SearchResult{},
				Message: "No matching material found. Try broader search terms or ingest more materials.",
			}, nil
		}

		results := make([]SearchResult, len(fragments))
		for i, f := range fragments {
			results[i] = SearchResult{
				FragmentID:  f.FragmentID,
				Text:        f.Text,
				SourceLabel: f.SourceLabel,
				Page:        f.Page,
				Score:       f.Score,
				RerankScore: f.RerankScore,
			}
		}
		return nil, SearchOutput{Results: results}, nil
	}
}

// makeAskHandler creates the ask tool handler. Generation failure is
// handled inside the pipeline; the tool always returns a well-formed
// answer object when retrieval itself succeeds.
func makeAskHandler(pipeline *rag.Pipeline) func(
	context.Context, *mcp.CallToolRequest, AskInput,
) (*mcp.CallToolResult, AskOutput, error) {
	return func(ctx context.Context, req *mcp.CallToolRequest, input AskInput) (
		*mcp.CallToolResult, AskOutput, error,
	) {
		ctx, cancel := context.WithTimeout(ctx, askTimeout)
		defer cancel()

		answer, err := pipeline.GenerateAnswer(ctx, input.Query, input.CollectionID, input.TopK)
		if err != nil {
			return nil, AskOutput{}, fmt.Errorf("answer generation failed: %w", err)
		}

		sources := make([]AskSource, len(answer.Sources))
		for i, s := range answer.Sources {
			sources[i] = AskSource{
				SourceLabel: s.SourceLabel,
				Page:        s.Page,
				Score:       s.Score,
			}
		}
		return nil, AskOutput{
			Answer:     answer.Answer,
			Sources:    sources,
			Confidence: answer.Confidence,
		}, nil
	}
}

// makeAddDocumentsHandler creates the add_documents tool handler.
func makeAddDocumentsHandler(pipeline *rag.Pipeline) func(
	context.Context, *mcp.CallToolRequest, AddDocumentsInput,
) (*mcp.CallToolResult, AddDocumentsOutput, error) {
	return func(ctx context.Context, req *mcp.CallToolRequest, input AddDocumentsInput) (
		*mcp.CallToolResult, AddDocumentsOutput, error,
	) {
		fragments := make([]vectorstore.Fragment, len(input.Documents))
		for i, doc := range input.Documents {
			fragments[i] = vectorstore.Fragment{
				Text:             doc.Text,
				SourceLabel:      doc.SourceLabel,
				SourceDocumentID: doc.SourceDocumentID,
				Page:             doc.Page,
				Importance:       doc.Importance,
			}
		}

		inserted, err := pipeline.AddDocuments(ctx, input.CollectionID, fragments)
		if err != nil {
			return nil, AddDocumentsOutput{}, fmt.Errorf("insert failed: %w", err)
		}
		return nil, AddDocumentsOutput{Inserted: inserted}, nil
	}
}

// makeDeleteCollectionHandler creates the delete_collection tool handler.
// Deletion is idempotent: deleting an absent collection reports false.
func makeDeleteCollectionHandler(pipeline *rag.Pipeline) func(
	context.Context, *mcp.CallToolRequest, DeleteCollectionInput,
) (*mcp.CallToolResult, DeleteCollectionOutput, error) {
	return func(ctx context.Context, req *mcp.CallToolRequest, input DeleteCollectionInput) (
		*mcp.CallToolResult, DeleteCollectionOutput, error,
	) {
		deleted := pipeline.DeleteCollection(input.CollectionID)
		return nil, DeleteCollectionOutput{Deleted: deleted}, nil
	}
}

// makeStatsHandler creates the index_stats tool handler.
func makeStatsHandler(pipeline *rag.Pipeline) func(
	context.Context, *mcp.CallToolRequest, StatsInput,
) (*mcp.CallToolResult, StatsOutput, error) {
	return func(ctx context.Context, req *mcp.CallToolRequest, input StatsInput) (
		*mcp.CallToolResult, StatsOutput, error,
	) {
		stats, err := pipeline.Stats(input.CollectionID)
		if err != nil {
			return nil, StatsOutput{}, fmt.Errorf("stats failed: %w", err)
		}
		return nil, StatsOutput{
			CollectionID:    stats.CollectionID,
			TotalFragments:  stats.TotalFragments,
			Dimension:       stats.Dimension,
			UniqueDocuments: stats.UniqueDocuments,
			AvgImportance:   stats.AvgImportance,
			GeneratedAt:     time.Now().UTC(),
		}, nil
	}
}
