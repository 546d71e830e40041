// Package mcp exposes the retrieval pipeline to MCP clients: semantic
// search, answer generation, ingestion and collection management tools.
package mcp

import "time"

// SearchInput defines the input parameters for the search_materials tool.
type SearchInput struct {
	// Query is the semantic search query.
	Query string `json:"query" jsonschema:"required,description=The semantic search query for finding relevant course material"`
	// CollectionID selects the collection (e.g. a course) to search.
	CollectionID string `json:"collection_id" jsonschema:"required,description=The collection to search in"`
	// TopK is the maximum number of fragments to return.
	TopK int `json:"top_k,omitempty" jsonschema:"minimum=1,maximum=50,default=10,description=Maximum number of fragments to return"`
	// NoRerank disables the importance-weighted second-stage ranking.
	NoRerank bool `json:"no_rerank,omitempty" jsonschema:"description=Disable importance-weighted reranking"`
}

// SearchOutput contains the search results.
type SearchOutput struct {
	Results []SearchResult `json:"results"`
	// Message provides informational context (e.g. "no matching material").
	Message string `json:"message,omitempty"`
}

// SearchResult is a single retrieved fragment.
type SearchResult struct {
	FragmentID  string  `json:"id"`
	Text        string  `json:"text"`
	SourceLabel string  `json:"source_label"`
	Page        int     `json:"page,omitempty"`
	Score       float64 `json:"score"`
	RerankScore float64 `json:"rerank_score"`
}

// AskInput defines the input parameters for the ask tool.
type AskInput struct {
	Query        string `json:"query" jsonschema:"required,description=The question to answer from course materials"`
	CollectionID string `json:"collection_id" jsonschema:"required,description=The collection to answer from"`
	TopK         int    `json:"top_k,omitempty" jsonschema:"minimum=1,maximum=50,default=10,description=Number of fragments used as context"`
}

// AskOutput is a generated answer with cited sources. Confidence is a
// retrieval-quality heuristic in [0,1]; zero with empty sources means no
// relevant material was found.
type AskOutput struct {
	Answer     string      `json:"answer"`
	Sources    []AskSource `json:"sources"`
	Confidence float64     `json:"confidence"`
}

// AskSource cites one origin of an answer.
type AskSource struct {
	SourceLabel string  `json:"source_label"`
	Page        int     `json:"page,omitempty"`
	Score       float64 `json:"score"`
}

// AddDocumentsInput defines the input parameters for the add_documents tool.
type AddDocumentsInput struct {
	CollectionID string          `json:"collection_id" jsonschema:"required,description=The collection to insert into"`
	Documents    []DocumentInput `json:"documents" jsonschema:"required,description=Text fragments with source metadata"`
}

// DocumentInput is one fragment to insert.
type DocumentInput struct {
	Text             string  `json:"text" jsonschema:"required,description=Fragment text content"`
	SourceLabel      string  `json:"source_label,omitempty" jsonschema:"description=Human-readable origin such as a filename"`
	SourceDocumentID string  `json:"source_document_id,omitempty" jsonschema:"description=Identifier of the source document"`
	Page             int     `json:"page,omitempty" jsonschema:"description=1-based page number"`
	Importance       float64 `json:"importance_weight,omitempty" jsonschema:"minimum=0,maximum=1,description=Reranking weight; defaults to 0.5"`
}

// AddDocumentsOutput reports the insertion count.
type AddDocumentsOutput struct {
	Inserted int `json:"inserted"`
}

// DeleteCollectionInput defines the input for the delete_collection tool.
type DeleteCollectionInput struct {
	CollectionID string `json:"collection_id" jsonschema:"required,description=The collection to delete"`
}

// DeleteCollectionOutput reports whether anything was deleted.
type DeleteCollectionOutput struct {
	Deleted bool `json:"deleted"`
}

// StatsInput defines the input for the index_stats tool.
type StatsInput struct {
	CollectionID string `json:"collection_id" jsonschema:"required,description=The collection to summarize"`
}

// StatsOutput summarizes a collection's index.
type StatsOutput struct {
	CollectionID    string    `json:"collection_id"`
	TotalFragments  int       `json:"total_fragments"`
	Dimension       int       `json:"dimension"`
	UniqueDocuments int       `json:"unique_source_documents"`
	AvgImportance   float64   `json:"avg_importance"`
	GeneratedAt     time.Time `json:"generated_at"`
}
