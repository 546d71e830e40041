package vectorstore

import "time"

// DefaultImportance is the neutral importance weight assigned when the
// ingestion boundary supplies none. Importance is an externally-computed
// signal; nothing in this package derives it.
const DefaultImportance = 0.5

// FragmentRecord is the metadata stored alongside each vector. Record i
// always corresponds to vector i in the collection's index.
type FragmentRecord struct {
	FragmentID   string `json:"fragment_id"`
	CollectionID string `json:"collection_id"`
	// SourceDocumentID identifies the material the fragment was cut from.
	SourceDocumentID string `json:"source_document_id"`
	Text             string `json:"text"`
	// SourceLabel is the human-readable origin, typically a filename.
	SourceLabel string `json:"source_label"`
	// Page is 1-based; 0 means unknown.
	Page int `json:"page,omitempty"`
	// StartChar/EndChar are byte offsets into the source document;
	// both zero means unset.
	StartChar int `json:"start_char,omitempty"`
	EndChar   int `json:"end_char,omitempty"`
	// Importance is a reranking multiplier in [0,1].
	Importance float64   `json:"importance_weight"`
	CreatedAt  time.Time `json:"created_at"`
}

// Fragment is the ingestion input for one fragment. FragmentID is optional;
// a collection-scoped ordinal ID is assigned when absent. An Importance of
// zero is replaced by DefaultImportance (explicit zero weight is not
// representable; use a small positive value instead).
type Fragment struct {
	FragmentID       string
	SourceDocumentID string
	Text             string
	SourceLabel      string
	Page             int
	StartChar        int
	EndChar          int
	Importance       float64
}

// RetrievedFragment joins a stored record with its similarity score for one
// query. Score is in (0,1], higher is more similar. RerankScore is filled
// by the retrieval pipeline.
type RetrievedFragment struct {
	FragmentRecord
	Score       float64
	RerankScore float64
}

// CollectionStats summarizes one collection's index.
type CollectionStats struct {
	CollectionID    string  `json:"collection_id"`
	TotalFragments  int     `json:"total_fragments"`
	Dimension       int     `json:"dimension"`
	UniqueDocuments int     `json:"unique_source_documents"`
	AvgImportance   float64 `json:"avg_importance"`
}
