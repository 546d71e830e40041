// Package vectorstore provides persistent, per-collection vector indices
// with exact k-nearest-neighbor search. Each collection pairs a flat vector
// index with a positionally-correspondent metadata list; both are persisted
// together and lazily loaded into a process-wide cache.
package vectorstore

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"strings"
	"sync"
	"time"
)

// Embedder is the narrow embedding contract the store depends on. Both
// methods always return vectors of Dimension() length; failure handling
// lives inside the implementation.
type Embedder interface {
	EmbedBatch(ctx context.Context, texts []string) [][]float32
	EmbedQuery(ctx context.Context, text string) []float32
	Dimension() int
}

// Store owns all in-memory collection indices for one process. Callers
// always address collections by ID; they never hold index references
// across restarts.
type Store struct {
	dir      string
	embedder Embedder
	logger   *slog.Logger

	mu          sync.Mutex
	collections map[string]*collection
}

// collection is one ANN structure plus its metadata list. vectors[i] and
// records[i] are kept in strict positional correspondence; the RWMutex
// serializes mutation against reads and other mutations.
type collection struct {
	mu        sync.RWMutex
	dimension int
	vectors   [][]float32
	records   []FragmentRecord
}

// NewStore creates a store persisting under dir. The directory is created
// if absent.
func NewStore(dir string, embedder Embedder, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create index directory: %w", err)
	}
	return &Store{
		dir:         dir,
		embedder:    embedder,
		logger:      logger,
		collections: make(map[string]*collection),
	}, nil
}

// Health reports whether the index directory is accessible.
func (s *Store) Health(ctx context.Context) error {
	info, err := os.Stat(s.dir)
	if err != nil {
		return fmt.Errorf("index directory: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("index path %s is not a directory", s.dir)
	}
	return nil
}

// Add embeds all fragment texts in one batch and inserts them. Returns the
// number of fragments inserted. An empty batch is a no-op.
func (s *Store) Add(ctx context.Context, collectionID string, fragments []Fragment) (int, error) {
	if len(fragments) == 0 {
		return 0, nil
	}

	texts := make([]string, len(fragments))
	for i, f := range fragments {
		texts[i] = f.Text
	}
	// One batched embedding call amortizes model overhead across the batch.
	return s.AddVectors(ctx, collectionID, fragments, s.embedder.EmbedBatch(ctx, texts))
}

// AddVectors inserts fragments with pre-computed vectors, appending vectors
// and records in lockstep and persisting the collection before returning.
// Callers that embed out of band (overlapped ingestion) use this directly.
// A persistence failure rolls the in-memory appends back and surfaces as an
// error: silently losing data is worse than a visible failure.
func (s *Store) AddVectors(ctx context.Context, collectionID string, fragments []Fragment, vectors [][]float32) (int, error) {
	if len(fragments) == 0 {
		return 0, nil
	}
	if len(vectors) != len(fragments) {
		return 0, fmt.Errorf("collection %s: %d fragments but %d vectors", collectionID, len(fragments), len(vectors))
	}
	if err := validateCollectionID(collectionID); err != nil {
		return 0, err
	}

	col, err := s.resolve(collectionID)
	if err != nil {
		return 0, fmt.Errorf("load collection %s: %w", collectionID, err)
	}

	col.mu.Lock()
	defer col.mu.Unlock()

	for i, vec := range vectors {
		if len(vec) != col.dimension {
			return 0, fmt.Errorf("%w: fragment %d has %d dimensions, collection %s expects %d",
				ErrDimensionMismatch, i, len(vec), collectionID, col.dimension)
		}
	}

	base := len(col.records)
	now := time.Now().UTC()
	for i, f := range fragments {
		record := FragmentRecord{
			FragmentID:       f.FragmentID,
			CollectionID:     collectionID,
			SourceDocumentID: f.SourceDocumentID,
			Text:             f.Text,
			SourceLabel:      f.SourceLabel,
			Page:             f.Page,
			StartChar:        f.StartChar,
			EndChar:          f.EndChar,
			Importance:       f.Importance,
			CreatedAt:        now,
		}
		if record.FragmentID == "" {
			record.FragmentID = fmt.Sprintf("%s-%d", collectionID, base+i)
		}
		if record.SourceLabel == "" {
			record.SourceLabel = "Unknown"
		}
		if record.Importance == 0 {
			record.Importance = DefaultImportance
		}
		col.vectors = append(col.vectors, vectors[i])
		col.records = append(col.records, record)
	}

	if err := s.save(collectionID, col); err != nil {
		col.vectors = col.vectors[:base]
		col.records = col.records[:base]
		return 0, fmt.Errorf("persist collection %s: %w", collectionID, err)
	}

	s.logger.Info("added fragments", "collection", collectionID,
		"count", len(fragments), "total", len(col.records))
	return len(fragments), nil
}

// Search embeds the query and returns the min(topK, stored) nearest
// fragments ordered by ascending distance. A collection with no stored
// vectors is a normal state and yields an empty result; so does a
// collection whose persisted files cannot be read, since search is
// best-effort.
func (s *Store) Search(ctx context.Context, collectionID, query string, topK int) ([]RetrievedFragment, error) {
	if err := validateCollectionID(collectionID); err != nil {
		return nil, err
	}

	col, err := s.resolve(collectionID)
	if err != nil {
		s.logger.Error("collection load failed, returning empty result",
			"collection", collectionID, "error", err)
		return nil, nil
	}

	queryVec := s.embedder.EmbedQuery(ctx, query)

	col.mu.RLock()
	defer col.mu.RUnlock()

	if len(queryVec) != col.dimension {
		return nil, fmt.Errorf("%w: query has %d dimensions, collection %s expects %d",
			ErrDimensionMismatch, len(queryVec), collectionID, col.dimension)
	}

	total := len(col.vectors)
	if total == 0 || topK <= 0 {
		return nil, nil
	}

	distances := make([]float64, total)
	order := make([]int, total)
	for i, vec := range col.vectors {
		distances[i] = squaredL2(queryVec, vec)
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool {
		return distances[order[a]] < distances[order[b]]
	})

	k := min(topK, total)
	results := make([]RetrievedFragment, 0, k)
	for _, idx := range order[:k] {
		if idx >= len(col.records) {
			// Stale persisted state: vector without a record. Skip the
			// neighbor instead of failing the whole search.
			s.logger.Warn("neighbor index out of metadata bounds",
				"collection", collectionID, "index", idx, "records", len(col.records))
			continue
		}
		results = append(results, RetrievedFragment{
			FragmentRecord: col.records[idx],
			// Bounded similarity from distance, range (0,1].
			Score: 1.0 / (1.0 + distances[idx]),
		})
	}
	return results, nil
}

// DeleteCollection removes the in-memory entry and both persisted
// artifacts. Idempotent: reports whether anything was actually deleted and
// never errors when the collection is absent.
func (s *Store) DeleteCollection(collectionID string) bool {
	if err := validateCollectionID(collectionID); err != nil {
		return false
	}

	s.mu.Lock()
	_, cached := s.collections[collectionID]
	delete(s.collections, collectionID)
	s.mu.Unlock()

	deleted := cached
	vecPath, metaPath := s.paths(collectionID)
	for _, path := range []string{vecPath, metaPath} {
		err := os.Remove(path)
		switch {
		case err == nil:
			deleted = true
		case !os.IsNotExist(err):
			s.logger.Error("failed to remove index file", "path", path, "error", err)
		}
	}

	if deleted {
		s.logger.Info("deleted collection", "collection", collectionID)
	}
	return deleted
}

// Stats summarizes a collection. An absent collection yields zero counts.
func (s *Store) Stats(collectionID string) (CollectionStats, error) {
	if err := validateCollectionID(collectionID); err != nil {
		return CollectionStats{}, err
	}

	col, err := s.resolve(collectionID)
	if err != nil {
		return CollectionStats{}, fmt.Errorf("load collection %s: %w", collectionID, err)
	}

	col.mu.RLock()
	defer col.mu.RUnlock()

	stats := CollectionStats{
		CollectionID:   collectionID,
		TotalFragments: len(col.records),
		Dimension:      col.dimension,
	}
	docs := make(map[string]struct{})
	var importanceSum float64
	for _, r := range col.records {
		docs[r.SourceDocumentID] = struct{}{}
		importanceSum += r.Importance
	}
	stats.UniqueDocuments = len(docs)
	if len(col.records) > 0 {
		stats.AvgImportance = importanceSum / float64(len(col.records))
	}
	return stats, nil
}

// resolve returns the cached collection, loading it from disk on first
// touch. Missing files produce a fresh empty collection; unreadable files
// produce an error and nothing is cached, so a later repair can still load
// cleanly.
func (s *Store) resolve(collectionID string) (*collection, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if col, ok := s.collections[collectionID]; ok {
		return col, nil
	}

	col, found, err := s.load(collectionID)
	if err != nil {
		return nil, err
	}
	if !found {
		col = &collection{dimension: s.embedder.Dimension()}
	} else {
		s.logger.Debug("loaded collection from disk", "collection", collectionID,
			"fragments", len(col.records))
	}
	s.collections[collectionID] = col
	return col, nil
}

// squaredL2 returns the squared Euclidean distance between two vectors.
// Vectors are unit-normalized, so ranking by this distance equals ranking
// by cosine similarity.
func squaredL2(a, b []float32) float64 {
	var sum float64
	for i := range a {
		d := float64(a[i]) - float64(b[i])
		sum += d * d
	}
	return sum
}

// validateCollectionID rejects IDs that cannot name a pair of index files.
func validateCollectionID(id string) error {
	if id == "" || strings.ContainsAny(id, `/\`) || strings.Contains(id, "..") {
		return fmt.Errorf("invalid collection id %q", id)
	}
	return nil
}
