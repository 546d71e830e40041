// Package ingest feeds local course materials into a collection index:
// walk files, split into fragments, embed and store. Per-file failures are
// recorded and skipped so one bad file never aborts a whole ingestion run.
package ingest

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/studybuddy/rag-server/internal/chunker"
	"github.com/studybuddy/rag-server/internal/embedding"
	"github.com/studybuddy/rag-server/internal/rag"
	"github.com/studybuddy/rag-server/internal/vectorstore"
)

// Result contains statistics about one ingestion run.
type Result struct {
	TotalFiles      int
	SuccessfulFiles int
	TotalFragments  int
	Failed          []FailedFile
	Duration        time.Duration
}

// FailedFile records a material that could not be ingested.
type FailedFile struct {
	Path   string
	Reason string
}

// Pipeline orchestrates splitting and insertion of materials.
type Pipeline struct {
	splitter *chunker.Splitter
	embedder *embedding.Async
	rag      *rag.Pipeline
	logger   *slog.Logger
}

// NewPipeline creates an ingestion pipeline. With a non-nil async embedder,
// IngestDir schedules each file's embedding on the worker pool so the next
// file's request is in flight while the previous batch persists; with nil
// it embeds synchronously inside each insert.
func NewPipeline(splitter *chunker.Splitter, embedder *embedding.Async, ragPipeline *rag.Pipeline, logger *slog.Logger) *Pipeline {
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipeline{
		splitter: splitter,
		embedder: embedder,
		rag:      ragPipeline,
		logger:   logger,
	}
}

// IngestDir ingests every .md and .txt file under dir into the collection.
func (p *Pipeline) IngestDir(ctx context.Context, collectionID, dir string) (*Result, error) {
	start := time.Now()
	result := &Result{}

	var paths []string
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		switch strings.ToLower(filepath.Ext(path)) {
		case ".md", ".txt":
			paths = append(paths, path)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walk %s: %w", dir, err)
	}
	result.TotalFiles = len(paths)
	p.logger.Info("found materials", "dir", dir, "count", len(paths))

	if p.embedder != nil {
		p.ingestOverlapped(ctx, collectionID, paths, result)
	} else {
		for _, path := range paths {
			count, err := p.IngestFile(ctx, collectionID, path)
			if err != nil {
				p.recordFailure(result, path, err)
				continue
			}
			result.SuccessfulFiles++
			result.TotalFragments += count
		}
	}

	result.Duration = time.Since(start)
	p.logger.Info("ingestion complete",
		"collection", collectionID,
		"successful", result.SuccessfulFiles,
		"failed", len(result.Failed),
		"fragments", result.TotalFragments,
		"duration", result.Duration,
	)
	return result, nil
}

// ingestOverlapped splits all files first, schedules one embedding task per
// file on the worker pool, then drains the results in file order so inserts
// stay deterministic while embedding requests run ahead.
func (p *Pipeline) ingestOverlapped(ctx context.Context, collectionID string, paths []string, result *Result) {
	type batch struct {
		path      string
		fragments []vectorstore.Fragment
		vectors   <-chan [][]float32
	}

	var batches []batch
	for _, path := range paths {
		fragments, err := p.prepare(path)
		if err != nil {
			p.recordFailure(result, path, err)
			continue
		}
		if len(fragments) == 0 {
			result.SuccessfulFiles++
			continue
		}
		texts := make([]string, len(fragments))
		for i, f := range fragments {
			texts[i] = f.Text
		}
		batches = append(batches, batch{
			path:      path,
			fragments: fragments,
			vectors:   p.embedder.EmbedBatch(ctx, texts),
		})
	}

	for _, b := range batches {
		count, err := p.rag.AddEmbedded(ctx, collectionID, b.fragments, <-b.vectors)
		if err != nil {
			p.recordFailure(result, b.path, fmt.Errorf("store fragments: %w", err))
			continue
		}
		result.SuccessfulFiles++
		result.TotalFragments += count
		p.logger.Info("ingested material", "path", b.path, "fragments", count)
	}
}

// IngestFile splits one material file and inserts its fragments. Returns
// the number of fragments inserted.
func (p *Pipeline) IngestFile(ctx context.Context, collectionID, path string) (int, error) {
	fragments, err := p.prepare(path)
	if err != nil {
		return 0, err
	}
	if len(fragments) == 0 {
		return 0, nil
	}

	count, err := p.rag.AddDocuments(ctx, collectionID, fragments)
	if err != nil {
		return 0, fmt.Errorf("store fragments: %w", err)
	}

	p.logger.Info("ingested material", "path", path, "fragments", count)
	return count, nil
}

// prepare reads and splits one material file into insertable fragments.
func (p *Pipeline) prepare(path string) ([]vectorstore.Fragment, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read: %w", err)
	}

	pieces, err := p.splitter.Split(content)
	if err != nil {
		return nil, fmt.Errorf("split: %w", err)
	}
	if len(pieces) == 0 {
		return nil, nil
	}
	p.logger.Debug("split material", "path", path, "fragments", len(pieces))

	documentID := uuid.New().String()
	label := filepath.Base(path)

	fragments := make([]vectorstore.Fragment, len(pieces))
	for i, piece := range pieces {
		text := piece.Text
		if piece.Heading != "" {
			// Heading context improves retrieval for short sections.
			text = piece.Heading + "\n\n" + piece.Text
		}
		fragments[i] = vectorstore.Fragment{
			SourceDocumentID: documentID,
			Text:             text,
			SourceLabel:      label,
			StartChar:        piece.Start,
			EndChar:          piece.End,
		}
	}
	return fragments, nil
}

func (p *Pipeline) recordFailure(result *Result, path string, err error) {
	p.logger.Warn("failed to ingest material", "path", path, "error", err)
	result.Failed = append(result.Failed, FailedFile{
		Path:   path,
		Reason: err.Error(),
	})
}
