// Package main provides ragctl, the operations CLI for the RAG index:
// ingest local materials, inspect collection stats, delete collections.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/studybuddy/rag-server/internal/chunker"
	"github.com/studybuddy/rag-server/internal/config"
	"github.com/studybuddy/rag-server/internal/embedding"
	"github.com/studybuddy/rag-server/internal/ingest"
	"github.com/studybuddy/rag-server/internal/rag"
	"github.com/studybuddy/rag-server/internal/vectorstore"
)

var collectionID string

var rootCmd = &cobra.Command{
	Use:   "ragctl",
	Short: "Course material index management tool",
	Long:  "CLI for managing per-collection vector indices: ingest materials, inspect stats, delete collections.",
}

var ingestCmd = &cobra.Command{
	Use:   "ingest <dir>",
	Short: "Ingest all .md and .txt files under a directory",
	Long: `Splits every markdown and text file under the directory into fragments,
embeds them and stores them in the collection's index.

Environment variables:
  OPENAI_API_KEY  OpenAI API key for embeddings (optional; fallback
                  vectors are used without it)
  RAG_INDEX_DIR   Index directory (default: ./indices)`,
	Args: cobra.ExactArgs(1),
	RunE: runIngest,
}

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show index statistics for a collection",
	RunE:  runStats,
}

var deleteCmd = &cobra.Command{
	Use:   "delete",
	Short: "Delete a collection's index and metadata",
	RunE:  runDelete,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&collectionID, "collection", "c", "", "collection ID (required)")
	rootCmd.MarkPersistentFlagRequired("collection")
	rootCmd.AddCommand(ingestCmd, statsCmd, deleteCmd)
}

func main() {
	_ = godotenv.Load()

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// buildPipeline wires the store and retrieval pipeline from settings.
// ragctl never generates answers, so no completion client is attached.
func buildPipeline(settings *config.Settings, logger *slog.Logger) (*rag.Pipeline, *embedding.Service, error) {
	client, err := embedding.NewOpenAIClient()
	if err != nil {
		logger.Warn("OpenAI client unavailable, using fallback vectors", "error", err)
	}
	embedder := embedding.NewService(client,
		embedding.WithModel(settings.EmbeddingModel),
		embedding.WithDimension(settings.EmbeddingDimension),
		embedding.WithLogger(logger),
	)

	store, err := vectorstore.NewStore(settings.IndexDir, embedder, logger)
	if err != nil {
		return nil, nil, fmt.Errorf("open vector store: %w", err)
	}

	return rag.NewPipeline(&rag.Config{
		Store:  store,
		Logger: logger,
		TopK:   settings.TopK,
	}), embedder, nil
}

func runIngest(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	start := time.Now()

	settings, err := config.Load()
	if err != nil {
		return fmt.Errorf("load configuration: %w", err)
	}
	logger := slog.Default()

	pipeline, embedder, err := buildPipeline(settings, logger)
	if err != nil {
		return err
	}

	async, err := embedding.NewAsync(embedder, embedding.DefaultWorkers)
	if err != nil {
		return fmt.Errorf("create embedding pool: %w", err)
	}
	defer async.Release()

	splitter := chunker.NewSplitter(settings.ChunkSize, settings.ChunkOverlap)
	ing := ingest.NewPipeline(splitter, async, pipeline, logger)

	fmt.Printf("Ingesting %s into collection %s...\n", args[0], collectionID)

	result, err := ing.IngestDir(ctx, collectionID, args[0])
	if err != nil {
		return fmt.Errorf("ingestion failed: %w", err)
	}

	fmt.Println()
	fmt.Println("Ingestion complete!")
	fmt.Printf("  Files: %d/%d\n", result.SuccessfulFiles, result.TotalFiles)
	fmt.Printf("  Fragments: %d\n", result.TotalFragments)
	fmt.Printf("  Duration: %s\n", result.Duration.Round(time.Millisecond))

	if len(result.Failed) > 0 {
		fmt.Println()
		fmt.Println("Failed files:")
		for _, failed := range result.Failed {
			fmt.Printf("  - %s: %s\n", failed.Path, failed.Reason)
		}
	}

	fmt.Println()
	fmt.Printf("Total time: %s\n", time.Since(start).Round(time.Millisecond))
	return nil
}

func runStats(cmd *cobra.Command, args []string) error {
	settings, err := config.Load()
	if err != nil {
		return fmt.Errorf("load configuration: %w", err)
	}

	pipeline, _, err := buildPipeline(settings, slog.Default())
	if err != nil {
		return err
	}

	stats, err := pipeline.Stats(collectionID)
	if err != nil {
		return fmt.Errorf("stats failed: %w", err)
	}

	fmt.Printf("Collection: %s\n", stats.CollectionID)
	fmt.Printf("  Fragments: %d\n", stats.TotalFragments)
	fmt.Printf("  Dimension: %d\n", stats.Dimension)
	fmt.Printf("  Source documents: %d\n", stats.UniqueDocuments)
	fmt.Printf("  Avg importance: %.3f\n", stats.AvgImportance)
	return nil
}

func runDelete(cmd *cobra.Command, args []string) error {
	settings, err := config.Load()
	if err != nil {
		return fmt.Errorf("load configuration: %w", err)
	}

	pipeline, _, err := buildPipeline(settings, slog.Default())
	if err != nil {
		return err
	}

	if pipeline.DeleteCollection(collectionID) {
		fmt.Printf("Deleted collection %s\n", collectionID)
	} else {
		fmt.Printf("Collection %s not found\n", collectionID)
	}
	return nil
}
