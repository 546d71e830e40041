// Package main provides the RAG server entry point: an MCP tool server
// over stdio or HTTP, backed by per-collection vector indices.
package main

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/studybuddy/rag-server/internal/config"
	"github.com/studybuddy/rag-server/internal/embedding"
	"github.com/studybuddy/rag-server/internal/llm"
	mcpserver "github.com/studybuddy/rag-server/internal/mcp"
	"github.com/studybuddy/rag-server/internal/rag"
	"github.com/studybuddy/rag-server/internal/vectorstore"
)

func main() {
	// Load .env if present (local development), ignore if missing.
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables")
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer cancel()

	settings, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))

	// Missing credentials are not fatal: the embedding service degrades to
	// deterministic fallback vectors and answers degrade to the fallback
	// text, so the index stays readable.
	var completer llm.Completer
	openaiClient, err := embedding.NewOpenAIClient()
	if err != nil {
		logger.Warn("OpenAI client unavailable, running in degraded mode", "error", err)
	} else {
		completer = llm.NewClient(openaiClient, settings.CompletionModel)
	}

	embedder := embedding.NewService(openaiClient,
		embedding.WithModel(settings.EmbeddingModel),
		embedding.WithDimension(settings.EmbeddingDimension),
		embedding.WithLogger(logger),
	)

	store, err := vectorstore.NewStore(settings.IndexDir, embedder, logger)
	if err != nil {
		log.Fatalf("failed to open vector store: %v", err)
	}

	pipeline := rag.NewPipeline(&rag.Config{
		Store:            store,
		Completer:        completer,
		Logger:           logger,
		TopK:             settings.TopK,
		MaxContextTokens: settings.MaxContextTokens,
		Temperature:      settings.Temperature,
	})

	server := mcpserver.NewServer(&mcpserver.Config{Pipeline: pipeline})

	mux := http.NewServeMux()
	mux.HandleFunc("/", mcpserver.NewLandingHandler())
	mux.HandleFunc("/health", mcpserver.NewHealthHandler(store))
	mux.Handle("/mcp", mcpserver.NewHTTPHandler(server, nil))

	addr := fmt.Sprintf("0.0.0.0:%d", settings.Port)

	if settings.ServerMode {
		// HTTP mode: serve MCP over HTTP for remote clients.
		log.Printf("Starting HTTP server on %s (MCP at /mcp, health at /health)", addr)
		if err := http.ListenAndServe(addr, mux); err != nil {
			log.Fatalf("HTTP server error: %v", err)
		}
		return
	}

	// Stdio mode: MCP over stdin/stdout, health endpoint in the background.
	go func() {
		log.Printf("Starting health server on %s", addr)
		if err := http.ListenAndServe(addr, mux); err != nil {
			log.Printf("Health server error: %v", err)
		}
	}()

	log.Println("Starting StudyBuddy RAG server (stdio mode)...")
	if err := server.Run(ctx); err != nil {
		log.Printf("server error: %v", err)
		os.Exit(1)
	}
}
