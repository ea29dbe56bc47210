// Package main implements the vidgrep API server: video upload,
// indexing, status, and grounded question answering.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"github.com/vidgrep/vidgrep/engine/embed"
	"github.com/vidgrep/vidgrep/engine/index"
	"github.com/vidgrep/vidgrep/engine/media"
	"github.com/vidgrep/vidgrep/engine/rag"
	"github.com/vidgrep/vidgrep/engine/semantic"
	"github.com/vidgrep/vidgrep/engine/transcribe"
	"github.com/vidgrep/vidgrep/pkg/metrics"
	"github.com/vidgrep/vidgrep/pkg/ollama"
	"github.com/vidgrep/vidgrep/pkg/repo"
	"github.com/vidgrep/vidgrep/pkg/resilience"
)

func ollamaEmbed(cfg Config) *ollama.Client { return ollama.New(cfg.OllamaURL, cfg.EmbedModel) }
func ollamaGen(cfg Config) *ollama.Client   { return ollama.New(cfg.OllamaURL, cfg.GenModel) }

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	cfg, err := loadConfig()
	if err != nil {
		logger.Error("config", "err", err)
		os.Exit(1)
	}

	if err := run(cfg, logger); err != nil {
		logger.Error("server exited with error", "err", err)
		os.Exit(1)
	}
}

func run(cfg Config, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// --- Metadata store (Neo4j) ---
	driver, err := neo4j.NewDriverWithContext(cfg.Neo4jURL, neo4j.BasicAuth(cfg.Neo4jUser, cfg.Neo4jPass, ""))
	if err != nil {
		return fmt.Errorf("neo4j driver: %w", err)
	}
	defer driver.Close(ctx)
	store := repo.NewNeo4jStore(driver)

	// --- Vector store (Qdrant) ---
	vectors, err := semantic.New(cfg.QdrantURL, logger)
	if err != nil {
		return fmt.Errorf("qdrant connect: %w", err)
	}
	defer vectors.Close()

	// --- NATS events (optional) ---
	var nc *nats.Conn
	if cfg.NATSURL != "" {
		nc, err = nats.Connect(cfg.NATSURL)
		if err != nil {
			logger.Warn("nats unavailable, events disabled", "err", err)
		} else {
			defer nc.Close()
		}
	}

	// --- Embedding and generation ---
	embedClient := ollamaEmbed(cfg)
	textEmbed := embed.NewText(embedClient, resilience.NewLimiter(resilience.LimiterOpts{Rate: 5, Burst: 5}))

	var visual embed.VisualEmbedder
	if cfg.VisualURL != "" {
		v := embed.NewVisual(cfg.VisualURL, cfg.VisualModel, logger)
		v.Strict = cfg.VisualStrict
		visual = v
	}

	// --- Media and transcription ---
	ffmpeg := media.NewFFmpeg(cfg.FramesDir, logger)
	speech := transcribe.NewClient(cfg.TranscribeURL, cfg.TranscribeKey)

	registry := metrics.New()

	orch := index.New(index.Deps{
		Meta:    store,
		Frames:  ffmpeg,
		Audio:   ffmpeg,
		Prober:  ffmpeg,
		Speech:  speech,
		Text:    textEmbed,
		Visual:  visual,
		Vectors: vectors,
		NC:      nc,
		Metrics: registry,
		Logger:  logger,
	})

	if err := orch.EnsureCollections(ctx); err != nil {
		return fmt.Errorf("provision collections: %w", err)
	}

	engine := rag.New(store, textEmbed, vectors, ollamaGen(cfg), rag.DefaultOptions(), logger)

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      NewServer(cfg, store, orch, engine, registry, logger).Handler(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("api server starting", "port", cfg.Port, "env", cfg.Environment)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			return err
		}
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	}

	shutCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutCtx)
}
