// Command reindex re-runs the indexing pipeline for one video, or for
// every video in a terminal state with -all. Prior vectors for each video
// are dropped before the re-run.
package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"github.com/vidgrep/vidgrep/engine/embed"
	"github.com/vidgrep/vidgrep/engine/index"
	"github.com/vidgrep/vidgrep/engine/media"
	"github.com/vidgrep/vidgrep/engine/semantic"
	"github.com/vidgrep/vidgrep/engine/transcribe"
	"github.com/vidgrep/vidgrep/pkg/ollama"
	"github.com/vidgrep/vidgrep/pkg/repo"
	"github.com/vidgrep/vidgrep/pkg/resilience"
)

func main() {
	all := flag.Bool("all", false, "reindex every video in a terminal state")
	flag.Parse()

	if !*all && flag.NArg() != 1 {
		log.Fatalf("usage: reindex [-all] <video-id>")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	neo4jURL := envOr("NEO4J_URL", "neo4j://localhost:7687")
	neo4jUser := envOr("NEO4J_USER", "neo4j")
	neo4jPass := envOr("NEO4J_PASS", "password")

	driver, err := neo4j.NewDriverWithContext(neo4jURL, neo4j.BasicAuth(neo4jUser, neo4jPass, ""))
	if err != nil {
		log.Fatalf("neo4j connect: %v", err)
	}
	defer driver.Close(ctx)
	store := repo.NewNeo4jStore(driver)

	vectors, err := semantic.New(envOr("QDRANT_URL", "localhost:6334"), nil)
	if err != nil {
		log.Fatalf("qdrant connect: %v", err)
	}
	defer vectors.Close()

	ollamaURL := envOr("OLLAMA_URL", "http://localhost:11434")
	textEmbed := embed.NewText(
		ollama.New(ollamaURL, envOr("EMBED_MODEL", "nomic-embed-text")),
		resilience.NewLimiter(resilience.LimiterOpts{Rate: 5, Burst: 5}),
	)

	var visual embed.VisualEmbedder
	if u := os.Getenv("VISUAL_URL"); u != "" {
		visual = embed.NewVisual(u, envOr("VISUAL_MODEL", "clip-vit-b32"), nil)
	}

	ffmpeg := media.NewFFmpeg(envOr("FRAMES_DIR", "data/frames"), nil)

	orch := index.New(index.Deps{
		Meta:    store,
		Frames:  ffmpeg,
		Audio:   ffmpeg,
		Prober:  ffmpeg,
		Speech:  transcribe.NewClient(envOr("TRANSCRIBE_URL", "http://localhost:9200"), os.Getenv("TRANSCRIBE_API_KEY")),
		Text:    textEmbed,
		Visual:  visual,
		Vectors: vectors,
	})

	if err := orch.EnsureCollections(ctx); err != nil {
		log.Fatalf("provision collections: %v", err)
	}

	ids := flag.Args()
	if *all {
		ids = terminalVideoIDs(ctx, store)
		log.Printf("found %d videos in terminal state", len(ids))
	}

	var done, failed int
	for _, id := range ids {
		if err := orch.Reindex(ctx, id); err != nil {
			log.Printf("reindex %s: %v", id, err)
			failed++
			continue
		}
		done++
		log.Printf("reindexed %s", id)
	}
	log.Printf("done: %d reindexed, %d failed", done, failed)
	if failed > 0 {
		os.Exit(1)
	}
}

func terminalVideoIDs(ctx context.Context, store repo.VideoStore) []string {
	const page = 100
	var ids []string
	for offset := 0; ; offset += page {
		videos, err := store.List(ctx, offset, page)
		if err != nil {
			log.Fatalf("list videos: %v", err)
		}
		for _, v := range videos {
			if v.Status.Terminal() {
				ids = append(ids, v.ID)
			}
		}
		if len(videos) < page {
			return ids
		}
	}
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
