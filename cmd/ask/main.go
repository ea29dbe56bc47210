// Command ask answers a question about an indexed video from the terminal.
// It runs the same retrieval pipeline as the API server, printing the
// grounded answer plus the transcript excerpts that backed it.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"github.com/vidgrep/vidgrep/engine/embed"
	"github.com/vidgrep/vidgrep/engine/rag"
	"github.com/vidgrep/vidgrep/engine/semantic"
	"github.com/vidgrep/vidgrep/pkg/ollama"
	"github.com/vidgrep/vidgrep/pkg/repo"
	"github.com/vidgrep/vidgrep/pkg/resilience"
)

func main() {
	limit := flag.Int("limit", 0, "number of excerpts to retrieve (default 5, max 20)")
	flag.Parse()
	if flag.NArg() != 2 {
		log.Fatalf("usage: ask [-limit n] <video-id> <question>")
	}
	videoID, question := flag.Arg(0), flag.Arg(1)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	driver, err := neo4j.NewDriverWithContext(
		envOr("NEO4J_URL", "neo4j://localhost:7687"),
		neo4j.BasicAuth(envOr("NEO4J_USER", "neo4j"), envOr("NEO4J_PASS", "password"), ""))
	if err != nil {
		log.Fatalf("neo4j connect: %v", err)
	}
	defer driver.Close(ctx)

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
	gen := ollama.New(ollamaURL, envOr("GEN_MODEL", "llama3"))

	engine := rag.New(repo.NewNeo4jStore(driver), textEmbed, vectors, gen, rag.DefaultOptions(), nil)

	answer, err := engine.Ask(ctx, videoID, question, *limit)
	if err != nil {
		var nrc *rag.NoRelevantContentError
		if errors.As(err, &nrc) {
			fmt.Printf("No relevant content for %q. Try:\n", nrc.Query)
			for _, s := range nrc.Suggestions {
				fmt.Printf("  - %s\n", s)
			}
			os.Exit(1)
		}
		log.Fatalf("ask: %v", err)
	}

	fmt.Println(answer.Text)
	fmt.Println()
	fmt.Println("Backed by:")
	for _, c := range answer.Chunks {
		if c.Timestamp != "" {
			fmt.Printf("  [%s] (%.3f) %s\n", c.Timestamp, c.Score, c.Text)
		} else {
			fmt.Printf("  (%.3f) %s\n", c.Score, c.Text)
		}
	}
	fmt.Printf("\nmodels: embed=%s gen=%s collection=%s\n",
		answer.Meta.EmbeddingModel, answer.Meta.GenerationModel, answer.Meta.Collection)
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
