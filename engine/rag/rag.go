// Package rag answers questions about an indexed video. It embeds the
// question, retrieves the closest transcript chunks for that video, and
// asks the generation model for an answer grounded strictly in them.
package rag

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/vidgrep/vidgrep/engine/domain"
	"github.com/vidgrep/vidgrep/engine/embed"
	"github.com/vidgrep/vidgrep/engine/semantic"
	"github.com/vidgrep/vidgrep/pkg/fn"
)

const (
	// DefaultTopK is used when the caller does not set a limit.
	DefaultTopK = 5
	// MaxTopK caps the caller's limit.
	MaxTopK = 20
	// displayChunkChars truncates chunk text in the response body.
	displayChunkChars = 200
)

// RefusalPrefix opens the model's answer when the retrieved context does
// not cover the question. Callers can match on it.
const RefusalPrefix = "The video does not cover"

// Searcher abstracts the filtered vector search.
type Searcher interface {
	SearchFiltered(ctx context.Context, collection string, vector []float32, topK int, filters map[string]string) ([]semantic.SearchResult, error)
}

// Generator produces the final answer text.
type Generator interface {
	Generate(ctx context.Context, prompt string) (string, error)
	Model() string
}

// MetadataReader is the read-only slice of the video repository.
type MetadataReader interface {
	Get(ctx context.Context, id string) (domain.Video, error)
}

// Options configures retrieval behaviour.
type Options struct {
	SearchTimeout time.Duration
}

// DefaultOptions returns sensible defaults.
func DefaultOptions() Options {
	return Options{SearchTimeout: 5 * time.Second}
}

// Engine runs the retrieval and answer pipeline.
type Engine struct {
	meta   MetadataReader
	embed  embed.TextEmbedder
	search Searcher
	gen    Generator
	opts   Options
	logger *slog.Logger
}

// New creates an Engine.
func New(meta MetadataReader, embedder embed.TextEmbedder, search Searcher, gen Generator, opts Options, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.SearchTimeout <= 0 {
		opts.SearchTimeout = DefaultOptions().SearchTimeout
	}
	return &Engine{meta: meta, embed: embedder, search: search, gen: gen, opts: opts, logger: logger}
}

// UsedChunk is one retrieved chunk that backed the answer.
type UsedChunk struct {
	Text       string  `json:"text"`
	Score      float32 `json:"score"`
	Timestamp  string  `json:"timestamp,omitempty"`
	ChunkIndex int     `json:"chunk_index"`
}

// SearchMeta describes how the answer was produced.
type SearchMeta struct {
	EmbeddingModel  string    `json:"embedding_model"`
	GenerationModel string    `json:"generation_model"`
	Collection      string    `json:"collection"`
	ProcessedAt     time.Time `json:"processed_at"`
}

// Answer is the structured response.
type Answer struct {
	Text   string      `json:"text"`
	Chunks []UsedChunk `json:"chunks"`
	Meta   SearchMeta  `json:"meta"`
}

// NoRelevantContentError reports that the search found nothing usable for
// the question, with suggestions the caller can surface.
type NoRelevantContentError struct {
	Query       string
	Suggestions []string
}

func (e *NoRelevantContentError) Error() string {
	return fmt.Sprintf("no relevant content for %q", e.Query)
}

func (e *NoRelevantContentError) Unwrap() error { return domain.ErrNoRelevantContent }

func noRelevantContent(query string) *NoRelevantContentError {
	return &NoRelevantContentError{
		Query: query,
		Suggestions: []string{
			"Rephrase the question using words spoken in the video",
			"Ask about a broader topic the video covers",
			"Check the video's transcript via its status endpoint",
		},
	}
}

// Ask answers a question about one indexed video.
func (e *Engine) Ask(ctx context.Context, videoID, question string, limit int) (*Answer, error) {
	if err := domain.ValidateQuestion(domain.Question{VideoID: videoID, Text: question, Limit: limit}); err != nil {
		return nil, err
	}

	// Metadata gates come before any vector work: an unknown or unindexed
	// video must not cost an embedding call.
	v, err := e.meta.Get(ctx, videoID)
	if err != nil {
		return nil, err
	}
	if v.Status != domain.StatusCompleted {
		return nil, fmt.Errorf("%w: video %s is %s", domain.ErrNotIndexed, videoID, v.Status)
	}

	vec, err := e.embed.Embed(ctx, question)
	if err != nil {
		return nil, err
	}

	topK := limit
	if topK <= 0 {
		topK = DefaultTopK
	}
	if topK > MaxTopK {
		topK = MaxTopK
	}

	searchCtx, cancel := context.WithTimeout(ctx, e.opts.SearchTimeout)
	defer cancel()

	results, err := e.search.SearchFiltered(searchCtx, semantic.TextCollection, vec, topK,
		map[string]string{"video_id": videoID})
	if err != nil {
		return nil, err
	}

	usable := fn.Filter(results, func(r semantic.SearchResult) bool {
		return strings.TrimSpace(r.Chunk) != ""
	})
	if len(usable) == 0 {
		return nil, noRelevantContent(question)
	}
	e.logger.Info("rag: retrieved", "video_id", videoID, "hits", len(usable))

	prompt := buildPrompt(question, usable)
	text, err := e.gen.Generate(ctx, prompt)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrGeneration, err)
	}

	chunks := fn.Map(usable, func(r semantic.SearchResult) UsedChunk {
		c := UsedChunk{
			Text:       truncate(r.Chunk, displayChunkChars),
			Score:      roundScore(r.Score),
			ChunkIndex: r.ChunkIndex,
		}
		if r.Timestamp != nil {
			c.Timestamp = FormatTimestamp(*r.Timestamp)
		}
		return c
	})

	return &Answer{
		Text:   text,
		Chunks: chunks,
		Meta: SearchMeta{
			EmbeddingModel:  e.embed.Model(),
			GenerationModel: e.gen.Model(),
			Collection:      semantic.TextCollection,
			ProcessedAt:     time.Now().UTC(),
		},
	}, nil
}

// buildPrompt assembles the grounded prompt. The context block carries
// timestamps so the model can reference moments in the video.
func buildPrompt(question string, results []semantic.SearchResult) string {
	var b strings.Builder
	b.WriteString("You answer questions about a video using ONLY the transcript excerpts below.\n")
	b.WriteString("When an excerpt you draw on carries a [m:ss] timestamp, cite that timestamp in your answer.\n")
	b.WriteString("If the excerpts do not answer the question, reply exactly:\n")
	fmt.Fprintf(&b, "%s: %s\n\n", RefusalPrefix, question)
	b.WriteString("Transcript excerpts:\n")
	for _, r := range results {
		if r.Timestamp != nil {
			fmt.Fprintf(&b, "[%s] %s\n", FormatTimestamp(*r.Timestamp), r.Chunk)
		} else {
			fmt.Fprintf(&b, "- %s\n", r.Chunk)
		}
	}
	fmt.Fprintf(&b, "\nQuestion: %s\nAnswer:", question)
	return b.String()
}

// FormatTimestamp renders seconds as m:ss.
func FormatTimestamp(seconds float64) string {
	s := int(seconds)
	return fmt.Sprintf("%d:%02d", s/60, s%60)
}

// truncate cuts s to at most n bytes without splitting a rune.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n] + "..."
}

func roundScore(s float32) float32 {
	return float32(math.Round(float64(s)*1000) / 1000)
}
