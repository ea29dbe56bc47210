package embed

import (
	"context"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/vidgrep/vidgrep/engine/domain"
	"github.com/vidgrep/vidgrep/pkg/resilience"
)

// MaxInputChars is the provider input ceiling; longer text is truncated
// from the end.
const MaxInputChars = 8000

// TextEmbedder turns a string into a dense float vector.
type TextEmbedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	Model() string
	Dimension() int
}

// rawTextClient is the provider-side client (pkg/ollama satisfies it).
type rawTextClient interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	Model() string
}

// Text wraps a raw provider client with input validation, truncation, and
// rate limiting.
type Text struct {
	client  rawTextClient
	limiter *resilience.Limiter
}

// NewText creates a TextEmbedder. A nil limiter disables rate limiting.
func NewText(client rawTextClient, limiter *resilience.Limiter) *Text {
	return &Text{client: client, limiter: limiter}
}

var _ TextEmbedder = (*Text)(nil)

// Model returns the configured model identifier.
func (t *Text) Model() string { return t.client.Model() }

// Dimension returns the expected output dimension for the configured model.
func (t *Text) Dimension() int { return DimensionFor(t.client.Model()) }

// Embed returns the embedding for text, truncated to MaxInputChars.
func (t *Text) Embed(ctx context.Context, text string) ([]float32, error) {
	if strings.TrimSpace(text) == "" {
		return nil, fmt.Errorf("%w: empty input", domain.ErrEmbedding)
	}
	if len(text) > MaxInputChars {
		cut := MaxInputChars
		for cut > 0 && !utf8.RuneStart(text[cut]) {
			cut--
		}
		text = text[:cut]
	}

	if t.limiter != nil {
		if err := t.limiter.Wait(ctx); err != nil {
			return nil, err
		}
	}

	vec, err := t.client.Embed(ctx, text)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrEmbedding, err)
	}
	if len(vec) == 0 {
		return nil, fmt.Errorf("%w: provider returned empty vector", domain.ErrEmbedding)
	}
	return vec, nil
}
