package embed

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"hash/fnv"
	"log/slog"
	"math"
	"net/http"
	"os"
	"time"

	"github.com/vidgrep/vidgrep/engine/domain"
	"github.com/vidgrep/vidgrep/pkg/resilience"
)

// Provenance records whether a visual embedding came from the model or
// from the degraded synthetic fallback.
type Provenance string

const (
	ProvenanceModel     Provenance = "model"
	ProvenanceSynthetic Provenance = "synthetic"
)

// VisualEmbedding is a frame vector plus its provenance. Synthetic vectors
// are not semantically meaningful; they only keep the pipeline alive while
// the visual provider is down.
type VisualEmbedding struct {
	Vector     []float32
	Provenance Provenance
}

// VisualEmbedder turns an image file into a fixed-dimension vector.
type VisualEmbedder interface {
	EmbedImage(ctx context.Context, path string) (VisualEmbedding, error)
	Dimension() int
	Model() string
}

// Visual calls an external visual-semantic embedding service. Provider
// failures trip a circuit breaker and degrade to a deterministic
// pseudo-embedding unless Strict is set.
type Visual struct {
	baseURL string
	model   string
	http    *http.Client
	breaker *resilience.Breaker
	logger  *slog.Logger

	// Strict disables the synthetic fallback; provider failures become
	// hard errors.
	Strict bool
}

// NewVisual creates a visual embedding client.
func NewVisual(baseURL, model string, logger *slog.Logger) *Visual {
	if logger == nil {
		logger = slog.Default()
	}
	return &Visual{
		baseURL: baseURL,
		model:   model,
		http:    &http.Client{Timeout: 60 * time.Second},
		breaker: resilience.NewBreaker(resilience.DefaultBreakerOpts),
		logger:  logger,
	}
}

var _ VisualEmbedder = (*Visual)(nil)

// Dimension returns the fixed visual vector size.
func (v *Visual) Dimension() int { return VisualDimension }

// Model returns the configured visual model identifier.
func (v *Visual) Model() string { return v.model }

type visualResp struct {
	Embedding []float32 `json:"embedding"`
}

// EmbedImage embeds the image at path. On provider failure it returns a
// synthetic embedding derived from the file size and path hash, flagged
// with ProvenanceSynthetic.
func (v *Visual) EmbedImage(ctx context.Context, path string) (VisualEmbedding, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return VisualEmbedding{}, fmt.Errorf("%w: read image %s: %v", domain.ErrEmbedding, path, err)
	}

	var vec []float32
	callErr := v.breaker.Call(ctx, func(ctx context.Context) error {
		var err error
		vec, err = v.call(ctx, data)
		return err
	})

	if callErr == nil {
		return VisualEmbedding{Vector: vec, Provenance: ProvenanceModel}, nil
	}

	if v.Strict {
		return VisualEmbedding{}, fmt.Errorf("%w: %v", domain.ErrEmbedding, callErr)
	}

	v.logger.Warn("embed: visual provider unavailable, using synthetic fallback",
		"path", path, "err", callErr)
	return VisualEmbedding{
		Vector:     SyntheticVector(path, int64(len(data)), VisualDimension),
		Provenance: ProvenanceSynthetic,
	}, nil
}

func (v *Visual) call(ctx context.Context, image []byte) ([]float32, error) {
	body, _ := json.Marshal(map[string]any{"model": v.model, "image": image})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, v.baseURL+"/v1/embeddings/image", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := v.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("visual embed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("visual embed: status %d", resp.StatusCode)
	}

	var result visualResp
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("visual embed decode: %w", err)
	}
	if len(result.Embedding) != VisualDimension {
		return nil, fmt.Errorf("visual embed: got %d dims, want %d", len(result.Embedding), VisualDimension)
	}
	return result.Embedding, nil
}

// SyntheticVector builds a deterministic pseudo-embedding from the image
// file size and a hash of its path. The vector is split into four
// quarter-length bands, each filled by a distinct sinusoid of
// (fileSize, pathHash, index).
func SyntheticVector(path string, fileSize int64, dim int) []float32 {
	h := fnv.New32a()
	h.Write([]byte(path))
	hash := float64(h.Sum32())
	size := float64(fileSize)

	vec := make([]float32, dim)
	quarter := dim / 4
	for i := range vec {
		fi := float64(i)
		switch {
		case i < quarter:
			vec[i] = float32(math.Sin(size*1e-4 + fi*0.1))
		case i < 2*quarter:
			vec[i] = float32(math.Cos(hash*1e-6 + fi*0.1))
		case i < 3*quarter:
			vec[i] = float32(math.Sin((size+hash)*1e-5 + fi*0.05))
		default:
			vec[i] = float32(math.Cos(size*1e-4+fi*0.05) * math.Sin(hash*1e-6))
		}
	}
	return vec
}
