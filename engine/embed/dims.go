// Package embed provides the text and visual embedding providers for the
// indexing pipeline, the model-name dimension lookup used to provision
// vector collections before first use, and the degraded-mode fallback for
// the visual provider.
package embed

import "strings"

// DefaultTextDimension is the baseline for unrecognized model names.
const DefaultTextDimension = 768

// VisualDimension is the fixed output size of the visual-semantic model.
const VisualDimension = 512

// dimensionsByName maps model-name fragments to output dimensions.
// Checked in order; first match wins.
var dimensionsByName = []struct {
	fragment string
	dim      int
}{
	{"text-embedding-004", 3072},
	{"text-embedding-3-large", 3072},
	{"text-embedding-3-small", 1536},
	{"embedding-001", 768},
	{"nomic-embed-text", 768},
	{"mxbai-embed-large", 1024},
}

// DimensionFor returns the expected vector dimension for a text embedding
// model identifier. Unknown identifiers fall back to the baseline so the
// collection manager can still provision something workable.
func DimensionFor(model string) int {
	for _, e := range dimensionsByName {
		if strings.Contains(model, e.fragment) {
			return e.dim
		}
	}
	return DefaultTextDimension
}
