// Package repo implements the video metadata store. The Neo4j store is the
// production backend; Memory backs tests and single-process development.
package repo

import (
	"context"

	"github.com/vidgrep/vidgrep/engine/domain"
)

// VideoStore persists video metadata records across the indexing lifecycle.
type VideoStore interface {
	Create(ctx context.Context, v domain.Video) error
	Get(ctx context.Context, id string) (domain.Video, error)
	List(ctx context.Context, offset, limit int) ([]domain.Video, error)
	// UpdateStatus transitions the record's status. A non-empty errMsg is
	// persisted; an empty one clears any prior error.
	UpdateStatus(ctx context.Context, id string, status domain.Status, errMsg string) error
	// SaveResults persists transcript, frames, and duration after indexing.
	SaveResults(ctx context.Context, id string, transcript string, frames []domain.Frame, duration float64) error
	Delete(ctx context.Context, id string) error
}
