package domain

import (
	"errors"
	"fmt"
)

// Sentinel errors for the indexing and retrieval pipeline.
var (
	ErrInvalidInput      = errors.New("invalid input")
	ErrQueryTooShort     = errors.New("query too short")
	ErrQueryInjection    = errors.New("query contains suspicious content")
	ErrExtraction        = errors.New("frame extraction failed")
	ErrTranscription     = errors.New("transcription failed")
	ErrEmbedding         = errors.New("embedding generation failed")
	ErrSchemaMismatch    = errors.New("vector dimension mismatch")
	ErrInsertion         = errors.New("vector insertion failed")
	ErrNotFound          = errors.New("video not found")
	ErrNotIndexed        = errors.New("video not indexed")
	ErrNoRelevantContent = errors.New("no relevant content")
	ErrGeneration        = errors.New("answer generation failed")
	ErrAlreadyProcessing = errors.New("video is already being processed")
)

// ValidationError wraps a sentinel with the offending field and value.
type ValidationError struct {
	Field   string
	Value   string
	Wrapped error
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation: %s: %s (value=%q)", e.Wrapped, e.Field, e.Value)
}

func (e *ValidationError) Unwrap() error { return e.Wrapped }

// NewValidationError creates a ValidationError.
func NewValidationError(field, value string, wrapped error) *ValidationError {
	return &ValidationError{Field: field, Value: value, Wrapped: wrapped}
}
