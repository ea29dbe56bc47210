// Package domain defines the core types, statuses, and validation for the
// vidgrep indexing and retrieval pipeline. It acts as the validation gate at
// pipeline entry points.
package domain

import "time"

// Status is the indexing lifecycle state of a video.
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// Terminal reports whether a status is an end state of the pipeline.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// CanTransition reports whether the lifecycle allows moving from one status
// to another. Terminal states may move back to processing on re-index.
func CanTransition(from, to Status) bool {
	switch from {
	case StatusPending:
		return to == StatusProcessing
	case StatusProcessing:
		return to == StatusCompleted || to == StatusFailed
	case StatusCompleted, StatusFailed:
		return to == StatusProcessing
	}
	return false
}

// Video is the metadata record for one uploaded video.
type Video struct {
	ID         string    `json:"id"`
	Title      string    `json:"title"`
	SourcePath string    `json:"source_path"`
	Status     Status    `json:"status"`
	Transcript string    `json:"transcript,omitempty"`
	Frames     []Frame   `json:"frames,omitempty"`
	Duration   float64   `json:"duration,omitempty"` // seconds
	Error      string    `json:"error,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// TranscriptSegment is one time-coded span of spoken text, ordered by time
// and immutable once produced by the transcription provider.
type TranscriptSegment struct {
	Text  string  `json:"text"`
	Start float64 `json:"start"` // seconds
	End   float64 `json:"end"`   // seconds
}

// Frame is a still image sampled from the video at a fixed interval.
type Frame struct {
	Timestamp float64 `json:"timestamp"` // seconds
	Path      string  `json:"path"`
}

// Question is a user query against one indexed video.
type Question struct {
	VideoID string `json:"video_id"`
	Text    string `json:"text"`
	Limit   int    `json:"limit,omitempty"`
}
