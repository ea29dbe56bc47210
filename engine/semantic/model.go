package semantic

import "unicode/utf8"

// Collection names for the two modalities.
const (
	TextCollection  = "video_text"
	FrameCollection = "video_frames"
)

// MaxChunkPayloadChars caps the chunk text stored in a point payload.
// Retrieval quality comes from the vector; the payload is display material.
const MaxChunkPayloadChars = 5000

// CollectionSpec describes a collection the store must provision before
// first insert.
type CollectionSpec struct {
	Name      string
	Dimension int
}

// SearchResult is the canonical vector search hit shape. Both collections
// map their payloads into it so callers never touch Qdrant types.
type SearchResult struct {
	ID         string            `json:"id"`
	Score      float32           `json:"score"`
	VideoID    string            `json:"video_id"`
	Chunk      string            `json:"chunk"`
	Timestamp  *float64          `json:"timestamp,omitempty"`
	ChunkIndex int               `json:"chunk_index"`
	Meta       map[string]string `json:"meta,omitempty"`
}

// Record is a single point destined for a collection.
type Record struct {
	ID        string
	Embedding []float32
	Payload   map[string]any
}

// TextRecord builds the point for one transcript chunk.
func TextRecord(id, videoID, chunk, strategy string, chunkIndex int, start, end *float64, vec []float32) Record {
	if len(chunk) > MaxChunkPayloadChars {
		cut := MaxChunkPayloadChars
		for cut > 0 && !utf8.RuneStart(chunk[cut]) {
			cut--
		}
		chunk = chunk[:cut]
	}
	payload := map[string]any{
		"video_id":    videoID,
		"chunk":       chunk,
		"strategy":    strategy,
		"chunk_index": chunkIndex,
		"modality":    "text",
	}
	if start != nil {
		payload["start_time"] = *start
	}
	if end != nil {
		payload["end_time"] = *end
	}
	return Record{ID: id, Embedding: vec, Payload: payload}
}

// FrameRecord builds the point for one extracted frame.
func FrameRecord(id, videoID, framePath string, frameNumber int, timestamp float64, provenance string, vec []float32) Record {
	return Record{
		ID:        id,
		Embedding: vec,
		Payload: map[string]any{
			"video_id":     videoID,
			"frame_path":   framePath,
			"frame_number": frameNumber,
			"timestamp":    timestamp,
			"provenance":   provenance,
			"modality":     "frame",
		},
	}
}

// InsertReport summarizes a batch insertion run, including records that only
// made it in through the per-record fallback path.
type InsertReport struct {
	Requested int
	Inserted  int
	Failed    int
	Fallbacks int
	FailedIDs []string
}

// Complete reports whether every requested record was stored.
func (r InsertReport) Complete() bool { return r.Failed == 0 }
