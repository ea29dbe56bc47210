package index

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/vidgrep/vidgrep/engine/domain"
	"github.com/vidgrep/vidgrep/engine/embed"
	"github.com/vidgrep/vidgrep/engine/semantic"
	"github.com/vidgrep/vidgrep/engine/transcribe"
)

// --- Fakes ---

type fakeMeta struct {
	video    domain.Video
	getErr   error
	statuses []domain.Status
	errMsgs  []string

	savedTranscript string
	savedFrames     []domain.Frame
	savedDuration   float64
}

func (m *fakeMeta) Get(_ context.Context, id string) (domain.Video, error) {
	if m.getErr != nil {
		return domain.Video{}, m.getErr
	}
	return m.video, nil
}

func (m *fakeMeta) UpdateStatus(_ context.Context, _ string, status domain.Status, errMsg string) error {
	m.statuses = append(m.statuses, status)
	m.errMsgs = append(m.errMsgs, errMsg)
	return nil
}

func (m *fakeMeta) SaveResults(_ context.Context, _ string, transcript string, frames []domain.Frame, duration float64) error {
	m.savedTranscript = transcript
	m.savedFrames = frames
	m.savedDuration = duration
	return nil
}

type fakeSampler struct {
	frames []domain.Frame
	err    error
}

func (s *fakeSampler) Extract(_ context.Context, _ string, interval time.Duration) ([]domain.Frame, error) {
	return s.frames, s.err
}

type fakeAudio struct{ err error }

func (a *fakeAudio) ExtractAudio(_ context.Context, _ string) (string, error) {
	if a.err != nil {
		return "", a.err
	}
	return "/tmp/audio.wav", nil
}

type fakeProber struct{ d float64 }

func (p *fakeProber) Duration(_ context.Context, _ string) (float64, error) { return p.d, nil }

type fakeSpeech struct {
	job transcribe.Job
}

func (s *fakeSpeech) Submit(_ context.Context, _ []byte) (string, error) { return "job-1", nil }

func (s *fakeSpeech) Poll(_ context.Context, _ string) (transcribe.Job, error) {
	j := s.job
	j.Status = transcribe.JobCompleted
	return j, nil
}

type fakeText struct {
	err   error
	calls int
}

func (f *fakeText) Embed(_ context.Context, _ string) ([]float32, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return []float32{0.1, 0.2}, nil
}

func (f *fakeText) Model() string  { return "nomic-embed-text" }
func (f *fakeText) Dimension() int { return 768 }

type fakeVisual struct{ strictErr error }

func (f *fakeVisual) EmbedImage(_ context.Context, path string) (embed.VisualEmbedding, error) {
	if f.strictErr != nil {
		return embed.VisualEmbedding{}, f.strictErr
	}
	return embed.VisualEmbedding{
		Vector:     make([]float32, 4),
		Provenance: embed.ProvenanceModel,
	}, nil
}

func (f *fakeVisual) Dimension() int { return 512 }
func (f *fakeVisual) Model() string  { return "clip-vit-b32" }

type fakeVectors struct {
	ensured   []semantic.CollectionSpec
	ensureErr error

	inserted  map[string][]semantic.Record
	insertErr error

	deleted []string // "collection/videoID"
}

func (v *fakeVectors) EnsureCollection(_ context.Context, spec semantic.CollectionSpec) error {
	v.ensured = append(v.ensured, spec)
	return v.ensureErr
}

func (v *fakeVectors) InsertBatches(_ context.Context, collection string, records []semantic.Record, _ int) (semantic.InsertReport, error) {
	if v.insertErr != nil {
		return semantic.InsertReport{}, v.insertErr
	}
	if v.inserted == nil {
		v.inserted = make(map[string][]semantic.Record)
	}
	v.inserted[collection] = append(v.inserted[collection], records...)
	return semantic.InsertReport{Requested: len(records), Inserted: len(records)}, nil
}

func (v *fakeVectors) CountByVideoID(_ context.Context, collection, videoID string) (int, error) {
	return len(v.inserted[collection]), nil
}

func (v *fakeVectors) ProbeSearch(_ context.Context, _, _ string, _ []float32) error { return nil }

func (v *fakeVectors) DeleteByVideoID(_ context.Context, collection, videoID string) error {
	v.deleted = append(v.deleted, collection+"/"+videoID)
	return nil
}

func transcriptOf(words int) string {
	parts := make([]string, words)
	for i := range parts {
		parts[i] = fmt.Sprintf("word%d", i)
	}
	return strings.Join(parts, " ")
}

func newTestOrchestrator(meta *fakeMeta, vectors *fakeVectors, text *fakeText, visual embed.VisualEmbedder) *Orchestrator {
	o := New(Deps{
		Meta: meta,
		Frames: &fakeSampler{frames: []domain.Frame{
			{Timestamp: 0, Path: "/frames/frame-00001.jpg"},
			{Timestamp: 5, Path: "/frames/frame-00002.jpg"},
			{Timestamp: 10, Path: "/frames/frame-00003.jpg"},
		}},
		Audio:  &fakeAudio{},
		Prober: &fakeProber{d: 12.0},
		Speech: &fakeSpeech{job: transcribe.Job{
			Text: transcriptOf(10),
			Segments: []domain.TranscriptSegment{
				{Text: transcriptOf(10), Start: 0, End: 12},
			},
		}},
		Text:    text,
		Visual:  visual,
		Vectors: vectors,
	})
	o.readFile = func(string) ([]byte, error) { return []byte("wav"), nil }
	return o
}

// --- Tests ---

func TestIndexHappyPath(t *testing.T) {
	meta := &fakeMeta{video: domain.Video{ID: "vid-1", SourcePath: "/videos/a.mp4", Status: domain.StatusPending}}
	vectors := &fakeVectors{}
	text := &fakeText{}

	o := newTestOrchestrator(meta, vectors, text, &fakeVisual{})
	if err := o.Index(context.Background(), "vid-1"); err != nil {
		t.Fatalf("Index: %v", err)
	}

	want := []domain.Status{domain.StatusProcessing, domain.StatusCompleted}
	if len(meta.statuses) != 2 || meta.statuses[0] != want[0] || meta.statuses[1] != want[1] {
		t.Errorf("status transitions = %v, want %v", meta.statuses, want)
	}
	if len(vectors.inserted[semantic.TextCollection]) == 0 {
		t.Error("no text records inserted")
	}
	if len(vectors.inserted[semantic.FrameCollection]) != 3 {
		t.Errorf("frame records = %d, want 3", len(vectors.inserted[semantic.FrameCollection]))
	}
	if meta.savedTranscript == "" || meta.savedDuration != 12.0 || len(meta.savedFrames) != 3 {
		t.Errorf("results not persisted: transcript=%q duration=%v frames=%d",
			meta.savedTranscript, meta.savedDuration, len(meta.savedFrames))
	}
}

func TestIndexWithoutVisualSkipsFrames(t *testing.T) {
	meta := &fakeMeta{video: domain.Video{ID: "vid-1", SourcePath: "/videos/a.mp4", Status: domain.StatusPending}}
	vectors := &fakeVectors{}

	o := newTestOrchestrator(meta, vectors, &fakeText{}, nil)
	if err := o.Index(context.Background(), "vid-1"); err != nil {
		t.Fatalf("Index: %v", err)
	}
	if len(vectors.inserted[semantic.FrameCollection]) != 0 {
		t.Error("frame records inserted without a visual embedder")
	}
}

func TestIndexRejectsConcurrentSameVideo(t *testing.T) {
	meta := &fakeMeta{video: domain.Video{ID: "vid-1", Status: domain.StatusPending}}
	o := newTestOrchestrator(meta, &fakeVectors{}, &fakeText{}, nil)

	if err := o.acquire("vid-1"); err != nil {
		t.Fatal(err)
	}
	err := o.Index(context.Background(), "vid-1")
	if !errors.Is(err, domain.ErrAlreadyProcessing) {
		t.Fatalf("expected ErrAlreadyProcessing, got %v", err)
	}
	o.release("vid-1")

	// Released lock lets the next run through.
	if err := o.Index(context.Background(), "vid-1"); err != nil {
		t.Fatalf("Index after release: %v", err)
	}
}

func TestIndexExtractionFailureMarksFailed(t *testing.T) {
	meta := &fakeMeta{video: domain.Video{ID: "vid-1", Status: domain.StatusPending}}
	o := newTestOrchestrator(meta, &fakeVectors{}, &fakeText{}, nil)
	o.deps.Frames = &fakeSampler{err: fmt.Errorf("%w: boom", domain.ErrExtraction)}

	err := o.Index(context.Background(), "vid-1")
	if !errors.Is(err, domain.ErrExtraction) {
		t.Fatalf("expected ErrExtraction, got %v", err)
	}
	last := meta.statuses[len(meta.statuses)-1]
	if last != domain.StatusFailed {
		t.Errorf("final status = %s, want failed", last)
	}
	if meta.errMsgs[len(meta.errMsgs)-1] == "" {
		t.Error("failure message not persisted")
	}
}

func TestIndexZeroEmbeddedChunksFails(t *testing.T) {
	meta := &fakeMeta{video: domain.Video{ID: "vid-1", Status: domain.StatusPending}}
	o := newTestOrchestrator(meta, &fakeVectors{}, &fakeText{err: errors.New("provider down")}, nil)

	err := o.Index(context.Background(), "vid-1")
	if !errors.Is(err, domain.ErrEmbedding) {
		t.Fatalf("expected ErrEmbedding, got %v", err)
	}
	if meta.statuses[len(meta.statuses)-1] != domain.StatusFailed {
		t.Error("video not marked failed")
	}
}

func TestIndexNotFound(t *testing.T) {
	meta := &fakeMeta{getErr: domain.ErrNotFound}
	o := newTestOrchestrator(meta, &fakeVectors{}, &fakeText{}, nil)
	if err := o.Index(context.Background(), "missing"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestReindexClearsPriorVectors(t *testing.T) {
	meta := &fakeMeta{video: domain.Video{ID: "vid-1", SourcePath: "/videos/a.mp4", Status: domain.StatusCompleted}}
	vectors := &fakeVectors{}
	o := newTestOrchestrator(meta, vectors, &fakeText{}, nil)

	if err := o.Reindex(context.Background(), "vid-1"); err != nil {
		t.Fatalf("Reindex: %v", err)
	}
	if len(vectors.deleted) != 2 {
		t.Fatalf("deleted = %v, want both collections cleared", vectors.deleted)
	}
	if vectors.deleted[0] != semantic.TextCollection+"/vid-1" {
		t.Errorf("unexpected delete target %s", vectors.deleted[0])
	}
	if meta.statuses[len(meta.statuses)-1] != domain.StatusCompleted {
		t.Error("reindex did not complete")
	}
}

func TestReindexWhileProcessing(t *testing.T) {
	meta := &fakeMeta{video: domain.Video{ID: "vid-1", Status: domain.StatusProcessing}}
	o := newTestOrchestrator(meta, &fakeVectors{}, &fakeText{}, nil)
	if err := o.Reindex(context.Background(), "vid-1"); !errors.Is(err, domain.ErrAlreadyProcessing) {
		t.Fatalf("expected ErrAlreadyProcessing, got %v", err)
	}
}

func TestReindexFromFailed(t *testing.T) {
	meta := &fakeMeta{video: domain.Video{ID: "vid-1", SourcePath: "/videos/a.mp4", Status: domain.StatusFailed}}
	o := newTestOrchestrator(meta, &fakeVectors{}, &fakeText{}, nil)
	if err := o.Reindex(context.Background(), "vid-1"); err != nil {
		t.Fatalf("Reindex from failed: %v", err)
	}
	if meta.statuses[len(meta.statuses)-1] != domain.StatusCompleted {
		t.Error("expected completion after retrying a failed video")
	}
}

func TestEnsureCollections(t *testing.T) {
	vectors := &fakeVectors{}
	o := newTestOrchestrator(&fakeMeta{}, vectors, &fakeText{}, &fakeVisual{})
	if err := o.EnsureCollections(context.Background()); err != nil {
		t.Fatalf("EnsureCollections: %v", err)
	}
	if len(vectors.ensured) != 2 {
		t.Fatalf("ensured %d collections, want 2", len(vectors.ensured))
	}
	if vectors.ensured[0].Name != semantic.TextCollection || vectors.ensured[0].Dimension != 768 {
		t.Errorf("text spec = %+v", vectors.ensured[0])
	}
	if vectors.ensured[1].Name != semantic.FrameCollection || vectors.ensured[1].Dimension != 512 {
		t.Errorf("frame spec = %+v", vectors.ensured[1])
	}
}

func TestPointIDsDeterministic(t *testing.T) {
	a := textPointID("vid-1", "fixed_window", 3)
	b := textPointID("vid-1", "fixed_window", 3)
	c := textPointID("vid-1", "fixed_window", 4)
	if a != b {
		t.Error("same inputs produced different point ids")
	}
	if a == c {
		t.Error("different chunk index produced the same point id")
	}
	if a == framePointID("vid-1", 3) {
		t.Error("text and frame id spaces collide")
	}
}
