// Package index drives the full video indexing pipeline: frame sampling,
// audio extraction, transcription, chunking, embedding, and vector
// insertion, with lifecycle status persisted to the metadata store and
// events published over NATS.
package index

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"

	"github.com/vidgrep/vidgrep/engine/chunk"
	"github.com/vidgrep/vidgrep/engine/domain"
	"github.com/vidgrep/vidgrep/engine/embed"
	"github.com/vidgrep/vidgrep/engine/media"
	"github.com/vidgrep/vidgrep/engine/semantic"
	"github.com/vidgrep/vidgrep/engine/transcribe"
	"github.com/vidgrep/vidgrep/pkg/fn"
	"github.com/vidgrep/vidgrep/pkg/metrics"
	"github.com/vidgrep/vidgrep/pkg/natsutil"
)

// NATS subjects for indexing lifecycle events.
const (
	SubjectStarted   = "video.indexing.started"
	SubjectCompleted = "video.indexing.completed"
	SubjectFailed    = "video.indexing.failed"
)

// Event is published on every lifecycle transition.
type Event struct {
	VideoID string        `json:"video_id"`
	Status  domain.Status `json:"status"`
	Error   string        `json:"error,omitempty"`
	At      time.Time     `json:"at"`
}

// MetadataStore is the slice of the video repository the orchestrator needs.
type MetadataStore interface {
	Get(ctx context.Context, id string) (domain.Video, error)
	UpdateStatus(ctx context.Context, id string, status domain.Status, errMsg string) error
	SaveResults(ctx context.Context, id string, transcript string, frames []domain.Frame, duration float64) error
}

// VectorStore is the slice of the semantic store the orchestrator needs.
type VectorStore interface {
	EnsureCollection(ctx context.Context, spec semantic.CollectionSpec) error
	InsertBatches(ctx context.Context, collection string, records []semantic.Record, batchSize int) (semantic.InsertReport, error)
	CountByVideoID(ctx context.Context, collection, videoID string) (int, error)
	ProbeSearch(ctx context.Context, collection, videoID string, vector []float32) error
	DeleteByVideoID(ctx context.Context, collection, videoID string) error
}

// DurationProber reads a video's duration in seconds.
type DurationProber interface {
	Duration(ctx context.Context, videoPath string) (float64, error)
}

// Deps holds the external dependencies of the orchestrator.
type Deps struct {
	Meta    MetadataStore
	Frames  media.Sampler
	Audio   media.AudioExtractor
	Prober  DurationProber // optional, duration is 0 without it
	Speech  transcribe.Provider
	Text    embed.TextEmbedder
	Visual  embed.VisualEmbedder // optional, frame indexing is skipped without it
	Vectors VectorStore
	NC      *nats.Conn // optional, nil disables events
	Metrics *metrics.Registry
	Logger  *slog.Logger
}

// Orchestrator runs indexing jobs. At most one pipeline per video id runs
// at a time.
type Orchestrator struct {
	deps Deps
	log  *slog.Logger

	mu     sync.Mutex
	active map[string]bool

	readFile func(string) ([]byte, error)

	indexed   *metrics.Counter
	failed    *metrics.Counter
	embedded  *metrics.Counter
	fallbacks *metrics.Counter
	stageHist func(stage string) *metrics.Histogram
}

// New creates an Orchestrator.
func New(deps Deps) *Orchestrator {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Metrics == nil {
		deps.Metrics = metrics.New()
	}
	reg := deps.Metrics
	return &Orchestrator{
		deps:      deps,
		log:       deps.Logger,
		active:    make(map[string]bool),
		readFile:  os.ReadFile,
		indexed:   reg.Counter("vidgrep_videos_indexed_total", "Videos indexed to completion."),
		failed:    reg.Counter("vidgrep_videos_failed_total", "Videos that failed indexing."),
		embedded:  reg.Counter("vidgrep_chunks_embedded_total", "Transcript chunks embedded."),
		fallbacks: reg.Counter("vidgrep_insert_fallback_total", "Records inserted via per-record fallback."),
		stageHist: func(stage string) *metrics.Histogram {
			return reg.Histogram(metrics.WithLabels("vidgrep_index_stage_seconds", "stage", stage),
				"Indexing stage duration in seconds.", nil)
		},
	}
}

// EnsureCollections provisions both vector collections for the configured
// embedding models. Call once at startup, before serving.
func (o *Orchestrator) EnsureCollections(ctx context.Context) error {
	if err := o.deps.Vectors.EnsureCollection(ctx, semantic.CollectionSpec{
		Name:      semantic.TextCollection,
		Dimension: o.deps.Text.Dimension(),
	}); err != nil {
		return err
	}
	if o.deps.Visual == nil {
		return nil
	}
	return o.deps.Vectors.EnsureCollection(ctx, semantic.CollectionSpec{
		Name:      semantic.FrameCollection,
		Dimension: o.deps.Visual.Dimension(),
	})
}

// acquire takes the per-video lock, or reports that a pipeline already
// holds it.
func (o *Orchestrator) acquire(id string) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.active[id] {
		return fmt.Errorf("%w: video %s", domain.ErrAlreadyProcessing, id)
	}
	o.active[id] = true
	return nil
}

func (o *Orchestrator) release(id string) {
	o.mu.Lock()
	delete(o.active, id)
	o.mu.Unlock()
}

// job carries pipeline state between stages.
type job struct {
	video      domain.Video
	frames     []domain.Frame
	audioPath  string
	transcript transcribe.Job
	duration   float64
	textVec    []float32 // one real vector kept for the probe search
	report     semantic.InsertReport
}

// Index runs the full pipeline for a previously registered video.
func (o *Orchestrator) Index(ctx context.Context, id string) error {
	v, err := o.deps.Meta.Get(ctx, id)
	if err != nil {
		return err
	}
	if err := o.acquire(id); err != nil {
		return err
	}
	defer o.release(id)
	return o.run(ctx, v)
}

// Reindex drops the video's existing vectors and runs the pipeline again
// against its stored source path. Only videos in a terminal state can be
// re-indexed.
func (o *Orchestrator) Reindex(ctx context.Context, id string) error {
	v, err := o.deps.Meta.Get(ctx, id)
	if err != nil {
		return err
	}
	if v.Status == domain.StatusProcessing {
		return fmt.Errorf("%w: video %s", domain.ErrAlreadyProcessing, id)
	}
	if err := o.acquire(id); err != nil {
		return err
	}
	defer o.release(id)

	for _, col := range []string{semantic.TextCollection, semantic.FrameCollection} {
		if err := o.deps.Vectors.DeleteByVideoID(ctx, col, id); err != nil {
			o.log.Warn("index: clearing prior vectors failed", "video_id", id, "collection", col, "err", err)
		}
	}
	return o.run(ctx, v)
}

func (o *Orchestrator) run(ctx context.Context, v domain.Video) error {
	if !domain.CanTransition(v.Status, domain.StatusProcessing) {
		return fmt.Errorf("%w: video %s cannot leave %s", domain.ErrInvalidInput, v.ID, v.Status)
	}
	if err := o.deps.Meta.UpdateStatus(ctx, v.ID, domain.StatusProcessing, ""); err != nil {
		return err
	}
	pipeline := fn.Pipeline(
		fn.TapStage(func(ctx context.Context, j *job) {
			o.publish(ctx, SubjectStarted, Event{VideoID: j.video.ID, Status: domain.StatusProcessing, At: time.Now()})
		}),
		o.timed("frames", o.stageFrames),
		o.timed("audio", o.stageAudio),
		o.timed("transcribe", o.stageTranscribe),
		o.timed("embed_text", o.stageEmbedText),
		o.timed("embed_frames", o.stageEmbedFrames),
		o.timed("persist", o.stagePersist),
	)

	if _, err := pipeline(ctx, &job{video: v}).Unwrap(); err != nil {
		o.failed.Inc()
		o.log.Error("index: pipeline failed", "video_id", v.ID, "err", err)
		if uerr := o.deps.Meta.UpdateStatus(ctx, v.ID, domain.StatusFailed, err.Error()); uerr != nil {
			o.log.Error("index: recording failure status failed", "video_id", v.ID, "err", uerr)
		}
		o.publish(ctx, SubjectFailed, Event{VideoID: v.ID, Status: domain.StatusFailed, Error: err.Error(), At: time.Now()})
		return err
	}

	if err := o.deps.Meta.UpdateStatus(ctx, v.ID, domain.StatusCompleted, ""); err != nil {
		return err
	}
	o.indexed.Inc()
	o.publish(ctx, SubjectCompleted, Event{VideoID: v.ID, Status: domain.StatusCompleted, At: time.Now()})
	o.log.Info("index: completed", "video_id", v.ID)
	return nil
}

// timed wraps a stage with a duration histogram and a trace span.
func (o *Orchestrator) timed(name string, stage fn.Stage[*job, *job]) fn.Stage[*job, *job] {
	hist := o.stageHist(name)
	traced := fn.Traced(name, stage)
	return func(ctx context.Context, j *job) fn.Result[*job] {
		start := time.Now()
		defer hist.Since(start)
		return traced(ctx, j)
	}
}

func (o *Orchestrator) stageFrames(ctx context.Context, j *job) fn.Result[*job] {
	frames, err := o.deps.Frames.Extract(ctx, j.video.SourcePath, media.DefaultFrameInterval)
	if err != nil {
		return fn.Err[*job](err)
	}
	if len(frames) == 0 {
		return fn.Err[*job](fmt.Errorf("%w: no frames extracted from %s", domain.ErrExtraction, j.video.SourcePath))
	}
	j.frames = frames

	if o.deps.Prober != nil {
		d, err := o.deps.Prober.Duration(ctx, j.video.SourcePath)
		if err != nil {
			o.log.Warn("index: duration probe failed", "video_id", j.video.ID, "err", err)
		} else {
			j.duration = d
		}
	}
	return fn.Ok(j)
}

func (o *Orchestrator) stageAudio(ctx context.Context, j *job) fn.Result[*job] {
	path, err := o.deps.Audio.ExtractAudio(ctx, j.video.SourcePath)
	if err != nil {
		return fn.Err[*job](err)
	}
	j.audioPath = path
	return fn.Ok(j)
}

func (o *Orchestrator) stageTranscribe(ctx context.Context, j *job) fn.Result[*job] {
	audio, err := o.readFile(j.audioPath)
	if err != nil {
		return fn.Err[*job](fmt.Errorf("%w: read audio: %v", domain.ErrTranscription, err))
	}
	t, err := transcribe.Transcribe(ctx, o.deps.Speech, audio, transcribe.AwaitOpts{})
	if err != nil {
		return fn.Err[*job](err)
	}
	if t.Text == "" {
		return fn.Err[*job](fmt.Errorf("%w: empty transcript for video %s", domain.ErrTranscription, j.video.ID))
	}
	j.transcript = t
	return fn.Ok(j)
}

func (o *Orchestrator) stageEmbedText(ctx context.Context, j *job) fn.Result[*job] {
	chunks := chunk.All(j.transcript.Text, j.transcript.Segments)
	records := make([]semantic.Record, 0, len(chunks))
	for _, c := range chunks {
		vec, err := o.deps.Text.Embed(ctx, c.Text)
		if err != nil {
			o.log.Warn("index: chunk embedding failed, skipping",
				"video_id", j.video.ID, "strategy", c.Strategy, "chunk_index", c.Index, "err", err)
			continue
		}
		o.embedded.Inc()
		if j.textVec == nil {
			j.textVec = vec
		}
		records = append(records, semantic.TextRecord(
			textPointID(j.video.ID, c.Strategy, c.Index),
			j.video.ID, c.Text, string(c.Strategy), c.Index, c.Start, c.End, vec,
		))
	}
	if len(records) == 0 {
		return fn.Err[*job](fmt.Errorf("%w: no chunks embedded for video %s", domain.ErrEmbedding, j.video.ID))
	}

	report, err := o.deps.Vectors.InsertBatches(ctx, semantic.TextCollection, records, semantic.TextBatchSize)
	if err != nil {
		return fn.Err[*job](err)
	}
	j.report = report
	o.fallbacks.Add(int64(report.Fallbacks))
	if report.Failed > 0 {
		o.log.Warn("index: partial text insertion", "video_id", j.video.ID,
			"inserted", report.Inserted, "failed", report.Failed)
	}
	o.verifyInsertion(ctx, j)
	return fn.Ok(j)
}

// verifyInsertion reads the stored point count back and runs a one-hit
// probe search. Both are best-effort checks.
func (o *Orchestrator) verifyInsertion(ctx context.Context, j *job) {
	count, err := o.deps.Vectors.CountByVideoID(ctx, semantic.TextCollection, j.video.ID)
	if err != nil {
		o.log.Warn("index: count read-back failed", "video_id", j.video.ID, "err", err)
	} else if count < j.report.Inserted {
		o.log.Warn("index: count read-back below inserted",
			"video_id", j.video.ID, "count", count, "inserted", j.report.Inserted)
	}
	if err := o.deps.Vectors.ProbeSearch(ctx, semantic.TextCollection, j.video.ID, j.textVec); err != nil {
		o.log.Warn("index: probe search failed", "video_id", j.video.ID, "err", err)
	}
}

func (o *Orchestrator) stageEmbedFrames(ctx context.Context, j *job) fn.Result[*job] {
	if o.deps.Visual == nil {
		return fn.Ok(j)
	}
	records := make([]semantic.Record, 0, len(j.frames))
	for i, f := range j.frames {
		emb, err := o.deps.Visual.EmbedImage(ctx, f.Path)
		if err != nil {
			o.log.Warn("index: frame embedding failed, skipping",
				"video_id", j.video.ID, "frame", f.Path, "err", err)
			continue
		}
		records = append(records, semantic.FrameRecord(
			framePointID(j.video.ID, i),
			j.video.ID, f.Path, i, f.Timestamp, string(emb.Provenance), emb.Vector,
		))
	}
	if len(records) == 0 {
		// Frame indexing is an enrichment, not a gate.
		o.log.Warn("index: no frames embedded", "video_id", j.video.ID)
		return fn.Ok(j)
	}
	report, err := o.deps.Vectors.InsertBatches(ctx, semantic.FrameCollection, records, semantic.FrameBatchSize)
	if err != nil {
		o.log.Warn("index: frame insertion failed", "video_id", j.video.ID, "err", err)
		return fn.Ok(j)
	}
	o.fallbacks.Add(int64(report.Fallbacks))
	return fn.Ok(j)
}

func (o *Orchestrator) stagePersist(ctx context.Context, j *job) fn.Result[*job] {
	if err := o.deps.Meta.SaveResults(ctx, j.video.ID, j.transcript.Text, j.frames, j.duration); err != nil {
		return fn.Err[*job](err)
	}
	return fn.Ok(j)
}

func (o *Orchestrator) publish(ctx context.Context, subject string, ev Event) {
	if o.deps.NC == nil {
		return
	}
	if err := natsutil.Publish(ctx, o.deps.NC, subject, ev); err != nil {
		o.log.Warn("index: event publish failed", "subject", subject, "err", err)
	}
}

// textPointID derives a stable point id from the video, strategy, and
// chunk index, so re-running the pipeline overwrites rather than
// duplicates.
func textPointID(videoID string, strategy chunk.Strategy, index int) string {
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte(fmt.Sprintf("%s-%s-%d", videoID, strategy, index))).String()
}

func framePointID(videoID string, frameNumber int) string {
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte(fmt.Sprintf("%s-frame-%d", videoID, frameNumber))).String()
}

// IsAlreadyProcessing reports whether err is the concurrent-pipeline
// rejection.
func IsAlreadyProcessing(err error) bool {
	return errors.Is(err, domain.ErrAlreadyProcessing)
}
