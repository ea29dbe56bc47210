// Package media samples videos into still frames and extracts audio tracks
// using ffmpeg. Both are modeled as external tools behind small interfaces
// so the pipeline can be tested without binaries installed.
package media

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/vidgrep/vidgrep/engine/domain"
)

// DefaultFrameInterval is the fixed sampling interval for key frames.
const DefaultFrameInterval = 5 * time.Second

// Sampler extracts still frames from a video at a fixed time interval.
type Sampler interface {
	Extract(ctx context.Context, videoPath string, interval time.Duration) ([]domain.Frame, error)
}

// AudioExtractor produces a mono 16 kHz WAV track from a video.
type AudioExtractor interface {
	ExtractAudio(ctx context.Context, videoPath string) (string, error)
}

// runFunc executes an external command and returns combined output.
type runFunc func(ctx context.Context, name string, args ...string) ([]byte, error)

func defaultRun(ctx context.Context, name string, args ...string) ([]byte, error) {
	return exec.CommandContext(ctx, name, args...).CombinedOutput()
}

// FFmpeg shells out to ffmpeg/ffprobe.
type FFmpeg struct {
	FFmpegBin  string
	FFprobeBin string
	WorkDir    string // frames and audio land under WorkDir/<video base name>/
	logger     *slog.Logger
	run        runFunc
}

// NewFFmpeg creates an FFmpeg adapter writing artifacts under workDir.
func NewFFmpeg(workDir string, logger *slog.Logger) *FFmpeg {
	if logger == nil {
		logger = slog.Default()
	}
	return &FFmpeg{
		FFmpegBin:  "ffmpeg",
		FFprobeBin: "ffprobe",
		WorkDir:    workDir,
		logger:     logger,
		run:        defaultRun,
	}
}

func (f *FFmpeg) outDir(videoPath string) string {
	base := strings.TrimSuffix(filepath.Base(videoPath), filepath.Ext(videoPath))
	return filepath.Join(f.WorkDir, base)
}

// Extract samples videoPath into JPEG frames every interval. Videos shorter
// than the interval still yield at least one frame via a single extraction
// at t=0. Zero frames after the fallback is ErrExtraction.
func (f *FFmpeg) Extract(ctx context.Context, videoPath string, interval time.Duration) ([]domain.Frame, error) {
	if interval <= 0 {
		interval = DefaultFrameInterval
	}
	dir := f.outDir(videoPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("media: create frame dir: %w", err)
	}

	pattern := filepath.Join(dir, "frame-%05d.jpg")
	fps := fmt.Sprintf("fps=1/%g", interval.Seconds())
	out, err := f.run(ctx, f.FFmpegBin,
		"-hide_banner", "-loglevel", "error",
		"-i", videoPath,
		"-vf", fps,
		"-y", pattern,
	)
	if err != nil {
		f.logger.Warn("media: interval sampling failed", "video", videoPath, "output", string(out), "err", err)
	}

	frames, err := f.collectFrames(dir, interval)
	if err != nil {
		return nil, err
	}
	if len(frames) > 0 {
		return frames, nil
	}

	// Fallback single frame at t=0 for clips shorter than the interval.
	single := filepath.Join(dir, "frame-00001.jpg")
	out, err = f.run(ctx, f.FFmpegBin,
		"-hide_banner", "-loglevel", "error",
		"-ss", "0",
		"-i", videoPath,
		"-frames:v", "1",
		"-y", single,
	)
	if err != nil {
		return nil, fmt.Errorf("media: %w: %s", domain.ErrExtraction, strings.TrimSpace(string(out)))
	}

	frames, err = f.collectFrames(dir, interval)
	if err != nil {
		return nil, err
	}
	if len(frames) == 0 {
		return nil, fmt.Errorf("media: %w: no frames produced for %s", domain.ErrExtraction, videoPath)
	}
	return frames, nil
}

// collectFrames lists extracted frames in order, assigning timestamps by
// sampling position.
func (f *FFmpeg) collectFrames(dir string, interval time.Duration) ([]domain.Frame, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("media: read frame dir: %w", err)
	}

	var names []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasPrefix(e.Name(), "frame-") && strings.HasSuffix(e.Name(), ".jpg") {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)

	frames := make([]domain.Frame, len(names))
	for i, name := range names {
		frames[i] = domain.Frame{
			Timestamp: float64(i) * interval.Seconds(),
			Path:      filepath.Join(dir, name),
		}
	}
	return frames, nil
}

// ExtractAudio writes a mono 16 kHz PCM WAV next to the frames and returns
// its path.
func (f *FFmpeg) ExtractAudio(ctx context.Context, videoPath string) (string, error) {
	dir := f.outDir(videoPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("media: create audio dir: %w", err)
	}

	audioPath := filepath.Join(dir, "audio.wav")
	out, err := f.run(ctx, f.FFmpegBin,
		"-hide_banner", "-loglevel", "error",
		"-i", videoPath,
		"-vn",
		"-acodec", "pcm_s16le",
		"-ar", "16000",
		"-ac", "1",
		"-y", audioPath,
	)
	if err != nil {
		return "", fmt.Errorf("media: extract audio: %s: %w", strings.TrimSpace(string(out)), err)
	}
	return audioPath, nil
}

// Duration returns the video duration in seconds via ffprobe.
func (f *FFmpeg) Duration(ctx context.Context, videoPath string) (float64, error) {
	out, err := f.run(ctx, f.FFprobeBin,
		"-v", "error",
		"-show_entries", "format=duration",
		"-of", "default=noprint_wrappers=1:nokey=1",
		videoPath,
	)
	if err != nil {
		return 0, fmt.Errorf("media: probe duration: %w", err)
	}
	d, err := strconv.ParseFloat(strings.TrimSpace(string(out)), 64)
	if err != nil {
		return 0, fmt.Errorf("media: parse duration %q: %w", strings.TrimSpace(string(out)), err)
	}
	return d, nil
}
