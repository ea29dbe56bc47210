package media

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/vidgrep/vidgrep/engine/domain"
)

// fakeRun simulates ffmpeg by writing the frame files a real run would
// produce.
func fakeRun(frameCount int, failFirst bool) (runFunc, *int) {
	calls := 0
	run := func(_ context.Context, name string, args ...string) ([]byte, error) {
		calls++
		if name == "ffprobe" {
			return []byte("12.480000\n"), nil
		}
		if failFirst && calls == 1 {
			return []byte("no frames"), errors.New("exit status 1")
		}
		// Last arg is the output pattern or path.
		target := args[len(args)-1]
		if strings.Contains(target, "%05d") {
			for i := 1; i <= frameCount; i++ {
				path := strings.Replace(target, "%05d", padded(i), 1)
				os.WriteFile(path, []byte("jpg"), 0o644)
			}
			return nil, nil
		}
		os.WriteFile(target, []byte("jpg"), 0o644)
		return nil, nil
	}
	return run, &calls
}

func padded(i int) string {
	s := "0000" + string(rune('0'+i))
	return s[len(s)-5:]
}

func newTestFFmpeg(t *testing.T, run runFunc) *FFmpeg {
	t.Helper()
	f := NewFFmpeg(t.TempDir(), nil)
	f.run = run
	return f
}

func TestExtract_IntervalSampling(t *testing.T) {
	run, _ := fakeRun(3, false)
	f := newTestFFmpeg(t, run)

	frames, err := f.Extract(context.Background(), "/videos/demo.mp4", 5*time.Second)
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if len(frames) != 3 {
		t.Fatalf("expected 3 frames, got %d", len(frames))
	}
	if frames[1].Timestamp != 5 || frames[2].Timestamp != 10 {
		t.Errorf("timestamps = %v, %v", frames[1].Timestamp, frames[2].Timestamp)
	}
	if filepath.Base(frames[0].Path) != "frame-00001.jpg" {
		t.Errorf("first frame path = %s", frames[0].Path)
	}
}

func TestExtract_ShortVideoFallback(t *testing.T) {
	// Interval pass produces nothing; the t=0 fallback must still yield one frame.
	calls := 0
	run := func(_ context.Context, _ string, args ...string) ([]byte, error) {
		calls++
		target := args[len(args)-1]
		if strings.Contains(target, "%05d") {
			return nil, nil // interval pass: no frames written
		}
		os.WriteFile(target, []byte("jpg"), 0o644)
		return nil, nil
	}
	f := newTestFFmpeg(t, run)

	frames, err := f.Extract(context.Background(), "/videos/short.mp4", 5*time.Second)
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if len(frames) != 1 {
		t.Fatalf("expected single fallback frame, got %d", len(frames))
	}
	if frames[0].Timestamp != 0 {
		t.Errorf("fallback frame timestamp = %v, want 0", frames[0].Timestamp)
	}
	if calls != 2 {
		t.Errorf("expected interval pass plus fallback, got %d calls", calls)
	}
}

func TestExtract_NoFramesAtAll(t *testing.T) {
	run := func(_ context.Context, _ string, _ ...string) ([]byte, error) {
		return []byte("corrupt input"), errors.New("exit status 1")
	}
	f := newTestFFmpeg(t, run)

	_, err := f.Extract(context.Background(), "/videos/broken.mp4", 5*time.Second)
	if !errors.Is(err, domain.ErrExtraction) {
		t.Errorf("expected ErrExtraction, got %v", err)
	}
}

func TestExtractAudio(t *testing.T) {
	var gotArgs []string
	run := func(_ context.Context, _ string, args ...string) ([]byte, error) {
		gotArgs = args
		os.WriteFile(args[len(args)-1], []byte("wav"), 0o644)
		return nil, nil
	}
	f := newTestFFmpeg(t, run)

	path, err := f.ExtractAudio(context.Background(), "/videos/demo.mp4")
	if err != nil {
		t.Fatalf("ExtractAudio: %v", err)
	}
	if filepath.Base(path) != "audio.wav" {
		t.Errorf("path = %s", path)
	}
	joined := strings.Join(gotArgs, " ")
	for _, want := range []string{"-ar 16000", "-ac 1", "-vn"} {
		if !strings.Contains(joined, want) {
			t.Errorf("missing %q in ffmpeg args: %s", want, joined)
		}
	}
}

func TestDuration(t *testing.T) {
	run, _ := fakeRun(0, false)
	f := newTestFFmpeg(t, run)

	d, err := f.Duration(context.Background(), "/videos/demo.mp4")
	if err != nil {
		t.Fatalf("Duration: %v", err)
	}
	if d != 12.48 {
		t.Errorf("duration = %v, want 12.48", d)
	}
}
