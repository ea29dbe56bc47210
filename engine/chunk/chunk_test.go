package chunk

import (
	"fmt"
	"strings"
	"testing"

	"github.com/vidgrep/vidgrep/engine/domain"
)

func wordSeq(n int) string {
	words := make([]string, n)
	for i := range words {
		words[i] = fmt.Sprintf("word%d", i)
	}
	return strings.Join(words, " ")
}

func TestFixedWindow_ShortTextSingleChunk(t *testing.T) {
	text := "  hello   world\n this is a\tshort transcript  "
	chunks := FixedWindow(text, WindowOpts{})
	if len(chunks) != 1 {
		t.Fatalf("expected 1 chunk for short text, got %d", len(chunks))
	}
	want := "hello world this is a short transcript"
	if chunks[0].Text != want {
		t.Errorf("expected whitespace-normalized text %q, got %q", want, chunks[0].Text)
	}
	if chunks[0].Strategy != StrategyFixed {
		t.Errorf("expected fixed strategy tag, got %s", chunks[0].Strategy)
	}
}

func TestFixedWindow_ExactlyFiftyWords(t *testing.T) {
	chunks := FixedWindow(wordSeq(50), WindowOpts{})
	if len(chunks) != 1 {
		t.Errorf("50 words should produce exactly 1 chunk, got %d", len(chunks))
	}
}

func TestFixedWindow_Empty(t *testing.T) {
	if got := FixedWindow("   ", WindowOpts{}); got != nil {
		t.Errorf("expected nil for blank input, got %v", got)
	}
}

func TestFixedWindow_OverlapClamp(t *testing.T) {
	// overlap >= chunkSize must clamp to floor(chunkSize*0.2).
	chunks := FixedWindow(wordSeq(200), WindowOpts{ChunkSize: 100, Overlap: 100})
	if len(chunks) < 2 {
		t.Fatalf("expected multiple chunks, got %d", len(chunks))
	}
	// Effective overlap 20, step 80: second chunk starts at word 80.
	second := strings.Fields(chunks[1].Text)
	if second[0] != "word80" {
		t.Errorf("expected second window to start at word80, got %s", second[0])
	}
}

func TestFixedWindow_OverlapProperty(t *testing.T) {
	const size, overlap = 100, 20
	chunks := FixedWindow(wordSeq(500), WindowOpts{ChunkSize: size, Overlap: overlap})
	if len(chunks) < 2 {
		t.Fatalf("expected >=2 chunks, got %d", len(chunks))
	}
	for i := 0; i+1 < len(chunks); i++ {
		a := strings.Fields(chunks[i].Text)
		b := strings.Fields(chunks[i+1].Text)
		if len(a) < overlap || len(b) < overlap {
			continue
		}
		tail := a[len(a)-overlap:]
		head := b[:overlap]
		for j := range tail {
			if tail[j] != head[j] {
				t.Fatalf("chunk %d tail and chunk %d head diverge at %d: %s vs %s",
					i, i+1, j, tail[j], head[j])
			}
		}
	}
}

func TestFixedWindow_TierSelection(t *testing.T) {
	cases := []struct {
		words    int
		wantSize int
	}{
		{300, 150},
		{1000, 300},
		{3000, 500},
		{10000, 800},
		{12000, 1000},
	}
	for _, c := range cases {
		chunks := FixedWindow(wordSeq(c.words), WindowOpts{})
		if len(chunks) == 0 {
			t.Fatalf("%d words: no chunks", c.words)
		}
		got := len(strings.Fields(chunks[0].Text))
		if got != c.wantSize {
			t.Errorf("%d words: expected first window of %d words, got %d", c.words, c.wantSize, got)
		}
	}
}

func TestFixedWindow_NeverEmptyForNonEmptyInput(t *testing.T) {
	for _, n := range []int{1, 10, 51, 100, 500} {
		if chunks := FixedWindow(wordSeq(n), WindowOpts{}); len(chunks) == 0 {
			t.Errorf("%d words: expected non-empty chunk set", n)
		}
	}
}

func TestSentences_Basic(t *testing.T) {
	text := "First sentence here. Second one follows! Third asks a question? Fourth closes."
	chunks := Sentences(text, 300)
	if len(chunks) != 1 {
		t.Fatalf("expected 1 chunk under budget, got %d", len(chunks))
	}
	if !strings.Contains(chunks[0].Text, "Third asks a question?") {
		t.Errorf("sentence lost: %q", chunks[0].Text)
	}
}

func TestSentences_BudgetFlush(t *testing.T) {
	// Each sentence is 5 words; budget of 10 forces a flush every 2 sentences.
	var sb strings.Builder
	for i := 0; i < 6; i++ {
		fmt.Fprintf(&sb, "this is sentence number %d. ", i)
	}
	chunks := Sentences(sb.String(), 10)
	if len(chunks) != 3 {
		t.Fatalf("expected 3 chunks, got %d", len(chunks))
	}
	for _, c := range chunks {
		if wc := len(strings.Fields(c.Text)); wc > 10 {
			t.Errorf("chunk exceeds budget: %d words", wc)
		}
	}
}

func TestSentences_OversizeSentenceIsOwnChunk(t *testing.T) {
	long := wordSeq(40) + "."
	chunks := Sentences("Short one. "+long, 10)
	found := false
	for _, c := range chunks {
		if len(strings.Fields(c.Text)) > 10 {
			found = true
		}
	}
	if !found {
		t.Error("a single oversize sentence should still be emitted whole")
	}
}

func TestSentences_NeverEmpty(t *testing.T) {
	if chunks := Sentences("no terminal punctuation at all", 300); len(chunks) != 1 {
		t.Errorf("expected trailing partial chunk, got %d", len(chunks))
	}
}

func TestTimed_CarriesTimes(t *testing.T) {
	segs := []domain.TranscriptSegment{
		{Text: "one two three", Start: 0, End: 2},
		{Text: "four five six", Start: 2, End: 4},
		{Text: "seven eight nine", Start: 4, End: 30},
	}
	// Budget of 6 words forces a split after the second segment.
	chunks := Timed(segs, 6)
	if len(chunks) != 2 {
		t.Fatalf("expected 2 chunks, got %d", len(chunks))
	}
	if chunks[0].Start == nil || chunks[0].End == nil {
		t.Fatal("first chunk missing time anchor")
	}
	if *chunks[0].Start != 0 || *chunks[0].End != 4 {
		t.Errorf("first chunk times = (%v, %v), want (0, 4)", *chunks[0].Start, *chunks[0].End)
	}
	if *chunks[1].Start != 4 || *chunks[1].End != 30 {
		t.Errorf("second chunk times = (%v, %v), want (4, 30)", *chunks[1].Start, *chunks[1].End)
	}
}

func TestTimed_SkipsEmptySegments(t *testing.T) {
	segs := []domain.TranscriptSegment{
		{Text: "start", Start: 0, End: 1},
		{Text: "   ", Start: 1, End: 2},
		{Text: "finish", Start: 2, End: 3},
	}
	chunks := Timed(segs, 400)
	if len(chunks) != 1 {
		t.Fatalf("expected 1 chunk, got %d", len(chunks))
	}
	if chunks[0].Text != "start finish" {
		t.Errorf("got %q", chunks[0].Text)
	}
	if *chunks[0].End != 3 {
		t.Errorf("end time should come from the last folded segment, got %v", *chunks[0].End)
	}
}

func TestAll_CombinesStrategies(t *testing.T) {
	segs := []domain.TranscriptSegment{{Text: "hello there everyone", Start: 0, End: 5}}
	chunks := All("hello there everyone. welcome back.", segs)
	seen := map[Strategy]bool{}
	for _, c := range chunks {
		seen[c.Strategy] = true
	}
	for _, s := range []Strategy{StrategyFixed, StrategySentence, StrategyTimed} {
		if !seen[s] {
			t.Errorf("missing chunk set for strategy %s", s)
		}
	}
}
