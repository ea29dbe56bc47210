// Package chunk turns raw transcript text (with optional time-coded
// segments) into ordered text chunks under three independent strategies.
// All strategies are pure and stateless; the indexing pipeline applies all
// of them to the same transcript so retrieval can match at different
// granularities.
package chunk

import (
	"strings"

	"github.com/vidgrep/vidgrep/engine/domain"
)

// Strategy tags the chunking strategy that produced a chunk.
type Strategy string

const (
	StrategyFixed    Strategy = "fixed"
	StrategySentence Strategy = "sentence"
	StrategyTimed    Strategy = "timed"
)

// Chunk is a contiguous span of transcript content ready for embedding.
// Start/End are set only by the timestamp-aware strategy.
type Chunk struct {
	Text     string
	Strategy Strategy
	Start    *float64 // seconds
	End      *float64 // seconds
	Index    int
}

const (
	// singleChunkMax is the word count at or below which the whole text is
	// returned as one chunk.
	singleChunkMax = 50
	// minWindowChars drops degenerate windows.
	minWindowChars = 10

	// DefaultSentenceMaxWords bounds sentence-based chunks.
	DefaultSentenceMaxWords = 300
	// DefaultTimedMaxWords bounds timestamp-aware chunks.
	DefaultTimedMaxWords = 400
)

// WindowOpts overrides the word-count-tier defaults for FixedWindow.
// Zero values mean "pick by tier".
type WindowOpts struct {
	ChunkSize int
	Overlap   int
}

// windowTier selects (chunkSize, overlap) by total word count.
func windowTier(wordCount int) (int, int) {
	switch {
	case wordCount <= 300:
		return 150, 30
	case wordCount <= 1000:
		return 300, 60
	case wordCount <= 3000:
		return 500, 100
	case wordCount <= 10000:
		return 800, 160
	default:
		return 1000, 200
	}
}

// FixedWindow splits text into overlapping fixed-size word windows.
// Texts of 50 words or fewer come back as a single chunk. The result is
// never empty for non-empty input.
func FixedWindow(text string, opts WindowOpts) []Chunk {
	words := strings.Fields(text)
	if len(words) == 0 {
		return nil
	}
	normalized := strings.Join(words, " ")

	if len(words) <= singleChunkMax {
		return []Chunk{{Text: normalized, Strategy: StrategyFixed, Index: 0}}
	}

	size, overlap := windowTier(len(words))
	if opts.ChunkSize > 0 {
		size = opts.ChunkSize
	}
	if opts.Overlap > 0 {
		overlap = opts.Overlap
	}
	if overlap >= size {
		overlap = size * 20 / 100
	}
	step := size - overlap

	var chunks []Chunk
	idx := 0
	for start := 0; start < len(words); start += step {
		end := start + size
		if end > len(words) {
			end = len(words)
		}
		window := strings.Join(words[start:end], " ")
		if len(strings.TrimSpace(window)) > minWindowChars {
			chunks = append(chunks, Chunk{Text: window, Strategy: StrategyFixed, Index: idx})
			idx++
		}
		if end == len(words) {
			break
		}
	}

	if len(chunks) == 0 {
		return []Chunk{{Text: normalized, Strategy: StrategyFixed, Index: 0}}
	}
	return chunks
}

// splitSentences splits text on sentence-terminal punctuation.
func splitSentences(text string) []string {
	var sentences []string
	var current strings.Builder

	for _, r := range text {
		current.WriteRune(r)
		if r == '.' || r == '!' || r == '?' {
			if s := strings.TrimSpace(current.String()); s != "" {
				sentences = append(sentences, s)
			}
			current.Reset()
		}
	}
	if s := strings.TrimSpace(current.String()); s != "" {
		sentences = append(sentences, s)
	}
	return sentences
}

// Sentences accumulates whole sentences into chunks of at most maxWords
// words. A single sentence longer than maxWords becomes its own chunk.
// The result is never empty for non-empty input.
func Sentences(text string, maxWords int) []Chunk {
	if strings.TrimSpace(text) == "" {
		return nil
	}
	if maxWords <= 0 {
		maxWords = DefaultSentenceMaxWords
	}

	var chunks []Chunk
	var buf strings.Builder
	words := 0
	idx := 0

	flush := func() {
		if buf.Len() == 0 {
			return
		}
		chunks = append(chunks, Chunk{Text: buf.String(), Strategy: StrategySentence, Index: idx})
		idx++
		buf.Reset()
		words = 0
	}

	for _, s := range splitSentences(text) {
		wc := len(strings.Fields(s))
		if words > 0 && words+wc > maxWords {
			flush()
		}
		if buf.Len() > 0 {
			buf.WriteByte(' ')
		}
		buf.WriteString(s)
		words += wc
	}
	flush()

	if len(chunks) == 0 {
		return []Chunk{{Text: strings.TrimSpace(text), Strategy: StrategySentence, Index: 0}}
	}
	return chunks
}

// Timed accumulates time-coded segments into chunks of at most maxWords
// words. Each chunk carries the start time of the first segment folded into
// it and the end time of the last. Segments with empty text are skipped.
// The result is never empty when at least one segment has text.
func Timed(segments []domain.TranscriptSegment, maxWords int) []Chunk {
	if maxWords <= 0 {
		maxWords = DefaultTimedMaxWords
	}

	var chunks []Chunk
	var buf strings.Builder
	var start, end float64
	words := 0
	idx := 0

	flush := func() {
		if buf.Len() == 0 {
			return
		}
		s, e := start, end
		chunks = append(chunks, Chunk{
			Text:     buf.String(),
			Strategy: StrategyTimed,
			Start:    &s,
			End:      &e,
			Index:    idx,
		})
		idx++
		buf.Reset()
		words = 0
	}

	for _, seg := range segments {
		text := strings.TrimSpace(seg.Text)
		if text == "" {
			continue
		}
		wc := len(strings.Fields(text))
		if words > 0 && words+wc > maxWords {
			flush()
		}
		if buf.Len() == 0 {
			start = seg.Start
		}
		if buf.Len() > 0 {
			buf.WriteByte(' ')
		}
		buf.WriteString(text)
		end = seg.End
		words += wc
	}
	flush()

	return chunks
}

// All runs every strategy over the same transcript and returns the combined
// chunk sets. The sets are deliberately not deduplicated.
func All(text string, segments []domain.TranscriptSegment) []Chunk {
	out := FixedWindow(text, WindowOpts{})
	out = append(out, Sentences(text, DefaultSentenceMaxWords)...)
	out = append(out, Timed(segments, DefaultTimedMaxWords)...)
	return out
}
