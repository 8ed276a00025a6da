// Package chunk splits extracted document text into overlapping,
// deterministic chunks suitable for embedding.
package chunk

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"
)

var newlinePattern = regexp.MustCompile(`\r\n|\r`)

// Settings control chunk sizing. Overlap must stay below Size so every
// chunk makes forward progress.
type Settings struct {
	Size              int
	Overlap           int
	NormalizeNewlines bool
}

// Chunk is one contiguous slice of the source text. Start and End are byte
// offsets into the normalized source; Hash is the sha256 of the trimmed
// chunk text.
type Chunk struct {
	Index int
	Text  string
	Hash  string
	Start int
	End   int
}

// Processor splits text according to its settings.
type Processor struct {
	settings Settings
}

// NewProcessor validates settings and builds a processor.
func NewProcessor(settings Settings) (*Processor, error) {
	if settings.Size <= 0 {
		return nil, errors.New("chunk: size must be greater than zero")
	}
	if settings.Overlap < 0 {
		return nil, errors.New("chunk: overlap cannot be negative")
	}
	if settings.Overlap >= settings.Size {
		return nil, fmt.Errorf("chunk: overlap %d must be smaller than size %d", settings.Overlap, settings.Size)
	}
	return &Processor{settings: settings}, nil
}

// Process splits text into ordered chunks. Boundaries prefer a whitespace
// break within [size-overlap, size]; when none exists the chunk is cut hard
// at size. Each chunk after the first starts overlap characters before the
// previous chunk's end, so re-running on the same input always yields the
// same sequence.
func (p *Processor) Process(text string) []Chunk {
	if p.settings.NormalizeNewlines {
		text = newlinePattern.ReplaceAllString(text, "\n")
	}
	if strings.TrimSpace(text) == "" {
		return nil
	}
	size := p.settings.Size
	overlap := p.settings.Overlap
	chunks := make([]Chunk, 0, len(text)/(size-overlap)+1)
	start := 0
	for start < len(text) {
		end := start + size
		if end >= len(text) {
			end = len(text)
		} else {
			end = p.breakAt(text, start, end)
		}
		window := text[start:end]
		trimmed := strings.TrimSpace(window)
		if trimmed != "" {
			chunks = append(chunks, Chunk{
				Index: len(chunks),
				Text:  trimmed,
				Hash:  hashText(trimmed),
				Start: start,
				End:   end,
			})
		}
		if end >= len(text) {
			break
		}
		next := runeFloor(text, end-overlap)
		if next <= start {
			next = end
		}
		start = next
	}
	return chunks
}

// breakAt finds the cut position for a chunk starting at start with a hard
// limit at limit. It scans backwards from the limit looking for whitespace
// within the last overlap characters (or the last 20% of the chunk when
// overlap is zero) and falls back to the hard limit. Every cut lands on a
// rune boundary so no chunk carries a partial UTF-8 sequence.
func (p *Processor) breakAt(text string, start, limit int) int {
	limit = runeFloor(text, limit)
	if limit <= start {
		// A single rune spans the whole window; cut right after it.
		_, width := utf8.DecodeRuneInString(text[start:])
		return start + width
	}
	lowest := limit - p.settings.Overlap
	if p.settings.Overlap == 0 {
		lowest = limit - p.settings.Size/5
	}
	if lowest <= start {
		lowest = start + 1
	}
	for i := limit; i > lowest; {
		r, width := utf8.DecodeLastRuneInString(text[:i])
		i -= width
		if unicode.IsSpace(r) {
			return i + width
		}
	}
	return limit
}

// runeFloor backs i up to the start of the rune containing it.
func runeFloor(text string, i int) int {
	for i > 0 && i < len(text) && !utf8.RuneStart(text[i]) {
		i--
	}
	return i
}

func hashText(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])
}
