// Package chunk splits extracted document text into overlapping,
// sentence-aligned segments of bounded size, ready for embedding.
package chunk

import (
	"strings"

	"github.com/AdvisorAI/advisor-engine/engine/domain"
)

const (
	// DefaultSize is the target number of characters per chunk.
	DefaultSize = 1200
	// DefaultOverlap is the number of characters shared between
	// consecutive chunks.
	DefaultOverlap = 100
	// DefaultBoundaryWindow is how far back from a proposed chunk end the
	// splitter searches for a sentence terminator.
	DefaultBoundaryWindow = 100
	// minLineLen drops shorter lines during cleaning; stray page numbers
	// and running headers from PDF extraction are almost always below it.
	minLineLen = 4
)

// DefaultTerminators are the sentence-end markers the splitter snaps to.
// Best-effort and character-window-local only; no stronger semantic
// guarantee is intended.
var DefaultTerminators = []string{". ", "! ", "? ", ".\n", "!\n", "?\n"}

// Splitter produces chunks using a sliding character window with a backward
// sentence-boundary search. The zero value is not usable; call New.
type Splitter struct {
	size           int
	overlap        int
	boundaryWindow int
	terminators    []string
}

// Option configures a Splitter.
type Option func(*Splitter)

// WithSize overrides the chunk size.
func WithSize(n int) Option { return func(s *Splitter) { s.size = n } }

// WithOverlap overrides the inter-chunk overlap.
func WithOverlap(n int) Option { return func(s *Splitter) { s.overlap = n } }

// WithBoundaryWindow overrides the backward boundary search width.
func WithBoundaryWindow(n int) Option { return func(s *Splitter) { s.boundaryWindow = n } }

// WithTerminators overrides the sentence terminator set.
func WithTerminators(ts []string) Option { return func(s *Splitter) { s.terminators = ts } }

// New creates a Splitter. Invalid settings fall back to the defaults so the
// splitter never panics mid-ingestion.
func New(opts ...Option) *Splitter {
	s := &Splitter{
		size:           DefaultSize,
		overlap:        DefaultOverlap,
		boundaryWindow: DefaultBoundaryWindow,
		terminators:    DefaultTerminators,
	}
	for _, o := range opts {
		o(s)
	}
	if s.size <= 0 {
		s.size = DefaultSize
	}
	if s.overlap < 0 || s.overlap >= s.size {
		s.overlap = DefaultOverlap % s.size
	}
	if s.boundaryWindow <= 0 {
		s.boundaryWindow = DefaultBoundaryWindow
	}
	if len(s.terminators) == 0 {
		s.terminators = DefaultTerminators
	}
	return s
}

// Split cleans text and cuts it into ordered chunks. Empty or
// whitespace-only input yields nil. Never returns an error: worst case is
// zero chunks.
func (s *Splitter) Split(text string) []string {
	text = clean(text)
	if text == "" {
		return nil
	}

	var chunks []string
	start := 0
	for start < len(text) {
		end := start + s.size
		if end < len(text) {
			if b := s.findBoundary(text, start, end); b != -1 {
				end = b
			}
		} else {
			end = len(text)
		}

		if c := strings.TrimSpace(text[start:end]); c != "" {
			chunks = append(chunks, c)
		}

		// Overlap the next window, but never move the cursor backward:
		// a boundary snap near the window start could otherwise loop.
		next := end - s.overlap
		if next <= start {
			next = end
		}
		start = next
	}
	return chunks
}

// Chunks runs Split and wraps the results with source bookkeeping.
func (s *Splitter) Chunks(sourceID, text string) []domain.Chunk {
	parts := s.Split(text)
	out := make([]domain.Chunk, len(parts))
	for i, p := range parts {
		out[i] = domain.Chunk{
			Text:     p,
			SourceID: sourceID,
			Index:    i,
			CharLen:  len(p),
		}
	}
	return out
}

// findBoundary returns the position just after the last sentence terminator
// within boundaryWindow characters before end, or -1 when none qualifies.
func (s *Splitter) findBoundary(text string, start, end int) int {
	searchStart := end - s.boundaryWindow
	if searchStart < start {
		searchStart = start
	}
	window := text[searchStart:end]

	best := -1
	for _, term := range s.terminators {
		if pos := strings.LastIndex(window, term); pos != -1 {
			if p := searchStart + pos + len(term); p > best {
				best = p
			}
		}
	}
	if best <= start {
		return -1
	}
	return best
}

// clean collapses whitespace runs and drops very short lines, which removes
// stray page numbers and headers left behind by PDF extraction.
func clean(text string) string {
	var lines []string
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if len(line) >= minLineLen {
			lines = append(lines, line)
		}
	}
	return strings.Join(strings.Fields(strings.Join(lines, " ")), " ")
}
