package domain

import (
	"fmt"
	"strings"
)

// RecordID builds the deterministic id for a chunk within its source.
func RecordID(sourceID string, chunkIndex int) string {
	return fmt.Sprintf("%s_chunk_%d", sourceID, chunkIndex)
}

// NewRecord assembles an index record for a chunk, attaching the standard
// bookkeeping metadata the rest of the pipeline relies on.
func NewRecord(c Chunk, vector []float32) Record {
	return Record{
		ID:     c.RecordID(),
		Vector: vector,
		Text:   c.Text,
		Metadata: map[string]any{
			"source":      c.SourceID,
			"chunk_index": c.Index,
			"chunk_size":  c.CharLen,
		},
	}
}

// ValidateQuestion rejects blank questions before any retrieval work.
func ValidateQuestion(q string) error {
	if strings.TrimSpace(q) == "" {
		return NewValidationError("question", q, ErrEmptyQuestion)
	}
	return nil
}

// ValidateRecord checks the invariants every record must satisfy before it
// is written to a vector index.
func ValidateRecord(r Record, dim int) error {
	if r.ID == "" {
		return NewValidationError("id", r.ID, fmt.Errorf("record id must not be empty"))
	}
	if len(r.Vector) != dim {
		return fmt.Errorf("record %s: got %d values, want %d: %w",
			r.ID, len(r.Vector), dim, ErrDimensionMismatch)
	}
	return nil
}
