// Package domain defines the core types, constants, and validation shared by
// the guidance engine pipeline. It acts as the validation gate at pipeline
// entry points.
package domain

// Chunk is a bounded substring of a source document, produced by the chunker
// for independent embedding and retrieval. Immutable once created.
type Chunk struct {
	Text     string `json:"text"`
	SourceID string `json:"source_id"`
	Index    int    `json:"index"`
	CharLen  int    `json:"char_len"`
}

// RecordID derives the deterministic index record id for a chunk. Re-ingesting
// the same source with the same chunking yields the same ids.
func (c Chunk) RecordID() string {
	return RecordID(c.SourceID, c.Index)
}

// Record is a single indexed entry: embedding vector plus the chunk text and
// its bookkeeping metadata. Metadata always carries "source", "chunk_index",
// and "chunk_size".
type Record struct {
	ID       string         `json:"id"`
	Vector   []float32      `json:"vector"`
	Text     string         `json:"text"`
	Metadata map[string]any `json:"metadata"`
}

// ContextItem is a read-only projection of a Record returned by a vector
// index query. It exists only for the duration of one retrieval call.
type ContextItem struct {
	Text     string            `json:"text"`
	Metadata map[string]string `json:"metadata"`
}

// Source returns the originating document identifier, or "Unknown" when the
// backend supplied no source metadata.
func (c ContextItem) Source() string {
	if s, ok := c.Metadata["source"]; ok && s != "" {
		return s
	}
	return "Unknown"
}

// Citation backs one retrieved document in a generated answer.
type Citation struct {
	DocID   string `json:"doc_id"`
	Snippet string `json:"snippet"`
}

// Decision is the escalation classifier's verdict for one question/answer
// exchange. Derived, never persisted by the engine.
type Decision struct {
	ShouldEscalate bool   `json:"should_escalate"`
	Reason         string `json:"reason"`
}

// IngestResult summarises one ingestion run.
type IngestResult struct {
	Status      string `json:"status"`
	Message     string `json:"message"`
	TotalChunks int64  `json:"total_chunk_count"`
	NewlyAdded  int    `json:"newly_added_count"`
	Skipped     bool   `json:"skipped"`
}

// StatusSuccess is the status carried by completed ingestion runs; failures
// are reported as errors, not statuses.
const StatusSuccess = "success"
