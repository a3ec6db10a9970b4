package index

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/AdvisorAI/advisor-engine/engine/domain"
)

func newTestSQLite(t *testing.T) *SQLite {
	t.Helper()
	s, err := NewSQLite(filepath.Join(t.TempDir(), "index.db"), nil)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func rec(source string, i int, text string, vector []float32) domain.Record {
	return domain.NewRecord(domain.Chunk{
		Text: text, SourceID: source, Index: i, CharLen: len(text),
	}, vector)
}

func TestSQLite_EmptyIndex(t *testing.T) {
	s := newTestSQLite(t)
	ctx := context.Background()

	if s.IsPopulated(ctx) {
		t.Error("fresh index reports populated")
	}
	if n := s.Count(ctx); n != 0 {
		t.Errorf("count = %d", n)
	}
	items, err := s.Query(ctx, []float32{1, 0}, 5)
	if err != nil {
		t.Fatalf("query on empty index: %v", err)
	}
	if len(items) != 0 {
		t.Errorf("items = %d", len(items))
	}
}

func TestSQLite_AddAndQuery(t *testing.T) {
	s := newTestSQLite(t)
	ctx := context.Background()

	records := []domain.Record{
		rec("cs.pdf", 0, "CS majors need 120 credits", []float32{1, 0, 0}),
		rec("cs.pdf", 1, "Electives begin junior year", []float32{0, 1, 0}),
		rec("bio.pdf", 0, "Biology requires two labs", []float32{0, 0, 1}),
	}
	if err := s.Add(ctx, records); err != nil {
		t.Fatal(err)
	}
	if n := s.Count(ctx); n != 3 {
		t.Fatalf("count = %d", n)
	}
	if !s.IsPopulated(ctx) {
		t.Error("populated index reports empty")
	}

	items, err := s.Query(ctx, []float32{0.9, 0.1, 0}, 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(items) != 2 {
		t.Fatalf("items = %d", len(items))
	}
	if items[0].Text != "CS majors need 120 credits" {
		t.Errorf("top hit: %q", items[0].Text)
	}
	if items[0].Source() != "cs.pdf" {
		t.Errorf("top source: %q", items[0].Source())
	}
	if items[0].Metadata["chunk_index"] != "0" {
		t.Errorf("chunk_index: %q", items[0].Metadata["chunk_index"])
	}
}

func TestSQLite_QueryEachChunkFindsItself(t *testing.T) {
	s := newTestSQLite(t)
	ctx := context.Background()

	vectors := [][]float32{
		{1, 0, 0}, {0, 1, 0}, {0, 0, 1}, {0.7, 0.7, 0},
	}
	var records []domain.Record
	for i, v := range vectors {
		records = append(records, rec("catalog.pdf", i, "chunk text", v))
	}
	if err := s.Add(ctx, records); err != nil {
		t.Fatal(err)
	}

	for i, v := range vectors {
		items, err := s.Query(ctx, v, 1)
		if err != nil {
			t.Fatal(err)
		}
		if len(items) != 1 {
			t.Fatalf("chunk %d: %d items", i, len(items))
		}
		want := domain.RecordID("catalog.pdf", i)
		if got := items[0].Metadata["record_id"]; got != want {
			t.Errorf("chunk %d: top hit %q, want %q", i, got, want)
		}
	}
}

func TestSQLite_DuplicateIDLastWriteWins(t *testing.T) {
	s := newTestSQLite(t)
	ctx := context.Background()

	first := rec("cs.pdf", 0, "old text", []float32{1, 0})
	if err := s.Add(ctx, []domain.Record{first}); err != nil {
		t.Fatal(err)
	}
	second := rec("cs.pdf", 0, "new text", []float32{1, 0})
	if err := s.Add(ctx, []domain.Record{second}); err != nil {
		t.Fatal(err)
	}

	if n := s.Count(ctx); n != 1 {
		t.Fatalf("count = %d, want 1", n)
	}
	items, err := s.Query(ctx, []float32{1, 0}, 1)
	if err != nil {
		t.Fatal(err)
	}
	if items[0].Text != "new text" {
		t.Errorf("text = %q", items[0].Text)
	}
}

func TestSQLite_RebuildForceClears(t *testing.T) {
	s := newTestSQLite(t)
	ctx := context.Background()

	if err := s.Add(ctx, []domain.Record{rec("cs.pdf", 0, "x", []float32{1})}); err != nil {
		t.Fatal(err)
	}
	if err := s.Rebuild(ctx, false); err != nil {
		t.Fatal(err)
	}
	if n := s.Count(ctx); n != 1 {
		t.Fatalf("non-force rebuild dropped records: count = %d", n)
	}

	if err := s.Rebuild(ctx, true); err != nil {
		t.Fatal(err)
	}
	if n := s.Count(ctx); n != 0 {
		t.Fatalf("force rebuild kept records: count = %d", n)
	}
}

func TestSQLite_PersistsAcrossReopen(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "index.db")
	ctx := context.Background()

	s, err := NewSQLite(path, nil)
	if err != nil {
		t.Fatal(err)
	}
	if err := s.Add(ctx, []domain.Record{rec("cs.pdf", 0, "persisted", []float32{1, 2})}); err != nil {
		t.Fatal(err)
	}
	if err := s.Close(); err != nil {
		t.Fatal(err)
	}

	s2, err := NewSQLite(path, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer s2.Close()
	if n := s2.Count(ctx); n != 1 {
		t.Fatalf("count after reopen = %d", n)
	}
}

func TestVectorBlobRoundTrip(t *testing.T) {
	in := []float32{0, 1.5, -2.25, 3.14159}
	out := blobToVector(vectorToBlob(in))
	if len(out) != len(in) {
		t.Fatalf("len = %d", len(out))
	}
	for i := range in {
		if in[i] != out[i] {
			t.Errorf("component %d: %f != %f", i, in[i], out[i])
		}
	}
}

func TestCosine(t *testing.T) {
	if got := cosine([]float32{1, 0}, []float32{1, 0}); got < 0.999 {
		t.Errorf("identical vectors: %f", got)
	}
	if got := cosine([]float32{1, 0}, []float32{0, 1}); got != 0 {
		t.Errorf("orthogonal vectors: %f", got)
	}
	if got := cosine([]float32{0, 0}, []float32{1, 1}); got != 0 {
		t.Errorf("zero vector: %f", got)
	}
}
