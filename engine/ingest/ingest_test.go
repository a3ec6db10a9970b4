package ingest

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/AdvisorAI/advisor-engine/engine/chunk"
	"github.com/AdvisorAI/advisor-engine/engine/domain"
	"github.com/AdvisorAI/advisor-engine/engine/embed"
	"github.com/AdvisorAI/advisor-engine/engine/extract"
	"github.com/AdvisorAI/advisor-engine/engine/tracker"
)

// --- fakes ---

type fakeEncoder struct {
	dim   int
	calls int
}

func (f *fakeEncoder) EncodeBatch(_ context.Context, texts []string) ([][]float32, error) {
	f.calls++
	out := make([][]float32, len(texts))
	for i := range texts {
		v := make([]float32, f.dim)
		v[0] = float32(len(texts[i]))
		out[i] = v
	}
	return out, nil
}

type memIndex struct {
	records  map[string]domain.Record
	addErr   error
	rebuilds []bool
	// strict makes Add fail until Rebuild has run, like a backend whose
	// collection must be created before the first write.
	strict bool
}

func newMemIndex() *memIndex { return &memIndex{records: make(map[string]domain.Record)} }

func (m *memIndex) IsPopulated(context.Context) bool { return len(m.records) > 0 }
func (m *memIndex) Count(context.Context) int64      { return int64(len(m.records)) }
func (m *memIndex) Add(_ context.Context, recs []domain.Record) error {
	if m.addErr != nil {
		return m.addErr
	}
	if m.strict && len(m.rebuilds) == 0 {
		return errors.New("collection does not exist")
	}
	for _, r := range recs {
		m.records[r.ID] = r
	}
	return nil
}
func (m *memIndex) Query(context.Context, []float32, int) ([]domain.ContextItem, error) {
	return nil, nil
}
func (m *memIndex) Rebuild(_ context.Context, force bool) error {
	m.rebuilds = append(m.rebuilds, force)
	if force {
		m.records = make(map[string]domain.Record)
	}
	return nil
}
func (m *memIndex) Close() error { return nil }

// --- helpers ---

func docText(sentences int) string {
	var b strings.Builder
	for i := 0; i < sentences; i++ {
		fmt.Fprintf(&b, "Degree requirement number %03d applies to all majors. ", i)
	}
	return b.String()
}

func writeDoc(t *testing.T, dir, name, text string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, name), []byte(text), 0o644); err != nil {
		t.Fatal(err)
	}
}

type harness struct {
	runner *Runner
	idx    *memIndex
	tr     *tracker.Tracker
	enc    *fakeEncoder
	docs   string
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	enc := &fakeEncoder{dim: 4}
	embedder, err := embed.New(enc, 4, nil)
	if err != nil {
		t.Fatal(err)
	}
	tr, err := tracker.Load(filepath.Join(t.TempDir(), "state.json"))
	if err != nil {
		t.Fatal(err)
	}
	idx := newMemIndex()
	runner := NewRunner(chunk.New(), embedder, idx, tr, extract.Default(), nil, nil)
	return &harness{runner: runner, idx: idx, tr: tr, enc: enc, docs: t.TempDir()}
}

// --- tests ---

func TestRun_IngestsDocuments(t *testing.T) {
	h := newHarness(t)
	writeDoc(t, h.docs, "cs_catalog.txt", docText(60))
	writeDoc(t, h.docs, "handbook.txt", docText(40))

	res, err := h.runner.Run(context.Background(), h.docs, false)
	if err != nil {
		t.Fatal(err)
	}
	if res.Status != domain.StatusSuccess {
		t.Errorf("status = %q", res.Status)
	}
	if res.Skipped {
		t.Error("fresh run marked skipped")
	}
	if res.NewlyAdded == 0 || int64(res.NewlyAdded) != res.TotalChunks {
		t.Errorf("newly = %d, total = %d", res.NewlyAdded, res.TotalChunks)
	}
	if !h.tr.AlreadyProcessed("cs_catalog.txt") || !h.tr.AlreadyProcessed("handbook.txt") {
		t.Error("sources not marked processed")
	}
	for id, r := range h.idx.records {
		if r.Metadata["source"] == "" {
			t.Errorf("record %s missing source metadata", id)
		}
	}
}

func TestRun_SecondRunIsNoOp(t *testing.T) {
	h := newHarness(t)
	writeDoc(t, h.docs, "cs_catalog.txt", docText(60))

	if _, err := h.runner.Run(context.Background(), h.docs, false); err != nil {
		t.Fatal(err)
	}
	encodes := h.enc.calls

	res, err := h.runner.Run(context.Background(), h.docs, false)
	if err != nil {
		t.Fatal(err)
	}
	if !res.Skipped {
		t.Error("repeat run not marked skipped")
	}
	if res.NewlyAdded != 0 {
		t.Errorf("newly = %d", res.NewlyAdded)
	}
	if h.enc.calls != encodes {
		t.Error("repeat run re-embedded documents")
	}
}

func TestRun_PicksUpNewDocumentOnly(t *testing.T) {
	h := newHarness(t)
	writeDoc(t, h.docs, "cs_catalog.txt", docText(60))
	if _, err := h.runner.Run(context.Background(), h.docs, false); err != nil {
		t.Fatal(err)
	}
	before := h.idx.Count(context.Background())

	writeDoc(t, h.docs, "bio_catalog.txt", docText(30))
	res, err := h.runner.Run(context.Background(), h.docs, false)
	if err != nil {
		t.Fatal(err)
	}
	if res.Skipped || res.NewlyAdded == 0 {
		t.Errorf("res = %+v", res)
	}
	if res.TotalChunks != before+int64(res.NewlyAdded) {
		t.Errorf("total = %d, want %d", res.TotalChunks, before+int64(res.NewlyAdded))
	}
}

func TestRun_ForceRebuildReingestsEverything(t *testing.T) {
	h := newHarness(t)
	writeDoc(t, h.docs, "cs_catalog.txt", docText(60))
	if _, err := h.runner.Run(context.Background(), h.docs, false); err != nil {
		t.Fatal(err)
	}

	res, err := h.runner.Run(context.Background(), h.docs, true)
	if err != nil {
		t.Fatal(err)
	}
	if res.Skipped || res.NewlyAdded == 0 {
		t.Errorf("force rebuild skipped work: %+v", res)
	}
	if len(h.idx.rebuilds) != 2 || h.idx.rebuilds[0] || !h.idx.rebuilds[1] {
		t.Errorf("rebuilds = %v", h.idx.rebuilds)
	}
}

func TestRun_EnsuresStorageBeforeFirstWrite(t *testing.T) {
	h := newHarness(t)
	h.idx.strict = true
	writeDoc(t, h.docs, "cs_catalog.txt", docText(60))

	res, err := h.runner.Run(context.Background(), h.docs, false)
	if err != nil {
		t.Fatal(err)
	}
	if res.NewlyAdded == 0 {
		t.Error("fresh backend ingested nothing")
	}
	if len(h.idx.rebuilds) != 1 || h.idx.rebuilds[0] {
		t.Errorf("rebuilds = %v, want one non-force rebuild", h.idx.rebuilds)
	}
}

func TestRun_EmptyDocumentSkipped(t *testing.T) {
	h := newHarness(t)
	writeDoc(t, h.docs, "blank.txt", "   \n \n")
	writeDoc(t, h.docs, "cs_catalog.txt", docText(60))

	res, err := h.runner.Run(context.Background(), h.docs, false)
	if err != nil {
		t.Fatal(err)
	}
	if h.tr.AlreadyProcessed("blank.txt") {
		t.Error("empty source marked processed")
	}
	if !h.tr.AlreadyProcessed("cs_catalog.txt") {
		t.Error("good source not processed")
	}
	if res.NewlyAdded == 0 {
		t.Error("run produced nothing")
	}
}

func TestRun_UnreadableSourceSkipped(t *testing.T) {
	h := newHarness(t)
	// A .pdf that is not a PDF fails extraction and must not poison the run.
	writeDoc(t, h.docs, "broken.pdf", "not really a pdf")
	writeDoc(t, h.docs, "cs_catalog.txt", docText(60))

	res, err := h.runner.Run(context.Background(), h.docs, false)
	if err != nil {
		t.Fatal(err)
	}
	if h.tr.AlreadyProcessed("broken.pdf") {
		t.Error("broken source marked processed")
	}
	if res.NewlyAdded == 0 {
		t.Error("good source not ingested")
	}
}

func TestRun_IndexFailureAbortsWithoutMarking(t *testing.T) {
	h := newHarness(t)
	h.idx.addErr = errors.New("index down")
	writeDoc(t, h.docs, "cs_catalog.txt", docText(60))

	if _, err := h.runner.Run(context.Background(), h.docs, false); err == nil {
		t.Fatal("want error")
	}
	if h.tr.AlreadyProcessed("cs_catalog.txt") {
		t.Error("source marked processed despite index failure")
	}
}

func TestRun_MissingDirErrors(t *testing.T) {
	h := newHarness(t)
	if _, err := h.runner.Run(context.Background(), filepath.Join(h.docs, "nope"), false); err == nil {
		t.Fatal("want error")
	}
}
