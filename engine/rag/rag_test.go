package rag

import (
	"context"
	"errors"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/AdvisorAI/advisor-engine/engine/domain"
	"github.com/AdvisorAI/advisor-engine/engine/embed"
	"github.com/AdvisorAI/advisor-engine/pkg/openrouter"
)

// --- fakes ---

type fakeEncoder struct{ dim int }

func (f *fakeEncoder) EncodeBatch(_ context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i := range texts {
		v := make([]float32, f.dim)
		v[0] = 1
		out[i] = v
	}
	return out, nil
}

type fakeIndex struct {
	populated bool
	items     []domain.ContextItem
	queryErr  error
	queried   bool
}

func (f *fakeIndex) IsPopulated(context.Context) bool { return f.populated }
func (f *fakeIndex) Count(context.Context) int64 {
	if f.populated {
		return int64(len(f.items))
	}
	return 0
}
func (f *fakeIndex) Add(context.Context, []domain.Record) error { return nil }
func (f *fakeIndex) Query(_ context.Context, _ []float32, topK int) ([]domain.ContextItem, error) {
	f.queried = true
	if f.queryErr != nil {
		return nil, f.queryErr
	}
	if topK < len(f.items) {
		return f.items[:topK], nil
	}
	return f.items, nil
}
func (f *fakeIndex) Rebuild(context.Context, bool) error { return nil }
func (f *fakeIndex) Close() error                        { return nil }

type fakeCompleter struct {
	reply      string
	err        error
	calls      int
	lastSystem string
	lastUser   string
}

func (f *fakeCompleter) Complete(_ context.Context, system, user string, _ int, _ float32) (string, error) {
	f.calls++
	f.lastSystem = system
	f.lastUser = user
	return f.reply, f.err
}

func newTestOrchestrator(t *testing.T, idx *fakeIndex, chat *fakeCompleter) *Orchestrator {
	t.Helper()
	embedder, err := embed.New(&fakeEncoder{dim: 3}, 3, nil)
	if err != nil {
		t.Fatal(err)
	}
	return New(embedder, idx, chat, Options{}, nil)
}

func item(source, text string) domain.ContextItem {
	return domain.ContextItem{Text: text, Metadata: map[string]string{"source": source}}
}

// --- tests ---

func TestAnswer_EmptyIndexSkipsModel(t *testing.T) {
	chat := &fakeCompleter{reply: "should not be used"}
	o := newTestOrchestrator(t, &fakeIndex{populated: false}, chat)

	a, err := o.Answer(context.Background(), "How many credits?", 5)
	if err != nil {
		t.Fatal(err)
	}
	if a.Text != emptyIndexAnswer {
		t.Errorf("text = %q", a.Text)
	}
	if len(a.Citations) != 0 {
		t.Errorf("citations = %d", len(a.Citations))
	}
	if chat.calls != 0 {
		t.Errorf("model called %d times on empty index", chat.calls)
	}
}

func TestAnswer_HappyPath(t *testing.T) {
	idx := &fakeIndex{populated: true, items: []domain.ContextItem{
		item("cs_catalog.pdf", "CS majors need 120 credits to graduate."),
		item("handbook.pdf", "Advising appointments open each March."),
	}}
	chat := &fakeCompleter{reply: "You need 120 credits [cs_catalog.pdf]."}
	o := newTestOrchestrator(t, idx, chat)

	a, err := o.Answer(context.Background(), "How many credits do CS majors need?", 5)
	if err != nil {
		t.Fatal(err)
	}
	if a.Text != "You need 120 credits [cs_catalog.pdf]." {
		t.Errorf("text = %q", a.Text)
	}
	if a.Retrieved != 2 {
		t.Errorf("retrieved = %d", a.Retrieved)
	}
	if len(a.Citations) != 2 {
		t.Fatalf("citations = %d", len(a.Citations))
	}
	if a.Citations[0].DocID != "cs_catalog.pdf" {
		t.Errorf("doc_id = %q", a.Citations[0].DocID)
	}
	if !strings.HasSuffix(a.Citations[0].Snippet, "...") {
		t.Errorf("snippet = %q", a.Citations[0].Snippet)
	}
}

func TestAnswer_PromptCarriesNumberedContext(t *testing.T) {
	idx := &fakeIndex{populated: true, items: []domain.ContextItem{
		item("cs_catalog.pdf", "CS majors need 120 credits."),
		item("handbook.pdf", "Labs are mandatory."),
	}}
	chat := &fakeCompleter{reply: "ok"}
	o := newTestOrchestrator(t, idx, chat)

	if _, err := o.Answer(context.Background(), "Credits?", 5); err != nil {
		t.Fatal(err)
	}
	for _, want := range []string{
		"[Document 1: cs_catalog.pdf]\nCS majors need 120 credits.",
		"[Document 2: handbook.pdf]\nLabs are mandatory.",
		"Student Question: Credits?",
	} {
		if !strings.Contains(chat.lastUser, want) {
			t.Errorf("prompt missing %q\nprompt: %s", want, chat.lastUser)
		}
	}
	if !strings.Contains(chat.lastSystem, "AI Academic Advisor") {
		t.Errorf("system prompt = %q", chat.lastSystem)
	}
}

func TestAnswer_UnknownSourceFallsBack(t *testing.T) {
	idx := &fakeIndex{populated: true, items: []domain.ContextItem{
		{Text: "orphan chunk", Metadata: map[string]string{}},
	}}
	chat := &fakeCompleter{reply: "ok"}
	o := newTestOrchestrator(t, idx, chat)

	a, err := o.Answer(context.Background(), "Credits?", 5)
	if err != nil {
		t.Fatal(err)
	}
	if a.Citations[0].DocID != "Unknown" {
		t.Errorf("doc_id = %q", a.Citations[0].DocID)
	}
	if !strings.Contains(chat.lastUser, "[Document 1: Unknown]") {
		t.Errorf("prompt: %s", chat.lastUser)
	}
}

func TestAnswer_SnippetTruncatedTo200(t *testing.T) {
	long := strings.Repeat("a", 500)
	idx := &fakeIndex{populated: true, items: []domain.ContextItem{item("doc.pdf", long)}}
	o := newTestOrchestrator(t, idx, &fakeCompleter{reply: "ok"})

	a, err := o.Answer(context.Background(), "Credits?", 5)
	if err != nil {
		t.Fatal(err)
	}
	if got := a.Citations[0].Snippet; got != strings.Repeat("a", 200)+"..." {
		t.Errorf("snippet len = %d", len(got))
	}
}

func TestAnswer_SnippetKeepsRunesIntact(t *testing.T) {
	// A three-byte rune straddles the 200-byte cut: 199 ASCII bytes, then
	// multi-byte text past the limit.
	long := strings.Repeat("a", 199) + strings.Repeat("日本語", 20)
	idx := &fakeIndex{populated: true, items: []domain.ContextItem{item("doc.pdf", long)}}
	o := newTestOrchestrator(t, idx, &fakeCompleter{reply: "ok"})

	a, err := o.Answer(context.Background(), "Credits?", 5)
	if err != nil {
		t.Fatal(err)
	}
	got := a.Citations[0].Snippet
	if !utf8.ValidString(got) {
		t.Fatalf("snippet is not valid UTF-8: %q", got)
	}
	if want := strings.Repeat("a", 199) + "..."; got != want {
		t.Errorf("snippet = %q, want cut at rune boundary", got)
	}
}

func TestAnswer_RateLimitedKeepsCitations(t *testing.T) {
	idx := &fakeIndex{populated: true, items: []domain.ContextItem{item("cs.pdf", "text")}}
	chat := &fakeCompleter{err: openrouter.ErrRateLimited}
	o := newTestOrchestrator(t, idx, chat)

	a, err := o.Answer(context.Background(), "Credits?", 5)
	if err != nil {
		t.Fatal(err)
	}
	if a.Text != throttledAnswer {
		t.Errorf("text = %q", a.Text)
	}
	if len(a.Citations) != 1 {
		t.Errorf("citations = %d", len(a.Citations))
	}
}

func TestAnswer_OtherCompletionErrorPropagates(t *testing.T) {
	idx := &fakeIndex{populated: true, items: []domain.ContextItem{item("cs.pdf", "text")}}
	boom := errors.New("upstream exploded")
	o := newTestOrchestrator(t, idx, &fakeCompleter{err: boom})

	if _, err := o.Answer(context.Background(), "Credits?", 5); !errors.Is(err, boom) {
		t.Fatalf("want wrapped upstream error, got %v", err)
	}
}

func TestAnswer_QueryErrorPropagates(t *testing.T) {
	idx := &fakeIndex{populated: true, queryErr: errors.New("index down")}
	o := newTestOrchestrator(t, idx, &fakeCompleter{})

	if _, err := o.Answer(context.Background(), "Credits?", 5); err == nil {
		t.Fatal("want error")
	}
}

func TestAnswer_RejectsBlankQuestion(t *testing.T) {
	o := newTestOrchestrator(t, &fakeIndex{populated: true}, &fakeCompleter{})
	if _, err := o.Answer(context.Background(), "   ", 5); !errors.Is(err, domain.ErrEmptyQuestion) {
		t.Fatalf("want ErrEmptyQuestion, got %v", err)
	}
}

func TestAnswer_TopKFallsBackToDefault(t *testing.T) {
	items := make([]domain.ContextItem, 8)
	for i := range items {
		items[i] = item("doc.pdf", "chunk")
	}
	idx := &fakeIndex{populated: true, items: items}
	o := newTestOrchestrator(t, idx, &fakeCompleter{reply: "ok"})

	a, err := o.Answer(context.Background(), "Credits?", 0)
	if err != nil {
		t.Fatal(err)
	}
	if a.Retrieved != DefaultOptions().TopK {
		t.Errorf("retrieved = %d, want default top_k", a.Retrieved)
	}
}
