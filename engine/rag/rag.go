// Package rag orchestrates retrieval-augmented answering. It embeds the
// student's question, retrieves the most similar catalog chunks, builds a
// grounded prompt, and asks the chat model for the final answer with
// citations back to the source documents.
package rag

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/AdvisorAI/advisor-engine/engine/domain"
	"github.com/AdvisorAI/advisor-engine/engine/embed"
	"github.com/AdvisorAI/advisor-engine/engine/index"
	"github.com/AdvisorAI/advisor-engine/pkg/openrouter"
)

// Completer abstracts the chat model. pkg/openrouter satisfies it; tests use
// a fake.
type Completer interface {
	Complete(ctx context.Context, system, user string, maxTokens int, temperature float32) (string, error)
}

// Options configures answer generation.
type Options struct {
	TopK          int
	Temperature   float32
	MaxTokens     int
	SystemPrompt  string
	SearchTimeout time.Duration
}

// DefaultOptions returns the production defaults.
func DefaultOptions() Options {
	return Options{
		TopK:          5,
		Temperature:   0.3,
		MaxTokens:     1000,
		SystemPrompt:  advisorSystemPrompt,
		SearchTimeout: 5 * time.Second,
	}
}

const advisorSystemPrompt = `You are an AI Academic Advisor for SUNY (State University of New York).

Your role is to help students with:
- Course selection and planning
- Prerequisites and co-requisites
- Graduation requirements
- Major and minor requirements
- Academic policies and procedures

IMPORTANT RULES:
1. Use ONLY the retrieved context from the provided PDF documents
2. If information is not in the context, clearly state "I don't have that information in the available documents"
3. Always cite your sources by mentioning the document name
4. Be specific and provide detailed answers when information is available
5. If asked about overlapping requirements, analyze all relevant documents
6. Format your response clearly with bullet points or numbered lists when appropriate

Remember: You must base your answers strictly on the provided context.`

// Canned answers for the two paths that never reach or never hear back from
// the chat model.
const (
	emptyIndexAnswer = "The knowledge base is empty. Please initialize the system with academic PDFs first."

	throttledAnswer = "I'm currently being rate-limited by the AI provider (OpenRouter), " +
		"so I can't process new questions for a short time.\n\n" +
		"Please wait 30-60 seconds and then try your question again."
)

const snippetLen = 200

// Answer is the structured response for one question.
type Answer struct {
	Text      string            `json:"answer"`
	Citations []domain.Citation `json:"citations"`
	Retrieved int               `json:"retrieved"`
	// Degraded marks canned fallback text (empty knowledge base, provider
	// throttling) rather than a model-generated answer.
	Degraded bool `json:"-"`
}

// Orchestrator runs the retrieve-then-generate flow.
type Orchestrator struct {
	embedder *embed.Embedder
	idx      index.Index
	chat     Completer
	opts     Options
	logger   *slog.Logger
}

// New builds an orchestrator. Zero option fields take defaults.
func New(embedder *embed.Embedder, idx index.Index, chat Completer, opts Options, logger *slog.Logger) *Orchestrator {
	def := DefaultOptions()
	if opts.TopK <= 0 {
		opts.TopK = def.TopK
	}
	if opts.MaxTokens <= 0 {
		opts.MaxTokens = def.MaxTokens
	}
	if opts.SystemPrompt == "" {
		opts.SystemPrompt = def.SystemPrompt
	}
	if opts.SearchTimeout <= 0 {
		opts.SearchTimeout = def.SearchTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{embedder: embedder, idx: idx, chat: chat, opts: opts, logger: logger}
}

// Answer runs the full flow for one question. topK <= 0 falls back to the
// configured default.
func (o *Orchestrator) Answer(ctx context.Context, question string, topK int) (*Answer, error) {
	if err := domain.ValidateQuestion(question); err != nil {
		return nil, err
	}
	if topK <= 0 {
		topK = o.opts.TopK
	}
	o.logger.Info("rag answer start", "question_len", len(question), "top_k", topK)

	if !o.idx.IsPopulated(ctx) {
		o.logger.Warn("rag answer on empty index")
		return &Answer{Text: emptyIndexAnswer, Citations: []domain.Citation{}, Degraded: true}, nil
	}

	vector, err := o.embedder.EmbedOne(ctx, question)
	if err != nil {
		return nil, fmt.Errorf("rag: embed question: %w", err)
	}

	searchCtx, cancel := context.WithTimeout(ctx, o.opts.SearchTimeout)
	defer cancel()
	items, err := o.idx.Query(searchCtx, vector, topK)
	if err != nil {
		return nil, fmt.Errorf("rag: search: %w", err)
	}
	o.logger.Info("rag retrieval done", "results", len(items))

	citations := extractCitations(items)

	reply, err := o.chat.Complete(ctx, o.opts.SystemPrompt, buildUserPrompt(question, items), o.opts.MaxTokens, o.opts.Temperature)
	if errors.Is(err, openrouter.ErrRateLimited) {
		// Citations were already assembled from the retrieval; the student
		// still sees where an answer would have come from.
		return &Answer{Text: throttledAnswer, Citations: citations, Retrieved: len(items), Degraded: true}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("rag: completion: %w", err)
	}

	return &Answer{Text: reply, Citations: citations, Retrieved: len(items)}, nil
}

// buildUserPrompt assembles the grounded prompt: numbered document blocks
// followed by the question.
func buildUserPrompt(question string, items []domain.ContextItem) string {
	var b strings.Builder
	b.WriteString("Context from SUNY documents:\n")
	b.WriteString(buildContextBlock(items))
	b.WriteString("\n\nStudent Question: ")
	b.WriteString(question)
	b.WriteString("\n\nPlease provide a detailed answer based on the context above. Include specific citations.")
	return b.String()
}

func buildContextBlock(items []domain.ContextItem) string {
	parts := make([]string, len(items))
	for i, it := range items {
		parts[i] = fmt.Sprintf("[Document %d: %s]\n%s\n", i+1, it.Source(), it.Text)
	}
	return strings.Join(parts, "\n")
}

// extractCitations projects retrieved items into citations, one per item in
// retrieval order.
func extractCitations(items []domain.ContextItem) []domain.Citation {
	citations := make([]domain.Citation, len(items))
	for i, it := range items {
		citations[i] = domain.Citation{DocID: it.Source(), Snippet: snippet(it.Text) + "..."}
	}
	return citations
}

// snippet cuts text to snippetLen bytes, backing up to a rune boundary so a
// multi-byte character is never split.
func snippet(text string) string {
	if len(text) <= snippetLen {
		return text
	}
	cut := snippetLen
	for cut > 0 && !utf8.RuneStart(text[cut]) {
		cut--
	}
	return text[:cut]
}
