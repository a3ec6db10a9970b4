// Package pipeline is the composition root. It builds the encoder, embedder,
// vector index, tracker, ingestion runner, RAG orchestrator, and escalation
// classifier from one config, and exposes the two operations the outer
// surfaces call: Ask and Ingest.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/AdvisorAI/advisor-engine/engine/chunk"
	"github.com/AdvisorAI/advisor-engine/engine/domain"
	"github.com/AdvisorAI/advisor-engine/engine/embed"
	"github.com/AdvisorAI/advisor-engine/engine/escalate"
	"github.com/AdvisorAI/advisor-engine/engine/extract"
	"github.com/AdvisorAI/advisor-engine/engine/index"
	"github.com/AdvisorAI/advisor-engine/engine/ingest"
	"github.com/AdvisorAI/advisor-engine/engine/rag"
	"github.com/AdvisorAI/advisor-engine/engine/tracker"
	"github.com/AdvisorAI/advisor-engine/pkg/metrics"
	"github.com/AdvisorAI/advisor-engine/pkg/ollama"
	"github.com/AdvisorAI/advisor-engine/pkg/openrouter"
	"github.com/AdvisorAI/advisor-engine/pkg/resilience"
)

// Config is everything the engine needs, normally filled from environment
// variables in main.
type Config struct {
	// Backend selects the vector index: index.BackendSQLite or
	// index.BackendQdrant.
	Backend string

	SQLitePath       string
	QdrantAddr       string
	QdrantCollection string

	OllamaURL   string
	OllamaModel string
	EmbedDim    int

	OpenRouterKey   string
	OpenRouterModel string
	// ClassifierModel is the small model used for escalation checks. Empty
	// reuses OpenRouterModel.
	ClassifierModel string

	DocsDir        string
	StatePath      string
	ExtractSaveDir string

	TopK int
}

// Pipeline holds the assembled engine.
type Pipeline struct {
	orch       *rag.Orchestrator
	classifier *escalate.Classifier
	runner     *ingest.Runner
	idx        index.Index
	cfg        Config
	reg        *metrics.Registry
	logger     *slog.Logger

	askSeconds    *metrics.Histogram
	asksTotal     *metrics.Counter
	escalations   *metrics.Counter
	ingestSeconds *metrics.Histogram
}

// AskResult is an answer with its escalation verdict.
type AskResult struct {
	Answer    string            `json:"answer"`
	Citations []domain.Citation `json:"citations"`
	Decision  domain.Decision   `json:"escalation"`
}

// Status is a snapshot of the knowledge base.
type Status struct {
	Populated bool   `json:"is_populated"`
	Count     int64  `json:"count"`
	Backend   string `json:"vector_store_type"`
}

// New assembles the production pipeline from config.
func New(cfg Config, logger *slog.Logger) (*Pipeline, error) {
	if logger == nil {
		logger = slog.Default()
	}

	encoder := ollama.NewClient(cfg.OllamaURL, cfg.OllamaModel)
	embedder, err := embed.New(encoder, cfg.EmbedDim, logger)
	if err != nil {
		return nil, fmt.Errorf("pipeline: %w", err)
	}

	idx, err := buildIndex(cfg, logger)
	if err != nil {
		return nil, err
	}

	tr, err := tracker.Load(cfg.StatePath)
	if err != nil {
		idx.Close()
		return nil, fmt.Errorf("pipeline: %w", err)
	}

	chat, err := openrouter.NewClient(cfg.OpenRouterKey, openrouter.Options{Model: cfg.OpenRouterModel}, logger)
	if err != nil {
		idx.Close()
		return nil, fmt.Errorf("pipeline: %w", err)
	}

	classifierModel := cfg.ClassifierModel
	if classifierModel == "" {
		classifierModel = cfg.OpenRouterModel
	}
	classifierChat, err := openrouter.NewClient(cfg.OpenRouterKey, openrouter.Options{Model: classifierModel}, logger)
	if err != nil {
		idx.Close()
		return nil, fmt.Errorf("pipeline: %w", err)
	}

	var extractor extract.Extractor = extract.Multi{extract.NewPDF(cfg.ExtractSaveDir), extract.Text{}}

	reg := metrics.New()
	breaker := resilience.NewBreaker(resilience.DefaultBreakerOpts)

	return assemble(
		rag.New(embedder, idx, chat, rag.Options{TopK: cfg.TopK}, logger),
		escalate.New(classifierChat, breaker, escalate.Options{}, logger),
		ingest.NewRunner(chunk.New(), embedder, idx, tr, extractor, reg, logger),
		idx, cfg, reg, logger,
	), nil
}

// assemble wires pre-built components. Split from New so tests can inject
// fakes.
func assemble(orch *rag.Orchestrator, classifier *escalate.Classifier, runner *ingest.Runner, idx index.Index, cfg Config, reg *metrics.Registry, logger *slog.Logger) *Pipeline {
	return &Pipeline{
		orch:          orch,
		classifier:    classifier,
		runner:        runner,
		idx:           idx,
		cfg:           cfg,
		reg:           reg,
		logger:        logger,
		askSeconds:    reg.Histogram("ask_duration_seconds", "End-to-end ask latency.", nil),
		asksTotal:     reg.Counter("asks_total", "Questions answered."),
		escalations:   reg.Counter("escalations_total", "Answers flagged for human review."),
		ingestSeconds: reg.Histogram("ingest_duration_seconds", "Ingestion run latency.", nil),
	}
}

func buildIndex(cfg Config, logger *slog.Logger) (index.Index, error) {
	switch cfg.Backend {
	case index.BackendQdrant:
		idx, err := index.NewQdrant(cfg.QdrantAddr, cfg.QdrantCollection, cfg.EmbedDim, logger)
		if err != nil {
			return nil, fmt.Errorf("pipeline: %w", err)
		}
		return idx, nil
	case index.BackendSQLite, "":
		idx, err := index.NewSQLite(cfg.SQLitePath, logger)
		if err != nil {
			return nil, fmt.Errorf("pipeline: %w", err)
		}
		return idx, nil
	default:
		return nil, fmt.Errorf("pipeline: unknown index backend %q", cfg.Backend)
	}
}

// Ask answers one question and attaches an escalation verdict. Canned
// fallback answers (empty knowledge base, provider throttling) are reported
// as-is and never escalated; classifying them would only grade the fallback
// text.
func (p *Pipeline) Ask(ctx context.Context, question string, topK int) (*AskResult, error) {
	start := time.Now()
	defer p.askSeconds.Since(start)

	a, err := p.orch.Answer(ctx, question, topK)
	if err != nil {
		return nil, err
	}
	p.asksTotal.Inc()

	res := &AskResult{Answer: a.Text, Citations: a.Citations}
	if a.Degraded {
		return res, nil
	}

	res.Decision = p.classifier.Classify(ctx, question, a.Text, a.Retrieved)
	if res.Decision.ShouldEscalate {
		p.escalations.Inc()
	}
	return res, nil
}

// Ingest runs document ingestion over the configured (or given) directory.
func (p *Pipeline) Ingest(ctx context.Context, dir string, force bool) (domain.IngestResult, error) {
	if dir == "" {
		dir = p.cfg.DocsDir
	}
	start := time.Now()
	defer p.ingestSeconds.Since(start)
	return p.runner.Run(ctx, dir, force)
}

// Status reports knowledge-base population.
func (p *Pipeline) Status(ctx context.Context) Status {
	return Status{
		Populated: p.idx.IsPopulated(ctx),
		Count:     p.idx.Count(ctx),
		Backend:   p.backendName(),
	}
}

func (p *Pipeline) backendName() string {
	if p.cfg.Backend == "" {
		return index.BackendSQLite
	}
	return p.cfg.Backend
}

// Metrics exposes the registry for the /metrics endpoint.
func (p *Pipeline) Metrics() *metrics.Registry { return p.reg }

// Close releases the index backend.
func (p *Pipeline) Close() error { return p.idx.Close() }
