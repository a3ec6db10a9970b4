// Package ingest drives the document ingestion pipeline: enumerate sources,
// extract text, chunk, embed, and index, while tracking which sources are
// already done so repeated runs are cheap no-ops.
package ingest

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/AdvisorAI/advisor-engine/engine/chunk"
	"github.com/AdvisorAI/advisor-engine/engine/domain"
	"github.com/AdvisorAI/advisor-engine/engine/embed"
	"github.com/AdvisorAI/advisor-engine/engine/extract"
	"github.com/AdvisorAI/advisor-engine/engine/index"
	"github.com/AdvisorAI/advisor-engine/engine/tracker"
	"github.com/AdvisorAI/advisor-engine/pkg/fn"
	"github.com/AdvisorAI/advisor-engine/pkg/metrics"
)

// Runner wires the ingestion stages together.
type Runner struct {
	splitter  *chunk.Splitter
	embedder  *embed.Embedder
	idx       index.Index
	tracker   *tracker.Tracker
	extractor extract.Extractor
	logger    *slog.Logger

	sourcesDone *metrics.Counter
	chunksMade  *metrics.Counter
	chunksAdded *metrics.Counter
}

// NewRunner builds a runner. reg may be nil to skip metrics.
func NewRunner(splitter *chunk.Splitter, embedder *embed.Embedder, idx index.Index, tr *tracker.Tracker, ex extract.Extractor, reg *metrics.Registry, logger *slog.Logger) *Runner {
	if logger == nil {
		logger = slog.Default()
	}
	if reg == nil {
		reg = metrics.New()
	}
	return &Runner{
		splitter:    splitter,
		embedder:    embedder,
		idx:         idx,
		tracker:     tr,
		extractor:   ex,
		logger:      logger,
		sourcesDone: reg.Counter("ingest_sources_total", "Sources fully ingested."),
		chunksMade:  reg.Counter("ingest_chunks_total", "Chunks produced by the splitter."),
		chunksAdded: reg.Counter("ingest_records_total", "Records written to the index."),
	}
}

// source is the unit of work flowing through the per-document pipeline.
type source struct {
	id   string
	text string
}

// Run ingests every supported document under dir. Every run ensures the
// index storage exists first; forceRebuild additionally drops the index and
// the processed-source state, so everything is re-ingested. Extraction
// failures and empty documents skip that source only; an index write failure
// aborts the run.
func (r *Runner) Run(ctx context.Context, dir string, forceRebuild bool) (domain.IngestResult, error) {
	if forceRebuild {
		r.logger.Warn("force rebuild requested, dropping index and state")
	}
	if err := r.idx.Rebuild(ctx, forceRebuild); err != nil {
		return domain.IngestResult{}, fmt.Errorf("ingest: rebuild index: %w", err)
	}
	if forceRebuild {
		if err := r.tracker.Reset(); err != nil {
			return domain.IngestResult{}, fmt.Errorf("ingest: reset tracker: %w", err)
		}
	}

	paths, err := extract.ListSources(dir, r.extractor)
	if err != nil {
		return domain.IngestResult{}, fmt.Errorf("ingest: %w", err)
	}
	r.logger.Info("ingest run start", "dir", dir, "sources", len(paths), "force", forceRebuild)

	pipeline := r.buildPipeline()

	newly := 0
	processed := 0
	for _, path := range paths {
		id := extract.SourceID(path)
		if r.tracker.AlreadyProcessed(id) {
			r.logger.Debug("source already ingested, skipping", "source", id)
			continue
		}

		text, err := r.extractor.ExtractText(path)
		if err != nil {
			r.logger.Error("extraction failed, skipping source", "source", id, "err", err)
			continue
		}

		added, err := pipeline(ctx, source{id: id, text: text}).Unwrap()
		if err != nil {
			return domain.IngestResult{}, fmt.Errorf("ingest: source %s: %w", id, err)
		}
		if added == 0 {
			r.logger.Warn("source produced no chunks, skipping", "source", id)
			continue
		}

		if err := r.tracker.MarkProcessed(id); err != nil {
			return domain.IngestResult{}, fmt.Errorf("ingest: %w", err)
		}
		r.sourcesDone.Inc()
		newly += added
		processed++
		r.logger.Info("source ingested", "source", id, "chunks", added)
	}

	total := r.idx.Count(ctx)
	res := domain.IngestResult{
		Status:      domain.StatusSuccess,
		TotalChunks: total,
		NewlyAdded:  newly,
		Skipped:     processed == 0,
	}
	if processed == 0 {
		res.Message = "no new documents to ingest"
	} else {
		res.Message = fmt.Sprintf("ingested %d documents (%d chunks)", processed, newly)
	}
	r.logger.Info("ingest run done", "new_chunks", newly, "total_chunks", total, "skipped", res.Skipped)
	return res, nil
}

// buildPipeline composes chunk -> embed -> index as traced stages. The
// pipeline returns the number of records written for the source.
func (r *Runner) buildPipeline() fn.Stage[source, int] {
	chunkStage := fn.Traced("ingest.chunk", func(_ context.Context, in source) fn.Result[[]domain.Chunk] {
		chunks := r.splitter.Chunks(in.id, in.text)
		r.chunksMade.Add(int64(len(chunks)))
		return fn.Ok(chunks)
	})

	embedStage := fn.Traced("ingest.embed", func(ctx context.Context, chunks []domain.Chunk) fn.Result[[]domain.Record] {
		if len(chunks) == 0 {
			return fn.Ok([]domain.Record{})
		}
		texts := make([]string, len(chunks))
		for i, c := range chunks {
			texts[i] = c.Text
		}
		vectors, err := r.embedder.EmbedMany(ctx, texts)
		if err != nil {
			return fn.Err[[]domain.Record](err)
		}
		records := make([]domain.Record, len(chunks))
		for i, c := range chunks {
			records[i] = domain.NewRecord(c, vectors[i])
		}
		return fn.Ok(records)
	})

	addStage := fn.Traced("ingest.index", func(ctx context.Context, records []domain.Record) fn.Result[int] {
		if len(records) == 0 {
			return fn.Ok(0)
		}
		if err := r.idx.Add(ctx, records); err != nil {
			return fn.Err[int](err)
		}
		r.chunksAdded.Add(int64(len(records)))
		return fn.Ok(len(records))
	})

	return fn.Then(fn.Then(chunkStage, embedStage), addStage)
}
