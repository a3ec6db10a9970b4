// Command ingest runs batch document ingestion from the command line:
// extract, chunk, embed, and index every supported file in a directory.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"

	"github.com/joho/godotenv"

	"github.com/AdvisorAI/advisor-engine/engine/chunk"
	"github.com/AdvisorAI/advisor-engine/engine/embed"
	"github.com/AdvisorAI/advisor-engine/engine/extract"
	"github.com/AdvisorAI/advisor-engine/engine/index"
	"github.com/AdvisorAI/advisor-engine/engine/ingest"
	"github.com/AdvisorAI/advisor-engine/engine/tracker"
	"github.com/AdvisorAI/advisor-engine/pkg/metrics"
	"github.com/AdvisorAI/advisor-engine/pkg/ollama"
)

func main() {
	godotenv.Load()

	var (
		dir         = flag.String("dir", "./data/docs", "directory of documents to ingest")
		force       = flag.Bool("force", false, "drop the index and re-ingest everything")
		backend     = flag.String("backend", "sqlite", "vector index backend: sqlite or qdrant")
		sqlitePath  = flag.String("sqlite", "./data/index.db", "sqlite index path")
		qdrantAddr  = flag.String("qdrant", "localhost:6334", "Qdrant gRPC address")
		collection  = flag.String("collection", "academic_documents", "Qdrant collection name")
		ollamaURL   = flag.String("ollama", "http://localhost:11434", "Ollama base URL")
		ollamaModel = flag.String("model", "nomic-embed-text", "Ollama embedding model")
		dims        = flag.Int("dims", 768, "embedding dimension")
		statePath   = flag.String("state", "./data/processed.json", "processed-sources state file")
		saveDir     = flag.String("save-extracted", "", "directory for extracted-text copies (optional)")
	)
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if err := run(ctx, runConfig{
		dir: *dir, force: *force, backend: *backend,
		sqlitePath: *sqlitePath, qdrantAddr: *qdrantAddr, collection: *collection,
		ollamaURL: *ollamaURL, ollamaModel: *ollamaModel, dims: *dims,
		statePath: *statePath, saveDir: *saveDir,
	}, logger); err != nil {
		logger.Error("ingest failed", "err", err)
		os.Exit(1)
	}
}

type runConfig struct {
	dir, backend                         string
	sqlitePath, qdrantAddr, collection   string
	ollamaURL, ollamaModel               string
	statePath, saveDir                   string
	dims                                 int
	force                                bool
}

func run(ctx context.Context, cfg runConfig, logger *slog.Logger) error {
	var (
		idx index.Index
		err error
	)
	switch cfg.backend {
	case index.BackendQdrant:
		idx, err = index.NewQdrant(cfg.qdrantAddr, cfg.collection, cfg.dims, logger)
	case index.BackendSQLite:
		idx, err = index.NewSQLite(cfg.sqlitePath, logger)
	default:
		return fmt.Errorf("unknown backend %q", cfg.backend)
	}
	if err != nil {
		return err
	}
	defer idx.Close()

	embedder, err := embed.New(ollama.NewClient(cfg.ollamaURL, cfg.ollamaModel), cfg.dims, logger)
	if err != nil {
		return err
	}

	tr, err := tracker.Load(cfg.statePath)
	if err != nil {
		return err
	}

	extractor := extract.Multi{extract.NewPDF(cfg.saveDir), extract.Text{}}
	runner := ingest.NewRunner(chunk.New(), embedder, idx, tr, extractor, metrics.New(), logger)

	res, err := runner.Run(ctx, cfg.dir, cfg.force)
	if err != nil {
		return err
	}

	logger.Info("ingest complete",
		"message", res.Message,
		"new_chunks", res.NewlyAdded,
		"total_chunks", res.TotalChunks,
		"skipped", res.Skipped,
	)
	return nil
}
