// Package main implements the academic guidance API server.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"sync"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/nats-io/nats.go"

	"github.com/AdvisorAI/advisor-engine/engine/domain"
	"github.com/AdvisorAI/advisor-engine/engine/pipeline"
	"github.com/AdvisorAI/advisor-engine/pkg/mid"
	"github.com/AdvisorAI/advisor-engine/pkg/natsutil"
)

// NATS subjects for ingestion triggered from other services.
const (
	subjectIngestRequest = "guidance.ingest.request"
	subjectIngestResult  = "guidance.ingest.result"
)

// Config holds all environment-based configuration.
type Config struct {
	Port       string
	CORSOrigin string
	NATSURL    string

	Engine pipeline.Config
}

func loadConfig() Config {
	return Config{
		Port:       envOr("PORT", "8000"),
		CORSOrigin: envOr("CORS_ORIGIN", "*"),
		NATSURL:    envOr("NATS_URL", ""),
		Engine: pipeline.Config{
			Backend:          envOr("VECTOR_BACKEND", "sqlite"),
			SQLitePath:       envOr("SQLITE_PATH", "./data/index.db"),
			QdrantAddr:       envOr("QDRANT_ADDR", "localhost:6334"),
			QdrantCollection: envOr("QDRANT_COLLECTION", "academic_documents"),
			OllamaURL:        envOr("OLLAMA_URL", "http://localhost:11434"),
			OllamaModel:      envOr("OLLAMA_MODEL", "nomic-embed-text"),
			EmbedDim:         envIntOr("EMBED_DIM", 768),
			OpenRouterKey:    os.Getenv("OPENROUTER_API_KEY"),
			OpenRouterModel:  envOr("OPENROUTER_MODEL", "google/gemini-2.5-flash"),
			ClassifierModel:  envOr("ESCALATION_MODEL", "google/gemma-3-4b-it"),
			DocsDir:          envOr("DOCS_DIR", "./data/docs"),
			StatePath:        envOr("INGEST_STATE_PATH", "./data/processed.json"),
			ExtractSaveDir:   os.Getenv("EXTRACTED_TEXT_DIR"),
			TopK:             envIntOr("TOP_K", 5),
		},
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envIntOr(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func main() {
	godotenv.Load()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	cfg := loadConfig()
	if err := run(cfg, logger); err != nil {
		logger.Error("server exited with error", "err", err)
		os.Exit(1)
	}
}

func run(cfg Config, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	engine, err := pipeline.New(cfg.Engine, logger)
	if err != nil {
		return err
	}
	defer engine.Close()

	// One ingestion at a time, whether triggered over HTTP or NATS.
	var ingestMu sync.Mutex
	runIngest := func(ctx context.Context, dir string, force bool) (domain.IngestResult, error) {
		ingestMu.Lock()
		defer ingestMu.Unlock()
		return engine.Ingest(ctx, dir, force)
	}

	if cfg.NATSURL != "" {
		nc, err := natsutil.Connect(cfg.NATSURL, "advisor-api")
		if err != nil {
			return err
		}
		defer nc.Drain()
		if err := subscribeIngest(nc, runIngest, logger); err != nil {
			return err
		}
		logger.Info("listening for ingest requests", "subject", subjectIngestRequest)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/health", handleHealth(engine))
	mux.HandleFunc("GET /api/status", handleStatus(engine))
	mux.HandleFunc("POST /api/ask", handleAsk(engine, logger))
	mux.HandleFunc("POST /api/ingest", handleIngest(runIngest, logger))
	mux.Handle("GET /metrics", engine.Metrics().Handler())

	handler := mid.Chain(mux,
		mid.Recover(logger),
		mid.Logger(logger),
		mid.CORS(cfg.CORSOrigin),
		mid.OTel("advisor-api"),
	)

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 120 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("api server starting", "port", cfg.Port, "backend", cfg.Engine.Backend)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	}

	shutCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutCtx)
}

// --- NATS ingestion trigger ---

// IngestRequest is the payload for POST /api/ingest and for messages on
// guidance.ingest.request. An empty SourceDir uses the configured docs dir.
type IngestRequest struct {
	SourceDir    string `json:"source_dir,omitempty"`
	ForceRebuild bool   `json:"force_rebuild,omitempty"`
}

// IngestOutcome is published on guidance.ingest.result after each triggered run.
type IngestOutcome struct {
	domain.IngestResult
	Error string `json:"error,omitempty"`
}

type ingestFunc func(context.Context, string, bool) (domain.IngestResult, error)

func subscribeIngest(nc *nats.Conn, runIngest ingestFunc, logger *slog.Logger) error {
	_, err := natsutil.Subscribe(nc, subjectIngestRequest, func(ctx context.Context, req IngestRequest) {
		logger.Info("ingest request received", "dir", req.SourceDir, "force", req.ForceRebuild)
		res, err := runIngest(ctx, req.SourceDir, req.ForceRebuild)
		out := IngestOutcome{IngestResult: res}
		if err != nil {
			logger.Error("triggered ingest failed", "err", err)
			out.Error = err.Error()
		}
		if err := natsutil.Publish(ctx, nc, subjectIngestResult, out); err != nil {
			logger.Error("publish ingest result failed", "err", err)
		}
	})
	return err
}

// --- Handlers ---

func handleHealth(engine *pipeline.Pipeline) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{
			"status":       "healthy",
			"vector_store": engine.Status(r.Context()).Backend,
		})
	}
}

func handleStatus(engine *pipeline.Pipeline) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, engine.Status(r.Context()))
	}
}

// AskRequest is the JSON body for POST /api/ask. StudentID is accepted for
// the chat layer's bookkeeping and logged; the engine does not persist it.
type AskRequest struct {
	Question  string `json:"question"`
	TopK      int    `json:"top_k,omitempty"`
	StudentID string `json:"student_id,omitempty"`
}

func handleAsk(engine *pipeline.Pipeline, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req AskRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		if req.StudentID != "" {
			logger.Info("ask request", "student_id", req.StudentID)
		}

		res, err := engine.Ask(r.Context(), req.Question, req.TopK)
		if err != nil {
			if errors.Is(err, domain.ErrEmptyQuestion) {
				writeError(w, http.StatusBadRequest, "question is required")
				return
			}
			logger.Error("ask failed", "err", err)
			writeError(w, http.StatusInternalServerError, "internal server error")
			return
		}
		writeJSON(w, http.StatusOK, res)
	}
}

func handleIngest(runIngest ingestFunc, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req IngestRequest
		if r.ContentLength != 0 {
			if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
				writeError(w, http.StatusBadRequest, "invalid request body")
				return
			}
		}

		res, err := runIngest(r.Context(), req.SourceDir, req.ForceRebuild)
		if err != nil {
			logger.Error("ingest failed", "err", err)
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, res)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
