// Package index stores embedding records and answers nearest-neighbour
// queries. Two interchangeable backends satisfy the same contract: a managed
// Qdrant collection and a local SQLite file. Callers never branch on the
// active backend; each backend normalises its native response shape into
// domain.ContextItem.
package index

import (
	"context"

	"github.com/AdvisorAI/advisor-engine/engine/domain"
)

// Index is the backend-agnostic vector store contract.
//
// IsPopulated and Count are cheap pre-flight checks and never fail: on
// internal errors they log and report false / 0. Add appends records;
// writing an id that already exists is last-write-wins. Query returns at
// most topK items, most similar first; an empty index yields an empty
// result, not an error. Rebuild with force discards the whole collection
// and recreates it empty; without force it only ensures the collection
// exists, retaining its contents.
type Index interface {
	IsPopulated(ctx context.Context) bool
	Count(ctx context.Context) int64
	Add(ctx context.Context, records []domain.Record) error
	Query(ctx context.Context, vector []float32, topK int) ([]domain.ContextItem, error)
	Rebuild(ctx context.Context, force bool) error
	Close() error
}

// Backend names accepted by deployment configuration.
const (
	BackendQdrant = "qdrant"
	BackendSQLite = "sqlite"
)
