package index

import (
	"context"
	"database/sql"
	"encoding/binary"
	"fmt"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"sort"

	_ "modernc.org/sqlite" // SQLite driver

	"github.com/AdvisorAI/advisor-engine/engine/domain"
)

// SQLite is the local persistent backend: one file, one table, brute-force
// cosine similarity. Suitable for single-node deployments and tests.
type SQLite struct {
	db     *sql.DB
	path   string
	logger *slog.Logger
}

// NewSQLite opens (or creates) the index database at path. WAL mode keeps
// reads consistent while an ingestion run is writing.
func NewSQLite(path string, logger *slog.Logger) (*SQLite, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("index: create data dir: %w", err)
	}
	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("index: open sqlite %s: %w", path, err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	s := &SQLite{db: db, path: path, logger: logger}
	if err := s.Rebuild(context.Background(), false); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS records (
	id          TEXT PRIMARY KEY,
	text        TEXT NOT NULL,
	source      TEXT NOT NULL,
	chunk_index INTEGER NOT NULL,
	chunk_size  INTEGER NOT NULL,
	vector      BLOB NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_records_source ON records(source);
`

// Close closes the database.
func (s *SQLite) Close() error { return s.db.Close() }

// Path returns the database file path.
func (s *SQLite) Path() string { return s.path }

// Count returns the number of stored records, or 0 on failure.
func (s *SQLite) Count(ctx context.Context) int64 {
	var n int64
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM records`).Scan(&n); err != nil {
		s.logger.Error("index: sqlite count failed", "path", s.path, "err", err)
		return 0
	}
	return n
}

// IsPopulated reports whether any records are stored.
func (s *SQLite) IsPopulated(ctx context.Context) bool {
	return s.Count(ctx) > 0
}

// Rebuild recreates the records table. With force the existing rows are
// dropped atomically before the empty table is created.
func (s *SQLite) Rebuild(ctx context.Context, force bool) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("index: begin rebuild: %w", err)
	}
	defer tx.Rollback()

	if force {
		if _, err := tx.ExecContext(ctx, `DROP TABLE IF EXISTS records`); err != nil {
			return fmt.Errorf("index: drop records: %w", err)
		}
	}
	if _, err := tx.ExecContext(ctx, sqliteSchema); err != nil {
		return fmt.Errorf("index: create schema: %w", err)
	}
	return tx.Commit()
}

// Add writes records in one transaction. Duplicate ids are overwritten
// (last-write-wins) without disturbing other rows.
func (s *SQLite) Add(ctx context.Context, records []domain.Record) error {
	if len(records) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("index: begin add: %w: %w", domain.ErrIndexUnavailable, err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx,
		`INSERT OR REPLACE INTO records (id, text, source, chunk_index, chunk_size, vector)
		 VALUES (?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("index: prepare add: %w", err)
	}
	defer stmt.Close()

	for _, r := range records {
		source, _ := r.Metadata["source"].(string)
		chunkIndex := metaInt(r.Metadata, "chunk_index")
		chunkSize := metaInt(r.Metadata, "chunk_size")
		if _, err := stmt.ExecContext(ctx, r.ID, r.Text, source, chunkIndex, chunkSize, vectorToBlob(r.Vector)); err != nil {
			return fmt.Errorf("index: insert record %s: %w: %w", r.ID, domain.ErrIndexUnavailable, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("index: commit add: %w: %w", domain.ErrIndexUnavailable, err)
	}
	return nil
}

// Query scans all rows and ranks them by cosine similarity, most similar
// first; ties break on record id so results are deterministic.
func (s *SQLite) Query(ctx context.Context, vector []float32, topK int) ([]domain.ContextItem, error) {
	if topK <= 0 {
		return nil, nil
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, text, source, chunk_index, chunk_size, vector FROM records`)
	if err != nil {
		return nil, fmt.Errorf("index: query records: %w", err)
	}
	defer rows.Close()

	type scored struct {
		item  domain.ContextItem
		id    string
		score float64
	}
	var hits []scored
	for rows.Next() {
		var (
			id, text, source       string
			chunkIndex, chunkSize  int
			blob                   []byte
		)
		if err := rows.Scan(&id, &text, &source, &chunkIndex, &chunkSize, &blob); err != nil {
			return nil, fmt.Errorf("index: scan record: %w", err)
		}
		hits = append(hits, scored{
			id:    id,
			score: cosine(vector, blobToVector(blob)),
			item: domain.ContextItem{
				Text: text,
				Metadata: map[string]string{
					"source":      source,
					"chunk_index": fmt.Sprintf("%d", chunkIndex),
					"chunk_size":  fmt.Sprintf("%d", chunkSize),
					"record_id":   id,
				},
			},
		})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("index: iterate records: %w", err)
	}

	sort.Slice(hits, func(i, j int) bool {
		if hits[i].score != hits[j].score {
			return hits[i].score > hits[j].score
		}
		return hits[i].id < hits[j].id
	})
	if topK > len(hits) {
		topK = len(hits)
	}
	items := make([]domain.ContextItem, topK)
	for i := 0; i < topK; i++ {
		items[i] = hits[i].item
	}
	return items, nil
}

func metaInt(m map[string]any, key string) int {
	switch v := m[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	default:
		return 0
	}
}

// vectorToBlob encodes a vector as little-endian float32 bits.
func vectorToBlob(v []float32) []byte {
	buf := make([]byte, len(v)*4)
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}

func blobToVector(b []byte) []float32 {
	v := make([]float32, len(b)/4)
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
	}
	return v
}

func cosine(a, b []float32) float64 {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	var dot, na, nb float64
	for i := 0; i < n; i++ {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
