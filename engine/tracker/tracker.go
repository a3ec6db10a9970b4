// Package tracker maintains the durable set of source identifiers that have
// already been chunked, embedded, and indexed. It is what makes re-running
// ingestion a no-op unless a rebuild is forced.
package tracker

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
)

// Tracker is a mutex-guarded set persisted as a JSON array of source ids.
// Every mutation is written through to disk before returning, so a crash
// can lose at most work that was never marked.
type Tracker struct {
	mu   sync.Mutex
	path string
	seen map[string]bool
}

// Load opens the state file at path, creating an empty tracker when the
// file does not exist yet. A corrupt or unreadable file is an error rather
// than silently treated as empty, since that would re-ingest everything.
func Load(path string) (*Tracker, error) {
	t := &Tracker{path: path, seen: make(map[string]bool)}

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return t, nil
	}
	if err != nil {
		return nil, fmt.Errorf("tracker: read %s: %w", path, err)
	}

	var ids []string
	if err := json.Unmarshal(data, &ids); err != nil {
		return nil, fmt.Errorf("tracker: parse %s: %w", path, err)
	}
	for _, id := range ids {
		t.seen[id] = true
	}
	return t, nil
}

// AlreadyProcessed reports whether the source was fully ingested before.
func (t *Tracker) AlreadyProcessed(sourceID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.seen[sourceID]
}

// MarkProcessed records a source as fully ingested and persists the set.
// Call it only after the source's records are durably written to the index.
func (t *Tracker) MarkProcessed(sourceID string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.seen[sourceID] = true
	return t.save()
}

// Reset clears the set, both in memory and on disk. Used by forced rebuilds.
func (t *Tracker) Reset() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.seen = make(map[string]bool)
	return t.save()
}

// Len returns the number of processed sources.
func (t *Tracker) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.seen)
}

// save writes the sorted id list atomically: temp file then rename, so a
// crash mid-write never leaves a torn state file. Must hold mu.
func (t *Tracker) save() error {
	ids := make([]string, 0, len(t.seen))
	for id := range t.seen {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	data, err := json.MarshalIndent(ids, "", "  ")
	if err != nil {
		return fmt.Errorf("tracker: marshal: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(t.path), 0o755); err != nil {
		return fmt.Errorf("tracker: create state dir: %w", err)
	}
	tmp := t.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("tracker: write %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, t.path); err != nil {
		return fmt.Errorf("tracker: rename %s: %w", tmp, err)
	}
	return nil
}
