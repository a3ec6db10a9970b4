// Package extract turns raw document files into plain text for the
// ingestion pipeline. Extraction failures on one source are non-fatal to an
// ingestion run; the runner logs and moves on.
package extract

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// Extractor supplies plain text for a single document file.
type Extractor interface {
	// ExtractText reads the document at path and returns its text content.
	ExtractText(path string) (string, error)
	// Supports reports whether this extractor handles the file.
	Supports(path string) bool
}

// ListSources enumerates candidate document files in dir, sorted by name so
// ingestion order is stable. Hidden files and subdirectories are skipped.
func ListSources(dir string, ex Extractor) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("extract: read dir %s: %w", dir, err)
	}
	var paths []string
	for _, e := range entries {
		if e.IsDir() || strings.HasPrefix(e.Name(), ".") {
			continue
		}
		p := filepath.Join(dir, e.Name())
		if ex.Supports(p) {
			paths = append(paths, p)
		}
	}
	sort.Strings(paths)
	return paths, nil
}

// SourceID is the identifier a file contributes to record ids and tracker
// state: its base name, stable across directories and machines.
func SourceID(path string) string {
	return filepath.Base(path)
}

// Multi dispatches to the first extractor that supports the file.
type Multi []Extractor

// Supports reports whether any member handles the file.
func (m Multi) Supports(path string) bool {
	for _, ex := range m {
		if ex.Supports(path) {
			return true
		}
	}
	return false
}

// ExtractText dispatches to the first member that supports the file.
func (m Multi) ExtractText(path string) (string, error) {
	for _, ex := range m {
		if ex.Supports(path) {
			return ex.ExtractText(path)
		}
	}
	return "", fmt.Errorf("extract: no extractor for %s", path)
}

// Default returns the standard extractor set: PDF plus plain text.
func Default() Multi {
	return Multi{NewPDF(""), Text{}}
}

// Text extracts .txt and .md files by reading them verbatim.
type Text struct{}

// Supports reports whether the file is plain text.
func (Text) Supports(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".txt", ".md":
		return true
	}
	return false
}

// ExtractText reads the whole file.
func (Text) ExtractText(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("extract: read %s: %w", path, err)
	}
	return string(data), nil
}
