package extract

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/ledongthuc/pdf"
)

// PDF extracts text from PDF documents page by page. When saveDir is set,
// the extracted text is also written alongside as <name>_extracted.txt so
// operators can inspect what the pipeline actually saw.
type PDF struct {
	saveDir string
}

// NewPDF returns a PDF extractor. saveDir may be empty to disable the
// extracted-text copies.
func NewPDF(saveDir string) *PDF {
	return &PDF{saveDir: saveDir}
}

// Supports reports whether the file is a PDF.
func (p *PDF) Supports(path string) bool {
	return strings.EqualFold(filepath.Ext(path), ".pdf")
}

// ExtractText concatenates the plain text of every page. Pages that fail to
// decode are skipped; the document fails only when it cannot be opened at
// all or yields no text.
func (p *PDF) ExtractText(path string) (string, error) {
	f, r, err := pdf.Open(path)
	if err != nil {
		return "", fmt.Errorf("extract: open pdf %s: %w", path, err)
	}
	defer f.Close()

	var b strings.Builder
	for i := 1; i <= r.NumPage(); i++ {
		page := r.Page(i)
		if page.V.IsNull() {
			continue
		}
		text, err := page.GetPlainText(nil)
		if err != nil {
			continue
		}
		b.WriteString(text)
		b.WriteString("\n\n")
	}

	out := strings.TrimSpace(b.String())
	if out == "" {
		return "", fmt.Errorf("extract: pdf %s contains no extractable text", path)
	}

	if p.saveDir != "" {
		if err := p.saveExtracted(path, out); err != nil {
			return "", err
		}
	}
	return out, nil
}

func (p *PDF) saveExtracted(src, text string) error {
	if err := os.MkdirAll(p.saveDir, 0o755); err != nil {
		return fmt.Errorf("extract: create save dir: %w", err)
	}
	name := strings.TrimSuffix(filepath.Base(src), filepath.Ext(src)) + "_extracted.txt"
	dst := filepath.Join(p.saveDir, name)
	if err := os.WriteFile(dst, []byte(text), 0o644); err != nil {
		return fmt.Errorf("extract: save extracted text: %w", err)
	}
	return nil
}
