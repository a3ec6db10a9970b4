// Package embed converts text into fixed-dimension vectors. It wraps a
// backend Encoder with the validation the rest of the pipeline depends on:
// stable dimension, order-preserving batches, and zero-vector fallbacks for
// degenerate input.
package embed

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/AdvisorAI/advisor-engine/engine/domain"
)

// Encoder is the backend that actually computes embeddings. Implementations
// must be deterministic: the same text yields the same vector whether it is
// encoded alone or inside a batch.
type Encoder interface {
	EncodeBatch(ctx context.Context, texts []string) ([][]float32, error)
}

// Embedder validates Encoder output against a fixed dimension.
type Embedder struct {
	enc    Encoder
	dim    int
	logger *slog.Logger
}

// New creates an Embedder with the given fixed dimension.
func New(enc Encoder, dim int, logger *slog.Logger) (*Embedder, error) {
	if dim <= 0 {
		return nil, fmt.Errorf("embed: dimension must be positive, got %d", dim)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Embedder{enc: enc, dim: dim, logger: logger}, nil
}

// Dimension returns the fixed vector length.
func (e *Embedder) Dimension() int { return e.dim }

// Zero returns a fresh all-zero vector of the configured dimension.
func (e *Embedder) Zero() []float32 { return make([]float32, e.dim) }

// EmbedOne embeds a single text. Blank input returns an all-zero vector
// without calling the backend, so downstream storage stays well-formed even
// for degenerate chunks.
func (e *Embedder) EmbedOne(ctx context.Context, text string) ([]float32, error) {
	if strings.TrimSpace(text) == "" {
		e.logger.Warn("embed: blank text, returning zero vector")
		return e.Zero(), nil
	}
	vecs, err := e.enc.EncodeBatch(ctx, []string{text})
	if err != nil {
		return nil, fmt.Errorf("embed: encode: %w", err)
	}
	if len(vecs) != 1 {
		return nil, fmt.Errorf("embed: got %d vectors for one text", len(vecs))
	}
	if err := e.checkDim(vecs[0]); err != nil {
		return nil, err
	}
	return vecs[0], nil
}

// EmbedMany embeds a batch. Blank entries are filtered out before the
// backend call and replaced by zero vectors at their original positions, so
// the result always has exactly the same length and order as the input.
func (e *Embedder) EmbedMany(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	valid := make([]string, 0, len(texts))
	validAt := make([]int, 0, len(texts))
	for i, t := range texts {
		if strings.TrimSpace(t) != "" {
			valid = append(valid, t)
			validAt = append(validAt, i)
		}
	}

	out := make([][]float32, len(texts))
	for i := range out {
		out[i] = e.Zero()
	}
	if len(valid) == 0 {
		e.logger.Warn("embed: batch contained no non-blank texts", "size", len(texts))
		return out, nil
	}

	vecs, err := e.enc.EncodeBatch(ctx, valid)
	if err != nil {
		return nil, fmt.Errorf("embed: encode batch of %d: %w", len(valid), err)
	}
	if len(vecs) != len(valid) {
		return nil, fmt.Errorf("embed: got %d vectors for %d texts", len(vecs), len(valid))
	}
	for i, v := range vecs {
		if err := e.checkDim(v); err != nil {
			return nil, fmt.Errorf("embed: batch item %d: %w", i, err)
		}
		out[validAt[i]] = v
	}
	return out, nil
}

func (e *Embedder) checkDim(v []float32) error {
	if len(v) != e.dim {
		return fmt.Errorf("embed: got %d values, want %d: %w",
			len(v), e.dim, domain.ErrDimensionMismatch)
	}
	return nil
}
