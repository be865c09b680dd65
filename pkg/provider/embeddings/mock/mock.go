// Package mock provides a deterministic embeddings.Provider for tests.
package mock

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"math"

	"github.com/convoscope/convoscope/pkg/provider/embeddings"
)

// Ensure Provider implements the embeddings.Provider interface.
var _ embeddings.Provider = (*Provider)(nil)

// Provider produces deterministic unit-norm vectors derived from a hash of
// the input text. Equal texts always embed to equal vectors, so similarity
// assertions in tests are stable across runs.
type Provider struct {
	Dim   int
	Calls []string
}

// New returns a mock producing vectors of the given dimensionality.
func New(dim int) *Provider {
	return &Provider{Dim: dim}
}

// Embed implements embeddings.Provider.
func (p *Provider) Embed(ctx context.Context, text string) ([]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	p.Calls = append(p.Calls, text)
	return hashVector(text, p.Dim), nil
}

// EmbedBatch implements embeddings.Provider.
func (p *Provider) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		v, err := p.Embed(ctx, t)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

// Dimensions implements embeddings.Provider.
func (p *Provider) Dimensions() int { return p.Dim }

// ModelID implements embeddings.Provider.
func (p *Provider) ModelID() string { return "mock-embedding" }

// hashVector derives a unit-norm vector from successive SHA-256 rounds over
// the text.
func hashVector(text string, dim int) []float32 {
	v := make([]float32, dim)
	seed := sha256.Sum256([]byte(text))
	var norm float64
	for i := 0; i < dim; i++ {
		if i%4 == 0 && i > 0 {
			seed = sha256.Sum256(seed[:])
		}
		bits := binary.BigEndian.Uint32(seed[(i%4)*8 : (i%4)*8+4])
		// Map to [-1, 1).
		v[i] = float32(int32(bits)) / float32(math.MaxInt32)
		norm += float64(v[i]) * float64(v[i])
	}
	if norm > 0 {
		scale := float32(1 / math.Sqrt(norm))
		for i := range v {
			v[i] *= scale
		}
	}
	return v
}
