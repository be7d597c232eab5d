package match

import (
	"context"
	"math"
	"sync"

	"github.com/tmc/langchaingo/embeddings"
)

// EmbeddingMatcher implements SemanticMatcher over a langchaingo embedder.
// Candidate vectors are computed lazily on first use and cached per distinct
// candidate string, so repeated matches against the same column pool embed
// each column once.
type EmbeddingMatcher struct {
	embedder embeddings.Embedder

	mu    sync.Mutex
	cache map[string][]float32
}

func NewEmbeddingMatcher(embedder embeddings.Embedder) *EmbeddingMatcher {
	return &EmbeddingMatcher{
		embedder: embedder,
		cache:    make(map[string][]float32),
	}
}

// Match embeds the text and every uncached candidate, then returns the
// candidate with the highest cosine similarity.
func (e *EmbeddingMatcher) Match(ctx context.Context, text string, candidates []string) (string, float64, error) {
	if len(candidates) == 0 {
		return "", 0, nil
	}
	vecs, err := e.vectors(ctx, append([]string{text}, candidates...))
	if err != nil {
		return "", 0, err
	}
	query := vecs[0]
	bestSim := math.Inf(-1)
	bestCol := ""
	for i, col := range candidates {
		sim := cosine(query, vecs[i+1])
		if sim > bestSim {
			bestSim = sim
			bestCol = col
		}
	}
	return bestCol, bestSim, nil
}

// vectors returns one vector per input text, consulting the cache and
// embedding only the misses in a single call.
func (e *EmbeddingMatcher) vectors(ctx context.Context, texts []string) ([][]float32, error) {
	e.mu.Lock()
	var misses []string
	for _, t := range texts {
		if _, ok := e.cache[t]; !ok {
			misses = append(misses, t)
		}
	}
	e.mu.Unlock()

	if len(misses) > 0 {
		embedded, err := e.embedder.EmbedDocuments(ctx, misses)
		if err != nil {
			return nil, err
		}
		e.mu.Lock()
		for i, t := range misses {
			if i < len(embedded) {
				e.cache[t] = embedded[i]
			}
		}
		e.mu.Unlock()
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = e.cache[t]
	}
	return out, nil
}

func cosine(a, b []float32) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
