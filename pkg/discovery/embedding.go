package discovery

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"

	"github.com/aretw0/conductor/pkg/domain"
	"golang.org/x/sync/errgroup"
)

// Embedder turns texts into vectors, one per input, in order.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

// EmbeddingSearcher ranks capabilities by cosine similarity between the
// query and each capability's description. Capability vectors are computed
// once per distinct text and cached.
type EmbeddingSearcher struct {
	embedder  Embedder
	source    Source
	batchSize int
	parallel  int

	mu    sync.RWMutex
	cache map[string][]float32
}

// EmbeddingOption configures an EmbeddingSearcher.
type EmbeddingOption func(*EmbeddingSearcher)

// WithBatchSize sets how many texts go into one Embed call.
func WithBatchSize(n int) EmbeddingOption {
	return func(s *EmbeddingSearcher) {
		if n > 0 {
			s.batchSize = n
		}
	}
}

// WithParallelism bounds concurrent Embed calls while warming the cache.
func WithParallelism(n int) EmbeddingOption {
	return func(s *EmbeddingSearcher) {
		if n > 0 {
			s.parallel = n
		}
	}
}

func NewEmbedding(embedder Embedder, source Source, opts ...EmbeddingOption) *EmbeddingSearcher {
	s := &EmbeddingSearcher{
		embedder:  embedder,
		source:    source,
		batchSize: 16,
		parallel:  4,
		cache:     make(map[string][]float32),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *EmbeddingSearcher) Search(ctx context.Context, query string, topK int) ([]domain.AgentInfo, error) {
	agents := s.source()
	if len(agents) == 0 {
		return nil, nil
	}
	if err := s.warm(ctx, agents); err != nil {
		return nil, err
	}
	qv, err := s.embedder.Embed(ctx, []string{query})
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	if len(qv) != 1 {
		return nil, fmt.Errorf("embed query: got %d vectors", len(qv))
	}

	scores := make([]float64, len(agents))
	idx := make([]int, len(agents))
	s.mu.RLock()
	for i, a := range agents {
		idx[i] = i
		scores[i] = cosine(qv[0], s.cache[text(a)])
	}
	s.mu.RUnlock()
	sort.SliceStable(idx, func(i, j int) bool { return scores[idx[i]] > scores[idx[j]] })

	out := make([]domain.AgentInfo, len(idx))
	for i, j := range idx {
		out[i] = agents[j]
	}
	return limit(out, topK), nil
}

// warm embeds every capability text missing from the cache, in batches.
func (s *EmbeddingSearcher) warm(ctx context.Context, agents []domain.AgentInfo) error {
	var missing []string
	seen := make(map[string]bool)
	s.mu.RLock()
	for _, a := range agents {
		t := text(a)
		if _, ok := s.cache[t]; !ok && !seen[t] {
			seen[t] = true
			missing = append(missing, t)
		}
	}
	s.mu.RUnlock()
	if len(missing) == 0 {
		return nil
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.parallel)
	for start := 0; start < len(missing); start += s.batchSize {
		batch := missing[start:min(start+s.batchSize, len(missing))]
		g.Go(func() error {
			vecs, err := s.embedder.Embed(gctx, batch)
			if err != nil {
				return fmt.Errorf("embed capabilities: %w", err)
			}
			if len(vecs) != len(batch) {
				return fmt.Errorf("embed capabilities: got %d vectors for %d texts", len(vecs), len(batch))
			}
			s.mu.Lock()
			for i, t := range batch {
				s.cache[t] = vecs[i]
			}
			s.mu.Unlock()
			return nil
		})
	}
	return g.Wait()
}

func text(a domain.AgentInfo) string {
	return a.Name + ": " + a.Description
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
