package processors

import (
	"context"
	"fmt"
	"hash/fnv"
	"math"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"golang.org/x/time/rate"

	"clipCurator/config"
	"clipCurator/core"
)

// Embedder is the embedding collaborator boundary. A failed or absent
// embedder means semantic segmentation is unavailable, never a fatal error.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	Available() bool
}

// embedKeyPrefix bounds memoization keys so near-identical long inputs still
// collapse to one external call.
const embedKeyPrefix = 256

// OpenAIEmbedder calls the embeddings API with rate limiting and memoizes
// results by a truncated prefix of the input text.
type OpenAIEmbedder struct {
	client  *openai.Client
	model   string
	cache   *core.ContentCache
	limiter *rate.Limiter
}

// NewOpenAIEmbedder returns nil when the config has no usable API credentials.
func NewOpenAIEmbedder(cfg *config.Config, cache *core.ContentCache) *OpenAIEmbedder {
	if !cfg.HasValidAPI() {
		return nil
	}
	clientConfig := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientConfig.BaseURL = cfg.BaseURL
	}
	perSecond := rate.Limit(float64(cfg.EmbedRequestsPerMinute) / 60.0)
	return &OpenAIEmbedder{
		client:  openai.NewClientWithConfig(clientConfig),
		model:   cfg.EmbeddingModel,
		cache:   cache,
		limiter: rate.NewLimiter(perSecond, cfg.EmbedRequestsPerMinute),
	}
}

func (e *OpenAIEmbedder) Available() bool { return e != nil && e.client != nil }

func (e *OpenAIEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if !e.Available() {
		return nil, fmt.Errorf("embedder not configured")
	}
	key := "embed:" + truncateKey(text, embedKeyPrefix)
	v, err := e.cache.GetOrCompute(key, func() (any, error) {
		if err := e.limiter.Wait(ctx); err != nil {
			return nil, err
		}
		callCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
		defer cancel()
		resp, err := e.client.CreateEmbeddings(callCtx, openai.EmbeddingRequest{
			Model: openai.EmbeddingModel(e.model),
			Input: []string{text},
		})
		if err != nil {
			return nil, fmt.Errorf("embedding API: %w", err)
		}
		if len(resp.Data) == 0 {
			return nil, fmt.Errorf("no embeddings returned")
		}
		return resp.Data[0].Embedding, nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]float32), nil
}

func truncateKey(s string, n int) string {
	s = strings.ToLower(strings.TrimSpace(s))
	if len(s) > n {
		s = s[:n]
	}
	return s
}

// MockEmbedder produces deterministic pseudo-embeddings for tests. Texts
// sharing a token overlap produce correlated vectors, so similarity ordering
// is stable across runs.
type MockEmbedder struct {
	Dim  int
	Fail bool
}

func (m *MockEmbedder) Available() bool { return m != nil && !m.Fail }

func (m *MockEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	if m.Fail {
		return nil, fmt.Errorf("mock embedder failure")
	}
	dim := m.Dim
	if dim <= 0 {
		dim = 16
	}
	vec := make([]float32, dim)
	for _, tok := range strings.Fields(strings.ToLower(text)) {
		h := fnv.New32a()
		_, _ = h.Write([]byte(tok))
		vec[int(h.Sum32())%dim] += 1
	}
	return vec, nil
}

// CosineSimilarity returns dot(a,b)/(|a||b|), and exactly 0 for empty or
// mismatched-length vectors. Never divides by zero.
func CosineSimilarity(a, b []float32) float64 {
	if len(a) == 0 || len(b) == 0 || len(a) != len(b) {
		return 0.0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0.0 || normB == 0.0 {
		return 0.0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
