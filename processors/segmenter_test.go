package processors

import (
	"context"
	"sync"
	"testing"
	"time"

	"clipCurator/core"
)

func TestSegmentFixedFallback(t *testing.T) {
	cfg := newTestConfig()
	cfg.FallbackChunkSize = 4
	s := NewSegmenter(cfg, nil) // no embedder at all

	entries := sixEntries()
	windows := s.Segment(context.Background(), entries, "indexing")
	// 6 entries, chunk size 4: a full chunk plus the 2-entry tail.
	if len(windows) != 2 {
		t.Fatalf("expected 2 fallback windows, got %d", len(windows))
	}
	for i, w := range windows {
		if len(w.Entries) < 2 {
			t.Errorf("window %d has %d entries, want >= 2", i, len(w.Entries))
		}
		if w.Similarity != 0.5 {
			t.Errorf("window %d similarity = %v, want synthetic 0.5", i, w.Similarity)
		}
		if w.EndTime <= w.StartTime {
			t.Errorf("window %d has inverted span", i)
		}
		if w.JoinedText == "" {
			t.Errorf("window %d missing joined text", i)
		}
	}
}

func TestSegmentFallbackOnEmbedderFailure(t *testing.T) {
	cfg := newTestConfig()
	s := NewSegmenter(cfg, &MockEmbedder{Fail: true})

	windows := s.Segment(context.Background(), sixEntries(), "indexing")
	if len(windows) == 0 {
		t.Fatalf("embedder failure must degrade to fixed chunks, not zero windows")
	}
	for _, w := range windows {
		if w.Similarity != 0.5 {
			t.Errorf("expected synthetic similarity after failure, got %v", w.Similarity)
		}
	}
}

func TestSegmentSemantic(t *testing.T) {
	cfg := newTestConfig()
	cfg.MinSimilarity = 0.01
	s := NewSegmenter(cfg, &MockEmbedder{Dim: 32})

	windows := s.Segment(context.Background(), sixEntries(), "database indexing")
	if len(windows) == 0 {
		t.Fatalf("semantic mode produced no windows")
	}
	if len(windows) > cfg.WindowTopN {
		t.Errorf("got %d windows, cap is %d", len(windows), cfg.WindowTopN)
	}
	for i, w := range windows {
		if len(w.Entries) < 2 {
			t.Errorf("window %d has %d entries, want >= 2", i, len(w.Entries))
		}
		if w.Similarity < cfg.MinSimilarity {
			t.Errorf("window %d similarity %v below threshold", i, w.Similarity)
		}
		if i > 0 && windows[i-1].Similarity < w.Similarity {
			t.Errorf("windows not ordered best-first at %d", i)
		}
	}
}

// gateEmbedder answers the first call (the query) immediately, then blocks
// every window embedding until released, recording arrivals.
type gateEmbedder struct {
	mu      sync.Mutex
	calls   int
	arrived chan struct{}
	release chan struct{}
}

func (g *gateEmbedder) Available() bool { return true }

func (g *gateEmbedder) Embed(ctx context.Context, _ string) ([]float32, error) {
	g.mu.Lock()
	g.calls++
	first := g.calls == 1
	g.mu.Unlock()
	if first {
		return []float32{1, 0}, nil
	}
	g.arrived <- struct{}{}
	select {
	case <-g.release:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	return []float32{1, 0}, nil
}

func TestSegmentSemanticEmbedsConcurrently(t *testing.T) {
	cfg := newTestConfig()
	cfg.MinSimilarity = 0.01
	embedder := &gateEmbedder{
		arrived: make(chan struct{}, 32),
		release: make(chan struct{}),
	}
	s := NewSegmenter(cfg, embedder)

	done := make(chan []core.Window, 1)
	go func() { done <- s.Segment(context.Background(), sixEntries(), "indexing") }()

	// A second embedding must start while the first is still blocked.
	for i := 0; i < 2; i++ {
		select {
		case <-embedder.arrived:
		case <-time.After(2 * time.Second):
			t.Fatalf("window embedding %d never started while an earlier one was in flight", i)
		}
	}
	close(embedder.release)

	if windows := <-done; len(windows) == 0 {
		t.Fatalf("semantic mode produced no windows")
	}
}

func TestSegmentTooFewEntries(t *testing.T) {
	s := NewSegmenter(newTestConfig(), nil)
	if got := s.Segment(context.Background(), []core.TranscriptEntry{{Text: "x", Start: 0, End: 1}}, "q"); got != nil {
		t.Errorf("single entry must yield no windows, got %+v", got)
	}
}

func TestSlidingWindowsRespectSpan(t *testing.T) {
	cfg := newTestConfig()
	cfg.WindowSpanSeconds = 10
	s := NewSegmenter(cfg, nil)

	windows := s.slidingWindows(sixEntries())
	for i, w := range windows {
		first := w.Entries[0]
		last := w.Entries[len(w.Entries)-1]
		if last.Start-first.Start > cfg.WindowSpanSeconds {
			t.Errorf("window %d exceeds span: %v", i, last.Start-first.Start)
		}
	}
}
