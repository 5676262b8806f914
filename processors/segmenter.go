package processors

import (
	"context"
	"log"
	"sort"
	"strings"

	"golang.org/x/sync/errgroup"

	"clipCurator/config"
	"clipCurator/core"
)

// fallbackSimilarity is the synthetic score assigned in fixed-stride mode so
// fallback windows are shaped exactly like semantic ones downstream.
const fallbackSimilarity = 0.5

// Segmenter groups transcript entries into candidate time windows, guided by
// semantic similarity to the query when an embedder is available.
type Segmenter struct {
	cfg      *config.Config
	embedder Embedder
}

func NewSegmenter(cfg *config.Config, embedder Embedder) *Segmenter {
	return &Segmenter{cfg: cfg, embedder: embedder}
}

// Segment returns candidate windows ordered best-first. Windows always hold
// at least two entries. Embedder failure switches to fixed-stride grouping,
// never to an error.
func (s *Segmenter) Segment(ctx context.Context, entries []core.TranscriptEntry, query string) []core.Window {
	if len(entries) < 2 {
		return nil
	}
	if s.embedder != nil && s.embedder.Available() {
		windows, err := s.segmentSemantic(ctx, entries, query)
		if err == nil {
			return windows
		}
		log.Printf("semantic segmentation unavailable (%v), falling back to fixed chunks", err)
	}
	return s.segmentFixed(entries)
}

func (s *Segmenter) segmentSemantic(ctx context.Context, entries []core.TranscriptEntry, query string) ([]core.Window, error) {
	queryVec, err := s.embedder.Embed(ctx, query)
	if err != nil {
		return nil, err
	}

	// Window embeddings are independent of each other, so they fan out up to
	// the configured window limit. Any failure aborts semantic mode.
	candidates := s.slidingWindows(entries)
	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(parallelLimit(s.cfg.MaxParallelWindows))
	for i := range candidates {
		i := i
		group.Go(func() error {
			vec, err := s.embedder.Embed(groupCtx, candidates[i].JoinedText)
			if err != nil {
				return err
			}
			candidates[i].Similarity = CosineSimilarity(queryVec, vec)
			return nil
		})
	}
	if err := group.Wait(); err != nil {
		return nil, err
	}

	scored := make([]core.Window, 0, len(candidates))
	for _, w := range candidates {
		if w.Similarity >= s.cfg.MinSimilarity {
			scored = append(scored, w)
		}
	}

	sort.SliceStable(scored, func(i, j int) bool {
		return scored[i].Similarity > scored[j].Similarity
	})
	if len(scored) > s.cfg.WindowTopN {
		scored = scored[:s.cfg.WindowTopN]
	}
	return scored, nil
}

// slidingWindows accumulates consecutive entries while the gap from the
// window's first entry stays within the configured span, then advances the
// start by half the window for overlap coverage.
func (s *Segmenter) slidingWindows(entries []core.TranscriptEntry) []core.Window {
	var windows []core.Window
	i := 0
	for i < len(entries)-1 {
		j := i + 1
		for j < len(entries) && entries[j].Start-entries[i].Start <= s.cfg.WindowSpanSeconds {
			j++
		}
		if j-i >= 2 {
			windows = append(windows, buildWindow(entries[i:j]))
		}
		step := (j - i) / 2
		if step < 1 {
			step = 1
		}
		i += step
	}
	return windows
}

// segmentFixed chunks entries into fixed-size groups in order. Trailing
// groups with a single entry are dropped rather than emitted invalid.
func (s *Segmenter) segmentFixed(entries []core.TranscriptEntry) []core.Window {
	size := s.cfg.FallbackChunkSize
	if size < 2 {
		size = 2
	}
	var windows []core.Window
	for i := 0; i < len(entries); i += size {
		end := i + size
		if end > len(entries) {
			end = len(entries)
		}
		if end-i < 2 {
			break
		}
		w := buildWindow(entries[i:end])
		w.Similarity = fallbackSimilarity
		windows = append(windows, w)
	}
	return windows
}

func buildWindow(entries []core.TranscriptEntry) core.Window {
	texts := make([]string, 0, len(entries))
	start := entries[0].Start
	end := entries[0].End
	for _, e := range entries {
		texts = append(texts, e.Text)
		if e.Start < start {
			start = e.Start
		}
		if e.End > end {
			end = e.End
		}
	}
	group := make([]core.TranscriptEntry, len(entries))
	copy(group, entries)
	return core.Window{
		Entries:    group,
		JoinedText: strings.Join(texts, " "),
		StartTime:  start,
		EndTime:    end,
	}
}
