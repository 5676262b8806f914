package processors

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"path/filepath"
	"sort"
	"strings"

	"golang.org/x/sync/errgroup"

	"clipCurator/config"
	"clipCurator/core"
)

// Curator scores, filters and ranks candidate windows into final clips. The
// LLM collaborator is an optimizer here, never the sole path to a result:
// every LLM failure degrades to a deterministic decision.
type Curator struct {
	cfg *config.Config
	llm LLMClient
}

func NewCurator(cfg *config.Config, llm LLMClient) *Curator {
	return &Curator{cfg: cfg, llm: llm}
}

// windowJudgment is the fixed reply schema for per-window scoring.
type windowJudgment struct {
	Include            bool     `json:"include"`
	RelevanceScore     float64  `json:"relevance_score"`
	QualityScore       float64  `json:"quality_score"`
	Title              string   `json:"title"`
	Description        string   `json:"description"`
	KeyTopics          []string `json:"key_topics"`
	OptimalStartOffset float64  `json:"optimal_start_offset"`
	OptimalEndOffset   float64  `json:"optimal_end_offset"`
	Reasoning          string   `json:"reasoning"`
}

// rankSelection is the fixed reply schema for cross-video ranking.
type rankSelection struct {
	SelectedIndices []int  `json:"selected_indices"`
	Reasoning       string `json:"reasoning"`
}

// Curate turns scored windows into clips for one video. Windows with fewer
// than two entries are discarded; everything else yields either an
// LLM-approved clip or a deterministic fallback clip. Judgments run in
// parallel up to the configured window limit; the result keeps window order.
func (c *Curator) Curate(ctx context.Context, windows []core.Window, videoPath, query, contextText string) []core.Clip {
	results := make([]*core.Clip, len(windows))
	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(parallelLimit(c.cfg.MaxParallelWindows))
	for i, w := range windows {
		if len(w.Entries) < 2 {
			continue
		}
		i, w := i, w
		group.Go(func() error {
			if clip, ok := c.judgeWindow(groupCtx, w, videoPath, query, contextText); ok {
				results[i] = &clip
			}
			return nil
		})
	}
	_ = group.Wait()

	var clips []core.Clip
	for _, r := range results {
		if r != nil {
			clips = append(clips, *r)
		}
	}
	return clips
}

func parallelLimit(n int) int {
	if n < 1 {
		return 1
	}
	return n
}

func (c *Curator) judgeWindow(ctx context.Context, w core.Window, videoPath, query, contextText string) (core.Clip, bool) {
	if c.llm == nil || !c.llm.Available() {
		return c.fallbackClip(w, videoPath), true
	}

	reply, err := c.llm.Complete(ctx, c.judgmentPrompt(w, query, contextText))
	if err != nil {
		log.Printf("window judgment failed (%v), using fallback clip", err)
		return c.fallbackClip(w, videoPath), true
	}

	judgment, err := parseJudgment(reply)
	if err != nil {
		log.Printf("unusable window judgment (%v), using fallback clip", err)
		return c.fallbackClip(w, videoPath), true
	}

	if !judgment.Include || judgment.RelevanceScore < c.cfg.MinLLMScore {
		return core.Clip{}, false
	}

	start, end := c.applyOffsets(w, judgment)
	start, end = c.boundClip(start, end)

	title := strings.TrimSpace(judgment.Title)
	if title == "" {
		title = defaultTitle(w.JoinedText)
	}
	return core.Clip{
		Title:          title,
		Description:    strings.TrimSpace(judgment.Description),
		VideoPath:      videoPath,
		StartTime:      start,
		EndTime:        end,
		Transcript:     w.JoinedText,
		RelevanceScore: judgment.RelevanceScore,
		QualityScore:   judgment.QualityScore,
		KeyTopics:      judgment.KeyTopics,
		SourceID:       filepath.Base(videoPath),
		AIGenerated:    true,
		Reasoning:      strings.TrimSpace(judgment.Reasoning),
	}, true
}

func parseJudgment(reply string) (windowJudgment, error) {
	raw := extractJSONObject(reply)
	if raw == "" {
		return windowJudgment{}, fmt.Errorf("no JSON object in reply")
	}
	var j windowJudgment
	if err := json.Unmarshal([]byte(raw), &j); err != nil {
		return windowJudgment{}, fmt.Errorf("decode judgment: %w", err)
	}
	if j.RelevanceScore < 0 || j.RelevanceScore > 1 || j.QualityScore < 0 || j.QualityScore > 1 {
		return windowJudgment{}, fmt.Errorf("scores out of range")
	}
	return j, nil
}

// applyOffsets trims the window by the proposed start/end offsets. Offsets
// that would shrink the span below the minimum clip length, or invert it, are
// ignored in favor of the buffered window bounds. Optimization must never
// produce end <= start.
func (c *Curator) applyOffsets(w core.Window, j windowJudgment) (float64, float64) {
	duration := w.EndTime - w.StartTime
	startOff := j.OptimalStartOffset
	endOff := j.OptimalEndOffset
	if startOff < 0 || endOff < 0 || startOff+endOff > duration-c.cfg.MinClipSeconds {
		return c.bufferedBounds(w)
	}
	return w.StartTime + startOff, w.EndTime - endOff
}

func (c *Curator) bufferedBounds(w core.Window) (float64, float64) {
	start := w.StartTime - c.cfg.ContextBufferSeconds
	if start < 0 {
		start = 0
	}
	return start, w.EndTime + c.cfg.ContextBufferSeconds
}

// boundClip enforces startTime >= 0 and a duration inside the configured
// [min, max] band.
func (c *Curator) boundClip(start, end float64) (float64, float64) {
	if start < 0 {
		start = 0
	}
	if end-start < c.cfg.MinClipSeconds {
		end = start + c.cfg.MinClipSeconds
	}
	if end-start > c.cfg.MaxClipSeconds {
		end = start + c.cfg.MaxClipSeconds
	}
	return start, end
}

// fallbackClip derives a clip directly from the window when the LLM cannot
// be consulted. LLM failure degrades quality, not availability.
func (c *Curator) fallbackClip(w core.Window, videoPath string) core.Clip {
	start, end := c.bufferedBounds(w)
	start, end = c.boundClip(start, end)
	relevance := core.ClampFloat(w.Similarity, c.cfg.MinRelevanceScore, 1)
	return core.Clip{
		Title:          defaultTitle(w.JoinedText),
		Description:    truncateText(w.JoinedText, 160),
		VideoPath:      videoPath,
		StartTime:      start,
		EndTime:        end,
		Transcript:     w.JoinedText,
		RelevanceScore: relevance,
		QualityScore:   0.5,
		SourceID:       filepath.Base(videoPath),
		AIGenerated:    false,
	}
}

// Rank performs the cross-video final selection of up to maxClips clips.
// Oversized candidate sets are pre-sorted by relevance and truncated to the
// batch ceiling before the LLM sees them, to bound prompt size.
func (c *Curator) Rank(ctx context.Context, clips []core.Clip, query, contextText string, maxClips int) []core.Clip {
	if maxClips <= 0 {
		maxClips = c.cfg.MaxClips
	}
	if len(clips) == 0 {
		return nil
	}

	candidates := make([]core.Clip, len(clips))
	copy(candidates, clips)
	sortByRelevance(candidates)
	if len(candidates) > c.cfg.RankBatchCeiling {
		candidates = candidates[:c.cfg.RankBatchCeiling]
	}
	if len(candidates) <= maxClips {
		return candidates
	}

	if c.llm == nil || !c.llm.Available() {
		return candidates[:maxClips]
	}

	reply, err := c.llm.Complete(ctx, c.rankPrompt(candidates, query, contextText, maxClips))
	if err != nil {
		log.Printf("clip ranking failed (%v), using relevance order", err)
		return candidates[:maxClips]
	}

	selected := applySelection(candidates, reply, maxClips)
	if len(selected) == 0 {
		log.Printf("unusable ranking selection, using relevance order")
		return candidates[:maxClips]
	}
	return selected
}

// applySelection validates the LLM's chosen indices: out-of-range entries are
// skipped, duplicates collapse, and an empty result signals fallback.
func applySelection(candidates []core.Clip, reply string, maxClips int) []core.Clip {
	raw := extractJSONObject(reply)
	if raw == "" {
		return nil
	}
	var sel rankSelection
	if err := json.Unmarshal([]byte(raw), &sel); err != nil {
		return nil
	}
	seen := make(map[int]bool)
	var out []core.Clip
	for _, idx := range sel.SelectedIndices {
		if idx < 0 || idx >= len(candidates) || seen[idx] {
			continue
		}
		seen[idx] = true
		out = append(out, candidates[idx])
		if len(out) == maxClips {
			break
		}
	}
	return out
}

// FallbackClips synthesizes best-effort clips from the first two available
// videos when nothing survived curation. Callers must always receive a
// non-empty result when any video exists.
func (c *Curator) FallbackClips(videoDir string, videoFiles []string, query string) []core.Clip {
	if len(videoFiles) == 0 {
		return nil
	}
	sources := videoFiles
	if len(sources) > 2 {
		sources = sources[:2]
	}

	var clips []core.Clip
	for _, file := range sources {
		path := filepath.Join(videoDir, file)
		duration, err := probeDuration(path)
		if err != nil || duration <= 0 {
			log.Printf("probe failed for fallback source %s (%v), assuming 5 minutes", file, err)
			duration = 300
		}
		for _, fraction := range []float64{0.2, 0.6} {
			start := duration * fraction
			end := start + c.cfg.TargetClipSeconds
			if end > duration {
				end = duration
			}
			start, end = c.boundClip(start, end)
			if end > duration && duration > c.cfg.MinClipSeconds {
				end = duration
				start = end - c.cfg.MinClipSeconds
			}
			clips = append(clips, core.Clip{
				Title:          fmt.Sprintf("Excerpt from %s at %s", file, core.FormatTime(start)),
				Description:    fmt.Sprintf("Automatically selected span related to: %s", truncateText(query, 80)),
				VideoPath:      path,
				StartTime:      start,
				EndTime:        end,
				RelevanceScore: c.cfg.MinRelevanceScore,
				QualityScore:   0.3,
				SourceID:       file,
				AIGenerated:    false,
				IsFallback:     true,
			})
			if len(clips) >= c.cfg.MaxClips {
				return clips
			}
		}
	}
	return clips
}

func (c *Curator) judgmentPrompt(w core.Window, query, contextText string) string {
	return fmt.Sprintf(`You are selecting video clips that answer a viewer's question.

Question: %s
Additional context: %s

Candidate transcript window (%.1fs to %.1fs, duration %.1fs):
%s

Judge whether this window should become a clip. Reply with ONLY a JSON object:
{
    "include": true,
    "relevance_score": 0.0,
    "quality_score": 0.0,
    "title": "short clip title",
    "description": "one-sentence description",
    "key_topics": ["topic1", "topic2"],
    "optimal_start_offset": 0.0,
    "optimal_end_offset": 0.0,
    "reasoning": "why this window was included or rejected"
}
Scores are in [0,1]. Offsets are seconds trimmed from the window start and end;
the trimmed clip must stay at least %.0f seconds long.`,
		query, contextText, w.StartTime, w.EndTime, w.EndTime-w.StartTime,
		truncateText(w.JoinedText, 1500), c.cfg.MinClipSeconds)
}

func (c *Curator) rankPrompt(candidates []core.Clip, query, contextText string, maxClips int) string {
	var b strings.Builder
	for i, clip := range candidates {
		fmt.Fprintf(&b, "[%d] source=%s span=%s-%s relevance=%.2f title=%q\n    %s\n",
			i, clip.SourceID, core.FormatTime(clip.StartTime), core.FormatTime(clip.EndTime),
			clip.RelevanceScore, clip.Title, truncateText(clip.Transcript, 200))
	}
	return fmt.Sprintf(`You are choosing the final set of video clips for a viewer's question.

Question: %s
Additional context: %s

Candidates:
%s
Choose up to %d clips, ordered best first. Favor diversity of source videos and
durations in the 30-60 second band. Reply with ONLY a JSON object:
{
    "selected_indices": [0, 2],
    "reasoning": "why these clips"
}`, query, contextText, b.String(), maxClips)
}

func sortByRelevance(clips []core.Clip) {
	sort.SliceStable(clips, func(i, j int) bool {
		if clips[i].RelevanceScore != clips[j].RelevanceScore {
			return clips[i].RelevanceScore > clips[j].RelevanceScore
		}
		return clips[i].QualityScore > clips[j].QualityScore
	})
}

func defaultTitle(text string) string {
	title := truncateText(text, 60)
	if title == "" {
		title = "Untitled clip"
	}
	return title
}

func truncateText(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) <= n {
		return s
	}
	cut := s[:n]
	if idx := strings.LastIndex(cut, " "); idx > n/2 {
		cut = cut[:idx]
	}
	return cut + "..."
}
