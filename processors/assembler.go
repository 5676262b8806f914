package processors

import (
	"context"
	"fmt"
	"log"
	"math"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"clipCurator/config"
	"clipCurator/core"
)

// Per-segment assembly states. failed is reachable from any of them.
const (
	statePending      = "pending"
	stateExtracted    = "extracted"
	stateCaptioned    = "captioned"
	stateNormalized   = "normalized"
	stateConcatenated = "concatenated"
	stateFailed       = "failed"
)

// assemblyPart tracks one segment through the extraction pipeline.
type assemblyPart struct {
	segment core.AssemblySegment
	state   string
	path    string
	err     error
}

// Assembler renders finalized clips plus structural title/transition
// segments into a single output file. Extracted segments are cached by
// content key and reused across requests; every other intermediate is
// tracked for cleanup.
type Assembler struct {
	cfg     *config.Config
	cache   *core.ContentCache
	workDir string

	mu      sync.Mutex
	cleanup []string
}

func NewAssembler(cfg *config.Config, cache *core.ContentCache) *Assembler {
	workDir := filepath.Join(core.DataRoot(), "assembly")
	_ = os.MkdirAll(workDir, 0o755)
	return &Assembler{cfg: cfg, cache: cache, workDir: workDir}
}

// Assemble produces a playable file or an explicit error, never a partial
// output. One failed source segment does not abort the request as long as at
// least one content segment survives.
func (a *Assembler) Assemble(ctx context.Context, segments []core.AssemblySegment) (outPath string, err error) {
	defer a.removeIntermediates()

	parts := a.prepareParts(segments)
	if len(parts) == 0 {
		return "", fmt.Errorf("no usable segments to assemble")
	}

	var ready []*assemblyPart
	for _, part := range parts {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		a.processPart(ctx, part)
		if part.state == stateFailed {
			log.Printf("segment failed (%s): %v", part.segment.Kind, part.err)
			continue
		}
		ready = append(ready, part)
	}
	if !hasContentPart(ready) {
		return "", fmt.Errorf("all content segments failed")
	}

	outPath, err = a.concatenate(ctx, ready)
	if err != nil {
		return "", err
	}
	for _, part := range ready {
		part.state = stateConcatenated
	}
	return outPath, nil
}

// prepareParts deduplicates content segments and drops structural ones the
// transcoding environment cannot synthesize.
func (a *Assembler) prepareParts(segments []core.AssemblySegment) []*assemblyPart {
	deduped := a.dedupeSegments(segments)
	parts := make([]*assemblyPart, 0, len(deduped))
	for _, seg := range deduped {
		if !seg.IsContent() {
			if !hasLavfiSupport() {
				log.Printf("skipping %s segment, synthetic sources unavailable", seg.Kind)
				continue
			}
			if seg.Duration <= 0 {
				seg.Duration = 3
			}
		}
		parts = append(parts, &assemblyPart{segment: seg, state: statePending})
	}
	return parts
}

// dedupeSegments collapses content segments whose (video, roundedStart,
// roundedEnd) keys collide, keeping the higher-scoring clip. Ties keep the
// earlier segment.
func (a *Assembler) dedupeSegments(segments []core.AssemblySegment) []core.AssemblySegment {
	type slot struct {
		index int
		score float64
	}
	best := make(map[string]slot)
	out := make([]core.AssemblySegment, 0, len(segments))
	for _, seg := range segments {
		if !seg.IsContent() {
			out = append(out, seg)
			continue
		}
		key := contentKey(seg.Clip)
		score := a.segmentScore(seg.Clip)
		if prev, ok := best[key]; ok {
			if score > prev.score {
				out[prev.index] = seg
				best[key] = slot{index: prev.index, score: score}
			}
			continue
		}
		out = append(out, seg)
		best[key] = slot{index: len(out) - 1, score: score}
	}
	return out
}

func contentKey(c *core.Clip) string {
	return fmt.Sprintf("%s|%.0f|%.0f", c.VideoPath, math.Round(c.StartTime), math.Round(c.EndTime))
}

// segmentScore combines relevance, quality, closeness to the target duration
// and metadata completeness for dedup preference.
func (a *Assembler) segmentScore(c *core.Clip) float64 {
	score := c.RelevanceScore + c.QualityScore
	target := a.cfg.TargetClipSeconds
	if target > 0 {
		closeness := 1 - math.Abs(c.Duration()-target)/target
		if closeness > 0 {
			score += closeness
		}
	}
	if c.Title != "" {
		score += 0.1
	}
	if c.Description != "" {
		score += 0.1
	}
	if len(c.KeyTopics) > 0 {
		score += 0.1
	}
	return score
}

func hasContentPart(parts []*assemblyPart) bool {
	for _, p := range parts {
		if p.segment.IsContent() {
			return true
		}
	}
	return false
}

func (a *Assembler) processPart(ctx context.Context, part *assemblyPart) {
	if !part.segment.IsContent() {
		path, err := a.makeCard(ctx, part.segment)
		if err != nil {
			part.state, part.err = stateFailed, err
			return
		}
		part.path = path
		part.state = stateExtracted
		return
	}

	clip := part.segment.Clip
	path, err := a.extractClip(ctx, clip)
	if err != nil {
		part.state, part.err = stateFailed, err
		return
	}
	part.path = path
	part.state = stateExtracted

	if captioned, err := a.captionClip(ctx, path, clip); err == nil {
		part.path = captioned
		part.state = stateCaptioned
	} else {
		log.Printf("captioning failed for %s (%v), keeping plain segment", clip.SourceID, err)
	}
}

// normalizeSpan converts clip start/end of arbitrary encoding into validated
// seconds against the probed duration. Epoch-magnitude values are discarded
// for a safe default, millisecond-scale values are rescaled, a minimum span
// is forced, and the end is clamped inside the file with a trailing buffer.
func (a *Assembler) normalizeSpan(start, end, duration float64) (float64, float64, error) {
	start = a.normalizeTimestamp(start, duration, 0)
	fallbackEnd := start + a.cfg.MinClipSeconds
	end = a.normalizeTimestamp(end, duration, fallbackEnd)

	if end <= start {
		end = start + a.cfg.MinClipSeconds
	}
	limit := duration - a.cfg.TrailingBufferSeconds
	if limit <= 0 {
		return 0, 0, fmt.Errorf("video too short (%.1fs) for extraction", duration)
	}
	if end > limit {
		end = limit
	}
	if start >= end {
		start = end - a.cfg.MinClipSeconds
		if start < 0 {
			start = 0
		}
	}
	if end <= start {
		return 0, 0, fmt.Errorf("no valid span inside %.1fs video", duration)
	}
	return start, end, nil
}

func (a *Assembler) normalizeTimestamp(v, duration, safeDefault float64) float64 {
	switch {
	case v >= 1e9:
		// Epoch seconds or milliseconds leaked in; no clip-relative meaning.
		log.Printf("discarding epoch-magnitude timestamp %.0f", v)
		return safeDefault
	case v >= 1000 && v > duration && v/1000 <= duration:
		return v / 1000
	case v < 0:
		return 0
	default:
		return v
	}
}

// extractClip cuts the clip's span out of its source with a seek-then-
// duration window, retrying with backoff. Successful extractions are cached
// by (video, roundedStart, roundedEnd).
func (a *Assembler) extractClip(ctx context.Context, clip *core.Clip) (string, error) {
	duration, err := probeDuration(clip.VideoPath)
	if err != nil {
		return "", fmt.Errorf("probe %s: %w", clip.VideoPath, err)
	}
	start, end, err := a.normalizeSpan(clip.StartTime, clip.EndTime, duration)
	if err != nil {
		return "", err
	}

	key := "extract:" + contentKey(&core.Clip{VideoPath: clip.VideoPath, StartTime: start, EndTime: end})
	if v, ok := a.cache.Get(key); ok {
		if path, ok := v.(string); ok {
			if _, err := os.Stat(path); err == nil {
				return path, nil
			}
			a.cache.Delete(key)
		}
	}

	// Track the output up front so a partial write from a failed attempt is
	// cleaned up with the other intermediates; only a success graduates it
	// into the cache.
	outPath := filepath.Join(a.workDir, fmt.Sprintf("seg_%s.mp4", core.NewID()))
	a.trackIntermediate(outPath)
	timeout := time.Duration(a.cfg.ExtractTimeoutSeconds) * time.Second
	var lastErr error
	for attempt := 0; attempt < 3; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return "", ctx.Err()
			case <-time.After(time.Duration(500<<attempt) * time.Millisecond):
			}
		}
		lastErr = runFFmpeg(ctx, timeout,
			"-ss", fmt.Sprintf("%.2f", start),
			"-i", clip.VideoPath,
			"-t", fmt.Sprintf("%.2f", end-start),
			"-vf", fmt.Sprintf("scale=%d:%d", canonicalProfile.Width, canonicalProfile.Height),
			"-r", "30", "-pix_fmt", "yuv420p",
			"-c:v", "libx264", "-b:v", "2000k",
			"-c:a", "aac", "-b:a", "128k",
			outPath)
		if lastErr == nil {
			break
		}
	}
	if lastErr != nil {
		return "", fmt.Errorf("extract %s %.1f-%.1f: %w", clip.SourceID, start, end, lastErr)
	}
	a.untrackIntermediate(outPath)
	a.cache.Set(key, outPath)
	return outPath, nil
}

// captionClip overlays the clip title with drawtext. A filter failure falls
// back to a plain re-encode so the segment survives without text.
func (a *Assembler) captionClip(ctx context.Context, inPath string, clip *core.Clip) (string, error) {
	caption := strings.TrimSpace(clip.Title)
	if caption == "" || !hasDrawtextSupport() {
		return "", fmt.Errorf("no caption to draw")
	}

	outPath := filepath.Join(a.workDir, fmt.Sprintf("cap_%s.mp4", core.NewID()))
	a.trackIntermediate(outPath)
	timeout := time.Duration(a.cfg.ExtractTimeoutSeconds) * time.Second
	filter := fmt.Sprintf("drawtext=text='%s':fontcolor=white:fontsize=28:box=1:boxcolor=black@0.5:boxborderw=8:x=(w-text_w)/2:y=h-text_h-24",
		escapeDrawText(caption))

	err := runFFmpeg(ctx, timeout, "-i", inPath, "-vf", filter, "-c:a", "copy", outPath)
	if err == nil {
		return outPath, nil
	}
	log.Printf("drawtext filter failed (%v), re-encoding without caption", err)
	if err := runFFmpeg(ctx, timeout, "-i", inPath, "-c:v", "libx264", "-c:a", "aac", outPath); err != nil {
		return "", err
	}
	return outPath, nil
}

// makeCard renders a structural title/transition segment from a synthetic
// color + silence source with fades. Callers gate on hasLavfiSupport.
func (a *Assembler) makeCard(ctx context.Context, seg core.AssemblySegment) (string, error) {
	outPath := filepath.Join(a.workDir, fmt.Sprintf("card_%s.mp4", core.NewID()))
	a.trackIntermediate(outPath)
	timeout := time.Duration(a.cfg.ExtractTimeoutSeconds) * time.Second
	dur := seg.Duration

	filter := fmt.Sprintf("fade=t=in:st=0:d=0.5,fade=t=out:st=%.2f:d=0.5", math.Max(dur-0.5, 0))
	text := strings.TrimSpace(seg.Text)
	if text != "" && hasDrawtextSupport() {
		filter = fmt.Sprintf("drawtext=text='%s':fontcolor=white:fontsize=40:x=(w-text_w)/2:y=(h-text_h)/2,%s",
			escapeDrawText(text), filter)
	}

	err := runFFmpeg(ctx, timeout,
		"-f", "lavfi", "-i", fmt.Sprintf("color=c=black:s=%dx%d:r=30:d=%.2f", canonicalProfile.Width, canonicalProfile.Height, dur),
		"-f", "lavfi", "-i", fmt.Sprintf("anullsrc=channel_layout=stereo:sample_rate=44100:d=%.2f", dur),
		"-vf", filter,
		"-pix_fmt", "yuv420p", "-c:v", "libx264", "-c:a", "aac",
		"-t", fmt.Sprintf("%.2f", dur),
		outPath)
	if err != nil {
		return "", fmt.Errorf("render %s card: %w", seg.Kind, err)
	}
	return outPath, nil
}

// concatenate joins the prepared parts. When every part already shares one
// encoding profile a stream-copy concat is used; otherwise each part is
// normalized to the canonical profile first.
func (a *Assembler) concatenate(ctx context.Context, parts []*assemblyPart) (string, error) {
	if len(parts) == 1 {
		return a.finalizeSingle(parts[0])
	}

	paths := make([]string, len(parts))
	uniform := true
	var first streamProfile
	for i, part := range parts {
		paths[i] = part.path
		profile, err := probeStreamProfile(part.path)
		if err != nil {
			uniform = false
			continue
		}
		if i == 0 {
			first = profile
		} else if profile != first {
			uniform = false
		}
	}

	timeout := time.Duration(a.cfg.ExtractTimeoutSeconds) * time.Second
	if !uniform {
		for i, path := range paths {
			normalized := filepath.Join(a.workDir, fmt.Sprintf("norm_%s.mp4", core.NewID()))
			a.trackIntermediate(normalized)
			err := runFFmpeg(ctx, timeout, "-i", path,
				"-vf", fmt.Sprintf("scale=%d:%d,fps=30", canonicalProfile.Width, canonicalProfile.Height),
				"-pix_fmt", "yuv420p", "-c:v", "libx264", "-c:a", "aac", "-ar", "44100",
				normalized)
			if err != nil {
				return "", fmt.Errorf("normalize part %d: %w", i, err)
			}
			paths[i] = normalized
			for _, part := range parts {
				if part.path == path {
					part.state = stateNormalized
				}
			}
		}
	}

	listPath := filepath.Join(a.workDir, fmt.Sprintf("concat_%s.txt", core.NewID()))
	a.trackIntermediate(listPath)
	var list strings.Builder
	for _, path := range paths {
		abs, err := filepath.Abs(path)
		if err != nil {
			abs = path
		}
		fmt.Fprintf(&list, "file '%s'\n", strings.ReplaceAll(abs, "'", `'\''`))
	}
	if err := os.WriteFile(listPath, []byte(list.String()), 0o644); err != nil {
		return "", fmt.Errorf("write concat list: %w", err)
	}

	outPath := filepath.Join(core.DataRoot(), fmt.Sprintf("assembled_%s.mp4", core.NewID()))
	err := runFFmpeg(ctx, timeout, "-f", "concat", "-safe", "0", "-i", listPath, "-c", "copy", outPath)
	if err != nil {
		return "", fmt.Errorf("concatenate: %w", err)
	}
	if err := validateOutput(outPath); err != nil {
		_ = os.Remove(outPath)
		return "", err
	}
	return outPath, nil
}

func (a *Assembler) finalizeSingle(part *assemblyPart) (string, error) {
	outPath := filepath.Join(core.DataRoot(), fmt.Sprintf("assembled_%s.mp4", core.NewID()))
	data, err := os.ReadFile(part.path)
	if err != nil {
		return "", fmt.Errorf("read segment: %w", err)
	}
	if err := os.WriteFile(outPath, data, 0o644); err != nil {
		return "", fmt.Errorf("write output: %w", err)
	}
	if err := validateOutput(outPath); err != nil {
		_ = os.Remove(outPath)
		return "", err
	}
	return outPath, nil
}

// validateOutput refuses to hand back an empty or unreadable file.
func validateOutput(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("output missing: %w", err)
	}
	if info.Size() == 0 {
		return fmt.Errorf("output file is empty")
	}
	if _, err := probeDuration(path); err != nil {
		return fmt.Errorf("output not playable: %w", err)
	}
	return nil
}

func (a *Assembler) trackIntermediate(path string) {
	a.mu.Lock()
	a.cleanup = append(a.cleanup, path)
	a.mu.Unlock()
}

// untrackIntermediate exempts a path from cleanup once it graduates into the
// extraction cache.
func (a *Assembler) untrackIntermediate(path string) {
	a.mu.Lock()
	for i, p := range a.cleanup {
		if p == path {
			a.cleanup = append(a.cleanup[:i], a.cleanup[i+1:]...)
			break
		}
	}
	a.mu.Unlock()
}

// removeIntermediates deletes tracked files with bounded retries to tolerate
// delayed handle release. Cached extractions are not tracked and survive.
func (a *Assembler) removeIntermediates() {
	a.mu.Lock()
	pending := a.cleanup
	a.cleanup = nil
	a.mu.Unlock()

	for _, path := range pending {
		for attempt := 0; attempt < 3; attempt++ {
			err := os.Remove(path)
			if err == nil || os.IsNotExist(err) {
				break
			}
			time.Sleep(200 * time.Millisecond)
		}
	}
}

// drawTextEscapes covers the filter-syntax metacharacters drawtext treats
// specially. Escape order matters: backslash first, reversed on unescape.
var drawTextEscapes = []struct{ raw, escaped string }{
	{`\`, `\\`},
	{`:`, `\:`},
	{`,`, `\,`},
	{`[`, `\[`},
	{`]`, `\]`},
	{`'`, `\'`},
}

func escapeDrawText(s string) string {
	s = strings.NewReplacer("\n", " ", "\r", " ", "\t", " ").Replace(s)
	for _, e := range drawTextEscapes {
		s = strings.ReplaceAll(s, e.raw, e.escaped)
	}
	return s
}

func unescapeDrawText(s string) string {
	for i := len(drawTextEscapes) - 1; i >= 0; i-- {
		e := drawTextEscapes[i]
		s = strings.ReplaceAll(s, e.escaped, e.raw)
	}
	return s
}
