package processors

import (
	"context"
	"fmt"
	"log"
	"math"
	"os"
	"path/filepath"
	"time"

	"clipCurator/config"
	"clipCurator/core"
)

// frameResult is the cached outcome of one extraction attempt; misses are
// cached too so repeated requests for a bad timestamp stay cheap.
type frameResult struct {
	Path string
	OK   bool
}

// FrameExtractor pulls single still frames from videos with a multi-strategy
// ladder and a shared cache. Concurrent requests for the same (basename,
// timestamp) key share one in-flight extraction.
type FrameExtractor struct {
	cfg      *config.Config
	cache    *core.ContentCache
	frameDir string
}

func NewFrameExtractor(cfg *config.Config, cache *core.ContentCache) *FrameExtractor {
	frameDir := filepath.Join(core.DataRoot(), "frames")
	_ = os.MkdirAll(frameDir, 0o755)
	return &FrameExtractor{cfg: cfg, cache: cache, frameDir: frameDir}
}

func frameKey(videoPath string, timestamp float64) string {
	return fmt.Sprintf("frame:%s|%.1f", filepath.Base(videoPath), timestamp)
}

// ExtractFrame returns a JPEG path for the requested moment, or "" when the
// whole strategy ladder is exhausted. The exhausted outcome is cached.
func (f *FrameExtractor) ExtractFrame(ctx context.Context, videoPath string, timestamp float64) (string, error) {
	v, err := f.cache.GetOrCompute(frameKey(videoPath, timestamp), func() (any, error) {
		return f.runLadder(ctx, videoPath, timestamp), nil
	})
	if err != nil {
		return "", err
	}
	result := v.(frameResult)
	if !result.OK {
		return "", fmt.Errorf("no frame extractable from %s near %.1fs", filepath.Base(videoPath), timestamp)
	}
	// A swept frame file invalidates the cache entry.
	if _, err := os.Stat(result.Path); err != nil {
		f.cache.Delete(frameKey(videoPath, timestamp))
		return f.ExtractFrame(ctx, videoPath, timestamp)
	}
	return result.Path, nil
}

// ExtractFrameWithRetry re-runs the full ladder with exponential backoff up
// to the configured ceiling, clearing the negative cache entry between
// attempts. Callers that still get "" should substitute a placeholder.
func (f *FrameExtractor) ExtractFrameWithRetry(ctx context.Context, videoPath string, timestamp float64) (string, error) {
	var lastErr error
	for attempt := 0; attempt < f.cfg.FrameRetryLimit; attempt++ {
		if attempt > 0 {
			f.cache.Delete(frameKey(videoPath, timestamp))
			select {
			case <-ctx.Done():
				return "", ctx.Err()
			case <-time.After(time.Duration(500<<attempt) * time.Millisecond):
			}
		}
		path, err := f.ExtractFrame(ctx, videoPath, timestamp)
		if err == nil {
			return path, nil
		}
		lastErr = err
	}
	return "", lastErr
}

func (f *FrameExtractor) runLadder(ctx context.Context, videoPath string, timestamp float64) frameResult {
	duration, err := probeDuration(videoPath)
	if err != nil || duration <= 0 {
		log.Printf("frame probe failed for %s: %v", videoPath, err)
		return frameResult{}
	}

	for _, effective := range candidateTimestamps(timestamp, duration) {
		path, err := f.grabFrame(ctx, videoPath, effective)
		if err != nil {
			log.Printf("frame attempt at %.1fs failed for %s: %v", effective, filepath.Base(videoPath), err)
			continue
		}
		return frameResult{Path: path, OK: true}
	}
	return frameResult{}
}

// candidateTimestamps builds the strategy ladder: the exact timestamp, a
// small neighborhood around it, then fixed safe fractions of the duration.
// Every candidate satisfies 0 < t < duration; a requested timestamp at or
// past end-of-file is never passed through unchanged.
func candidateTimestamps(requested, duration float64) []float64 {
	var candidates []float64
	add := func(t float64) {
		if t <= 0 || t >= duration {
			return
		}
		for _, existing := range candidates {
			if math.Abs(existing-t) < 0.25 {
				return
			}
		}
		candidates = append(candidates, t)
	}
	add(requested)
	add(requested - 2)
	add(requested + 2)
	for _, fraction := range []float64{0.1, 0.3, 0.5} {
		add(duration * fraction)
	}
	return candidates
}

// grabFrame runs one extraction attempt with its own timeout and rejects
// undersized output.
func (f *FrameExtractor) grabFrame(ctx context.Context, videoPath string, timestamp float64) (string, error) {
	outPath := filepath.Join(f.frameDir, fmt.Sprintf("frame_%s.jpg", core.NewID()))
	timeout := time.Duration(f.cfg.FrameTimeoutSeconds) * time.Second
	err := runFFmpeg(ctx, timeout,
		"-ss", fmt.Sprintf("%.2f", timestamp),
		"-i", videoPath,
		"-frames:v", "1", "-q:v", "2",
		outPath)
	if err != nil {
		_ = os.Remove(outPath)
		return "", err
	}
	info, err := os.Stat(outPath)
	if err != nil {
		return "", fmt.Errorf("frame file missing: %w", err)
	}
	if info.Size() < f.cfg.MinFrameBytes {
		_ = os.Remove(outPath)
		return "", fmt.Errorf("frame file undersized (%d bytes)", info.Size())
	}
	return outPath, nil
}
