package processors

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"clipCurator/config"
	"clipCurator/core"
)

// newTestEngine wires an engine against a temp video directory holding the
// named (empty) video files.
func newTestEngine(t *testing.T, cfg *config.Config, llm LLMClient, embedder Embedder, videoFiles ...string) *Engine {
	t.Helper()
	dir := t.TempDir()
	for _, name := range videoFiles {
		if err := os.WriteFile(filepath.Join(dir, name), []byte("stub"), 0o644); err != nil {
			t.Fatalf("write stub video: %v", err)
		}
	}
	cfg.VideoDir = dir
	cache := core.NewContentCache(time.Hour, time.Hour)
	t.Cleanup(cache.Close)
	engine := NewEngineWithClients(cfg, llm, embedder, cache)
	return engine
}

func referencePayload(t *testing.T, entries []core.TranscriptEntry) string {
	t.Helper()
	b, err := json.Marshal(entries)
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}
	return string(b)
}

func TestCurateClipsEndToEnd(t *testing.T) {
	cfg := newTestConfig()
	llm := &MockLLM{Responses: []string{approvingJudgment(0.8)}}
	engine := newTestEngine(t, cfg, llm, nil, "lecture.mp4")

	refs := []core.Reference{{
		RawContent: referencePayload(t, sixEntries()),
		StorageURI: "lecture_sentences.json",
		Score:      0.9,
	}}
	clips, err := engine.CurateClips(context.Background(), refs, "how does indexing work", "")
	if err != nil {
		t.Fatalf("curate failed: %v", err)
	}
	if len(clips) < 1 || len(clips) > 2 {
		t.Fatalf("expected 1-2 clips, got %d", len(clips))
	}
	for i, clip := range clips {
		if clip.StartTime < 0 {
			t.Errorf("clip %d negative start", i)
		}
		if d := clip.Duration(); d < cfg.MinClipSeconds || d > cfg.MaxClipSeconds {
			t.Errorf("clip %d duration %v outside [%v, %v]", i, d, cfg.MinClipSeconds, cfg.MaxClipSeconds)
		}
		if clip.IsFallback {
			t.Errorf("clip %d flagged fallback on the primary path", i)
		}
		if filepath.Base(clip.VideoPath) != "lecture.mp4" {
			t.Errorf("clip %d resolved wrong video: %s", i, clip.VideoPath)
		}
	}
}

func TestCurateClipsZeroReferences(t *testing.T) {
	cfg := newTestConfig()
	engine := newTestEngine(t, cfg, nil, nil, "a.mp4", "b.mp4")

	clips, err := engine.CurateClips(context.Background(), nil, "anything", "")
	if err != nil {
		t.Fatalf("expected fallback clips, got error: %v", err)
	}
	if len(clips) == 0 {
		t.Fatalf("zero references with videos present must yield fallback clips")
	}
	for i, clip := range clips {
		if !clip.IsFallback {
			t.Errorf("clip %d not flagged isFallback", i)
		}
		if clip.EndTime <= clip.StartTime {
			t.Errorf("clip %d inverted", i)
		}
	}
}

func TestCurateClipsNoVideosIsTerminal(t *testing.T) {
	cfg := newTestConfig()
	engine := newTestEngine(t, cfg, nil, nil) // empty video dir

	if _, err := engine.CurateClips(context.Background(), nil, "q", ""); err == nil {
		t.Fatalf("expected terminal error with zero video files")
	}
}

func TestCurateClipsFailingLLMStillSucceeds(t *testing.T) {
	cfg := newTestConfig()
	llm := &MockLLM{Err: fmt.Errorf("llm down")}
	engine := newTestEngine(t, cfg, llm, nil, "lecture.mp4")

	refs := []core.Reference{{
		RawContent: referencePayload(t, sixEntries()),
		StorageURI: "lecture_sentences.json",
	}}
	clips, err := engine.CurateClips(context.Background(), refs, "indexing", "")
	if err != nil {
		t.Fatalf("LLM failure must not fail the request: %v", err)
	}
	if len(clips) == 0 {
		t.Fatalf("expected non-empty result with failing LLM")
	}
	for i, clip := range clips {
		if clip.EndTime <= clip.StartTime {
			t.Errorf("clip %d inverted: %+v", i, clip)
		}
	}
}

func TestCurateClipsUnresolvableReference(t *testing.T) {
	cfg := newTestConfig()
	llm := &MockLLM{Responses: []string{approvingJudgment(0.8)}}
	engine := newTestEngine(t, cfg, llm, nil, "other_video.mp4")

	refs := []core.Reference{{
		RawContent: referencePayload(t, sixEntries()),
		StorageURI: "lecture_sentences.json", // resolves to nothing
	}}
	clips, err := engine.CurateClips(context.Background(), refs, "indexing", "")
	if err != nil {
		t.Fatalf("unresolvable reference must degrade, not fail: %v", err)
	}
	// Nothing matched structurally, so the result is synthesized fallback.
	for i, clip := range clips {
		if !clip.IsFallback {
			t.Errorf("clip %d should be fallback when resolution fails closed", i)
		}
	}
	if len(clips) == 0 {
		t.Fatalf("expected fallback clips")
	}
}

func TestAssembleVideoEmptyInput(t *testing.T) {
	cfg := newTestConfig()
	engine := newTestEngine(t, cfg, nil, nil, "a.mp4")
	if _, err := engine.AssembleVideo(context.Background(), nil); err == nil {
		t.Fatalf("expected error for empty segment list")
	}
}
