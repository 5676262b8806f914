package config

import (
	"strings"
	"testing"
)

func TestDefaultConfigValid(t *testing.T) {
	cfg := defaultConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config must validate: %v", err)
	}
	if cfg.HasValidAPI() {
		t.Errorf("default config should not claim API credentials")
	}
}

func TestFillDefaultsRepairsBadValues(t *testing.T) {
	cfg := &Config{
		FallbackChunkSize: 1,  // below the 2-entry minimum
		MaxClipSeconds:    -1, // nonsense
		MinClipSeconds:    5,
	}
	fillDefaults(cfg)
	if cfg.FallbackChunkSize < 2 {
		t.Errorf("chunk size not repaired: %d", cfg.FallbackChunkSize)
	}
	if cfg.MaxClipSeconds <= cfg.MinClipSeconds {
		t.Errorf("max clip seconds not repaired: %v", cfg.MaxClipSeconds)
	}
	if cfg.MaxClips <= 0 || cfg.WindowTopN <= 0 {
		t.Errorf("count defaults missing: %+v", cfg)
	}
	if cfg.MaxParallelWindows <= 0 || cfg.MaxParallelReferences <= 0 {
		t.Errorf("parallelism defaults missing: %+v", cfg)
	}
}

func TestValidateCollectsAllProblems(t *testing.T) {
	cfg := &Config{
		MinClipSeconds: -1,
		MaxClipSeconds: -2,
		MinLLMScore:    3,
		MinSimilarity:  -0.5,
	}
	err := cfg.Validate()
	if err == nil {
		t.Fatalf("expected validation failure")
	}
	for _, want := range []string{"min_clip_seconds", "max_clip_seconds", "min_llm_score", "min_similarity", "window_span_seconds"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("validation error missing %s: %v", want, err)
		}
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("API_KEY", "test-key")
	t.Setenv("MAX_CLIPS", "7")
	t.Setenv("MIN_LLM_SCORE", "0.75")
	t.Setenv("MAX_CLIPS_BOGUS", "ignored")

	cfg := defaultConfig()
	applyEnvOverrides(cfg)
	if cfg.APIKey != "test-key" {
		t.Errorf("API_KEY override not applied")
	}
	if cfg.MaxClips != 7 {
		t.Errorf("MAX_CLIPS override not applied: %d", cfg.MaxClips)
	}
	if cfg.MinLLMScore != 0.75 {
		t.Errorf("MIN_LLM_SCORE override not applied: %v", cfg.MinLLMScore)
	}
}

func TestEnvOverrideRejectsInvalid(t *testing.T) {
	t.Setenv("MAX_CLIPS", "not-a-number")
	cfg := defaultConfig()
	before := cfg.MaxClips
	applyEnvOverrides(cfg)
	if cfg.MaxClips != before {
		t.Errorf("invalid MAX_CLIPS changed the value: %d", cfg.MaxClips)
	}
}
