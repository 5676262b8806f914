package processors

import (
	"fmt"

	"clipCurator/config"
	"clipCurator/core"
)

func newTestConfig() *config.Config {
	return &config.Config{
		VideoDir:          "videos",
		DataDir:           "data",
		WindowSpanSeconds: 45,
		WindowTopN:        6,
		MinSimilarity:     0.1,
		FallbackChunkSize: 8,

		MinLLMScore:          0.5,
		MinRelevanceScore:    0.3,
		ContextBufferSeconds: 3,
		MinClipSeconds:       5,
		MaxClipSeconds:       90,
		TargetClipSeconds:    45,
		MaxClips:             5,
		RankBatchCeiling:     8,

		ExtractTimeoutSeconds: 45,
		FrameTimeoutSeconds:   10,
		TrailingBufferSeconds: 2,
		MinFrameBytes:         1024,
		FrameRetryLimit:       3,
		MaxParallelReferences: 4,
		MaxParallelWindows:    4,
	}
}

// sixEntries spans 0-50s, the shape the end-to-end scenarios use.
func sixEntries() []core.TranscriptEntry {
	entries := make([]core.TranscriptEntry, 6)
	for i := range entries {
		start := float64(i) * 8
		entries[i] = core.TranscriptEntry{
			Text:       fmt.Sprintf("sentence %d about database indexing", i),
			Start:      start,
			End:        start + 8,
			Confidence: 1,
		}
	}
	entries[5].End = 50
	return entries
}

func approvingJudgment(relevance float64) string {
	return fmt.Sprintf(`{
		"include": true,
		"relevance_score": %.2f,
		"quality_score": 0.7,
		"title": "Indexing basics",
		"description": "Covers index structure",
		"key_topics": ["indexing"],
		"optimal_start_offset": 0,
		"optimal_end_offset": 0,
		"reasoning": "directly answers the question"
	}`, relevance)
}
