package processors

import (
	"context"
	"fmt"
	"log"
	"path/filepath"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"clipCurator/config"
	"clipCurator/core"
)

// Engine composes the parser, resolver, segmenter, curator, assembler and
// frame extractor behind the two caller-facing operations. It is transport
// agnostic; the HTTP layer is a thin wrapper around it.
type Engine struct {
	cfg       *config.Config
	cache     *core.ContentCache
	llm       LLMClient
	embedder  Embedder
	segmenter *Segmenter
	curator   *Curator
	assembler *Assembler
	frames    *FrameExtractor
	videoDir  string
}

// NewEngine wires the engine with OpenAI collaborators when credentials are
// configured. Without them every stage runs its deterministic fallback.
func NewEngine(cfg *config.Config) *Engine {
	cache := core.NewContentCache(24*time.Hour, 30*time.Minute)
	var embedder Embedder
	if e := NewOpenAIEmbedder(cfg, cache); e != nil {
		embedder = e
	}
	var llm LLMClient
	if c := NewOpenAILLM(cfg); c != nil {
		llm = c
	}
	return NewEngineWithClients(cfg, llm, embedder, cache)
}

// NewEngineWithClients injects collaborators and cache directly; tests use
// this with mocks.
func NewEngineWithClients(cfg *config.Config, llm LLMClient, embedder Embedder, cache *core.ContentCache) *Engine {
	if cache == nil {
		cache = core.NewContentCache(24*time.Hour, 30*time.Minute)
	}
	if llm != nil && llm.Available() {
		log.Printf("llm collaborator ready: %s", llm.Provider())
	}
	return &Engine{
		cfg:       cfg,
		cache:     cache,
		llm:       llm,
		embedder:  embedder,
		segmenter: NewSegmenter(cfg, embedder),
		curator:   NewCurator(cfg, llm),
		assembler: NewAssembler(cfg, cache),
		frames:    NewFrameExtractor(cfg, cache),
		videoDir:  cfg.VideoDir,
	}
}

// CurateClips turns retrieved references plus the query into a ranked,
// bounded clip list. It returns an error only when no video files exist at
// all; every other failure degrades to fewer or fallback clips.
func (e *Engine) CurateClips(ctx context.Context, references []core.Reference, query, contextText string) ([]core.Clip, error) {
	videoFiles := ListVideoFiles(e.videoDir)
	if len(videoFiles) == 0 {
		return nil, fmt.Errorf("no video files available in %s", e.videoDir)
	}

	var mu sync.Mutex
	var candidates []core.Clip

	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(e.cfg.MaxParallelReferences)
	for _, ref := range references {
		ref := ref
		group.Go(func() error {
			clips := e.curateReference(groupCtx, ref, videoFiles, query, contextText)
			if len(clips) > 0 {
				mu.Lock()
				candidates = append(candidates, clips...)
				mu.Unlock()
			}
			return nil
		})
	}
	if err := group.Wait(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	final := e.curator.Rank(ctx, candidates, query, contextText, e.cfg.MaxClips)
	if len(final) > 0 {
		return final, nil
	}

	log.Printf("no clips survived curation for %q, synthesizing fallback clips", query)
	fallback := e.curator.FallbackClips(e.videoDir, e.fallbackSources(references, videoFiles), query)
	if len(fallback) == 0 {
		return nil, fmt.Errorf("could not synthesize fallback clips from %d videos", len(videoFiles))
	}
	return fallback, nil
}

// curateReference runs parse -> resolve -> segment -> curate for one
// reference. All failures are local: they yield zero clips, never an error.
func (e *Engine) curateReference(ctx context.Context, ref core.Reference, videoFiles []string, query, contextText string) []core.Clip {
	entries := ParseTranscript(ref.RawContent)
	if len(entries) < 2 {
		log.Printf("reference %s yielded %d entries, skipping", ref.StorageURI, len(entries))
		return nil
	}

	videoFile := ResolveVideoFile(ref.StorageURI, videoFiles)
	if videoFile == "" {
		log.Printf("no video resolves for %s, skipping reference", ref.StorageURI)
		return nil
	}
	videoPath := filepath.Join(e.videoDir, videoFile)

	windows := e.segmenter.Segment(ctx, entries, query)
	if len(windows) == 0 {
		return nil
	}
	return e.curator.Curate(ctx, windows, videoPath, query, contextText)
}

// fallbackSources orders the available videos for fallback synthesis,
// putting the approximate match for the first reference ahead so the
// synthesized clips stay as close to the request as a guess allows.
func (e *Engine) fallbackSources(references []core.Reference, videoFiles []string) []string {
	if len(references) == 0 {
		return videoFiles
	}
	guess := ResolveApproximate(references[0].StorageURI, videoFiles)
	if guess == "" {
		return videoFiles
	}
	ordered := []string{guess}
	for _, f := range videoFiles {
		if f != guess {
			ordered = append(ordered, f)
		}
	}
	return ordered
}

// AssembleVideo renders the segments into one output file, or fails
// explicitly. It never returns a partial file.
func (e *Engine) AssembleVideo(ctx context.Context, segments []core.AssemblySegment) (string, error) {
	if len(segments) == 0 {
		return "", fmt.Errorf("no segments to assemble")
	}
	return e.assembler.Assemble(ctx, segments)
}

// ExtractFrame serves the document-export path: one still frame with retry.
func (e *Engine) ExtractFrame(ctx context.Context, videoPath string, timestamp float64) (string, error) {
	return e.frames.ExtractFrameWithRetry(ctx, videoPath, timestamp)
}

// CacheStats exposes shared cache counters for the stats endpoint.
func (e *Engine) CacheStats() core.CacheMetricsSnapshot {
	return e.cache.Stats()
}

// VideoDir returns the directory the engine resolves videos against.
func (e *Engine) VideoDir() string { return e.videoDir }

// EmbedderClient exposes the engine's embedder so the retrieval store can
// share its memoization cache. Nil when no API is configured.
func (e *Engine) EmbedderClient() Embedder { return e.embedder }

// Close releases the engine's cache sweeper.
func (e *Engine) Close() {
	e.cache.Close()
}
