package server

import (
	"encoding/json"
	"log"
	"net/http"
	"time"

	"clipCurator/core"
	"clipCurator/processors"
	"clipCurator/storage"
)

// Server is the thin HTTP wrapper around the engine and the retrieval store.
type Server struct {
	engine    *processors.Engine
	store     storage.VectorStore
	startedAt time.Time
}

func NewServer(engine *processors.Engine, store storage.VectorStore) *Server {
	return &Server{engine: engine, store: store, startedAt: time.Now()}
}

func (s *Server) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/curate-clips", s.curateClipsHandler)
	mux.HandleFunc("/assemble-video", s.assembleVideoHandler)
	mux.HandleFunc("/extract-frame", s.extractFrameHandler)
	mux.HandleFunc("/ingest-transcript", s.ingestTranscriptHandler)
	mux.HandleFunc("/health", s.healthHandler)
	mux.HandleFunc("/cache-stats", s.cacheStatsHandler)
}

func (s *Server) curateClipsHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		core.WriteJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
		return
	}
	var req core.CurateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		core.WriteJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid json"})
		return
	}
	if req.Query == "" {
		core.WriteJSON(w, http.StatusBadRequest, map[string]string{"error": "query required"})
		return
	}

	jobID := core.NewID()
	references := req.References
	if len(references) == 0 && s.store != nil {
		// No references supplied: run retrieval ourselves.
		references = s.store.Search(req.Query, 10)
	}

	clips, err := s.engine.CurateClips(r.Context(), references, req.Query, req.Context)
	if err != nil {
		log.Printf("curate %s failed: %v", jobID, err)
		core.WriteJSON(w, http.StatusUnprocessableEntity, core.CurateResponse{
			JobID: jobID, Query: req.Query, Status: "failed", Message: err.Error(),
		})
		return
	}
	core.WriteJSON(w, http.StatusOK, core.CurateResponse{
		JobID: jobID, Query: req.Query, Clips: clips, Status: "ok",
	})
}

func (s *Server) assembleVideoHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		core.WriteJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
		return
	}
	var req core.AssembleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		core.WriteJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid json"})
		return
	}
	jobID := req.JobID
	if jobID == "" {
		jobID = core.NewID()
	}

	outPath, err := s.engine.AssembleVideo(r.Context(), req.Segments)
	if err != nil {
		log.Printf("assemble %s failed: %v", jobID, err)
		core.WriteJSON(w, http.StatusUnprocessableEntity, core.AssembleResponse{
			JobID: jobID, Status: "failed", Message: err.Error(),
		})
		return
	}
	core.WriteJSON(w, http.StatusOK, core.AssembleResponse{
		JobID: jobID, OutputPath: outPath, Status: "ok",
	})
}

func (s *Server) extractFrameHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		core.WriteJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
		return
	}
	var req core.FrameRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		core.WriteJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid json"})
		return
	}
	if req.VideoPath == "" {
		core.WriteJSON(w, http.StatusBadRequest, map[string]string{"error": "video_path required"})
		return
	}

	framePath, err := s.engine.ExtractFrame(r.Context(), req.VideoPath, req.Timestamp)
	if err != nil {
		core.WriteJSON(w, http.StatusUnprocessableEntity, core.FrameResponse{
			Status: "failed", Message: err.Error(),
		})
		return
	}
	core.WriteJSON(w, http.StatusOK, core.FrameResponse{FramePath: framePath, Status: "ok"})
}

func (s *Server) ingestTranscriptHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		core.WriteJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
		return
	}
	var req core.IngestRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		core.WriteJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid json"})
		return
	}
	if req.VideoID == "" {
		core.WriteJSON(w, http.StatusBadRequest, map[string]string{"error": "video_id required"})
		return
	}
	count := s.store.Upsert(req.VideoID, req.Fragments)
	core.WriteJSON(w, http.StatusOK, core.IngestResponse{VideoID: req.VideoID, Count: count, Status: "ok"})
}

func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	videos := processors.ListVideoFiles(s.engine.VideoDir())
	core.WriteJSON(w, http.StatusOK, map[string]any{
		"status":         "ok",
		"uptime_seconds": int(time.Since(s.startedAt).Seconds()),
		"video_count":    len(videos),
	})
}

func (s *Server) cacheStatsHandler(w http.ResponseWriter, r *http.Request) {
	core.WriteJSON(w, http.StatusOK, s.engine.CacheStats())
}
