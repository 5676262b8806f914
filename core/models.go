package core

// ========== Transcript structures ==========

// TranscriptEntry is one sentence-level transcript record recovered from a
// reference payload. Entries are immutable once parsed and always satisfy
// end > start >= 0.
type TranscriptEntry struct {
	Text       string  `json:"text"`
	Start      float64 `json:"start"`
	End        float64 `json:"end"`
	Confidence float64 `json:"confidence,omitempty"`
}

// Duration returns the entry span in seconds.
func (e TranscriptEntry) Duration() float64 {
	return e.End - e.Start
}

// Fragment is a transcript piece as stored in the vector index.
type Fragment struct {
	ID    string  `json:"id"`
	Text  string  `json:"text"`
	Start float64 `json:"start"`
	End   float64 `json:"end"`
}

// Reference is a retrieved transcript fragment handed to the engine by the
// retrieval collaborator. Treated as untrusted input: RawContent may be any
// encoding and StorageURI may not resolve to a real file.
type Reference struct {
	RawContent string  `json:"raw_content"`
	StorageURI string  `json:"storage_uri"`
	Score      float64 `json:"score"`
}

// ========== Curation structures ==========

// Window groups consecutive transcript entries into one semantic unit
// considered for clip extraction. Windows with fewer than 2 entries are
// invalid and discarded before scoring.
type Window struct {
	Entries    []TranscriptEntry `json:"entries"`
	Similarity float64           `json:"similarity"`
	JoinedText string            `json:"joined_text"`
	StartTime  float64           `json:"start_time"`
	EndTime    float64           `json:"end_time"`
}

// Clip is a finalized, bounded time range in a specific video judged
// relevant to a query.
type Clip struct {
	Title          string   `json:"title"`
	Description    string   `json:"description"`
	VideoPath      string   `json:"video_path"`
	StartTime      float64  `json:"start_time"`
	EndTime        float64  `json:"end_time"`
	Transcript     string   `json:"transcript"`
	RelevanceScore float64  `json:"relevance_score"`
	QualityScore   float64  `json:"quality_score"`
	KeyTopics      []string `json:"key_topics,omitempty"`
	SourceID       string   `json:"source_id"`
	AIGenerated    bool     `json:"ai_generated"`
	Reasoning      string   `json:"reasoning,omitempty"`
	IsFallback     bool     `json:"is_fallback"`
}

func (c Clip) Duration() float64 {
	return c.EndTime - c.StartTime
}

// ========== Assembly structures ==========

// Assembly segment kinds.
const (
	SegmentClip       = "clip"
	SegmentTitle      = "title"
	SegmentSection    = "section_title"
	SegmentTransition = "transition"
	SegmentConclusion = "conclusion"
)

// AssemblySegment is one unit of the final rendered video: a content
// segment backed by a Clip, or a structural one (title card, transition)
// carrying only display text and a target duration.
type AssemblySegment struct {
	Kind     string  `json:"kind"`
	Clip     *Clip   `json:"clip,omitempty"`
	Text     string  `json:"text,omitempty"`
	Duration float64 `json:"duration,omitempty"`
}

// IsContent reports whether the segment carries clip content rather than
// synthetic title/transition material.
func (s AssemblySegment) IsContent() bool {
	return s.Kind == SegmentClip && s.Clip != nil
}

// ========== Request / response types ==========

type CurateRequest struct {
	Query      string      `json:"query"`
	Context    string      `json:"context,omitempty"`
	References []Reference `json:"references"`
	MaxClips   int         `json:"max_clips,omitempty"`
}

type CurateResponse struct {
	JobID   string `json:"job_id"`
	Query   string `json:"query"`
	Clips   []Clip `json:"clips"`
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

type AssembleRequest struct {
	JobID    string            `json:"job_id,omitempty"`
	Segments []AssemblySegment `json:"segments"`
}

type AssembleResponse struct {
	JobID      string `json:"job_id"`
	OutputPath string `json:"output_path,omitempty"`
	Status     string `json:"status"`
	Message    string `json:"message,omitempty"`
}

type FrameRequest struct {
	VideoPath string  `json:"video_path"`
	Timestamp float64 `json:"timestamp"`
}

type FrameResponse struct {
	FramePath string `json:"frame_path,omitempty"`
	Status    string `json:"status"`
	Message   string `json:"message,omitempty"`
}

type IngestRequest struct {
	VideoID   string     `json:"video_id"`
	Fragments []Fragment `json:"fragments"`
}

type IngestResponse struct {
	VideoID string `json:"video_id"`
	Count   int    `json:"count"`
	Status  string `json:"status"`
}
