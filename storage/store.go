package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"math"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/milvus-io/milvus-sdk-go/v2/client"
	"github.com/milvus-io/milvus-sdk-go/v2/entity"
	"github.com/pgvector/pgvector-go"

	"clipCurator/config"
	"clipCurator/core"
)

// Embedder is the embedding dependency of the API-backed stores. The
// processors package provides the production implementation.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// VectorStore is the retrieval collaborator boundary: transcript fragments
// go in per video, references come out per query. The engine treats every
// returned Reference as untrusted input.
type VectorStore interface {
	Upsert(videoID string, fragments []core.Fragment) int
	Search(query string, topK int) []core.Reference
}

// scoredFragment is one raw search hit before grouping into references.
type scoredFragment struct {
	VideoID  string
	Fragment core.Fragment
	Score    float64
}

// referencesFromHits groups hits by source video, one Reference per video,
// carrying the hit fragments as a JSON payload the transcript parser can
// recover entries from.
func referencesFromHits(hits []scoredFragment) []core.Reference {
	byVideo := make(map[string][]scoredFragment)
	var order []string
	for _, h := range hits {
		if _, ok := byVideo[h.VideoID]; !ok {
			order = append(order, h.VideoID)
		}
		byVideo[h.VideoID] = append(byVideo[h.VideoID], h)
	}

	var refs []core.Reference
	for _, videoID := range order {
		group := byVideo[videoID]
		sort.Slice(group, func(i, j int) bool {
			return group[i].Fragment.Start < group[j].Fragment.Start
		})
		best := 0.0
		entries := make([]map[string]any, 0, len(group))
		for _, h := range group {
			if h.Score > best {
				best = h.Score
			}
			entries = append(entries, map[string]any{
				"text":  h.Fragment.Text,
				"start": h.Fragment.Start,
				"end":   h.Fragment.End,
			})
		}
		payload, err := json.Marshal(entries)
		if err != nil {
			continue
		}
		refs = append(refs, core.Reference{
			RawContent: string(payload),
			StorageURI: videoID,
			Score:      best,
		})
	}
	sort.SliceStable(refs, func(i, j int) bool { return refs[i].Score > refs[j].Score })
	return refs
}

// NewVectorStore selects a backend by the STORE environment variable
// (milvus, pgvector, anything else means in-memory). Backend setup failures
// fall back to the memory store so retrieval keeps working.
func NewVectorStore(cfg *config.Config, embedder Embedder) VectorStore {
	storeKind := strings.ToLower(strings.TrimSpace(os.Getenv("STORE")))
	switch storeKind {
	case "milvus":
		if embedder == nil {
			config.PrintConfigInstructions()
			log.Printf("API configuration required for Milvus store, falling back to memory store")
			break
		}
		s, err := newMilvusVectorStore(embedder)
		if err != nil {
			log.Printf("Milvus store unavailable (%v), falling back to memory store", err)
			break
		}
		return s
	case "pgvector":
		if embedder == nil {
			config.PrintConfigInstructions()
			log.Printf("API configuration required for PgVector store, falling back to memory store")
			break
		}
		s, err := newPgVectorStore(cfg, embedder)
		if err != nil {
			log.Printf("PgVector store unavailable (%v), falling back to memory store", err)
			break
		}
		return s
	}
	return NewMemoryVectorStore()
}

// ---------------- Memory implementation ----------------

// MemoryVectorStore keeps fragments in process memory with term-frequency
// pseudo-embeddings, so retrieval works without any API or database.
type MemoryVectorStore struct {
	mu   sync.RWMutex
	docs map[string][]memoryDoc
}

type memoryDoc struct {
	fragment core.Fragment
	terms    map[string]float64
}

func NewMemoryVectorStore() *MemoryVectorStore {
	return &MemoryVectorStore{docs: make(map[string][]memoryDoc)}
}

func (s *MemoryVectorStore) Upsert(videoID string, fragments []core.Fragment) int {
	docs := make([]memoryDoc, 0, len(fragments))
	for _, f := range fragments {
		if strings.TrimSpace(f.Text) == "" || f.End <= f.Start {
			continue
		}
		docs = append(docs, memoryDoc{fragment: f, terms: termVector(f.Text)})
	}
	s.mu.Lock()
	s.docs[videoID] = docs
	s.mu.Unlock()
	return len(docs)
}

func (s *MemoryVectorStore) Search(query string, topK int) []core.Reference {
	if topK <= 0 {
		topK = 5
	}
	queryTerms := termVector(query)

	s.mu.RLock()
	var hits []scoredFragment
	for videoID, docs := range s.docs {
		for _, d := range docs {
			score := termCosine(queryTerms, d.terms)
			if score <= 0 {
				continue
			}
			hits = append(hits, scoredFragment{VideoID: videoID, Fragment: d.fragment, Score: score})
		}
	}
	s.mu.RUnlock()

	sort.Slice(hits, func(i, j int) bool { return hits[i].Score > hits[j].Score })
	if len(hits) > topK {
		hits = hits[:topK]
	}
	return referencesFromHits(hits)
}

func termVector(text string) map[string]float64 {
	terms := make(map[string]float64)
	for _, tok := range strings.Fields(strings.ToLower(text)) {
		terms[strings.Trim(tok, ".,!?;:\"'()")]++
	}
	delete(terms, "")
	return terms
}

func termCosine(a, b map[string]float64) float64 {
	var dot, normA, normB float64
	for term, wa := range a {
		normA += wa * wa
		if wb, ok := b[term]; ok {
			dot += wa * wb
		}
	}
	for _, wb := range b {
		normB += wb * wb
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

// ---------------- PgVector implementation ----------------

const embeddingDim = 1536

type PgVectorStore struct {
	conn     *pgx.Conn
	embedder Embedder
}

func newPgVectorStore(cfg *config.Config, embedder Embedder) (*PgVectorStore, error) {
	dbURL := cfg.PostgresURL
	if dbURL == "" {
		dbURL = os.Getenv("DATABASE_URL")
	}
	if dbURL == "" {
		return nil, fmt.Errorf("postgres_url not configured")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	conn, err := pgx.Connect(ctx, dbURL)
	if err != nil {
		return nil, fmt.Errorf("connect to postgres: %w", err)
	}
	if err := conn.Ping(ctx); err != nil {
		_ = conn.Close(ctx)
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	s := &PgVectorStore{conn: conn, embedder: embedder}
	if err := s.ensureTable(ctx); err != nil {
		_ = conn.Close(ctx)
		return nil, err
	}
	return s, nil
}

func (s *PgVectorStore) ensureTable(ctx context.Context) error {
	if _, err := s.conn.Exec(ctx, "CREATE EXTENSION IF NOT EXISTS vector;"); err != nil {
		return fmt.Errorf("create vector extension: %w", err)
	}
	tableQuery := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS clip_fragments (
			id SERIAL PRIMARY KEY,
			video_id VARCHAR(255) NOT NULL,
			fragment_id VARCHAR(255) NOT NULL,
			start_time FLOAT NOT NULL,
			end_time FLOAT NOT NULL,
			text TEXT NOT NULL,
			embedding vector(%d),
			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
			UNIQUE(video_id, fragment_id)
		);
	`, embeddingDim)
	if _, err := s.conn.Exec(ctx, tableQuery); err != nil {
		return fmt.Errorf("create clip_fragments table: %w", err)
	}
	indexes := []string{
		"CREATE INDEX IF NOT EXISTS idx_clip_fragments_video_id ON clip_fragments(video_id);",
		"CREATE INDEX IF NOT EXISTS idx_clip_fragments_embedding ON clip_fragments USING ivfflat (embedding vector_cosine_ops) WITH (lists = 100);",
	}
	for _, q := range indexes {
		if _, err := s.conn.Exec(ctx, q); err != nil {
			log.Printf("index creation skipped: %v", err)
		}
	}
	return nil
}

func (s *PgVectorStore) Upsert(videoID string, fragments []core.Fragment) int {
	ctx := context.Background()
	count := 0
	for _, f := range fragments {
		if strings.TrimSpace(f.Text) == "" || f.End <= f.Start {
			continue
		}
		embedding, err := s.embedder.Embed(ctx, strings.ToLower(f.Text))
		if err != nil {
			log.Printf("skipping fragment %.1f-%.1f of %s: %v", f.Start, f.End, videoID, err)
			continue
		}
		fragmentID := f.ID
		if fragmentID == "" {
			fragmentID = fmt.Sprintf("%s_%.2f", videoID, f.Start)
		}
		_, err = s.conn.Exec(ctx, `
			INSERT INTO clip_fragments (video_id, fragment_id, start_time, end_time, text, embedding)
			VALUES ($1, $2, $3, $4, $5, $6)
			ON CONFLICT (video_id, fragment_id)
			DO UPDATE SET
				start_time = EXCLUDED.start_time,
				end_time = EXCLUDED.end_time,
				text = EXCLUDED.text,
				embedding = EXCLUDED.embedding
		`, videoID, fragmentID, f.Start, f.End, f.Text, pgvector.NewVector(embedding))
		if err != nil {
			log.Printf("insert fragment failed for %s: %v", videoID, err)
			continue
		}
		count++
	}
	return count
}

func (s *PgVectorStore) Search(query string, topK int) []core.Reference {
	if topK <= 0 {
		topK = 5
	}
	ctx := context.Background()
	queryEmbedding, err := s.embedder.Embed(ctx, strings.ToLower(query))
	if err != nil {
		log.Printf("query embedding failed: %v", err)
		return nil
	}

	rows, err := s.conn.Query(ctx, `
		SELECT video_id, fragment_id, start_time, end_time, text,
		       1 - (embedding <=> $1) AS similarity
		FROM clip_fragments
		ORDER BY embedding <=> $1
		LIMIT $2
	`, pgvector.NewVector(queryEmbedding), topK)
	if err != nil {
		log.Printf("pgvector search failed: %v", err)
		return nil
	}
	defer rows.Close()

	var hits []scoredFragment
	for rows.Next() {
		var h scoredFragment
		if err := rows.Scan(&h.VideoID, &h.Fragment.ID, &h.Fragment.Start, &h.Fragment.End, &h.Fragment.Text, &h.Score); err != nil {
			continue
		}
		hits = append(hits, h)
	}
	return referencesFromHits(hits)
}

// ---------------- Milvus implementation ----------------

type MilvusVectorStore struct {
	mc       client.Client
	coll     string
	dim      int
	embedder Embedder
}

func newMilvusVectorStore(embedder Embedder) (*MilvusVectorStore, error) {
	addr := os.Getenv("MILVUS_ADDR")
	if addr == "" {
		addr = "localhost:19530"
	}
	coll := os.Getenv("MILVUS_COLLECTION")
	if coll == "" {
		coll = "clip_fragments"
	}

	mc, err := client.NewClient(context.Background(), client.Config{
		Address:  addr,
		Username: os.Getenv("MILVUS_USERNAME"),
		Password: os.Getenv("MILVUS_PASSWORD"),
		APIKey:   os.Getenv("MILVUS_API_KEY"),
	})
	if err != nil {
		return nil, fmt.Errorf("connect milvus: %w", err)
	}

	s := &MilvusVectorStore{mc: mc, coll: coll, dim: embeddingDim, embedder: embedder}
	if err := s.ensureSchemaAndIndex(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *MilvusVectorStore) ensureSchemaAndIndex() error {
	ctx := context.Background()
	has, err := s.mc.HasCollection(ctx, s.coll)
	if err != nil {
		return err
	}
	if !has {
		schema := entity.NewSchema()
		schema.WithField(entity.NewField().WithName("id").WithIsAutoID(true).WithIsPrimaryKey(true).WithDataType(entity.FieldTypeInt64))
		schema.WithField(entity.NewField().WithName("video_id").WithDataType(entity.FieldTypeVarChar).WithMaxLength(255))
		schema.WithField(entity.NewField().WithName("start").WithDataType(entity.FieldTypeDouble))
		schema.WithField(entity.NewField().WithName("end").WithDataType(entity.FieldTypeDouble))
		schema.WithField(entity.NewField().WithName("text").WithDataType(entity.FieldTypeVarChar).WithMaxLength(4096))
		schema.WithField(entity.NewField().WithName("vector").WithDataType(entity.FieldTypeFloatVector).WithDim(int64(s.dim)))
		if err := s.mc.CreateCollection(ctx, schema, int32(2)); err != nil {
			return fmt.Errorf("create collection: %w", err)
		}
	}
	idx, err := entity.NewIndexHNSW(entity.COSINE, 8, 200)
	if err != nil {
		return fmt.Errorf("new hnsw index: %w", err)
	}
	if err := s.mc.CreateIndex(ctx, s.coll, "vector", idx, false, client.WithIndexName("idx_vector")); err != nil {
		return fmt.Errorf("create index: %w", err)
	}
	if err := s.mc.LoadCollection(ctx, s.coll, false); err != nil {
		return fmt.Errorf("load collection: %w", err)
	}
	return nil
}

func (s *MilvusVectorStore) Upsert(videoID string, fragments []core.Fragment) int {
	ctx := context.Background()
	videoIDs := make([]string, 0, len(fragments))
	starts := make([]float64, 0, len(fragments))
	ends := make([]float64, 0, len(fragments))
	texts := make([]string, 0, len(fragments))
	vectors := make([][]float32, 0, len(fragments))

	for _, f := range fragments {
		if strings.TrimSpace(f.Text) == "" || f.End <= f.Start {
			continue
		}
		v, err := s.embedder.Embed(ctx, strings.ToLower(f.Text))
		if err != nil {
			log.Printf("skipping fragment %.1f-%.1f of %s: %v", f.Start, f.End, videoID, err)
			continue
		}
		videoIDs = append(videoIDs, videoID)
		starts = append(starts, f.Start)
		ends = append(ends, f.End)
		texts = append(texts, f.Text)
		vectors = append(vectors, v)
	}
	if len(vectors) == 0 {
		return 0
	}

	_, err := s.mc.Insert(ctx, s.coll, "",
		entity.NewColumnVarChar("video_id", videoIDs),
		entity.NewColumnDouble("start", starts),
		entity.NewColumnDouble("end", ends),
		entity.NewColumnVarChar("text", texts),
		entity.NewColumnFloatVector("vector", s.dim, vectors),
	)
	if err != nil {
		log.Printf("milvus insert failed: %v", err)
		return 0
	}
	return len(vectors)
}

func (s *MilvusVectorStore) Search(query string, topK int) []core.Reference {
	if topK <= 0 {
		topK = 5
	}
	ctx := context.Background()
	v, err := s.embedder.Embed(ctx, strings.ToLower(query))
	if err != nil {
		log.Printf("query embedding failed: %v", err)
		return nil
	}

	sp, _ := entity.NewIndexHNSWSearchParam(74)
	res, err := s.mc.Search(ctx, s.coll, []string{}, "",
		[]string{"video_id", "start", "end", "text"},
		[]entity.Vector{entity.FloatVector(v)}, "vector", entity.COSINE, topK, sp)
	if err != nil {
		log.Printf("milvus search failed: %v", err)
		return nil
	}

	var hits []scoredFragment
	for _, r := range res {
		cols := map[string]entity.Column{}
		for _, c := range r.Fields {
			cols[c.Name()] = c
		}
		for i := 0; i < r.ResultCount; i++ {
			var h scoredFragment
			if c, ok := cols["video_id"].(*entity.ColumnVarChar); ok {
				if data := c.Data(); i < len(data) {
					h.VideoID = data[i]
				}
			}
			if c, ok := cols["start"].(*entity.ColumnDouble); ok {
				if data := c.Data(); i < len(data) {
					h.Fragment.Start = data[i]
				}
			}
			if c, ok := cols["end"].(*entity.ColumnDouble); ok {
				if data := c.Data(); i < len(data) {
					h.Fragment.End = data[i]
				}
			}
			if c, ok := cols["text"].(*entity.ColumnVarChar); ok {
				if data := c.Data(); i < len(data) {
					h.Fragment.Text = data[i]
				}
			}
			h.Score = float64(r.Scores[i])
			hits = append(hits, h)
		}
	}
	return referencesFromHits(hits)
}
