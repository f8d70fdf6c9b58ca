// Package search implements retrieval over the knowledge and ticket
// template index backed by PostgreSQL + pgvector.
//
// Three modes, independently toggled: lexical (ts_rank_cd over a
// tsvector column), vector (cosine similarity over pgvector embeddings),
// and hybrid (weighted sum of both). An optional rerank pass re-scores
// the candidates by embedding similarity over title and content.
//
// The store returns raw scores; relevance thresholds are applied by the
// caller so the same store serves differently configured capabilities.
package search

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"strings"

	"github.com/firebase/genkit/go/ai"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"
)

// Hybrid score weights. Vector similarity dominates; lexical rank
// breaks ties and catches exact terminology the embedding misses.
const (
	weightVector = 0.6
	weightText   = 0.4
)

// MaxQueryLen bounds the query text sent to the embedder and to
// plainto_tsquery.
const MaxQueryLen = 2000

// Document is one knowledge base entry returned by SearchKnowledge.
type Document struct {
	ID            uuid.UUID
	ParentID      string
	Title         string
	Content       string
	Score         *float64
	RerankerScore *float64
}

// Template is one ticket template returned by SearchTemplates.
type Template struct {
	ID            uuid.UUID
	Name          string
	Category      string
	Description   string
	Priority      string
	Urgency       string
	AssignedGroup string
	Score         *float64
	RerankerScore *float64
}

// Options controls retrieval behavior. Zero TopK defaults to 5.
type Options struct {
	TopK            int
	UseTextSearch   bool
	UseVectorSearch bool
	UseReranker     bool
}

// Store runs retrieval queries against the index.
//
// Store is safe for concurrent use by multiple goroutines.
type Store struct {
	pool     *pgxpool.Pool
	embedder ai.Embedder
	logger   *slog.Logger
	opts     Options
}

// NewStore creates a search Store. The embedder may be nil only when
// vector search and reranking are both disabled.
func NewStore(pool *pgxpool.Pool, embedder ai.Embedder, opts Options, logger *slog.Logger) (*Store, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	if !opts.UseTextSearch && !opts.UseVectorSearch {
		return nil, fmt.Errorf("at least one of text or vector search must be enabled")
	}
	if embedder == nil && (opts.UseVectorSearch || opts.UseReranker) {
		return nil, fmt.Errorf("embedder is required for vector search or reranking")
	}
	if opts.TopK <= 0 {
		opts.TopK = 5
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{pool: pool, embedder: embedder, logger: logger, opts: opts}, nil
}

// embed generates a vector embedding for the given text.
func (s *Store) embed(ctx context.Context, text string) (pgvector.Vector, error) {
	resp, err := s.embedder.Embed(ctx, &ai.EmbedRequest{
		Input: []*ai.Document{ai.DocumentFromText(text, nil)},
	})
	if err != nil {
		return pgvector.Vector{}, fmt.Errorf("embedding text: %w", err)
	}
	if len(resp.Embeddings) == 0 || len(resp.Embeddings[0].Embedding) == 0 {
		return pgvector.Vector{}, fmt.Errorf("empty embedding response")
	}
	return pgvector.NewVector(resp.Embeddings[0].Embedding), nil
}

// sanitizeQuery bounds and cleans query text. Returns "" for queries
// that cannot be searched.
func sanitizeQuery(query string) string {
	query = strings.TrimSpace(query)
	if len(query) > MaxQueryLen {
		query = query[:MaxQueryLen]
	}
	if strings.ContainsRune(query, 0) {
		return ""
	}
	return query
}

// SearchKnowledge retrieves the top documents for a free-text query.
// The query text is used exactly as given.
func (s *Store) SearchKnowledge(ctx context.Context, query string) ([]*Document, error) {
	query = sanitizeQuery(query)
	if query == "" {
		return []*Document{}, nil
	}

	var vec pgvector.Vector
	if s.opts.UseVectorSearch || s.opts.UseReranker {
		var err error
		if vec, err = s.embed(ctx, query); err != nil {
			return nil, fmt.Errorf("embedding query: %w", err)
		}
	}

	rows, err := s.queryDocuments(ctx, query, vec)
	if err != nil {
		return nil, fmt.Errorf("searching documents: %w", err)
	}
	defer rows.Close()

	docs, err := scanDocuments(rows)
	if err != nil {
		return nil, err
	}

	if s.opts.UseReranker {
		if err := s.rerankDocuments(ctx, vec, docs); err != nil {
			return nil, fmt.Errorf("reranking documents: %w", err)
		}
	}
	return docs, nil
}

func (s *Store) queryDocuments(ctx context.Context, query string, vec pgvector.Vector) (pgx.Rows, error) {
	const cols = `id, parent_id, title, content`

	switch {
	case s.opts.UseVectorSearch && s.opts.UseTextSearch:
		return s.pool.Query(ctx,
			`SELECT `+cols+`,
			        ($2 * (1 - (embedding <=> $1))
			         + $4 * LEAST(1.0, COALESCE(ts_rank_cd(search_text, plainto_tsquery('english', $3), 1), 0))
			        ) AS relevance
			 FROM documents
			 ORDER BY relevance DESC
			 LIMIT $5`,
			vec, weightVector, query, weightText, s.opts.TopK,
		)
	case s.opts.UseVectorSearch:
		return s.pool.Query(ctx,
			`SELECT `+cols+`, 1 - (embedding <=> $1) AS relevance
			 FROM documents
			 ORDER BY embedding <=> $1
			 LIMIT $2`,
			vec, s.opts.TopK,
		)
	default:
		return s.pool.Query(ctx,
			`SELECT `+cols+`,
			        LEAST(1.0, COALESCE(ts_rank_cd(search_text, plainto_tsquery('english', $1), 1), 0)) AS relevance
			 FROM documents
			 WHERE search_text @@ plainto_tsquery('english', $1)
			 ORDER BY relevance DESC
			 LIMIT $2`,
			query, s.opts.TopK,
		)
	}
}

func scanDocuments(rows pgx.Rows) ([]*Document, error) {
	docs := make([]*Document, 0)
	for rows.Next() {
		var d Document
		var score float64
		if err := rows.Scan(&d.ID, &d.ParentID, &d.Title, &d.Content, &score); err != nil {
			return nil, fmt.Errorf("scanning document: %w", err)
		}
		d.Score = &score
		docs = append(docs, &d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("reading documents: %w", err)
	}
	return docs, nil
}

// SearchTemplates retrieves ticket templates matching the issue
// description, optionally restricted to an exact category.
func (s *Store) SearchTemplates(ctx context.Context, category, description string) ([]*Template, error) {
	description = sanitizeQuery(description)
	if description == "" {
		return []*Template{}, nil
	}

	var vec pgvector.Vector
	if s.opts.UseVectorSearch || s.opts.UseReranker {
		var err error
		if vec, err = s.embed(ctx, description); err != nil {
			return nil, fmt.Errorf("embedding description: %w", err)
		}
	}

	rows, err := s.queryTemplates(ctx, category, description, vec)
	if err != nil {
		return nil, fmt.Errorf("searching templates: %w", err)
	}
	defer rows.Close()

	templates, err := scanTemplates(rows)
	if err != nil {
		return nil, err
	}

	if s.opts.UseReranker {
		if err := s.rerankTemplates(ctx, vec, templates); err != nil {
			return nil, fmt.Errorf("reranking templates: %w", err)
		}
	}
	return templates, nil
}

func (s *Store) queryTemplates(ctx context.Context, category, description string, vec pgvector.Vector) (pgx.Rows, error) {
	const cols = `id, name, category, description, priority, urgency, assigned_group`

	// category = '' matches all categories so the model can search
	// before the user has committed to one.
	switch {
	case s.opts.UseVectorSearch && s.opts.UseTextSearch:
		return s.pool.Query(ctx,
			`SELECT `+cols+`,
			        ($2 * (1 - (embedding <=> $1))
			         + $4 * LEAST(1.0, COALESCE(ts_rank_cd(search_text, plainto_tsquery('english', $3), 1), 0))
			        ) AS relevance
			 FROM ticket_templates
			 WHERE ($5 = '' OR category = $5)
			 ORDER BY relevance DESC
			 LIMIT $6`,
			vec, weightVector, description, weightText, category, s.opts.TopK,
		)
	case s.opts.UseVectorSearch:
		return s.pool.Query(ctx,
			`SELECT `+cols+`, 1 - (embedding <=> $1) AS relevance
			 FROM ticket_templates
			 WHERE ($2 = '' OR category = $2)
			 ORDER BY embedding <=> $1
			 LIMIT $3`,
			vec, category, s.opts.TopK,
		)
	default:
		return s.pool.Query(ctx,
			`SELECT `+cols+`,
			        LEAST(1.0, COALESCE(ts_rank_cd(search_text, plainto_tsquery('english', $1), 1), 0)) AS relevance
			 FROM ticket_templates
			 WHERE search_text @@ plainto_tsquery('english', $1)
			   AND ($2 = '' OR category = $2)
			 ORDER BY relevance DESC
			 LIMIT $3`,
			description, category, s.opts.TopK,
		)
	}
}

func scanTemplates(rows pgx.Rows) ([]*Template, error) {
	templates := make([]*Template, 0)
	for rows.Next() {
		var t Template
		var score float64
		if err := rows.Scan(&t.ID, &t.Name, &t.Category, &t.Description,
			&t.Priority, &t.Urgency, &t.AssignedGroup, &score); err != nil {
			return nil, fmt.Errorf("scanning template: %w", err)
		}
		t.Score = &score
		templates = append(templates, &t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("reading templates: %w", err)
	}
	return templates, nil
}

// rerankDocuments re-scores candidates by embedding similarity between
// the query and the candidate's title + content, populating
// RerankerScore. Candidates are re-embedded in one batch call.
func (s *Store) rerankDocuments(ctx context.Context, queryVec pgvector.Vector, docs []*Document) error {
	if len(docs) == 0 {
		return nil
	}
	input := make([]*ai.Document, len(docs))
	for i, d := range docs {
		input[i] = ai.DocumentFromText(d.Title+"\n"+d.Content, nil)
	}
	scores, err := s.rerankScores(ctx, queryVec, input)
	if err != nil {
		return err
	}
	for i, d := range docs {
		score := scores[i]
		d.RerankerScore = &score
	}
	return nil
}

func (s *Store) rerankTemplates(ctx context.Context, queryVec pgvector.Vector, templates []*Template) error {
	if len(templates) == 0 {
		return nil
	}
	input := make([]*ai.Document, len(templates))
	for i, t := range templates {
		input[i] = ai.DocumentFromText(t.Name+"\n"+t.Description, nil)
	}
	scores, err := s.rerankScores(ctx, queryVec, input)
	if err != nil {
		return err
	}
	for i, t := range templates {
		score := scores[i]
		t.RerankerScore = &score
	}
	return nil
}

func (s *Store) rerankScores(ctx context.Context, queryVec pgvector.Vector, input []*ai.Document) ([]float64, error) {
	resp, err := s.embedder.Embed(ctx, &ai.EmbedRequest{Input: input})
	if err != nil {
		return nil, fmt.Errorf("embedding candidates: %w", err)
	}
	if len(resp.Embeddings) != len(input) {
		return nil, fmt.Errorf("embedding count mismatch: got %d, want %d", len(resp.Embeddings), len(input))
	}
	q := queryVec.Slice()
	scores := make([]float64, len(input))
	for i, e := range resp.Embeddings {
		scores[i] = cosineSimilarity(q, e.Embedding)
	}
	return scores, nil
}

// cosineSimilarity returns the cosine of the angle between two vectors,
// or 0 when either has zero magnitude or the dimensions differ.
func cosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
