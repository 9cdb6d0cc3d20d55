package query

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"strings"
	"time"

	"github.com/chris-alexander-pop/docubroker/pkg/cache"
	"github.com/chris-alexander-pop/docubroker/pkg/clients"
	apperrors "github.com/chris-alexander-pop/docubroker/pkg/errors"
	"github.com/chris-alexander-pop/docubroker/pkg/logger"
	"github.com/chris-alexander-pop/docubroker/pkg/session"
	"github.com/google/uuid"
)

// apologyText is returned whenever an upstream call fails — the
// orchestrator never propagates a raw error to the user path (spec
// section 4.3 and 7).
const apologyText = "I'm sorry, I wasn't able to process that question right now. Please try again shortly."

// Embedder turns a query into a vector, satisfied by
// *clients.EmbeddingClient.
type Embedder interface {
	Embed(ctx context.Context, texts []string) (clients.EmbedResult, error)
}

// Searcher finds the nearest vectors to a query, satisfied by
// *clients.VectorStoreClient.
type Searcher interface {
	Search(ctx context.Context, collection string, vector []float32, limit int, scoreThreshold float64) ([]clients.ScoredPoint, error)
}

// Generator completes a prompt, satisfied by *clients.LLMClient.
type Generator interface {
	Generate(ctx context.Context, prompt string, opts clients.GenerateOptions) (clients.GenerationResult, error)
}

// Config configures the Query Orchestrator's retrieval and generation
// knobs, per spec section 6.
type Config struct {
	Collection       string  `env:"VECTOR_COLLECTION" env-default:"documents"`
	MaxSearchResults int     `env:"MAX_SEARCH_RESULTS" env-default:"5"`
	SimilarityThresh float64 `env:"SIMILARITY_THRESHOLD" env-default:"0.7"`
	MaxContextLength int     `env:"MAX_CONTEXT_LENGTH" env-default:"4000"`
	MaxTokens        int     `env:"MAX_TOKENS" env-default:"512"`
	Temperature      float64 `env:"TEMPERATURE" env-default:"0.7"`

	// EmbedCacheTTL bounds how long a query's embedding is cached
	// (SPEC_FULL.md §C.5). A cache miss is functionally identical to a
	// cold call — this is an optimization, not a correctness concern.
	EmbedCacheTTL time.Duration `env:"EMBED_CACHE_TTL" env-default:"10m"`
}

func (c *Config) applyDefaults() {
	if c.Collection == "" {
		c.Collection = "documents"
	}
	if c.MaxSearchResults <= 0 {
		c.MaxSearchResults = 5
	}
	if c.SimilarityThresh <= 0 {
		c.SimilarityThresh = 0.7
	}
	if c.MaxContextLength <= 0 {
		c.MaxContextLength = 4000
	}
	if c.MaxTokens <= 0 {
		c.MaxTokens = 512
	}
	if c.Temperature <= 0 {
		c.Temperature = 0.7
	}
	if c.EmbedCacheTTL <= 0 {
		c.EmbedCacheTTL = 10 * time.Minute
	}
}

// Orchestrator produces one grounded response per query on behalf of a
// Session (spec section 4.3). One instance per query service process.
type Orchestrator struct {
	sessions  *session.Store
	embed     Embedder
	search    Searcher
	generate  Generator
	embedding cache.Cache
	cfg       Config
}

// New constructs an Orchestrator. embedding may be nil, which disables
// the query-embedding cache (SPEC_FULL.md §C.5) without changing
// behavior — a miss already falls back to a cold embed call.
func New(sessions *session.Store, embed Embedder, search Searcher, generate Generator, embedding cache.Cache, cfg Config) *Orchestrator {
	cfg.applyDefaults()
	return &Orchestrator{sessions: sessions, embed: embed, search: search, generate: generate, embedding: embedding, cfg: cfg}
}

// Answer produces a response for query on behalf of sessionID, creating
// a new session if sessionID is empty (spec section 4.3 step 1). It
// returns the session the turn was recorded against alongside the
// response; any upstream failure collapses into an apology response
// with ContextUsed 0 rather than propagating a raw error.
func (o *Orchestrator) Answer(ctx context.Context, sessionID, query string) (string, Response, error) {
	start := time.Now()

	if sessionID == "" {
		sessionID = uuid.New().String()
	}
	if _, err := o.sessions.Create(ctx, sessionID, "", nil); err != nil {
		return sessionID, Response{}, err
	}

	resp := o.answer(ctx, query, start)

	entry := session.ConversationEntry{
		Timestamp:         time.Now(),
		UserMessage:       query,
		AssistantResponse: resp.Response,
		ContextUsed:       resp.ContextUsed,
		ProcessingTime:    resp.ProcessingTime,
	}
	if err := o.sessions.Append(ctx, sessionID, entry); err != nil {
		logger.L().Error("failed to append conversation entry", "session_id", sessionID, "error", err)
	}

	return sessionID, resp, nil
}

func (o *Orchestrator) answer(ctx context.Context, query string, start time.Time) Response {
	vector, err := o.embedQuery(ctx, query)
	if err != nil {
		return o.apology(start)
	}

	results, err := o.search.Search(ctx, o.cfg.Collection, vector, o.cfg.MaxSearchResults, o.cfg.SimilarityThresh)
	if err != nil {
		return o.apology(start)
	}
	sort.SliceStable(results, func(i, j int) bool { return results[i].Score > results[j].Score })

	hits := make([]ContextHit, 0, len(results))
	sources := make([][]int, 0, len(results))
	for _, r := range results {
		if r.Score <= o.cfg.SimilarityThresh {
			continue
		}
		text, _ := r.Payload["text"].(string)
		pages := extractPageSpan(r.Payload["page_span"])
		hits = append(hits, ContextHit{Text: text, PageSpan: pages, Score: r.Score})
		sources = append(sources, pages)
		if len(hits) >= o.cfg.MaxSearchResults {
			break
		}
	}

	var prompt string
	if len(hits) > 0 {
		prompt = buildGroundedPrompt(query, buildContextBlock(hits, o.cfg.MaxContextLength))
	} else {
		prompt = buildUngroundedPrompt(query)
	}

	result, err := o.generate.Generate(ctx, prompt, clients.GenerateOptions{MaxTokens: o.cfg.MaxTokens, Temperature: o.cfg.Temperature})
	if err != nil {
		return o.apology(start)
	}

	return Response{
		Response:       result.Text,
		ContextUsed:    len(hits),
		ContextSources: sources,
		Model:          result.Model,
		ProcessingTime: time.Since(start),
	}
}

// embedQuery returns query's embedding, serving it from the embedding
// cache when present and falling back to a cold embed call on a miss
// (SPEC_FULL.md §C.5). Cache errors are not fatal: a cache outage just
// means every call is a cold call.
func (o *Orchestrator) embedQuery(ctx context.Context, query string) ([]float32, error) {
	key := embedCacheKey(query)
	if o.embedding != nil {
		var cached []float32
		if err := o.embedding.Get(ctx, key, &cached); err == nil && len(cached) > 0 {
			return cached, nil
		}
	}

	result, err := o.embed.Embed(ctx, []string{query})
	if err != nil {
		return nil, err
	}
	if len(result.Embeddings) == 0 {
		return nil, apperrors.New(apperrors.CodeUpstreamFailure, "embedding service returned no vectors", nil)
	}

	if o.embedding != nil {
		if err := o.embedding.Set(ctx, key, result.Embeddings[0], o.cfg.EmbedCacheTTL); err != nil {
			logger.L().Warn("failed to populate embedding cache", "error", err)
		}
	}
	return result.Embeddings[0], nil
}

func embedCacheKey(query string) string {
	sum := sha256.Sum256([]byte(strings.ToLower(strings.TrimSpace(query))))
	return "query_embed:" + hex.EncodeToString(sum[:])
}

func (o *Orchestrator) apology(start time.Time) Response {
	return Response{
		Response:       apologyText,
		ContextUsed:    0,
		ContextSources: nil,
		ProcessingTime: time.Since(start),
	}
}

// extractPageSpan recovers a []int page span from a vector store
// payload, which round-trips numbers as float64 through JSON.
func extractPageSpan(v interface{}) []int {
	raw, ok := v.([]interface{})
	if !ok {
		return nil
	}
	out := make([]int, 0, len(raw))
	for _, e := range raw {
		switch n := e.(type) {
		case float64:
			out = append(out, int(n))
		case int:
			out = append(out, n)
		}
	}
	return out
}
