package query_test

import (
	"context"
	"testing"
	"time"

	cachememory "github.com/chris-alexander-pop/docubroker/pkg/cache/adapters/memory"
	"github.com/chris-alexander-pop/docubroker/pkg/clients"
	"github.com/chris-alexander-pop/docubroker/pkg/query"
	"github.com/chris-alexander-pop/docubroker/pkg/queue/adapters/memory"
	"github.com/chris-alexander-pop/docubroker/pkg/session"
	"github.com/stretchr/testify/require"
)

type fakeEmbedder struct {
	err   error
	calls int
}

func (f *fakeEmbedder) Embed(ctx context.Context, texts []string) (clients.EmbedResult, error) {
	f.calls++
	if f.err != nil {
		return clients.EmbedResult{}, f.err
	}
	return clients.EmbedResult{Embeddings: [][]float32{{0.1, 0.2}}, VectorSize: 2}, nil
}

type fakeSearcher struct {
	results []clients.ScoredPoint
	err     error
}

func (f *fakeSearcher) Search(ctx context.Context, collection string, vector []float32, limit int, scoreThreshold float64) ([]clients.ScoredPoint, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.results, nil
}

type fakeGenerator struct {
	result clients.GenerationResult
	err    error
}

func (f *fakeGenerator) Generate(ctx context.Context, prompt string, opts clients.GenerateOptions) (clients.GenerationResult, error) {
	if f.err != nil {
		return clients.GenerationResult{}, f.err
	}
	return f.result, nil
}

func scoredPoint(score float64, pages ...int) clients.ScoredPoint {
	pagesIface := make([]interface{}, len(pages))
	for i, p := range pages {
		pagesIface[i] = float64(p)
	}
	return clients.ScoredPoint{
		Point: clients.Point{
			ID:      "chunk",
			Payload: map[string]interface{}{"text": "some context", "page_span": pagesIface},
		},
		Score: score,
	}
}

func newStore(t *testing.T) *session.Store {
	t.Helper()
	b := memory.New()
	t.Cleanup(func() { _ = b.Close() })
	return session.New(b, session.Config{TTL: time.Minute, ConversationCap: 10})
}

func TestAnswerGroundedAboveThreshold(t *testing.T) {
	searcher := &fakeSearcher{results: []clients.ScoredPoint{
		scoredPoint(0.91, 1),
		scoredPoint(0.72, 1, 2),
		scoredPoint(0.40, 3),
	}}
	gen := &fakeGenerator{result: clients.GenerationResult{Text: "an answer", Model: "test-model"}}
	orch := query.New(newStore(t), &fakeEmbedder{}, searcher, gen, nil, query.Config{SimilarityThresh: 0.7, MaxSearchResults: 5})

	_, resp, err := orch.Answer(context.Background(), "", "what is this about?")
	require.NoError(t, err)
	require.Equal(t, 2, resp.ContextUsed)
	require.Equal(t, [][]int{{1}, {1, 2}}, resp.ContextSources)
}

func TestAnswerUngroundedBelowThreshold(t *testing.T) {
	searcher := &fakeSearcher{results: []clients.ScoredPoint{
		scoredPoint(0.50, 1),
		scoredPoint(0.40, 2),
	}}
	gen := &fakeGenerator{result: clients.GenerationResult{Text: "an answer", Model: "test-model"}}
	orch := query.New(newStore(t), &fakeEmbedder{}, searcher, gen, nil, query.Config{SimilarityThresh: 0.7, MaxSearchResults: 5})

	_, resp, err := orch.Answer(context.Background(), "", "what is this about?")
	require.NoError(t, err)
	require.Equal(t, 0, resp.ContextUsed)
	require.Empty(t, resp.ContextSources)
}

func TestAnswerReturnsApologyOnUpstreamFailure(t *testing.T) {
	gen := &fakeGenerator{}
	embedder := &fakeEmbedder{err: context.DeadlineExceeded}
	orch := query.New(newStore(t), embedder, &fakeSearcher{}, gen, nil, query.Config{})

	_, resp, err := orch.Answer(context.Background(), "", "anything")
	require.NoError(t, err)
	require.Equal(t, 0, resp.ContextUsed)
	require.NotEmpty(t, resp.Response)
}

func TestAnswerCreatesSessionWhenNoneProvided(t *testing.T) {
	store := newStore(t)
	gen := &fakeGenerator{result: clients.GenerationResult{Text: "hi"}}
	orch := query.New(store, &fakeEmbedder{}, &fakeSearcher{}, gen, nil, query.Config{})

	sessID, _, err := orch.Answer(context.Background(), "", "hello")
	require.NoError(t, err)
	require.NotEmpty(t, sessID)

	sess, ok, err := store.Get(context.Background(), sessID)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, 1, sess.MessageCount)
}

func TestAnswerServesRepeatedQueryFromEmbeddingCache(t *testing.T) {
	embedder := &fakeEmbedder{}
	gen := &fakeGenerator{result: clients.GenerationResult{Text: "an answer"}}
	embedCache := cachememory.New()
	t.Cleanup(func() { _ = embedCache.Close() })
	orch := query.New(newStore(t), embedder, &fakeSearcher{}, gen, embedCache, query.Config{EmbedCacheTTL: time.Minute})

	_, _, err := orch.Answer(context.Background(), "", "What is the refund policy?")
	require.NoError(t, err)
	_, _, err = orch.Answer(context.Background(), "", "  WHAT is the refund policy?  ")
	require.NoError(t, err)

	require.Equal(t, 1, embedder.calls)
}
