package search

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kadirpekel/quarry/pkg/config"
	"github.com/kadirpekel/quarry/pkg/vectorstore"
)

// ---------------------------------------------------------------------------
// Fakes
// ---------------------------------------------------------------------------

type fakeLLM struct {
	replies  []string
	err      error
	disabled bool
	prompts  []string
}

func (f *fakeLLM) Ask(_ context.Context, prompt string) (string, error) {
	f.prompts = append(f.prompts, prompt)
	if f.err != nil {
		return "", f.err
	}
	if len(f.replies) == 0 {
		return "", nil
	}
	reply := f.replies[0]
	f.replies = f.replies[1:]
	return reply, nil
}

func (f *fakeLLM) Disabled() bool { return f.disabled }

type fakeStore struct {
	hits     []vectorstore.Hit
	err      error
	requests []vectorstore.SearchRequest
}

func (f *fakeStore) EnsureCollection(context.Context, string, int) error { return nil }

func (f *fakeStore) Upsert(context.Context, string, []vectorstore.Point) error { return nil }

func (f *fakeStore) Search(_ context.Context, _ string, req vectorstore.SearchRequest) ([]vectorstore.Hit, error) {
	f.requests = append(f.requests, req)
	if f.err != nil {
		return nil, f.err
	}
	return f.hits, nil
}

func (f *fakeStore) Get(context.Context, string, string) (*vectorstore.Record, error) {
	return nil, nil
}

func (f *fakeStore) Replace(context.Context, string, vectorstore.Point) error { return nil }

func (f *fakeStore) DeleteCollection(context.Context, string) error { return nil }

func (f *fakeStore) Name() string { return "fake" }

func (f *fakeStore) Close() error { return nil }

type fakeEmbedder struct {
	vector []float32
	err    error
	texts  []string
}

func (f *fakeEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	f.texts = append(f.texts, text)
	if f.err != nil {
		return nil, f.err
	}
	return f.vector, nil
}

func (f *fakeEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, 0, len(texts))
	for _, text := range texts {
		v, err := f.Embed(ctx, text)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

func (f *fakeEmbedder) Dimension() int { return len(f.vector) }

func (f *fakeEmbedder) Model() string { return "fake-embedder" }

func (f *fakeEmbedder) Close() error { return nil }

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

func testService(t *testing.T, store *fakeStore, embedder *fakeEmbedder, llm LLM) *Service {
	t.Helper()
	svc, err := NewService(Config{
		Store:      store,
		Embedder:   embedder,
		LLM:        llm,
		Collection: "testcases",
		Flavor:     config.FlavorTestCase,
	})
	require.NoError(t, err)
	t.Cleanup(svc.Close)
	return svc
}

// searchHits carry only a main vector, so with query vector (1,0) the
// semantic similarities are 1.0, 0.6, and 0.0.
func searchHits() []vectorstore.Hit {
	return []vectorstore.Hit{
		{ID: "tc-1", Score: 0.9, Payload: vectorstore.Record{ID: "tc-1", TestCaseID: "TC-1"},
			Vectors: map[string][]float32{vectorstore.VectorMain: {1, 0}}},
		{ID: "tc-2", Score: 0.8, Payload: vectorstore.Record{ID: "tc-2", TestCaseID: "TC-2"},
			Vectors: map[string][]float32{vectorstore.VectorMain: {0.6, 0.8}}},
		{ID: "tc-3", Score: 0.7, Payload: vectorstore.Record{ID: "tc-3", TestCaseID: "TC-3"},
			Vectors: map[string][]float32{vectorstore.VectorMain: {0, 1}}},
	}
}

// ---------------------------------------------------------------------------
// Construction
// ---------------------------------------------------------------------------

func TestNewService_RequiresStoreAndEmbedder(t *testing.T) {
	_, err := NewService(Config{Embedder: &fakeEmbedder{}})
	assert.EqualError(t, err, "vector store is required")

	_, err = NewService(Config{Store: &fakeStore{}})
	assert.EqualError(t, err, "embedder is required")
}

// ---------------------------------------------------------------------------
// Pipeline
// ---------------------------------------------------------------------------

func TestSearch_EmptyQuery(t *testing.T) {
	store := &fakeStore{}
	svc := testService(t, store, &fakeEmbedder{vector: []float32{1, 0}}, &fakeLLM{disabled: true})

	_, err := svc.Search(context.Background(), Request{Query: ""})
	assert.ErrorIs(t, err, ErrEmptyQuery)

	_, err = svc.Search(context.Background(), Request{Query: "   "})
	assert.ErrorIs(t, err, ErrEmptyQuery)

	assert.Empty(t, store.requests)
}

func TestSearch_FullPipeline(t *testing.T) {
	store := &fakeStore{hits: searchHits()}
	embedder := &fakeEmbedder{vector: []float32{1, 0}}
	llm := &fakeLLM{replies: []string{
		`"user login"`,                // normalization
		"sign in, authenticate",       // expansion
		"tc-2\ntc-1\ntc-3",            // rerank
		"tc-1 | 95\ntc-3 | 80\ntc-2 | 60", // final ranking
	}}
	svc := testService(t, store, embedder, llm)

	resp, err := svc.Search(context.Background(), Request{Query: "  user logn  "})
	require.NoError(t, err)

	// Query preparation: normalized query plus expansions, embedded once
	// as the combined query.
	require.Len(t, llm.prompts, 4)
	assert.Contains(t, llm.prompts[0], "user logn")
	require.Len(t, embedder.texts, 1)
	assert.Equal(t, "user login sign in authenticate", embedder.texts[0])

	// ANN request shape.
	require.Len(t, store.requests, 1)
	storeReq := store.requests[0]
	assert.Equal(t, vectorstore.VectorMain, storeReq.Path)
	assert.Equal(t, 15, storeReq.Limit)
	assert.Equal(t, 150, storeReq.NumCandidates)
	assert.True(t, storeReq.WithVectors)
	assert.Nil(t, storeReq.Filter)

	// Final ranking scored tc-1/tc-3/tc-2; response is sorted by it.
	assert.Equal(t, "user logn", resp.Query)
	assert.Nil(t, resp.FeatureFilter)
	assert.False(t, resp.FromCache)
	assert.Equal(t, "A", resp.RankingVariant)
	assert.Equal(t, 3, resp.ResultsCount)
	require.Len(t, resp.Results, 3)
	assert.Equal(t, "tc-1", resp.Results[0].ID)
	assert.Equal(t, "tc-3", resp.Results[1].ID)
	assert.Equal(t, "tc-2", resp.Results[2].ID)
	assert.InDelta(t, 95.0, resp.Results[0].Probability, 1e-9)
	assert.InDelta(t, 80.0, resp.Results[1].Probability, 1e-9)
	assert.InDelta(t, 60.0, resp.Results[2].Probability, 1e-9)
}

func TestSearch_CacheHitReturnsVerbatim(t *testing.T) {
	store := &fakeStore{hits: searchHits()}
	llm := &fakeLLM{replies: []string{
		"user login",
		"sign in",
		"tc-1\ntc-2\ntc-3",
		"tc-1 | 90\ntc-2 | 70\ntc-3 | 50",
	}}
	svc := testService(t, store, &fakeEmbedder{vector: []float32{1, 0}}, llm)

	first, err := svc.Search(context.Background(), Request{Query: "user login"})
	require.NoError(t, err)
	require.False(t, first.FromCache)

	second, err := svc.Search(context.Background(), Request{Query: "user login"})
	require.NoError(t, err)

	assert.True(t, second.FromCache)
	assert.Equal(t, first.Results, second.Results)
	assert.Equal(t, first.ResultsCount, second.ResultsCount)
	// No stage ran twice.
	assert.Len(t, store.requests, 1)
	assert.Len(t, llm.prompts, 4)
	// The cached entry itself keeps from_cache false.
	assert.False(t, first.FromCache)
}

func TestSearch_VariantSharesCacheAcrossCase(t *testing.T) {
	store := &fakeStore{hits: searchHits()}
	svc := testService(t, store, &fakeEmbedder{vector: []float32{1, 0}}, &fakeLLM{disabled: true})

	first, err := svc.Search(context.Background(), Request{Query: "login", RankingVariant: "b"})
	require.NoError(t, err)
	assert.Equal(t, "B", first.RankingVariant)

	second, err := svc.Search(context.Background(), Request{Query: "login", RankingVariant: "B"})
	require.NoError(t, err)
	assert.True(t, second.FromCache)
	assert.Len(t, store.requests, 1)
}

func TestSearch_FeatureFilterReachesStore(t *testing.T) {
	store := &fakeStore{hits: searchHits()}
	svc := testService(t, store, &fakeEmbedder{vector: []float32{1, 0}}, &fakeLLM{disabled: true})

	resp, err := svc.Search(context.Background(), Request{
		Query:          "user login",
		Feature:        "  Login Flow  ",
		RankingVariant: "B",
	})
	require.NoError(t, err)

	require.Len(t, store.requests, 1)
	assert.Equal(t, map[string]string{"feature": "Login Flow"}, store.requests[0].Filter)
	require.NotNil(t, resp.FeatureFilter)
	assert.Equal(t, "Login Flow", *resp.FeatureFilter)
	assert.Equal(t, "B", resp.RankingVariant)
}

func TestSearch_LLMOutageStillReturnsResults(t *testing.T) {
	store := &fakeStore{hits: searchHits()}
	llm := &fakeLLM{err: errors.New("quota exhausted")}
	svc := testService(t, store, &fakeEmbedder{vector: []float32{1, 0}}, llm)

	resp, err := svc.Search(context.Background(), Request{Query: "user login"})
	require.NoError(t, err)

	// Normalization, expansion, rerank, and final ranking all failed; the
	// provisional probabilities carry through in score order.
	assert.Len(t, llm.prompts, 4)
	require.Len(t, resp.Results, 3)
	assert.Equal(t, "tc-1", resp.Results[0].ID)
	assert.Equal(t, "tc-2", resp.Results[1].ID)
	assert.Equal(t, "tc-3", resp.Results[2].ID)
	assert.InDelta(t, 100.0, resp.Results[0].Probability, 1e-9)
	assert.InDelta(t, 60.72, resp.Results[1].Probability, 1e-9)
	assert.InDelta(t, 13.33, resp.Results[2].Probability, 1e-9)
}

func TestSearch_ZeroHits(t *testing.T) {
	store := &fakeStore{}
	svc := testService(t, store, &fakeEmbedder{vector: []float32{1, 0}}, &fakeLLM{disabled: true})

	resp, err := svc.Search(context.Background(), Request{Query: "nothing matches"})
	require.NoError(t, err)

	assert.Equal(t, 0, resp.ResultsCount)
	require.NotNil(t, resp.Results)
	assert.Empty(t, resp.Results)

	// Wire shape: empty list and null filter, not JSON null results.
	payload, err := json.Marshal(resp)
	require.NoError(t, err)
	assert.Contains(t, string(payload), `"results":[]`)
	assert.Contains(t, string(payload), `"feature_filter":null`)

	// Empty responses are cached too.
	second, err := svc.Search(context.Background(), Request{Query: "nothing matches"})
	require.NoError(t, err)
	assert.True(t, second.FromCache)
	assert.Len(t, store.requests, 1)
}

func TestSearch_EmbedFailure(t *testing.T) {
	cause := errors.New("model gone")
	svc := testService(t, &fakeStore{}, &fakeEmbedder{err: cause}, &fakeLLM{disabled: true})

	resp, err := svc.Search(context.Background(), Request{Query: "user login"})
	require.Error(t, err)
	assert.Nil(t, resp)

	var perr *PipelineError
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, "embed", perr.Stage)
	assert.Equal(t, DetailEmbeddingFailed, perr.Message)
	assert.ErrorIs(t, err, cause)
}

func TestSearch_StoreFailure(t *testing.T) {
	cause := errors.New("connection refused")
	store := &fakeStore{err: cause}
	svc := testService(t, store, &fakeEmbedder{vector: []float32{1, 0}}, &fakeLLM{disabled: true})

	_, err := svc.Search(context.Background(), Request{Query: "user login"})
	require.Error(t, err)

	var perr *PipelineError
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, "vector_search", perr.Stage)
	assert.Equal(t, DetailVectorSearchFailed, perr.Message)
	assert.ErrorIs(t, err, cause)
}

func TestSearch_TruncatesToFinalResults(t *testing.T) {
	hits := make([]vectorstore.Hit, 0, 8)
	for i := 0; i < 8; i++ {
		id := string(rune('a' + i))
		hits = append(hits, vectorstore.Hit{
			ID:      id,
			Score:   float32(0.9) - float32(i)*0.05,
			Payload: vectorstore.Record{ID: id},
		})
	}
	store := &fakeStore{hits: hits}
	svc := testService(t, store, &fakeEmbedder{vector: []float32{1, 0}}, &fakeLLM{disabled: true})

	resp, err := svc.Search(context.Background(), Request{Query: "anything"})
	require.NoError(t, err)

	// Eight hits shrink to final_results (5), then the disabled final
	// ranker truncates to top_k (3).
	assert.Equal(t, 3, resp.ResultsCount)
	require.Len(t, resp.Results, 3)
	assert.Equal(t, "a", resp.Results[0].ID)
	assert.Equal(t, "b", resp.Results[1].ID)
	assert.Equal(t, "c", resp.Results[2].ID)
}
