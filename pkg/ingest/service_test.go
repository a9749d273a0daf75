package ingest

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kadirpekel/quarry/pkg/config"
	"github.com/kadirpekel/quarry/pkg/vectorstore"
)

// fakeStore records every write so tests can inspect what would have been
// persisted. Get returns a copy, like a real provider decoding a payload.
type fakeStore struct {
	mu        sync.Mutex
	hits      []vectorstore.Hit
	searchErr error
	upsertErr error
	getErr    error
	replErr   error
	records   map[string]vectorstore.Record
	upserts   [][]vectorstore.Point
	replaced  []vectorstore.Point
	requests  []vectorstore.SearchRequest
}

func (f *fakeStore) EnsureCollection(context.Context, string, int) error { return nil }

func (f *fakeStore) Upsert(_ context.Context, _ string, points []vectorstore.Point) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.upsertErr != nil {
		return f.upsertErr
	}
	f.upserts = append(f.upserts, points)
	return nil
}

func (f *fakeStore) Search(_ context.Context, _ string, req vectorstore.SearchRequest) ([]vectorstore.Hit, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, req)
	if f.searchErr != nil {
		return nil, f.searchErr
	}
	return f.hits, nil
}

func (f *fakeStore) Get(_ context.Context, _ string, id string) (*vectorstore.Record, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.getErr != nil {
		return nil, f.getErr
	}
	rec, ok := f.records[id]
	if !ok {
		return nil, nil
	}
	return &rec, nil
}

func (f *fakeStore) Replace(_ context.Context, _ string, point vectorstore.Point) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.replErr != nil {
		return f.replErr
	}
	f.replaced = append(f.replaced, point)
	return nil
}

func (f *fakeStore) DeleteCollection(context.Context, string) error { return nil }

func (f *fakeStore) Name() string { return "fake" }

func (f *fakeStore) Close() error { return nil }

func (f *fakeStore) upsertCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.upserts)
}

func (f *fakeStore) upsertedPoints(i int) []vectorstore.Point {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.upserts[i]
}

func (f *fakeStore) lastReplaced(t *testing.T) vectorstore.Point {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	require.NotEmpty(t, f.replaced)
	return f.replaced[len(f.replaced)-1]
}

type fakeEmbedder struct {
	mu    sync.Mutex
	err   error
	texts []string
}

func (f *fakeEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.texts = append(f.texts, text)
	if f.err != nil {
		return nil, f.err
	}
	return []float32{0.1, 0.2, 0.3}, nil
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

func (f *fakeEmbedder) Dimension() int { return 3 }

func (f *fakeEmbedder) Model() string { return "fake-embedder" }

func (f *fakeEmbedder) Close() error { return nil }

func (f *fakeEmbedder) embedCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.texts)
}

// dedupeSummary has exactly twelve words, so the checker accepts it
// without retrying.
const dedupeSummary = "Verify that a guest user completes checkout using a previously saved card"

const enrichReply = "Summary: The user completes guest checkout with a saved card successfully.\nKeywords: checkout, guest, saved card"

const twoCaseCSV = `Test Case ID,Feature,Test Case Description,Pre-requisites,Tags,Priority,Platform,Step No.,Test Step,Expected Result
TC-1,Checkout,Verify guest checkout with a saved card,Cart has items,"smoke, checkout",P1,Web,1,Open cart,Cart shows items
TC-1,,,,,,,2,Pay,Order placed
TC-2,Login,Verify login with valid credentials,,regression,P2,Web,1,Enter credentials,Dashboard shown
`

const oneCaseCSV = `Test Case ID,Feature,Test Case Description,Step No.,Test Step,Expected Result
TC-1,Checkout,Verify guest checkout with a saved card,1,Open cart,Cart shows items
`

const methodCSV = `Raw Method
async function loginAsGuest(page) { await page.goto('/guest') }
x()
`

func storedHit() []vectorstore.Hit {
	return []vectorstore.Hit{
		{ID: "old-1", Score: 0.92, Payload: vectorstore.Record{
			ID: "old-1", TestCaseID: "TC-OLD", Feature: "Checkout",
			Description: "Guest checkout with stored payment method",
			Steps:       "Step 1: Pay",
		}},
	}
}

func testService(t *testing.T, store *fakeStore, emb *fakeEmbedder, llm LLM, flavor string) *Service {
	t.Helper()
	svc, err := NewService(Config{
		Store:     store,
		Embedder:  emb,
		LLM:       llm,
		Flavor:    flavor,
		LLMConfig: &config.LLMConfig{Retries: 2},
		// One worker keeps the scripted LLM replies in record order.
		Ingest: &config.IngestConfig{Workers: 1},
	})
	require.NoError(t, err)
	return svc
}

func TestNewService_RequiresDependencies(t *testing.T) {
	_, err := NewService(Config{Embedder: &fakeEmbedder{}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "vector store is required")

	_, err = NewService(Config{Store: &fakeStore{}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "embedder is required")
}

func TestIngestSheet_StoresUniqueTestCases(t *testing.T) {
	store := &fakeStore{}
	llm := &fakeLLM{replies: []string{
		dedupeSummary, enrichReply,
		dedupeSummary, enrichReply,
	}}
	svc := testService(t, store, &fakeEmbedder{}, llm, config.FlavorTestCase)

	result, err := svc.IngestSheet(context.Background(), "cases.csv", strings.NewReader(twoCaseCSV))
	require.NoError(t, err)

	assert.Equal(t, "Successfully processed and stored 2 unique test cases.", result.Message)
	assert.Equal(t, 2, result.Ingested)
	assert.Zero(t, result.Duplicates)
	assert.Zero(t, result.Failed)

	require.Equal(t, 1, store.upsertCount())
	points := store.upsertedPoints(0)
	require.Len(t, points, 2)

	first := points[0]
	assert.Equal(t, "TC-1", first.Payload.TestCaseID)
	assert.Equal(t, "TC-2", points[1].Payload.TestCaseID)

	assert.NotEmpty(t, first.ID)
	assert.Equal(t, first.ID, first.Payload.ID)
	assert.False(t, first.Payload.CreatedAt.IsZero())

	assert.Equal(t, "Step 1: Open cart → Expected: Cart shows items\n\nStep 2: Pay → Expected: Order placed",
		first.Payload.Steps)
	assert.Equal(t, []string{"smoke", "checkout"}, first.Payload.Tags)
	assert.Equal(t, "The user completes guest checkout with a saved card successfully.", first.Payload.Summary)
	assert.Equal(t, []string{"checkout", "guest", "saved card"}, first.Payload.Keywords)

	require.Len(t, first.Vectors, 4)
	for _, name := range []string{
		vectorstore.VectorDesc, vectorstore.VectorSteps,
		vectorstore.VectorSummary, vectorstore.VectorMain,
	} {
		assert.Contains(t, first.Vectors, name)
	}

	// Two asks per record: the dedupe summary and the enrichment.
	assert.Equal(t, 4, llm.promptCount())
}

func TestIngestSheet_SkipsDuplicates(t *testing.T) {
	store := &fakeStore{hits: storedHit()}
	llm := &fakeLLM{replies: []string{
		dedupeSummary, "DUPLICATE",
		dedupeSummary, "UNIQUE", enrichReply,
	}}
	svc := testService(t, store, &fakeEmbedder{}, llm, config.FlavorTestCase)

	result, err := svc.IngestSheet(context.Background(), "cases.csv", strings.NewReader(twoCaseCSV))
	require.NoError(t, err)

	assert.Equal(t, "Successfully processed and stored 1 unique test cases.", result.Message)
	assert.Equal(t, 1, result.Ingested)
	assert.Equal(t, 1, result.Duplicates)

	require.Equal(t, 1, store.upsertCount())
	points := store.upsertedPoints(0)
	require.Len(t, points, 1)
	assert.Equal(t, "TC-2", points[0].Payload.TestCaseID)
}

func TestIngestSheet_AllDuplicates(t *testing.T) {
	store := &fakeStore{hits: storedHit()}
	llm := &fakeLLM{replies: []string{
		dedupeSummary, "DUPLICATE",
		dedupeSummary, "DUPLICATE",
	}}
	svc := testService(t, store, &fakeEmbedder{}, llm, config.FlavorTestCase)

	result, err := svc.IngestSheet(context.Background(), "cases.csv", strings.NewReader(twoCaseCSV))
	require.NoError(t, err)

	assert.Equal(t, MsgNoTestCases, result.Message)
	assert.Zero(t, result.Ingested)
	assert.Equal(t, 2, result.Duplicates)
	assert.Zero(t, store.upsertCount())
}

func TestIngestSheet_StoreFailureSurfaces(t *testing.T) {
	store := &fakeStore{upsertErr: errors.New("connection refused")}
	llm := &fakeLLM{replies: []string{dedupeSummary, enrichReply}}
	svc := testService(t, store, &fakeEmbedder{}, llm, config.FlavorTestCase)

	_, err := svc.IngestSheet(context.Background(), "cases.csv", strings.NewReader(oneCaseCSV))
	require.Error(t, err)

	var stage *StageError
	require.ErrorAs(t, err, &stage)
	assert.Equal(t, "store", stage.Stage)
	assert.Equal(t, "Error storing data: connection refused", stage.Detail)
}

func TestIngestSheet_PropagatesParseErrors(t *testing.T) {
	llm := &fakeLLM{}
	svc := testService(t, &fakeStore{}, &fakeEmbedder{}, llm, config.FlavorTestCase)

	_, err := svc.IngestSheet(context.Background(), "cases.txt", strings.NewReader("x"))
	var inputErr *InputError
	require.ErrorAs(t, err, &inputErr)
	assert.Equal(t, DetailInvalidFileType, inputErr.Detail)

	_, err = svc.IngestSheet(context.Background(), "cases.csv", strings.NewReader("Feature,Steps\na,b\n"))
	require.ErrorAs(t, err, &inputErr)
	assert.Equal(t, DetailMissingIDColumn, inputErr.Detail)

	assert.Zero(t, llm.promptCount())
}

func TestIngestSheet_EmbedderOutageSkipsRecords(t *testing.T) {
	store := &fakeStore{}
	emb := &fakeEmbedder{err: errors.New("embedder offline")}
	svc := testService(t, store, emb, nil, config.FlavorTestCase)

	result, err := svc.IngestSheet(context.Background(), "cases.csv", strings.NewReader(twoCaseCSV))
	require.NoError(t, err)

	assert.Equal(t, MsgNoTestCases, result.Message)
	assert.Zero(t, result.Ingested)
	assert.Zero(t, result.Duplicates)
	assert.Equal(t, 2, result.Failed)
	assert.Zero(t, store.upsertCount())
}

func TestIngestSheet_DedupeFailsOpenOnLLMError(t *testing.T) {
	store := &fakeStore{hits: storedHit()}
	llm := &fakeLLM{err: errors.New("gateway timeout")}
	svc := testService(t, store, &fakeEmbedder{}, llm, config.FlavorTestCase)

	result, err := svc.IngestSheet(context.Background(), "cases.csv", strings.NewReader(twoCaseCSV))
	require.NoError(t, err)

	assert.Equal(t, 2, result.Ingested)
	assert.Zero(t, result.Duplicates)

	points := store.upsertedPoints(0)
	require.Len(t, points, 2)
	assert.NotEmpty(t, points[0].Payload.Summary)
	assert.NotEmpty(t, points[0].Payload.Keywords)
}

func TestIngestSheet_MethodFlavor(t *testing.T) {
	store := &fakeStore{}
	svc := testService(t, store, &fakeEmbedder{}, nil, config.FlavorMethod)

	result, err := svc.IngestSheet(context.Background(), "methods.csv", strings.NewReader(methodCSV))
	require.NoError(t, err)

	assert.Equal(t, "Successfully ingested 1 unique methods.", result.Message)
	assert.Equal(t, 1, result.Ingested)

	require.Equal(t, 1, store.upsertCount())
	points := store.upsertedPoints(0)
	require.Len(t, points, 1)

	rec := points[0].Payload
	assert.Equal(t, "loginAsGuest(page)", rec.MethodName)
	assert.Equal(t, "async function loginAsGuest(page) { await page.goto('/guest') }", rec.RawCode)
	require.NotNil(t, rec.Doc)
	assert.Equal(t, "loginAsGuest(page)", rec.Doc["method_name"])

	require.Len(t, points[0].Vectors, 4)
	for _, name := range []string{
		vectorstore.VectorSummary, vectorstore.VectorRawCode,
		vectorstore.VectorDoc, vectorstore.VectorMain,
	} {
		assert.Contains(t, points[0].Vectors, name)
	}
}

func TestIngestSheet_WorkerPoolProcessesAll(t *testing.T) {
	store := &fakeStore{}
	svc, err := NewService(Config{
		Store:    store,
		Embedder: &fakeEmbedder{},
	})
	require.NoError(t, err)

	var sb strings.Builder
	sb.WriteString("Test Case ID,Feature,Test Case Description,Step No.,Test Step,Expected Result\n")
	for i := 1; i <= 8; i++ {
		fmt.Fprintf(&sb, "TC-%02d,Feature %d,Verify flow number %d works correctly,1,Do step,See result\n", i, i, i)
	}

	result, err := svc.IngestSheet(context.Background(), "cases.csv", strings.NewReader(sb.String()))
	require.NoError(t, err)

	assert.Equal(t, 8, result.Ingested)
	require.Equal(t, 1, store.upsertCount())
	points := store.upsertedPoints(0)
	require.Len(t, points, 8)

	ids := make(map[string]struct{}, len(points))
	for _, p := range points {
		ids[p.ID] = struct{}{}
	}
	assert.Len(t, ids, 8)
}

func TestNamedVectors_DropsEmptyVectors(t *testing.T) {
	got := namedVectors(map[string][]float32{
		vectorstore.VectorMain: {0.1},
		vectorstore.VectorDesc: {},
	})
	assert.Len(t, got, 1)
	assert.Contains(t, got, vectorstore.VectorMain)
}
