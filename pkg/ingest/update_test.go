package ingest

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kadirpekel/quarry/pkg/config"
	"github.com/kadirpekel/quarry/pkg/vectorstore"
)

func strPtr(s string) *string { return &s }

func floatPtr(f float64) *float64 { return &f }

func storedTestCase() vectorstore.Record {
	return vectorstore.Record{
		ID:          "rec-1",
		TestCaseID:  "TC-1",
		Feature:     "Checkout",
		Description: "Verify guest checkout with a saved card",
		Steps:       "Step 1: Pay → Expected: Order placed",
		Summary:     "Existing summary of the checkout flow.",
		Keywords:    []string{"checkout", "guest"},
		Priority:    "P1",
		CreatedAt:   time.Date(2025, 1, 10, 0, 0, 0, 0, time.UTC),
	}
}

func storeWith(rec vectorstore.Record) *fakeStore {
	return &fakeStore{records: map[string]vectorstore.Record{rec.ID: rec}}
}

func TestUpdate_NotFound(t *testing.T) {
	svc := testService(t, &fakeStore{}, &fakeEmbedder{}, nil, config.FlavorTestCase)

	_, err := svc.Update(context.Background(), "missing", Patch{})
	require.ErrorIs(t, err, ErrNotFound)
}

func TestUpdate_FetchFailureWrapped(t *testing.T) {
	store := &fakeStore{getErr: errors.New("connection reset")}
	svc := testService(t, store, &fakeEmbedder{}, nil, config.FlavorTestCase)

	_, err := svc.Update(context.Background(), "rec-1", Patch{})

	var stage *StageError
	require.ErrorAs(t, err, &stage)
	assert.Equal(t, "fetch", stage.Stage)
	assert.Equal(t, DetailFetchFailed, stage.Detail)
}

func TestUpdate_MetadataOnlySkipsEnrichment(t *testing.T) {
	store := storeWith(storedTestCase())
	emb := &fakeEmbedder{}
	llm := &fakeLLM{}
	svc := testService(t, store, emb, llm, config.FlavorTestCase)

	rec, err := svc.Update(context.Background(), "rec-1", Patch{Popularity: floatPtr(42.5)})
	require.NoError(t, err)

	assert.Equal(t, 42.5, rec.Popularity)
	assert.Equal(t, "Existing summary of the checkout flow.", rec.Summary)
	assert.Equal(t, "rec-1", rec.ID)
	assert.Zero(t, llm.promptCount())

	// Vectors are always rebuilt: description, steps and summary each embed
	// once, the main vector is their mean.
	assert.Equal(t, 3, emb.embedCount())

	point := store.lastReplaced(t)
	assert.Equal(t, "rec-1", point.ID)
	assert.Len(t, point.Vectors, 4)
	assert.Equal(t, 42.5, point.Payload.Popularity)
}

func TestUpdate_DescriptionChangeReEnriches(t *testing.T) {
	store := storeWith(storedTestCase())
	llm := &fakeLLM{replies: []string{enrichReply}}
	svc := testService(t, store, &fakeEmbedder{}, llm, config.FlavorTestCase)

	rec, err := svc.Update(context.Background(), "rec-1", Patch{
		Description: strPtr("Verify checkout fails with an expired card"),
	})
	require.NoError(t, err)

	assert.Equal(t, "Verify checkout fails with an expired card", rec.Description)
	assert.Equal(t, "The user completes guest checkout with a saved card successfully.", rec.Summary)
	assert.Equal(t, []string{"checkout", "guest", "saved card"}, rec.Keywords)

	require.Equal(t, 1, llm.promptCount())
	assert.Contains(t, llm.prompt(0), "Verify checkout fails with an expired card")
}

func TestUpdate_UserSummaryWins(t *testing.T) {
	store := storeWith(storedTestCase())
	llm := &fakeLLM{replies: []string{enrichReply}}
	svc := testService(t, store, &fakeEmbedder{}, llm, config.FlavorTestCase)

	rec, err := svc.Update(context.Background(), "rec-1", Patch{
		Summary: strPtr("Curated summary written by the QA lead."),
	})
	require.NoError(t, err)

	assert.Equal(t, "Curated summary written by the QA lead.", rec.Summary)
	assert.Equal(t, []string{"checkout", "guest", "saved card"}, rec.Keywords)
	assert.Equal(t, 1, llm.promptCount())
}

func TestUpdate_BackfillsMissingEnrichment(t *testing.T) {
	stored := storedTestCase()
	stored.Summary = ""
	stored.Keywords = nil
	store := storeWith(stored)
	llm := &fakeLLM{replies: []string{enrichReply}}
	svc := testService(t, store, &fakeEmbedder{}, llm, config.FlavorTestCase)

	rec, err := svc.Update(context.Background(), "rec-1", Patch{Popularity: floatPtr(1)})
	require.NoError(t, err)

	assert.Equal(t, "The user completes guest checkout with a saved card successfully.", rec.Summary)
	assert.NotEmpty(t, rec.Keywords)
	assert.Equal(t, 1, llm.promptCount())
}

func TestUpdate_EmbedOutageFailsHard(t *testing.T) {
	store := storeWith(storedTestCase())
	emb := &fakeEmbedder{err: errors.New("embedder offline")}
	svc := testService(t, store, emb, nil, config.FlavorTestCase)

	_, err := svc.Update(context.Background(), "rec-1", Patch{Popularity: floatPtr(1)})

	var stage *StageError
	require.ErrorAs(t, err, &stage)
	assert.Equal(t, "embed", stage.Stage)
	assert.Equal(t, DetailEmbedRebuildFailed, stage.Detail)
}

func TestUpdate_SaveFailureWrapped(t *testing.T) {
	store := storeWith(storedTestCase())
	store.replErr = errors.New("write conflict")
	svc := testService(t, store, &fakeEmbedder{}, nil, config.FlavorTestCase)

	_, err := svc.Update(context.Background(), "rec-1", Patch{Popularity: floatPtr(1)})

	var stage *StageError
	require.ErrorAs(t, err, &stage)
	assert.Equal(t, "save", stage.Stage)
	assert.Equal(t, DetailSaveFailed, stage.Detail)
}

func storedMethod() vectorstore.Record {
	return vectorstore.Record{
		ID:         "m-1",
		MethodName: "oldLogin(page)",
		RawCode:    "function oldLogin(page) { page.open() }",
		Doc: map[string]any{
			"method_name":          "oldLogin(page)",
			"method_documentation": map[string]any{"summary": "Old login helper."},
		},
	}
}

func TestUpdate_MethodRawCodeRegeneratesDoc(t *testing.T) {
	store := storeWith(storedMethod())
	svc := testService(t, store, &fakeEmbedder{}, nil, config.FlavorMethod)

	rec, err := svc.Update(context.Background(), "m-1", Patch{
		RawCode: strPtr("async function newLogin(page, user) { await page.login(user) }"),
	})
	require.NoError(t, err)

	assert.Equal(t, "newLogin(page, user)", rec.MethodName)
	assert.Equal(t, "newLogin(page, user)", rec.Doc["method_name"])

	point := store.lastReplaced(t)
	assert.Equal(t, "m-1", point.ID)
	assert.Len(t, point.Vectors, 4)
	assert.Contains(t, point.Vectors, vectorstore.VectorRawCode)
}

func TestUpdate_MethodPatchedNamePreserved(t *testing.T) {
	store := storeWith(storedMethod())
	svc := testService(t, store, &fakeEmbedder{}, nil, config.FlavorMethod)

	rec, err := svc.Update(context.Background(), "m-1", Patch{
		MethodName: strPtr("renamedLogin(page)"),
		RawCode:    strPtr("function newLogin(page) { page.login() }"),
	})
	require.NoError(t, err)

	assert.Equal(t, "renamedLogin(page)", rec.MethodName)
	assert.Equal(t, "newLogin(page)", rec.Doc["method_name"])
}

func TestUpdate_MethodBackfillsMissingDoc(t *testing.T) {
	stored := storedMethod()
	stored.Doc = nil
	store := storeWith(stored)
	svc := testService(t, store, &fakeEmbedder{}, nil, config.FlavorMethod)

	rec, err := svc.Update(context.Background(), "m-1", Patch{Popularity: floatPtr(3)})
	require.NoError(t, err)

	require.NotNil(t, rec.Doc)
	assert.Equal(t, "oldLogin(page)", rec.Doc["method_name"])
	assert.Equal(t, 3.0, rec.Popularity)
}
