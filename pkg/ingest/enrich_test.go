package ingest

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kadirpekel/quarry/pkg/config"
)

// fakeLLM replays scripted replies in order and records every prompt.
type fakeLLM struct {
	mu       sync.Mutex
	replies  []string
	err      error
	disabled bool
	prompts  []string
}

func (f *fakeLLM) Ask(ctx context.Context, prompt string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

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

func (f *fakeLLM) promptCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.prompts)
}

func (f *fakeLLM) prompt(i int) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.prompts[i]
}

func testEnricher(llm LLM, retries int) *Enricher {
	prompts := &config.PromptsConfig{}
	prompts.SetDefaults(config.FlavorTestCase)
	return NewEnricher(llm, prompts, retries, "")
}

func TestEnrichTestCase_AcceptsGoodReply(t *testing.T) {
	llm := &fakeLLM{replies: []string{
		"Summary: The user logs in with a saved card and checks out successfully.\nKeywords: login, checkout, saved card",
	}}
	e := testEnricher(llm, 2)

	got := e.EnrichTestCase(context.Background(), "Checkout", "Verify guest checkout", "Step 1: Pay")

	assert.Equal(t, "The user logs in with a saved card and checks out successfully.", got.Summary)
	assert.Equal(t, []string{"login", "checkout", "saved card"}, got.Keywords)

	require.Equal(t, 1, llm.promptCount())
	assert.Contains(t, llm.prompt(0), "Verify guest checkout")
	assert.Contains(t, llm.prompt(0), "Checkout")
}

func TestEnrichTestCase_DisabledLLMUsesFallback(t *testing.T) {
	llm := &fakeLLM{disabled: true}
	e := testEnricher(llm, 2)

	desc := "Verify the guest checkout flow works. The cart stays intact."
	got := e.EnrichTestCase(context.Background(), "Checkout", desc, "")

	assert.Equal(t, "Verify the guest checkout flow works. The cart stays intact.", got.Summary)
	assert.Contains(t, got.Keywords, "checkout")
	assert.Zero(t, llm.promptCount())
}

func TestEnrichTestCase_NilLLMUsesFallback(t *testing.T) {
	e := testEnricher(nil, 2)

	got := e.EnrichTestCase(context.Background(), "", "Verify login works as expected.", "")

	assert.Equal(t, "Verify login works as expected.", got.Summary)
	assert.NotEmpty(t, got.Keywords)
}

func TestEnrichTestCase_TransportErrorFallsBack(t *testing.T) {
	llm := &fakeLLM{err: errors.New("rate limited")}
	e := testEnricher(llm, 3)

	got := e.EnrichTestCase(context.Background(), "Login", "Verify login with valid credentials.", "")

	// The gateway already exhausted transport retries, so one failed ask
	// settles it.
	assert.Equal(t, 1, llm.promptCount())
	assert.Equal(t, "Verify login with valid credentials.", got.Summary)
	assert.NotEmpty(t, got.Keywords)
}

func TestEnrichTestCase_LowQualityRetriesThenMerges(t *testing.T) {
	weak := "Summary: tiny\nKeywords: alpha, beta, gamma"
	llm := &fakeLLM{replies: []string{weak, weak, ""}}
	e := testEnricher(llm, 2)

	desc := "Verify guest checkout with a saved card"
	got := e.EnrichTestCase(context.Background(), "Checkout", desc, "")

	wantSummary := fallbackSummary(desc, "", 2)
	wantKeywords := extractKeywords(desc+" "+" "+wantSummary, maxKeywords)

	assert.Equal(t, 3, llm.promptCount())
	assert.Equal(t, wantSummary, got.Summary)
	assert.Equal(t, wantKeywords, got.Keywords)
}

func TestEnrichTestCase_FinalAttemptKeptWhenUsable(t *testing.T) {
	weak := "Summary: tiny\nKeywords: alpha, beta, gamma"
	final := "Summary: A slightly longer but still failing summary\nKeywords: alpha, beta"
	llm := &fakeLLM{replies: []string{weak, final}}
	e := testEnricher(llm, 1)

	got := e.EnrichTestCase(context.Background(), "Checkout", "Verify checkout", "")

	// The merge pass keeps whatever summary came back and tops up the
	// keyword list from the extractive fallback.
	assert.Equal(t, "A slightly longer but still failing summary", got.Summary)
	assert.GreaterOrEqual(t, len(got.Keywords), minKeywords)
	assert.Equal(t, "alpha", got.Keywords[0])
	assert.Equal(t, "beta", got.Keywords[1])
}

func TestParseEnrichment_MultilineSummary(t *testing.T) {
	got := parseEnrichment("Summary: First line\ncontinues here\nKeywords: one two, three four")

	assert.Equal(t, "First line continues here", got.Summary)
	assert.Equal(t, []string{"one two", "three four"}, got.Keywords)
}

func TestParseEnrichment_StripsListMarkers(t *testing.T) {
	got := parseEnrichment("Summary: A perfectly reasonable generated summary.\nKeywords: - login, * cart, 3) checkout")

	assert.Equal(t, []string{"login", "cart", "checkout"}, got.Keywords)
}

func TestParseEnrichment_ParagraphFallback(t *testing.T) {
	got := parseEnrichment("Just a paragraph about checkout flows.\n\nSecond paragraph here.")

	assert.Equal(t, "Just a paragraph about checkout flows.", got.Summary)
	assert.NotEmpty(t, got.Keywords)
}

func TestParseEnrichment_CapsSummaryLength(t *testing.T) {
	got := parseEnrichment("Summary: " + strings.Repeat("x", 950))

	assert.Equal(t, maxSummaryRunes, utf8.RuneCountInString(got.Summary))
}

func TestParseEnrichment_DropsNestedKeywordsLabel(t *testing.T) {
	got := parseEnrichment("Summary: A perfectly reasonable generated summary.\nKeywords: login, keywords: extra")

	assert.Equal(t, []string{"login"}, got.Keywords)
}

func TestParseEnrichment_DedupesAndCapsKeywords(t *testing.T) {
	terms := make([]string, 0, 25)
	for i := 1; i <= 25; i++ {
		terms = append(terms, fmt.Sprintf("term%02d", i))
	}
	got := parseEnrichment("Keywords: " + strings.Join(terms, ", "))

	assert.Len(t, got.Keywords, maxParsedKeywords)
	assert.Equal(t, "term01", got.Keywords[0])
}

func TestParseEnrichment_Empty(t *testing.T) {
	got := parseEnrichment("")

	assert.Empty(t, got.Summary)
	assert.Empty(t, got.Keywords)
}
