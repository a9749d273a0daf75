package search

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kadirpekel/quarry/pkg/config"
)

func testPrompts(t *testing.T, flavor string) *config.PromptsConfig {
	t.Helper()
	prompts := &config.PromptsConfig{}
	prompts.SetDefaults(flavor)
	return prompts
}

func TestNormalize_UsesLLMReply(t *testing.T) {
	llm := &fakeLLM{replies: []string{"  \"How to test user login\"  \n"}}
	p := NewPreparer(llm, testPrompts(t, config.FlavorTestCase), true, 6)

	got := p.Normalize(context.Background(), "how to tset user login")

	assert.Equal(t, "How to test user login", got)
	require.Len(t, llm.prompts, 1)
	assert.Contains(t, llm.prompts[0], "how to tset user login")
}

func TestNormalize_BlankReplyFallsBack(t *testing.T) {
	llm := &fakeLLM{replies: []string{"  \"\"  "}}
	p := NewPreparer(llm, testPrompts(t, config.FlavorTestCase), true, 6)

	got := p.Normalize(context.Background(), "  login test  ")

	assert.Equal(t, "login test", got)
}

func TestNormalize_ErrorFallsBack(t *testing.T) {
	llm := &fakeLLM{err: errors.New("rate limited")}
	p := NewPreparer(llm, testPrompts(t, config.FlavorTestCase), true, 6)

	got := p.Normalize(context.Background(), " login test ")

	assert.Equal(t, "login test", got)
}

func TestNormalize_SkipsLLMWhenPointless(t *testing.T) {
	t.Run("expansion disabled", func(t *testing.T) {
		llm := &fakeLLM{replies: []string{"should not be used"}}
		p := NewPreparer(llm, testPrompts(t, config.FlavorTestCase), false, 6)
		assert.Equal(t, "login test", p.Normalize(context.Background(), " login test "))
		assert.Empty(t, llm.prompts)
	})

	t.Run("gateway disabled", func(t *testing.T) {
		llm := &fakeLLM{disabled: true}
		p := NewPreparer(llm, testPrompts(t, config.FlavorTestCase), true, 6)
		assert.Equal(t, "login test", p.Normalize(context.Background(), " login test "))
		assert.Empty(t, llm.prompts)
	})

	t.Run("nil gateway", func(t *testing.T) {
		p := NewPreparer(nil, testPrompts(t, config.FlavorTestCase), true, 6)
		assert.Equal(t, "login test", p.Normalize(context.Background(), " login test "))
	})
}

func TestExpand_ParsesCommasAndNewlines(t *testing.T) {
	llm := &fakeLLM{replies: []string{"user login, sign in\nauthenticate user,, "}}
	p := NewPreparer(llm, testPrompts(t, config.FlavorTestCase), true, 6)

	got := p.Expand(context.Background(), "login test")

	assert.Equal(t, []string{"login test", "user login", "sign in", "authenticate user"}, got)
}

func TestExpand_DedupesCaseInsensitively(t *testing.T) {
	llm := &fakeLLM{replies: []string{"Login Test, LOGIN TEST, sign in, Sign In"}}
	p := NewPreparer(llm, testPrompts(t, config.FlavorTestCase), true, 6)

	got := p.Expand(context.Background(), "login test")

	assert.Equal(t, []string{"login test", "sign in"}, got)
}

func TestExpand_TruncatesToConfiguredCount(t *testing.T) {
	llm := &fakeLLM{replies: []string{"a, b, c, d, e, f, g"}}
	p := NewPreparer(llm, testPrompts(t, config.FlavorTestCase), true, 3)

	got := p.Expand(context.Background(), "login test")

	// The normalized query occupies the first slot.
	assert.Equal(t, []string{"login test", "a", "b"}, got)
}

func TestExpand_PromptCarriesCountAndQuery(t *testing.T) {
	llm := &fakeLLM{replies: []string{"a"}}
	p := NewPreparer(llm, testPrompts(t, config.FlavorTestCase), true, 6)

	p.Expand(context.Background(), "login test")

	require.Len(t, llm.prompts, 1)
	assert.Contains(t, llm.prompts[0], "6 short paraphrases")
	assert.Contains(t, llm.prompts[0], `"login test"`)
}

func TestExpand_FailureOrDisabled(t *testing.T) {
	t.Run("llm error", func(t *testing.T) {
		llm := &fakeLLM{err: errors.New("rate limited")}
		p := NewPreparer(llm, testPrompts(t, config.FlavorTestCase), true, 6)
		assert.Equal(t, []string{"login test"}, p.Expand(context.Background(), "login test"))
	})

	t.Run("disabled", func(t *testing.T) {
		llm := &fakeLLM{replies: []string{"unused"}}
		p := NewPreparer(llm, testPrompts(t, config.FlavorTestCase), false, 6)
		assert.Equal(t, []string{"login test"}, p.Expand(context.Background(), "login test"))
		assert.Empty(t, llm.prompts)
	})

	t.Run("empty reply", func(t *testing.T) {
		llm := &fakeLLM{}
		p := NewPreparer(llm, testPrompts(t, config.FlavorTestCase), true, 6)
		assert.Equal(t, []string{"login test"}, p.Expand(context.Background(), "login test"))
	})
}
