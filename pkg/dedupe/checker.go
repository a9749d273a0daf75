// Copyright 2025 Kadir Pekel
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package dedupe decides whether an incoming record duplicates a stored
// one before ingestion commits it. The pipeline is summary, probe,
// verdict: an LLM compresses the record to a twelve-word intent summary,
// the summary is embedded and probed against the main vector, and a
// second LLM pass compares the record with its nearest matches. Every
// stage fails open toward unique so an outage never drops records.
package dedupe

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/kadirpekel/quarry/pkg/config"
	"github.com/kadirpekel/quarry/pkg/embed"
	"github.com/kadirpekel/quarry/pkg/vectorstore"
)

// Verdict tokens read from the verification reply. DUPLICATE wins when
// both appear.
const (
	tokenDuplicate = "DUPLICATE"
	tokenUnique    = "UNIQUE"
)

// probeLimit is how many nearest records the verifier sees.
const probeLimit = 3

// Bounds on an acceptable LLM summary. A reply under the minimum is
// retried; an accepted reply is cut to the maximum.
const (
	summaryMinWords = 8
	summaryMaxWords = 12
)

// fallbackRunes caps the truncation fallback summary.
const fallbackRunes = 80

// LLM is the gateway surface the checker needs. A nil or disabled
// gateway skips both LLM stages: the summary falls back to truncation
// and the verdict to unique.
type LLM interface {
	Ask(ctx context.Context, prompt string) (string, error)
	Disabled() bool
}

// Config wires the checker.
type Config struct {
	// Store is probed for near matches (required).
	Store vectorstore.Provider

	// Embedder encodes the dedupe summary (required).
	Embedder embed.Embedder

	// LLM generates summaries and verdicts.
	LLM LLM

	// Collection is the record collection to probe.
	Collection string

	// Flavor selects the record kind being checked.
	Flavor string

	// Prompts supplies the summary and verification templates.
	Prompts *config.PromptsConfig

	// NumCandidates sizes the probe's ANN candidate pool.
	NumCandidates int

	// Retries is the LLM attempt count per stage; the checker always
	// makes at least one attempt.
	Retries int
}

// Checker runs the dedupe pipeline for one record at a time. It holds no
// per-record state, so one checker serves concurrent ingestions.
type Checker struct {
	store         vectorstore.Provider
	embedder      embed.Embedder
	llm           LLM
	prompts       *config.PromptsConfig
	collection    string
	flavor        string
	numCandidates int
	attempts      int
}

// NewChecker creates the dedupe checker.
func NewChecker(cfg Config) (*Checker, error) {
	if cfg.Store == nil {
		return nil, fmt.Errorf("vector store is required")
	}
	if cfg.Embedder == nil {
		return nil, fmt.Errorf("embedder is required")
	}

	flavor := cfg.Flavor
	if flavor == "" {
		flavor = config.FlavorTestCase
	}

	prompts := cfg.Prompts
	if prompts == nil {
		prompts = &config.PromptsConfig{}
	}
	prompts.SetDefaults(flavor)

	collection := cfg.Collection
	if collection == "" {
		collection = "records"
	}

	numCandidates := cfg.NumCandidates
	if numCandidates <= 0 {
		numCandidates = 50
	}

	attempts := cfg.Retries
	if attempts < 1 {
		attempts = 1
	}

	return &Checker{
		store:         cfg.Store,
		embedder:      cfg.Embedder,
		llm:           cfg.LLM,
		prompts:       prompts,
		collection:    collection,
		flavor:        flavor,
		numCandidates: numCandidates,
		attempts:      attempts,
	}, nil
}

// Check reports whether the record duplicates one already stored. A true
// verdict tells the caller to skip insertion; nothing stored is ever
// mutated here, so a false positive cannot lose data.
func (c *Checker) Check(ctx context.Context, rec vectorstore.Record) bool {
	summary := c.summarize(ctx, rec)

	matches := c.probe(ctx, summary)
	slog.Debug("Dedupe probe complete", "summary", summary, "matches", len(matches))
	if len(matches) == 0 {
		return false
	}

	return c.verify(ctx, rec, matches)
}

// summarize compresses the record to a short intent summary used only as
// the probe query. The LLM is asked for exactly twelve words; a reply
// under eight words is retried. The fallback is the whitespace-collapsed
// identifying text truncated to 80 runes.
func (c *Checker) summarize(ctx context.Context, rec vectorstore.Record) string {
	fallback := truncateRunes(collapseWhitespace(c.identifyingText(rec)), fallbackRunes)

	if c.llm == nil || c.llm.Disabled() {
		return fallback
	}

	prompt := config.RenderPrompt(c.prompts.DedupeSummary, c.summaryVars(rec))

	for attempt := 1; attempt <= c.attempts; attempt++ {
		reply, err := c.llm.Ask(ctx, prompt)
		if err != nil {
			slog.Warn("Dedupe summary failed, using truncation fallback", "error", err)
			return fallback
		}

		words := strings.Fields(reply)
		if len(words) >= summaryMinWords {
			if len(words) > summaryMaxWords {
				words = words[:summaryMaxWords]
			}
			return strings.Join(words, " ")
		}
		slog.Warn("Dedupe summary too short, retrying", "attempt", attempt, "words", len(words))
	}

	return fallback
}

// probe embeds the summary and returns the nearest stored records.
// Failures and blank summaries return no matches, which the caller reads
// as unique.
func (c *Checker) probe(ctx context.Context, summary string) []vectorstore.Hit {
	if strings.TrimSpace(summary) == "" {
		return nil
	}

	vector, err := c.embedder.Embed(ctx, summary)
	if err != nil {
		slog.Warn("Dedupe probe embedding failed, treating record as unique", "error", err)
		return nil
	}

	hits, err := c.store.Search(ctx, c.collection, vectorstore.SearchRequest{
		Vector:        vector,
		Path:          vectorstore.VectorMain,
		Limit:         probeLimit,
		NumCandidates: c.numCandidates,
	})
	if err != nil {
		slog.Warn("Dedupe probe search failed, treating record as unique", "error", err)
		return nil
	}

	return hits
}

// verify asks the LLM for the one-word verdict over the record and its
// nearest matches. A reply lacking a readable token is retried; anything
// short of a clear DUPLICATE resolves to unique.
func (c *Checker) verify(ctx context.Context, rec vectorstore.Record, matches []vectorstore.Hit) bool {
	if len(matches) == 0 || c.llm == nil || c.llm.Disabled() {
		return false
	}

	prompt := config.RenderPrompt(c.prompts.DedupeVerification, c.verificationVars(rec, matches))

	for attempt := 1; attempt <= c.attempts; attempt++ {
		reply, err := c.llm.Ask(ctx, prompt)
		if err != nil {
			slog.Warn("Dedupe verification failed, treating record as unique", "error", err)
			return false
		}

		verdict := strings.ToUpper(strings.TrimSpace(reply))
		if strings.Contains(verdict, tokenDuplicate) {
			return true
		}
		if strings.Contains(verdict, tokenUnique) {
			return false
		}
		slog.Warn("Dedupe verdict unreadable, retrying", "attempt", attempt)
	}

	return false
}

// identifyingText is the raw text the truncation fallback collapses.
func (c *Checker) identifyingText(rec vectorstore.Record) string {
	if c.flavor == config.FlavorMethod {
		return rec.RawCode
	}
	return rec.Description + " " + rec.Steps
}

// summaryVars fills the flavor's summary template.
func (c *Checker) summaryVars(rec vectorstore.Record) map[string]string {
	if c.flavor == config.FlavorMethod {
		return map[string]string{
			"raw_method": strings.TrimSpace(rec.RawCode),
		}
	}
	return map[string]string{
		"feature":          strings.TrimSpace(rec.Feature),
		"description_text": strings.TrimSpace(rec.Description),
		"steps_text":       strings.TrimSpace(rec.Steps),
	}
}

// verificationVars fills the flavor's verification template.
func (c *Checker) verificationVars(rec vectorstore.Record, matches []vectorstore.Hit) map[string]string {
	if c.flavor == config.FlavorMethod {
		return map[string]string{
			"new_method_name": strings.TrimSpace(rec.MethodName),
			"new_raw_method":  strings.TrimSpace(rec.RawCode),
			"existing_blocks": c.existingBlocks(matches),
		}
	}
	return map[string]string{
		"new_feature":     strings.TrimSpace(rec.Feature),
		"new_description": strings.TrimSpace(rec.Description),
		"new_steps":       strings.TrimSpace(rec.Steps),
		"existing_blocks": c.existingBlocks(matches),
	}
}

// existingBlocks renders up to three matched records for the
// verification prompt, one block per record.
func (c *Checker) existingBlocks(matches []vectorstore.Hit) string {
	if len(matches) > probeLimit {
		matches = matches[:probeLimit]
	}

	var sb strings.Builder
	for i, hit := range matches {
		rec := hit.Payload
		if c.flavor == config.FlavorMethod {
			fmt.Fprintf(&sb, "METHOD %d\nMethod Name: %s\nRaw Method:\n%s\n-----------\n",
				i+1, rec.MethodName, rec.RawCode)
		} else {
			fmt.Fprintf(&sb, "CASE %d\nFeature: %s\nDescription: %s\nSteps:\n%s\n-----------\n",
				i+1, rec.Feature, rec.Description, rec.Steps)
		}
	}
	return sb.String()
}

// collapseWhitespace joins all whitespace runs into single spaces.
func collapseWhitespace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// truncateRunes cuts s to at most max runes.
func truncateRunes(s string, max int) string {
	if runes := []rune(s); len(runes) > max {
		return string(runes[:max])
	}
	return s
}
