// SPDX-License-Identifier: AGPL-3.0
// Copyright 2025 Kadir Pekel
//
// Licensed under the GNU Affero General Public License v3.0 (AGPL-3.0) (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     https://www.gnu.org/licenses/agpl-3.0.en.html
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package ingest

import (
	"context"
	"log/slog"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/kadirpekel/quarry/pkg/config"
)

// LLM is the slice of the gateway the ingest pipeline needs. The gateway
// owns transport retries and pacing, so callers here only retry replies
// that came back unusable.
type LLM interface {
	Ask(ctx context.Context, prompt string) (string, error)
	Disabled() bool
}

// Enrichment quality bar: a summary this short or a keyword list this
// thin is treated as a failed generation and retried.
const (
	minSummaryRunes = 30
	minKeywords     = 3
)

// Parser caps.
const (
	maxSummaryRunes   = 900
	maxParagraphRunes = 800
	maxParsedKeywords = 20
	maxKeywords       = 15
)

// keywordPrefix strips list markers like "- ", "* " or "3) " off parsed
// keyword entries.
var keywordPrefix = regexp.MustCompile(`^[\-\*\d\.\)\s]+`)

// Enrichment is the generated summary and keyword set for a test case.
type Enrichment struct {
	Summary  string
	Keywords []string
}

// Enricher produces the stored documentation for a record: summary and
// keywords for test cases, the MADL documentation object for methods.
// Every path has a deterministic extractive fallback so enrichment never
// blocks ingestion.
type Enricher struct {
	llm      LLM
	prompts  *config.PromptsConfig
	attempts int
	owner    string
}

// NewEnricher creates an enricher. A nil LLM produces fallbacks only.
func NewEnricher(llm LLM, prompts *config.PromptsConfig, retries int, owner string) *Enricher {
	if prompts == nil {
		prompts = &config.PromptsConfig{}
		prompts.SetDefaults(config.FlavorTestCase)
	}
	attempts := retries
	if attempts < 1 {
		attempts = 1
	}
	if owner == "" {
		owner = "QE-Core/Automation"
	}
	return &Enricher{llm: llm, prompts: prompts, attempts: attempts, owner: owner}
}

// EnrichTestCase generates a summary and keywords for one test case.
// Replies under the quality bar are retried; when the LLM is disabled or
// unreachable the extractive fallback is returned instead.
func (e *Enricher) EnrichTestCase(ctx context.Context, feature, description, steps string) Enrichment {
	description = strings.TrimSpace(description)
	steps = strings.TrimSpace(steps)

	fallback := Enrichment{Summary: fallbackSummary(description, steps, 2)}
	fallback.Keywords = extractKeywords(description+" "+steps+" "+fallback.Summary, maxKeywords)

	if e.llm == nil || e.llm.Disabled() {
		return fallback
	}

	prompt := config.RenderPrompt(e.prompts.Enrichment, map[string]string{
		"feature":          feature,
		"description_text": description,
		"steps_text":       steps,
	})

	for attempt := 1; attempt <= e.attempts; attempt++ {
		reply, err := e.llm.Ask(ctx, prompt)
		if err != nil {
			slog.Warn("Enrichment failed, using extractive fallback", "error", err)
			return fallback
		}

		enr := parseEnrichment(reply)
		if utf8.RuneCountInString(enr.Summary) > minSummaryRunes && len(enr.Keywords) >= minKeywords {
			return enr
		}
		slog.Warn("Enrichment reply under quality bar, retrying",
			"attempt", attempt,
			"summary_len", utf8.RuneCountInString(enr.Summary),
			"keywords", len(enr.Keywords))
	}

	// Last attempt is merged leniently with the fallbacks instead of being
	// quality-checked again.
	reply, err := e.llm.Ask(ctx, prompt)
	if err != nil {
		slog.Warn("Enrichment failed, using extractive fallback", "error", err)
		return fallback
	}

	enr := parseEnrichment(reply)
	if enr.Summary == "" {
		enr.Summary = fallback.Summary
	}
	if len(enr.Keywords) < minKeywords {
		enr.Keywords = dedupeTerms(append(enr.Keywords, fallback.Keywords...), maxKeywords)
	}
	return enr
}

// parseEnrichment reads a "Summary: ... Keywords: ..." reply. Summary
// lines are collected until the keywords label; keywords are split on
// commas with list markers stripped. A reply with neither label degrades
// to its first paragraph and extracted keywords.
func parseEnrichment(text string) Enrichment {
	var summaryLines []string
	var keywords []string
	collecting := false

	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		lower := strings.ToLower(line)

		switch {
		case strings.HasPrefix(lower, "summary:"):
			collecting = true
			if rest := strings.TrimSpace(line[len("summary:"):]); rest != "" {
				summaryLines = append(summaryLines, rest)
			}
		case strings.HasPrefix(lower, "keywords:"):
			collecting = false
			for _, k := range strings.Split(line[len("keywords:"):], ",") {
				k = keywordPrefix.ReplaceAllString(strings.TrimSpace(k), "")
				if len(k) >= 2 {
					keywords = append(keywords, k)
				}
			}
		case collecting && line != "":
			summaryLines = append(summaryLines, line)
		}
	}

	summary := truncateRunes(collapseWhitespace(strings.Join(summaryLines, " ")), maxSummaryRunes)
	if summary == "" {
		for _, paragraph := range strings.Split(text, "\n\n") {
			if paragraph = strings.TrimSpace(paragraph); paragraph != "" {
				summary = truncateRunes(paragraph, maxParagraphRunes)
				break
			}
		}
	}

	if len(keywords) == 0 {
		keywords = extractKeywords(text, maxKeywords)
	}
	kept := make([]string, 0, len(keywords))
	for _, k := range keywords {
		if strings.HasPrefix(strings.ToLower(k), "keywords:") {
			continue
		}
		kept = append(kept, k)
	}

	return Enrichment{
		Summary:  strings.TrimSpace(summary),
		Keywords: dedupeTerms(kept, maxParsedKeywords),
	}
}
