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

package search

import (
	"context"
	"log/slog"
	"strconv"
	"strings"

	"github.com/kadirpekel/quarry/pkg/config"
)

// LLM is the slice of the gateway the search stages depend on.
type LLM interface {
	// Ask sends one prompt and returns the reply text.
	Ask(ctx context.Context, prompt string) (string, error)

	// Disabled reports whether calls would fail immediately.
	Disabled() bool
}

// Preparer rewrites a raw query for retrieval: a light spelling pass, then
// expansion into paraphrases that widen semantic scope.
//
// Both passes are best-effort. Any failure falls back to the input so a
// broken or disabled LLM never blocks retrieval.
type Preparer struct {
	llm        LLM
	prompts    *config.PromptsConfig
	enabled    bool
	expansions int
}

// NewPreparer creates a query preparer. The expansion count bounds the
// returned list including the normalized query itself.
func NewPreparer(llm LLM, prompts *config.PromptsConfig, enabled bool, expansions int) *Preparer {
	if expansions <= 0 {
		expansions = 6
	}
	return &Preparer{
		llm:        llm,
		prompts:    prompts,
		enabled:    enabled,
		expansions: expansions,
	}
}

// Normalize corrects spelling and minor grammar in the query, preserving
// wording and intent. Double quotes are stripped from the reply since
// models tend to echo the quoted prompt. Failure, a blank reply, or a
// disabled gateway all fall back to the trimmed input.
func (p *Preparer) Normalize(ctx context.Context, query string) string {
	trimmed := strings.TrimSpace(query)
	if !p.enabled || p.llm == nil || p.llm.Disabled() {
		return trimmed
	}

	prompt := config.RenderPrompt(p.prompts.Normalization, map[string]string{
		"query": trimmed,
	})

	reply, err := p.llm.Ask(ctx, prompt)
	if err != nil {
		slog.Warn("Query normalization failed, using raw query", "error", err)
		return trimmed
	}

	normalized := strings.TrimSpace(strings.ReplaceAll(reply, `"`, ""))
	if normalized == "" {
		return trimmed
	}
	return normalized
}

// Expand widens the normalized query into paraphrases. The result always
// starts with the normalized query and never exceeds the configured count.
// Failure or disabled expansion returns just the normalized query.
func (p *Preparer) Expand(ctx context.Context, normalized string) []string {
	if !p.enabled || p.llm == nil || p.llm.Disabled() {
		return []string{normalized}
	}

	prompt := config.RenderPrompt(p.prompts.Expansion, map[string]string{
		"normalized_query": normalized,
		"n":                strconv.Itoa(p.expansions),
	})

	reply, err := p.llm.Ask(ctx, prompt)
	if err != nil {
		slog.Warn("Query expansion failed, using normalized query", "error", err)
		return []string{normalized}
	}

	return p.parseExpansions(reply, normalized)
}

// parseExpansions extracts paraphrases from the LLM reply. The prompt asks
// for one comma-separated line but newline-separated output is tolerated.
// Duplicates are dropped case-insensitively.
func (p *Preparer) parseExpansions(reply, normalized string) []string {
	expansions := []string{normalized}
	seen := map[string]bool{strings.ToLower(normalized): true}

	parts := strings.Split(strings.ReplaceAll(reply, "\n", ","), ",")
	for _, part := range parts {
		expansion := strings.TrimSpace(part)
		if expansion == "" {
			continue
		}
		if seen[strings.ToLower(expansion)] {
			continue
		}
		expansions = append(expansions, expansion)
		seen[strings.ToLower(expansion)] = true
	}

	if len(expansions) > p.expansions {
		expansions = expansions[:p.expansions]
	}
	return expansions
}
