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

package ranking

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	"github.com/kadirpekel/quarry/pkg/config"
	"github.com/kadirpekel/quarry/pkg/vectorstore"
)

// LLM is the gateway surface the rankers need. A disabled gateway makes
// every stage fall through to its deterministic order.
type LLM interface {
	Ask(ctx context.Context, prompt string) (string, error)
	Disabled() bool
}

// rerankLinePrefix strips bullets and numbering from reranker reply
// lines before the ID token is read.
var rerankLinePrefix = regexp.MustCompile(`^[\-\*\d\.\)\s]+`)

// Reranker reorders the candidate shortlist with one LLM pass.
//
// The model sees one line per candidate (ID, name, brief summary) and
// answers with IDs ordered by relevance. Candidates the reply skips keep
// their incoming order behind the matched ones, and any failure returns
// the input untouched: reranking improves ordering, it never gates it.
type Reranker struct {
	llm     LLM
	prompts *config.PromptsConfig
	flavor  string
	enabled bool
}

// NewReranker creates a reranker for one flavor.
func NewReranker(llm LLM, prompts *config.PromptsConfig, flavor string, enabled bool) *Reranker {
	return &Reranker{
		llm:     llm,
		prompts: prompts,
		flavor:  flavor,
		enabled: enabled,
	}
}

// Rerank reorders candidates by LLM preference.
func (r *Reranker) Rerank(ctx context.Context, query string, candidates []Candidate) []Candidate {
	if !r.enabled || r.llm == nil || r.llm.Disabled() || len(candidates) <= 1 {
		return candidates
	}

	reply, err := r.llm.Ask(ctx, r.buildPrompt(query, candidates))
	if err != nil {
		slog.Warn("Rerank failed, returning original order", "error", err)
		return candidates
	}

	byID := make(map[string]int, len(candidates))
	for i, c := range candidates {
		byID[c.ID] = i
	}

	ordered := make([]Candidate, 0, len(candidates))
	seen := make(map[string]bool, len(candidates))
	for _, id := range parseOrderedIDs(reply) {
		if idx, ok := byID[id]; ok && !seen[id] {
			ordered = append(ordered, candidates[idx])
			seen[id] = true
		}
	}
	for _, c := range candidates {
		if !seen[c.ID] {
			ordered = append(ordered, c)
		}
	}

	return ordered
}

// buildPrompt appends one candidate line per shortlist entry to the
// flavor's rerank template.
func (r *Reranker) buildPrompt(query string, candidates []Candidate) string {
	var sb strings.Builder
	sb.WriteString(config.RenderPrompt(r.prompts.Rerank, map[string]string{
		"query": query,
	}))

	for _, c := range candidates {
		if r.flavor == config.FlavorMethod {
			name := c.Record.MethodName
			if name == "" {
				name = "N/A"
			}
			fmt.Fprintf(&sb, "%s | Method: %s | Summary: %s\n", c.ID, name, briefSummary(c.Record, r.flavor))
		} else {
			caseID := c.Record.TestCaseID
			if caseID == "" {
				caseID = "N/A"
			}
			fmt.Fprintf(&sb, "%s | Case: %s | Summary: %s\n", c.ID, caseID, briefSummary(c.Record, r.flavor))
		}
	}

	return sb.String()
}

// parseOrderedIDs extracts candidate IDs from the reply, one per line.
// Bullets and numbering are stripped, then the first whitespace token is
// taken with stray punctuation trimmed from its ends.
func parseOrderedIDs(reply string) []string {
	var ids []string
	for _, line := range strings.Split(reply, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		line = rerankLinePrefix.ReplaceAllString(line, "")
		if line == "" {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) == 0 {
			continue
		}
		if id := strings.Trim(fields[0], ".,-_ "); id != "" {
			ids = append(ids, id)
		}
	}
	return ids
}

// briefSummary flattens a record summary into one prompt line, capped
// at 220 runes.
func briefSummary(rec vectorstore.Record, flavor string) string {
	summary := rec.Summary
	if flavor == config.FlavorMethod && summary == "" {
		summary = rec.DocSummary()
	}
	summary = strings.ReplaceAll(strings.TrimSpace(summary), "\n", " ")
	if runes := []rune(summary); len(runes) > 220 {
		summary = string(runes[:220])
	}
	return summary
}
