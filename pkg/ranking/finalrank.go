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
	"math"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/kadirpekel/quarry/pkg/config"
	"github.com/kadirpekel/quarry/pkg/vectorstore"
)

// Result is one materialized response item: the stored record plus the
// probability the ranking pipeline assigned it.
type Result struct {
	vectorstore.Record
	Probability float64 `json:"probability"`
}

// Materialize converts the surviving candidates into results carrying a
// provisional probability blending normalized score with shortlist
// position. The final ranker overwrites it for the results it scores.
func Materialize(candidates []Candidate) []Result {
	total := len(candidates)
	if total < 1 {
		total = 1
	}

	results := make([]Result, 0, len(candidates))
	for i, c := range candidates {
		rankWeight := float64(total-i) / float64(total)
		results = append(results, Result{
			Record:      c.Record,
			Probability: Round2((0.6*c.Norm + 0.4*rankWeight) * 100),
		})
	}
	return results
}

// Reply line cleaners. Numbering is only stripped when digits are
// followed by "." or ")", which keeps IDs that happen to start with
// digits intact.
var (
	rankNumberPrefix = regexp.MustCompile(`^(\d+[\.\)]\s*)`)
	rankBulletPrefix = regexp.MustCompile(`^[\*\-]\s*`)
)

const blockSeparator = "-------------------------------------------------"

// FinalRanker is the last LLM pass. The model sees the full surviving
// records and answers with top-K "<id> | <score>" lines; scores become
// the response probabilities.
//
// Like the reranker, it only ever improves on what it is given: any
// failure returns the incoming results truncated to top-K with their
// provisional probabilities intact.
type FinalRanker struct {
	llm     LLM
	prompts *config.PromptsConfig
	flavor  string
	enabled bool
	topK    int
}

// NewFinalRanker creates a final ranker scoring the top-K results.
func NewFinalRanker(llm LLM, prompts *config.PromptsConfig, flavor string, enabled bool, topK int) *FinalRanker {
	if topK <= 0 {
		topK = 3
	}
	return &FinalRanker{
		llm:     llm,
		prompts: prompts,
		flavor:  flavor,
		enabled: enabled,
		topK:    topK,
	}
}

// rankedLine is one parsed "<id> | <score>" reply line.
type rankedLine struct {
	id    string
	score float64
}

// Rank scores results by user intent and returns the top-K. A single
// result keeps its provisional probability untouched.
func (f *FinalRanker) Rank(ctx context.Context, query string, results []Result) []Result {
	top := results
	if len(top) > f.topK {
		top = top[:f.topK]
	}

	if !f.enabled || f.llm == nil || f.llm.Disabled() || len(results) <= 1 {
		return top
	}

	reply, err := f.llm.Ask(ctx, f.buildPrompt(query, results))
	if err != nil {
		slog.Warn("Final ranking failed, keeping provisional order", "error", err)
		return top
	}

	ranked := parseRankedLines(reply)
	if len(ranked) == 0 {
		return top
	}
	if len(ranked) > f.topK {
		ranked = ranked[:f.topK]
	}

	byID := make(map[string]int, len(results))
	for i := range results {
		byID[results[i].ID] = i
	}

	final := make([]Result, 0, f.topK)
	seen := make(map[string]bool, len(ranked))
	for _, line := range ranked {
		idx, ok := byID[line.id]
		if !ok || seen[line.id] {
			continue
		}
		item := results[idx]
		item.Probability = Round2(line.score)
		final = append(final, item)
		seen[line.id] = true
	}

	// Pad from the unranked results in their incoming order.
	for i := range results {
		if len(final) >= f.topK {
			break
		}
		if seen[results[i].ID] {
			continue
		}
		item := results[i]
		if item.Probability == 0 {
			item.Probability = 50.0
		}
		item.Probability = Round2(item.Probability)
		final = append(final, item)
		seen[item.ID] = true
	}

	slog.Info("Final ranking completed", "results", len(final))
	return final
}

// buildPrompt appends one record block per result to the flavor's final
// ranking template.
func (f *FinalRanker) buildPrompt(query string, results []Result) string {
	var sb strings.Builder
	sb.WriteString(config.RenderPrompt(f.prompts.FinalRanking, map[string]string{
		"query": query,
		"top_k": strconv.Itoa(f.topK),
	}))

	for i := range results {
		if f.flavor == config.FlavorMethod {
			writeMethodBlock(&sb, &results[i])
		} else {
			writeTestCaseBlock(&sb, &results[i])
		}
	}

	return sb.String()
}

func writeTestCaseBlock(sb *strings.Builder, r *Result) {
	fmt.Fprintf(sb, "\n%s\n", blockSeparator)
	fmt.Fprintf(sb, "ID: %s\n", r.ID)
	fmt.Fprintf(sb, "Feature: %s\n", r.Feature)
	fmt.Fprintf(sb, "Description: %s\n\n", r.Description)
	fmt.Fprintf(sb, "Prerequisites:\n%s\n\n", r.Prerequisites)
	fmt.Fprintf(sb, "Steps:\n%s\n\n", r.Steps)
	fmt.Fprintf(sb, "Summary:\n%s\n\n", r.Summary)
	fmt.Fprintf(sb, "Keywords:\n%s\n", strings.Join(r.Keywords, ", "))
	fmt.Fprintf(sb, "%s\n", blockSeparator)
}

func writeMethodBlock(sb *strings.Builder, r *Result) {
	params := r.DocParams()
	names := make([]string, 0, len(params))
	for name := range params {
		names = append(names, name)
	}
	sort.Strings(names)
	pairs := make([]string, 0, len(names))
	for _, name := range names {
		pairs = append(pairs, name+": "+params[name])
	}

	fmt.Fprintf(sb, "\n%s\n", blockSeparator)
	fmt.Fprintf(sb, "ID: %s\n", r.ID)
	fmt.Fprintf(sb, "Method Name: %s\n\n", r.MethodName)
	fmt.Fprintf(sb, "Summary:\n%s\n\n", r.DocSummary())
	fmt.Fprintf(sb, "Description:\n%s\n\n", r.DocDescription())
	fmt.Fprintf(sb, "Intent:\n%s\n\n", r.DocIntent())
	fmt.Fprintf(sb, "Parameters:\n%s\n\n", strings.Join(pairs, ", "))
	fmt.Fprintf(sb, "Keywords:\n%s\n", strings.Join(r.DocKeywords(), ", "))
	fmt.Fprintf(sb, "%s\n", blockSeparator)
}

// parseRankedLines extracts "<id> | <score>" pairs. Malformed lines are
// skipped; scores clamp to [0,100].
func parseRankedLines(reply string) []rankedLine {
	var ranked []rankedLine
	for _, line := range strings.Split(reply, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		line = rankNumberPrefix.ReplaceAllString(line, "")
		line = rankBulletPrefix.ReplaceAllString(line, "")
		if line == "" {
			continue
		}

		parts := strings.Split(line, "|")
		if len(parts) != 2 {
			continue
		}
		id := strings.TrimSpace(parts[0])
		score, err := strconv.ParseFloat(strings.TrimSpace(parts[1]), 64)
		if err != nil || id == "" || math.IsNaN(score) {
			continue
		}

		if score < 0 {
			score = 0
		} else if score > 100 {
			score = 100
		}
		ranked = append(ranked, rankedLine{id: id, score: score})
	}
	return ranked
}
