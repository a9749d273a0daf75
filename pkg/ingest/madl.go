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
	"encoding/json"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"github.com/kadirpekel/quarry/pkg/config"
)

// Signature patterns for the regex fallback: plain and arrow JavaScript
// functions plus Python defs.
var signaturePatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?:async\s+)?function\s+([A-Za-z0-9_$]+)\s*\(([^)]*)\)`),
	regexp.MustCompile(`(?:const|let|var)\s+([A-Za-z0-9_$]+)\s*=\s*(?:async\s*)?\(([^)]*)\)\s*=>`),
	regexp.MustCompile(`def\s+([A-Za-z0-9_]+)\s*\(([^)]*)\)`),
}

const madlDateLayout = "2006-01-02"

// MethodDoc builds the MADL documentation object for one raw method. The
// LLM must return strict JSON carrying method_name and
// method_documentation; anything else is retried and finally replaced by
// a document assembled around the regex-sniffed signature, so a record
// never ships undocumented.
func (e *Enricher) MethodDoc(ctx context.Context, rawCode string) map[string]any {
	rawCode = strings.TrimSpace(rawCode)
	today := time.Now().UTC().Format(madlDateLayout)

	if e.llm == nil || e.llm.Disabled() {
		return e.fallbackDoc(rawCode, today)
	}

	prompt := config.RenderPrompt(e.prompts.MADL, map[string]string{
		"raw_method": rawCode,
	})

	for attempt := 1; attempt <= e.attempts; attempt++ {
		reply, err := e.llm.Ask(ctx, prompt)
		if err != nil {
			slog.Warn("MADL generation failed, using regex fallback", "error", err)
			return e.fallbackDoc(rawCode, today)
		}

		doc := parseJSONObject(reply)
		if doc == nil {
			slog.Warn("MADL reply is not a JSON object, retrying", "attempt", attempt)
			continue
		}
		if _, ok := doc["method_name"]; !ok {
			slog.Warn("MADL reply missing method_name, retrying", "attempt", attempt)
			continue
		}
		section, ok := doc["method_documentation"].(map[string]any)
		if !ok {
			slog.Warn("MADL reply missing method_documentation, retrying", "attempt", attempt)
			continue
		}

		if created, _ := section["created"].(string); created == "" {
			section["created"] = today
		}
		section["last_updated"] = today

		// Raw code lives on the record itself, not inside the doc.
		delete(doc, "raw_method_code")
		return doc
	}

	slog.Warn("MADL attempts exhausted, using regex fallback")
	return e.fallbackDoc(rawCode, today)
}

// fallbackDoc assembles a MADL document without the LLM. Collection types
// match what JSON decoding would produce so the document reads the same
// either way.
func (e *Enricher) fallbackDoc(rawCode, today string) map[string]any {
	signature := extractSignature(rawCode)

	params := make(map[string]any)
	for name, desc := range extractParams(rawCode) {
		params[name] = desc
	}
	keywords := make([]any, 0, maxKeywords)
	for _, k := range extractKeywords(rawCode, maxKeywords) {
		keywords = append(keywords, k)
	}

	return map[string]any{
		"method_name": signature,
		"method_documentation": map[string]any{
			"summary":       "Utility automation method.",
			"description":   "Generic helper function used in automation workflows.",
			"reusable":      true,
			"intent":        "Perform browser automation task.",
			"params":        params,
			"applies":       "Web elements and browser actions",
			"returns":       "None",
			"keywords":      keywords,
			"owner":         e.owner,
			"example_usage": signature,
			"created":       today,
			"last_updated":  today,
		},
	}
}

// extractSignature sniffs "name(params)" out of the source.
func extractSignature(rawCode string) string {
	for _, pattern := range signaturePatterns {
		if m := pattern.FindStringSubmatch(rawCode); m != nil {
			return fmt.Sprintf("%s(%s)", m[1], strings.TrimSpace(m[2]))
		}
	}
	return "unknown_method()"
}

// extractParams derives a placeholder description per parameter of the
// first signature found.
func extractParams(rawCode string) map[string]string {
	params := make(map[string]string)
	for _, pattern := range signaturePatterns {
		m := pattern.FindStringSubmatch(rawCode)
		if m == nil {
			continue
		}
		for _, arg := range strings.Split(m[2], ",") {
			if arg = strings.TrimSpace(arg); arg != "" {
				params[arg] = fmt.Sprintf("Parameter `%s` used by this method.", arg)
			}
		}
		break
	}
	return params
}

// parseJSONObject reads the reply as a JSON object, retrying on the
// outermost brace slice for replies wrapped in prose or code fences.
func parseJSONObject(text string) map[string]any {
	var doc map[string]any
	if err := json.Unmarshal([]byte(text), &doc); err == nil {
		return doc
	}

	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start < 0 || end <= start {
		return nil
	}

	doc = nil
	if err := json.Unmarshal([]byte(text[start:end+1]), &doc); err == nil {
		return doc
	}
	return nil
}
