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

package config

import (
	"fmt"
	"strings"
)

// PromptsConfig carries every LLM template the pipeline uses. Each template
// defaults per flavor and can be overridden from YAML. Placeholders use
// {name} syntax and are substituted with RenderPrompt.
//
// Example YAML:
//
//	prompts:
//	  expansion: |
//	    Expand "{normalized_query}" into {n} paraphrases...
type PromptsConfig struct {
	// Normalization corrects spelling in a raw query. Placeholder: {query}.
	Normalization string `yaml:"normalization,omitempty"`

	// Expansion widens a query into paraphrases.
	// Placeholders: {n}, {normalized_query}.
	Expansion string `yaml:"expansion,omitempty"`

	// Rerank orders candidate IDs by relevance. Placeholder: {query};
	// the candidate lines are appended after the template.
	Rerank string `yaml:"rerank,omitempty"`

	// FinalRanking scores the surviving candidates.
	// Placeholders: {top_k}, {query}; candidate blocks are appended.
	FinalRanking string `yaml:"final_ranking,omitempty"`

	// Enrichment generates summary and keywords for a test case.
	// Placeholders: {feature}, {description_text}, {steps_text}.
	// Testcase flavor only.
	Enrichment string `yaml:"enrichment,omitempty"`

	// MADL generates the documentation JSON for a method.
	// Placeholder: {raw_method}. Method flavor only.
	MADL string `yaml:"madl,omitempty"`

	// DedupeSummary compresses a record to a 12-word intent summary.
	// Placeholders per flavor: {feature}/{description_text}/{steps_text}
	// or {raw_method}.
	DedupeSummary string `yaml:"dedupe_summary,omitempty"`

	// DedupeVerification issues the one-word DUPLICATE/UNIQUE verdict.
	// Placeholders per flavor: {new_feature}/{new_description}/{new_steps}
	// or {new_method_name}/{new_raw_method}, plus {existing_blocks}.
	DedupeVerification string `yaml:"dedupe_verification,omitempty"`
}

// SetDefaults fills empty templates with the flavor's production defaults.
func (c *PromptsConfig) SetDefaults(flavor string) {
	if flavor == FlavorMethod {
		if c.Normalization == "" {
			c.Normalization = defaultMethodNormalizationPrompt
		}
		if c.Expansion == "" {
			c.Expansion = defaultMethodExpansionPrompt
		}
		if c.Rerank == "" {
			c.Rerank = defaultMethodRerankPrompt
		}
		if c.FinalRanking == "" {
			c.FinalRanking = defaultMethodFinalRankingPrompt
		}
		if c.MADL == "" {
			c.MADL = defaultMethodMADLPrompt
		}
		if c.DedupeSummary == "" {
			c.DedupeSummary = defaultMethodDedupeSummaryPrompt
		}
		if c.DedupeVerification == "" {
			c.DedupeVerification = defaultMethodDedupeVerificationPrompt
		}
		return
	}

	if c.Normalization == "" {
		c.Normalization = defaultTestCaseNormalizationPrompt
	}
	if c.Expansion == "" {
		c.Expansion = defaultTestCaseExpansionPrompt
	}
	if c.Rerank == "" {
		c.Rerank = defaultTestCaseRerankPrompt
	}
	if c.FinalRanking == "" {
		c.FinalRanking = defaultTestCaseFinalRankingPrompt
	}
	if c.Enrichment == "" {
		c.Enrichment = defaultTestCaseEnrichmentPrompt
	}
	if c.DedupeSummary == "" {
		c.DedupeSummary = defaultTestCaseDedupeSummaryPrompt
	}
	if c.DedupeVerification == "" {
		c.DedupeVerification = defaultTestCaseDedupeVerificationPrompt
	}
}

// Validate checks that each template carries the placeholders its pipeline
// stage substitutes. A template missing one would silently send a literal
// {placeholder} to the LLM.
func (c *PromptsConfig) Validate(flavor string) error {
	required := map[string][]string{
		"normalization": {"{query}"},
		"expansion":     {"{n}", "{normalized_query}"},
		"rerank":        {"{query}"},
		"final_ranking": {"{top_k}", "{query}"},
	}

	if flavor == FlavorMethod {
		required["madl"] = []string{"{raw_method}"}
		required["dedupe_summary"] = []string{"{raw_method}"}
		required["dedupe_verification"] = []string{"{new_method_name}", "{new_raw_method}", "{existing_blocks}"}
	} else {
		required["enrichment"] = []string{"{feature}", "{description_text}", "{steps_text}"}
		required["dedupe_summary"] = []string{"{feature}", "{description_text}", "{steps_text}"}
		required["dedupe_verification"] = []string{"{new_feature}", "{new_description}", "{new_steps}", "{existing_blocks}"}
	}

	templates := map[string]string{
		"normalization":       c.Normalization,
		"expansion":           c.Expansion,
		"rerank":              c.Rerank,
		"final_ranking":       c.FinalRanking,
		"enrichment":          c.Enrichment,
		"madl":                c.MADL,
		"dedupe_summary":      c.DedupeSummary,
		"dedupe_verification": c.DedupeVerification,
	}

	for name, placeholders := range required {
		tmpl := templates[name]
		if tmpl == "" {
			return fmt.Errorf("prompt %q is empty", name)
		}
		for _, ph := range placeholders {
			if !strings.Contains(tmpl, ph) {
				return fmt.Errorf("prompt %q is missing placeholder %s", name, ph)
			}
		}
	}

	return nil
}

// RenderPrompt substitutes {name} placeholders in a template.
func RenderPrompt(template string, vars map[string]string) string {
	out := template
	for name, value := range vars {
		out = strings.ReplaceAll(out, "{"+name+"}", value)
	}
	return out
}

const defaultTestCaseNormalizationPrompt = `This is a query that I have received from a user for test case searching.

Most important:
- Do not lose user intent.
- Do not lose requested action.
- Fix only spelling or minor grammar errors.
- Preserve wording and meaning.
- Return ONLY a single corrected sentence.

Query: "{query}"`

const defaultTestCaseExpansionPrompt = `You are an assistant that expands short search queries into useful
paraphrases and synonyms for software test-case search.

Goal:
- Widen semantic scope while preserving intent.

Instructions:
- Return only a comma-separated single line of {n} short paraphrases or keywords.
- Do NOT use numbering or bullet points.

Query: "{normalized_query}"`

const defaultTestCaseRerankPrompt = `You are an expert relevance-ranking assistant.

Your task:
Re-rank the following test cases based on how well each one matches the given query.

Query:
"{query}"

Instructions:
- Return ONLY a newline-separated list of candidate IDs.
- Each line must contain exactly one candidate _id.
- Order the IDs from MOST relevant to LEAST relevant.
- Do NOT include any explanations, commentary, formatting, or extra text.

Candidates:
`

const defaultTestCaseFinalRankingPrompt = `Look at these software test cases and choose the {top_k} that best match what the user really wants to test.

Ignore any previous scores, rankings, or ordering. Judge only by how well each test case matches the user’s intent.

User Query:
"{query}"

Reply with EXACTLY {top_k} lines.
Format each line as:

<test_case_id> | <confidence_score>

Where:
- <confidence_score> is an integer between 0 and 100 showing how well the test matches the user’s intent.
- Put the best match first.
- Do not add any other text.

Test cases:
`

const defaultTestCaseEnrichmentPrompt = `Analyze the following software test case end to end completely and generate enriched metadata.

Feature: "{feature}"

Test Case Description: "{description_text}"

Steps: "{steps_text}"

Output format (exactly):
Summary: Exactly 30 words clearly explaining purpose and process of the test case.
Keywords: Exactly 20 key words & phrases together, they shall be comma-separated.`

const defaultTestCaseDedupeSummaryPrompt = `Analyze the following end-to-end software test case.

Your task:
Generate EXACTLY a 12-word summary describing only the functional intent of the test case.

Rules:
- EXACTLY 12 words (no more, no less).
- Single sentence.
- No quotes, bullet points, or numbering.
- No punctuation at end.
- No explanations or extra words.

Feature:
"{feature}"

Description:
"{description_text}"

Steps:
"{steps_text}"

Return ONLY the 12-word summary.`

const defaultTestCaseDedupeVerificationPrompt = `You are an expert QA test-case duplication detector.

Compare the NEW TEST CASE with the EXISTING TEST CASES below.

Determine if ANY existing test case validates the SAME FUNCTIONAL INTENT
with SUBSTANTIALLY THE SAME WORKFLOW.

Reply with EXACTLY one word only:

DUPLICATE
or
UNIQUE

Do NOT explain.

NEW TEST CASE
Feature: "{new_feature}"
Description: "{new_description}"
Steps:
"{new_steps}"

EXISTING TEST CASES
-------------------
{existing_blocks}`

const defaultMethodNormalizationPrompt = `This is a query that I have received from a user for automation method searching.

Most important:
- Do not lose user intent.
- Do not lose requested action.
- Fix only spelling or minor grammar errors.
- Preserve wording and meaning.
- Return ONLY a single corrected sentence.

Query:
"{query}"`

const defaultMethodExpansionPrompt = `You are an assistant that expands short search queries into useful
paraphrases and synonyms for automation method search.

Goal:
- Widen semantic scope while preserving intent.

Instructions:
- Return only a comma-separated single line of {n} short paraphrases or keywords.
- Do NOT use numbering or bullet points.

Query:
"{normalized_query}"`

const defaultMethodRerankPrompt = `You are an expert relevance-ranking assistant.

Your task:
Re-rank the following automation methods based on how well each one matches the given query.

Query:
"{query}"

Instructions:
- Return ONLY a newline-separated list of candidate IDs.
- Each line must contain exactly one candidate _id.
- Order the IDs from MOST relevant to LEAST relevant.
- Do NOT include any explanations, commentary, formatting, or extra text.

Candidates:
`

const defaultMethodFinalRankingPrompt = `Look at these automation methods and choose the {top_k} that best match what the user really wants to automate.

Ignore any previous scores, rankings, or ordering. Judge only by how well each method matches the user’s intent.

User Query:
"{query}"

Reply with EXACTLY {top_k} lines.
Format each line as:

<method_id> | <confidence_score>

Where:
- <confidence_score> is an integer between 0 and 100 showing how well the method matches the user’s intent.
- Put the best match first.
- Do not add any other text.

Methods:
`

const defaultMethodMADLPrompt = `Analyze this raw automation method and return STRICT JSON only with this schema:

{
  "method_name": "",
  "method_documentation": {
    "summary": "",
    "description": "",
    "reusable": true,
    "intent": "",
    "params": { "param": "description" },
    "applies": "",
    "returns": "",
    "keywords": [],
    "owner": "QE-Core/Automation",
    "example_usage": "",
    "created": "",
    "last_updated": ""
  }
}

Rules:
- The summary shall be of 30-35 words maximum.
- Total keywords shall not exceed 10-15.
- Never lose the intent of the method.
- Response MUST be valid JSON only.
- method_name must contain full function signature.
- params must match the method arguments.
- returns must be "None" if nothing is returned.
- keywords should be UI test automation terms.

RAW METHOD:
{raw_method}`

const defaultMethodDedupeSummaryPrompt = `Analyze the following automation method.

Your task:
Generate EXACTLY a 12-word summary describing only the functional intent of the method.

Rules:
- EXACTLY 12 words (no more, no less).
- Single sentence.
- No quotes, bullet points, or numbering.
- No punctuation at end.
- No explanations or extra words.

Raw Method:
"{raw_method}"

Return ONLY the 12-word summary.`

const defaultMethodDedupeVerificationPrompt = `You are an expert automation method duplication detector.

Compare the NEW METHOD with the EXISTING METHODS below.

Determine if ANY existing method performs the SAME FUNCTIONAL INTENT
with SUBSTANTIALLY THE SAME AUTOMATION WORKFLOW.

It is fine if two different methods have different names – they may still
be considered the same. However:

- If their PARAMETERS differ, treat them as UNIQUE.
- If their LOCATORS differ, treat them as UNIQUE, as locators play a vital
  role during execution.
- If their ASYNC FLOW or WAIT STRATEGY differs, treat them as UNIQUE.

Reply with EXACTLY one word only:

DUPLICATE
or
UNIQUE

Do NOT explain.

NEW METHOD
Method Name: "{new_method_name}"
Raw Method:
"{new_raw_method}"

EXISTING METHODS
-----------------
{existing_blocks}`
