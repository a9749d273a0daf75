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
	"regexp"
	"sort"
	"strings"
	"unicode/utf8"
)

const stopwordList = `a about above after again against all am an and any are aren't as at be because been before being below between both but by
can cannot could couldn't did didn't do does doesn't doing don't down during each few for from further had hadn't has hasn't have
haven't having he he'd he'll he's her here here's hers herself him himself his how how's i i'd i'll i'm i've if in into is
isn't it it's its itself let's me more most mustn't my myself no nor not of off on once only or other ought our ours ourselves
out over own same shan't she she'd she'll she's should shouldn't so some such than that that's the their theirs them themselves
then there there's these they they'd they'll they're they've this those through to too under until up very was wasn't we we'd we'll
we're we've were weren't what what's when when's where where's which while who who's whom why why's with won't would wouldn't you
you'd you'll you're you've your yours yourself yourselves`

var stopwords = func() map[string]struct{} {
	set := make(map[string]struct{})
	for _, w := range strings.Fields(stopwordList) {
		set[w] = struct{}{}
	}
	return set
}()

var (
	wordPattern      = regexp.MustCompile(`\b[a-zA-Z0-9\-']+\b`)
	sentenceBoundary = regexp.MustCompile(`[.!?]\s+`)
)

// extractKeywords scores unigrams by frequency and bigrams at 1.4x their
// frequency, keeps non-stopword terms longer than two characters, and
// returns the top max terms ordered by score then alphabetically. When
// filtering leaves nothing it falls back to the raw non-stopword words.
func extractKeywords(text string, max int) []string {
	if strings.TrimSpace(text) == "" {
		return nil
	}

	words := wordPattern.FindAllString(strings.ToLower(text), -1)

	filtered := make([]string, 0, len(words))
	for _, w := range words {
		if _, stop := stopwords[w]; !stop && len(w) > 2 {
			filtered = append(filtered, w)
		}
	}

	uniCounts := make(map[string]int, len(filtered))
	for _, w := range filtered {
		uniCounts[w]++
	}
	bigramCounts := make(map[string]int, len(filtered))
	for i := 0; i+1 < len(filtered); i++ {
		bigramCounts[filtered[i]+" "+filtered[i+1]]++
	}

	scores := make(map[string]float64, len(uniCounts)+len(bigramCounts))
	for w, c := range uniCounts {
		scores[w] += float64(c)
	}
	for b, c := range bigramCounts {
		scores[b] += float64(c) * 1.4
	}

	type candidate struct {
		term  string
		score float64
	}
	ranked := make([]candidate, 0, len(scores))
	for term, score := range scores {
		ranked = append(ranked, candidate{term: term, score: score})
	}
	sort.Slice(ranked, func(i, j int) bool {
		if ranked[i].score != ranked[j].score {
			return ranked[i].score > ranked[j].score
		}
		return ranked[i].term < ranked[j].term
	})

	keywords := make([]string, 0, max)
	for _, c := range ranked {
		if len(keywords) == max {
			break
		}
		keywords = append(keywords, c.term)
	}

	if len(keywords) == 0 {
		for _, w := range words {
			if _, stop := stopwords[w]; stop {
				continue
			}
			keywords = append(keywords, w)
			if len(keywords) == max {
				break
			}
		}
	}

	return dedupeTerms(keywords, len(keywords))
}

// fallbackSummary builds an extractive summary from the first sentences of
// the description and steps. Used whenever the LLM cannot supply one.
func fallbackSummary(description, steps string, maxSentences int) string {
	text := strings.TrimSpace(description)
	if steps != "" {
		text = text + "\n\n" + steps
	}

	sentences := splitSentences(strings.TrimSpace(text))
	if len(sentences) == 0 {
		if strings.TrimSpace(text) == "" {
			return "Summary not available."
		}
		return truncateRunes(text, 500) + "..."
	}

	limit := maxSentences
	if limit > len(sentences) {
		limit = len(sentences)
	}
	summary := strings.Join(sentences[:limit], " ")

	if utf8.RuneCountInString(summary) < 40 && len(sentences) > maxSentences {
		limit = maxSentences + 1
		if limit > len(sentences) {
			limit = len(sentences)
		}
		summary = strings.Join(sentences[:limit], " ")
	}

	summary = truncateRunes(summary, 800)
	if utf8.RuneCountInString(summary) >= 800 {
		summary += "..."
	}
	return summary
}

// splitSentences splits on sentence-final punctuation followed by
// whitespace, keeping the punctuation with its sentence.
func splitSentences(text string) []string {
	var parts []string
	start := 0
	for _, loc := range sentenceBoundary.FindAllStringIndex(text, -1) {
		parts = append(parts, text[start:loc[0]+1])
		start = loc[1]
	}
	if start < len(text) {
		parts = append(parts, text[start:])
	}

	sentences := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			sentences = append(sentences, p)
		}
	}
	return sentences
}

// dedupeTerms drops repeated terms keeping first occurrence order, capped
// at max.
func dedupeTerms(terms []string, max int) []string {
	seen := make(map[string]struct{}, len(terms))
	out := make([]string, 0, len(terms))
	for _, t := range terms {
		if _, dup := seen[t]; dup {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
		if len(out) == max {
			break
		}
	}
	return out
}

func truncateRunes(s string, max int) string {
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max])
}

func collapseWhitespace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
