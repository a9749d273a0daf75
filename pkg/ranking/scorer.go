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

// Package ranking orders ANN hits into the final result list. Three
// stages build on each other: a local scorer blending store similarity
// with lexical boosts, an LLM reranker that reorders the shortlist, and
// a final LLM pass assigning each surviving result a 0-100 relevance
// probability. The LLM stages are strictly optional; every failure path
// falls back to the order the previous stage produced.
package ranking

import (
	"math"
	"regexp"
	"sort"
	"strings"

	"github.com/kadirpekel/quarry/pkg/config"
	"github.com/kadirpekel/quarry/pkg/vectorstore"
)

// Ranking variants selectable per request. Variant A leans on semantic
// similarity; variant B mixes in keyword overlap, feature affinity, and
// popularity.
const (
	VariantA = "A"
	VariantB = "B"
)

// wordPattern tokenizes text into lowercase words, keeping hyphenated
// terms and contractions intact.
var wordPattern = regexp.MustCompile(`\b[\w\-']+\b`)

// Candidate is one ANN hit carrying its local scores through the
// pipeline.
type Candidate struct {
	ID     string
	Record vectorstore.Record

	// ANNScore is the store's similarity for the searched vector.
	ANNScore float64

	// ScoreA and ScoreB are the raw scores under each variant.
	ScoreA float64
	ScoreB float64

	// Score is the selected variant's raw score, set by SelectTop.
	Score float64

	// Norm is Score min-max normalized across the candidate set.
	Norm float64
}

// BuildCandidates scores every hit against the combined query vector and
// the expansion tokens. Hits are expected to carry their stored vectors
// (SearchRequest.WithVectors); a hit without them simply scores zero on
// the semantic term.
func BuildCandidates(queryVector []float32, expansions []string, hits []vectorstore.Hit, flavor string) []Candidate {
	expansionTokens := tokenizeAll(expansions)

	candidates := make([]Candidate, 0, len(hits))
	for _, hit := range hits {
		ann := float64(hit.Score)

		semanticMax := 0.0
		for _, path := range comparisonPaths(flavor) {
			if sim := cosine(queryVector, hit.Vectors[path]); sim > semanticMax {
				semanticMax = sim
			}
		}

		keywords := candidateKeywords(hit.Payload, flavor)
		keywordSet := make(map[string]struct{}, len(keywords))
		for _, k := range keywords {
			keywordSet[k] = struct{}{}
		}
		textTokens := tokenize(candidateText(hit.Payload, flavor))

		tokenBoost := 0.0
		for tok := range expansionTokens {
			if _, ok := textTokens[tok]; ok {
				tokenBoost += 0.10
			}
			if _, ok := keywordSet[tok]; ok {
				tokenBoost += 0.15
			}
		}
		boostCap := len(expansionTokens)
		if boostCap < 1 {
			boostCap = 1
		}
		if maxBoost := float64(boostCap) * 0.15; tokenBoost > maxBoost {
			tokenBoost = maxBoost
		}

		keywordOverlap := 0
		for _, k := range keywords {
			if _, ok := expansionTokens[k]; ok {
				keywordOverlap++
			}
		}

		// Feature affinity only exists where records carry a feature.
		featureMatch := 0.0
		if feature := strings.ToLower(hit.Payload.Feature); feature != "" {
			for tok := range expansionTokens {
				if strings.Contains(feature, tok) {
					featureMatch = 1.0
					break
				}
			}
		}

		popularityBoost := math.Min(hit.Payload.Popularity/100.0, 0.10)

		candidates = append(candidates, Candidate{
			ID:       hit.ID,
			Record:   hit.Payload,
			ANNScore: ann,
			ScoreA:   0.60*ann + 0.25*semanticMax + tokenBoost,
			ScoreB: 0.45*ann + 0.20*semanticMax +
				0.12*math.Min(float64(keywordOverlap), 5)/5.0 +
				0.08*featureMatch +
				0.05*tokenBoost +
				0.05*popularityBoost,
		})
	}

	return candidates
}

// SelectTop picks the variant's raw score for each candidate, min-max
// normalizes across the set, sorts descending, and truncates to limit.
// An unknown variant scores like B; an empty one defaults to A.
func SelectTop(candidates []Candidate, variant string, limit int) []Candidate {
	if len(candidates) == 0 {
		return candidates
	}

	if strings.TrimSpace(variant) == "" {
		variant = VariantA
	}
	useA := strings.ToUpper(variant) == VariantA

	for i := range candidates {
		if useA {
			candidates[i].Score = candidates[i].ScoreA
		} else {
			candidates[i].Score = candidates[i].ScoreB
		}
	}

	normalize(candidates)

	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].Score > candidates[j].Score
	})

	if limit > 0 && len(candidates) > limit {
		candidates = candidates[:limit]
	}
	return candidates
}

// normalize min-max scales Score into Norm. A collapsed range maps
// every candidate to 1.0.
func normalize(candidates []Candidate) {
	lo, hi := candidates[0].Score, candidates[0].Score
	for _, c := range candidates[1:] {
		if c.Score < lo {
			lo = c.Score
		}
		if c.Score > hi {
			hi = c.Score
		}
	}

	spread := hi - lo
	for i := range candidates {
		if spread <= 1e-12 {
			candidates[i].Norm = 1.0
		} else {
			candidates[i].Norm = (candidates[i].Score - lo) / spread
		}
	}
}

// Round2 rounds to two decimals, the precision probabilities carry.
func Round2(x float64) float64 {
	return math.Round(x*100) / 100
}

// comparisonPaths lists the stored vectors the semantic term compares
// the query against.
func comparisonPaths(flavor string) []string {
	if flavor == config.FlavorMethod {
		return []string{vectorstore.VectorMain, vectorstore.VectorSummary}
	}
	return []string{vectorstore.VectorMain, vectorstore.VectorSummary, vectorstore.VectorDesc}
}

// candidateText joins the fields the token boost scans.
func candidateText(rec vectorstore.Record, flavor string) string {
	if flavor == config.FlavorMethod {
		return rec.MethodName + " " + rec.RawCode + " " + rec.DocSummary()
	}
	return rec.Description + " " + rec.Steps + " " + rec.Summary
}

// candidateKeywords returns the record's keywords, lowercased.
func candidateKeywords(rec vectorstore.Record, flavor string) []string {
	raw := rec.Keywords
	if flavor == config.FlavorMethod {
		raw = rec.DocKeywords()
	}
	if len(raw) == 0 {
		return nil
	}
	keywords := make([]string, len(raw))
	for i, k := range raw {
		keywords[i] = strings.ToLower(k)
	}
	return keywords
}

// tokenize lowercases text and returns its word token set.
func tokenize(text string) map[string]struct{} {
	tokens := make(map[string]struct{})
	for _, tok := range wordPattern.FindAllString(strings.ToLower(text), -1) {
		tokens[tok] = struct{}{}
	}
	return tokens
}

// tokenizeAll unions the token sets of several strings.
func tokenizeAll(texts []string) map[string]struct{} {
	tokens := make(map[string]struct{})
	for _, text := range texts {
		for tok := range tokenize(text) {
			tokens[tok] = struct{}{}
		}
	}
	return tokens
}

// cosine returns the cosine similarity of two vectors, 0 when either is
// empty, zero-length in norm, or they disagree on dimension.
func cosine(a, b []float32) float64 {
	if len(a) == 0 || len(b) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
