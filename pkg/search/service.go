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

// Package search runs the retrieval funnel: query preparation, ANN
// retrieval, local scoring, LLM reranking, and a final intent ranking,
// with a TTL response cache in front of the whole pipeline.
package search

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/kadirpekel/quarry/pkg/cache"
	"github.com/kadirpekel/quarry/pkg/config"
	"github.com/kadirpekel/quarry/pkg/embed"
	"github.com/kadirpekel/quarry/pkg/observability"
	"github.com/kadirpekel/quarry/pkg/ranking"
	"github.com/kadirpekel/quarry/pkg/vectorstore"
)

// Request is one search call. Tags, Priority, and Platform are accepted
// for API compatibility but only Feature is indexed for filtering.
type Request struct {
	Query          string   `json:"query"`
	Feature        string   `json:"feature,omitempty"`
	Tags           []string `json:"tags,omitempty"`
	Priority       string   `json:"priority,omitempty"`
	Platform       string   `json:"platform,omitempty"`
	RankingVariant string   `json:"ranking_variant,omitempty"`
}

// Response is the assembled search reply. FeatureFilter is null when no
// filter was applied. Cached responses come back verbatim with FromCache
// flipped to true.
type Response struct {
	Query          string           `json:"query"`
	FeatureFilter  *string          `json:"feature_filter"`
	ResultsCount   int              `json:"results_count"`
	Results        []ranking.Result `json:"results"`
	FromCache      bool             `json:"from_cache"`
	RankingVariant string           `json:"ranking_variant"`
}

// Config wires the search service.
type Config struct {
	// Store serves the ANN queries (required).
	Store vectorstore.Provider

	// Embedder encodes the combined query (required).
	Embedder embed.Embedder

	// LLM drives normalization, expansion, reranking, and final ranking.
	// A nil or disabled gateway degrades all four to passthrough.
	LLM LLM

	// Collection is the record collection to search.
	Collection string

	// Flavor selects the record kind being served.
	Flavor string

	// Search shapes the funnel sizes and the cache TTL.
	Search *config.SearchConfig

	// LLMConfig gates expansion and reranking and sizes the expansion list.
	LLMConfig *config.LLMConfig

	// Prompts supplies the stage templates.
	Prompts *config.PromptsConfig

	// NumCandidates sizes the ANN candidate pool.
	NumCandidates int
}

// Service executes the search pipeline. Stage order within one request is
// strict; concurrent requests share only the cache and the gateway's
// semaphore.
type Service struct {
	store       vectorstore.Provider
	embedder    embed.Embedder
	preparer    *Preparer
	reranker    *ranking.Reranker
	finalRanker *ranking.FinalRanker
	cache       *cache.Cache[Response]

	collection    string
	flavor        string
	candidates    int
	finalResults  int
	numCandidates int
}

// NewService creates the search service.
func NewService(cfg Config) (*Service, error) {
	if cfg.Store == nil {
		return nil, fmt.Errorf("vector store is required")
	}
	if cfg.Embedder == nil {
		return nil, fmt.Errorf("embedder is required")
	}

	searchCfg := cfg.Search
	if searchCfg == nil {
		searchCfg = &config.SearchConfig{}
	}
	searchCfg.SetDefaults()

	llmCfg := cfg.LLMConfig
	if llmCfg == nil {
		llmCfg = &config.LLMConfig{}
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
		numCandidates = 150
	}

	expansions := llmCfg.Expansions
	if expansions <= 0 {
		expansions = 6
	}

	slog.Info("Created search service",
		"collection", collection,
		"flavor", flavor,
		"candidates", searchCfg.Candidates,
		"final_results", searchCfg.FinalResults,
		"top_k", searchCfg.TopK,
		"expansion_enabled", llmCfg.IsExpansionEnabled(),
		"rerank_enabled", llmCfg.IsRerankEnabled())

	return &Service{
		store:         cfg.Store,
		embedder:      cfg.Embedder,
		preparer:      NewPreparer(cfg.LLM, prompts, llmCfg.IsExpansionEnabled(), expansions),
		reranker:      ranking.NewReranker(cfg.LLM, prompts, flavor, llmCfg.IsRerankEnabled()),
		finalRanker:   ranking.NewFinalRanker(cfg.LLM, prompts, flavor, llmCfg.IsRerankEnabled(), searchCfg.TopK),
		cache:         cache.New[Response](searchCfg.CacheTTL),
		collection:    collection,
		flavor:        flavor,
		candidates:    searchCfg.Candidates,
		finalResults:  searchCfg.FinalResults,
		numCandidates: numCandidates,
	}, nil
}

// Search runs the full pipeline for one request.
func (s *Service) Search(ctx context.Context, req Request) (*Response, error) {
	raw := strings.TrimSpace(req.Query)
	if raw == "" {
		return nil, ErrEmptyQuery
	}

	feature := strings.TrimSpace(req.Feature)
	variant := strings.ToUpper(req.RankingVariant)
	if variant == "" {
		variant = ranking.VariantA
	}

	tracer := observability.GetTracer("quarry.search")
	ctx, span := tracer.Start(ctx, observability.SpanSearch,
		trace.WithAttributes(
			attribute.String(observability.AttrSearchQuery, raw),
			attribute.String(observability.AttrSearchVariant, variant),
		),
	)
	defer span.End()

	start := time.Now()
	metrics := observability.GetGlobalMetrics()

	key := cache.Key(raw, feature, variant)
	if cached, ok := s.cache.Get(key); ok {
		if metrics != nil {
			metrics.RecordCacheLookup(ctx, true)
		}
		slog.Info("Cache hit", "query", raw)
		cached.FromCache = true
		return &cached, nil
	}
	if metrics != nil {
		metrics.RecordCacheLookup(ctx, false)
	}

	normalized := s.preparer.Normalize(ctx, raw)
	expansions := s.preparer.Expand(ctx, normalized)
	combined := strings.Join(expansions, " ")
	slog.Debug("Prepared query",
		"normalized", normalized,
		"expansions", expansions,
		"combined", combined)

	queryVector, err := s.embedder.Embed(ctx, combined)
	if err != nil {
		return nil, failStage(ctx, span, metrics, variant, start,
			NewPipelineError("embed", DetailEmbeddingFailed, raw, err))
	}

	hits, err := s.store.Search(ctx, s.collection, vectorstore.SearchRequest{
		Vector:        queryVector,
		Path:          vectorstore.VectorMain,
		Limit:         s.candidates,
		NumCandidates: s.numCandidates,
		Filter:        featureFilter(feature),
		WithVectors:   true,
	})
	if err != nil {
		return nil, failStage(ctx, span, metrics, variant, start,
			NewPipelineError("vector_search", DetailVectorSearchFailed, raw, err))
	}

	if len(hits) == 0 {
		resp := &Response{
			Query:          raw,
			FeatureFilter:  optionalFeature(feature),
			ResultsCount:   0,
			Results:        []ranking.Result{},
			RankingVariant: variant,
		}
		s.cache.Set(key, *resp)
		if metrics != nil {
			metrics.RecordSearch(ctx, variant, time.Since(start), 0, nil)
		}
		slog.Info("Search complete", "query", raw, "variant", variant, "results", 0)
		return resp, nil
	}

	candidates := ranking.BuildCandidates(queryVector, expansions, hits, s.flavor)
	top := ranking.SelectTop(candidates, variant, s.candidates)
	top = s.reranker.Rerank(ctx, raw, top)
	if len(top) > s.finalResults {
		top = top[:s.finalResults]
	}

	results := ranking.Materialize(top)
	results = s.finalRanker.Rank(ctx, raw, results)

	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Probability > results[j].Probability
	})

	resp := &Response{
		Query:          raw,
		FeatureFilter:  optionalFeature(feature),
		ResultsCount:   len(results),
		Results:        results,
		RankingVariant: variant,
	}
	s.cache.Set(key, *resp)

	if metrics != nil {
		metrics.RecordSearch(ctx, variant, time.Since(start), len(results), nil)
	}
	span.SetAttributes(attribute.Int(observability.AttrSearchHits, len(results)))
	slog.Info("Search complete",
		"query", raw,
		"variant", variant,
		"results", len(results),
		"duration", time.Since(start))

	return resp, nil
}

// Close releases the response cache.
func (s *Service) Close() {
	s.cache.Close()
}

// failStage records a hard stage failure on the span and metrics.
func failStage(ctx context.Context, span trace.Span, metrics observability.Metrics, variant string, start time.Time, perr *PipelineError) error {
	span.RecordError(perr)
	span.SetStatus(codes.Error, perr.Error())
	if metrics != nil {
		metrics.RecordSearch(ctx, variant, time.Since(start), 0, perr)
	}
	slog.Error("Search failed", "stage", perr.Stage, "query", perr.Query, "error", perr.Err)
	return perr
}

// featureFilter builds the equality filter for the ANN search.
func featureFilter(feature string) map[string]string {
	if feature == "" {
		return nil
	}
	return map[string]string{"feature": feature}
}

// optionalFeature is the response representation of the filter: null when
// no filter was applied.
func optionalFeature(feature string) *string {
	if feature == "" {
		return nil
	}
	return &feature
}
