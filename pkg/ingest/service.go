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

// Package ingest turns uploaded CSV/XLSX sheets into stored records: parse
// and group, dedupe against the store, enrich with the LLM, embed, and
// batch-upsert. Records are only written at the end of a batch, so dedupe
// probes compare against previously stored data, never against siblings of
// the same upload.
package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/kadirpekel/quarry/pkg/config"
	"github.com/kadirpekel/quarry/pkg/dedupe"
	"github.com/kadirpekel/quarry/pkg/embed"
	"github.com/kadirpekel/quarry/pkg/observability"
	"github.com/kadirpekel/quarry/pkg/vectorstore"
)

// Batch messages returned when nothing survived dedupe.
const (
	MsgNoTestCases = "No valid test cases found (all duplicates skipped)."
	MsgNoMethods   = "No unique methods found (all duplicates skipped)."
)

// Config wires the ingest service dependencies.
type Config struct {
	// Store receives the finished points (required).
	Store vectorstore.Provider

	// Embedder computes the per-field vectors (required).
	Embedder embed.Embedder

	// LLM powers dedupe and enrichment. Nil or disabled degrades both to
	// their deterministic fallbacks.
	LLM LLM

	// Ledger tracks processed drop-folder files. Optional.
	Ledger *Ledger

	// Collection is the target collection name.
	Collection string

	// Flavor selects test-case or method processing.
	Flavor string

	// Prompts overrides the flavor's prompt templates.
	Prompts *config.PromptsConfig

	// LLMConfig supplies the retry budget for LLM-backed stages.
	LLMConfig *config.LLMConfig

	// Ingest supplies worker count, MADL owner and drop-folder settings.
	Ingest *config.IngestConfig

	// DedupeNumCandidates sizes the ANN pool for dedupe probes.
	DedupeNumCandidates int
}

// Service runs the ingestion pipeline for one flavor.
type Service struct {
	store      vectorstore.Provider
	embedder   embed.Embedder
	checker    *dedupe.Checker
	enricher   *Enricher
	ledger     *Ledger
	collection string
	flavor     string
	workers    int
}

// Result summarizes one batch.
type Result struct {
	Message    string `json:"message"`
	Ingested   int    `json:"ingested"`
	Duplicates int    `json:"duplicates"`
	Failed     int    `json:"failed"`
}

// outcome is one record's trip through the pipeline. A nil point without
// the duplicate flag means the record failed and was skipped.
type outcome struct {
	point     *vectorstore.Point
	duplicate bool
}

// NewService creates an ingest service.
func NewService(cfg Config) (*Service, error) {
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
	collection := cfg.Collection
	if collection == "" {
		collection = "records"
	}

	prompts := cfg.Prompts
	if prompts == nil {
		prompts = &config.PromptsConfig{}
	}
	prompts.SetDefaults(flavor)

	llmCfg := cfg.LLMConfig
	if llmCfg == nil {
		llmCfg = &config.LLMConfig{}
	}
	llmCfg.SetDefaults()

	ingestCfg := cfg.Ingest
	if ingestCfg == nil {
		ingestCfg = &config.IngestConfig{}
	}
	ingestCfg.SetDefaults()

	checker, err := dedupe.NewChecker(dedupe.Config{
		Store:         cfg.Store,
		Embedder:      cfg.Embedder,
		LLM:           cfg.LLM,
		Collection:    collection,
		Flavor:        flavor,
		Prompts:       prompts,
		NumCandidates: cfg.DedupeNumCandidates,
		Retries:       llmCfg.Retries,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create dedupe checker: %w", err)
	}

	svc := &Service{
		store:      cfg.Store,
		embedder:   cfg.Embedder,
		checker:    checker,
		enricher:   NewEnricher(cfg.LLM, prompts, llmCfg.Retries, ingestCfg.Owner),
		ledger:     cfg.Ledger,
		collection: collection,
		flavor:     flavor,
		workers:    ingestCfg.Workers,
	}

	slog.Info("Created ingest service",
		"collection", collection,
		"flavor", flavor,
		"workers", svc.workers)
	return svc, nil
}

// IngestSheet processes one uploaded sheet end to end and reports how many
// records were stored, skipped as duplicates, or failed.
func (s *Service) IngestSheet(ctx context.Context, filename string, r io.Reader) (*Result, error) {
	tracer := observability.GetTracer("quarry.ingest")
	ctx, span := tracer.Start(ctx, observability.SpanIngestBatch,
		trace.WithAttributes(attribute.String(observability.AttrIngestFile, filename)))
	defer span.End()

	sheet, err := ReadSheet(filename, r)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	var result *Result
	if s.flavor == config.FlavorMethod {
		result, err = s.ingestMethods(ctx, sheet)
	} else {
		result, err = s.ingestTestCases(ctx, sheet)
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	span.SetAttributes(attribute.Int(observability.AttrIngestRecords, result.Ingested))
	if metrics := observability.GetGlobalMetrics(); metrics != nil {
		metrics.RecordIngest(ctx, result.Ingested, result.Duplicates)
	}
	return result, nil
}

func (s *Service) ingestTestCases(ctx context.Context, sheet *Sheet) (*Result, error) {
	cases, err := ParseTestCaseSheet(sheet)
	if err != nil {
		return nil, err
	}
	slog.Info("Processing unique test cases", "count", len(cases))

	outcomes := make([]outcome, len(cases))
	s.runPool(len(cases), func(i int) {
		outcomes[i] = s.processTestCase(ctx, cases[i])
	})

	result := &Result{}
	points := collectPoints(outcomes, result)
	if len(points) == 0 {
		result.Message = MsgNoTestCases
		return result, nil
	}

	if err := s.store.Upsert(ctx, s.collection, points); err != nil {
		return nil, NewStageError("store", fmt.Sprintf("Error storing data: %v", err), err)
	}

	result.Ingested = len(points)
	result.Message = fmt.Sprintf("Successfully processed and stored %d unique test cases.", len(points))
	slog.Info("Stored unique test cases",
		"count", len(points),
		"duplicates", result.Duplicates,
		"failed", result.Failed)
	return result, nil
}

func (s *Service) ingestMethods(ctx context.Context, sheet *Sheet) (*Result, error) {
	methods, err := ParseMethodSheet(sheet)
	if err != nil {
		return nil, err
	}
	slog.Info("Processing methods", "count", len(methods))

	outcomes := make([]outcome, len(methods))
	s.runPool(len(methods), func(i int) {
		outcomes[i] = s.processMethod(ctx, methods[i])
	})

	result := &Result{}
	points := collectPoints(outcomes, result)
	if len(points) == 0 {
		result.Message = MsgNoMethods
		return result, nil
	}

	if err := s.store.Upsert(ctx, s.collection, points); err != nil {
		return nil, NewStageError("store", fmt.Sprintf("Error storing data: %v", err), err)
	}

	result.Ingested = len(points)
	result.Message = fmt.Sprintf("Successfully ingested %d unique methods.", len(points))
	slog.Info("Stored unique methods",
		"count", len(points),
		"duplicates", result.Duplicates,
		"failed", result.Failed)
	return result, nil
}

func (s *Service) processTestCase(ctx context.Context, tc IncomingTestCase) outcome {
	rec := vectorstore.Record{
		TestCaseID:    tc.TestCaseID,
		Feature:       tc.Feature,
		Description:   tc.Description,
		Prerequisites: tc.Prerequisites,
		Steps:         tc.Steps,
		Tags:          tc.Tags,
		Priority:      tc.Priority,
		Platform:      tc.Platform,
	}

	if s.isDuplicate(ctx, rec, tc.TestCaseID) {
		return outcome{duplicate: true}
	}

	enr := s.enricher.EnrichTestCase(ctx, tc.Feature, tc.Description, tc.Steps)
	rec.Summary = enr.Summary
	rec.Keywords = enr.Keywords

	v := embed.EncodeTestCase(ctx, s.embedder, tc.Description, tc.Steps, rec.Summary)
	if len(v.Main) == 0 {
		slog.Warn("Embedding unavailable, skipping record", "test_case_id", tc.TestCaseID)
		return outcome{}
	}

	rec.ID = uuid.NewString()
	rec.CreatedAt = time.Now().UTC()

	return outcome{point: &vectorstore.Point{
		ID: rec.ID,
		Vectors: namedVectors(map[string][]float32{
			vectorstore.VectorDesc:    v.Description,
			vectorstore.VectorSteps:   v.Steps,
			vectorstore.VectorSummary: v.Summary,
			vectorstore.VectorMain:    v.Main,
		}),
		Payload: rec,
	}}
}

func (s *Service) processMethod(ctx context.Context, m IncomingMethod) outcome {
	rec := vectorstore.Record{
		MethodName: extractSignature(m.RawCode),
		RawCode:    m.RawCode,
	}

	if s.isDuplicate(ctx, rec, rec.MethodName) {
		return outcome{duplicate: true}
	}

	rec.Doc = s.enricher.MethodDoc(ctx, m.RawCode)
	if name, _ := rec.Doc["method_name"].(string); name != "" {
		rec.MethodName = name
	}

	v := embed.EncodeMethod(ctx, s.embedder, rec.DocSummary(), m.RawCode, docJSON(rec.Doc))
	if len(v.Main) == 0 {
		slog.Warn("Embedding unavailable, skipping record", "method", rec.MethodName)
		return outcome{}
	}

	rec.ID = uuid.NewString()
	rec.CreatedAt = time.Now().UTC()

	return outcome{point: &vectorstore.Point{
		ID: rec.ID,
		Vectors: namedVectors(map[string][]float32{
			vectorstore.VectorSummary: v.Summary,
			vectorstore.VectorRawCode: v.Code,
			vectorstore.VectorDoc:     v.Doc,
			vectorstore.VectorMain:    v.Main,
		}),
		Payload: rec,
	}}
}

// isDuplicate runs the dedupe pipeline. Nothing that happens inside it,
// panics included, may block ingestion.
func (s *Service) isDuplicate(ctx context.Context, rec vectorstore.Record, label string) (dup bool) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("Dedupe pipeline panic, continuing ingestion",
				"record", label, "panic", r)
			dup = false
		}
	}()

	if s.checker.Check(ctx, rec) {
		slog.Info("Dedupe skip, matched existing record", "record", label)
		return true
	}
	return false
}

// runPool processes indices with a bounded worker pool. Per-record
// failures are outcomes, not errors, so the group never aborts early.
func (s *Service) runPool(n int, work func(int)) {
	if n == 0 {
		return
	}
	workers := s.workers
	if workers < 1 {
		workers = 1
	}

	var g errgroup.Group
	g.SetLimit(workers)
	for i := 0; i < n; i++ {
		g.Go(func() error {
			work(i)
			return nil
		})
	}
	_ = g.Wait()
}

func collectPoints(outcomes []outcome, result *Result) []vectorstore.Point {
	var points []vectorstore.Point
	for _, o := range outcomes {
		switch {
		case o.duplicate:
			result.Duplicates++
		case o.point == nil:
			result.Failed++
		default:
			points = append(points, *o.point)
		}
	}
	return points
}

// namedVectors keeps only the vectors that actually computed so a degraded
// field never ships a zero-length vector to the store.
func namedVectors(vectors map[string][]float32) map[string][]float32 {
	out := make(map[string][]float32, len(vectors))
	for name, vec := range vectors {
		if len(vec) > 0 {
			out[name] = vec
		}
	}
	return out
}

func docJSON(doc map[string]any) string {
	if doc == nil {
		return ""
	}
	b, err := json.Marshal(doc)
	if err != nil {
		return ""
	}
	return string(b)
}
