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

	"github.com/kadirpekel/quarry/pkg/config"
	"github.com/kadirpekel/quarry/pkg/embed"
	"github.com/kadirpekel/quarry/pkg/vectorstore"
)

// Patch carries the user-editable fields of an update request. Nil fields
// are left untouched. MethodName and RawCode apply to the method flavor.
type Patch struct {
	Feature       *string   `json:"feature,omitempty"`
	Description   *string   `json:"description,omitempty"`
	Prerequisites *string   `json:"prerequisites,omitempty"`
	Steps         *string   `json:"steps,omitempty"`
	Summary       *string   `json:"summary,omitempty"`
	Keywords      *[]string `json:"keywords,omitempty"`
	Tags          *[]string `json:"tags,omitempty"`
	Priority      *string   `json:"priority,omitempty"`
	Platform      *string   `json:"platform,omitempty"`
	Popularity    *float64  `json:"popularity,omitempty"`

	MethodName *string `json:"method_name,omitempty"`
	RawCode    *string `json:"raw_code,omitempty"`
}

// Update applies a patch to a stored record, regenerates enrichment when
// the searchable text changed, rebuilds all vectors and replaces the
// point. The returned record is the stored payload; vectors never leave
// the store.
func (s *Service) Update(ctx context.Context, id string, patch Patch) (*vectorstore.Record, error) {
	rec, err := s.store.Get(ctx, s.collection, id)
	if err != nil {
		return nil, NewStageError("fetch", DetailFetchFailed, err)
	}
	if rec == nil {
		return nil, ErrNotFound
	}

	if s.flavor == config.FlavorMethod {
		return s.updateMethod(ctx, id, rec, patch)
	}
	return s.updateTestCase(ctx, id, rec, patch)
}

func (s *Service) updateTestCase(ctx context.Context, id string, rec *vectorstore.Record, patch Patch) (*vectorstore.Record, error) {
	reprocess := false

	if patch.Feature != nil {
		rec.Feature = *patch.Feature
		reprocess = true
	}
	if patch.Description != nil {
		rec.Description = *patch.Description
		reprocess = true
	}
	if patch.Prerequisites != nil {
		rec.Prerequisites = *patch.Prerequisites
	}
	if patch.Steps != nil {
		rec.Steps = *patch.Steps
		reprocess = true
	}
	if patch.Summary != nil {
		rec.Summary = *patch.Summary
		reprocess = true
	}
	if patch.Keywords != nil {
		rec.Keywords = *patch.Keywords
		reprocess = true
	}
	if patch.Tags != nil {
		rec.Tags = *patch.Tags
	}
	if patch.Priority != nil {
		rec.Priority = *patch.Priority
	}
	if patch.Platform != nil {
		rec.Platform = *patch.Platform
	}
	if patch.Popularity != nil {
		rec.Popularity = *patch.Popularity
	}

	// Regenerate when the searchable text changed or the record never got
	// enriched. User-supplied summary and keywords always win.
	if reprocess || rec.Summary == "" || len(rec.Keywords) == 0 {
		enr := s.enricher.EnrichTestCase(ctx, rec.Feature, rec.Description, rec.Steps)
		if patch.Summary == nil {
			rec.Summary = enr.Summary
		}
		if patch.Keywords == nil {
			rec.Keywords = enr.Keywords
		}
	}

	v := embed.EncodeTestCase(ctx, s.embedder, rec.Description, rec.Steps, rec.Summary)
	if len(v.Main) == 0 {
		return nil, NewStageError("embed", DetailEmbedRebuildFailed, nil)
	}

	rec.ID = id
	point := vectorstore.Point{
		ID: id,
		Vectors: namedVectors(map[string][]float32{
			vectorstore.VectorDesc:    v.Description,
			vectorstore.VectorSteps:   v.Steps,
			vectorstore.VectorSummary: v.Summary,
			vectorstore.VectorMain:    v.Main,
		}),
		Payload: *rec,
	}
	if err := s.store.Replace(ctx, s.collection, point); err != nil {
		return nil, NewStageError("save", DetailSaveFailed, err)
	}

	slog.Info("Updated test case", "id", id)
	return rec, nil
}

func (s *Service) updateMethod(ctx context.Context, id string, rec *vectorstore.Record, patch Patch) (*vectorstore.Record, error) {
	reprocess := false

	if patch.MethodName != nil {
		rec.MethodName = *patch.MethodName
	}
	if patch.RawCode != nil {
		rec.RawCode = *patch.RawCode
		reprocess = true
	}
	if patch.Popularity != nil {
		rec.Popularity = *patch.Popularity
	}

	if reprocess || rec.Doc == nil {
		rec.Doc = s.enricher.MethodDoc(ctx, rec.RawCode)
		if patch.MethodName == nil {
			if name, _ := rec.Doc["method_name"].(string); name != "" {
				rec.MethodName = name
			}
		}
	}

	v := embed.EncodeMethod(ctx, s.embedder, rec.DocSummary(), rec.RawCode, docJSON(rec.Doc))
	if len(v.Main) == 0 {
		return nil, NewStageError("embed", DetailEmbedRebuildFailed, nil)
	}

	rec.ID = id
	point := vectorstore.Point{
		ID: id,
		Vectors: namedVectors(map[string][]float32{
			vectorstore.VectorSummary: v.Summary,
			vectorstore.VectorRawCode: v.Code,
			vectorstore.VectorDoc:     v.Doc,
			vectorstore.VectorMain:    v.Main,
		}),
		Payload: *rec,
	}
	if err := s.store.Replace(ctx, s.collection, point); err != nil {
		return nil, NewStageError("save", DetailSaveFailed, err)
	}

	slog.Info("Updated method", "id", id)
	return rec, nil
}
