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

package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/invopop/jsonschema"

	"github.com/kadirpekel/quarry"
	"github.com/kadirpekel/quarry/pkg/config"
	"github.com/kadirpekel/quarry/pkg/ingest"
	"github.com/kadirpekel/quarry/pkg/search"
	"github.com/kadirpekel/quarry/pkg/vectorstore"
)

// Details owned by the HTTP layer. Pipeline details come from the search
// and ingest packages and are returned verbatim.
const (
	detailInvalidBody   = "Invalid request body."
	detailInvalidUpload = "Invalid file upload request."
	detailInternal      = "Internal Server Error"
)

// updateResponse is the PUT /update/{id} reply envelope.
type updateResponse struct {
	Success         bool                `json:"success"`
	Message         string              `json:"message"`
	UpdatedTestCase *vectorstore.Record `json:"updated_test_case"`
}

// healthResponse is the GET /health reply.
type healthResponse struct {
	Status     string            `json:"status"`
	Version    string            `json:"version"`
	Flavor     string            `json:"flavor,omitempty"`
	Components map[string]string `json:"components,omitempty"`
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	var req search.Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeDetail(w, http.StatusBadRequest, detailInvalidBody)
		return
	}

	resp, err := s.search.Search(r.Context(), req)
	if err != nil {
		var perr *search.PipelineError
		switch {
		case errors.Is(err, search.ErrEmptyQuery):
			writeDetail(w, http.StatusBadRequest, search.DetailEmptyQuery)
		case errors.As(err, &perr):
			writeDetail(w, http.StatusInternalServerError, perr.Message)
		default:
			slog.Error("Search failed", "error", err)
			writeDetail(w, http.StatusInternalServerError, search.DetailPipelineFailed)
		}
		return
	}

	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	file, header, err := r.FormFile("file")
	if err != nil {
		writeDetail(w, http.StatusBadRequest, detailInvalidUpload)
		return
	}
	defer file.Close()

	result, err := s.ingest.IngestSheet(r.Context(), header.Filename, file)
	if err != nil {
		var ierr *ingest.InputError
		var serr *ingest.StageError
		switch {
		case errors.As(err, &ierr):
			writeDetail(w, http.StatusBadRequest, ierr.Detail)
		case errors.As(err, &serr):
			writeDetail(w, http.StatusInternalServerError, serr.Detail)
		default:
			slog.Error("Upload failed", "file", header.Filename, "error", err)
			writeDetail(w, http.StatusInternalServerError, detailInternal)
		}
		return
	}

	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleUpdate(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var patch ingest.Patch
	if err := json.NewDecoder(r.Body).Decode(&patch); err != nil {
		writeDetail(w, http.StatusBadRequest, detailInvalidBody)
		return
	}

	rec, err := s.ingest.Update(r.Context(), id, patch)
	if err != nil {
		var serr *ingest.StageError
		switch {
		case errors.Is(err, ingest.ErrNotFound):
			writeDetail(w, http.StatusNotFound, ingest.DetailNotFound)
		case errors.As(err, &serr):
			writeDetail(w, http.StatusInternalServerError, serr.Detail)
		default:
			slog.Error("Update failed", "id", id, "error", err)
			writeDetail(w, http.StatusInternalServerError, ingest.DetailUpdateFailed)
		}
		return
	}

	writeJSON(w, http.StatusOK, updateResponse{
		Success:         true,
		Message:         fmt.Sprintf("Test case %s updated successfully", id),
		UpdatedTestCase: rec,
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, healthResponse{
		Status:     "ok",
		Version:    quarry.Version,
		Flavor:     s.appCfg.Flavor,
		Components: s.components,
	})
}

// handleSchema reflects the configuration surface into JSON Schema. The
// schema is generated per request so it always matches the running build.
func (s *Server) handleSchema(w http.ResponseWriter, r *http.Request) {
	reflector := &jsonschema.Reflector{
		AllowAdditionalProperties: false,
		DoNotReference:            true,
	}

	schema := reflector.Reflect(&config.Config{})
	schema.ID = "https://github.com/kadirpekel/quarry/schemas/config.json"
	schema.Title = "Quarry Configuration Schema"
	schema.Description = "Configuration schema for the quarry retrieval service"
	schema.Version = "http://json-schema.org/draft-07/schema#"

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-cache, no-store, must-revalidate")

	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(schema); err != nil {
		slog.Error("Failed to encode schema", "error", err)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeDetail(w http.ResponseWriter, status int, detail string) {
	writeJSON(w, status, map[string]string{"detail": detail})
}
