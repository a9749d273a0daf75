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

package search

import (
	"errors"
	"fmt"
)

// ErrEmptyQuery rejects a request whose query is empty after trimming.
var ErrEmptyQuery = errors.New("search query cannot be empty")

// Stage details surfaced to API clients. The HTTP layer returns these
// verbatim; the LLM-assisted stages degrade instead of erroring, so only
// embedding and the vector search can produce a hard failure.
const (
	DetailEmptyQuery         = "Search query cannot be empty."
	DetailEmbeddingFailed    = "Embedding computation failed"
	DetailVectorSearchFailed = "Vector search failed"
	DetailPipelineFailed     = "Search pipeline failed"
)

// PipelineError represents a hard failure in one search pipeline stage.
type PipelineError struct {
	Stage   string // Stage that failed (e.g., "embed", "vector_search")
	Message string // User-facing error message
	Query   string // Query that caused the error
	Err     error  // Underlying error
}

// Error implements the error interface.
func (e *PipelineError) Error() string {
	msg := fmt.Sprintf("[%s] %s", e.Stage, e.Message)
	if e.Query != "" {
		// Truncate query if too long
		query := e.Query
		if len(query) > 50 {
			query = query[:50] + "..."
		}
		msg += fmt.Sprintf(" (query: %q)", query)
	}
	if e.Err != nil {
		msg += fmt.Sprintf(": %v", e.Err)
	}
	return msg
}

// Unwrap returns the underlying error.
func (e *PipelineError) Unwrap() error {
	return e.Err
}

// NewPipelineError creates a new PipelineError.
func NewPipelineError(stage, message, query string, err error) *PipelineError {
	return &PipelineError{
		Stage:   stage,
		Message: message,
		Query:   query,
		Err:     err,
	}
}
