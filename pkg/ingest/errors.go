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
	"errors"
	"fmt"
)

// ErrNotFound rejects an update against an ID the store does not hold.
var ErrNotFound = errors.New("record not found")

// User-visible details. The HTTP layer returns these verbatim: InputError
// details with status 400, ErrNotFound with 404, StageError details with
// 500.
const (
	DetailInvalidFileType  = "Invalid file type. Please upload a CSV or XLSX file."
	DetailParseFailed      = "Parsing failed. Please check the file format."
	DetailMissingIDColumn  = "CSV/XLSX must contain 'Test Case ID' column."
	DetailMissingRawColumn = "CSV/XLSX must contain 'Raw Method' column."

	DetailNotFound           = "Test case not found"
	DetailFetchFailed        = "Failed fetching test case from database."
	DetailEmbedRebuildFailed = "Failed rebuilding embeddings for test case."
	DetailSaveFailed         = "Failed saving updated test case."
	DetailUpdateFailed       = "An error occurred while updating the test case."
)

// InputError is a user-correctable upload failure: wrong extension, an
// unreadable sheet, or a sheet missing its required column.
type InputError struct {
	Detail string // User-facing error message
	Err    error  // Underlying error, may be nil
}

// Error implements the error interface.
func (e *InputError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Detail, e.Err)
	}
	return e.Detail
}

// Unwrap returns the underlying error.
func (e *InputError) Unwrap() error {
	return e.Err
}

// StageError is a hard failure in one ingest or update stage. Detail is
// already fully formatted for the client.
type StageError struct {
	Stage  string // Stage that failed (e.g., "store", "embed")
	Detail string // User-facing error message
	Err    error  // Underlying error
}

// Error implements the error interface.
func (e *StageError) Error() string {
	msg := fmt.Sprintf("[%s] %s", e.Stage, e.Detail)
	if e.Err != nil {
		msg += fmt.Sprintf(": %v", e.Err)
	}
	return msg
}

// Unwrap returns the underlying error.
func (e *StageError) Unwrap() error {
	return e.Err
}

// NewStageError creates a new StageError.
func NewStageError(stage, detail string, err error) *StageError {
	return &StageError{
		Stage:  stage,
		Detail: detail,
		Err:    err,
	}
}
