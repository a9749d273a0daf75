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
	"encoding/csv"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/xuri/excelize/v2"
)

// Test-case sheet columns. Only "Test Case ID" is required; the rest are
// read when present.
const (
	colTestCaseID    = "Test Case ID"
	colFeature       = "Feature"
	colDescription   = "Test Case Description"
	colPrerequisites = "Pre-requisites"
	colTags          = "Tags"
	colPriority      = "Priority"
	colPlatform      = "Platform"
	colStepNo        = "Step No."
	colTestStep      = "Test Step"
	colExpected      = "Expected Result"

	colRawMethod = "Raw Method"
)

// minMethodLen drops rows whose raw method is too short to be real code.
const minMethodLen = 10

// Row is one sheet row keyed by header column. Cells are trimmed and NaN
// artifacts of stringified sheets are scrubbed to "".
type Row map[string]string

// Sheet is a parsed worksheet.
type Sheet struct {
	Columns []string
	Rows    []Row
}

// HasColumn reports whether the header names the column.
func (s *Sheet) HasColumn(name string) bool {
	for _, col := range s.Columns {
		if col == name {
			return true
		}
	}
	return false
}

// IncomingTestCase is one grouped sheet record before enrichment. Steps
// from all rows of the group are already formatted and joined.
type IncomingTestCase struct {
	TestCaseID    string
	Feature       string
	Description   string
	Prerequisites string
	Tags          []string
	Priority      string
	Platform      string
	Steps         string
}

// IncomingMethod is one raw automation method from a method sheet.
type IncomingMethod struct {
	RawCode string
}

// ReadSheet parses an uploaded CSV or XLSX stream into rows. The filename
// extension selects the format; anything else is rejected.
func ReadSheet(filename string, r io.Reader) (*Sheet, error) {
	switch {
	case strings.HasSuffix(strings.ToLower(filename), ".csv"):
		return readCSV(r)
	case strings.HasSuffix(strings.ToLower(filename), ".xlsx"):
		return readXLSX(r)
	default:
		return nil, &InputError{Detail: DetailInvalidFileType}
	}
}

func readCSV(r io.Reader) (*Sheet, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1

	records, err := reader.ReadAll()
	if err != nil {
		return nil, &InputError{Detail: DetailParseFailed, Err: err}
	}
	return sheetFromRecords(records), nil
}

func readXLSX(r io.Reader) (*Sheet, error) {
	f, err := excelize.OpenReader(r)
	if err != nil {
		return nil, &InputError{Detail: DetailParseFailed, Err: err}
	}
	defer func() { _ = f.Close() }()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, &InputError{Detail: DetailParseFailed, Err: fmt.Errorf("workbook has no sheets")}
	}

	// First sheet only, matching spreadsheet reader defaults.
	records, err := f.GetRows(sheets[0])
	if err != nil {
		return nil, &InputError{Detail: DetailParseFailed, Err: err}
	}
	return sheetFromRecords(records), nil
}

func sheetFromRecords(records [][]string) *Sheet {
	sheet := &Sheet{}
	if len(records) == 0 {
		return sheet
	}

	for _, col := range records[0] {
		sheet.Columns = append(sheet.Columns, strings.TrimSpace(col))
	}

	for _, record := range records[1:] {
		row := make(Row, len(sheet.Columns))
		for i, col := range sheet.Columns {
			if col == "" {
				continue
			}
			var cell string
			if i < len(record) {
				cell = record[i]
			}
			row[col] = scrubCell(cell)
		}
		sheet.Rows = append(sheet.Rows, row)
	}
	return sheet
}

// scrubCell trims a cell and drops the NaN artifacts stringified sheets
// carry.
func scrubCell(cell string) string {
	trimmed := strings.TrimSpace(cell)
	if trimmed == "nan" || trimmed == "NaN" {
		return ""
	}
	return trimmed
}

// ParseTestCaseSheet groups rows by test case ID. IDs are forward-filled
// so multi-row cases only name their ID on the first row; rows with no ID
// at all or the literal "NA" are dropped. The first row of each group
// supplies the metadata, every row may contribute a step.
func ParseTestCaseSheet(sheet *Sheet) ([]IncomingTestCase, error) {
	if !sheet.HasColumn(colTestCaseID) {
		return nil, &InputError{Detail: DetailMissingIDColumn}
	}

	lastID := ""
	var order []string
	groups := make(map[string][]Row)
	for _, row := range sheet.Rows {
		id := row[colTestCaseID]
		if id == "" {
			id = lastID
		} else {
			lastID = id
		}
		if id == "" || strings.ToUpper(id) == "NA" {
			continue
		}
		if _, ok := groups[id]; !ok {
			order = append(order, id)
		}
		groups[id] = append(groups[id], row)
	}
	sort.Strings(order)

	cases := make([]IncomingTestCase, 0, len(order))
	for _, id := range order {
		group := groups[id]
		first := group[0]

		cases = append(cases, IncomingTestCase{
			TestCaseID:    id,
			Feature:       first[colFeature],
			Description:   first[colDescription],
			Prerequisites: first[colPrerequisites],
			Tags:          splitTags(first[colTags]),
			Priority:      first[colPriority],
			Platform:      first[colPlatform],
			Steps:         combineSteps(group),
		})
	}
	return cases, nil
}

// combineSteps formats each row's step as "Step {no}: {step}" with an
// optional " → Expected: {result}" suffix and joins them with blank lines.
// Rows without a test step are skipped.
func combineSteps(group []Row) string {
	var steps []string
	for _, row := range group {
		stepNo := row[colStepNo]
		testStep := row[colTestStep]
		expected := row[colExpected]

		if testStep == "" {
			continue
		}

		formatted := testStep
		if stepNo != "" {
			formatted = fmt.Sprintf("Step %s: %s", stepNo, testStep)
		}
		if expected != "" {
			formatted += fmt.Sprintf(" → Expected: %s", expected)
		}
		steps = append(steps, formatted)
	}
	return strings.Join(steps, "\n\n")
}

// ParseMethodSheet reads one raw method per row, skipping rows too short
// to be real code.
func ParseMethodSheet(sheet *Sheet) ([]IncomingMethod, error) {
	if !sheet.HasColumn(colRawMethod) {
		return nil, &InputError{Detail: DetailMissingRawColumn}
	}

	var methods []IncomingMethod
	for _, row := range sheet.Rows {
		raw := row[colRawMethod]
		if len(raw) < minMethodLen {
			continue
		}
		methods = append(methods, IncomingMethod{RawCode: raw})
	}
	return methods, nil
}

func splitTags(raw string) []string {
	var tags []string
	for _, t := range strings.Split(raw, ",") {
		if t = strings.TrimSpace(t); t != "" {
			tags = append(tags, t)
		}
	}
	return tags
}
