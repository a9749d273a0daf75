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

package vectorstore

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/kadirpekel/quarry/pkg/config"
)

// Named vector paths. A record carries one vector per field plus the fused
// main vector the primary search runs against.
const (
	VectorMain    = "main_vector"
	VectorDesc    = "desc_embedding"
	VectorSteps   = "steps_embedding"
	VectorSummary = "summary_embedding"
	VectorRawCode = "raw_code_embedding"
	VectorDoc     = "doc_embedding"
)

// VectorPaths returns the named vector set for a flavor.
func VectorPaths(flavor string) []string {
	if flavor == config.FlavorMethod {
		return []string{VectorSummary, VectorRawCode, VectorDoc, VectorMain}
	}
	return []string{VectorDesc, VectorSteps, VectorSummary, VectorMain}
}

// Record is the stored payload. One collection serves one flavor, so each
// record populates either the test-case fields or the method fields.
// Vectors are carried separately on Point and never serialize here.
type Record struct {
	ID string `json:"id"`

	// Test-case flavor.
	TestCaseID    string   `json:"test_case_id,omitempty"`
	Feature       string   `json:"feature,omitempty"`
	Description   string   `json:"description,omitempty"`
	Prerequisites string   `json:"prerequisites,omitempty"`
	Steps         string   `json:"steps,omitempty"`
	Summary       string   `json:"summary,omitempty"`
	Keywords      []string `json:"keywords,omitempty"`
	Tags          []string `json:"tags,omitempty"`
	Priority      string   `json:"priority,omitempty"`
	Platform      string   `json:"platform,omitempty"`

	// Method flavor. Doc holds the MADL object as produced by the
	// documentation stage; it stays schemaless so a partially valid LLM
	// reply never drops a record.
	MethodName string         `json:"method_name,omitempty"`
	RawCode    string         `json:"raw_code,omitempty"`
	Doc        map[string]any `json:"doc,omitempty"`

	Popularity float64   `json:"popularity"`
	CreatedAt  time.Time `json:"created_at"`
}

// Point is one record with its named vectors, ready for the store.
type Point struct {
	ID      string
	Vectors map[string][]float32
	Payload Record
}

// SearchRequest describes one ANN query against a named vector.
type SearchRequest struct {
	// Vector is the query embedding.
	Vector []float32

	// Path selects the named vector to search (VectorMain for the
	// primary search).
	Path string

	// Limit is the number of hits to return.
	Limit int

	// NumCandidates sizes the ANN candidate pool.
	NumCandidates int

	// Filter applies equality-only payload filtering.
	Filter map[string]string

	// WithVectors asks the store to return each hit's stored named
	// vectors so the scorer can compare the query against them.
	WithVectors bool
}

// Hit is one search result. Score is the store's similarity in [0,1].
// Vectors is populated only when the request set WithVectors.
type Hit struct {
	ID      string
	Score   float32
	Payload Record
	Vectors map[string][]float32
}

// docSection returns the method_documentation object inside the MADL doc.
func (r Record) docSection() map[string]any {
	if r.Doc == nil {
		return nil
	}
	section, _ := r.Doc["method_documentation"].(map[string]any)
	return section
}

// DocSummary returns the MADL documentation summary, or "".
func (r Record) DocSummary() string {
	s, _ := r.docSection()["summary"].(string)
	return s
}

// DocDescription returns the MADL documentation description, or "".
func (r Record) DocDescription() string {
	s, _ := r.docSection()["description"].(string)
	return s
}

// DocIntent returns the MADL documentation intent, or "".
func (r Record) DocIntent() string {
	s, _ := r.docSection()["intent"].(string)
	return s
}

// DocParams returns the MADL parameter map (name to description).
func (r Record) DocParams() map[string]string {
	raw, _ := r.docSection()["params"].(map[string]any)
	if len(raw) == 0 {
		return nil
	}
	params := make(map[string]string, len(raw))
	for name, v := range raw {
		params[name] = fmt.Sprintf("%v", v)
	}
	return params
}

// DocKeywords returns the MADL keyword list. The doc travels through JSON,
// so the list arrives as []any.
func (r Record) DocKeywords() []string {
	raw, _ := r.docSection()["keywords"].([]any)
	if len(raw) == 0 {
		return nil
	}
	keywords := make([]string, 0, len(raw))
	for _, v := range raw {
		if s, ok := v.(string); ok && s != "" {
			keywords = append(keywords, s)
		}
	}
	return keywords
}

// MarshalPayload serializes the record for string-metadata stores.
func (r Record) MarshalPayload() (string, error) {
	b, err := json.Marshal(r)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// UnmarshalPayload restores a record serialized with MarshalPayload.
func UnmarshalPayload(s string) (Record, error) {
	var r Record
	if err := json.Unmarshal([]byte(s), &r); err != nil {
		return Record{}, err
	}
	return r, nil
}

// PayloadMap converts the record to a generic map for structured-payload
// stores.
func (r Record) PayloadMap() (map[string]any, error) {
	b, err := json.Marshal(r)
	if err != nil {
		return nil, err
	}
	var m map[string]any
	if err := json.Unmarshal(b, &m); err != nil {
		return nil, err
	}
	return m, nil
}

// RecordFromMap restores a record from a generic payload map.
func RecordFromMap(m map[string]any) (Record, error) {
	b, err := json.Marshal(m)
	if err != nil {
		return Record{}, err
	}
	var r Record
	if err := json.Unmarshal(b, &r); err != nil {
		return Record{}, err
	}
	return r, nil
}
