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

package config

import "fmt"

// StoreConfig configures the vector store holding the records.
//
// Example YAML:
//
//	store:
//	  type: chromem
//	  persist_path: .quarry/vectors
//	  collection: testcases
//
//	store:
//	  type: qdrant
//	  host: qdrant.example.com
//	  port: 6334
//	  api_key: ${QDRANT_API_KEY}
type StoreConfig struct {
	// Type is the vector store type: "chromem", "qdrant", "pinecone".
	Type string `yaml:"type"`

	// Host for external stores (qdrant).
	Host string `yaml:"host,omitempty"`

	// Port for external stores.
	Port int `yaml:"port,omitempty"`

	// APIKey for authenticated access.
	APIKey string `yaml:"api_key,omitempty"`

	// EnableTLS enables TLS connections.
	EnableTLS *bool `yaml:"enable_tls,omitempty"`

	// PersistPath for chromem file persistence.
	PersistPath string `yaml:"persist_path,omitempty"`

	// Compress enables gzip compression for chromem persistence.
	Compress bool `yaml:"compress,omitempty"`

	// Collection holds the records.
	Collection string `yaml:"collection,omitempty"`

	// IndexName for Pinecone.
	IndexName string `yaml:"index_name,omitempty"`

	// NumCandidates is the ANN candidate pool for the main search.
	NumCandidates int `yaml:"num_candidates,omitempty"`

	// DedupeNumCandidates is the ANN candidate pool for dedupe probes.
	DedupeNumCandidates int `yaml:"dedupe_num_candidates,omitempty"`
}

// SetDefaults applies default values.
func (c *StoreConfig) SetDefaults() {
	if c.Type == "" {
		c.Type = "chromem"
	}
	if c.Port == 0 && c.Type == "qdrant" {
		c.Port = 6334
	}
	if c.PersistPath == "" && c.Type == "chromem" {
		c.PersistPath = ".quarry/vectors"
	}
	if c.Collection == "" {
		c.Collection = "records"
	}
	if c.IndexName == "" {
		c.IndexName = "vector_index"
	}
	if c.NumCandidates == 0 {
		c.NumCandidates = 150
	}
	if c.DedupeNumCandidates == 0 {
		c.DedupeNumCandidates = 50
	}
}

// Validate checks the configuration for errors.
func (c *StoreConfig) Validate() error {
	validTypes := map[string]bool{
		"chromem":  true,
		"qdrant":   true,
		"pinecone": true,
	}
	if !validTypes[c.Type] {
		return fmt.Errorf("invalid store type %q (valid: chromem, qdrant, pinecone)", c.Type)
	}
	if c.Type == "qdrant" && c.Host == "" {
		return fmt.Errorf("host is required for qdrant store")
	}
	if c.Type == "pinecone" && c.APIKey == "" {
		return fmt.Errorf("api_key is required for pinecone store")
	}
	return nil
}

// IsEmbedded returns true for embedded stores (chromem).
func (c *StoreConfig) IsEmbedded() bool {
	return c.Type == "chromem"
}
