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

import (
	"fmt"
	"time"
)

// IngestConfig configures batch ingestion and the optional drop folder.
//
// Example YAML:
//
//	ingest:
//	  dir: /var/quarry/inbox
//	  debounce: 2s
type IngestConfig struct {
	// Dir is an optional drop folder; sheets placed here are ingested
	// automatically while the server runs.
	Dir string `yaml:"dir,omitempty"`

	// Debounce delays processing after a file event so writers can finish.
	Debounce time.Duration `yaml:"debounce,omitempty"`

	// Owner stamps the MADL owner field when LLM enrichment falls back.
	Owner string `yaml:"owner,omitempty"`

	// Workers bounds concurrent record processing within a batch.
	Workers int `yaml:"workers,omitempty"`
}

// SetDefaults applies default values.
func (c *IngestConfig) SetDefaults() {
	if c.Debounce == 0 {
		c.Debounce = 2 * time.Second
	}
	if c.Owner == "" {
		c.Owner = "QE-Core/Automation"
	}
	if c.Workers == 0 {
		c.Workers = 4
	}
}

// Validate checks the configuration for errors.
func (c *IngestConfig) Validate() error {
	if c.Workers < 1 {
		return fmt.Errorf("workers must be at least 1, got %d", c.Workers)
	}
	return nil
}
