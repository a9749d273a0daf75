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

// SearchConfig shapes the retrieval funnel: how many ANN hits enter local
// scoring, how many survive into the response, and how many the final
// intent ranker scores.
type SearchConfig struct {
	// Candidates is the shortlist size after local scoring.
	Candidates int `yaml:"candidates,omitempty"`

	// FinalResults is the response size after reranking.
	FinalResults int `yaml:"final_results,omitempty"`

	// TopK is the number of results the final intent ranker scores.
	TopK int `yaml:"top_k,omitempty"`

	// CacheTTL bounds result cache entries.
	CacheTTL time.Duration `yaml:"cache_ttl,omitempty"`
}

// SetDefaults applies default values.
func (c *SearchConfig) SetDefaults() {
	if c.Candidates == 0 {
		c.Candidates = 15
	}
	if c.FinalResults == 0 {
		c.FinalResults = 5
	}
	if c.TopK == 0 {
		c.TopK = 3
	}
	if c.CacheTTL == 0 {
		c.CacheTTL = 5 * time.Minute
	}
}

// Validate checks the configuration for errors.
func (c *SearchConfig) Validate() error {
	if c.Candidates < 1 {
		return fmt.Errorf("candidates must be at least 1, got %d", c.Candidates)
	}
	if c.FinalResults < 1 {
		return fmt.Errorf("final_results must be at least 1, got %d", c.FinalResults)
	}
	if c.TopK < 1 {
		return fmt.Errorf("top_k must be at least 1, got %d", c.TopK)
	}
	if c.FinalResults > c.Candidates {
		return fmt.Errorf("final_results (%d) cannot exceed candidates (%d)", c.FinalResults, c.Candidates)
	}
	return nil
}
