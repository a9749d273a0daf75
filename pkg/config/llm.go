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

// LLMConfig configures the LLM provider and the gateway envelope every LLM
// call passes through.
//
// Example YAML:
//
//	llm:
//	  type: gemini
//	  api_key: ${GEMINI_API_KEY}
//	  model: gemini-2.5-flash
//	  max_concurrency: 4
type LLMConfig struct {
	// Type is the LLM provider: "gemini", "ollama".
	Type string `yaml:"type"`

	// APIKey authenticates hosted providers. Empty with a keyed provider
	// disables the gateway; LLM-assisted stages fall back.
	APIKey string `yaml:"api_key,omitempty"`

	// Model is the generation model name.
	Model string `yaml:"model,omitempty"`

	// Host is the backend base URL (ollama).
	Host string `yaml:"host,omitempty"`

	// MaxConcurrency caps in-flight LLM calls.
	MaxConcurrency int `yaml:"max_concurrency,omitempty"`

	// Retries is the number of attempts per call beyond none; the gateway
	// always makes at least one attempt.
	Retries int `yaml:"retries,omitempty"`

	// RateLimitSleep is the pause between retry attempts and after each
	// successful call.
	RateLimitSleep time.Duration `yaml:"rate_limit_sleep,omitempty"`

	// Timeout bounds a single generation request.
	Timeout time.Duration `yaml:"timeout,omitempty"`

	// RerankEnabled toggles the pairwise LLM rerank stage.
	RerankEnabled *bool `yaml:"rerank_enabled,omitempty"`

	// ExpansionEnabled toggles LLM query expansion.
	ExpansionEnabled *bool `yaml:"expansion_enabled,omitempty"`

	// Expansions is the maximum number of query expansions.
	Expansions int `yaml:"expansions,omitempty"`
}

// SetDefaults applies default values.
func (c *LLMConfig) SetDefaults() {
	if c.Type == "" {
		c.Type = "gemini"
	}
	if c.APIKey == "" {
		c.APIKey = GetProviderAPIKey(c.Type)
	}
	if c.Model == "" {
		switch c.Type {
		case "gemini":
			c.Model = "gemini-2.5-flash"
		case "ollama":
			c.Model = "llama3.2"
		}
	}
	if c.Host == "" && c.Type == "ollama" {
		c.Host = "http://localhost:11434"
	}
	if c.MaxConcurrency == 0 {
		c.MaxConcurrency = 4
	}
	if c.Retries == 0 {
		c.Retries = 2
	}
	if c.RateLimitSleep == 0 {
		c.RateLimitSleep = 500 * time.Millisecond
	}
	if c.Timeout == 0 {
		c.Timeout = 60 * time.Second
	}
	if c.RerankEnabled == nil {
		enabled := true
		c.RerankEnabled = &enabled
	}
	if c.ExpansionEnabled == nil {
		enabled := true
		c.ExpansionEnabled = &enabled
	}
	if c.Expansions == 0 {
		c.Expansions = 6
	}
}

// Validate checks the configuration for errors.
func (c *LLMConfig) Validate() error {
	validTypes := map[string]bool{
		"gemini": true,
		"ollama": true,
	}
	if !validTypes[c.Type] {
		return fmt.Errorf("invalid llm type %q (valid: gemini, ollama)", c.Type)
	}
	if c.MaxConcurrency < 1 {
		return fmt.Errorf("max_concurrency must be at least 1, got %d", c.MaxConcurrency)
	}
	if c.Expansions < 1 {
		return fmt.Errorf("expansions must be at least 1, got %d", c.Expansions)
	}
	return nil
}

// IsRerankEnabled reports whether the rerank stage runs.
func (c *LLMConfig) IsRerankEnabled() bool {
	return c.RerankEnabled == nil || *c.RerankEnabled
}

// IsExpansionEnabled reports whether query expansion runs.
func (c *LLMConfig) IsExpansionEnabled() bool {
	return c.ExpansionEnabled == nil || *c.ExpansionEnabled
}
