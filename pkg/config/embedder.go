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

// EmbedderConfig configures the sentence-embedding backend.
//
// Example YAML:
//
//	embedder:
//	  type: ollama
//	  model: all-minilm
//	  host: http://localhost:11434
type EmbedderConfig struct {
	// Type is the embedder backend: "ollama", "openai", "cohere".
	Type string `yaml:"type"`

	// Model is the embedding model name.
	Model string `yaml:"model,omitempty"`

	// Host is the backend base URL (ollama).
	Host string `yaml:"host,omitempty"`

	// APIKey for hosted backends (openai, cohere).
	APIKey string `yaml:"api_key,omitempty"`

	// Dimension is the embedding vector size.
	Dimension int `yaml:"dimension,omitempty"`

	// Timeout bounds a single encode request.
	Timeout time.Duration `yaml:"timeout,omitempty"`

	// MaxRetries for transient backend failures.
	MaxRetries int `yaml:"max_retries,omitempty"`
}

// SetDefaults applies default values.
func (c *EmbedderConfig) SetDefaults() {
	if c.Type == "" {
		c.Type = "ollama"
	}
	if c.APIKey == "" {
		c.APIKey = GetProviderAPIKey(c.Type)
	}
	if c.Model == "" {
		switch c.Type {
		case "ollama":
			c.Model = "all-minilm"
		case "openai":
			c.Model = "text-embedding-3-small"
		case "cohere":
			c.Model = "embed-english-v3.0"
		}
	}
	if c.Host == "" && c.Type == "ollama" {
		c.Host = "http://localhost:11434"
	}
	if c.Dimension == 0 {
		switch c.Type {
		case "ollama":
			c.Dimension = 384
		case "openai":
			c.Dimension = 1536
		case "cohere":
			c.Dimension = 1024
		}
	}
	if c.Timeout == 0 {
		c.Timeout = 30 * time.Second
	}
	if c.MaxRetries == 0 {
		c.MaxRetries = 2
	}
}

// Validate checks the configuration for errors.
func (c *EmbedderConfig) Validate() error {
	validTypes := map[string]bool{
		"ollama": true,
		"openai": true,
		"cohere": true,
	}
	if !validTypes[c.Type] {
		return fmt.Errorf("invalid embedder type %q (valid: ollama, openai, cohere)", c.Type)
	}
	if c.Type != "ollama" && c.APIKey == "" {
		return fmt.Errorf("api_key is required for %s embedder", c.Type)
	}
	if c.Dimension <= 0 {
		return fmt.Errorf("dimension must be positive, got %d", c.Dimension)
	}
	return nil
}
