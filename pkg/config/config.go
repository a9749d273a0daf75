package config

import (
	"fmt"

	"github.com/kadirpekel/quarry/pkg/observability"
)

// Record flavors served by a deployment. The flavor decides which sheet
// columns ingestion reads, which vectors are computed, and which prompt
// defaults apply.
const (
	FlavorTestCase = "testcase"
	FlavorMethod   = "method"
)

// Config is the root configuration for a quarry deployment.
type Config struct {
	// Flavor selects the record kind: "testcase" or "method".
	Flavor string `yaml:"flavor"`

	Server        ServerConfig         `yaml:"server"`
	Embedder      EmbedderConfig       `yaml:"embedder"`
	LLM           LLMConfig            `yaml:"llm"`
	Store         StoreConfig          `yaml:"store"`
	Search        SearchConfig         `yaml:"search"`
	Ledger        DatabaseConfig       `yaml:"ledger"`
	Ingest        IngestConfig         `yaml:"ingest"`
	Observability observability.Config `yaml:"observability"`
	Prompts       PromptsConfig        `yaml:"prompts"`
}

// SetDefaults applies defaults to every section.
func (c *Config) SetDefaults() {
	if c.Flavor == "" {
		c.Flavor = FlavorTestCase
	}
	c.Server.SetDefaults()
	c.Embedder.SetDefaults()
	c.LLM.SetDefaults()
	c.Store.SetDefaults()
	c.Search.SetDefaults()
	c.Ledger.SetDefaults()
	c.Ingest.SetDefaults()
	c.Observability.SetDefaults()
	c.Prompts.SetDefaults(c.Flavor)
}

// Validate checks the whole configuration, naming the failing section.
func (c *Config) Validate() error {
	if c.Flavor != FlavorTestCase && c.Flavor != FlavorMethod {
		return fmt.Errorf("flavor: invalid value %q (valid: testcase, method)", c.Flavor)
	}
	if err := c.Server.Validate(); err != nil {
		return fmt.Errorf("server: %w", err)
	}
	if err := c.Embedder.Validate(); err != nil {
		return fmt.Errorf("embedder: %w", err)
	}
	if err := c.LLM.Validate(); err != nil {
		return fmt.Errorf("llm: %w", err)
	}
	if err := c.Store.Validate(); err != nil {
		return fmt.Errorf("store: %w", err)
	}
	if err := c.Search.Validate(); err != nil {
		return fmt.Errorf("search: %w", err)
	}
	if err := c.Ledger.Validate(); err != nil {
		return fmt.Errorf("ledger: %w", err)
	}
	if err := c.Ingest.Validate(); err != nil {
		return fmt.Errorf("ingest: %w", err)
	}
	if err := c.Observability.Validate(); err != nil {
		return fmt.Errorf("observability: %w", err)
	}
	if err := c.Prompts.Validate(c.Flavor); err != nil {
		return fmt.Errorf("prompts: %w", err)
	}
	return nil
}

// Default returns a fully defaulted config for the given flavor, suitable
// for running without a config file.
func Default(flavor string) *Config {
	cfg := &Config{Flavor: flavor}
	cfg.SetDefaults()
	return cfg
}
