package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfigFile(t *testing.T, content string) string {
	t.Helper()
	tmpDir := t.TempDir()
	configFile := filepath.Join(tmpDir, "quarry.yaml")
	if err := os.WriteFile(configFile, []byte(content), 0644); err != nil {
		t.Fatalf("failed to create test config: %v", err)
	}
	return configFile
}

func TestLoader_File_Load(t *testing.T) {
	configFile := writeConfigFile(t, `
flavor: testcase
server:
  port: 9090
embedder:
  type: ollama
  model: all-minilm
llm:
  type: gemini
  api_key: test-key
  expansions: 4
store:
  type: chromem
  collection: demo
search:
  candidates: 10
  final_results: 4
  cache_ttl: 2m
`)

	cfg, loader, err := LoadConfigFile(context.Background(), configFile)
	if err != nil {
		t.Fatalf("failed to load config: %v", err)
	}
	defer loader.Close()

	if cfg.Flavor != FlavorTestCase {
		t.Errorf("expected flavor testcase, got %q", cfg.Flavor)
	}
	if cfg.Server.Port != 9090 {
		t.Errorf("expected port 9090, got %d", cfg.Server.Port)
	}
	if cfg.LLM.APIKey != "test-key" {
		t.Errorf("expected api key from file, got %q", cfg.LLM.APIKey)
	}
	if cfg.LLM.Expansions != 4 {
		t.Errorf("expected 4 expansions, got %d", cfg.LLM.Expansions)
	}
	if cfg.Store.Collection != "demo" {
		t.Errorf("expected collection demo, got %q", cfg.Store.Collection)
	}
	if cfg.Search.Candidates != 10 || cfg.Search.FinalResults != 4 {
		t.Errorf("unexpected search config: %+v", cfg.Search)
	}
	if cfg.Search.CacheTTL != 2*time.Minute {
		t.Errorf("duration string should decode, got %v", cfg.Search.CacheTTL)
	}

	// Unset sections still get defaults
	if cfg.Search.TopK != 3 {
		t.Errorf("expected default top_k 3, got %d", cfg.Search.TopK)
	}
	if cfg.Ledger.Driver != "sqlite" {
		t.Errorf("expected default ledger driver, got %q", cfg.Ledger.Driver)
	}
	if cfg.Prompts.Enrichment == "" {
		t.Error("expected default enrichment prompt")
	}
}

func TestLoader_File_EnvExpansion(t *testing.T) {
	t.Setenv("QUARRY_TEST_LLM_KEY", "env-key")

	configFile := writeConfigFile(t, `
flavor: method
llm:
  type: gemini
  api_key: ${QUARRY_TEST_LLM_KEY}
`)

	cfg, loader, err := LoadConfigFile(context.Background(), configFile)
	if err != nil {
		t.Fatalf("failed to load config: %v", err)
	}
	defer loader.Close()

	if cfg.LLM.APIKey != "env-key" {
		t.Errorf("expected expanded api key, got %q", cfg.LLM.APIKey)
	}
	if cfg.Prompts.MADL == "" {
		t.Error("method flavor should default the MADL prompt")
	}
}

func TestLoader_File_NotFound(t *testing.T) {
	_, _, err := LoadConfigFile(context.Background(), "/nonexistent/quarry.yaml")
	if err == nil {
		t.Fatal("expected error for nonexistent file")
	}
}

func TestLoader_File_InvalidYAML(t *testing.T) {
	configFile := writeConfigFile(t, `
flavor: testcase
search:
  - invalid: [unclosed
`)

	_, _, err := LoadConfigFile(context.Background(), configFile)
	if err == nil {
		t.Fatal("expected error for invalid YAML")
	}
}

func TestLoader_File_ValidationFailure(t *testing.T) {
	configFile := writeConfigFile(t, `
flavor: scenario
`)

	_, _, err := LoadConfigFile(context.Background(), configFile)
	if err == nil {
		t.Fatal("expected validation error for unknown flavor")
	}
}

func TestLoader_JSON_Fallback(t *testing.T) {
	configFile := writeConfigFile(t, `{"flavor": "testcase", "server": {"port": 7070}}`)

	cfg, loader, err := LoadConfigFile(context.Background(), configFile)
	if err != nil {
		t.Fatalf("failed to load JSON config: %v", err)
	}
	defer loader.Close()

	if cfg.Server.Port != 7070 {
		t.Errorf("expected port 7070, got %d", cfg.Server.Port)
	}
}

func TestLoader_File_Watch(t *testing.T) {
	configFile := writeConfigFile(t, `
flavor: testcase
server:
  port: 9001
`)

	cfg, loader, err := LoadConfigFile(context.Background(), configFile)
	if err != nil {
		t.Fatalf("failed to load config: %v", err)
	}
	defer loader.Close()

	if cfg.Server.Port != 9001 {
		t.Fatalf("expected initial port 9001, got %d", cfg.Server.Port)
	}

	reloaded := make(chan *Config, 1)
	l := NewLoader(loader.Provider(), WithOnChange(func(c *Config) {
		select {
		case reloaded <- c:
		default:
		}
	}))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	watchDone := make(chan error, 1)
	go func() {
		watchDone <- l.Watch(ctx)
	}()

	// Give the watcher time to register before writing
	time.Sleep(200 * time.Millisecond)

	updated := `
flavor: testcase
server:
  port: 9002
`
	if err := os.WriteFile(configFile, []byte(updated), 0644); err != nil {
		t.Fatalf("failed to update config: %v", err)
	}

	select {
	case c := <-reloaded:
		if c.Server.Port != 9002 {
			t.Errorf("expected reloaded port 9002, got %d", c.Server.Port)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for config reload")
	}

	cancel()
	select {
	case <-watchDone:
	case <-time.After(2 * time.Second):
		t.Fatal("watch did not stop on context cancel")
	}
}
