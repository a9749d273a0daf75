package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/kadirpekel/quarry/pkg/config"
)

func TestNewOllamaProvider_Defaults(t *testing.T) {
	p, err := NewOllamaProvider(&config.LLMConfig{})
	if err != nil {
		t.Fatalf("NewOllamaProvider() error = %v, want nil", err)
	}
	if p.Name() != "ollama" {
		t.Errorf("Name() = %v, want ollama", p.Name())
	}
	if p.baseURL != "http://localhost:11434" {
		t.Errorf("baseURL = %v, want http://localhost:11434", p.baseURL)
	}
	if p.model != "llama3.2" {
		t.Errorf("model = %v, want llama3.2", p.model)
	}
}

func TestOllamaProvider_Generate(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != "POST" {
			t.Errorf("Expected POST request, got %s", r.Method)
		}
		if r.URL.Path != "/api/chat" {
			t.Errorf("Expected /api/chat, got %s", r.URL.Path)
		}

		var req ollamaChatRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("Failed to decode request: %v", err)
		}
		if req.Model != "llama3.2" {
			t.Errorf("Expected model llama3.2, got %s", req.Model)
		}
		if req.Stream {
			t.Error("Expected stream false")
		}
		if len(req.Messages) != 1 || req.Messages[0].Role != "user" {
			t.Errorf("Expected single user message, got %v", req.Messages)
		}

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(ollamaChatResponse{
			Message: ollamaMessage{Role: "assistant", Content: "normalized query"},
			Done:    true,
		})
	}))
	defer server.Close()

	p, err := NewOllamaProvider(&config.LLMConfig{Host: server.URL, Model: "llama3.2"})
	if err != nil {
		t.Fatalf("NewOllamaProvider() error = %v", err)
	}

	reply, err := p.Generate(context.Background(), "normalize this query")
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	if reply != "normalized query" {
		t.Errorf("Generate() = %q, want normalized query", reply)
	}
}

func TestOllamaProvider_APIError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"error":"model not loaded"}`))
	}))
	defer server.Close()

	p, err := NewOllamaProvider(&config.LLMConfig{Host: server.URL})
	if err != nil {
		t.Fatalf("NewOllamaProvider() error = %v", err)
	}

	_, err = p.Generate(context.Background(), "q")
	if err == nil || !strings.Contains(err.Error(), "model not loaded") {
		t.Errorf("Generate() error = %v, want API error message", err)
	}
}

func TestOllamaProvider_HTTPError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "not found", http.StatusNotFound)
	}))
	defer server.Close()

	p, err := NewOllamaProvider(&config.LLMConfig{Host: server.URL})
	if err != nil {
		t.Fatalf("NewOllamaProvider() error = %v", err)
	}

	_, err = p.Generate(context.Background(), "q")
	if err == nil || !strings.Contains(err.Error(), "status 404") {
		t.Errorf("Generate() error = %v, want status 404", err)
	}
}
