// Package quarry provides a retrieval and ingestion service for QA test
// cases and automation methods.
//
// Quarry ingests spreadsheets of test cases or automation methods,
// enriches and deduplicates them with an LLM-assisted pipeline, and
// serves multi-vector semantic search over the result. A deployment
// runs in one of two flavors: test-case retrieval for QA engineers or
// method retrieval for automation code generation.
//
// # Quick Start
//
// Install Quarry:
//
//	go install github.com/kadirpekel/quarry/cmd/quarry@latest
//
// Create a configuration:
//
//	flavor: testcase
//
//	embedder:
//	  type: ollama
//	  model: all-minilm
//
//	store:
//	  type: chromem
//	  persist_path: .quarry/vectors
//
//	llm:
//	  type: gemini
//	  api_key: "${GEMINI_API_KEY}"
//
// Start the server:
//
//	quarry serve --config quarry.yaml
//
// Then search over ingested records:
//
//	curl -X POST localhost:8080/search -d '{"query": "login with invalid password"}'
//
// # Using as Go Library
//
// Import the packages directly:
//
//	import (
//	    "github.com/kadirpekel/quarry/pkg/config"
//	    "github.com/kadirpekel/quarry/pkg/runtime"
//	    "github.com/kadirpekel/quarry/pkg/search"
//	)
//
// The runtime package assembles a configured deployment; the search and
// ingest packages expose the pipelines it wires.
//
// # Architecture
//
// Client → HTTP API → Search pipeline (expand → retrieve → score → rerank → rank)
// with ingestion feeding the vector store through enrichment and dedupe:
//
//	Sheet/Drop folder → Parse → Enrich (LLM) → Dedupe → Embed → Upsert
//
// Vector storage runs embedded (chromem) or against Qdrant or Pinecone;
// embeddings come from Ollama, OpenAI, or Cohere.
package quarry
