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

// Package vectorstore stores records with named vectors and serves ANN
// search over them. Three backends implement the same contract: chromem
// (embedded), Qdrant, and Pinecone.
package vectorstore

import (
	"context"
	"fmt"

	"github.com/kadirpekel/quarry/pkg/config"
)

// Provider is the vector store contract. One provider instance serves one
// flavor of records (test cases or methods).
type Provider interface {
	// EnsureCollection creates the collection and its named vectors if
	// missing. Existing collections are left untouched.
	EnsureCollection(ctx context.Context, collection string, dimension int) error

	// Upsert writes points, replacing any existing point with the same ID.
	Upsert(ctx context.Context, collection string, points []Point) error

	// Search runs one ANN query against a named vector. Zero hits is a
	// valid result, not an error.
	Search(ctx context.Context, collection string, req SearchRequest) ([]Hit, error)

	// Get fetches a record by ID. A missing ID returns (nil, nil).
	Get(ctx context.Context, collection string, id string) (*Record, error)

	// Replace overwrites one point, vectors and payload.
	Replace(ctx context.Context, collection string, point Point) error

	// DeleteCollection drops the collection and all its points.
	DeleteCollection(ctx context.Context, collection string) error

	// Name returns the provider type name.
	Name() string

	// Close releases resources held by the provider.
	Close() error
}

// New creates a vector store provider from configuration. The flavor
// selects the named vector set the provider manages.
func New(cfg *config.StoreConfig, flavor string) (Provider, error) {
	if cfg == nil {
		return nil, fmt.Errorf("store configuration is required")
	}
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid store configuration: %w", err)
	}

	switch cfg.Type {
	case "chromem":
		return NewChromemStore(cfg, flavor)
	case "qdrant":
		return NewQdrantStore(cfg, flavor)
	case "pinecone":
		return NewPineconeStore(cfg, flavor)
	default:
		return nil, fmt.Errorf("unknown store type: %q", cfg.Type)
	}
}
