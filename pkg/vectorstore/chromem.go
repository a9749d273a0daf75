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

package vectorstore

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"runtime"
	"sync"

	"github.com/philippgille/chromem-go"

	"github.com/kadirpekel/quarry/pkg/config"
)

// ChromemStore implements Provider using chromem-go for embedded vector
// storage. Zero-config, no external services, optional file persistence.
//
// chromem collections hold one embedding per document, so each named
// vector path maps to its own sub-collection ("<collection>__<path>").
// The record payload travels as JSON metadata in every sub-collection,
// which keeps search results self-contained regardless of the path
// queried.
//
// Limitations:
//   - Single-process only (no distributed search)
//   - Memory-bound (all vectors in RAM)
//   - Exact search (NumCandidates has no effect)
//
// For production at scale, use Qdrant or Pinecone.
type ChromemStore struct {
	db          *chromem.DB
	flavor      string
	persistPath string
	compress    bool
	mu          sync.RWMutex

	// collections caches sub-collection references
	collections map[string]*chromem.Collection

	// embeddingFunc is required by chromem but never used: all vectors
	// arrive pre-computed from the embed package
	embeddingFunc chromem.EmbeddingFunc
}

// NewChromemStore creates a new chromem-based vector store.
func NewChromemStore(cfg *config.StoreConfig, flavor string) (*ChromemStore, error) {
	s := &ChromemStore{
		db:          chromem.NewDB(),
		flavor:      flavor,
		persistPath: cfg.PersistPath,
		compress:    cfg.Compress,
		collections: make(map[string]*chromem.Collection),
	}
	s.embeddingFunc = func(ctx context.Context, text string) ([]float32, error) {
		return nil, fmt.Errorf("embedding function called but vectors should be pre-computed")
	}

	if cfg.PersistPath != "" {
		if err := os.MkdirAll(cfg.PersistPath, 0755); err != nil {
			return nil, fmt.Errorf("failed to create persist directory: %w", err)
		}

		dbPath := s.dbFile()
		if _, statErr := os.Stat(dbPath); statErr == nil {
			if err := s.db.ImportFromFile(dbPath, ""); err != nil {
				slog.Warn("Failed to load existing vector database, starting fresh",
					"path", dbPath,
					"error", err)
				s.db = chromem.NewDB()
			} else {
				slog.Info("Loaded vector database from file", "path", dbPath)
			}
		} else {
			slog.Info("Created new vector database", "path", dbPath)
		}
	} else {
		slog.Info("Created in-memory vector database (no persistence)")
	}

	return s, nil
}

// subCollection names the chromem collection backing one named vector path.
func subCollection(collection, path string) string {
	return collection + "__" + path
}

// getCollection gets or creates a sub-collection.
func (s *ChromemStore) getCollection(name string) (*chromem.Collection, error) {
	s.mu.RLock()
	if col, ok := s.collections[name]; ok {
		s.mu.RUnlock()
		return col, nil
	}
	s.mu.RUnlock()

	s.mu.Lock()
	defer s.mu.Unlock()

	// Double-check after acquiring write lock
	if col, ok := s.collections[name]; ok {
		return col, nil
	}

	col, err := s.db.GetOrCreateCollection(name, nil, s.embeddingFunc)
	if err != nil {
		return nil, fmt.Errorf("failed to get/create collection %q: %w", name, err)
	}

	s.collections[name] = col
	return col, nil
}

// EnsureCollection creates the sub-collections for every named vector path.
// chromem infers the dimension from the first stored vector, so the
// dimension argument is unused here.
func (s *ChromemStore) EnsureCollection(ctx context.Context, collection string, dimension int) error {
	for _, path := range VectorPaths(s.flavor) {
		if _, err := s.getCollection(subCollection(collection, path)); err != nil {
			return err
		}
	}
	return nil
}

// Upsert writes points into every sub-collection. A point whose vector for
// a path is empty gets no document there, and any stale document under
// that ID is removed so searches against the path cannot surface it.
func (s *ChromemStore) Upsert(ctx context.Context, collection string, points []Point) error {
	payloads := make(map[string]string, len(points))
	for _, pt := range points {
		payload, err := pt.Payload.MarshalPayload()
		if err != nil {
			return fmt.Errorf("failed to marshal payload for %q: %w", pt.ID, err)
		}
		payloads[pt.ID] = payload
	}

	for _, path := range VectorPaths(s.flavor) {
		col, err := s.getCollection(subCollection(collection, path))
		if err != nil {
			return err
		}

		docs := make([]chromem.Document, 0, len(points))
		var stale []string
		for _, pt := range points {
			vec := pt.Vectors[path]
			if len(vec) == 0 {
				stale = append(stale, pt.ID)
				continue
			}

			metadata := map[string]string{"record": payloads[pt.ID]}
			if pt.Payload.Feature != "" {
				metadata["feature"] = pt.Payload.Feature
			}

			docs = append(docs, chromem.Document{
				ID:        pt.ID,
				Metadata:  metadata,
				Embedding: vec,
			})
		}

		if len(stale) > 0 {
			if err := col.Delete(ctx, nil, nil, stale...); err != nil {
				return fmt.Errorf("failed to delete stale documents: %w", err)
			}
		}
		if len(docs) > 0 {
			if err := col.AddDocuments(ctx, docs, runtime.NumCPU()); err != nil {
				return fmt.Errorf("failed to upsert documents: %w", err)
			}
		}
	}

	if err := s.persist(); err != nil {
		slog.Warn("Failed to persist after upsert", "error", err)
	}

	return nil
}

// Search runs an exact cosine search against one named vector path.
func (s *ChromemStore) Search(ctx context.Context, collection string, req SearchRequest) ([]Hit, error) {
	path := req.Path
	if path == "" {
		path = VectorMain
	}

	col, err := s.getCollection(subCollection(collection, path))
	if err != nil {
		return nil, err
	}

	// chromem rejects nResults larger than the collection
	limit := req.Limit
	if n := col.Count(); limit > n {
		limit = n
	}
	if limit <= 0 {
		return []Hit{}, nil
	}

	var where map[string]string
	if len(req.Filter) > 0 {
		where = req.Filter
	}

	results, err := col.QueryEmbedding(ctx, req.Vector, limit, where, nil)
	if err != nil {
		return nil, fmt.Errorf("search failed: %w", err)
	}

	hits := make([]Hit, 0, len(results))
	for _, r := range results {
		rec, err := UnmarshalPayload(r.Metadata["record"])
		if err != nil {
			slog.Warn("Skipping result with malformed payload", "id", r.ID, "error", err)
			continue
		}
		hit := Hit{ID: r.ID, Score: r.Similarity, Payload: rec}
		if req.WithVectors {
			hit.Vectors = s.gatherVectors(ctx, collection, path, r.ID, r.Embedding)
		}
		hits = append(hits, hit)
	}

	return hits, nil
}

// gatherVectors collects the stored vectors for one document across all
// sub-collections. A path without a document simply contributes nothing,
// which is how empty field vectors are represented.
func (s *ChromemStore) gatherVectors(ctx context.Context, collection, searched, id string, searchedVec []float32) map[string][]float32 {
	vectors := make(map[string][]float32)
	if len(searchedVec) > 0 {
		vectors[searched] = searchedVec
	}
	for _, path := range VectorPaths(s.flavor) {
		if path == searched {
			continue
		}
		col, err := s.getCollection(subCollection(collection, path))
		if err != nil {
			continue
		}
		doc, err := col.GetByID(ctx, id)
		if err != nil {
			continue
		}
		if len(doc.Embedding) > 0 {
			vectors[path] = doc.Embedding
		}
	}
	return vectors
}

// Get fetches a record by ID from the main vector sub-collection.
func (s *ChromemStore) Get(ctx context.Context, collection string, id string) (*Record, error) {
	col, err := s.getCollection(subCollection(collection, VectorMain))
	if err != nil {
		return nil, err
	}

	doc, err := col.GetByID(ctx, id)
	if err != nil {
		// chromem only errors here when the ID is absent
		return nil, nil
	}

	rec, err := UnmarshalPayload(doc.Metadata["record"])
	if err != nil {
		return nil, fmt.Errorf("malformed payload for %q: %w", id, err)
	}
	return &rec, nil
}

// Replace overwrites one point. chromem overwrites documents on add, so
// this reuses the upsert path.
func (s *ChromemStore) Replace(ctx context.Context, collection string, point Point) error {
	return s.Upsert(ctx, collection, []Point{point})
}

// DeleteCollection removes every sub-collection backing the collection.
func (s *ChromemStore) DeleteCollection(ctx context.Context, collection string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, path := range VectorPaths(s.flavor) {
		name := subCollection(collection, path)
		if err := s.db.DeleteCollection(name); err != nil {
			return fmt.Errorf("failed to delete collection %q: %w", name, err)
		}
		delete(s.collections, name)
	}

	if err := s.persistLocked(); err != nil {
		slog.Warn("Failed to persist after collection delete", "error", err)
	}

	return nil
}

// Name returns the provider name.
func (s *ChromemStore) Name() string {
	return "chromem"
}

// Close persists the database and releases resources.
func (s *ChromemStore) Close() error {
	return s.persist()
}

func (s *ChromemStore) dbFile() string {
	dbPath := s.persistPath + "/vectors.gob"
	if s.compress {
		dbPath += ".gz"
	}
	return dbPath
}

// persist saves the database to disk if persistence is enabled.
func (s *ChromemStore) persist() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.persistLocked()
}

func (s *ChromemStore) persistLocked() error {
	if s.persistPath == "" {
		return nil
	}

	if err := s.db.ExportToFile(s.dbFile(), s.compress, ""); err != nil {
		return fmt.Errorf("failed to persist database: %w", err)
	}

	return nil
}

// Ensure ChromemStore implements Provider.
var _ Provider = (*ChromemStore)(nil)
