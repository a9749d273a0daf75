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

package vectorstore

import (
	"context"
	"fmt"
	"sync"

	"github.com/pinecone-io/go-pinecone/pinecone"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/kadirpekel/quarry/pkg/config"
)

// PineconeStore implements Provider using Pinecone. Each named vector path
// maps to a namespace of the same name, so one serverless index carries
// all vectors for a collection.
//
// Pinecone metadata cannot hold nested objects, so the record payload
// travels as a single JSON string under the "record" key, with "feature"
// duplicated as a flat key for filtering.
type PineconeStore struct {
	client    *pinecone.Client
	flavor    string
	indexName string

	mu sync.RWMutex

	// hosts caches index hosts resolved via DescribeIndex
	hosts map[string]string

	// connections caches one IndexConnection per index and namespace
	connections map[string]*pinecone.IndexConnection
}

// NewPineconeStore creates a new Pinecone-backed vector store.
func NewPineconeStore(cfg *config.StoreConfig, flavor string) (*PineconeStore, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("API key is required for Pinecone")
	}

	clientParams := pinecone.NewClientParams{
		ApiKey: cfg.APIKey,
	}
	if cfg.Host != "" {
		clientParams.Host = cfg.Host
	}

	client, err := pinecone.NewClient(clientParams)
	if err != nil {
		return nil, fmt.Errorf("failed to create Pinecone client: %w", err)
	}

	return &PineconeStore{
		client:      client,
		flavor:      flavor,
		indexName:   cfg.IndexName,
		hosts:       make(map[string]string),
		connections: make(map[string]*pinecone.IndexConnection),
	}, nil
}

// Name returns the provider name.
func (s *PineconeStore) Name() string {
	return "pinecone"
}

// resolveIndex maps a collection to the Pinecone index serving it.
func (s *PineconeStore) resolveIndex(collection string) string {
	if collection != "" {
		return collection
	}
	return s.indexName
}

// getIndexConnection gets or creates a connection to one namespace of an
// index.
func (s *PineconeStore) getIndexConnection(ctx context.Context, indexName, namespace string) (*pinecone.IndexConnection, error) {
	key := indexName + "/" + namespace

	s.mu.RLock()
	if conn, ok := s.connections[key]; ok {
		s.mu.RUnlock()
		return conn, nil
	}
	s.mu.RUnlock()

	s.mu.Lock()
	defer s.mu.Unlock()

	// Double-check after acquiring write lock
	if conn, ok := s.connections[key]; ok {
		return conn, nil
	}

	host, ok := s.hosts[indexName]
	if !ok {
		index, err := s.client.DescribeIndex(ctx, indexName)
		if err != nil {
			return nil, fmt.Errorf("failed to describe index %s: %w", indexName, err)
		}
		host = index.Host
		s.hosts[indexName] = host
	}

	conn, err := s.client.Index(pinecone.NewIndexConnParams{
		Host:      host,
		Namespace: namespace,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create index connection: %w", err)
	}

	s.connections[key] = conn
	return conn, nil
}

// EnsureCollection creates a serverless index for the collection if it does
// not exist. A freshly created index can take a moment before its host
// accepts connections.
func (s *PineconeStore) EnsureCollection(ctx context.Context, collection string, dimension int) error {
	indexName := s.resolveIndex(collection)

	indexes, err := s.client.ListIndexes(ctx)
	if err != nil {
		return fmt.Errorf("failed to list indexes: %w", err)
	}
	for _, idx := range indexes {
		if idx.Name == indexName {
			return nil
		}
	}

	_, err = s.client.CreateServerlessIndex(ctx, &pinecone.CreateServerlessIndexRequest{
		Name:      indexName,
		Dimension: int32(dimension),
		Metric:    pinecone.Cosine,
		Cloud:     pinecone.Aws,
		Region:    "us-east-1",
	})
	if err != nil {
		return fmt.Errorf("failed to create index %s (create it via the Pinecone console if your plan disallows API creation): %w", indexName, err)
	}

	return nil
}

// Upsert writes points into every namespace. A point whose vector for a
// path is empty gets deleted from that namespace so stale vectors cannot
// surface in searches.
func (s *PineconeStore) Upsert(ctx context.Context, collection string, points []Point) error {
	indexName := s.resolveIndex(collection)

	payloads := make(map[string]*pinecone.Metadata, len(points))
	for _, pt := range points {
		metadata, err := toPineconeMetadata(pt.Payload)
		if err != nil {
			return err
		}
		payloads[pt.ID] = metadata
	}

	for _, path := range VectorPaths(s.flavor) {
		indexConn, err := s.getIndexConnection(ctx, indexName, path)
		if err != nil {
			return err
		}

		vectors := make([]*pinecone.Vector, 0, len(points))
		var stale []string
		for _, pt := range points {
			vec := pt.Vectors[path]
			if len(vec) == 0 {
				stale = append(stale, pt.ID)
				continue
			}
			vectors = append(vectors, &pinecone.Vector{
				Id:       pt.ID,
				Values:   vec,
				Metadata: payloads[pt.ID],
			})
		}

		if len(stale) > 0 {
			if err := indexConn.DeleteVectorsById(ctx, stale); err != nil {
				return fmt.Errorf("failed to delete stale vectors: %w", err)
			}
		}
		if len(vectors) > 0 {
			if _, err := indexConn.UpsertVectors(ctx, vectors); err != nil {
				return fmt.Errorf("failed to upsert vectors: %w", err)
			}
		}
	}

	return nil
}

// Search runs an ANN query against one named vector path.
func (s *PineconeStore) Search(ctx context.Context, collection string, req SearchRequest) ([]Hit, error) {
	path := req.Path
	if path == "" {
		path = VectorMain
	}

	indexConn, err := s.getIndexConnection(ctx, s.resolveIndex(collection), path)
	if err != nil {
		return nil, err
	}

	var metadataFilter *pinecone.MetadataFilter
	if len(req.Filter) > 0 {
		filterInterface := make(map[string]interface{}, len(req.Filter))
		for k, v := range req.Filter {
			filterInterface[k] = v
		}
		metadataFilter, err = structpb.NewStruct(filterInterface)
		if err != nil {
			return nil, fmt.Errorf("failed to convert filter: %w", err)
		}
	}

	queryResponse, err := indexConn.QueryByVectorValues(ctx, &pinecone.QueryByVectorValuesRequest{
		Vector:          req.Vector,
		TopK:            uint32(req.Limit),
		MetadataFilter:  metadataFilter,
		IncludeMetadata: true,
		IncludeValues:   req.WithVectors,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to query Pinecone: %w", err)
	}

	hits := make([]Hit, 0, len(queryResponse.Matches))
	for _, match := range queryResponse.Matches {
		if match.Vector == nil {
			continue
		}
		rec, err := fromPineconeMetadata(match.Vector.Metadata)
		if err != nil {
			return nil, fmt.Errorf("malformed payload for %q: %w", match.Vector.Id, err)
		}
		hit := Hit{
			ID:      match.Vector.Id,
			Score:   match.Score,
			Payload: rec,
		}
		if req.WithVectors && len(match.Vector.Values) > 0 {
			hit.Vectors = map[string][]float32{path: match.Vector.Values}
		}
		hits = append(hits, hit)
	}

	if req.WithVectors && len(hits) > 0 {
		if err := s.fetchSiblingVectors(ctx, collection, path, hits); err != nil {
			return nil, err
		}
	}

	return hits, nil
}

// fetchSiblingVectors fills in the hits' vectors from the namespaces the
// query did not touch, one batched fetch per path.
func (s *PineconeStore) fetchSiblingVectors(ctx context.Context, collection, searched string, hits []Hit) error {
	ids := make([]string, 0, len(hits))
	for i := range hits {
		if hits[i].Vectors == nil {
			hits[i].Vectors = make(map[string][]float32)
		}
		ids = append(ids, hits[i].ID)
	}

	for _, path := range VectorPaths(s.flavor) {
		if path == searched {
			continue
		}
		indexConn, err := s.getIndexConnection(ctx, s.resolveIndex(collection), path)
		if err != nil {
			return err
		}
		resp, err := indexConn.FetchVectors(ctx, ids)
		if err != nil {
			return fmt.Errorf("failed to fetch %s vectors: %w", path, err)
		}
		for i := range hits {
			if vector, ok := resp.Vectors[hits[i].ID]; ok && vector != nil && len(vector.Values) > 0 {
				hits[i].Vectors[path] = vector.Values
			}
		}
	}

	return nil
}

// Get fetches a record by ID from the main vector namespace.
func (s *PineconeStore) Get(ctx context.Context, collection string, id string) (*Record, error) {
	indexConn, err := s.getIndexConnection(ctx, s.resolveIndex(collection), VectorMain)
	if err != nil {
		return nil, err
	}

	resp, err := indexConn.FetchVectors(ctx, []string{id})
	if err != nil {
		return nil, fmt.Errorf("failed to fetch vector %s: %w", id, err)
	}

	vector, ok := resp.Vectors[id]
	if !ok || vector == nil {
		return nil, nil
	}

	rec, err := fromPineconeMetadata(vector.Metadata)
	if err != nil {
		return nil, fmt.Errorf("malformed payload for %q: %w", id, err)
	}
	return &rec, nil
}

// Replace overwrites one point across all namespaces.
func (s *PineconeStore) Replace(ctx context.Context, collection string, point Point) error {
	return s.Upsert(ctx, collection, []Point{point})
}

// DeleteCollection deletes the index serving the collection.
func (s *PineconeStore) DeleteCollection(ctx context.Context, collection string) error {
	indexName := s.resolveIndex(collection)

	if err := s.client.DeleteIndex(ctx, indexName); err != nil {
		return fmt.Errorf("failed to delete index %s: %w", indexName, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for key, conn := range s.connections {
		_ = conn.Close()
		delete(s.connections, key)
	}
	delete(s.hosts, indexName)

	return nil
}

// Close closes all cached index connections.
func (s *PineconeStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var errs []error
	for key, conn := range s.connections {
		if err := conn.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close connection %q: %w", key, err))
		}
		delete(s.connections, key)
	}

	if len(errs) > 0 {
		return fmt.Errorf("errors closing connections: %v", errs)
	}
	return nil
}

// toPineconeMetadata packs a record into flat Pinecone metadata.
func toPineconeMetadata(r Record) (*pinecone.Metadata, error) {
	payload, err := r.MarshalPayload()
	if err != nil {
		return nil, fmt.Errorf("failed to marshal payload for %q: %w", r.ID, err)
	}

	fields := map[string]interface{}{"record": payload}
	if r.Feature != "" {
		fields["feature"] = r.Feature
	}

	metadata, err := structpb.NewStruct(fields)
	if err != nil {
		return nil, fmt.Errorf("failed to convert metadata: %w", err)
	}
	return metadata, nil
}

// fromPineconeMetadata unpacks a record from Pinecone metadata.
func fromPineconeMetadata(metadata *pinecone.Metadata) (Record, error) {
	if metadata == nil {
		return Record{}, fmt.Errorf("missing metadata")
	}

	payload, ok := metadata.AsMap()["record"].(string)
	if !ok {
		return Record{}, fmt.Errorf("missing record metadata")
	}

	return UnmarshalPayload(payload)
}

// Ensure PineconeStore implements Provider.
var _ Provider = (*PineconeStore)(nil)
