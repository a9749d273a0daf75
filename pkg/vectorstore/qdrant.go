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
	"strings"

	"github.com/google/uuid"
	"github.com/qdrant/go-client/qdrant"

	"github.com/kadirpekel/quarry/pkg/config"
)

// QdrantStore implements Provider using Qdrant. Named vectors map directly
// onto Qdrant's native named vector support, and the feature field gets a
// keyword payload index so filtered searches stay fast.
type QdrantStore struct {
	client *qdrant.Client
	flavor string
}

// NewQdrantStore creates a new Qdrant-backed vector store.
func NewQdrantStore(cfg *config.StoreConfig, flavor string) (*QdrantStore, error) {
	host := cfg.Host
	if host == "" {
		host = "localhost"
	}
	port := cfg.Port
	if port == 0 {
		port = 6334 // Qdrant gRPC port
	}
	useTLS := cfg.EnableTLS != nil && *cfg.EnableTLS

	client, err := qdrant.NewClient(&qdrant.Config{
		Host:   host,
		Port:   port,
		APIKey: cfg.APIKey,
		UseTLS: useTLS,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create Qdrant client for %s:%d: %w\n"+
			"  TIP: Troubleshooting:\n"+
			"     - Ensure Qdrant is running\n"+
			"     - Verify host and port configuration\n"+
			"     - For Docker: start Qdrant container (docker run -p 6333:6333 -p 6334:6334 qdrant/qdrant)",
			host, port, err)
	}

	return &QdrantStore{
		client: client,
		flavor: flavor,
	}, nil
}

// Name returns the provider name.
func (s *QdrantStore) Name() string {
	return "qdrant"
}

// EnsureCollection creates the collection with one named vector per path
// and indexes the feature field for keyword filtering.
func (s *QdrantStore) EnsureCollection(ctx context.Context, collection string, dimension int) error {
	exists, err := s.client.CollectionExists(ctx, collection)
	if err != nil {
		return fmt.Errorf("failed to check collection existence: %w", err)
	}

	if !exists {
		vectorParams := make(map[string]*qdrant.VectorParams)
		for _, path := range VectorPaths(s.flavor) {
			vectorParams[path] = &qdrant.VectorParams{
				Size:     uint64(dimension),
				Distance: qdrant.Distance_Cosine,
			}
		}

		err = s.client.CreateCollection(ctx, &qdrant.CreateCollection{
			CollectionName: collection,
			VectorsConfig:  qdrant.NewVectorsConfigMap(vectorParams),
		})
		if err != nil && !strings.Contains(err.Error(), "already exists") {
			return fmt.Errorf("failed to create collection: %w", err)
		}
	}

	if s.flavor == config.FlavorTestCase {
		_, err = s.client.CreateFieldIndex(ctx, &qdrant.CreateFieldIndexCollection{
			CollectionName: collection,
			FieldName:      "feature",
			FieldType:      qdrant.FieldType_FieldTypeKeyword.Enum(),
		})
		if err != nil && !strings.Contains(err.Error(), "already exists") {
			return fmt.Errorf("failed to index feature field: %w", err)
		}
	}

	return nil
}

// Upsert adds or replaces points with their named vectors.
func (s *QdrantStore) Upsert(ctx context.Context, collection string, points []Point) error {
	qdrantPoints := make([]*qdrant.PointStruct, 0, len(points))
	for _, pt := range points {
		qp, err := toQdrantPoint(pt)
		if err != nil {
			return err
		}
		qdrantPoints = append(qdrantPoints, qp)
	}

	_, err := s.client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: collection,
		Points:         qdrantPoints,
	})
	if err != nil {
		return fmt.Errorf("failed to upsert points: %w", err)
	}

	return nil
}

// Search runs an ANN query against one named vector.
func (s *QdrantStore) Search(ctx context.Context, collection string, req SearchRequest) ([]Hit, error) {
	path := req.Path
	if path == "" {
		path = VectorMain
	}

	searchRequest := &qdrant.SearchPoints{
		CollectionName: collection,
		Vector:         req.Vector,
		VectorName:     &path,
		Limit:          uint64(req.Limit),
		WithPayload:    qdrant.NewWithPayload(true),
	}

	if req.NumCandidates > 0 {
		searchRequest.Params = &qdrant.SearchParams{
			HnswEf: qdrant.PtrOf(uint64(req.NumCandidates)),
		}
	}

	if req.WithVectors {
		searchRequest.WithVectors = qdrant.NewWithVectors(true)
	}

	if len(req.Filter) > 0 {
		searchRequest.Filter = buildQdrantFilter(req.Filter)
	}

	pointsClient := s.client.GetPointsClient()
	searchResult, err := pointsClient.Search(ctx, searchRequest)
	if err != nil {
		return nil, fmt.Errorf("failed to search points: %w", err)
	}

	hits := make([]Hit, 0, len(searchResult.Result))
	for _, point := range searchResult.Result {
		rec, err := recordFromPayload(point.Payload)
		if err != nil {
			return nil, fmt.Errorf("malformed payload for %q: %w", pointIDString(point.Id), err)
		}
		hits = append(hits, Hit{
			ID:      rec.ID,
			Score:   point.Score,
			Payload: rec,
			Vectors: namedVectorsFromOutput(point.Vectors),
		})
	}

	return hits, nil
}

// namedVectorsFromOutput extracts the dense named vectors from a search
// result, when the request asked for them.
func namedVectorsFromOutput(out *qdrant.VectorsOutput) map[string][]float32 {
	named := out.GetVectors()
	if named == nil {
		return nil
	}
	vectors := make(map[string][]float32, len(named.GetVectors()))
	for path, vo := range named.GetVectors() {
		if vo == nil {
			continue
		}
		switch v := vo.Vector.(type) {
		case *qdrant.VectorOutput_Dense:
			if v.Dense != nil && len(v.Dense.Data) > 0 {
				vectors[path] = v.Dense.Data
			}
		}
	}
	if len(vectors) == 0 {
		return nil
	}
	return vectors
}

// Get fetches a record by ID.
func (s *QdrantStore) Get(ctx context.Context, collection string, id string) (*Record, error) {
	points, err := s.client.Get(ctx, &qdrant.GetPoints{
		CollectionName: collection,
		Ids:            []*qdrant.PointId{pointID(id)},
		WithPayload:    qdrant.NewWithPayload(true),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get point %s: %w", id, err)
	}
	if len(points) == 0 {
		return nil, nil
	}

	rec, err := recordFromPayload(points[0].Payload)
	if err != nil {
		return nil, fmt.Errorf("malformed payload for %q: %w", id, err)
	}
	return &rec, nil
}

// Replace overwrites one point. Qdrant upserts replace the whole point,
// vectors and payload together.
func (s *QdrantStore) Replace(ctx context.Context, collection string, point Point) error {
	return s.Upsert(ctx, collection, []Point{point})
}

// DeleteCollection removes a collection.
func (s *QdrantStore) DeleteCollection(ctx context.Context, collection string) error {
	if err := s.client.DeleteCollection(ctx, collection); err != nil {
		return fmt.Errorf("failed to delete collection: %w", err)
	}
	return nil
}

// Close closes the Qdrant client.
func (s *QdrantStore) Close() error {
	return s.client.Close()
}

// pointID derives the Qdrant point ID for a record ID. Qdrant only accepts
// UUIDs or integers as point IDs, so arbitrary record IDs map to a
// deterministic UUIDv5 and the real ID rides in the payload.
func pointID(id string) *qdrant.PointId {
	return qdrant.NewID(uuid.NewSHA1(uuid.NameSpaceOID, []byte(id)).String())
}

// toQdrantPoint converts a point to the wire representation. Empty field
// vectors are omitted so the point simply lacks that named vector.
func toQdrantPoint(pt Point) (*qdrant.PointStruct, error) {
	named := make(map[string]*qdrant.Vector, len(pt.Vectors))
	for path, vec := range pt.Vectors {
		if len(vec) == 0 {
			continue
		}
		named[path] = &qdrant.Vector{Data: vec}
	}

	payloadMap, err := pt.Payload.PayloadMap()
	if err != nil {
		return nil, fmt.Errorf("failed to marshal payload for %q: %w", pt.ID, err)
	}

	payload := make(map[string]*qdrant.Value, len(payloadMap))
	for key, value := range payloadMap {
		val, err := qdrant.NewValue(value)
		if err != nil {
			return nil, fmt.Errorf("failed to convert payload value for key %s: %w", key, err)
		}
		payload[key] = val
	}

	return &qdrant.PointStruct{
		Id: pointID(pt.ID),
		Vectors: &qdrant.Vectors{
			VectorsOptions: &qdrant.Vectors_Vectors{
				Vectors: &qdrant.NamedVectors{Vectors: named},
			},
		},
		Payload: payload,
	}, nil
}

// buildQdrantFilter converts an equality filter to a Qdrant keyword filter.
func buildQdrantFilter(filter map[string]string) *qdrant.Filter {
	conditions := make([]*qdrant.Condition, 0, len(filter))

	for key, value := range filter {
		conditions = append(conditions, &qdrant.Condition{
			ConditionOneOf: &qdrant.Condition_Field{
				Field: &qdrant.FieldCondition{
					Key: key,
					Match: &qdrant.Match{
						MatchValue: &qdrant.Match_Keyword{
							Keyword: value,
						},
					},
				},
			},
		})
	}

	return &qdrant.Filter{
		Must: conditions,
	}
}

// recordFromPayload decodes a Qdrant payload back into a record.
func recordFromPayload(payload map[string]*qdrant.Value) (Record, error) {
	m := make(map[string]any, len(payload))
	for key, value := range payload {
		m[key] = valueToAny(value)
	}
	return RecordFromMap(m)
}

// valueToAny converts a Qdrant value to its plain Go representation.
func valueToAny(value *qdrant.Value) any {
	if value == nil {
		return nil
	}
	switch v := value.Kind.(type) {
	case *qdrant.Value_StringValue:
		return v.StringValue
	case *qdrant.Value_IntegerValue:
		return v.IntegerValue
	case *qdrant.Value_DoubleValue:
		return v.DoubleValue
	case *qdrant.Value_BoolValue:
		return v.BoolValue
	case *qdrant.Value_StructValue:
		if v.StructValue == nil {
			return nil
		}
		m := make(map[string]any, len(v.StructValue.Fields))
		for key, field := range v.StructValue.Fields {
			m[key] = valueToAny(field)
		}
		return m
	case *qdrant.Value_ListValue:
		if v.ListValue == nil {
			return nil
		}
		list := make([]any, len(v.ListValue.Values))
		for i, item := range v.ListValue.Values {
			list[i] = valueToAny(item)
		}
		return list
	default:
		return nil
	}
}

// pointIDString extracts the string form of a point ID.
func pointIDString(id *qdrant.PointId) string {
	if id == nil || id.PointIdOptions == nil {
		return ""
	}
	switch idType := id.PointIdOptions.(type) {
	case *qdrant.PointId_Uuid:
		return idType.Uuid
	case *qdrant.PointId_Num:
		return fmt.Sprintf("%d", idType.Num)
	}
	return ""
}

// Ensure QdrantStore implements Provider.
var _ Provider = (*QdrantStore)(nil)
