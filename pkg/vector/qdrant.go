// Copyright 2025 The Quiver Authors
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

package vector

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"strconv"
	"strings"

	"github.com/qdrant/go-client/qdrant"

	"github.com/quiverkb/quiver/pkg/config"
	"github.com/quiverkb/quiver/pkg/models"
)

// QdrantStore implements Store against a Qdrant server.
type QdrantStore struct {
	client     *qdrant.Client
	collection string
}

// NewQdrantStore connects to the Qdrant server named by the configuration.
func NewQdrantStore(cfg config.QdrantConfig) (*QdrantStore, error) {
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid qdrant config: %w", err)
	}

	host, port, useTLS, err := splitQdrantURL(cfg.URL)
	if err != nil {
		return nil, err
	}
	if cfg.UseTLS {
		useTLS = true
	}

	client, err := qdrant.NewClient(&qdrant.Config{
		Host:   host,
		Port:   port,
		APIKey: cfg.APIKey,
		UseTLS: useTLS,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create Qdrant client for %s: %w", cfg.URL, err)
	}

	return &QdrantStore{
		client:     client,
		collection: cfg.CollectionName,
	}, nil
}

// splitQdrantURL extracts host, gRPC port, and TLS from a URL like
// http://localhost:6334. A bare host defaults to port 6334.
func splitQdrantURL(raw string) (string, int, bool, error) {
	if !strings.Contains(raw, "://") {
		raw = "http://" + raw
	}
	u, err := url.Parse(raw)
	if err != nil {
		return "", 0, false, fmt.Errorf("invalid qdrant url %q: %w", raw, err)
	}

	port := 6334
	if p := u.Port(); p != "" {
		port, err = strconv.Atoi(p)
		if err != nil {
			return "", 0, false, fmt.Errorf("invalid qdrant port in %q: %w", raw, err)
		}
	}
	return u.Hostname(), port, u.Scheme == "https", nil
}

// indexFieldTypes maps indexed payload fields to their Qdrant field type.
var indexFieldTypes = map[string]qdrant.FieldType{
	models.PayloadDocumentID:       qdrant.FieldType_FieldTypeKeyword,
	models.PayloadProjectID:        qdrant.FieldType_FieldTypeKeyword,
	models.PayloadSourceType:       qdrant.FieldType_FieldTypeKeyword,
	models.PayloadSource:           qdrant.FieldType_FieldTypeKeyword,
	models.PayloadTitle:            qdrant.FieldType_FieldTypeKeyword,
	models.PayloadCreatedAt:        qdrant.FieldType_FieldTypeKeyword,
	models.PayloadUpdatedAt:        qdrant.FieldType_FieldTypeKeyword,
	models.PayloadIsAttachment:     qdrant.FieldType_FieldTypeBool,
	models.PayloadParentDocumentID: qdrant.FieldType_FieldTypeKeyword,
	models.PayloadOriginalFileType: qdrant.FieldType_FieldTypeKeyword,
	models.PayloadIsConverted:      qdrant.FieldType_FieldTypeBool,
}

// EnsureCollection creates the collection and payload indexes if missing.
func (s *QdrantStore) EnsureCollection(ctx context.Context, vectorSize int) error {
	exists, err := s.client.CollectionExists(ctx, s.collection)
	if err != nil {
		return fmt.Errorf("failed to check collection %s: %w", s.collection, err)
	}

	if !exists {
		err = s.client.CreateCollection(ctx, &qdrant.CreateCollection{
			CollectionName: s.collection,
			VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
				Size:     uint64(vectorSize),
				Distance: qdrant.Distance_Cosine,
			}),
		})
		if err != nil && !strings.Contains(err.Error(), "already exists") {
			return fmt.Errorf("failed to create collection %s: %w", s.collection, err)
		}
		slog.Info("created collection", "collection", s.collection, "vector_size", vectorSize)
	}

	for _, field := range IndexedPayloadFields {
		fieldType := indexFieldTypes[field]
		_, err := s.client.CreateFieldIndex(ctx, &qdrant.CreateFieldIndexCollection{
			CollectionName: s.collection,
			FieldName:      field,
			FieldType:      &fieldType,
		})
		if err != nil && !strings.Contains(err.Error(), "already exists") {
			return fmt.Errorf("failed to create payload index on %s: %w", field, err)
		}
	}

	return nil
}

// UpsertPoints writes a batch of points with wait semantics so acknowledgment
// implies durability.
func (s *QdrantStore) UpsertPoints(ctx context.Context, points []*models.VectorPoint) error {
	if len(points) == 0 {
		return nil
	}

	qdrantPoints := make([]*qdrant.PointStruct, 0, len(points))
	for _, p := range points {
		payload := make(map[string]*qdrant.Value, len(p.Payload))
		for key, value := range p.Payload {
			val, err := qdrant.NewValue(value)
			if err != nil {
				return fmt.Errorf("failed to convert payload value for key %s: %w", key, err)
			}
			payload[key] = val
		}
		qdrantPoints = append(qdrantPoints, &qdrant.PointStruct{
			Id:      qdrant.NewID(p.ID),
			Vectors: qdrant.NewVectors(p.Vector...),
			Payload: payload,
		})
	}

	wait := true
	_, err := s.client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: s.collection,
		Points:         qdrantPoints,
		Wait:           &wait,
	})
	if err != nil {
		return fmt.Errorf("failed to upsert %d points: %w", len(points), err)
	}
	return nil
}

// DeleteByDocumentID removes all points whose document_id is in the set.
func (s *QdrantStore) DeleteByDocumentID(ctx context.Context, documentIDs []string) error {
	if len(documentIDs) == 0 {
		return nil
	}

	filter := buildFilter(&Filter{DocumentIDs: documentIDs})
	wait := true
	_, err := s.client.Delete(ctx, &qdrant.DeletePoints{
		CollectionName: s.collection,
		Points: &qdrant.PointsSelector{
			PointsSelectorOneOf: &qdrant.PointsSelector_Filter{Filter: filter},
		},
		Wait: &wait,
	})
	if err != nil {
		return fmt.Errorf("failed to delete points for %d documents: %w", len(documentIDs), err)
	}
	return nil
}

// Search performs dense nearest-neighbor lookup with an optional payload
// filter.
func (s *QdrantStore) Search(ctx context.Context, vector []float32, limit int, filter *Filter) ([]*ScoredPoint, error) {
	if limit <= 0 {
		return []*ScoredPoint{}, nil
	}

	searchRequest := &qdrant.SearchPoints{
		CollectionName: s.collection,
		Vector:         vector,
		Limit:          uint64(limit),
		WithPayload:    qdrant.NewWithPayload(true),
	}
	if !filter.IsEmpty() {
		searchRequest.Filter = buildFilter(filter)
	}

	pointsClient := s.client.GetPointsClient()
	searchResult, err := pointsClient.Search(ctx, searchRequest)
	if err != nil {
		return nil, fmt.Errorf("failed to search points: %w", err)
	}

	results := make([]*ScoredPoint, 0, len(searchResult.Result))
	for _, point := range searchResult.Result {
		results = append(results, &ScoredPoint{
			ID:      pointID(point.Id),
			Score:   float64(point.Score),
			Payload: convertPayload(point.Payload),
		})
	}
	return results, nil
}

// KeywordSearch scrolls points whose content matches any of the terms and
// scores them client-side by term frequency.
func (s *QdrantStore) KeywordSearch(ctx context.Context, terms []string, limit int, filter *Filter) ([]*ScoredPoint, error) {
	if limit <= 0 || len(terms) == 0 {
		return []*ScoredPoint{}, nil
	}

	qf := buildFilter(filter)
	should := make([]*qdrant.Condition, 0, len(terms))
	for _, term := range terms {
		should = append(should, &qdrant.Condition{
			ConditionOneOf: &qdrant.Condition_Field{
				Field: &qdrant.FieldCondition{
					Key: models.PayloadContent,
					Match: &qdrant.Match{
						MatchValue: &qdrant.Match_Text{Text: term},
					},
				},
			},
		})
	}
	if qf == nil {
		qf = &qdrant.Filter{}
	}
	qf.Should = should

	scrollLimit := uint32(limit)
	points, err := s.client.Scroll(ctx, &qdrant.ScrollPoints{
		CollectionName: s.collection,
		Filter:         qf,
		Limit:          &scrollLimit,
		WithPayload:    qdrant.NewWithPayload(true),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to scroll points: %w", err)
	}

	results := make([]*ScoredPoint, 0, len(points))
	for _, point := range points {
		payload := convertPayload(point.Payload)
		content, _ := payload[models.PayloadContent].(string)
		results = append(results, &ScoredPoint{
			ID:      pointID(point.Id),
			Score:   ScoreTerms(content, terms),
			Payload: payload,
		})
	}
	SortByScore(results)
	if len(results) > limit {
		results = results[:limit]
	}
	return results, nil
}

// CountByFilter returns the number of points matching the filter.
func (s *QdrantStore) CountByFilter(ctx context.Context, filter *Filter) (int, error) {
	exact := true
	req := &qdrant.CountPoints{
		CollectionName: s.collection,
		Exact:          &exact,
	}
	if !filter.IsEmpty() {
		req.Filter = buildFilter(filter)
	}

	count, err := s.client.Count(ctx, req)
	if err != nil {
		return 0, fmt.Errorf("failed to count points: %w", err)
	}
	return int(count), nil
}

// Close closes the underlying gRPC client.
func (s *QdrantStore) Close() error {
	return s.client.Close()
}

// buildFilter converts a Filter to Qdrant Must conditions. Multi-value fields
// become keyword IN matches.
func buildFilter(filter *Filter) *qdrant.Filter {
	if filter.IsEmpty() {
		return nil
	}

	must := make([]*qdrant.Condition, 0, 3)
	addIn := func(key string, values []string) {
		if len(values) == 0 {
			return
		}
		must = append(must, &qdrant.Condition{
			ConditionOneOf: &qdrant.Condition_Field{
				Field: &qdrant.FieldCondition{
					Key: key,
					Match: &qdrant.Match{
						MatchValue: &qdrant.Match_Keywords{
							Keywords: &qdrant.RepeatedStrings{Strings: values},
						},
					},
				},
			},
		})
	}

	addIn(models.PayloadProjectID, filter.ProjectIDs)
	addIn(models.PayloadSourceType, filter.SourceTypes)
	addIn(models.PayloadDocumentID, filter.DocumentIDs)

	return &qdrant.Filter{Must: must}
}

func pointID(id *qdrant.PointId) string {
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

// convertPayload converts a Qdrant payload into plain Go values.
func convertPayload(payload map[string]*qdrant.Value) map[string]any {
	metadata := make(map[string]any, len(payload))
	for key, value := range payload {
		metadata[key] = convertValue(value)
	}
	return metadata
}

func convertValue(value *qdrant.Value) any {
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
	case *qdrant.Value_ListValue:
		if v.ListValue == nil {
			return nil
		}
		list := make([]any, len(v.ListValue.Values))
		for i, item := range v.ListValue.Values {
			list[i] = convertValue(item)
		}
		return list
	case *qdrant.Value_StructValue:
		if v.StructValue == nil {
			return nil
		}
		m := make(map[string]any, len(v.StructValue.Fields))
		for k, item := range v.StructValue.Fields {
			m[k] = convertValue(item)
		}
		return m
	default:
		return nil
	}
}
