package weaviate

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/go-openapi/strfmt"
	"github.com/google/uuid"
	"github.com/weaviate/weaviate-go-client/v5/weaviate"
	"github.com/weaviate/weaviate-go-client/v5/weaviate/filters"
	"github.com/weaviate/weaviate-go-client/v5/weaviate/graphql"
	"github.com/weaviate/weaviate/entities/models"

	"pagechat/internal/apperr"
	"pagechat/internal/vector"
)

const batchSize = 100

type Store struct {
	client *weaviate.Client
}

func NewStore(client *weaviate.Client) *Store {
	return &Store{client: client}
}

func (s *Store) EnsureSchema(ctx context.Context) error {
	return vector.EnsureSchema(ctx, vector.NewWeaviateSchema(s.client))
}

// ObjectID is stable per (namespace, position), so writing the same chunk
// twice replaces it instead of duplicating it.
func ObjectID(namespace string, position int) strfmt.UUID {
	return strfmt.UUID(uuid.NewSHA1(uuid.NameSpaceURL, []byte(namespace+"/"+strconv.Itoa(position))).String())
}

func namespaceFilter(namespace string) *filters.WhereBuilder {
	return filters.Where().
		WithPath([]string{vector.PropNamespace}).
		WithOperator(filters.Equal).
		WithValueString(namespace)
}

func (s *Store) Upsert(ctx context.Context, namespace string, records []vector.Record) error {
	for start := 0; start < len(records); start += batchSize {
		end := min(start+batchSize, len(records))

		objects := make([]*models.Object, 0, end-start)
		for _, r := range records[start:end] {
			objects = append(objects, &models.Object{
				Class: vector.ChunkClass,
				ID:    ObjectID(namespace, r.Metadata.Position),
				Properties: map[string]interface{}{
					vector.PropContent:   r.Metadata.Text,
					vector.PropNamespace: namespace,
					vector.PropPage:      r.Metadata.Page,
					vector.PropPosition:  r.Metadata.Position,
					vector.PropOrigin:    r.Metadata.Origin,
					vector.PropKind:      r.Metadata.Kind,
				},
				Vector: models.C11yVector(r.Values),
			})
		}

		resp, err := s.client.Batch().ObjectsBatcher().WithObjects(objects...).Do(ctx)
		if err != nil {
			return fmt.Errorf("%w: batch upsert: %v", apperr.ErrStoreUnavailable, err)
		}
		for _, r := range resp {
			if r.Result != nil && r.Result.Errors != nil && len(r.Result.Errors.Error) > 0 {
				return fmt.Errorf("%w: batch upsert object %s: %s", apperr.ErrStoreUnavailable, r.ID, r.Result.Errors.Error[0].Message)
			}
		}
	}
	return nil
}

func (s *Store) Query(ctx context.Context, namespace string, values []float32, k int) ([]vector.Match, error) {
	if k <= 0 {
		return []vector.Match{}, nil
	}

	nearVector := s.client.GraphQL().NearVectorArgBuilder().WithVector(values)

	fields := []graphql.Field{
		{Name: vector.PropContent},
		{Name: vector.PropPage},
		{Name: vector.PropPosition},
		{Name: vector.PropOrigin},
		{Name: vector.PropKind},
		{Name: "_additional", Fields: []graphql.Field{{Name: "distance"}}},
	}

	res, err := s.client.GraphQL().Get().
		WithClassName(vector.ChunkClass).
		WithNearVector(nearVector).
		WithWhere(namespaceFilter(namespace)).
		WithLimit(k).
		WithFields(fields...).
		Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: query: %v", apperr.ErrStoreUnavailable, err)
	}
	if len(res.Errors) > 0 {
		return nil, fmt.Errorf("%w: graphql error: %s", apperr.ErrStoreUnavailable, graphqlMessages(res.Errors))
	}

	matches := []vector.Match{}
	data, _ := res.Data["Get"].(map[string]interface{})
	rows, _ := data[vector.ChunkClass].([]interface{})
	for _, row := range rows {
		props, ok := row.(map[string]interface{})
		if !ok {
			continue
		}
		m := vector.Match{Metadata: vector.Metadata{DocumentID: namespace}}
		if content, ok := props[vector.PropContent].(string); ok {
			m.Metadata.Text = content
		}
		if page, ok := props[vector.PropPage].(float64); ok {
			m.Metadata.Page = int(page)
		}
		if pos, ok := props[vector.PropPosition].(float64); ok {
			m.Metadata.Position = int(pos)
		}
		if origin, ok := props[vector.PropOrigin].(string); ok {
			m.Metadata.Origin = origin
		}
		if kind, ok := props[vector.PropKind].(string); ok {
			m.Metadata.Kind = kind
		}
		if additional, ok := props["_additional"].(map[string]interface{}); ok {
			m.Score = 1 - toFloat32(additional["distance"])
		}
		matches = append(matches, m)
	}

	return matches, nil
}

func (s *Store) NamespaceContains(ctx context.Context, namespace string) (bool, error) {
	n, err := s.count(ctx, namespaceFilter(namespace))
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (s *Store) DeleteNamespace(ctx context.Context, namespace string) error {
	_, err := s.client.Batch().ObjectsBatchDeleter().
		WithClassName(vector.ChunkClass).
		WithOutput("minimal").
		WithWhere(namespaceFilter(namespace)).
		Do(ctx)
	if err != nil {
		return fmt.Errorf("%w: delete namespace: %v", apperr.ErrStoreUnavailable, err)
	}
	return nil
}

// CountChunks counts every stored chunk across namespaces.
func (s *Store) CountChunks(ctx context.Context) (int, error) {
	return s.count(ctx, nil)
}

func (s *Store) count(ctx context.Context, where *filters.WhereBuilder) (int, error) {
	agg := s.client.GraphQL().Aggregate().
		WithClassName(vector.ChunkClass).
		WithFields(graphql.Field{Name: "meta", Fields: []graphql.Field{{Name: "count"}}})
	if where != nil {
		agg = agg.WithWhere(where)
	}

	res, err := agg.Do(ctx)
	if err != nil {
		return 0, fmt.Errorf("%w: aggregate: %v", apperr.ErrStoreUnavailable, err)
	}
	if len(res.Errors) > 0 {
		return 0, fmt.Errorf("%w: graphql error: %s", apperr.ErrStoreUnavailable, graphqlMessages(res.Errors))
	}

	data, _ := res.Data["Aggregate"].(map[string]interface{})
	rows, _ := data[vector.ChunkClass].([]interface{})
	if len(rows) == 0 {
		return 0, nil
	}
	row, _ := rows[0].(map[string]interface{})
	meta, _ := row["meta"].(map[string]interface{})
	if c, ok := meta["count"].(float64); ok {
		return int(c), nil
	}
	return 0, nil
}

func graphqlMessages(errs []*models.GraphQLError) string {
	msgs := make([]string, 0, len(errs))
	for _, e := range errs {
		msgs = append(msgs, e.Message)
	}
	return strings.Join(msgs, "; ")
}

// Weaviate returns _additional numbers as JSON numbers or strings depending
// on the server version.
func toFloat32(v interface{}) float32 {
	switch n := v.(type) {
	case float64:
		return float32(n)
	case string:
		f, err := strconv.ParseFloat(n, 32)
		if err != nil {
			return 0
		}
		return float32(f)
	default:
		return 0
	}
}
