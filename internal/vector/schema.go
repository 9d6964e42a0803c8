// Package vector owns the Weaviate class layout used for document chunks.
package vector

import (
	"context"

	"github.com/weaviate/weaviate-go-client/v5/weaviate"
	"github.com/weaviate/weaviate/entities/models"
)

// ChunkClass is the Weaviate class holding every document namespace.
// Namespaces are a filterable property, not separate classes.
const ChunkClass = "DocumentChunk"

// Property names on ChunkClass.
const (
	PropContent   = "content"
	PropNamespace = "namespace"
	PropPage      = "page"
	PropPosition  = "position"
	PropOrigin    = "origin"
	PropKind      = "kind"
)

type SchemaClient interface {
	ClassExists(ctx context.Context, className string) (bool, error)
	CreateClass(ctx context.Context, class *models.Class) error
	GetClass(ctx context.Context, className string) (*models.Class, error)
	AddProperty(ctx context.Context, className string, property *models.Property) error
}

func chunkProperties() []*models.Property {
	return []*models.Property{
		{Name: PropContent, DataType: []string{"text"}},
		{Name: PropNamespace, DataType: []string{"string"}}, // exact match filter
		{Name: PropPage, DataType: []string{"int"}},
		{Name: PropPosition, DataType: []string{"int"}},
		{Name: PropOrigin, DataType: []string{"string"}},
		{Name: PropKind, DataType: []string{"string"}},
	}
}

// EnsureSchema creates ChunkClass, or adds the properties an older
// deployment is missing.
func EnsureSchema(ctx context.Context, client SchemaClient) error {
	exists, err := client.ClassExists(ctx, ChunkClass)
	if err != nil {
		return err
	}

	properties := chunkProperties()

	if !exists {
		return client.CreateClass(ctx, &models.Class{
			Class:       ChunkClass,
			Description: "A chunk of an ingested document",
			Vectorizer:  "none",
			Properties:  properties,
		})
	}

	class, err := client.GetClass(ctx, ChunkClass)
	if err != nil {
		return err
	}

	existing := make(map[string]bool, len(class.Properties))
	for _, p := range class.Properties {
		existing[p.Name] = true
	}

	for _, p := range properties {
		if existing[p.Name] {
			continue
		}
		if err := client.AddProperty(ctx, ChunkClass, p); err != nil {
			return err
		}
	}

	return nil
}

// WeaviateSchema implements SchemaClient on top of the Weaviate client.
type WeaviateSchema struct {
	Client *weaviate.Client
}

func NewWeaviateSchema(client *weaviate.Client) *WeaviateSchema {
	return &WeaviateSchema{Client: client}
}

func (a *WeaviateSchema) ClassExists(ctx context.Context, className string) (bool, error) {
	return a.Client.Schema().ClassExistenceChecker().WithClassName(className).Do(ctx)
}

func (a *WeaviateSchema) CreateClass(ctx context.Context, class *models.Class) error {
	return a.Client.Schema().ClassCreator().WithClass(class).Do(ctx)
}

func (a *WeaviateSchema) GetClass(ctx context.Context, className string) (*models.Class, error) {
	return a.Client.Schema().ClassGetter().WithClassName(className).Do(ctx)
}

func (a *WeaviateSchema) AddProperty(ctx context.Context, className string, property *models.Property) error {
	return a.Client.Schema().PropertyCreator().WithClassName(className).WithProperty(property).Do(ctx)
}
