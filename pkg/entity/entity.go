// Package entity defines the backend entity metadata the engine consumes and
// the narrow collaborator contracts for fetching, creating, and browsing
// entities. The engine does not define wire formats; implementations of these
// interfaces own the transport.
package entity

import (
	"context"
	"fmt"
)

// FieldMetadata describes one field of a backend entity type.
type FieldMetadata struct {
	FieldName         string `json:"fieldName"`
	FieldType         string `json:"fieldType"`
	IsRelatedEntity   bool   `json:"isRelatedEntity"`
	RelatedEntityType string `json:"relatedEntityType,omitempty"`
	IsNullable        bool   `json:"isNullable"`
	HasDefaultValue   bool   `json:"hasDefaultValue"`
	DefaultValue      any    `json:"defaultValue,omitempty"`
}

// Metadata describes a backend entity type.
type Metadata struct {
	EntityTypeName string          `json:"entityTypeName"`
	Fields         []FieldMetadata `json:"fields"`
}

// ForeignKeyFor returns the field that stores the foreign key to the given
// related entity type.
func (m Metadata) ForeignKeyFor(relatedEntityType string) (FieldMetadata, bool) {
	for _, field := range m.Fields {
		if field.IsRelatedEntity && field.RelatedEntityType == relatedEntityType {
			return field, true
		}
	}
	return FieldMetadata{}, false
}

// JoinForeignKey picks a join entity's foreign key toward the entity it
// selects: the single related-entity field that does not point back at the
// root entity type. Zero or several candidates make the join unmappable.
func (m Metadata) JoinForeignKey(rootEntityType string) (FieldMetadata, error) {
	var candidates []FieldMetadata
	for _, field := range m.Fields {
		if field.IsRelatedEntity && field.RelatedEntityType != rootEntityType {
			candidates = append(candidates, field)
		}
	}
	switch len(candidates) {
	case 1:
		return candidates[0], nil
	case 0:
		return FieldMetadata{}, fmt.Errorf(
			"entity: join type %q declares no foreign key toward the selected entity", m.EntityTypeName)
	default:
		return FieldMetadata{}, fmt.Errorf(
			"entity: join type %q declares %d candidate foreign keys; cannot pick one", m.EntityTypeName, len(candidates))
	}
}

// MetadataProvider resolves entity metadata by type name.
type MetadataProvider interface {
	Metadata(ctx context.Context, entityTypeName string) (Metadata, error)
}

// MetadataProviderFunc adapts a function into a MetadataProvider.
type MetadataProviderFunc func(ctx context.Context, entityTypeName string) (Metadata, error)

// Metadata delegates to the underlying function.
func (fn MetadataProviderFunc) Metadata(ctx context.Context, entityTypeName string) (Metadata, error) {
	return fn(ctx, entityTypeName)
}

// DataSource reads and writes entity records. Fetch feeds edit-mode
// pre-population; Create and Update receive normalized submission payloads.
type DataSource interface {
	Fetch(ctx context.Context, entityTypeName string, id any) (map[string]any, error)
	Create(ctx context.Context, entityTypeName string, payload map[string]any) (map[string]any, error)
	Update(ctx context.Context, entityTypeName string, id any, payload map[string]any) (map[string]any, error)
}

// Page is one page of selectable related entities.
type Page struct {
	Items []map[string]any `json:"items"`
	Total int              `json:"total"`
}

// Browser supplies selectable related entities for many-to-many steps.
type Browser interface {
	Browse(ctx context.Context, relatedEntityType string, offset, limit int) (Page, error)
}
