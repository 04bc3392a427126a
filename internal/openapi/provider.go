// Package openapi derives entity metadata from an OpenAPI document's component
// schemas. Relationship targets come from the x-relationships vendor extension
// on a property; a schema name is an entity type name.
package openapi

import (
	"context"
	"fmt"
	"strings"
	"unicode"

	"github.com/getkin/kin-openapi/openapi3"

	"github.com/PandiO/knk-form-engine/pkg/entity"
)

const (
	relationshipExtensionKey = "x-relationships"

	relationshipTargetAttr     = "target"
	relationshipForeignKeyAttr = "foreignKey"
)

var relationshipKeyLookup = map[string]string{
	"target":     relationshipTargetAttr,
	"entity":     relationshipTargetAttr,
	"foreignkey": relationshipForeignKeyAttr,
	"foreignid":  relationshipForeignKeyAttr,
}

// Provider resolves entity.Metadata from a parsed OpenAPI document. It
// implements entity.MetadataProvider.
type Provider struct {
	byType map[string]entity.Metadata
}

// NewProvider parses the document payload and indexes its component schemas.
func NewProvider(ctx context.Context, raw []byte) (*Provider, error) {
	if len(raw) == 0 {
		return nil, fmt.Errorf("openapi: document payload is empty")
	}
	loader := &openapi3.Loader{Context: ctx}
	doc, err := loader.LoadFromData(raw)
	if err != nil {
		return nil, fmt.Errorf("openapi: load document: %w", err)
	}
	if doc.Components == nil || len(doc.Components.Schemas) == 0 {
		return nil, fmt.Errorf("openapi: document declares no component schemas")
	}

	byType := make(map[string]entity.Metadata, len(doc.Components.Schemas))
	for name, ref := range doc.Components.Schemas {
		if ref == nil || ref.Value == nil {
			continue
		}
		byType[name] = convertSchema(name, ref.Value)
	}
	return &Provider{byType: byType}, nil
}

// Metadata returns the metadata of the named entity type, matching schema
// names case-insensitively.
func (p *Provider) Metadata(_ context.Context, entityTypeName string) (entity.Metadata, error) {
	if meta, ok := p.byType[entityTypeName]; ok {
		return meta, nil
	}
	for name, meta := range p.byType {
		if strings.EqualFold(name, entityTypeName) {
			return meta, nil
		}
	}
	return entity.Metadata{}, fmt.Errorf("openapi: no component schema for entity type %q", entityTypeName)
}

// EntityTypes lists every entity type the document declares.
func (p *Provider) EntityTypes() []string {
	out := make([]string, 0, len(p.byType))
	for name := range p.byType {
		out = append(out, name)
	}
	return out
}

func convertSchema(name string, schema *openapi3.Schema) entity.Metadata {
	meta := entity.Metadata{EntityTypeName: name}
	required := make(map[string]bool, len(schema.Required))
	for _, field := range schema.Required {
		required[field] = true
	}

	// Property iteration order is irrelevant to callers; metadata lookups go
	// by field name.
	for propName, ref := range schema.Properties {
		if ref == nil || ref.Value == nil {
			continue
		}
		prop := ref.Value
		field := entity.FieldMetadata{
			FieldName:  propName,
			FieldType:  fieldType(prop),
			IsNullable: prop.Nullable || !required[propName],
		}
		if prop.Default != nil {
			field.HasDefaultValue = true
			field.DefaultValue = prop.Default
		}
		if rel := relationshipExtension(prop.Extensions); rel != nil {
			field.IsRelatedEntity = true
			field.RelatedEntityType = rel[relationshipTargetAttr]
		}
		meta.Fields = append(meta.Fields, field)
	}
	return meta
}

func fieldType(schema *openapi3.Schema) string {
	switch firstSchemaType(schema.Type) {
	case "integer":
		return "Integer"
	case "number":
		return "Decimal"
	case "boolean":
		return "Boolean"
	case "array":
		return "List"
	case "object":
		return "Object"
	case "string":
		if schema.Format == "date-time" || schema.Format == "date" {
			return "DateTime"
		}
		return "String"
	default:
		return "String"
	}
}

func firstSchemaType(types *openapi3.Types) string {
	if types == nil {
		return ""
	}
	values := types.Slice()
	if len(values) == 0 {
		return ""
	}
	return values[0]
}

// relationshipExtension normalises an x-relationships extension value into
// canonical keys, tolerating separator and casing variants.
func relationshipExtension(ext map[string]any) map[string]string {
	if len(ext) == 0 {
		return nil
	}
	raw, ok := ext[relationshipExtensionKey].(map[string]any)
	if !ok || len(raw) == 0 {
		return nil
	}

	out := make(map[string]string, len(raw))
	for key, value := range raw {
		str, ok := value.(string)
		if !ok || str == "" {
			continue
		}
		canonical := normaliseKey(key)
		if mapped, ok := relationshipKeyLookup[canonical]; ok {
			canonical = mapped
		}
		out[canonical] = str
	}
	if out[relationshipTargetAttr] == "" {
		return nil
	}
	return out
}

func normaliseKey(raw string) string {
	var builder strings.Builder
	builder.Grow(len(raw))
	for _, r := range raw {
		if unicode.IsLetter(r) || unicode.IsNumber(r) {
			builder.WriteRune(unicode.ToLower(r))
		}
	}
	return builder.String()
}
