// Package submission converts the flattened wizard state into the flat,
// foreign-key based payload the backend persists. Embedded related-entity
// objects become scalar foreign keys using entity metadata; transient UI keys
// are stripped; anything that cannot be mapped is a hard, descriptive error
// rather than a silent drop.
package submission

import (
	"context"
	"fmt"
	"strings"

	"github.com/PandiO/knk-form-engine/pkg/entity"
	"github.com/PandiO/knk-form-engine/pkg/formconfig"
	"github.com/PandiO/knk-form-engine/pkg/relationship"
)

// Error is a normalization failure with enough context to point the user at
// the offending field or relationship. Normalization errors block submission.
type Error struct {
	Field        string
	Relationship string
	Reason       string
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString("submission: ")
	if e.Relationship != "" {
		fmt.Fprintf(&b, "relationship %q: ", e.Relationship)
	} else if e.Field != "" {
		fmt.Fprintf(&b, "field %q: ", e.Field)
	}
	b.WriteString(e.Reason)
	return b.String()
}

// Options tune a normalization pass.
type Options struct {
	// EntityID, when set, is injected into the payload as "id" (edit mode).
	EntityID any
}

// Normalizer maps wizard state to entity payloads for one configuration.
type Normalizer struct {
	cfg      formconfig.FormConfiguration
	metadata entity.MetadataProvider
}

// NewNormalizer builds a normalizer backed by the given metadata provider.
func NewNormalizer(cfg formconfig.FormConfiguration, metadata entity.MetadataProvider) *Normalizer {
	return &Normalizer{cfg: cfg, metadata: metadata}
}

// Normalize converts the flattened field-name keyed record into the payload
// the entity create/update collaborator expects.
func (n *Normalizer) Normalize(ctx context.Context, flat map[string]any, opts Options) (map[string]any, error) {
	rootMeta, err := n.metadata.Metadata(ctx, n.cfg.EntityTypeName)
	if err != nil {
		return nil, &Error{Reason: fmt.Sprintf("metadata for entity type %q is unavailable: %v", n.cfg.EntityTypeName, err)}
	}

	out := make(map[string]any)
	for _, step := range n.cfg.Steps {
		if step.IsManyToManyRelationship {
			if err := n.normalizeRelationship(ctx, step, flat, out); err != nil {
				return nil, err
			}
			continue
		}
		for _, field := range step.Fields {
			if err := normalizeField(field, rootMeta, flat, out); err != nil {
				return nil, err
			}
		}
	}

	if opts.EntityID != nil {
		out["id"] = opts.EntityID
	}
	return out, nil
}

func normalizeField(field formconfig.FormField, rootMeta entity.Metadata, flat, out map[string]any) error {
	value, ok := flat[field.FieldName]
	if !ok {
		return nil
	}
	if strings.HasPrefix(field.FieldName, "__") {
		return nil
	}

	switch {
	case field.FieldType.IsObject():
		return normalizeObject(field, rootMeta, value, out)
	case field.FieldType.IsCollection() && field.ElementType == formconfig.FieldTypeObject:
		return normalizeObjectList(field, rootMeta, value, out)
	default:
		out[field.FieldName] = value
		return nil
	}
}

func normalizeObject(field formconfig.FormField, rootMeta entity.Metadata, value any, out map[string]any) error {
	if value == nil {
		return nil
	}

	objectType := field.RelatedObjectType()
	fk, ok := rootMeta.ForeignKeyFor(objectType)
	if !ok {
		return &Error{Field: field.FieldName, Reason: fmt.Sprintf(
			"entity type %q declares no foreign key for related type %q", rootMeta.EntityTypeName, objectType)}
	}

	switch typed := value.(type) {
	case map[string]any:
		id, ok := relationship.EntityID(typed)
		if !ok {
			return &Error{Field: field.FieldName, Reason: "embedded related entity has no resolvable identifier"}
		}
		out[fk.FieldName] = id
	default:
		// Already a scalar id.
		out[fk.FieldName] = value
	}
	return nil
}

func normalizeObjectList(field formconfig.FormField, rootMeta entity.Metadata, value any, out map[string]any) error {
	items, ok := value.([]any)
	if !ok {
		if value == nil {
			return nil
		}
		return &Error{Field: field.FieldName, Reason: fmt.Sprintf("expected a list, got %T", value)}
	}

	mapped := make([]any, 0, len(items))
	for _, item := range items {
		switch typed := item.(type) {
		case map[string]any:
			id, ok := relationship.EntityID(typed)
			if !ok {
				return &Error{Field: field.FieldName, Reason: "list item embeds a related entity with no resolvable identifier"}
			}
			mapped = append(mapped, id)
		default:
			mapped = append(mapped, item)
		}
	}
	out[field.FieldName] = mapped
	return nil
}

func (n *Normalizer) normalizeRelationship(ctx context.Context, step formconfig.FormStep, flat, out map[string]any) error {
	name := step.RelatedEntityPropertyName
	if name == "" {
		return &Error{Relationship: step.StepName, Reason: "relationship step declares no relatedEntityPropertyName"}
	}

	entries := relationship.EntriesFromValue(flat[name])
	if len(entries) == 0 {
		out[name] = []any{}
		return nil
	}

	joinMeta, err := n.metadata.Metadata(ctx, step.JoinEntityType)
	if err != nil {
		return &Error{Relationship: name, Reason: fmt.Sprintf(
			"metadata for join entity type %q is unavailable: %v", step.JoinEntityType, err)}
	}
	fk, err := joinMeta.JoinForeignKey(n.cfg.EntityTypeName)
	if err != nil {
		return &Error{Relationship: name, Reason: err.Error()}
	}

	mapped := make([]any, 0, len(entries))
	for i, entry := range entries {
		row, err := normalizeEntry(entry, fk.FieldName)
		if err != nil {
			return &Error{Relationship: name, Reason: fmt.Sprintf("entry %d: %v", i, err)}
		}
		mapped = append(mapped, row)
	}
	out[name] = mapped
	return nil
}

func normalizeEntry(entry relationship.Entry, fkFieldName string) (map[string]any, error) {
	id := entry.RelatedEntityID()
	if id == nil {
		if ent, ok := entry[relationship.KeyRelatedEntity].(map[string]any); ok {
			id, _ = relationship.EntityID(ent)
		}
	}
	if id == nil {
		return nil, fmt.Errorf("no related entity selected (missing %s)", relationship.KeyRelatedEntityID)
	}

	row := make(map[string]any, len(entry))
	for key, value := range entry {
		switch key {
		case relationship.KeyRelatedEntityID, relationship.KeyRelatedEntity, relationship.KeyChildProgressID:
			continue
		}
		if strings.HasPrefix(key, "__") {
			continue
		}
		row[key] = value
	}
	row[fkFieldName] = id
	return row, nil
}
