package submission

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/PandiO/knk-form-engine/pkg/entity"
	"github.com/PandiO/knk-form-engine/pkg/formconfig"
)

func blueprintConfig() formconfig.FormConfiguration {
	return formconfig.FormConfiguration{
		EntityTypeName: "ItemBlueprint",
		Steps: []formconfig.FormStep{
			{
				StepName: "General",
				Fields: []formconfig.FormField{
					{FieldName: "Name", FieldType: formconfig.FieldTypeString},
					{FieldName: "Town", FieldType: formconfig.FieldTypeObject, ObjectType: "Town"},
				},
			},
			{
				StepName:                  "Enchantments",
				IsManyToManyRelationship:  true,
				RelatedEntityPropertyName: "defaultEnchantments",
				JoinEntityType:            "ItemBlueprintEnchantment",
			},
		},
	}
}

func metadataProvider() entity.MetadataProvider {
	byType := map[string]entity.Metadata{
		"ItemBlueprint": {
			EntityTypeName: "ItemBlueprint",
			Fields: []entity.FieldMetadata{
				{FieldName: "Name", FieldType: "String"},
				{FieldName: "TownId", FieldType: "Integer", IsRelatedEntity: true, RelatedEntityType: "Town"},
			},
		},
		"ItemBlueprintEnchantment": {
			EntityTypeName: "ItemBlueprintEnchantment",
			Fields: []entity.FieldMetadata{
				{FieldName: "ItemBlueprintId", FieldType: "Integer", IsRelatedEntity: true, RelatedEntityType: "ItemBlueprint"},
				{FieldName: "EnchantmentDefinitionId", FieldType: "Integer", IsRelatedEntity: true, RelatedEntityType: "EnchantmentDefinition"},
				{FieldName: "level", FieldType: "Integer"},
			},
		},
	}
	return entity.MetadataProviderFunc(func(_ context.Context, name string) (entity.Metadata, error) {
		meta, ok := byType[name]
		if !ok {
			return entity.Metadata{}, fmt.Errorf("no metadata for %q", name)
		}
		return meta, nil
	})
}

func TestNormalizeMapsJoinEntries(t *testing.T) {
	n := NewNormalizer(blueprintConfig(), metadataProvider())

	flat := map[string]any{
		"Name": "Iron Sword",
		"Town": map[string]any{"id": 12, "name": "Riverfall"},
		"defaultEnchantments": []any{
			map[string]any{
				"relatedEntityId":   3,
				"level":             2,
				"relatedEntity":     map[string]any{"id": 3, "name": "Sharpness"},
				"__childProgressId": "p1",
			},
		},
	}

	got, err := n.Normalize(context.Background(), flat, Options{})
	if err != nil {
		t.Fatalf("normalize: %v", err)
	}

	want := map[string]any{
		"Name":   "Iron Sword",
		"TownId": 12,
		"defaultEnchantments": []any{
			map[string]any{"EnchantmentDefinitionId": 3, "level": 2},
		},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("payload mismatch (-want +got):\n%s", diff)
	}
}

func TestNormalizeScalarForeignKeyPassesThrough(t *testing.T) {
	n := NewNormalizer(blueprintConfig(), metadataProvider())
	got, err := n.Normalize(context.Background(), map[string]any{"Town": 12}, Options{})
	if err != nil {
		t.Fatalf("normalize: %v", err)
	}
	if got["TownId"] != 12 {
		t.Fatalf("TownId = %v, want 12", got["TownId"])
	}
}

func TestNormalizePickerImpliesObjectType(t *testing.T) {
	cfg := blueprintConfig()
	cfg.Steps[0].Fields[1] = formconfig.FormField{FieldName: "Town", FieldType: formconfig.FieldTypeTownPicker}
	n := NewNormalizer(cfg, metadataProvider())

	got, err := n.Normalize(context.Background(), map[string]any{
		"Town": map[string]any{"id": 12, "name": "Riverfall"},
	}, Options{})
	if err != nil {
		t.Fatalf("normalize: %v", err)
	}
	if got["TownId"] != 12 {
		t.Fatalf("TownId = %v, want 12 via the picker-implied entity type", got["TownId"])
	}
}

func TestNormalizeEntryWithoutSelectionFails(t *testing.T) {
	n := NewNormalizer(blueprintConfig(), metadataProvider())
	flat := map[string]any{
		"defaultEnchantments": []any{map[string]any{"level": 2}},
	}
	_, err := n.Normalize(context.Background(), flat, Options{})
	if err == nil {
		t.Fatal("expected error for entry without a related entity")
	}
	var nerr *Error
	if !errors.As(err, &nerr) {
		t.Fatalf("expected *submission.Error, got %T", err)
	}
	if nerr.Relationship != "defaultEnchantments" {
		t.Fatalf("error names relationship %q, want defaultEnchantments", nerr.Relationship)
	}
	if !strings.Contains(nerr.Reason, "no related entity selected") {
		t.Fatalf("error reason should name the missing selection, got %q", nerr.Reason)
	}
}

func TestNormalizeMissingJoinMetadataFails(t *testing.T) {
	cfg := blueprintConfig()
	cfg.Steps[1].JoinEntityType = "Unregistered"
	n := NewNormalizer(cfg, metadataProvider())
	flat := map[string]any{
		"defaultEnchantments": []any{map[string]any{"relatedEntityId": 3}},
	}
	_, err := n.Normalize(context.Background(), flat, Options{})
	if err == nil || !strings.Contains(err.Error(), "Unregistered") {
		t.Fatalf("expected descriptive missing-metadata error, got %v", err)
	}
}

func TestNormalizeEmbeddedObjectWithoutIDFails(t *testing.T) {
	n := NewNormalizer(blueprintConfig(), metadataProvider())
	flat := map[string]any{"Town": map[string]any{"name": "no id here"}}
	_, err := n.Normalize(context.Background(), flat, Options{})
	var nerr *Error
	if !errors.As(err, &nerr) || nerr.Field != "Town" {
		t.Fatalf("expected field error for Town, got %v", err)
	}
}

func TestNormalizeEditModeInjectsID(t *testing.T) {
	n := NewNormalizer(blueprintConfig(), metadataProvider())
	got, err := n.Normalize(context.Background(), map[string]any{"Name": "Iron Sword"}, Options{EntityID: 44})
	if err != nil {
		t.Fatalf("normalize: %v", err)
	}
	if got["id"] != 44 {
		t.Fatalf("id = %v, want 44", got["id"])
	}
}

func TestNormalizeEmptyRelationshipList(t *testing.T) {
	n := NewNormalizer(blueprintConfig(), metadataProvider())
	got, err := n.Normalize(context.Background(), map[string]any{}, Options{})
	if err != nil {
		t.Fatalf("normalize: %v", err)
	}
	list, ok := got["defaultEnchantments"].([]any)
	if !ok || len(list) != 0 {
		t.Fatalf("empty relationship should normalize to an empty list, got %v", got["defaultEnchantments"])
	}
}
