package openapi

import (
	"context"
	"testing"
)

const blueprintDocument = `{
  "openapi": "3.0.0",
  "info": { "title": "KnK", "version": "1.0.0" },
  "paths": {},
  "components": {
    "schemas": {
      "ItemBlueprint": {
        "type": "object",
        "required": ["name"],
        "properties": {
          "name": { "type": "string" },
          "durability": { "type": "integer", "default": 100 },
          "createdAt": { "type": "string", "format": "date-time" },
          "townId": {
            "type": "integer",
            "x-relationships": { "type": "belongsTo", "target": "Town" }
          }
        }
      },
      "ItemBlueprintEnchantment": {
        "type": "object",
        "properties": {
          "itemBlueprintId": {
            "type": "integer",
            "x-relationships": { "target": "ItemBlueprint" }
          },
          "enchantmentDefinitionId": {
            "type": "integer",
            "x-relationships": { "Target": "EnchantmentDefinition" }
          },
          "level": { "type": "integer" }
        }
      }
    }
  }
}`

func loadProvider(t *testing.T) *Provider {
	t.Helper()
	provider, err := NewProvider(context.Background(), []byte(blueprintDocument))
	if err != nil {
		t.Fatalf("load provider: %v", err)
	}
	return provider
}

func TestProviderMetadata(t *testing.T) {
	provider := loadProvider(t)

	meta, err := provider.Metadata(context.Background(), "ItemBlueprint")
	if err != nil {
		t.Fatalf("metadata: %v", err)
	}
	if meta.EntityTypeName != "ItemBlueprint" {
		t.Fatalf("entity type = %q", meta.EntityTypeName)
	}

	fields := make(map[string]bool, len(meta.Fields))
	for _, field := range meta.Fields {
		fields[field.FieldName] = true
		switch field.FieldName {
		case "name":
			if field.FieldType != "String" || field.IsNullable {
				t.Fatalf("name field = %+v", field)
			}
		case "durability":
			if !field.HasDefaultValue {
				t.Fatalf("durability should carry its schema default, got %+v", field)
			}
		case "createdAt":
			if field.FieldType != "DateTime" {
				t.Fatalf("createdAt type = %q", field.FieldType)
			}
		case "townId":
			if !field.IsRelatedEntity || field.RelatedEntityType != "Town" {
				t.Fatalf("townId relationship = %+v", field)
			}
		}
	}
	for _, name := range []string{"name", "durability", "createdAt", "townId"} {
		if !fields[name] {
			t.Fatalf("field %q missing from metadata", name)
		}
	}
}

func TestProviderRelationshipKeyVariants(t *testing.T) {
	provider := loadProvider(t)

	meta, err := provider.Metadata(context.Background(), "ItemBlueprintEnchantment")
	if err != nil {
		t.Fatalf("metadata: %v", err)
	}
	fk, err := meta.JoinForeignKey("ItemBlueprint")
	if err != nil {
		t.Fatalf("join foreign key: %v", err)
	}
	if fk.FieldName != "enchantmentDefinitionId" || fk.RelatedEntityType != "EnchantmentDefinition" {
		t.Fatalf("join foreign key = %+v", fk)
	}
}

func TestProviderCaseInsensitiveLookup(t *testing.T) {
	provider := loadProvider(t)
	if _, err := provider.Metadata(context.Background(), "itemblueprint"); err != nil {
		t.Fatalf("case-insensitive lookup: %v", err)
	}
}

func TestProviderUnknownType(t *testing.T) {
	provider := loadProvider(t)
	if _, err := provider.Metadata(context.Background(), "Dragon"); err == nil {
		t.Fatal("expected an error for an undeclared entity type")
	}
}

func TestProviderRejectsEmptyDocument(t *testing.T) {
	if _, err := NewProvider(context.Background(), nil); err == nil {
		t.Fatal("expected an error for an empty payload")
	}
}
