package relationship

import (
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/PandiO/knk-form-engine/pkg/formconfig"
)

func enchantmentStep() formconfig.FormStep {
	return formconfig.FormStep{
		StepName:                  "Enchantments",
		IsManyToManyRelationship:  true,
		RelatedEntityPropertyName: "defaultEnchantments",
		JoinEntityType:            "ItemBlueprintEnchantment",
		ChildFormSteps: []formconfig.FormStep{{
			StepName: "Details",
			Fields: []formconfig.FormField{
				{ID: "f-level", FieldName: "level", FieldType: formconfig.FieldTypeInteger, DefaultValue: 1},
				{ID: "f-note", FieldName: "note", FieldType: formconfig.FieldTypeString},
			},
		}},
	}
}

func TestNewEditorRejectsPlainStep(t *testing.T) {
	if _, err := NewEditor(formconfig.FormStep{StepName: "General"}, nil); err == nil {
		t.Fatal("expected error for non-relationship step")
	}
}

func TestSelectSeedsDefaultsAndDeduplicates(t *testing.T) {
	ed, err := NewEditor(enchantmentStep(), nil)
	if err != nil {
		t.Fatalf("new editor: %v", err)
	}

	sharpness := map[string]any{"Id": 3, "name": "Sharpness"}
	ed.Select(sharpness)
	ed.Select(sharpness) // second selection is a no-op
	ed.Select(map[string]any{"name": "no id, skipped"})

	entries := ed.Entries()
	if len(entries) != 1 {
		t.Fatalf("got %d entries, want 1", len(entries))
	}
	entry := entries[0]
	if !sameID(entry.RelatedEntityID(), 3) {
		t.Fatalf("relatedEntityId = %v, want 3", entry.RelatedEntityID())
	}
	if entry["level"] != 1 {
		t.Fatalf("level = %v, want template default 1", entry["level"])
	}
	if _, ok := entry["note"]; !ok {
		t.Fatal("template field without default should still have a key")
	}
	if entry[KeyRelatedEntity] == nil {
		t.Fatal("display entity should be kept on the entry")
	}
}

func TestSetFieldAndRemove(t *testing.T) {
	ed, _ := NewEditor(enchantmentStep(), nil)
	ed.Select(map[string]any{"id": 3})

	if err := ed.SetField(3, "level", 2); err != nil {
		t.Fatalf("set field: %v", err)
	}
	// Numeric id representation differences must not split entries.
	if err := ed.SetField(float64(3), "note", "fire aspect pairs well"); err != nil {
		t.Fatalf("set field float id: %v", err)
	}
	if err := ed.SetField(99, "level", 5); err == nil {
		t.Fatal("expected error for unknown entry")
	}

	entry := ed.Entries()[0]
	if entry["level"] != 2 || entry["note"] != "fire aspect pairs well" {
		t.Fatalf("unexpected entry state: %v", entry)
	}

	ed.Remove("3")
	if len(ed.Entries()) != 0 {
		t.Fatal("remove by string id should delete the entry")
	}
}

func TestMergeChildProgresses(t *testing.T) {
	ed, _ := NewEditor(enchantmentStep(), nil)
	ed.Select(map[string]any{"id": 3})
	if err := ed.AttachChild(3, "p1", map[string]any{"level": 2}); err != nil {
		t.Fatalf("attach child: %v", err)
	}

	children := []ChildSnapshot{
		// Matches the existing entry by child progress id: update in place.
		{ProgressID: "p1", JoinEntityType: "ItemBlueprintEnchantment", Data: map[string]any{"level": 4, "relatedEntityId": 3}},
		// No match, resolvable id: appended as a new entry.
		{ProgressID: "p2", JoinEntityType: "ItemBlueprintEnchantment", Data: map[string]any{"relatedEntityId": 7, "level": 1}},
		// Wrong join entity type: ignored.
		{ProgressID: "p3", JoinEntityType: "TownDistrict", Data: map[string]any{"relatedEntityId": 9}},
		// No resolvable related entity id: dropped.
		{ProgressID: "p4", JoinEntityType: "ItemBlueprintEnchantment", Data: map[string]any{"level": 9}},
	}

	ed.MergeChildProgresses(children)
	first := ed.Entries()

	if len(first) != 2 {
		t.Fatalf("got %d entries after merge, want 2", len(first))
	}
	if first[0]["level"] != 4 {
		t.Fatalf("matched entry level = %v, want updated 4", first[0]["level"])
	}
	if !sameID(first[1].RelatedEntityID(), 7) || first[1].ChildProgressID() != "p2" {
		t.Fatalf("appended entry malformed: %v", first[1])
	}

	// Idempotence: merging the same snapshots again changes nothing.
	ed.MergeChildProgresses(children)
	second := ed.Entries()
	if diff := cmp.Diff(first, second); diff != "" {
		t.Fatalf("merge is not idempotent (-first +second):\n%s", diff)
	}
}

func TestEntityID(t *testing.T) {
	if id, ok := EntityID(map[string]any{"ID": 5}); !ok || id != 5 {
		t.Fatalf("EntityID with upper key = %v %v", id, ok)
	}
	if _, ok := EntityID(map[string]any{"name": "x"}); ok {
		t.Fatal("missing id should not resolve")
	}
	if _, ok := EntityID(map[string]any{"id": nil}); ok {
		t.Fatal("nil id should not resolve")
	}
}
