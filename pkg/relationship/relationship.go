// Package relationship manages the join records of a many-to-many wizard
// step: selecting related entities, editing the extra fields each join record
// carries, and merging nested child-session state back into the list on
// resume.
package relationship

import (
	"errors"
	"fmt"
	"strings"

	"github.com/PandiO/knk-form-engine/pkg/formconfig"
)

// Well-known entry keys. RelatedEntity and ChildProgressID are transient UI
// state; the submission normalizer strips them.
const (
	KeyRelatedEntityID = "relatedEntityId"
	KeyRelatedEntity   = "relatedEntity"
	KeyChildProgressID = "__childProgressId"
)

// Entry is one join record: the selected related entity id, optional display
// data, the extra fields declared by the step's join-field template, and an
// optional back-reference to a nested child session.
type Entry map[string]any

// RelatedEntityID returns the entry's related entity identifier.
func (e Entry) RelatedEntityID() any { return e[KeyRelatedEntityID] }

// ChildProgressID returns the nested session id recorded on the entry.
func (e Entry) ChildProgressID() string {
	id, _ := e[KeyChildProgressID].(string)
	return id
}

// Clone returns a shallow copy of the entry.
func (e Entry) Clone() Entry {
	out := make(Entry, len(e))
	for k, v := range e {
		out[k] = v
	}
	return out
}

// Editor owns the relationship list of one many-to-many step.
type Editor struct {
	step    formconfig.FormStep
	entries []Entry
}

// NewEditor builds an editor for a relationship step, rehydrating any
// existing entries (for example from a persisted snapshot).
func NewEditor(step formconfig.FormStep, existing []Entry) (*Editor, error) {
	if !step.IsManyToManyRelationship {
		return nil, fmt.Errorf("relationship: step %q is not a many-to-many step", step.StepName)
	}
	if step.JoinEntityType == "" {
		return nil, errors.New("relationship: step is missing joinEntityType")
	}
	ed := &Editor{step: step}
	for _, entry := range existing {
		ed.entries = append(ed.entries, entry.Clone())
	}
	return ed, nil
}

// Entries returns the current relationship list in selection order.
func (ed *Editor) Entries() []Entry {
	out := make([]Entry, 0, len(ed.entries))
	for _, entry := range ed.entries {
		out = append(out, entry.Clone())
	}
	return out
}

// Select appends a join record for every entity not already present, seeded
// with the join-field template defaults. Already-selected entities are left
// untouched.
func (ed *Editor) Select(entities ...map[string]any) {
	for _, ent := range entities {
		id, ok := EntityID(ent)
		if !ok {
			continue
		}
		if ed.find(id) != nil {
			continue
		}
		entry := ed.seedEntry()
		entry[KeyRelatedEntityID] = id
		entry[KeyRelatedEntity] = ent
		ed.entries = append(ed.entries, entry)
	}
}

// Remove deletes the join record for the given related entity id.
func (ed *Editor) Remove(relatedEntityID any) {
	for i, entry := range ed.entries {
		if sameID(entry.RelatedEntityID(), relatedEntityID) {
			ed.entries = append(ed.entries[:i], ed.entries[i+1:]...)
			return
		}
	}
}

// SetField writes an extra join field on an existing record.
func (ed *Editor) SetField(relatedEntityID any, field string, value any) error {
	entry := ed.find(relatedEntityID)
	if entry == nil {
		return fmt.Errorf("relationship: no entry for related entity %v", relatedEntityID)
	}
	(*entry)[field] = value
	return nil
}

// AttachChild records a completed nested session on the entry: its extra
// fields and the child progress id for later resume merging.
func (ed *Editor) AttachChild(relatedEntityID any, childProgressID string, fields map[string]any) error {
	entry := ed.find(relatedEntityID)
	if entry == nil {
		return fmt.Errorf("relationship: no entry for related entity %v", relatedEntityID)
	}
	applyJoinFields(entry, ed.step, fields)
	if childProgressID != "" {
		(*entry)[KeyChildProgressID] = childProgressID
	}
	return nil
}

func (ed *Editor) find(relatedEntityID any) *Entry {
	for i := range ed.entries {
		if sameID(ed.entries[i].RelatedEntityID(), relatedEntityID) {
			return &ed.entries[i]
		}
	}
	return nil
}

func (ed *Editor) seedEntry() Entry {
	entry := Entry{}
	for _, field := range ed.step.JoinFields() {
		if field.HasDefault() {
			entry[field.FieldName] = field.DefaultValue
		} else {
			entry[field.FieldName] = nil
		}
	}
	return entry
}

// applyJoinFields copies template-declared fields (plus the well-known keys)
// from a child data bag onto an entry, leaving unrelated child bookkeeping
// out of the join record.
func applyJoinFields(entry *Entry, step formconfig.FormStep, data map[string]any) {
	for _, field := range step.JoinFields() {
		if value, ok := lookupFold(data, field.FieldName); ok {
			(*entry)[field.FieldName] = value
		}
	}
	if value, ok := lookupFold(data, KeyRelatedEntity); ok {
		(*entry)[KeyRelatedEntity] = value
	}
}

// EntriesFromValue coerces a snapshot value (as stored in step data, possibly
// round-tripped through JSON) back into a relationship list.
func EntriesFromValue(value any) []Entry {
	switch typed := value.(type) {
	case []Entry:
		return typed
	case []any:
		out := make([]Entry, 0, len(typed))
		for _, item := range typed {
			switch m := item.(type) {
			case map[string]any:
				out = append(out, Entry(m))
			case Entry:
				out = append(out, m)
			}
		}
		return out
	case []map[string]any:
		out := make([]Entry, 0, len(typed))
		for _, m := range typed {
			out = append(out, Entry(m))
		}
		return out
	default:
		return nil
	}
}

// EntityID extracts the identifier of an entity-shaped map, trying "id" with
// case-insensitive fallback.
func EntityID(ent map[string]any) (any, bool) {
	value, ok := lookupFold(ent, "id")
	if !ok || value == nil {
		return nil, false
	}
	return value, true
}

func lookupFold(values map[string]any, key string) (any, bool) {
	if value, ok := values[key]; ok {
		return value, true
	}
	for candidate, value := range values {
		if strings.EqualFold(candidate, key) {
			return value, true
		}
	}
	return nil, false
}

// sameID compares identifiers across the numeric and string representations
// JSON snapshots produce for the same id.
func sameID(a, b any) bool {
	if a == nil || b == nil {
		return false
	}
	return idString(a) == idString(b)
}

func idString(v any) string {
	switch typed := v.(type) {
	case string:
		return typed
	case float64:
		if typed == float64(int64(typed)) {
			return fmt.Sprintf("%d", int64(typed))
		}
		return fmt.Sprint(typed)
	default:
		return fmt.Sprint(typed)
	}
}
