package formconfig

import "strings"

// FieldType enumerates the value kinds a form field can carry.
type FieldType string

const (
	FieldTypeString   FieldType = "String"
	FieldTypeInteger  FieldType = "Integer"
	FieldTypeBoolean  FieldType = "Boolean"
	FieldTypeDateTime FieldType = "DateTime"
	FieldTypeDecimal  FieldType = "Decimal"
	FieldTypeEnum     FieldType = "Enum"
	FieldTypeObject   FieldType = "Object"
	FieldTypeList     FieldType = "List"

	// Domain-specific picker types. They behave like Object fields whose
	// related entity type is implied by the picker itself.
	FieldTypeTownPicker      FieldType = "TownPicker"
	FieldTypeDistrictPicker  FieldType = "DistrictPicker"
	FieldTypeBlueprintPicker FieldType = "BlueprintPicker"
)

// IsCollection reports whether values of this type are lists.
func (t FieldType) IsCollection() bool { return t == FieldTypeList }

// IsObject reports whether values of this type embed a related entity.
func (t FieldType) IsObject() bool {
	switch t {
	case FieldTypeObject, FieldTypeTownPicker, FieldTypeDistrictPicker, FieldTypeBlueprintPicker:
		return true
	default:
		return false
	}
}

// ConditionKind distinguishes the two step-level condition slots.
type ConditionKind string

const (
	ConditionEntry      ConditionKind = "Entry"
	ConditionCompletion ConditionKind = "Completion"
)

// StepCondition gates entering or completing a step. ConditionJSON holds a
// serialized condition document (see package condition); malformed or empty
// documents evaluate as met.
type StepCondition struct {
	Kind          ConditionKind `json:"kind" yaml:"kind"`
	ConditionJSON string        `json:"conditionJson" yaml:"conditionJson"`
}

// ValidationRule describes a single backend-executed validation attached to a
// field. ErrorMessage and SuccessMessage may contain {Placeholder} tokens
// resolved against form context at display time.
type ValidationRule struct {
	ID                       string `json:"id" yaml:"id"`
	FormFieldID              string `json:"formFieldId" yaml:"formFieldId"`
	ValidationType           string `json:"validationType" yaml:"validationType"`
	DependsOnFieldID         string `json:"dependsOnFieldId,omitempty" yaml:"dependsOnFieldId,omitempty"`
	DependencyPath           string `json:"dependencyPath,omitempty" yaml:"dependencyPath,omitempty"`
	ConfigJSON               string `json:"configJson,omitempty" yaml:"configJson,omitempty"`
	ErrorMessage             string `json:"errorMessage,omitempty" yaml:"errorMessage,omitempty"`
	SuccessMessage           string `json:"successMessage,omitempty" yaml:"successMessage,omitempty"`
	IsBlocking               bool   `json:"isBlocking" yaml:"isBlocking"`
	RequiresDependencyFilled bool   `json:"requiresDependencyFilled" yaml:"requiresDependencyFilled"`
}

// FormField models one input of a step. FieldName is the data key used in
// step data records and submission payloads.
type FormField struct {
	ID        string    `json:"id" yaml:"id"`
	FieldName string    `json:"fieldName" yaml:"fieldName"`
	FieldType FieldType `json:"fieldType" yaml:"fieldType"`

	// ElementType is required when FieldType is a collection.
	ElementType FieldType `json:"elementType,omitempty" yaml:"elementType,omitempty"`

	// ObjectType names the related entity when FieldType (or ElementType)
	// is Object.
	ObjectType string `json:"objectType,omitempty" yaml:"objectType,omitempty"`

	// DependencyConditionJSON controls field visibility. Malformed or empty
	// documents leave the field visible.
	DependencyConditionJSON string `json:"dependencyConditionJson,omitempty" yaml:"dependencyConditionJson,omitempty"`

	DefaultValue any  `json:"defaultValue,omitempty" yaml:"defaultValue,omitempty"`
	Required     bool `json:"required" yaml:"required"`

	// Reuse-template lineage. A field copied from a reusable template keeps
	// the source id; IsLinkedToSource marks fields that still track template
	// edits.
	SourceFieldID    string `json:"sourceFieldId,omitempty" yaml:"sourceFieldId,omitempty"`
	IsLinkedToSource bool   `json:"isLinkedToSource,omitempty" yaml:"isLinkedToSource,omitempty"`

	Validations []ValidationRule `json:"validations,omitempty" yaml:"validations,omitempty"`
}

// HasDefault reports whether the field declares an explicit default value.
func (f FormField) HasDefault() bool { return f.DefaultValue != nil }

// RelatedObjectType resolves the related entity type of an object-like field:
// the declared ObjectType when present, otherwise the type implied by a picker
// FieldType (TownPicker implies Town).
func (f FormField) RelatedObjectType() string {
	if f.ObjectType != "" {
		return f.ObjectType
	}
	if name, ok := strings.CutSuffix(string(f.FieldType), "Picker"); ok {
		return name
	}
	return ""
}

// FormStep is one page of the wizard: either a plain field group or a
// many-to-many relationship editor.
type FormStep struct {
	ID       string      `json:"id" yaml:"id"`
	StepName string      `json:"stepName" yaml:"stepName"`
	Fields   []FormField `json:"fields" yaml:"fields"`

	// FieldOrderJSON is a serialized list of field ids declaring display
	// order. Ids referenced here must belong to Fields; fields absent from
	// the list are appended in stored order, never dropped.
	FieldOrderJSON string `json:"fieldOrderJson,omitempty" yaml:"fieldOrderJson,omitempty"`

	Conditions []StepCondition `json:"conditions,omitempty" yaml:"conditions,omitempty"`

	// Many-to-many relationship attributes.
	IsManyToManyRelationship  bool   `json:"isManyToManyRelationship,omitempty" yaml:"isManyToManyRelationship,omitempty"`
	RelatedEntityPropertyName string `json:"relatedEntityPropertyName,omitempty" yaml:"relatedEntityPropertyName,omitempty"`
	JoinEntityType            string `json:"joinEntityType,omitempty" yaml:"joinEntityType,omitempty"`
	SubConfigurationID        string `json:"subConfigurationId,omitempty" yaml:"subConfigurationId,omitempty"`

	// ChildFormSteps template the extra fields carried by each join record
	// (or by a nested child-object form). Recursively uses FormStep so join
	// entry editors are themselves mini wizards.
	ChildFormSteps []FormStep `json:"childFormSteps,omitempty" yaml:"childFormSteps,omitempty"`
}

// Condition returns the step condition of the given kind, if declared.
func (s FormStep) Condition(kind ConditionKind) (StepCondition, bool) {
	for _, c := range s.Conditions {
		if c.Kind == kind {
			return c, true
		}
	}
	return StepCondition{}, false
}

// FieldByName returns the declared field with the given data key.
func (s FormStep) FieldByName(name string) (FormField, bool) {
	for _, f := range s.Fields {
		if f.FieldName == name {
			return f, true
		}
	}
	return FormField{}, false
}

// JoinFields flattens the child-step templates into the field list a join
// record editor presents. The related-entity selection itself is not part of
// the template; it is handled by the relationship editor.
func (s FormStep) JoinFields() []FormField {
	var out []FormField
	for _, child := range s.ChildFormSteps {
		out = append(out, child.Fields...)
	}
	return out
}

// FormConfiguration is the declarative description of a complete multi-step
// form for one entity type. Immutable during a wizard session.
type FormConfiguration struct {
	ID             string     `json:"id" yaml:"id"`
	EntityTypeName string     `json:"entityTypeName" yaml:"entityTypeName"`
	Steps          []FormStep `json:"steps" yaml:"steps"`
}

// Step returns the step at index, guarding against out-of-range indices from
// stale persisted progress.
func (c FormConfiguration) Step(index int) (FormStep, bool) {
	if index < 0 || index >= len(c.Steps) {
		return FormStep{}, false
	}
	return c.Steps[index], true
}
