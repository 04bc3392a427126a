package formconfig

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Issue is a load-time diagnostic about a configuration document. Issues do
// not prevent the engine from running the form; evaluation stays fail-open.
// Surfacing them at load turns malformed structure into an author-visible
// problem instead of a silent runtime pass-through.
type Issue struct {
	Step    string `json:"step,omitempty"`
	Field   string `json:"field,omitempty"`
	Message string `json:"message"`
}

func (i Issue) String() string {
	var b strings.Builder
	if i.Step != "" {
		fmt.Fprintf(&b, "step %q: ", i.Step)
	}
	if i.Field != "" {
		fmt.Fprintf(&b, "field %q: ", i.Field)
	}
	b.WriteString(i.Message)
	return b.String()
}

// Load decodes a configuration document. JSON is tried first; anything that
// is not valid JSON is treated as YAML. Rule and help messages are sanitized
// before the configuration is returned.
func Load(data []byte) (FormConfiguration, error) {
	var cfg FormConfiguration
	if err := json.Unmarshal(data, &cfg); err != nil {
		if yamlErr := yaml.Unmarshal(data, &cfg); yamlErr != nil {
			return FormConfiguration{}, fmt.Errorf("formconfig: decode document: %w", errors.Join(err, yamlErr))
		}
	}
	if cfg.EntityTypeName == "" {
		return FormConfiguration{}, errors.New("formconfig: configuration is missing entityTypeName")
	}
	sanitizeConfiguration(&cfg)
	return cfg, nil
}

// LoadFile reads and decodes a configuration document from disk.
func LoadFile(path string) (FormConfiguration, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return FormConfiguration{}, fmt.Errorf("formconfig: read %s: %w", filepath.Base(path), err)
	}
	return Load(data)
}

// LoadFS reads and decodes a configuration document from an fs.FS.
func LoadFS(fsys fs.FS, path string) (FormConfiguration, error) {
	data, err := fs.ReadFile(fsys, path)
	if err != nil {
		return FormConfiguration{}, fmt.Errorf("formconfig: read %s: %w", path, err)
	}
	return Load(data)
}

// Diagnose inspects a configuration for structural problems: missing element
// or object types, order lists referencing unknown field ids, unparsable
// order or condition documents, and relationship steps without a join entity
// type. The returned issues are advisories for configuration authors.
func Diagnose(cfg FormConfiguration) []Issue {
	var issues []Issue
	for _, step := range cfg.Steps {
		issues = append(issues, diagnoseStep(step)...)
	}
	return issues
}

func diagnoseStep(step FormStep) []Issue {
	var issues []Issue

	if raw := strings.TrimSpace(step.FieldOrderJSON); raw != "" {
		var refs []string
		if err := json.Unmarshal([]byte(raw), &refs); err != nil {
			issues = append(issues, Issue{Step: step.StepName, Message: "fieldOrderJson is not a JSON string list"})
		} else {
			known := make(map[string]bool, len(step.Fields))
			for _, f := range step.Fields {
				known[f.ID] = true
			}
			for _, ref := range refs {
				if !known[ref] {
					issues = append(issues, Issue{
						Step:    step.StepName,
						Message: fmt.Sprintf("fieldOrderJson references unknown field id %q", ref),
					})
				}
			}
		}
	}

	if step.IsManyToManyRelationship {
		if step.JoinEntityType == "" {
			issues = append(issues, Issue{Step: step.StepName, Message: "relationship step is missing joinEntityType"})
		}
		if step.RelatedEntityPropertyName == "" {
			issues = append(issues, Issue{Step: step.StepName, Message: "relationship step is missing relatedEntityPropertyName"})
		}
	}

	for _, field := range step.Fields {
		issues = append(issues, diagnoseField(step.StepName, field)...)
	}
	for _, child := range step.ChildFormSteps {
		issues = append(issues, diagnoseStep(child)...)
	}
	return issues
}

func diagnoseField(stepName string, field FormField) []Issue {
	var issues []Issue
	if field.FieldType.IsCollection() && field.ElementType == "" {
		issues = append(issues, Issue{Step: stepName, Field: field.FieldName, Message: "collection field is missing elementType"})
	}
	needsObjectType := field.FieldType == FieldTypeObject ||
		(field.FieldType.IsCollection() && field.ElementType == FieldTypeObject)
	if needsObjectType && field.ObjectType == "" {
		issues = append(issues, Issue{Step: stepName, Field: field.FieldName, Message: "object field is missing objectType"})
	}
	if raw := strings.TrimSpace(field.DependencyConditionJSON); raw != "" && !json.Valid([]byte(raw)) {
		issues = append(issues, Issue{Step: stepName, Field: field.FieldName, Message: "dependencyConditionJson is not valid JSON (field stays visible)"})
	}
	return issues
}
