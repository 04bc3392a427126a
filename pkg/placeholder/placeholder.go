// Package placeholder extracts {Token} placeholders from rule messages and
// resolves them against form context, optionally navigating nested related
// entity values. Resolution is fail-soft: a path that cannot be walked yields
// nil and the message degrades to its raw token instead of erroring.
package placeholder

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/PandiO/knk-form-engine/pkg/formconfig"
	"github.com/PandiO/knk-form-engine/pkg/stepdata"
)

// Extract returns the inner text of every {Name} token in order of
// appearance. Duplicates are preserved positionally.
func Extract(template string) []string {
	var names []string
	for i := 0; i < len(template); {
		open := strings.IndexByte(template[i:], '{')
		if open < 0 {
			break
		}
		open += i
		close := strings.IndexByte(template[open:], '}')
		if close < 0 {
			break
		}
		close += open
		name := template[open+1 : close]
		if strings.TrimSpace(name) != "" {
			names = append(names, name)
		}
		i = close + 1
	}
	return names
}

// BuildContext produces the layer-0 placeholder map: every non-nil field
// value across every step, stringified, keyed by field name.
func BuildContext(cfg formconfig.FormConfiguration, all stepdata.AllStepsData) map[string]string {
	out := make(map[string]string)
	for i, step := range cfg.Steps {
		record := all[i]
		for _, field := range step.Fields {
			value, ok := record[field.FieldName]
			if !ok || value == nil {
				continue
			}
			out[field.FieldName] = stringify(value)
		}
	}
	return out
}

// ResolveDependencyPath returns the root field's raw value when path is
// empty, or navigates the value's nested properties one dot-delimited segment
// at a time. Lookup tries the exact key first and falls back to
// case-insensitive matching (backend and frontend disagree on casing
// conventions for navigated entities). Navigation that hits a non-object or a
// missing key returns nil rather than failing.
func ResolveDependencyPath(context map[string]any, rootField, path string) any {
	root, ok := lookupKey(context, rootField)
	if !ok {
		slog.Debug("placeholder: dependency root not found", "field", rootField)
		return nil
	}
	if strings.TrimSpace(path) == "" {
		return root
	}

	current := root
	for _, segment := range strings.Split(path, ".") {
		typed, ok := asObject(current)
		if !ok {
			slog.Debug("placeholder: dependency path hit non-object value",
				"field", rootField, "path", path, "segment", segment)
			return nil
		}
		next, ok := lookupKey(typed, segment)
		if !ok {
			slog.Debug("placeholder: dependency path segment not found",
				"field", rootField, "path", path, "segment", segment)
			return nil
		}
		current = next
	}
	return current
}

// Interpolate replaces each {Name} token with its resolved value using plain
// sequential substring replacement. Values containing brace characters are
// not re-parsed; they are display strings, not templates.
func Interpolate(message string, placeholders map[string]string) string {
	if message == "" || len(placeholders) == 0 {
		return message
	}
	out := message
	for name, value := range placeholders {
		out = strings.ReplaceAll(out, "{"+name+"}", value)
	}
	return out
}

func lookupKey(values map[string]any, key string) (any, bool) {
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

func asObject(value any) (map[string]any, bool) {
	switch typed := value.(type) {
	case map[string]any:
		return typed, true
	case stepdata.StepData:
		return typed, true
	default:
		return nil, false
	}
}

func stringify(value any) string {
	switch v := value.(type) {
	case string:
		return v
	case float64:
		// Trim the ".0" JSON round-tripping adds to whole numbers.
		if v == float64(int64(v)) {
			return fmt.Sprintf("%d", int64(v))
		}
		return fmt.Sprint(v)
	default:
		return fmt.Sprint(v)
	}
}
