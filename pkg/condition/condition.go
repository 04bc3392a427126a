// Package condition evaluates the serialized boolean conditions a form
// configuration attaches to fields (visibility) and steps (entry/completion).
// Condition documents are JSON and are parsed once, at configuration load,
// into a small tagged AST; evaluation then runs against the current step's
// data with fallback lookup across the full multi-step snapshot.
//
// Malformed or empty documents evaluate as visible/met. That fail-open policy
// is deliberate: corrupt configuration data must never hide required UI.
package condition

import (
	"log/slog"
	"strings"

	"github.com/PandiO/knk-form-engine/pkg/stepdata"
)

// Rule is a parsed condition document ready for repeated evaluation.
type Rule struct {
	root node
}

// Parse decodes a condition document into a Rule. An empty document parses to
// a rule that always evaluates true. Parse errors are load-time diagnostics;
// callers that evaluate raw documents directly get fail-open behavior from
// Visible and Met instead.
func Parse(raw string) (*Rule, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return &Rule{}, nil
	}
	root, err := decodeNode([]byte(trimmed))
	if err != nil {
		return nil, err
	}
	return &Rule{root: root}, nil
}

// Eval evaluates the rule against the current step's record, consulting the
// full snapshot for fields the current step does not carry.
func (r *Rule) Eval(current stepdata.StepData, all stepdata.AllStepsData) bool {
	if r == nil || r.root == nil {
		return true
	}
	return r.root.eval(scope{current: current, all: all})
}

// Visible reports whether a field guarded by the given raw condition document
// should be shown. Unparsable documents leave the field visible.
func Visible(raw string, current stepdata.StepData, all stepdata.AllStepsData) bool {
	return evalFailOpen(raw, current, all)
}

// Met reports whether a step-level condition holds. Unparsable documents
// count as met.
func Met(raw string, current stepdata.StepData, all stepdata.AllStepsData) bool {
	return evalFailOpen(raw, current, all)
}

func evalFailOpen(raw string, current stepdata.StepData, all stepdata.AllStepsData) bool {
	rule, err := Parse(raw)
	if err != nil {
		slog.Debug("condition: unparsable document treated as met", "error", err)
		return true
	}
	return rule.Eval(current, all)
}

// scope carries the data a node evaluates against.
type scope struct {
	current stepdata.StepData
	all     stepdata.AllStepsData
}

// lookup resolves a dot-delimited field path: the head segment against the
// current step first, then against every step of the snapshot in index order;
// remaining segments traverse nested values.
func (s scope) lookup(path string) (any, bool) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, false
	}
	head, rest, _ := strings.Cut(path, ".")

	if value, ok := s.current[head]; ok {
		return descend(value, rest)
	}
	for i := 0; i < len(s.all); i++ {
		if value, ok := s.all[i][head]; ok {
			return descend(value, rest)
		}
	}
	return nil, false
}

func descend(value any, path string) (any, bool) {
	if path == "" {
		return value, true
	}
	for _, part := range strings.Split(path, ".") {
		typed, ok := value.(map[string]any)
		if !ok {
			return nil, false
		}
		next, ok := typed[part]
		if !ok {
			return nil, false
		}
		value = next
	}
	return value, true
}
