// Package stepdata holds the working data records of a wizard session and the
// normalizer that guarantees every declared field has an explicit value in
// them. Downstream consumers (conditions, validation, submission) rely on
// keys never being silently absent.
package stepdata

import (
	"encoding/json"
	"fmt"

	"github.com/PandiO/knk-form-engine/pkg/formconfig"
)

// StepData maps field name to value for a single step.
type StepData map[string]any

// AllStepsData maps step index to that step's data record.
type AllStepsData map[int]StepData

// Clone returns a shallow copy of the record.
func (d StepData) Clone() StepData {
	if d == nil {
		return nil
	}
	out := make(StepData, len(d))
	for k, v := range d {
		out[k] = v
	}
	return out
}

// Clone returns a copy with per-step records cloned one level deep.
func (a AllStepsData) Clone() AllStepsData {
	if a == nil {
		return nil
	}
	out := make(AllStepsData, len(a))
	for i, step := range a {
		out[i] = step.Clone()
	}
	return out
}

// NormalizeStep returns a record in which every field the step declares has a
// key: the partial value when present, else the field default, else nil. Keys
// in partial that the step does not declare are preserved so UI-side bag
// entries survive rehydration. NormalizeStep never mutates partial.
func NormalizeStep(step formconfig.FormStep, partial StepData) StepData {
	out := make(StepData, len(step.Fields)+len(partial))
	for _, field := range step.Fields {
		value, ok := partial[field.FieldName]
		switch {
		case ok:
			out[field.FieldName] = value
		case field.HasDefault():
			out[field.FieldName] = field.DefaultValue
		default:
			out[field.FieldName] = nil
		}
	}
	for key, value := range partial {
		if _, ok := out[key]; !ok {
			out[key] = value
		}
	}
	return out
}

// NormalizeAll applies NormalizeStep to every step of the configuration, so a
// fresh session and a rehydrated partial snapshot produce records of the same
// shape.
func NormalizeAll(cfg formconfig.FormConfiguration, partial AllStepsData) AllStepsData {
	out := make(AllStepsData, len(cfg.Steps))
	for i, step := range cfg.Steps {
		out[i] = NormalizeStep(step, partial[i])
	}
	return out
}

// Flatten merges every step record into a single field-name keyed map, in
// step order. Later steps win on (unusual) duplicate field names.
func Flatten(cfg formconfig.FormConfiguration, all AllStepsData) map[string]any {
	out := make(map[string]any)
	for i := range cfg.Steps {
		for key, value := range all[i] {
			out[key] = value
		}
	}
	return out
}

// MarshalSnapshot serializes an all-steps snapshot for persistence.
func MarshalSnapshot(all AllStepsData) ([]byte, error) {
	data, err := json.Marshal(all)
	if err != nil {
		return nil, fmt.Errorf("stepdata: marshal snapshot: %w", err)
	}
	return data, nil
}

// UnmarshalSnapshot restores a persisted all-steps snapshot. Empty input
// yields an empty snapshot rather than an error so a freshly created progress
// row rehydrates cleanly.
func UnmarshalSnapshot(raw []byte) (AllStepsData, error) {
	if len(raw) == 0 {
		return AllStepsData{}, nil
	}
	var out AllStepsData
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("stepdata: unmarshal snapshot: %w", err)
	}
	return out, nil
}
