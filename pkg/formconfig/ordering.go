package formconfig

import (
	"encoding/json"
	"strings"
)

// ReconcileOrder resolves a serialized ordered list of stable identifiers
// against an unordered collection. Items are emitted in list order, skipping
// identifiers with no match; items the list never mentions are appended in
// stored order. The result is always a permutation of items: nothing is
// dropped or duplicated no matter how stale or corrupt the order list is. An
// empty or unparsable list yields the items in stored order.
func ReconcileOrder[T any](items []T, orderJSON string, id func(T) string) []T {
	out := make([]T, 0, len(items))
	order := parseOrderList(orderJSON)
	if len(order) == 0 {
		return append(out, items...)
	}

	byID := make(map[string]int, len(items))
	for i, item := range items {
		byID[id(item)] = i
	}

	emitted := make(map[int]bool, len(items))
	for _, ref := range order {
		idx, ok := byID[ref]
		if !ok || emitted[idx] {
			continue
		}
		emitted[idx] = true
		out = append(out, items[idx])
	}
	for i, item := range items {
		if !emitted[i] {
			out = append(out, item)
		}
	}
	return out
}

func parseOrderList(raw string) []string {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return nil
	}
	var refs []string
	if err := json.Unmarshal([]byte(trimmed), &refs); err != nil {
		return nil
	}
	return refs
}

// OrderedFields returns the step's fields in display order per the step's
// FieldOrderJSON, with unreferenced fields appended in declaration order.
func (s FormStep) OrderedFields() []FormField {
	return ReconcileOrder(s.Fields, s.FieldOrderJSON, func(f FormField) string { return f.ID })
}
