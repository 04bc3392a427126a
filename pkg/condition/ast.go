package condition

import (
	"encoding/json"
	"fmt"
	"strings"
)

type node interface {
	eval(s scope) bool
}

type nodeAll struct{ children []node }

func (n nodeAll) eval(s scope) bool {
	for _, child := range n.children {
		if !child.eval(s) {
			return false
		}
	}
	return true
}

type nodeAny struct{ children []node }

func (n nodeAny) eval(s scope) bool {
	for _, child := range n.children {
		if child.eval(s) {
			return true
		}
	}
	return len(n.children) == 0
}

type nodeNot struct{ inner node }

func (n nodeNot) eval(s scope) bool { return !n.inner.eval(s) }

type compareOp string

const (
	opEq       compareOp = "eq"
	opNeq      compareOp = "neq"
	opGt       compareOp = "gt"
	opGte      compareOp = "gte"
	opLt       compareOp = "lt"
	opLte      compareOp = "lte"
	opContains compareOp = "contains"
	opEmpty    compareOp = "empty"
	opNotEmpty compareOp = "notEmpty"
	opTruthy   compareOp = "truthy"
)

type nodeCompare struct {
	field string
	op    compareOp
	value any
}

func (n nodeCompare) eval(s scope) bool {
	got, _ := s.lookup(n.field)

	switch n.op {
	case opTruthy:
		return truthy(got)
	case opEmpty:
		return !truthy(got)
	case opNotEmpty:
		return truthy(got)
	case opEq, opNeq:
		equal := looselyEqual(got, n.value)
		if n.op == opEq {
			return equal
		}
		return !equal
	case opGt, opGte, opLt, opLte:
		left, okL := coerceNumber(got)
		right, okR := coerceNumber(n.value)
		if !okL || !okR {
			return false
		}
		switch n.op {
		case opGt:
			return left > right
		case opGte:
			return left >= right
		case opLt:
			return left < right
		default:
			return left <= right
		}
	case opContains:
		return contains(got, n.value)
	default:
		return false
	}
}

// rawNode mirrors the serialized shape of one condition document node.
type rawNode struct {
	All   []json.RawMessage `json:"all"`
	Any   []json.RawMessage `json:"any"`
	Not   json.RawMessage   `json:"not"`
	Field string            `json:"field"`
	Op    string            `json:"op"`
	Value any               `json:"value"`
}

func decodeNode(raw []byte) (node, error) {
	var doc rawNode
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("condition: decode node: %w", err)
	}

	switch {
	case len(doc.All) > 0:
		children, err := decodeChildren(doc.All)
		if err != nil {
			return nil, err
		}
		return nodeAll{children: children}, nil
	case len(doc.Any) > 0:
		children, err := decodeChildren(doc.Any)
		if err != nil {
			return nil, err
		}
		return nodeAny{children: children}, nil
	case len(doc.Not) > 0:
		inner, err := decodeNode(doc.Not)
		if err != nil {
			return nil, err
		}
		return nodeNot{inner: inner}, nil
	case strings.TrimSpace(doc.Field) != "":
		op, err := normalizeOp(doc.Op)
		if err != nil {
			return nil, err
		}
		return nodeCompare{field: strings.TrimSpace(doc.Field), op: op, value: doc.Value}, nil
	default:
		return nil, fmt.Errorf("condition: node declares no all/any/not/field")
	}
}

func decodeChildren(raws []json.RawMessage) ([]node, error) {
	children := make([]node, 0, len(raws))
	for _, raw := range raws {
		child, err := decodeNode(raw)
		if err != nil {
			return nil, err
		}
		children = append(children, child)
	}
	return children, nil
}

func normalizeOp(raw string) (compareOp, error) {
	switch strings.TrimSpace(strings.ToLower(raw)) {
	case "", "truthy":
		return opTruthy, nil
	case "eq", "==", "equals":
		return opEq, nil
	case "neq", "!=", "notequals":
		return opNeq, nil
	case "gt", ">":
		return opGt, nil
	case "gte", ">=":
		return opGte, nil
	case "lt", "<":
		return opLt, nil
	case "lte", "<=":
		return opLte, nil
	case "contains":
		return opContains, nil
	case "empty":
		return opEmpty, nil
	case "notempty":
		return opNotEmpty, nil
	default:
		return "", fmt.Errorf("condition: unknown operator %q", raw)
	}
}
