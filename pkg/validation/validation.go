// Package validation executes per-field validation rules against an external
// validation service: debounced on value change, synchronous on step advance,
// cascading to dependent fields. Results are cached per field and cleared on
// step navigation so a stale result never blocks an unrelated step.
package validation

import "context"

// Request is the payload handed to the validation execution service for one
// rule run. FormContextData is the flattened record of every step, so rules
// can reach across steps.
type Request struct {
	FieldID         string         `json:"fieldId"`
	RuleID          string         `json:"ruleId,omitempty"`
	ValidationType  string         `json:"validationType,omitempty"`
	ConfigJSON      string         `json:"configJson,omitempty"`
	FieldValue      any            `json:"fieldValue"`
	DependencyValue any            `json:"dependencyValue,omitempty"`
	FormContextData map[string]any `json:"formContextData"`
}

// Result is the outcome of one rule run.
type Result struct {
	IsValid      bool              `json:"isValid"`
	IsBlocking   bool              `json:"isBlocking"`
	Message      string            `json:"message,omitempty"`
	Placeholders map[string]string `json:"placeholders,omitempty"`
}

// Service is the external validation execution collaborator.
type Service interface {
	ValidateField(ctx context.Context, req Request) (Result, error)
}

// ServiceFunc adapts a function into a Service.
type ServiceFunc func(ctx context.Context, req Request) (Result, error)

// ValidateField delegates to the underlying function.
func (fn ServiceFunc) ValidateField(ctx context.Context, req Request) (Result, error) {
	return fn(ctx, req)
}

// PlaceholderRequest asks the service for message tokens the form data alone
// cannot supply, such as attributes of a stored entity. Current holds the
// placeholders already resolved from form context.
type PlaceholderRequest struct {
	RuleID         string            `json:"ruleId,omitempty"`
	EntityTypeName string            `json:"entityTypeName"`
	EntityID       any               `json:"entityId,omitempty"`
	Current        map[string]string `json:"currentEntityPlaceholders,omitempty"`
}

// PlaceholderResult carries the values the service resolved and the token
// names it could not.
type PlaceholderResult struct {
	Resolved   map[string]string `json:"resolved"`
	Unresolved []string          `json:"unresolved,omitempty"`
}

// PlaceholderResolver is an optional extension of Service. When the validation
// service implements it, the orchestrator consults it for message tokens left
// unresolved after the form context pass. Resolution is fail-soft: a resolver
// error leaves the raw tokens in place.
type PlaceholderResolver interface {
	ResolvePlaceholders(ctx context.Context, req PlaceholderRequest) (PlaceholderResult, error)
}

// PlaceholderResolverFunc adapts a function into a PlaceholderResolver.
type PlaceholderResolverFunc func(ctx context.Context, req PlaceholderRequest) (PlaceholderResult, error)

// ResolvePlaceholders delegates to the underlying function.
func (fn PlaceholderResolverFunc) ResolvePlaceholders(ctx context.Context, req PlaceholderRequest) (PlaceholderResult, error) {
	return fn(ctx, req)
}

// State tracks where a field sits in its validation lifecycle.
type State int

const (
	StateIdle State = iota
	StatePending
	StateValid
	StateInvalid
)

func (s State) String() string {
	switch s {
	case StatePending:
		return "pending"
	case StateValid:
		return "valid"
	case StateInvalid:
		return "invalid"
	default:
		return "idle"
	}
}
