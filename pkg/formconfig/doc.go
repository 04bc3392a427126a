// Package formconfig defines the declarative description of a multi-step
// data-entry form bound to a backend entity type: the configuration, its
// steps, the fields inside each step, and the validation rules attached to
// those fields. It also provides loading helpers (JSON and YAML documents)
// and the ordering reconciler that resolves a declared field order against
// the fields a step actually carries.
package formconfig
