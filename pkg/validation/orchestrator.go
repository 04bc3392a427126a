package validation

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/PandiO/knk-form-engine/pkg/condition"
	"github.com/PandiO/knk-form-engine/pkg/formconfig"
	"github.com/PandiO/knk-form-engine/pkg/placeholder"
	"github.com/PandiO/knk-form-engine/pkg/stepdata"
)

const defaultDebounce = 300 * time.Millisecond

// Option customises the orchestrator configuration.
type Option func(*Orchestrator)

// WithDebounce overrides the change-triggered execution delay.
func WithDebounce(d time.Duration) Option {
	return func(o *Orchestrator) {
		if d > 0 {
			o.debounce = d
		}
	}
}

// WithLogger injects a logger for rule execution diagnostics.
func WithLogger(logger *slog.Logger) Option {
	return func(o *Orchestrator) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// Orchestrator owns the validation lifecycle for one wizard session. Change
// triggers are debounced per field with cancel-and-replace timers; a
// generation counter per field discards late results from superseded runs.
type Orchestrator struct {
	cfg      formconfig.FormConfiguration
	service  Service
	resolver PlaceholderResolver
	debounce time.Duration
	logger   *slog.Logger

	rules      map[string][]formconfig.ValidationRule // field id -> rules
	fieldNames map[string]string                      // field id -> data key
	dependents map[string][]string                    // field id -> dependent field ids

	mu       sync.Mutex
	entityID any
	timers   map[string]*time.Timer
	gens     map[string]uint64
	states   map[string]State
	results  map[string]Result
}

// NewOrchestrator indexes the configuration's rules and prepares the per-field
// tracking state.
func NewOrchestrator(cfg formconfig.FormConfiguration, service Service, options ...Option) *Orchestrator {
	o := &Orchestrator{
		cfg:      cfg,
		service:  service,
		debounce: defaultDebounce,
		logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),

		rules:      make(map[string][]formconfig.ValidationRule),
		fieldNames: make(map[string]string),
		dependents: make(map[string][]string),

		timers:  make(map[string]*time.Timer),
		gens:    make(map[string]uint64),
		states:  make(map[string]State),
		results: make(map[string]Result),
	}
	if resolver, ok := service.(PlaceholderResolver); ok {
		o.resolver = resolver
	}
	for _, opt := range options {
		if opt != nil {
			opt(o)
		}
	}
	o.indexRules()
	return o
}

// BindEntity records the id of the entity under edit so placeholder
// resolution can reference the stored record.
func (o *Orchestrator) BindEntity(id any) {
	o.mu.Lock()
	o.entityID = id
	o.mu.Unlock()
}

func (o *Orchestrator) indexRules() {
	for _, step := range o.cfg.Steps {
		for _, field := range step.Fields {
			o.fieldNames[field.ID] = field.FieldName
			if len(field.Validations) == 0 {
				continue
			}
			o.rules[field.ID] = field.Validations
			for _, rule := range field.Validations {
				if rule.DependsOnFieldID == "" {
					continue
				}
				o.dependents[rule.DependsOnFieldID] = append(o.dependents[rule.DependsOnFieldID], field.ID)
			}
		}
	}
}

// FieldChanged schedules a debounced run for the changed field's rules and
// re-triggers every field whose rules depend on it, all against a snapshot of
// the accumulated cross-step context taken now.
func (o *Orchestrator) FieldChanged(ctx context.Context, fieldID string, all stepdata.AllStepsData) {
	snapshot := all.Clone()
	if len(o.rules[fieldID]) > 0 {
		o.schedule(ctx, fieldID, snapshot)
	}
	for _, dependent := range o.dependents[fieldID] {
		o.schedule(ctx, dependent, snapshot)
	}
}

func (o *Orchestrator) schedule(ctx context.Context, fieldID string, all stepdata.AllStepsData) {
	o.mu.Lock()
	defer o.mu.Unlock()

	o.gens[fieldID]++
	gen := o.gens[fieldID]
	o.states[fieldID] = StatePending

	if timer, ok := o.timers[fieldID]; ok {
		timer.Stop()
	}
	o.timers[fieldID] = time.AfterFunc(o.debounce, func() {
		result, executed := o.runRules(ctx, fieldID, all)
		o.store(fieldID, gen, result, executed)
	})
}

// ValidateStep runs every rule-bearing field on the step immediately and in
// parallel, waiting for all results before returning.
func (o *Orchestrator) ValidateStep(ctx context.Context, stepIndex int, all stepdata.AllStepsData) {
	step, ok := o.cfg.Step(stepIndex)
	if !ok {
		return
	}
	snapshot := all.Clone()

	var wg sync.WaitGroup
	for _, field := range step.Fields {
		if len(o.rules[field.ID]) == 0 {
			continue
		}
		fieldID := field.ID

		o.mu.Lock()
		if timer, ok := o.timers[fieldID]; ok {
			timer.Stop()
			delete(o.timers, fieldID)
		}
		o.gens[fieldID]++
		gen := o.gens[fieldID]
		o.states[fieldID] = StatePending
		o.mu.Unlock()

		wg.Add(1)
		go func() {
			defer wg.Done()
			result, executed := o.runRules(ctx, fieldID, snapshot)
			o.store(fieldID, gen, result, executed)
		}()
	}
	wg.Wait()
}

// runRules executes every rule of a field in declaration order and folds the
// outcomes: a blocking failure wins, then any failure, then the last success.
// A service or transport error synthesizes a blocking failure so an
// unreachable check service cannot be bypassed. The second return is false
// when every rule was skipped (unfilled dependency), which clears the cached
// result instead of overwriting it.
func (o *Orchestrator) runRules(ctx context.Context, fieldID string, all stepdata.AllStepsData) (Result, bool) {
	flat := stepdata.Flatten(o.cfg, stepdata.NormalizeAll(o.cfg, all))
	fieldValue := flat[o.fieldNames[fieldID]]

	var (
		folded   Result
		executed bool
	)
	folded.IsValid = true

	for _, rule := range o.rules[fieldID] {
		dependencyValue := o.resolveDependency(flat, rule)
		if rule.RequiresDependencyFilled && isEmpty(dependencyValue) {
			continue
		}

		result, err := o.service.ValidateField(ctx, Request{
			FieldID:         fieldID,
			RuleID:          rule.ID,
			ValidationType:  rule.ValidationType,
			ConfigJSON:      rule.ConfigJSON,
			FieldValue:      fieldValue,
			DependencyValue: dependencyValue,
			FormContextData: flat,
		})
		if err != nil {
			o.logger.Warn("validation: rule execution failed",
				"field", o.fieldNames[fieldID], "rule", rule.ValidationType, "error", err)
			result = Result{
				IsValid:    false,
				IsBlocking: true,
				Message:    "Validation could not be executed. Please try again.",
			}
		} else {
			result.Message = o.interpolate(ctx, rule.ID, ruleMessage(rule, result), all, result.Placeholders)
		}

		executed = true
		folded = fold(folded, result)
	}
	return folded, executed
}

func ruleMessage(rule formconfig.ValidationRule, result Result) string {
	if result.Message != "" {
		return result.Message
	}
	if result.IsValid {
		return rule.SuccessMessage
	}
	return rule.ErrorMessage
}

func fold(acc, next Result) Result {
	switch {
	case !acc.IsValid && acc.IsBlocking:
		return acc
	case !next.IsValid && next.IsBlocking:
		return next
	case !acc.IsValid:
		return acc
	case !next.IsValid:
		return next
	default:
		return next
	}
}

func (o *Orchestrator) resolveDependency(flat map[string]any, rule formconfig.ValidationRule) any {
	if rule.DependsOnFieldID == "" {
		return nil
	}
	rootName, ok := o.fieldNames[rule.DependsOnFieldID]
	if !ok {
		return nil
	}
	return placeholder.ResolveDependencyPath(flat, rootName, rule.DependencyPath)
}

// interpolate resolves message tokens from form context first, then asks the
// service's placeholder resolver, when it has one, for whatever is still
// missing. A resolver failure degrades the message to its raw tokens.
func (o *Orchestrator) interpolate(ctx context.Context, ruleID, message string, all stepdata.AllStepsData, extra map[string]string) string {
	if message == "" {
		return ""
	}
	context := placeholder.BuildContext(o.cfg, stepdata.NormalizeAll(o.cfg, all))
	for name, value := range extra {
		context[name] = value
	}
	if o.resolver != nil && len(missingTokens(message, context)) > 0 {
		o.mu.Lock()
		entityID := o.entityID
		o.mu.Unlock()

		resolved, err := o.resolver.ResolvePlaceholders(ctx, PlaceholderRequest{
			RuleID:         ruleID,
			EntityTypeName: o.cfg.EntityTypeName,
			EntityID:       entityID,
			Current:        context,
		})
		if err != nil {
			o.logger.Warn("validation: placeholder resolution failed", "rule", ruleID, "error", err)
		}
		for name, value := range resolved.Resolved {
			if _, ok := context[name]; !ok {
				context[name] = value
			}
		}
	}
	return placeholder.Interpolate(message, context)
}

func missingTokens(message string, context map[string]string) []string {
	var missing []string
	seen := make(map[string]bool)
	for _, name := range placeholder.Extract(message) {
		if _, ok := context[name]; ok || seen[name] {
			continue
		}
		seen[name] = true
		missing = append(missing, name)
	}
	return missing
}

// store records a run's outcome unless a newer run for the field has been
// scheduled since, or results were cleared by step navigation.
func (o *Orchestrator) store(fieldID string, gen uint64, result Result, executed bool) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.gens[fieldID] != gen {
		return
	}
	if !executed {
		delete(o.results, fieldID)
		o.states[fieldID] = StateIdle
		return
	}
	o.results[fieldID] = result
	if result.IsValid {
		o.states[fieldID] = StateValid
	} else {
		o.states[fieldID] = StateInvalid
	}
}

// Result returns the cached result for a field, if one is present.
func (o *Orchestrator) Result(fieldID string) (Result, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	result, ok := o.results[fieldID]
	return result, ok
}

// FieldState reports the field's position in the validation lifecycle.
func (o *Orchestrator) FieldState(fieldID string) State {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.states[fieldID]
}

// FieldErrors returns the interpolated messages of blocking failures on the
// given step, keyed by field name.
func (o *Orchestrator) FieldErrors(stepIndex int) map[string]string {
	step, ok := o.cfg.Step(stepIndex)
	if !ok {
		return nil
	}
	o.mu.Lock()
	defer o.mu.Unlock()

	out := make(map[string]string)
	for _, field := range step.Fields {
		result, ok := o.results[field.ID]
		if ok && !result.IsValid && result.IsBlocking {
			out[field.FieldName] = result.Message
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

// Clear drops every cached result, pending state, and debounce timer. Called
// on step navigation; in-flight runs started before the clear are discarded
// on arrival via the generation bump.
func (o *Orchestrator) Clear() {
	o.mu.Lock()
	defer o.mu.Unlock()
	for fieldID, timer := range o.timers {
		timer.Stop()
		delete(o.timers, fieldID)
	}
	for fieldID := range o.gens {
		o.gens[fieldID]++
	}
	o.results = make(map[string]Result)
	o.states = make(map[string]State)
}

// Gate inspects a step and reports whether the wizard may advance past it:
// every visible required field must be filled and no visible field may carry
// a blocking failure or still be pending. Fields hidden by their visibility
// condition are exempt.
type Gate struct {
	OK      bool
	Reasons []string
}

// CanAdvance evaluates the step-advance gate against the current snapshot.
func (o *Orchestrator) CanAdvance(stepIndex int, all stepdata.AllStepsData) Gate {
	step, ok := o.cfg.Step(stepIndex)
	if !ok {
		return Gate{OK: false, Reasons: []string{"unknown step"}}
	}
	current := all[stepIndex]

	gate := Gate{OK: true}
	o.mu.Lock()
	defer o.mu.Unlock()

	for _, field := range step.OrderedFields() {
		if !condition.Visible(field.DependencyConditionJSON, current, all) {
			continue
		}
		if field.Required && isEmpty(current[field.FieldName]) {
			gate.OK = false
			gate.Reasons = append(gate.Reasons, field.FieldName+" is required")
			continue
		}
		if o.states[field.ID] == StatePending {
			gate.OK = false
			gate.Reasons = append(gate.Reasons, field.FieldName+" is still validating")
			continue
		}
		if result, ok := o.results[field.ID]; ok && !result.IsValid && result.IsBlocking {
			gate.OK = false
			reason := result.Message
			if reason == "" {
				reason = field.FieldName + " is invalid"
			}
			gate.Reasons = append(gate.Reasons, reason)
		}
	}
	return gate
}

func isEmpty(value any) bool {
	switch v := value.(type) {
	case nil:
		return true
	case string:
		return v == ""
	case []any:
		return len(v) == 0
	case map[string]any:
		return len(v) == 0
	default:
		return false
	}
}
