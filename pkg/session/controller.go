package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"strings"

	"github.com/PandiO/knk-form-engine/pkg/condition"
	"github.com/PandiO/knk-form-engine/pkg/entity"
	"github.com/PandiO/knk-form-engine/pkg/formconfig"
	"github.com/PandiO/knk-form-engine/pkg/relationship"
	"github.com/PandiO/knk-form-engine/pkg/stepdata"
	"github.com/PandiO/knk-form-engine/pkg/submission"
	"github.com/PandiO/knk-form-engine/pkg/validation"
)

var (
	// ErrNotActive is returned when an operation requires a started,
	// non-terminal session.
	ErrNotActive = errors.New("session: session is not active")
	// ErrFinalStep is returned by Advance on the last reachable step.
	ErrFinalStep = errors.New("session: already at the final step; submit instead")
	// ErrFirstStep is returned by Retreat on the first reachable step.
	ErrFirstStep = errors.New("session: already at the first step")
	// ErrNotRelationshipStep guards relationship operations on plain steps.
	ErrNotRelationshipStep = errors.New("session: current step is not a many-to-many relationship step")
	// ErrTerminalProgress is returned when resuming a completed or
	// abandoned progress snapshot.
	ErrTerminalProgress = errors.New("session: progress is in a terminal status")
)

// StepBlockedError reports why a step refused to advance (or submit).
type StepBlockedError struct {
	Reasons []string
}

func (e *StepBlockedError) Error() string {
	return "session: step blocked: " + strings.Join(e.Reasons, "; ")
}

// Option customises a Controller.
type Option func(*Controller)

// WithStore injects the progress persistence collaborator.
func WithStore(store Store) Option {
	return func(c *Controller) { c.store = store }
}

// WithMetadataProvider injects the entity metadata collaborator.
func WithMetadataProvider(provider entity.MetadataProvider) Option {
	return func(c *Controller) { c.metadata = provider }
}

// WithDataSource injects the entity read/write collaborator.
func WithDataSource(source entity.DataSource) Option {
	return func(c *Controller) { c.data = source }
}

// WithBrowser injects the paged related-entity browser.
func WithBrowser(browser entity.Browser) Option {
	return func(c *Controller) { c.browser = browser }
}

// WithConfigProvider injects the configuration provider used to resolve a
// relationship step's SubConfigurationID for nested child sessions.
func WithConfigProvider(provider formconfig.Provider) Option {
	return func(c *Controller) { c.configs = provider }
}

// WithValidationService injects the external validation execution service.
func WithValidationService(service validation.Service, options ...validation.Option) Option {
	return func(c *Controller) {
		c.validationSvc = service
		c.validationOpt = options
	}
}

// WithLogger injects a logger for persistence and validation diagnostics.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Controller) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithOnComplete registers a callback invoked after a successful submit with
// the normalized payload.
func WithOnComplete(fn func(context.Context, map[string]any)) Option {
	return func(c *Controller) { c.onComplete = fn }
}

type phase int

const (
	phaseInitializing phase = iota
	phaseActive
	phaseCompleted
	phaseAbandoned
)

// Controller owns all mutable state of one wizard session. Nested child
// sessions are independent Controllers communicating upward only through
// CompleteChild; nothing is shared between parent and child.
type Controller struct {
	cfg           formconfig.FormConfiguration
	store         Store
	metadata      entity.MetadataProvider
	data          entity.DataSource
	browser       entity.Browser
	configs       formconfig.Provider
	validationSvc validation.Service
	validationOpt []validation.Option
	logger        *slog.Logger
	onComplete    func(context.Context, map[string]any)

	validator  *validation.Orchestrator
	normalizer *submission.Normalizer

	phase            phase
	progressID       string
	parentProgressID string
	stepIndex        int
	all              stepdata.AllStepsData
	entityID         any
	editors          map[int]*relationship.Editor
	lastSaveErr      error
}

// New builds a Controller for the given configuration. A nil store defaults
// to an in-memory store; a nil validation service accepts every value.
func New(cfg formconfig.FormConfiguration, options ...Option) *Controller {
	c := &Controller{
		cfg:     cfg,
		logger:  slog.New(slog.NewTextHandler(io.Discard, nil)),
		editors: make(map[int]*relationship.Editor),
	}
	for _, opt := range options {
		if opt != nil {
			opt(c)
		}
	}
	if c.store == nil {
		c.store = NewMemoryStore()
	}
	if c.validationSvc == nil {
		c.validationSvc = validation.ServiceFunc(func(context.Context, validation.Request) (validation.Result, error) {
			return validation.Result{IsValid: true}, nil
		})
	}
	c.validator = validation.NewOrchestrator(cfg, c.validationSvc, c.validationOpt...)
	if c.metadata != nil {
		c.normalizer = submission.NewNormalizer(cfg, c.metadata)
	}
	return c
}

// StartOptions select between a fresh session, resuming a persisted progress,
// and edit mode over an existing entity.
type StartOptions struct {
	// ResumeProgressID rehydrates a persisted session.
	ResumeProgressID string
	// EntityID enables edit mode: the entity is fetched and pre-populates
	// step data, and the final payload carries the id.
	EntityID any
}

// Start moves the session from Initializing to Active, either fresh, resumed,
// or pre-populated for editing.
func (c *Controller) Start(ctx context.Context, opts StartOptions) error {
	if c.phase != phaseInitializing {
		return errors.New("session: already started")
	}
	if len(c.cfg.Steps) == 0 {
		return errors.New("session: configuration has no steps")
	}

	if opts.ResumeProgressID != "" {
		if err := c.resume(ctx, opts.ResumeProgressID); err != nil {
			return err
		}
		c.validator.BindEntity(c.entityID)
		c.phase = phaseActive
		return nil
	}

	partial := stepdata.AllStepsData{}
	if opts.EntityID != nil {
		seeded, err := c.prepopulate(ctx, opts.EntityID)
		if err != nil {
			return err
		}
		partial = seeded
		c.entityID = opts.EntityID
		c.validator.BindEntity(opts.EntityID)
	}
	c.all = stepdata.NormalizeAll(c.cfg, partial)
	c.stepIndex = c.firstEnterable()
	c.phase = phaseActive
	return nil
}

func (c *Controller) resume(ctx context.Context, progressID string) error {
	progress, err := c.store.GetByID(ctx, progressID)
	if err != nil {
		return fmt.Errorf("session: load progress: %w", err)
	}
	if progress.Status.Terminal() {
		return ErrTerminalProgress
	}

	c.progressID = progress.ID
	c.parentProgressID = progress.ParentProgressID
	c.entityID = progress.EntityID
	c.all = progress.AllStepsData.Clone()
	if c.all == nil {
		c.all = stepdata.AllStepsData{}
	}

	// Merge child-session state into relationship lists before normalizing.
	snapshots := childSnapshots(progress.Children)
	for i, step := range c.cfg.Steps {
		if !step.IsManyToManyRelationship {
			continue
		}
		editor, err := c.editorFor(i)
		if err != nil {
			return err
		}
		editor.MergeChildProgresses(snapshots)
		c.storeEntries(i, editor)
	}

	c.all = stepdata.NormalizeAll(c.cfg, c.all)
	c.stepIndex = progress.CurrentStepIndex
	if _, ok := c.cfg.Step(c.stepIndex); !ok {
		c.stepIndex = c.firstEnterable()
	}
	return nil
}

func childSnapshots(children []*Progress) []relationship.ChildSnapshot {
	out := make([]relationship.ChildSnapshot, 0, len(children))
	for _, child := range children {
		if child == nil {
			continue
		}
		out = append(out, relationship.ChildSnapshot{
			ProgressID:     child.ID,
			JoinEntityType: child.EntityTypeName,
			Data:           flattenProgress(child),
		})
	}
	return out
}

// flattenProgress merges a progress snapshot's step records in index order
// without requiring the child's configuration.
func flattenProgress(progress *Progress) map[string]any {
	indices := make([]int, 0, len(progress.AllStepsData))
	for i := range progress.AllStepsData {
		indices = append(indices, i)
	}
	sort.Ints(indices)

	out := make(map[string]any)
	for _, i := range indices {
		for key, value := range progress.AllStepsData[i] {
			out[key] = value
		}
	}
	return out
}

func (c *Controller) prepopulate(ctx context.Context, entityID any) (stepdata.AllStepsData, error) {
	if c.data == nil {
		return nil, errors.New("session: edit mode requires a data source")
	}
	record, err := c.data.Fetch(ctx, c.cfg.EntityTypeName, entityID)
	if err != nil {
		return nil, fmt.Errorf("session: fetch entity %v: %w", entityID, err)
	}

	out := stepdata.AllStepsData{}
	for i, step := range c.cfg.Steps {
		partial := stepdata.StepData{}
		for _, field := range step.Fields {
			if value, ok := lookupFold(record, field.FieldName); ok {
				partial[field.FieldName] = value
			}
		}
		if step.IsManyToManyRelationship && step.RelatedEntityPropertyName != "" {
			if value, ok := lookupFold(record, step.RelatedEntityPropertyName); ok {
				partial[step.RelatedEntityPropertyName] = value
			}
		}
		out[i] = partial
	}
	return out, nil
}

func lookupFold(values map[string]any, key string) (any, bool) {
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

// Configuration returns the configuration the session runs.
func (c *Controller) Configuration() formconfig.FormConfiguration { return c.cfg }

// ProgressID returns the durable progress id, empty until the first save.
func (c *Controller) ProgressID() string { return c.progressID }

// CurrentStepIndex returns the zero-based index of the current step.
func (c *Controller) CurrentStepIndex() int { return c.stepIndex }

// LastSaveError exposes the most recent non-blocking persistence failure so
// callers can surface transient feedback.
func (c *Controller) LastSaveError() error { return c.lastSaveErr }

// CurrentStep returns the step the wizard currently shows.
func (c *Controller) CurrentStep() (formconfig.FormStep, bool) {
	return c.cfg.Step(c.stepIndex)
}

// Snapshot returns a copy of the accumulated all-steps data.
func (c *Controller) Snapshot() stepdata.AllStepsData { return c.all.Clone() }

// Flatten merges every step record into one field-name keyed map.
func (c *Controller) Flatten() map[string]any { return stepdata.Flatten(c.cfg, c.all) }

// VisibleFields returns the current step's fields in display order, filtered
// by their visibility conditions.
func (c *Controller) VisibleFields() []formconfig.FormField {
	step, ok := c.CurrentStep()
	if !ok {
		return nil
	}
	current := c.all[c.stepIndex]
	var out []formconfig.FormField
	for _, field := range step.OrderedFields() {
		if condition.Visible(field.DependencyConditionJSON, current, c.all) {
			out = append(out, field)
		}
	}
	return out
}

// SetField writes a field value on the current step and triggers debounced
// validation plus the dependency cascade.
func (c *Controller) SetField(ctx context.Context, fieldName string, value any) error {
	if c.phase != phaseActive {
		return ErrNotActive
	}
	step, ok := c.CurrentStep()
	if !ok {
		return fmt.Errorf("session: no step at index %d", c.stepIndex)
	}
	field, ok := step.FieldByName(fieldName)
	if !ok {
		return fmt.Errorf("session: step %q declares no field %q", step.StepName, fieldName)
	}

	if c.all[c.stepIndex] == nil {
		c.all[c.stepIndex] = stepdata.StepData{}
	}
	c.all[c.stepIndex][fieldName] = value
	c.validator.FieldChanged(ctx, field.ID, c.all)
	return nil
}

// FieldErrors returns blocking validation messages for the current step,
// keyed by field name.
func (c *Controller) FieldErrors() map[string]string {
	return c.validator.FieldErrors(c.stepIndex)
}

// FieldState reports a field's validation lifecycle state.
func (c *Controller) FieldState(fieldID string) validation.State {
	return c.validator.FieldState(fieldID)
}

// gate runs the synchronous validation pass and the advance gate for the
// current step, including its completion condition.
func (c *Controller) gate(ctx context.Context) error {
	c.validator.ValidateStep(ctx, c.stepIndex, c.all)
	gate := c.validator.CanAdvance(c.stepIndex, c.all)
	if !gate.OK {
		return &StepBlockedError{Reasons: gate.Reasons}
	}
	step, _ := c.CurrentStep()
	if cond, ok := step.Condition(formconfig.ConditionCompletion); ok {
		if !condition.Met(cond.ConditionJSON, c.all[c.stepIndex], c.all) {
			return &StepBlockedError{Reasons: []string{"step completion condition not met"}}
		}
	}
	return nil
}

// Advance validates the current step synchronously and, if the gate passes,
// moves to the next step whose entry condition is met. Validation results are
// cleared on the transition; the snapshot is persisted without blocking the
// user on persistence failures.
func (c *Controller) Advance(ctx context.Context) error {
	if c.phase != phaseActive {
		return ErrNotActive
	}
	if err := c.gate(ctx); err != nil {
		return err
	}

	next, ok := c.nextEnterable(c.stepIndex + 1)
	if !ok {
		return ErrFinalStep
	}
	c.stepIndex = next
	c.validator.Clear()
	c.persistSoft(ctx, StatusInProgress)
	return nil
}

// Retreat moves to the previous reachable step. No validation gate applies;
// results are cleared so nothing stale carries over.
func (c *Controller) Retreat(ctx context.Context) error {
	if c.phase != phaseActive {
		return ErrNotActive
	}
	prev, ok := c.prevEnterable(c.stepIndex - 1)
	if !ok {
		return ErrFirstStep
	}
	c.stepIndex = prev
	c.validator.Clear()
	c.persistSoft(ctx, StatusInProgress)
	return nil
}

// SaveDraft persists the current snapshot with status Paused. Unlike the
// saves piggybacking on step transitions, failures surface to the caller.
func (c *Controller) SaveDraft(ctx context.Context) error {
	if c.phase != phaseActive {
		return ErrNotActive
	}
	if err := c.persist(ctx, StatusPaused); err != nil {
		return fmt.Errorf("session: save draft: %w", err)
	}
	return nil
}

// Abandon marks the session terminally abandoned and persists that status.
func (c *Controller) Abandon(ctx context.Context) error {
	if c.phase != phaseActive {
		return ErrNotActive
	}
	if err := c.persist(ctx, StatusAbandoned); err != nil {
		return fmt.Errorf("session: abandon: %w", err)
	}
	c.phase = phaseAbandoned
	return nil
}

// Submit runs the final gate, normalizes the accumulated snapshot into the
// entity payload, hands it to the entity data source, and completes the
// session. Normalization or persistence failures leave the session Active so
// the user can fix data without losing progress.
func (c *Controller) Submit(ctx context.Context) (map[string]any, error) {
	if c.phase != phaseActive {
		return nil, ErrNotActive
	}
	if next, ok := c.nextEnterable(c.stepIndex + 1); ok {
		return nil, fmt.Errorf("session: step %d is not the final step (next is %d)", c.stepIndex, next)
	}
	if err := c.gate(ctx); err != nil {
		return nil, err
	}
	if c.normalizer == nil {
		return nil, errors.New("session: submit requires a metadata provider")
	}

	payload, err := c.normalizer.Normalize(ctx, c.Flatten(), submission.Options{EntityID: c.entityID})
	if err != nil {
		return nil, err
	}

	if c.data != nil {
		if c.entityID != nil {
			_, err = c.data.Update(ctx, c.cfg.EntityTypeName, c.entityID, payload)
		} else {
			_, err = c.data.Create(ctx, c.cfg.EntityTypeName, payload)
		}
		if err != nil {
			return nil, fmt.Errorf("session: submit entity: %w", err)
		}
	}

	if err := c.persist(ctx, StatusCompleted); err != nil {
		// The entity write already happened; completion is not rolled back
		// for a bookkeeping failure.
		c.logger.Warn("session: persisting completed status failed", "error", err)
	}
	c.phase = phaseCompleted
	if c.onComplete != nil {
		c.onComplete(ctx, payload)
	}
	return payload, nil
}

func (c *Controller) firstEnterable() int {
	if idx, ok := c.nextEnterable(0); ok {
		return idx
	}
	return 0
}

func (c *Controller) nextEnterable(from int) (int, bool) {
	for i := from; i < len(c.cfg.Steps); i++ {
		if c.enterable(i) {
			return i, true
		}
	}
	return 0, false
}

func (c *Controller) prevEnterable(from int) (int, bool) {
	for i := from; i >= 0; i-- {
		if c.enterable(i) {
			return i, true
		}
	}
	return 0, false
}

func (c *Controller) enterable(index int) bool {
	step, ok := c.cfg.Step(index)
	if !ok {
		return false
	}
	cond, ok := step.Condition(formconfig.ConditionEntry)
	if !ok {
		return true
	}
	return condition.Met(cond.ConditionJSON, c.all[index], c.all)
}

// persist writes the current snapshot with the given status, creating the
// progress row on first save.
func (c *Controller) persist(ctx context.Context, status Status) error {
	progress := &Progress{
		ID:                  c.progressID,
		FormConfigurationID: c.cfg.ID,
		EntityTypeName:      c.cfg.EntityTypeName,
		ParentProgressID:    c.parentProgressID,
		CurrentStepIndex:    c.stepIndex,
		CurrentStepData:     c.all[c.stepIndex].Clone(),
		AllStepsData:        c.all.Clone(),
		EntityID:            c.entityID,
		Status:              status,
	}
	var err error
	if c.progressID == "" {
		err = c.store.Create(ctx, progress)
	} else {
		err = c.store.Update(ctx, progress)
	}
	if err != nil {
		return err
	}
	c.progressID = progress.ID
	c.lastSaveErr = nil
	return nil
}

// persistSoft saves without failing the calling operation: in-memory state is
// authoritative and the user retries through a later save.
func (c *Controller) persistSoft(ctx context.Context, status Status) {
	if err := c.persist(ctx, status); err != nil {
		c.lastSaveErr = err
		c.logger.Warn("session: snapshot save failed", "status", status, "error", err)
	}
}
