package session

import (
	"context"
	"fmt"

	"github.com/PandiO/knk-form-engine/pkg/entity"
	"github.com/PandiO/knk-form-engine/pkg/formconfig"
	"github.com/PandiO/knk-form-engine/pkg/relationship"
	"github.com/PandiO/knk-form-engine/pkg/stepdata"
)

// editorFor lazily builds the relationship editor for a many-to-many step,
// rehydrating entries already present in the step record.
func (c *Controller) editorFor(stepIndex int) (*relationship.Editor, error) {
	if editor, ok := c.editors[stepIndex]; ok {
		return editor, nil
	}
	step, ok := c.cfg.Step(stepIndex)
	if !ok || !step.IsManyToManyRelationship {
		return nil, ErrNotRelationshipStep
	}
	existing := relationship.EntriesFromValue(c.all[stepIndex][step.RelatedEntityPropertyName])
	editor, err := relationship.NewEditor(step, existing)
	if err != nil {
		return nil, err
	}
	c.editors[stepIndex] = editor
	return editor, nil
}

// storeEntries mirrors the editor's list back into the step record so every
// snapshot save carries the relationship state.
func (c *Controller) storeEntries(stepIndex int, editor *relationship.Editor) {
	step, ok := c.cfg.Step(stepIndex)
	if !ok || step.RelatedEntityPropertyName == "" {
		return
	}
	entries := editor.Entries()
	list := make([]any, 0, len(entries))
	for _, entry := range entries {
		list = append(list, map[string]any(entry))
	}
	if c.all == nil {
		c.all = stepdata.AllStepsData{}
	}
	if c.all[stepIndex] == nil {
		c.all[stepIndex] = stepdata.StepData{}
	}
	c.all[stepIndex][step.RelatedEntityPropertyName] = list
}

// RelationshipEntries returns the current step's join records.
func (c *Controller) RelationshipEntries() ([]relationship.Entry, error) {
	editor, err := c.editorFor(c.stepIndex)
	if err != nil {
		return nil, err
	}
	return editor.Entries(), nil
}

// BrowseRelated pages through the entities selectable on the current
// relationship step. The selectable type is derived from the join entity's
// metadata.
func (c *Controller) BrowseRelated(ctx context.Context, offset, limit int) (entity.Page, error) {
	if c.browser == nil {
		return entity.Page{}, fmt.Errorf("session: no entity browser configured")
	}
	relatedType, err := c.relatedEntityType(ctx, c.stepIndex)
	if err != nil {
		return entity.Page{}, err
	}
	return c.browser.Browse(ctx, relatedType, offset, limit)
}

func (c *Controller) relatedEntityType(ctx context.Context, stepIndex int) (string, error) {
	step, ok := c.cfg.Step(stepIndex)
	if !ok || !step.IsManyToManyRelationship {
		return "", ErrNotRelationshipStep
	}
	if c.metadata == nil {
		return "", fmt.Errorf("session: browsing requires a metadata provider")
	}
	joinMeta, err := c.metadata.Metadata(ctx, step.JoinEntityType)
	if err != nil {
		return "", fmt.Errorf("session: metadata for join type %q: %w", step.JoinEntityType, err)
	}
	fk, err := joinMeta.JoinForeignKey(c.cfg.EntityTypeName)
	if err != nil {
		return "", err
	}
	return fk.RelatedEntityType, nil
}

// SelectRelated adds join records for the given entities on the current
// relationship step, seeded from the step's join-field template.
func (c *Controller) SelectRelated(entities ...map[string]any) error {
	if c.phase != phaseActive {
		return ErrNotActive
	}
	editor, err := c.editorFor(c.stepIndex)
	if err != nil {
		return err
	}
	editor.Select(entities...)
	c.storeEntries(c.stepIndex, editor)
	return nil
}

// RemoveRelated deletes the join record for a related entity id.
func (c *Controller) RemoveRelated(relatedEntityID any) error {
	if c.phase != phaseActive {
		return ErrNotActive
	}
	editor, err := c.editorFor(c.stepIndex)
	if err != nil {
		return err
	}
	editor.Remove(relatedEntityID)
	c.storeEntries(c.stepIndex, editor)
	return nil
}

// SetJoinField edits one extra field of an existing join record.
func (c *Controller) SetJoinField(relatedEntityID any, field string, value any) error {
	if c.phase != phaseActive {
		return ErrNotActive
	}
	editor, err := c.editorFor(c.stepIndex)
	if err != nil {
		return err
	}
	if err := editor.SetField(relatedEntityID, field, value); err != nil {
		return err
	}
	c.storeEntries(c.stepIndex, editor)
	return nil
}

// OpenChild spawns a nested wizard session editing the join record of the
// given related entity. The child runs its own configuration (the step's
// SubConfigurationID when declared, otherwise the inline child-step
// templates), owns an independent state copy, and links back to this session
// through its parent progress id.
func (c *Controller) OpenChild(ctx context.Context, relatedEntityID any) (*Controller, error) {
	if c.phase != phaseActive {
		return nil, ErrNotActive
	}
	step, ok := c.CurrentStep()
	if !ok || !step.IsManyToManyRelationship {
		return nil, ErrNotRelationshipStep
	}
	editor, err := c.editorFor(c.stepIndex)
	if err != nil {
		return nil, err
	}
	var seed relationship.Entry
	for _, entry := range editor.Entries() {
		if sameEntryID(entry.RelatedEntityID(), relatedEntityID) {
			seed = entry
			break
		}
	}
	if seed == nil {
		return nil, fmt.Errorf("session: no join entry for related entity %v", relatedEntityID)
	}

	childCfg, err := c.childConfiguration(ctx, step)
	if err != nil {
		return nil, err
	}

	// The child needs a parent id to link to; create the parent row now if
	// this session was never saved.
	if c.progressID == "" {
		if err := c.persist(ctx, StatusInProgress); err != nil {
			return nil, fmt.Errorf("session: persist parent before child session: %w", err)
		}
	}

	child := New(childCfg,
		WithStore(c.store),
		WithMetadataProvider(c.metadata),
		WithDataSource(c.data),
		WithConfigProvider(c.configs),
		WithValidationService(c.validationSvc, c.validationOpt...),
		WithLogger(c.logger),
	)
	child.parentProgressID = c.progressID
	if err := child.Start(ctx, StartOptions{}); err != nil {
		return nil, err
	}

	// Seed the child's records from the entry's current field values, and
	// carry the related entity id so resume merging can match the child
	// back to its entry.
	for i, childStep := range childCfg.Steps {
		for _, field := range childStep.Fields {
			if value, ok := seed[field.FieldName]; ok {
				child.all[i][field.FieldName] = value
			}
		}
	}
	child.all[0][relationship.KeyRelatedEntityID] = seed.RelatedEntityID()
	return child, nil
}

// CompleteChild finishes a child session opened with OpenChild: the child's
// final step is gated, its progress is persisted as Completed, and its
// flattened data is written back into the join entry together with the child
// progress id.
func (c *Controller) CompleteChild(ctx context.Context, relatedEntityID any, child *Controller) error {
	if c.phase != phaseActive {
		return ErrNotActive
	}
	if child == nil || child.parentProgressID == "" || child.parentProgressID != c.progressID {
		return fmt.Errorf("session: controller is not a child of this session")
	}
	editor, err := c.editorFor(c.stepIndex)
	if err != nil {
		return err
	}

	if next, ok := child.nextEnterable(child.stepIndex + 1); ok {
		return fmt.Errorf("session: child step %d is not the final step (next is %d)", child.stepIndex, next)
	}
	if err := child.gate(ctx); err != nil {
		return err
	}
	if err := child.persist(ctx, StatusCompleted); err != nil {
		return fmt.Errorf("session: persist child session: %w", err)
	}
	child.phase = phaseCompleted

	if err := editor.AttachChild(relatedEntityID, child.progressID, child.Flatten()); err != nil {
		return err
	}
	c.storeEntries(c.stepIndex, editor)
	c.persistSoft(ctx, StatusInProgress)
	return nil
}

func (c *Controller) childConfiguration(ctx context.Context, step formconfig.FormStep) (formconfig.FormConfiguration, error) {
	if step.SubConfigurationID != "" && c.configs != nil {
		cfg, err := c.configs.Configuration(ctx, formconfig.Ref{ID: step.SubConfigurationID})
		if err != nil {
			return formconfig.FormConfiguration{}, fmt.Errorf("session: load sub-configuration %q: %w", step.SubConfigurationID, err)
		}
		return cfg, nil
	}
	if len(step.ChildFormSteps) == 0 {
		return formconfig.FormConfiguration{}, fmt.Errorf("session: step %q declares no child form steps", step.StepName)
	}
	return formconfig.FormConfiguration{
		ID:             c.cfg.ID + "/" + step.StepName,
		EntityTypeName: step.JoinEntityType,
		Steps:          step.ChildFormSteps,
	}, nil
}

func sameEntryID(a, b any) bool {
	if a == nil || b == nil {
		return false
	}
	return fmt.Sprint(a) == fmt.Sprint(b)
}
