package tui

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/PandiO/knk-form-engine/pkg/formconfig"
	"github.com/PandiO/knk-form-engine/pkg/session"
)

const (
	actionContinue = "Continue"
	actionBack     = "Back"
	actionSave     = "Save draft and exit"
	actionAbandon  = "Abandon"
)

// Runner walks one session through the terminal, step by step, until the
// final submission or an exit action.
type Runner struct {
	driver  PromptDriver
	session *session.Controller
}

// NewRunner pairs a session with a prompt driver.
func NewRunner(driver PromptDriver, s *session.Controller) *Runner {
	return &Runner{driver: driver, session: s}
}

// Run drives the wizard loop. It returns nil after a successful submission or
// a draft save; ErrAborted propagates when the user interrupts.
func (r *Runner) Run(ctx context.Context) error {
	for {
		step, ok := r.session.CurrentStep()
		if !ok {
			return fmt.Errorf("tui: no step at index %d", r.session.CurrentStepIndex())
		}
		if err := r.driver.Info(ctx, "== "+step.StepName); err != nil {
			return err
		}

		var err error
		if step.IsManyToManyRelationship {
			err = r.editRelationships(ctx)
		} else {
			err = r.editFields(ctx)
		}
		if err != nil {
			return err
		}

		action, err := r.chooseAction(ctx)
		if err != nil {
			return err
		}
		switch action {
		case actionBack:
			if err := r.session.Retreat(ctx); err != nil && !errors.Is(err, session.ErrFirstStep) {
				return err
			}
		case actionSave:
			if err := r.session.SaveDraft(ctx); err != nil {
				return err
			}
			return r.driver.Info(ctx, "Draft saved. Progress id: "+r.session.ProgressID())
		case actionAbandon:
			confirmed, err := r.driver.Confirm(ctx, ConfirmConfig{Message: "Abandon this session?"})
			if err != nil {
				return err
			}
			if !confirmed {
				continue
			}
			if err := r.session.Abandon(ctx); err != nil {
				return err
			}
			return r.driver.Info(ctx, "Session abandoned.")
		case actionContinue:
			done, err := r.advanceOrSubmit(ctx)
			if err != nil {
				return err
			}
			if done {
				return nil
			}
		}
	}
}

func (r *Runner) editFields(ctx context.Context) error {
	data := r.session.Snapshot()[r.session.CurrentStepIndex()]
	for _, field := range r.session.VisibleFields() {
		message := field.FieldName
		if field.Required {
			message += " (required)"
		}
		raw, err := r.driver.Input(ctx, InputConfig{
			Message: message,
			Default: displayValue(data[field.FieldName]),
		})
		if err != nil {
			return err
		}
		if strings.TrimSpace(raw) == "" {
			continue
		}
		if err := r.session.SetField(ctx, field.FieldName, parseValue(field, raw)); err != nil {
			return err
		}
	}

	for fieldName, message := range r.session.FieldErrors() {
		if err := r.driver.Info(ctx, fmt.Sprintf("! %s: %s", fieldName, message)); err != nil {
			return err
		}
	}
	return nil
}

func (r *Runner) editRelationships(ctx context.Context) error {
	for {
		entries, err := r.session.RelationshipEntries()
		if err != nil {
			return err
		}
		if err := r.driver.Info(ctx, fmt.Sprintf("%d entries selected", len(entries))); err != nil {
			return err
		}

		options := []string{"Add entry", "Set entry field", "Remove entry", "Done"}
		choice, err := r.driver.Select(ctx, SelectConfig{Message: "Relationship", Options: options})
		if err != nil {
			return err
		}
		switch choice {
		case 0:
			id, err := r.promptID(ctx, "Related entity id")
			if err != nil {
				return err
			}
			if err := r.session.SelectRelated(map[string]any{"id": id}); err != nil {
				return err
			}
		case 1:
			id, err := r.promptID(ctx, "Entry id")
			if err != nil {
				return err
			}
			fieldName, err := r.driver.Input(ctx, InputConfig{Message: "Field name"})
			if err != nil {
				return err
			}
			raw, err := r.driver.Input(ctx, InputConfig{Message: "Value"})
			if err != nil {
				return err
			}
			if err := r.session.SetJoinField(id, fieldName, coerceScalar(raw)); err != nil {
				return err
			}
		case 2:
			id, err := r.promptID(ctx, "Entry id")
			if err != nil {
				return err
			}
			if err := r.session.RemoveRelated(id); err != nil {
				return err
			}
		default:
			return nil
		}
	}
}

func (r *Runner) chooseAction(ctx context.Context) (string, error) {
	options := []string{actionContinue}
	if r.session.CurrentStepIndex() > 0 {
		options = append(options, actionBack)
	}
	options = append(options, actionSave, actionAbandon)
	choice, err := r.driver.Select(ctx, SelectConfig{Message: "Action", Options: options})
	if err != nil {
		return "", err
	}
	if choice < 0 || choice >= len(options) {
		return actionContinue, nil
	}
	return options[choice], nil
}

// advanceOrSubmit moves forward; on the final step it confirms and submits.
func (r *Runner) advanceOrSubmit(ctx context.Context) (bool, error) {
	err := r.session.Advance(ctx)
	if err == nil {
		return false, nil
	}

	var blocked *session.StepBlockedError
	if errors.As(err, &blocked) {
		for _, reason := range blocked.Reasons {
			if err := r.driver.Info(ctx, "! "+reason); err != nil {
				return false, err
			}
		}
		return false, nil
	}
	if !errors.Is(err, session.ErrFinalStep) {
		return false, err
	}

	confirmed, err := r.driver.Confirm(ctx, ConfirmConfig{Message: "Submit?", Default: true})
	if err != nil {
		return false, err
	}
	if !confirmed {
		return false, nil
	}
	if _, err := r.session.Submit(ctx); err != nil {
		if errors.As(err, &blocked) {
			for _, reason := range blocked.Reasons {
				if infoErr := r.driver.Info(ctx, "! "+reason); infoErr != nil {
					return false, infoErr
				}
			}
			return false, nil
		}
		return false, err
	}
	return true, r.driver.Info(ctx, "Submitted.")
}

func (r *Runner) promptID(ctx context.Context, message string) (any, error) {
	raw, err := r.driver.Input(ctx, InputConfig{Message: message})
	if err != nil {
		return nil, err
	}
	return coerceScalar(raw), nil
}

func parseValue(field formconfig.FormField, raw string) any {
	switch field.FieldType {
	case formconfig.FieldTypeInteger:
		if n, err := strconv.Atoi(raw); err == nil {
			return n
		}
	case formconfig.FieldTypeDecimal:
		if f, err := strconv.ParseFloat(raw, 64); err == nil {
			return f
		}
	case formconfig.FieldTypeBoolean:
		if b, err := strconv.ParseBool(raw); err == nil {
			return b
		}
	}
	return raw
}

func coerceScalar(raw string) any {
	raw = strings.TrimSpace(raw)
	if n, err := strconv.Atoi(raw); err == nil {
		return n
	}
	if b, err := strconv.ParseBool(raw); err == nil {
		return b
	}
	return raw
}

func displayValue(value any) string {
	if value == nil {
		return ""
	}
	return fmt.Sprint(value)
}
