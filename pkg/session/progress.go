// Package session drives a stateful, resumable wizard session over one form
// configuration: load-or-create, field edits, step transitions, draft saves,
// nested child sessions, and final submission. All mutable session state is
// owned by a single Controller and changed only through its methods.
package session

import (
	"context"
	"errors"

	"github.com/PandiO/knk-form-engine/pkg/stepdata"
)

// Status is the lifecycle state of a persisted wizard session.
type Status string

const (
	StatusInProgress Status = "InProgress"
	StatusPaused     Status = "Paused"
	StatusCompleted  Status = "Completed"
	StatusAbandoned  Status = "Abandoned"
)

// Terminal reports whether the status permits no further transitions.
func (s Status) Terminal() bool { return s == StatusCompleted || s == StatusAbandoned }

// Progress is a durable snapshot of one in-flight wizard session. Child
// sessions (join entry editors, nested child-object forms) link back via
// ParentProgressID, forming a tree.
type Progress struct {
	ID                  string
	FormConfigurationID string
	EntityTypeName      string
	ParentProgressID    string
	CurrentStepIndex    int
	CurrentStepData     stepdata.StepData
	AllStepsData        stepdata.AllStepsData
	EntityID            any
	Status              Status
	Children            []*Progress
}

// ErrProgressNotFound is returned by stores for unknown progress ids.
var ErrProgressNotFound = errors.New("session: progress not found")

// Store persists wizard progress. GetByID returns the progress together with
// its direct children.
type Store interface {
	Create(ctx context.Context, progress *Progress) error
	Update(ctx context.Context, progress *Progress) error
	GetByID(ctx context.Context, id string) (*Progress, error)
}
