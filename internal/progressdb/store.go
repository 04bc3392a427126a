// Package progressdb persists wizard session progress through GORM, with the
// step-data snapshots stored as JSON columns. It implements session.Store.
package progressdb

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/PandiO/knk-form-engine/pkg/session"
	"github.com/PandiO/knk-form-engine/pkg/stepdata"
)

type progressRecord struct {
	ID                  string `gorm:"primaryKey;size:36"`
	FormConfigurationID string `gorm:"index"`
	EntityTypeName      string
	ParentProgressID    string `gorm:"index"`
	CurrentStepIndex    int
	CurrentStepData     datatypes.JSON
	AllStepsData        datatypes.JSON
	// Serialized as text: sqlite hands a bare JSON number back as int64,
	// which a JSON column scan rejects.
	EntityID string `gorm:"type:text"`
	Status   string `gorm:"index"`
	CreatedAt           time.Time
	UpdatedAt           time.Time
}

func (progressRecord) TableName() string { return "form_submission_progress" }

// Store is a GORM-backed session.Store.
type Store struct {
	db *gorm.DB
}

// New migrates the progress table and returns a Store over db.
func New(db *gorm.DB) (*Store, error) {
	if err := db.AutoMigrate(&progressRecord{}); err != nil {
		return nil, fmt.Errorf("progressdb: migrate: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Create(ctx context.Context, progress *session.Progress) error {
	if progress.ID == "" {
		progress.ID = uuid.NewString()
	}
	record, err := toRecord(progress)
	if err != nil {
		return err
	}
	if err := s.db.WithContext(ctx).Create(record).Error; err != nil {
		return fmt.Errorf("progressdb: create progress: %w", err)
	}
	return nil
}

func (s *Store) Update(ctx context.Context, progress *session.Progress) error {
	record, err := toRecord(progress)
	if err != nil {
		return err
	}
	result := s.db.WithContext(ctx).Model(&progressRecord{}).
		Where("id = ?", record.ID).
		Updates(map[string]any{
			"current_step_index": record.CurrentStepIndex,
			"current_step_data":  record.CurrentStepData,
			"all_steps_data":     record.AllStepsData,
			"entity_id":          record.EntityID,
			"status":             record.Status,
		})
	if result.Error != nil {
		return fmt.Errorf("progressdb: update progress %s: %w", record.ID, result.Error)
	}
	if result.RowsAffected == 0 {
		return session.ErrProgressNotFound
	}
	return nil
}

func (s *Store) GetByID(ctx context.Context, id string) (*session.Progress, error) {
	var record progressRecord
	err := s.db.WithContext(ctx).First(&record, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, session.ErrProgressNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("progressdb: load progress %s: %w", id, err)
	}

	progress, err := fromRecord(&record)
	if err != nil {
		return nil, err
	}

	var childRecords []progressRecord
	if err := s.db.WithContext(ctx).Where("parent_progress_id = ?", id).
		Order("created_at asc").Find(&childRecords).Error; err != nil {
		return nil, fmt.Errorf("progressdb: load children of %s: %w", id, err)
	}
	for i := range childRecords {
		child, err := fromRecord(&childRecords[i])
		if err != nil {
			return nil, err
		}
		progress.Children = append(progress.Children, child)
	}
	return progress, nil
}

func toRecord(progress *session.Progress) (*progressRecord, error) {
	allSteps, err := stepdata.MarshalSnapshot(progress.AllStepsData)
	if err != nil {
		return nil, fmt.Errorf("progressdb: encode snapshot: %w", err)
	}
	currentStep, err := json.Marshal(progress.CurrentStepData)
	if err != nil {
		return nil, fmt.Errorf("progressdb: encode current step: %w", err)
	}
	entityID, err := json.Marshal(progress.EntityID)
	if err != nil {
		return nil, fmt.Errorf("progressdb: encode entity id: %w", err)
	}
	return &progressRecord{
		ID:                  progress.ID,
		FormConfigurationID: progress.FormConfigurationID,
		EntityTypeName:      progress.EntityTypeName,
		ParentProgressID:    progress.ParentProgressID,
		CurrentStepIndex:    progress.CurrentStepIndex,
		CurrentStepData:     datatypes.JSON(currentStep),
		AllStepsData:        datatypes.JSON(allSteps),
		EntityID:            string(entityID),
		Status:              string(progress.Status),
	}, nil
}

func fromRecord(record *progressRecord) (*session.Progress, error) {
	allSteps, err := stepdata.UnmarshalSnapshot(record.AllStepsData)
	if err != nil {
		return nil, fmt.Errorf("progressdb: decode snapshot of %s: %w", record.ID, err)
	}
	var currentStep stepdata.StepData
	if len(record.CurrentStepData) > 0 {
		if err := json.Unmarshal(record.CurrentStepData, &currentStep); err != nil {
			return nil, fmt.Errorf("progressdb: decode current step of %s: %w", record.ID, err)
		}
	}
	var entityID any
	if record.EntityID != "" {
		if err := json.Unmarshal([]byte(record.EntityID), &entityID); err != nil {
			return nil, fmt.Errorf("progressdb: decode entity id of %s: %w", record.ID, err)
		}
	}
	return &session.Progress{
		ID:                  record.ID,
		FormConfigurationID: record.FormConfigurationID,
		EntityTypeName:      record.EntityTypeName,
		ParentProgressID:    record.ParentProgressID,
		CurrentStepIndex:    record.CurrentStepIndex,
		CurrentStepData:     currentStep,
		AllStepsData:        allSteps,
		EntityID:            entityID,
		Status:              session.Status(record.Status),
	}, nil
}
