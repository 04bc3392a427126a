package formwizard

import (
	"context"
	"testing"

	"github.com/PandiO/knk-form-engine/pkg/formconfig"
)

func engineConfig() FormConfiguration {
	return FormConfiguration{
		ID:             "cfg-district",
		EntityTypeName: "District",
		Steps: []FormStep{
			{
				ID:       "step-basics",
				StepName: "Basics",
				Fields: []FormField{
					{ID: "f-name", FieldName: "Name", FieldType: formconfig.FieldTypeString, Required: true},
				},
			},
			{
				ID:       "step-review",
				StepName: "Review",
				Fields: []FormField{
					{ID: "f-notes", FieldName: "Notes", FieldType: formconfig.FieldTypeString},
				},
			},
		},
	}
}

func newEngine() *Engine {
	provider := formconfig.ProviderFunc(func(_ context.Context, ref formconfig.Ref) (FormConfiguration, error) {
		if ref.ID == "cfg-district" || ref.EntityTypeName == "District" {
			return engineConfig(), nil
		}
		return FormConfiguration{}, formconfig.ErrNotFound
	})
	return New(WithConfigProvider(provider))
}

func TestEngineSessionsShareTheStore(t *testing.T) {
	ctx := context.Background()
	engine := newEngine()

	s, err := engine.NewSession(ctx, formconfig.Ref{ID: "cfg-district"})
	if err != nil {
		t.Fatalf("new session: %v", err)
	}
	if err := s.SetField(ctx, "Name", "Old Quarter"); err != nil {
		t.Fatalf("set field: %v", err)
	}
	if err := s.Advance(ctx); err != nil {
		t.Fatalf("advance: %v", err)
	}
	if err := s.SaveDraft(ctx); err != nil {
		t.Fatalf("save draft: %v", err)
	}

	resumed, err := engine.Resume(ctx, formconfig.Ref{EntityTypeName: "District"}, s.ProgressID())
	if err != nil {
		t.Fatalf("resume: %v", err)
	}
	if resumed.CurrentStepIndex() != 1 {
		t.Fatalf("resumed step index = %d, want 1", resumed.CurrentStepIndex())
	}
	if got := resumed.Flatten()["Name"]; got != "Old Quarter" {
		t.Fatalf("resumed Name = %v", got)
	}
}

func TestEngineUnknownConfiguration(t *testing.T) {
	engine := newEngine()
	if _, err := engine.NewSession(context.Background(), formconfig.Ref{ID: "missing"}); err == nil {
		t.Fatal("expected an error for an unknown configuration ref")
	}
}
