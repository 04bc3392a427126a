package validation

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/PandiO/knk-form-engine/pkg/formconfig"
	"github.com/PandiO/knk-form-engine/pkg/stepdata"
)

func wizardConfig() formconfig.FormConfiguration {
	return formconfig.FormConfiguration{
		EntityTypeName: "Town",
		Steps: []formconfig.FormStep{
			{
				StepName: "General",
				Fields: []formconfig.FormField{
					{
						ID: "f-name", FieldName: "Name", FieldType: formconfig.FieldTypeString, Required: true,
						Validations: []formconfig.ValidationRule{{
							ID: "r-unique", FormFieldID: "f-name", ValidationType: "unique",
							ErrorMessage: "{Name} is already taken", IsBlocking: true,
						}},
					},
					{
						ID: "f-region", FieldName: "Region", FieldType: formconfig.FieldTypeObject, ObjectType: "WgRegion",
					},
					{
						ID: "f-gate", FieldName: "Gate", FieldType: formconfig.FieldTypeString,
						Validations: []formconfig.ValidationRule{{
							ID: "r-inside", FormFieldID: "f-gate", ValidationType: "insideRegion",
							DependsOnFieldID: "f-region", DependencyPath: "wgRegionId",
							RequiresDependencyFilled: true,
							ErrorMessage:             "Gate must be inside {Region}",
							IsBlocking:               true,
						}},
					},
					{
						ID: "f-hidden", FieldName: "Secret", FieldType: formconfig.FieldTypeString, Required: true,
						DependencyConditionJSON: `{"field":"Name","op":"eq","value":"ShowSecret"}`,
					},
				},
			},
		},
	}
}

type recordingService struct {
	mu       sync.Mutex
	requests []Request
	respond  func(Request) (Result, error)
}

func (s *recordingService) ValidateField(_ context.Context, req Request) (Result, error) {
	s.mu.Lock()
	s.requests = append(s.requests, req)
	s.mu.Unlock()
	if s.respond != nil {
		return s.respond(req)
	}
	return Result{IsValid: true}, nil
}

func (s *recordingService) calls() []Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Request(nil), s.requests...)
}

func TestFieldChangedDebounceCancelAndReplace(t *testing.T) {
	service := &recordingService{}
	o := NewOrchestrator(wizardConfig(), service, WithDebounce(30*time.Millisecond))

	all := stepdata.AllStepsData{0: {"Name": "a"}}
	o.FieldChanged(context.Background(), "f-name", all)
	all[0]["Name"] = "ab"
	o.FieldChanged(context.Background(), "f-name", all)
	all[0]["Name"] = "abc"
	o.FieldChanged(context.Background(), "f-name", all)

	if state := o.FieldState("f-name"); state != StatePending {
		t.Fatalf("state = %v, want pending", state)
	}

	time.Sleep(120 * time.Millisecond)

	calls := service.calls()
	if len(calls) != 1 {
		t.Fatalf("service called %d times, want 1 (debounce should collapse rapid edits)", len(calls))
	}
	if calls[0].FieldValue != "abc" {
		t.Fatalf("service saw value %v, want the last edit", calls[0].FieldValue)
	}
	if state := o.FieldState("f-name"); state != StateValid {
		t.Fatalf("state = %v, want valid", state)
	}
}

func TestValidateStepIsSynchronousAndIdempotent(t *testing.T) {
	service := &recordingService{
		respond: func(req Request) (Result, error) {
			if req.ValidationType == "unique" && req.FieldValue == "Riverfall" {
				return Result{IsValid: false, IsBlocking: true}, nil
			}
			return Result{IsValid: true}, nil
		},
	}
	o := NewOrchestrator(wizardConfig(), service)

	all := stepdata.AllStepsData{0: {"Name": "Riverfall", "Region": map[string]any{"wgRegionId": "r1"}, "Gate": "g"}}
	o.ValidateStep(context.Background(), 0, all)

	first, ok := o.Result("f-name")
	if !ok {
		t.Fatal("no result stored after synchronous pass")
	}
	if first.IsValid || !first.IsBlocking {
		t.Fatalf("unexpected result %+v", first)
	}
	if first.Message != "Riverfall is already taken" {
		t.Fatalf("message = %q, want interpolated placeholder", first.Message)
	}

	o.ValidateStep(context.Background(), 0, all)
	second, _ := o.Result("f-name")
	if diff := cmp.Diff(first, second); diff != "" {
		t.Fatalf("identical input produced different results (-first +second):\n%s", diff)
	}
}

func TestDependencyResolutionAndCascade(t *testing.T) {
	service := &recordingService{}
	o := NewOrchestrator(wizardConfig(), service, WithDebounce(10*time.Millisecond))

	all := stepdata.AllStepsData{0: {
		"Name":   "Riverfall",
		"Region": map[string]any{"wgRegionId": "r1"},
		"Gate":   "north",
	}}

	// Editing the region cascades to the gate rule that depends on it.
	o.FieldChanged(context.Background(), "f-region", all)
	time.Sleep(80 * time.Millisecond)

	calls := service.calls()
	if len(calls) != 1 {
		t.Fatalf("service called %d times, want 1 cascade call", len(calls))
	}
	if calls[0].FieldID != "f-gate" {
		t.Fatalf("cascade hit %q, want f-gate", calls[0].FieldID)
	}
	if calls[0].DependencyValue != "r1" {
		t.Fatalf("dependency value = %v, want path-resolved r1", calls[0].DependencyValue)
	}
	if calls[0].FormContextData["Name"] != "Riverfall" {
		t.Fatal("flattened form context missing cross-step data")
	}
}

func TestRequiresDependencyFilledSkips(t *testing.T) {
	service := &recordingService{}
	o := NewOrchestrator(wizardConfig(), service)

	// Region empty: the gate rule must not execute.
	all := stepdata.AllStepsData{0: {"Name": "x", "Gate": "north"}}
	o.ValidateStep(context.Background(), 0, all)

	for _, call := range service.calls() {
		if call.FieldID == "f-gate" {
			t.Fatal("rule with unfilled dependency was executed")
		}
	}
	if _, ok := o.Result("f-gate"); ok {
		t.Fatal("skipped rule should leave no cached result")
	}
	if state := o.FieldState("f-gate"); state != StateIdle {
		t.Fatalf("state = %v, want idle", state)
	}
}

func TestServiceFailureFailsClosed(t *testing.T) {
	service := &recordingService{
		respond: func(Request) (Result, error) { return Result{}, errors.New("boom") },
	}
	o := NewOrchestrator(wizardConfig(), service)

	all := stepdata.AllStepsData{0: {"Name": "Riverfall"}}
	o.ValidateStep(context.Background(), 0, all)

	result, ok := o.Result("f-name")
	if !ok {
		t.Fatal("expected synthesized result")
	}
	if result.IsValid || !result.IsBlocking {
		t.Fatalf("transport failure must be a blocking failure, got %+v", result)
	}
}

type resolvingService struct {
	recordingService
	resolveMu   sync.Mutex
	resolveReqs []PlaceholderRequest
	resolve     func(PlaceholderRequest) (PlaceholderResult, error)
}

func (s *resolvingService) ResolvePlaceholders(_ context.Context, req PlaceholderRequest) (PlaceholderResult, error) {
	s.resolveMu.Lock()
	s.resolveReqs = append(s.resolveReqs, req)
	s.resolveMu.Unlock()
	if s.resolve != nil {
		return s.resolve(req)
	}
	return PlaceholderResult{}, nil
}

func TestEntityPlaceholdersResolvedThroughService(t *testing.T) {
	cfg := wizardConfig()
	cfg.Steps[0].Fields[0].Validations[0].ErrorMessage = "{Name} is already taken by {OwnerName}"

	service := &resolvingService{}
	service.respond = func(Request) (Result, error) {
		return Result{IsValid: false, IsBlocking: true}, nil
	}
	service.resolve = func(PlaceholderRequest) (PlaceholderResult, error) {
		return PlaceholderResult{Resolved: map[string]string{"OwnerName": "Aldric"}}, nil
	}

	o := NewOrchestrator(cfg, service)
	o.BindEntity(7)

	all := stepdata.AllStepsData{0: {"Name": "Riverfall"}}
	o.ValidateStep(context.Background(), 0, all)

	result, ok := o.Result("f-name")
	if !ok {
		t.Fatal("no result stored")
	}
	if result.Message != "Riverfall is already taken by Aldric" {
		t.Fatalf("message = %q, want the service-resolved owner", result.Message)
	}

	service.resolveMu.Lock()
	reqs := append([]PlaceholderRequest(nil), service.resolveReqs...)
	service.resolveMu.Unlock()
	if len(reqs) != 1 {
		t.Fatalf("resolver called %d times, want 1", len(reqs))
	}
	req := reqs[0]
	if req.EntityTypeName != "Town" || req.RuleID != "r-unique" {
		t.Fatalf("resolver request = %+v", req)
	}
	if req.EntityID != 7 {
		t.Fatalf("resolver entity id = %v, want the bound id", req.EntityID)
	}
	if req.Current["Name"] != "Riverfall" {
		t.Fatalf("resolver request missing form-context placeholders: %v", req.Current)
	}
}

func TestResolverSkippedWhenFormContextSuffices(t *testing.T) {
	service := &resolvingService{}
	service.respond = func(Request) (Result, error) {
		return Result{IsValid: false, IsBlocking: true}, nil
	}
	o := NewOrchestrator(wizardConfig(), service)

	all := stepdata.AllStepsData{0: {"Name": "Riverfall"}}
	o.ValidateStep(context.Background(), 0, all)

	service.resolveMu.Lock()
	calls := len(service.resolveReqs)
	service.resolveMu.Unlock()
	if calls != 0 {
		t.Fatalf("resolver called %d times for a fully form-resolved message", calls)
	}
}

func TestResolverFailureLeavesRawTokens(t *testing.T) {
	cfg := wizardConfig()
	cfg.Steps[0].Fields[0].Validations[0].ErrorMessage = "{Name} is already taken by {OwnerName}"

	service := &resolvingService{}
	service.respond = func(Request) (Result, error) {
		return Result{IsValid: false, IsBlocking: true}, nil
	}
	service.resolve = func(PlaceholderRequest) (PlaceholderResult, error) {
		return PlaceholderResult{}, errors.New("resolver down")
	}

	o := NewOrchestrator(cfg, service)
	all := stepdata.AllStepsData{0: {"Name": "Riverfall"}}
	o.ValidateStep(context.Background(), 0, all)

	result, _ := o.Result("f-name")
	if result.IsValid || !result.IsBlocking {
		t.Fatalf("resolver failure must not soften the rule outcome: %+v", result)
	}
	if result.Message != "Riverfall is already taken by {OwnerName}" {
		t.Fatalf("message = %q, want the raw token preserved", result.Message)
	}
}

func TestClearDropsResultsAndInFlightRuns(t *testing.T) {
	service := &recordingService{}
	o := NewOrchestrator(wizardConfig(), service, WithDebounce(20*time.Millisecond))

	all := stepdata.AllStepsData{0: {"Name": "Riverfall"}}
	o.ValidateStep(context.Background(), 0, all)
	if _, ok := o.Result("f-name"); !ok {
		t.Fatal("expected cached result before clear")
	}

	o.FieldChanged(context.Background(), "f-name", all)
	o.Clear()

	if _, ok := o.Result("f-name"); ok {
		t.Fatal("results survived step navigation")
	}
	time.Sleep(80 * time.Millisecond)
	if _, ok := o.Result("f-name"); ok {
		t.Fatal("run scheduled before navigation wrote into cleared state")
	}
	if state := o.FieldState("f-name"); state != StateIdle {
		t.Fatalf("state = %v, want idle after clear", state)
	}
}

func TestCanAdvanceGate(t *testing.T) {
	service := &recordingService{
		respond: func(req Request) (Result, error) {
			if req.FieldValue == "taken" {
				return Result{IsValid: false, IsBlocking: true, Message: "taken"}, nil
			}
			return Result{IsValid: true}, nil
		},
	}
	o := NewOrchestrator(wizardConfig(), service)

	// Required field empty: blocked. The hidden required field is exempt.
	all := stepdata.AllStepsData{0: {"Name": nil, "Secret": nil}}
	if gate := o.CanAdvance(0, all); gate.OK {
		t.Fatal("empty required field must block advance")
	}

	// Visibility condition flips the hidden field on: now it blocks too.
	all[0]["Name"] = "ShowSecret"
	gate := o.CanAdvance(0, all)
	if gate.OK {
		t.Fatal("newly visible required field must block advance")
	}
	found := false
	for _, reason := range gate.Reasons {
		if reason == "Secret is required" {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected Secret requirement in reasons, got %v", gate.Reasons)
	}

	// Blocking failure blocks; once satisfied, advance succeeds.
	all[0]["Name"] = "taken"
	all[0]["Secret"] = nil
	o.ValidateStep(context.Background(), 0, all)
	if gate := o.CanAdvance(0, all); gate.OK {
		t.Fatal("blocking failure must block advance")
	}

	all[0]["Name"] = "fresh"
	o.ValidateStep(context.Background(), 0, all)
	if gate := o.CanAdvance(0, all); !gate.OK {
		t.Fatalf("expected advance after rule satisfied, reasons: %v", gate.Reasons)
	}
}
