package api

import (
	"testing"
)

// shotWorkflow is a small two-step interview used across graph tests:
// miss → rebound kind → rebounder.
func shotWorkflow() Workflow {
	return Workflow{
		ID:           "shot",
		CollectionID: "nba",
		Name:         "Shot outcome",
		FirstStepID:  "outcome",
		Steps: []Step{
			{
				ID:         "outcome",
				WorkflowID: "shot",
				Prompt:     "Made or missed?",
				Kind:       StepSingleSelect,
				Options: []Option{
					{ID: "made", StepID: "outcome", Label: "Made", EventTypeID: "FGM"},
					{ID: "missed", StepID: "outcome", Label: "Missed", EventTypeID: "FGA", NextStepID: "rebound"},
				},
			},
			{
				ID:         "rebound",
				WorkflowID: "shot",
				Prompt:     "Who got the rebound?",
				Kind:       StepSingleSelect,
				Options: []Option{
					{
						ID: "player", StepID: "rebound", Label: "Player",
						EventTypeID:        "REB",
						CollectParticipant: true,
						ParticipantPrompt:  "Select rebounder",
					},
					{ID: "none", StepID: "rebound", Label: "Out of bounds"},
				},
			},
		},
	}
}

func TestNewGraphValid(t *testing.T) {
	g, err := NewGraph(shotWorkflow())
	if err != nil {
		t.Fatalf("NewGraph failed: %v", err)
	}

	if g.ID() != "shot" {
		t.Fatalf("unexpected graph id: %s", g.ID())
	}
	if g.First().ID != "outcome" {
		t.Fatalf("unexpected first step: %s", g.First().ID)
	}
	if _, ok := g.StepByID("rebound"); !ok {
		t.Fatalf("expected rebound step in index")
	}
	if _, ok := g.StepByID("nope"); ok {
		t.Fatalf("unexpected step for unknown id")
	}
}

func TestNewGraphRejectsMissingFirstStep(t *testing.T) {
	wf := shotWorkflow()
	wf.FirstStepID = ""

	_, err := NewGraph(wf)
	ge, ok := IsGraphError(err)
	if !ok {
		t.Fatalf("expected GraphError, got %v", err)
	}
	if ge.Reason != ReasonNoFirstStep {
		t.Fatalf("unexpected reason: %s", ge.Reason)
	}
}

func TestNewGraphRejectsUnknownFirstStep(t *testing.T) {
	wf := shotWorkflow()
	wf.FirstStepID = "ghost"

	_, err := NewGraph(wf)
	ge, ok := IsGraphError(err)
	if !ok {
		t.Fatalf("expected GraphError, got %v", err)
	}
	if ge.Reason != ReasonUnknownStep {
		t.Fatalf("unexpected reason: %s", ge.Reason)
	}
}

func TestNewGraphRejectsDuplicateStepID(t *testing.T) {
	wf := shotWorkflow()
	wf.Steps = append(wf.Steps, wf.Steps[0])

	_, err := NewGraph(wf)
	ge, ok := IsGraphError(err)
	if !ok {
		t.Fatalf("expected GraphError, got %v", err)
	}
	if ge.Reason != ReasonDuplicateStepID {
		t.Fatalf("unexpected reason: %s", ge.Reason)
	}
}

func TestNewGraphRejectsEmptyOptionID(t *testing.T) {
	wf := shotWorkflow()
	wf.Steps[0].Options[1].ID = ""

	_, err := NewGraph(wf)
	ge, ok := IsGraphError(err)
	if !ok {
		t.Fatalf("expected GraphError, got %v", err)
	}
	if ge.Reason != ReasonEmptyOptionID {
		t.Fatalf("unexpected reason: %s", ge.Reason)
	}
	if ge.StepID != "outcome" {
		t.Fatalf("error should locate the offending step, got step=%s", ge.StepID)
	}
}

func TestNewGraphRejectsDuplicateOptionID(t *testing.T) {
	wf := shotWorkflow()
	wf.Steps[1].Options[1].ID = "player"

	_, err := NewGraph(wf)
	ge, ok := IsGraphError(err)
	if !ok {
		t.Fatalf("expected GraphError, got %v", err)
	}
	if ge.Reason != ReasonDuplicateOptionID {
		t.Fatalf("unexpected reason: %s", ge.Reason)
	}
	if ge.StepID != "rebound" || ge.OptionID != "player" {
		t.Fatalf("error should locate the duplicate, got step=%s option=%s", ge.StepID, ge.OptionID)
	}

	// The same id on options of different steps is fine.
	wf = shotWorkflow()
	wf.Steps[1].Options[1].ID = "made"
	if _, err := NewGraph(wf); err != nil {
		t.Fatalf("option ids only need to be unique within their step: %v", err)
	}
}

func TestNewGraphRejectsDanglingNextStep(t *testing.T) {
	wf := shotWorkflow()
	wf.Steps[1].Options[1].NextStepID = "ghost"

	_, err := NewGraph(wf)
	ge, ok := IsGraphError(err)
	if !ok {
		t.Fatalf("expected GraphError, got %v", err)
	}
	if ge.Reason != ReasonUnknownStep {
		t.Fatalf("unexpected reason: %s", ge.Reason)
	}
	if ge.StepID != "rebound" || ge.OptionID != "none" {
		t.Fatalf("error should locate the offending option, got step=%s option=%s", ge.StepID, ge.OptionID)
	}
}

func TestNewGraphRejectsForeignStepAndOption(t *testing.T) {
	wf := shotWorkflow()
	wf.Steps[1].WorkflowID = "other"
	if _, err := NewGraph(wf); err == nil {
		t.Fatalf("expected foreign step to be rejected")
	}

	wf = shotWorkflow()
	wf.Steps[0].Options[0].StepID = "rebound"
	_, err := NewGraph(wf)
	ge, ok := IsGraphError(err)
	if !ok || ge.Reason != ReasonForeignOption {
		t.Fatalf("expected foreign-option GraphError, got %v", err)
	}
}

func TestNewGraphRejectsReachableStepWithoutOptions(t *testing.T) {
	wf := shotWorkflow()
	wf.Steps[1].Options = nil

	_, err := NewGraph(wf)
	ge, ok := IsGraphError(err)
	if !ok {
		t.Fatalf("expected GraphError, got %v", err)
	}
	if ge.Reason != ReasonStepHasNoOptions {
		t.Fatalf("unexpected reason: %s", ge.Reason)
	}
}

func TestNewGraphRejectsCopyWithoutCollect(t *testing.T) {
	wf := shotWorkflow()
	wf.Steps[1].Options[1].ParticipantCopyStepID = "rebound"

	_, err := NewGraph(wf)
	ge, ok := IsGraphError(err)
	if !ok {
		t.Fatalf("expected GraphError, got %v", err)
	}
	if ge.Reason != ReasonCopyWithoutCollect {
		t.Fatalf("unexpected reason: %s", ge.Reason)
	}
}

func TestNewGraphRejectsDanglingCopySource(t *testing.T) {
	wf := shotWorkflow()
	wf.Steps[1].Options[0].ParticipantCopyStepID = "ghost"

	_, err := NewGraph(wf)
	ge, ok := IsGraphError(err)
	if !ok {
		t.Fatalf("expected GraphError, got %v", err)
	}
	if ge.Reason != ReasonUnknownStep {
		t.Fatalf("unexpected reason: %s", ge.Reason)
	}
}

func TestNewGraphAllowsCycles(t *testing.T) {
	// Loops through further selections are legal; only the interpreter must
	// not loop on its own.
	wf := shotWorkflow()
	wf.Steps[1].Options[1].NextStepID = "outcome"

	if _, err := NewGraph(wf); err != nil {
		t.Fatalf("cyclic graph should validate: %v", err)
	}
}

func TestParseWorkflow(t *testing.T) {
	data := []byte(`{
		"id": "foul",
		"collection_id": "nba",
		"name": "Foul",
		"first_step_id": "kind",
		"steps": [
			{
				"id": "kind",
				"workflow_id": "foul",
				"prompt": "What kind of foul?",
				"kind": "single-select",
				"options": [
					{"id": "personal", "step_id": "kind", "label": "Personal", "event_type_id": "PF"},
					{"id": "technical", "step_id": "kind", "label": "Technical", "event_type_id": "TF"}
				]
			}
		]
	}`)

	wf, err := ParseWorkflow(data)
	if err != nil {
		t.Fatalf("ParseWorkflow failed: %v", err)
	}
	if wf.ID != "foul" || len(wf.Steps) != 1 || len(wf.Steps[0].Options) != 2 {
		t.Fatalf("unexpected workflow: %+v", wf)
	}

	if _, err := ParseWorkflow([]byte(`{"id": "broken"`)); err == nil {
		t.Fatalf("expected JSON error")
	}
	if _, err := ParseWorkflow([]byte(`{"id": "empty"}`)); err == nil {
		t.Fatalf("expected validation error for workflow without steps")
	}
}
