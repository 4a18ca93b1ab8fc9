package api

import "encoding/json"

// StepKind describes how a step's options are presented and answered.
type StepKind string

const (
	// StepSingleSelect is a prompt answered by choosing exactly one option.
	StepSingleSelect StepKind = "single-select"
)

// ParticipantConstraint controls which participant references an option
// accepts when it collects a participant.
type ParticipantConstraint string

const (
	// ParticipantEither accepts a player or a team, but not both.
	// It is the default when an option does not say otherwise.
	ParticipantEither ParticipantConstraint = "either"

	// ParticipantPlayer accepts only a player reference.
	ParticipantPlayer ParticipantConstraint = "player"

	// ParticipantTeam accepts only a team reference.
	ParticipantTeam ParticipantConstraint = "team"

	// ParticipantBoth requires both a player and a team reference.
	ParticipantBoth ParticipantConstraint = "both"
)

// Option is one selectable answer within a step.
//
// Its capabilities compose: a single option may advance to another step,
// emit an event, and demand participant and/or coordinate input. An empty
// NextStepID means "end the interview here"; an empty EventTypeID means
// "emit nothing".
type Option struct {
	ID           string `json:"id"`
	StepID       string `json:"step_id"`
	Label        string `json:"label"`
	DisplayOrder int    `json:"display_order"`

	NextStepID  string `json:"next_step_id,omitempty"`
	EventTypeID string `json:"event_type_id,omitempty"`

	CollectParticipant    bool                  `json:"collect_participant,omitempty"`
	ParticipantPrompt     string                `json:"participant_prompt,omitempty"`
	ParticipantConstraint ParticipantConstraint `json:"participant_constraint,omitempty"`

	// ParticipantCopyStepID, when set on a collecting option, reuses the
	// participant recorded for that earlier step instead of prompting again.
	ParticipantCopyStepID string `json:"participant_copy_step_id,omitempty"`

	CollectCoordinate bool   `json:"collect_coordinate,omitempty"`
	CoordinatePrompt  string `json:"coordinate_prompt,omitempty"`
	CoordinateImageID string `json:"coordinate_image_id,omitempty"`
}

// constraint returns the effective participant constraint for the option.
func (o *Option) constraint() ParticipantConstraint {
	if o.ParticipantConstraint == "" {
		return ParticipantEither
	}
	return o.ParticipantConstraint
}

// Step is one prompt within a workflow, owning an ordered set of options.
type Step struct {
	ID         string   `json:"id"`
	WorkflowID string   `json:"workflow_id"`
	Prompt     string   `json:"prompt"`
	Kind       StepKind `json:"kind"`
	Options    []Option `json:"options"`
}

// Workflow is an authored, named branching interview definition scoped to a
// collection. It is read-only input to the interpreter; tagflow never edits
// workflows.
type Workflow struct {
	ID             string `json:"id"`
	CollectionID   string `json:"collection_id"`
	Name           string `json:"name"`
	FirstStepID    string `json:"first_step_id"`
	SystemReserved bool   `json:"system_reserved,omitempty"`
	Steps          []Step `json:"steps"`
}

// ParseWorkflow decodes a JSON workflow definition and validates it.
func ParseWorkflow(data []byte) (Workflow, error) {
	var wf Workflow
	if err := json.Unmarshal(data, &wf); err != nil {
		return Workflow{}, err
	}
	if _, err := NewGraph(wf); err != nil {
		return Workflow{}, err
	}
	return wf, nil
}

// Graph is a validated, indexed workflow ready for interpretation.
//
// All traversal is done by step-id lookup through the index built here, so
// the loose NextStepID / ParticipantCopyStepID references in the authored
// data never become in-memory cycles.
type Graph struct {
	wf    Workflow
	steps map[string]*Step
}

// NewGraph validates wf and builds the step index. It returns a *GraphError
// describing the first integrity problem found.
func NewGraph(wf Workflow) (*Graph, error) {
	g := &Graph{
		wf:    wf,
		steps: make(map[string]*Step, len(wf.Steps)),
	}

	for i := range wf.Steps {
		step := &wf.Steps[i]
		if step.ID == "" {
			return nil, newGraphError(wf.ID, "", "", ReasonEmptyStepID, "step with empty id")
		}
		if _, dup := g.steps[step.ID]; dup {
			return nil, newGraphError(wf.ID, step.ID, "", ReasonDuplicateStepID, "duplicate step id")
		}
		if step.WorkflowID != "" && step.WorkflowID != wf.ID {
			return nil, newGraphError(wf.ID, step.ID, "", ReasonForeignStep, "step belongs to another workflow")
		}
		g.steps[step.ID] = step
	}

	if wf.FirstStepID == "" {
		return nil, newGraphError(wf.ID, "", "", ReasonNoFirstStep, "workflow has no first step")
	}
	if _, ok := g.steps[wf.FirstStepID]; !ok {
		return nil, newGraphError(wf.ID, wf.FirstStepID, "", ReasonUnknownStep, "first step not in workflow")
	}

	reachable := g.reachableFrom(wf.FirstStepID)

	for _, step := range wf.Steps {
		optIDs := make(map[string]bool, len(step.Options))
		for i := range step.Options {
			opt := &step.Options[i]
			// Selections address options by id, so ids must be present and
			// unique within their step.
			if opt.ID == "" {
				return nil, newGraphError(wf.ID, step.ID, "", ReasonEmptyOptionID, "option with empty id")
			}
			if optIDs[opt.ID] {
				return nil, newGraphError(wf.ID, step.ID, opt.ID, ReasonDuplicateOptionID, "duplicate option id")
			}
			optIDs[opt.ID] = true
			if opt.StepID != "" && opt.StepID != step.ID {
				return nil, newGraphError(wf.ID, step.ID, opt.ID, ReasonForeignOption, "option belongs to another step")
			}
			if opt.NextStepID != "" {
				if _, ok := g.steps[opt.NextStepID]; !ok {
					return nil, newGraphError(wf.ID, step.ID, opt.ID, ReasonUnknownStep, "next_step_id references unknown step")
				}
			}
			if opt.ParticipantCopyStepID != "" {
				if !opt.CollectParticipant {
					return nil, newGraphError(wf.ID, step.ID, opt.ID, ReasonCopyWithoutCollect, "participant_copy_step_id on a non-collecting option")
				}
				if _, ok := g.steps[opt.ParticipantCopyStepID]; !ok {
					return nil, newGraphError(wf.ID, step.ID, opt.ID, ReasonUnknownStep, "participant_copy_step_id references unknown step")
				}
			}
		}

		// A step with no options is a dead end unless nothing can reach it.
		if len(step.Options) == 0 && reachable[step.ID] {
			return nil, newGraphError(wf.ID, step.ID, "", ReasonStepHasNoOptions, "reachable step has no options")
		}
	}

	return g, nil
}

// reachableFrom walks next_step_id edges from the given step and returns the
// set of step ids that can be reached.
func (g *Graph) reachableFrom(startID string) map[string]bool {
	seen := map[string]bool{startID: true}
	frontier := []string{startID}
	for len(frontier) > 0 {
		id := frontier[0]
		frontier = frontier[1:]
		step, ok := g.steps[id]
		if !ok {
			continue
		}
		for _, opt := range step.Options {
			if opt.NextStepID != "" && !seen[opt.NextStepID] {
				seen[opt.NextStepID] = true
				frontier = append(frontier, opt.NextStepID)
			}
		}
	}
	return seen
}

// Workflow returns the underlying workflow definition.
func (g *Graph) Workflow() Workflow {
	return g.wf
}

// ID returns the workflow id.
func (g *Graph) ID() string {
	return g.wf.ID
}

// First returns the workflow's entry step.
func (g *Graph) First() *Step {
	return g.steps[g.wf.FirstStepID]
}

// StepByID looks up a step by id.
func (g *Graph) StepByID(id string) (*Step, bool) {
	s, ok := g.steps[id]
	return s, ok
}

// option looks up an option by id within a step. Options are few per step,
// so a linear scan is fine.
func (g *Graph) option(step *Step, optionID string) (*Option, bool) {
	for i := range step.Options {
		if step.Options[i].ID == optionID {
			return &step.Options[i], true
		}
	}
	return nil, false
}
