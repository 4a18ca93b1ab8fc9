package tagflow

import (
	"fmt"

	"github.com/breakly/tagflow/pkg/api"
)

// WorkflowBuilder provides a fluent API for defining workflows in Go:
//
//	wf := tagflow.NewWorkflowBuilder("rebound", "nba", "Rebound").
//	    Step("kind", "What kind of rebound?",
//	        tagflow.Opt("off", "Offensive", tagflow.EmitEvent("OREB"), tagflow.Next("who")),
//	        tagflow.Opt("def", "Defensive", tagflow.EmitEvent("DREB"), tagflow.Next("who")),
//	    ).
//	    Step("who", "Who grabbed it?",
//	        tagflow.Opt("player", "Player", tagflow.CollectPlayer("Select rebounder")),
//	        tagflow.Opt("team", "Team", tagflow.CollectTeam("Select team")),
//	    ).
//	    MustBuild()
//
//	if err := engine.RegisterWorkflow(wf); err != nil {
//	    log.Fatal(err)
//	}
//
// The first Step call becomes the workflow's first step unless First is used.
type WorkflowBuilder struct {
	wf api.Workflow
}

// NewWorkflowBuilder creates a builder for a workflow with the given id,
// collection id, and display name.
func NewWorkflowBuilder(id, collectionID, name string) *WorkflowBuilder {
	return &WorkflowBuilder{
		wf: api.Workflow{
			ID:           id,
			CollectionID: collectionID,
			Name:         name,
			Steps:        make([]api.Step, 0),
		},
	}
}

// OptionMod customizes one option of a step.
type OptionMod func(*api.Option)

// Next routes the interview to stepID after this option. Options without
// Next end the interview.
func Next(stepID string) OptionMod {
	return func(o *api.Option) { o.NextStepID = stepID }
}

// EmitEvent makes the option contribute a draft event with the given event
// type when chosen.
func EmitEvent(eventTypeID string) OptionMod {
	return func(o *api.Option) { o.EventTypeID = eventTypeID }
}

// CollectParticipant makes the option prompt for a participant under the
// given constraint.
func CollectParticipant(prompt string, constraint ParticipantConstraint) OptionMod {
	return func(o *api.Option) {
		o.CollectParticipant = true
		o.ParticipantPrompt = prompt
		o.ParticipantConstraint = constraint
	}
}

// CollectPlayer makes the option prompt for a player reference.
func CollectPlayer(prompt string) OptionMod {
	return CollectParticipant(prompt, api.ParticipantPlayer)
}

// CollectTeam makes the option prompt for a team reference.
func CollectTeam(prompt string) OptionMod {
	return CollectParticipant(prompt, api.ParticipantTeam)
}

// CopyParticipantFrom reuses the participant recorded for an earlier step
// instead of prompting. The option must also collect a participant.
func CopyParticipantFrom(stepID string) OptionMod {
	return func(o *api.Option) {
		o.CollectParticipant = true
		o.ParticipantCopyStepID = stepID
	}
}

// CollectCoordinate makes the option prompt for a location on the given
// reference image.
func CollectCoordinate(prompt, imageID string) OptionMod {
	return func(o *api.Option) {
		o.CollectCoordinate = true
		o.CoordinatePrompt = prompt
		o.CoordinateImageID = imageID
	}
}

// Opt defines one option of a step. Display order follows argument order.
func Opt(id, label string, mods ...OptionMod) api.Option {
	o := api.Option{ID: id, Label: label}
	for _, mod := range mods {
		mod(&o)
	}
	return o
}

// Step appends a single-select step with the given options. The first step
// added becomes the workflow's entry point unless First overrides it.
func (b *WorkflowBuilder) Step(id, prompt string, options ...api.Option) *WorkflowBuilder {
	if id == "" {
		panic("tagflow: step id must not be empty")
	}
	if len(options) == 0 {
		panic(fmt.Sprintf("tagflow: step %q has no options", id))
	}

	step := api.Step{
		ID:         id,
		WorkflowID: b.wf.ID,
		Prompt:     prompt,
		Kind:       api.StepSingleSelect,
		Options:    make([]api.Option, len(options)),
	}
	for i, o := range options {
		o.StepID = id
		o.DisplayOrder = i
		step.Options[i] = o
	}

	b.wf.Steps = append(b.wf.Steps, step)
	if b.wf.FirstStepID == "" {
		b.wf.FirstStepID = id
	}
	return b
}

// First sets the workflow's entry step explicitly.
func (b *WorkflowBuilder) First(stepID string) *WorkflowBuilder {
	b.wf.FirstStepID = stepID
	return b
}

// SystemReserved marks the workflow as league-managed rather than
// user-authored.
func (b *WorkflowBuilder) SystemReserved() *WorkflowBuilder {
	b.wf.SystemReserved = true
	return b
}

// Definition returns the workflow built so far, without validating it.
// Typically used when interacting with lower-level APIs.
func (b *WorkflowBuilder) Definition() Workflow {
	return b.wf
}

// Build validates the workflow and returns it.
func (b *WorkflowBuilder) Build() (Workflow, error) {
	if _, err := api.NewGraph(b.wf); err != nil {
		return Workflow{}, err
	}
	return b.wf, nil
}

// MustBuild is like Build but panics on error.
// Useful for initialization in main().
func (b *WorkflowBuilder) MustBuild() Workflow {
	wf, err := b.Build()
	if err != nil {
		panic(err)
	}
	return wf
}

// Register builds the workflow and registers it with the given engine.
func (b *WorkflowBuilder) Register(eng Engine) error {
	wf, err := b.Build()
	if err != nil {
		return err
	}
	return eng.RegisterWorkflow(wf)
}

// MustRegister is like Register but panics on error.
func (b *WorkflowBuilder) MustRegister(eng Engine) {
	if err := b.Register(eng); err != nil {
		panic(err)
	}
}
