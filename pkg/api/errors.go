package api

import (
	"errors"
	"fmt"
)

// GraphErrorReason identifies the kind of workflow integrity violation.
type GraphErrorReason string

const (
	ReasonNoFirstStep        GraphErrorReason = "no-first-step"
	ReasonEmptyStepID        GraphErrorReason = "empty-step-id"
	ReasonDuplicateStepID    GraphErrorReason = "duplicate-step-id"
	ReasonUnknownStep        GraphErrorReason = "unknown-step"
	ReasonForeignStep        GraphErrorReason = "foreign-step"
	ReasonForeignOption      GraphErrorReason = "foreign-option"
	ReasonEmptyOptionID      GraphErrorReason = "empty-option-id"
	ReasonDuplicateOptionID  GraphErrorReason = "duplicate-option-id"
	ReasonStepHasNoOptions   GraphErrorReason = "step-has-no-options"
	ReasonCopyWithoutCollect GraphErrorReason = "copy-without-collect"

	// ReasonMissingCopySource is raised at selection time when an option's
	// participant_copy_step_id points at a step that has not been answered
	// yet in the current session.
	ReasonMissingCopySource GraphErrorReason = "missing-copy-source"
)

// GraphError reports a malformed workflow. It is fatal to the session that
// encounters it and is never silently worked around.
type GraphError struct {
	WorkflowID string
	StepID     string
	OptionID   string
	Reason     GraphErrorReason
	msg        string
}

func newGraphError(workflowID, stepID, optionID string, reason GraphErrorReason, msg string) *GraphError {
	return &GraphError{
		WorkflowID: workflowID,
		StepID:     stepID,
		OptionID:   optionID,
		Reason:     reason,
		msg:        msg,
	}
}

func (e *GraphError) Error() string {
	s := fmt.Sprintf("tagflow: workflow %s: %s (%s)", e.WorkflowID, e.msg, e.Reason)
	if e.StepID != "" {
		s += " step=" + e.StepID
	}
	if e.OptionID != "" {
		s += " option=" + e.OptionID
	}
	return s
}

// IsGraphError returns the *GraphError inside err, if any.
func IsGraphError(err error) (*GraphError, bool) {
	var g *GraphError
	if errors.As(err, &g) {
		return g, true
	}
	return nil, false
}

// IsMissingCopySource reports whether err is a GraphError raised because a
// participant copy source has not been answered in the session.
func IsMissingCopySource(err error) bool {
	g, ok := IsGraphError(err)
	return ok && g.Reason == ReasonMissingCopySource
}

// ParticipantError reports an invalid or unresolvable participant answer.
// It is recoverable: the session state is unchanged and the caller may
// supply a corrected participant.
type ParticipantError struct {
	SessionID string
	StepID    string
	OptionID  string
	Cause     error
	msg       string
}

func (e *ParticipantError) Error() string {
	s := fmt.Sprintf("tagflow: session %s: participant rejected: %s", e.SessionID, e.msg)
	if e.Cause != nil {
		s += ": " + e.Cause.Error()
	}
	return s
}

func (e *ParticipantError) Unwrap() error { return e.Cause }

// IsParticipantError returns the *ParticipantError inside err, if any.
func IsParticipantError(err error) (*ParticipantError, bool) {
	var p *ParticipantError
	if errors.As(err, &p) {
		return p, true
	}
	return nil, false
}

// CoordinateError reports an invalid coordinate answer. Like
// ParticipantError it is recoverable.
type CoordinateError struct {
	SessionID string
	StepID    string
	OptionID  string
	msg       string
}

func (e *CoordinateError) Error() string {
	return fmt.Sprintf("tagflow: session %s: coordinate rejected: %s", e.SessionID, e.msg)
}

// IsCoordinateError returns the *CoordinateError inside err, if any.
func IsCoordinateError(err error) (*CoordinateError, bool) {
	var c *CoordinateError
	if errors.As(err, &c) {
		return c, true
	}
	return nil, false
}

// CommitError reports a persistence failure while committing a completed
// session. The session remains completed-but-uncommitted and the commit may
// be retried.
type CommitError struct {
	SessionID string
	Cause     error
}

func (e *CommitError) Error() string {
	return fmt.Sprintf("tagflow: session %s: commit failed: %v", e.SessionID, e.Cause)
}

func (e *CommitError) Unwrap() error { return e.Cause }

// IsCommitError returns the *CommitError inside err, if any.
func IsCommitError(err error) (*CommitError, bool) {
	var c *CommitError
	if errors.As(err, &c) {
		return c, true
	}
	return nil, false
}

// ErrNoPendingEvents is returned when a completed session holds no pending
// events; there is nothing to persist, and no group is created.
var ErrNoPendingEvents = errors.New("tagflow: session completed with no pending events")

// ErrParticipantNotFound is returned by ParticipantLookup implementations
// when a referenced player or team does not exist.
var ErrParticipantNotFound = errors.New("tagflow: participant not found")
