package api

import (
	"context"
	"time"
)

// StartSessionOptions controls session creation.
type StartSessionOptions struct {
	// WorkflowID selects the registered workflow to walk. Required.
	WorkflowID string

	// BreakdownID is the breakdown the committed group will belong to.
	BreakdownID string

	// GameClockTimestamp optionally anchors the group on the game clock.
	GameClockTimestamp *float64
}

// CommitOptions controls how a completed session is persisted.
type CommitOptions struct {
	// IdempotencyKey, when non-empty, makes the commit safe to retry over
	// an unreliable transport: a store that already holds a group for the
	// key returns that group instead of creating a duplicate. The engine
	// uses the session id when committing automatically.
	IdempotencyKey string
}

// GroupListOptions filters ListGroups. Zero values mean "no filter".
type GroupListOptions struct {
	BreakdownID string
	WorkflowID  string
}

// Engine is the high-level tagging API: it holds registered workflows,
// drives interview sessions, and owns the commit path to the persistence
// boundary.
type Engine interface {
	// RegisterWorkflow validates a workflow definition and stores it.
	RegisterWorkflow(wf Workflow) error

	// GetWorkflow returns a registered workflow by id.
	GetWorkflow(id string) (Workflow, error)

	// StartSession captures the current video timestamp and creates a
	// session at the workflow's first step.
	StartSession(ctx context.Context, opts StartSessionOptions) (*Session, error)

	// GetSession looks up a live session by id.
	GetSession(id string) (*Session, error)

	// Select answers the session's current step. When the selection
	// completes the interview, the engine commits the session; a commit
	// failure is returned alongside the still-completed session, and
	// Commit may be called to retry.
	Select(ctx context.Context, sessionID, optionID string) (*Session, error)

	// ProvideParticipant resumes a session suspended on participant input.
	// Completion triggers commit, as with Select.
	ProvideParticipant(ctx context.Context, sessionID string, p Participant) (*Session, error)

	// ProvideCoordinate resumes a session suspended on coordinate input.
	// Completion triggers commit, as with Select.
	ProvideCoordinate(ctx context.Context, sessionID string, c Coordinate) (*Session, error)

	// CancelSession discards a session. Nothing is persisted.
	CancelSession(ctx context.Context, sessionID string) error

	// Commit persists a completed session's group. It is a retry entry
	// point; successful automatic commits remove the session first.
	Commit(ctx context.Context, sessionID string, opts CommitOptions) (*EventGroup, error)

	// GetGroup returns a committed group with its live events.
	GetGroup(ctx context.Context, groupID string) (*EventGroup, error)

	// ListGroups returns committed groups matching the options.
	ListGroups(ctx context.Context, opts GroupListOptions) ([]*EventGroup, error)

	// PatchGroup repositions a committed group.
	PatchGroup(ctx context.Context, groupID string, patch GroupPatch) (*EventGroup, error)

	// PatchEvent updates a committed event's participant or timestamps.
	PatchEvent(ctx context.Context, eventID string, patch EventPatch) (*Event, error)

	// DeleteGroup soft-deletes a group and all of its events atomically.
	DeleteGroup(ctx context.Context, groupID string) error

	// Seek forwards a seek request to the video clock. Fire-and-forget.
	Seek(seconds float64)

	// ReapIdleSessions cancels sessions idle for at least maxIdle and
	// returns how many were reaped.
	ReapIdleSessions(ctx context.Context, maxIdle time.Duration) int
}
