package tagflow

import (
	"context"
	"database/sql"
	"time"

	"github.com/breakly/tagflow/internal/engine"
	"github.com/breakly/tagflow/pkg/api"
)

// Re-export key types so users don't need to dig into pkg/api.

type (
	Engine                = api.Engine
	Workflow              = api.Workflow
	Step                  = api.Step
	Option                = api.Option
	Graph                 = api.Graph
	Session               = api.Session
	SessionState          = api.SessionState
	SessionConfig         = api.SessionConfig
	Answer                = api.Answer
	Participant           = api.Participant
	ParticipantConstraint = api.ParticipantConstraint
	Coordinate            = api.Coordinate
	PendingEvent          = api.PendingEvent
	Event                 = api.Event
	EventGroup            = api.EventGroup
	GroupPatch            = api.GroupPatch
	EventPatch            = api.EventPatch
	StartSessionOptions   = api.StartSessionOptions
	CommitOptions         = api.CommitOptions
	GroupListOptions      = api.GroupListOptions
	VideoClock            = api.VideoClock
	ManualClock           = api.ManualClock
	ClockFunc             = api.ClockFunc
	ParticipantLookup     = api.ParticipantLookup
	StaticLookup          = api.StaticLookup
	GraphError            = api.GraphError
	GraphErrorReason      = api.GraphErrorReason
	ParticipantError      = api.ParticipantError
	CoordinateError       = api.CoordinateError
	CommitError           = api.CommitError
	StepKind              = api.StepKind
	Observer              = api.Observer
	LoggingObserver       = api.LoggingObserver
	BasicMetrics          = api.BasicMetrics
	BasicMetricsSnapshot  = api.BasicMetricsSnapshot
	CompositeObserver     = api.CompositeObserver
	NoopObserver          = api.NoopObserver
)

// Re-export constructors and error helpers.

var (
	ParseWorkflow        = api.ParseWorkflow
	NewGraph             = api.NewGraph
	NewSession           = api.NewSession
	NewManualClock       = api.NewManualClock
	NewStaticLookup      = api.NewStaticLookup
	CoordinateMetadata   = api.CoordinateMetadata
	NewLoggingObserver   = api.NewLoggingObserver
	NewCompositeObserver = api.NewCompositeObserver

	IsGraphError        = api.IsGraphError
	IsMissingCopySource = api.IsMissingCopySource
	IsParticipantError  = api.IsParticipantError
	IsCoordinateError   = api.IsCoordinateError
	IsCommitError       = api.IsCommitError

	ErrNoPendingEvents     = api.ErrNoPendingEvents
	ErrParticipantNotFound = api.ErrParticipantNotFound
)

// Re-export session states and participant constraints for convenience.

const (
	StateAwaitingSelection   = api.StateAwaitingSelection
	StateAwaitingParticipant = api.StateAwaitingParticipant
	StateAwaitingCoordinate  = api.StateAwaitingCoordinate
	StateCompleted           = api.StateCompleted
	StateCancelled           = api.StateCancelled

	StepSingleSelect = api.StepSingleSelect

	ParticipantEither = api.ParticipantEither
	ParticipantPlayer = api.ParticipantPlayer
	ParticipantTeam   = api.ParticipantTeam
	ParticipantBoth   = api.ParticipantBoth
)

// Engine constructors
// These wrap the internal/engine package so external callers
// never need to import internal packages.
//
// Every engine needs a VideoClock; the ParticipantLookup may be nil, in
// which case any non-empty player or team reference is accepted.

// NewInMemoryEngine returns an Engine backed entirely by in-memory stores.
func NewInMemoryEngine(clock VideoClock, lookup ParticipantLookup) Engine {
	return engine.NewInMemoryEngine(clock, lookup)
}

// NewInMemoryEngineWithObserver returns an in-memory Engine with the given Observer.
func NewInMemoryEngineWithObserver(clock VideoClock, lookup ParticipantLookup, obs Observer) Engine {
	return engine.NewInMemoryEngineWithObserver(clock, lookup, obs)
}

// NewSQLiteEngine returns an Engine that persists committed event groups in a
// SQLite database. Workflow definitions are kept in-memory.
func NewSQLiteEngine(db *sql.DB, clock VideoClock, lookup ParticipantLookup) (Engine, error) {
	return engine.NewSQLiteEngine(db, clock, lookup)
}

// NewSQLiteEngineWithObserver returns a SQLite-backed Engine with the given Observer.
func NewSQLiteEngineWithObserver(db *sql.DB, clock VideoClock, lookup ParticipantLookup, obs Observer) (Engine, error) {
	return engine.NewSQLiteEngineWithObserver(db, clock, lookup, obs)
}

// NewPostgresEngine returns an Engine that persists committed event groups in
// PostgreSQL. The caller supplies the driver, typically pgx's stdlib adapter.
func NewPostgresEngine(db *sql.DB, clock VideoClock, lookup ParticipantLookup) (Engine, error) {
	return engine.NewPostgresEngine(db, clock, lookup)
}

// NewPostgresEngineWithObserver returns a Postgres-backed Engine with the given Observer.
func NewPostgresEngineWithObserver(db *sql.DB, clock VideoClock, lookup ParticipantLookup, obs Observer) (Engine, error) {
	return engine.NewPostgresEngineWithObserver(db, clock, lookup, obs)
}

// Convenience helpers that just forward to the underlying Engine.

// StartSession starts a new tagging session at the workflow's first step.
func StartSession(ctx context.Context, eng Engine, opts StartSessionOptions) (*Session, error) {
	return eng.StartSession(ctx, opts)
}

// Select answers the session's current step with the given option.
func Select(ctx context.Context, eng Engine, sessionID, optionID string) (*Session, error) {
	return eng.Select(ctx, sessionID, optionID)
}

// ProvideParticipant resumes a session suspended on participant input.
func ProvideParticipant(ctx context.Context, eng Engine, sessionID string, p Participant) (*Session, error) {
	return eng.ProvideParticipant(ctx, sessionID, p)
}

// ProvideCoordinate resumes a session suspended on coordinate input.
func ProvideCoordinate(ctx context.Context, eng Engine, sessionID string, c Coordinate) (*Session, error) {
	return eng.ProvideCoordinate(ctx, sessionID, c)
}

// ReapIdleSessions delegates to eng.ReapIdleSessions.
//
// It is typically called from a ticker goroutine so abandoned interviews do
// not accumulate:
//
//	count := tagflow.ReapIdleSessions(ctx, engine, 5*time.Minute)
func ReapIdleSessions(ctx context.Context, eng Engine, maxIdle time.Duration) int {
	return eng.ReapIdleSessions(ctx, maxIdle)
}
