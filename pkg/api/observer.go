package api

import (
	"context"
	"log/slog"
	"sync/atomic"
)

// Observer receives callbacks from the tagging engine for logging and
// metrics.
//
// Implementations should be fast and non-blocking; heavy work should be done
// asynchronously so as not to delay the interview.
type Observer interface {
	// OnSessionStart is called once when a session is created, after the
	// video timestamp has been captured.
	OnSessionStart(ctx context.Context, s *Session)

	// OnAnswer is called after each accepted selection, before any
	// participant or coordinate input it may still need.
	OnAnswer(ctx context.Context, s *Session, stepID, optionID string)

	// OnAwaitingInput is called when a session suspends to collect a
	// participant or coordinate.
	OnAwaitingInput(ctx context.Context, s *Session, state SessionState)

	// OnSessionCompleted is called when a session reaches StateCompleted,
	// before any commit attempt.
	OnSessionCompleted(ctx context.Context, s *Session)

	// OnSessionCancelled is called for explicit cancellation and for
	// reaper-driven cancellation of idle sessions.
	OnSessionCancelled(ctx context.Context, s *Session)

	// OnCommit is called after a session's group has been persisted.
	OnCommit(ctx context.Context, s *Session, g *EventGroup)

	// OnCommitFailed is called when persisting a completed session fails.
	// The session remains retryable.
	OnCommitFailed(ctx context.Context, s *Session, err error)
}

// NoopObserver is an Observer that does nothing.
// It is used as the default when no observer is configured.
type NoopObserver struct{}

func (NoopObserver) OnSessionStart(ctx context.Context, s *Session)                      {}
func (NoopObserver) OnAnswer(ctx context.Context, s *Session, stepID, optionID string)   {}
func (NoopObserver) OnAwaitingInput(ctx context.Context, s *Session, state SessionState) {}
func (NoopObserver) OnSessionCompleted(ctx context.Context, s *Session)                  {}
func (NoopObserver) OnSessionCancelled(ctx context.Context, s *Session)                  {}
func (NoopObserver) OnCommit(ctx context.Context, s *Session, g *EventGroup)             {}
func (NoopObserver) OnCommitFailed(ctx context.Context, s *Session, err error)           {}

// CompositeObserver fans out events to multiple observers.
type CompositeObserver struct {
	observers []Observer
}

// NewCompositeObserver creates an Observer that forwards events to each
// non-nil observer in obs.
func NewCompositeObserver(obs ...Observer) Observer {
	filtered := make([]Observer, 0, len(obs))
	for _, o := range obs {
		if o != nil {
			filtered = append(filtered, o)
		}
	}
	if len(filtered) == 0 {
		return NoopObserver{}
	}
	if len(filtered) == 1 {
		return filtered[0]
	}
	return &CompositeObserver{observers: filtered}
}

func (c *CompositeObserver) OnSessionStart(ctx context.Context, s *Session) {
	for _, o := range c.observers {
		o.OnSessionStart(ctx, s)
	}
}

func (c *CompositeObserver) OnAnswer(ctx context.Context, s *Session, stepID, optionID string) {
	for _, o := range c.observers {
		o.OnAnswer(ctx, s, stepID, optionID)
	}
}

func (c *CompositeObserver) OnAwaitingInput(ctx context.Context, s *Session, state SessionState) {
	for _, o := range c.observers {
		o.OnAwaitingInput(ctx, s, state)
	}
}

func (c *CompositeObserver) OnSessionCompleted(ctx context.Context, s *Session) {
	for _, o := range c.observers {
		o.OnSessionCompleted(ctx, s)
	}
}

func (c *CompositeObserver) OnSessionCancelled(ctx context.Context, s *Session) {
	for _, o := range c.observers {
		o.OnSessionCancelled(ctx, s)
	}
}

func (c *CompositeObserver) OnCommit(ctx context.Context, s *Session, g *EventGroup) {
	for _, o := range c.observers {
		o.OnCommit(ctx, s, g)
	}
}

func (c *CompositeObserver) OnCommitFailed(ctx context.Context, s *Session, err error) {
	for _, o := range c.observers {
		o.OnCommitFailed(ctx, s, err)
	}
}

// LoggingObserver writes structured logs using log/slog.
type LoggingObserver struct {
	Logger *slog.Logger
}

// NewLoggingObserver creates an Observer that logs session / commit
// lifecycle events using the provided slog.Logger. If logger is nil,
// slog.Default() is used.
func NewLoggingObserver(logger *slog.Logger) Observer {
	if logger == nil {
		logger = slog.Default()
	}
	return &LoggingObserver{Logger: logger}
}

func (o *LoggingObserver) OnSessionStart(ctx context.Context, s *Session) {
	o.Logger.InfoContext(ctx, "session_start",
		slog.String("session_id", s.ID()),
		slog.String("workflow", s.WorkflowID()),
		slog.Float64("video_timestamp", s.VideoTimestamp()),
	)
}

func (o *LoggingObserver) OnAnswer(ctx context.Context, s *Session, stepID, optionID string) {
	o.Logger.DebugContext(ctx, "answer",
		slog.String("session_id", s.ID()),
		slog.String("step", stepID),
		slog.String("option", optionID),
	)
}

func (o *LoggingObserver) OnAwaitingInput(ctx context.Context, s *Session, state SessionState) {
	o.Logger.DebugContext(ctx, "awaiting_input",
		slog.String("session_id", s.ID()),
		slog.String("state", string(state)),
	)
}

func (o *LoggingObserver) OnSessionCompleted(ctx context.Context, s *Session) {
	o.Logger.InfoContext(ctx, "session_completed",
		slog.String("session_id", s.ID()),
		slog.Int("pending_events", len(s.PendingEvents())),
	)
}

func (o *LoggingObserver) OnSessionCancelled(ctx context.Context, s *Session) {
	o.Logger.InfoContext(ctx, "session_cancelled",
		slog.String("session_id", s.ID()),
	)
}

func (o *LoggingObserver) OnCommit(ctx context.Context, s *Session, g *EventGroup) {
	o.Logger.InfoContext(ctx, "commit",
		slog.String("session_id", s.ID()),
		slog.String("group_id", g.ID),
		slog.Int("events", len(g.Events)),
	)
}

func (o *LoggingObserver) OnCommitFailed(ctx context.Context, s *Session, err error) {
	o.Logger.ErrorContext(ctx, "commit_failed",
		slog.String("session_id", s.ID()),
		slog.Any("error", err),
	)
}

// BasicMetrics collects simple counters over session and commit lifecycle.
// It implements Observer, and can be combined with LoggingObserver via
// NewCompositeObserver.
type BasicMetrics struct {
	NoopObserver

	sessionsStarted   atomic.Int64
	sessionsCompleted atomic.Int64
	sessionsCancelled atomic.Int64
	groupsCommitted   atomic.Int64
	eventsCommitted   atomic.Int64
	commitFailures    atomic.Int64
	answers           atomic.Int64
}

// BasicMetricsSnapshot is an immutable snapshot of BasicMetrics.
type BasicMetricsSnapshot struct {
	SessionsStarted   int64
	SessionsCompleted int64
	SessionsCancelled int64
	LiveSessions      int64

	Answers         int64
	GroupsCommitted int64
	EventsCommitted int64
	CommitFailures  int64
}

func (m *BasicMetrics) OnSessionStart(ctx context.Context, s *Session) {
	m.sessionsStarted.Add(1)
}

func (m *BasicMetrics) OnAnswer(ctx context.Context, s *Session, stepID, optionID string) {
	m.answers.Add(1)
}

func (m *BasicMetrics) OnSessionCompleted(ctx context.Context, s *Session) {
	m.sessionsCompleted.Add(1)
}

func (m *BasicMetrics) OnSessionCancelled(ctx context.Context, s *Session) {
	m.sessionsCancelled.Add(1)
}

func (m *BasicMetrics) OnCommit(ctx context.Context, s *Session, g *EventGroup) {
	m.groupsCommitted.Add(1)
	m.eventsCommitted.Add(int64(len(g.Events)))
}

func (m *BasicMetrics) OnCommitFailed(ctx context.Context, s *Session, err error) {
	m.commitFailures.Add(1)
}

// Snapshot returns a snapshot of the current metrics.
func (m *BasicMetrics) Snapshot() BasicMetricsSnapshot {
	started := m.sessionsStarted.Load()
	completed := m.sessionsCompleted.Load()
	cancelled := m.sessionsCancelled.Load()

	return BasicMetricsSnapshot{
		SessionsStarted:   started,
		SessionsCompleted: completed,
		SessionsCancelled: cancelled,
		LiveSessions:      started - completed - cancelled,
		Answers:           m.answers.Load(),
		GroupsCommitted:   m.groupsCommitted.Load(),
		EventsCommitted:   m.eventsCommitted.Load(),
		CommitFailures:    m.commitFailures.Load(),
	}
}

var _ Observer = (*BasicMetrics)(nil)
