package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/breakly/tagflow/internal/persistence"
	"github.com/breakly/tagflow/pkg/api"
)

// engineImpl is a synchronous, in-process engine implementation. Live
// sessions are held in memory only: sessions are ephemeral by contract and
// nothing about an uncommitted interview survives the process.
type engineImpl struct {
	workflows persistence.GraphStore
	groups    persistence.GroupStore

	clock    api.VideoClock
	lookup   api.ParticipantLookup
	observer api.Observer

	mu       sync.Mutex // guards the registry map only
	sessions map[string]*liveSession
}

// liveSession pairs a session with the lock that serializes everything that
// mutates it: the caller driving the interview, commit retries, explicit
// cancellation, and the idle reaper. The session itself stays lock-free.
type liveSession struct {
	mu   sync.Mutex
	sess *api.Session
}

// Config describes how to construct an engineImpl.
// Only used inside this package and the backend wrapper modules; external
// callers use the helper functions.
type Config struct {
	Persistence persistence.Persistence
	Clock       api.VideoClock
	Lookup      api.ParticipantLookup
	Observer    api.Observer
}

func NewInMemoryEngine(clock api.VideoClock, lookup api.ParticipantLookup) api.Engine {
	return NewInMemoryEngineWithObserver(clock, lookup, nil)
}

func NewInMemoryEngineWithObserver(clock api.VideoClock, lookup api.ParticipantLookup, obs api.Observer) api.Engine {
	mem := persistence.NewInMemoryStore()
	return NewEngineWithConfig(Config{
		Persistence: persistence.Persistence{
			Workflows: mem,
			Groups:    mem,
		},
		Clock:    clock,
		Lookup:   lookup,
		Observer: obs,
	})
}

func NewSQLiteEngine(db *sql.DB, clock api.VideoClock, lookup api.ParticipantLookup) (api.Engine, error) {
	return NewSQLiteEngineWithObserver(db, clock, lookup, nil)
}

func NewSQLiteEngineWithObserver(db *sql.DB, clock api.VideoClock, lookup api.ParticipantLookup, obs api.Observer) (api.Engine, error) {
	groups, err := persistence.NewSQLiteGroupStore(db)
	if err != nil {
		return nil, err
	}
	// Workflow definitions remain in-memory; they are authored upstream and
	// re-registered on startup.
	memWF := persistence.NewInMemoryStore()

	return NewEngineWithConfig(Config{
		Persistence: persistence.Persistence{
			Workflows: memWF,
			Groups:    groups,
		},
		Clock:    clock,
		Lookup:   lookup,
		Observer: obs,
	}), nil
}

func NewPostgresEngine(db *sql.DB, clock api.VideoClock, lookup api.ParticipantLookup) (api.Engine, error) {
	return NewPostgresEngineWithObserver(db, clock, lookup, nil)
}

func NewPostgresEngineWithObserver(db *sql.DB, clock api.VideoClock, lookup api.ParticipantLookup, obs api.Observer) (api.Engine, error) {
	groups, err := persistence.NewPostgresGroupStore(db)
	if err != nil {
		return nil, err
	}
	// Workflow definitions remain in-memory, just like SQLite.
	memWF := persistence.NewInMemoryStore()

	return NewEngineWithConfig(Config{
		Persistence: persistence.Persistence{
			Workflows: memWF,
			Groups:    groups,
		},
		Clock:    clock,
		Lookup:   lookup,
		Observer: obs,
	}), nil
}

// NewEngineWithConfig creates a new Engine using the given configuration.
func NewEngineWithConfig(cfg Config) api.Engine {
	obs := cfg.Observer
	if obs == nil {
		obs = api.NoopObserver{}
	}
	return &engineImpl{
		workflows: cfg.Persistence.Workflows,
		groups:    cfg.Persistence.Groups,
		clock:     cfg.Clock,
		lookup:    cfg.Lookup,
		observer:  obs,
		sessions:  make(map[string]*liveSession),
	}
}

func (e *engineImpl) RegisterWorkflow(wf api.Workflow) error {
	if wf.ID == "" {
		return errors.New("workflow id is required")
	}
	if _, err := api.NewGraph(wf); err != nil {
		return err
	}

	if existing, err := e.workflows.GetWorkflow(wf.ID); err == nil && existing.ID != "" {
		return fmt.Errorf("workflow already registered: %s", wf.ID)
	} else if err != nil && !errors.Is(err, persistence.ErrWorkflowNotFound) {
		// Unexpected store error.
		return err
	}

	return e.workflows.SaveWorkflow(wf)
}

func (e *engineImpl) GetWorkflow(id string) (api.Workflow, error) {
	wf, err := e.workflows.GetWorkflow(id)
	if err != nil {
		if errors.Is(err, persistence.ErrWorkflowNotFound) {
			return api.Workflow{}, fmt.Errorf("unknown workflow: %s", id)
		}
		return api.Workflow{}, err
	}
	return wf, nil
}

func (e *engineImpl) StartSession(ctx context.Context, opts api.StartSessionOptions) (*api.Session, error) {
	if e.clock == nil {
		return nil, errors.New("engine has no video clock")
	}

	wf, err := e.workflows.GetWorkflow(opts.WorkflowID)
	if err != nil {
		if errors.Is(err, persistence.ErrWorkflowNotFound) {
			return nil, fmt.Errorf("unknown workflow: %s", opts.WorkflowID)
		}
		return nil, err
	}

	graph, err := api.NewGraph(wf)
	if err != nil {
		return nil, err
	}

	sess, err := api.NewSession(api.SessionConfig{
		ID:                 uuid.NewString(),
		Graph:              graph,
		BreakdownID:        opts.BreakdownID,
		Clock:              e.clock,
		GameClockTimestamp: opts.GameClockTimestamp,
		Lookup:             e.lookup,
	})
	if err != nil {
		return nil, err
	}

	e.mu.Lock()
	e.sessions[sess.ID()] = &liveSession{sess: sess}
	e.mu.Unlock()

	e.observer.OnSessionStart(ctx, sess)

	return sess, nil
}

func (e *engineImpl) GetSession(id string) (*api.Session, error) {
	ls, err := e.getLive(id)
	if err != nil {
		return nil, err
	}
	return ls.sess, nil
}

func (e *engineImpl) getLive(id string) (*liveSession, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	ls, ok := e.sessions[id]
	if !ok {
		return nil, fmt.Errorf("session not found: %s", id)
	}
	return ls, nil
}

func (e *engineImpl) Select(ctx context.Context, sessionID, optionID string) (*api.Session, error) {
	ls, err := e.getLive(sessionID)
	if err != nil {
		return nil, err
	}
	ls.mu.Lock()
	defer ls.mu.Unlock()
	sess := ls.sess

	stepID := ""
	if step := sess.CurrentStep(); step != nil {
		stepID = step.ID
	}

	if err := sess.Select(optionID); err != nil {
		return sess, err
	}

	e.observer.OnAnswer(ctx, sess, stepID, optionID)
	return e.afterAdvance(ctx, sess)
}

func (e *engineImpl) ProvideParticipant(ctx context.Context, sessionID string, p api.Participant) (*api.Session, error) {
	ls, err := e.getLive(sessionID)
	if err != nil {
		return nil, err
	}
	ls.mu.Lock()
	defer ls.mu.Unlock()

	if err := ls.sess.ProvideParticipant(ctx, p); err != nil {
		return ls.sess, err
	}

	return e.afterAdvance(ctx, ls.sess)
}

func (e *engineImpl) ProvideCoordinate(ctx context.Context, sessionID string, c api.Coordinate) (*api.Session, error) {
	ls, err := e.getLive(sessionID)
	if err != nil {
		return nil, err
	}
	ls.mu.Lock()
	defer ls.mu.Unlock()

	if err := ls.sess.ProvideCoordinate(c); err != nil {
		return ls.sess, err
	}

	return e.afterAdvance(ctx, ls.sess)
}

// afterAdvance reports suspension to the observer and, when the interview
// just completed, triggers the commit path.
func (e *engineImpl) afterAdvance(ctx context.Context, sess *api.Session) (*api.Session, error) {
	switch sess.State() {
	case api.StateAwaitingParticipant, api.StateAwaitingCoordinate:
		e.observer.OnAwaitingInput(ctx, sess, sess.State())
		return sess, nil
	case api.StateCompleted:
		e.observer.OnSessionCompleted(ctx, sess)
		// The session id doubles as the idempotency key, so retrying a
		// failed automatic commit can never duplicate the group.
		if _, err := e.commit(ctx, sess, sess.ID()); err != nil {
			return sess, err
		}
		return sess, nil
	default:
		return sess, nil
	}
}

func (e *engineImpl) CancelSession(ctx context.Context, sessionID string) error {
	ls, err := e.getLive(sessionID)
	if err != nil {
		return err
	}

	ls.mu.Lock()
	ls.sess.Cancel()
	ls.mu.Unlock()

	e.mu.Lock()
	delete(e.sessions, sessionID)
	e.mu.Unlock()

	e.observer.OnSessionCancelled(ctx, ls.sess)
	return nil
}

func (e *engineImpl) Commit(ctx context.Context, sessionID string, opts api.CommitOptions) (*api.EventGroup, error) {
	ls, err := e.getLive(sessionID)
	if err != nil {
		return nil, err
	}
	ls.mu.Lock()
	defer ls.mu.Unlock()

	key := opts.IdempotencyKey
	if key == "" {
		key = ls.sess.ID()
	}
	return e.commit(ctx, ls.sess, key)
}

// commit converts a completed session into one EventGroup plus its events
// and persists them in a single store call. On success the session is
// removed from the registry; on failure it stays completed and retryable.
func (e *engineImpl) commit(ctx context.Context, sess *api.Session, idempotencyKey string) (*api.EventGroup, error) {
	if sess.State() != api.StateCompleted {
		return nil, fmt.Errorf("cannot commit session %s in state %s", sess.ID(), sess.State())
	}

	pending := sess.PendingEvents()
	if len(pending) == 0 {
		return nil, api.ErrNoPendingEvents
	}

	group := &api.EventGroup{
		ID:                 uuid.NewString(),
		BreakdownID:        sess.BreakdownID(),
		WorkflowID:         sess.WorkflowID(),
		VideoTimestamp:     sess.VideoTimestamp(),
		GameClockTimestamp: sess.GameClockTimestamp(),
		CreatedAt:          time.Now(),
	}

	for _, pe := range pending {
		ev := api.Event{
			ID:                 uuid.NewString(),
			GroupID:            group.ID,
			EventTypeID:        pe.EventTypeID,
			VideoTimestamp:     pe.VideoTimestamp,
			GameClockTimestamp: pe.GameClockTimestamp,
		}
		if pe.Participant != nil {
			ev.PlayerID = pe.Participant.PlayerID
			ev.TeamID = pe.Participant.TeamID
		}
		if pe.Coordinate != nil {
			ev.Metadata = api.CoordinateMetadata(*pe.Coordinate)
		}
		group.Events = append(group.Events, ev)
	}

	stored, err := e.groups.CreateGroup(ctx, group, idempotencyKey)
	if err != nil {
		commitErr := &api.CommitError{SessionID: sess.ID(), Cause: err}
		e.observer.OnCommitFailed(ctx, sess, commitErr)
		return nil, commitErr
	}

	sess.MarkCommitted(stored)

	e.mu.Lock()
	delete(e.sessions, sess.ID())
	e.mu.Unlock()

	e.observer.OnCommit(ctx, sess, stored)
	return stored, nil
}

func (e *engineImpl) GetGroup(ctx context.Context, groupID string) (*api.EventGroup, error) {
	g, err := e.groups.GetGroup(ctx, groupID)
	if err != nil {
		if errors.Is(err, persistence.ErrGroupNotFound) {
			return nil, fmt.Errorf("event group not found: %s", groupID)
		}
		return nil, err
	}
	return g, nil
}

func (e *engineImpl) ListGroups(ctx context.Context, opts api.GroupListOptions) ([]*api.EventGroup, error) {
	return e.groups.ListGroups(ctx, persistence.GroupFilter{
		BreakdownID: opts.BreakdownID,
		WorkflowID:  opts.WorkflowID,
	})
}

func (e *engineImpl) PatchGroup(ctx context.Context, groupID string, patch api.GroupPatch) (*api.EventGroup, error) {
	g, err := e.groups.PatchGroup(ctx, groupID, patch)
	if err != nil {
		if errors.Is(err, persistence.ErrGroupNotFound) {
			return nil, fmt.Errorf("event group not found: %s", groupID)
		}
		return nil, err
	}
	return g, nil
}

func (e *engineImpl) PatchEvent(ctx context.Context, eventID string, patch api.EventPatch) (*api.Event, error) {
	ev, err := e.groups.PatchEvent(ctx, eventID, patch)
	if err != nil {
		if errors.Is(err, persistence.ErrEventNotFound) {
			return nil, fmt.Errorf("event not found: %s", eventID)
		}
		return nil, err
	}
	return ev, nil
}

func (e *engineImpl) DeleteGroup(ctx context.Context, groupID string) error {
	if err := e.groups.DeleteGroup(ctx, groupID); err != nil {
		if errors.Is(err, persistence.ErrGroupNotFound) {
			return fmt.Errorf("event group not found: %s", groupID)
		}
		return err
	}
	return nil
}

func (e *engineImpl) Seek(seconds float64) {
	if e.clock != nil {
		e.clock.Seek(seconds)
	}
}

func (e *engineImpl) ReapIdleSessions(ctx context.Context, maxIdle time.Duration) int {
	cutoff := time.Now().Add(-maxIdle)

	e.mu.Lock()
	candidates := make([]*liveSession, 0, len(e.sessions))
	for _, ls := range e.sessions {
		candidates = append(candidates, ls)
	}
	e.mu.Unlock()

	reaped := 0
	for _, ls := range candidates {
		// Taking the session lock means a driver mid-call finishes first;
		// its activity bump then disqualifies the session below. Sessions
		// that completed under us are left for the commit retry path.
		ls.mu.Lock()
		sess := ls.sess
		idle := !sess.LastActivity().After(cutoff) &&
			sess.State() != api.StateCompleted &&
			sess.State() != api.StateCancelled
		if idle {
			sess.Cancel()
		}
		ls.mu.Unlock()

		if !idle {
			continue
		}

		e.mu.Lock()
		delete(e.sessions, sess.ID())
		e.mu.Unlock()

		e.observer.OnSessionCancelled(ctx, sess)
		reaped++
	}
	return reaped
}
