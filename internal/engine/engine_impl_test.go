package engine

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/breakly/tagflow/internal/persistence"
	"github.com/breakly/tagflow/pkg/api"
)

func reboundWorkflow() api.Workflow {
	return api.Workflow{
		ID:           "missed-shot",
		CollectionID: "nba",
		Name:         "Missed shot",
		FirstStepID:  "outcome",
		Steps: []api.Step{
			{
				ID: "outcome", WorkflowID: "missed-shot", Prompt: "Made or missed?",
				Kind: api.StepSingleSelect,
				Options: []api.Option{
					{ID: "made", StepID: "outcome", Label: "Made", EventTypeID: "FGM"},
					{
						ID: "missed", StepID: "outcome", Label: "Missed",
						EventTypeID: "FGA", NextStepID: "rebound",
					},
				},
			},
			{
				ID: "rebound", WorkflowID: "missed-shot", Prompt: "Rebound?",
				Kind: api.StepSingleSelect,
				Options: []api.Option{
					{
						ID: "player", StepID: "rebound", Label: "Player",
						EventTypeID:        "REB",
						CollectParticipant: true,
						ParticipantPrompt:  "Who grabbed it?",
					},
					{ID: "oob", StepID: "rebound", Label: "Out of bounds"},
				},
			},
		},
	}
}

func newTestEngine(t *testing.T, clock api.VideoClock) api.Engine {
	t.Helper()

	eng := NewInMemoryEngine(clock, nil)
	if err := eng.RegisterWorkflow(reboundWorkflow()); err != nil {
		t.Fatalf("RegisterWorkflow failed: %v", err)
	}
	return eng
}

func TestRegisterWorkflowValidates(t *testing.T) {
	eng := NewInMemoryEngine(api.NewManualClock(0), nil)

	bad := reboundWorkflow()
	bad.FirstStepID = "ghost"
	if err := eng.RegisterWorkflow(bad); err == nil {
		t.Fatalf("invalid workflow must be rejected")
	}

	good := reboundWorkflow()
	if err := eng.RegisterWorkflow(good); err != nil {
		t.Fatalf("RegisterWorkflow failed: %v", err)
	}
	if err := eng.RegisterWorkflow(good); err == nil {
		t.Fatalf("duplicate registration must fail")
	}

	wf, err := eng.GetWorkflow("missed-shot")
	if err != nil || wf.Name != "Missed shot" {
		t.Fatalf("GetWorkflow returned %+v, %v", wf, err)
	}
	if _, err := eng.GetWorkflow("ghost"); err == nil {
		t.Fatalf("expected error for unknown workflow")
	}
}

func TestStartSessionAnchorsTimestamp(t *testing.T) {
	ctx := context.Background()
	clock := api.NewManualClock(754.2)
	eng := newTestEngine(t, clock)

	sess, err := eng.StartSession(ctx, api.StartSessionOptions{
		WorkflowID:  "missed-shot",
		BreakdownID: "game-1",
	})
	if err != nil {
		t.Fatalf("StartSession failed: %v", err)
	}

	// The playhead keeps moving during the interview; the session does not.
	clock.Set(780)

	if sess.VideoTimestamp() != 754.2 {
		t.Fatalf("expected anchored timestamp 754.2, got %v", sess.VideoTimestamp())
	}
	if sess.State() != api.StateAwaitingSelection {
		t.Fatalf("unexpected state %s", sess.State())
	}

	got, err := eng.GetSession(sess.ID())
	if err != nil || got.ID() != sess.ID() {
		t.Fatalf("GetSession returned %v, %v", got, err)
	}

	if _, err := eng.StartSession(ctx, api.StartSessionOptions{WorkflowID: "ghost"}); err == nil {
		t.Fatalf("expected error for unknown workflow")
	}
}

func TestCompletionCommitsAtomically(t *testing.T) {
	ctx := context.Background()
	clock := api.NewManualClock(754.2)
	eng := newTestEngine(t, clock)

	sess, err := eng.StartSession(ctx, api.StartSessionOptions{
		WorkflowID:  "missed-shot",
		BreakdownID: "game-1",
	})
	if err != nil {
		t.Fatalf("StartSession failed: %v", err)
	}

	if _, err := eng.Select(ctx, sess.ID(), "missed"); err != nil {
		t.Fatalf("Select failed: %v", err)
	}
	if _, err := eng.Select(ctx, sess.ID(), "player"); err != nil {
		t.Fatalf("Select failed: %v", err)
	}
	sess, err = eng.ProvideParticipant(ctx, sess.ID(), api.Participant{PlayerID: "player-7"})
	if err != nil {
		t.Fatalf("ProvideParticipant failed: %v", err)
	}

	if sess.State() != api.StateCompleted {
		t.Fatalf("expected Completed, got %s", sess.State())
	}
	group := sess.CommittedGroup()
	if group == nil {
		t.Fatalf("completion must commit the group")
	}
	if len(group.Events) != 2 {
		t.Fatalf("expected 2 events, got %d", len(group.Events))
	}
	if group.BreakdownID != "game-1" || group.VideoTimestamp != 754.2 {
		t.Fatalf("unexpected group: %+v", group)
	}
	if group.Events[0].EventTypeID != "FGA" || group.Events[1].PlayerID != "player-7" {
		t.Fatalf("unexpected events: %+v", group.Events)
	}

	// Committed sessions leave the registry.
	if _, err := eng.GetSession(sess.ID()); err == nil {
		t.Fatalf("committed session should be gone")
	}

	// The group is readable through the engine.
	got, err := eng.GetGroup(ctx, group.ID)
	if err != nil || got.ID != group.ID {
		t.Fatalf("GetGroup returned %v, %v", got, err)
	}
	groups, err := eng.ListGroups(ctx, api.GroupListOptions{BreakdownID: "game-1"})
	if err != nil || len(groups) != 1 {
		t.Fatalf("ListGroups returned %d, %v", len(groups), err)
	}
}

func TestCompletionWithoutEventsCommitsNothing(t *testing.T) {
	ctx := context.Background()
	eng := NewInMemoryEngine(api.NewManualClock(0), nil)

	wf := api.Workflow{
		ID: "note", CollectionID: "nba", Name: "Note", FirstStepID: "only",
		Steps: []api.Step{
			{
				ID: "only", WorkflowID: "note", Prompt: "Done?", Kind: api.StepSingleSelect,
				Options: []api.Option{{ID: "yes", StepID: "only", Label: "Yes"}},
			},
		},
	}
	if err := eng.RegisterWorkflow(wf); err != nil {
		t.Fatalf("RegisterWorkflow failed: %v", err)
	}

	sess, err := eng.StartSession(ctx, api.StartSessionOptions{WorkflowID: "note"})
	if err != nil {
		t.Fatalf("StartSession failed: %v", err)
	}

	sess, err = eng.Select(ctx, sess.ID(), "yes")
	if !errors.Is(err, api.ErrNoPendingEvents) {
		t.Fatalf("expected ErrNoPendingEvents, got %v", err)
	}
	if sess.State() != api.StateCompleted {
		t.Fatalf("session itself still completes, got %s", sess.State())
	}

	groups, err := eng.ListGroups(ctx, api.GroupListOptions{})
	if err != nil || len(groups) != 0 {
		t.Fatalf("nothing may be persisted, got %d, %v", len(groups), err)
	}
}

// failingGroupStore wraps an InMemoryStore and fails CreateGroup until
// unblocked.
type failingGroupStore struct {
	*persistence.InMemoryStore
	fail bool
}

func (f *failingGroupStore) CreateGroup(ctx context.Context, g *api.EventGroup, key string) (*api.EventGroup, error) {
	if f.fail {
		return nil, errors.New("backend unavailable")
	}
	return f.InMemoryStore.CreateGroup(ctx, g, key)
}

func TestCommitFailureIsRetryable(t *testing.T) {
	ctx := context.Background()
	mem := persistence.NewInMemoryStore()
	store := &failingGroupStore{InMemoryStore: mem, fail: true}

	eng := NewEngineWithConfig(Config{
		Persistence: persistence.Persistence{Workflows: mem, Groups: store},
		Clock:       api.NewManualClock(100),
	})
	if err := eng.RegisterWorkflow(reboundWorkflow()); err != nil {
		t.Fatalf("RegisterWorkflow failed: %v", err)
	}

	sess, err := eng.StartSession(ctx, api.StartSessionOptions{WorkflowID: "missed-shot", BreakdownID: "game-1"})
	if err != nil {
		t.Fatalf("StartSession failed: %v", err)
	}

	sess, err = eng.Select(ctx, sess.ID(), "made")
	ce, ok := api.IsCommitError(err)
	if !ok {
		t.Fatalf("expected CommitError, got %v", err)
	}
	if ce.SessionID != sess.ID() {
		t.Fatalf("error should name the session: %+v", ce)
	}
	if sess.State() != api.StateCompleted {
		t.Fatalf("session must stay completed for retry, got %s", sess.State())
	}
	if sess.CommittedGroup() != nil {
		t.Fatalf("nothing was committed yet")
	}
	// The session is still registered for the retry.
	if _, err := eng.GetSession(sess.ID()); err != nil {
		t.Fatalf("session must remain retryable: %v", err)
	}

	store.fail = false
	group, err := eng.Commit(ctx, sess.ID(), api.CommitOptions{})
	if err != nil {
		t.Fatalf("retried Commit failed: %v", err)
	}
	if len(group.Events) != 1 || group.Events[0].EventTypeID != "FGM" {
		t.Fatalf("unexpected group: %+v", group)
	}
	if _, err := eng.GetSession(sess.ID()); err == nil {
		t.Fatalf("session should be gone after successful retry")
	}
}

func TestCommitIsIdempotentPerSession(t *testing.T) {
	ctx := context.Background()
	mem := persistence.NewInMemoryStore()
	eng := NewEngineWithConfig(Config{
		Persistence: persistence.Persistence{Workflows: mem, Groups: mem},
		Clock:       api.NewManualClock(5),
	})
	if err := eng.RegisterWorkflow(reboundWorkflow()); err != nil {
		t.Fatalf("RegisterWorkflow failed: %v", err)
	}

	sess, err := eng.StartSession(ctx, api.StartSessionOptions{WorkflowID: "missed-shot", BreakdownID: "game-1"})
	if err != nil {
		t.Fatalf("StartSession failed: %v", err)
	}
	sess, err = eng.Select(ctx, sess.ID(), "made")
	if err != nil {
		t.Fatalf("Select failed: %v", err)
	}

	first := sess.CommittedGroup()
	if first == nil {
		t.Fatalf("expected automatic commit")
	}

	// Retrying through the store with the same key changes nothing.
	dup, err := mem.CreateGroup(ctx, &api.EventGroup{ID: "other"}, sess.ID())
	if err != nil {
		t.Fatalf("CreateGroup failed: %v", err)
	}
	if dup.ID != first.ID {
		t.Fatalf("idempotency key must map to the original group")
	}
}

func TestPatchAndDeleteThroughEngine(t *testing.T) {
	ctx := context.Background()
	eng := newTestEngine(t, api.NewManualClock(60))

	sess, err := eng.StartSession(ctx, api.StartSessionOptions{WorkflowID: "missed-shot", BreakdownID: "game-1"})
	if err != nil {
		t.Fatalf("StartSession failed: %v", err)
	}
	sess, err = eng.Select(ctx, sess.ID(), "made")
	if err != nil {
		t.Fatalf("Select failed: %v", err)
	}
	group := sess.CommittedGroup()

	ts := 58.5
	patched, err := eng.PatchGroup(ctx, group.ID, api.GroupPatch{VideoTimestamp: &ts})
	if err != nil || patched.VideoTimestamp != 58.5 {
		t.Fatalf("PatchGroup returned %+v, %v", patched, err)
	}

	player := "player-23"
	ev, err := eng.PatchEvent(ctx, group.Events[0].ID, api.EventPatch{PlayerID: &player})
	if err != nil || ev.PlayerID != "player-23" {
		t.Fatalf("PatchEvent returned %+v, %v", ev, err)
	}

	if err := eng.DeleteGroup(ctx, group.ID); err != nil {
		t.Fatalf("DeleteGroup failed: %v", err)
	}
	if _, err := eng.GetGroup(ctx, group.ID); err == nil {
		t.Fatalf("deleted group must not be readable")
	}
	if err := eng.DeleteGroup(ctx, group.ID); err == nil {
		t.Fatalf("double delete must fail")
	}
}

func TestCancelSession(t *testing.T) {
	ctx := context.Background()
	eng := newTestEngine(t, api.NewManualClock(0))

	sess, err := eng.StartSession(ctx, api.StartSessionOptions{WorkflowID: "missed-shot"})
	if err != nil {
		t.Fatalf("StartSession failed: %v", err)
	}

	if err := eng.CancelSession(ctx, sess.ID()); err != nil {
		t.Fatalf("CancelSession failed: %v", err)
	}
	if sess.State() != api.StateCancelled {
		t.Fatalf("expected Cancelled, got %s", sess.State())
	}
	if _, err := eng.GetSession(sess.ID()); err == nil {
		t.Fatalf("cancelled session should be gone")
	}

	groups, err := eng.ListGroups(ctx, api.GroupListOptions{})
	if err != nil || len(groups) != 0 {
		t.Fatalf("cancellation must not persist anything")
	}
}

func TestReapIdleSessions(t *testing.T) {
	ctx := context.Background()
	eng := newTestEngine(t, api.NewManualClock(0))

	a, err := eng.StartSession(ctx, api.StartSessionOptions{WorkflowID: "missed-shot"})
	if err != nil {
		t.Fatalf("StartSession failed: %v", err)
	}
	b, err := eng.StartSession(ctx, api.StartSessionOptions{WorkflowID: "missed-shot"})
	if err != nil {
		t.Fatalf("StartSession failed: %v", err)
	}

	// maxIdle zero makes every session idle.
	reaped := eng.ReapIdleSessions(ctx, 0)
	if reaped != 2 {
		t.Fatalf("expected 2 reaped sessions, got %d", reaped)
	}
	if a.State() != api.StateCancelled || b.State() != api.StateCancelled {
		t.Fatalf("reaped sessions must be cancelled")
	}
	if _, err := eng.GetSession(a.ID()); err == nil {
		t.Fatalf("reaped session should be gone")
	}
}

func TestReapRunsConcurrentlyWithDrivers(t *testing.T) {
	ctx := context.Background()
	eng := newTestEngine(t, api.NewManualClock(30))

	done := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case <-done:
				return
			default:
				eng.ReapIdleSessions(ctx, 0)
			}
		}
	}()

	// Drive interviews while the reaper spins with a zero idle window. A
	// driver racing a reap sees "session not found" or a state error,
	// never a torn session.
	for i := 0; i < 50; i++ {
		sess, err := eng.StartSession(ctx, api.StartSessionOptions{WorkflowID: "missed-shot"})
		if err != nil {
			t.Fatalf("StartSession failed: %v", err)
		}
		if _, err := eng.Select(ctx, sess.ID(), "missed"); err != nil {
			continue
		}
		if _, err := eng.Select(ctx, sess.ID(), "player"); err != nil {
			continue
		}
		if _, err := eng.ProvideParticipant(ctx, sess.ID(), api.Participant{PlayerID: "player-7"}); err != nil {
			continue
		}
	}

	close(done)
	wg.Wait()
}

func TestReapLeavesCompletedSessionsForRetry(t *testing.T) {
	ctx := context.Background()
	mem := persistence.NewInMemoryStore()
	store := &failingGroupStore{InMemoryStore: mem, fail: true}

	eng := NewEngineWithConfig(Config{
		Persistence: persistence.Persistence{Workflows: mem, Groups: store},
		Clock:       api.NewManualClock(40),
	})
	if err := eng.RegisterWorkflow(reboundWorkflow()); err != nil {
		t.Fatalf("RegisterWorkflow failed: %v", err)
	}

	sess, err := eng.StartSession(ctx, api.StartSessionOptions{WorkflowID: "missed-shot", BreakdownID: "game-1"})
	if err != nil {
		t.Fatalf("StartSession failed: %v", err)
	}
	if _, err := eng.Select(ctx, sess.ID(), "made"); err == nil {
		t.Fatalf("expected the automatic commit to fail")
	}

	// The interview is over; only the commit is outstanding. Reaping it
	// would throw the events away, so the reaper must not touch it.
	if n := eng.ReapIdleSessions(ctx, 0); n != 0 {
		t.Fatalf("completed session must not be reaped, got %d", n)
	}

	store.fail = false
	group, err := eng.Commit(ctx, sess.ID(), api.CommitOptions{})
	if err != nil {
		t.Fatalf("retried Commit failed: %v", err)
	}
	if len(group.Events) != 1 {
		t.Fatalf("unexpected group: %+v", group)
	}
}

func TestSeekForwardsToClock(t *testing.T) {
	clock := api.NewManualClock(10)
	eng := newTestEngine(t, clock)

	eng.Seek(99.5)
	if clock.CurrentTimestamp() != 99.5 {
		t.Fatalf("expected seek to reach the clock, got %v", clock.CurrentTimestamp())
	}
}
