package persistence

import (
	"context"
	"errors"
	"strings"

	"github.com/redis/go-redis/v9"

	corep "github.com/breakly/tagflow/internal/persistence"
	"github.com/breakly/tagflow/pkg/api"
)

func (r *RedisStoreTestSuite) TestRedisGroupStore_CreateAndGet() {
	stored, err := r.store.CreateGroup(r.ctx, sampleGroup("g1"), "")
	r.NoError(err, "CreateGroup failed")
	r.Equal("g1", stored.ID)
	r.False(stored.CreatedAt.IsZero(), "CreatedAt should be set by the store")

	got, err := r.store.GetGroup(r.ctx, "g1")
	r.NoError(err, "GetGroup failed")
	r.Equal("game-1", got.BreakdownID)
	r.Len(got.Events, 2)
	r.Equal("FGA", got.Events[0].EventTypeID)

	// Metadata survives the JSON round trip keyed by image id.
	point, ok := got.Events[1].Metadata["court-half"].(map[string]any)
	r.True(ok, "metadata lost in round trip: %v", got.Events[1].Metadata)
	r.Equal(0.3, point["x"])
	r.Equal(0.7, point["y"])

	_, err = r.store.GetGroup(r.ctx, "ghost")
	r.True(errors.Is(err, corep.ErrGroupNotFound), "expected ErrGroupNotFound, got %v", err)
}

func (r *RedisStoreTestSuite) TestRedisGroupStore_IdempotentCreate() {
	first, err := r.store.CreateGroup(r.ctx, sampleGroup("g1"), "sess-1")
	r.NoError(err, "CreateGroup failed")

	dup, err := r.store.CreateGroup(r.ctx, sampleGroup("g2"), "sess-1")
	r.NoError(err, "retried CreateGroup failed")
	r.Equal(first.ID, dup.ID, "retry must return the original group")

	groups, err := r.store.ListGroups(r.ctx, corep.GroupFilter{})
	r.NoError(err, "ListGroups failed")
	r.Len(groups, 1, "expected a single group")
}

// groupWriteFailHook fails the first SET of a group payload key, standing in
// for a transient outage in the middle of a commit.
type groupWriteFailHook struct {
	fired bool
}

func (h *groupWriteFailHook) DialHook(next redis.DialHook) redis.DialHook { return next }

func (h *groupWriteFailHook) ProcessPipelineHook(next redis.ProcessPipelineHook) redis.ProcessPipelineHook {
	return next
}

func (h *groupWriteFailHook) ProcessHook(next redis.ProcessHook) redis.ProcessHook {
	return func(ctx context.Context, cmd redis.Cmder) error {
		if !h.fired && cmd.Name() == "set" {
			if key, ok := cmd.Args()[1].(string); ok && strings.HasPrefix(key, prefix+"group:") {
				h.fired = true
				return errors.New("connection dropped")
			}
		}
		return next(ctx, cmd)
	}
}

func (r *RedisStoreTestSuite) TestRedisGroupStore_FailedWriteLeavesNoClaim() {
	flaky := redis.NewClient(&redis.Options{Addr: r.endpoint})
	defer flaky.Close()
	flaky.AddHook(&groupWriteFailHook{})
	store := NewRedisGroupStore(flaky, prefix)

	_, err := store.CreateGroup(r.ctx, sampleGroup("g1"), "sess-1")
	r.Error(err, "injected failure must surface")

	// The key must still be unclaimed, otherwise every retry would chase a
	// group that was never written.
	n, err := r.client.Exists(r.ctx, prefix+"idem:sess-1").Result()
	r.NoError(err)
	r.Zero(n, "failed write must not leave an idempotency claim")

	first, err := store.CreateGroup(r.ctx, sampleGroup("g1"), "sess-1")
	r.NoError(err, "retried CreateGroup failed")

	dup, err := r.store.CreateGroup(r.ctx, sampleGroup("g2"), "sess-1")
	r.NoError(err, "duplicate CreateGroup failed")
	r.Equal(first.ID, dup.ID, "same key must converge on the committed group")

	groups, err := r.store.ListGroups(r.ctx, corep.GroupFilter{})
	r.NoError(err)
	r.Len(groups, 1)
}

func (r *RedisStoreTestSuite) TestRedisGroupStore_ListFilters() {
	g2 := sampleGroup("g2")
	g2.BreakdownID = "game-2"
	g3 := sampleGroup("g3")
	g3.WorkflowID = "turnover"

	for _, g := range []*api.EventGroup{sampleGroup("g1"), g2, g3} {
		_, err := r.store.CreateGroup(r.ctx, g, "")
		r.NoError(err, "CreateGroup failed")
	}

	byBreakdown, err := r.store.ListGroups(r.ctx, corep.GroupFilter{BreakdownID: "game-1"})
	r.NoError(err)
	r.Len(byBreakdown, 2)

	byWorkflow, err := r.store.ListGroups(r.ctx, corep.GroupFilter{WorkflowID: "turnover"})
	r.NoError(err)
	r.Len(byWorkflow, 1)
	r.Equal("g3", byWorkflow[0].ID)
}

func (r *RedisStoreTestSuite) TestRedisGroupStore_Patches() {
	_, err := r.store.CreateGroup(r.ctx, sampleGroup("g1"), "")
	r.NoError(err, "CreateGroup failed")

	ts := 800.0
	patched, err := r.store.PatchGroup(r.ctx, "g1", api.GroupPatch{VideoTimestamp: &ts})
	r.NoError(err, "PatchGroup failed")
	r.Equal(800.0, patched.VideoTimestamp)
	r.Equal(754.2, patched.Events[0].VideoTimestamp, "group patch must not touch events")

	team := "team-b"
	ev, err := r.store.PatchEvent(r.ctx, "g1-ev1", api.EventPatch{TeamID: &team})
	r.NoError(err, "PatchEvent failed")
	r.Equal("team-b", ev.TeamID)
	r.Equal("player-12", ev.PlayerID, "patch must not clobber other fields")

	_, err = r.store.PatchGroup(r.ctx, "ghost", api.GroupPatch{VideoTimestamp: &ts})
	r.True(errors.Is(err, corep.ErrGroupNotFound), "expected ErrGroupNotFound, got %v", err)

	_, err = r.store.PatchEvent(r.ctx, "ghost", api.EventPatch{TeamID: &team})
	r.True(errors.Is(err, corep.ErrEventNotFound), "expected ErrEventNotFound, got %v", err)
}

func (r *RedisStoreTestSuite) TestRedisGroupStore_DeleteCascades() {
	_, err := r.store.CreateGroup(r.ctx, sampleGroup("g1"), "")
	r.NoError(err, "CreateGroup failed")

	r.NoError(r.store.DeleteGroup(r.ctx, "g1"), "DeleteGroup failed")

	_, err = r.store.GetGroup(r.ctx, "g1")
	r.True(errors.Is(err, corep.ErrGroupNotFound), "deleted group must not be readable, got %v", err)

	groups, err := r.store.ListGroups(r.ctx, corep.GroupFilter{})
	r.NoError(err)
	r.Empty(groups, "deleted group must not be listed")

	player := "p"
	_, err = r.store.PatchEvent(r.ctx, "g1-ev1", api.EventPatch{PlayerID: &player})
	r.True(errors.Is(err, corep.ErrEventNotFound), "events of a deleted group must be gone, got %v", err)

	err = r.store.DeleteGroup(r.ctx, "g1")
	r.True(errors.Is(err, corep.ErrGroupNotFound), "double delete must report not found, got %v", err)
}
