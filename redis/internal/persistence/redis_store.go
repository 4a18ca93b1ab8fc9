package persistence

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"

	corep "github.com/breakly/tagflow/internal/persistence"
	"github.com/breakly/tagflow/pkg/api"
)

// RedisGroupStore is a GroupStore backed by Redis.
// It uses a simple key structure:
//
//	<prefix>group:<id>       => JSON-encoded redisGroupPayload
//	<prefix>idx:groups       => SET of all group IDs
//	<prefix>ev:<event-id>    => owning group ID
//	<prefix>idem:<key>       => group ID claimed by that idempotency key
//
// The payload is written first and the idempotency claim is taken with
// SETNX afterwards, so a claim always points at a readable group and two
// racing commits with the same key converge on one group. The event index
// is best-effort and re-derived from the payload on every read.
type RedisGroupStore struct {
	client *redis.Client
	prefix string
}

var _ corep.GroupStore = (*RedisGroupStore)(nil)

// redisGroupPayload is the stored form of a group. Soft-deletion state is
// part of the payload because the API types deliberately do not serialize it.
type redisGroupPayload struct {
	Group          api.EventGroup   `json:"group"`
	EventDeletedAt map[string]int64 `json:"event_deleted_at,omitempty"`
	DeletedAt      int64            `json:"deleted_at,omitempty"`
}

// NewRedisGroupStore creates a RedisGroupStore.
// prefix is optional but recommended (e.g. "tagflow:").
func NewRedisGroupStore(client *redis.Client, prefix string) *RedisGroupStore {
	if prefix == "" {
		prefix = "tagflow:"
	}
	return &RedisGroupStore{
		client: client,
		prefix: prefix,
	}
}

func (r *RedisGroupStore) keyGroup(id string) string { return r.prefix + "group:" + id }
func (r *RedisGroupStore) keyAll() string            { return r.prefix + "idx:groups" }
func (r *RedisGroupStore) keyEvent(id string) string { return r.prefix + "ev:" + id }
func (r *RedisGroupStore) keyIdem(key string) string { return r.prefix + "idem:" + key }

func (r *RedisGroupStore) CreateGroup(ctx context.Context, g *api.EventGroup, idempotencyKey string) (*api.EventGroup, error) {
	if idempotencyKey != "" {
		winner, err := r.client.Get(ctx, r.keyIdem(idempotencyKey)).Result()
		if err == nil {
			return r.GetGroup(ctx, winner)
		}
		if !errors.Is(err, redis.Nil) {
			return nil, err
		}
	}

	stored := *g
	stored.Events = append([]api.Event(nil), g.Events...)
	if stored.CreatedAt.IsZero() {
		stored.CreatedAt = time.Now()
	}

	// Write before claiming. Claiming first would leave a claim pointing
	// at a group that was never written if this call dies here, and every
	// later retry of the same key would then fail to load it.
	if err := r.savePayload(ctx, &redisGroupPayload{Group: stored}); err != nil {
		return nil, err
	}

	if idempotencyKey != "" {
		claimed, err := r.client.SetNX(ctx, r.keyIdem(idempotencyKey), stored.ID, 0).Result()
		if err != nil {
			// Unclaimed payloads are invisible garbage; deleting here could
			// destroy the group if the claim actually landed server-side.
			return nil, err
		}
		if !claimed {
			// Lost the race to another commit of the same key: drop our
			// copy and converge on the winner's.
			winner, err := r.client.Get(ctx, r.keyIdem(idempotencyKey)).Result()
			if err != nil {
				return nil, err
			}
			if winner != stored.ID {
				r.client.Del(ctx, r.keyGroup(stored.ID))
			}
			wg, err := r.GetGroup(ctx, winner)
			if err != nil {
				return nil, err
			}
			// Redo the winner's index writes in case its writer stopped
			// between claiming and indexing; SADD and SET are idempotent.
			if err := r.indexGroup(ctx, wg); err != nil {
				return nil, err
			}
			return wg, nil
		}
	}

	if err := r.indexGroup(ctx, &stored); err != nil {
		return nil, err
	}

	return r.GetGroup(ctx, stored.ID)
}

func (r *RedisGroupStore) indexGroup(ctx context.Context, g *api.EventGroup) error {
	pipe := r.client.TxPipeline()
	pipe.SAdd(ctx, r.keyAll(), g.ID)
	for _, ev := range g.Events {
		pipe.Set(ctx, r.keyEvent(ev.ID), g.ID, 0)
	}
	_, err := pipe.Exec(ctx)
	return err
}

func (r *RedisGroupStore) GetGroup(ctx context.Context, id string) (*api.EventGroup, error) {
	p, err := r.loadPayload(ctx, id)
	if err != nil {
		return nil, err
	}
	if p.DeletedAt != 0 {
		return nil, corep.ErrGroupNotFound
	}
	return payloadGroup(p), nil
}

func (r *RedisGroupStore) ListGroups(ctx context.Context, filter corep.GroupFilter) ([]*api.EventGroup, error) {
	ids, err := r.client.SMembers(ctx, r.keyAll()).Result()
	if err != nil {
		return nil, err
	}

	var out []*api.EventGroup
	for _, id := range ids {
		p, err := r.loadPayload(ctx, id)
		if errors.Is(err, corep.ErrGroupNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		if p.DeletedAt != 0 {
			continue
		}
		if filter.BreakdownID != "" && p.Group.BreakdownID != filter.BreakdownID {
			continue
		}
		if filter.WorkflowID != "" && p.Group.WorkflowID != filter.WorkflowID {
			continue
		}
		out = append(out, payloadGroup(p))
	}
	return out, nil
}

func (r *RedisGroupStore) PatchGroup(ctx context.Context, id string, patch api.GroupPatch) (*api.EventGroup, error) {
	p, err := r.loadPayload(ctx, id)
	if err != nil {
		return nil, err
	}
	if p.DeletedAt != 0 {
		return nil, corep.ErrGroupNotFound
	}

	if patch.VideoTimestamp != nil {
		p.Group.VideoTimestamp = *patch.VideoTimestamp
	}
	if patch.GameClockTimestamp != nil {
		v := *patch.GameClockTimestamp
		p.Group.GameClockTimestamp = &v
	}

	if err := r.savePayload(ctx, p); err != nil {
		return nil, err
	}
	return payloadGroup(p), nil
}

func (r *RedisGroupStore) PatchEvent(ctx context.Context, eventID string, patch api.EventPatch) (*api.Event, error) {
	groupID, err := r.client.Get(ctx, r.keyEvent(eventID)).Result()
	if errors.Is(err, redis.Nil) {
		return nil, corep.ErrEventNotFound
	}
	if err != nil {
		return nil, err
	}

	p, err := r.loadPayload(ctx, groupID)
	if err != nil {
		return nil, err
	}
	if p.DeletedAt != 0 {
		return nil, corep.ErrEventNotFound
	}

	for i := range p.Group.Events {
		ev := &p.Group.Events[i]
		if ev.ID != eventID || p.EventDeletedAt[eventID] != 0 {
			continue
		}
		if patch.PlayerID != nil {
			ev.PlayerID = *patch.PlayerID
		}
		if patch.TeamID != nil {
			ev.TeamID = *patch.TeamID
		}
		if patch.VideoTimestamp != nil {
			ev.VideoTimestamp = *patch.VideoTimestamp
		}
		if patch.GameClockTimestamp != nil {
			v := *patch.GameClockTimestamp
			ev.GameClockTimestamp = &v
		}

		if err := r.savePayload(ctx, p); err != nil {
			return nil, err
		}
		copied := *ev
		return &copied, nil
	}
	return nil, corep.ErrEventNotFound
}

func (r *RedisGroupStore) DeleteGroup(ctx context.Context, id string) error {
	p, err := r.loadPayload(ctx, id)
	if err != nil {
		return err
	}
	if p.DeletedAt != 0 {
		return corep.ErrGroupNotFound
	}

	now := time.Now().UnixNano()
	p.DeletedAt = now
	if p.EventDeletedAt == nil {
		p.EventDeletedAt = make(map[string]int64, len(p.Group.Events))
	}
	for _, ev := range p.Group.Events {
		if p.EventDeletedAt[ev.ID] == 0 {
			p.EventDeletedAt[ev.ID] = now
		}
	}

	return r.savePayload(ctx, p)
}

func (r *RedisGroupStore) savePayload(ctx context.Context, p *redisGroupPayload) error {
	data, err := json.Marshal(p)
	if err != nil {
		return err
	}
	return r.client.Set(ctx, r.keyGroup(p.Group.ID), data, 0).Err()
}

func (r *RedisGroupStore) loadPayload(ctx context.Context, id string) (*redisGroupPayload, error) {
	data, err := r.client.Get(ctx, r.keyGroup(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, corep.ErrGroupNotFound
	}
	if err != nil {
		return nil, err
	}

	var p redisGroupPayload
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

// payloadGroup converts a payload into the API shape, dropping soft-deleted
// events.
func payloadGroup(p *redisGroupPayload) *api.EventGroup {
	out := p.Group
	out.Events = make([]api.Event, 0, len(p.Group.Events))
	for _, ev := range p.Group.Events {
		if p.EventDeletedAt[ev.ID] != 0 {
			continue
		}
		out.Events = append(out.Events, ev)
	}
	return &out
}
