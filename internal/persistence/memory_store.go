package persistence

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/breakly/tagflow/pkg/api"
)

// InMemoryStore is a goroutine-safe implementation of GraphStore and
// GroupStore backed by maps. Nothing survives a restart; it is meant for
// tests and single-process setups.
type InMemoryStore struct {
	mu        sync.RWMutex
	workflows map[string]api.Workflow
	groups    map[string]*api.EventGroup
	byIdemKey map[string]string // idempotency key -> group id
}

// NewInMemoryStore creates a new InMemoryStore.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		workflows: make(map[string]api.Workflow),
		groups:    make(map[string]*api.EventGroup),
		byIdemKey: make(map[string]string),
	}
}

// Ensure InMemoryStore implements the interfaces.
var _ GraphStore = (*InMemoryStore)(nil)

var _ GroupStore = (*InMemoryStore)(nil)

func (s *InMemoryStore) SaveWorkflow(wf api.Workflow) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.workflows[wf.ID] = wf
	return nil
}

func (s *InMemoryStore) GetWorkflow(id string) (api.Workflow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	wf, ok := s.workflows[id]
	if !ok {
		return api.Workflow{}, ErrWorkflowNotFound
	}

	return wf, nil
}

func (s *InMemoryStore) ListWorkflows(collectionID string) ([]api.Workflow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []api.Workflow
	for _, wf := range s.workflows {
		if collectionID != "" && wf.CollectionID != collectionID {
			continue
		}
		out = append(out, wf)
	}
	return out, nil
}

func (s *InMemoryStore) CreateGroup(ctx context.Context, g *api.EventGroup, idempotencyKey string) (*api.EventGroup, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if idempotencyKey != "" {
		if id, ok := s.byIdemKey[idempotencyKey]; ok {
			return copyGroup(s.groups[id]), nil
		}
	}

	stored := copyGroup(g)
	if stored.CreatedAt.IsZero() {
		stored.CreatedAt = time.Now()
	}
	s.groups[stored.ID] = stored
	if idempotencyKey != "" {
		s.byIdemKey[idempotencyKey] = stored.ID
	}

	return copyGroup(stored), nil
}

func (s *InMemoryStore) GetGroup(ctx context.Context, id string) (*api.EventGroup, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	g, ok := s.groups[id]
	if !ok || g.DeletedAt != nil {
		return nil, ErrGroupNotFound
	}

	return copyGroup(g), nil
}

func (s *InMemoryStore) ListGroups(ctx context.Context, filter GroupFilter) ([]*api.EventGroup, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*api.EventGroup
	for _, g := range s.groups {
		if g.DeletedAt != nil {
			continue
		}
		if filter.BreakdownID != "" && g.BreakdownID != filter.BreakdownID {
			continue
		}
		if filter.WorkflowID != "" && g.WorkflowID != filter.WorkflowID {
			continue
		}
		out = append(out, copyGroup(g))
	}

	// Same order as the SQL stores: oldest first, id as tie-break.
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

func (s *InMemoryStore) PatchGroup(ctx context.Context, id string, patch api.GroupPatch) (*api.EventGroup, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	g, ok := s.groups[id]
	if !ok || g.DeletedAt != nil {
		return nil, ErrGroupNotFound
	}

	if patch.VideoTimestamp != nil {
		g.VideoTimestamp = *patch.VideoTimestamp
	}
	if patch.GameClockTimestamp != nil {
		v := *patch.GameClockTimestamp
		g.GameClockTimestamp = &v
	}

	return copyGroup(g), nil
}

func (s *InMemoryStore) PatchEvent(ctx context.Context, eventID string, patch api.EventPatch) (*api.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, g := range s.groups {
		if g.DeletedAt != nil {
			continue
		}
		for i := range g.Events {
			ev := &g.Events[i]
			if ev.ID != eventID || ev.DeletedAt != nil {
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
			copied := *ev
			return &copied, nil
		}
	}
	return nil, ErrEventNotFound
}

func (s *InMemoryStore) DeleteGroup(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	g, ok := s.groups[id]
	if !ok || g.DeletedAt != nil {
		return ErrGroupNotFound
	}

	now := time.Now()
	g.DeletedAt = &now
	for i := range g.Events {
		if g.Events[i].DeletedAt == nil {
			g.Events[i].DeletedAt = &now
		}
	}
	return nil
}

// copyGroup deep-copies a group so callers never share mutable state with
// the store, filtering out soft-deleted events.
func copyGroup(g *api.EventGroup) *api.EventGroup {
	out := *g
	out.Events = make([]api.Event, 0, len(g.Events))
	for _, ev := range g.Events {
		if ev.DeletedAt != nil {
			continue
		}
		out.Events = append(out.Events, ev)
	}
	return &out
}
