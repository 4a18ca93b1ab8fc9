package redis

import (
	"github.com/breakly/tagflow/internal/engine"
	"github.com/breakly/tagflow/internal/persistence"
	"github.com/breakly/tagflow/pkg/api"
	"github.com/redis/go-redis/v9"

	corep "github.com/breakly/tagflow/redis/internal/persistence"
)

// NewRedisEngine returns an Engine that persists committed event groups in
// Redis. Workflow definitions are kept in-memory.
func NewRedisEngine(client *redis.Client, clock api.VideoClock, lookup api.ParticipantLookup) api.Engine {
	return NewRedisEngineWithObserver(client, clock, lookup, nil)
}

// NewRedisEngineWithObserver returns a Redis-backed Engine with the given Observer.
func NewRedisEngineWithObserver(client *redis.Client, clock api.VideoClock, lookup api.ParticipantLookup, obs api.Observer) api.Engine {
	groupStore := corep.NewRedisGroupStore(client, "tagflow:")

	return engine.NewEngineWithConfig(engine.Config{
		Persistence: persistence.Persistence{
			Workflows: persistence.NewInMemoryStore(),
			Groups:    groupStore,
		},
		Clock:    clock,
		Lookup:   lookup,
		Observer: obs,
	})
}
