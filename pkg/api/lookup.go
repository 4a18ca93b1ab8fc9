package api

import "context"

// ParticipantLookup resolves participant references against an external
// roster. Implementations return ErrParticipantNotFound (possibly wrapped)
// for unknown references. A nil lookup disables resolution: any non-empty
// reference is accepted as-is.
type ParticipantLookup interface {
	ResolvePlayer(ctx context.Context, playerID string) error
	ResolveTeam(ctx context.Context, teamID string) error
}

// StaticLookup is a ParticipantLookup backed by fixed id sets. It is meant
// for tests and examples.
type StaticLookup struct {
	Players map[string]bool
	Teams   map[string]bool
}

// NewStaticLookup builds a StaticLookup from player and team id lists.
func NewStaticLookup(playerIDs, teamIDs []string) *StaticLookup {
	l := &StaticLookup{
		Players: make(map[string]bool, len(playerIDs)),
		Teams:   make(map[string]bool, len(teamIDs)),
	}
	for _, id := range playerIDs {
		l.Players[id] = true
	}
	for _, id := range teamIDs {
		l.Teams[id] = true
	}
	return l
}

func (l *StaticLookup) ResolvePlayer(ctx context.Context, playerID string) error {
	if !l.Players[playerID] {
		return ErrParticipantNotFound
	}
	return nil
}

func (l *StaticLookup) ResolveTeam(ctx context.Context, teamID string) error {
	if !l.Teams[teamID] {
		return ErrParticipantNotFound
	}
	return nil
}
