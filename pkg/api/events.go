package api

import "time"

// Participant is a player or team reference attached to an event.
// Whether one or both fields may be set is governed by the collecting
// option's ParticipantConstraint.
type Participant struct {
	PlayerID string `json:"player_id,omitempty"`
	TeamID   string `json:"team_id,omitempty"`
}

// IsZero reports whether no reference is set.
func (p Participant) IsZero() bool {
	return p.PlayerID == "" && p.TeamID == ""
}

// Coordinate is a location on a reference image, normalized to [0, 1] on
// both axes of that image's coordinate space.
type Coordinate struct {
	X       float64 `json:"x"`
	Y       float64 `json:"y"`
	ImageID string  `json:"image_id"`
}

// PendingEvent is a draft event accumulated by a session while the
// interview is still in progress. It becomes a persisted Event on commit.
type PendingEvent struct {
	EventTypeID        string
	Participant        *Participant
	Coordinate         *Coordinate
	VideoTimestamp     float64
	GameClockTimestamp *float64
}

// Event is one persisted tagged occurrence, exclusively owned by its
// EventGroup. Timestamps default to the group's but may be overridden per
// event after commit.
type Event struct {
	ID                 string         `json:"id"`
	GroupID            string         `json:"group_id"`
	EventTypeID        string         `json:"event_type_id"`
	PlayerID           string         `json:"player_id,omitempty"`
	TeamID             string         `json:"team_id,omitempty"`
	VideoTimestamp     float64        `json:"video_timestamp"`
	GameClockTimestamp *float64       `json:"game_clock_timestamp,omitempty"`
	Metadata           map[string]any `json:"metadata,omitempty"`
	DeletedAt          *time.Time     `json:"-"`
}

// EventGroup is the persisted, timestamp-anchored container for all events
// produced by one completed session. Once committed it owns at least one
// event and is never observable in a partially committed state.
type EventGroup struct {
	ID                 string   `json:"id"`
	BreakdownID        string   `json:"breakdown_id"`
	WorkflowID         string   `json:"workflow_id,omitempty"`
	VideoTimestamp     float64  `json:"video_timestamp"`
	GameClockTimestamp *float64 `json:"game_clock_timestamp,omitempty"`

	Events []Event `json:"events"`

	CreatedAt time.Time  `json:"created_at"`
	DeletedAt *time.Time `json:"-"`
}

// GroupPatch is a narrow field update for repositioning a committed group.
// Nil fields are left unchanged.
type GroupPatch struct {
	VideoTimestamp     *float64
	GameClockTimestamp *float64
}

// EventPatch is a narrow field update for a committed event. Nil fields are
// left unchanged.
type EventPatch struct {
	PlayerID           *string
	TeamID             *string
	VideoTimestamp     *float64
	GameClockTimestamp *float64
}

// CoordinateMetadata returns the metadata entry an event carries for a
// collected coordinate: the map key is the reference image id.
func CoordinateMetadata(c Coordinate) map[string]any {
	return map[string]any{
		c.ImageID: map[string]any{"x": c.X, "y": c.Y},
	}
}
