package api

import (
	"context"
	"fmt"
	"time"
)

// SessionState is the lifecycle state of an interview session.
type SessionState string

const (
	StateAwaitingSelection   SessionState = "AWAITING_SELECTION"
	StateAwaitingParticipant SessionState = "AWAITING_PARTICIPANT"
	StateAwaitingCoordinate  SessionState = "AWAITING_COORDINATE"
	StateCompleted           SessionState = "COMPLETED"
	StateCancelled           SessionState = "CANCELLED"
)

// Answer is one resolved entry of a session's answer log.
type Answer struct {
	StepID      string
	OptionID    string
	Participant *Participant
	Coordinate  *Coordinate
}

// SessionConfig carries the collaborators a session needs. Everything is
// explicit: there is no ambient state, so a session is testable without any
// surrounding application.
type SessionConfig struct {
	// ID identifies the session in errors and observer callbacks.
	ID string

	// Graph is the validated workflow to walk.
	Graph *Graph

	// BreakdownID is the breakdown the committed group will belong to.
	BreakdownID string

	// Clock is read exactly once, at construction, to anchor the session's
	// video timestamp. Required.
	Clock VideoClock

	// GameClockTimestamp optionally anchors the group on the game clock.
	GameClockTimestamp *float64

	// Lookup validates participant references. Nil accepts any non-empty
	// reference.
	Lookup ParticipantLookup
}

// Session is one live traversal of a workflow for a single tagging
// occurrence. It does no locking of its own: the engine serializes every
// mutation, including reaper cancellation, through a per-session lock.
// Callers driving a session directly must provide the same guarantee.
//
// The zero value is not usable; use NewSession.
type Session struct {
	id          string
	graph       *Graph
	breakdownID string

	videoTimestamp float64
	gameClock      *float64

	state   SessionState
	current *Step

	// in-flight option whose participant/coordinate is being collected,
	// together with its staged answer. The answer only enters the log once
	// the option is fully resolved.
	pendingOpt    *Option
	pendingAnswer *Answer

	answers []Answer
	events  []PendingEvent

	lookup ParticipantLookup

	committed    *EventGroup
	lastActivity time.Time
}

// NewSession creates a session positioned at the workflow's first step,
// anchored at the clock's current timestamp.
func NewSession(cfg SessionConfig) (*Session, error) {
	if cfg.Graph == nil {
		return nil, fmt.Errorf("tagflow: session requires a graph")
	}
	if cfg.Clock == nil {
		return nil, fmt.Errorf("tagflow: session requires a video clock")
	}
	first := cfg.Graph.First()
	if len(first.Options) == 0 {
		return nil, newGraphError(cfg.Graph.ID(), first.ID, "", ReasonStepHasNoOptions, "first step has no options")
	}

	return &Session{
		id:             cfg.ID,
		graph:          cfg.Graph,
		breakdownID:    cfg.BreakdownID,
		videoTimestamp: cfg.Clock.CurrentTimestamp(),
		gameClock:      cfg.GameClockTimestamp,
		state:          StateAwaitingSelection,
		current:        first,
		lookup:         cfg.Lookup,
		lastActivity:   time.Now(),
	}, nil
}

func (s *Session) ID() string          { return s.id }
func (s *Session) State() SessionState { return s.state }
func (s *Session) WorkflowID() string  { return s.graph.ID() }
func (s *Session) BreakdownID() string { return s.breakdownID }

// VideoTimestamp is the playback position captured when the session was
// created. It never changes, no matter how long the interview takes.
func (s *Session) VideoTimestamp() float64 { return s.videoTimestamp }

// GameClockTimestamp is the optional game-clock anchor captured at creation.
func (s *Session) GameClockTimestamp() *float64 { return s.gameClock }

// CurrentStep returns the step awaiting a selection, or nil in a terminal
// state or while participant/coordinate input is pending.
func (s *Session) CurrentStep() *Step {
	if s.state != StateAwaitingSelection {
		return nil
	}
	return s.current
}

// PendingOption returns the option whose participant or coordinate input is
// being collected, or nil.
func (s *Session) PendingOption() *Option {
	if s.state != StateAwaitingParticipant && s.state != StateAwaitingCoordinate {
		return nil
	}
	return s.pendingOpt
}

// Answers returns a copy of the resolved answer log.
func (s *Session) Answers() []Answer {
	out := make([]Answer, len(s.answers))
	copy(out, s.answers)
	return out
}

// PendingEvents returns a copy of the draft events accumulated so far.
func (s *Session) PendingEvents() []PendingEvent {
	out := make([]PendingEvent, len(s.events))
	copy(out, s.events)
	return out
}

// CommittedGroup returns the persisted group once the session has been
// committed, or nil.
func (s *Session) CommittedGroup() *EventGroup { return s.committed }

// LastActivity is the time of the last successful mutation, used by idle
// reapers.
func (s *Session) LastActivity() time.Time { return s.lastActivity }

// Select answers the current step with the option identified by optionID.
//
// On success the session either advances to the next step, suspends to
// collect a participant or coordinate, or completes. A GraphError (including
// the missing-copy-source case) leaves no trace in the answer log.
func (s *Session) Select(optionID string) error {
	if s.state != StateAwaitingSelection {
		return fmt.Errorf("tagflow: session %s: cannot select in state %s", s.id, s.state)
	}

	step := s.current
	opt, ok := s.graph.option(step, optionID)
	if !ok {
		return fmt.Errorf("tagflow: session %s: step %s has no option %s", s.id, step.ID, optionID)
	}

	answer := &Answer{StepID: step.ID, OptionID: opt.ID}

	if opt.CollectParticipant && opt.ParticipantCopyStepID != "" {
		// The graph should only reference earlier steps here, but malformed
		// data must not corrupt the session.
		src, found := s.answeredParticipant(opt.ParticipantCopyStepID)
		if !found {
			return newGraphError(s.graph.ID(), step.ID, opt.ID, ReasonMissingCopySource,
				fmt.Sprintf("participant copy source %s not answered in session %s", opt.ParticipantCopyStepID, s.id))
		}
		p := *src
		answer.Participant = &p
	}

	s.pendingOpt = opt
	s.pendingAnswer = answer
	s.lastActivity = time.Now()

	// Participant collection, when needed, always comes before coordinate
	// collection for the same option.
	if opt.CollectParticipant && answer.Participant == nil {
		s.state = StateAwaitingParticipant
		return nil
	}
	if opt.CollectCoordinate {
		s.state = StateAwaitingCoordinate
		return nil
	}
	return s.finalizeOption()
}

// ProvideParticipant supplies the participant requested by the pending
// option. Validation failures are recoverable: the session stays in
// StateAwaitingParticipant and a corrected participant may be supplied.
func (s *Session) ProvideParticipant(ctx context.Context, p Participant) error {
	if s.state != StateAwaitingParticipant {
		return fmt.Errorf("tagflow: session %s: cannot provide participant in state %s", s.id, s.state)
	}

	opt := s.pendingOpt
	if err := s.checkParticipant(ctx, opt, p); err != nil {
		return err
	}

	pc := p
	s.pendingAnswer.Participant = &pc
	s.lastActivity = time.Now()

	if opt.CollectCoordinate {
		s.state = StateAwaitingCoordinate
		return nil
	}
	return s.finalizeOption()
}

// ProvideCoordinate supplies the coordinate requested by the pending option.
// An empty image id defaults to the option's reference image. Validation
// failures are recoverable.
func (s *Session) ProvideCoordinate(c Coordinate) error {
	if s.state != StateAwaitingCoordinate {
		return fmt.Errorf("tagflow: session %s: cannot provide coordinate in state %s", s.id, s.state)
	}

	opt := s.pendingOpt
	if c.ImageID == "" {
		c.ImageID = opt.CoordinateImageID
	}
	if c.ImageID == "" {
		return &CoordinateError{SessionID: s.id, StepID: opt.StepID, OptionID: opt.ID,
			msg: "no reference image id"}
	}
	if c.X < 0 || c.X > 1 || c.Y < 0 || c.Y > 1 {
		return &CoordinateError{SessionID: s.id, StepID: opt.StepID, OptionID: opt.ID,
			msg: fmt.Sprintf("coordinate (%g, %g) outside [0,1]", c.X, c.Y)}
	}

	s.pendingAnswer.Coordinate = &c
	s.lastActivity = time.Now()
	return s.finalizeOption()
}

// Cancel discards the session. Nothing is persisted; a cancelled session
// cannot be resumed.
func (s *Session) Cancel() {
	if s.state == StateCompleted || s.state == StateCancelled {
		return
	}
	s.state = StateCancelled
	s.current = nil
	s.pendingOpt = nil
	s.pendingAnswer = nil
	s.lastActivity = time.Now()
}

// finalizeOption commits the staged answer to the log, appends the pending
// event the option emits (if any), and advances the session. It performs at
// most one transition, so the interpreter itself can never loop: any cycle
// in the graph only repeats through further caller selections.
func (s *Session) finalizeOption() error {
	opt := s.pendingOpt
	answer := s.pendingAnswer
	s.pendingOpt = nil
	s.pendingAnswer = nil

	s.answers = append(s.answers, *answer)

	if opt.EventTypeID != "" {
		s.events = append(s.events, PendingEvent{
			EventTypeID:        opt.EventTypeID,
			Participant:        answer.Participant,
			Coordinate:         answer.Coordinate,
			VideoTimestamp:     s.videoTimestamp,
			GameClockTimestamp: s.gameClock,
		})
	}

	if opt.NextStepID == "" {
		s.state = StateCompleted
		s.current = nil
		return nil
	}

	next, ok := s.graph.StepByID(opt.NextStepID)
	if !ok {
		// Validated graphs cannot hit this, but the session defends anyway.
		s.state = StateCancelled
		return newGraphError(s.graph.ID(), answer.StepID, opt.ID, ReasonUnknownStep, "next step vanished from graph")
	}
	if len(next.Options) == 0 {
		// Never treat a dead end as implicit completion.
		s.state = StateCancelled
		return newGraphError(s.graph.ID(), next.ID, "", ReasonStepHasNoOptions, "reached step with no options")
	}

	s.current = next
	s.state = StateAwaitingSelection
	return nil
}

// answeredParticipant finds the participant recorded for stepID in this
// session's answer log.
func (s *Session) answeredParticipant(stepID string) (*Participant, bool) {
	for i := range s.answers {
		if s.answers[i].StepID == stepID && s.answers[i].Participant != nil {
			return s.answers[i].Participant, true
		}
	}
	return nil, false
}

func (s *Session) checkParticipant(ctx context.Context, opt *Option, p Participant) error {
	reject := func(msg string, cause error) error {
		return &ParticipantError{
			SessionID: s.id,
			StepID:    opt.StepID,
			OptionID:  opt.ID,
			Cause:     cause,
			msg:       msg,
		}
	}

	switch opt.constraint() {
	case ParticipantPlayer:
		if p.PlayerID == "" || p.TeamID != "" {
			return reject("option expects a player reference", nil)
		}
	case ParticipantTeam:
		if p.TeamID == "" || p.PlayerID != "" {
			return reject("option expects a team reference", nil)
		}
	case ParticipantBoth:
		if p.PlayerID == "" || p.TeamID == "" {
			return reject("option expects both player and team references", nil)
		}
	default: // ParticipantEither
		if p.IsZero() {
			return reject("option expects a player or team reference", nil)
		}
		if p.PlayerID != "" && p.TeamID != "" {
			return reject("option expects exactly one of player or team", nil)
		}
	}

	if s.lookup == nil {
		return nil
	}
	if p.PlayerID != "" {
		if err := s.lookup.ResolvePlayer(ctx, p.PlayerID); err != nil {
			return reject("player "+p.PlayerID, err)
		}
	}
	if p.TeamID != "" {
		if err := s.lookup.ResolveTeam(ctx, p.TeamID); err != nil {
			return reject("team "+p.TeamID, err)
		}
	}
	return nil
}

// MarkCommitted records the persisted group on the session. Intended for the
// engine after a successful commit; calling it does not persist anything.
func (s *Session) MarkCommitted(g *EventGroup) {
	s.committed = g
}
