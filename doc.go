// Package tagflow provides an embeddable interpreter for video stat-tagging
// workflows.
//
// A tagging workflow is a directed graph of single-select steps authored by a
// league or team: "what happened?" → "who did it?" → "where on the court?".
// Tagflow walks that graph one occurrence at a time, collects participants and
// coordinates along the way, and commits the resulting stat events as one
// atomic group. It runs fully in Go, supports multiple persistence backends,
// and integrates cleanly into existing tagging tools.
//
// # Core Concepts
//
// The tagflow programming model is intentionally small:
//
//  1. Workflow / Graph
//  2. Session
//  3. Engine
//  4. WorkflowBuilder
//  5. LocalRecorder
//
// # Workflow and Graph
//
// A Workflow is the serializable definition: steps, options, prompts, and the
// wiring between them. A Graph is a validated, indexed view of a Workflow;
// construction rejects dangling step references, duplicate ids, and dead-end
// steps, so a session can trust every edge it follows.
//
// # Session
//
// A Session is one live traversal of a graph for one tagging occurrence. It
// captures the video timestamp at creation and then walks the graph under
// caller control:
//
//   - Select answers the current step with one of its options
//   - ProvideParticipant resumes a session waiting on a player or team
//   - ProvideCoordinate resumes a session waiting on a location
//
// Sessions suspend, not block: every call returns immediately and the session
// state says what input comes next. Validation failures on collected input are
// recoverable; the session stays where it was and accepts a corrected value.
//
// # Engine
//
// The Engine registers workflows, starts and drives sessions, and owns the
// commit path. When a session completes, the engine converts its pending
// events into an EventGroup and persists the group and all of its events
// atomically, keyed by the session id so retries never duplicate data.
//
// Engines can be backed by different storage systems:
//
//   - In-memory (non-durable, best for tests)
//   - SQLite (embedded durability)
//   - Postgres
//   - Redis
//
// Committed groups support repositioning, per-event patches, and soft
// deletion of a group together with its events.
//
// # WorkflowBuilder
//
// WorkflowBuilder provides the ergonomic, declarative API used to define
// workflows in Go instead of raw JSON:
//
//	wf := tagflow.NewWorkflowBuilder("shot-chart", "nba", "Shot chart").
//	    Step("outcome", "Made or missed?",
//	        tagflow.Opt("made", "Made", tagflow.EmitEvent("FGM"), tagflow.Next("shooter")),
//	        tagflow.Opt("missed", "Missed", tagflow.EmitEvent("FGA"), tagflow.Next("shooter")),
//	    ).
//	    Step("shooter", "Who shot it?",
//	        tagflow.Opt("player", "Player", tagflow.CollectPlayer("Select shooter")),
//	    ).
//	    MustBuild()
//
// # LocalRecorder
//
// LocalRecorder bundles an in-memory engine, a manual video clock, and an
// idle-session reaper into a single process-local helper for development and
// unit testing. It is intentionally not crash-durable.
package tagflow
