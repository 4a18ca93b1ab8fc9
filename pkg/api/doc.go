// Package api contains the core building blocks of the tagflow interview
// interpreter: the workflow graph model, the session state machine, the
// event records produced by a committed session, and the collaborator
// contracts (video clock, participant lookup, observer) the interpreter
// consumes.
//
// Most users interact with the higher-level tagflow package, which
// re-exports selected types and helpers from this package. The api package
// is intended for advanced use cases, custom integrations, or contributors
// extending the engine itself.
package api
