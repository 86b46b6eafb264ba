// Package store defines the Remote Session Store contract and its adapters.
//
// # Contract
//
// SessionStore is the transport-agnostic interface the core consumes:
//
//   - CreateThread / ListThreads / GetThreadState / UpdateThreadMetadata / DeleteThread
//   - StreamRun: one streaming execution per thread, delivered as RunEvents
//   - ResumeRun: unblock an interrupted run with a human decision
//
// # Adapters
//
//   - HTTPStore: the hosted conversational runtime (REST + SSE). Partial
//     events carry the cumulative text of the current assistant turn, not
//     deltas; tool-invocation records are tagged and discarded here so they
//     never reach a transcript.
//   - SQLiteStore: a complete local implementation with a scripted agent,
//     used by loopchat-dev and the test suite. A user message containing
//     the word "human" pauses the run with an interrupt.
//   - MockStore: in-memory fake with error injection for unit tests.
//
// # Boundary normalization
//
// Provider message records are polymorphic (content may be a string or an
// array of text parts; roles are tagged "human"/"ai"/"tool"). normalize.go
// flattens every shape into the canonical {id, role, content} Message before
// it crosses into the core, and narrows metadata blobs to the versioned
// schema (title, userId). Provider-specific shapes stay inside this package.
package store
