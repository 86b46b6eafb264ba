// Package session orchestrates one conversation session per principal.
//
// The Controller ties the thread registry, the stream consumer, and the
// interrupt notice together into the single object the presentation layer
// talks to: submit a message, stop generation, switch or delete threads,
// start a new chat.
//
// Invariants it maintains:
//
//   - Initialization is idempotent: entering the view selects the most
//     recently updated thread, creating one only when the principal has
//     none, at most once per session.
//   - Title derivation fires exactly once per thread, on its first message.
//   - Deleting the active thread falls back to the next most recently
//     updated thread, then to a fresh one; the session always has an active
//     thread.
//   - The server is the source of truth for interrupt state: thread status
//     is re-read before input is accepted.
package session
