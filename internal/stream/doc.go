// Package stream consumes a run's incremental event sequence and maintains
// the live transcript for the active thread.
//
// # State machine
//
// One run at a time per consumer:
//
//	idle -> streaming -> {completed, interrupted, errored, cancelled}
//
// Terminal states are only left by starting a brand-new run. Start while
// streaming returns ErrRunConflict.
//
// # Event application
//
// Each partial event carries the cumulative content of the current assistant
// turn. The consumer replaces the placeholder's content wholesale, so a
// duplicate or repeated-prefix event is a safe no-op. Tool-invocation records
// are recognized and discarded. Stop freezes the turn at its last applied
// content; a failure swaps it for a fixed apology while the user's own
// message stays put.
//
// # Subscriptions
//
// The presentation layer subscribes to change signals via the Notifier and
// re-reads the transcript snapshot, rather than polling.
package stream
