// Package registry manages thread summaries for a principal.
//
// The registry is a thin policy layer over the session store: it sorts
// listings by update recency (creation time when a thread was never
// updated), treats list failures as logged, non-fatal conditions, makes
// deletes idempotent, and performs title renames as read-modify-write
// metadata merges so unrelated fields are never clobbered.
package registry
