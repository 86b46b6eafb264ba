// Package interrupt coordinates the human-in-the-loop protocol around a
// paused run.
//
// Two roles share one server-side primitive (suspend/resume):
//
//   - Consumer side: Notice renders the "waiting for intervention" text for
//     the end user's blocked thread.
//   - Operator side: the Coordinator polls interrupted threads across all
//     owners (the single allowed cross-owner read), and delivers exactly one
//     resolve or continue decision per interrupt as a resume call. A
//     per-thread in-flight guard blocks double submits; resuming a thread
//     someone else already resumed is logged and treated as success.
package interrupt
