// Package pipeline sequences stages made of one critical phase followed by
// best-effort optional phases.
//
// An Orchestrator owns a single background worker that runs every stage body
// sequentially. Plugin invocations inside a phase get a per-plugin progress
// tracker whose deduplicated snapshots are relayed to subscribers on the
// callback dispatcher supplied at construction. Stage lifecycle hooks
// (before start, succeeded, failed, completed) and the unhandled plugin error
// stream are delivered there as well, so hosts only ever observe pipeline
// state from one execution context.
package pipeline
