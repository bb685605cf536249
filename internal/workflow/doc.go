// Package workflow turns configuration into runnable stages.
//
// The Runner builds the plugin registry from the configured plugin
// instances, composes each configured stage from it (critical plugins as the
// gating phase, one optional phase per optional plugin) and runs stages on a
// pipeline.Orchestrator. It wires the host sinks onto the orchestrator: the
// Prometheus collectors, the SQLite run history and a per-run summary that
// is logged and handed back to the caller when the stage completes.
//
// Stages are the unit of work here; add new kinds of work by registering a
// plugin and naming it in a stage definition rather than by extending this
// package.
package workflow
