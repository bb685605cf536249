// Package metrics exports pipeline activity as Prometheus collectors and
// serves them over HTTP.
//
// A Sink owns its collectors and registers them against a caller supplied
// Registerer so tests can use an isolated registry. Attach subscribes the
// sink to an orchestrator's stage hooks, progress stream and unhandled error
// stream; every update arrives on the orchestrator's callback context.
package metrics
