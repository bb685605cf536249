// Package progress tracks the execution of individual units of work (one
// plugin invocation each) and estimates how long they have left.
//
// A Window keeps a bounded, timestamped series of percent-complete samples
// with pause/resume semantics; EstimateRemaining turns that series into a
// duration; a Tracker wraps both in a small state machine
// (Ready -> Running <-> Paused -> Succeeded|Canceled|Error) and publishes
// deduplicated snapshots to a single replaceable listener.
//
// Trackers are safe for concurrent use: plugins update them from the
// pipeline's background worker while hosts read snapshots from the callback
// context.
package progress
