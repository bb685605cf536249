// Package history persists finished stage runs and the final state of every
// plugin they invoked in a local SQLite database.
//
// Store wraps the database with busy retries and a versioned schema. Recorder
// attaches a Store to an orchestrator so runs are written from the callback
// context as they complete; `discflow history` reads them back.
package history
