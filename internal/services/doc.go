// Package services defines shared utilities consumed by the pipeline core and
// the plugins it drives.
//
// Key responsibilities:
//   - Context helpers that stamp stage names, plugin identities, and
//     correlation identifiers for logging.
//   - Structured error markers plus the Wrap helper that tag failures so hosts
//     can tell cancellation, critical-phase and optional-phase failures apart.
//
// Use these helpers when wiring new phases or plugins so error classification
// and observability stay uniform across the pipeline.
package services
