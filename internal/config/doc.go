// Package config loads, normalizes, and validates discflow configuration data.
//
// It supplies repository defaults, expands user paths (including tilde
// shortcuts), reads TOML files, and honours environment overrides such as
// DISCFLOW_LOG_LEVEL. The Config type centralizes the knobs the CLI needs:
// state and log directories, progress-estimation bounds, the metrics
// listener, the run history store, and the plugin and stage definitions the
// pipeline is assembled from.
//
// Always obtain settings through this package so downstream code receives
// sanitized paths, canonical log formats, and clear validation errors.
package config
