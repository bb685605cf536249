// Package plugin defines the invocation contract between the pipeline and the
// independently loaded units of work it drives (disc readers, metadata
// fetchers, auto-detectors, renamers, muxers, post-processors).
//
// Plugins push progress through a Reporter and observe cancellation through
// the context they are invoked with. The Registry resolves plugin identities
// from configuration and Simulated provides a configurable stand-in used by
// the demo host and tests.
package plugin
