// Package dispatch delivers callbacks onto a single designated execution
// context.
//
// A Loop turns the goroutine that calls Run into the callback context (the
// conceptual UI thread); functions submitted from any goroutine execute there
// in submission order. Inline is the synchronous in-process context used by
// tests and single-goroutine hosts. The pipeline also uses a Loop as its one
// long-lived background worker, so the same ordering rules apply to stage
// bodies.
package dispatch
