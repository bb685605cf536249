// Package task binds a unit of background work to lifecycle callbacks that
// fire on a designated callback dispatcher.
//
// A Task starts exactly once. Its before-start hook runs synchronously on the
// callback context and can veto the work; the work itself runs on the
// background dispatcher (or a fresh goroutine); succeed or fail runs next and
// always runs last. Cancellation is cooperative and is reported through the
// fail callback with an error tagged services.ErrCanceled.
package task
