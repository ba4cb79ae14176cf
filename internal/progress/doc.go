// Package progress carries crawl milestones from the engine's workers to
// pluggable sinks. Events are buffered and batched on a background goroutine
// so emitting never blocks a worker.
package progress
