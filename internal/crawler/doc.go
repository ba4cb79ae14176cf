// Package crawler implements the breadth-first expansion engine: it drains
// the frontier in snapshots, dispatches each record to a bounded worker pool
// and stops on an empty frontier, the safety cap or a shutdown signal.
package crawler
