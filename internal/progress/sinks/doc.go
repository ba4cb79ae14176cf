// Package sinks implements progress consumers: Prometheus collectors and
// structured zap logging.
package sinks
