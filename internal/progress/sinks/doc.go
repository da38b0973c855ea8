// Package sinks implements concrete progress consumers: Prometheus metrics and
// structured logging. Each sink satisfies progress.Sink.
package sinks
