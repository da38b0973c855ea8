// Package progress provides the event primitives, the synchronous hub, and the
// emitter interface the harvesting engine uses to report run progress. Events
// fan out to pluggable sinks such as Prometheus metrics, structured logs, or
// the in-memory Tracker served by the status API.
package progress
