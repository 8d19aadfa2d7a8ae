// Package tracing collects the per-update speed samples of a control run and
// persists them as a chart, a CSV table and optionally a SQLite database.
package tracing

import (
	control "cruise-ctrl-core/closed_loop/longitudinal_control"
)

// TraceWriter persists samples. Writers buffer internally; Flush forces
// buffered samples out and Close releases the underlying file.
type TraceWriter interface {
	Init() error
	Write(s control.Sample) error
	Flush() error
	Close() error
}
