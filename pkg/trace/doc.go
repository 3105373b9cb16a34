// Package trace records the INDI property traffic of a capture run.
//
// Every property definition and update received from the server, every
// command sent to it and every controller state change is written as one
// CBOR-encoded Event. A trace file is a plain concatenation of events and
// can be appended to by several runs; the run ID tells them apart.
//
//	tracer, err := trace.NewFileLogger("capture.trace")
//	...
//	controller.SetTracer(tracer, runID)
//
// BLOB contents are never recorded, only their size and format.
package trace
