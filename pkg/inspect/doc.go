// Package inspect serves a read-only debug view of a reactive runtime.
//
// Routes:
//
//	GET /healthz           runtime name and counters
//	GET /cells             every connected cell, ordered by id
//	GET /cells/{id}        one cell
//	GET /cells/{id}/watch  websocket stream of the cell's state
//	GET /metrics           Prometheus exposition, when a Gatherer is set
//
// The watch stream sends the cell's current state as a JSON CellInfo, then
// one frame each time it observes a newer generation. Frames carry the
// newest state, so a fast writer may skip generations. When the cell
// disconnects the server sends a normal close frame.
//
// Usage:
//
//	reg := prometheus.NewRegistry()
//	rt := reactive.NewRuntime(reactive.WithObserver(
//	    telemetry.NewMetrics(telemetry.WithRegistry(reg))))
//	srv := inspect.New(rt, inspect.WithGatherer(reg))
//	go srv.Run(ctx)
package inspect
