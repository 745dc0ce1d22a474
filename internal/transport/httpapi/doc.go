// Package httpapi is the local control surface for the scheduler.
//
// Routes:
//
//	GET  /                 status page; "?expr=" sets the schedule and answers in text
//	GET  /api/status       JSON snapshot
//	GET  /api/runs         recent attempts from the store
//	POST /api/schedule     set the schedule (form or JSON "expr")
//	POST /api/trigger      run a synchronization now
//	GET  /metrics          Prometheus exposition
//	GET  /healthz          liveness
//	     /debug/pprof/     optional runtime profiles
//
// Every response carries Cache-Control "no-cache, no-store, must-revalidate".
package httpapi
