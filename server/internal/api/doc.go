// Package api implements the HTTP REST API for the forecast hub.
//
// New(hub, forecaster) returns an http.Handler that serves:
//
//	GET /api/v1/health           scheduler state, client count, tick counters;
//	                             503 unless the scheduler is running
//	GET /api/v1/snapshot         the payload most recently broadcast, verbatim;
//	                             503 before the first one exists
//	GET /api/v1/connections      registered clients and their observed state
//	GET /api/v1/weatherforecast  a freshly generated forecast (not broadcast)
//
// All endpoints return 405 for non-GET methods. JSON types are defined in
// types.go. No external HTTP framework is used.
package api
