// Package api implements the HTTP REST API for proxiscan-server.
//
// New(store, alerts) returns an http.Handler that serves:
//
//	GET /api/v1/health          — scanner and device counts, overall state
//	GET /api/v1/scanners        — all known scanners ([]ScannerResponse)
//	GET /api/v1/devices         — live devices, strongest reading first
//	GET /api/v1/devices/{mac}   — single device by raw or hashed MAC; 404 if unknown or stale
//	GET /api/v1/alerts          — firing and recently resolved alerts
//	GET /api/v1/snapshot        — scanners + devices + generated_at
//
// All endpoints:
//   - Respond with Content-Type: application/json
//   - Return 405 for non-GET methods
//   - Read live entries from the store (stale devices excluded)
//
// JSON types are defined in types.go. No external HTTP framework is used.
package api
