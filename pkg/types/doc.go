// Package types defines shared Go types used by both the agent and server.
// These are the canonical in-memory representations of proximity detections
// and the JSON wire format exchanged on the ingestion endpoint.
package types
