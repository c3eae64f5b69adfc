// Package status serves the scanner agent's local status surface.
//
// Routes:
//
//	GET /healthz        — scanner identity, open batch length, last dispatch outcome
//	GET /metrics        — Prometheus exposition of the agent registry
//	GET /ws/detections  — WebSocket live feed of detections as they are recorded
//
// Feed messages use the envelope
//
//	{"event": "detection", "data": {"mac": "...", "rssi": -61, "timestamp": 1700000000000}}
//
// Feed.Publish is an intake tap and never blocks: a client whose outgoing
// buffer is full is disconnected instead. The upgrader accepts all origins.
package status
