// Package config loads the ingestion server configuration from the `server:`
// section of config.yaml (the `agent:` key is ignored by the server binary).
//
// Config fields:
//   - HTTPPort     — port for the scan endpoint, REST API and WebSocket hub (default 3001)
//   - ScanPath     — path the scan endpoint is mounted on (default /api/scan)
//   - Store.TTL    — how long scanners and devices stay live after last sighting (default 5m)
//   - Privacy      — environment variable holding the MAC hashing salt (default SECRET_SALT)
//   - Scanners     — allow-list of known scanner nodes; empty accepts any scanner
//   - Assets       — registered device MACs, flagged on sighting
//   - NATS         — optional request/reply intake alongside HTTP
//   - Alerts       — batch rules, webhook targets, quiet window (default 5m)
//   - Fleet        — polling of agent status endpoints (default every 30s)
//
// Load(path) applies defaults before unmarshalling, then validates.
package config
