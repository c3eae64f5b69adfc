// Package config loads and watches the scanner agent configuration.
//
// Sources, in increasing precedence:
//  1. Built-in defaults (endpoint http://localhost:3001/api/scan, scan
//     interval 10s, batch interval 5s, scanner MAC B8:27:EB:00:00:01,
//     send timeout 5s, transport http, source ble).
//  2. The optional YAML file (`agent:` section).
//  3. A .env file in the working directory, if present (godotenv).
//  4. Process environment: API_URL, SCAN_INTERVAL, BATCH_INTERVAL,
//     SCANNER_MAC, SEND_TIMEOUT, TRANSPORT, NATS_SUBJECT, DISCOVERY_SOURCE,
//     STATUS_LISTEN, LOG_LEVEL. Interval values accept plain integers
//     (seconds) or Go durations ("750ms").
//
// Struct tags are checked with go-playground/validator; cross-field rules
// live in validate().
//
// WatchLevel(ctx, path, level) uses fsnotify to follow the file and applies
// only its log_level to a slog.LevelVar. Pipeline settings are read once at
// startup.
package config
