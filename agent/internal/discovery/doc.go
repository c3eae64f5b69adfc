// Package discovery connects proximity-detection sources to the event buffer.
//
// A Source reports detections asynchronously through a Handler callback
// (device address + RSSI). Intake is the Handler the agent registers: it
// stamps each detection with the current time in milliseconds, records it
// in the buffer, then fans it out to taps (metrics, live feed). Sources
// never touch the buffer directly.
//
// Implemented sources:
//   - BLESource (ble.go): the host Bluetooth adapter via tinygo.org/x/bluetooth.
//   - SimulatedSource (simulate.go): devices drifting around a 15x10 room,
//     RSSI from a log-distance path-loss model. For development without radio
//     hardware.
//
// Supervise restarts a failing source with truncated exponential backoff
// (1s -> 60s, ±25% jitter) until its context is cancelled.
package discovery
