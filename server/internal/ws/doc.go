// Package ws implements the WebSocket hub for proxiscan-server.
//
// A client receives the full store snapshot on connect and afterwards only
// what changed: scanners and devices whose rendered entry differs from the
// previous broadcast, plus the hashed MACs of devices that went away. The
// hub diffs on every interval tick and whenever Notify is called; the
// receiver calls Notify after each batch that stored items. Nothing is sent
// when nothing changed.
//
// New(store, interval) creates a Hub.
// Hub.Run(ctx) drives the broadcasts and blocks until ctx is cancelled,
// then closes all active connections.
// Hub.ServeHTTP upgrades an HTTP connection to WebSocket. The optional
// ?scanner=MAC query narrows the stream to that scanner and the devices it
// is nearest to; a device that moves to another scanner arrives as gone.
//
// Message formats sent to clients:
//
//	{"event": "snapshot", "data": { /* GET /api/v1/snapshot schema */ }}
//	{"event": "delta", "data": {
//	    "scanners": [ /* changed scanner entries */ ],
//	    "devices":  [ /* changed or new device entries */ ],
//	    "gone":     [ "hashed_mac", ... ],
//	    "generated_at": "RFC3339"
//	}}
//
// The upgrader accepts all origins. The hub is mounted at /ws/stream.
package ws
