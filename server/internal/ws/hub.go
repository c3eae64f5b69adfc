package ws

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/proxiscan/proxiscan/server/internal/api"
	"github.com/proxiscan/proxiscan/server/internal/store"
)

const (
	// writeTimeout is the deadline for a single write to a client.
	writeTimeout = 10 * time.Second

	// pongWait is how long to wait for a pong response before treating the
	// connection as dead.
	pongWait = 60 * time.Second

	// pingPeriod controls how often the server sends WebSocket ping frames.
	// Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// sendBufSize is the per-client outgoing message buffer depth.
	sendBufSize = 16

	// scannerParam restricts a client's stream to devices nearest one scanner.
	scannerParam = "scanner"
)

// Event names.
const (
	EventSnapshot = "snapshot"
	EventDelta    = "delta"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Message is the JSON envelope sent to clients. Data is an
// api.SnapshotResponse for EventSnapshot and a Delta for EventDelta.
type Message struct {
	Event string `json:"event"`
	Data  any    `json:"data"`
}

// Delta lists what changed since the previous broadcast. Scanners and
// Devices carry full entries to upsert; Gone lists hashed MACs to remove.
type Delta struct {
	Scanners    []api.ScannerResponse `json:"scanners"`
	Devices     []api.DeviceResponse  `json:"devices"`
	Gone        []string              `json:"gone"`
	GeneratedAt string                `json:"generated_at"` // RFC3339
}

func (d Delta) empty() bool {
	return len(d.Scanners) == 0 && len(d.Devices) == 0 && len(d.Gone) == 0
}

// Hub sends each client a full snapshot on connect and then only the
// scanners and devices that changed, on every interval tick and on Notify.
type Hub struct {
	store    *store.Store
	interval time.Duration
	kick     chan struct{}

	mu      sync.RWMutex
	clients map[*client]struct{}
	now     func() time.Time

	// Last broadcast state, owned by the Run goroutine.
	scannerFP map[string]string
	deviceFP  map[string]string
	nearest   map[string]string // hashed MAC -> nearest scanner
}

// client represents one connected WebSocket client.
type client struct {
	conn    *websocket.Conn
	send    chan []byte
	scanner string // empty: no filter
}

// New creates a Hub that reads from st and broadcasts changes every interval.
func New(st *store.Store, interval time.Duration) *Hub {
	return &Hub{
		store:     st,
		interval:  interval,
		kick:      make(chan struct{}, 1),
		clients:   make(map[*client]struct{}),
		now:       time.Now,
		scannerFP: make(map[string]string),
		deviceFP:  make(map[string]string),
		nearest:   make(map[string]string),
	}
}

// Notify requests a broadcast ahead of the next tick. It never blocks;
// requests made while one is pending are coalesced.
func (h *Hub) Notify() {
	select {
	case h.kick <- struct{}{}:
	default:
	}
}

// Run broadcasts deltas on every tick and Notify until ctx is cancelled,
// then closes all active connections.
func (h *Hub) Run(ctx context.Context) {
	t := time.NewTicker(h.interval)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			h.closeAll()
			return
		case <-t.C:
			h.broadcast()
		case <-h.kick:
			h.broadcast()
		}
	}
}

// ServeHTTP upgrades the HTTP connection to WebSocket and serves the client.
// The optional ?scanner=MAC query restricts devices to those whose nearest
// scanner is MAC, and scanners to that one. Blocks until the connection
// closes.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		// upgrader has already written the error response.
		return
	}

	c := &client{
		conn:    conn,
		send:    make(chan []byte, sendBufSize),
		scanner: r.URL.Query().Get(scannerParam),
	}

	// The snapshot is queued before registering so no delta precedes it.
	snap := filterSnapshot(api.BuildSnapshot(h.store, h.now()), c.scanner)
	if data, err := json.Marshal(Message{Event: EventSnapshot, Data: snap}); err == nil {
		c.send <- data
	}
	h.register(c)
	defer h.unregister(c)

	go c.writePump()
	c.readPump() // blocks until connection closes
}

// Count returns the number of currently connected clients.
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// --- internal ---------------------------------------------------------------

func (h *Hub) register(c *client) {
	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()
}

func (h *Hub) unregister(c *client) {
	h.mu.Lock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
	}
	h.mu.Unlock()
}

// change is one diff of the store against the last broadcast state.
type change struct {
	scanners    []api.ScannerResponse
	devices     []api.DeviceResponse
	prevNearest map[string]string // for changed or removed devices
	gone        []string
	generatedAt string
}

// diff compares snap with the last broadcast state and advances that state.
func (h *Hub) diff(snap api.SnapshotResponse) change {
	ch := change{prevNearest: make(map[string]string), generatedAt: snap.GeneratedAt}

	seenScanners := make(map[string]struct{}, len(snap.Scanners))
	for _, s := range snap.Scanners {
		seenScanners[s.MAC] = struct{}{}
		fp := fingerprint(s)
		if h.scannerFP[s.MAC] != fp {
			h.scannerFP[s.MAC] = fp
			ch.scanners = append(ch.scanners, s)
		}
	}
	for mac := range h.scannerFP {
		if _, ok := seenScanners[mac]; !ok {
			delete(h.scannerFP, mac)
		}
	}

	seenDevices := make(map[string]struct{}, len(snap.Devices))
	for _, d := range snap.Devices {
		seenDevices[d.HashedMAC] = struct{}{}
		fp := fingerprint(d)
		if h.deviceFP[d.HashedMAC] != fp {
			if prev, ok := h.nearest[d.HashedMAC]; ok {
				ch.prevNearest[d.HashedMAC] = prev
			}
			h.deviceFP[d.HashedMAC] = fp
			h.nearest[d.HashedMAC] = d.Nearest
			ch.devices = append(ch.devices, d)
		}
	}
	for hashed := range h.deviceFP {
		if _, ok := seenDevices[hashed]; !ok {
			ch.prevNearest[hashed] = h.nearest[hashed]
			ch.gone = append(ch.gone, hashed)
			delete(h.deviceFP, hashed)
			delete(h.nearest, hashed)
		}
	}
	return ch
}

// deltaFor renders ch as seen by a client filtered to scanner. A device that
// moved away from the filtered scanner is reported as gone.
func (ch change) deltaFor(scanner string) Delta {
	d := Delta{
		Scanners:    []api.ScannerResponse{},
		Devices:     []api.DeviceResponse{},
		Gone:        []string{},
		GeneratedAt: ch.generatedAt,
	}
	for _, s := range ch.scanners {
		if scanner == "" || s.MAC == scanner {
			d.Scanners = append(d.Scanners, s)
		}
	}
	for _, dev := range ch.devices {
		switch {
		case scanner == "" || dev.Nearest == scanner:
			d.Devices = append(d.Devices, dev)
		case ch.prevNearest[dev.HashedMAC] == scanner:
			d.Gone = append(d.Gone, dev.HashedMAC)
		}
	}
	for _, hashed := range ch.gone {
		if scanner == "" || ch.prevNearest[hashed] == scanner {
			d.Gone = append(d.Gone, hashed)
		}
	}
	return d
}

func (h *Hub) broadcast() {
	ch := h.diff(api.BuildSnapshot(h.store, h.now()))
	if len(ch.scanners) == 0 && len(ch.devices) == 0 && len(ch.gone) == 0 {
		return
	}

	// One encoding per distinct filter; nil marks an empty delta.
	encoded := make(map[string][]byte)
	var slow []*client
	h.mu.RLock()
	for c := range h.clients {
		data, ok := encoded[c.scanner]
		if !ok {
			if d := ch.deltaFor(c.scanner); !d.empty() {
				var err error
				if data, err = json.Marshal(Message{Event: EventDelta, Data: d}); err != nil {
					slog.Error("ws: encode delta", "err", err)
				}
			}
			encoded[c.scanner] = data
		}
		if data == nil {
			continue
		}
		select {
		case c.send <- data:
		default:
			slow = append(slow, c)
		}
	}
	h.mu.RUnlock()

	// A client whose outgoing buffer is full is disconnected.
	for _, c := range slow {
		slog.Warn("ws: dropping slow client", "scanner", c.scanner)
		h.unregister(c)
	}
}

func filterSnapshot(snap api.SnapshotResponse, scanner string) api.SnapshotResponse {
	if scanner == "" {
		return snap
	}
	scanners := make([]api.ScannerResponse, 0, 1)
	for _, s := range snap.Scanners {
		if s.MAC == scanner {
			scanners = append(scanners, s)
		}
	}
	devices := make([]api.DeviceResponse, 0, len(snap.Devices))
	for _, d := range snap.Devices {
		if d.Nearest == scanner {
			devices = append(devices, d)
		}
	}
	snap.Scanners, snap.Devices = scanners, devices
	return snap
}

// fingerprint is the canonical encoding of an entry, compared between ticks.
func fingerprint(v any) string {
	b, err := json.Marshal(v)
	if err != nil {
		return ""
	}
	return string(b)
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		close(c.send)
		delete(h.clients, c)
	}
}

// writePump drains the client's send channel and forwards messages to the
// WebSocket connection. It also sends periodic ping frames. Runs in its own
// goroutine per client.
func (c *client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if !ok {
				// Channel was closed (hub is shutting down or client removed).
				c.conn.WriteMessage(websocket.CloseMessage, []byte{}) //nolint:errcheck
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readPump reads frames from the connection to process control messages (pong,
// close) and detect disconnects. Blocks until the connection closes.
func (c *client) readPump() {
	defer c.conn.Close()
	c.conn.SetReadLimit(512)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			break
		}
	}
}
