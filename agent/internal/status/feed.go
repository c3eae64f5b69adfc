package status

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/proxiscan/proxiscan/pkg/types"
)

const (
	// writeTimeout is the deadline for a single write to a client.
	writeTimeout = 10 * time.Second

	// pongWait is how long to wait for a pong before treating the connection
	// as dead.
	pongWait = 60 * time.Second

	// pingPeriod must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// sendBufSize is the per-client outgoing message buffer depth.
	sendBufSize = 64
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Message is the JSON envelope sent to feed clients.
type Message struct {
	Event string                `json:"event"`
	Data  types.DetectionRecord `json:"data"`
}

// Feed fans detections out to connected WebSocket clients.
type Feed struct {
	mu      sync.RWMutex
	clients map[*client]struct{}
	closed  bool
}

type client struct {
	conn *websocket.Conn
	send chan []byte
}

// NewFeed returns an empty Feed.
func NewFeed() *Feed {
	return &Feed{clients: make(map[*client]struct{})}
}

// Publish sends rec to every connected client. It has the discovery.Tap
// signature and never blocks.
func (f *Feed) Publish(rec types.DetectionRecord) {
	if f.Count() == 0 {
		return
	}
	data, err := json.Marshal(Message{Event: "detection", Data: rec})
	if err != nil {
		return
	}

	var slow []*client
	f.mu.RLock()
	for c := range f.clients {
		select {
		case c.send <- data:
		default:
			slow = append(slow, c)
		}
	}
	f.mu.RUnlock()

	for _, c := range slow {
		slog.Warn("status: disconnecting slow feed client", "remote", c.conn.RemoteAddr().String())
		f.unregister(c)
	}
}

// Count returns the number of connected clients.
func (f *Feed) Count() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return len(f.clients)
}

// ServeHTTP upgrades the connection and streams detections until the client
// goes away or the feed is closed.
func (f *Feed) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	c := &client{conn: conn, send: make(chan []byte, sendBufSize)}
	if !f.register(c) {
		conn.Close()
		return
	}
	defer f.unregister(c)

	go c.writePump()
	c.readPump()
}

// Close disconnects every client and rejects new ones.
func (f *Feed) Close() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	for c := range f.clients {
		close(c.send)
		delete(f.clients, c)
	}
}

// CloseOnDone calls Close once ctx is cancelled.
func (f *Feed) CloseOnDone(ctx context.Context) {
	<-ctx.Done()
	f.Close()
}

func (f *Feed) register(c *client) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return false
	}
	f.clients[c] = struct{}{}
	return true
}

func (f *Feed) unregister(c *client) {
	f.mu.Lock()
	if _, ok := f.clients[c]; ok {
		delete(f.clients, c)
		close(c.send)
	}
	f.mu.Unlock()
}

// writePump drains c.send to the connection and keeps it alive with pings.
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

// readPump handles control frames and detects disconnects.
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
