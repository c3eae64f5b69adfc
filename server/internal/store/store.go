package store

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/proxiscan/proxiscan/pkg/types"
)

// Scanner status values.
const (
	StatusOnline  = "online"
	StatusOffline = "offline"
)

// Scanner is one scanner node as seen by the server.
type Scanner struct {
	MAC        string    `json:"mac"`
	Name       string    `json:"name,omitempty"`
	Location   string    `json:"location,omitempty"`
	Registered bool      `json:"registered"`
	Status     string    `json:"status"`
	LastSeen   time.Time `json:"last_seen"`
	Batches    int64     `json:"batches"`
	Sightings  int64     `json:"sightings"`

	// Agent is the latest health derived from the scanner's own /metrics,
	// or nil when the scanner is not polled.
	Agent *AgentHealth `json:"agent,omitempty"`
}

// AgentHealth is the health of a scanner's agent process as seen by the
// fleet poller. Rates are per minute over the last poll interval.
type AgentHealth struct {
	State        string    `json:"state"`
	Score        float64   `json:"score"`
	DetectionsPM float64   `json:"detections_pm"`
	DeliveredPM  float64   `json:"delivered_pm"`
	DropPct      float64   `json:"drop_pct"`
	FailedPct    float64   `json:"failed_cycle_pct"`
	UptimePct    float64   `json:"uptime_pct"`
	Buffered     int       `json:"buffered"`
	Error        string    `json:"error,omitempty"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Reading is the latest sighting of a device by one scanner.
type Reading struct {
	RSSI       int       `json:"rssi"`
	ObservedAt time.Time `json:"observed_at"`
}

// Device is one observed device, identified only by its hashed address.
type Device struct {
	HashedMAC   string             `json:"hashed_mac"`
	IsAsset     bool               `json:"is_asset"`
	AssetName   string             `json:"asset_name,omitempty"`
	LastScanner string             `json:"last_scanner"`
	RSSI        int                `json:"rssi"`
	ObservedAt  time.Time          `json:"observed_at"`
	LastSeen    time.Time          `json:"last_seen"`
	Sightings   int64              `json:"sightings"`
	ByScanner   map[string]Reading `json:"by_scanner"`
}

// Nearest returns the scanner with the strongest current reading, or "" if
// none.
func (d Device) Nearest() string {
	best, bestRSSI := "", 0
	for mac, r := range d.ByScanner {
		if best == "" || r.RSSI > bestRSSI || (r.RSSI == bestRSSI && mac < best) {
			best, bestRSSI = mac, r.RSSI
		}
	}
	return best
}

// Store is a thread-safe in-memory scanner and device store.
type Store struct {
	mu       sync.RWMutex
	scanners map[string]*Scanner
	devices  map[string]*Device // key: hashed MAC
	assets   map[string]string  // key: hashed MAC, value: asset name
	nextLog  int64
	ttl      time.Duration
	salt     string
	now      func() time.Time // injectable for deterministic tests
}

// New creates a Store with the given TTL and hashing salt.
func New(ttl time.Duration, salt string) *Store {
	return &Store{
		scanners: make(map[string]*Scanner),
		devices:  make(map[string]*Device),
		assets:   make(map[string]string),
		ttl:      ttl,
		salt:     salt,
		now:      time.Now,
	}
}

// TTL returns the configured retention.
func (s *Store) TTL() time.Duration { return s.ttl }

// Hash returns the hex SHA-256 of mac followed by the salt.
func (s *Store) Hash(mac string) string {
	sum := sha256.Sum256([]byte(mac + s.salt))
	return hex.EncodeToString(sum[:])
}

// RegisterScanner adds a known scanner. Once any scanner is registered, only
// registered scanners are Allowed.
func (s *Store) RegisterScanner(mac, name, location string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.scanners[mac] = &Scanner{
		MAC:        mac,
		Name:       name,
		Location:   location,
		Registered: true,
		Status:     StatusOffline,
	}
}

// RegisterAsset marks mac as a tracked asset.
func (s *Store) RegisterAsset(mac, name string) {
	h := s.Hash(mac)
	s.mu.Lock()
	s.assets[h] = name
	s.mu.Unlock()
}

// Allowed reports whether items from scannerMAC are accepted: true when no
// scanners are registered, otherwise only for registered ones.
func (s *Store) Allowed(scannerMAC string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	registered := false
	for _, sc := range s.scanners {
		if sc.Registered {
			registered = true
			if sc.MAC == scannerMAC {
				return true
			}
		}
	}
	return !registered
}

// SetAgentHealth attaches h to the registered scanner mac. Unknown scanners
// are ignored.
func (s *Store) SetAgentHealth(mac string, h AgentHealth) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sc, ok := s.scanners[mac]; ok {
		sc.Agent = &h
	}
}

// MarkBatch records that scannerMAC delivered a batch.
func (s *Store) MarkBatch(scannerMAC string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.touchScanner(scannerMAC, s.now()).Batches++
}

// Record stores one accepted item and returns its log ID. A zero item
// timestamp is replaced by the receive time.
func (s *Store) Record(it types.ScanItem) int64 {
	h := s.Hash(it.MAC)

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	sc := s.touchScanner(it.ScannerMAC, now)
	sc.Sightings++

	observed := now
	if it.Timestamp != 0 {
		observed = time.UnixMilli(it.Timestamp)
	}

	d, ok := s.devices[h]
	if !ok {
		d = &Device{HashedMAC: h, ByScanner: make(map[string]Reading)}
		s.devices[h] = d
	}
	if name, ok := s.assets[h]; ok {
		d.IsAsset, d.AssetName = true, name
	}
	d.LastScanner = it.ScannerMAC
	d.RSSI = it.RSSI
	d.ObservedAt = observed
	d.LastSeen = now
	d.Sightings++
	d.ByScanner[it.ScannerMAC] = Reading{RSSI: it.RSSI, ObservedAt: observed}

	s.nextLog++
	return s.nextLog
}

// touchScanner must be called with s.mu held.
func (s *Store) touchScanner(mac string, now time.Time) *Scanner {
	sc, ok := s.scanners[mac]
	if !ok {
		sc = &Scanner{MAC: mac}
		s.scanners[mac] = sc
	}
	sc.LastSeen = now
	sc.Status = StatusOnline
	return sc
}

// Scanners returns copies of all scanners sorted by MAC. A scanner not seen
// within the TTL is reported offline.
func (s *Store) Scanners() []Scanner {
	s.mu.RLock()
	defer s.mu.RUnlock()
	cutoff := s.now().Add(-s.ttl)
	out := make([]Scanner, 0, len(s.scanners))
	for _, sc := range s.scanners {
		cp := *sc
		if !cp.LastSeen.After(cutoff) {
			cp.Status = StatusOffline
		}
		out = append(out, cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].MAC < out[j].MAC })
	return out
}

// Devices returns copies of all live devices, strongest reading first.
// Stale devices that have not yet been evicted are excluded.
func (s *Store) Devices() []Device {
	s.mu.RLock()
	defer s.mu.RUnlock()
	cutoff := s.now().Add(-s.ttl)
	out := make([]Device, 0, len(s.devices))
	for _, d := range s.devices {
		if d.LastSeen.After(cutoff) {
			out = append(out, copyDevice(d))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].RSSI != out[j].RSSI {
			return out[i].RSSI > out[j].RSSI
		}
		return out[i].HashedMAC < out[j].HashedMAC
	})
	return out
}

// Device looks up a live device by raw MAC or by its hashed form.
func (s *Store) Device(key string) (Device, bool) {
	hashed := s.Hash(key)

	s.mu.RLock()
	defer s.mu.RUnlock()
	d, ok := s.devices[key]
	if !ok {
		d, ok = s.devices[hashed]
	}
	if !ok || !d.LastSeen.After(s.now().Add(-s.ttl)) {
		return Device{}, false
	}
	return copyDevice(d), true
}

// Count returns the number of devices currently held, including stale ones.
func (s *Store) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.devices)
}

func copyDevice(d *Device) Device {
	cp := *d
	cp.ByScanner = make(map[string]Reading, len(d.ByScanner))
	for k, v := range d.ByScanner {
		cp.ByScanner[k] = v
	}
	return cp
}

// Evict removes devices and unregistered scanners whose last sighting is
// older than now minus TTL. It returns the number of entries removed.
func (s *Store) Evict(now time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	cutoff := now.Add(-s.ttl)
	removed := 0
	for h, d := range s.devices {
		if !d.LastSeen.After(cutoff) {
			delete(s.devices, h)
			removed++
		}
	}
	for mac, sc := range s.scanners {
		if !sc.Registered && !sc.LastSeen.After(cutoff) {
			delete(s.scanners, mac)
			removed++
		}
	}
	return removed
}

// Run starts the background TTL eviction loop. It ticks at half the TTL interval
// (minimum 1 second) so entries are evicted promptly. Run blocks until ctx is
// cancelled.
func (s *Store) Run(ctx context.Context) {
	interval := s.ttl / 2
	if interval < time.Second {
		interval = time.Second
	}
	t := time.NewTicker(interval)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-t.C:
			if n := s.Evict(now); n > 0 {
				slog.Debug("store: evicted stale entries", "count", n)
			}
		}
	}
}
