package discovery

import (
	"context"
	"log/slog"
	"math"
	"math/rand"
	"time"
)

const (
	roomWidth  = 15.0
	roomHeight = 10.0
)

// simulatedMACs mixes registered asset tags with background phones and
// laptops, including one randomized address.
var simulatedMACs = []string{
	"AA:AA:AA:AA:AA:01",
	"BB:BB:BB:BB:BB:02",
	"CC:CC:CC:CC:CC:03",
	"DD:DD:DD:DD:DD:04",
	"EE:EE:EE:EE:EE:05",
	"AC:37:43:11:22:33",
	"50:85:69:AA:BB:CC",
	"00:0C:8A:99:88:77",
	"08:3E:8E:44:55:66",
	"12:B4:1D:1D:90:90",
}

type simDevice struct {
	mac          string
	x, y, vx, vy float64
}

// SimulatedSource emits one detection per simulated device every interval.
type SimulatedSource struct {
	interval time.Duration
	rng      *rand.Rand
	// scanner position in the room
	sx, sy  float64
	devices []*simDevice
}

// NewSimulated returns a simulated source. A zero seed is replaced by the
// current time.
func NewSimulated(interval time.Duration, seed int64) *SimulatedSource {
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	if interval <= 0 {
		interval = 2 * time.Second
	}
	rng := rand.New(rand.NewSource(seed)) //nolint:gosec // not crypto
	s := &SimulatedSource{interval: interval, rng: rng, sx: 7.5, sy: 1.0}
	for _, mac := range simulatedMACs {
		s.devices = append(s.devices, &simDevice{
			mac: mac,
			x:   rng.Float64() * roomWidth,
			y:   rng.Float64() * roomHeight,
			vx:  (rng.Float64() - 0.5) * 0.8,
			vy:  (rng.Float64() - 0.5) * 0.8,
		})
	}
	return s
}

func (s *SimulatedSource) Name() string { return "simulate" }

// Run emits a burst of detections every interval until ctx is cancelled.
func (s *SimulatedSource) Run(ctx context.Context, h Handler) error {
	slog.Info("discovery: simulation starting", "devices", len(s.devices), "interval", s.interval)

	t := time.NewTicker(s.interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
			s.emit(h)
		}
	}
}

// emit advances every device one step and reports it.
func (s *SimulatedSource) emit(h Handler) {
	for _, d := range s.devices {
		s.step(d)
		dist := math.Hypot(d.x-s.sx, d.y-s.sy)
		h(d.mac, rssiAt(dist, (s.rng.Float64()-0.5)*4))
	}
}

func (s *SimulatedSource) step(d *simDevice) {
	d.x += d.vx
	d.y += d.vy
	if d.x < 0 || d.x > roomWidth {
		d.vx = -d.vx
	}
	if d.y < 0 || d.y > roomHeight {
		d.vy = -d.vy
	}
	if s.rng.Float64() > 0.8 {
		d.vx = clamp(d.vx+(s.rng.Float64()-0.5)*0.2, -1, 1)
		d.vy = clamp(d.vy+(s.rng.Float64()-0.5)*0.2, -1, 1)
	}
}

// rssiAt is the log-distance path-loss model: -55 dBm at 1m, exponent 2.5.
func rssiAt(dist, noise float64) int {
	if dist < 0.1 {
		dist = 0.1
	}
	return int(math.Round(-55 - 25*math.Log10(dist) + noise))
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}
