package discovery

import (
	"context"
	"fmt"
	"time"

	"github.com/proxiscan/proxiscan/pkg/types"
)

// Handler is invoked by a Source for every detection. It may be called from
// any goroutine and must return quickly.
type Handler func(address string, rssi int)

// Source is a proximity-detection mechanism.
type Source interface {
	Name() string
	// Run reports detections to h until ctx is cancelled (returns nil) or
	// the source fails.
	Run(ctx context.Context, h Handler) error
}

// Recorder accepts detection records. *buffer.Buffer implements it.
type Recorder interface {
	Record(types.DetectionRecord)
}

// Tap observes every recorded detection. Taps must not block.
type Tap func(types.DetectionRecord)

// Intake converts callbacks into DetectionRecords.
type Intake struct {
	rec  Recorder
	taps []Tap
	now  func() time.Time // injectable for tests
}

// NewIntake returns an Intake that records into rec and then calls taps in
// order.
func NewIntake(rec Recorder, taps ...Tap) *Intake {
	return &Intake{rec: rec, taps: taps, now: time.Now}
}

// Handle is the Handler registered with a Source.
func (in *Intake) Handle(address string, rssi int) {
	r := types.DetectionRecord{
		DeviceID:         address,
		RSSI:             rssi,
		ObservedAtMillis: in.now().UnixMilli(),
	}
	in.rec.Record(r)
	for _, tap := range in.taps {
		tap(r)
	}
}

// Options are passed through from configuration to the selected source.
type Options struct {
	// ScanInterval is handed to the source as-is; the pipeline core never
	// consumes it.
	ScanInterval time.Duration

	// Seed makes the simulated source deterministic. Zero picks a random seed.
	Seed int64
}

// New builds the named source.
func New(kind string, opts Options) (Source, error) {
	switch kind {
	case "ble":
		return NewBLE(opts.ScanInterval), nil
	case "simulate":
		return NewSimulated(opts.ScanInterval, opts.Seed), nil
	default:
		return nil, fmt.Errorf("discovery: unsupported source %q", kind)
	}
}
