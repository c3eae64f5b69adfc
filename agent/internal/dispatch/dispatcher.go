package dispatch

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/proxiscan/proxiscan/agent/internal/transport"
	"github.com/proxiscan/proxiscan/pkg/types"
)

//go:generate mockgen -destination=mock_transport.go -package=dispatch github.com/proxiscan/proxiscan/agent/internal/dispatch Transport

// Transport performs one delivery attempt for a projected batch.
type Transport interface {
	Send(ctx context.Context, items []types.ScanItem) (*transport.Ack, error)
}

// Buffer is the event buffer the dispatcher drains.
type Buffer interface {
	SwapAndClear() []types.DetectionRecord
	Len() int
}

// Dispatcher periodically flushes a Buffer through a Transport.
type Dispatcher struct {
	buf        Buffer
	tr         Transport
	scannerMAC string
	interval   time.Duration
	obs        Observer

	clock Clock         // injectable for tests
	newID func() string // injectable for tests

	mu   sync.Mutex
	last Outcome
}

// New returns a Dispatcher that flushes buf every interval and stamps each
// item with scannerMAC. obs may be nil.
func New(buf Buffer, tr Transport, scannerMAC string, interval time.Duration, obs Observer) *Dispatcher {
	return &Dispatcher{
		buf:        buf,
		tr:         tr,
		scannerMAC: scannerMAC,
		interval:   interval,
		obs:        obs,
		clock:      realClock{},
		newID:      uuid.NewString,
	}
}

// Run flushes on every tick until ctx is cancelled. The open batch at
// cancellation is discarded.
func (d *Dispatcher) Run(ctx context.Context) {
	t := d.clock.Ticker(d.interval)
	defer t.Stop()

	slog.Info("dispatch: started", "interval", d.interval, "scanner_mac", d.scannerMAC)

	for {
		select {
		case <-ctx.Done():
			slog.Info("dispatch: stopped", "discarded", d.buf.Len())
			return
		case <-t.Chan():
			// select picks randomly when a tick and cancellation are both ready.
			if ctx.Err() != nil {
				slog.Info("dispatch: stopped", "discarded", d.buf.Len())
				return
			}
			d.Flush(ctx)
		}
	}
}

// Flush runs one cycle: swap, project, send, report.
func (d *Dispatcher) Flush(ctx context.Context) Outcome {
	batch := d.buf.SwapAndClear()
	if len(batch) == 0 {
		return d.report(Outcome{Kind: KindNoData, Processed: -1, At: d.clock.Now()})
	}

	items := Project(d.scannerMAC, batch)
	id := d.newID()

	start := d.clock.Now()
	ack, err := d.tr.Send(transport.WithBatchID(ctx, id), items)
	o := Outcome{
		BatchID:   id,
		Count:     len(items),
		Processed: -1,
		Duration:  d.clock.Now().Sub(start),
		At:        start,
	}
	if err != nil {
		o.Kind = KindFailed
		o.Err = err
		return d.report(o)
	}
	o.Kind = KindDelivered
	if ack != nil {
		o.Processed = ack.Processed
	}
	return d.report(o)
}

// Last returns the most recent outcome.
func (d *Dispatcher) Last() Outcome {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.last
}

func (d *Dispatcher) report(o Outcome) Outcome {
	switch o.Kind {
	case KindNoData:
		slog.Debug("dispatch: no data")
	case KindDelivered:
		slog.Info("dispatch: batch delivered",
			"batch_id", o.BatchID,
			"count", o.Count,
			"processed", o.Processed,
			"duration", o.Duration)
	case KindFailed:
		attrs := []any{
			"batch_id", o.BatchID,
			"count", o.Count,
			"err", o.Err,
		}
		var rej *transport.ServerRejectedError
		if errors.As(o.Err, &rej) {
			attrs = append(attrs, "reason", "server_rejected", "status", rej.StatusCode)
		} else {
			attrs = append(attrs, "reason", "connection_failed")
		}
		slog.Error("dispatch: delivery failed, batch dropped", attrs...)
	}

	d.mu.Lock()
	d.last = o
	d.mu.Unlock()

	if d.obs != nil {
		d.obs.ObserveOutcome(o)
	}
	return o
}
