package discovery

import (
	"context"
	"errors"
	"log/slog"
	"math/rand"
	"time"
)

const (
	backoffInitial    = 1 * time.Second
	backoffMax        = 60 * time.Second
	backoffMultiplier = 2.0
)

// Supervise runs src and restarts it with backoff whenever it fails.
// It returns when ctx is cancelled.
func Supervise(ctx context.Context, src Source, h Handler) {
	supervise(ctx, src, h, newBackoff(), time.After)
}

func supervise(ctx context.Context, src Source, h Handler, bo *backoff, after func(time.Duration) <-chan time.Time) {
	for {
		started := time.Now()
		err := src.Run(ctx, h)
		if ctx.Err() != nil {
			return
		}
		if err == nil {
			err = errors.New("source stopped")
		}

		// A source that ran for a while before failing starts over from
		// the initial delay.
		if time.Since(started) > backoffMax {
			bo.reset()
		}
		wait := bo.next()
		slog.Error("discovery: source failed, will restart",
			"source", src.Name(),
			"err", err,
			"retry_in", wait)

		select {
		case <-ctx.Done():
			return
		case <-after(wait):
		}
	}
}

// backoff implements truncated exponential backoff with jitter.
type backoff struct {
	current time.Duration
}

func newBackoff() *backoff {
	return &backoff{current: backoffInitial}
}

// next returns the current backoff duration and advances the internal state.
func (b *backoff) next() time.Duration {
	d := b.current
	// Apply ±25 % jitter.
	jitter := time.Duration(float64(b.current) * 0.25 * (rand.Float64()*2 - 1)) //nolint:gosec // not crypto
	d += jitter
	if d < 0 {
		d = 0
	}

	b.current = time.Duration(float64(b.current) * backoffMultiplier)
	if b.current > backoffMax {
		b.current = backoffMax
	}
	return d
}

func (b *backoff) reset() {
	b.current = backoffInitial
}
