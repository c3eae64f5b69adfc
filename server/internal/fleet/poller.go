package fleet

import (
	"context"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/proxiscan/proxiscan/server/internal/store"
)

// Target is one agent to poll.
type Target struct {
	ScannerMAC string
	StatusURL  string
}

// Sink receives the health derived for each agent.
type Sink interface {
	SetAgentHealth(mac string, h store.AgentHealth)
}

// Options configures a Poller.
type Options struct {
	Interval time.Duration
	Timeout  time.Duration

	// SendBaseline is the acceptable mean delivery latency.
	SendBaseline time.Duration
}

// Poller scrapes every Target on a fixed interval.
type Poller struct {
	targets  []Target
	sink     Sink
	scraper  *Scraper
	engine   *Engine
	interval time.Duration
	now      func() time.Time
}

// New creates a Poller for targets that reports into sink.
func New(targets []Target, sink Sink, opts Options) *Poller {
	return &Poller{
		targets:  targets,
		sink:     sink,
		scraper:  NewScraper(opts.Timeout),
		engine:   NewEngine(opts.SendBaseline),
		interval: opts.Interval,
		now:      time.Now,
	}
}

// Run polls once immediately and then on every interval until ctx is done.
// It returns at once when there are no targets.
func (p *Poller) Run(ctx context.Context) {
	if len(p.targets) == 0 {
		return
	}
	slog.Info("fleet: polling agents", "targets", len(p.targets), "interval", p.interval)

	p.PollOnce(ctx)
	t := time.NewTicker(p.interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			p.PollOnce(ctx)
		}
	}
}

// PollOnce scrapes all targets concurrently and waits for them to finish.
func (p *Poller) PollOnce(ctx context.Context) {
	var wg sync.WaitGroup
	for _, tg := range p.targets {
		wg.Add(1)
		go func(tg Target) {
			defer wg.Done()
			sample := p.scraper.Scrape(ctx, tg.ScannerMAC, tg.StatusURL)
			res := p.engine.Process(sample, p.now())
			p.sink.SetAgentHealth(tg.ScannerMAC, toHealth(res))
			slog.Debug("fleet: agent polled",
				"scanner", tg.ScannerMAC, "state", res.State, "score", res.Score)
		}(tg)
	}
	wg.Wait()
}

func toHealth(r *Result) store.AgentHealth {
	return store.AgentHealth{
		State:        r.State,
		Score:        round2(r.Score),
		DetectionsPM: round2(r.DetectionsPM),
		DeliveredPM:  round2(r.DeliveredPM),
		DropPct:      round2(r.DropPct),
		FailedPct:    round2(r.FailedPct),
		UptimePct:    round2(r.UptimePct),
		Buffered:     int(r.Buffered),
		Error:        r.ErrorMessage,
		UpdatedAt:    r.Timestamp.UTC(),
	}
}

func round2(v float64) float64 { return math.Round(v*100) / 100 }
