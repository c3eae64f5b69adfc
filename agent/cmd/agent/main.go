package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/proxiscan/proxiscan/agent/internal/buffer"
	"github.com/proxiscan/proxiscan/agent/internal/config"
	"github.com/proxiscan/proxiscan/agent/internal/discovery"
	"github.com/proxiscan/proxiscan/agent/internal/dispatch"
	"github.com/proxiscan/proxiscan/agent/internal/metrics"
	"github.com/proxiscan/proxiscan/agent/internal/status"
	"github.com/proxiscan/proxiscan/agent/internal/transport"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to config file (optional)")
	flag.Parse()

	var level slog.LevelVar
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: &level}))
	slog.SetDefault(logger)

	slog.Info("proxiscan-agent starting", "config", *configPath)

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("failed to load config", "err", err)
		os.Exit(1)
	}
	a := cfg.Agent
	level.Set(a.Level())

	slog.Info("config loaded",
		"endpoint", a.Endpoint,
		"transport", a.Transport,
		"scanner_mac", a.ScannerMAC,
		"scan_interval", a.ScanInterval,
		"batch_interval", a.BatchInterval,
		"source", a.Discovery.Source,
	)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	var tr dispatch.Transport
	switch a.Transport {
	case "nats":
		nt, err := transport.DialNATS(a.Endpoint, a.NATS.Subject, a.SendTimeout)
		if err != nil {
			slog.Error("failed to connect to nats", "url", a.Endpoint, "err", err)
			os.Exit(1)
		}
		defer nt.Close()
		tr = nt
	default:
		tr = transport.NewHTTP(a.Endpoint, a.SendTimeout)
	}

	src, err := discovery.New(a.Discovery.Source, discovery.Options{
		ScanInterval: a.ScanInterval,
		Seed:         a.Discovery.Seed,
	})
	if err != nil {
		slog.Error("failed to build discovery source", "err", err)
		os.Exit(1)
	}

	buf := buffer.New()
	m := metrics.New()
	m.WatchBuffer(buf.Len)

	disp := dispatch.New(buf, tr, a.ScannerMAC, a.BatchInterval, m)

	taps := []discovery.Tap{m.Detection}
	var feed *status.Feed
	if a.Status.Listen != "" {
		feed = status.NewFeed()
		taps = append(taps, feed.Publish)
	}
	intake := discovery.NewIntake(buf, taps...)

	if _, err := os.Stat(*configPath); err == nil {
		go func() {
			if err := config.WatchLevel(ctx, *configPath, &level); err != nil {
				slog.Error("config watcher stopped", "err", err)
			}
		}()
	}

	var wg sync.WaitGroup

	if feed != nil {
		srv := status.New(status.Options{
			ScannerMAC: a.ScannerMAC,
			Buffered:   buf.Len,
			Last:       disp.Last,
			Gatherer:   m.Registry(),
			Feed:       feed,
		})
		wg.Add(2)
		go func() {
			defer wg.Done()
			if err := srv.ListenAndServe(ctx, a.Status.Listen); err != nil {
				slog.Error("status server stopped", "addr", a.Status.Listen, "err", err)
			}
		}()
		go func() {
			defer wg.Done()
			feed.CloseOnDone(ctx)
		}()
	}

	wg.Add(2)
	go func() {
		defer wg.Done()
		discovery.Supervise(ctx, src, intake.Handle)
	}()
	go func() {
		defer wg.Done()
		disp.Run(ctx)
	}()

	<-ctx.Done()
	slog.Info("proxiscan-agent shutting down")
	wg.Wait()

	sum, err := metrics.Summarize(m.Registry())
	if err != nil {
		slog.Warn("could not summarise metrics", "err", err)
	}
	slog.Info("proxiscan-agent stopped",
		"detections", sum.Detections,
		"batches_delivered", sum.CyclesDelivered,
		"batches_failed", sum.CyclesFailed,
		"records_delivered", sum.RecordsSent,
		"records_dropped", sum.RecordsDropped,
		"records_discarded", sum.Buffered,
	)
}
