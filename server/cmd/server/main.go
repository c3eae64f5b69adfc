package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/proxiscan/proxiscan/server/internal/alerts"
	"github.com/proxiscan/proxiscan/server/internal/api"
	"github.com/proxiscan/proxiscan/server/internal/config"
	"github.com/proxiscan/proxiscan/server/internal/fleet"
	"github.com/proxiscan/proxiscan/server/internal/receiver"
	"github.com/proxiscan/proxiscan/server/internal/store"
	"github.com/proxiscan/proxiscan/server/internal/ws"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to config file")
	flag.Parse()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	slog.Info("proxiscan-server starting", "config", *configPath)

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("failed to load config", "err", err)
		os.Exit(1)
	}
	sc := cfg.Server

	slog.Info("config loaded",
		"http_port", sc.HTTPPort,
		"scan_path", sc.ScanPath,
		"store_ttl", sc.Store.TTL,
		"scanners", len(sc.Scanners),
		"nats", sc.NATS.URL != "",
	)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// In-memory store with background TTL eviction.
	st := store.New(sc.Store.TTL, sc.Privacy.Salt())
	for _, s := range sc.Scanners {
		st.RegisterScanner(s.MAC, s.Name, s.Location)
	}
	for _, a := range sc.Assets {
		st.RegisterAsset(a.MAC, a.Name)
	}
	go st.Run(ctx)

	// Fleet poller scores the agents that expose a status server.
	var targets []fleet.Target
	for _, s := range sc.Scanners {
		if s.StatusURL != "" {
			targets = append(targets, fleet.Target{ScannerMAC: s.MAC, StatusURL: s.StatusURL})
		}
	}
	poller := fleet.New(targets, st, fleet.Options{
		Interval:     sc.Fleet.Interval,
		Timeout:      sc.Fleet.Timeout,
		SendBaseline: sc.Fleet.SendBaseline,
	})
	go poller.Run(ctx)

	// Alerts engine evaluates rules on every ingested batch and resolves
	// alerts of scanners that go quiet.
	alertEngine := alerts.New(sc.Alerts)
	go alertEngine.Run(ctx)

	// WebSocket hub pushes changes every 5 seconds and after each batch.
	hub := ws.New(st, 5*time.Second)
	go hub.Run(ctx)

	rec := receiver.New(st, alertEngine)
	rec.OnIngest(hub.Notify)

	// Optional NATS request/reply intake.
	if sc.NATS.URL != "" {
		nc, err := nats.Connect(sc.NATS.URL,
			nats.Name("proxiscan-server"),
			nats.MaxReconnects(-1),
		)
		if err != nil {
			slog.Error("failed to connect to nats", "url", sc.NATS.URL, "err", err)
			os.Exit(1)
		}
		defer nc.Drain() //nolint:errcheck
		if _, err := rec.SubscribeNATS(nc, sc.NATS.Subject); err != nil {
			slog.Error("failed to subscribe", "subject", sc.NATS.Subject, "err", err)
			os.Exit(1)
		}
	}

	httpMux := http.NewServeMux()
	httpMux.Handle(sc.ScanPath, rec)
	httpMux.Handle("/api/v1/", api.New(st, alertEngine))
	httpMux.Handle("/ws/stream", hub)

	httpSrv := &http.Server{
		Addr:              fmt.Sprintf(":%d", sc.HTTPPort),
		Handler:           httpMux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		slog.Info("HTTP server listening", "port", sc.HTTPPort, "scan_path", sc.ScanPath)
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("HTTP server stopped", "err", err)
			cancel()
		}
	}()

	<-ctx.Done()
	slog.Info("proxiscan-server shutting down")
	shutCtx, stop := context.WithTimeout(context.Background(), 5*time.Second)
	defer stop()
	httpSrv.Shutdown(shutCtx) //nolint:errcheck
}
