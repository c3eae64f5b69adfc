package status

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/proxiscan/proxiscan/agent/internal/dispatch"
)

// Health is the /healthz response body.
type Health struct {
	Status      string       `json:"status"`
	ScannerMAC  string       `json:"scanner_mac"`
	Buffered    int          `json:"buffered"`
	FeedClients int          `json:"feed_clients"`
	Last        *LastOutcome `json:"last_outcome,omitempty"`
}

// LastOutcome is the JSON form of the most recent dispatch.Outcome.
type LastOutcome struct {
	Kind      string    `json:"kind"`
	Summary   string    `json:"summary"`
	BatchID   string    `json:"batch_id,omitempty"`
	Count     int       `json:"count"`
	Processed int       `json:"processed"`
	Error     string    `json:"error,omitempty"`
	At        time.Time `json:"at"`
}

// Options wires the status server to the running pipeline.
type Options struct {
	ScannerMAC string
	Buffered   func() int
	Last       func() dispatch.Outcome
	Gatherer   prometheus.Gatherer
	Feed       *Feed
}

// Server is the agent's local status HTTP surface.
type Server struct {
	opts Options
	mux  *http.ServeMux
}

// New builds a Server. Feed and Gatherer may be nil, in which case their
// routes are not mounted.
func New(opts Options) *Server {
	s := &Server{opts: opts, mux: http.NewServeMux()}
	s.mux.HandleFunc("GET /healthz", s.handleHealth)
	if opts.Gatherer != nil {
		s.mux.Handle("GET /metrics", promhttp.HandlerFor(opts.Gatherer, promhttp.HandlerOpts{}))
	}
	if opts.Feed != nil {
		s.mux.Handle("GET /ws/detections", opts.Feed)
	}
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

// ListenAndServe serves on addr until ctx is cancelled, then shuts down.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	return s.Serve(ctx, lis)
}

// Serve is ListenAndServe on an existing listener.
func (s *Server) Serve(ctx context.Context, lis net.Listener) error {
	srv := &http.Server{Handler: s, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		srv.Shutdown(shutCtx) //nolint:errcheck
	}()

	slog.Info("status: listening", "addr", lis.Addr().String())
	if err := srv.Serve(lis); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	h := Health{Status: "ok", ScannerMAC: s.opts.ScannerMAC}
	if s.opts.Buffered != nil {
		h.Buffered = s.opts.Buffered()
	}
	if s.opts.Feed != nil {
		h.FeedClients = s.opts.Feed.Count()
	}
	if s.opts.Last != nil {
		if o := s.opts.Last(); o.Kind != "" {
			h.Last = toLast(o)
		}
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(h) //nolint:errcheck
}

func toLast(o dispatch.Outcome) *LastOutcome {
	l := &LastOutcome{
		Kind:      string(o.Kind),
		Summary:   o.String(),
		BatchID:   o.BatchID,
		Count:     o.Count,
		Processed: o.Processed,
		At:        o.At.UTC(),
	}
	if o.Err != nil {
		l.Error = o.Err.Error()
	}
	return l
}
