package fleet

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/proxiscan/proxiscan/pkg/types"
)

// agentRegistry builds a registry shaped like an agent's /metrics.
func agentRegistry(t *testing.T) *prometheus.Registry {
	t.Helper()
	reg := prometheus.NewRegistry()

	detections := prometheus.NewCounter(prometheus.CounterOpts{Name: types.MetricDetections})
	cycles := prometheus.NewCounterVec(prometheus.CounterOpts{Name: types.MetricCycles}, []string{types.MetricOutcomeLabel})
	delivered := prometheus.NewCounter(prometheus.CounterOpts{Name: types.MetricRecordsSent})
	dropped := prometheus.NewCounter(prometheus.CounterOpts{Name: types.MetricRecordsDropped})
	send := prometheus.NewHistogramVec(prometheus.HistogramOpts{Name: types.MetricSendDuration}, []string{types.MetricOutcomeLabel})
	buffered := prometheus.NewGaugeFunc(prometheus.GaugeOpts{Name: types.MetricBufferedRecords}, func() float64 { return 7 })
	reg.MustRegister(detections, cycles, delivered, dropped, send, buffered)

	detections.Add(120)
	cycles.WithLabelValues("delivered").Add(9)
	cycles.WithLabelValues("failed").Add(1)
	cycles.WithLabelValues("no_data").Add(4)
	delivered.Add(100)
	dropped.Add(12)
	send.WithLabelValues("delivered").Observe(0.2)
	send.WithLabelValues("failed").Observe(1.0)
	return reg
}

func TestScrape_ReadsAgentTotals(t *testing.T) {
	srv := httptest.NewServer(promhttp.HandlerFor(agentRegistry(t), promhttp.HandlerOpts{}))
	defer srv.Close()

	s := NewScraper(time.Second).Scrape(context.Background(), "S1", srv.URL+"/")
	if s.Err != nil {
		t.Fatalf("Scrape: %v", s.Err)
	}
	if s.ScannerMAC != "S1" {
		t.Errorf("ScannerMAC: got %q", s.ScannerMAC)
	}
	checks := map[string][2]float64{
		"Detections":      {s.Detections, 120},
		"Delivered":       {s.Delivered, 100},
		"Dropped":         {s.Dropped, 12},
		"CyclesDelivered": {s.CyclesDelivered, 9},
		"CyclesFailed":    {s.CyclesFailed, 1},
		"Buffered":        {s.Buffered, 7},
		"SendCount":       {s.SendCount, 2},
	}
	for name, c := range checks {
		if c[0] != c[1] {
			t.Errorf("%s: got %v, want %v", name, c[0], c[1])
		}
	}
	if !almostEqual(s.SendSeconds, 1.2, 0.0001) {
		t.Errorf("SendSeconds: got %v, want 1.2", s.SendSeconds)
	}
}

func TestScrape_Errors(t *testing.T) {
	tests := map[string]http.HandlerFunc{
		"non-200": func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
		},
		"not an agent": func(w http.ResponseWriter, _ *http.Request) {
			w.Write([]byte("# TYPE up gauge\nup 1\n")) //nolint:errcheck
		},
	}
	for name, h := range tests {
		t.Run(name, func(t *testing.T) {
			srv := httptest.NewServer(h)
			defer srv.Close()
			if s := NewScraper(time.Second).Scrape(context.Background(), "S1", srv.URL); s.Err == nil {
				t.Error("expected error, got nil")
			}
		})
	}

	t.Run("unreachable", func(t *testing.T) {
		srv := httptest.NewServer(http.NotFoundHandler())
		url := srv.URL
		srv.Close()
		if s := NewScraper(time.Second).Scrape(context.Background(), "S1", url); s.Err == nil {
			t.Error("expected error, got nil")
		}
	})
}

func TestParseMetrics_Garbage(t *testing.T) {
	if _, err := parseMetrics(strings.NewReader("{not prometheus}")); err == nil {
		t.Error("expected parse error, got nil")
	}
}
