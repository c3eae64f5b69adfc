package fleet

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	dto "github.com/prometheus/client_model/go"
	"github.com/prometheus/common/expfmt"

	"github.com/proxiscan/proxiscan/pkg/types"
)

const defaultScrapeTimeout = 10 * time.Second

// Cycle outcome label values written by the agent.
const (
	outcomeDelivered = "delivered"
	outcomeFailed    = "failed"
)

// Sample is one scrape of a single agent. Counter fields hold raw totals, not
// rates; the Engine derives rates from the delta to the previous Sample.
type Sample struct {
	ScannerMAC string
	ScrapedAt  time.Time

	Detections      float64
	Delivered       float64
	Dropped         float64
	CyclesDelivered float64
	CyclesFailed    float64

	// SendSeconds and SendCount are the histogram sum and count of delivery
	// attempts, used for the mean send latency.
	SendSeconds float64
	SendCount   float64

	// Buffered is the current event buffer size (a gauge).
	Buffered float64

	// Err is non-nil if the scrape failed (connectivity, status, parse).
	Err error
}

// Scraper fetches agent /metrics endpoints with a shared client.
type Scraper struct {
	client *http.Client
}

// NewScraper returns a Scraper whose requests time out after timeout.
func NewScraper(timeout time.Duration) *Scraper {
	if timeout <= 0 {
		timeout = defaultScrapeTimeout
	}
	return &Scraper{client: &http.Client{Timeout: timeout}}
}

// Scrape polls baseURL + "/metrics" and returns the agent's counter totals.
// A failed scrape is reported through Sample.Err, never a nil Sample.
func (s *Scraper) Scrape(ctx context.Context, scannerMAC, baseURL string) *Sample {
	out := &Sample{ScannerMAC: scannerMAC, ScrapedAt: time.Now().UTC()}

	mfs, err := fetchMetrics(ctx, s.client, strings.TrimRight(baseURL, "/")+"/metrics")
	if err != nil {
		out.Err = fmt.Errorf("fleet: scrape %s: %w", scannerMAC, err)
		return out
	}
	if _, ok := mfs[types.MetricCycles]; !ok {
		out.Err = fmt.Errorf("fleet: scrape %s: %s not exported", scannerMAC, types.MetricCycles)
		return out
	}

	out.Detections = sumFamily(mfs[types.MetricDetections])
	out.Delivered = sumFamily(mfs[types.MetricRecordsSent])
	out.Dropped = sumFamily(mfs[types.MetricRecordsDropped])
	out.CyclesDelivered = sumLabel(mfs[types.MetricCycles], types.MetricOutcomeLabel, outcomeDelivered)
	out.CyclesFailed = sumLabel(mfs[types.MetricCycles], types.MetricOutcomeLabel, outcomeFailed)
	out.Buffered = sumFamily(mfs[types.MetricBufferedRecords])
	if mf := mfs[types.MetricSendDuration]; mf != nil {
		for _, m := range mf.GetMetric() {
			if h := m.GetHistogram(); h != nil {
				out.SendSeconds += h.GetSampleSum()
				out.SendCount += float64(h.GetSampleCount())
			}
		}
	}
	return out
}

// fetchMetrics performs an HTTP GET to url and returns parsed metric families.
func fetchMetrics(ctx context.Context, client *http.Client, url string) (map[string]*dto.MetricFamily, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", string(expfmt.NewFormat(expfmt.TypeTextPlain)))

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http get: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	return parseMetrics(resp.Body)
}

// parseMetrics decodes a Prometheus text exposition from r into metric families.
// A partial result with a non-fatal parse warning is still returned successfully.
func parseMetrics(r io.Reader) (map[string]*dto.MetricFamily, error) {
	var parser expfmt.TextParser
	mfs, err := parser.TextToMetricFamilies(r)
	if err != nil && len(mfs) == 0 {
		return nil, fmt.Errorf("parse prometheus text: %w", err)
	}
	return mfs, nil
}

// sumFamily adds up all counter, gauge, or untyped values in a MetricFamily.
// Returns 0 if mf is nil (metric not present in the scrape).
func sumFamily(mf *dto.MetricFamily) float64 {
	if mf == nil {
		return 0
	}
	var total float64
	for _, m := range mf.GetMetric() {
		total += value(m)
	}
	return total
}

// sumLabel is sumFamily restricted to series where label == want.
func sumLabel(mf *dto.MetricFamily, label, want string) float64 {
	if mf == nil {
		return 0
	}
	var total float64
	for _, m := range mf.GetMetric() {
		for _, lp := range m.GetLabel() {
			if lp.GetName() == label && lp.GetValue() == want {
				total += value(m)
				break
			}
		}
	}
	return total
}

func value(m *dto.Metric) float64 {
	switch {
	case m.Counter != nil:
		return m.Counter.GetValue()
	case m.Gauge != nil:
		return m.Gauge.GetValue()
	case m.Untyped != nil:
		return m.Untyped.GetValue()
	}
	return 0
}
