package metrics

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"

	"github.com/proxiscan/proxiscan/agent/internal/dispatch"
	"github.com/proxiscan/proxiscan/pkg/types"
)

// Summary is the set of lifetime totals reported when the agent exits.
type Summary struct {
	Detections      int64
	CyclesDelivered int64
	CyclesFailed    int64
	CyclesNoData    int64
	RecordsSent     int64
	RecordsDropped  int64
	Buffered        int64
}

// Summarize gathers g and folds the agent families into a Summary.
// Families that are absent count as zero.
func Summarize(g prometheus.Gatherer) (Summary, error) {
	mfs, err := g.Gather()
	if err != nil {
		return Summary{}, fmt.Errorf("metrics: gather: %w", err)
	}
	byName := make(map[string]*dto.MetricFamily, len(mfs))
	for _, mf := range mfs {
		byName[mf.GetName()] = mf
	}

	cycles := byName[NameCycles]
	return Summary{
		Detections:      int64(sumFamily(byName[NameDetections])),
		CyclesDelivered: int64(sumLabel(cycles, types.MetricOutcomeLabel, string(dispatch.KindDelivered))),
		CyclesFailed:    int64(sumLabel(cycles, types.MetricOutcomeLabel, string(dispatch.KindFailed))),
		CyclesNoData:    int64(sumLabel(cycles, types.MetricOutcomeLabel, string(dispatch.KindNoData))),
		RecordsSent:     int64(sumFamily(byName[NameRecordsSent])),
		RecordsDropped:  int64(sumFamily(byName[NameRecordsDropped])),
		Buffered:        int64(sumFamily(byName[NameBufferedRecords])),
	}, nil
}

// sumFamily adds up all counter, gauge, or untyped values in a MetricFamily.
// Returns 0 if mf is nil.
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
