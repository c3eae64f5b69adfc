package api

import (
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/proxiscan/proxiscan/server/internal/store"
)

// Path-loss model used for distance estimates: RSSI = refRSSI - 10*n*log10(d).
const (
	refRSSI       = -55.0 // dBm at one metre
	pathLossTenN  = 25.0  // 10 * path-loss exponent
	weakSignal    = -90
	immediateZone = 0.5 // metres
	staleReading  = time.Minute
)

// ProximityHint is one human-readable observation about a device. Hints are
// ordered warnings first, then info.
type ProximityHint struct {
	// Key is a stable machine-readable identifier.
	Key string `json:"key"`
	// Level is "info" | "warning".
	Level string `json:"level"`
	// Title is a short label.
	Title string `json:"title"`
	// Detail is the full explanation.
	Detail string `json:"detail"`
	// Value is an optional numeric value associated with this hint.
	Value *float64 `json:"value,omitempty"`
}

// estimateDistance inverts the path-loss model, in metres.
func estimateDistance(rssi int) float64 {
	d := math.Pow(10, (refRSSI-float64(rssi))/pathLossTenN)
	return math.Round(d*100) / 100
}

// computeHints derives proximity hints for d as of now.
func computeHints(d store.Device, now time.Time) []ProximityHint {
	var warn, info []ProximityHint

	if d.RSSI <= weakSignal {
		v := float64(d.RSSI)
		warn = append(warn, ProximityHint{
			Key:   "weak_signal",
			Level: "warning",
			Title: "Weak signal",
			Detail: fmt.Sprintf("The last reading was %d dBm, at the edge of reliable reception. "+
				"Distance estimates at this level are rough.", d.RSSI),
			Value: &v,
		})
	}

	if age := now.Sub(d.ObservedAt); age > staleReading {
		v := age.Seconds()
		warn = append(warn, ProximityHint{
			Key:   "stale_reading",
			Level: "warning",
			Title: "Reading delayed",
			Detail: fmt.Sprintf("The newest reading was captured %s before it was queried. "+
				"The scanner may be batching slowly or its clock may be off.", age.Round(time.Second)),
			Value: &v,
		})
	}

	if d.IsAsset {
		info = append(info, ProximityHint{
			Key:    "registered_asset",
			Level:  "info",
			Title:  "Registered asset",
			Detail: fmt.Sprintf("This device is the registered asset %q.", d.AssetName),
		})
	}

	if dist := estimateDistance(d.RSSI); dist <= immediateZone {
		info = append(info, ProximityHint{
			Key:    "immediate",
			Level:  "info",
			Title:  "Next to scanner",
			Detail: fmt.Sprintf("Estimated %.2f m from scanner %s.", dist, d.LastScanner),
			Value:  &dist,
		})
	}

	if n := len(d.ByScanner); n > 1 {
		v := float64(n)
		info = append(info, ProximityHint{
			Key:   "multi_scanner",
			Level: "info",
			Title: fmt.Sprintf("Seen by %d scanners", n),
			Detail: fmt.Sprintf("Strongest reading is from scanner %s; "+
				"position can be estimated from the other readings.", d.Nearest()),
			Value: &v,
		})
	}

	return append(warn, info...)
}

// readings returns the per-scanner readings of d, strongest first.
func readings(d store.Device) []ReadingResponse {
	out := make([]ReadingResponse, 0, len(d.ByScanner))
	for mac, r := range d.ByScanner {
		out = append(out, ReadingResponse{
			ScannerMAC: mac,
			RSSI:       r.RSSI,
			DistanceM:  estimateDistance(r.RSSI),
			ObservedAt: r.ObservedAt.UTC().Format(time.RFC3339),
		})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].RSSI != out[j].RSSI {
			return out[i].RSSI > out[j].RSSI
		}
		return out[i].ScannerMAC < out[j].ScannerMAC
	})
	return out
}
