package alerts

import (
	"strconv"
	"strings"
)

// BatchStats summarises one ingested batch from a single scanner.
// MaxRSSI and MinRSSI are meaningful only when BatchSize > 0.
type BatchStats struct {
	ScannerMAC    string `json:"scanner_mac"`
	BatchID       string `json:"batch_id,omitempty"`
	BatchSize     int    `json:"batch_size"`
	UniqueDevices int    `json:"unique_devices"`
	MaxRSSI       int    `json:"max_rssi"`
	MinRSSI       int    `json:"min_rssi"`
	Rejected      int    `json:"rejected"`
}

// evalCondition evaluates a rule condition string against batch stats.
//
// Supported expressions (field operator value):
//
//	batch_size > 500
//	unique_devices == 0
//	max_rssi > -40
//	min_rssi < -95
//	rejected > 0
//
// Returns (fires, triggering value, ok). ok is false when the expression
// cannot be parsed, the field is unknown, or the field has no value for this
// batch (RSSI bounds of a batch with no accepted items). Callers must leave
// alert state untouched when ok is false.
func evalCondition(cond string, st BatchStats) (bool, float64, bool) {
	parts := strings.Fields(cond)
	if len(parts) != 3 {
		return false, 0, false
	}
	field, op, rhs := parts[0], parts[1], parts[2]

	v, ok := numericField(field, st)
	if !ok {
		return false, 0, false
	}
	threshold, err := strconv.ParseFloat(rhs, 64)
	if err != nil {
		return false, 0, false
	}
	return compareFloat(v, op, threshold), v, true
}

// numericField maps a field name to its value in the stats.
func numericField(field string, st BatchStats) (float64, bool) {
	switch field {
	case "max_rssi", "min_rssi":
		if st.BatchSize == 0 {
			return 0, false
		}
	}
	switch field {
	case "batch_size":
		return float64(st.BatchSize), true
	case "unique_devices":
		return float64(st.UniqueDevices), true
	case "max_rssi":
		return float64(st.MaxRSSI), true
	case "min_rssi":
		return float64(st.MinRSSI), true
	case "rejected":
		return float64(st.Rejected), true
	default:
		return 0, false
	}
}

// compareFloat applies a comparison operator to two float64 values.
func compareFloat(v float64, op string, threshold float64) bool {
	switch op {
	case ">":
		return v > threshold
	case ">=":
		return v >= threshold
	case "<":
		return v < threshold
	case "<=":
		return v <= threshold
	case "==":
		return v == threshold
	case "!=":
		return v != threshold
	default:
		return false
	}
}
