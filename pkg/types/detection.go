package types

// DetectionRecord is a single observation of a device by the discovery
// mechanism, captured at the instant the callback fired.
type DetectionRecord struct {
	// DeviceID is the observed device's hardware address, as reported.
	DeviceID string `json:"mac"`

	// RSSI is the received-signal-strength indicator in dBm.
	RSSI int `json:"rssi"`

	// ObservedAtMillis is the capture time in milliseconds since the Unix epoch.
	ObservedAtMillis int64 `json:"timestamp"`
}

// ScanItem is the wire projection of a DetectionRecord. Field order matches
// the JSON the ingestion endpoint expects:
//
//	{"scannerMac": "...", "mac": "...", "rssi": -70, "timestamp": 1000}
type ScanItem struct {
	ScannerMAC string `json:"scannerMac"`
	MAC        string `json:"mac"`
	RSSI       int    `json:"rssi"`
	Timestamp  int64  `json:"timestamp"`
}

// NewScanItem stamps rec with the scanner identity. The three record fields
// are copied verbatim.
func NewScanItem(scannerMAC string, rec DetectionRecord) ScanItem {
	return ScanItem{
		ScannerMAC: scannerMAC,
		MAC:        rec.DeviceID,
		RSSI:       rec.RSSI,
		Timestamp:  rec.ObservedAtMillis,
	}
}

// ScanResult is the per-item outcome reported by the ingestion endpoint.
type ScanResult struct {
	MAC     string `json:"mac"`
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
	// LogID identifies the stored sighting when Success is true.
	LogID int64 `json:"logId,omitempty"`
}

// ScanResponse is the body returned by a successful POST to the ingestion
// endpoint.
type ScanResponse struct {
	Success        bool         `json:"success"`
	ProcessedCount int          `json:"processedCount"`
	Results        []ScanResult `json:"results,omitempty"`
}

// ErrorResponse is the body returned by the ingestion endpoint on a rejected
// request.
type ErrorResponse struct {
	Error string `json:"error"`
}
