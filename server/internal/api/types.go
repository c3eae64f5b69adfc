package api

import "github.com/proxiscan/proxiscan/server/internal/alerts"

// HealthResponse is the payload for GET /api/v1/health.
type HealthResponse struct {
	// State is "ok" when at least one scanner is online, "degraded" when some
	// registered scanners are offline, "idle" when nothing has reported.
	State        string `json:"state"`
	ScannerCount int    `json:"scanner_count"`
	OnlineCount  int    `json:"online_count"`
	OfflineCount int    `json:"offline_count"`
	DeviceCount  int    `json:"device_count"`
	AssetCount   int    `json:"asset_count"`
	AlertCount   int    `json:"alert_count"`
}

// ScannerResponse is one entry in GET /api/v1/scanners.
type ScannerResponse struct {
	MAC        string `json:"mac"`
	Name       string `json:"name,omitempty"`
	Location   string `json:"location,omitempty"`
	Registered bool   `json:"registered"`
	Status     string `json:"status"`
	Batches    int64  `json:"batches"`
	Sightings  int64  `json:"sightings"`
	LastSeen   string `json:"last_seen,omitempty"` // RFC3339

	Agent *AgentResponse `json:"agent,omitempty"`
}

// AgentResponse is the polled health of a scanner's agent process.
type AgentResponse struct {
	State        string  `json:"state"`
	Score        float64 `json:"score"`
	DetectionsPM float64 `json:"detections_pm"`
	DeliveredPM  float64 `json:"delivered_pm"`
	DropPct      float64 `json:"drop_pct"`
	FailedPct    float64 `json:"failed_cycle_pct"`
	UptimePct    float64 `json:"uptime_pct"`
	Buffered     int     `json:"buffered"`
	Error        string  `json:"error,omitempty"`
	UpdatedAt    string  `json:"updated_at"` // RFC3339
}

// ReadingResponse is one scanner's latest reading of a device.
type ReadingResponse struct {
	ScannerMAC string  `json:"scanner_mac"`
	RSSI       int     `json:"rssi"`
	DistanceM  float64 `json:"distance_m"`
	ObservedAt string  `json:"observed_at"` // RFC3339
}

// DeviceResponse is one device in GET /api/v1/devices or
// GET /api/v1/devices/{mac}.
type DeviceResponse struct {
	HashedMAC   string            `json:"hashed_mac"`
	IsAsset     bool              `json:"is_asset"`
	AssetName   string            `json:"asset_name,omitempty"`
	LastScanner string            `json:"last_scanner"`
	Nearest     string            `json:"nearest_scanner"`
	RSSI        int               `json:"rssi"`
	Sightings   int64             `json:"sightings"`
	Readings    []ReadingResponse `json:"readings"`
	Hints       []ProximityHint   `json:"hints"`
	LastSeen    string            `json:"last_seen"` // RFC3339
}

// SnapshotResponse is the payload for GET /api/v1/snapshot and the data of
// every WebSocket broadcast.
type SnapshotResponse struct {
	Scanners    []ScannerResponse `json:"scanners"`
	Devices     []DeviceResponse  `json:"devices"`
	GeneratedAt string            `json:"generated_at"` // RFC3339
}

// AlertSource lists current alerts. *alerts.Engine implements it.
type AlertSource interface {
	Active() []*alerts.Alert
}

// errorResponse is a generic JSON error body.
type errorResponse struct {
	Error string `json:"error"`
}
