package api

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/proxiscan/proxiscan/server/internal/alerts"
	"github.com/proxiscan/proxiscan/server/internal/store"
)

// Handler is the HTTP handler for all /api/v1/* endpoints.
type Handler struct {
	store  *store.Store
	alerts AlertSource
	mux    *http.ServeMux
	now    func() time.Time
}

// New creates a Handler wired to st and al and registers all routes.
// al may be nil.
func New(st *store.Store, al AlertSource) http.Handler {
	h := &Handler{store: st, alerts: al, mux: http.NewServeMux(), now: time.Now}

	h.mux.HandleFunc("/api/v1/health", h.health)
	h.mux.HandleFunc("/api/v1/scanners", h.listScanners)
	h.mux.HandleFunc("/api/v1/devices", h.listDevices)
	h.mux.HandleFunc("/api/v1/devices/", h.getDevice) // subtree, extracts {mac}
	h.mux.HandleFunc("/api/v1/alerts", h.listAlerts)
	h.mux.HandleFunc("/api/v1/snapshot", h.snapshot)

	return h
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mux.ServeHTTP(w, r)
}

// --- route handlers ---------------------------------------------------------

// health returns GET /api/v1/health.
func (h *Handler) health(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		jsonErr(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	scanners := h.store.Scanners()
	devices := h.store.Devices()
	resp := HealthResponse{
		ScannerCount: len(scanners),
		DeviceCount:  len(devices),
		AlertCount:   len(h.activeAlerts()),
	}
	for _, s := range scanners {
		if s.Status == store.StatusOnline {
			resp.OnlineCount++
		} else {
			resp.OfflineCount++
		}
	}
	for _, d := range devices {
		if d.IsAsset {
			resp.AssetCount++
		}
	}

	switch {
	case resp.OnlineCount == 0:
		resp.State = "idle"
	case resp.OfflineCount > 0:
		resp.State = "degraded"
	default:
		resp.State = "ok"
	}
	jsonResp(w, http.StatusOK, resp)
}

// listScanners returns GET /api/v1/scanners.
func (h *Handler) listScanners(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		jsonErr(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	jsonResp(w, http.StatusOK, scannerResponses(h.store))
}

// listDevices returns GET /api/v1/devices.
func (h *Handler) listDevices(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		jsonErr(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	jsonResp(w, http.StatusOK, deviceResponses(h.store, h.now()))
}

// getDevice returns GET /api/v1/devices/{mac}.
func (h *Handler) getDevice(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		jsonErr(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	key := strings.TrimPrefix(r.URL.Path, "/api/v1/devices/")
	if key == "" {
		h.listDevices(w, r)
		return
	}

	d, ok := h.store.Device(key)
	if !ok {
		jsonErr(w, http.StatusNotFound, "device not found")
		return
	}
	jsonResp(w, http.StatusOK, toDeviceResponse(d, h.now()))
}

// listAlerts returns GET /api/v1/alerts.
func (h *Handler) listAlerts(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		jsonErr(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	jsonResp(w, http.StatusOK, h.activeAlerts())
}

// snapshot returns GET /api/v1/snapshot.
func (h *Handler) snapshot(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		jsonErr(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	jsonResp(w, http.StatusOK, BuildSnapshot(h.store, h.now()))
}

func (h *Handler) activeAlerts() []*alerts.Alert {
	if h.alerts == nil {
		return []*alerts.Alert{}
	}
	if a := h.alerts.Active(); a != nil {
		return a
	}
	return []*alerts.Alert{}
}

// --- helpers ----------------------------------------------------------------

// BuildSnapshot assembles the full snapshot of st as of now. It is shared by
// GET /api/v1/snapshot and the WebSocket hub.
func BuildSnapshot(st *store.Store, now time.Time) SnapshotResponse {
	return SnapshotResponse{
		Scanners:    scannerResponses(st),
		Devices:     deviceResponses(st, now),
		GeneratedAt: now.UTC().Format(time.RFC3339),
	}
}

func scannerResponses(st *store.Store) []ScannerResponse {
	scanners := st.Scanners()
	out := make([]ScannerResponse, 0, len(scanners))
	for _, s := range scanners {
		sr := ScannerResponse{
			MAC:        s.MAC,
			Name:       s.Name,
			Location:   s.Location,
			Registered: s.Registered,
			Status:     s.Status,
			Batches:    s.Batches,
			Sightings:  s.Sightings,
		}
		if !s.LastSeen.IsZero() {
			sr.LastSeen = s.LastSeen.UTC().Format(time.RFC3339)
		}
		if a := s.Agent; a != nil {
			sr.Agent = &AgentResponse{
				State:        a.State,
				Score:        a.Score,
				DetectionsPM: a.DetectionsPM,
				DeliveredPM:  a.DeliveredPM,
				DropPct:      a.DropPct,
				FailedPct:    a.FailedPct,
				UptimePct:    a.UptimePct,
				Buffered:     a.Buffered,
				Error:        a.Error,
				UpdatedAt:    a.UpdatedAt.UTC().Format(time.RFC3339),
			}
		}
		out = append(out, sr)
	}
	return out
}

func deviceResponses(st *store.Store, now time.Time) []DeviceResponse {
	devices := st.Devices()
	out := make([]DeviceResponse, 0, len(devices))
	for _, d := range devices {
		out = append(out, toDeviceResponse(d, now))
	}
	return out
}

// toDeviceResponse maps a store.Device to its JSON representation.
func toDeviceResponse(d store.Device, now time.Time) DeviceResponse {
	hints := computeHints(d, now)
	if hints == nil {
		hints = []ProximityHint{}
	}
	return DeviceResponse{
		HashedMAC:   d.HashedMAC,
		IsAsset:     d.IsAsset,
		AssetName:   d.AssetName,
		LastScanner: d.LastScanner,
		Nearest:     d.Nearest(),
		RSSI:        d.RSSI,
		Sightings:   d.Sightings,
		Readings:    readings(d),
		Hints:       hints,
		LastSeen:    d.LastSeen.UTC().Format(time.RFC3339),
	}
}

func jsonResp(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v) //nolint:errcheck
}

func jsonErr(w http.ResponseWriter, code int, msg string) {
	jsonResp(w, code, errorResponse{Error: msg})
}
