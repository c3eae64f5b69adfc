package api_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/proxiscan/proxiscan/pkg/types"
	"github.com/proxiscan/proxiscan/server/internal/alerts"
	"github.com/proxiscan/proxiscan/server/internal/api"
	"github.com/proxiscan/proxiscan/server/internal/store"
)

// --- test helpers -----------------------------------------------------------

func newStore(items ...types.ScanItem) *store.Store {
	st := store.New(5*time.Minute, "salt")
	for _, it := range items {
		st.Record(it)
	}
	return st
}

func scan(scanner, mac string, rssi int) types.ScanItem {
	return types.ScanItem{ScannerMAC: scanner, MAC: mac, RSSI: rssi, Timestamp: time.Now().UnixMilli()}
}

type fakeAlerts []*alerts.Alert

func (f fakeAlerts) Active() []*alerts.Alert { return f }

func get(t *testing.T, h http.Handler, path string) *httptest.ResponseRecorder {
	t.Helper()
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, path, nil))
	return rr
}

func decode(t *testing.T, rr *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	if err := json.NewDecoder(rr.Body).Decode(v); err != nil {
		t.Fatalf("decode JSON: %v (body: %s)", err, rr.Body.String())
	}
}

// --- /api/v1/health ---------------------------------------------------------

func TestHealth_EmptyStore(t *testing.T) {
	h := api.New(newStore(), nil)
	rr := get(t, h, "/api/v1/health")

	if rr.Code != http.StatusOK {
		t.Fatalf("status: got %d, want 200", rr.Code)
	}
	var resp api.HealthResponse
	decode(t, rr, &resp)
	if resp.State != "idle" {
		t.Errorf("state: got %q, want idle", resp.State)
	}
	if resp.ScannerCount != 0 || resp.DeviceCount != 0 {
		t.Errorf("counts: got %+v", resp)
	}
}

func TestHealth_OnlineScanners(t *testing.T) {
	st := newStore(scan("S1", "AA", -60), scan("S2", "BB", -70))
	st.RegisterAsset("CC", "Cart")
	st.Record(scan("S1", "CC", -50))

	h := api.New(st, fakeAlerts{{RuleName: "r", State: "firing"}})
	var resp api.HealthResponse
	decode(t, get(t, h, "/api/v1/health"), &resp)

	if resp.State != "ok" {
		t.Errorf("state: got %q, want ok", resp.State)
	}
	if resp.ScannerCount != 2 || resp.OnlineCount != 2 || resp.OfflineCount != 0 {
		t.Errorf("scanner counts: got %+v", resp)
	}
	if resp.DeviceCount != 3 || resp.AssetCount != 1 {
		t.Errorf("device counts: got %+v", resp)
	}
	if resp.AlertCount != 1 {
		t.Errorf("alert_count: got %d, want 1", resp.AlertCount)
	}
}

func TestHealth_RegisteredScannerOffline(t *testing.T) {
	st := newStore(scan("S1", "AA", -60))
	st.RegisterScanner("S2", "Dock", "")

	var resp api.HealthResponse
	decode(t, get(t, api.New(st, nil), "/api/v1/health"), &resp)
	if resp.State != "degraded" || resp.OfflineCount != 1 {
		t.Errorf("health: got %+v", resp)
	}
}

// --- /api/v1/scanners -------------------------------------------------------

func TestListScanners(t *testing.T) {
	st := newStore(scan("S2", "AA", -60))
	st.RegisterScanner("S1", "Lobby", "Floor 1")

	var out []api.ScannerResponse
	decode(t, get(t, api.New(st, nil), "/api/v1/scanners"), &out)
	if len(out) != 2 {
		t.Fatalf("scanners: got %d, want 2", len(out))
	}
	if out[0].MAC != "S1" || out[0].Name != "Lobby" || out[0].Status != "offline" || out[0].LastSeen != "" {
		t.Errorf("S1: got %+v", out[0])
	}
	if out[1].MAC != "S2" || out[1].Status != "online" || out[1].Sightings != 1 || out[1].LastSeen == "" {
		t.Errorf("S2: got %+v", out[1])
	}
}

func TestListScanners_AgentHealth(t *testing.T) {
	st := newStore()
	st.RegisterScanner("S1", "Lobby", "")
	st.SetAgentHealth("S1", store.AgentHealth{
		State:     "degraded",
		Score:     72.5,
		DropPct:   12,
		UpdatedAt: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
	})

	var out []api.ScannerResponse
	decode(t, get(t, api.New(st, nil), "/api/v1/scanners"), &out)
	if len(out) != 1 || out[0].Agent == nil {
		t.Fatalf("scanners: got %+v", out)
	}
	a := out[0].Agent
	if a.State != "degraded" || a.Score != 72.5 || a.DropPct != 12 || a.UpdatedAt != "2026-01-01T00:00:00Z" {
		t.Errorf("agent: got %+v", a)
	}
}

// --- /api/v1/devices --------------------------------------------------------

func TestListDevices_Empty(t *testing.T) {
	rr := get(t, api.New(newStore(), nil), "/api/v1/devices")
	if body := rr.Body.String(); body != "[]\n" {
		t.Errorf("body: got %q, want []", body)
	}
}

func TestListDevices_StrongestFirst(t *testing.T) {
	st := newStore(scan("S1", "far", -88), scan("S1", "near", -45))

	var out []api.DeviceResponse
	decode(t, get(t, api.New(st, nil), "/api/v1/devices"), &out)
	if len(out) != 2 {
		t.Fatalf("devices: got %d, want 2", len(out))
	}
	if out[0].HashedMAC != st.Hash("near") || out[0].RSSI != -45 {
		t.Errorf("devices[0]: got %+v", out[0])
	}
	if out[0].Hints == nil || out[0].Readings == nil {
		t.Error("hints and readings must be arrays, not null")
	}
}

func TestGetDevice_ByRawAndHashedMAC(t *testing.T) {
	st := newStore(scan("S1", "AA:BB", -80), scan("S2", "AA:BB", -55))
	h := api.New(st, nil)

	for _, key := range []string{"AA:BB", st.Hash("AA:BB")} {
		rr := get(t, h, "/api/v1/devices/"+key)
		if rr.Code != http.StatusOK {
			t.Fatalf("GET %s: status %d", key, rr.Code)
		}
		var d api.DeviceResponse
		decode(t, rr, &d)
		if d.Nearest != "S2" || d.LastScanner != "S2" {
			t.Errorf("nearest/last: got %q/%q, want S2", d.Nearest, d.LastScanner)
		}
		if len(d.Readings) != 2 || d.Readings[0].ScannerMAC != "S2" || d.Readings[0].DistanceM != 1 {
			t.Errorf("readings: got %+v", d.Readings)
		}
		if d.Readings[1].DistanceM != 10 {
			t.Errorf("distance at -80 dBm: got %v, want 10", d.Readings[1].DistanceM)
		}
	}
}

func TestGetDevice_NotFound(t *testing.T) {
	rr := get(t, api.New(newStore(), nil), "/api/v1/devices/nope")
	if rr.Code != http.StatusNotFound {
		t.Errorf("status: got %d, want 404", rr.Code)
	}
}

func TestGetDevice_Hints(t *testing.T) {
	st := newStore()
	st.RegisterAsset("TAG", "Wheelchair")
	st.Record(scan("S1", "TAG", -95))
	st.Record(types.ScanItem{ScannerMAC: "S2", MAC: "TAG", RSSI: -93, Timestamp: time.Now().Add(-5 * time.Minute).UnixMilli()})

	var d api.DeviceResponse
	decode(t, get(t, api.New(st, nil), "/api/v1/devices/TAG"), &d)

	keys := map[string]string{}
	for _, hint := range d.Hints {
		keys[hint.Key] = hint.Level
	}
	for key, level := range map[string]string{
		"weak_signal":      "warning",
		"stale_reading":    "warning",
		"registered_asset": "info",
		"multi_scanner":    "info",
	} {
		if keys[key] != level {
			t.Errorf("hint %s: got level %q, want %q (hints %+v)", key, keys[key], level, d.Hints)
		}
	}
	if d.Hints[0].Level != "warning" {
		t.Error("warnings must come first")
	}
	if _, ok := keys["immediate"]; ok {
		t.Error("immediate hint on a weak signal")
	}
}

// --- /api/v1/alerts ---------------------------------------------------------

func TestAlerts_NilSourceReturnsEmptyArray(t *testing.T) {
	rr := get(t, api.New(newStore(), nil), "/api/v1/alerts")
	if rr.Code != http.StatusOK {
		t.Fatalf("status: got %d, want 200", rr.Code)
	}
	if body := rr.Body.String(); body != "[]\n" {
		t.Errorf("body: got %q, want []", body)
	}
}

func TestAlerts_ListsActive(t *testing.T) {
	al := fakeAlerts{{ID: "a1", RuleName: "crowded", ScannerMAC: "S1", State: "firing"}}
	var out []alerts.Alert
	decode(t, get(t, api.New(newStore(), al), "/api/v1/alerts"), &out)
	if len(out) != 1 || out[0].RuleName != "crowded" || out[0].ScannerMAC != "S1" {
		t.Errorf("alerts: got %+v", out)
	}
}

// --- /api/v1/snapshot -------------------------------------------------------

func TestSnapshot(t *testing.T) {
	st := newStore(scan("S1", "AA", -60))
	var snap api.SnapshotResponse
	decode(t, get(t, api.New(st, nil), "/api/v1/snapshot"), &snap)

	if len(snap.Scanners) != 1 || len(snap.Devices) != 1 {
		t.Errorf("snapshot: got %d scanners, %d devices", len(snap.Scanners), len(snap.Devices))
	}
	if _, err := time.Parse(time.RFC3339, snap.GeneratedAt); err != nil {
		t.Errorf("generated_at: %v", err)
	}
}

// --- common -----------------------------------------------------------------

func TestMethodNotAllowed(t *testing.T) {
	h := api.New(newStore(), nil)
	for _, path := range []string{
		"/api/v1/health", "/api/v1/scanners", "/api/v1/devices",
		"/api/v1/devices/AA", "/api/v1/alerts", "/api/v1/snapshot",
	} {
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, path, nil))
		if rr.Code != http.StatusMethodNotAllowed {
			t.Errorf("POST %s: got %d, want 405", path, rr.Code)
		}
	}
}

func TestContentTypeJSON(t *testing.T) {
	h := api.New(newStore(), nil)
	for _, path := range []string{"/api/v1/health", "/api/v1/devices", "/api/v1/devices/missing"} {
		if ct := get(t, h, path).Header().Get("Content-Type"); ct != "application/json" {
			t.Errorf("%s Content-Type: got %q", path, ct)
		}
	}
}
