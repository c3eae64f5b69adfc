package receiver

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"net/http"

	"github.com/proxiscan/proxiscan/pkg/types"
	"github.com/proxiscan/proxiscan/server/internal/alerts"
	"github.com/proxiscan/proxiscan/server/internal/store"
)

// maxBody bounds one request body.
const maxBody = 4 << 20

// Per-item and request error messages returned to agents.
const (
	msgMissingFields = "Missing required fields"
	msgEmpty         = "Empty scan data"
	msgInvalidJSON   = "Invalid JSON"
)

var (
	errEmpty   = errors.New(msgEmpty)
	errInvalid = errors.New(msgInvalidJSON)
)

// Evaluator receives per-scanner batch statistics. *alerts.Engine implements it.
type Evaluator interface {
	Evaluate(alerts.BatchStats)
}

// Receiver validates incoming items and writes accepted ones to the store.
type Receiver struct {
	store    *store.Store
	alerts   Evaluator
	onIngest func()
}

// New creates a Receiver that writes to st and reports batches to ev.
// ev may be nil.
func New(st *store.Store, ev Evaluator) *Receiver {
	return &Receiver{store: st, alerts: ev}
}

// OnIngest registers fn to run after every request that stored at least one
// item. It must be called before the receiver starts serving.
func (r *Receiver) OnIngest(fn func()) {
	r.onIngest = fn
}

// Item is one scan item as received. Decoding is lenient so that a missing
// or mistyped field is reported per item instead of failing the whole request.
type Item struct {
	ScannerMAC string   `json:"scannerMac"`
	MAC        string   `json:"mac"`
	RSSI       *float64 `json:"rssi"`
	Timestamp  *float64 `json:"timestamp"`

	malformed bool
}

// decodeBatch accepts a JSON array of items or a single item object. Only a
// body that is not valid JSON, or whose top level is neither an array nor an
// object, fails as a whole.
func decodeBatch(body []byte) ([]Item, error) {
	body = bytes.TrimSpace(body)
	if len(body) == 0 {
		return nil, errInvalid
	}
	switch body[0] {
	case '[':
		var raw []json.RawMessage
		if err := json.Unmarshal(body, &raw); err != nil {
			return nil, fmt.Errorf("%w: %v", errInvalid, err)
		}
		if len(raw) == 0 {
			return nil, errEmpty
		}
		items := make([]Item, len(raw))
		for i, elem := range raw {
			items[i] = decodeItem(elem)
		}
		return items, nil
	case '{':
		if !json.Valid(body) {
			return nil, errInvalid
		}
		return []Item{decodeItem(body)}, nil
	default:
		return nil, errInvalid
	}
}

// decodeItem decodes one array element. A type mismatch marks the item
// malformed but keeps whatever string fields decoded, so the rejection can
// still name its mac and be counted against its scanner.
func decodeItem(raw json.RawMessage) Item {
	var it Item
	if err := json.Unmarshal(raw, &it); err != nil {
		it.malformed = true
	}
	return it
}

// Ingest applies the per-item rules to items and returns the response body.
// ProcessedCount counts every item examined, accepted or not. Batch
// statistics reach the alert engine only for scanners the store allows.
func (r *Receiver) Ingest(batchID string, items []Item) types.ScanResponse {
	resp := types.ScanResponse{
		Success: true,
		Results: make([]types.ScanResult, 0, len(items)),
	}
	stats := make(map[string]*batch)
	var order []string

	for _, it := range items {
		var b *batch
		if it.ScannerMAC != "" {
			if b = stats[it.ScannerMAC]; b == nil {
				b = newBatch(it.ScannerMAC, batchID)
				b.allowed = r.store.Allowed(it.ScannerMAC)
				stats[it.ScannerMAC] = b
				order = append(order, it.ScannerMAC)
			}
		}

		if it.malformed || it.ScannerMAC == "" || it.MAC == "" || it.RSSI == nil {
			slog.Warn("receiver: invalid scan item",
				"batch_id", batchID,
				"scanner", it.ScannerMAC,
				"mac", it.MAC,
				"malformed", it.malformed,
			)
			resp.Results = append(resp.Results, types.ScanResult{MAC: it.MAC, Error: msgMissingFields})
			if b != nil {
				b.rejected++
			}
			continue
		}
		if !b.allowed {
			slog.Warn("receiver: unknown scanner", "batch_id", batchID, "scanner", it.ScannerMAC)
			resp.Results = append(resp.Results, types.ScanResult{
				MAC:   it.MAC,
				Error: fmt.Sprintf("Scanner node with MAC %s not found", it.ScannerMAC),
			})
			b.rejected++
			continue
		}

		si := types.ScanItem{
			ScannerMAC: it.ScannerMAC,
			MAC:        it.MAC,
			RSSI:       int(math.Round(*it.RSSI)),
		}
		if it.Timestamp != nil {
			si.Timestamp = int64(*it.Timestamp)
		}
		id := r.store.Record(si)
		b.add(si)
		resp.Results = append(resp.Results, types.ScanResult{MAC: it.MAC, Success: true, LogID: id})
	}
	resp.ProcessedCount = len(resp.Results)

	var stored int
	for _, mac := range order {
		b := stats[mac]
		if !b.allowed {
			continue
		}
		if b.stats.BatchSize > 0 {
			r.store.MarkBatch(mac)
			stored += b.stats.BatchSize
		}
		if r.alerts != nil {
			r.alerts.Evaluate(b.result())
		}
		slog.Debug("receiver: batch ingested",
			"batch_id", batchID,
			"scanner", mac,
			"accepted", b.stats.BatchSize,
			"rejected", b.rejected,
			"unique_devices", len(b.devices),
		)
	}
	if stored > 0 && r.onIngest != nil {
		r.onIngest()
	}
	return resp
}

// ServeHTTP handles POST requests on the scan path.
func (r *Receiver) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		jsonResp(w, http.StatusMethodNotAllowed, types.ErrorResponse{Error: "method not allowed"})
		return
	}

	body, err := readBody(w, req)
	if err != nil {
		jsonResp(w, http.StatusBadRequest, types.ErrorResponse{Error: msgInvalidJSON})
		return
	}
	code, resp := r.handle(body, req.Header.Get(types.HTTPBatchIDHeader))
	jsonResp(w, code, resp)
}

// handle decodes body and ingests it, returning the status code and body.
func (r *Receiver) handle(body []byte, batchID string) (int, any) {
	items, err := decodeBatch(body)
	switch {
	case errors.Is(err, errEmpty):
		slog.Warn("receiver: empty scan data", "batch_id", batchID)
		return http.StatusBadRequest, types.ErrorResponse{Error: msgEmpty}
	case err != nil:
		slog.Warn("receiver: malformed scan data", "batch_id", batchID, "err", err)
		return http.StatusBadRequest, types.ErrorResponse{Error: msgInvalidJSON}
	}

	resp := r.Ingest(batchID, items)
	slog.Info("receiver: scans processed",
		"batch_id", batchID,
		"count", resp.ProcessedCount,
	)
	return http.StatusOK, resp
}

func readBody(w http.ResponseWriter, req *http.Request) ([]byte, error) {
	var buf bytes.Buffer
	_, err := buf.ReadFrom(http.MaxBytesReader(w, req.Body, maxBody))
	return buf.Bytes(), err
}

func jsonResp(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v) //nolint:errcheck
}

// batch accumulates statistics for one scanner within a request.
type batch struct {
	stats    alerts.BatchStats
	devices  map[string]struct{}
	rejected int
	allowed  bool
}

func newBatch(scannerMAC, batchID string) *batch {
	return &batch{
		stats:   alerts.BatchStats{ScannerMAC: scannerMAC, BatchID: batchID},
		devices: make(map[string]struct{}),
	}
}

func (b *batch) add(it types.ScanItem) {
	if b.stats.BatchSize == 0 || it.RSSI > b.stats.MaxRSSI {
		b.stats.MaxRSSI = it.RSSI
	}
	if b.stats.BatchSize == 0 || it.RSSI < b.stats.MinRSSI {
		b.stats.MinRSSI = it.RSSI
	}
	b.stats.BatchSize++
	b.devices[it.MAC] = struct{}{}
}

func (b *batch) result() alerts.BatchStats {
	st := b.stats
	st.UniqueDevices = len(b.devices)
	st.Rejected = b.rejected
	return st
}
