package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/proxiscan/proxiscan/pkg/types"
)

// HTTP delivers batches with a POST to a fixed URL.
type HTTP struct {
	endpoint string
	client   *http.Client
	now      func() time.Time
}

// NewHTTP returns an HTTP transport for endpoint. A non-positive timeout
// falls back to DefaultTimeout.
func NewHTTP(endpoint string, timeout time.Duration) *HTTP {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &HTTP{
		endpoint: endpoint,
		client:   &http.Client{Timeout: timeout},
		now:      time.Now,
	}
}

// Endpoint returns the target URL.
func (t *HTTP) Endpoint() string { return t.endpoint }

// Send serializes items and performs one POST. It does not retry.
func (t *HTTP) Send(ctx context.Context, items []types.ScanItem) (*Ack, error) {
	body, err := json.Marshal(items)
	if err != nil {
		// A []ScanItem always marshals; treat the impossible as a local failure.
		return nil, &ConnectionFailedError{Cause: fmt.Errorf("encode payload: %w", err)}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, &ConnectionFailedError{Cause: fmt.Errorf("build request: %w", err)}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", userAgent)
	if id := BatchID(ctx); id != "" {
		req.Header.Set(types.HTTPBatchIDHeader, id)
	}

	start := t.now()
	resp, err := t.client.Do(req)
	if err != nil {
		return nil, &ConnectionFailedError{Cause: err}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, &ConnectionFailedError{Cause: fmt.Errorf("read response: %w", err)}
	}

	if resp.StatusCode != http.StatusOK {
		return nil, &ServerRejectedError{StatusCode: resp.StatusCode, Body: truncate(respBody)}
	}

	processed, err := decodeAck(respBody)
	if err != nil {
		return nil, &ConnectionFailedError{Cause: err}
	}
	return &Ack{
		StatusCode: resp.StatusCode,
		Processed:  processed,
		Duration:   t.now().Sub(start),
	}, nil
}

var errMalformed = errors.New("malformed response")

// decodeAck extracts processedCount from a JSON object body. Empty and
// non-object bodies are accepted with Processed = -1.
func decodeAck(body []byte) (int, error) {
	body = bytes.TrimSpace(body)
	if len(body) == 0 || body[0] != '{' {
		return -1, nil
	}
	var resp struct {
		ProcessedCount *int `json:"processedCount"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return 0, fmt.Errorf("%w: %v", errMalformed, err)
	}
	if resp.ProcessedCount == nil {
		return -1, nil
	}
	return *resp.ProcessedCount, nil
}
