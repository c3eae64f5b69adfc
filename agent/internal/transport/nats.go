package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/proxiscan/proxiscan/pkg/types"
)

// Header names used on NATS messages.
const (
	StatusHeader  = types.NATSStatusHeader
	BatchIDHeader = types.NATSBatchIDHeader
)

// NATS delivers batches as request/reply messages on a subject.
type NATS struct {
	conn    *nats.Conn
	subject string
	timeout time.Duration
	now     func() time.Time
}

// DialNATS connects to the NATS server at url. Reconnection after the
// initial connect is handled by the client library; a Send issued while
// disconnected fails with ConnectionFailedError.
func DialNATS(url, subject string, timeout time.Duration) (*NATS, error) {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	nc, err := nats.Connect(url,
		nats.Name(userAgent),
		nats.Timeout(timeout),
		nats.MaxReconnects(-1),
	)
	if err != nil {
		return nil, fmt.Errorf("transport: nats connect %q: %w", url, err)
	}
	return &NATS{conn: nc, subject: subject, timeout: timeout, now: time.Now}, nil
}

// Subject returns the request subject.
func (t *NATS) Subject() string { return t.subject }

// Close drains nothing and closes the connection.
func (t *NATS) Close() { t.conn.Close() }

// Send publishes items as one request and waits for the reply.
func (t *NATS) Send(ctx context.Context, items []types.ScanItem) (*Ack, error) {
	body, err := json.Marshal(items)
	if err != nil {
		return nil, &ConnectionFailedError{Cause: fmt.Errorf("encode payload: %w", err)}
	}

	msg := nats.NewMsg(t.subject)
	msg.Data = body
	msg.Header.Set("Content-Type", "application/json")
	if id := BatchID(ctx); id != "" {
		msg.Header.Set(BatchIDHeader, id)
	}

	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()

	start := t.now()
	reply, err := t.conn.RequestMsgWithContext(ctx, msg)
	if err != nil {
		return nil, &ConnectionFailedError{Cause: err}
	}

	code, err := strconv.Atoi(reply.Header.Get(StatusHeader))
	if err != nil {
		return nil, &ConnectionFailedError{Cause: fmt.Errorf("%w: missing %s header", errMalformed, StatusHeader)}
	}
	if code != http.StatusOK {
		return nil, &ServerRejectedError{StatusCode: code, Body: truncate(reply.Data)}
	}

	processed, err := decodeAck(reply.Data)
	if err != nil {
		return nil, &ConnectionFailedError{Cause: err}
	}
	return &Ack{StatusCode: code, Processed: processed, Duration: t.now().Sub(start)}, nil
}
