package transport

import (
	"context"
	"errors"
	"fmt"
	"time"
)

const (
	// DefaultTimeout bounds one delivery attempt.
	DefaultTimeout = 5 * time.Second

	// maxErrorBody caps how much of a rejection body is kept in the error.
	maxErrorBody = 4 << 10

	userAgent = "proxiscan-agent"
)

// Ack describes a successful delivery.
type Ack struct {
	StatusCode int
	// Processed is the endpoint's processedCount, or -1 if it did not report one.
	Processed int
	Duration  time.Duration
}

// ServerRejectedError is returned when the endpoint was reached but answered
// with a non-success status.
type ServerRejectedError struct {
	StatusCode int
	Body       string
}

func (e *ServerRejectedError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("server rejected batch: status %d", e.StatusCode)
	}
	return fmt.Sprintf("server rejected batch: status %d: %s", e.StatusCode, e.Body)
}

// ConnectionFailedError is returned when no usable response was obtained.
type ConnectionFailedError struct {
	Cause error
}

func (e *ConnectionFailedError) Error() string {
	return fmt.Sprintf("connection failed: %v", e.Cause)
}

func (e *ConnectionFailedError) Unwrap() error { return e.Cause }

// IsServerRejected reports whether err is (or wraps) a *ServerRejectedError.
func IsServerRejected(err error) bool {
	var target *ServerRejectedError
	return errors.As(err, &target)
}

// IsConnectionFailed reports whether err is (or wraps) a *ConnectionFailedError.
func IsConnectionFailed(err error) bool {
	var target *ConnectionFailedError
	return errors.As(err, &target)
}

type batchIDKey struct{}

// WithBatchID returns a copy of ctx carrying the batch ID sent alongside the
// payload.
func WithBatchID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, batchIDKey{}, id)
}

// BatchID returns the batch ID stored in ctx, or "".
func BatchID(ctx context.Context) string {
	id, _ := ctx.Value(batchIDKey{}).(string)
	return id
}

func truncate(b []byte) string {
	if len(b) > maxErrorBody {
		b = b[:maxErrorBody]
	}
	return string(b)
}
