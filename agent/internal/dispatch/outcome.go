package dispatch

import (
	"fmt"
	"time"
)

// Kind classifies the result of one flush cycle.
type Kind string

const (
	KindNoData    Kind = "no_data"
	KindDelivered Kind = "delivered"
	KindFailed    Kind = "failed"
)

// Outcome is the single result reported for each flush cycle.
type Outcome struct {
	Kind    Kind
	BatchID string
	Count   int
	// Processed is the endpoint's processedCount on delivery, -1 if unknown.
	Processed int
	Err       error
	Duration  time.Duration
	At        time.Time
}

func (o Outcome) String() string {
	switch o.Kind {
	case KindDelivered:
		return fmt.Sprintf("delivered %d records", o.Count)
	case KindFailed:
		return fmt.Sprintf("delivery failed for %d records: %v", o.Count, o.Err)
	default:
		return "no data"
	}
}

// Observer receives every Outcome after it is logged.
// Implementations must not block.
type Observer interface {
	ObserveOutcome(Outcome)
}
