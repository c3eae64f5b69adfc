package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/proxiscan/proxiscan/agent/internal/buffer"
	"github.com/proxiscan/proxiscan/agent/internal/transport"
	"github.com/proxiscan/proxiscan/pkg/types"
)

// --- helpers ----------------------------------------------------------------

type fakeTicker struct {
	ch      chan time.Time
	stopped chan struct{}
	once    sync.Once
}

func (f *fakeTicker) Chan() <-chan time.Time { return f.ch }

func (f *fakeTicker) Stop() { f.once.Do(func() { close(f.stopped) }) }

type fakeClock struct {
	ticker *fakeTicker
}

func newFakeClock() *fakeClock {
	return &fakeClock{ticker: &fakeTicker{ch: make(chan time.Time), stopped: make(chan struct{})}}
}

func (c *fakeClock) Now() time.Time { return time.UnixMilli(0) }

func (c *fakeClock) Ticker(time.Duration) Ticker { return c.ticker }

// tick delivers one tick; it blocks until Run's loop receives it.
func (c *fakeClock) tick(t *testing.T) {
	t.Helper()
	select {
	case c.ticker.ch <- time.Now():
	case <-time.After(2 * time.Second):
		t.Fatal("dispatcher did not accept tick")
	}
}

type recordingObserver struct {
	mu       sync.Mutex
	outcomes []Outcome
}

func (r *recordingObserver) ObserveOutcome(o Outcome) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.outcomes = append(r.outcomes, o)
}

func (r *recordingObserver) kinds() []Kind {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Kind, len(r.outcomes))
	for i, o := range r.outcomes {
		out[i] = o.Kind
	}
	return out
}

func newDispatcher(t *testing.T, buf Buffer, tr Transport, scanner string) (*Dispatcher, *fakeClock, *recordingObserver) {
	t.Helper()
	obs := &recordingObserver{}
	d := New(buf, tr, scanner, time.Second, obs)
	clk := newFakeClock()
	d.clock = clk
	n := 0
	d.newID = func() string {
		n++
		return fmt.Sprintf("batch-%d", n)
	}
	return d, clk, obs
}

func detection(mac string, rssi int, ts int64) types.DetectionRecord {
	return types.DetectionRecord{DeviceID: mac, RSSI: rssi, ObservedAtMillis: ts}
}

// --- Flush ------------------------------------------------------------------

func TestFlush_QuietCycleMakesNoNetworkCall(t *testing.T) {
	ctrl := gomock.NewController(t)
	tr := NewMockTransport(ctrl) // no EXPECT: any Send fails the test

	d, _, obs := newDispatcher(t, buffer.New(), tr, "S1")

	for i := 0; i < 3; i++ {
		o := d.Flush(context.Background())
		assert.Equal(t, KindNoData, o.Kind)
		assert.Equal(t, "no data", o.String())
	}
	assert.Equal(t, []Kind{KindNoData, KindNoData, KindNoData}, obs.kinds())
}

func TestFlush_EndToEndPayload(t *testing.T) {
	ctrl := gomock.NewController(t)
	tr := NewMockTransport(ctrl)

	buf := buffer.New()
	buf.Record(detection("AA:BB", -70, 1000))
	buf.Record(detection("CC:DD", -65, 1005))

	var sent []byte
	tr.EXPECT().
		Send(gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ context.Context, items []types.ScanItem) (*transport.Ack, error) {
			var err error
			sent, err = json.Marshal(items)
			return &transport.Ack{StatusCode: 200, Processed: 2}, err
		}).
		Times(1)

	d, _, _ := newDispatcher(t, buf, tr, "S1")
	o := d.Flush(context.Background())

	assert.Equal(t, KindDelivered, o.Kind)
	assert.Equal(t, 2, o.Count)
	assert.Equal(t, 2, o.Processed)
	assert.Equal(t, "delivered 2 records", o.String())
	assert.Equal(t,
		`[{"scannerMac":"S1","mac":"AA:BB","rssi":-70,"timestamp":1000},{"scannerMac":"S1","mac":"CC:DD","rssi":-65,"timestamp":1005}]`,
		string(sent))
	assert.Equal(t, 0, buf.Len())
}

func TestFlush_StampsScannerIdentityOnEveryItem(t *testing.T) {
	ctrl := gomock.NewController(t)
	tr := NewMockTransport(ctrl)

	buf := buffer.New()
	for i := 0; i < 50; i++ {
		buf.Record(detection(fmt.Sprintf("DE:VI:CE:00:00:%02d", i), -60, int64(i)))
	}

	tr.EXPECT().
		Send(gomock.Any(), gomock.Len(50)).
		DoAndReturn(func(_ context.Context, items []types.ScanItem) (*transport.Ack, error) {
			for i, it := range items {
				assert.Equal(t, "B8:27:EB:00:00:01", it.ScannerMAC, "item %d", i)
				assert.Equal(t, fmt.Sprintf("DE:VI:CE:00:00:%02d", i), it.MAC)
				assert.Equal(t, int64(i), it.Timestamp)
			}
			return &transport.Ack{StatusCode: 200}, nil
		})

	d, _, _ := newDispatcher(t, buf, tr, "B8:27:EB:00:00:01")
	d.Flush(context.Background())
}

func TestFlush_BatchIDTravelsInContext(t *testing.T) {
	ctrl := gomock.NewController(t)
	tr := NewMockTransport(ctrl)

	buf := buffer.New()
	buf.Record(detection("AA:BB", -70, 1))

	tr.EXPECT().
		Send(gomock.Any(), gomock.Any()).
		DoAndReturn(func(ctx context.Context, _ []types.ScanItem) (*transport.Ack, error) {
			assert.Equal(t, "batch-1", transport.BatchID(ctx))
			return &transport.Ack{StatusCode: 200}, nil
		})

	d, _, _ := newDispatcher(t, buf, tr, "S1")
	o := d.Flush(context.Background())
	assert.Equal(t, "batch-1", o.BatchID)
}

func TestFlush_FailureDropsBatch(t *testing.T) {
	tests := []struct {
		name string
		err  error
	}{
		{"server rejected", &transport.ServerRejectedError{StatusCode: 500, Body: "boom"}},
		{"connection failed", &transport.ConnectionFailedError{Cause: errors.New("connection refused")}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			ctrl := gomock.NewController(t)
			tr := NewMockTransport(ctrl)

			buf := buffer.New()
			buf.Record(detection("AA:BB", -70, 1))
			buf.Record(detection("CC:DD", -71, 2))

			first := tr.EXPECT().Send(gomock.Any(), gomock.Len(2)).Return(nil, tc.err)
			tr.EXPECT().
				Send(gomock.Any(), gomock.Any()).
				DoAndReturn(func(_ context.Context, items []types.ScanItem) (*transport.Ack, error) {
					// Only the record observed after the failed swap.
					require.Len(t, items, 1)
					assert.Equal(t, "EE:FF", items[0].MAC)
					return &transport.Ack{StatusCode: 200}, nil
				}).
				After(first)

			d, _, _ := newDispatcher(t, buf, tr, "S1")

			o := d.Flush(context.Background())
			assert.Equal(t, KindFailed, o.Kind)
			assert.Equal(t, 2, o.Count)
			assert.ErrorIs(t, o.Err, tc.err)
			assert.Contains(t, o.String(), "delivery failed for 2 records")
			assert.Equal(t, 0, buf.Len(), "failed batch must not be re-buffered")

			buf.Record(detection("EE:FF", -50, 3))
			o = d.Flush(context.Background())
			assert.Equal(t, KindDelivered, o.Kind)
			assert.Equal(t, o, d.Last())
		})
	}
}

func TestProject_PreservesFieldsAndOrder(t *testing.T) {
	batch := []types.DetectionRecord{
		detection("AA", -1, 10),
		detection("BB", -127, 20),
		detection("AA", 0, 30),
	}
	items := Project("S9", batch)
	require.Len(t, items, 3)
	for i, it := range items {
		assert.Equal(t, "S9", it.ScannerMAC)
		assert.Equal(t, batch[i].DeviceID, it.MAC)
		assert.Equal(t, batch[i].RSSI, it.RSSI)
		assert.Equal(t, batch[i].ObservedAtMillis, it.Timestamp)
	}
}

// --- Run --------------------------------------------------------------------

func TestRun_TickFlushes(t *testing.T) {
	ctrl := gomock.NewController(t)
	tr := NewMockTransport(ctrl)

	buf := buffer.New()
	sent := make(chan []types.ScanItem, 1)
	tr.EXPECT().
		Send(gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ context.Context, items []types.ScanItem) (*transport.Ack, error) {
			sent <- items
			return &transport.Ack{StatusCode: 200}, nil
		})

	d, clk, obs := newDispatcher(t, buf, tr, "S1")
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		d.Run(ctx)
		close(done)
	}()

	clk.tick(t) // quiet
	buf.Record(detection("AA:BB", -70, 1000))
	clk.tick(t)

	select {
	case items := <-sent:
		require.Len(t, items, 1)
		assert.Equal(t, "AA:BB", items[0].MAC)
	case <-time.After(2 * time.Second):
		t.Fatal("no delivery after tick")
	}

	cancel()
	<-done
	assert.Equal(t, []Kind{KindNoData, KindDelivered}, obs.kinds())
}

func TestRun_ShutdownDiscardsOpenBatch(t *testing.T) {
	ctrl := gomock.NewController(t)
	tr := NewMockTransport(ctrl) // no EXPECT

	buf := buffer.New()
	d, clk, _ := newDispatcher(t, buf, tr, "S1")

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		d.Run(ctx)
		close(done)
	}()

	for i := 0; i < 3; i++ {
		buf.Record(detection("AA:BB", -70, int64(i)))
	}
	cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run() did not return after context cancellation")
	}

	select {
	case <-clk.ticker.stopped:
	default:
		t.Error("ticker was not stopped")
	}
	// Nothing was sent and nothing will be: Run has returned.
	assert.Equal(t, 3, buf.Len())
}

func TestRun_CancelWinsOverPendingTick(t *testing.T) {
	ctrl := gomock.NewController(t)
	tr := NewMockTransport(ctrl) // no EXPECT: any Send fails the test

	// Both cases are ready when Run first selects; repeat so a random pick
	// of the tick would surface.
	for i := 0; i < 64; i++ {
		buf := buffer.New()
		buf.Record(detection("AA:BB", -70, int64(i)))
		d, clk, obs := newDispatcher(t, buf, tr, "S1")
		clk.ticker.ch = make(chan time.Time, 1)
		clk.ticker.ch <- time.Now()

		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		d.Run(ctx)

		require.Equal(t, 1, buf.Len(), "iteration %d: open batch was flushed", i)
		require.Empty(t, obs.kinds(), "iteration %d: a cycle was reported", i)
	}
}

func TestRun_IntakeContinuesDuringSlowSend(t *testing.T) {
	ctrl := gomock.NewController(t)
	tr := NewMockTransport(ctrl)

	buf := buffer.New()
	inFlight := make(chan struct{})
	release := make(chan struct{})
	second := make(chan []types.ScanItem, 1)

	first := tr.EXPECT().
		Send(gomock.Any(), gomock.Len(1)).
		DoAndReturn(func(context.Context, []types.ScanItem) (*transport.Ack, error) {
			close(inFlight)
			<-release
			return &transport.Ack{StatusCode: 200}, nil
		})
	tr.EXPECT().
		Send(gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ context.Context, items []types.ScanItem) (*transport.Ack, error) {
			second <- items
			return &transport.Ack{StatusCode: 200}, nil
		}).
		After(first)

	d, clk, _ := newDispatcher(t, buf, tr, "S1")
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go d.Run(ctx)

	buf.Record(detection("AA:AA", -70, 1))
	clk.tick(t)
	<-inFlight

	// The send is outstanding; intake must not block.
	recorded := make(chan struct{})
	go func() {
		for i := 0; i < 100; i++ {
			buf.Record(detection("BB:BB", -60, int64(i)))
		}
		close(recorded)
	}()
	select {
	case <-recorded:
	case <-time.After(2 * time.Second):
		t.Fatal("Record blocked while a send was in flight")
	}

	close(release)
	clk.tick(t)

	select {
	case items := <-second:
		assert.Len(t, items, 100)
	case <-time.After(2 * time.Second):
		t.Fatal("second batch not delivered")
	}
}
