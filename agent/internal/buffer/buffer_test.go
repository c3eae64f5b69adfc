package buffer

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/proxiscan/proxiscan/pkg/types"
)

func rec(i int) types.DetectionRecord {
	return types.DetectionRecord{
		DeviceID:         fmt.Sprintf("AA:BB:CC:DD:EE:%02X", i%256),
		RSSI:             -40 - i%50,
		ObservedAtMillis: int64(1000 + i),
	}
}

func TestSwapAndClear_ReturnsRecordsInArrivalOrder(t *testing.T) {
	b := New()
	want := []types.DetectionRecord{rec(1), rec(2), rec(3)}
	for _, r := range want {
		b.Record(r)
	}

	got := b.SwapAndClear()

	assert.Equal(t, want, got)
	assert.Equal(t, 0, b.Len(), "open batch must be empty after swap")
}

func TestSwapAndClear_Empty(t *testing.T) {
	b := New()
	assert.Empty(t, b.SwapAndClear())
	assert.Empty(t, b.SwapAndClear())
}

func TestSwapAndClear_RecordAfterSwapGoesToNextBatch(t *testing.T) {
	b := New()
	b.Record(rec(1))

	first := b.SwapAndClear()
	b.Record(rec(2))
	second := b.SwapAndClear()

	require.Len(t, first, 1)
	require.Len(t, second, 1)
	assert.Equal(t, rec(1), first[0])
	assert.Equal(t, rec(2), second[0])
}

func TestSwapAndClear_ReturnedBatchIsNotShared(t *testing.T) {
	b := New()
	b.Record(rec(1))
	b.Record(rec(2))

	batch := b.SwapAndClear()
	b.Record(rec(3))

	// Appending to the new open batch must not write through to the
	// swapped-out slice.
	require.Len(t, batch, 2)
	assert.Equal(t, rec(1), batch[0])
	assert.Equal(t, rec(2), batch[1])
	assert.Equal(t, 1, b.Len())
}

// Every record produced concurrently with repeated swaps must show up in
// exactly one batch.
func TestConcurrentRecordAndSwap_NoLossNoDuplication(t *testing.T) {
	const (
		producers   = 8
		perProducer = 2000
	)

	b := New()
	var wg sync.WaitGroup
	for p := 0; p < producers; p++ {
		wg.Add(1)
		go func(p int) {
			defer wg.Done()
			for i := 0; i < perProducer; i++ {
				b.Record(types.DetectionRecord{
					DeviceID:         fmt.Sprintf("dev-%d", p),
					RSSI:             -50,
					ObservedAtMillis: int64(i),
				})
			}
		}(p)
	}

	stop := make(chan struct{})
	swapped := make(chan [][]types.DetectionRecord)
	go func() {
		var batches [][]types.DetectionRecord
		for {
			if batch := b.SwapAndClear(); len(batch) > 0 {
				batches = append(batches, batch)
			}
			select {
			case <-stop:
				swapped <- batches
				return
			default:
			}
		}
	}()

	wg.Wait()
	close(stop)
	batches := <-swapped
	batches = append(batches, b.SwapAndClear())

	seen := make(map[string]int)
	lastPerProducer := make(map[string]int64)
	for _, batch := range batches {
		for _, r := range batch {
			key := fmt.Sprintf("%s/%d", r.DeviceID, r.ObservedAtMillis)
			seen[key]++
			// Per-producer order is preserved across batches.
			if last, ok := lastPerProducer[r.DeviceID]; ok {
				assert.Greater(t, r.ObservedAtMillis, last)
			}
			lastPerProducer[r.DeviceID] = r.ObservedAtMillis
		}
	}

	assert.Len(t, seen, producers*perProducer)
	for key, n := range seen {
		if n != 1 {
			t.Fatalf("record %s seen %d times, want 1", key, n)
		}
	}
}
