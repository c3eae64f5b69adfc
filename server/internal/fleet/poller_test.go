package fleet

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/proxiscan/proxiscan/server/internal/store"
)

type recordingSink struct {
	mu  sync.Mutex
	got map[string][]store.AgentHealth
}

func (r *recordingSink) SetAgentHealth(mac string, h store.AgentHealth) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.got == nil {
		r.got = make(map[string][]store.AgentHealth)
	}
	r.got[mac] = append(r.got[mac], h)
}

func (r *recordingSink) last(mac string) (store.AgentHealth, int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	hs := r.got[mac]
	if len(hs) == 0 {
		return store.AgentHealth{}, 0
	}
	return hs[len(hs)-1], len(hs)
}

func TestPollOnce_ReportsEveryTarget(t *testing.T) {
	up := httptest.NewServer(promhttp.HandlerFor(agentRegistry(t), promhttp.HandlerOpts{}))
	defer up.Close()
	down := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer down.Close()

	sink := &recordingSink{}
	p := New([]Target{
		{ScannerMAC: "S1", StatusURL: up.URL},
		{ScannerMAC: "S2", StatusURL: down.URL},
	}, sink, Options{Interval: time.Minute, Timeout: time.Second})
	p.now = func() time.Time { return baseTime }

	p.PollOnce(context.Background())

	h1, n1 := sink.last("S1")
	if n1 != 1 || h1.State != StateUnknown || h1.Error != "" || h1.Buffered != 7 {
		t.Errorf("S1: got %+v (%d reports)", h1, n1)
	}
	if !h1.UpdatedAt.Equal(baseTime) {
		t.Errorf("S1 UpdatedAt: got %v, want %v", h1.UpdatedAt, baseTime)
	}
	h2, n2 := sink.last("S2")
	if n2 != 1 || h2.State != StateUnknown || h2.Error == "" {
		t.Errorf("S2: got %+v (%d reports)", h2, n2)
	}

	// Second poll has a baseline; the registry did not move so the agent
	// is idle and healthy.
	p.now = func() time.Time { return baseTime.Add(time.Minute) }
	p.PollOnce(context.Background())
	if h1, _ = sink.last("S1"); h1.State != StateHealthy || h1.Score != 100 {
		t.Errorf("S1 second poll: got %+v", h1)
	}
}

func TestRun_NoTargetsReturns(t *testing.T) {
	done := make(chan struct{})
	go func() {
		New(nil, &recordingSink{}, Options{Interval: time.Millisecond}).Run(context.Background())
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run with no targets did not return")
	}
}

func TestRun_PollsUntilCancelled(t *testing.T) {
	srv := httptest.NewServer(promhttp.HandlerFor(agentRegistry(t), promhttp.HandlerOpts{}))
	defer srv.Close()

	sink := &recordingSink{}
	p := New([]Target{{ScannerMAC: "S1", StatusURL: srv.URL}}, sink, Options{Interval: 10 * time.Millisecond, Timeout: time.Second})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		p.Run(ctx)
		close(done)
	}()

	deadline := time.Now().Add(2 * time.Second)
	for {
		if _, n := sink.last("S1"); n >= 2 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("poller did not poll twice")
		}
		time.Sleep(5 * time.Millisecond)
	}
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestPollOnce_UpdatesStore(t *testing.T) {
	srv := httptest.NewServer(promhttp.HandlerFor(agentRegistry(t), promhttp.HandlerOpts{}))
	defer srv.Close()

	st := store.New(5*time.Minute, "salt")
	st.RegisterScanner("S1", "Lobby", "")
	New([]Target{{ScannerMAC: "S1", StatusURL: srv.URL}}, st, Options{Interval: time.Minute}).PollOnce(context.Background())

	sc := st.Scanners()
	if len(sc) != 1 || sc[0].Agent == nil || sc[0].Agent.Buffered != 7 {
		t.Errorf("Scanners: got %+v", sc)
	}
}
