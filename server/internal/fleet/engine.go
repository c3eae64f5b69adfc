package fleet

import (
	"log/slog"
	"sync"
	"time"
)

// uptimeWindow is the number of recent poll outcomes tracked for uptime %.
const uptimeWindow = 20

// Result is the derived health of one agent after a poll.
type Result struct {
	ScannerMAC      string
	Timestamp       time.Time
	State           string
	Score           float64
	DetectionsPM    float64
	DeliveredPM     float64
	DropPct         float64
	FailedPct       float64
	MeanSendSeconds float64
	UptimePct       float64
	Buffered        float64
	ErrorMessage    string // non-empty when the poll failed
}

// Engine keeps per-agent baselines across polls and derives rates from
// counter deltas.
//
// All exported methods are safe for concurrent use.
type Engine struct {
	mu       sync.Mutex
	states   map[string]*agentState
	baseline time.Duration
}

// NewEngine returns an Engine that scores mean send latency against
// baseline. A zero baseline disables the latency factor.
func NewEngine(baseline time.Duration) *Engine {
	return &Engine{states: make(map[string]*agentState), baseline: baseline}
}

// Process ingests a Sample and returns the derived health.
//
// The first successful Sample for an agent only records the baseline and
// reports "unknown". A failed Sample reports "unknown" with the error and
// lowers uptime; it does not replace the baseline.
func (e *Engine) Process(s *Sample, now time.Time) *Result {
	e.mu.Lock()
	defer e.mu.Unlock()

	st := e.stateFor(s.ScannerMAC)
	success := s.Err == nil
	st.recordPoll(success)

	out := &Result{
		ScannerMAC: s.ScannerMAC,
		Timestamp:  now,
		UptimePct:  st.uptimePct(),
	}

	if !success {
		slog.Warn("fleet: agent poll failed, marking unknown",
			"scanner", s.ScannerMAC, "err", s.Err)
		out.State = StateUnknown
		out.ErrorMessage = s.Err.Error()
		return out
	}
	out.Buffered = s.Buffered

	if st.prev == nil {
		out.State = StateUnknown
		st.update(s, now)
		return out
	}

	elapsed := now.Sub(st.prevTime).Minutes()
	if elapsed <= 0 {
		elapsed = 1 // guard against zero or negative clock drift
	}
	p := st.prev

	out.DetectionsPM = deltaOf(s.Detections, p.Detections) / elapsed
	delivered := deltaOf(s.Delivered, p.Delivered)
	dropped := deltaOf(s.Dropped, p.Dropped)
	out.DeliveredPM = delivered / elapsed
	if total := delivered + dropped; total > 0 {
		out.DropPct = dropped / total * 100
	}

	okCycles := deltaOf(s.CyclesDelivered, p.CyclesDelivered)
	failedCycles := deltaOf(s.CyclesFailed, p.CyclesFailed)
	if total := okCycles + failedCycles; total > 0 {
		out.FailedPct = failedCycles / total * 100
	}

	if sends := deltaOf(s.SendCount, p.SendCount); sends > 0 {
		out.MeanSendSeconds = deltaOf(s.SendSeconds, p.SendSeconds) / sends
	}

	scoreOut := Compute(Input{
		DropPct:             out.DropPct,
		FailedPct:           out.FailedPct,
		MeanSendSeconds:     out.MeanSendSeconds,
		BaselineSendSeconds: e.baseline.Seconds(),
		UptimePct:           out.UptimePct,
	})
	out.State = scoreOut.State
	out.Score = scoreOut.Score

	st.update(s, now)
	return out
}

type agentState struct {
	prev     *Sample
	prevTime time.Time
	history  []bool // poll outcomes, newest last
}

func (e *Engine) stateFor(mac string) *agentState {
	if st, ok := e.states[mac]; ok {
		return st
	}
	st := &agentState{}
	e.states[mac] = st
	return st
}

func (st *agentState) update(s *Sample, now time.Time) {
	st.prev = s
	st.prevTime = now
}

func (st *agentState) recordPoll(success bool) {
	if len(st.history) >= uptimeWindow {
		st.history = st.history[1:]
	}
	st.history = append(st.history, success)
}

func (st *agentState) uptimePct() float64 {
	if len(st.history) == 0 {
		return 100
	}
	var ok int
	for _, s := range st.history {
		if s {
			ok++
		}
	}
	return float64(ok) / float64(len(st.history)) * 100
}

// deltaOf returns the positive counter delta between current and previous.
// If current < previous (agent restarted), the current total is the delta.
func deltaOf(current, previous float64) float64 {
	d := current - previous
	if d < 0 {
		return current
	}
	return d
}
