package alerts

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/proxiscan/proxiscan/server/internal/config"
)

const (
	defaultCooldown   = 15 * time.Minute
	maxHistoryLen     = 200
	recentWindowHours = 1
	minExpiryTick     = time.Second
)

// Alert states.
const (
	StateFiring   = "firing"
	StateResolved = "resolved"
)

// Resolve reasons.
const (
	// ReasonCleared: a later batch from the same scanner no longer matched.
	ReasonCleared = "cleared"
	// ReasonQuiet: the scanner sent no batch within the quiet window.
	ReasonQuiet = "quiet"
)

// Alert is one firing episode of a rule on a scanner. It opens on the first
// matching batch and stays open while consecutive batches keep matching.
type Alert struct {
	ID            string     `json:"id"`
	RuleName      string     `json:"rule_name"`
	Condition     string     `json:"condition"`
	ScannerMAC    string     `json:"scanner_mac"`
	Severity      string     `json:"severity"`
	Message       string     `json:"message"`
	Value         float64    `json:"value"`
	Batch         BatchStats `json:"batch"` // latest matching batch
	Matches       int        `json:"matches"`
	FiredAt       time.Time  `json:"fired_at"`
	LastMatchAt   time.Time  `json:"last_match_at"`
	ResolvedAt    *time.Time `json:"resolved_at,omitempty"`
	ResolveReason string     `json:"resolve_reason,omitempty"`
	State         string     `json:"state"`
}

type ruleState struct {
	cooldown time.Duration
	firing   *Alert
	lastFire time.Time
}

// scannerState tracks the batch cadence of one scanner and its per-rule
// alert state.
type scannerState struct {
	lastBatch time.Time
	rules     map[string]*ruleState
}

// event is a state transition awaiting webhook delivery.
type event struct {
	kind  string
	alert Alert
}

// Engine evaluates alert rules against the batches of each scanner and
// delivers webhook notifications when alerts fire or resolve. An alert
// resolves when the next batch from its scanner no longer matches, or when
// the scanner goes quiet.
//
// Engine is safe for concurrent use.
type Engine struct {
	rules    []config.AlertRule
	webhooks []config.WebhookConfig
	quiet    time.Duration

	mu       sync.Mutex
	scanners map[string]*scannerState
	history  []*Alert // resolved alerts, oldest first
	client   *http.Client
	now      func() time.Time // injectable for tests
}

// New creates an Engine from the server alert configuration.
// An Engine with empty rules is valid; Evaluate is then a no-op.
func New(cfg config.AlertsConfig) *Engine {
	quiet := cfg.QuietAfter
	if quiet <= 0 {
		quiet = config.DefaultAlertQuiet
	}
	return &Engine{
		rules:    cfg.Rules,
		webhooks: cfg.Webhooks,
		quiet:    quiet,
		scanners: make(map[string]*scannerState),
		client:   &http.Client{Timeout: 10 * time.Second},
		now:      time.Now,
	}
}

// Evaluate tests every rule against one batch from st.ScannerMAC.
func (e *Engine) Evaluate(st BatchStats) {
	if len(e.rules) == 0 {
		return
	}

	now := e.now()
	var events []event

	e.mu.Lock()
	sc := e.scanners[st.ScannerMAC]
	if sc == nil {
		sc = &scannerState{rules: make(map[string]*ruleState)}
		e.scanners[st.ScannerMAC] = sc
	}
	sc.lastBatch = now

	for _, rule := range e.rules {
		fires, value, ok := evalCondition(rule.Condition, st)
		if !ok {
			continue
		}
		rs := sc.rules[rule.Name]
		if rs == nil {
			rs = &ruleState{cooldown: rule.Cooldown}
			if rs.cooldown <= 0 {
				rs.cooldown = defaultCooldown
			}
			sc.rules[rule.Name] = rs
		}

		switch {
		case fires && rs.firing != nil:
			a := rs.firing
			a.Matches++
			a.Value = value
			a.Batch = st
			a.LastMatchAt = now

		case fires:
			if !rs.lastFire.IsZero() && now.Sub(rs.lastFire) <= rs.cooldown {
				slog.Debug("alerts: suppressed by cooldown",
					"rule", rule.Name,
					"scanner", st.ScannerMAC,
					"batch_id", st.BatchID,
				)
				continue
			}
			sev := rule.Severity
			if sev == "" {
				sev = "warning"
			}
			a := &Alert{
				ID:         fmt.Sprintf("%s:%s:%d", rule.Name, st.ScannerMAC, now.UnixNano()),
				RuleName:   rule.Name,
				Condition:  rule.Condition,
				ScannerMAC: st.ScannerMAC,
				Severity:   sev,
				Value:      value,
				Batch:      st,
				Matches:    1,
				Message: fmt.Sprintf("%s fired on scanner %s: %s (value %.0f)",
					rule.Name, st.ScannerMAC, rule.Condition, value),
				FiredAt:     now,
				LastMatchAt: now,
				State:       StateFiring,
			}
			rs.firing = a
			rs.lastFire = now
			events = append(events, event{kind: eventFired, alert: *a})

		case rs.firing != nil:
			events = append(events, e.resolveLocked(rs, now, ReasonCleared))
		}
	}
	e.mu.Unlock()

	e.emit(events)
}

// Expire resolves firing alerts of scanners that have sent no batch within
// the quiet window and forgets scanners with nothing left to track. It
// returns the number of alerts resolved.
func (e *Engine) Expire() int {
	now := e.now()
	var events []event

	e.mu.Lock()
	for mac, sc := range e.scanners {
		quiet := now.Sub(sc.lastBatch) >= e.quiet
		idle := true
		for _, rs := range sc.rules {
			if rs.firing != nil && quiet {
				events = append(events, e.resolveLocked(rs, now, ReasonQuiet))
			}
			if rs.firing != nil || now.Sub(rs.lastFire) <= rs.cooldown {
				idle = false
			}
		}
		if quiet && idle {
			delete(e.scanners, mac)
		}
	}
	e.mu.Unlock()

	e.emit(events)
	return len(events)
}

// Run calls Expire periodically until ctx is cancelled.
func (e *Engine) Run(ctx context.Context) {
	if len(e.rules) == 0 {
		return
	}
	every := e.quiet / 2
	if every < minExpiryTick {
		every = minExpiryTick
	}
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			e.Expire()
		}
	}
}

// Active returns copies of all currently firing alerts plus any alerts
// resolved within the past hour, sorted newest first.
func (e *Engine) Active() []*Alert {
	e.mu.Lock()
	defer e.mu.Unlock()

	cutoff := e.now().Add(-recentWindowHours * time.Hour)
	var out []*Alert

	for _, sc := range e.scanners {
		for _, rs := range sc.rules {
			if rs.firing != nil {
				cp := *rs.firing
				out = append(out, &cp)
			}
		}
	}
	for _, a := range e.history {
		if a.ResolvedAt != nil && a.ResolvedAt.After(cutoff) {
			cp := *a
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].FiredAt.After(out[j].FiredAt) })
	if out == nil {
		out = []*Alert{}
	}
	return out
}

// resolveLocked closes the firing alert of rs. e.mu must be held.
func (e *Engine) resolveLocked(rs *ruleState, now time.Time, reason string) event {
	a := rs.firing
	rs.firing = nil
	resolved := now
	a.State = StateResolved
	a.ResolvedAt = &resolved
	a.ResolveReason = reason

	e.history = append(e.history, a)
	if len(e.history) > maxHistoryLen {
		e.history = e.history[len(e.history)-maxHistoryLen:]
	}
	return event{kind: eventResolved, alert: *a}
}

func (e *Engine) emit(events []event) {
	for _, ev := range events {
		a := ev.alert
		if ev.kind == eventFired {
			slog.Warn("alerts: fired",
				"rule", a.RuleName,
				"scanner", a.ScannerMAC,
				"batch_id", a.Batch.BatchID,
				"value", a.Value,
				"severity", a.Severity,
			)
		} else {
			slog.Info("alerts: resolved",
				"rule", a.RuleName,
				"scanner", a.ScannerMAC,
				"reason", a.ResolveReason,
				"matches", a.Matches,
			)
		}
		if len(e.webhooks) > 0 {
			go e.deliver(ev)
		}
	}
}
