package alerts

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

// Webhook event kinds, sent in the X-Proxiscan-Event header and the
// "event" field of generic HTTP payloads.
const (
	eventFired    = "alert.fired"
	eventResolved = "alert.resolved"

	eventHeader     = "X-Proxiscan-Event"
	deliverDeadline = 15 * time.Second
)

// webhookPayload is the body posted to "http" webhooks.
type webhookPayload struct {
	Event   string     `json:"event"`
	Scanner string     `json:"scanner"`
	Batch   BatchStats `json:"batch"`
	Alert   Alert      `json:"alert"`
}

// deliver sends ev to every configured target. Failures are logged only.
func (e *Engine) deliver(ev event) {
	ctx, cancel := context.WithTimeout(context.Background(), deliverDeadline)
	defer cancel()

	for _, wh := range e.webhooks {
		url := wh.URL()
		if url == "" {
			continue
		}

		var err error
		switch wh.Type {
		case "slack":
			err = e.sendSlack(ctx, url, ev)
		case "http":
			err = e.sendHTTP(ctx, url, ev)
		default:
			slog.Warn("alerts: unknown webhook type, skipping", "type", wh.Type)
			continue
		}

		if err != nil {
			slog.Error("alerts: webhook delivery failed",
				"type", wh.Type,
				"event", ev.kind,
				"rule", ev.alert.RuleName,
				"scanner", ev.alert.ScannerMAC,
				"err", err,
			)
		} else {
			slog.Debug("alerts: webhook delivered",
				"type", wh.Type,
				"event", ev.kind,
				"rule", ev.alert.RuleName,
			)
		}
	}
}

func (e *Engine) sendSlack(ctx context.Context, url string, ev event) error {
	body, err := json.Marshal(map[string]string{"text": slackText(ev)})
	if err != nil {
		return fmt.Errorf("encode slack message: %w", err)
	}
	return e.post(ctx, url, ev.kind, body)
}

func (e *Engine) sendHTTP(ctx context.Context, url string, ev event) error {
	body, err := json.Marshal(webhookPayload{
		Event:   ev.kind,
		Scanner: ev.alert.ScannerMAC,
		Batch:   ev.alert.Batch,
		Alert:   ev.alert,
	})
	if err != nil {
		return fmt.Errorf("encode payload: %w", err)
	}
	return e.post(ctx, url, ev.kind, body)
}

func (e *Engine) post(ctx context.Context, url, kind string, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(eventHeader, kind)

	resp, err := e.client.Do(req)
	if err != nil {
		return fmt.Errorf("http post: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return fmt.Errorf("webhook returned HTTP %d", resp.StatusCode)
	}
	return nil
}

// slackText renders ev as a Slack mrkdwn message. The batch line describes
// the latest matching batch.
func slackText(ev event) string {
	a := ev.alert
	b := a.Batch

	var sb strings.Builder
	if ev.kind == eventResolved {
		fmt.Fprintf(&sb, "*[RESOLVED]* %s on scanner %s (%s after %d matching batch",
			a.RuleName, a.ScannerMAC, a.ResolveReason, a.Matches)
		if a.Matches != 1 {
			sb.WriteString("es")
		}
		sb.WriteString(")")
	} else {
		fmt.Fprintf(&sb, "*%s* %s", severityLabel(a.Severity), a.Message)
	}

	fmt.Fprintf(&sb, "\nbatch %s: %d accepted, %d rejected, %d unique devices",
		orDash(b.BatchID), b.BatchSize, b.Rejected, b.UniqueDevices)
	if b.BatchSize > 0 {
		fmt.Fprintf(&sb, ", rssi %d..%d dBm", b.MinRSSI, b.MaxRSSI)
	}
	return sb.String()
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

func severityLabel(s string) string {
	switch s {
	case "critical":
		return "[CRITICAL]"
	case "warning":
		return "[WARNING]"
	default:
		return "[INFO]"
	}
}
