package receiver

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/nats-io/nats.go"

	"github.com/proxiscan/proxiscan/pkg/types"
)

// SubscribeNATS serves Ingest as request/reply on subject. The reply body is
// the same JSON an HTTP client would receive, and the Ingest-Status header
// carries the HTTP-equivalent status code.
func (r *Receiver) SubscribeNATS(nc *nats.Conn, subject string) (*nats.Subscription, error) {
	sub, err := nc.Subscribe(subject, func(msg *nats.Msg) {
		code, resp := r.handle(msg.Data, msg.Header.Get(types.NATSBatchIDHeader))
		body, err := json.Marshal(resp)
		if err != nil {
			slog.Error("receiver: encode nats reply", "err", err)
			return
		}

		reply := nats.NewMsg(msg.Reply)
		reply.Data = body
		reply.Header.Set(types.NATSStatusHeader, strconv.Itoa(code))
		reply.Header.Set("Content-Type", "application/json")
		if err := msg.RespondMsg(reply); err != nil {
			slog.Warn("receiver: nats respond failed", "subject", subject, "err", err)
		}
	})
	if err != nil {
		return nil, fmt.Errorf("receiver: subscribe %q: %w", subject, err)
	}
	if err := nc.Flush(); err != nil {
		sub.Unsubscribe() //nolint:errcheck
		return nil, fmt.Errorf("receiver: flush subscription: %w", err)
	}
	slog.Info("receiver: nats intake subscribed", "subject", subject)
	return sub, nil
}
