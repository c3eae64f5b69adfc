package transport

import (
	"context"
	"testing"
	"time"

	"github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func runNATSServer(t *testing.T) *server.Server {
	t.Helper()

	srv, err := server.NewServer(&server.Options{Host: "127.0.0.1", Port: -1})
	require.NoError(t, err)

	go srv.Start()
	if !srv.ReadyForConnections(10 * time.Second) {
		srv.Shutdown()
		t.Fatalf("embedded NATS server not ready for connections")
	}
	t.Cleanup(srv.Shutdown)
	return srv
}

// respond subscribes to subject and answers every request with status/body.
func respond(t *testing.T, url, subject, status, body string, got chan<- *nats.Msg) {
	t.Helper()
	nc, err := nats.Connect(url)
	require.NoError(t, err)
	t.Cleanup(nc.Close)

	_, err = nc.Subscribe(subject, func(m *nats.Msg) {
		if got != nil {
			got <- m
		}
		reply := nats.NewMsg(m.Reply)
		if status != "" {
			reply.Header.Set(StatusHeader, status)
		}
		reply.Data = []byte(body)
		_ = m.RespondMsg(reply)
	})
	require.NoError(t, err)
	require.NoError(t, nc.Flush())
}

func TestNATS_Send_Delivered(t *testing.T) {
	srv := runNATSServer(t)
	got := make(chan *nats.Msg, 1)
	respond(t, srv.ClientURL(), "proxiscan.scan", "200", `{"success":true,"processedCount":2}`, got)

	tr, err := DialNATS(srv.ClientURL(), "proxiscan.scan", time.Second)
	require.NoError(t, err)
	defer tr.Close()

	ack, err := tr.Send(WithBatchID(context.Background(), "b-42"), items())
	require.NoError(t, err)
	assert.Equal(t, 2, ack.Processed)

	req := <-got
	assert.Equal(t, "b-42", req.Header.Get(BatchIDHeader))
	assert.JSONEq(t,
		`[{"scannerMac":"S1","mac":"AA:BB","rssi":-70,"timestamp":1000},{"scannerMac":"S1","mac":"CC:DD","rssi":-65,"timestamp":1005}]`,
		string(req.Data))
}

func TestNATS_Send_Rejected(t *testing.T) {
	srv := runNATSServer(t)
	respond(t, srv.ClientURL(), "proxiscan.scan", "400", `{"error":"Empty scan data"}`, nil)

	tr, err := DialNATS(srv.ClientURL(), "proxiscan.scan", time.Second)
	require.NoError(t, err)
	defer tr.Close()

	_, err = tr.Send(context.Background(), items())
	var rej *ServerRejectedError
	require.ErrorAs(t, err, &rej)
	assert.Equal(t, 400, rej.StatusCode)
	assert.Contains(t, rej.Body, "Empty scan data")
}

func TestNATS_Send_MissingStatusHeader(t *testing.T) {
	srv := runNATSServer(t)
	respond(t, srv.ClientURL(), "proxiscan.scan", "", `{}`, nil)

	tr, err := DialNATS(srv.ClientURL(), "proxiscan.scan", time.Second)
	require.NoError(t, err)
	defer tr.Close()

	_, err = tr.Send(context.Background(), items())
	assert.True(t, IsConnectionFailed(err))
}

func TestNATS_Send_NoResponders(t *testing.T) {
	srv := runNATSServer(t)

	tr, err := DialNATS(srv.ClientURL(), "proxiscan.nobody", 500*time.Millisecond)
	require.NoError(t, err)
	defer tr.Close()

	_, err = tr.Send(context.Background(), items())
	require.Error(t, err)
	assert.True(t, IsConnectionFailed(err))
}

func TestDialNATS_Unreachable(t *testing.T) {
	_, err := DialNATS("nats://127.0.0.1:1", "proxiscan.scan", 200*time.Millisecond)
	assert.Error(t, err)
}
