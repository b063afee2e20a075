package api

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/anstrom/osprey/internal/metrics"
	"github.com/anstrom/osprey/internal/orchestrator"
)

func TestNewStreamHandlerInitializesState(t *testing.T) {
	h := newStreamHandler(metrics.NewRegistry())
	defer h.shutdown()

	assert.NotNil(t, h.clients)
	assert.NotNil(t, h.messages)
	assert.Equal(t, 0, h.clientCount())
}

func TestStreamHandlerBroadcastsHostResultToConnectedClient(t *testing.T) {
	h := newStreamHandler(metrics.NewRegistry())
	defer h.shutdown()

	srv := httptest.NewServer(http.HandlerFunc(h.Handle))
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.Eventually(t, func() bool { return h.clientCount() == 1 }, time.Second, 10*time.Millisecond)

	h.broadcast(orchestrator.HostResult{Target: "192.0.2.5", Status: orchestrator.HostUp})

	_ = conn.SetReadDeadline(time.Now().Add(time.Second))
	_, msg, err := conn.ReadMessage()
	require.NoError(t, err)
	assert.Contains(t, string(msg), "192.0.2.5")
	assert.Contains(t, string(msg), "host_result")
}
