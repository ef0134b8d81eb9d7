package monitor

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"crft-host/pkg/stream"
)

func testStatus() Status {
	return BuildStatus(
		stream.SessionStatus{State: stream.Streaming, NextSeq: 42, InFlight: 2, LastEvent: "ok"},
		stream.PlaybackStatus{State: stream.Playing, Index: 41, Total: 100, Status: "streaming 41/100"},
	)
}

func newTestServer(t *testing.T) (*Server, *httptest.Server) {
	t.Helper()
	s := New(Config{Addr: "localhost:0", PushInterval: 20 * time.Millisecond}, testStatus)
	ts := httptest.NewServer(s.httpServer.Handler)
	t.Cleanup(ts.Close)
	go s.pushLoop()
	t.Cleanup(func() { s.stopOnce.Do(func() { close(s.stop) }) })
	return s, ts
}

func TestStatusEndpoint(t *testing.T) {
	_, ts := newTestServer(t)

	resp, err := http.Get(ts.URL + "/status")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "application/json", resp.Header.Get("Content-Type"))

	var st Status
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&st))
	require.Equal(t, "streaming", st.Connection)
	require.Equal(t, "playing", st.Playback)
	require.Equal(t, 42, st.NextLine)
	require.Equal(t, 2, st.InFlight)
	require.Equal(t, 41, st.Index)
	require.Equal(t, 100, st.Total)
}

func TestStatusRejectsNonGet(t *testing.T) {
	_, ts := newTestServer(t)
	resp, err := http.Post(ts.URL+"/status", "application/json", nil)
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
}

func TestMetricsEndpoint(t *testing.T) {
	_, ts := newTestServer(t)
	resp, err := http.Get(ts.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestWebsocketPushesStatus(t *testing.T) {
	_, ts := newTestServer(t)

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	if resp != nil {
		resp.Body.Close()
	}
	defer conn.Close()

	// First frame arrives immediately, subsequent ones on the ticker.
	for i := 0; i < 2; i++ {
		conn.SetReadDeadline(time.Now().Add(2 * time.Second))
		var st Status
		require.NoError(t, conn.ReadJSON(&st))
		require.Equal(t, "streaming", st.Connection)
		require.Equal(t, "streaming 41/100", st.Detail)
	}
}
