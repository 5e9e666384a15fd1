package wsfeed

import (
	"context"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/BearBump/LoadTrack/internal/geo"
	"github.com/BearBump/LoadTrack/internal/integrations/positions"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"
)

type collector struct {
	mu    sync.Mutex
	fixes []positions.Fix
}

func (c *collector) emit(f positions.Fix) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.fixes = append(c.fixes, f)
	return true
}

func (c *collector) len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.fixes)
}

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func TestHub_DeviceFramesReachWatcher(t *testing.T) {
	hub := NewHub()
	srv := httptest.NewServer(hub)
	defer srv.Close()

	var c collector
	sub, err := hub.Watch(context.Background(), positions.Options{Interval: time.Millisecond}, c.emit)
	require.NoError(t, err)
	defer sub.Stop()

	conn, _, err := websocket.DefaultDialer.Dial(wsURL(srv), nil)
	require.NoError(t, err)
	defer conn.Close()

	t0 := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	require.NoError(t, conn.WriteJSON(positions.Frame{Lat: 55.75, Lon: 37.61, Timestamp: t0}))
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`{"lat": 200}`)))
	require.NoError(t, conn.WriteJSON(positions.Frame{Lat: 55.76, Lon: 37.62, Timestamp: t0.Add(time.Minute)}))

	require.Eventually(t, func() bool { return c.len() == 2 }, 2*time.Second, 5*time.Millisecond)
	require.Eventually(t, func() bool { return hub.Stats().Rejected == 1 }, time.Second, 5*time.Millisecond)
	require.Equal(t, geo.Point{Lat: 55.76, Lon: 37.62}, c.fixes[1].Point)
}

func TestHub_StopRemovesListener(t *testing.T) {
	hub := NewHub()
	sub, err := hub.Watch(context.Background(), positions.Options{}, func(positions.Fix) bool { return true })
	require.NoError(t, err)
	sub.Stop()

	hub.mu.Lock()
	defer hub.mu.Unlock()
	require.Empty(t, hub.listeners)
}

func TestClient_ReadsRemoteFeed(t *testing.T) {
	up := websocket.Upgrader{}
	t0 := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	srv := httptest.NewServer(httpHandler(func(conn *websocket.Conn) {
		for i := 0; i < 3; i++ {
			_ = conn.WriteJSON(positions.Frame{Lat: 50 + float64(i)*0.01, Lon: 30, Timestamp: t0.Add(time.Duration(i) * time.Second)})
		}
		// keep the socket open until the client leaves
		_, _, _ = conn.ReadMessage()
	}, &up))
	defer srv.Close()

	var c collector
	sub, err := NewClient(wsURL(srv)).Watch(context.Background(), positions.Options{MinDistanceMeters: 50}, c.emit)
	require.NoError(t, err)

	require.Eventually(t, func() bool { return c.len() == 3 }, 2*time.Second, 5*time.Millisecond)

	done := make(chan struct{})
	go func() {
		sub.Stop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Stop did not return")
	}
}

func TestClient_DialFailure(t *testing.T) {
	_, err := NewClient("ws://127.0.0.1:1/feed").Watch(context.Background(), positions.Options{}, func(positions.Fix) bool { return true })
	require.ErrorIs(t, err, positions.ErrUnavailable)
}
