// Package wsfeed carries device positions over websockets: Hub accepts device
// connections and fans their frames out to watchers, Client subscribes to a remote feed.
package wsfeed

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/BearBump/LoadTrack/internal/integrations/positions"
	"github.com/gorilla/websocket"
)

const (
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	writeWait      = 10 * time.Second
	maxMessageSize = 2048
	listenerBuffer = 16
)

type Hub struct {
	upgrader websocket.Upgrader

	mu        sync.Mutex
	nextID    int
	listeners map[int]chan positions.Fix

	received atomic.Int64
	rejected atomic.Int64
	dropped  atomic.Int64
}

type HubStats struct {
	Received int64 `json:"received"`
	Rejected int64 `json:"rejected"`
	Dropped  int64 `json:"dropped"`
}

func NewHub() *Hub {
	return &Hub{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		listeners: make(map[int]chan positions.Fix),
	}
}

func (h *Hub) Stats() HubStats {
	return HubStats{
		Received: h.received.Load(),
		Rejected: h.rejected.Load(),
		Dropped:  h.dropped.Load(),
	}
}

func (h *Hub) Watch(ctx context.Context, opts positions.Options, emit positions.EmitFunc) (positions.Subscription, error) {
	ch := make(chan positions.Fix, listenerBuffer)

	h.mu.Lock()
	id := h.nextID
	h.nextID++
	h.listeners[id] = ch
	h.mu.Unlock()

	filter := positions.NewFilter(opts)
	return positions.Go(ctx, func(ctx context.Context) {
		defer func() {
			h.mu.Lock()
			delete(h.listeners, id)
			h.mu.Unlock()
		}()
		for {
			select {
			case <-ctx.Done():
				return
			case fix := <-ch:
				if !filter.Accept(fix) {
					continue
				}
				if !emit(fix) {
					return
				}
			}
		}
	}), nil
}

// Publish hands fix to every watcher. A watcher that is not keeping up loses the fix.
func (h *Hub) Publish(fix positions.Fix) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, ch := range h.listeners {
		select {
		case ch <- fix:
		default:
			h.dropped.Add(1)
		}
	}
}

// ServeHTTP upgrades a device connection and reads frames until it closes.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Warn("position feed upgrade failed", "err", err)
		return
	}
	defer conn.Close()

	conn.SetReadLimit(maxMessageSize)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	done := make(chan struct{})
	defer close(done)
	go pinger(conn, done)

	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				slog.Warn("position feed read failed", "err", err)
			}
			return
		}
		var fr positions.Frame
		if err := json.Unmarshal(msg, &fr); err != nil {
			h.rejected.Add(1)
			continue
		}
		fix, err := fr.Fix()
		if err != nil {
			h.rejected.Add(1)
			continue
		}
		h.received.Add(1)
		h.Publish(fix)
	}
}

func pinger(conn *websocket.Conn, done <-chan struct{}) {
	t := time.NewTicker(pingPeriod)
	defer t.Stop()
	for {
		select {
		case <-done:
			return
		case <-t.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}
		}
	}
}
