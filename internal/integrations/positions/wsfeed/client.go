package wsfeed

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/BearBump/LoadTrack/internal/integrations/positions"
	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
)

// Client subscribes to a remote websocket feed of Frames.
type Client struct {
	url       string
	dialer    *websocket.Dialer
	retryStep time.Duration
}

func NewClient(url string) *Client {
	return &Client{
		url:       url,
		dialer:    &websocket.Dialer{HandshakeTimeout: 10 * time.Second},
		retryStep: time.Second,
	}
}

// Watch dials once synchronously so a dead feed fails registration; later
// disconnects are retried until ctx is done.
func (c *Client) Watch(ctx context.Context, opts positions.Options, emit positions.EmitFunc) (positions.Subscription, error) {
	conn, _, err := c.dialer.DialContext(ctx, c.url, nil)
	if err != nil {
		return nil, errors.Wrapf(positions.ErrUnavailable, "dial %s: %v", c.url, err)
	}

	filter := positions.NewFilter(opts)
	return positions.Go(ctx, func(ctx context.Context) {
		attempt := 0
		for {
			if conn != nil {
				attempt = 0
				if !c.read(ctx, conn, filter, emit) {
					return
				}
				conn = nil
			}
			if ctx.Err() != nil {
				return
			}

			attempt++
			select {
			case <-ctx.Done():
				return
			case <-time.After(time.Duration(attempt) * c.retryStep):
			}
			conn, _, err = c.dialer.DialContext(ctx, c.url, nil)
			if err != nil {
				slog.Warn("position feed redial failed", "url", c.url, "attempt", attempt, "err", err)
				conn = nil
			}
		}
	}), nil
}

// read consumes conn until it fails. It returns false when the watcher must exit.
func (c *Client) read(ctx context.Context, conn *websocket.Conn, filter *positions.Filter, emit positions.EmitFunc) bool {
	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()
	defer conn.Close()

	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return ctx.Err() == nil
		}
		var fr positions.Frame
		if err := json.Unmarshal(msg, &fr); err != nil {
			continue
		}
		fix, err := fr.Fix()
		if err != nil || !filter.Accept(fix) {
			continue
		}
		if !emit(fix) {
			return false
		}
	}
}
