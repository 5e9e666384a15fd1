// Package positions abstracts the device location sources the tracking agent
// subscribes to.
package positions

import (
	"context"
	"time"

	"github.com/BearBump/LoadTrack/internal/geo"
	"github.com/pkg/errors"
)

const (
	DefaultInterval          = 30 * time.Second
	DefaultMinDistanceMeters = 50.0
)

type Fix struct {
	Point          geo.Point
	AccuracyMeters *float64
	SpeedKmh       *float64
	Heading        *float64
	Timestamp      time.Time
}

type Options struct {
	Interval          time.Duration
	MinDistanceMeters float64
	// Tag identifies the subscription owner, usually the order id.
	Tag string
}

func (o Options) WithDefaults() Options {
	if o.Interval <= 0 {
		o.Interval = DefaultInterval
	}
	if o.MinDistanceMeters < 0 {
		o.MinDistanceMeters = 0
	}
	return o
}

// EmitFunc receives fixes. It may block until the consumer is ready; it returns
// false when the subscription context is done and the watcher should exit.
type EmitFunc func(Fix) bool

type Subscription interface {
	// Stop unregisters the watcher and returns once it no longer emits.
	Stop()
}

type Watcher interface {
	Watch(ctx context.Context, opts Options, emit EmitFunc) (Subscription, error)
}

var ErrUnavailable = errors.New("position source unavailable")

type Permissions interface {
	Granted(ctx context.Context) (bool, error)
	Request(ctx context.Context) (bool, error)
}

// StaticPermissions answers with a fixed grant, for servers and tests.
type StaticPermissions bool

func (s StaticPermissions) Granted(context.Context) (bool, error) { return bool(s), nil }

func (s StaticPermissions) Request(context.Context) (bool, error) { return bool(s), nil }

// Filter drops fixes that arrive sooner than Interval after the last accepted one
// unless they moved at least MinDistanceMeters.
type Filter struct {
	opts Options
	last *Fix
}

func NewFilter(opts Options) *Filter {
	return &Filter{opts: opts.WithDefaults()}
}

func (f *Filter) Accept(fix Fix) bool {
	if f.last == nil {
		f.last = &fix
		return true
	}
	if !fix.Timestamp.After(f.last.Timestamp) {
		return false
	}
	moved := geo.DistanceMeters(f.last.Point, fix.Point)
	if moved < f.opts.MinDistanceMeters && fix.Timestamp.Sub(f.last.Timestamp) < f.opts.Interval {
		return false
	}
	f.last = &fix
	return true
}

// loopSub is a Subscription backed by one goroutine.
type loopSub struct {
	cancel context.CancelFunc
	done   chan struct{}
}

// Go runs fn in a goroutine and returns a Subscription whose Stop cancels ctx and
// waits for fn to return.
func Go(ctx context.Context, fn func(ctx context.Context)) Subscription {
	ctx, cancel := context.WithCancel(ctx)
	s := &loopSub{cancel: cancel, done: make(chan struct{})}
	go func() {
		defer close(s.done)
		fn(ctx)
	}()
	return s
}

func (s *loopSub) Stop() {
	s.cancel()
	<-s.done
}
