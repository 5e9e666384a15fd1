// Package relay publishes order records changed in the store to the realtime feed.
package relay

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/BearBump/LoadTrack/internal/broker/messages"
	"github.com/BearBump/LoadTrack/internal/cache"
	"github.com/BearBump/LoadTrack/internal/models"
	"github.com/BearBump/LoadTrack/internal/storage/pgstore"
	"github.com/pkg/errors"
)

const cursorKey = "relay:orders:cursor"

type Repository interface {
	ListOrdersChangedAfter(ctx context.Context, after pgstore.Cursor, limit int) ([]*models.Order, error)
}

type Publisher interface {
	PublishOrderChanged(ctx context.Context, msg messages.OrderChanged) error
}

type Relay struct {
	repo    Repository
	pub     Publisher
	cursors cache.BytesCache

	planner *Planner

	batchSize       int
	publishAttempts int

	triggerCh chan struct{}

	mu       sync.Mutex
	cursor   pgstore.Cursor
	failures int

	startedAtUnixNano   int64
	lastCycleUnixNano   atomic.Int64
	lastTriggerUnixNano atomic.Int64
	lastChangeUnixNano  atomic.Int64
	totalPublished      atomic.Int64
	totalErrors         atomic.Int64
	lastErrorMu         sync.Mutex
	lastError           string
}

func New(repo Repository, pub Publisher) *Relay {
	return &Relay{
		repo:              repo,
		pub:               pub,
		planner:           NewPlanner(DefaultPlannerConfig(), nil),
		batchSize:         100,
		publishAttempts:   10,
		triggerCh:         make(chan struct{}, 1),
		startedAtUnixNano: time.Now().UTC().UnixNano(),
	}
}

func (r *Relay) WithSettings(pollInterval time.Duration, batchSize int) *Relay {
	cfg := DefaultPlannerConfig()
	if pollInterval > 0 {
		cfg.IdleDelay = pollInterval
	}
	r.planner = NewPlanner(cfg, nil)
	if batchSize > 0 {
		r.batchSize = batchSize
	}
	return r
}

func (r *Relay) WithPlanner(p *Planner) *Relay {
	if p != nil {
		r.planner = p
	}
	return r
}

// WithCursorStore сохраняет позицию между рестартами. Без него релей начинает с начала таблицы.
func (r *Relay) WithCursorStore(c cache.BytesCache) *Relay {
	r.cursors = c
	return r
}

func (r *Relay) Trigger() {
	r.lastTriggerUnixNano.Store(time.Now().UTC().UnixNano())
	select {
	case r.triggerCh <- struct{}{}:
	default:
	}
}

func (r *Relay) Run(ctx context.Context) error {
	r.loadCursor(ctx)

	for {
		r.mu.Lock()
		delay := r.planner.NextDelay(r.failures)
		r.mu.Unlock()

		t := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		case <-t.C:
		case <-r.triggerCh:
			t.Stop()
		}
		r.runOnce(ctx)
	}
}

// runOnce drains every page changed since the cursor. The cursor only moves past
// records that were published.
func (r *Relay) runOnce(ctx context.Context) {
	r.lastCycleUnixNano.Store(time.Now().UTC().UnixNano())

	err := r.drain(ctx)

	r.mu.Lock()
	if err != nil {
		r.failures++
	} else {
		r.failures = 0
	}
	r.mu.Unlock()

	if err != nil && ctx.Err() == nil {
		r.totalErrors.Add(1)
		r.setLastError(err)
		slog.Error("relay cycle failed", "error", err.Error())
	}
	r.saveCursor(ctx)
}

func (r *Relay) drain(ctx context.Context) error {
	for {
		r.mu.Lock()
		after := r.cursor
		r.mu.Unlock()

		page, err := r.repo.ListOrdersChangedAfter(ctx, after, r.batchSize)
		if err != nil {
			return errors.Wrap(err, "list changed orders")
		}
		for _, o := range page {
			if err := r.publishOne(ctx, o); err != nil {
				return err
			}
			r.mu.Lock()
			r.cursor = pgstore.Cursor{TxID: o.ChangeTxID, ID: o.ID}
			r.mu.Unlock()
			r.lastChangeUnixNano.Store(o.UpdatedAt.UTC().UnixNano())
			r.totalPublished.Add(1)
		}
		if len(page) < r.batchSize {
			return nil
		}
	}
}

func (r *Relay) publishOne(ctx context.Context, o *models.Order) error {
	msg := messages.OrderChanged{
		Type:      messages.ChangeTypeUpdate,
		OrderID:   o.ID,
		Record:    *o,
		ChangedAt: o.UpdatedAt,
	}

	// Kafka может быть не готова сразу после старта docker compose, поэтому небольшой retry.
	var pubErr error
	for i := 0; i < r.publishAttempts; i++ {
		if pubErr = r.pub.PublishOrderChanged(ctx, msg); pubErr == nil {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Duration(150*(i+1)) * time.Millisecond):
		}
	}
	return errors.Wrapf(pubErr, "publish order %s", o.ID)
}

func (r *Relay) loadCursor(ctx context.Context) {
	if r.cursors == nil {
		return
	}
	b, ok, err := r.cursors.Get(ctx, cursorKey)
	if err != nil {
		slog.Warn("relay cursor load failed, starting from scratch", "error", err.Error())
		return
	}
	if !ok {
		return
	}
	var c pgstore.Cursor
	if err := json.Unmarshal(b, &c); err != nil {
		slog.Warn("relay cursor is corrupt, starting from scratch", "error", err.Error())
		return
	}
	r.mu.Lock()
	r.cursor = c
	r.mu.Unlock()
	slog.Info("relay cursor restored", "txid", c.TxID, "id", c.ID)
}

func (r *Relay) saveCursor(ctx context.Context) {
	if r.cursors == nil {
		return
	}
	r.mu.Lock()
	c := r.cursor
	r.mu.Unlock()
	if c.ID == "" {
		return
	}
	b, err := json.Marshal(c)
	if err != nil {
		return
	}
	// без TTL: позиция нужна, пока жив релей
	if err := r.cursors.Set(context.WithoutCancel(ctx), cursorKey, b, 0); err != nil {
		slog.Warn("relay cursor save failed", "error", err.Error())
	}
}

func (r *Relay) setLastError(err error) {
	r.lastErrorMu.Lock()
	r.lastError = err.Error()
	r.lastErrorMu.Unlock()
}

func (r *Relay) Cursor() pgstore.Cursor {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.cursor
}

type Stats struct {
	StartedAt     time.Time  `json:"startedAt"`
	LastCycleAt   *time.Time `json:"lastCycleAt,omitempty"`
	LastTriggerAt *time.Time `json:"lastTriggerAt,omitempty"`
	// LastChangeAt is updated_at of the newest published record.
	LastChangeAt   *time.Time     `json:"lastChangeAt,omitempty"`
	Cursor         pgstore.Cursor `json:"cursor"`
	TotalPublished int64          `json:"totalPublished"`
	TotalErrors    int64          `json:"totalErrors"`
	Failures       int            `json:"consecutiveFailures"`
	LastError      string         `json:"lastError,omitempty"`
}

func (r *Relay) Stats() Stats {
	st := Stats{
		StartedAt:      time.Unix(0, r.startedAtUnixNano).UTC(),
		TotalPublished: r.totalPublished.Load(),
		TotalErrors:    r.totalErrors.Load(),
	}
	if n := r.lastCycleUnixNano.Load(); n > 0 {
		t := time.Unix(0, n).UTC()
		st.LastCycleAt = &t
	}
	if n := r.lastTriggerUnixNano.Load(); n > 0 {
		t := time.Unix(0, n).UTC()
		st.LastTriggerAt = &t
	}
	if n := r.lastChangeUnixNano.Load(); n > 0 {
		t := time.Unix(0, n).UTC()
		st.LastChangeAt = &t
	}
	r.mu.Lock()
	st.Failures = r.failures
	st.Cursor = r.cursor
	r.mu.Unlock()
	r.lastErrorMu.Lock()
	st.LastError = r.lastError
	r.lastErrorMu.Unlock()
	return st
}
