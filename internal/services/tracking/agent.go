package tracking

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/BearBump/LoadTrack/internal/broker/messages"
	"github.com/BearBump/LoadTrack/internal/geo"
	"github.com/BearBump/LoadTrack/internal/geofence"
	"github.com/BearBump/LoadTrack/internal/integrations/positions"
	"github.com/BearBump/LoadTrack/internal/lifecycle"
	"github.com/BearBump/LoadTrack/internal/models"
	"github.com/google/uuid"
	"github.com/pkg/errors"
)

// Target is what Start needs to know about the order to track.
type Target struct {
	OrderID   string
	DriverID  string
	Loading   *geo.Point
	Unloading *geo.Point
}

func TargetFor(o *models.Order, driverID string) Target {
	return Target{
		OrderID:   o.ID,
		DriverID:  driverID,
		Loading:   o.Loading.Point,
		Unloading: o.Unloading.Point,
	}
}

type session struct {
	gen       uint64
	target    Target
	fences    geofence.Fences
	mode      models.TrackingMode
	startedAt time.Time
	lastFix   time.Time

	// последние принятые метки времени, для отсева повторов
	seen      map[int64]struct{}
	seenOrder []int64

	ctx    context.Context
	cancel context.CancelFunc
	subs   []positions.Subscription
}

type taggedFix struct {
	gen uint64
	fix positions.Fix
}

// Agent owns the single tracked order. Start and Stop are serialized; watcher fixes
// are funneled through one channel and consumed by Run.
type Agent struct {
	foreground positions.Watcher
	background positions.Watcher
	perms      positions.Permissions
	store      StateStore
	sink       LocationSink
	monitor    *geofence.Monitor
	events     GeofencePublisher

	interval          time.Duration
	minDistanceMeters float64
	radiusMeters      float64
	flushAttempts     int
	flushRetryStep    time.Duration

	fixes chan taggedFix

	lifecycleMu sync.Mutex
	flushMu     sync.Mutex

	mu          sync.Mutex
	gen         uint64
	active      *session
	buf         *buffer
	lastFlushed *models.LocationSample

	startedAtUnixNano   int64
	lastFlushUnixNano   atomic.Int64
	totalStarts         atomic.Int64
	totalStops          atomic.Int64
	totalSamples        atomic.Int64
	totalStaleDropped   atomic.Int64
	totalDuplicates     atomic.Int64
	totalFlushed        atomic.Int64
	totalFlushErrors    atomic.Int64
	totalEvicted        atomic.Int64
	totalGeofenceEvents atomic.Int64
	lastErrorMu         sync.Mutex
	lastError           string
}

func NewAgent(foreground positions.Watcher, perms positions.Permissions, store StateStore, sink LocationSink) *Agent {
	return &Agent{
		foreground:        foreground,
		perms:             perms,
		store:             store,
		sink:              sink,
		monitor:           geofence.NewMonitor(),
		interval:          positions.DefaultInterval,
		minDistanceMeters: positions.DefaultMinDistanceMeters,
		radiusMeters:      geofence.DefaultRadiusMeters,
		flushAttempts:     3,
		flushRetryStep:    time.Second,
		fixes:             make(chan taggedFix, 64),
		buf:               newBuffer(1000),
		startedAtUnixNano: time.Now().UTC().UnixNano(),
	}
}

// WithBackground adds a watcher that keeps running while the app is suspended.
func (a *Agent) WithBackground(w positions.Watcher) *Agent {
	a.background = w
	return a
}

func (a *Agent) WithGeofencePublisher(p GeofencePublisher) *Agent {
	a.events = p
	return a
}

func (a *Agent) WithSettings(interval time.Duration, minDistanceMeters float64, bufferCapacity int, radiusMeters float64) *Agent {
	if interval > 0 {
		a.interval = interval
	}
	if minDistanceMeters >= 0 {
		a.minDistanceMeters = minDistanceMeters
	}
	if bufferCapacity > 0 {
		a.buf = newBuffer(bufferCapacity)
	}
	if radiusMeters > 0 {
		a.radiusMeters = radiusMeters
	}
	return a
}

func (a *Agent) WithFlushRetry(attempts int, step time.Duration) *Agent {
	if attempts > 0 {
		a.flushAttempts = attempts
	}
	if step >= 0 {
		a.flushRetryStep = step
	}
	return a
}

// Start begins tracking t, stopping whatever was tracked before. On permission
// denial nothing changes.
func (a *Agent) Start(ctx context.Context, t Target) error {
	if t.OrderID == "" {
		return errors.New("order id is required")
	}

	a.lifecycleMu.Lock()
	defer a.lifecycleMu.Unlock()

	if err := a.ensurePermission(ctx); err != nil {
		return err
	}

	a.mu.Lock()
	cur := a.active
	a.mu.Unlock()
	if cur != nil && cur.target.OrderID == t.OrderID && cur.target.DriverID == t.DriverID {
		return nil
	}
	if err := a.stopLocked(ctx); err != nil {
		return errors.Wrap(err, "stop previous order")
	}

	sctx, cancel := context.WithCancel(context.Background())
	a.mu.Lock()
	a.gen++
	s := &session{
		gen:    a.gen,
		target: t,
		fences: geofence.Fences{
			Loading:      t.Loading,
			Unloading:    t.Unloading,
			RadiusMeters: a.radiusMeters,
		},
		mode:      models.TrackingModeForeground,
		startedAt: time.Now().UTC(),
		seen:      make(map[int64]struct{}, dedupWindow),
		ctx:       sctx,
		cancel:    cancel,
	}
	a.active = s
	a.mu.Unlock()
	a.monitor.Reset(t.OrderID)

	opts := positions.Options{Interval: a.interval, MinDistanceMeters: a.minDistanceMeters, Tag: t.OrderID}
	fg, err := a.foreground.Watch(sctx, opts, a.emitter(s))
	if err != nil {
		a.abandon(s)
		return errors.Wrapf(ErrWatcherRegistrationFailed, "foreground: %v", err)
	}
	subs := []positions.Subscription{fg}

	mode := models.TrackingModeForeground
	if a.background != nil {
		bg, err := a.background.Watch(sctx, opts, a.emitter(s))
		if err != nil {
			slog.Warn("background watcher unavailable, tracking in foreground only", "order_id", t.OrderID, "err", err)
		} else {
			subs = append(subs, bg)
			mode = models.TrackingModeBackground
		}
	}

	if err := a.store.SaveActive(ctx, models.ActiveTracking{
		OrderID:   t.OrderID,
		DriverID:  t.DriverID,
		StartedAt: s.startedAt,
	}); err != nil {
		for _, sub := range subs {
			sub.Stop()
		}
		a.abandon(s)
		return errors.Wrap(err, "persist active order")
	}

	a.mu.Lock()
	s.subs = subs
	s.mode = mode
	a.mu.Unlock()

	a.totalStarts.Add(1)
	slog.Info("tracking started", "order_id", t.OrderID, "driver_id", t.DriverID, "mode", mode)
	return nil
}

func (a *Agent) ensurePermission(ctx context.Context) error {
	ok, err := a.perms.Granted(ctx)
	if err != nil {
		return errors.Wrapf(ErrPermissionDenied, "check: %v", err)
	}
	if ok {
		return nil
	}
	ok, err = a.perms.Request(ctx)
	if err != nil {
		return errors.Wrapf(ErrPermissionDenied, "request: %v", err)
	}
	if !ok {
		return ErrPermissionDenied
	}
	return nil
}

// abandon rolls back a session whose registration failed.
func (a *Agent) abandon(s *session) {
	s.cancel()
	a.mu.Lock()
	if a.active == s {
		a.active = nil
	}
	a.mu.Unlock()
}

func (a *Agent) emitter(s *session) positions.EmitFunc {
	return func(f positions.Fix) bool {
		if s.ctx.Err() != nil {
			return false
		}
		select {
		case a.fixes <- taggedFix{gen: s.gen, fix: f}:
			return true
		case <-s.ctx.Done():
			return false
		}
	}
}

// Stop unregisters all watchers and clears the active order. Stopping with nothing
// tracked is a no-op.
func (a *Agent) Stop(ctx context.Context) error {
	a.lifecycleMu.Lock()
	defer a.lifecycleMu.Unlock()
	return a.stopLocked(ctx)
}

func (a *Agent) stopLocked(ctx context.Context) error {
	a.mu.Lock()
	s := a.active
	a.active = nil
	a.mu.Unlock()
	if s == nil {
		return nil
	}

	// cancel first: it unblocks emitters and aborts a running flush retry
	s.cancel()
	for _, sub := range s.subs {
		sub.Stop()
	}
	a.monitor.Reset(s.target.OrderID)
	a.totalStops.Add(1)

	if err := a.store.ClearActive(ctx); err != nil {
		a.setLastError(err)
		return errors.Wrap(err, "clear active order")
	}
	slog.Info("tracking stopped", "order_id", s.target.OrderID)
	return nil
}

// StopIfTracking stops tracking only when orderID is the tracked order.
func (a *Agent) StopIfTracking(ctx context.Context, orderID string) (bool, error) {
	a.lifecycleMu.Lock()
	defer a.lifecycleMu.Unlock()

	a.mu.Lock()
	tracked := a.active != nil && a.active.target.OrderID == orderID
	a.mu.Unlock()
	if !tracked {
		return false, nil
	}
	return true, a.stopLocked(ctx)
}

// CurrentOrderID returns the durable active order, which survives restarts.
func (a *Agent) CurrentOrderID(ctx context.Context) (string, bool, error) {
	st, err := a.store.LoadActive(ctx)
	if err != nil {
		return "", false, errors.Wrap(err, "load active order")
	}
	if st == nil {
		return "", false, nil
	}
	return st.OrderID, true, nil
}

// TrackedOrderID is the in-memory view: the order whose watchers are running.
func (a *Agent) TrackedOrderID() (string, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.active == nil {
		return "", false
	}
	return a.active.target.OrderID, true
}

func (a *Agent) Mode() models.TrackingMode {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.active == nil {
		return models.TrackingModeOff
	}
	return a.active.mode
}

// Resume restarts tracking for the durable active order after a cold start.
// Orders that reached a terminal status in the meantime are forgotten.
func (a *Agent) Resume(ctx context.Context, orders OrderSource) error {
	st, err := a.store.LoadActive(ctx)
	if err != nil {
		return errors.Wrap(err, "load active order")
	}
	if st == nil {
		return nil
	}
	o, err := orders.GetOrder(ctx, st.OrderID)
	if err != nil {
		return errors.Wrapf(err, "get order %s", st.OrderID)
	}
	if lifecycle.IsTerminal(o.Status) {
		slog.Info("not resuming tracking of finished order", "order_id", o.ID, "status", o.Status)
		return errors.Wrap(a.store.ClearActive(ctx), "clear active order")
	}
	return a.Start(ctx, TargetFor(o, st.DriverID))
}

// Run consumes watcher fixes until ctx is done.
func (a *Agent) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case tf := <-a.fixes:
			if err := a.handleFix(ctx, tf); err != nil {
				slog.Warn("location sample not flushed", "err", err)
			}
		}
	}
}

func (a *Agent) handleFix(ctx context.Context, tf taggedFix) error {
	a.mu.Lock()
	s := a.active
	if s == nil || s.gen != tf.gen {
		a.mu.Unlock()
		a.totalStaleDropped.Add(1)
		return nil
	}
	sample := models.LocationSample{
		OrderID:        s.target.OrderID,
		DriverID:       s.target.DriverID,
		Point:          tf.fix.Point,
		AccuracyMeters: tf.fix.AccuracyMeters,
		SpeedKmh:       tf.fix.SpeedKmh,
		Heading:        tf.fix.Heading,
		Timestamp:      tf.fix.Timestamp,
	}
	events, ok := a.appendLocked(s, sample)
	a.mu.Unlock()

	if !ok {
		return nil
	}
	a.publish(ctx, s, sample, events)
	return a.flush(ctx)
}

// RecordSample accepts a sample pushed directly by a client. It must belong to the
// tracked order.
func (a *Agent) RecordSample(ctx context.Context, sample models.LocationSample) error {
	if err := sample.Point.Validate(); err != nil {
		return err
	}
	if sample.Timestamp.IsZero() {
		sample.Timestamp = time.Now().UTC()
	}

	a.mu.Lock()
	s := a.active
	if s == nil || s.target.OrderID != sample.OrderID {
		a.mu.Unlock()
		return errors.Wrapf(ErrNotTracking, "order %s", sample.OrderID)
	}
	if sample.DriverID == "" {
		sample.DriverID = s.target.DriverID
	}
	events, ok := a.appendLocked(s, sample)
	a.mu.Unlock()

	if !ok {
		return nil
	}
	a.publish(ctx, s, sample, events)
	return a.flush(ctx)
}

// dedupWindow bounds how many recent fix timestamps a session remembers.
const dedupWindow = 256

// markSeen reports whether ts is new to the session and remembers it.
func (s *session) markSeen(ts time.Time) bool {
	k := ts.UnixNano()
	if _, dup := s.seen[k]; dup {
		return false
	}
	if len(s.seenOrder) == dedupWindow {
		delete(s.seen, s.seenOrder[0])
		s.seenOrder = s.seenOrder[1:]
	}
	s.seen[k] = struct{}{}
	s.seenOrder = append(s.seenOrder, k)
	return true
}

// appendLocked dedups, evaluates geofences and buffers the sample. a.mu must be held.
// Late fixes (older than the newest one) are buffered but do not move geofence state.
func (a *Agent) appendLocked(s *session, sample models.LocationSample) (geofence.Events, bool) {
	// foreground and background watchers report the same fix
	if !s.markSeen(sample.Timestamp) {
		a.totalDuplicates.Add(1)
		return geofence.Events{}, false
	}

	var events geofence.Events
	if sample.Timestamp.After(s.lastFix) {
		s.lastFix = sample.Timestamp
		events = a.monitor.Evaluate(s.target.OrderID, sample.Point, s.fences)
	}
	if evicted := a.buf.push(sample); evicted > 0 {
		a.totalEvicted.Add(int64(evicted))
		slog.Warn("location buffer full, oldest samples evicted", "evicted", evicted)
	}
	a.totalSamples.Add(1)
	return events, true
}

func (a *Agent) publish(ctx context.Context, s *session, sample models.LocationSample, events geofence.Events) {
	if !events.Any() {
		return
	}
	for _, kind := range events.Kinds() {
		a.totalGeofenceEvents.Add(1)
		slog.Info("geofence crossed", "order_id", s.target.OrderID, "kind", kind)
		if a.events == nil {
			continue
		}
		ev := messages.GeofenceEvent{
			EventID:    uuid.NewString(),
			OrderID:    s.target.OrderID,
			DriverID:   s.target.DriverID,
			Kind:       string(kind),
			Location:   sample.Point,
			OccurredAt: sample.Timestamp,
		}
		if err := a.events.PublishGeofenceEvent(ctx, ev); err != nil {
			slog.Warn("publish geofence event failed", "order_id", ev.OrderID, "kind", ev.Kind, "err", err)
		}
	}
}

// FlushNow sends everything buffered, including samples of orders no longer tracked.
func (a *Agent) FlushNow(ctx context.Context) error {
	return a.flush(ctx)
}

func (a *Agent) Buffered() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.buf.len()
}

func (a *Agent) flush(ctx context.Context) error {
	a.flushMu.Lock()
	defer a.flushMu.Unlock()

	a.mu.Lock()
	batch := a.buf.snapshot()
	var abort context.Context
	if a.active != nil {
		abort = a.active.ctx
	}
	a.mu.Unlock()
	if len(batch) == 0 {
		return nil
	}

	cctx, cancel := context.WithCancel(ctx)
	defer cancel()
	if abort != nil {
		stop := context.AfterFunc(abort, cancel)
		defer stop()
	}

	samples := make([]models.LocationSample, len(batch))
	for i, e := range batch {
		samples[i] = e.sample
	}

	var err error
	for attempt := 1; attempt <= a.flushAttempts; attempt++ {
		err = a.sink.InsertLocationUpdates(cctx, samples)
		if err == nil {
			break
		}
		a.totalFlushErrors.Add(1)
		if attempt == a.flushAttempts || cctx.Err() != nil {
			break
		}
		select {
		case <-cctx.Done():
		case <-time.After(time.Duration(attempt) * a.flushRetryStep):
		}
	}
	if err != nil {
		a.setLastError(err)
		return errors.Wrapf(ErrFlushFailed, "%d samples kept: %v", len(samples), err)
	}

	last := batch[len(batch)-1]
	a.mu.Lock()
	a.buf.ack(last.seq)
	a.lastFlushed = &last.sample
	a.mu.Unlock()

	a.totalFlushed.Add(int64(len(samples)))
	a.lastFlushUnixNano.Store(time.Now().UTC().UnixNano())
	return nil
}

func (a *Agent) setLastError(err error) {
	a.lastErrorMu.Lock()
	a.lastError = err.Error()
	a.lastErrorMu.Unlock()
}

type Stats struct {
	StartedAt      time.Time  `json:"startedAt"`
	Mode           string     `json:"mode"`
	OrderID        string     `json:"orderId,omitempty"`
	Buffered       int        `json:"buffered"`
	LastFlushAt    *time.Time `json:"lastFlushAt,omitempty"`
	LastFlushedAt  *time.Time `json:"lastFlushedSampleAt,omitempty"`
	TotalStarts    int64      `json:"totalStarts"`
	TotalStops     int64      `json:"totalStops"`
	TotalSamples   int64      `json:"totalSamples"`
	StaleDropped   int64      `json:"staleDropped"`
	Duplicates     int64      `json:"duplicates"`
	TotalFlushed   int64      `json:"totalFlushed"`
	FlushErrors    int64      `json:"flushErrors"`
	Evicted        int64      `json:"evicted"`
	GeofenceEvents int64      `json:"geofenceEvents"`
	LastError      string     `json:"lastError,omitempty"`
}

func (a *Agent) Stats() Stats {
	st := Stats{
		StartedAt:      time.Unix(0, a.startedAtUnixNano).UTC(),
		TotalStarts:    a.totalStarts.Load(),
		TotalStops:     a.totalStops.Load(),
		TotalSamples:   a.totalSamples.Load(),
		StaleDropped:   a.totalStaleDropped.Load(),
		Duplicates:     a.totalDuplicates.Load(),
		TotalFlushed:   a.totalFlushed.Load(),
		FlushErrors:    a.totalFlushErrors.Load(),
		Evicted:        a.totalEvicted.Load(),
		GeofenceEvents: a.totalGeofenceEvents.Load(),
	}
	if n := a.lastFlushUnixNano.Load(); n > 0 {
		t := time.Unix(0, n).UTC()
		st.LastFlushAt = &t
	}

	a.mu.Lock()
	st.Mode = string(models.TrackingModeOff)
	if a.active != nil {
		st.Mode = string(a.active.mode)
		st.OrderID = a.active.target.OrderID
	}
	st.Buffered = a.buf.len()
	if a.lastFlushed != nil {
		t := a.lastFlushed.Timestamp
		st.LastFlushedAt = &t
	}
	a.mu.Unlock()

	a.lastErrorMu.Lock()
	st.LastError = a.lastError
	a.lastErrorMu.Unlock()
	return st
}
