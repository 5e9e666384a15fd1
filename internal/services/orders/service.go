package orders

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/BearBump/LoadTrack/internal/broker/messages"
	"github.com/BearBump/LoadTrack/internal/cache"
	"github.com/BearBump/LoadTrack/internal/geo"
	"github.com/BearBump/LoadTrack/internal/lifecycle"
	"github.com/BearBump/LoadTrack/internal/models"
	"github.com/BearBump/LoadTrack/internal/storage/pgstore"
	"github.com/pkg/errors"
)

var (
	ErrNotAssigned   = errors.New("order is assigned to another driver")
	ErrPersistFailed = errors.New("status change was not persisted")
	ErrOrderNotFound = errors.New("order not found")
	ErrOrderConflict = errors.New("order changed concurrently, re-read it")
)

type Repository interface {
	GetOrder(ctx context.Context, id string) (*models.Order, error)
	InsertStatusUpdate(ctx context.Context, u models.StatusUpdate) (uint64, error)
	UpdateOrderStatus(ctx context.Context, ch models.StatusChange) (*models.Order, error)
	AssignDriverIfUnassigned(ctx context.Context, orderID, driverID string) (*models.Order, bool, error)
}

// Tracker is the part of the tracking agent the coordinator drives.
type Tracker interface {
	StopIfTracking(ctx context.Context, orderID string) (bool, error)
}

type Consumer interface {
	Consume(ctx context.Context, handler func(key, value []byte) error) error
}

type StatusRequest struct {
	OrderID  string
	DriverID string
	Status   models.OrderStatus
	Location *geo.Point
	Notes    *string
}

type Service struct {
	repo     Repository
	cache    cache.BytesCache
	cacheTTL time.Duration
	tracker  Tracker
	now      func() time.Time

	mu     sync.RWMutex
	active string

	totalStatusUpdates atomic.Int64
	totalPersistErrors atomic.Int64
	totalConflicts     atomic.Int64
	totalRemoteApplied atomic.Int64
	totalRemoteSkipped atomic.Int64
}

func New(repo Repository, c cache.BytesCache, cacheTTL time.Duration, tracker Tracker) *Service {
	return &Service{
		repo:     repo,
		cache:    c,
		cacheTTL: cacheTTL,
		tracker:  tracker,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

func (s *Service) WithClock(now func() time.Time) *Service {
	if now != nil {
		s.now = now
	}
	return s
}

func currentKey(orderID string) string {
	return "order:" + orderID + ":current"
}

func (s *Service) cacheEnabled() bool {
	return s.cache != nil && s.cacheTTL > 0
}

func (s *Service) cachePut(ctx context.Context, o *models.Order) {
	if !s.cacheEnabled() || o == nil {
		return
	}
	b, err := json.Marshal(o)
	if err != nil {
		return
	}
	if err := s.cache.Set(ctx, currentKey(o.ID), b, s.cacheTTL); err != nil {
		slog.Warn("order cache set failed", "order_id", o.ID, "err", err)
	}
}

func (s *Service) cacheDrop(ctx context.Context, orderID string) {
	if !s.cacheEnabled() {
		return
	}
	if err := s.cache.Del(ctx, currentKey(orderID)); err != nil {
		slog.Warn("order cache del failed", "order_id", orderID, "err", err)
	}
}

func (s *Service) fetch(ctx context.Context, id string) (*models.Order, error) {
	o, err := s.repo.GetOrder(ctx, id)
	if errors.Is(err, pgstore.ErrNotFound) {
		return nil, errors.Wrapf(ErrOrderNotFound, "order %s", id)
	}
	if err != nil {
		return nil, errors.Wrap(err, "get order")
	}
	return o, nil
}

// GetOrder serves the cached record when there is one.
func (s *Service) GetOrder(ctx context.Context, id string) (*models.Order, error) {
	if id == "" {
		return nil, errors.New("order id is required")
	}
	if s.cacheEnabled() {
		b, ok, err := s.cache.Get(ctx, currentKey(id))
		if err == nil && ok {
			var o models.Order
			if json.Unmarshal(b, &o) == nil {
				return &o, nil
			}
		}
	}

	o, err := s.fetch(ctx, id)
	if err != nil {
		return nil, err
	}
	s.cachePut(ctx, o)
	return o, nil
}

// Refresh re-reads the order from the store and replaces the cached copy.
func (s *Service) Refresh(ctx context.Context, id string) (*models.Order, error) {
	o, err := s.fetch(ctx, id)
	if err != nil {
		return nil, err
	}
	s.cachePut(ctx, o)
	return o, nil
}

func (s *Service) NextActions(ctx context.Context, id string) (*models.Order, []lifecycle.Action, error) {
	o, err := s.GetOrder(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	return o, lifecycle.NextAvailableActions(o.Status), nil
}

// UpdateStatus validates and persists a driver's status change. Nothing is cached
// unless both the status_updates append and the order update succeed.
func (s *Service) UpdateStatus(ctx context.Context, req StatusRequest) (*models.Order, error) {
	if req.OrderID == "" || req.DriverID == "" {
		return nil, errors.New("order id and driver id are required")
	}
	if !req.Status.Valid() {
		return nil, errors.Wrapf(lifecycle.ErrInvalidTransition, "unknown status %q", req.Status)
	}

	// всегда читаем из базы: кэш мог отстать от realtime-ленты
	o, err := s.fetch(ctx, req.OrderID)
	if err != nil {
		return nil, err
	}
	if o.AssignedDriverID != nil && !o.IsAssignedTo(req.DriverID) {
		return nil, errors.Wrapf(ErrNotAssigned, "order %s", o.ID)
	}
	// проверка перехода до любой записи: отклонённый запрос не трогает заказ
	if err := lifecycle.Check(o.Status, req.Status); err != nil {
		return nil, err
	}
	from := o.Status
	if !o.IsAssignedTo(req.DriverID) {
		if o, err = s.AssignDriverIfUnassigned(ctx, o, req.DriverID); err != nil {
			return nil, err
		}
	}

	now := s.now()
	ch := models.StatusChange{OrderID: o.ID, From: from, To: req.Status}
	switch req.Status {
	case models.OrderStatusInProgress, models.OrderStatusInTransit:
		if o.ActualStartTime == nil {
			ch.ActualStartTime = &now
		}
	case models.OrderStatusCompleted:
		ch.ActualEndTime = &now
		ch.DeliveredAt = &now
	}

	if _, err := s.repo.InsertStatusUpdate(ctx, models.StatusUpdate{
		OrderID:   o.ID,
		DriverID:  req.DriverID,
		Status:    req.Status,
		Location:  req.Location,
		Notes:     req.Notes,
		CreatedAt: now,
	}); err != nil {
		s.totalPersistErrors.Add(1)
		return nil, errors.Wrapf(ErrPersistFailed, "append status update: %v", err)
	}

	updated, err := s.repo.UpdateOrderStatus(ctx, ch)
	if errors.Is(err, pgstore.ErrStaleOrder) {
		s.totalConflicts.Add(1)
		slog.Warn("order changed concurrently, status not applied",
			"order_id", o.ID, "from", ch.From, "to", ch.To)
		return nil, errors.Wrapf(ErrOrderConflict, "order %s is no longer %s", o.ID, ch.From)
	}
	if err != nil {
		s.totalPersistErrors.Add(1)
		// the status_updates row stays as an audit record of the attempt
		slog.Error("status update appended but order not updated",
			"order_id", o.ID, "from", ch.From, "to", ch.To, "err", err)
		return nil, errors.Wrapf(ErrPersistFailed, "update order: %v", err)
	}

	s.totalStatusUpdates.Add(1)
	s.cachePut(ctx, updated)
	slog.Info("order status changed", "order_id", updated.ID, "from", ch.From, "to", updated.Status, "driver_id", req.DriverID)

	if lifecycle.IsTerminal(updated.Status) {
		s.finish(ctx, updated.ID)
	}
	return updated, nil
}

// AssignDriverIfUnassigned claims an unassigned order for driverID with a single
// conditional write. It never overwrites another driver's assignment.
func (s *Service) AssignDriverIfUnassigned(ctx context.Context, o *models.Order, driverID string) (*models.Order, error) {
	if o.IsAssignedTo(driverID) {
		return o, nil
	}
	if o.AssignedDriverID != nil {
		return nil, errors.Wrapf(ErrNotAssigned, "order %s", o.ID)
	}

	updated, ok, err := s.repo.AssignDriverIfUnassigned(ctx, o.ID, driverID)
	if errors.Is(err, pgstore.ErrNotFound) {
		return nil, errors.Wrapf(ErrOrderNotFound, "order %s", o.ID)
	}
	if err != nil {
		return nil, errors.Wrap(err, "assign driver")
	}
	if !ok && !updated.IsAssignedTo(driverID) {
		return nil, errors.Wrapf(ErrNotAssigned, "order %s", o.ID)
	}
	if ok {
		slog.Info("order assigned on first action", "order_id", o.ID, "driver_id", driverID)
	}
	s.cachePut(ctx, updated)
	return updated, nil
}

// finish runs the side effects of a terminal status.
func (s *Service) finish(ctx context.Context, orderID string) {
	if s.tracker != nil {
		if stopped, err := s.tracker.StopIfTracking(ctx, orderID); err != nil {
			slog.Error("stop tracking after terminal status failed", "order_id", orderID, "err", err)
		} else if stopped {
			slog.Info("tracking stopped, order finished", "order_id", orderID)
		}
	}

	s.mu.Lock()
	if s.active == orderID {
		s.active = ""
	}
	s.mu.Unlock()
}

func (s *Service) SetActive(orderID string) {
	s.mu.Lock()
	s.active = orderID
	s.mu.Unlock()
}

func (s *Service) ClearActive() {
	s.SetActive("")
}

func (s *Service) Active() (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.active, s.active != ""
}

// ApplyRemoteChange replaces the local copy with the remote record. The remote wins.
func (s *Service) ApplyRemoteChange(ctx context.Context, msg messages.OrderChanged) error {
	if msg.Type != messages.ChangeTypeUpdate {
		return nil
	}
	rec := msg.Record
	if rec.ID == "" {
		rec.ID = msg.OrderID
	}
	if rec.ID == "" {
		return errors.New("order change without order id")
	}

	s.cachePut(ctx, &rec)
	s.totalRemoteApplied.Add(1)

	if lifecycle.IsTerminal(rec.Status) {
		s.finish(ctx, rec.ID)
	}
	return nil
}

// Subscribe consumes the order change feed until ctx is done or the consumer fails.
// Changes to orders other than the active one only invalidate their cached copy.
func (s *Service) Subscribe(ctx context.Context, c Consumer) error {
	return c.Consume(ctx, func(key, value []byte) error {
		var msg messages.OrderChanged
		if err := json.Unmarshal(value, &msg); err != nil {
			// битое сообщение не лечится повтором, коммитим и идём дальше
			slog.Warn("skip malformed order change", "key", string(key), "err", err)
			s.totalRemoteSkipped.Add(1)
			return nil
		}
		if msg.OrderID == "" {
			msg.OrderID = string(key)
		}

		active, ok := s.Active()
		if !ok || msg.OrderID != active {
			s.cacheDrop(ctx, msg.OrderID)
			s.totalRemoteSkipped.Add(1)
			return nil
		}
		return s.ApplyRemoteChange(ctx, msg)
	})
}

type Stats struct {
	ActiveOrderID      string `json:"activeOrderId,omitempty"`
	TotalStatusUpdates int64  `json:"totalStatusUpdates"`
	TotalPersistErrors int64  `json:"totalPersistErrors"`
	TotalConflicts     int64  `json:"totalConflicts"`
	TotalRemoteApplied int64  `json:"totalRemoteApplied"`
	TotalRemoteSkipped int64  `json:"totalRemoteSkipped"`
}

func (s *Service) Stats() Stats {
	active, _ := s.Active()
	return Stats{
		ActiveOrderID:      active,
		TotalStatusUpdates: s.totalStatusUpdates.Load(),
		TotalPersistErrors: s.totalPersistErrors.Load(),
		TotalConflicts:     s.totalConflicts.Load(),
		TotalRemoteApplied: s.totalRemoteApplied.Load(),
		TotalRemoteSkipped: s.totalRemoteSkipped.Load(),
	}
}
