package activation

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/BearBump/LoadTrack/internal/geo"
	"github.com/BearBump/LoadTrack/internal/integrations/remote"
	"github.com/BearBump/LoadTrack/internal/models"
	"github.com/BearBump/LoadTrack/internal/qrcode"
	"github.com/BearBump/LoadTrack/internal/services/tracking"
	"github.com/pkg/errors"
)

const (
	DefaultScanLimit  = 10
	DefaultScanWindow = time.Minute
)

var (
	ErrRateLimited      = errors.New("too many qr scans, try again later")
	ErrActivationFailed = errors.New("load activation failed")
)

type Validator interface {
	Validate(ctx context.Context, raw string) (*qrcode.Validation, error)
}

type Remote interface {
	ActivateLoad(ctx context.Context, req remote.ActivateRequest) (remote.ActivateResult, error)
}

type Orders interface {
	Refresh(ctx context.Context, id string) (*models.Order, error)
	SetActive(orderID string)
}

type Tracker interface {
	Start(ctx context.Context, t tracking.Target) error
}

type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int64, window time.Duration) (bool, int64, error)
}

type Request struct {
	QRCode     string
	DriverID   string
	Location   *geo.Point
	Address    *string
	DeviceInfo remote.DeviceInfo
}

type Result struct {
	Order           *models.Order `json:"order"`
	Message         string        `json:"message,omitempty"`
	TrackingStarted bool          `json:"tracking_started"`
	TrackingError   string        `json:"tracking_error,omitempty"`
}

type Service struct {
	validator Validator
	remote    Remote
	orders    Orders
	tracker   Tracker

	rl         RateLimiter
	scanLimit  int64
	scanWindow time.Duration

	totalActivated atomic.Int64
	totalRejected  atomic.Int64
	totalLimited   atomic.Int64
}

func New(v Validator, r Remote, o Orders, t Tracker) *Service {
	return &Service{
		validator:  v,
		remote:     r,
		orders:     o,
		tracker:    t,
		scanLimit:  DefaultScanLimit,
		scanWindow: DefaultScanWindow,
	}
}

// WithRateLimit включает ограничение сканов на водителя. limit <= 0 оставляет дефолт.
func (s *Service) WithRateLimit(rl RateLimiter, limit int64, window time.Duration) *Service {
	s.rl = rl
	if limit > 0 {
		s.scanLimit = limit
	}
	if window > 0 {
		s.scanWindow = window
	}
	return s
}

// Activate validates a scanned code, activates the load remotely, makes the order
// active and starts tracking it. A tracking failure does not undo the activation.
func (s *Service) Activate(ctx context.Context, req Request) (*Result, error) {
	if req.QRCode == "" || req.DriverID == "" {
		return nil, errors.New("qr code and driver id are required")
	}

	if err := s.checkRate(ctx, req.DriverID); err != nil {
		return nil, err
	}

	v, err := s.validator.Validate(ctx, req.QRCode)
	if err != nil {
		s.totalRejected.Add(1)
		slog.Warn("qr validation failed", "driver_id", req.DriverID, "err", err)
		return nil, err
	}

	var address string
	if req.Address != nil {
		address = *req.Address
	}
	res, err := s.remote.ActivateLoad(ctx, remote.ActivateRequest{
		OrderID:         v.Payload.OrderID,
		Location:        req.Location,
		LocationAddress: address,
		DeviceInfo:      req.DeviceInfo,
	})
	if err != nil {
		s.totalRejected.Add(1)
		return nil, errors.Wrapf(ErrActivationFailed, "%v", err)
	}
	if !res.Success {
		s.totalRejected.Add(1)
		msg := res.Message
		if msg == "" {
			msg = "rejected by server"
		}
		return nil, errors.Wrap(ErrActivationFailed, msg)
	}

	order, err := s.orders.Refresh(ctx, v.Payload.OrderID)
	if err != nil {
		// заказ уже активирован на сервере, работаем с тем, что вернула валидация
		slog.Warn("refetch after activation failed", "order_id", v.Payload.OrderID, "err", err)
		order = v.Order
	}

	s.orders.SetActive(order.ID)
	s.totalActivated.Add(1)
	slog.Info("load activated", "order_id", order.ID, "order_number", order.OrderNumber, "driver_id", req.DriverID)

	out := &Result{Order: order, Message: res.Message}
	if err := s.tracker.Start(ctx, tracking.TargetFor(order, req.DriverID)); err != nil {
		slog.Error("tracking not started after activation", "order_id", order.ID, "err", err)
		out.TrackingError = err.Error()
		return out, nil
	}
	out.TrackingStarted = true
	return out, nil
}

func (s *Service) checkRate(ctx context.Context, driverID string) error {
	if s.rl == nil {
		return nil
	}
	allowed, n, err := s.rl.Allow(ctx, "rl:qrscan:"+driverID, s.scanLimit, s.scanWindow)
	if err != nil {
		// redis недоступен: сканирование важнее лимита
		slog.Warn("qr scan rate limit unavailable", "driver_id", driverID, "err", err)
		return nil
	}
	if !allowed {
		s.totalLimited.Add(1)
		slog.Warn("qr scan rate limit exceeded", "driver_id", driverID, "count", n)
		return errors.Wrapf(ErrRateLimited, "%d scans", n)
	}
	return nil
}

type Stats struct {
	TotalActivated int64 `json:"totalActivated"`
	TotalRejected  int64 `json:"totalRejected"`
	TotalLimited   int64 `json:"totalLimited"`
}

func (s *Service) Stats() Stats {
	return Stats{
		TotalActivated: s.totalActivated.Load(),
		TotalRejected:  s.totalRejected.Load(),
		TotalLimited:   s.totalLimited.Load(),
	}
}
