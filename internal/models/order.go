package models

import (
	"time"

	"github.com/BearBump/LoadTrack/internal/geo"
)

type OrderStatus string

const (
	OrderStatusPending    OrderStatus = "pending"
	OrderStatusAssigned   OrderStatus = "assigned"
	OrderStatusActivated  OrderStatus = "activated"
	OrderStatusInProgress OrderStatus = "in_progress"
	OrderStatusInTransit  OrderStatus = "in_transit"
	OrderStatusArrived    OrderStatus = "arrived"
	OrderStatusLoading    OrderStatus = "loading"
	OrderStatusLoaded     OrderStatus = "loaded"
	OrderStatusUnloading  OrderStatus = "unloading"
	OrderStatusCompleted  OrderStatus = "completed"
	OrderStatusCancelled  OrderStatus = "cancelled"
)

// AllOrderStatuses lists every status in lifecycle order.
var AllOrderStatuses = []OrderStatus{
	OrderStatusPending,
	OrderStatusAssigned,
	OrderStatusActivated,
	OrderStatusInProgress,
	OrderStatusInTransit,
	OrderStatusArrived,
	OrderStatusLoading,
	OrderStatusLoaded,
	OrderStatusUnloading,
	OrderStatusCompleted,
	OrderStatusCancelled,
}

func (s OrderStatus) Valid() bool {
	for _, st := range AllOrderStatuses {
		if st == s {
			return true
		}
	}
	return false
}

type Place struct {
	Name    string     `json:"name"`
	Address string     `json:"address"`
	Point   *geo.Point `json:"point,omitempty"`
}

type Order struct {
	ID               string      `json:"id"`
	OrderNumber      string      `json:"order_number"`
	TenantID         string      `json:"tenant_id"`
	Status           OrderStatus `json:"status"`
	AssignedDriverID *string     `json:"assigned_driver_id,omitempty"`

	Loading   Place `json:"loading_point"`
	Unloading Place `json:"unloading_point"`

	LoadActivatedAt *time.Time `json:"load_activated_at,omitempty"`
	ActualStartTime *time.Time `json:"actual_start_time,omitempty"`
	ActualEndTime   *time.Time `json:"actual_end_time,omitempty"`
	DeliveredAt     *time.Time `json:"delivered_at,omitempty"`

	EstimatedDistanceKm *float64 `json:"estimated_distance_km,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	// ChangeTxID is the store transaction that last wrote the row. Only the relay reads it.
	ChangeTxID int64 `json:"-"`
}

func (o *Order) IsAssignedTo(driverID string) bool {
	return o.AssignedDriverID != nil && *o.AssignedDriverID == driverID
}

// StatusUpdate is one row of the append-only status_updates log.
type StatusUpdate struct {
	ID        uint64      `json:"id,omitempty"`
	OrderID   string      `json:"order_id"`
	DriverID  string      `json:"driver_id"`
	Status    OrderStatus `json:"status"`
	Location  *geo.Point  `json:"location,omitempty"`
	Notes     *string     `json:"notes,omitempty"`
	CreatedAt time.Time   `json:"created_at"`
}

// StatusChange is the mutation applied to an order row. It only applies while the
// row is still in From. Nil timestamps are left untouched.
type StatusChange struct {
	OrderID string
	From    OrderStatus
	To      OrderStatus

	ActualStartTime *time.Time
	ActualEndTime   *time.Time
	DeliveredAt     *time.Time
}

// Apply returns a copy of o with the change applied.
func (c StatusChange) Apply(o Order) Order {
	o.Status = c.To
	if c.ActualStartTime != nil && o.ActualStartTime == nil {
		t := *c.ActualStartTime
		o.ActualStartTime = &t
	}
	if c.ActualEndTime != nil {
		t := *c.ActualEndTime
		o.ActualEndTime = &t
	}
	if c.DeliveredAt != nil {
		t := *c.DeliveredAt
		o.DeliveredAt = &t
	}
	return o
}
