package messages

import (
	"time"

	"github.com/BearBump/LoadTrack/internal/models"
)

const (
	TopicOrdersChanged = "orders.changed"

	ChangeTypeUpdate = "UPDATE"
)

// OrderChanged carries the full replacement record of an order row.
type OrderChanged struct {
	Type      string       `json:"type"`
	OrderID   string       `json:"order_id"`
	Record    models.Order `json:"record"`
	ChangedAt time.Time    `json:"changed_at"`
}
