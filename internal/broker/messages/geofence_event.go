package messages

import (
	"time"

	"github.com/BearBump/LoadTrack/internal/geo"
)

const TopicGeofenceEvents = "geofence.events"

type GeofenceEvent struct {
	EventID    string    `json:"event_id"`
	OrderID    string    `json:"order_id"`
	DriverID   string    `json:"driver_id"`
	Kind       string    `json:"kind"`
	Location   geo.Point `json:"location"`
	OccurredAt time.Time `json:"occurred_at"`
}
