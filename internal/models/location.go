package models

import (
	"time"

	"github.com/BearBump/LoadTrack/internal/geo"
)

type LocationSample struct {
	OrderID        string    `json:"order_id"`
	DriverID       string    `json:"driver_id"`
	Point          geo.Point `json:"location"`
	AccuracyMeters *float64  `json:"accuracy_meters,omitempty"`
	SpeedKmh       *float64  `json:"speed_kmh,omitempty"`
	Heading        *float64  `json:"heading,omitempty"`
	Timestamp      time.Time `json:"timestamp"`
}

type TrackingMode string

const (
	TrackingModeOff        TrackingMode = "off"
	TrackingModeForeground TrackingMode = "foreground"
	TrackingModeBackground TrackingMode = "background"
)

// ActiveTracking is the durable part of the tracking state: enough to resume after a
// cold restart.
type ActiveTracking struct {
	OrderID   string    `json:"order_id"`
	DriverID  string    `json:"driver_id"`
	StartedAt time.Time `json:"started_at"`
}
