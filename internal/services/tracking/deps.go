package tracking

import (
	"context"

	"github.com/BearBump/LoadTrack/internal/broker/messages"
	"github.com/BearBump/LoadTrack/internal/models"
)

// LocationSink writes samples to location_updates. A batch is stored whole or not at all.
type LocationSink interface {
	InsertLocationUpdates(ctx context.Context, samples []models.LocationSample) error
}

// StateStore keeps the active order across restarts.
type StateStore interface {
	SaveActive(ctx context.Context, st models.ActiveTracking) error
	LoadActive(ctx context.Context) (*models.ActiveTracking, error)
	ClearActive(ctx context.Context) error
}

type GeofencePublisher interface {
	PublishGeofenceEvent(ctx context.Context, ev messages.GeofenceEvent) error
}

type OrderSource interface {
	GetOrder(ctx context.Context, orderID string) (*models.Order, error)
}
