package remote

import (
	"context"

	"github.com/BearBump/LoadTrack/internal/geo"
	"github.com/BearBump/LoadTrack/internal/models"
)

type ValidationResult struct {
	Success bool
	Order   *models.Order
	Error   string
}

type DeviceInfo struct {
	Platform   string `json:"platform"`
	AppVersion string `json:"app_version"`
	DeviceID   string `json:"device_id,omitempty"`
}

type ActivateRequest struct {
	OrderID         string
	Location        *geo.Point
	LocationAddress string
	DeviceInfo      DeviceInfo
}

type ActivateResult struct {
	Success bool
	Message string
}

// Client is the backend's validate-qr-code / activate-load surface.
type Client interface {
	ValidateQRCode(ctx context.Context, qrCodeData string) (ValidationResult, error)
	ActivateLoad(ctx context.Context, req ActivateRequest) (ActivateResult, error)
}
