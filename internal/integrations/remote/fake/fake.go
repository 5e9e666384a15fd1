package fake

import (
	"context"
	"sync"
	"time"

	"github.com/BearBump/LoadTrack/internal/integrations/remote"
	"github.com/BearBump/LoadTrack/internal/models"
	"github.com/BearBump/LoadTrack/internal/qrcode"
)

// Client is an in-memory stand-in for the backend that answers the way
// validate-qr-code and activate-load do.
type Client struct {
	mu     sync.Mutex
	orders map[string]models.Order
	now    func() time.Time

	ValidateCalls int
	ActivateCalls int
}

func New() *Client {
	return &Client{
		orders: make(map[string]models.Order),
		now:    func() time.Time { return time.Now().UTC() },
	}
}

func (c *Client) Put(o models.Order) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.orders[o.ID] = o
}

func (c *Client) Order(id string) (models.Order, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	o, ok := c.orders[id]
	return o, ok
}

func (c *Client) ValidateQRCode(ctx context.Context, qrCodeData string) (remote.ValidationResult, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ValidateCalls++

	p, err := qrcode.Decode(qrCodeData)
	if err != nil {
		return remote.ValidationResult{Success: false, Error: "Invalid QR code"}, nil
	}
	o, ok := c.orders[p.OrderID]
	if !ok {
		return remote.ValidationResult{Success: false, Error: "Order not found"}, nil
	}
	if o.LoadActivatedAt != nil {
		return remote.ValidationResult{Success: false, Error: "Load already activated"}, nil
	}
	return remote.ValidationResult{Success: true, Order: &o}, nil
}

func (c *Client) ActivateLoad(ctx context.Context, req remote.ActivateRequest) (remote.ActivateResult, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ActivateCalls++

	o, ok := c.orders[req.OrderID]
	if !ok {
		return remote.ActivateResult{Success: false, Message: "Order not found"}, nil
	}
	if o.LoadActivatedAt != nil {
		return remote.ActivateResult{Success: false, Message: "Load already activated"}, nil
	}
	now := c.now()
	o = models.StatusChange{OrderID: o.ID, From: o.Status, To: models.OrderStatusActivated}.Apply(o)
	o.LoadActivatedAt = &now
	o.UpdatedAt = now
	c.orders[o.ID] = o
	return remote.ActivateResult{Success: true, Message: "Load activated"}, nil
}
