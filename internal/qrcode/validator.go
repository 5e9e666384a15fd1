package qrcode

import (
	"context"
	"time"

	"github.com/BearBump/LoadTrack/internal/integrations/remote"
	"github.com/BearBump/LoadTrack/internal/models"
	"github.com/pkg/errors"
)

const DefaultTTL = 24 * time.Hour

// Authority is the remote source of truth for assignment and activation state.
type Authority interface {
	ValidateQRCode(ctx context.Context, qrCodeData string) (remote.ValidationResult, error)
}

type Validation struct {
	Payload models.QRPayload
	Order   *models.Order
}

type Validator struct {
	tenantID  string
	secret    []byte
	ttl       time.Duration
	authority Authority
	now       func() time.Time
}

func NewValidator(tenantID string, secret []byte, authority Authority) *Validator {
	return &Validator{
		tenantID:  tenantID,
		secret:    secret,
		ttl:       DefaultTTL,
		authority: authority,
		now:       time.Now,
	}
}

func (v *Validator) WithTTL(ttl time.Duration) *Validator {
	if ttl > 0 {
		v.ttl = ttl
	}
	return v
}

func (v *Validator) WithClock(now func() time.Time) *Validator {
	if now != nil {
		v.now = now
	}
	return v
}

// CheckLocal runs the offline checks in order: expiry, tenant, signature.
func (v *Validator) CheckLocal(p models.QRPayload) error {
	created := time.UnixMilli(p.Timestamp)
	if v.now().After(created.Add(v.ttl)) {
		return errors.Wrapf(ErrExpired, "created at %s", created.UTC().Format(time.RFC3339))
	}
	if p.TenantID != v.tenantID {
		return errors.Wrapf(ErrTenantMismatch, "tenant %q", p.TenantID)
	}
	if !VerifySignature(p, v.secret) {
		return ErrInvalidSignature
	}
	return nil
}

// Validate decodes raw, runs the local checks and only then asks the authority.
func (v *Validator) Validate(ctx context.Context, raw string) (*Validation, error) {
	p, err := Decode(raw)
	if err != nil {
		return nil, err
	}
	if err := v.CheckLocal(p); err != nil {
		return nil, err
	}

	res, err := v.authority.ValidateQRCode(ctx, raw)
	if err != nil {
		return nil, &RemoteError{Cause: err}
	}
	if !res.Success {
		return nil, &RemoteError{Message: res.Error}
	}
	if res.Order == nil {
		return nil, &RemoteError{Message: "response has no order"}
	}
	if res.Order.ID != p.OrderID {
		return nil, &RemoteError{Message: "authority returned a different order"}
	}
	return &Validation{Payload: p, Order: res.Order}, nil
}
