package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/BearBump/LoadTrack/internal/geo"
	"github.com/BearBump/LoadTrack/internal/integrations/remote"
	"github.com/BearBump/LoadTrack/internal/models"
	"github.com/pkg/errors"
)

var ErrUnexpectedResponse = errors.New("unexpected response shape")

type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

type Client struct {
	baseURL string
	tokens  TokenSource
	httpc   *http.Client
}

func New(baseURL string, tokens TokenSource) *Client {
	if baseURL == "" {
		baseURL = "http://localhost:9000"
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		tokens:  tokens,
		httpc: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

type validateReq struct {
	QRCodeData string `json:"qrCodeData"`
}

type validateResp struct {
	Success *bool         `json:"success"`
	Order   *models.Order `json:"order,omitempty"`
	Error   string        `json:"error,omitempty"`
}

type activateReq struct {
	OrderID         string            `json:"order_id"`
	Location        *geo.Point        `json:"location,omitempty"`
	LocationAddress string            `json:"location_address,omitempty"`
	DeviceInfo      remote.DeviceInfo `json:"device_info"`
}

type activateResp struct {
	Success *bool  `json:"success"`
	Message string `json:"message,omitempty"`
	Error   string `json:"error,omitempty"`
}

func (c *Client) ValidateQRCode(ctx context.Context, qrCodeData string) (remote.ValidationResult, error) {
	var rb validateResp
	if err := c.post(ctx, "/validate-qr-code", validateReq{QRCodeData: qrCodeData}, &rb); err != nil {
		return remote.ValidationResult{}, err
	}
	if rb.Success == nil {
		return remote.ValidationResult{}, errors.Wrap(ErrUnexpectedResponse, "validate-qr-code: success is missing")
	}
	if !*rb.Success {
		return remote.ValidationResult{Success: false, Error: rb.Error}, nil
	}
	if rb.Order == nil || rb.Order.ID == "" || !rb.Order.Status.Valid() {
		return remote.ValidationResult{}, errors.Wrap(ErrUnexpectedResponse, "validate-qr-code: order is missing or malformed")
	}
	return remote.ValidationResult{Success: true, Order: rb.Order}, nil
}

func (c *Client) ActivateLoad(ctx context.Context, req remote.ActivateRequest) (remote.ActivateResult, error) {
	var rb activateResp
	body := activateReq{
		OrderID:         req.OrderID,
		Location:        req.Location,
		LocationAddress: req.LocationAddress,
		DeviceInfo:      req.DeviceInfo,
	}
	if err := c.post(ctx, "/activate-load", body, &rb); err != nil {
		return remote.ActivateResult{}, err
	}
	if rb.Success == nil {
		return remote.ActivateResult{}, errors.Wrap(ErrUnexpectedResponse, "activate-load: success is missing")
	}
	msg := rb.Message
	if msg == "" {
		msg = rb.Error
	}
	return remote.ActivateResult{Success: *rb.Success, Message: msg}, nil
}

func (c *Client) post(ctx context.Context, path string, in, out any) error {
	u, err := url.Parse(c.baseURL + path)
	if err != nil {
		return errors.Wrap(err, "parse base url")
	}
	payload, err := json.Marshal(in)
	if err != nil {
		return errors.Wrap(err, "marshal request")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u.String(), bytes.NewReader(payload))
	if err != nil {
		return errors.Wrap(err, "new request")
	}
	req.Header.Set("Content-Type", "application/json")
	if c.tokens != nil {
		tok, err := c.tokens.Token(ctx)
		if err != nil {
			return errors.Wrap(err, "bearer token")
		}
		req.Header.Set("Authorization", "Bearer "+tok)
	}

	resp, err := c.httpc.Do(req)
	if err != nil {
		return errors.Wrap(err, "do request")
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return errors.Wrap(err, "read body")
	}
	// Business rejections come back as 4xx with a {success:false} body.
	if resp.StatusCode/100 != 2 && resp.StatusCode/100 != 4 {
		return fmt.Errorf("%s: http %d", path, resp.StatusCode)
	}
	if err := json.Unmarshal(body, out); err != nil {
		return errors.Wrapf(ErrUnexpectedResponse, "%s: http %d: %v", path, resp.StatusCode, err)
	}
	return nil
}
