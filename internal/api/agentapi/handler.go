// Package agentapi is the driver-facing HTTP API of the tracking agent.
package agentapi

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/BearBump/LoadTrack/internal/auth"
	"github.com/BearBump/LoadTrack/internal/geo"
	"github.com/BearBump/LoadTrack/internal/integrations/remote"
	"github.com/BearBump/LoadTrack/internal/lifecycle"
	"github.com/BearBump/LoadTrack/internal/models"
	"github.com/BearBump/LoadTrack/internal/services/activation"
	"github.com/BearBump/LoadTrack/internal/services/orders"
	"github.com/BearBump/LoadTrack/internal/services/tracking"
	"github.com/go-chi/chi/v5"
	"github.com/pkg/errors"
)

const maxSamplesPerRequest = 500

type Orders interface {
	GetOrder(ctx context.Context, id string) (*models.Order, error)
	NextActions(ctx context.Context, id string) (*models.Order, []lifecycle.Action, error)
	UpdateStatus(ctx context.Context, req orders.StatusRequest) (*models.Order, error)
}

type Activator interface {
	Activate(ctx context.Context, req activation.Request) (*activation.Result, error)
}

type Tracker interface {
	TrackedOrderID() (string, bool)
	RecordSample(ctx context.Context, sample models.LocationSample) error
	FlushNow(ctx context.Context) error
	Buffered() int
	Stop(ctx context.Context) error
	Stats() tracking.Stats
}

type Handler struct {
	orders    Orders
	activator Activator
	tracker   Tracker
	signer    *auth.Signer
	feed      http.Handler
}

func New(o Orders, a Activator, t Tracker, signer *auth.Signer) *Handler {
	return &Handler{orders: o, activator: a, tracker: t, signer: signer}
}

// WithPositionFeed mounts the device position websocket at /v1/positions/ws.
func (h *Handler) WithPositionFeed(feed http.Handler) *Handler {
	h.feed = feed
	return h
}

func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Route("/v1", func(r chi.Router) {
		if h.signer != nil {
			r.Use(h.signer.Middleware)
		}
		r.Post("/activations", h.activate)

		r.Get("/orders/{id}", h.getOrder)
		r.Get("/orders/{id}/actions", h.nextActions)
		r.Post("/orders/{id}/status", h.updateStatus)

		r.Get("/tracking", h.trackingState)
		r.Post("/tracking/samples", h.recordSamples)
		r.Post("/tracking/flush", h.flush)
		r.Post("/tracking/stop", h.stop)

		if h.feed != nil {
			r.Get("/positions/ws", h.feed.ServeHTTP)
		}
	})
	return r
}

func driverID(r *http.Request) (string, bool) {
	c, ok := auth.FromContext(r.Context())
	if !ok {
		return "", false
	}
	return c.DriverID, true
}

func decode(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20))
	if err := dec.Decode(v); err != nil {
		return errors.Wrap(err, "decode body")
	}
	return nil
}

type activateRequest struct {
	QRCodeData      string            `json:"qr_code_data"`
	Location        *geo.Point        `json:"location,omitempty"`
	LocationAddress *string           `json:"location_address,omitempty"`
	DeviceInfo      remote.DeviceInfo `json:"device_info"`
}

func (h *Handler) activate(w http.ResponseWriter, r *http.Request) {
	driver, ok := driverID(r)
	if !ok {
		respondError(w, http.StatusUnauthorized, "unauthorized", "unauthorized")
		return
	}
	var req activateRequest
	if err := decode(w, r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "bad_request", err.Error())
		return
	}
	if req.QRCodeData == "" {
		respondError(w, http.StatusBadRequest, "bad_request", "qr_code_data is required")
		return
	}

	res, err := h.activator.Activate(r.Context(), activation.Request{
		QRCode:     req.QRCodeData,
		DriverID:   driver,
		Location:   req.Location,
		Address:    req.LocationAddress,
		DeviceInfo: req.DeviceInfo,
	})
	if err != nil {
		respondErr(w, err)
		return
	}
	respondJSON(w, http.StatusOK, res)
}

func (h *Handler) getOrder(w http.ResponseWriter, r *http.Request) {
	o, err := h.orders.GetOrder(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		respondErr(w, err)
		return
	}
	respondJSON(w, http.StatusOK, o)
}

type actionsResponse struct {
	OrderID string             `json:"order_id"`
	Status  models.OrderStatus `json:"status"`
	Actions []lifecycle.Action `json:"actions"`
}

func (h *Handler) nextActions(w http.ResponseWriter, r *http.Request) {
	o, actions, err := h.orders.NextActions(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		respondErr(w, err)
		return
	}
	if actions == nil {
		actions = []lifecycle.Action{}
	}
	respondJSON(w, http.StatusOK, actionsResponse{OrderID: o.ID, Status: o.Status, Actions: actions})
}

type statusRequest struct {
	Status   models.OrderStatus `json:"status"`
	Location *geo.Point         `json:"location,omitempty"`
	Notes    *string            `json:"notes,omitempty"`
}

func (h *Handler) updateStatus(w http.ResponseWriter, r *http.Request) {
	driver, ok := driverID(r)
	if !ok {
		respondError(w, http.StatusUnauthorized, "unauthorized", "unauthorized")
		return
	}
	var req statusRequest
	if err := decode(w, r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "bad_request", err.Error())
		return
	}
	if req.Status == "" {
		respondError(w, http.StatusBadRequest, "bad_request", "status is required")
		return
	}

	o, err := h.orders.UpdateStatus(r.Context(), orders.StatusRequest{
		OrderID:  chi.URLParam(r, "id"),
		DriverID: driver,
		Status:   req.Status,
		Location: req.Location,
		Notes:    req.Notes,
	})
	if err != nil {
		respondErr(w, err)
		return
	}
	respondJSON(w, http.StatusOK, o)
}

type trackingResponse struct {
	OrderID  string         `json:"order_id,omitempty"`
	Tracking bool           `json:"tracking"`
	Stats    tracking.Stats `json:"stats"`
}

func (h *Handler) trackingState(w http.ResponseWriter, r *http.Request) {
	id, ok := h.tracker.TrackedOrderID()
	respondJSON(w, http.StatusOK, trackingResponse{OrderID: id, Tracking: ok, Stats: h.tracker.Stats()})
}

type sampleFrame struct {
	Lat            float64    `json:"lat"`
	Lon            float64    `json:"lon"`
	AccuracyMeters *float64   `json:"accuracy_meters,omitempty"`
	SpeedKmh       *float64   `json:"speed_kmh,omitempty"`
	Heading        *float64   `json:"heading,omitempty"`
	Timestamp      *time.Time `json:"timestamp,omitempty"`
}

type samplesRequest struct {
	OrderID string        `json:"order_id"`
	Samples []sampleFrame `json:"samples"`
}

type samplesResponse struct {
	Accepted int    `json:"accepted"`
	Buffered int    `json:"buffered"`
	Flushed  bool   `json:"flushed"`
	Error    string `json:"error,omitempty"`
}

func (h *Handler) recordSamples(w http.ResponseWriter, r *http.Request) {
	driver, ok := driverID(r)
	if !ok {
		respondError(w, http.StatusUnauthorized, "unauthorized", "unauthorized")
		return
	}
	var req samplesRequest
	if err := decode(w, r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "bad_request", err.Error())
		return
	}
	if req.OrderID == "" || len(req.Samples) == 0 {
		respondError(w, http.StatusBadRequest, "bad_request", "order_id and samples are required")
		return
	}
	if len(req.Samples) > maxSamplesPerRequest {
		respondError(w, http.StatusBadRequest, "bad_request", "too many samples")
		return
	}

	samples := make([]models.LocationSample, 0, len(req.Samples))
	for _, f := range req.Samples {
		p, err := geo.NewPoint(f.Lat, f.Lon)
		if err != nil {
			respondErr(w, err)
			return
		}
		s := models.LocationSample{
			OrderID:        req.OrderID,
			DriverID:       driver,
			Point:          p,
			AccuracyMeters: f.AccuracyMeters,
			SpeedKmh:       f.SpeedKmh,
			Heading:        f.Heading,
		}
		if f.Timestamp != nil {
			s.Timestamp = f.Timestamp.UTC()
		}
		samples = append(samples, s)
	}

	out := samplesResponse{Flushed: true}
	for _, s := range samples {
		err := h.tracker.RecordSample(r.Context(), s)
		switch {
		case err == nil:
			out.Accepted++
		case errors.Is(err, tracking.ErrFlushFailed):
			// сэмпл в буфере, отправим позже
			out.Accepted++
			out.Flushed = false
			out.Error = err.Error()
		default:
			respondErr(w, err)
			return
		}
	}
	out.Buffered = h.tracker.Buffered()

	status := http.StatusOK
	if !out.Flushed {
		status = http.StatusAccepted
	}
	respondJSON(w, status, out)
}

func (h *Handler) flush(w http.ResponseWriter, r *http.Request) {
	if err := h.tracker.FlushNow(r.Context()); err != nil {
		respondErr(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"flushed": true, "buffered": h.tracker.Buffered()})
}

func (h *Handler) stop(w http.ResponseWriter, r *http.Request) {
	if err := h.tracker.Stop(r.Context()); err != nil {
		respondErr(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"stopped": true})
}
