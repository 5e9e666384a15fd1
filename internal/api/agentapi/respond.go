package agentapi

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/BearBump/LoadTrack/internal/geo"
	"github.com/BearBump/LoadTrack/internal/lifecycle"
	"github.com/BearBump/LoadTrack/internal/qrcode"
	"github.com/BearBump/LoadTrack/internal/services/activation"
	"github.com/BearBump/LoadTrack/internal/services/orders"
	"github.com/BearBump/LoadTrack/internal/services/tracking"
	"github.com/pkg/errors"
)

type errorBody struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func respondError(w http.ResponseWriter, status int, code, msg string) {
	respondJSON(w, status, errorBody{Error: msg, Code: code})
}

type errMapping struct {
	target error
	status int
	code   string
}

var errMappings = []errMapping{
	{qrcode.ErrDecode, http.StatusBadRequest, "qr_decode"},
	{qrcode.ErrExpired, http.StatusGone, "qr_expired"},
	{qrcode.ErrTenantMismatch, http.StatusForbidden, "qr_tenant_mismatch"},
	{qrcode.ErrInvalidSignature, http.StatusUnprocessableEntity, "qr_invalid_signature"},
	{activation.ErrRateLimited, http.StatusTooManyRequests, "rate_limited"},
	{activation.ErrActivationFailed, http.StatusBadGateway, "activation_failed"},
	{lifecycle.ErrInvalidTransition, http.StatusConflict, "invalid_transition"},
	{orders.ErrNotAssigned, http.StatusForbidden, "not_assigned"},
	{orders.ErrOrderNotFound, http.StatusNotFound, "order_not_found"},
	{orders.ErrOrderConflict, http.StatusConflict, "order_conflict"},
	{orders.ErrPersistFailed, http.StatusBadGateway, "persist_failed"},
	{tracking.ErrPermissionDenied, http.StatusForbidden, "permission_denied"},
	{tracking.ErrWatcherRegistrationFailed, http.StatusBadGateway, "watcher_registration_failed"},
	{tracking.ErrFlushFailed, http.StatusBadGateway, "flush_failed"},
	{tracking.ErrNotTracking, http.StatusConflict, "not_tracking"},
	{geo.ErrInvalidPoint, http.StatusBadRequest, "invalid_point"},
}

// respondErr переводит доменную ошибку в HTTP-статус.
func respondErr(w http.ResponseWriter, err error) {
	var remote *qrcode.RemoteError
	if errors.As(err, &remote) {
		// бэкенд недоступен или ответил мусором, это не отказ по существу
		if remote.Cause != nil {
			respondError(w, http.StatusBadGateway, "qr_remote_unavailable", err.Error())
			return
		}
		respondError(w, http.StatusUnprocessableEntity, "qr_rejected", err.Error())
		return
	}
	for _, m := range errMappings {
		if errors.Is(err, m.target) {
			respondError(w, m.status, m.code, err.Error())
			return
		}
	}
	slog.Error("request failed", "err", err)
	respondError(w, http.StatusInternalServerError, "internal", "internal error")
}
