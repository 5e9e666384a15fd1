package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/BearBump/LoadTrack/internal/geo"
	"github.com/BearBump/LoadTrack/internal/integrations/remote"
	"github.com/BearBump/LoadTrack/internal/models"
	"github.com/stretchr/testify/require"
)

type staticToken string

func (s staticToken) Token(context.Context) (string, error) { return string(s), nil }

const orderID = "5b3d2c1e-6a0f-4f51-9d6e-0c8f8f6b2a11"

func TestClient_ValidateQRCode_OK(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/validate-qr-code", r.URL.Path)
		require.Equal(t, "Bearer tok", r.Header.Get("Authorization"))

		var body map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		require.Equal(t, "QR", body["qrCodeData"])

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
  "success": true,
  "order": {
    "id": "` + orderID + `",
    "order_number": "ORD-1",
    "status": "assigned",
    "loading_point": {"name": "Depot", "address": "Main st 1", "point": "SRID=4326;POINT(37.6 55.7)"}
  }
}`))
	}))
	defer srv.Close()

	c := New(srv.URL, staticToken("tok"))
	res, err := c.ValidateQRCode(context.Background(), "QR")
	require.NoError(t, err)
	require.True(t, res.Success)
	require.Equal(t, orderID, res.Order.ID)
	require.Equal(t, models.OrderStatusAssigned, res.Order.Status)
	require.Equal(t, &geo.Point{Lat: 55.7, Lon: 37.6}, res.Order.Loading.Point)
}

func TestClient_ValidateQRCode_BusinessRejection(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"success": false, "error": "Load already activated"}`))
	}))
	defer srv.Close()

	res, err := New(srv.URL, nil).ValidateQRCode(context.Background(), "QR")
	require.NoError(t, err)
	require.False(t, res.Success)
	require.Equal(t, "Load already activated", res.Error)
}

func TestClient_ValidateQRCode_FailsClosed(t *testing.T) {
	cases := map[string]string{
		"no success field": `{"order": {"id": "x", "status": "assigned"}}`,
		"no order":         `{"success": true}`,
		"bad status":       `{"success": true, "order": {"id": "x", "status": "teleported"}}`,
		"not json":         `<html>`,
		"bad point":        `{"success": true, "order": {"id": "x", "status": "assigned", "loading_point": {"point": "POINT(1)"}}}`,
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				_, _ = w.Write([]byte(body))
			}))
			defer srv.Close()

			_, err := New(srv.URL, nil).ValidateQRCode(context.Background(), "QR")
			require.Error(t, err)
		})
	}
}

func TestClient_ServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	_, err := New(srv.URL, nil).ActivateLoad(context.Background(), remote.ActivateRequest{OrderID: orderID})
	require.Error(t, err)
}

func TestClient_ActivateLoad(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/activate-load", r.URL.Path)
		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		require.Equal(t, orderID, body["order_id"])
		require.Equal(t, "SRID=4326;POINT(30.5 50.25)", body["location"])
		require.Equal(t, "Gate 4", body["location_address"])
		info := body["device_info"].(map[string]any)
		require.Equal(t, "android", info["platform"])
		_, _ = w.Write([]byte(`{"success": true, "message": "Load activated"}`))
	}))
	defer srv.Close()

	res, err := New(srv.URL, staticToken("t")).ActivateLoad(context.Background(), remote.ActivateRequest{
		OrderID:         orderID,
		Location:        &geo.Point{Lat: 50.25, Lon: 30.5},
		LocationAddress: "Gate 4",
		DeviceInfo:      remote.DeviceInfo{Platform: "android", AppVersion: "1.0.0"},
	})
	require.NoError(t, err)
	require.True(t, res.Success)
	require.Equal(t, "Load activated", res.Message)
}
