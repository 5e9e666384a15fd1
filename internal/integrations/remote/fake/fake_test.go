package fake

import (
	"context"
	"testing"

	"github.com/BearBump/LoadTrack/internal/integrations/remote"
	"github.com/BearBump/LoadTrack/internal/models"
	"github.com/BearBump/LoadTrack/internal/qrcode"
	"github.com/stretchr/testify/require"
)

func TestFakeClient_ActivatesOnce(t *testing.T) {
	ctx := context.Background()
	c := New()
	id := "0b7c2e8a-43f1-4c55-8f0e-1f7d7a1c9e01"
	c.Put(models.Order{ID: id, Status: models.OrderStatusAssigned})

	raw, err := qrcode.Encode(models.QRPayload{OrderID: id, OrderNumber: "ORD-7"})
	require.NoError(t, err)

	res, err := c.ValidateQRCode(ctx, raw)
	require.NoError(t, err)
	require.True(t, res.Success)
	require.Equal(t, id, res.Order.ID)

	act, err := c.ActivateLoad(ctx, remote.ActivateRequest{OrderID: id})
	require.NoError(t, err)
	require.True(t, act.Success)

	o, ok := c.Order(id)
	require.True(t, ok)
	require.NotNil(t, o.LoadActivatedAt)
	require.Equal(t, models.OrderStatusActivated, o.Status)
	require.Nil(t, o.ActualStartTime, "activation does not start the trip")
	first := *o.LoadActivatedAt

	act, err = c.ActivateLoad(ctx, remote.ActivateRequest{OrderID: id})
	require.NoError(t, err)
	require.False(t, act.Success)

	o, _ = c.Order(id)
	require.Equal(t, first, *o.LoadActivatedAt)

	res, err = c.ValidateQRCode(ctx, raw)
	require.NoError(t, err)
	require.False(t, res.Success)
	require.Equal(t, 2, c.ValidateCalls)
}

func TestFakeClient_UnknownOrder(t *testing.T) {
	c := New()
	res, err := c.ValidateQRCode(context.Background(), "garbage")
	require.NoError(t, err)
	require.False(t, res.Success)

	act, err := c.ActivateLoad(context.Background(), remote.ActivateRequest{OrderID: "nope"})
	require.NoError(t, err)
	require.False(t, act.Success)
}
