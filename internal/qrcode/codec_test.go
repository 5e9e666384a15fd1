package qrcode

import (
	"encoding/base64"
	"encoding/json"
	"testing"

	"github.com/BearBump/LoadTrack/internal/models"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"
)

const testOrderID = "3f2b6c0a-9d4e-4b7a-8c1d-2e5f6a7b8c9d"

func samplePayload() models.QRPayload {
	return models.QRPayload{
		OrderID:     testOrderID,
		OrderNumber: "ORD-1001",
		Timestamp:   1_760_000_000_000,
		TenantID:    "t1",
	}
}

func TestEncodeDecode(t *testing.T) {
	p := samplePayload()
	p.Signature = Sign(p, []byte("secret"))

	raw, err := Encode(p)
	require.NoError(t, err)

	got, err := Decode(raw)
	require.NoError(t, err)
	require.Equal(t, p, got)
}

func TestDecode_AcceptsURLAlphabetAndNoPadding(t *testing.T) {
	b, err := json.Marshal(samplePayload())
	require.NoError(t, err)

	for _, enc := range []*base64.Encoding{base64.RawStdEncoding, base64.URLEncoding, base64.RawURLEncoding} {
		got, err := Decode(enc.EncodeToString(b))
		require.NoError(t, err)
		require.Equal(t, testOrderID, got.OrderID)
	}
}

func TestDecode_Errors(t *testing.T) {
	enc := func(s string) string { return base64.StdEncoding.EncodeToString([]byte(s)) }

	cases := map[string]string{
		"empty":               "",
		"not base64":          "%%%not-base64%%%",
		"not json":            enc("hello"),
		"no order id":         enc(`{"orderNumber":"ORD-1"}`),
		"order id not a uuid": enc(`{"orderId":"42"}`),
		"wrong type":          enc(`{"orderId":123}`),
	}
	for name, raw := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Decode(raw)
			require.Error(t, err)
			require.True(t, errors.Is(err, ErrDecode))

			var de *DecodeError
			require.True(t, errors.As(err, &de))
		})
	}
}

func TestVerifySignature(t *testing.T) {
	secret := []byte("secret")
	p := samplePayload()
	p.Signature = Sign(p, secret)
	require.True(t, VerifySignature(p, secret))
	require.False(t, VerifySignature(p, []byte("other")))

	tampered := p
	tampered.OrderNumber = "ORD-1002"
	require.False(t, VerifySignature(tampered, secret))

	tampered = p
	tampered.Timestamp++
	require.False(t, VerifySignature(tampered, secret))

	tampered = p
	tampered.Signature = "zz"
	require.False(t, VerifySignature(tampered, secret))

	tampered = p
	tampered.Signature = p.Signature[:10]
	require.False(t, VerifySignature(tampered, secret))
}
