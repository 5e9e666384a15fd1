// Package qrcode decodes, signs and validates the activation payload printed on load
// documents.
package qrcode

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"strconv"
	"strings"

	"github.com/BearBump/LoadTrack/internal/models"
	"github.com/google/uuid"
	"github.com/pkg/errors"
)

var encodings = []*base64.Encoding{
	base64.StdEncoding,
	base64.RawStdEncoding,
	base64.URLEncoding,
	base64.RawURLEncoding,
}

func Decode(raw string) (models.QRPayload, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return models.QRPayload{}, &DecodeError{Cause: errors.New("empty payload")}
	}

	var data []byte
	var decErr error
	for _, enc := range encodings {
		data, decErr = enc.DecodeString(raw)
		if decErr == nil {
			break
		}
	}
	if decErr != nil {
		return models.QRPayload{}, &DecodeError{Cause: errors.Wrap(decErr, "base64")}
	}

	var p models.QRPayload
	if err := json.Unmarshal(data, &p); err != nil {
		return models.QRPayload{}, &DecodeError{Cause: errors.Wrap(err, "json")}
	}
	if p.OrderID == "" {
		return models.QRPayload{}, &DecodeError{Cause: errors.New("orderId is missing")}
	}
	if _, err := uuid.Parse(p.OrderID); err != nil {
		return models.QRPayload{}, &DecodeError{Cause: errors.Wrap(err, "orderId")}
	}
	return p, nil
}

func Encode(p models.QRPayload) (string, error) {
	b, err := json.Marshal(p)
	if err != nil {
		return "", errors.Wrap(err, "marshal qr payload")
	}
	return base64.StdEncoding.EncodeToString(b), nil
}

func canonical(p models.QRPayload) string {
	return strings.Join([]string{
		p.OrderID,
		p.OrderNumber,
		strconv.FormatInt(p.Timestamp, 10),
		p.TenantID,
	}, "|")
}

// Sign returns the hex HMAC-SHA256 of the canonical payload fields.
func Sign(p models.QRPayload, secret []byte) string {
	mac := hmac.New(sha256.New, secret)
	mac.Write([]byte(canonical(p)))
	return hex.EncodeToString(mac.Sum(nil))
}

func VerifySignature(p models.QRPayload, secret []byte) bool {
	got, err := hex.DecodeString(p.Signature)
	if err != nil || len(got) != sha256.Size {
		return false
	}
	mac := hmac.New(sha256.New, secret)
	mac.Write([]byte(canonical(p)))
	return hmac.Equal(got, mac.Sum(nil))
}
