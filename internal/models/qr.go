package models

type QRPayload struct {
	OrderID     string `json:"orderId"`
	OrderNumber string `json:"orderNumber"`
	// Timestamp is the creation time in unix milliseconds.
	Timestamp int64  `json:"timestamp"`
	TenantID  string `json:"tenantId"`
	Signature string `json:"signature"`
}
