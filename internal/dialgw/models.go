// Package dialgw is the hosted companion gateway. It wakes paired
// companion apps through FCM and APNs when the device daemon reports an
// incoming or missed call, and serves caller-name directory lookups.
package dialgw

import "time"

// Account represents a gateway account record. The device daemon
// authenticates with the account key on every request.
type Account struct {
	ID        int64
	Key       string
	Name      string
	Active    bool
	CreatedAt time.Time
}

// PushLogEntry represents a single wake delivery attempt log record.
type PushLogEntry struct {
	AccountKey string
	Platform   string
	Event      string
	CallID     string
	Success    bool
	Error      string
	Timestamp  time.Time
}

// WakePayload is the data delivered inside a wake push notification.
type WakePayload struct {
	Event      string `json:"event"` // "ringing" or "missed"
	CallID     string `json:"call_id"`
	CallerID   string `json:"caller_id"`
	CallerName string `json:"caller_name,omitempty"`
}

// WakeRequest is the JSON body for POST /v1/wake.
type WakeRequest struct {
	AccountKey   string `json:"account_key"`
	PushToken    string `json:"push_token"`
	PushPlatform string `json:"push_platform"` // "fcm" or "apns"
	Event        string `json:"event"`         // "ringing" or "missed"
	CallerID     string `json:"caller_id"`
	CallerName   string `json:"caller_name,omitempty"`
	CallID       string `json:"call_id"`
}

// WakeResponse is the JSON response for POST /v1/wake.
type WakeResponse struct {
	Delivered bool   `json:"delivered"`
	CallID    string `json:"call_id"`
}

// CnamResponse is the JSON response for GET /v1/cnam.
type CnamResponse struct {
	Number string `json:"number"`
	Name   string `json:"name"`
	Found  bool   `json:"found"`
}
