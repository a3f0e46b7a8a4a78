// Package push talks to the hosted dialcore gateway: waking paired
// companion apps on incoming calls and looking up caller names in the
// gateway's CNAM directory.
package push

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"
)

// WakeRequest is the payload sent to the gateway's POST /v1/wake endpoint.
type WakeRequest struct {
	AccountKey   string `json:"account_key"`
	PushToken    string `json:"push_token"`
	PushPlatform string `json:"push_platform"` // "fcm" or "apns"
	Event        string `json:"event"`         // "ringing" or "missed"
	CallerID     string `json:"caller_id"`
	CallerName   string `json:"caller_name,omitempty"`
	CallID       string `json:"call_id"`
}

// WakeResponse is the response from POST /v1/wake.
type WakeResponse struct {
	Delivered bool   `json:"delivered"`
	CallID    string `json:"call_id"`
}

// CnamResponse is the response from GET /v1/cnam.
type CnamResponse struct {
	Number string `json:"number"`
	Name   string `json:"name"`
	Found  bool   `json:"found"`
}

// envelope is the standard gateway response wrapper.
type envelope struct {
	Data  json.RawMessage `json:"data"`
	Error string          `json:"error,omitempty"`
}

// Client is an HTTP client for the dialcore gateway.
type Client struct {
	httpClient *http.Client
	baseURL    string
	accountKey string
}

// NewClient creates a gateway client. baseURL is the gateway endpoint
// (e.g. "https://gw.dialcore.net"); accountKey authenticates this
// device's account on each request.
func NewClient(baseURL, accountKey string) *Client {
	return &Client{
		httpClient: &http.Client{Timeout: 10 * time.Second},
		baseURL:    baseURL,
		accountKey: accountKey,
	}
}

// Wake asks the gateway to push a wake notification to a paired app so
// it can surface an incoming or missed call. Returns whether the push
// was accepted for delivery.
func (c *Client) Wake(ctx context.Context, req WakeRequest) (bool, error) {
	req.AccountKey = c.accountKey

	body, err := json.Marshal(req)
	if err != nil {
		return false, fmt.Errorf("push: marshalling wake request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/wake", bytes.NewReader(body))
	if err != nil {
		return false, fmt.Errorf("push: creating wake request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("X-Account-Key", c.accountKey)

	respBody, err := c.do(httpReq)
	if err != nil {
		return false, err
	}

	var wakeResp WakeResponse
	if err := json.Unmarshal(respBody, &wakeResp); err != nil {
		return false, fmt.Errorf("push: decoding wake response: %w", err)
	}

	slog.Debug("wake push sent",
		"delivered", wakeResp.Delivered,
		"call_id", req.CallID,
		"platform", req.PushPlatform,
		"event", req.Event,
	)

	return wakeResp.Delivered, nil
}

// LookupName queries the gateway's caller-name directory. A miss
// returns ("", nil).
func (c *Client) LookupName(ctx context.Context, number string) (string, error) {
	u := c.baseURL + "/v1/cnam?number=" + url.QueryEscape(number)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return "", fmt.Errorf("push: creating cnam request: %w", err)
	}
	httpReq.Header.Set("X-Account-Key", c.accountKey)

	respBody, err := c.do(httpReq)
	if err != nil {
		return "", err
	}

	var cnam CnamResponse
	if err := json.Unmarshal(respBody, &cnam); err != nil {
		return "", fmt.Errorf("push: decoding cnam response: %w", err)
	}
	if !cnam.Found {
		return "", nil
	}
	return cnam.Name, nil
}

// do runs the request and unwraps the gateway's response envelope,
// returning the raw data payload.
func (c *Client) do(httpReq *http.Request) (json.RawMessage, error) {
	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("push: sending request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if err != nil {
		return nil, fmt.Errorf("push: reading response: %w", err)
	}

	var env envelope
	if resp.StatusCode != http.StatusOK {
		if json.Unmarshal(respBody, &env) == nil && env.Error != "" {
			return nil, fmt.Errorf("push: gateway error (status %d): %s", resp.StatusCode, env.Error)
		}
		return nil, fmt.Errorf("push: gateway returned status %d", resp.StatusCode)
	}

	if err := json.Unmarshal(respBody, &env); err != nil {
		return nil, fmt.Errorf("push: decoding response envelope: %w", err)
	}
	return env.Data, nil
}

// Configured returns true if the client has a base URL and account key.
func (c *Client) Configured() bool {
	return c.baseURL != "" && c.accountKey != ""
}
