package dialgw

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

// mockAccountStore implements AccountStore for testing.
type mockAccountStore struct {
	account *Account
	err     error
}

func (m *mockAccountStore) ValidateKey(ctx context.Context, key string) (*Account, error) {
	return m.account, m.err
}

// mockPushSender implements PushSender for testing.
type mockPushSender struct {
	lastPlatform string
	lastToken    string
	lastPayload  WakePayload
	sendCount    int
	err          error
}

func (m *mockPushSender) Send(ctx context.Context, platform, token string, payload WakePayload) error {
	m.lastPlatform = platform
	m.lastToken = token
	m.lastPayload = payload
	m.sendCount++
	return m.err
}

// mockPushLogger implements PushLogger for testing.
type mockPushLogger struct {
	entries []PushLogEntry
}

func (m *mockPushLogger) Log(entry PushLogEntry) error {
	m.entries = append(m.entries, entry)
	return nil
}

// mockDirectory implements CnamDirectory for testing.
type mockDirectory struct {
	names   map[string]string
	err     error
	lookups int
}

func (m *mockDirectory) LookupName(ctx context.Context, number string) (string, error) {
	m.lookups++
	if m.err != nil {
		return "", m.err
	}
	return m.names[number], nil
}

func activeAccount() *Account {
	return &Account{
		ID:        1,
		Key:       "acct-key-123456789",
		Name:      "home",
		Active:    true,
		CreatedAt: time.Now(),
	}
}

func postWake(srv *Server, key, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/v1/wake", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if key != "" {
		req.Header.Set("X-Account-Key", key)
	}
	w := httptest.NewRecorder()
	srv.ServeHTTP(w, req)
	return w
}

func TestHandleWake_Success(t *testing.T) {
	sender := &mockPushSender{}
	logger := &mockPushLogger{}
	srv := NewServer(Options{
		Accounts: &mockAccountStore{account: activeAccount()},
		Sender:   sender,
		PushLog:  logger,
	})

	body := `{"push_token":"device-token-abc","push_platform":"fcm","event":"ringing","caller_id":"+14155550100","caller_name":"Alice","call_id":"call-123"}`
	w := postWake(srv, "acct-key-123456789", body)

	if w.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", w.Code, w.Body.String())
	}

	if sender.lastPlatform != "fcm" {
		t.Errorf("expected platform %q, got %q", "fcm", sender.lastPlatform)
	}
	if sender.lastToken != "device-token-abc" {
		t.Errorf("expected token %q, got %q", "device-token-abc", sender.lastToken)
	}
	if sender.lastPayload.Event != "ringing" {
		t.Errorf("expected event %q, got %q", "ringing", sender.lastPayload.Event)
	}
	if sender.lastPayload.CallerName != "Alice" {
		t.Errorf("expected caller_name %q, got %q", "Alice", sender.lastPayload.CallerName)
	}

	var env struct {
		Data WakeResponse `json:"data"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &env); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if !env.Data.Delivered {
		t.Error("expected delivered=true")
	}
	if env.Data.CallID != "call-123" {
		t.Errorf("expected call_id %q, got %q", "call-123", env.Data.CallID)
	}

	if len(logger.entries) != 1 {
		t.Fatalf("expected 1 log entry, got %d", len(logger.entries))
	}
	if !logger.entries[0].Success || logger.entries[0].Event != "ringing" {
		t.Errorf("unexpected log entry: %+v", logger.entries[0])
	}
}

func TestHandleWake_MissedEvent(t *testing.T) {
	sender := &mockPushSender{}
	srv := NewServer(Options{
		Accounts: &mockAccountStore{account: activeAccount()},
		Sender:   sender,
	})

	body := `{"push_token":"apns-token","push_platform":"apns","event":"missed","caller_id":"100","call_id":"call-456"}`
	w := postWake(srv, "acct-key-123456789", body)

	if w.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", w.Code, w.Body.String())
	}
	if sender.lastPlatform != "apns" || sender.lastPayload.Event != "missed" {
		t.Errorf("got platform %q event %q", sender.lastPlatform, sender.lastPayload.Event)
	}
}

func TestHandleWake_MissingAccountKey(t *testing.T) {
	sender := &mockPushSender{}
	srv := NewServer(Options{
		Accounts: &mockAccountStore{account: activeAccount()},
		Sender:   sender,
	})

	body := `{"push_token":"tok","push_platform":"fcm","event":"ringing","call_id":"c1"}`
	w := postWake(srv, "", body)

	if w.Code != http.StatusUnauthorized {
		t.Fatalf("expected status 401, got %d: %s", w.Code, w.Body.String())
	}
	if sender.sendCount != 0 {
		t.Error("expected no push without an account key")
	}
}

func TestHandleWake_UnknownAccount(t *testing.T) {
	sender := &mockPushSender{}
	srv := NewServer(Options{
		Accounts: &mockAccountStore{account: nil},
		Sender:   sender,
	})

	body := `{"push_token":"tok","push_platform":"fcm","event":"ringing","call_id":"c1"}`
	w := postWake(srv, "bad-key", body)

	if w.Code != http.StatusForbidden {
		t.Fatalf("expected status 403, got %d: %s", w.Code, w.Body.String())
	}
	if sender.sendCount != 0 {
		t.Error("expected no push for an unknown account")
	}
}

func TestHandleWake_AccountStoreError(t *testing.T) {
	srv := NewServer(Options{
		Accounts: &mockAccountStore{err: fmt.Errorf("database connection lost")},
		Sender:   &mockPushSender{},
	})

	body := `{"push_token":"tok","push_platform":"fcm","event":"ringing","call_id":"c1"}`
	w := postWake(srv, "acct-key", body)

	if w.Code != http.StatusInternalServerError {
		t.Fatalf("expected status 500, got %d: %s", w.Code, w.Body.String())
	}
}

func TestHandleWake_MissingFields(t *testing.T) {
	srv := NewServer(Options{
		Accounts: &mockAccountStore{account: activeAccount()},
		Sender:   &mockPushSender{},
	})

	tests := []struct {
		name string
		body string
		want string
	}{
		{
			name: "missing push_token",
			body: `{"push_platform":"fcm","event":"ringing","call_id":"c1"}`,
			want: "push_token is required",
		},
		{
			name: "invalid platform",
			body: `{"push_token":"tok","push_platform":"webpush","event":"ringing","call_id":"c1"}`,
			want: "push_platform must be fcm or apns",
		},
		{
			name: "invalid event",
			body: `{"push_token":"tok","push_platform":"fcm","event":"answered","call_id":"c1"}`,
			want: "event must be ringing or missed",
		},
		{
			name: "missing call_id",
			body: `{"push_token":"tok","push_platform":"fcm","event":"ringing"}`,
			want: "call_id is required",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := postWake(srv, "acct-key", tt.body)

			if w.Code != http.StatusBadRequest {
				t.Fatalf("expected status 400, got %d: %s", w.Code, w.Body.String())
			}

			var env envelope
			if err := json.Unmarshal(w.Body.Bytes(), &env); err != nil {
				t.Fatalf("failed to decode response: %v", err)
			}
			if !strings.Contains(env.Error, tt.want) {
				t.Errorf("expected error containing %q, got %q", tt.want, env.Error)
			}
		})
	}
}

func TestHandleWake_SenderError(t *testing.T) {
	sender := &mockPushSender{err: fmt.Errorf("fcm: token no longer valid")}
	logger := &mockPushLogger{}
	srv := NewServer(Options{
		Accounts: &mockAccountStore{account: activeAccount()},
		Sender:   sender,
		PushLog:  logger,
	})

	body := `{"push_token":"expired-token","push_platform":"fcm","event":"ringing","call_id":"call-789"}`
	w := postWake(srv, "acct-key", body)

	if w.Code != http.StatusBadGateway {
		t.Fatalf("expected status 502, got %d: %s", w.Code, w.Body.String())
	}

	if len(logger.entries) != 1 {
		t.Fatalf("expected 1 log entry, got %d", len(logger.entries))
	}
	if logger.entries[0].Success {
		t.Error("expected log entry success=false for failed send")
	}
	if logger.entries[0].Error == "" {
		t.Error("expected error message in log entry")
	}
}

func TestHandleWake_ServiceUnavailable(t *testing.T) {
	srv := NewServer(Options{})

	body := `{"push_token":"tok","push_platform":"fcm","event":"ringing","call_id":"c1"}`
	w := postWake(srv, "acct-key", body)

	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected status 503, got %d: %s", w.Code, w.Body.String())
	}
}

func getCnam(srv *Server, key, number string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, "/v1/cnam?number="+number, nil)
	if key != "" {
		req.Header.Set("X-Account-Key", key)
	}
	w := httptest.NewRecorder()
	srv.ServeHTTP(w, req)
	return w
}

func TestHandleCnam(t *testing.T) {
	dir := &mockDirectory{names: map[string]string{"+14155550100": "Alice Example"}}
	srv := NewServer(Options{
		Accounts: &mockAccountStore{account: activeAccount()},
		Cnam:     dir,
	})

	t.Run("hit", func(t *testing.T) {
		w := getCnam(srv, "acct-key", "%2B14155550100")
		if w.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d: %s", w.Code, w.Body.String())
		}
		var env struct {
			Data CnamResponse `json:"data"`
		}
		if err := json.Unmarshal(w.Body.Bytes(), &env); err != nil {
			t.Fatalf("failed to decode response: %v", err)
		}
		if !env.Data.Found || env.Data.Name != "Alice Example" {
			t.Errorf("unexpected response: %+v", env.Data)
		}
	})

	t.Run("miss", func(t *testing.T) {
		w := getCnam(srv, "acct-key", "%2B14155559999")
		if w.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d: %s", w.Code, w.Body.String())
		}
		var env struct {
			Data CnamResponse `json:"data"`
		}
		if err := json.Unmarshal(w.Body.Bytes(), &env); err != nil {
			t.Fatalf("failed to decode response: %v", err)
		}
		if env.Data.Found || env.Data.Name != "" {
			t.Errorf("unexpected response: %+v", env.Data)
		}
	})

	t.Run("missing number", func(t *testing.T) {
		w := getCnam(srv, "acct-key", "")
		if w.Code != http.StatusBadRequest {
			t.Fatalf("expected status 400, got %d: %s", w.Code, w.Body.String())
		}
	})

	t.Run("requires account key", func(t *testing.T) {
		w := getCnam(srv, "", "%2B14155550100")
		if w.Code != http.StatusUnauthorized {
			t.Fatalf("expected status 401, got %d: %s", w.Code, w.Body.String())
		}
	})

	t.Run("directory error", func(t *testing.T) {
		errSrv := NewServer(Options{
			Accounts: &mockAccountStore{account: activeAccount()},
			Cnam:     &mockDirectory{err: fmt.Errorf("query timeout")},
		})
		w := getCnam(errSrv, "acct-key", "%2B14155550100")
		if w.Code != http.StatusInternalServerError {
			t.Fatalf("expected status 500, got %d: %s", w.Code, w.Body.String())
		}
	})

	t.Run("not configured", func(t *testing.T) {
		noSrv := NewServer(Options{Accounts: &mockAccountStore{account: activeAccount()}})
		w := getCnam(noSrv, "acct-key", "%2B14155550100")
		if w.Code != http.StatusServiceUnavailable {
			t.Fatalf("expected status 503, got %d: %s", w.Code, w.Body.String())
		}
	})
}

func TestTruncateKey(t *testing.T) {
	tests := []struct {
		input string
		want  string
	}{
		{"", ""},
		{"short", "short"},
		{"12345678", "12345678"},
		{"123456789", "12345678..."},
		{"abcdefghijklmnop", "abcdefgh..."},
	}

	for _, tt := range tests {
		got := truncateKey(tt.input)
		if got != tt.want {
			t.Errorf("truncateKey(%q) = %q, want %q", tt.input, got, tt.want)
		}
	}
}
