package push

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/dialcore/dialcore/internal/database/models"
	"github.com/dialcore/dialcore/internal/engine"
)

type fakeDeviceLister struct {
	devices []models.PairedDevice
}

func (f *fakeDeviceLister) List(context.Context) ([]models.PairedDevice, error) {
	return f.devices, nil
}

// wakeRecorder collects wake requests hitting a fake gateway.
type wakeRecorder struct {
	mu   sync.Mutex
	reqs []WakeRequest
}

func (r *wakeRecorder) serve(w http.ResponseWriter, req *http.Request) {
	var wake WakeRequest
	json.NewDecoder(req.Body).Decode(&wake)
	r.mu.Lock()
	r.reqs = append(r.reqs, wake)
	r.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(envelope{
		Data: json.RawMessage(`{"delivered":true,"call_id":"` + wake.CallID + `"}`),
	})
}

func (r *wakeRecorder) requests() []WakeRequest {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]WakeRequest(nil), r.reqs...)
}

func TestNotifierWakesOnRinging(t *testing.T) {
	rec := &wakeRecorder{}
	srv := httptest.NewServer(http.HandlerFunc(rec.serve))
	defer srv.Close()

	devices := &fakeDeviceLister{devices: []models.PairedDevice{
		{Name: "pixel", Platform: "android", PushToken: "fcm-tok"},
		{Name: "iphone", Platform: "ios", PushToken: "apns-tok"},
		{Name: "browser", Platform: "web"},
		{Name: "tablet", Platform: "android"}, // never registered a token
	}}
	n := NewNotifier(NewClient(srv.URL, "acct"), devices)

	events := make(chan engine.Event, 4)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		n.Run(ctx, events)
		close(done)
	}()

	events <- engine.Event{
		Kind:         engine.EventRinging,
		ConnectionID: "conn-1",
		Number:       "5551234",
		Name:         "Alice",
	}
	close(events)
	<-done
	cancel()

	reqs := rec.requests()
	if len(reqs) != 2 {
		t.Fatalf("got %d wake requests, want 2 (web and tokenless devices skipped)", len(reqs))
	}
	platforms := map[string]bool{}
	for _, r := range reqs {
		platforms[r.PushPlatform] = true
		if r.Event != "ringing" {
			t.Errorf("event = %q, want ringing", r.Event)
		}
		if r.CallerID != "5551234" || r.CallerName != "Alice" {
			t.Errorf("caller = %q / %q", r.CallerID, r.CallerName)
		}
		if r.CallID != "conn-1" {
			t.Errorf("call_id = %q", r.CallID)
		}
	}
	if !platforms["fcm"] || !platforms["apns"] {
		t.Errorf("platforms woken: %v", platforms)
	}
}

func TestNotifierWakesOnMissedOnly(t *testing.T) {
	rec := &wakeRecorder{}
	srv := httptest.NewServer(http.HandlerFunc(rec.serve))
	defer srv.Close()

	devices := &fakeDeviceLister{devices: []models.PairedDevice{
		{Name: "pixel", Platform: "android", PushToken: "fcm-tok"},
	}}
	n := NewNotifier(NewClient(srv.URL, "acct"), devices)

	events := make(chan engine.Event, 4)
	done := make(chan struct{})
	go func() {
		n.Run(context.Background(), events)
		close(done)
	}()

	// Answered disconnects and state churn never wake anyone.
	events <- engine.Event{Kind: engine.EventCallState}
	events <- engine.Event{Kind: engine.EventDisconnect, ConnectionID: "conn-a", Cause: "remote_hangup"}
	events <- engine.Event{Kind: engine.EventDisconnect, ConnectionID: "conn-b", Number: "5556789", Cause: "missed", Missed: true}
	close(events)
	<-done

	reqs := rec.requests()
	if len(reqs) != 1 {
		t.Fatalf("got %d wake requests, want 1", len(reqs))
	}
	if reqs[0].Event != "missed" || reqs[0].CallID != "conn-b" {
		t.Errorf("wake = %+v", reqs[0])
	}
}

func TestNotifierUnconfiguredClientStaysQuiet(t *testing.T) {
	devices := &fakeDeviceLister{devices: []models.PairedDevice{
		{Name: "pixel", Platform: "android", PushToken: "fcm-tok"},
	}}
	n := NewNotifier(NewClient("", ""), devices)

	events := make(chan engine.Event, 1)
	done := make(chan struct{})
	go func() {
		n.Run(context.Background(), events)
		close(done)
	}()

	events <- engine.Event{Kind: engine.EventRinging, ConnectionID: "conn-1"}
	close(events)

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("notifier did not drain events")
	}
}

func TestNotifierStopsOnContextCancel(t *testing.T) {
	n := NewNotifier(NewClient("", ""), &fakeDeviceLister{})
	events := make(chan engine.Event)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		n.Run(ctx, events)
		close(done)
	}()

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("notifier did not stop on cancel")
	}
}
