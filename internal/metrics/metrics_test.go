package metrics

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/dialcore/dialcore/internal/engine"
)

type fakeEngine struct {
	stats engine.Stats
	view  engine.StateView
}

func (f *fakeEngine) Stats() engine.Stats { return f.stats }
func (f *fakeEngine) State() (engine.StateView, error) {
	return f.view, nil
}

type fakeHistory struct {
	byDirection map[string]int64
	missed      int64
}

func (f *fakeHistory) CountByDirection(_ context.Context, direction string) (int64, error) {
	return f.byDirection[direction], nil
}

func (f *fakeHistory) CountMissed(context.Context) (int64, error) {
	return f.missed, nil
}

type fakeDevices struct {
	count int64
}

func (f *fakeDevices) Count(context.Context) (int64, error) { return f.count, nil }

func TestCollectorScrape(t *testing.T) {
	calls := &fakeEngine{
		stats: engine.Stats{
			PlaceCallOutcomes: map[string]uint64{"success": 7, "out_of_service": 2},
			MmiOutcomes:       map[string]uint64{"complete": 3},
		},
		view: engine.StateView{
			Phones: []engine.PhoneView{
				{Name: "gsm0", Tech: "gsm", Service: "in_service"},
			},
			Calls: []engine.CallView{
				{Slot: "foreground", Phone: "gsm0", State: "active"},
			},
		},
	}
	history := &fakeHistory{
		byDirection: map[string]int64{"incoming": 12, "outgoing": 5},
		missed:      4,
	}
	devices := &fakeDevices{count: 2}

	collector := NewCollector(calls, history, devices, time.Now().Add(-time.Minute))
	handler, err := Handler(collector)
	if err != nil {
		t.Fatalf("creating handler: %v", err)
	}

	req := httptest.NewRequest("GET", "/metrics", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != 200 {
		t.Fatalf("got %d, want 200", rec.Code)
	}
	body := rec.Body.String()

	expected := []string{
		`dialcore_place_call_attempts_total{status="success"} 7`,
		`dialcore_place_call_attempts_total{status="out_of_service"} 2`,
		`dialcore_mmi_sessions_total{state="complete"} 3`,
		`dialcore_active_calls 1`,
		`dialcore_phone_service{phone="gsm0",service="in_service",tech="gsm"} 1`,
		`dialcore_calls_total{direction="incoming"} 12`,
		`dialcore_calls_total{direction="outgoing"} 5`,
		`dialcore_missed_calls_total 4`,
		`dialcore_paired_devices 2`,
		`dialcore_uptime_seconds`,
	}
	for _, want := range expected {
		if !strings.Contains(body, want) {
			t.Errorf("scrape output missing %q", want)
		}
	}
}

func TestCollectorNilProviders(t *testing.T) {
	collector := NewCollector(nil, nil, nil, time.Now())
	handler, err := Handler(collector)
	if err != nil {
		t.Fatalf("creating handler: %v", err)
	}

	req := httptest.NewRequest("GET", "/metrics", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != 200 {
		t.Fatalf("got %d, want 200", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "dialcore_uptime_seconds") {
		t.Error("uptime metric missing with nil providers")
	}
}
