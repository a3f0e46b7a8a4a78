package telephony

import (
	"testing"
	"time"
)

func TestCallStateHelpers(t *testing.T) {
	tests := []struct {
		state   CallState
		alive   bool
		ringing bool
		dialing bool
	}{
		{CallIdle, false, false, false},
		{CallActive, true, false, false},
		{CallHolding, true, false, false},
		{CallDialing, true, false, true},
		{CallAlerting, true, false, true},
		{CallIncoming, true, true, false},
		{CallWaiting, true, true, false},
		{CallDisconnecting, false, false, false},
		{CallDisconnected, false, false, false},
	}

	for _, tt := range tests {
		t.Run(tt.state.String(), func(t *testing.T) {
			if got := tt.state.IsAlive(); got != tt.alive {
				t.Errorf("IsAlive = %v, want %v", got, tt.alive)
			}
			if got := tt.state.IsRinging(); got != tt.ringing {
				t.Errorf("IsRinging = %v, want %v", got, tt.ringing)
			}
			if got := tt.state.IsDialing(); got != tt.dialing {
				t.Errorf("IsDialing = %v, want %v", got, tt.dialing)
			}
		})
	}
}

func TestCallConnectionOrdering(t *testing.T) {
	call := NewCall(nil)

	first := NewConnection("1001")
	first.CreateTime = time.Date(2026, 1, 1, 10, 0, 0, 0, time.UTC)
	second := NewConnection("1002")
	second.CreateTime = first.CreateTime.Add(time.Minute)
	third := NewConnection("1003")
	third.CreateTime = first.CreateTime.Add(2 * time.Minute)

	call.AddConnection(second)
	call.AddConnection(third)
	call.AddConnection(first)

	if got := call.EarliestConnection(); got != first {
		t.Errorf("EarliestConnection = %v, want %v", got, first)
	}
	if got := call.LatestConnection(); got != third {
		t.Errorf("LatestConnection = %v, want %v", got, third)
	}
}

func TestCallRemoveConnection(t *testing.T) {
	call := NewCall(nil)
	a := NewConnection("1001")
	b := NewConnection("1002")
	call.AddConnection(a)
	call.AddConnection(b)

	call.RemoveConnection(a.ID)
	if len(call.Connections) != 1 || call.Connections[0] != b {
		t.Fatalf("after remove: %d connections, want only %q", len(call.Connections), b.Address)
	}

	// Removing an unknown ID leaves the call untouched.
	call.RemoveConnection("nope")
	if len(call.Connections) != 1 {
		t.Fatalf("remove of unknown ID changed the call")
	}
}

func TestCallReset(t *testing.T) {
	call := NewCall(nil)
	call.State = CallActive
	call.AddConnection(NewConnection("1001"))
	oldID := call.ID

	call.Reset()

	if !call.IsIdle() {
		t.Errorf("state after reset = %v, want idle", call.State)
	}
	if len(call.Connections) != 0 {
		t.Errorf("connections after reset = %d, want 0", len(call.Connections))
	}
	if call.ID == oldID {
		t.Errorf("reset kept the old call ID")
	}
}

func TestConnectionDuration(t *testing.T) {
	conn := NewConnection("5551234")
	if d := conn.Duration(); d != 0 {
		t.Errorf("unanswered duration = %v, want 0", d)
	}

	conn.ConnectTime = time.Date(2026, 1, 1, 10, 0, 0, 0, time.UTC)
	conn.DisconnectTime = conn.ConnectTime.Add(90 * time.Second)
	if d := conn.Duration(); d != 90*time.Second {
		t.Errorf("duration = %v, want 90s", d)
	}
}
