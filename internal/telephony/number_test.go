package telephony

import "testing"

func TestParseNumber(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		scheme  string
		address string
	}{
		{"bare number", "5551234", "", "5551234"},
		{"tel scheme", "tel:5551234", "tel", "5551234"},
		{"sip scheme", "sip:alice@example.com", "sip", "alice@example.com"},
		{"voicemail scheme", "voicemail:", "voicemail", ""},
		{"unknown scheme kept in address", "mailto:a@b", "", "mailto:a@b"},
		{"whitespace trimmed", "  tel:5551234 ", "tel", "5551234"},
		{"empty", "", "", ""},
		{"star code", "*228", "", "*228"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			n := ParseNumber(tt.raw)
			if n.Scheme != tt.scheme {
				t.Errorf("scheme = %q, want %q", n.Scheme, tt.scheme)
			}
			if n.Address != tt.address {
				t.Errorf("address = %q, want %q", n.Address, tt.address)
			}
		})
	}
}

func TestIsEmergencyNumber(t *testing.T) {
	tests := []struct {
		name    string
		address string
		extra   []string
		want    bool
	}{
		{"911", "911", nil, true},
		{"112", "112", nil, true},
		{"911 with separators", "9-1-1", nil, true},
		{"ordinary number", "5551234", nil, false},
		{"prefix is not a match", "9112", nil, false},
		{"configured extra", "117", []string{"117"}, true},
		{"empty", "", nil, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsEmergencyNumber(tt.address, tt.extra); got != tt.want {
				t.Errorf("IsEmergencyNumber(%q) = %v, want %v", tt.address, got, tt.want)
			}
		})
	}
}

func TestIsActivationCode(t *testing.T) {
	codes := []string{"*228"}

	tests := []struct {
		name    string
		address string
		want    bool
	}{
		{"exact", "*228", true},
		{"carrier suffix", "*22899", true},
		{"other star code", "*72", false},
		{"plain number", "2285551234", false},
		{"empty", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsActivationCode(tt.address, codes); got != tt.want {
				t.Errorf("IsActivationCode(%q) = %v, want %v", tt.address, got, tt.want)
			}
		})
	}
}

func TestSplitPostDial(t *testing.T) {
	tests := []struct {
		name     string
		address  string
		dialable string
		postDial string
	}{
		{"no post dial", "5551234", "5551234", ""},
		{"pause", "5551234,123", "5551234", ",123"},
		{"wait", "5551234;123", "5551234", ";123"},
		{"mixed", "5551234,1;2", "5551234", ",1;2"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d, p := SplitPostDial(tt.address)
			if d != tt.dialable || p != tt.postDial {
				t.Errorf("SplitPostDial(%q) = (%q, %q), want (%q, %q)",
					tt.address, d, p, tt.dialable, tt.postDial)
			}
		})
	}
}

func TestNetworkPortion(t *testing.T) {
	tests := []struct {
		name    string
		address string
		want    string
	}{
		{"digits kept", "555 123-4", "5551234"},
		{"plus and star kept", "+1 (555) *#", "+1555*#"},
		{"post dial stripped", "5551234,99", "5551234"},
		{"letters dropped", "1800CALLME", "1800"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := NetworkPortion(tt.address); got != tt.want {
				t.Errorf("NetworkPortion(%q) = %q, want %q", tt.address, got, tt.want)
			}
		})
	}
}
