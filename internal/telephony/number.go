package telephony

import "strings"

// URI schemes accepted in dial targets.
const (
	SchemeTel       = "tel"
	SchemeSIP       = "sip"
	SchemeVoicemail = "voicemail"
)

// Number is a parsed dial target: an optional scheme plus the
// scheme-specific part.
type Number struct {
	Raw     string
	Scheme  string // "" for a bare number
	Address string
}

// ParseNumber splits an optional scheme prefix off a dial target. Bare
// targets parse with an empty scheme, and whitespace is trimmed.
func ParseNumber(raw string) Number {
	trimmed := strings.TrimSpace(raw)
	n := Number{Raw: raw, Address: trimmed}

	i := strings.Index(trimmed, ":")
	if i <= 0 {
		return n
	}
	scheme := strings.ToLower(trimmed[:i])
	switch scheme {
	case SchemeTel, SchemeSIP, SchemeVoicemail:
		n.Scheme = scheme
		n.Address = trimmed[i+1:]
	}
	return n
}

// IsEmpty reports whether no dialable address was supplied.
func (n Number) IsEmpty() bool {
	return n.Address == ""
}

// IsServiceAddress reports whether the target names a software-address
// phone. Service addresses pass through to the driver verbatim.
func (n Number) IsServiceAddress() bool {
	return n.Scheme == SchemeSIP
}

// IsVoicemail reports whether the target uses the voicemail scheme.
func (n Number) IsVoicemail() bool {
	return n.Scheme == SchemeVoicemail
}

// defaultEmergencyNumbers are always treated as emergency regardless of
// configuration.
var defaultEmergencyNumbers = []string{"911", "112", "999", "000", "110", "118", "119", "08"}

// IsEmergencyNumber reports whether the address is an emergency number,
// checking the built-in list plus any configured extras. Service addresses
// are never emergency numbers.
func IsEmergencyNumber(address string, extra []string) bool {
	digits := NetworkPortion(address)
	if digits == "" {
		return false
	}
	for _, e := range defaultEmergencyNumbers {
		if digits == e {
			return true
		}
	}
	for _, e := range extra {
		if e != "" && digits == NetworkPortion(e) {
			return true
		}
	}
	return false
}

// IsActivationCode reports whether the address matches a configured
// carrier-activation (provisioning) code. Codes match on the full network
// portion or as a prefix ending before further digits, so "*228" matches
// "*22899".
func IsActivationCode(address string, codes []string) bool {
	digits := NetworkPortion(address)
	if digits == "" {
		return false
	}
	for _, code := range codes {
		c := NetworkPortion(code)
		if c == "" {
			continue
		}
		if digits == c || strings.HasPrefix(digits, c) {
			return true
		}
	}
	return false
}

// SplitPostDial separates the dialable network portion from trailing
// post-dial pause (',') and wait (';') segments. The post-dial part keeps
// its control characters.
func SplitPostDial(address string) (dialable, postDial string) {
	i := strings.IndexAny(address, ",;")
	if i < 0 {
		return address, ""
	}
	return address[:i], address[i:]
}

// NetworkPortion strips separators from a number, keeping digits, '+',
// '*', and '#'. Post-dial segments are removed first.
func NetworkPortion(address string) string {
	dialable, _ := SplitPostDial(address)
	var b strings.Builder
	for _, r := range dialable {
		switch {
		case r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == '+' || r == '*' || r == '#':
			b.WriteRune(r)
		}
	}
	return b.String()
}
