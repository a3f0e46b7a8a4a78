// Package mmi parses dialed network-service codes and manages the
// lifecycle of the one outstanding MMI/USSD session.
package mmi

import (
	"regexp"
	"strings"
)

// Kind distinguishes structured MMI codes from free-form USSD requests.
type Kind int

const (
	// KindStructured is a full-syntax service code such as *#21# or **04*.
	KindStructured Kind = iota
	// KindUSSD is any other #-terminated string the network interprets as
	// an interactive session request.
	KindUSSD
)

// Action is the operation a structured code requests.
type Action int

const (
	ActionActivate Action = iota
	ActionDeactivate
	ActionInterrogate
	ActionRegister
	ActionErase
	ActionUnknown
)

// String returns the action name.
func (a Action) String() string {
	switch a {
	case ActionActivate:
		return "activate"
	case ActionDeactivate:
		return "deactivate"
	case ActionInterrogate:
		return "interrogate"
	case ActionRegister:
		return "register"
	case ActionErase:
		return "erase"
	default:
		return "unknown"
	}
}

// Code is one parsed network-service code.
type Code struct {
	Raw         string
	Kind        Kind
	Action      Action
	ServiceCode string   // structured codes only
	Fields      []string // supplementary information fields, structured only
}

// Cancelable reports whether an in-flight session for this code accepts a
// cancel request. Only interactive USSD sessions do.
func (c *Code) Cancelable() bool {
	return c.Kind == KindUSSD
}

// structuredRe matches the full MMI syntax:
// action, 2-3 digit service code, up to three *-separated fields, '#'.
var structuredRe = regexp.MustCompile(`^(\*\*|##|\*#|\*|#)(\d{2,3})(?:\*([^*#]*))?(?:\*([^*#]*))?(?:\*([^*#]*))?#$`)

// Parse interprets a dial string as a network-service code. It returns
// (nil, false) when the string is an ordinary number to be dialed.
func Parse(dial string) (*Code, bool) {
	s := strings.TrimSpace(dial)
	if s == "" {
		return nil, false
	}

	if m := structuredRe.FindStringSubmatch(s); m != nil {
		code := &Code{
			Raw:         s,
			Kind:        KindStructured,
			Action:      parseAction(m[1]),
			ServiceCode: m[2],
		}
		for _, f := range m[3:] {
			if f != "" {
				code.Fields = append(code.Fields, f)
			}
		}
		return code, true
	}

	// Anything else ending in '#' is handed to the network as USSD.
	if len(s) >= 2 && strings.HasSuffix(s, "#") {
		return &Code{Raw: s, Kind: KindUSSD, Action: ActionUnknown}, true
	}

	return nil, false
}

func parseAction(prefix string) Action {
	switch prefix {
	case "*":
		return ActionActivate
	case "#":
		return ActionDeactivate
	case "*#":
		return ActionInterrogate
	case "**":
		return ActionRegister
	case "##":
		return ActionErase
	default:
		return ActionUnknown
	}
}
