package api

import (
	"strings"
	"unicode/utf8"
)

// maxNameLen is the maximum length for name fields (contacts, devices).
const maxNameLen = 200

// maxDialStringLen is the maximum length for dial targets and gateway
// strings.
const maxDialStringLen = 80

// maxSecretLen is the maximum length for pairing secrets.
const maxSecretLen = 256

// maxUssdReplyLen is the maximum length for a USSD reply.
const maxUssdReplyLen = 160

// maxPushTokenLen is the maximum length for platform push tokens.
const maxPushTokenLen = 4096

// validateStringLen checks that a string does not exceed maxLen runes.
// Returns an error message if invalid, empty string if OK.
func validateStringLen(field, value string, maxLen int) string {
	if utf8.RuneCountInString(value) > maxLen {
		return field + " exceeds maximum length"
	}
	return ""
}

// validateRequiredStringLen checks that a non-empty string does not exceed
// maxLen runes.
func validateRequiredStringLen(field, value string, maxLen int) string {
	if value == "" {
		return field + " is required"
	}
	return validateStringLen(field, value, maxLen)
}

// validateDialTarget checks a dial target: required, bounded, and free of
// control characters. Scheme and digit validation belong to the engine.
func validateDialTarget(field, value string) string {
	if errMsg := validateRequiredStringLen(field, value, maxDialStringLen); errMsg != "" {
		return errMsg
	}
	return validateNoControlChars(field, value)
}

// dtmfDigits is the set of characters a DTMF string may contain.
const dtmfDigits = "0123456789*#ABCD"

// validateDTMFDigits checks a DTMF string: required and tone characters
// only.
func validateDTMFDigits(field, value string) string {
	if value == "" {
		return field + " is required"
	}
	for _, r := range value {
		if !strings.ContainsRune(dtmfDigits, r) {
			return field + " may only contain 0-9, *, #, and A-D"
		}
	}
	return ""
}

// isDialString reports whether every character is a plain dial character.
func isDialString(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		switch {
		case r >= '0' && r <= '9':
		case r == '+' || r == '*' || r == '#':
		default:
			return false
		}
	}
	return true
}

// validLabels are the accepted contact number labels.
var validLabels = map[string]bool{"": true, "mobile": true, "home": true, "work": true}

// validateContactLabel checks an optional contact label.
func validateContactLabel(field, value string) string {
	if !validLabels[value] {
		return field + " must be \"mobile\", \"home\", or \"work\""
	}
	return ""
}

// validPlatforms are the accepted paired-device platforms.
var validPlatforms = map[string]bool{"android": true, "ios": true, "web": true}

// validatePlatform checks a paired-device platform.
func validatePlatform(field, value string) string {
	if !validPlatforms[value] {
		return field + " must be \"android\", \"ios\", or \"web\""
	}
	return ""
}

// containsControlChars checks whether a string has control characters
// (except common whitespace like \n, \r, \t).
func containsControlChars(s string) bool {
	for _, r := range s {
		if r < 32 && r != '\n' && r != '\r' && r != '\t' {
			return true
		}
	}
	return false
}

// validateNoControlChars rejects strings with control characters.
func validateNoControlChars(field, value string) string {
	if containsControlChars(value) {
		return field + " contains invalid characters"
	}
	return ""
}
