package models

import "time"

// Setting represents a key-value configuration entry.
type Setting struct {
	ID        int64
	Key       string
	Value     string
	UpdatedAt time.Time
}

// Contact represents an address-book entry.
type Contact struct {
	ID     int64
	Name   string
	Number string
	// NormalizedNumber is the digits-only form used to match incoming
	// callers.
	NormalizedNumber string
	Label            string // "mobile" | "home" | "work" | ""
	Starred          bool
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// CallHistoryEntry represents one completed call.
type CallHistoryEntry struct {
	ID           int64
	CallID       string
	Phone        string // driver name the call ran on
	Direction    string // "incoming" | "outgoing"
	Number       string
	Name         string
	Presentation string
	StartTime    time.Time
	AnswerTime   *time.Time
	EndTime      time.Time
	Duration     int // connected seconds
	Cause        string
	Missed       bool
	CreatedAt    time.Time
}

// PairedDevice represents a companion app paired with this daemon.
type PairedDevice struct {
	ID         int64
	Name       string
	Platform   string // "android" | "ios" | "web"
	PushToken  string
	SecretHash string // hashed pairing secret
	LastSeenAt *time.Time
	CreatedAt  time.Time
}
