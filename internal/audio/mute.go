package audio

import "log/slog"

// MuteTable tracks the mute flag per connection. Entries are created
// lazily on first set and pruned whenever slot membership changes, which
// cleans conference members promptly instead of waiting on disconnect
// events.
type MuteTable struct {
	entries map[string]bool

	logger *slog.Logger
}

// NewMuteTable creates an empty table.
func NewMuteTable() *MuteTable {
	return &MuteTable{
		entries: make(map[string]bool),
		logger:  slog.Default().With("component", "audio"),
	}
}

// Set stores the mute flag for a connection, creating the entry if needed.
func (t *MuteTable) Set(connID string, muted bool) {
	t.entries[connID] = muted
}

// Get returns the stored flag. A missing entry defaults to unmuted; that
// is logged, never an error.
func (t *MuteTable) Get(connID string) bool {
	muted, ok := t.entries[connID]
	if !ok {
		t.logger.Debug("no mute entry for connection, defaulting to unmuted", "connection_id", connID)
		return false
	}
	return muted
}

// Has reports whether the connection has an entry.
func (t *MuteTable) Has(connID string) bool {
	_, ok := t.entries[connID]
	return ok
}

// Prune drops every entry whose connection is not in the current
// foreground/background membership set.
func (t *MuteTable) Prune(memberIDs []string) {
	members := make(map[string]bool, len(memberIDs))
	for _, id := range memberIDs {
		members[id] = true
	}
	for id := range t.entries {
		if !members[id] {
			delete(t.entries, id)
		}
	}
}

// Len returns the number of entries.
func (t *MuteTable) Len() int {
	return len(t.entries)
}
