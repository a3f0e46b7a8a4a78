package telephony

import (
	"time"

	"github.com/google/uuid"
)

// Connection is one party within a Call. The Address is always the number
// the user dialed or the network presented; when a call is routed through a
// gateway the network dial string lives in DialString and the two are never
// conflated.
type Connection struct {
	ID           string
	Address      string
	DialString   string // network dial string when gateway-routed, else ""
	CNAPName     string // network-supplied caller name, may be empty
	Presentation Presentation

	Incoming       bool
	GatewayRouted  bool
	ActivationCall bool   // carrier provisioning flow
	PostDial       string // trailing pause/wait digits stripped before dialing

	CreateTime     time.Time
	ConnectTime    time.Time // zero until answered
	DisconnectTime time.Time // zero until disconnected
	Cause          DisconnectCause
}

// NewConnection creates a connection for the given user-facing address.
func NewConnection(address string) *Connection {
	return &Connection{
		ID:         uuid.NewString(),
		Address:    address,
		CreateTime: time.Now(),
	}
}

// Disconnected reports whether the connection has ended.
func (c *Connection) Disconnected() bool {
	return c.Cause != CauseNotDisconnected
}

// Duration returns the connected time, zero if never answered.
func (c *Connection) Duration() time.Duration {
	if c.ConnectTime.IsZero() {
		return 0
	}
	end := c.DisconnectTime
	if end.IsZero() {
		end = time.Now()
	}
	return end.Sub(c.ConnectTime)
}

// Call is the aggregate of connections occupying one of a phone's three
// slots. Drivers mutate it only from the engine dispatch queue.
type Call struct {
	ID          string
	State       CallState
	Connections []*Connection

	phone Phone
}

// NewCall creates an idle call bound to its owning phone.
func NewCall(p Phone) *Call {
	return &Call{
		ID:    uuid.NewString(),
		State: CallIdle,
		phone: p,
	}
}

// Phone returns the phone owning this call's slot.
func (c *Call) Phone() Phone {
	return c.phone
}

// IsIdle reports whether the slot is free.
func (c *Call) IsIdle() bool {
	return !c.State.IsAlive()
}

// AddConnection appends a connection to the call.
func (c *Call) AddConnection(conn *Connection) {
	c.Connections = append(c.Connections, conn)
}

// RemoveConnection drops the connection with the given ID, if present.
func (c *Call) RemoveConnection(id string) {
	for i, conn := range c.Connections {
		if conn.ID == id {
			c.Connections = append(c.Connections[:i], c.Connections[i+1:]...)
			return
		}
	}
}

// EarliestConnection returns the connection with the oldest create time,
// nil for an empty call.
func (c *Call) EarliestConnection() *Connection {
	var earliest *Connection
	for _, conn := range c.Connections {
		if earliest == nil || conn.CreateTime.Before(earliest.CreateTime) {
			earliest = conn
		}
	}
	return earliest
}

// LatestConnection returns the most recently created connection, nil for an
// empty call.
func (c *Call) LatestConnection() *Connection {
	var latest *Connection
	for _, conn := range c.Connections {
		if latest == nil || !conn.CreateTime.Before(latest.CreateTime) {
			latest = conn
		}
	}
	return latest
}

// ConnectionIDs returns the IDs of all connections on the call.
func (c *Call) ConnectionIDs() []string {
	ids := make([]string, len(c.Connections))
	for i, conn := range c.Connections {
		ids[i] = conn.ID
	}
	return ids
}

// IsMultiparty reports whether more than one connection shares the call.
func (c *Call) IsMultiparty() bool {
	return len(c.Connections) > 1
}

// Reset returns the slot to idle with no connections and a fresh ID, ready
// for reuse.
func (c *Call) Reset() {
	c.ID = uuid.NewString()
	c.State = CallIdle
	c.Connections = nil
}
