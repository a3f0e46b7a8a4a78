package telephony

// CallManager aggregates every registered Phone and answers the
// cross-technology slot queries the engine uses, so routine lookups never
// branch on technology.
type CallManager struct {
	phones []Phone
	def    Phone
}

// NewCallManager creates a manager with the given default phone already
// registered. The default phone receives every dial that is not routed to
// a service-address phone.
func NewCallManager(def Phone) *CallManager {
	return &CallManager{
		phones: []Phone{def},
		def:    def,
	}
}

// Register adds a phone to the manager. Registering the default phone
// again is a no-op.
func (m *CallManager) Register(p Phone) {
	for _, existing := range m.phones {
		if existing == p {
			return
		}
	}
	m.phones = append(m.phones, p)
}

// Phones returns all registered phones in registration order.
func (m *CallManager) Phones() []Phone {
	return m.phones
}

// DefaultPhone returns the phone used for targets without a service
// address.
func (m *CallManager) DefaultPhone() Phone {
	return m.def
}

// PhoneFor selects the phone for a dial target: a service-address target
// routes to the first registered software-address phone, everything else
// to the default phone.
func (m *CallManager) PhoneFor(n Number) Phone {
	if n.IsServiceAddress() {
		for _, p := range m.phones {
			if p.Tech() == TechSIP {
				return p
			}
		}
	}
	return m.def
}

// RingingCall returns the first live ringing call across all phones, nil
// when nothing rings.
func (m *CallManager) RingingCall() *Call {
	for _, p := range m.phones {
		if c := p.RingingCall(); c != nil && c.State.IsRinging() {
			return c
		}
	}
	return nil
}

// ForegroundCall returns the first non-idle foreground call, nil when all
// foreground slots are idle.
func (m *CallManager) ForegroundCall() *Call {
	for _, p := range m.phones {
		if c := p.ForegroundCall(); c != nil && !c.IsIdle() {
			return c
		}
	}
	return nil
}

// BackgroundCall returns the first non-idle background call, nil when all
// background slots are idle.
func (m *CallManager) BackgroundCall() *Call {
	for _, p := range m.phones {
		if c := p.BackgroundCall(); c != nil && !c.IsIdle() {
			return c
		}
	}
	return nil
}

// HasRingingCall reports whether any phone has a live ringing call.
func (m *CallManager) HasRingingCall() bool {
	return m.RingingCall() != nil
}

// HasForegroundCall reports whether any phone has a live foreground call.
func (m *CallManager) HasForegroundCall() bool {
	return m.ForegroundCall() != nil
}

// HasBackgroundCall reports whether any phone has a live background call.
func (m *CallManager) HasBackgroundCall() bool {
	return m.BackgroundCall() != nil
}

// ForegroundPhone returns the phone owning the live foreground call,
// falling back to the default phone when nothing is up.
func (m *CallManager) ForegroundPhone() Phone {
	if c := m.ForegroundCall(); c != nil {
		return c.Phone()
	}
	return m.def
}

// Activity returns the overall activity across all phones. Ringing wins
// over offhook, offhook over idle.
func (m *CallManager) Activity() ActivityState {
	if m.HasRingingCall() {
		return ActivityRinging
	}
	if m.HasForegroundCall() || m.HasBackgroundCall() {
		return ActivityOffhook
	}
	return ActivityIdle
}

// SlotConnectionIDs returns the IDs of every connection currently on a
// foreground or background call of any phone. This is the membership set
// the mute table prunes against.
func (m *CallManager) SlotConnectionIDs() []string {
	var ids []string
	for _, p := range m.phones {
		for _, c := range []*Call{p.ForegroundCall(), p.BackgroundCall()} {
			if c == nil || c.IsIdle() {
				continue
			}
			ids = append(ids, c.ConnectionIDs()...)
		}
	}
	return ids
}
