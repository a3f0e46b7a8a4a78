package callerinfo

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/dialcore/dialcore/internal/telephony"
)

// lookupTimeout bounds one background resolution.
const lookupTimeout = 5 * time.Second

type slotState int

const (
	slotUnresolved slotState = iota
	slotPending
	slotResolved
)

// slot is the per-connection identity state: unresolved, pending with an
// in-flight token and waiting listeners, or resolved.
type slot struct {
	state     slotState
	token     string
	listeners []func(Info)
	info      Info
}

// Resolver owns the identity slots of all live connections. Resolve, Peek,
// and Release run on the engine dispatch queue; the lookup itself runs on
// its own goroutine and hands its result back through the runner before
// touching the slot.
type Resolver struct {
	lookup Lookup
	run    telephony.Runner

	slots  map[string]*slot
	logger *slog.Logger
}

// NewResolver creates a resolver using the given lookup chain and queue
// runner.
func NewResolver(lookup Lookup, run telephony.Runner) *Resolver {
	return &Resolver{
		lookup: lookup,
		run:    run,
		slots:  make(map[string]*slot),
		logger: slog.Default().With("component", "callerinfo"),
	}
}

// Resolve starts or joins resolution for the connection. The listener
// fires exactly once on the dispatch queue with the final info; a listener
// registered after resolution fires immediately. A connection with no
// usable address resolves on the spot from network-supplied data.
func (r *Resolver) Resolve(conn *telephony.Connection, listener func(Info)) {
	s := r.slots[conn.ID]
	if s == nil {
		s = &slot{}
		r.slots[conn.ID] = s
	}

	switch s.state {
	case slotResolved:
		if listener != nil {
			listener(s.info)
		}
		return
	case slotPending:
		if listener != nil {
			s.listeners = append(s.listeners, listener)
		}
		return
	}

	number := telephony.NetworkPortion(conn.Address)
	if number == "" || conn.Presentation != telephony.PresentationAllowed {
		// Nothing to look up: final immediately with what the network gave.
		r.finish(conn.ID, s, networkInfo(conn))
		if listener != nil {
			listener(s.info)
		}
		return
	}

	s.state = slotPending
	s.token = uuid.NewString()
	if listener != nil {
		s.listeners = append(s.listeners, listener)
	}

	go r.doLookup(conn.ID, s.token, number, networkInfo(conn))
}

// Peek returns the resolved info without starting anything.
func (r *Resolver) Peek(connID string) (Info, bool) {
	if s, ok := r.slots[connID]; ok && s.state == slotResolved {
		return s.info, true
	}
	return Info{}, false
}

// Release drops the connection's slot. An in-flight lookup completing
// afterwards is stale and discarded.
func (r *Resolver) Release(connID string) {
	delete(r.slots, connID)
}

// PendingCount returns the number of in-flight lookups.
func (r *Resolver) PendingCount() int {
	n := 0
	for _, s := range r.slots {
		if s.state == slotPending {
			n++
		}
	}
	return n
}

// doLookup runs off-queue and posts its completion back to the queue.
func (r *Resolver) doLookup(connID, token, number string, fallback Info) {
	ctx, cancel := context.WithTimeout(context.Background(), lookupTimeout)
	defer cancel()

	info, err := r.lookup.Lookup(ctx, number)
	if err != nil {
		r.logger.Debug("identity lookup failed", "number", number, "error", err)
	}

	r.run(func() {
		s, ok := r.slots[connID]
		if !ok || s.state != slotPending || s.token != token {
			// The connection went away or a newer resolution owns the slot.
			return
		}
		if info == nil {
			// Miss: keep the network-supplied name and presentation the
			// lookup had no access to.
			r.finish(connID, s, fallback)
			return
		}
		resolved := *info
		resolved.Presentation = fallback.Presentation
		if resolved.Name == "" {
			resolved.Name = fallback.Name
		}
		if resolved.Number == "" {
			resolved.Number = number
		}
		r.finish(connID, s, resolved)
	})
}

func (r *Resolver) finish(connID string, s *slot, info Info) {
	s.state = slotResolved
	s.info = info
	s.token = ""

	listeners := s.listeners
	s.listeners = nil
	for _, l := range listeners {
		l(info)
	}
}

// networkInfo builds the fallback identity from network-supplied data.
func networkInfo(conn *telephony.Connection) Info {
	return Info{
		Name:         conn.CNAPName,
		Number:       conn.Address,
		Presentation: conn.Presentation,
		Source:       SourceNetwork,
	}
}
