package engine

import "sync"

// Stats is a copy of the engine's counters for the metrics collector.
type Stats struct {
	// PlaceCallOutcomes counts finished place-call attempts by status name.
	PlaceCallOutcomes map[string]uint64
	// MmiOutcomes counts terminal MMI sessions by final state name.
	MmiOutcomes map[string]uint64
}

// engineStats has its own lock so the metrics scraper never touches the
// dispatch queue.
type engineStats struct {
	mu      sync.Mutex
	place   map[string]uint64
	mmiDone map[string]uint64
}

func (s *engineStats) notePlaceCall(st Status) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.place == nil {
		s.place = make(map[string]uint64)
	}
	s.place[st.String()]++
}

func (s *engineStats) noteMmi(state string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.mmiDone == nil {
		s.mmiDone = make(map[string]uint64)
	}
	s.mmiDone[state]++
}

// Stats returns a copy of the counters.
func (e *Engine) Stats() Stats {
	e.stats.mu.Lock()
	defer e.stats.mu.Unlock()
	out := Stats{
		PlaceCallOutcomes: make(map[string]uint64, len(e.stats.place)),
		MmiOutcomes:       make(map[string]uint64, len(e.stats.mmiDone)),
	}
	for k, v := range e.stats.place {
		out.PlaceCallOutcomes[k] = v
	}
	for k, v := range e.stats.mmiDone {
		out.MmiOutcomes[k] = v
	}
	return out
}
