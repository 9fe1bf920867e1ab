// Package state holds the scheduler's durable bookkeeping: one shuffle bag
// and one cooldown record per lane, persisted together as a single JSON
// file. The byte format round-trips every field but is not a compatibility
// contract.
package state

import "time"

// Bag is the per-lane shuffle bag: the item IDs from the most recently seen
// eligible pool that have not yet been returned in the current cycle. The
// order is the cycle's fixed permutation; draws consume from the front.
type Bag struct {
	Remaining []int64 `json:"remaining"`
}

// Cooldown records when a lane last executed a real action. A gated or
// empty-pool run never touches it.
type Cooldown struct {
	LastRunAt time.Time `json:"last_run_at"`
}

// State aggregates all lanes' bags and cooldowns, keyed by lane key
// (e.g. "movie/search"). It is owned by the Store; other components only
// see it inside View/Update callbacks.
type State struct {
	Bags      map[string]*Bag     `json:"bags"`
	Cooldowns map[string]Cooldown `json:"cooldowns"`
}

func New() *State {
	return &State{
		Bags:      map[string]*Bag{},
		Cooldowns: map[string]Cooldown{},
	}
}

// normalize repairs nil maps and nil bags after a load, so callers never
// have to nil-check.
func (s *State) normalize() {
	if s.Bags == nil {
		s.Bags = map[string]*Bag{}
	}
	if s.Cooldowns == nil {
		s.Cooldowns = map[string]Cooldown{}
	}
	for k, b := range s.Bags {
		if b == nil {
			s.Bags[k] = &Bag{}
		}
	}
}

// BagFor returns the lane's bag, creating it lazily.
func (s *State) BagFor(key string) *Bag {
	b, ok := s.Bags[key]
	if !ok || b == nil {
		b = &Bag{}
		s.Bags[key] = b
	}
	return b
}

// CooldownFor returns the lane's cooldown record (zero value if never run).
func (s *State) CooldownFor(key string) Cooldown {
	return s.Cooldowns[key]
}

func (s *State) SetLastRun(key string, at time.Time) {
	s.Cooldowns[key] = Cooldown{LastRunAt: at}
}
