package param

import (
	"fmt"
	"sync"
)

// ChangeFunc is notified after a settable parameter changed value.
// Spot-value updates do not notify.
type ChangeFunc func(id ID)

// Store holds the current value of every table entry. All values default to
// their compiled-in defaults until set or loaded from a parameter page.
type Store struct {
	mu       sync.Mutex
	values   [numParams]float64
	handlers []ChangeFunc
}

// NewStore returns a store initialized with table defaults.
func NewStore() *Store {
	s := &Store{}
	for i := ID(0); i < numParams; i++ {
		s.values[i] = table[i].Default
	}
	return s
}

// Subscribe appends a change handler. Handlers run synchronously on the
// setter's goroutine, in subscription order.
func (s *Store) Subscribe(fn ChangeFunc) {
	s.mu.Lock()
	s.handlers = append(s.handlers, fn)
	s.mu.Unlock()
}

// Get returns the raw value of id.
func (s *Store) Get(id ID) float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.values[id]
}

// GetInt returns the value of id rounded toward zero.
func (s *Store) GetInt(id ID) int {
	return int(s.Get(id))
}

// GetFloat returns the value of id.
func (s *Store) GetFloat(id ID) float64 {
	return s.Get(id)
}

// GetBool reports whether the value of id is nonzero.
func (s *Store) GetBool(id ID) bool {
	return s.Get(id) != 0
}

// Set stores v clamped to the entry's [min,max] and notifies subscribers.
// Spot values are stored verbatim without notification; the scheduler loop
// is their only writer.
func (s *Store) Set(id ID, v float64) {
	e := &table[id]
	if e.Kind == KindSpot {
		s.mu.Lock()
		s.values[id] = v
		s.mu.Unlock()
		return
	}

	if v < e.Min {
		v = e.Min
	} else if v > e.Max {
		v = e.Max
	}

	s.mu.Lock()
	changed := s.values[id] != v
	s.values[id] = v
	handlers := s.handlers
	s.mu.Unlock()

	if changed {
		for _, fn := range handlers {
			fn(id)
		}
	}
}

// SetInt is a convenience wrapper around Set.
func (s *Store) SetInt(id ID, v int) {
	s.Set(id, float64(v))
}

// SetFloat is a convenience wrapper around Set.
func (s *Store) SetFloat(id ID, v float64) {
	s.Set(id, v)
}

// SetByName resolves name and sets the value. Spot values are rejected,
// they cannot be edited from the outside.
func (s *Store) SetByName(name string, v float64) error {
	id, ok := ByName(name)
	if !ok {
		return fmt.Errorf("unknown parameter %q", name)
	}
	if table[id].Kind == KindSpot {
		return fmt.Errorf("parameter %q is a read-only spot value", name)
	}
	s.Set(id, v)
	return nil
}

// LoadDefaults resets every settable parameter to its compiled-in default.
// Spot values are untouched.
func (s *Store) LoadDefaults() {
	s.mu.Lock()
	for i := ID(0); i < numParams; i++ {
		if table[i].Kind != KindSpot {
			s.values[i] = table[i].Default
		}
	}
	s.mu.Unlock()
}
