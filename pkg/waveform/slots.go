package waveform

import (
	"errors"
	"fmt"
	"sync"
)

var ErrUnknownSlot = errors.New("unknown memory location")

// Slots maps each generator memory location to the record stored for it.
// Records are replaced wholesale, never edited through the map.
type Slots struct {
	mu        sync.RWMutex
	locations []string
	records   map[string]*Record
}

// NewSlots creates a placeholder record for every location.
func NewSlots(locations []string) *Slots {
	s := &Slots{
		locations: append([]string(nil), locations...),
		records:   make(map[string]*Record, len(locations)),
	}
	for _, loc := range locations {
		s.records[loc] = NewPlaceholder()
	}
	return s
}

// Locations returns the memory locations in the order the generator reports them.
func (s *Slots) Locations() []string {
	return append([]string(nil), s.locations...)
}

func (s *Slots) Get(slot string) (*Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.records[slot]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownSlot, slot)
	}
	return rec, nil
}

// Occupied reports whether slot holds a record loaded from a file.
func (s *Slots) Occupied(slot string) bool {
	rec, err := s.Get(slot)
	return err == nil && !rec.Empty()
}

// Commit stores rec in slot and returns the record it replaced.
func (s *Slots) Commit(slot string, rec *Record) (*Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	prev, ok := s.records[slot]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownSlot, slot)
	}
	s.records[slot] = rec
	return prev, nil
}
