package ast

import "sync"

// SignalID identifies a signal within its arena. Zero is never assigned.
type SignalID uint32

// DomainID identifies a clock domain record within its arena.
type DomainID uint32

// MemoryID identifies a memory within its arena.
type MemoryID uint32

// Arena allocates the identities of signals, clock domains and memories.
// Ids are only meaningful within one arena; signal keys carry the arena so
// signals from different arenas never collide.
type Arena struct {
	mu         sync.Mutex
	nextSignal SignalID
	nextDomain DomainID
	nextMemory MemoryID
	signals    []*Signal
}

// NewArena returns an empty arena.
func NewArena() *Arena {
	return &Arena{}
}

func (a *Arena) allocSignal(s *Signal) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.nextSignal++
	s.id = a.nextSignal
	s.arena = a
	a.signals = append(a.signals, s)
}

func (a *Arena) allocDomain() DomainID {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.nextDomain++
	return a.nextDomain
}

func (a *Arena) allocMemory() MemoryID {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.nextMemory++
	return a.nextMemory
}

// Lookup returns the signal with the given id, or nil.
func (a *Arena) Lookup(id SignalID) *Signal {
	a.mu.Lock()
	defer a.mu.Unlock()
	if id == 0 || int(id) > len(a.signals) {
		return nil
	}
	return a.signals[id-1]
}

// Len returns the number of signals allocated so far.
func (a *Arena) Len() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.signals)
}
