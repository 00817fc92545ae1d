package ast

import (
	"fmt"
	"math/big"

	"hdlkit/internal/diag"
)

// Memory is an array of Depth words of Width bits. Ports onto it are created
// by the ir package.
type Memory struct {
	ID    MemoryID
	Name  string
	Width int
	Depth int
	Init  []*big.Int
	Attrs map[string]string
	Loc   diag.SrcLoc
}

// MemoryOption configures a new memory.
type MemoryOption func(*Memory)

// MemoryName sets the memory name.
func MemoryName(name string) MemoryOption {
	return func(m *Memory) { m.Name = name }
}

// MemoryInit sets the initial contents; missing words are zero.
func MemoryInit(words ...int64) MemoryOption {
	return func(m *Memory) {
		m.Init = m.Init[:0]
		for _, w := range words {
			m.Init = append(m.Init, big.NewInt(w))
		}
	}
}

// Memory allocates a memory.
func (a *Arena) Memory(width, depth int, opts ...MemoryOption) *Memory {
	loc := diag.Caller(1)
	if width < 0 {
		panic(&ShapeError{Msg: fmt.Sprintf("memory width must be a non-negative integer, not %d", width), Loc: loc})
	}
	if depth < 0 {
		panic(&ShapeError{Msg: fmt.Sprintf("memory depth must be a non-negative integer, not %d", depth), Loc: loc})
	}
	m := &Memory{ID: a.allocMemory(), Name: "$memory", Width: width, Depth: depth, Loc: loc}
	for _, opt := range opts {
		opt(m)
	}
	if len(m.Init) > depth {
		panic(&ShapeError{Msg: fmt.Sprintf("memory initialization value count exceeds memory depth (%d > %d)", len(m.Init), depth), Loc: loc})
	}
	for i, w := range m.Init {
		m.Init[i] = normalize(w, Unsigned(width))
	}
	return m
}

// InitWord returns the initial value of word i.
func (m *Memory) InitWord(i int) *big.Int {
	if i < len(m.Init) {
		return new(big.Int).Set(m.Init[i])
	}
	return new(big.Int)
}

func (m *Memory) String() string {
	return fmt.Sprintf("(memory %s %dx%d)", m.Name, m.Depth, m.Width)
}
