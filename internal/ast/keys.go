package ast

import (
	"fmt"
	"iter"
	"strings"
)

type keyKind uint8

const (
	keySignal keyKind = iota
	keyClock
	keyReset
)

// SignalKey is the identity of a signal-like value: a concrete signal by its
// arena and id, or a clock/reset reference by its domain name.
type SignalKey struct {
	kind   keyKind
	arena  *Arena
	id     SignalID
	domain string
}

// KeyOf returns the identity of a signal-like value. It panics for any other
// kind of value.
func KeyOf(v Value) SignalKey {
	switch s := v.(type) {
	case *Signal:
		return SignalKey{kind: keySignal, arena: s.arena, id: s.id}
	case *ClockSignal:
		return SignalKey{kind: keyClock, domain: s.Domain}
	case *ResetSignal:
		return SignalKey{kind: keyReset, domain: s.Domain}
	default:
		panic(fmt.Sprintf("ast: object %s cannot be used as a signal key", v))
	}
}

// Less orders keys: concrete signals first by id, then clocks, then resets.
func (k SignalKey) Less(o SignalKey) bool {
	if k.kind != o.kind {
		return k.kind < o.kind
	}
	if k.id != o.id {
		return k.id < o.id
	}
	return k.domain < o.domain
}

// SignalSet is an insertion-ordered set of signal-like values.
type SignalSet struct {
	index map[SignalKey]int
	items []Value
}

// NewSignalSet returns a set holding signals.
func NewSignalSet(signals ...Value) *SignalSet {
	s := &SignalSet{index: make(map[SignalKey]int, len(signals))}
	for _, sig := range signals {
		s.Add(sig)
	}
	return s
}

// Add inserts v and reports whether it was absent.
func (s *SignalSet) Add(v Value) bool {
	k := KeyOf(v)
	if _, ok := s.index[k]; ok {
		return false
	}
	s.index[k] = len(s.items)
	s.items = append(s.items, v)
	return true
}

// AddAll inserts every member of o.
func (s *SignalSet) AddAll(o *SignalSet) {
	if o == nil {
		return
	}
	for _, v := range o.items {
		s.Add(v)
	}
}

// Has reports whether v is a member.
func (s *SignalSet) Has(v Value) bool {
	if s == nil {
		return false
	}
	_, ok := s.index[KeyOf(v)]
	return ok
}

// Remove deletes v and reports whether it was present.
func (s *SignalSet) Remove(v Value) bool {
	k := KeyOf(v)
	pos, ok := s.index[k]
	if !ok {
		return false
	}
	delete(s.index, k)
	s.items = append(s.items[:pos], s.items[pos+1:]...)
	for i := pos; i < len(s.items); i++ {
		s.index[KeyOf(s.items[i])] = i
	}
	return true
}

// Len returns the number of members.
func (s *SignalSet) Len() int {
	if s == nil {
		return 0
	}
	return len(s.items)
}

// Items returns the members in insertion order.
func (s *SignalSet) Items() []Value {
	if s == nil {
		return nil
	}
	out := make([]Value, len(s.items))
	copy(out, s.items)
	return out
}

// All iterates the members in insertion order.
func (s *SignalSet) All() iter.Seq[Value] {
	return func(yield func(Value) bool) {
		if s == nil {
			return
		}
		for _, v := range s.items {
			if !yield(v) {
				return
			}
		}
	}
}

// Signals returns the concrete signals among the members.
func (s *SignalSet) Signals() []*Signal {
	if s == nil {
		return nil
	}
	var out []*Signal
	for _, v := range s.items {
		if sig, ok := v.(*Signal); ok {
			out = append(out, sig)
		}
	}
	return out
}

// Clone returns an independent copy.
func (s *SignalSet) Clone() *SignalSet {
	out := NewSignalSet()
	out.AddAll(s)
	return out
}

// Union returns s ∪ o.
func (s *SignalSet) Union(o *SignalSet) *SignalSet {
	out := s.Clone()
	out.AddAll(o)
	return out
}

// Difference returns the members of s not in o.
func (s *SignalSet) Difference(o *SignalSet) *SignalSet {
	out := NewSignalSet()
	for v := range s.All() {
		if !o.Has(v) {
			out.Add(v)
		}
	}
	return out
}

// Intersection returns the members of s also in o.
func (s *SignalSet) Intersection(o *SignalSet) *SignalSet {
	out := NewSignalSet()
	for v := range s.All() {
		if o.Has(v) {
			out.Add(v)
		}
	}
	return out
}

func (s *SignalSet) String() string {
	parts := make([]string, 0, s.Len())
	for v := range s.All() {
		parts = append(parts, v.String())
	}
	return "{" + strings.Join(parts, ", ") + "}"
}

// SignalDict is an insertion-ordered map keyed by signal identity.
type SignalDict[T any] struct {
	index map[SignalKey]int
	keys  []Value
	vals  []T
}

// NewSignalDict returns an empty dict.
func NewSignalDict[T any]() *SignalDict[T] {
	return &SignalDict[T]{index: make(map[SignalKey]int)}
}

// Set stores val under k, keeping the original position of an existing key.
func (d *SignalDict[T]) Set(k Value, val T) {
	key := KeyOf(k)
	if pos, ok := d.index[key]; ok {
		d.vals[pos] = val
		return
	}
	d.index[key] = len(d.keys)
	d.keys = append(d.keys, k)
	d.vals = append(d.vals, val)
}

// Get returns the value stored under k.
func (d *SignalDict[T]) Get(k Value) (T, bool) {
	var zero T
	if d == nil {
		return zero, false
	}
	pos, ok := d.index[KeyOf(k)]
	if !ok {
		return zero, false
	}
	return d.vals[pos], true
}

// Has reports whether k is present.
func (d *SignalDict[T]) Has(k Value) bool {
	_, ok := d.Get(k)
	return ok
}

// Delete removes k.
func (d *SignalDict[T]) Delete(k Value) {
	key := KeyOf(k)
	pos, ok := d.index[key]
	if !ok {
		return
	}
	delete(d.index, key)
	d.keys = append(d.keys[:pos], d.keys[pos+1:]...)
	d.vals = append(d.vals[:pos], d.vals[pos+1:]...)
	for i := pos; i < len(d.keys); i++ {
		d.index[KeyOf(d.keys[i])] = i
	}
}

// Len returns the number of entries.
func (d *SignalDict[T]) Len() int {
	if d == nil {
		return 0
	}
	return len(d.keys)
}

// Keys returns the keys in insertion order.
func (d *SignalDict[T]) Keys() []Value {
	if d == nil {
		return nil
	}
	out := make([]Value, len(d.keys))
	copy(out, d.keys)
	return out
}

// All iterates the entries in insertion order.
func (d *SignalDict[T]) All() iter.Seq2[Value, T] {
	return func(yield func(Value, T) bool) {
		if d == nil {
			return
		}
		for i, k := range d.keys {
			if !yield(k, d.vals[i]) {
				return
			}
		}
	}
}

// ValueKey is a structural identity for any value: two constants, operators
// or slices with the same structure have equal keys, while signals only
// equal themselves.
type ValueKey string

// KeyOfValue returns the structural key of v.
func KeyOfValue(v Value) ValueKey {
	var b strings.Builder
	writeKey(&b, v)
	return ValueKey(b.String())
}

func writeKey(b *strings.Builder, v Value) {
	switch v := v.(type) {
	case *Const:
		fmt.Fprintf(b, "c%d%t:%s", v.shape.Width, v.shape.Signed, v.value)
	case *Signal:
		fmt.Fprintf(b, "s#%p:%d", v.arena, v.id)
	case *ClockSignal:
		fmt.Fprintf(b, "clk:%s", v.Domain)
	case *ResetSignal:
		fmt.Fprintf(b, "rst:%s:%t", v.Domain, v.AllowResetLess)
	case *Operator:
		fmt.Fprintf(b, "op%s(", v.Op)
		for i, o := range v.Operands {
			if i > 0 {
				b.WriteByte(',')
			}
			writeKey(b, o)
		}
		b.WriteByte(')')
	case *Slice:
		b.WriteString("sl(")
		writeKey(b, v.Value)
		fmt.Fprintf(b, ",%d,%d)", v.Start, v.End)
	case *Part:
		b.WriteString("pt(")
		writeKey(b, v.Value)
		b.WriteByte(',')
		writeKey(b, v.Offset)
		fmt.Fprintf(b, ",%d,%d)", v.Width, v.Stride)
	case *CatValue:
		b.WriteString("cat(")
		for i, p := range v.Parts {
			if i > 0 {
				b.WriteByte(',')
			}
			writeKey(b, p)
		}
		b.WriteByte(')')
	case *ReplValue:
		b.WriteString("repl(")
		writeKey(b, v.Value)
		fmt.Fprintf(b, ",%d)", v.Count)
	case *ArrayProxy:
		b.WriteString("ap([")
		for i, e := range v.Elems {
			if i > 0 {
				b.WriteByte(',')
			}
			writeKey(b, e)
		}
		b.WriteString("],")
		writeKey(b, v.Index)
		b.WriteByte(')')
	case *Sample:
		b.WriteString("smp(")
		writeKey(b, v.Value)
		fmt.Fprintf(b, ",%d,%s)", v.Clocks, v.Domain)
	case *Initial:
		b.WriteString("init")
	default:
		panic(fmt.Sprintf("ast: unknown value kind %T", v))
	}
}

// ValueDict is an insertion-ordered map keyed by structural value identity.
type ValueDict[T any] struct {
	index map[ValueKey]int
	keys  []Value
	vals  []T
}

// NewValueDict returns an empty dict.
func NewValueDict[T any]() *ValueDict[T] {
	return &ValueDict[T]{index: make(map[ValueKey]int)}
}

// Set stores val under k.
func (d *ValueDict[T]) Set(k Value, val T) {
	key := KeyOfValue(k)
	if pos, ok := d.index[key]; ok {
		d.vals[pos] = val
		return
	}
	d.index[key] = len(d.keys)
	d.keys = append(d.keys, k)
	d.vals = append(d.vals, val)
}

// Get returns the value stored under a key structurally equal to k.
func (d *ValueDict[T]) Get(k Value) (T, bool) {
	var zero T
	pos, ok := d.index[KeyOfValue(k)]
	if !ok {
		return zero, false
	}
	return d.vals[pos], true
}

// Len returns the number of entries.
func (d *ValueDict[T]) Len() int { return len(d.keys) }

// All iterates the entries in insertion order.
func (d *ValueDict[T]) All() iter.Seq2[Value, T] {
	return func(yield func(Value, T) bool) {
		for i, k := range d.keys {
			if !yield(k, d.vals[i]) {
				return
			}
		}
	}
}
