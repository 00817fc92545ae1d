package ast

import (
	"strings"

	"hdlkit/internal/diag"
)

// Array is a growable sequence of values. It cannot be indexed by a value;
// call Freeze to obtain a view that can.
type Array struct {
	elems []Value
}

// NewArray returns an array holding elems.
func NewArray(elems ...any) *Array {
	a := &Array{}
	for _, e := range elems {
		a.Append(e)
	}
	return a
}

// Append adds an element.
func (a *Array) Append(e any) {
	a.elems = append(a.elems, Cast(e))
}

// Set replaces the element at i.
func (a *Array) Set(i int, e any) {
	a.elems[i] = Cast(e)
}

// At returns the element at a constant index.
func (a *Array) At(i int) Value {
	return a.elems[i]
}

// Len returns the number of elements.
func (a *Array) Len() int {
	return len(a.elems)
}

// Freeze returns an immutable view over a snapshot of the elements.
func (a *Array) Freeze() *ArrayView {
	elems := make([]Value, len(a.elems))
	copy(elems, a.elems)
	return &ArrayView{elems: elems}
}

// ArrayView is a frozen array that supports indexing by a value.
type ArrayView struct {
	elems []Value
}

// Len returns the number of elements.
func (v *ArrayView) Len() int {
	return len(v.elems)
}

// Elem returns the element at a constant index.
func (v *ArrayView) Elem(i int) Value {
	return v.elems[i]
}

// At returns the element selected by index at runtime. Constant indices
// select the element directly.
func (v *ArrayView) At(index any) Value {
	idx := Cast(index)
	if c, ok := idx.(*Const); ok && c.value.IsInt64() {
		i := int(c.value.Int64())
		if i < 0 || i >= len(v.elems) {
			panic(shapeErrorf("array index %d is out of range for array of length %d", i, len(v.elems)))
		}
		return v.elems[i]
	}
	return NewArrayProxy(v.elems, idx)
}

// ArrayProxy is an element of an array selected by a runtime index.
type ArrayProxy struct {
	node
	Elems []Value
	Index Value
}

// NewArrayProxy returns elems[index].
func NewArrayProxy(elems []Value, index any) *ArrayProxy {
	if len(elems) == 0 {
		panic(shapeErrorf("cannot index an empty array"))
	}
	p := &ArrayProxy{Elems: append([]Value(nil), elems...), Index: Cast(index)}
	p.node = node{self: p, loc: diag.Caller(1)}
	return p
}

func (p *ArrayProxy) Shape() Shape {
	unsignedWidth, signedWidth := 0, 0
	hasUnsigned, hasSigned := false, false
	for _, e := range p.Elems {
		s := e.Shape()
		if s.Signed {
			hasSigned = true
			signedWidth = max(signedWidth, s.Width)
		} else {
			hasUnsigned = true
			unsignedWidth = max(unsignedWidth, s.Width)
		}
	}
	// Same shape as the equivalent mux tree: unsigned elements must be
	// zero-extended by at least one bit when mixed with signed ones.
	if hasSigned && hasUnsigned && unsignedWidth >= signedWidth {
		return Signed(unsignedWidth + 1)
	}
	return Shape{Width: max(unsignedWidth, signedWidth), Signed: hasSigned}
}

func (p *ArrayProxy) RHSSignals() *SignalSet {
	out := p.Index.RHSSignals()
	for _, e := range p.Elems {
		out.AddAll(e.RHSSignals())
	}
	return out
}

func (p *ArrayProxy) String() string {
	parts := make([]string, len(p.Elems))
	for i, e := range p.Elems {
		parts[i] = e.String()
	}
	return "(proxy (array [" + strings.Join(parts, ", ") + "]) " + p.Index.String() + ")"
}
