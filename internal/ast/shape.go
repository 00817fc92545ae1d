package ast

import (
	"fmt"
	"math/big"
)

// Shape is the bit width and signedness of a value.
type Shape struct {
	Width  int
	Signed bool
}

// Unsigned returns an unsigned shape of the given width.
func Unsigned(width int) Shape {
	return Shape{Width: width}
}

// Signed returns a signed shape of the given width.
func Signed(width int) Shape {
	return Shape{Width: width, Signed: true}
}

func (s Shape) String() string {
	if s.Signed {
		return fmt.Sprintf("signed(%d)", s.Width)
	}
	return fmt.Sprintf("unsigned(%d)", s.Width)
}

func (s Shape) check() error {
	if s.Width < 0 {
		return &ShapeError{Msg: fmt.Sprintf("width must be a non-negative integer, not %d", s.Width)}
	}
	return nil
}

// Log2Int returns ceil(log2(n)). When needPow2 is set, n must be a power of two.
func Log2Int(n int64, needPow2 bool) int {
	if n == 0 {
		return 0
	}
	r := big.NewInt(n - 1).BitLen()
	if needPow2 && int64(1)<<uint(r) != n {
		panic(&ShapeError{Msg: fmt.Sprintf("argument must be a power of 2, not %d", n)})
	}
	return r
}

// BitsFor returns the number of bits needed to represent n, adding a sign bit
// when n is negative or requireSign is set.
func BitsFor(n int64, requireSign bool) int {
	return bitsForBig(big.NewInt(n), requireSign)
}

func bitsForBig(n *big.Int, requireSign bool) int {
	var r int
	if n.Sign() > 0 {
		r = n.BitLen()
	} else {
		requireSign = true
		// log2 ceiling of -n
		neg := new(big.Int).Neg(n)
		if neg.Sign() != 0 {
			r = new(big.Int).Sub(neg, big.NewInt(1)).BitLen()
		}
	}
	if requireSign {
		r++
	}
	return r
}

// bitwiseShape is the two's complement promotion of two operand shapes.
func bitwiseShape(a, b Shape) Shape {
	switch {
	case !a.Signed && !b.Signed:
		return Shape{Width: max(a.Width, b.Width)}
	case a.Signed && b.Signed:
		return Shape{Width: max(a.Width, b.Width), Signed: true}
	case a.Signed && !b.Signed:
		return Shape{Width: max(a.Width, b.Width+1), Signed: true}
	default:
		return Shape{Width: max(a.Width+1, b.Width), Signed: true}
	}
}

// normalize wraps v into the two's complement range of s.
func normalize(v *big.Int, s Shape) *big.Int {
	mask := new(big.Int).Lsh(big.NewInt(1), uint(s.Width))
	out := new(big.Int).Mod(v, mask)
	if s.Signed && s.Width > 0 && out.Bit(s.Width-1) == 1 {
		out.Sub(out, mask)
	}
	return out
}
