// Package probes implements fixed-width probe vectors.
//
// A probe is one instrumentation bit recording whether a code location ran.
// Probe positions are assigned once at instrumentation time and never
// renumbered, so a vector's width is fixed when it is created and every
// binary operation requires both operands to have the same width.
package probes

import (
	"strings"

	"github.com/bits-and-blooms/bitset"

	cerrors "covdiff/internal/errors"
)

// Bits is an immutable fixed-width bit vector. The zero value is an empty
// vector of width 0.
type Bits struct {
	set   *bitset.BitSet
	width int
}

// New returns an all-zero vector of the given width.
func New(width int) Bits {
	if width < 0 {
		width = 0
	}
	return Bits{set: bitset.New(uint(width)), width: width}
}

// FromBools builds a vector whose width is len(values).
func FromBools(values []bool) Bits {
	b := New(len(values))
	for i, v := range values {
		if v {
			b.set.Set(uint(i))
		}
	}
	return b
}

// FromIndices builds a vector of the given width with the listed bits set.
// Indices outside the width are ignored.
func FromIndices(width int, indices ...int) Bits {
	b := New(width)
	for _, i := range indices {
		if i >= 0 && i < width {
			b.set.Set(uint(i))
		}
	}
	return b
}

// Parse reads the textual form produced by String: one '0' or '1' per bit.
func Parse(s string) (Bits, error) {
	b := New(len(s))
	for i, c := range s {
		switch c {
		case '1':
			b.set.Set(uint(i))
		case '0':
		default:
			return Bits{}, cerrors.Newf(cerrors.InvalidArgument, "invalid probe character %q at %d", c, i)
		}
	}
	return b, nil
}

// Width returns the number of probes the vector covers.
func (b Bits) Width() int {
	return b.width
}

// Test reports whether bit i is set. Out-of-range indices report false.
func (b Bits) Test(i int) bool {
	if b.set == nil || i < 0 || i >= b.width {
		return false
	}
	return b.set.Test(uint(i))
}

// Merge returns the bitwise OR of b and o.
func (b Bits) Merge(o Bits) (Bits, error) {
	if err := checkWidth(b, o); err != nil {
		return Bits{}, err
	}
	if b.width == 0 {
		return New(0), nil
	}
	return Bits{set: b.set.Union(o.set), width: b.width}, nil
}

// Intersect returns the bitwise AND of b and o.
func (b Bits) Intersect(o Bits) (Bits, error) {
	if err := checkWidth(b, o); err != nil {
		return Bits{}, err
	}
	if b.width == 0 {
		return New(0), nil
	}
	return Bits{set: b.set.Intersection(o.set), width: b.width}, nil
}

// Count returns the number of set bits.
func (b Bits) Count() int {
	if b.set == nil {
		return 0
	}
	return int(b.set.Count())
}

// PopCount returns the number of set bits in [start, start+length).
// The range is clamped to the vector's width.
func (b Bits) PopCount(start, length int) int {
	lo, hi := b.clamp(start, length)
	if b.set == nil || lo >= hi {
		return 0
	}
	n := 0
	for i, ok := b.set.NextSet(uint(lo)); ok && int(i) < hi; i, ok = b.set.NextSet(i + 1) {
		n++
	}
	return n
}

// Any reports whether at least one bit is set.
func (b Bits) Any() bool {
	return b.set != nil && b.set.Any()
}

// AnyIn reports whether any bit in [start, start+length) is set.
func (b Bits) AnyIn(start, length int) bool {
	lo, hi := b.clamp(start, length)
	if b.set == nil || lo >= hi {
		return false
	}
	i, ok := b.set.NextSet(uint(lo))
	return ok && int(i) < hi
}

// Slice returns a new vector of width length holding bits [start, start+length).
// Positions past the end of b read as zero.
func (b Bits) Slice(start, length int) Bits {
	if length < 0 {
		length = 0
	}
	out := New(length)
	lo, hi := b.clamp(start, length)
	if b.set == nil {
		return out
	}
	for i, ok := b.set.NextSet(uint(lo)); ok && int(i) < hi; i, ok = b.set.NextSet(i + 1) {
		out.set.Set(uint(int(i) - start))
	}
	return out
}

// Equal reports whether both vectors have the same width and bits.
func (b Bits) Equal(o Bits) bool {
	if b.width != o.width {
		return false
	}
	for i := 0; i < b.width; i++ {
		if b.Test(i) != o.Test(i) {
			return false
		}
	}
	return true
}

// Bools expands the vector into one bool per probe.
func (b Bits) Bools() []bool {
	out := make([]bool, b.width)
	for i := range out {
		out[i] = b.Test(i)
	}
	return out
}

// String renders the vector as '0'/'1' characters, lowest index first.
func (b Bits) String() string {
	var sb strings.Builder
	sb.Grow(b.width)
	for i := 0; i < b.width; i++ {
		if b.Test(i) {
			sb.WriteByte('1')
		} else {
			sb.WriteByte('0')
		}
	}
	return sb.String()
}

// MarshalText implements encoding.TextMarshaler.
func (b Bits) MarshalText() ([]byte, error) {
	return []byte(b.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (b *Bits) UnmarshalText(text []byte) error {
	parsed, err := Parse(string(text))
	if err != nil {
		return err
	}
	*b = parsed
	return nil
}

func (b Bits) clamp(start, length int) (int, int) {
	if start < 0 {
		length += start
		start = 0
	}
	end := start + length
	if end > b.width {
		end = b.width
	}
	return start, end
}

func checkWidth(a, b Bits) error {
	if a.width != b.width {
		return cerrors.Newf(cerrors.DimensionMismatch, "probe widths differ: %d != %d", a.width, b.width)
	}
	return nil
}
