package probes

import (
	cerrors "covdiff/internal/errors"
)

// MarshalBinary encodes the vector as little-endian bytes with an extra
// sentinel bit set at index Width, so the width survives a round trip even
// when the trailing probes are zero.
func (b Bits) MarshalBinary() ([]byte, error) {
	out := make([]byte, b.width/8+1)
	for i := 0; i < b.width; i++ {
		if b.Test(i) {
			out[i/8] |= 1 << (uint(i) % 8)
		}
	}
	out[b.width/8] |= 1 << (uint(b.width) % 8)
	return out, nil
}

// UnmarshalBinary decodes the form written by MarshalBinary. The highest
// set bit is the sentinel and determines the width.
func (b *Bits) UnmarshalBinary(data []byte) error {
	last := len(data) - 1
	for last >= 0 && data[last] == 0 {
		last--
	}
	if last < 0 {
		return cerrors.Newf(cerrors.InvalidArgument, "probe encoding has no sentinel bit")
	}

	high := 7
	for data[last]&(1<<uint(high)) == 0 {
		high--
	}
	width := last*8 + high

	decoded := New(width)
	for i := 0; i < width; i++ {
		if data[i/8]&(1<<(uint(i)%8)) != 0 {
			decoded.set.Set(uint(i))
		}
	}
	*b = decoded
	return nil
}
