package probes

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	cerrors "covdiff/internal/errors"
)

func mustParse(t *testing.T, s string) Bits {
	t.Helper()
	b, err := Parse(s)
	require.NoError(t, err)
	return b
}

func TestParseAndString(t *testing.T) {
	b := mustParse(t, "01101")
	assert.Equal(t, 5, b.Width())
	assert.Equal(t, 3, b.Count())
	assert.Equal(t, "01101", b.String())
	assert.True(t, b.Test(1))
	assert.False(t, b.Test(0))
	assert.False(t, b.Test(99))

	_, err := Parse("01x")
	require.Error(t, err)
	assert.True(t, cerrors.IsCode(err, cerrors.InvalidArgument))
}

func TestMerge(t *testing.T) {
	a := mustParse(t, "1100")
	b := mustParse(t, "0110")

	merged, err := a.Merge(b)
	require.NoError(t, err)
	assert.Equal(t, "1110", merged.String())

	// inputs are untouched
	assert.Equal(t, "1100", a.String())
	assert.Equal(t, "0110", b.String())
}

func TestMergeProperties(t *testing.T) {
	a := mustParse(t, "100101")
	b := mustParse(t, "010100")
	c := mustParse(t, "000011")

	t.Run("idempotent", func(t *testing.T) {
		aa, err := a.Merge(a)
		require.NoError(t, err)
		assert.True(t, aa.Equal(a))
	})

	t.Run("commutative", func(t *testing.T) {
		ab, err := a.Merge(b)
		require.NoError(t, err)
		ba, err := b.Merge(a)
		require.NoError(t, err)
		assert.True(t, ab.Equal(ba))
	})

	t.Run("associative", func(t *testing.T) {
		ab, _ := a.Merge(b)
		left, err := ab.Merge(c)
		require.NoError(t, err)
		bc, _ := b.Merge(c)
		right, err := a.Merge(bc)
		require.NoError(t, err)
		assert.True(t, left.Equal(right))
	})
}

func TestDimensionMismatch(t *testing.T) {
	a := mustParse(t, "101")
	b := mustParse(t, "1010")

	_, err := a.Merge(b)
	require.Error(t, err)
	assert.True(t, cerrors.IsCode(err, cerrors.DimensionMismatch))

	_, err = a.Intersect(b)
	require.Error(t, err)
	assert.True(t, cerrors.IsCode(err, cerrors.DimensionMismatch))
}

func TestIntersect(t *testing.T) {
	a := mustParse(t, "1101")
	b := mustParse(t, "0111")

	and, err := a.Intersect(b)
	require.NoError(t, err)
	assert.Equal(t, "0101", and.String())
}

func TestPopCountAndSlice(t *testing.T) {
	b := mustParse(t, "1101100")

	tests := []struct {
		name   string
		start  int
		length int
		count  int
		slice  string
	}{
		{"prefix", 0, 2, 2, "11"},
		{"middle", 2, 3, 2, "011"},
		{"tail", 5, 2, 0, "00"},
		{"past end", 5, 4, 0, "0000"},
		{"empty", 3, 0, 0, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.count, b.PopCount(tt.start, tt.length))
			assert.Equal(t, tt.count > 0, b.AnyIn(tt.start, tt.length))
			assert.Equal(t, tt.slice, b.Slice(tt.start, tt.length).String())
		})
	}
}

func TestAny(t *testing.T) {
	assert.False(t, New(8).Any())
	assert.False(t, Bits{}.Any())
	assert.True(t, FromIndices(8, 7).Any())
	assert.Equal(t, 0, Bits{}.Count())
}

func TestZeroWidth(t *testing.T) {
	merged, err := Bits{}.Merge(New(0))
	require.NoError(t, err)
	assert.Equal(t, 0, merged.Width())
}

func TestBinaryRoundTrip(t *testing.T) {
	for _, s := range []string{"", "0", "1", "0000000", "00000000", "10000001", "0110100111000"} {
		t.Run(s, func(t *testing.T) {
			b := mustParse(t, s)
			data, err := b.MarshalBinary()
			require.NoError(t, err)

			var decoded Bits
			require.NoError(t, decoded.UnmarshalBinary(data))
			assert.Equal(t, b.Width(), decoded.Width())
			assert.Equal(t, s, decoded.String())
		})
	}

	var decoded Bits
	assert.Error(t, decoded.UnmarshalBinary([]byte{0, 0}))
}

func TestCount(t *testing.T) {
	assert.Equal(t, 0.0, Count{}.Percentage())
	assert.Equal(t, 50.0, Count{Covered: 1, Total: 2}.Percentage())
	assert.Equal(t, 0.5, Count{Covered: 1, Total: 2}.Ratio())
	assert.Equal(t, Count{Covered: 3, Total: 7}, Count{Covered: 1, Total: 2}.Add(Count{Covered: 2, Total: 5}))
	assert.Equal(t, Count{Covered: 2, Total: 3}, CountOf(mustParse(t, "101")))
}
