package lattice

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestArrayEncodeDecodeRoundTrip(t *testing.T) {
	t.Run("Unsigned Narrow Width", func(t *testing.T) {
		a := &Array{Elems: []uint64{0, 1, 2, 3, 255}}
		raw := a.Encode()

		decoded, err := DecodeArray(raw, false)
		require.NoError(t, err)
		require.Equal(t, a.Len(), decoded.Len())

		for i := 0; i < a.Len(); i++ {
			want, _ := a.Get(i)
			got, err := decoded.Get(i)
			require.NoError(t, err)
			require.Equal(t, want, got)
		}
	})

	t.Run("Signed Negative Values", func(t *testing.T) {
		a := &Array{Signed: true, Elems: []uint64{uint64(int64(-1)), uint64(int64(-128)), uint64(int64(127)), 0}}
		raw := a.Encode()

		decoded, err := DecodeArray(raw, true)
		require.NoError(t, err)

		for i := 0; i < a.Len(); i++ {
			want, _ := a.Get(i)
			got, err := decoded.Get(i)
			require.NoError(t, err)
			require.Equal(t, want, got)
		}
	})

	t.Run("All Zero Is Width Zero", func(t *testing.T) {
		a := &Array{Elems: []uint64{0, 0, 0, 0}}
		require.EqualValues(t, 0, a.minWidth())

		raw := a.Encode()
		decoded, err := DecodeArray(raw, false)
		require.NoError(t, err)
		require.Equal(t, 4, decoded.Len())
		for i := 0; i < 4; i++ {
			v, err := decoded.Get(i)
			require.NoError(t, err)
			require.Zero(t, v)
		}
	})

	t.Run("Interior And HasRefs Flags Survive", func(t *testing.T) {
		a := &Array{Interior: true, HasRefs: true, Elems: []uint64{8, 1024, 2048}}
		raw := a.Encode()

		decoded, err := DecodeArray(raw, false)
		require.NoError(t, err)
		require.True(t, decoded.Interior)
		require.True(t, decoded.HasRefs)
	})

	t.Run("Width Escalates To Fit Largest Element", func(t *testing.T) {
		a := &Array{Elems: []uint64{1, 1 << 40}}
		require.EqualValues(t, 64, a.minWidth())
	})
}

func TestArrayMutation(t *testing.T) {
	t.Run("Insert Shifts Tail", func(t *testing.T) {
		a := &Array{Elems: []uint64{1, 2, 4, 5}}
		require.NoError(t, a.Insert(2, 3))
		require.Equal(t, []uint64{1, 2, 3, 4, 5}, a.Elems)
	})

	t.Run("Insert At Ends", func(t *testing.T) {
		a := &Array{Elems: []uint64{2, 3}}
		require.NoError(t, a.Insert(0, 1))
		require.NoError(t, a.Insert(3, 4))
		require.Equal(t, []uint64{1, 2, 3, 4}, a.Elems)
	})

	t.Run("Insert Out Of Range", func(t *testing.T) {
		a := &Array{Elems: []uint64{1}}
		require.ErrorIs(t, a.Insert(-1, 0), ErrIndexOutOfRange)
		require.ErrorIs(t, a.Insert(2, 0), ErrIndexOutOfRange)
	})

	t.Run("Erase Removes Element", func(t *testing.T) {
		a := &Array{Elems: []uint64{1, 2, 3}}
		require.NoError(t, a.Erase(1))
		require.Equal(t, []uint64{1, 3}, a.Elems)
	})

	t.Run("Clone Is Independent", func(t *testing.T) {
		a := &Array{Elems: []uint64{1, 2, 3}}
		c := a.Clone()
		c.Elems[0] = 99
		require.EqualValues(t, 1, a.Elems[0])
	})

	t.Run("Truncate", func(t *testing.T) {
		a := &Array{Elems: []uint64{1, 2, 3, 4}}
		require.NoError(t, a.Truncate(2))
		require.Equal(t, []uint64{1, 2}, a.Elems)
		require.ErrorIs(t, a.Truncate(5), ErrIndexOutOfRange)
	})
}

func TestArraySearch(t *testing.T) {
	a := &Array{Elems: []uint64{10, 20, 20, 30, 40}}

	t.Run("LowerBound", func(t *testing.T) {
		require.Equal(t, 0, a.LowerBound(5))
		require.Equal(t, 1, a.LowerBound(20))
		require.Equal(t, 5, a.LowerBound(100))
	})

	t.Run("UpperBound", func(t *testing.T) {
		require.Equal(t, 0, a.UpperBound(5))
		require.Equal(t, 3, a.UpperBound(20))
		require.Equal(t, 5, a.UpperBound(100))
	})

	t.Run("FindFirst And FindAll", func(t *testing.T) {
		idx, ok := a.FindFirst(20, 0, a.Len())
		require.True(t, ok)
		require.Equal(t, 1, idx)

		all := a.FindAll(nil, 20, 0, a.Len())
		require.Equal(t, []int{1, 2}, all)

		_, ok = a.FindFirst(999, 0, a.Len())
		require.False(t, ok)
	})
}
