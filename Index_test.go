package lattice

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestIndexInsertFindDelete(t *testing.T) {
	withWriter(t, func(ta *txnAlloc) {
		opts := smallTreeOpts()
		idx := Index{}

		rows := map[int64][]int64{
			10: {0, 4, 9},
			20: {1},
			30: {2, 3},
		}

		var err error
		for value, rs := range rows {
			for _, row := range rs {
				idx, err = IndexInsert(ta, idx, value, row, opts)
				require.NoError(t, err)
			}
		}

		require.Equal(t, 3, idx.Len)

		for value, rs := range rows {
			got, err := IndexFind(ta, idx, value)
			require.NoError(t, err)
			require.ElementsMatch(t, rs, got)
		}

		missing, err := IndexFind(ta, idx, 999)
		require.NoError(t, err)
		require.Nil(t, missing)

		idx, err = IndexDelete(ta, idx, 10, 4, opts)
		require.NoError(t, err)
		got, err := IndexFind(ta, idx, 10)
		require.NoError(t, err)
		require.ElementsMatch(t, []int64{0, 9}, got)

		idx, err = IndexDelete(ta, idx, 20, 1, opts)
		require.NoError(t, err)
		require.Equal(t, 2, idx.Len)
		got, err = IndexFind(ta, idx, 20)
		require.NoError(t, err)
		require.Nil(t, got)
	})
}

func TestIndexRangeAscending(t *testing.T) {
	withWriter(t, func(ta *txnAlloc) {
		opts := smallTreeOpts()
		idx := Index{}

		var err error
		for _, v := range []int64{5, 15, 25, 35, 45, 55} {
			idx, err = IndexInsert(ta, idx, v, v*10, opts)
			require.NoError(t, err)
		}

		values, rows, err := IndexRange(ta, idx, 15, 46)
		require.NoError(t, err)
		require.Equal(t, []int64{15, 25, 35, 45}, values)
		require.Equal(t, []int64{150, 250, 350, 450}, rows)
	})
}

func TestIndexMultipleRowsPerValue(t *testing.T) {
	withWriter(t, func(ta *txnAlloc) {
		opts := smallTreeOpts()
		idx := Index{}

		var err error
		for _, row := range []int64{7, 3, 9, 1, 5} {
			idx, err = IndexInsert(ta, idx, 100, row, opts)
			require.NoError(t, err)
		}

		require.Equal(t, 1, idx.Len)
		got, err := IndexFind(ta, idx, 100)
		require.NoError(t, err)
		require.Equal(t, []int64{1, 3, 5, 7, 9}, got)
	})
}
