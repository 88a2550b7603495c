package lattice

import (
	"testing"

	"github.com/stretchr/testify/require"
)

// withWriter runs fn against a fresh write transaction's allocation arena,
// rolling back afterward (these tests exercise the tree algorithms in
// isolation, not commit/visibility, so nothing needs to survive).
func withWriter(t *testing.T, fn func(ta *txnAlloc)) {
	t.Helper()
	db := openTestDB(t, Options{})
	wt, err := db.BeginWrite()
	require.NoError(t, err)
	defer wt.Rollback()
	fn(wt.Alloc())
}

func TestTreeInsertLookupOrdering(t *testing.T) {
	withWriter(t, func(ta *txnAlloc) {
		opts := smallTreeOpts()
		root := NullRef
		values := []int64{10, 20, 30, 5, 15, 25, 35, 1, 2, 3, 40, 50, 60, 70, 80}

		pos := 0
		for _, v := range values {
			var err error
			root, err = Insert(ta, root, pos, v, opts, true, false)
			require.NoError(t, err)
			pos++
		}

		n, err := TreeLen(ta, root, true)
		require.NoError(t, err)
		require.Equal(t, len(values), n)

		for i, v := range values {
			got, err := Lookup(ta, root, i, true)
			require.NoError(t, err)
			require.Equal(t, v, got)
		}
	})
}

func TestTreeInsertAtSortedPosition(t *testing.T) {
	withWriter(t, func(ta *txnAlloc) {
		opts := smallTreeOpts()
		root := NullRef

		insertSorted := func(v int64) {
			n, err := TreeLen(ta, root, true)
			require.NoError(t, err)

			pos := n
			for i := 0; i < n; i++ {
				cur, err := Lookup(ta, root, i, true)
				require.NoError(t, err)
				if cur >= v {
					pos = i
					break
				}
			}
			root, err = Insert(ta, root, pos, v, opts, true, false)
			require.NoError(t, err)
		}

		for _, v := range []int64{50, 10, 40, 20, 30, 5, 45, 25, 15, 35} {
			insertSorted(v)
		}

		n, err := TreeLen(ta, root, true)
		require.NoError(t, err)
		require.Equal(t, 10, n)

		var prev int64 = -1 << 62
		for i := 0; i < n; i++ {
			v, err := Lookup(ta, root, i, true)
			require.NoError(t, err)
			require.GreaterOrEqual(t, v, prev)
			prev = v
		}
	})
}

func TestTreeEraseShrinksAndReorders(t *testing.T) {
	withWriter(t, func(ta *txnAlloc) {
		opts := smallTreeOpts()
		root, err := BulkBuild(ta, []int64{0, 1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11}, opts, true, false)
		require.NoError(t, err)

		root, err = Erase(ta, root, 5, opts, true, false)
		require.NoError(t, err)

		n, err := TreeLen(ta, root, true)
		require.NoError(t, err)
		require.Equal(t, 11, n)

		want := []int64{0, 1, 2, 3, 4, 6, 7, 8, 9, 10, 11}
		for i, w := range want {
			got, err := Lookup(ta, root, i, true)
			require.NoError(t, err)
			require.Equal(t, w, got)
		}
	})
}

func TestTreeEraseToEmpty(t *testing.T) {
	withWriter(t, func(ta *txnAlloc) {
		opts := smallTreeOpts()
		root, err := BulkBuild(ta, []int64{1, 2, 3}, opts, true, false)
		require.NoError(t, err)

		for i := 2; i >= 0; i-- {
			root, err = Erase(ta, root, i, opts, true, false)
			require.NoError(t, err)
		}

		require.Equal(t, NullRef, root)
		n, err := TreeLen(ta, root, true)
		require.NoError(t, err)
		require.Zero(t, n)
	})
}

func TestTreeSetOverwritesInPlace(t *testing.T) {
	withWriter(t, func(ta *txnAlloc) {
		opts := smallTreeOpts()
		root, err := BulkBuild(ta, []int64{1, 2, 3, 4, 5, 6, 7, 8}, opts, true, false)
		require.NoError(t, err)

		newRoot, err := TreeSet(ta, root, 3, 999, true, false)
		require.NoError(t, err)

		n, err := TreeLen(ta, newRoot, true)
		require.NoError(t, err)
		require.Equal(t, 8, n)

		got, err := Lookup(ta, newRoot, 3, true)
		require.NoError(t, err)
		require.EqualValues(t, 999, got)

		for i, want := range []int64{1, 2, 3, 999, 5, 6, 7, 8} {
			got, err := Lookup(ta, newRoot, i, true)
			require.NoError(t, err)
			require.Equal(t, want, got)
		}
	})
}

func TestBulkBuildLargeFanout(t *testing.T) {
	withWriter(t, func(ta *txnAlloc) {
		opts := treeOpts{leafFanout: 8, interiorFanout: 4}

		values := make([]int64, 200)
		for i := range values {
			values[i] = int64(i)
		}

		root, err := BulkBuild(ta, values, opts, true, false)
		require.NoError(t, err)

		n, err := TreeLen(ta, root, true)
		require.NoError(t, err)
		require.Equal(t, len(values), n)

		for i, want := range values {
			got, err := Lookup(ta, root, i, true)
			require.NoError(t, err)
			require.Equal(t, want, got)
		}
	})
}

func TestCursorWalksInOrder(t *testing.T) {
	withWriter(t, func(ta *txnAlloc) {
		opts := smallTreeOpts()
		values := []int64{1, 2, 3, 4, 5, 6, 7, 8, 9, 10}
		root, err := BulkBuild(ta, values, opts, true, false)
		require.NoError(t, err)

		cur, err := NewCursor(ta, root, true)
		require.NoError(t, err)

		var got []int64
		for cur.Next() {
			got = append(got, cur.Value())
		}
		require.NoError(t, cur.Err())
		require.Equal(t, values, got)
	})
}

func TestRangeCursorBounds(t *testing.T) {
	withWriter(t, func(ta *txnAlloc) {
		opts := smallTreeOpts()
		values := []int64{0, 1, 2, 3, 4, 5, 6, 7, 8, 9}
		root, err := BulkBuild(ta, values, opts, true, false)
		require.NoError(t, err)

		cur, err := NewRangeCursor(ta, root, true, 3, 7)
		require.NoError(t, err)

		var got []int64
		for cur.Next() {
			got = append(got, cur.Value())
		}
		require.NoError(t, cur.Err())
		require.Equal(t, []int64{3, 4, 5, 6}, got)
	})
}
