package lattice

import (
	"testing"

	"github.com/stretchr/testify/require"
)

// createTable creates one table with the given columns inside wt, saves the
// updated Group into wt, and returns the table's Ref; wt stays open so
// callers can append rows before committing.
func createTable(t *testing.T, wt *WriteTxn, name string, cols []struct {
	name    string
	kind    ColumnKind
	indexed bool
}) Ref {
	t.Helper()
	opts := smallTreeOpts()

	g, err := wt.Group()
	require.NoError(t, err)

	g, tableRef, err := GroupCreateTable(wt.Alloc(), g, name, opts)
	require.NoError(t, err)

	for _, c := range cols {
		tableRef, err = AddColumn(wt.Alloc(), tableRef, c.name, c.kind, c.indexed, opts)
		require.NoError(t, err)
	}

	g, err = GroupSetTableRoot(wt.Alloc(), g, name, tableRef)
	require.NoError(t, err)
	require.NoError(t, wt.SaveGroup(g))

	return tableRef
}

// S1: single-column integer round-trip.
func TestScenarioSingleColumnRoundTrip(t *testing.T) {
	db := openTestDB(t, Options{})
	opts := smallTreeOpts()

	wt, err := db.BeginWrite()
	require.NoError(t, err)

	tableRef := createTable(t, wt, "nums", []struct {
		name    string
		kind    ColumnKind
		indexed bool
	}{{name: "n", kind: ColumnScalar}})

	g, err := wt.Group()
	require.NoError(t, err)

	for _, v := range []int64{42, 7, 99, -5} {
		tableRef, err = AppendRow(wt.Alloc(), tableRef, map[string]int64{"n": v}, nil, opts)
		require.NoError(t, err)
	}
	g, err = GroupSetTableRoot(wt.Alloc(), g, "nums", tableRef)
	require.NoError(t, err)
	require.NoError(t, wt.SaveGroup(g))
	require.NoError(t, wt.Commit())

	snap, err := db.BeginRead()
	require.NoError(t, err)
	defer snap.Release()

	th, err := snap.OpenTable("nums")
	require.NoError(t, err)

	count, err := th.RowCount()
	require.NoError(t, err)
	require.EqualValues(t, 4, count)

	for row, want := range []int64{42, 7, 99, -5} {
		got, err := ScalarAt(snap, th.ref, "n", row)
		require.NoError(t, err)
		require.Equal(t, want, got)
	}
}

// S2: copy-on-write commit visibility across snapshots — a snapshot opened
// before a commit keeps observing the pre-commit state, and a new snapshot
// opened after observes the committed change.
func TestScenarioSnapshotIsolation(t *testing.T) {
	db := openTestDB(t, Options{})
	opts := smallTreeOpts()

	wt, err := db.BeginWrite()
	require.NoError(t, err)
	tableRef := createTable(t, wt, "t", []struct {
		name    string
		kind    ColumnKind
		indexed bool
	}{{name: "v", kind: ColumnScalar}})
	g, err := wt.Group()
	require.NoError(t, err)
	tableRef, err = AppendRow(wt.Alloc(), tableRef, map[string]int64{"v": 1}, nil, opts)
	require.NoError(t, err)
	g, err = GroupSetTableRoot(wt.Alloc(), g, "t", tableRef)
	require.NoError(t, err)
	require.NoError(t, wt.SaveGroup(g))
	require.NoError(t, wt.Commit())

	oldSnap, err := db.BeginRead()
	require.NoError(t, err)
	defer oldSnap.Release()

	wt2, err := db.BeginWrite()
	require.NoError(t, err)
	g2, err := wt2.Group()
	require.NoError(t, err)
	tableRef2, ok, err := GroupFindTable(wt2, g2, "t")
	require.NoError(t, err)
	require.True(t, ok)
	tableRef2, err = AppendRow(wt2.Alloc(), tableRef2, map[string]int64{"v": 2}, nil, opts)
	require.NoError(t, err)
	g2, err = GroupSetTableRoot(wt2.Alloc(), g2, "t", tableRef2)
	require.NoError(t, err)
	require.NoError(t, wt2.SaveGroup(g2))
	require.NoError(t, wt2.Commit())

	oldTable, err := oldSnap.OpenTable("t")
	require.NoError(t, err)
	oldCount, err := oldTable.RowCount()
	require.NoError(t, err)
	require.EqualValues(t, 1, oldCount, "snapshot taken before the second commit must not see it")

	newSnap, err := db.BeginRead()
	require.NoError(t, err)
	defer newSnap.Release()

	newTable, err := newSnap.OpenTable("t")
	require.NoError(t, err)
	newCount, err := newTable.RowCount()
	require.NoError(t, err)
	require.EqualValues(t, 2, newCount)
}

// S3: a write that staged a new top-ref into the inactive header slot but
// never flipped the active-slot flag (simulating a crash between the two
// steps) leaves the previously committed state as the active one on reopen.
func TestScenarioCrashBetweenSlots(t *testing.T) {
	db := openTestDB(t, Options{})
	opts := smallTreeOpts()

	wt, err := db.BeginWrite()
	require.NoError(t, err)
	tableRef := createTable(t, wt, "t", []struct {
		name    string
		kind    ColumnKind
		indexed bool
	}{{name: "v", kind: ColumnScalar}})
	g, err := wt.Group()
	require.NoError(t, err)
	tableRef, err = AppendRow(wt.Alloc(), tableRef, map[string]int64{"v": 111}, nil, opts)
	require.NoError(t, err)
	g, err = GroupSetTableRoot(wt.Alloc(), g, "t", tableRef)
	require.NoError(t, err)
	require.NoError(t, wt.SaveGroup(g))
	require.NoError(t, wt.Commit())

	hBefore, err := db.file.readHeader()
	require.NoError(t, err)
	activeBefore := hBefore.activeTop()

	// Stage a second commit's top-ref into the inactive slot, but never flip
	// the active-slot flag — the moment a real crash would land in.
	wt2, err := db.BeginWrite()
	require.NoError(t, err)
	g2, err := wt2.Group()
	require.NoError(t, err)
	tableRef2, ok, err := GroupFindTable(wt2, g2, "t")
	require.NoError(t, err)
	require.True(t, ok)
	tableRef2, err = AppendRow(wt2.Alloc(), tableRef2, map[string]int64{"v": 222}, nil, opts)
	require.NoError(t, err)
	g2, err = GroupSetTableRoot(wt2.Alloc(), g2, "t", tableRef2)
	require.NoError(t, err)
	require.NoError(t, wt2.SaveGroup(g2))

	flRefs, err := wt2.alloc.finalize()
	require.NoError(t, err)
	newTop := &topRef{groupRoot: wt2.groupRoot, freeList: flRefs, fmtVer: currentFmtMajor, fileSize: uint64(wt2.alloc.cursor)}
	newTopRef, err := wt2.alloc.putArray(encodeTopRef(newTop))
	require.NoError(t, err)
	_, err = db.file.writeInactiveTop(newTopRef)
	require.NoError(t, err)
	wt2.endWrite() // release the writer mutex without committing/rolling back in the normal way

	hAfter, err := db.file.readHeader()
	require.NoError(t, err)
	require.Equal(t, activeBefore, hAfter.activeTop(), "active slot must be unaffected by an un-flipped write")

	snap, err := db.BeginRead()
	require.NoError(t, err)
	defer snap.Release()
	th, err := snap.OpenTable("t")
	require.NoError(t, err)
	count, err := th.RowCount()
	require.NoError(t, err)
	require.EqualValues(t, 1, count, "recovered state must be the last flipped commit, not the staged one")
}

// S4: free-list reuse after delete+commit — space freed by shrinking a
// column's value tree becomes reusable by a later allocation.
func TestScenarioFreeListReuseAfterDelete(t *testing.T) {
	db := openTestDB(t, Options{})
	opts := smallTreeOpts()

	wt, err := db.BeginWrite()
	require.NoError(t, err)
	root := NullRef
	for i := int64(0); i < 40; i++ {
		root, err = Insert(wt.Alloc(), root, int(i), i, opts, true, false)
		require.NoError(t, err)
	}

	for i := 39; i >= 0; i-- {
		root, err = Erase(wt.Alloc(), root, i, opts, true, false)
		require.NoError(t, err)
	}
	require.Equal(t, NullRef, root)

	sizeBeforeFold := db.file.size()

	g := Group{}
	require.NoError(t, wt.SaveGroup(g))
	require.NoError(t, wt.Commit())

	require.GreaterOrEqual(t, db.file.size(), sizeBeforeFold)

	wt2, err := db.BeginWrite()
	require.NoError(t, err)
	require.NotEmpty(t, wt2.alloc.freeList.entries, "space freed by the fully-erased tree must be reclaimed into the free list")
	require.NoError(t, wt2.Rollback())
}

// S5: range query via ordered index.
func TestScenarioRangeQueryViaIndex(t *testing.T) {
	db := openTestDB(t, Options{})
	opts := smallTreeOpts()

	wt, err := db.BeginWrite()
	require.NoError(t, err)
	tableRef := createTable(t, wt, "events", []struct {
		name    string
		kind    ColumnKind
		indexed bool
	}{{name: "ts", kind: ColumnScalar, indexed: true}})

	g, err := wt.Group()
	require.NoError(t, err)

	for _, ts := range []int64{100, 50, 200, 150, 25, 175} {
		tableRef, err = AppendRow(wt.Alloc(), tableRef, map[string]int64{"ts": ts}, nil, opts)
		require.NoError(t, err)
	}
	g, err = GroupSetTableRoot(wt.Alloc(), g, "events", tableRef)
	require.NoError(t, err)
	require.NoError(t, wt.SaveGroup(g))
	require.NoError(t, wt.Commit())

	snap, err := db.BeginRead()
	require.NoError(t, err)
	defer snap.Release()

	th, err := snap.OpenTable("events")
	require.NoError(t, err)

	rows, err := FindByIndex(snap, th.ref, "ts", 150)
	require.NoError(t, err)
	require.Equal(t, []int64{3}, rows)

	missing, err := FindByIndex(snap, th.ref, "ts", 999)
	require.NoError(t, err)
	require.Nil(t, missing)
}

// S6: string column ordering/scan — values come back in insertion (row)
// order, and exact lookup round-trips every stored string.
func TestScenarioStringColumnScan(t *testing.T) {
	db := openTestDB(t, Options{})
	opts := smallTreeOpts()

	wt, err := db.BeginWrite()
	require.NoError(t, err)
	tableRef := createTable(t, wt, "words", []struct {
		name    string
		kind    ColumnKind
		indexed bool
	}{{name: "w", kind: ColumnString}})

	g, err := wt.Group()
	require.NoError(t, err)

	words := []string{"delta", "alpha", "charlie", "bravo"}
	for _, w := range words {
		tableRef, err = AppendRow(wt.Alloc(), tableRef, nil, map[string]string{"w": w}, opts)
		require.NoError(t, err)
	}
	g, err = GroupSetTableRoot(wt.Alloc(), g, "words", tableRef)
	require.NoError(t, err)
	require.NoError(t, wt.SaveGroup(g))
	require.NoError(t, wt.Commit())

	snap, err := db.BeginRead()
	require.NoError(t, err)
	defer snap.Release()

	th, err := snap.OpenTable("words")
	require.NoError(t, err)

	for row, want := range words {
		got, err := StringAt(snap, th.ref, "w", row)
		require.NoError(t, err)
		require.Equal(t, want, got)
	}
}

func TestOpenCreatesAndReopenPersists(t *testing.T) {
	dir := t.TempDir()
	opts := Options{Path: dir, FileName: "persist.db"}

	db, err := Open(opts)
	require.NoError(t, err)

	wt, err := db.BeginWrite()
	require.NoError(t, err)
	tableRef := createTable(t, wt, "t", []struct {
		name    string
		kind    ColumnKind
		indexed bool
	}{{name: "v", kind: ColumnScalar}})
	g, err := wt.Group()
	require.NoError(t, err)
	tableRef, err = AppendRow(wt.Alloc(), tableRef, map[string]int64{"v": 7}, nil, smallTreeOpts())
	require.NoError(t, err)
	g, err = GroupSetTableRoot(wt.Alloc(), g, "t", tableRef)
	require.NoError(t, err)
	require.NoError(t, wt.SaveGroup(g))
	require.NoError(t, wt.Commit())
	require.NoError(t, db.Close())

	db2, err := Open(opts)
	require.NoError(t, err)
	defer db2.Close()

	snap, err := db2.BeginRead()
	require.NoError(t, err)
	defer snap.Release()

	th, err := snap.OpenTable("t")
	require.NoError(t, err)
	v, err := ScalarAt(snap, th.ref, "v", 0)
	require.NoError(t, err)
	require.EqualValues(t, 7, v)
}

func TestRollbackLeavesPriorStateVisible(t *testing.T) {
	db := openTestDB(t, Options{})
	opts := smallTreeOpts()

	wt, err := db.BeginWrite()
	require.NoError(t, err)
	createTable(t, wt, "t", []struct {
		name    string
		kind    ColumnKind
		indexed bool
	}{{name: "v", kind: ColumnScalar}})
	require.NoError(t, wt.Commit())

	wt2, err := db.BeginWrite()
	require.NoError(t, err)
	g, err := wt2.Group()
	require.NoError(t, err)
	tableRef, ok, err := GroupFindTable(wt2, g, "t")
	require.NoError(t, err)
	require.True(t, ok)
	_, err = AppendRow(wt2.Alloc(), tableRef, map[string]int64{"v": 1}, nil, opts)
	require.NoError(t, err)
	require.NoError(t, wt2.Rollback())

	snap, err := db.BeginRead()
	require.NoError(t, err)
	defer snap.Release()
	th, err := snap.OpenTable("t")
	require.NoError(t, err)
	count, err := th.RowCount()
	require.NoError(t, err)
	require.Zero(t, count)
}

func TestHandleCheckLiveAfterRelease(t *testing.T) {
	db := openTestDB(t, Options{})

	wt, err := db.BeginWrite()
	require.NoError(t, err)
	createTable(t, wt, "t", []struct {
		name    string
		kind    ColumnKind
		indexed bool
	}{{name: "v", kind: ColumnScalar}})
	require.NoError(t, wt.Commit())

	snap, err := db.BeginRead()
	require.NoError(t, err)
	th, err := snap.OpenTable("t")
	require.NoError(t, err)

	require.NoError(t, snap.Release())

	_, err = th.RowCount()
	require.ErrorIs(t, err, ErrSnapshotExpired)
}
