package lattice

// Handle.go follows spec.md §9's "Object identity by index" redesign note
// directly: table/column/row handles are small value types carrying
// (snapshot version, ref), their validity checked against the owning
// snapshot on every dereference — rather than the source's long-lived
// object identities reached through parent back-pointers. No teacher file
// matches this (mari exposes no multi-object handle concept); built
// straight from the spec.md §9 design note.

// TableHandle identifies one table within the snapshot that produced it.
type TableHandle struct {
	snapshot *Snapshot
	ref      Ref
	name     string
}

// ColumnHandle identifies one column of a TableHandle's table.
type ColumnHandle struct {
	table *TableHandle
	pos   int
	name  string
	kind  ColumnKind
}

// RowHandle identifies one row of a TableHandle's table.
type RowHandle struct {
	table *TableHandle
	row   int
}

// checkLive reports ErrSnapshotExpired if the owning snapshot has already
// been released — every dereference below calls this first.
func (s *Snapshot) checkLive() error {
	if s.released.Load() {
		return ErrSnapshotExpired
	}
	return nil
}

// OpenTable resolves name to a TableHandle within this snapshot.
func (s *Snapshot) OpenTable(name string) (TableHandle, error) {
	if err := s.checkLive(); err != nil {
		return TableHandle{}, err
	}
	g, err := s.Group()
	if err != nil {
		return TableHandle{}, err
	}
	ref, ok, err := GroupFindTable(s, g, name)
	if err != nil {
		return TableHandle{}, err
	}
	if !ok {
		return TableHandle{}, ErrIndexOutOfRange
	}
	return TableHandle{snapshot: s, ref: ref, name: name}, nil
}

// Column resolves name to a ColumnHandle of th.
func (th TableHandle) Column(name string) (ColumnHandle, error) {
	if err := th.snapshot.checkLive(); err != nil {
		return ColumnHandle{}, err
	}
	t, err := readTableRoot(th.snapshot, th.ref)
	if err != nil {
		return ColumnHandle{}, err
	}
	pos, ok, err := namePosition(th.snapshot, t.columnNames, t.numColumns, name)
	if err != nil {
		return ColumnHandle{}, err
	}
	if !ok {
		return ColumnHandle{}, ErrIndexOutOfRange
	}
	meta, err := columnMetaAt(th.snapshot, t, pos)
	if err != nil {
		return ColumnHandle{}, err
	}
	h := th
	return ColumnHandle{table: &h, pos: pos, name: name, kind: meta.kind}, nil
}

// Row resolves a row index to a RowHandle of th, validating it against the
// table's current row count.
func (th TableHandle) Row(row int) (RowHandle, error) {
	if err := th.snapshot.checkLive(); err != nil {
		return RowHandle{}, err
	}
	t, err := readTableRoot(th.snapshot, th.ref)
	if err != nil {
		return RowHandle{}, err
	}
	if row < 0 || uint64(row) >= t.rowCount {
		return RowHandle{}, ErrIndexOutOfRange
	}
	h := th
	return RowHandle{table: &h, row: row}, nil
}

// RowCount returns th's current row count, re-read through the owning
// snapshot on every call (handles never cache data).
func (th TableHandle) RowCount() (uint64, error) {
	if err := th.snapshot.checkLive(); err != nil {
		return 0, err
	}
	return RowCount(th.snapshot, th.ref)
}

// Kind reports whether ch is a scalar or string column.
func (ch ColumnHandle) Kind() ColumnKind { return ch.kind }

// Scalar returns rh's value in the named scalar column.
func (rh RowHandle) Scalar(ch ColumnHandle) (int64, error) {
	if err := rh.table.snapshot.checkLive(); err != nil {
		return 0, err
	}
	return ScalarAt(rh.table.snapshot, rh.table.ref, ch.name, rh.row)
}

// String returns rh's value in the named string column.
func (rh RowHandle) String(ch ColumnHandle) (string, error) {
	if err := rh.table.snapshot.checkLive(); err != nil {
		return "", err
	}
	return StringAt(rh.table.snapshot, rh.table.ref, ch.name, rh.row)
}
