package lattice

import "bytes"

// Group.go implements the supplemental data-model layer's directory:
// spec.md §3's "group directory array (table name -> table-root Ref), keyed
// by a small sorted string index tree". There is no teacher file to ground
// this on directly (mari has no multi-column table concept) — it is built
// from spec.md §3's description, reusing C4's position-addressed tree and
// blob storage for the variable-length names.

// Group is the (names, table roots) pair describing a database's table
// directory, kept in ascending name order.
type Group struct {
	Names  Ref // tree of blob Refs (table names), HasRefs
	Tables Ref // tree of table-root Refs, parallel to Names
	Len    int
}

// putBlob stores b as a byte-packed Array node, per spec.md §3's "side blob
// array" used for string/binary column values and, here, table/column names.
func putBlob(ta *txnAlloc, b []byte) (Ref, error) {
	elems := make([]uint64, len(b))
	for i, c := range b {
		elems[i] = uint64(c)
	}
	return ta.putArray(&Array{Elems: elems})
}

func getBlob(r nodeReader, ref Ref) ([]byte, error) {
	a, err := r.readArray(ref, false)
	if err != nil {
		return nil, err
	}
	if a == nil {
		return nil, nil
	}
	out := make([]byte, a.Len())
	for i := range out {
		v, _ := a.Get(i)
		out[i] = byte(v)
	}
	return out, nil
}

// namePosition binary-searches a (names, ...) pair in ascending
// lexicographic order for target, returning the insertion/match position.
// Refs are assumed to fit the positive range of int64: every node header's
// byte-capacity field (spec.md §6) is 32 bits, so no single node, and in
// practice no realistic file built one allocation at a time, approaches
// 2^63 bytes.
func namePosition(r nodeReader, names Ref, length int, target string) (int, bool, error) {
	lo, hi := 0, length
	for lo < hi {
		mid := (lo + hi) / 2
		v, err := Lookup(r, names, mid, false)
		if err != nil {
			return 0, false, err
		}
		name, err := getBlob(r, Ref(uint64(v)))
		if err != nil {
			return 0, false, err
		}
		switch bytes.Compare(name, []byte(target)) {
		case 0:
			return mid, true, nil
		case -1:
			lo = mid + 1
		default:
			hi = mid
		}
	}
	return lo, false, nil
}

// GroupFindTable returns the table-root Ref for name, if present.
func GroupFindTable(r nodeReader, g Group, name string) (Ref, bool, error) {
	pos, ok, err := namePosition(r, g.Names, g.Len, name)
	if err != nil || !ok {
		return NullRef, false, err
	}
	v, err := Lookup(r, g.Tables, pos, false)
	if err != nil {
		return NullRef, false, err
	}
	return Ref(uint64(v)), true, nil
}

// GroupCreateTable inserts a new, empty table named name into g, failing if
// one already exists.
func GroupCreateTable(ta *txnAlloc, g Group, name string, opts treeOpts) (Group, Ref, error) {
	pos, exists, err := namePosition(ta, g.Names, g.Len, name)
	if err != nil {
		return g, NullRef, err
	}
	if exists {
		return g, NullRef, ErrInvalidRange
	}

	nameRef, err := putBlob(ta, []byte(name))
	if err != nil {
		return g, NullRef, err
	}
	tableRootRef, err := ta.putArray(encodeTableRoot(&tableRoot{}))
	if err != nil {
		return g, NullRef, err
	}

	newNames, err := Insert(ta, g.Names, pos, int64(nameRef), opts, false, true)
	if err != nil {
		return g, NullRef, err
	}
	newTables, err := Insert(ta, g.Tables, pos, int64(tableRootRef), opts, false, true)
	if err != nil {
		return g, NullRef, err
	}

	g.Names, g.Tables, g.Len = newNames, newTables, g.Len+1
	return g, tableRootRef, nil
}

// GroupSetTableRoot rewrites the Ref stored for an existing table.
func GroupSetTableRoot(ta *txnAlloc, g Group, name string, newRoot Ref) (Group, error) {
	pos, exists, err := namePosition(ta, g.Names, g.Len, name)
	if err != nil {
		return g, err
	}
	if !exists {
		return g, ErrIndexOutOfRange
	}
	newTables, err := TreeSet(ta, g.Tables, pos, int64(newRoot), false, true)
	if err != nil {
		return g, err
	}
	g.Tables = newTables
	return g, nil
}

// encodeGroup/decodeGroup persist a Group as a flat fixed-shape Array,
// exactly the pattern Transaction.go uses for topRef and Table.go for
// tableRoot.
func encodeGroup(g *Group) *Array {
	return &Array{Elems: []uint64{uint64(g.Names), uint64(g.Tables), uint64(g.Len)}}
}

func decodeGroup(a *Array) *Group {
	if a == nil || a.Len() < 3 {
		return &Group{}
	}
	return &Group{
		Names:  Ref(uint64(mustGet(a, 0))),
		Tables: Ref(uint64(mustGet(a, 1))),
		Len:    int(mustGet(a, 2)),
	}
}

func readGroup(r nodeReader, ref Ref) (Group, error) {
	if ref == NullRef {
		return Group{}, nil
	}
	a, err := r.readArray(ref, false)
	if err != nil {
		return Group{}, err
	}
	return *decodeGroup(a), nil
}

// Group returns the table directory visible to this snapshot.
func (s *Snapshot) Group() (Group, error) {
	ref, err := s.GroupRoot()
	if err != nil {
		return Group{}, err
	}
	return readGroup(s, ref)
}

// Group returns the table directory this transaction has staged so far
// (NullRef/empty before the first SaveGroup of a fresh database).
func (wt *WriteTxn) Group() (Group, error) {
	return readGroup(wt, wt.GroupRoot())
}

// SaveGroup persists g and points this transaction's pending commit at it.
func (wt *WriteTxn) SaveGroup(g Group) error {
	ref, err := wt.Alloc().putArray(encodeGroup(&g))
	if err != nil {
		return err
	}
	wt.SetGroupRoot(ref)
	return nil
}

// GroupTableNames returns every table name in ascending order.
func GroupTableNames(r nodeReader, g Group) ([]string, error) {
	names := make([]string, 0, g.Len)
	cur, err := NewCursor(r, g.Names, false)
	if err != nil {
		return nil, err
	}
	for cur.Next() {
		name, err := getBlob(r, Ref(uint64(cur.Value())))
		if err != nil {
			return nil, err
		}
		names = append(names, string(name))
	}
	return names, cur.Err()
}
