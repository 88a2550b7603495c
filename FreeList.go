package lattice

import "sort"

// freeEntry is one reclaimable file region: spec.md §3's free-list triple
// (positions[i], sizes[i], versions[i]) flattened into a single struct for
// in-memory bookkeeping during a write transaction.
type freeEntry struct {
	pos     Ref
	size    uint64
	version uint64
}

// freeList is the writer's working copy of the persistent free-list,
// decoded from the three parallel Arrays referenced by the current top-ref.
// Grounded on cznic-exp/lldb's falloc.go best-fit allocator, adapted from
// its 16-byte-atom block scheme to this spec's Ref/version scheme.
type freeList struct {
	entries []freeEntry // sorted by pos
}

func decodeFreeList(db *DB, fl freeListRefs) (*freeList, error) {
	positions, err := db.readArray(fl.positions, false)
	if err != nil {
		return nil, err
	}
	sizes, err := db.readArray(fl.sizes, false)
	if err != nil {
		return nil, err
	}
	versions, err := db.readArray(fl.versions, false)
	if err != nil {
		return nil, err
	}

	n := 0
	if positions != nil {
		n = positions.Len()
	}

	out := &freeList{entries: make([]freeEntry, 0, n)}
	for i := 0; i < n; i++ {
		p, _ := positions.Get(i)
		s, _ := sizes.Get(i)
		v, _ := versions.Get(i)
		out.entries = append(out.entries, freeEntry{pos: Ref(p), size: uint64(s), version: uint64(v)})
	}
	sort.Slice(out.entries, func(i, j int) bool { return out.entries[i].pos < out.entries[j].pos })
	return out, nil
}

// bestFit finds the smallest reusable (version <= minReader) entry whose
// size is at least requested, per spec.md §4.2's allocation request rule.
// On success it removes the entry (returning any leftover tail as a new,
// still-reusable entry) and reports the chosen region.
func (fl *freeList) bestFit(requested uint64, minReader uint64) (Ref, bool) {
	best := -1
	for i, e := range fl.entries {
		if e.version > minReader || e.size < requested {
			continue
		}
		if best == -1 || e.size < fl.entries[best].size {
			best = i
		}
	}
	if best == -1 {
		return NullRef, false
	}

	chosen := fl.entries[best]
	fl.entries = append(fl.entries[:best], fl.entries[best+1:]...)

	if leftover := chosen.size - requested; leftover >= 8 {
		fl.entries = append(fl.entries, freeEntry{
			pos:     chosen.pos + Ref(requested),
			size:    leftover,
			version: chosen.version,
		})
		sort.Slice(fl.entries, func(i, j int) bool { return fl.entries[i].pos < fl.entries[j].pos })
	}

	return chosen.pos, true
}

// add folds a newly freed region into the working list without coalescing;
// coalesce is run once, at commit (spec.md §4.2: "merge of adjacent regions
// is mandatory... coalesce at commit").
func (fl *freeList) add(e freeEntry) {
	fl.entries = append(fl.entries, e)
}

// coalesce merges adjacent free regions. When two adjacent regions carry
// different versions, the merged region inherits the larger (less eligible)
// version, since it cannot be reused until both constituent regions are
// safe to reclaim.
func (fl *freeList) coalesce() {
	sort.Slice(fl.entries, func(i, j int) bool { return fl.entries[i].pos < fl.entries[j].pos })

	merged := fl.entries[:0]
	for _, e := range fl.entries {
		if n := len(merged); n > 0 {
			last := &merged[n-1]
			if last.pos+Ref(last.size) == e.pos {
				last.size += e.size
				if e.version > last.version {
					last.version = e.version
				}
				continue
			}
		}
		merged = append(merged, e)
	}
	fl.entries = merged
}

// encode serializes the three parallel sequences back into fresh Array byte
// images, returned in positions/sizes/versions order. These are written via
// the writer's raw (non-reusing) append path — see txnAlloc.allocRaw — to
// avoid the free-list needing to reuse space from itself mid-fold.
func (fl *freeList) encode() (positions, sizes, versions []byte) {
	pa := &Array{Elems: make([]uint64, len(fl.entries))}
	sa := &Array{Elems: make([]uint64, len(fl.entries))}
	va := &Array{Elems: make([]uint64, len(fl.entries))}

	for i, e := range fl.entries {
		pa.Elems[i] = uint64(e.pos)
		sa.Elems[i] = e.size
		va.Elems[i] = e.version
	}

	return pa.Encode(), sa.Encode(), va.Encode()
}

// coversExactly reports whether the union of live (reachable from root) and
// free regions exactly tiles [24, logicalSize) with no gaps or overlaps —
// spec.md §8 invariant 4. The caller supplies the live regions; nothing in
// the package currently calls it.
func coversExactly(live []region, free []freeEntry, logicalSize uint64) bool {
	all := make([]region, 0, len(live)+len(free))
	all = append(all, live...)
	for _, f := range free {
		all = append(all, region{start: uint64(f.pos), length: f.size})
	}

	sort.Slice(all, func(i, j int) bool { return all[i].start < all[j].start })

	cursor := uint64(fileHeaderSize)
	for _, r := range all {
		if r.start != cursor {
			return false
		}
		cursor += r.length
	}
	return cursor == logicalSize
}

// region is a half-open [start, start+length) byte range used by
// coversExactly.
type region struct {
	start  uint64
	length uint64
}
