package lattice

// Slab.go implements C2: translating a logical Ref into live bytes, and
// handing out fresh Refs during a write transaction.
//
// Deviation from spec.md §4.2's literal "per-writer in-memory overflow
// slabs, folded into the file only at commit": this implementation grows
// the real file (and remaps) directly as a transaction allocates, rather
// than staging bytes in a separate overflow address space and re-basing
// them at commit. This is safe here because file.grow never moves or
// rewrites existing bytes (ftruncate only appends, and remap reuses the
// same inode's page cache), and because every reader re-fetches the
// current mapping on each access instead of caching a slice across calls
// (see file.mmap, and readNode, which copies each node out while holding
// file.mu's read lock so a concurrent remap cannot unmap it mid-copy) — so a Ref handed
// out mid-transaction is already valid for the writer and simply invisible
// to readers until the commit flips the header's active slot. The geometric
// growth in file.grow still delivers the amortized-realloc behavior the
// slab allocator is there for. Grounded structurally on cznic-exp/lldb's
// falloc.go (best-fit search over a free list, size-class bookkeeping)
// adapted to this spec's Ref/version scheme.

func align8(n int) int {
	return (n + 7) &^ 7
}

// slab is the read-side Ref translator shared by every Snapshot. It never
// caches a mapping slice across calls, so it stays correct across the
// concurrent remaps triggered by an active writer.
type slab struct {
	db *DB
}

// readNode copies out the full encoded byte image (header + payload) of the
// node at ref, or (nil, nil) for NullRef.
func (s *slab) readNode(ref Ref) ([]byte, error) {
	if ref == NullRef {
		return nil, nil
	}

	s.db.file.mu.RLock()
	defer s.db.file.mu.RUnlock()

	data := s.db.file.mmap()
	if uint64(ref)+nodeHeaderSize > uint64(len(data)) {
		return nil, ErrCorruptRef
	}

	_, _, _, _, _, byteCap, err := DecodeNodeHeader(data[ref:])
	if err != nil {
		return nil, err
	}

	end := uint64(ref) + byteCap
	if end > uint64(len(data)) {
		return nil, ErrCorruptRef
	}

	out := make([]byte, byteCap)
	copy(out, data[uint64(ref):end])
	return out, nil
}

// readArray decodes the node at ref as an Array, or (nil, nil) for NullRef.
// The returned Array is drawn from the DB's node pool (see Pool.go); the
// mutation paths in BPTree.go return a superseded node's Array to that pool
// through freeArrayRef instead of leaving it to the garbage collector.
func (s *slab) readArray(ref Ref, signed bool) (*Array, error) {
	raw, err := s.readNode(ref)
	if err != nil || raw == nil {
		return nil, err
	}
	a := s.db.pool.Get()
	if err := decodeArrayInto(a, raw, signed); err != nil {
		s.db.pool.Put(a)
		return nil, err
	}
	return a, nil
}

// readArray is the DB-level convenience used by code without a Snapshot in
// hand (header bootstrap, free-list decode).
func (db *DB) readArray(ref Ref, signed bool) (*Array, error) {
	return (&slab{db: db}).readArray(ref, signed)
}

// txnAlloc is the single writer's allocation arena for the lifetime of one
// WriteTxn: a best-fit search over the persistent free-list, falling back to
// a bump allocation at the tail of the (geometrically grown) file.
type txnAlloc struct {
	db         *DB
	cursor     Ref
	freeList   *freeList
	minReader  uint64
	newVersion uint64
	allocated  uint64
}

func newTxnAlloc(db *DB, fl freeListRefs, minReader, newVersion uint64) (*txnAlloc, error) {
	list, err := decodeFreeList(db, fl)
	if err != nil {
		return nil, err
	}
	return &txnAlloc{
		db:         db,
		cursor:     Ref(db.file.size()),
		freeList:   list,
		minReader:  minReader,
		newVersion: newVersion,
	}, nil
}

// Alloc returns a Ref to a fresh region of at least size bytes, preferring
// an immediately-reusable free-list entry (spec.md §4.2's best-fit rule)
// before growing the file.
func (ta *txnAlloc) Alloc(size int) (Ref, error) {
	size = align8(size)
	if size == 0 {
		size = 8
	}

	if ref, ok := ta.freeList.bestFit(uint64(size), ta.minReader); ok {
		ta.allocated += uint64(size)
		return ref, nil
	}
	return ta.allocRaw(size)
}

// allocRaw bump-allocates at the tail of the file, bypassing the free-list.
// It is also how the free-list's own encoded arrays are written at commit,
// so folding a freed region into the list can never recursively need to
// allocate from that same list.
func (ta *txnAlloc) allocRaw(size int) (Ref, error) {
	size = align8(size)
	needed := uint64(ta.cursor) + uint64(size)

	if needed > ta.db.file.size() {
		if err := ta.db.growFile(needed); err != nil {
			return NullRef, err
		}
	}

	ref := ta.cursor
	ta.cursor += Ref(size)
	ta.allocated += uint64(size)
	return ref, nil
}

// write copies data into the file at ref, which must have come from this
// arena's Alloc/allocRaw.
func (ta *txnAlloc) write(ref Ref, data []byte) error {
	end := uint64(ref) + uint64(len(data))
	if end > ta.db.file.size() {
		if err := ta.db.growFile(end); err != nil {
			return err
		}
	}
	copy(ta.db.file.mmap()[ref:end], data)
	return nil
}

// putArray encodes a and writes it via Alloc, returning its fresh Ref.
func (ta *txnAlloc) putArray(a *Array) (Ref, error) {
	buf := a.Encode()
	ref, err := ta.Alloc(len(buf))
	if err != nil {
		return NullRef, err
	}
	if err := ta.write(ref, buf); err != nil {
		return NullRef, err
	}
	return ref, nil
}

// Free records ref/size as reclaimable once no live reader predates
// ta.newVersion (spec.md §4.2's version-gated reclamation).
func (ta *txnAlloc) Free(ref Ref, size uint64) {
	if ref == NullRef || size == 0 {
		return
	}
	ta.freeList.add(freeEntry{pos: ref, size: size, version: ta.newVersion})
}

// finalize folds every pending free into the working list, coalesces
// adjacent regions, and persists the three parallel sequences, returning the
// refs to store in the new top-ref. The file's new logical size is not yet
// final at this point — Commit still has to allocate the top-ref array
// itself — so callers must read ta.cursor only after that final allocation.
func (ta *txnAlloc) finalize() (freeListRefs, error) {
	ta.freeList.coalesce()

	posBytes, sizeBytes, verBytes := ta.freeList.encode()

	posRef, err := ta.allocRaw(len(posBytes))
	if err != nil {
		return freeListRefs{}, err
	}
	if err := ta.write(posRef, posBytes); err != nil {
		return freeListRefs{}, err
	}

	sizeRef, err := ta.allocRaw(len(sizeBytes))
	if err != nil {
		return freeListRefs{}, err
	}
	if err := ta.write(sizeRef, sizeBytes); err != nil {
		return freeListRefs{}, err
	}

	verRef, err := ta.allocRaw(len(verBytes))
	if err != nil {
		return freeListRefs{}, err
	}
	if err := ta.write(verRef, verBytes); err != nil {
		return freeListRefs{}, err
	}

	return freeListRefs{positions: posRef, sizes: sizeRef, versions: verRef}, nil
}

// Verify reports whether the free-list's own entries are sorted and
// non-overlapping — a cheap internal consistency check. It does not walk the
// live node set, so it does not check spec.md §8 invariant 4 (free U live ==
// [24, size) exactly); nothing in the package calls it.
func (fl *freeList) Verify() error {
	for i := 1; i < len(fl.entries); i++ {
		prev, cur := fl.entries[i-1], fl.entries[i]
		if prev.pos+Ref(prev.size) > cur.pos {
			return ErrCorruptRef
		}
	}
	return nil
}
