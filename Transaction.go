package lattice

// Transaction.go implements C5's Snapshot/WriteTxn lifecycle: BeginRead,
// BeginWrite, Commit, Rollback. Grounded on the teacher's Transaction.go
// (the ViewTx/UpdateTx split, by name) generalized from "mari root pointer"
// to "top-reference" (spec.md §3) and stripped of the CAS retry loop C4's
// design note already explains (this core has at most one writer).

// encodeTopRef builds the on-disk encoding of the topRef record (spec.md §3):
// a flat, non-recursive Array used purely as a fixed-shape struct, not as
// a tree node.
func encodeTopRef(t *topRef) *Array {
	return &Array{Elems: []uint64{
		uint64(t.groupRoot),
		uint64(t.freeList.positions),
		uint64(t.freeList.sizes),
		uint64(t.freeList.versions),
		uint64(t.fmtVer),
		t.fileSize,
	}}
}

func decodeTopRef(a *Array) *topRef {
	if a == nil || a.Len() < 6 {
		return &topRef{}
	}
	return &topRef{
		groupRoot: Ref(uint64(mustGet(a, 0))),
		freeList: freeListRefs{
			positions: Ref(uint64(mustGet(a, 1))),
			sizes:     Ref(uint64(mustGet(a, 2))),
			versions:  Ref(uint64(mustGet(a, 3))),
		},
		fmtVer:   uint16(mustGet(a, 4)),
		fileSize: uint64(mustGet(a, 5)),
	}
}

func (db *DB) readTopRef(ref Ref) (*topRef, error) {
	if ref == NullRef {
		return &topRef{}, nil
	}
	a, err := db.readArray(ref, false)
	if err != nil {
		return nil, err
	}
	return decodeTopRef(a), nil
}

// BeginRead
//	Opens a read-only Snapshot of the database's current committed state,
//	per spec.md §4.5's "starting a read snapshot" steps.
func (db *DB) BeginRead() (*Snapshot, error) {
	h, err := db.file.readHeader()
	if err != nil {
		return nil, err
	}
	top := h.activeTop()

	version := db.lock.commitCounter()
	slotIdx, err := db.lock.beginRead(version)
	if err != nil {
		return nil, err
	}

	return &Snapshot{
		db:                db,
		version:           version,
		topRef:            top,
		mappingGeneration: db.lock.generation(),
		slab:              &slab{db: db},
		slotIdx:           slotIdx,
	}, nil
}

// Release ends a read snapshot, per spec.md §4.5's "ending a read
// snapshot". Safe to call more than once; only the first call has effect.
func (s *Snapshot) Release() error {
	if !s.released.CompareAndSwap(false, true) {
		return nil
	}
	return s.db.lock.endRead(s.slotIdx)
}

// Version reports the commit version this snapshot observes.
func (s *Snapshot) Version() uint64 { return s.version }

// GroupRoot returns the Ref of the group directory visible to this
// snapshot (spec.md §3's data model, see Group.go).
func (s *Snapshot) GroupRoot() (Ref, error) {
	top, err := s.db.readTopRef(s.topRef)
	if err != nil {
		return NullRef, err
	}
	return top.groupRoot, nil
}

// readArray lets Snapshot satisfy nodeReader directly.
func (s *Snapshot) readArray(ref Ref, signed bool) (*Array, error) {
	return s.slab.readArray(ref, signed)
}

// BeginWrite
//	Acquires the single writer slot (both in-process and cross-process) and
//	starts a transaction from the current committed top-ref, per spec.md
//	§4.5's "starting a write transaction".
func (db *DB) BeginWrite() (*WriteTxn, error) {
	db.writerMu.Lock()

	if err := db.lock.acquireWriterMutex(db.opts.WriteTimeout); err != nil {
		db.writerMu.Unlock()
		return nil, err
	}

	h, err := db.file.readHeader()
	if err != nil {
		db.lock.releaseWriterMutex()
		db.writerMu.Unlock()
		return nil, err
	}
	top := h.activeTop()

	curTop, err := db.readTopRef(top)
	if err != nil {
		db.lock.releaseWriterMutex()
		db.writerMu.Unlock()
		return nil, err
	}

	minReader, ok := db.lock.minLiveVersion()
	if !ok {
		minReader = db.lock.commitCounter()
	}
	newVersion := db.lock.commitCounter() + 1

	alloc, err := newTxnAlloc(db, curTop.freeList, minReader, newVersion)
	if err != nil {
		db.lock.releaseWriterMutex()
		db.writerMu.Unlock()
		return nil, err
	}

	return &WriteTxn{
		Snapshot: Snapshot{
			db:                db,
			version:           newVersion,
			topRef:            top,
			mappingGeneration: db.lock.generation(),
			slab:              &slab{db: db},
			slotIdx:           -1,
		},
		alloc:     alloc,
		groupRoot: curTop.groupRoot,
		minReader: minReader,
	}, nil
}

// SetGroupRoot updates the group directory root that will be published on
// Commit.
func (wt *WriteTxn) SetGroupRoot(ref Ref) { wt.groupRoot = ref }

// GroupRoot returns the group directory root as it stands within this
// transaction (possibly not yet committed).
func (wt *WriteTxn) GroupRoot() Ref { return wt.groupRoot }

// Alloc exposes the writer's allocation arena to the data-model layer
// (Group.go/Table.go), which needs to allocate and free Array nodes
// directly as it threads tree mutations through.
func (wt *WriteTxn) Alloc() *txnAlloc { return wt.alloc }

// Commit
//	Folds the free-list, persists a new top-ref, and performs the write-flip
//	protocol of spec.md §4.5 step by step:
//  1. fold pending frees into the free-list and persist it
//  2. grow the file to cover every new Ref (already done incrementally by
//     the allocator)
//  3. write the new top-ref into the inactive header slot
//  4. fsync in Full mode
//  5. atomically flip the active-slot flag
//  6. hand the version to the async daemon in Async mode
//  7. bump the commit counter and release the writer mutex
func (wt *WriteTxn) Commit() error {
	if !wt.committed.CompareAndSwap(false, true) {
		return nil
	}
	defer wt.endWrite()

	flRefs, err := wt.alloc.finalize()
	if err != nil {
		return err
	}

	// fileSize must cover the top-ref array's own bytes, but that array's
	// encoded size can in principle shift with the magnitude of fileSize
	// itself (its bit-packed width escalates with its largest element).
	// Encode provisionally to size the allocation, then fill in the real
	// high-water mark once that allocation is known, re-encoding once more
	// in case the new fileSize value pushed the width up a tier.
	newTop := &topRef{
		groupRoot: wt.groupRoot,
		freeList:  flRefs,
		fmtVer:    currentFmtMajor,
	}
	provisional := len(encodeTopRef(newTop).Encode())
	newTop.fileSize = uint64(wt.alloc.cursor) + uint64(provisional)
	buf := encodeTopRef(newTop).Encode()
	if len(buf) != provisional {
		newTop.fileSize = uint64(wt.alloc.cursor) + uint64(len(buf))
		buf = encodeTopRef(newTop).Encode()
	}

	newTopRef, err := wt.alloc.Alloc(len(buf))
	if err != nil {
		return err
	}
	if err := wt.alloc.write(newTopRef, buf); err != nil {
		return err
	}

	inactive, err := wt.db.file.writeInactiveTop(newTopRef)
	if err != nil {
		return err
	}

	if wt.db.opts.Durability == Full {
		if err := wt.db.file.mmap().Flush(); err != nil {
			return err
		}
	}

	if err := wt.db.file.flip(inactive, wt.db.opts.Durability); err != nil {
		return err
	}

	version := wt.db.lock.bumpCommitCounter()

	if wt.db.opts.Durability == Async && wt.db.daemon != nil {
		wt.db.daemon.enqueue(version)
	}

	wt.db.logger.Debug().
		Uint64("version", version).
		Str("durability", wt.db.opts.Durability.String()).
		Msg("commit")

	return nil
}

// Rollback
//	Discards the in-memory allocator state and releases the writer mutex;
//	nothing on disk has changed (spec.md §4.5's "rollback").
func (wt *WriteTxn) Rollback() error {
	if !wt.committed.CompareAndSwap(false, true) {
		return nil
	}
	wt.endWrite()
	return nil
}

func (wt *WriteTxn) endWrite() {
	wt.db.lock.releaseWriterMutex()
	wt.db.writerMu.Unlock()
}

// readArray lets WriteTxn satisfy nodeReader directly (reads during a
// write transaction go through the same mapped file, see Slab.go's note on
// why no separate overflow address space is needed).
func (wt *WriteTxn) readArray(ref Ref, signed bool) (*Array, error) {
	return wt.alloc.readArray(ref, signed)
}
