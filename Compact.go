package lattice

import (
	"context"
	"os"

	"github.com/google/uuid"
)

// Compact.go implements the supplemental no-reader compaction pass that
// resolves spec.md §9's open question the way spec.md itself suggests:
// compaction requires exclusive (no-reader) access, checked once against
// the reader ring before proceeding. Grounded on the teacher's Compact.go/
// CompactUtils.go (temp file, recursive rewrite of the live version, sync,
// unmap, rename-swap, reopen) but rewritten at the domain-model level: this
// core's node graph mixes several distinct Ref semantics (blob refs,
// tree-of-trees row-sets, flat fixed-shape records) that a single blind
// node-by-node copy would have to special-case anyway, so the rewrite walks
// the Group/Table/Column API instead of raw Arrays, the way the teacher's
// own serializeCurrentVersionToNewFile walks its HAMT node-by-node.

// Compact rewrites db's live Group/Table forest into a fresh file with the
// free-list emptied, then swaps it in under db's existing path. It
// requires that no reader currently holds a snapshot and that no other
// write or compaction is already in progress; ctx cancellation is checked
// between tables.
func (db *DB) Compact(ctx context.Context) error {
	db.compactMu.Lock()
	defer db.compactMu.Unlock()

	db.writerMu.Lock()
	defer db.writerMu.Unlock()

	if err := db.lock.acquireWriterMutex(db.opts.WriteTimeout); err != nil {
		return err
	}
	defer db.lock.releaseWriterMutex()

	if _, found := db.lock.minLiveVersion(); found {
		return ErrWriteConflict
	}

	h, err := db.file.readHeader()
	if err != nil {
		return err
	}
	srcTop, err := db.readTopRef(h.activeTop())
	if err != nil {
		return err
	}
	src := &slab{db: db}

	tempPath := db.path + ".compact-" + uuid.NewString()
	tempLockPath := tempPath + ".lock"

	tempFile, err := openFile(tempPath, true)
	if err != nil {
		return err
	}
	tempLock, err := openLockFile(tempLockPath, db.opts.ReaderSlots)
	if err != nil {
		tempFile.close()
		os.Remove(tempPath)
		return err
	}

	tmp := &DB{
		opts:   db.opts,
		path:   tempPath,
		file:   tempFile,
		lock:   tempLock,
		pool:   newNodePool(db.opts.NodePoolSize),
		logger: db.logger,
	}
	tmp.opened.Store(true)

	cleanup := func() {
		tmp.Close()
		os.Remove(tempPath)
		os.Remove(tempLockPath)
	}

	if err := tmp.bootstrap(); err != nil {
		cleanup()
		return err
	}

	if err := copyForest(ctx, src, srcTop.groupRoot, tmp); err != nil {
		cleanup()
		return err
	}

	if err := tmp.file.close(); err != nil {
		cleanup()
		return err
	}
	if err := tmp.lock.close(); err != nil {
		os.Remove(tempPath)
		os.Remove(tempLockPath)
		return err
	}

	if err := db.file.close(); err != nil {
		return err
	}
	if err := os.Rename(tempPath, db.path); err != nil {
		return err
	}
	os.Remove(tempLockPath)

	newFile, err := openFile(db.path, true)
	if err != nil {
		return err
	}
	db.file = newFile
	db.lock.bumpGeneration()

	db.logger.Info().Str("path", db.path).Msg("compaction complete")
	return nil
}

// copyForest rebuilds every table reachable from groupRoot inside tmp, in a
// single write transaction.
func copyForest(ctx context.Context, src nodeReader, groupRoot Ref, tmp *DB) error {
	srcGroup, err := readGroup(src, groupRoot)
	if err != nil {
		return err
	}
	names, err := GroupTableNames(src, srcGroup)
	if err != nil {
		return err
	}

	wt, err := tmp.BeginWrite()
	if err != nil {
		return err
	}

	opts := treeOpts{leafFanout: tmp.opts.LeafFanout, interiorFanout: tmp.opts.InteriorFanout}
	dstGroup := Group{}

	for _, name := range names {
		if err := ctx.Err(); err != nil {
			wt.Rollback()
			return err
		}

		srcTableRef, ok, err := GroupFindTable(src, srcGroup, name)
		if err != nil {
			wt.Rollback()
			return err
		}
		if !ok {
			continue
		}
		srcTable, err := readTableRoot(src, srcTableRef)
		if err != nil {
			wt.Rollback()
			return err
		}

		var dstTableRef Ref
		dstGroup, dstTableRef, err = GroupCreateTable(wt.Alloc(), dstGroup, name, opts)
		if err != nil {
			wt.Rollback()
			return err
		}

		colNames := make([]string, 0, srcTable.numColumns)
		colMetas := make([]*columnMeta, 0, srcTable.numColumns)
		for pos := 0; pos < srcTable.numColumns; pos++ {
			v, err := Lookup(src, srcTable.columnNames, pos, false)
			if err != nil {
				wt.Rollback()
				return err
			}
			nb, err := getBlob(src, Ref(uint64(v)))
			if err != nil {
				wt.Rollback()
				return err
			}
			meta, err := columnMetaAt(src, srcTable, pos)
			if err != nil {
				wt.Rollback()
				return err
			}
			colNames = append(colNames, string(nb))
			colMetas = append(colMetas, meta)
		}

		for i, colName := range colNames {
			dstTableRef, err = AddColumn(wt.Alloc(), dstTableRef, colName, colMetas[i].kind, colMetas[i].indexed, opts)
			if err != nil {
				wt.Rollback()
				return err
			}
		}

		for row := 0; row < int(srcTable.rowCount); row++ {
			scalars := map[string]int64{}
			strs := map[string]string{}
			for i, colName := range colNames {
				switch colMetas[i].kind {
				case ColumnScalar:
					v, err := ScalarAt(src, srcTableRef, colName, row)
					if err != nil {
						wt.Rollback()
						return err
					}
					scalars[colName] = v
				case ColumnString:
					v, err := StringAt(src, srcTableRef, colName, row)
					if err != nil {
						wt.Rollback()
						return err
					}
					strs[colName] = v
				}
			}
			dstTableRef, err = AppendRow(wt.Alloc(), dstTableRef, scalars, strs, opts)
			if err != nil {
				wt.Rollback()
				return err
			}
		}

		dstGroup, err = GroupSetTableRoot(wt.Alloc(), dstGroup, name, dstTableRef)
		if err != nil {
			wt.Rollback()
			return err
		}
	}

	if err := wt.SaveGroup(dstGroup); err != nil {
		wt.Rollback()
		return err
	}
	return wt.Commit()
}
