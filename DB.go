package lattice

import (
	"os"
	"path/filepath"
)

// DB.go ties the file, lock, node pool, and async daemon together behind
// Open/Close, generalizing the teacher's Mari.go (Open/Close/Remove,
// stat-or-create-then-mmap shape) to this spec's durability modes and
// bootstrap of the initial top-reference Array (spec.md §4.1's "thereafter:
// an arbitrary arrangement of node allocations" — the very first one being
// the empty top-ref this repo keeps at byte offset 24).

// Open
//	Opens (creating if necessary) the database at opts.Path/opts.FileName.
func Open(opts Options) (*DB, error) {
	opts.setDefaults()

	if opts.Path == "" {
		return nil, wrapIo("open", os.ErrInvalid)
	}
	if err := os.MkdirAll(opts.Path, 0755); err != nil {
		return nil, wrapIo("mkdir", err)
	}

	dbPath := filepath.Join(opts.Path, opts.FileName)
	lockPath := dbPath + ".lock"

	isNew := false
	if stat, err := os.Stat(dbPath); err != nil {
		if !os.IsNotExist(err) {
			return nil, wrapIo("stat", err)
		}
		isNew = true
	} else if stat.Size() == 0 {
		isNew = true
	}

	ff, err := openFile(dbPath, true)
	if err != nil {
		return nil, err
	}

	lf, err := openLockFile(lockPath, opts.ReaderSlots)
	if err != nil {
		ff.close()
		return nil, err
	}

	db := &DB{
		opts:     opts,
		path:     dbPath,
		lockPath: lockPath,
		file:     ff,
		lock:     lf,
		pool:     newNodePool(opts.NodePoolSize),
		logger:   opts.Logger,
	}
	db.opened.Store(true)

	if isNew {
		if err := db.bootstrap(); err != nil {
			db.Close()
			return nil, err
		}
	} else {
		if _, err := db.file.readHeader(); err != nil {
			db.Close()
			return nil, err
		}
	}

	if opts.Durability == Async {
		db.daemon = newCommitDaemon(db, db.logger)
	}

	return db, nil
}

// bootstrap writes the initial 24-byte header and the empty top-ref Array
// immediately after it, for a freshly created file.
func (db *DB) bootstrap() error {
	if err := db.file.initializeHeader(); err != nil {
		return err
	}

	empty := encodeTopRef(&topRef{fmtVer: currentFmtMajor, fileSize: initialFileSize})
	buf := empty.Encode()

	data := db.file.mmap()
	if fileHeaderSize+len(buf) > len(data) {
		if err := db.growFile(uint64(fileHeaderSize + len(buf))); err != nil {
			return err
		}
		data = db.file.mmap()
	}
	copy(data[fileHeaderSize:fileHeaderSize+len(buf)], buf)

	if db.opts.Durability == Full {
		if err := data.Flush(); err != nil {
			return err
		}
	}
	return nil
}

// growFile grows the mapped file and bumps the lock file's mapping
// generation, so live readers know their cached mapping may be stale the
// next time they translate a Ref (spec.md §4.5's "mapping generation").
func (db *DB) growFile(minSize uint64) error {
	if minSize <= db.file.size() {
		return nil
	}
	if err := db.file.grow(minSize); err != nil {
		return err
	}
	db.lock.bumpGeneration()
	return nil
}

// Close
//	Releases every resource Open acquired. Safe to call once.
func (db *DB) Close() error {
	if !db.opened.CompareAndSwap(true, false) {
		return nil
	}
	if db.daemon != nil {
		db.daemon.stop()
	}

	var firstErr error
	if err := db.file.close(); err != nil && firstErr == nil {
		firstErr = err
	}
	if err := db.lock.close(); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}

// FileSize reports the current logical size of the mapped file.
func (db *DB) FileSize() uint64 { return db.file.size() }

// Remove deletes the database and lock files named by opts. It does not
// close any open DB on those files. Intended for tests, not routine use.
func Remove(opts Options) error {
	opts.setDefaults()
	dbPath := filepath.Join(opts.Path, opts.FileName)
	if err := os.Remove(dbPath); err != nil && !os.IsNotExist(err) {
		return wrapIo("remove", err)
	}
	if err := os.Remove(dbPath + ".lock"); err != nil && !os.IsNotExist(err) {
		return wrapIo("remove", err)
	}
	return nil
}
