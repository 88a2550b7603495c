package lattice

import (
	"os"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"golang.org/x/sys/unix"
)

// Lock.go implements the cross-process coordination surface of spec.md §6:
// a fixed-size, memory-mapped sidecar ".lock" file carrying a reader ring,
// a writer mutex, a reader mutex, a commit counter, and a mapping
// generation. Grounded structurally on the teacher's Version.go (`vIdx`: a
// second mmap'd os.File, `loadStartOffset`/`storeStartOffset` doing atomic
// loads/stores directly against mapped memory), generalized here from "one
// uint64 slot per version" to "one (version, refCount, pid) slot per live
// reader." The writer mutex is a whole-file `flock`; the reader mutex is an
// independent `fcntl` byte-range lock on a single reserved byte — the two
// lock domains never interact on Linux, so there is no deadlock hazard
// between them.

const (
	lockMagic           = "T-LK"
	lockMagicOffset     = 0
	lockGenerationOff   = 8
	lockCommitCounterOff = 16
	lockReaderMutexByte = 24 // fcntl byte-range lock target, not mmap-addressed data
	lockSlotsOffset     = 32

	readerSlotSize    = 16 // version uint64 + refCount uint32 + pid uint32
	slotVersionOff    = 0
	slotRefCountOff   = 8
	slotPidOff        = 12
)

// lockFile owns the sidecar .lock file's mapping and the in-process mutex
// guarding concurrent goroutines of this same process from racing on it.
type lockFile struct {
	f        *os.File
	data     MMap
	numSlots int

	inProcess sync.Mutex
}

func lockFileSize(numSlots int) int64 {
	return int64(lockSlotsOffset + numSlots*readerSlotSize)
}

func openLockFile(path string, numSlots int) (*lockFile, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0644)
	if err != nil {
		return nil, wrapIo("open-lock", err)
	}

	want := lockFileSize(numSlots)
	stat, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, wrapIo("stat-lock", err)
	}

	if stat.Size() == 0 {
		if err := f.Truncate(want); err != nil {
			f.Close()
			return nil, wrapIo("truncate-lock", err)
		}
	} else if stat.Size() != want {
		f.Close()
		return nil, ErrFileFormatMismatch
	}

	data, err := Map(f, RDWR, int(want))
	if err != nil {
		f.Close()
		return nil, err
	}

	lf := &lockFile{f: f, data: data, numSlots: numSlots}

	if stat.Size() == 0 {
		copy(lf.data[lockMagicOffset:lockMagicOffset+4], []byte(lockMagic))
	} else if string(lf.data[lockMagicOffset:lockMagicOffset+4]) != lockMagic {
		lf.close()
		return nil, ErrFileFormatMismatch
	}

	lf.reclaimStale()
	return lf, nil
}

func (lf *lockFile) close() error {
	if err := lf.data.Unmap(); err != nil {
		return err
	}
	return wrapIo("close-lock", lf.f.Close())
}

func (lf *lockFile) slotOffset(i int) int {
	return lockSlotsOffset + i*readerSlotSize
}

func (lf *lockFile) generation() uint64 {
	return atomic.LoadUint64((*uint64)(lf.data.pointerTo(lockGenerationOff)))
}

func (lf *lockFile) bumpGeneration() uint64 {
	return atomic.AddUint64((*uint64)(lf.data.pointerTo(lockGenerationOff)), 1)
}

func (lf *lockFile) commitCounter() uint64 {
	return atomic.LoadUint64((*uint64)(lf.data.pointerTo(lockCommitCounterOff)))
}

func (lf *lockFile) bumpCommitCounter() uint64 {
	return atomic.AddUint64((*uint64)(lf.data.pointerTo(lockCommitCounterOff)), 1)
}

// withReaderMutex runs fn while holding the byte-range fcntl lock guarding
// reader-slot bookkeeping, which is shared across processes.
func (lf *lockFile) withReaderMutex(fn func() error) error {
	flk := unix.Flock_t{
		Type:   unix.F_WRLCK,
		Start:  lockReaderMutexByte,
		Len:    1,
		Whence: 0,
	}
	if err := unix.FcntlFlock(lf.f.Fd(), unix.F_SETLKW, &flk); err != nil {
		return wrapIo("reader-mutex-lock", err)
	}
	defer func() {
		unlock := flk
		unlock.Type = unix.F_UNLCK
		unix.FcntlFlock(lf.f.Fd(), unix.F_SETLK, &unlock)
	}()
	return fn()
}

// acquireWriterMutex blocks until the whole-file flock is held, or reports
// WriteConflict once timeoutMs elapses (0 means block indefinitely).
func (lf *lockFile) acquireWriterMutex(timeoutMs int64) error {
	if timeoutMs <= 0 {
		return wrapIo("writer-mutex-lock", unix.Flock(int(lf.f.Fd()), unix.LOCK_EX))
	}

	deadline := time.Now().Add(time.Duration(timeoutMs) * time.Millisecond)
	for {
		err := unix.Flock(int(lf.f.Fd()), unix.LOCK_EX|unix.LOCK_NB)
		if err == nil {
			return nil
		}
		if err != unix.EWOULDBLOCK {
			return wrapIo("writer-mutex-lock", err)
		}
		if time.Now().After(deadline) {
			return ErrWriteConflict
		}
		time.Sleep(time.Millisecond)
	}
}

func (lf *lockFile) releaseWriterMutex() error {
	return wrapIo("writer-mutex-unlock", unix.Flock(int(lf.f.Fd()), unix.LOCK_UN))
}

// beginRead allocates or reuses a reader slot for version, per spec.md
// §4.5's "starting a read snapshot" steps.
func (lf *lockFile) beginRead(version uint64) (int, error) {
	slotIdx := -1
	err := lf.withReaderMutex(func() error {
		for i := 0; i < lf.numSlots; i++ {
			refCount := atomic.LoadUint32((*uint32)(lf.data.pointerTo(uint64(lf.slotOffset(i) + slotRefCountOff))))
			if refCount == 0 {
				slotIdx = i
				break
			}
		}
		if slotIdx == -1 {
			return ErrTooManyReaders
		}

		off := lf.slotOffset(slotIdx)
		atomic.StoreUint64((*uint64)(lf.data.pointerTo(uint64(off+slotVersionOff))), version)
		atomic.StoreUint32((*uint32)(lf.data.pointerTo(uint64(off+slotPidOff))), uint32(os.Getpid()))
		atomic.StoreUint32((*uint32)(lf.data.pointerTo(uint64(off+slotRefCountOff))), 1)
		return nil
	})
	if err != nil {
		return -1, err
	}
	return slotIdx, nil
}

// endRead releases slotIdx, per spec.md §4.5's "ending a read snapshot".
func (lf *lockFile) endRead(slotIdx int) error {
	if slotIdx < 0 {
		return nil
	}
	return lf.withReaderMutex(func() error {
		off := lf.slotOffset(slotIdx)
		atomic.StoreUint32((*uint32)(lf.data.pointerTo(uint64(off+slotRefCountOff))), 0)
		return nil
	})
}

// minLiveVersion returns the oldest version held by any live reader slot.
func (lf *lockFile) minLiveVersion() (uint64, bool) {
	var min uint64
	found := false
	for i := 0; i < lf.numSlots; i++ {
		off := lf.slotOffset(i)
		refCount := atomic.LoadUint32((*uint32)(lf.data.pointerTo(uint64(off + slotRefCountOff))))
		if refCount == 0 {
			continue
		}
		v := atomic.LoadUint64((*uint64)(lf.data.pointerTo(uint64(off + slotVersionOff))))
		if !found || v < min {
			min, found = v, true
		}
	}
	return min, found
}

// reclaimStale zero-signal probes every occupied slot's recorded pid and
// frees slots whose process no longer exists (spec.md §5's crash recovery).
func (lf *lockFile) reclaimStale() {
	for i := 0; i < lf.numSlots; i++ {
		off := lf.slotOffset(i)
		refCount := atomic.LoadUint32((*uint32)(lf.data.pointerTo(uint64(off + slotRefCountOff))))
		if refCount == 0 {
			continue
		}
		pid := atomic.LoadUint32((*uint32)(lf.data.pointerTo(uint64(off + slotPidOff))))
		if pid == uint32(os.Getpid()) {
			continue
		}
		if err := syscall.Kill(int(pid), syscall.Signal(0)); err == syscall.ESRCH {
			atomic.StoreUint32((*uint32)(lf.data.pointerTo(uint64(off+slotRefCountOff))), 0)
		}
	}
}
