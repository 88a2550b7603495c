package lattice

import (
	"bytes"
	"encoding/binary"
	"errors"
	"os"
	"sync"
	"sync/atomic"

	"golang.org/x/sys/unix"
)

// file owns the memory-mapped region backing a DB: the os.File, the current
// mapping, and the logical size agreed by the header (spec.md §4.1).
type file struct {
	path string
	f    *os.File
	data atomic.Value // MMap

	mu          sync.RWMutex // guards remap; slab.readNode RLocks it to read a stable mapping
	logicalSize uint64
}

// initialFileSize is the size a brand new database file is truncated to
// before its header and initial top-reference are written.
const initialFileSize = 1 << 16 // 64KiB

// growthCap bounds a single growth step, mirroring the teacher's MaxResize.
const growthCap = 1 << 30 // 1GB

func openFile(path string, writable bool) (*file, error) {
	flag := os.O_RDONLY
	if writable {
		flag = os.O_RDWR | os.O_CREATE
	}

	f, err := os.OpenFile(path, flag, 0644)
	if err != nil {
		return nil, wrapIo("open", err)
	}

	ff := &file{path: path, f: f}
	ff.data.Store(MMap{})

	stat, statErr := f.Stat()
	if statErr != nil {
		f.Close()
		return nil, wrapIo("stat", statErr)
	}

	size := uint64(stat.Size())
	if size == 0 {
		if !writable {
			f.Close()
			return nil, wrapIo("stat", os.ErrNotExist)
		}
		if err := f.Truncate(initialFileSize); err != nil {
			f.Close()
			return nil, wrapIo("truncate", err)
		}
		size = initialFileSize
	}

	if err := ff.remap(size, writable); err != nil {
		f.Close()
		return nil, err
	}

	return ff, nil
}

func (ff *file) remap(size uint64, writable bool) error {
	ff.mu.Lock()
	defer ff.mu.Unlock()

	old := ff.data.Load().(MMap)
	if len(old) > 0 {
		if err := old.Unmap(); err != nil {
			return err
		}
	}

	mapFlag := RDONLY
	if writable {
		mapFlag = RDWR
	}

	data, err := Map(ff.f, mapFlag, int(size))
	if err != nil {
		return err
	}

	ff.data.Store(data)
	atomic.StoreUint64(&ff.logicalSize, size)
	return nil
}

// grow extends the file and its mapping to at least size bytes. Existing Refs
// remain valid: growth only ever appends.
func (ff *file) grow(size uint64) error {
	cur := atomic.LoadUint64(&ff.logicalSize)
	if size <= cur {
		return nil
	}

	newSize := cur * 2
	if newSize < size {
		newSize = size
	}
	if cur > 0 && newSize-cur > growthCap {
		newSize = cur + growthCap
	}

	if err := ff.f.Truncate(int64(newSize)); err != nil {
		if errors.Is(err, unix.ENOSPC) || errors.Is(err, unix.EFBIG) {
			return ErrStorageFull
		}
		return &IoError{Op: "grow", Cause: err}
	}

	return ff.remap(newSize, true)
}

func (ff *file) mmap() MMap {
	return ff.data.Load().(MMap)
}

func (ff *file) size() uint64 {
	return atomic.LoadUint64(&ff.logicalSize)
}

func (ff *file) close() error {
	data := ff.data.Load().(MMap)
	if err := data.Unmap(); err != nil {
		return err
	}
	return wrapIo("close", ff.f.Close())
}

// ==================================== File header (spec.md §6, bit-exact) ====================================

// header mirrors the first 24 bytes of the database file.
type header struct {
	magic   [4]byte
	version uint16
	flags   byte
	// byte 7 reserved, always zero
	top [2]Ref
}

func decodeHeader(b []byte) (*header, error) {
	if len(b) < fileHeaderSize {
		return nil, ErrCorruptHeader
	}

	h := &header{}
	copy(h.magic[:], b[magicOffset:magicOffset+magicSize])
	h.version = binary.LittleEndian.Uint16(b[versionOffset : versionOffset+2])
	h.flags = b[flagsOffset]

	if b[reservedOffset] != 0 {
		return nil, ErrCorruptHeader
	}

	h.top[0] = Ref(binary.LittleEndian.Uint64(b[top0Offset : top0Offset+8]))
	h.top[1] = Ref(binary.LittleEndian.Uint64(b[top1Offset : top1Offset+8]))

	return h, nil
}

func (h *header) validate() error {
	if !bytes.Equal(h.magic[:], []byte(defaultMagic)) {
		return ErrFileFormatMismatch
	}
	if h.version != currentFmtMajor {
		return ErrFileFormatMismatch
	}
	if h.flags&^byte(1) != 0 {
		return ErrCorruptHeader
	}
	return nil
}

func (h *header) activeSlot() int {
	return int(h.flags & 1)
}

func (h *header) activeTop() Ref {
	return h.top[h.activeSlot()]
}

func encodeHeaderInto(b []byte, magic string, version uint16, flags byte, top0, top1 Ref) {
	copy(b[magicOffset:magicOffset+magicSize], []byte(magic))
	binary.LittleEndian.PutUint16(b[versionOffset:versionOffset+2], version)
	b[flagsOffset] = flags
	b[reservedOffset] = 0
	binary.LittleEndian.PutUint64(b[top0Offset:top0Offset+8], uint64(top0))
	binary.LittleEndian.PutUint64(b[top1Offset:top1Offset+8], uint64(top1))
}

func (ff *file) readHeader() (*header, error) {
	data := ff.mmap()
	if len(data) < fileHeaderSize {
		return nil, ErrCorruptHeader
	}
	h, err := decodeHeader(data)
	if err != nil {
		return nil, err
	}
	if err := h.validate(); err != nil {
		return nil, err
	}
	return h, nil
}

// writeInactiveTop fills the slot the current header flag does not point at
// with newTop. Flushing is the caller's responsibility (Transaction.go's
// Commit flushes the whole mapping before flipping, per spec.md §4.1).
func (ff *file) writeInactiveTop(newTop Ref) (int, error) {
	data := ff.mmap()
	h, err := decodeHeader(data)
	if err != nil {
		return 0, err
	}

	inactive := 1 - h.activeSlot()
	off := top0Offset
	if inactive == 1 {
		off = top1Offset
	}

	binary.LittleEndian.PutUint64(data[off:off+8], uint64(newTop))
	return inactive, nil
}

// flip atomically rewrites the single flag byte selecting the authoritative
// slot, then (for Full durability) msyncs that single aligned byte.
func (ff *file) flip(slot int, durability DurabilityMode) error {
	data := ff.mmap()
	data[flagsOffset] = byte(slot)

	if durability == Full {
		if err := unix.Msync(data[flagsOffset&^7:flagsOffset&^7+8], unix.MS_SYNC); err != nil {
			return wrapIo("msync-flip", err)
		}
	}
	return nil
}

func (ff *file) initializeHeader() error {
	data := ff.mmap()
	encodeHeaderInto(data, defaultMagic, currentFmtMajor, 0, Ref(fileHeaderSize), Ref(fileHeaderSize))
	return nil
}
