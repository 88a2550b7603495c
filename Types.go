package lattice

import (
	"reflect"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"
)

// MMap is the byte slice view of a region mapped into the process address space.
type MMap []byte

// Ref is a logical byte offset into the mapped database file (there are no
// separate writer overflow slabs). A Ref of 0 denotes the null subtree. Refs are 8-byte aligned.
type Ref uint64

// NullRef is the Ref value denoting "no subtree" (spec.md §3).
const NullRef Ref = 0

// DurabilityMode controls when a commit becomes durable on disk (spec.md §4.1).
type DurabilityMode int

const (
	// Full fsyncs the inactive header slot before flipping the commit flag.
	Full DurabilityMode = iota
	// MemOnly never fsyncs; readers still observe a consistent snapshot.
	MemOnly
	// Async flips the flag immediately and hands the version to a background
	// daemon that fsyncs committed versions in order.
	Async
)

func (d DurabilityMode) String() string {
	switch d {
	case Full:
		return "full"
	case MemOnly:
		return "mem-only"
	case Async:
		return "async"
	default:
		return "unknown"
	}
}

// mmap protection/flag constants, carried over from the teacher's Types.go.
const (
	RDONLY = 0
	RDWR   = 1 << iota
	COPY
	EXEC
)

const (
	// ANON maps memory with no backing file.
	ANON = 1 << iota
)

// Node header bit layout (spec.md §6), 8 bytes little-endian.
const (
	headerInteriorBit  = 63
	headerWidthShift   = 60
	headerWidthMask    = 0x7
	headerHasRefsBit   = 59
	headerContextBit   = 58
	headerCountShift   = 32
	headerCountBits    = 26
	headerCountMask    = (uint64(1) << headerCountBits) - 1
	headerCapacityMask = (uint64(1) << 32) - 1

	nodeHeaderSize = 8
)

// File header layout (spec.md §6).
const (
	fileHeaderSize  = 24
	magicOffset     = 0
	magicSize       = 4
	versionOffset   = 4
	flagsOffset     = 6
	reservedOffset  = 7
	top0Offset      = 8
	top1Offset      = 16
	defaultMagic    = "T-DB"
	currentFmtMajor = 1
)

// DefaultPageSize is a fixed 4096-byte page size; it is not queried from the
// host OS.
var DefaultPageSize = 4096

// Options configures Open. It generalizes the teacher's MariOpts with the
// durability, fan-out, and pool knobs spec.md's expanded scope requires.
type Options struct {
	// Path is the directory the database file, lock file, and optional FIFO
	// live in.
	Path string
	// FileName is the main database file's base name (default "lattice.db").
	FileName string

	// Durability selects the commit durability mode (spec.md §4.1).
	Durability DurabilityMode

	// LeafFanout ("L") is the target element count per leaf node.
	LeafFanout int
	// InteriorFanout ("N") is the target child count per interior node.
	InteriorFanout int

	// NodePoolSize bounds the number of recycled Array node buffers kept
	// around between transactions.
	NodePoolSize int64

	// ReaderSlots bounds the cross-process reader ring (spec.md §6); a
	// reader that cannot acquire a slot sees TooManyReaders.
	ReaderSlots int

	// CompactEvery is carried on Options but is not read anywhere in this
	// package: no automatic background compaction runs, whatever its value.
	// Compaction happens only through an explicit DB.Compact call.
	CompactEvery uint64

	// DisableSyncToDisk is the per-instance form of the source's
	// process-wide toggle of the same name (spec.md §9 Design Notes). It is
	// not read anywhere in this package: commits sync according to
	// Durability alone.
	DisableSyncToDisk bool

	// WriteTimeout bounds how long BeginWrite waits to acquire the
	// cross-process writer mutex before failing with WriteConflict. Zero
	// means block indefinitely.
	WriteTimeout int64 // milliseconds; 0 = block forever

	// Logger receives structured events for commits, compaction, and the
	// async daemon. The zero value is a disabled logger.
	Logger zerolog.Logger
}

func (o *Options) setDefaults() {
	if o.FileName == "" {
		o.FileName = "lattice.db"
	}
	if o.LeafFanout <= 0 {
		o.LeafFanout = 1000
	}
	if o.InteriorFanout <= 0 {
		o.InteriorFanout = 1000
	}
	if o.NodePoolSize <= 0 {
		o.NodePoolSize = 1024
	}
	if o.ReaderSlots <= 0 {
		o.ReaderSlots = 256
	}
	if reflect.ValueOf(o.Logger).IsZero() {
		o.Logger = zerolog.Nop()
	}
}

// DB is the open handle to a lattice database: the mapped file, the sidecar
// lock, the node pool, and the durability/daemon plumbing layered over them.
type DB struct {
	opts Options

	path         string
	lockPath     string
	file         *file
	lock         *lockFile
	pool         *nodePool
	logger       zerolog.Logger

	opened atomic.Bool

	// writerMu serializes BeginWrite calls within this process; the
	// cross-process writer mutex in lock.go serializes across processes.
	writerMu sync.Mutex

	daemon *commitDaemon

	compactMu sync.Mutex
}

// Snapshot is an immutable view of the database identified by a commit
// version (spec.md §4.5).
type Snapshot struct {
	db                *DB
	version           uint64
	topRef            Ref
	mappingGeneration uint64
	slab              *slab
	slotIdx           int
	released          atomic.Bool
}

// WriteTxn is the single writer's transaction handle.
type WriteTxn struct {
	Snapshot

	alloc      *txnAlloc
	groupRoot  Ref
	minReader  uint64
	committed  atomic.Bool
}

// freeDelta has the shape of one region freed during a write transaction
// (spec.md §4.2). Nothing in the package uses it: txnAlloc.Free records freed
// regions as freeEntry values (FreeList.go).
type freeDelta struct {
	ref     Ref
	size    uint64
	version uint64
}

// topRef is the tiny array described in spec.md §3: group root, free-list
// triple, format version, logical file size.
type topRef struct {
	groupRoot Ref
	freeList  freeListRefs
	fmtVer    uint16
	fileSize  uint64
}

// freeListRefs is the persisted triple of parallel sequences described in
// spec.md §3's Free-list paragraph.
type freeListRefs struct {
	positions Ref
	sizes     Ref
	versions  Ref
}
