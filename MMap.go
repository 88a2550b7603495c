package lattice

import (
	"os"
	"reflect"
	"unsafe"

	"golang.org/x/sys/unix"
)

// Map memory-maps file starting at offset 0 for length bytes, honoring the
// RDONLY/RDWR/COPY/EXEC/ANON flags declared in Types.go. It reproduces the
// public contract the teacher's test suite exercises (mari.Map, MMap.Flush,
// MMap.Unmap) whose implementation file was not present in the retrieved
// source.
func Map(file *os.File, flag int, length int) (MMap, error) {
	prot := unix.PROT_READ
	if flag&RDWR != 0 {
		prot |= unix.PROT_WRITE
	}
	if flag&EXEC != 0 {
		prot |= unix.PROT_EXEC
	}

	mapFlags := unix.MAP_SHARED
	if flag&COPY != 0 {
		mapFlags = unix.MAP_PRIVATE
	}

	fd := -1
	if flag&ANON == 0 {
		fd = int(file.Fd())
	}

	if length == 0 {
		if fd == -1 {
			return nil, wrapIo("mmap", os.ErrInvalid)
		}
		stat, statErr := file.Stat()
		if statErr != nil {
			return nil, wrapIo("stat", statErr)
		}
		length = int(stat.Size())
	}

	anonFlag := 0
	if flag&ANON != 0 {
		anonFlag = unix.MAP_ANON
	}

	data, mmapErr := unix.Mmap(fd, 0, length, prot, mapFlags|anonFlag)
	if mmapErr != nil {
		return nil, wrapIo("mmap", mmapErr)
	}

	return MMap(data), nil
}

// Flush synchronously flushes every dirty page of the mapping back to its
// backing file (msync(MS_SYNC)).
func (m MMap) Flush() error {
	if len(m) == 0 {
		return nil
	}
	if err := unix.Msync(m, unix.MS_SYNC); err != nil {
		return wrapIo("msync", err)
	}
	return nil
}

// FlushAsync schedules the dirty pages of the mapping for writeback without
// blocking for completion (msync(MS_ASYNC)) — used by the Async durability
// daemon.
func (m MMap) FlushAsync() error {
	if len(m) == 0 {
		return nil
	}
	if err := unix.Msync(m, unix.MS_ASYNC); err != nil {
		return wrapIo("msync", err)
	}
	return nil
}

// Unmap removes the mapping from the process address space.
func (m MMap) Unmap() error {
	if len(m) == 0 {
		return nil
	}
	if err := unix.Munmap(m); err != nil {
		return wrapIo("munmap", err)
	}
	return nil
}

// pointerTo returns an unsafe pointer to byte offset off within the mapping,
// used by the header/meta code to perform atomic word-sized loads/stores
// directly against mapped memory (teacher's Meta.go loadMetaVersion/
// storeMetaPointer pattern).
func (m MMap) pointerTo(off uint64) unsafe.Pointer {
	hdr := (*reflect.SliceHeader)(unsafe.Pointer(&m))
	return unsafe.Pointer(hdr.Data + uintptr(off))
}
