package lattice

import (
	"testing"
)

// openTestDB opens a fresh database under a per-test temp directory, cleaned
// up automatically via t.Cleanup — mirroring the teacher's tests/Shared.go
// convention of one map instance per test, but scoped to t.TempDir() instead
// of a shared os.TempDir() fixture.
func openTestDB(t *testing.T, opts Options) *DB {
	t.Helper()

	if opts.Path == "" {
		opts.Path = t.TempDir()
	}
	if opts.FileName == "" {
		opts.FileName = "test.db"
	}

	db, err := Open(opts)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func smallTreeOpts() treeOpts {
	return treeOpts{leafFanout: 4, interiorFanout: 4}
}
