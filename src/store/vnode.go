package store

import (
	"sync"

	"defs"
	"res"
)

// Vnode is the minimal file-like object a VnodeStore reads through:
// enough surface for the VM side of the contract (§1: "Where VM touches
// [filesystems] ... only the VM-side contract is specified"). A real
// filesystem driver supplies the implementation; this package only
// consumes it.
type Vnode interface {
	// ReadAt/WriteAt mirror io.ReaderAt/io.WriterAt so any *os.File (or a
	// fake in tests) satisfies this trivially.
	ReadAt(p []byte, off int64) (int, error)
	WriteAt(p []byte, off int64) (int, error)
	// Size reports the vnode's current byte length, used to decide
	// HasPage without performing I/O.
	Size() int64
}

// VnodeStore implements the store interface over an external file-like
// object (§3: "Vnode-backed: pages read from / written to an external
// file-like object via the store interface, which is fs-reentrant-aware").
type VnodeStore struct {
	mu            sync.Mutex
	vn            Vnode
	virtualBase   uint64
	committedSize uint64
	refs          int32
}

// NewVnodeStore wraps vn as the backing object for a cache starting at
// virtualBase bytes into the vnode.
func NewVnodeStore(vn Vnode, virtualBase uint64) *VnodeStore {
	return &VnodeStore{vn: vn, virtualBase: virtualBase}
}

// Commit reserves the delta against the system counter exactly like the
// non-overcommitting branch of AnonStore.Commit: a vnode-backed cache
// never overcommits because its pages are always recoverable from the
// file, but the dirty working set still counts against memory pressure.
func (v *VnodeStore) Commit(size uint64) defs.Err_t {
	v.mu.Lock()
	defer v.mu.Unlock()

	var s uint64
	if size > v.virtualBase {
		s = size - v.virtualBase
	}
	switch {
	case s > v.committedSize:
		delta := s - v.committedSize
		if !res.Commit.TryReserve(int64(delta)) {
			return defs.ENOMEM
		}
	case s < v.committedSize:
		res.Commit.Unreserve(int64(v.committedSize - s))
	}
	v.committedSize = s
	return 0
}

// HasPage reports whether offset falls within the vnode's current
// length, i.e. whether a read would find real bytes there.
func (v *VnodeStore) HasPage(offset uint64) bool {
	return int64(offset) < v.vn.Size()
}

// Read fills buf from the vnode at offset.
func (v *VnodeStore) Read(offset uint64, buf []byte, _ bool) defs.Err_t {
	if _, err := v.vn.ReadAt(buf, int64(offset)); err != nil {
		return defs.EIO
	}
	return 0
}

// Write pushes buf back to the vnode at offset.
func (v *VnodeStore) Write(offset uint64, buf []byte, _ bool) defs.Err_t {
	if _, err := v.vn.WriteAt(buf, int64(offset)); err != nil {
		return defs.EIO
	}
	return 0
}

// Fault defers entirely to the generic cache-chain walk: a vnode store
// never demand-zeroes, it either has the page (HasPage) or doesn't (a
// hole, read as zero by the generic path).
func (v *VnodeStore) Fault(uint64) (FaultResult, defs.Err_t) {
	return FaultGeneric, 0
}

// Destroy releases the store's outstanding commit.
func (v *VnodeStore) Destroy() {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.committedSize > 0 {
		res.Commit.Unreserve(int64(v.committedSize))
		v.committedSize = 0
	}
}

func (v *VnodeStore) AcquireRef() {
	v.mu.Lock()
	v.refs++
	v.mu.Unlock()
}

func (v *VnodeStore) ReleaseRef() {
	v.mu.Lock()
	v.refs--
	v.mu.Unlock()
}
