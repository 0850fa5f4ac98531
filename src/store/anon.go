package store

import (
	"sync"

	"defs"
	"res"
)

// AnonStore implements the store interface for caches holding pages with
// no external backing (§4.5). Sizes are in bytes and page-multiples on
// entry; AnonStore rounds nothing itself and trusts its caller (the
// cache layer) to have validated that already.
type AnonStore struct {
	mu sync.Mutex

	virtualBase uint64
	windowSize  uint64 // cache's virtual_size, used to place the guard range
	committedSize uint64

	canOvercommit     bool
	precommitted      bool // true once the first overcommit commit() has run
	precommittedPages int

	guardedSize uint64
	growthDir   defs.StackDirection

	// reservedBytes is what is actually held against res.Commit right
	// now. Under overcommit this tracks only the precommit reservation
	// plus any per-page reservations Fault has made since, which can be
	// less than committedSize — §4.5's "committed_size" names the
	// logical window commitment, not the live system reservation, once
	// overcommit is in play.
	reservedBytes uint64

	refs int32
}

// NewAnonStore builds an anonymous store over a cache window of
// windowSize bytes starting at virtualBase. growthDir only matters when
// guardedSize > 0 (stack areas); for ordinary anonymous memory pass
// guardedSize 0 and any growth direction.
func NewAnonStore(virtualBase, windowSize uint64, canOvercommit bool, precommittedPages int, guardedSize uint64, growthDir defs.StackDirection) *AnonStore {
	return &AnonStore{
		virtualBase:       virtualBase,
		windowSize:        windowSize,
		canOvercommit:     canOvercommit,
		precommittedPages: precommittedPages,
		guardedSize:       guardedSize,
		growthDir:         growthDir,
	}
}

// Commit implements §4.5's commit(size) algorithm exactly.
func (a *AnonStore) Commit(size uint64) defs.Err_t {
	a.mu.Lock()
	defer a.mu.Unlock()

	var s uint64
	if size > a.virtualBase {
		s = size - a.virtualBase
	}

	if a.canOvercommit {
		if a.precommitted {
			a.committedSize = s
			return 0
		}
		need := uint64(a.precommittedPages) * defs.PageSize
		if !res.Commit.TryReserve(int64(need)) {
			return defs.ENOMEM
		}
		a.reservedBytes += need
		a.precommitted = true
		a.committedSize = s
		return 0
	}

	switch {
	case s > a.committedSize:
		delta := s - a.committedSize
		if !res.Commit.TryReserve(int64(delta)) {
			return defs.ENOMEM
		}
		a.reservedBytes += delta
	case s < a.committedSize:
		delta := a.committedSize - s
		res.Commit.Unreserve(int64(delta))
		a.reservedBytes -= delta
	}
	a.committedSize = s
	return 0
}

// HasPage always reports false: anonymous pages do not exist until they
// are demand-zeroed and written.
func (a *AnonStore) HasPage(uint64) bool { return false }

// Read must never be invoked against an anonymous store.
func (a *AnonStore) Read(uint64, []byte, bool) defs.Err_t { return defs.EBADHANDLR }

// Write must never be invoked against an anonymous store.
func (a *AnonStore) Write(uint64, []byte, bool) defs.Err_t { return defs.EBADHANDLR }

// guardRange returns the [lo, hi) byte range, relative to the cache's
// virtual base, that must never be paged in.
func (a *AnonStore) guardRange() (lo, hi uint64) {
	if a.guardedSize == 0 {
		return 0, 0
	}
	if a.growthDir == defs.StackGrowsDown {
		return 0, a.guardedSize
	}
	if a.windowSize < a.guardedSize {
		return 0, a.windowSize
	}
	return a.windowSize - a.guardedSize, a.windowSize
}

// Fault implements §4.5's fault(aspace, offset). The guard check and the
// per-page reservation only apply when the store can overcommit: a
// non-overcommitting store already reserved its whole window at Commit
// time, so its faults pass straight through to the generic cache-chain
// walk (grounded on original_source/vm_store_anonymous_noswap.cpp's
// anonymous_fault, which wraps both checks in `if (can_overcommit)`).
func (a *AnonStore) Fault(offset uint64) (FaultResult, defs.Err_t) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if !a.canOvercommit {
		return FaultGeneric, 0
	}

	if lo, hi := a.guardRange(); hi > lo && offset >= lo && offset < hi {
		return FaultGeneric, defs.EFAULT
	}

	if a.precommittedPages > 0 {
		a.precommittedPages--
		return FaultDemandZero, 0
	}

	if !res.Commit.TryReserve(defs.PageSize) {
		return FaultGeneric, defs.ENOMEM
	}
	a.reservedBytes += defs.PageSize
	return FaultDemandZero, 0
}

// Destroy releases every byte still reserved against the system commit
// counter on this store's behalf (§4.5: "release committed_size bytes
// back to the system accounting").
func (a *AnonStore) Destroy() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.reservedBytes > 0 {
		res.Commit.Unreserve(int64(a.reservedBytes))
		a.reservedBytes = 0
	}
	a.committedSize = 0
}

func (a *AnonStore) AcquireRef() {
	a.mu.Lock()
	a.refs++
	a.mu.Unlock()
}

func (a *AnonStore) ReleaseRef() {
	a.mu.Lock()
	a.refs--
	a.mu.Unlock()
}

// CommittedSize reports the store's logical committed_size, used by
// diagnostics and tests.
func (a *AnonStore) CommittedSize() uint64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.committedSize
}
