package store

import "defs"

// NullStore implements the store interface for reserved address ranges
// that must never resolve to a real page (§3: "Null: pages cannot exist;
// used to represent reserved address ranges").
type NullStore struct {
	refs int32
}

// NewNullStore returns a store representing a reserved, unfaultable
// range.
func NewNullStore() *NullStore { return &NullStore{} }

// Commit always succeeds and reserves nothing: a null range never backs
// a page, so it never counts against the system commit counter.
func (*NullStore) Commit(uint64) defs.Err_t { return 0 }

// HasPage always reports false.
func (*NullStore) HasPage(uint64) bool { return false }

func (*NullStore) Read(uint64, []byte, bool) defs.Err_t  { return defs.EBADHANDLR }
func (*NullStore) Write(uint64, []byte, bool) defs.Err_t { return defs.EBADHANDLR }

// Fault always fails: a null store's entire range is permanently
// unfaultable.
func (*NullStore) Fault(uint64) (FaultResult, defs.Err_t) {
	return FaultGeneric, defs.EFAULT
}

func (*NullStore) Destroy()    {}
func (*NullStore) AcquireRef() {}
func (*NullStore) ReleaseRef() {}
