package store

import (
	"defs"
	"mem"
)

// FrameProvider is implemented by stores whose Fault result is a
// specific, already-resident physical frame rather than a request for
// the VM to allocate one. The fault resolver type-asserts for it on a
// device cache's store, without calling the store's Fault.
type FrameProvider interface {
	FrameAt(offset uint64) (mem.PFN, bool)
}

// DeviceStore implements the store interface over a fixed range of
// memory-mapped I/O (§3: "Device: pages are a fixed mapping onto
// physical memory-mapped I/O; fault returns a known frame; no
// eviction").
type DeviceStore struct {
	class     int // one of defs.D_*
	baseFrame mem.PFN
	size      uint64 // bytes
	refs      int32
}

// NewDeviceStore describes a device-backed window of size bytes starting
// at the given physical frame.
func NewDeviceStore(class int, baseFrame mem.PFN, size uint64) *DeviceStore {
	return &DeviceStore{class: class, baseFrame: baseFrame, size: size}
}

// Class reports the device class this store represents.
func (d *DeviceStore) Class() int { return d.class }

// Commit is a no-op: MMIO windows are already resident and never count
// against the system commit counter.
func (d *DeviceStore) Commit(uint64) defs.Err_t { return 0 }

// HasPage reports whether offset falls within the device window.
func (d *DeviceStore) HasPage(offset uint64) bool { return offset < d.size }

// Read/Write are not the access path for MMIO; register access goes
// through the mapping the fault resolver installs directly, not through
// the store.
func (d *DeviceStore) Read(uint64, []byte, bool) defs.Err_t  { return defs.EBADHANDLR }
func (d *DeviceStore) Write(uint64, []byte, bool) defs.Err_t { return defs.EBADHANDLR }

// Fault reports the offset is already resident, deferring frame lookup
// to FrameAt (this store also implements FrameProvider).
func (d *DeviceStore) Fault(offset uint64) (FaultResult, defs.Err_t) {
	if offset >= d.size {
		return FaultGeneric, defs.EFAULT
	}
	return FaultHandled, 0
}

// FrameAt computes the fixed physical frame backing offset.
func (d *DeviceStore) FrameAt(offset uint64) (mem.PFN, bool) {
	if offset >= d.size {
		return 0, false
	}
	return d.baseFrame + mem.PFN(offset/defs.PageSize), true
}

// Destroy is a no-op: a device store does not own the MMIO range, it
// only describes it.
func (d *DeviceStore) Destroy() {}

func (d *DeviceStore) AcquireRef() { d.refs++ }
func (d *DeviceStore) ReleaseRef() { d.refs-- }
