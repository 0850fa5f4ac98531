package store

import (
	"testing"

	"defs"
	"res"
)

func withLimit(t *testing.T, limit int64) {
	t.Helper()
	old := res.Commit.Limit()
	reserved := res.Commit.Reserved()
	res.Commit.SetLimit(reserved + limit)
	t.Cleanup(func() { res.Commit.SetLimit(old) })
}

func TestAnonStoreSimpleDemandZero(t *testing.T) {
	// scenario 1: 16384 bytes, no overcommit, no precommit.
	withLimit(t, 4*defs.PageSize)

	s := NewAnonStore(0, 16384, false, 0, 0, defs.StackGrowsDown)
	if err := s.Commit(16384); err != 0 {
		t.Fatalf("Commit() err = %v", err)
	}
	if got := s.CommittedSize(); got != 16384 {
		t.Fatalf("CommittedSize() = %d; want 16384", got)
	}

	result, err := s.Fault(0)
	if err != 0 || result != FaultGeneric {
		t.Fatalf("Fault(0) = %v, %v; want FaultGeneric, ok", result, err)
	}
	if s.HasPage(0) {
		t.Fatalf("HasPage(0) = true; anonymous store must never have a page")
	}

	s.Destroy()
	if got := s.CommittedSize(); got != 0 {
		t.Fatalf("CommittedSize() after Destroy = %d; want 0", got)
	}
}

func TestAnonStoreStackGuard(t *testing.T) {
	// scenario 2: 65536-byte stack area, downward growth, guard 4096.
	withLimit(t, defs.PageSize)

	s := NewAnonStore(0, 65536, true, 0, defs.PageSize, defs.StackGrowsDown)
	result, err := s.Fault(0)
	if err != defs.EFAULT || result != FaultGeneric {
		t.Fatalf("Fault(0) in guard range = %v, %v; want FaultGeneric, EFAULT", result, err)
	}

	result, err = s.Fault(defs.PageSize)
	if err != 0 || result != FaultDemandZero {
		t.Fatalf("Fault(PageSize) past guard = %v, %v; want FaultDemandZero, ok", result, err)
	}
}

func TestAnonStoreOvercommitExhaustion(t *testing.T) {
	// scenario 3: 4194304-byte area, overcommit, precommit 16 pages; the
	// 17th touch must fail once the system counter is saturated.
	withLimit(t, 16*defs.PageSize)

	s := NewAnonStore(0, 4194304, true, 16, 0, defs.StackGrowsDown)
	for i := 0; i < 16; i++ {
		result, err := s.Fault(uint64(i) * defs.PageSize)
		if err != 0 || result != FaultDemandZero {
			t.Fatalf("Fault(page %d) = %v, %v; want FaultDemandZero, ok", i, result, err)
		}
	}

	// Saturate the system counter so the 17th fault's one-page reserve fails.
	res.Commit.SetLimit(res.Commit.Reserved())

	result, err := s.Fault(16 * defs.PageSize)
	if err != defs.ENOMEM || result != FaultGeneric {
		t.Fatalf("Fault(page 16) over budget = %v, %v; want FaultGeneric, ENOMEM", result, err)
	}
}

func TestNullStoreNeverFaults(t *testing.T) {
	t.Parallel()

	s := NewNullStore()
	if s.HasPage(0) {
		t.Fatalf("HasPage() on null store = true")
	}
	if _, err := s.Fault(0); err != defs.EFAULT {
		t.Fatalf("Fault() on null store err = %v; want EFAULT", err)
	}
	if err := s.Commit(4096); err != 0 {
		t.Fatalf("Commit() on null store err = %v; want ok", err)
	}
}

func TestDeviceStoreFixedFrame(t *testing.T) {
	t.Parallel()

	d := NewDeviceStore(defs.D_FRAMEBUFFER, 0x1000, 2*defs.PageSize)
	result, err := d.Fault(defs.PageSize)
	if err != 0 || result != FaultHandled {
		t.Fatalf("Fault() = %v, %v; want FaultHandled, ok", result, err)
	}
	frame, ok := d.FrameAt(defs.PageSize)
	if !ok || frame != 0x1001 {
		t.Fatalf("FrameAt() = %v, %v; want 0x1001, true", frame, ok)
	}
	if _, ok := d.FrameAt(3 * defs.PageSize); ok {
		t.Fatalf("FrameAt() past window reported ok")
	}
}
