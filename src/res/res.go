// Package res implements the system-wide physical-memory commit counter
// used by backing stores (§4.5, §5, §8 of the specification): a single
// atomic counter that every non-overcommitting store's reservation is
// checked against, so that the sum of all committed_size fields never
// exceeds it.
package res

import "sync/atomic"

// Counter is an atomically-updated reservation counter measured in bytes
// against a fixed limit. A TryReserve either adds the full amount
// requested or leaves the counter unchanged — there is no partial
// reservation.
type Counter struct {
	reserved int64
	limit    int64
}

// NewCounter returns a Counter with the given byte limit.
func NewCounter(limit int64) *Counter {
	return &Counter{limit: limit}
}

// SetLimit adjusts the ceiling the counter reserves against, used at boot
// once the page manager knows how much physical memory actually exists.
func (c *Counter) SetLimit(limit int64) {
	atomic.StoreInt64(&c.limit, limit)
}

// Limit reports the current ceiling.
func (c *Counter) Limit() int64 {
	return atomic.LoadInt64(&c.limit)
}

// TryReserve attempts to add n bytes to the reservation. It succeeds (and
// the counter is increased by exactly n) only if doing so would not exceed
// the limit; otherwise the counter is left unchanged and false is
// returned.
func (c *Counter) TryReserve(n int64) bool {
	if n < 0 {
		panic("res: negative reservation")
	}
	for {
		cur := atomic.LoadInt64(&c.reserved)
		next := cur + n
		if next > atomic.LoadInt64(&c.limit) {
			return false
		}
		if atomic.CompareAndSwapInt64(&c.reserved, cur, next) {
			return true
		}
	}
}

// Unreserve releases n previously reserved bytes back to the counter.
func (c *Counter) Unreserve(n int64) {
	if n < 0 {
		panic("res: negative release")
	}
	if atomic.AddInt64(&c.reserved, -n) < 0 {
		panic("res: released more than was reserved")
	}
}

// Reserved reports the number of bytes currently reserved.
func (c *Counter) Reserved() int64 {
	return atomic.LoadInt64(&c.reserved)
}

// Commit is the process-wide singleton consulted by every store (§5:
// "Committed memory is a single atomic counter shared across all
// stores"). Its limit is set once at boot by the VM facade from the number
// of ordinary (non-device) frames it gives the page manager.
var Commit = NewCounter(0)
