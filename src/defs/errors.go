package defs

import "fmt"

// Err_t is a kernel-style error code: zero means success, the non-zero
// codes below name a failure. Modeled as a signed integer rather than the
// `error` interface because the page-fault path (fault.Resolve) must not
// allocate on its hot path, and an int is free to return and compare.
type Err_t int

// Error taxonomy from spec.md §7.
const (
	EFAULT     Err_t = 1  /// bad address: no area covers it, or it is a guard page
	EPERM      Err_t = 2  /// protection violation: area exists but forbids the access
	ENOMEM     Err_t = 3  /// out of memory: no page available and reservation failed
	EIO        Err_t = 4  /// I/O error from a store's Read/Write
	EBADHANDLR Err_t = 5  /// internal: store's Fault wants the generic VM path to handle it
	EINTR      Err_t = 6  /// a blocking wait was cancelled
	EBADTEAM   Err_t = 7  /// no address space registered for the given team id
	EBADAREA   Err_t = 8  /// no area with the given id
	EINVAL     Err_t = 9  /// invalid argument (bad alignment, bad size, ...)
	ENOHEAP    Err_t = 10 /// retry budget exhausted (bounds package)
	EEXIST     Err_t = 11 /// requested fixed placement overlaps an existing area
	EDELETING  Err_t = 12 /// address space is being torn down; no new areas allowed
)

var names = map[Err_t]string{
	EFAULT:     "bad address",
	EPERM:      "protection violation",
	ENOMEM:     "out of memory",
	EIO:        "I/O error",
	EBADHANDLR: "bad handler",
	EINTR:      "interrupted",
	EBADTEAM:   "bad team",
	EBADAREA:   "bad area",
	EINVAL:     "invalid argument",
	ENOHEAP:    "retry budget exhausted",
	EEXIST:     "area already exists",
	EDELETING:  "address space is deleting",
}

// String renders the error taxonomy name, "ok" for zero (success), and
// the raw code for anything unrecognized.
func (e Err_t) String() string {
	if e == 0 {
		return "ok"
	}
	if s, ok := names[e]; ok {
		return s
	}
	return fmt.Sprintf("err(%d)", int(e))
}

// Error satisfies the standard error interface so Err_t can be wrapped with
// fmt.Errorf at package boundaries that do want a Go error (diag, cmd/vmdemo)
// without forcing every internal call site to allocate one.
func (e Err_t) Error() string {
	return e.String()
}

// Fatal reports whether a user-mode fault of this kind must be delivered to
// the faulting thread as a signal (§7: "bad address and protection
// violations on user faults become signals").
func (e Err_t) Fatal() bool {
	return e == EFAULT || e == EPERM
}
