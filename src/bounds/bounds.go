// Package bounds provides named retry-budget limiters. The fault resolver
// uses one to bound how many times it retries the cache-chain lookup after
// waiting on a page's busy flag (§4.6, §5); each wait itself blocks on the
// page's condition variable, and the budget caps the number of re-walks.
package bounds

// Budget bounds a bounded number of attempts at some named retry loop.
// It is not a rate limiter across calls; each Budget is meant to be
// created fresh for one logical wait and discarded.
type Budget struct {
	tag       string
	remaining int
}

// New returns a Budget for the named loop allowing up to max attempts.
func New(tag string, max int) *Budget {
	if max <= 0 {
		panic("bounds: non-positive budget")
	}
	return &Budget{tag: tag, remaining: max}
}

// Attempt consumes one attempt from the budget. It returns false once the
// budget is exhausted, signaling the caller should give up (typically
// surfacing defs.EINTR or defs.ENOHEAP) rather than spin indefinitely.
func (b *Budget) Attempt() bool {
	if b.remaining <= 0 {
		return false
	}
	b.remaining--
	return true
}

// Tag returns the name this budget was created with, useful in error
// messages and traces.
func (b *Budget) Tag() string {
	return b.tag
}
