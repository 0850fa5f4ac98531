// Package pressure carries the memory-pressure handoff between a
// page allocator that has just exhausted mem's free/clear queues and
// the page scanner daemon that reclaims pages back into them — the
// suspension point named in §5 ("page allocation when the free pool
// is empty (the caller waits on a condition signaled by the page
// daemon)"). Named and shaped after the request/reply pattern the
// res package already uses for the commit counter, rather than a raw
// "OOM" signal: a Request is a bounded ask ("I need n pages"), not an
// unconditional failure notice.
package pressure

// Ch is the channel a stalled allocator sends a Request on. The page
// scanner daemon (package daemon) receives from it, reclaims pages,
// and replies on Request.Resume with whether enough became available;
// it never blocks sending that reply, so a Request must always be
// received with a buffered or immediately-drained Resume channel.
var Ch chan Request = make(chan Request)

// Request describes one stalled allocation: Need pages are wanted,
// and Resume carries the scanner's verdict once it has tried to free
// some.
type Request struct {
	Need   int
	Resume chan bool
}
