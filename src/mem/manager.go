package mem

import (
	"sync"
	"sync/atomic"

	"defs"
	"pressure"
)

// AllocFlags tune Allocate's queue preference and stall behavior.
type AllocFlags uint32

const (
	// AllocClear prefers a page off the clear queue (already zeroed) or
	// zeroes a free page before returning it, for demand-zero faults
	// that must never leak another cache's bytes (§4.6.1).
	AllocClear AllocFlags = 1 << iota
	// AllocNoWait makes Allocate return defs.ENOHEAP immediately instead
	// of notifying the page daemon and blocking.
	AllocNoWait
)

// Manager owns every physical frame in the system and the eight queues of
// §4.4. It has no notion of caches or areas; callers identify ownership
// through the CacheOwner/AreaOwner interfaces on Page.
type Manager struct {
	frames []Page
	ram    []byte // nframes * defs.PageSize bytes of simulated physical RAM

	free     *queue
	clear    *queue
	active   *queue
	inactive *queue
	modified *queue
	wired    *queue
	busy     *queue
	unused   *queue

	total     int64
	available int64 // atomic: free + clear count, maintained incrementally
}

// NewManager builds a page manager over nframes physical frames, all
// initially on the free queue as if supplied unzeroed by the bootloader.
func NewManager(nframes int) *Manager {
	m := &Manager{
		frames:   make([]Page, nframes),
		ram:      make([]byte, nframes*defs.PageSize),
		free:     newQueue(StateFree),
		clear:    newQueue(StateClear),
		active:   newQueue(StateActive),
		inactive: newQueue(StateInactive),
		modified: newQueue(StateModified),
		wired:    newQueue(StateWired),
		busy:     newQueue(StateBusy),
		unused:   newQueue(StateUnused),
		total:    int64(nframes),
	}
	for i := range m.frames {
		p := &m.frames[i]
		p.Frame = PFN(i)
		p.cond = sync.NewCond(&p.mu)
		m.free.pushFront(p)
	}
	m.available = int64(nframes)
	return m
}

// Total reports the number of physical frames managed.
func (m *Manager) Total() int64 { return atomic.LoadInt64(&m.total) }

// Available reports the number of frames on the free or clear queues.
func (m *Manager) Available() int64 { return atomic.LoadInt64(&m.available) }

func (m *Manager) queueFor(s PageState) *queue {
	switch s {
	case StateFree:
		return m.free
	case StateClear:
		return m.clear
	case StateActive:
		return m.active
	case StateInactive:
		return m.inactive
	case StateModified:
		return m.modified
	case StateWired:
		return m.wired
	case StateBusy:
		return m.busy
	default:
		return m.unused
	}
}

// move transitions p from its current queue to the queue for newState,
// updating the available-frame accounting for the free/clear queues.
func (m *Manager) move(p *Page, newState PageState) {
	old := p.State()
	m.queueFor(old).remove(p)
	m.queueFor(newState).pushFront(p)

	wasAvail := old == StateFree || old == StateClear
	isAvail := newState == StateFree || newState == StateClear
	switch {
	case wasAvail && !isAvail:
		atomic.AddInt64(&m.available, -1)
	case !wasAvail && isAvail:
		atomic.AddInt64(&m.available, 1)
	}
}

// Allocate removes one page from the free or clear queue (honoring
// AllocClear) and marks it unused pending the caller assigning an owner
// via Page.SetOwner. If no page is immediately available it notifies the
// page scanner daemon over pressure.Ch and waits to be resumed, unless
// AllocNoWait is set (§5 "page allocation when the free pool is empty").
func (m *Manager) Allocate(flags AllocFlags) (*Page, defs.Err_t) {
	for {
		var p *Page
		var fromFree bool
		if flags&AllocClear != 0 {
			if p = m.clear.popBack(); p == nil {
				p = m.free.popBack()
				fromFree = true
			}
		} else {
			if p = m.free.popBack(); p != nil {
				fromFree = true
			} else {
				p = m.clear.popBack()
			}
		}
		if p != nil {
			atomic.AddInt64(&m.available, -1)
			p.mu.Lock()
			p.state = StateUnused
			p.usageCount = 0
			p.mu.Unlock()
			m.unused.pushFront(p)
			if flags&AllocClear != 0 && fromFree {
				// a free-queue page carries unzeroed bytes; a clear-queue
				// page was already zeroed when it was marked clear.
				clear(m.Bytes(p.Frame))
			}
			return p, 0
		}

		if flags&AllocNoWait != 0 {
			return nil, defs.ENOHEAP
		}
		resume := make(chan bool, 1)
		pressure.Ch <- pressure.Request{Need: 1, Resume: resume}
		if ok := <-resume; !ok {
			return nil, defs.ENOHEAP
		}
	}
}

// Free returns p to the free queue, detaching it from any cache and
// clearing its mapping list's owner-visible state. Callers must have
// already torn down every Mapping via area/cache bookkeeping; Free
// itself does not walk p.Mappings().
func (m *Manager) Free(p *Page) {
	p.ClearOwner()
	m.move(p, StateFree)
}

// Wire pins p against eviction and reclamation, incrementing its wired
// count; a page may be wired by more than one caller; it returns to the
// wired queue only on the first Wire call.
func (m *Manager) Wire(p *Page) {
	p.mu.Lock()
	first := p.wiredCount == 0
	p.wiredCount++
	p.mu.Unlock()
	if first {
		m.move(p, StateWired)
	}
}

// Unwire releases one pin installed by Wire. Once the wired count drops
// to zero the page moves to the active queue, where the scanner will
// reconsider it normally.
func (m *Manager) Unwire(p *Page) {
	p.mu.Lock()
	if p.wiredCount > 0 {
		p.wiredCount--
	}
	last := p.wiredCount == 0
	p.mu.Unlock()
	if last {
		m.move(p, StateActive)
	}
}

// MarkModified moves p to the modified queue, recording that its
// contents differ from what the owning store last committed and must be
// written back before the frame can be reused (§4.4).
func (m *Manager) MarkModified(p *Page) {
	if p.WiredCount() > 0 {
		return
	}
	m.move(p, StateModified)
}

// MarkActive moves p to the active queue, typically after a fault
// resolves or the scanner observes recent use.
func (m *Manager) MarkActive(p *Page) {
	if p.WiredCount() > 0 {
		return
	}
	m.move(p, StateActive)
}

// MarkInactive moves p to the inactive queue, the scanner's first stop
// for pages it judges cold (§4.4, §4.7).
func (m *Manager) MarkInactive(p *Page) {
	if p.WiredCount() > 0 {
		return
	}
	m.move(p, StateInactive)
}

// MarkClear zeroes p's backing bytes and moves it to the clear queue
// instead of the free queue, so a later AllocClear can skip zeroing it.
func (m *Manager) MarkClear(p *Page) {
	p.ClearOwner()
	clear(m.Bytes(p.Frame))
	m.move(p, StateClear)
}

// Bytes returns the page-sized byte window backing frame's physical
// memory. Stores and the fault resolver use it to read, write, and copy
// page contents directly, since this manager has no separate "physical
// memory" abstraction beyond the frame table (§3 "Physical page").
func (m *Manager) Bytes(frame PFN) []byte {
	off := int(frame) * defs.PageSize
	return m.ram[off : off+defs.PageSize]
}

// QueueLen reports how many pages currently sit in the named queue,
// exposed for the diagnostics dump and tests.
func (m *Manager) QueueLen(s PageState) int {
	return m.queueFor(s).len()
}

// ActivePages and InactivePages return snapshots for the page scanner
// daemon to walk when deciding what to demote or evict (§4.7).
func (m *Manager) ActivePages() []*Page   { return m.active.snapshot() }
func (m *Manager) InactivePages() []*Page { return m.inactive.snapshot() }
func (m *Manager) ModifiedPages() []*Page { return m.modified.snapshot() }

// Page returns the descriptor for the given frame number. Panics if frame
// is out of range, mirroring a kernel bug-check on a bad physical address.
func (m *Manager) Page(frame PFN) *Page {
	return &m.frames[frame]
}
