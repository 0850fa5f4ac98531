// Package mem implements the physical page manager of spec.md §4.4: page
// descriptors, the eight page-state queues, and the allocation/eviction
// primitives the rest of the VM core builds on. Field shapes are grounded
// directly on Haiku's vm_page (headers/private/kernel/vm_types.h); the
// per-CPU free-list sharding and reference-counted sharing in the
// teacher's own mem.Physmem_t is dropped because this spec's ownership
// model (§3 "Ownership") has each page owned by at most one cache, not
// shared by refcount — copy-on-write here allocates a fresh page rather
// than bumping a shared page's refcount.
package mem

import (
	"sync"
)

// PFN is a physical frame number.
type PFN uint64

// PageType mirrors Haiku's PAGE_TYPE_* (vm_types.h).
type PageType uint8

const (
	TypePhysical PageType = iota
	TypeDummy
	TypeGuard
)

// PageState mirrors Haiku's PAGE_STATE_* (vm_types.h) and names which
// queue currently owns the page.
type PageState uint8

const (
	StateActive PageState = iota
	StateInactive
	StateBusy
	StateModified
	StateFree
	StateClear
	StateWired
	StateUnused
)

func (s PageState) String() string {
	switch s {
	case StateActive:
		return "active"
	case StateInactive:
		return "inactive"
	case StateBusy:
		return "busy"
	case StateModified:
		return "modified"
	case StateFree:
		return "free"
	case StateClear:
		return "clear"
	case StateWired:
		return "wired"
	case StateUnused:
		return "unused"
	default:
		return "unknown"
	}
}

// CacheOwner is the identity a cache presents to the page manager, kept
// minimal so that mem never has to import the cache package (cache
// imports mem for Page, not the other way around).
type CacheOwner interface {
	// CacheID uniquely identifies the owning cache for the lifetime of
	// the process.
	CacheID() uint64
}

// AreaOwner is the identity an area presents to a page's mapping list, for
// the same reason as CacheOwner: mem must not import area.
type AreaOwner interface {
	AreaRefID() uint64
}

// Mapping ties one page to one area at a specific virtual address (§3
// "Mapping"), living on both the page's and the area's mapping lists.
type Mapping struct {
	Page *Page
	Area AreaOwner
	VA   uintptr
	Prot uint32

	// intrusive link within Page.mappings
	pnext, pprev *Mapping
}

// Page is one physical frame's descriptor (§3 "Physical page").
type Page struct {
	Frame PFN
	Type  PageType

	mu    sync.Mutex
	cond  *sync.Cond
	state PageState

	owner  CacheOwner
	offset uint64 // page-size units within the owning cache

	wiredCount int
	usageCount int8

	busyReading bool
	busyWriting bool

	mappings     *Mapping // head of intrusive list
	mappingCount int

	// intrusive queue link, protected by the owning Queue's mutex, not mu.
	qnext, qprev *Page
}

func newPage(frame PFN) *Page {
	p := &Page{Frame: frame, state: StateUnused}
	p.cond = sync.NewCond(&p.mu)
	return p
}

// State returns the page's current queue membership.
func (p *Page) State() PageState {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// Owner returns the cache that owns this page's contents, and the offset
// (in pages) within that cache, or (nil, 0) if the page is not currently
// assigned to any cache (e.g. sitting on the free/clear queue).
func (p *Page) Owner() (CacheOwner, uint64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.owner, p.offset
}

// SetOwner assigns the page to a cache at the given offset. Called by the
// cache package under its own cache mutex (§4.3: "Structural operations
// require the cache's mutex").
func (p *Page) SetOwner(owner CacheOwner, offset uint64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.owner = owner
	p.offset = offset
}

// ClearOwner detaches the page from any cache, used when a cache releases
// a page back to the page manager.
func (p *Page) ClearOwner() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.owner = nil
	p.offset = 0
}

// MarkBusy sets the busy-reading or busy-writing flag so concurrent
// faulters serialize on WaitBusy instead of racing the same store I/O
// (§4.6: "the cache mutex is temporarily released after marking the
// target page busy").
func (p *Page) MarkBusy(writing bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if writing {
		p.busyWriting = true
	} else {
		p.busyReading = true
	}
}

// ClearBusy clears the busy flags and wakes any goroutines parked in
// WaitBusy.
func (p *Page) ClearBusy() {
	p.mu.Lock()
	p.busyReading = false
	p.busyWriting = false
	p.mu.Unlock()
	p.cond.Broadcast()
}

// IsBusy reports whether a store I/O is in flight for this page.
func (p *Page) IsBusy() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.busyReading || p.busyWriting
}

// WaitBusy blocks until the page is no longer busy. The fault resolver's
// chain walk calls it when it finds a busy page and then retries the
// lookup, counting retries against a bounds.Budget.
func (p *Page) WaitBusy() {
	p.mu.Lock()
	for p.busyReading || p.busyWriting {
		p.cond.Wait()
	}
	p.mu.Unlock()
}

// Touch increments the usage counter on access, saturating at the int8
// max, consumed by the page scanner's active/inactive demotion (§4.4).
func (p *Page) Touch() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.usageCount < 127 {
		p.usageCount++
	}
}

// DecayUsage decrements the usage counter by one scan pass, not going
// below zero, and returns the resulting value.
func (p *Page) DecayUsage() int8 {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.usageCount > 0 {
		p.usageCount--
	}
	return p.usageCount
}

// UsageCount reports the current usage counter value.
func (p *Page) UsageCount() int8 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.usageCount
}

// WiredCount reports how many callers have Wired this page.
func (p *Page) WiredCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.wiredCount
}

// AddMapping links a new Mapping onto this page's intrusive list.
func (p *Page) AddMapping(m *Mapping) {
	p.mu.Lock()
	defer p.mu.Unlock()
	m.Page = p
	m.pnext = p.mappings
	m.pprev = nil
	if p.mappings != nil {
		p.mappings.pprev = m
	}
	p.mappings = m
	p.mappingCount++
}

// RemoveMapping unlinks m from this page's intrusive list. It is a no-op
// if m is not currently linked to this page.
func (p *Page) RemoveMapping(m *Mapping) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if m.Page != p {
		return
	}
	if m.pprev != nil {
		m.pprev.pnext = m.pnext
	} else if p.mappings == m {
		p.mappings = m.pnext
	}
	if m.pnext != nil {
		m.pnext.pprev = m.pprev
	}
	m.pnext, m.pprev, m.Page = nil, nil, nil
	p.mappingCount--
}

// Mappings returns a snapshot slice of every Mapping currently installed
// for this page, used for reverse lookup (§3 "allowing reverse lookup
// from a page to every virtual address at which it is installed").
func (p *Page) Mappings() []*Mapping {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]*Mapping, 0, p.mappingCount)
	for m := p.mappings; m != nil; m = m.pnext {
		out = append(out, m)
	}
	return out
}

// MappingCount reports how many mappings currently reference this page.
func (p *Page) MappingCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.mappingCount
}
