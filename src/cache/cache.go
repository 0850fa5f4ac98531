// Package cache implements the page-indexed cache and cache-chain layer
// of spec.md §3/§4.3: a backing-store-agnostic container of pages,
// chained for copy-on-write inheritance and consumer tracking.
package cache

import (
	"errors"
	"sync"
	"sync/atomic"

	"defs"
	"mem"
	"store"
)

// Kind tags which of the four cache types (§4.3) a Cache represents.
type Kind int

const (
	KindAnonymous Kind = iota
	KindVnode
	KindDevice
	KindNull
)

func (k Kind) String() string {
	switch k {
	case KindAnonymous:
		return "anonymous"
	case KindVnode:
		return "vnode"
	case KindDevice:
		return "device"
	case KindNull:
		return "null"
	default:
		return "unknown"
	}
}

var nextCacheID uint64

// live is the process-wide registry of every Cache currently alive,
// keyed by id. It exists so other packages that only see a page's
// owner as a bare mem.CacheOwner (CacheID() uint64) — the page scanner
// daemon, in particular — can recover the real *Cache to remove a
// reclaimed page from it, without mem importing cache (§9 "Global
// mutable state").
var live sync.Map // uint64 -> *Cache

// Lookup returns the live Cache with the given id, if any.
func Lookup(id uint64) (*Cache, bool) {
	v, ok := live.Load(id)
	if !ok {
		return nil, false
	}
	return v.(*Cache), true
}

// Cache is a page-indexed, offset-addressed container representing one
// logical source of pages (§3 "Cache").
type Cache struct {
	id uint64

	mu   sync.Mutex
	refs int32

	kind  Kind
	st    store.Store
	pages map[uint64]*mem.Page // offset (in pages) -> page

	source    *Cache
	consumers map[uint64]*Cache

	areas map[uint64]mem.AreaOwner

	virtualBase uint64 // bytes
	virtualSize uint64 // bytes

	scanSkip  bool
	busy      bool
	temporary bool

	pm *mem.Manager
}

// New allocates a Cache of the given kind over [virtualBase,
// virtualBase+virtualSize) bytes, backed by st and drawing pages from
// pm.
func New(kind Kind, st store.Store, virtualBase, virtualSize uint64, pm *mem.Manager) *Cache {
	c := &Cache{
		id:          atomic.AddUint64(&nextCacheID, 1),
		kind:        kind,
		st:          st,
		pages:       make(map[uint64]*mem.Page),
		consumers:   make(map[uint64]*Cache),
		areas:       make(map[uint64]mem.AreaOwner),
		virtualBase: virtualBase,
		virtualSize: virtualSize,
		pm:          pm,
		refs:        1,
	}
	live.Store(c.id, c)
	return c
}

// CacheID satisfies mem.CacheOwner.
func (c *Cache) CacheID() uint64 { return c.id }

// Kind reports this cache's type tag.
func (c *Cache) Kind() Kind { return c.kind }

// Store returns the backing store.
func (c *Cache) Store() store.Store { return c.st }

// Window reports the cache's [virtualBase, virtualBase+virtualSize) byte
// range (§3 invariant (a)).
func (c *Cache) Window() (base, size uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.virtualBase, c.virtualSize
}

// offsetPages converts a byte offset within the cache's window to a
// page-unit offset key for the pages map.
func offsetPages(offset uint64) uint64 { return offset / defs.PageSize }

// Lookup returns the page this cache itself owns at offset, without
// consulting its source (§4.3: "if B owns a page at o return it").
func (c *Cache) Lookup(offset uint64) (*mem.Page, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	p, ok := c.pages[offsetPages(offset)]
	return p, ok
}

// Insert adds page to this cache's page list at offset, setting the
// page's owner accordingly. It panics if a page is already recorded at
// that offset — callers (the fault resolver, copy-up) must Remove or
// check Lookup first.
func (c *Cache) Insert(page *mem.Page, offset uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	key := offsetPages(offset)
	if _, exists := c.pages[key]; exists {
		panic("cache: page already present at offset")
	}
	page.SetOwner(c, key)
	c.pages[key] = page
}

// Remove detaches and returns the page this cache owns at offset, if
// any.
func (c *Cache) Remove(offset uint64) (*mem.Page, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	key := offsetPages(offset)
	p, ok := c.pages[key]
	if !ok {
		return nil, false
	}
	delete(c.pages, key)
	p.ClearOwner()
	return p, true
}

// Iterate calls f for every page this cache owns, stopping early if f
// returns false. Order is unspecified.
func (c *Cache) Iterate(f func(offset uint64, p *mem.Page) bool) {
	c.mu.Lock()
	pages := make(map[uint64]*mem.Page, len(c.pages))
	for k, v := range c.pages {
		pages[k] = v
	}
	c.mu.Unlock()
	for k, p := range pages {
		if !f(k*defs.PageSize, p) {
			return
		}
	}
}

// PageCount reports how many pages this cache currently owns.
func (c *Cache) PageCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pages)
}

// Commit delegates to the backing store (§4.3 "commit of n bytes to its
// store").
func (c *Cache) Commit(n uint64) defs.Err_t {
	return c.st.Commit(n)
}

// AddArea records that area now references this cache.
func (c *Cache) AddArea(area mem.AreaOwner) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.areas[area.AreaRefID()] = area
}

// RemoveArea drops area's membership in this cache's area set, then
// checks the single-consumer merge policy: an intermediate cache with
// no areas of its own and exactly one consumer is a pure pass-through
// and may be hoisted away (DESIGN.md's decision for spec §9's open
// question).
func (c *Cache) RemoveArea(area mem.AreaOwner) {
	c.mu.Lock()
	delete(c.areas, area.AreaRefID())
	c.mu.Unlock()
	c.tryMerge()
}

// Source returns this cache's source (copy-on-write parent), or nil if
// it is a root cache.
func (c *Cache) Source() *Cache {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.source
}

// SourceLocked returns c's source without acquiring c's own mutex. The
// caller must already hold it — the fault resolver locks each cache in
// the chain top-down before reading its source link, and calling
// Source() there would deadlock on the same, non-reentrant mutex.
func (c *Cache) SourceLocked() *Cache {
	return c.source
}

// pathExists reports whether following source edges from from ever
// reaches to, used to enforce §3 invariant (c) / §4.3's cycle
// prevention rule before a new source edge is installed.
func pathExists(from, to *Cache) bool {
	for cur := from; cur != nil; {
		if cur == to {
			return true
		}
		cur.mu.Lock()
		next := cur.source
		cur.mu.Unlock()
		cur = next
	}
	return false
}

// SetSource attaches src as c's source cache, the copy-on-write parent
// edge of §3/§4.3. It is rejected if c already has a source, or if src
// can already reach c by following source edges — installing the edge
// in that case would close a cycle, which by construction (§4.3 "Cycle
// prevention": chains only grow by prepending a fresh, source-less
// cache) should never happen outside a caller bug.
func (c *Cache) SetSource(src *Cache) error {
	c.mu.Lock()
	if c.source != nil {
		c.mu.Unlock()
		return errors.New("cache: source already set")
	}
	c.mu.Unlock()

	if pathExists(src, c) {
		return errors.New("cache: source edge would create a cycle")
	}

	src.AcquireRef()
	src.addConsumer(c)

	c.mu.Lock()
	c.source = src
	c.mu.Unlock()
	return nil
}

// addConsumer records that consumer now names c as its source.
func (c *Cache) addConsumer(consumer *Cache) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.consumers[consumer.id] = consumer
}

// removeConsumer drops consumer from c's consumer set and re-checks the
// merge policy, since losing a consumer can bring the remaining count
// to exactly one.
func (c *Cache) removeConsumer(consumer *Cache) {
	c.mu.Lock()
	delete(c.consumers, consumer.id)
	c.mu.Unlock()
	c.tryMerge()
}

// ConsumerCount reports how many caches currently name c as their
// source.
func (c *Cache) ConsumerCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.consumers)
}

// tryMerge implements the eager single-consumer merge policy this repo
// chose for spec §9's open question: a cache with exactly one consumer
// and no area referencing it directly is a pure pass-through link and
// is folded into that consumer immediately (see DESIGN.md).
func (c *Cache) tryMerge() {
	c.mu.Lock()
	if len(c.consumers) != 1 || len(c.areas) != 0 {
		c.mu.Unlock()
		return
	}
	var only *Cache
	for _, cc := range c.consumers {
		only = cc
	}
	c.mu.Unlock()

	only.mergeFrom(c)
}

// mergeFrom hoists every page c owns, at offsets cons does not already
// shadow, into cons, relinks cons' source to c's former source, and
// destroys c (§4.3 "Merging": "no page is lost", "consumer invariants",
// "areas still see the same logical bytes"). Locks are taken top-down
// (cons, the consumer nearer the top of the chain, before c, its
// source) per §5's ordering.
func (cons *Cache) mergeFrom(c *Cache) {
	cons.mu.Lock()
	c.mu.Lock()

	for offset, p := range c.pages {
		if _, shadowed := cons.pages[offset]; shadowed {
			continue
		}
		p.SetOwner(cons, offset)
		cons.pages[offset] = p
	}
	c.pages = nil
	grandparent := c.source
	c.source = nil
	cons.source = grandparent

	c.mu.Unlock()
	cons.mu.Unlock()

	if grandparent != nil {
		grandparent.mu.Lock()
		delete(grandparent.consumers, c.id)
		grandparent.consumers[cons.id] = cons
		grandparent.mu.Unlock()
	}

	c.st.Destroy()
	live.Delete(c.id)
}

// CopyUp implements the write side of copy-on-write (§4.3 "Chain
// semantics"): it allocates a fresh page in c, copies src's bytes into
// it, and inserts it at offset. Callers (the fault resolver) must have
// already confirmed c does not itself own a page at offset.
func (c *Cache) CopyUp(offset uint64, src *mem.Page) (*mem.Page, defs.Err_t) {
	np, err := c.pm.Allocate(0)
	if err != 0 {
		return nil, err
	}
	copy(c.pm.Bytes(np.Frame), c.pm.Bytes(src.Frame))
	c.Insert(np, offset)
	return np, 0
}

// AreaCount reports how many areas currently reference this cache.
func (c *Cache) AreaCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.areas)
}

// Lock/Unlock expose the cache's mutex directly to the fault resolver,
// which must hold cache-chain locks top-down across multiple Cache
// values at once (§4.6 locking order) — a pattern that doesn't fit a
// single guarded method.
func (c *Cache) Lock()   { c.mu.Lock() }
func (c *Cache) Unlock() { c.mu.Unlock() }

// AcquireRef increments the reference count and returns the new value.
func (c *Cache) AcquireRef() int32 {
	return atomic.AddInt32(&c.refs, 1)
}

// ReleaseRef decrements the reference count; when it reaches zero with
// no consumers the cache is destroyed (§4.3 "Destruction").
func (c *Cache) ReleaseRef() {
	if atomic.AddInt32(&c.refs, -1) > 0 {
		return
	}
	c.mu.Lock()
	hasConsumers := len(c.consumers) > 0
	c.mu.Unlock()
	if !hasConsumers {
		c.destroy()
	}
}

// RefCount reports the current reference count.
func (c *Cache) RefCount() int32 {
	return atomic.LoadInt32(&c.refs)
}

// destroy releases every page back to the page manager (or to the
// source, if one owns the offset already — in this design a cache's own
// pages are never shared with its source, so they always go to the
// page manager), releases the store, and removes itself from its
// source's consumer list (§4.3 "Destruction").
func (c *Cache) destroy() {
	c.mu.Lock()
	pages := make([]*mem.Page, 0, len(c.pages))
	for _, p := range c.pages {
		pages = append(pages, p)
	}
	c.pages = nil
	src := c.source
	c.source = nil
	c.mu.Unlock()

	for _, p := range pages {
		c.pm.Free(p)
	}
	c.st.Destroy()
	live.Delete(c.id)

	if src != nil {
		src.removeConsumer(c)
		src.ReleaseRef()
	}
}
