// Copyright 2026 The gVisor Authors.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package vma

import (
	"fmt"
	"sync/atomic"

	"github.com/google/btree"
	"gvisor.dev/xlate/pkg/host"
	"gvisor.dev/xlate/pkg/hostarch"
	"gvisor.dev/xlate/pkg/log"
	"gvisor.dev/xlate/pkg/sync"
)

// none terminates resource lists.
const none int32 = -1

// btreeDegree is the degree of the base-address index.
const btreeDegree = 16

// resource is a MappedResource: the list of VMAs backed by one MRID.
type resource struct {
	id    MRID
	path  string
	cache CacheEntry

	// first is the head of the resource's VMA list.
	first int32

	// length is the fixed size of the resource, or 0.
	length uint64
}

// entry is a VMA in the arena.
type entry struct {
	res *resource

	// prev and next link the VMAs of res. Both are none if res is nil.
	prev int32
	next int32

	base   uint64
	offset uint64
	length uint64
	flags  Flags
	prot   Prot
}

func (e *entry) end() uint64 {
	return e.base + e.length
}

// node is an element of the base-address index.
type node struct {
	base uint64
	idx  int32
}

func nodeLess(a, b node) bool {
	return a.base < b.base
}

// Options configure a Tracker.
type Options struct {
	// SMC is the self-modifying code detection mode.
	SMC SMCMode

	// Loader, if not nil, attaches code cache state to file resources.
	Loader CacheLoader
}

// Tracker tracks the guest's VMAs.
//
// Methods with the Locked suffix require the caller to hold the tracker's
// lock: at least for reading for queries, for writing for mutations. This
// allows a host memory operation and the matching tracking update to be done
// atomically.
type Tracker struct {
	os     host.OS
	smc    SMCMode
	loader CacheLoader

	// anonID is the last anonymous shared region ID handed out.
	anonID atomic.Uint64

	mu sync.ForkableRWMutex

	// vmas indexes entries by base address. Tracked ranges never overlap.
	//
	// vmas is protected by mu.
	vmas *btree.BTreeG[node]

	// entries is the VMA arena and free holds its unused slots. Indices are
	// stable for the life of a VMA.
	//
	// entries and free are protected by mu.
	entries []entry
	free    []int32

	// resources is protected by mu.
	resources map[MRID]*resource
}

// NewTracker returns an empty Tracker. os is used to change host protections
// for self-modifying code detection.
func NewTracker(os host.OS, opts Options) *Tracker {
	return &Tracker{
		os:        os,
		smc:       opts.SMC,
		loader:    opts.Loader,
		vmas:      btree.NewG[node](btreeDegree, nodeLess),
		resources: make(map[MRID]*resource),
	}
}

// SMC returns the self-modifying code detection mode.
func (t *Tracker) SMC() SMCMode {
	return t.smc
}

// NextAnonID returns a new ID for an anonymous shared region. IDs start at 1.
func (t *Tracker) NextAnonID() uint64 {
	return t.anonID.Add(1)
}

// Lock locks the tracker for writing.
func (t *Tracker) Lock() {
	t.mu.Lock()
}

// Unlock unlocks the tracker for writing.
func (t *Tracker) Unlock() {
	t.mu.Unlock()
}

// RLock locks the tracker for reading.
func (t *Tracker) RLock() {
	t.mu.RLock()
}

// RUnlock unlocks the tracker for reading.
func (t *Tracker) RUnlock() {
	t.mu.RUnlock()
}

// LockForFork acquires the tracker's write lock before the process forks.
func (t *Tracker) LockForFork() {
	t.mu.Lock()
}

// UnlockAfterFork releases the lock taken by LockForFork. In the child the
// lock is abandoned rather than unlocked.
func (t *Tracker) UnlockAfterFork(child bool) {
	if child {
		t.mu.AbandonInChild()
		return
	}
	t.mu.Unlock()
}

func corrupt(format string, v ...any) {
	panic(fmt.Sprintf("VMA tracking error: "+format, v...))
}

// Track tracks m, replacing any VMAs in its range.
func (t *Tracker) Track(m Mapping) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.TrackLocked(m)
}

// TrackLocked is Track with the write lock held.
func (t *Tracker) TrackLocked(m Mapping) {
	var res *resource
	if m.Resource != nil {
		res = t.resources[*m.Resource]
		if res == nil {
			res = &resource{
				id:     *m.Resource,
				path:   m.Path,
				first:  none,
				length: m.ResourceLength,
			}
			if m.Path != "" && t.loader != nil {
				res.cache = t.loader.LoadCacheEntry(m.Path)
			}
			t.resources[res.id] = res
		}
	}

	t.deleteLocked(m.Base, m.Length, res)

	e := entry{
		res:    res,
		prev:   none,
		next:   none,
		base:   m.Base,
		offset: m.Offset,
		length: m.Length,
		flags:  m.Flags,
		prot:   m.Prot,
	}
	if res != nil {
		e.next = res.first
	}
	idx := t.insertLocked(e)
	if res != nil {
		t.listPrependLocked(res, idx)
	}
}

// Delete stops tracking [base, base+length), splitting VMAs that straddle
// its edges. Resources left without VMAs are freed.
func (t *Tracker) Delete(base, length uint64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.DeleteLocked(base, length, nil)
}

// DeleteLocked is Delete with the write lock held. If preserve is not nil,
// its resource is kept even if it ends up without VMAs.
func (t *Tracker) DeleteLocked(base, length uint64, preserve *MRID) {
	var res *resource
	if preserve != nil {
		res = t.resources[*preserve]
	}
	t.deleteLocked(base, length, res)
}

// ChangeProtection sets the access of [base, base+length), splitting VMAs as
// needed.
func (t *Tracker) ChangeProtection(base, length uint64, prot Prot) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.ChangeProtectionLocked(base, length, prot)
}

// ChangeProtectionLocked is ChangeProtection with the write lock held.
func (t *Tracker) ChangeProtectionLocked(base, length uint64, prot Prot) {
	top := base + length
	for _, n := range t.overlappingLocked(base, top) {
		idx := n.idx
		cur := t.entries[idx]
		if cur.prot == prot {
			continue
		}
		mapTop := cur.end()
		offsetDiff := cur.offset - cur.base

		if cur.base < base {
			// Split off the part before the range and carry on with the rest.
			t.entries[idx].length = base - cur.base
			rest := entry{
				res:    cur.res,
				prev:   idx,
				next:   cur.next,
				base:   base,
				offset: offsetDiff + base,
				length: min(mapTop, top) - base,
				flags:  cur.flags,
				prot:   prot,
			}
			if cur.res == nil {
				rest.prev = none
			}
			ridx := t.insertLocked(rest)
			if cur.res != nil {
				t.listInsertAfterLocked(idx, ridx)
			}
			idx = ridx
		} else {
			t.entries[idx].prot = prot
		}

		if mapTop > top {
			e := &t.entries[idx]
			e.length = top - e.base
			trailing := entry{
				res:    e.res,
				prev:   idx,
				next:   e.next,
				base:   top,
				offset: offsetDiff + top,
				length: mapTop - top,
				flags:  cur.flags,
				prot:   cur.prot,
			}
			if cur.res == nil {
				trailing.prev = none
			}
			tidx := t.insertLocked(trailing)
			if cur.res != nil {
				t.listInsertAfterLocked(idx, tidx)
			}
		}
	}
}

// DeleteSHMRegion stops tracking the SysV shared memory segment attached at
// base, following the kernel's shmdt(2): the first SHM VMA at or after base
// whose offset matches its distance from base identifies the segment, and
// every VMA of that segment within the segment's length of base is removed.
//
// It returns the segment length rounded up to a page, or 0 if no segment
// matched.
func (t *Tracker) DeleteSHMRegion(base uint64) uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.DeleteSHMRegionLocked(base)
}

// DeleteSHMRegionLocked is DeleteSHMRegion with the write lock held.
func (t *Tracker) DeleteSHMRegionLocked(base uint64) uint64 {
	var (
		first node
		found bool
	)
	t.vmas.AscendGreaterOrEqual(node{base: base}, func(n node) bool {
		e := &t.entries[n.idx]
		if e.base-base == e.offset && e.res != nil && e.res.id.Dev == DevSHM {
			first, found = n, true
			return false
		}
		return true
	})
	if !found {
		return 0
	}

	res := t.entries[first.idx].res
	// Segments are attached in whole pages.
	length := hostarch.PagesFor(res.length) << hostarch.PageShift

	ns := []node{first}
	t.vmas.AscendGreaterOrEqual(node{base: first.base + 1}, func(n node) bool {
		if t.entries[n.idx].end()-base > length {
			return false
		}
		ns = append(ns, n)
		return true
	})
	for _, n := range ns {
		if t.entries[n.idx].res != res {
			continue
		}
		if t.listRemoveLocked(n.idx) {
			t.freeResourceLocked(res)
		}
		t.eraseLocked(n.idx)
	}
	return length
}

// Lookup returns the VMA containing addr.
func (t *Tracker) Lookup(addr uint64) (VMA, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.LookupLocked(addr)
}

// LookupLocked is Lookup with the lock held.
func (t *Tracker) LookupLocked(addr uint64) (VMA, bool) {
	idx, ok := t.lookupLocked(addr)
	if !ok {
		return VMA{}, false
	}
	return t.vmaLocked(idx), true
}

// ResourceVMAs returns the VMAs backed by id, most recently tracked first.
func (t *Tracker) ResourceVMAs(id MRID) []VMA {
	t.mu.RLock()
	defer t.mu.RUnlock()
	res := t.resources[id]
	if res == nil {
		return nil
	}
	var vs []VMA
	for idx := res.first; idx != none; idx = t.entries[idx].next {
		vs = append(vs, t.vmaLocked(idx))
	}
	return vs
}

// HasResource returns true if id is tracked.
func (t *Tracker) HasResource(id MRID) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	_, ok := t.resources[id]
	return ok
}

// Entries returns all VMAs in address order.
func (t *Tracker) Entries() []VMA {
	t.mu.RLock()
	defer t.mu.RUnlock()
	vs := make([]VMA, 0, t.vmas.Len())
	t.vmas.Ascend(func(n node) bool {
		vs = append(vs, t.vmaLocked(n.idx))
		return true
	})
	return vs
}

func (t *Tracker) vmaLocked(idx int32) VMA {
	e := &t.entries[idx]
	v := VMA{
		Base:   e.base,
		Offset: e.offset,
		Length: e.length,
		Flags:  e.flags,
		Prot:   e.prot,
	}
	if e.res != nil {
		id := e.res.id
		v.Resource = &id
	}
	return v
}

func (t *Tracker) lookupLocked(addr uint64) (int32, bool) {
	var (
		idx   int32
		found bool
	)
	t.vmas.DescendLessOrEqual(node{base: addr}, func(n node) bool {
		if e := &t.entries[n.idx]; e.base <= addr && addr < e.end() {
			idx, found = n.idx, true
		}
		return false
	})
	return idx, found
}

// overlappingLocked returns the index nodes of VMAs overlapping [base, top)
// in descending address order.
func (t *Tracker) overlappingLocked(base, top uint64) []node {
	if top == 0 {
		return nil
	}
	var ns []node
	t.vmas.DescendLessOrEqual(node{base: top - 1}, func(n node) bool {
		if t.entries[n.idx].end() <= base {
			return false
		}
		ns = append(ns, n)
		return true
	})
	return ns
}

// deleteLocked removes [base, base+length) from the VMAs overlapping it. Each
// such VMA is either trimmed (it starts before the range), trimmed with a
// trailing part inserted after it (it spans the range), removed (it lies
// within the range), or replaced by its trailing part (it starts inside and
// ends past the range).
func (t *Tracker) deleteLocked(base, length uint64, preserve *resource) {
	top := base + length
	for _, n := range t.overlappingLocked(base, top) {
		idx := n.idx
		cur := t.entries[idx]
		mapTop := cur.end()
		hasFirst := cur.base < base
		hasTrailing := mapTop > top

		if hasFirst {
			t.entries[idx].length = base - cur.base
		} else if !hasTrailing {
			if res := cur.res; res != nil {
				if t.listRemoveLocked(idx) && res != preserve {
					t.freeResourceLocked(res)
				}
			}
			t.eraseLocked(idx)
			continue
		}

		replace := !hasFirst
		if hasTrailing {
			trailing := entry{
				res:    cur.res,
				prev:   idx,
				next:   cur.next,
				base:   top,
				offset: cur.offset - cur.base + top,
				length: mapTop - top,
				flags:  cur.flags,
				prot:   cur.prot,
			}
			if replace || cur.res == nil {
				trailing.prev = cur.prev
			}
			tidx := t.insertLocked(trailing)
			if cur.res != nil {
				if replace {
					t.listReplaceLocked(idx, tidx)
				} else {
					t.listInsertAfterLocked(idx, tidx)
				}
			}
		}
		if replace {
			t.eraseLocked(idx)
		}
	}
}

func (t *Tracker) freeResourceLocked(res *resource) {
	if res.cache != nil && t.loader != nil {
		t.loader.UnloadCacheEntry(res.cache)
	}
	log.Debugf("VMA tracking: freeing resource %v", res.id)
	delete(t.resources, res.id)
}

// insertLocked stores e in the arena and indexes it. Pointers into the arena
// are invalidated.
func (t *Tracker) insertLocked(e entry) int32 {
	var idx int32
	if n := len(t.free); n > 0 {
		idx = t.free[n-1]
		t.free = t.free[:n-1]
		t.entries[idx] = e
	} else {
		idx = int32(len(t.entries))
		t.entries = append(t.entries, e)
	}
	if _, replaced := t.vmas.ReplaceOrInsert(node{base: e.base, idx: idx}); replaced {
		corrupt("duplicate VMA at %#x", e.base)
	}
	return idx
}

func (t *Tracker) eraseLocked(idx int32) {
	e := &t.entries[idx]
	if _, ok := t.vmas.Delete(node{base: e.base}); !ok {
		corrupt("VMA at %#x not indexed", e.base)
	}
	*e = entry{}
	t.free = append(t.free, idx)
}

func (t *Tracker) checkLinksLocked(idx int32) {
	if idx == none {
		return
	}
	if e := &t.entries[idx]; e.next == idx || e.prev == idx {
		corrupt("VMA at %#x linked to itself", e.base)
	}
}

// listRemoveLocked unlinks idx from its resource's list. It returns true if
// the list is now empty.
func (t *Tracker) listRemoveLocked(idx int32) bool {
	e := &t.entries[idx]
	if e.res == nil {
		corrupt("VMA at %#x has no resource", e.base)
	}
	if e.prev != none {
		if t.entries[e.prev].next != idx {
			corrupt("broken prev link at %#x", e.base)
		}
		t.entries[e.prev].next = e.next
	} else if e.res.first != idx {
		corrupt("VMA at %#x has no prev but is not first", e.base)
	}
	if e.next != none {
		if t.entries[e.next].prev != idx {
			corrupt("broken next link at %#x", e.base)
		}
		t.entries[e.next].prev = e.prev
	}
	if e.res.first == idx {
		e.res.first = e.next
	}
	t.checkLinksLocked(idx)
	t.checkLinksLocked(e.next)
	t.checkLinksLocked(e.prev)
	return e.res.first == none
}

// listReplaceLocked puts repl in old's place in their resource's list. repl
// must already carry old's resource and links.
func (t *Tracker) listReplaceLocked(old, repl int32) {
	o, r := &t.entries[old], &t.entries[repl]
	if o.res == nil || o.res != r.res || o.prev != r.prev || o.next != r.next {
		corrupt("replacement of %#x by %#x does not match", o.base, r.base)
	}
	if o.prev != none {
		if o.res.first == old || t.entries[o.prev].next != old {
			corrupt("broken prev link at %#x", o.base)
		}
		t.entries[o.prev].next = repl
	} else {
		if o.res.first != old {
			corrupt("VMA at %#x has no prev but is not first", o.base)
		}
		o.res.first = repl
	}
	if o.next != none {
		if t.entries[o.next].prev != old {
			corrupt("broken next link at %#x", o.base)
		}
		t.entries[o.next].prev = repl
	}
	t.checkLinksLocked(repl)
	t.checkLinksLocked(o.next)
	t.checkLinksLocked(o.prev)
}

// listInsertAfterLocked links idx after after. idx must already carry
// after's resource, prev == after and next == after's next.
func (t *Tracker) listInsertAfterLocked(after, idx int32) {
	a, e := &t.entries[after], &t.entries[idx]
	if e.res == nil || a.res != e.res || e.prev != after || e.next != a.next {
		corrupt("insertion of %#x after %#x does not match", e.base, a.base)
	}
	if a.next != none {
		if t.entries[a.next].prev != after {
			corrupt("broken next link at %#x", a.base)
		}
		t.entries[a.next].prev = idx
	}
	a.next = idx
	t.checkLinksLocked(after)
	t.checkLinksLocked(idx)
	t.checkLinksLocked(e.next)
}

// listPrependLocked makes idx the head of res's list. idx must already carry
// res, no prev and next == res.first.
func (t *Tracker) listPrependLocked(res *resource, idx int32) {
	e := &t.entries[idx]
	if e.res != res || e.prev != none || e.next != res.first {
		corrupt("prepend of %#x does not match", e.base)
	}
	if res.first != none {
		if t.entries[res.first].prev != none {
			corrupt("list head at %#x has a prev", t.entries[res.first].base)
		}
		t.entries[res.first].prev = idx
	}
	res.first = idx
	t.checkLinksLocked(idx)
	t.checkLinksLocked(e.next)
}
