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

package alloc

import (
	"gvisor.dev/xlate/pkg/abi/linux"
	"gvisor.dev/xlate/pkg/bitmap"
	"gvisor.dev/xlate/pkg/errors/linuxerr"
	"gvisor.dev/xlate/pkg/host"
	"gvisor.dev/xlate/pkg/hostarch"
	"gvisor.dev/xlate/pkg/log"
	"gvisor.dev/xlate/pkg/sync"
)

const (
	// basePage is the first page the allocator hands out. Pages below it
	// are reserved by the kernel.
	basePage = 16

	// topPage is the last page of the 32-bit space. It is permanently
	// reserved.
	topPage = hostarch.Pages32Bit - 1

	// top32BitPage is the highest page a MAP_32BIT request may use.
	top32BitPage = uint64(hostarch.Map32BitCeiling>>hostarch.PageShift) - 1

	// ceiling is the first address a 32-bit guest must never be given.
	ceiling = uint64(topPage) << hostarch.PageShift
)

// Allocator32 places mappings of a 32-bit guest.
//
// It keeps one bit per page of the 32-bit address space; a set bit means the
// page is mapped or reserved. The host is only ever asked for exact addresses
// (MAP_FIXED_NOREPLACE), and any answer it gives that is not the requested
// address is treated as a collision. The host remains authoritative: a page
// the bitmap thinks is free may still be taken, in which case the next
// window is tried.
type Allocator32 struct {
	os        host.OS
	direction SearchDirection

	// mu protects the fields below.
	mu sync.ForkableMutex

	// pages has one bit per page.
	pages bitmap.Bitmap

	// cursor is the page where the next scan starts.
	cursor uint64

	// pageToShm maps the first page of each attached segment to its shmid.
	pageToShm map[uint64]int
}

var _ Allocator = (*Allocator32)(nil)

// NewAllocator32 returns an Allocator32 scanning in direction d.
func NewAllocator32(os host.OS, d SearchDirection) *Allocator32 {
	a := &Allocator32{
		os:        os,
		direction: d,
		pages:     bitmap.New(hostarch.Pages32Bit),
		pageToShm: make(map[uint64]int),
	}
	a.pages.SetRange(0, basePage)
	a.pages.Add(topPage)
	a.cursor = a.origin(false)
	return a
}

// origin returns the page a full scan starts from.
func (a *Allocator32) origin(map32 bool) uint64 {
	switch {
	case a.direction == SearchUp:
		return basePage
	case map32:
		return top32BitPage
	default:
		return topPage
	}
}

// findLocked returns the first page of a free window of n pages, scanning
// from start in the allocator's direction.
//
// Preconditions: a.mu must be locked.
func (a *Allocator32) findLocked(start, n uint64, map32 bool) (uint64, bool) {
	if n == 0 || n > topPage-basePage {
		return 0, false
	}
	if a.direction == SearchUp {
		limit := uint64(topPage)
		if map32 {
			limit = top32BitPage + 1
		}
		p, ok := a.pages.FirstFreeRun(uint32(start), uint32(n), uint32(limit))
		return uint64(p), ok
	}
	p, ok := a.pages.LastFreeRun(uint32(start), uint32(n), basePage)
	return uint64(p), ok
}

// next returns the scan start that skips past the window at lower.
func (a *Allocator32) next(lower, n uint64) uint64 {
	if a.direction == SearchUp {
		return lower + 1
	}
	// The window one page lower ends at lower+n-2.
	if lower+n < 2 {
		return 0
	}
	return lower + n - 2
}

// circled reports whether the window at lower lies in the part of the space
// already scanned before wrapping around from first.
func (a *Allocator32) circled(lower, n, first uint64) bool {
	if a.direction == SearchUp {
		return lower >= first
	}
	return lower+n-1 <= first
}

// placeLocked scans for a free window of n pages and tries to claim it with
// attach, which returns the address the host actually used. A window is a
// collision if attach fails with collide(err) true or if the host used a
// different address; the stray result is released with release and the
// next window is tried. ENOMEM is returned only after a full circular scan.
//
// Preconditions: a.mu must be locked.
func (a *Allocator32) placeLocked(n uint64, map32 bool, attach func(addr uint64) (uint64, error), collide func(error) bool, release func(addr uint64)) (uint64, error) {
	start := a.cursor
	if map32 && a.direction == SearchDown && start >= top32BitPage {
		start = top32BitPage
	}
	first := start
	wrapped := false
	for {
		lower, ok := a.findLocked(start, n, map32)
		if !ok {
			if wrapped {
				return 0, linuxerr.ENOMEM
			}
			wrapped = true
			start = a.origin(map32)
			continue
		}
		addr := lower << hostarch.PageShift
		got, err := attach(addr)
		if err == nil && got == addr {
			if a.direction == SearchDown {
				a.cursor = lower
			} else {
				a.cursor = lower + n
			}
			a.pages.SetRange(uint32(lower), uint32(lower+n))
			return got, nil
		}
		if err != nil && !collide(err) {
			return 0, err
		}
		if err == nil {
			release(got)
		}
		log.Debugf("Allocator32: collision at %#x (host returned %#x, err %v)", addr, got, err)
		if wrapped && a.circled(lower, n, first) {
			return 0, linuxerr.ENOMEM
		}
		start = a.next(lower, n)
	}
}

// Mmap implements Allocator.Mmap.
func (a *Allocator32) Mmap(addr, length uint64, prot, flags int, fd int, offset int64) (uint64, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.mmapLocked(addr, length, prot, flags, fd, offset)
}

// Preconditions: a.mu must be locked.
func (a *Allocator32) mmapLocked(addr, length uint64, prot, flags int, fd int, offset int64) (uint64, error) {
	fixed := flags&(linux.MAP_FIXED|linux.MAP_FIXED_NOREPLACE) != 0
	if addr&(hostarch.PageSize-1) != 0 {
		return 0, linuxerr.EINVAL
	}
	if fd != -1 && uint64(offset)&(hostarch.PageSize-1) != 0 {
		return 0, linuxerr.EINVAL
	}
	if length == 0 {
		return 0, linuxerr.EINVAL
	}
	if length > uint64(hostarch.Max32BitAddr) || addr > uint64(hostarch.Max32BitAddr)-length {
		return 0, linuxerr.EOVERFLOW
	}
	if fixed && addr>>hostarch.PageShift < basePage {
		return 0, linuxerr.EINVAL
	}
	if !fixed {
		addr = 0
	}
	map32 := flags&linux.MAP_32BIT != 0
	flags &^= linux.MAP_32BIT
	n := hostarch.PagesFor(length)

	if addr == 0 {
		return a.placeLocked(n, map32,
			func(addr uint64) (uint64, error) {
				return a.os.Mmap(addr, length, prot, flags|linux.MAP_FIXED_NOREPLACE, fd, offset)
			},
			func(err error) bool { return linuxerr.Equals(linuxerr.EEXIST, err) },
			func(got uint64) { a.os.Munmap(got, length) },
		)
	}

	got, err := a.os.Mmap(addr, n<<hostarch.PageShift, prot, flags, fd, offset)
	if err != nil {
		return 0, err
	}
	if flags&linux.MAP_FIXED_NOREPLACE != 0 && (got >= ceiling || got != addr) {
		// The host does not understand MAP_FIXED_NOREPLACE and treated
		// the address as a hint.
		a.os.Munmap(got, length)
		return 0, linuxerr.EEXIST
	}
	a.markUsedLocked(got, n)
	return got, nil
}

// markUsedLocked sets the bits of n pages starting at addr, ignoring any
// part outside the 32-bit space.
//
// Preconditions: a.mu must be locked.
func (a *Allocator32) markUsedLocked(addr, n uint64) {
	first := addr >> hostarch.PageShift
	if first >= hostarch.Pages32Bit {
		return
	}
	end := min(first+n, uint64(hostarch.Pages32Bit))
	a.pages.SetRange(uint32(first), uint32(end))
}

// markFreeLocked clears the bits of n pages starting at addr. The reserved
// pages are never cleared.
//
// Preconditions: a.mu must be locked.
func (a *Allocator32) markFreeLocked(addr, n uint64) {
	first := max(addr>>hostarch.PageShift, basePage)
	end := min((addr>>hostarch.PageShift)+n, uint64(topPage))
	if first < end {
		a.pages.ClearRange(uint32(first), uint32(end))
	}
}

// Munmap implements Allocator.Munmap.
//
// Every page is forwarded to the host even if the bitmap says it is free: the
// host may hold mappings the allocator never placed.
func (a *Allocator32) Munmap(addr, length uint64) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if length == 0 || addr&(hostarch.PageSize-1) != 0 || length&(hostarch.PageSize-1) != 0 {
		return linuxerr.EINVAL
	}
	if length > uint64(hostarch.Max32BitAddr) || addr > uint64(hostarch.Max32BitAddr)-length {
		return linuxerr.EOVERFLOW
	}
	page := addr >> hostarch.PageShift
	if page < basePage {
		return nil
	}
	end := page + length>>hostarch.PageShift
	for ; page != end; page++ {
		if err := a.os.Munmap(page<<hostarch.PageShift, hostarch.PageSize); err != nil {
			return err
		}
		a.pages.Remove(uint32(page))
	}
	return nil
}

// Mremap implements Allocator.Mremap.
func (a *Allocator32) Mremap(oldAddr, oldSize, newSize uint64, flags int, newAddr uint64) (uint64, error) {
	oldN := hostarch.PagesFor(oldSize)
	newN := hostarch.PagesFor(newSize)

	a.mu.Lock()
	if flags&linux.MREMAP_FIXED != 0 {
		defer a.mu.Unlock()
		got, err := a.os.Mremap(oldAddr, oldSize, newSize, flags, newAddr)
		if err != nil {
			return 0, err
		}
		if flags&linux.MREMAP_DONTUNMAP == 0 {
			a.markFreeLocked(oldAddr, oldN)
		}
		a.markUsedLocked(got, newN)
		return got, nil
	}

	if newN < oldN {
		defer a.mu.Unlock()
		got, err := a.os.Mremap(oldAddr, oldSize, newSize, flags&^linux.MREMAP_MAYMOVE, 0)
		if err != nil {
			return 0, err
		}
		a.markFreeLocked(got+newN<<hostarch.PageShift, oldN-newN)
		return got, nil
	}

	if a.canExtendLocked(oldAddr, oldN, newN) {
		got, err := a.os.Mremap(oldAddr, oldSize, newSize, flags&^linux.MREMAP_MAYMOVE, 0)
		if err == nil {
			a.markUsedLocked(got, newN)
			a.mu.Unlock()
			return got, nil
		}
		if flags&linux.MREMAP_MAYMOVE == 0 {
			a.mu.Unlock()
			return 0, err
		}
	} else if flags&linux.MREMAP_MAYMOVE == 0 {
		a.mu.Unlock()
		return 0, linuxerr.ENOMEM
	}

	// Reserve a window the size of the new mapping and move into it. The
	// reservation is replaced by the mremap.
	window, err := a.mmapLocked(0, newSize, linux.PROT_NONE, linux.MAP_PRIVATE|linux.MAP_ANONYMOUS, -1, 0)
	defer a.mu.Unlock()
	if err != nil {
		return 0, err
	}
	got, err := a.os.Mremap(oldAddr, oldSize, newSize, flags|linux.MREMAP_FIXED|linux.MREMAP_MAYMOVE, window)
	if err != nil {
		a.os.Munmap(window, newSize)
		a.markFreeLocked(window, newN)
		return 0, err
	}
	if flags&linux.MREMAP_DONTUNMAP == 0 && got != oldAddr {
		a.markFreeLocked(oldAddr, oldN)
	}
	a.markUsedLocked(got, newN)
	return got, nil
}

// canExtendLocked reports whether the pages following a mapping of oldN
// pages at addr are free up to newN pages.
//
// Preconditions: a.mu must be locked.
func (a *Allocator32) canExtendLocked(addr, oldN, newN uint64) bool {
	first := addr >> hostarch.PageShift
	if first+newN > topPage {
		return false
	}
	return a.pages.CountOnes(uint32(first+oldN), uint32(first+newN)) == 0
}

// Shmat implements Allocator.Shmat.
func (a *Allocator32) Shmat(shmid int, addr uint64, shmflg int) (uint64, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if addr != 0 {
		got, err := a.os.Shmat(shmid, addr, shmflg)
		if err != nil {
			return 0, err
		}
		if hi := uint32(got >> 32); hi != 0 && hi != ^uint32(0) {
			log.Warningf("Allocator32: shmat returned %#x outside the 32-bit space", got)
			return 0, linuxerr.ENOMEM
		}
		page := got >> hostarch.PageShift
		a.pageToShm[page] = shmid
		if size, err := a.os.ShmSegmentSize(shmid); err == nil {
			a.markUsedLocked(got, hostarch.PagesFor(size))
		}
		return got, nil
	}

	size, err := a.os.ShmSegmentSize(shmid)
	if err != nil {
		return 0, linuxerr.EINVAL
	}
	n := hostarch.PagesFor(size)
	got, err := a.placeLocked(n, false,
		func(addr uint64) (uint64, error) {
			return a.os.Shmat(shmid, addr, shmflg)
		},
		func(err error) bool { return linuxerr.Equals(linuxerr.EINVAL, err) },
		func(got uint64) { a.os.Shmdt(got) },
	)
	if err != nil {
		return 0, err
	}
	a.pageToShm[got>>hostarch.PageShift] = shmid
	return got, nil
}

// Shmdt implements Allocator.Shmdt.
func (a *Allocator32) Shmdt(addr uint64) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	page := addr >> hostarch.PageShift
	shmid, ok := a.pageToShm[page]
	if !ok {
		return linuxerr.EINVAL
	}
	if size, err := a.os.ShmSegmentSize(shmid); err == nil {
		a.markFreeLocked(addr, hostarch.PagesFor(size))
	} else {
		log.Warningf("Allocator32: failed to get the size of shm %d during shmdt: %v", shmid, err)
	}
	if err := a.os.Shmdt(addr); err != nil {
		return err
	}
	delete(a.pageToShm, page)
	return nil
}

// LockBeforeFork implements Allocator.LockBeforeFork.
func (a *Allocator32) LockBeforeFork() {
	a.mu.Lock()
}

// UnlockAfterFork implements Allocator.UnlockAfterFork.
func (a *Allocator32) UnlockAfterFork(child bool) {
	if child {
		a.mu.AbandonInChild()
		return
	}
	a.mu.Unlock()
}

// Stats is a snapshot of Allocator32's state.
type Stats struct {
	// UsedPages is the number of set pages, reserved ones included.
	UsedPages uint32

	// Cursor is the page where the next scan starts.
	Cursor uint64

	// ShmSegments is the number of attached shm segments.
	ShmSegments int
}

// Stats returns a snapshot of the allocator's state.
func (a *Allocator32) Stats() Stats {
	a.mu.Lock()
	defer a.mu.Unlock()
	return Stats{
		UsedPages:   a.pages.GetNumOnes(),
		Cursor:      a.cursor,
		ShmSegments: len(a.pageToShm),
	}
}

// UsedPages returns the page numbers currently marked used.
func (a *Allocator32) UsedPages() []uint32 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.pages.ToSlice()
}

// IsPageUsed returns true if the page containing addr is marked used.
func (a *Allocator32) IsPageUsed(addr uint64) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	page := addr >> hostarch.PageShift
	return page < hostarch.Pages32Bit && a.pages.IsSet(uint32(page))
}
