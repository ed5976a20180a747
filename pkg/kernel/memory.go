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

package kernel

import (
	"fmt"

	"gvisor.dev/xlate/pkg/abi/linux"
	"gvisor.dev/xlate/pkg/errors/linuxerr"
	"gvisor.dev/xlate/pkg/host"
	"gvisor.dev/xlate/pkg/hostarch"
	"gvisor.dev/xlate/pkg/mm/vma"
)

// The Guest* methods are the only operations that change the guest's
// address space. Each performs the host operation and the matching tracking
// update under the VMA write lock, so no other thread observes one without
// the other. Translated code is invalidated after the lock is released,
// since the core may itself need the lock to look up code.

// GuestMmap implements mmap(2).
func (h *Handler) GuestMmap(addr, length uint64, prot, flags int, fd int, offset int64) (uint64, error) {
	var file host.FileID
	if flags&linux.MAP_ANONYMOUS == 0 {
		id, err := h.os.FileID(fd)
		if err != nil {
			return 0, err
		}
		file = id
	}

	h.vmas.Lock()
	ret, err := h.alloc.Mmap(addr, length, prot, flags, fd, offset)
	if err == nil {
		h.trackMmapLocked(ret, length, prot, flags, file, offset)
	}
	h.vmas.Unlock()
	if err != nil {
		return 0, err
	}

	if flags&linux.MAP_SHARED != 0 {
		h.core.MarkMemoryShared()
	}
	h.invalidate(ret, pageAlign(length))
	return ret, nil
}

// trackMmapLocked records a successful mmap.
//
// Preconditions: h.vmas must be locked.
func (h *Handler) trackMmapLocked(base, length uint64, prot, flags int, file host.FileID, offset int64) {
	m := vma.Mapping{
		Base:   base,
		Offset: uint64(offset),
		Length: pageAlign(length),
		Flags:  vma.FlagsFromMmap(flags),
		Prot:   vma.ProtFromMmap(prot),
	}
	switch {
	case flags&linux.MAP_ANONYMOUS == 0:
		// Files whose path cannot be resolved are tracked like private
		// anonymous memory.
		if file.Path != "" {
			m.Resource = &vma.MRID{Dev: file.Dev, ID: file.Ino}
			m.Path = file.Path
		}
	case flags&linux.MAP_SHARED != 0:
		id := vma.AnonMRID(h.vmas.NextAnonID())
		m.Resource = &id
	}
	h.vmas.TrackLocked(m)
}

// GuestMunmap implements munmap(2).
func (h *Handler) GuestMunmap(addr, length uint64) error {
	h.vmas.Lock()
	err := h.alloc.Munmap(addr, length)
	if err == nil {
		h.vmas.DeleteLocked(addr, pageAlign(length), nil)
	}
	h.vmas.Unlock()
	if err != nil {
		return err
	}
	h.invalidate(addr, pageAlign(length))
	return nil
}

// GuestMprotect implements mprotect(2).
func (h *Handler) GuestMprotect(addr, length uint64, prot int) error {
	h.vmas.Lock()
	err := h.os.Mprotect(addr, length, prot)
	if err == nil {
		h.vmas.ChangeProtectionLocked(addr, pageAlign(length), vma.ProtFromMmap(prot))
	}
	h.vmas.Unlock()
	if err != nil {
		return err
	}
	h.invalidate(addr, pageAlign(length))
	return nil
}

// GuestMremap implements mremap(2).
func (h *Handler) GuestMremap(oldAddr, oldSize, newSize uint64, flags int, newAddr uint64) (uint64, error) {
	h.vmas.Lock()
	ret, err := h.alloc.Mremap(oldAddr, oldSize, newSize, flags, newAddr)
	if err == nil {
		h.trackMremapLocked(oldAddr, oldSize, newSize, flags, ret)
	}
	h.vmas.Unlock()
	if err != nil {
		return 0, err
	}

	oldSize, newSize = pageAlign(oldSize), pageAlign(newSize)
	switch {
	case ret != oldAddr && oldSize != 0:
		// Also covers MREMAP_DONTUNMAP: the old range lost its contents.
		h.invalidate(oldAddr, oldSize)
	case ret == oldAddr && oldSize > newSize:
		h.invalidate(oldAddr+newSize, oldSize-newSize)
	}
	return ret, nil
}

// trackMremapLocked moves the tracking of a remapped range to newAddr. The
// resource of the old range is kept alive across the move.
//
// Preconditions: h.vmas must be locked.
func (h *Handler) trackMremapLocked(oldAddr, oldSize, newSize uint64, flags int, newAddr uint64) {
	oldSize, newSize = pageAlign(oldSize), pageAlign(newSize)
	old, ok := h.vmas.LookupLocked(oldAddr)
	if !ok {
		panic(fmt.Sprintf("VMA tracking error: mremap of untracked address %#x", oldAddr))
	}
	m := vma.Mapping{
		Resource: old.Resource,
		Base:     newAddr,
		Offset:   old.Offset + oldAddr - old.Base,
		Length:   newSize,
		Flags:    old.Flags,
		Prot:     old.Prot,
	}
	if oldSize == 0 {
		// A mirror of a shared mapping.
		if old.Resource == nil || !old.Flags.Shared {
			panic(fmt.Sprintf("VMA tracking error: mirror of private mapping at %#x", oldAddr))
		}
	} else if flags&linux.MREMAP_DONTUNMAP == 0 {
		h.vmas.DeleteLocked(oldAddr, oldSize, old.Resource)
	}
	h.vmas.TrackLocked(m)
}

// GuestShmat implements shmat(2).
func (h *Handler) GuestShmat(shmid int, addr uint64, shmflg int) (uint64, error) {
	size, err := h.os.ShmSegmentSize(shmid)
	if err != nil {
		return 0, linuxerr.EINVAL
	}
	length := pageAlign(size)

	h.vmas.Lock()
	ret, err := h.alloc.Shmat(shmid, addr, shmflg)
	if err == nil {
		id := vma.SHMMRID(shmid)
		h.vmas.TrackLocked(vma.Mapping{
			Resource:       &id,
			ResourceLength: size,
			Base:           ret,
			Length:         length,
			Flags:          vma.Flags{Shared: true},
			Prot:           vma.ProtFromSHM(shmflg),
		})
	}
	h.vmas.Unlock()
	if err != nil {
		return 0, err
	}

	h.core.MarkMemoryShared()
	h.invalidate(ret, length)
	return ret, nil
}

// GuestShmdt implements shmdt(2).
func (h *Handler) GuestShmdt(addr uint64) error {
	h.vmas.Lock()
	err := h.alloc.Shmdt(addr)
	var length uint64
	if err == nil {
		length = h.vmas.DeleteSHMRegionLocked(addr)
	}
	h.vmas.Unlock()
	if err != nil {
		return err
	}
	if length != 0 {
		// Over-invalidates segments attached with holes in them.
		h.invalidate(addr, length)
	}
	return nil
}

// invalidate drops translated code in [start, start+length).
func (h *Handler) invalidate(start, length uint64) {
	if h.vmas.SMC() == vma.SMCNone {
		return
	}
	h.core.InvalidateRange(start, length, nil)
}

// HandleSegfault lets the VMA tracker claim a write fault at addr on a page
// write-protected for code tracking. It returns false if the fault belongs to
// the guest.
func (h *Handler) HandleSegfault(addr uint64) bool {
	return h.vmas.HandleSegfault(addr, h.core)
}

// MarkGuestExecutableRange is called by the core when it translates code in
// [start, start+length).
func (h *Handler) MarkGuestExecutableRange(start, length uint64) {
	h.vmas.MarkGuestExecutableRange(start, length)
}

// LookupCacheEntry returns the code cache entry of the file mapped at addr,
// if any, and its load bias.
func (h *Handler) LookupCacheEntry(addr uint64) (vma.CacheEntry, uint64) {
	return h.vmas.LookupCacheEntry(addr)
}

// LookupVMA returns the VMA containing addr, for fault classification.
func (h *Handler) LookupVMA(addr uint64) (vma.VMA, bool) {
	return h.vmas.Lookup(addr)
}

func pageAlign(length uint64) uint64 {
	return hostarch.AlignUp(length, hostarch.PageSize)
}
