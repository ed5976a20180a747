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
	"testing"

	"github.com/google/go-cmp/cmp"
	"gvisor.dev/xlate/pkg/abi/linux"
	"gvisor.dev/xlate/pkg/errors/linuxerr"
	"gvisor.dev/xlate/pkg/host"
	"gvisor.dev/xlate/pkg/host/hosttest"
	"gvisor.dev/xlate/pkg/hostarch"
	"gvisor.dev/xlate/pkg/mm/vma"
)

const (
	anonPrivate = linux.MAP_PRIVATE | linux.MAP_ANONYMOUS
	anonShared  = linux.MAP_SHARED | linux.MAP_ANONYMOUS
	protRW      = linux.PROT_READ | linux.PROT_WRITE
)

func mustMmap(t *testing.T, h *Handler, addr, length uint64, prot, flags, fd int, offset int64) uint64 {
	t.Helper()
	got, err := h.GuestMmap(addr, length, prot, flags, fd, offset)
	if err != nil {
		t.Fatalf("GuestMmap(%#x, %#x) failed: %v", addr, length, err)
	}
	return got
}

func TestGuestMmapTracksAnonymous(t *testing.T) {
	h, _, core := newTestHandler(t)

	private := mustMmap(t, h, 0, 0x1800, protRW, anonPrivate, -1, 0)
	v, ok := h.LookupVMA(private)
	if !ok {
		t.Fatalf("private mapping at %#x not tracked", private)
	}
	want := vma.VMA{Base: private, Length: 0x2000, Prot: vma.Prot{Readable: true, Writable: true}}
	if diff := cmp.Diff(want, v); diff != "" {
		t.Errorf("private VMA mismatch (-want +got):\n%s", diff)
	}
	if core.sharedCount() != 0 {
		t.Errorf("private mapping marked memory shared")
	}

	shared := mustMmap(t, h, 0, hostarch.PageSize, protRW, anonShared, -1, 0)
	v, _ = h.LookupVMA(shared)
	if v.Resource == nil || *v.Resource != vma.AnonMRID(1) || !v.Flags.Shared {
		t.Errorf("shared VMA = %+v, want resource %v", v, vma.AnonMRID(1))
	}
	if core.sharedCount() != 1 {
		t.Errorf("shared mapping did not mark memory shared")
	}

	// Each anonymous shared mapping is its own resource.
	other := mustMmap(t, h, 0, hostarch.PageSize, protRW, anonShared, -1, 0)
	v, _ = h.LookupVMA(other)
	if v.Resource == nil || *v.Resource != vma.AnonMRID(2) {
		t.Errorf("second shared VMA resource = %v, want %v", v.Resource, vma.AnonMRID(2))
	}
}

func TestGuestMmapTracksFiles(t *testing.T) {
	h, host, core := newTestHandler(t)
	host.SetFile(3, hostFile("/usr/lib/libc.so.6", 0x803, 77))
	host.SetFile(4, hostFile("", 0x803, 78))

	a := mustMmap(t, h, 0, 0x4000, linux.PROT_READ|linux.PROT_EXEC, linux.MAP_PRIVATE, 3, 0x2000)
	b := mustMmap(t, h, 0, 0x1000, linux.PROT_READ, linux.MAP_PRIVATE, 3, 0)
	libc := vma.MRID{Dev: 0x803, ID: 77}
	if got := h.VMAs().ResourceVMAs(libc); len(got) != 2 {
		t.Errorf("libc has %d VMAs, want 2", len(got))
	}
	if diff := cmp.Diff([]string{"/usr/lib/libc.so.6"}, core.loaded); diff != "" {
		t.Errorf("loaded cache entries mismatch (-want +got):\n%s", diff)
	}
	if entry, bias := h.LookupCacheEntry(a + 0x100); entry != "/usr/lib/libc.so.6" || bias != a-0x2000 {
		t.Errorf("LookupCacheEntry(%#x) = %v, %#x", a+0x100, entry, bias)
	}
	if v, _ := h.LookupVMA(b); v.Offset != 0 || v.Resource == nil {
		t.Errorf("second libc VMA = %+v", v)
	}

	// A file without a path is tracked like anonymous memory.
	c := mustMmap(t, h, 0, 0x1000, linux.PROT_READ, linux.MAP_PRIVATE, 4, 0)
	if v, _ := h.LookupVMA(c); v.Resource != nil {
		t.Errorf("pathless file VMA has resource %v", v.Resource)
	}

	if _, err := h.GuestMmap(0, 0x1000, linux.PROT_READ, linux.MAP_PRIVATE, 9, 0); !linuxerr.Equals(linuxerr.EBADF, err) {
		t.Errorf("mmap of unknown fd = %v, want EBADF", err)
	}
	if n := host.Calls(hosttest.OpMmap); n != 3 {
		t.Errorf("host mmap called %d times, want 3", n)
	}
}

func hostFile(path string, dev, ino uint64) host.FileID {
	return host.FileID{Dev: dev, Ino: ino, Path: path}
}

func TestGuestMmapFailureIsNotTracked(t *testing.T) {
	h, host, _ := newTestHandler(t)
	host.FailNext(hosttest.OpMmap, linuxerr.ENOMEM)
	if _, err := h.GuestMmap(0, 0x1000, protRW, anonPrivate, -1, 0); !linuxerr.Equals(linuxerr.ENOMEM, err) {
		t.Errorf("GuestMmap = %v, want ENOMEM", err)
	}
	if n := len(h.VMAs().Entries()); n != 0 {
		t.Errorf("failed mmap left %d VMAs", n)
	}
}

func TestGuestMunmapAndMprotect(t *testing.T) {
	h, host, _ := newTestHandler(t)
	addr := mustMmap(t, h, 0, 0x4000, protRW, anonPrivate, -1, 0)

	if err := h.GuestMprotect(addr+0x1000, 0x1000, linux.PROT_READ); err != nil {
		t.Fatalf("GuestMprotect failed: %v", err)
	}
	if prot, _ := host.Prot(addr + 0x1000); prot != linux.PROT_READ {
		t.Errorf("host protection = %#x, want PROT_READ", prot)
	}
	var prots []string
	for _, v := range h.VMAs().Entries() {
		prots = append(prots, v.Prot.String())
	}
	if diff := cmp.Diff([]string{"rw-", "r--", "rw-"}, prots); diff != "" {
		t.Errorf("VMA protections mismatch (-want +got):\n%s", diff)
	}

	if err := h.GuestMunmap(addr, 0x2000); err != nil {
		t.Fatalf("GuestMunmap failed: %v", err)
	}
	if _, ok := h.LookupVMA(addr + 0x1000); ok {
		t.Errorf("unmapped range still tracked")
	}
	if _, ok := h.LookupVMA(addr + 0x2000); !ok {
		t.Errorf("rest of the mapping no longer tracked")
	}

	host.FailNext(hosttest.OpMunmap, linuxerr.EINVAL)
	if err := h.GuestMunmap(addr+0x2000, 0x1000); err == nil {
		t.Errorf("GuestMunmap succeeded despite host failure")
	}
	if _, ok := h.LookupVMA(addr + 0x2000); !ok {
		t.Errorf("failed munmap stopped tracking the range")
	}
}

func TestGuestMremap(t *testing.T) {
	h, host, core := newTestHandler(t, withSMC(vma.SMCFull))
	addr := mustMmap(t, h, 0, 0x2000, protRW, anonShared, -1, 0)
	id := vma.AnonMRID(1)

	// Grow in place.
	if got, err := h.GuestMremap(addr, 0x2000, 0x3000, 0, 0); err != nil || got != addr {
		t.Fatalf("GuestMremap grow = %#x, %v", got, err)
	}
	if v, _ := h.LookupVMA(addr + 0x2000); v.Base != addr || v.Length != 0x3000 {
		t.Errorf("grown VMA = %+v", v)
	}

	// Move.
	const dst = 0x5000_0000
	got, err := h.GuestMremap(addr, 0x3000, 0x3000, linux.MREMAP_MAYMOVE|linux.MREMAP_FIXED, dst)
	if err != nil || got != dst {
		t.Fatalf("GuestMremap move = %#x, %v", got, err)
	}
	if _, ok := h.LookupVMA(addr); ok {
		t.Errorf("old range still tracked after move")
	}
	v, ok := h.LookupVMA(dst)
	if !ok || v.Resource == nil || *v.Resource != id {
		t.Errorf("moved VMA = %+v, want resource %v", v, id)
	}
	if diff := cmp.Diff(invalidation{addr, 0x3000}, core.invalidations()[len(core.invalidations())-1]); diff != "" {
		t.Errorf("move invalidation mismatch (-want +got):\n%s", diff)
	}

	// Mirror: the old range stays, the new range shares its resource.
	mirror, err := h.GuestMremap(dst, 0, 0x1000, linux.MREMAP_MAYMOVE, 0)
	if err != nil {
		t.Fatalf("GuestMremap mirror failed: %v", err)
	}
	if got := h.VMAs().ResourceVMAs(id); len(got) != 2 {
		t.Errorf("resource has %d VMAs after mirroring, want 2", len(got))
	}
	if !host.IsMapped(mirror, 0x1000) || !host.IsMapped(dst, 0x3000) {
		t.Errorf("mirror or original not mapped")
	}

	// Shrink invalidates the tail.
	if got, err := h.GuestMremap(dst, 0x3000, 0x1000, 0, 0); err != nil || got != dst {
		t.Fatalf("GuestMremap shrink = %#x, %v", got, err)
	}
	if diff := cmp.Diff(invalidation{dst + 0x1000, 0x2000}, core.invalidations()[len(core.invalidations())-1]); diff != "" {
		t.Errorf("shrink invalidation mismatch (-want +got):\n%s", diff)
	}
}

func TestGuestMremapKeepsResource(t *testing.T) {
	h, _, _ := newTestHandler(t)
	addr := mustMmap(t, h, 0, 0x1000, protRW, anonShared, -1, 0)
	const dst = 0x6000_0000
	if _, err := h.GuestMremap(addr, 0x1000, 0x1000, linux.MREMAP_MAYMOVE|linux.MREMAP_FIXED, dst); err != nil {
		t.Fatalf("GuestMremap failed: %v", err)
	}
	// The only VMA of the resource moved; the resource must survive the
	// move.
	if !h.VMAs().HasResource(vma.AnonMRID(1)) {
		t.Errorf("resource dropped by move")
	}
}

func TestGuestShm(t *testing.T) {
	h, host, core := newTestHandler(t)
	const shmid = 7
	host.AddSegment(shmid, 0x2800)

	addr, err := h.GuestShmat(shmid, 0, 0)
	if err != nil {
		t.Fatalf("GuestShmat failed: %v", err)
	}
	if addr%hostarch.PageSize != 0 {
		t.Errorf("segment attached at unaligned %#x", addr)
	}
	v, ok := h.LookupVMA(addr + 0x2000)
	if !ok || v.Length != 0x3000 || !v.Flags.Shared || v.Resource == nil || *v.Resource != vma.SHMMRID(shmid) {
		t.Errorf("segment VMA = %+v, %t", v, ok)
	}
	if core.sharedCount() != 1 {
		t.Errorf("shmat did not mark memory shared")
	}

	ro, err := h.GuestShmat(shmid, 0, linux.SHM_RDONLY)
	if err != nil {
		t.Fatalf("read-only GuestShmat failed: %v", err)
	}
	if v, _ := h.LookupVMA(ro); v.Prot.Writable {
		t.Errorf("read-only attach is writable")
	}
	if ro < addr+0x3000 && addr < ro+0x3000 {
		t.Errorf("attachments overlap: %#x and %#x", addr, ro)
	}

	if err := h.GuestShmdt(addr); err != nil {
		t.Fatalf("GuestShmdt failed: %v", err)
	}
	if _, ok := h.LookupVMA(addr); ok {
		t.Errorf("detached segment still tracked")
	}
	if !h.VMAs().HasResource(vma.SHMMRID(shmid)) {
		t.Errorf("segment resource dropped while still attached")
	}

	if _, err := h.GuestShmat(99, 0, 0); !linuxerr.Equals(linuxerr.EINVAL, err) {
		t.Errorf("shmat of unknown segment = %v, want EINVAL", err)
	}
	if err := h.GuestShmdt(addr); !linuxerr.Equals(linuxerr.EINVAL, err) {
		t.Errorf("second shmdt = %v, want EINVAL", err)
	}
}

func TestInvalidationFollowsSMCMode(t *testing.T) {
	for _, tc := range []struct {
		mode vma.SMCMode
		want int
	}{
		{vma.SMCNone, 0},
		{vma.SMCMTrack, 2},
		{vma.SMCFull, 2},
	} {
		t.Run(tc.mode.String(), func(t *testing.T) {
			h, _, core := newTestHandler(t, withSMC(tc.mode))
			addr := mustMmap(t, h, 0, 0x1000, protRW, anonPrivate, -1, 0)
			if err := h.GuestMunmap(addr, 0x1000); err != nil {
				t.Fatalf("GuestMunmap failed: %v", err)
			}
			if got := len(core.invalidations()); got != tc.want {
				t.Errorf("%d invalidations, want %d", got, tc.want)
			}
		})
	}
}

func TestHandleSegfaultDelegates(t *testing.T) {
	h, host, _ := newTestHandler(t, withSMC(vma.SMCMTrack))
	addr := mustMmap(t, h, 0, 0x1000, linux.PROT_READ|linux.PROT_WRITE|linux.PROT_EXEC, anonPrivate, -1, 0)

	h.MarkGuestExecutableRange(addr, 0x10)
	if prot, _ := host.Prot(addr); prot != linux.PROT_READ {
		t.Fatalf("translated page protection = %#x, want PROT_READ", prot)
	}
	if !h.HandleSegfault(addr + 8) {
		t.Fatalf("write fault on a tracked code page not handled")
	}
	if prot, _ := host.Prot(addr); prot != protRW {
		t.Errorf("page protection after fault = %#x, want RW", prot)
	}
	if h.HandleSegfault(0x10) {
		t.Errorf("fault on an untracked address handled")
	}
}
