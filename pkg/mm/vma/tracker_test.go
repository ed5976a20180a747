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
	"testing"

	"github.com/google/go-cmp/cmp"
	"golang.org/x/sync/errgroup"
	"gvisor.dev/xlate/pkg/abi/linux"
	"gvisor.dev/xlate/pkg/host/hosttest"
)

var (
	rw = Prot{Readable: true, Writable: true}
	ro = Prot{Readable: true}
	rx = Prot{Readable: true, Executable: true}

	fileID = MRID{Dev: 0x803, ID: 42}
)

type fakeLoader struct {
	loaded   []string
	unloaded []CacheEntry
}

func (l *fakeLoader) LoadCacheEntry(path string) CacheEntry {
	l.loaded = append(l.loaded, path)
	return "cache:" + path
}

func (l *fakeLoader) UnloadCacheEntry(c CacheEntry) {
	l.unloaded = append(l.unloaded, c)
}

func newTestTracker(t *testing.T, smc SMCMode) (*Tracker, *hosttest.Host, *fakeLoader) {
	t.Helper()
	h := hosttest.New("6.1.0")
	l := &fakeLoader{}
	return NewTracker(h, Options{SMC: smc, Loader: l}), h, l
}

func idPtr(id MRID) *MRID {
	return &id
}

// checkInvariants verifies that the index, the arena and the resource lists
// agree with each other.
func checkInvariants(t *testing.T, tr *Tracker) {
	t.Helper()
	tr.mu.RLock()
	defer tr.mu.RUnlock()

	var (
		prevEnd uint64
		linked  = make(map[*resource]int)
	)
	tr.vmas.Ascend(func(n node) bool {
		e := &tr.entries[n.idx]
		if e.base != n.base {
			t.Errorf("index says %#x, entry says %#x", n.base, e.base)
		}
		if e.base < prevEnd {
			t.Errorf("VMA at %#x overlaps the previous one ending at %#x", e.base, prevEnd)
		}
		if e.length == 0 {
			t.Errorf("empty VMA at %#x", e.base)
		}
		prevEnd = e.end()
		if e.res != nil {
			linked[e.res]++
			if tr.resources[e.res.id] != e.res {
				t.Errorf("VMA at %#x references untracked resource %v", e.base, e.res.id)
			}
		} else if e.prev != none || e.next != none {
			t.Errorf("private VMA at %#x is linked", e.base)
		}
		return true
	})

	for id, res := range tr.resources {
		n := 0
		prev := none
		for idx := res.first; idx != none; idx = tr.entries[idx].next {
			e := &tr.entries[idx]
			if e.res != res {
				t.Errorf("resource %v lists VMA at %#x of another resource", id, e.base)
			}
			if e.prev != prev {
				t.Errorf("resource %v: VMA at %#x has prev %d want %d", id, e.base, e.prev, prev)
			}
			prev = idx
			n++
			if n > len(tr.entries) {
				t.Fatalf("resource %v list has a cycle", id)
			}
		}
		if n == 0 {
			t.Errorf("resource %v has no VMAs", id)
		}
		if n != linked[res] {
			t.Errorf("resource %v lists %d VMAs, %d reference it", id, n, linked[res])
		}
	}
}

func TestTrackLookup(t *testing.T) {
	tr, _, _ := newTestTracker(t, SMCNone)
	tr.Track(Mapping{Base: 0x10000, Length: 0x3000, Prot: rw})
	checkInvariants(t, tr)

	for _, test := range []struct {
		addr uint64
		want bool
	}{
		{0xf000, false},
		{0x10000, true},
		{0x12fff, true},
		{0x13000, false},
	} {
		v, ok := tr.Lookup(test.addr)
		if ok != test.want {
			t.Errorf("Lookup(%#x) got ok %v want %v", test.addr, ok, test.want)
			continue
		}
		if ok && (v.Base != 0x10000 || v.Length != 0x3000 || v.Resource != nil) {
			t.Errorf("Lookup(%#x) got %+v", test.addr, v)
		}
	}
}

func TestDeleteSplits(t *testing.T) {
	const (
		base   = 0x10000
		length = 0x10000
		offset = 0x1000
	)
	for _, test := range []struct {
		name     string
		del      [2]uint64
		want     []VMA
		freesRes bool
	}{
		{
			name: "trim",
			del:  [2]uint64{0x18000, 0x8000},
			want: []VMA{
				{Base: 0x10000, Offset: 0x1000, Length: 0x8000},
			},
		},
		{
			name: "trim and trailing",
			del:  [2]uint64{0x14000, 0x4000},
			want: []VMA{
				{Base: 0x10000, Offset: 0x1000, Length: 0x4000},
				{Base: 0x18000, Offset: 0x9000, Length: 0x8000},
			},
		},
		{
			name:     "remove",
			del:      [2]uint64{0x10000, 0x10000},
			freesRes: true,
		},
		{
			name:     "remove superset",
			del:      [2]uint64{0x8000, 0x20000},
			freesRes: true,
		},
		{
			name: "replace with trailing",
			del:  [2]uint64{0xc000, 0x8000},
			want: []VMA{
				{Base: 0x14000, Offset: 0x5000, Length: 0xc000},
			},
		},
		{
			name: "no overlap",
			del:  [2]uint64{0x20000, 0x1000},
			want: []VMA{
				{Base: 0x10000, Offset: 0x1000, Length: 0x10000},
			},
		},
	} {
		t.Run(test.name, func(t *testing.T) {
			tr, _, l := newTestTracker(t, SMCNone)
			tr.Track(Mapping{
				Resource: idPtr(fileID),
				Path:     "/lib/libc.so.6",
				Base:     base,
				Offset:   offset,
				Length:   length,
				Prot:     rx,
			})
			tr.Delete(test.del[0], test.del[1])
			checkInvariants(t, tr)

			var got []VMA
			for _, v := range tr.Entries() {
				if v.Resource == nil || *v.Resource != fileID || v.Prot != rx {
					t.Errorf("VMA %+v lost its attributes", v)
				}
				got = append(got, VMA{Base: v.Base, Offset: v.Offset, Length: v.Length})
			}
			if diff := cmp.Diff(test.want, got); diff != "" {
				t.Errorf("Entries mismatch (-want +got):\n%s", diff)
			}
			if freed := !tr.HasResource(fileID); freed != test.freesRes {
				t.Errorf("resource freed got %v want %v", freed, test.freesRes)
			}
			if test.freesRes && len(l.unloaded) != 1 {
				t.Errorf("UnloadCacheEntry called %d times, want 1", len(l.unloaded))
			}
		})
	}
}

func TestDeleteAcrossVMAs(t *testing.T) {
	tr, _, _ := newTestTracker(t, SMCNone)
	tr.Track(Mapping{Base: 0x10000, Length: 0x2000, Prot: rw})
	tr.Track(Mapping{Base: 0x12000, Length: 0x2000, Prot: ro})
	tr.Track(Mapping{Base: 0x15000, Length: 0x2000, Prot: rx})

	tr.Delete(0x11000, 0x5000)
	checkInvariants(t, tr)

	want := []VMA{
		{Base: 0x10000, Length: 0x1000, Prot: rw},
		{Base: 0x16000, Offset: 0x1000, Length: 0x1000, Prot: rx},
	}
	if diff := cmp.Diff(want, tr.Entries()); diff != "" {
		t.Errorf("Entries mismatch (-want +got):\n%s", diff)
	}
}

func TestTwoRangesOneResource(t *testing.T) {
	tr, _, l := newTestTracker(t, SMCNone)
	for _, base := range []uint64{0x10000, 0x40000} {
		tr.Track(Mapping{
			Resource: idPtr(fileID),
			Path:     "/bin/true",
			Base:     base,
			Length:   0x2000,
			Flags:    Flags{Shared: true},
			Prot:     rw,
		})
	}
	checkInvariants(t, tr)

	if got := tr.ResourceVMAs(fileID); len(got) != 2 || got[0].Base != 0x40000 || got[1].Base != 0x10000 {
		t.Errorf("ResourceVMAs got %+v, want the two mappings newest first", got)
	}
	if len(l.loaded) != 1 {
		t.Errorf("LoadCacheEntry called %d times, want 1", len(l.loaded))
	}

	tr.Delete(0x10000, 0x2000)
	checkInvariants(t, tr)
	if !tr.HasResource(fileID) {
		t.Fatalf("resource freed while still mapped at 0x40000")
	}
	if got := tr.ResourceVMAs(fileID); len(got) != 1 || got[0].Base != 0x40000 {
		t.Errorf("ResourceVMAs got %+v, want only 0x40000", got)
	}

	tr.Delete(0x40000, 0x2000)
	checkInvariants(t, tr)
	if tr.HasResource(fileID) {
		t.Errorf("resource still tracked after its last VMA was removed")
	}
	if diff := cmp.Diff([]CacheEntry{"cache:/bin/true"}, l.unloaded); diff != "" {
		t.Errorf("unloaded mismatch (-want +got):\n%s", diff)
	}
}

func TestTrackReplacesSameResource(t *testing.T) {
	tr, _, l := newTestTracker(t, SMCNone)
	m := Mapping{
		Resource: idPtr(fileID),
		Path:     "/bin/true",
		Base:     0x10000,
		Length:   0x4000,
		Prot:     rx,
	}
	tr.Track(m)
	tr.Track(m)
	checkInvariants(t, tr)

	if len(l.unloaded) != 0 || len(l.loaded) != 1 {
		t.Errorf("replacing a mapping of the same resource reloaded it: loaded %v unloaded %v", l.loaded, l.unloaded)
	}
	if got := len(tr.Entries()); got != 1 {
		t.Errorf("got %d VMAs want 1", got)
	}
}

func TestTrackReplacesOtherResource(t *testing.T) {
	tr, _, l := newTestTracker(t, SMCNone)
	tr.Track(Mapping{Resource: idPtr(fileID), Path: "/a", Base: 0x10000, Length: 0x4000, Prot: rx})
	other := MRID{Dev: 0x803, ID: 43}
	tr.Track(Mapping{Resource: idPtr(other), Path: "/b", Base: 0x11000, Length: 0x1000, Prot: ro})
	checkInvariants(t, tr)

	if got := len(tr.ResourceVMAs(fileID)); got != 2 {
		t.Errorf("split resource has %d VMAs want 2", got)
	}
	tr.Track(Mapping{Base: 0x10000, Length: 0x4000, Prot: rw})
	checkInvariants(t, tr)
	if tr.HasResource(fileID) || tr.HasResource(other) {
		t.Errorf("overwritten resources still tracked")
	}
	if len(l.unloaded) != 2 {
		t.Errorf("UnloadCacheEntry called %d times, want 2", len(l.unloaded))
	}
}

func TestChangeProtection(t *testing.T) {
	for _, test := range []struct {
		name   string
		change [2]uint64
		want   []VMA
	}{
		{
			name:   "middle",
			change: [2]uint64{0x11000, 0x1000},
			want: []VMA{
				{Base: 0x10000, Offset: 0x8000, Length: 0x1000, Prot: rw},
				{Base: 0x11000, Offset: 0x9000, Length: 0x1000, Prot: ro},
				{Base: 0x12000, Offset: 0xa000, Length: 0x2000, Prot: rw},
			},
		},
		{
			name:   "head",
			change: [2]uint64{0x10000, 0x1000},
			want: []VMA{
				{Base: 0x10000, Offset: 0x8000, Length: 0x1000, Prot: ro},
				{Base: 0x11000, Offset: 0x9000, Length: 0x3000, Prot: rw},
			},
		},
		{
			name:   "tail past end",
			change: [2]uint64{0x13000, 0x4000},
			want: []VMA{
				{Base: 0x10000, Offset: 0x8000, Length: 0x3000, Prot: rw},
				{Base: 0x13000, Offset: 0xb000, Length: 0x1000, Prot: ro},
			},
		},
		{
			name:   "whole",
			change: [2]uint64{0x10000, 0x4000},
			want: []VMA{
				{Base: 0x10000, Offset: 0x8000, Length: 0x4000, Prot: ro},
			},
		},
	} {
		t.Run(test.name, func(t *testing.T) {
			tr, _, _ := newTestTracker(t, SMCNone)
			tr.Track(Mapping{Resource: idPtr(fileID), Base: 0x10000, Offset: 0x8000, Length: 0x4000, Prot: rw})
			tr.ChangeProtection(test.change[0], test.change[1], ro)
			checkInvariants(t, tr)

			got := tr.Entries()
			for i := range got {
				got[i].Resource = nil
			}
			if diff := cmp.Diff(test.want, got); diff != "" {
				t.Errorf("Entries mismatch (-want +got):\n%s", diff)
			}
			if n := len(tr.ResourceVMAs(fileID)); n != len(test.want) {
				t.Errorf("resource lists %d VMAs want %d", n, len(test.want))
			}
		})
	}
}

func TestChangeProtectionSkipsMatching(t *testing.T) {
	tr, _, _ := newTestTracker(t, SMCNone)
	tr.Track(Mapping{Base: 0x10000, Length: 0x4000, Prot: ro})
	tr.ChangeProtection(0x11000, 0x1000, ro)
	if got := len(tr.Entries()); got != 1 {
		t.Errorf("no-op protection change split the VMA into %d", got)
	}
}

func TestDeleteSHMRegion(t *testing.T) {
	tr, _, _ := newTestTracker(t, SMCNone)
	shm := SHMMRID(5)
	tr.Track(Mapping{
		Resource:       &shm,
		ResourceLength: 0x3000,
		Base:           0x40000,
		Length:         0x3000,
		Flags:          Flags{Shared: true},
		Prot:           rw,
	})
	tr.Track(Mapping{Base: 0x43000, Length: 0x1000, Prot: rw})
	tr.ChangeProtection(0x41000, 0x1000, ro)
	checkInvariants(t, tr)

	if got := tr.DeleteSHMRegion(0x3f000); got != 0 {
		t.Errorf("DeleteSHMRegion(0x3f000) got %#x want 0", got)
	}
	if got := tr.DeleteSHMRegion(0x40000); got != 0x3000 {
		t.Errorf("DeleteSHMRegion(0x40000) got %#x want 0x3000", got)
	}
	checkInvariants(t, tr)

	want := []VMA{{Base: 0x43000, Length: 0x1000, Prot: rw}}
	if diff := cmp.Diff(want, tr.Entries()); diff != "" {
		t.Errorf("Entries mismatch (-want +got):\n%s", diff)
	}
	if tr.HasResource(shm) {
		t.Errorf("segment still tracked")
	}
	if got := tr.DeleteSHMRegion(0x40000); got != 0 {
		t.Errorf("second DeleteSHMRegion got %#x want 0", got)
	}
}

func TestDeleteSHMRegionUnalignedSize(t *testing.T) {
	tr, _, _ := newTestTracker(t, SMCNone)
	shm := SHMMRID(7)
	tr.Track(Mapping{
		Resource:       &shm,
		ResourceLength: 5000,
		Base:           0x40000,
		Length:         0x2000,
		Flags:          Flags{Shared: true},
		Prot:           rw,
	})
	tr.ChangeProtection(0x41000, 0x1000, ro)
	checkInvariants(t, tr)

	if got := tr.DeleteSHMRegion(0x40000); got != 0x2000 {
		t.Errorf("DeleteSHMRegion got %#x want 0x2000", got)
	}
	checkInvariants(t, tr)
	if v, ok := tr.Lookup(0x41000); ok {
		t.Errorf("tail of detached segment still tracked: %+v", v)
	}
	if tr.HasResource(shm) {
		t.Errorf("segment still tracked")
	}
}

func TestDeleteSHMRegionLeavesOtherSegments(t *testing.T) {
	tr, _, _ := newTestTracker(t, SMCNone)
	a, b := SHMMRID(1), SHMMRID(2)
	tr.Track(Mapping{Resource: &a, ResourceLength: 0x2000, Base: 0x40000, Length: 0x2000, Flags: Flags{Shared: true}, Prot: rw})
	tr.Track(Mapping{Resource: &b, ResourceLength: 0x1000, Base: 0x42000, Length: 0x1000, Flags: Flags{Shared: true}, Prot: rw})

	if got := tr.DeleteSHMRegion(0x40000); got != 0x2000 {
		t.Errorf("DeleteSHMRegion got %#x want 0x2000", got)
	}
	checkInvariants(t, tr)
	if tr.HasResource(a) || !tr.HasResource(b) {
		t.Errorf("wrong segment detached: a tracked %v, b tracked %v", tr.HasResource(a), tr.HasResource(b))
	}
}

func TestNextAnonID(t *testing.T) {
	tr, _, _ := newTestTracker(t, SMCNone)
	for want := uint64(1); want <= 3; want++ {
		if got := tr.NextAnonID(); got != want {
			t.Errorf("NextAnonID got %d want %d", got, want)
		}
	}
}

func TestLookupCacheEntry(t *testing.T) {
	tr, _, _ := newTestTracker(t, SMCNone)
	tr.Track(Mapping{Resource: idPtr(fileID), Path: "/bin/sh", Base: 0x400000, Offset: 0x2000, Length: 0x1000, Prot: rx})
	tr.Track(Mapping{Base: 0x500000, Length: 0x1000, Prot: rw})

	c, bias := tr.LookupCacheEntry(0x400123)
	if c != CacheEntry("cache:/bin/sh") || bias != 0x3fe000 {
		t.Errorf("LookupCacheEntry(0x400123) got (%v, %#x) want (cache:/bin/sh, 0x3fe000)", c, bias)
	}
	if c, bias := tr.LookupCacheEntry(0x500000); c != nil || bias != 0x500000 {
		t.Errorf("LookupCacheEntry(0x500000) got (%v, %#x) want (nil, 0x500000)", c, bias)
	}
	if c, bias := tr.LookupCacheEntry(0x600000); c != nil || bias != 0 {
		t.Errorf("LookupCacheEntry(0x600000) got (%v, %#x) want (nil, 0)", c, bias)
	}
}

func TestMaps(t *testing.T) {
	tr, _, _ := newTestTracker(t, SMCNone)
	tr.Track(Mapping{Resource: idPtr(MRID{Dev: 0x00800003, ID: 42}), Path: "/bin/sh", Base: 0x400000, Offset: 0x1000, Length: 0x1000, Prot: rx})
	anon := AnonMRID(1)
	tr.Track(Mapping{Resource: &anon, Base: 0x500000, Length: 0x1000, Flags: Flags{Shared: true}, Prot: rw})
	tr.Track(Mapping{Base: 0x600000, Length: 0x2000, Prot: ro})

	pad := func(s string) string {
		return fmt.Sprintf("%-73s", s)
	}
	want := pad("00400000-00401000 r-xp 00001000 08:03 42 ") + "/bin/sh\n" +
		pad("00500000-00501000 rw-s 00000000 00:00 0 ") + "/dev/zero (deleted)\n" +
		"00600000-00602000 r--p 00000000 00:00 0 \n"
	if diff := cmp.Diff(want, tr.Maps()); diff != "" {
		t.Errorf("Maps mismatch (-want +got):\n%s", diff)
	}
}

func TestConcurrentTracking(t *testing.T) {
	tr, _, _ := newTestTracker(t, SMCNone)
	var g errgroup.Group
	for w := 0; w < 4; w++ {
		base := uint64(w+1) << 24
		g.Go(func() error {
			for i := uint64(0); i < 100; i++ {
				addr := base + i*0x2000
				tr.Track(Mapping{Base: addr, Length: 0x2000, Prot: rw})
				tr.ChangeProtection(addr+0x1000, 0x1000, ro)
				if _, ok := tr.Lookup(addr); !ok {
					return fmt.Errorf("Lookup(%#x) failed after Track", addr)
				}
				if i%2 == 0 {
					tr.Delete(addr, 0x2000)
				}
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		t.Fatal(err)
	}
	checkInvariants(t, tr)
	if got, want := len(tr.Entries()), 4*50*2; got != want {
		t.Errorf("got %d VMAs want %d", got, want)
	}
}

func TestUnlockAfterForkInChild(t *testing.T) {
	tr, _, _ := newTestTracker(t, SMCNone)
	tr.LockForFork()
	tr.UnlockAfterFork(true)
	// The child must be able to use the tracker.
	tr.Track(Mapping{Base: 0x10000, Length: 0x1000, Prot: rw})

	tr.LockForFork()
	tr.UnlockAfterFork(false)
	if _, ok := tr.Lookup(0x10000); !ok {
		t.Errorf("Lookup failed after fork")
	}
}

func TestProtConversions(t *testing.T) {
	if got := ProtFromMmap(linux.PROT_READ | linux.PROT_EXEC); got != rx {
		t.Errorf("ProtFromMmap got %v want %v", got, rx)
	}
	if got := ProtFromSHM(linux.SHM_RDONLY); got != ro {
		t.Errorf("ProtFromSHM(SHM_RDONLY) got %v want %v", got, ro)
	}
	if got := ProtFromSHM(0); got != rw {
		t.Errorf("ProtFromSHM(0) got %v want %v", got, rw)
	}
	if !FlagsFromMmap(linux.MAP_SHARED_VALIDATE).Shared {
		t.Errorf("MAP_SHARED_VALIDATE not treated as shared")
	}
	if FlagsFromMmap(linux.MAP_PRIVATE).Shared {
		t.Errorf("MAP_PRIVATE treated as shared")
	}
}
