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
	"testing"

	"github.com/google/go-cmp/cmp"
	"gvisor.dev/xlate/pkg/abi/linux"
	"gvisor.dev/xlate/pkg/host/hosttest"
	"gvisor.dev/xlate/pkg/hostarch"
)

type invalidation struct {
	Start    uint64
	Length   uint64
	Callback bool
}

type fakeInvalidator struct {
	got []invalidation
}

func (f *fakeInvalidator) InvalidateRange(start, length uint64, fn func(start, length uint64)) {
	f.got = append(f.got, invalidation{Start: start, Length: length, Callback: fn != nil})
	if fn != nil {
		fn(start, length)
	}
}

// hostMap creates a fixed mapping on the fake host.
func hostMap(t *testing.T, h *hosttest.Host, addr, length uint64, prot int) {
	t.Helper()
	if _, err := h.Mmap(addr, length, prot, linux.MAP_PRIVATE|linux.MAP_ANONYMOUS|linux.MAP_FIXED, -1, 0); err != nil {
		t.Fatalf("host Mmap(%#x, %#x) got err %v want nil", addr, length, err)
	}
}

func checkHostProt(t *testing.T, h *hosttest.Host, addr uint64, want int) {
	t.Helper()
	got, ok := h.Prot(addr)
	if !ok {
		t.Fatalf("host page %#x not mapped", addr)
	}
	if got != want {
		t.Errorf("host prot of %#x got %#x want %#x", addr, got, want)
	}
}

func TestParseSMCMode(t *testing.T) {
	for _, m := range []SMCMode{SMCNone, SMCMTrack, SMCFull} {
		got, err := ParseSMCMode(m.String())
		if err != nil || got != m {
			t.Errorf("ParseSMCMode(%q) got (%v, %v) want (%v, nil)", m.String(), got, err, m)
		}
	}
	if _, err := ParseSMCMode("sometimes"); err == nil {
		t.Errorf("ParseSMCMode(sometimes) got nil error")
	}
}

func TestHandleSegfaultPrivate(t *testing.T) {
	tr, h, _ := newTestTracker(t, SMCMTrack)
	hostMap(t, h, 0x10000, 0x2000, linux.PROT_READ)
	tr.Track(Mapping{Base: 0x10000, Length: 0x2000, Prot: rw})
	tr.Track(Mapping{Base: 0x20000, Length: 0x1000, Prot: ro})

	var inv fakeInvalidator
	if !tr.HandleSegfault(0x11234, &inv) {
		t.Fatalf("HandleSegfault(0x11234) got false want true")
	}
	want := []invalidation{{Start: 0x11000, Length: hostarch.PageSize, Callback: true}}
	if diff := cmp.Diff(want, inv.got); diff != "" {
		t.Errorf("invalidations mismatch (-want +got):\n%s", diff)
	}
	checkHostProt(t, h, 0x11000, linux.PROT_READ|linux.PROT_WRITE)
	checkHostProt(t, h, 0x10000, linux.PROT_READ)

	inv.got = nil
	if tr.HandleSegfault(0x20000, &inv) {
		t.Errorf("HandleSegfault on a read-only VMA got true want false")
	}
	if tr.HandleSegfault(0x30000, &inv) {
		t.Errorf("HandleSegfault on an untracked address got true want false")
	}
	if len(inv.got) != 0 {
		t.Errorf("unhandled faults invalidated %+v", inv.got)
	}
}

func TestHandleSegfaultFlushesMirrors(t *testing.T) {
	tr, h, _ := newTestTracker(t, SMCMTrack)
	hostMap(t, h, 0x10000, 0x2000, linux.PROT_READ)
	hostMap(t, h, 0x40000, 0x1000, linux.PROT_READ)
	hostMap(t, h, 0x50000, 0x2000, linux.PROT_READ)

	id := AnonMRID(tr.NextAnonID())
	shared := Flags{Shared: true}
	tr.Track(Mapping{Resource: &id, Base: 0x10000, Length: 0x2000, Flags: shared, Prot: rw})
	// Mirror of the second page only.
	tr.Track(Mapping{Resource: &id, Base: 0x40000, Offset: 0x1000, Length: 0x1000, Flags: shared, Prot: ro})
	tr.Track(Mapping{Resource: &id, Base: 0x50000, Length: 0x2000, Flags: shared, Prot: rw})

	var inv fakeInvalidator
	if !tr.HandleSegfault(0x11008, &inv) {
		t.Fatalf("HandleSegfault got false want true")
	}
	want := []invalidation{
		{Start: 0x51000, Length: hostarch.PageSize, Callback: true},
		{Start: 0x40000, Length: hostarch.PageSize, Callback: false},
		{Start: 0x11000, Length: hostarch.PageSize, Callback: true},
	}
	if diff := cmp.Diff(want, inv.got); diff != "" {
		t.Errorf("invalidations mismatch (-want +got):\n%s", diff)
	}
	checkHostProt(t, h, 0x11000, linux.PROT_READ|linux.PROT_WRITE)
	checkHostProt(t, h, 0x51000, linux.PROT_READ|linux.PROT_WRITE)
	checkHostProt(t, h, 0x40000, linux.PROT_READ)
}

func TestMarkGuestExecutableRange(t *testing.T) {
	tr, h, _ := newTestTracker(t, SMCMTrack)
	hostMap(t, h, 0x10000, 0x4000, linux.PROT_READ|linux.PROT_WRITE)
	hostMap(t, h, 0x20000, 0x1000, linux.PROT_READ|linux.PROT_WRITE)
	hostMap(t, h, 0x30000, 0x1000, linux.PROT_READ|linux.PROT_WRITE)

	tr.Track(Mapping{Base: 0x10000, Length: 0x4000, Prot: rw})
	id := AnonMRID(tr.NextAnonID())
	shared := Flags{Shared: true}
	tr.Track(Mapping{Resource: &id, Base: 0x20000, Length: 0x1000, Flags: shared, Prot: rw})
	tr.Track(Mapping{Resource: &id, Base: 0x30000, Length: 0x1000, Flags: shared, Prot: rw})

	tr.MarkGuestExecutableRange(0x11800, 0x1000)
	checkHostProt(t, h, 0x10000, linux.PROT_READ|linux.PROT_WRITE)
	checkHostProt(t, h, 0x11000, linux.PROT_READ)
	checkHostProt(t, h, 0x12000, linux.PROT_READ)
	checkHostProt(t, h, 0x13000, linux.PROT_READ|linux.PROT_WRITE)

	tr.MarkGuestExecutableRange(0x20010, 0x10)
	checkHostProt(t, h, 0x20000, linux.PROT_READ)
	checkHostProt(t, h, 0x30000, linux.PROT_READ)
}

func TestMarkGuestExecutableRangeOtherModes(t *testing.T) {
	for _, mode := range []SMCMode{SMCNone, SMCFull} {
		t.Run(mode.String(), func(t *testing.T) {
			tr, h, _ := newTestTracker(t, mode)
			hostMap(t, h, 0x10000, 0x1000, linux.PROT_READ|linux.PROT_WRITE)
			tr.Track(Mapping{Base: 0x10000, Length: 0x1000, Prot: rw})

			tr.MarkGuestExecutableRange(0x10000, 0x1000)
			if n := h.Calls(hosttest.OpMprotect); n != 0 {
				t.Errorf("mprotect called %d times in mode %v", n, mode)
			}
		})
	}
}
