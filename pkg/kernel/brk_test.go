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

	"gvisor.dev/xlate/pkg/abi/linux"
	"gvisor.dev/xlate/pkg/errors/linuxerr"
	"gvisor.dev/xlate/pkg/host/hosttest"
	"gvisor.dev/xlate/pkg/hostarch"
)

const dataSpace = 0x1000_0000

func TestBrkQueryMakesNoHostCalls(t *testing.T) {
	h, host, _ := newTestHandler(t)
	h.SetProgramBreak(dataSpace, 0)

	if got := h.Brk(0); got != dataSpace {
		t.Errorf("brk(0) = %#x, want %#x", got, dataSpace)
	}
	if got := h.Brk(dataSpace); got != dataSpace {
		t.Errorf("brk(current) = %#x, want %#x", got, dataSpace)
	}
	if n := host.Calls(hosttest.OpMmap) + host.Calls(hosttest.OpMunmap); n != 0 {
		t.Errorf("querying the break made %d host calls", n)
	}
}

func TestBrkGrowth(t *testing.T) {
	h, host, _ := newTestHandler(t)
	h.SetProgramBreak(dataSpace, 0)

	want := uint64(dataSpace + 0x1800)
	if got := h.Brk(want); got != want {
		t.Fatalf("brk(%#x) = %#x", want, got)
	}
	if n := host.Calls(hosttest.OpMmap); n != 1 {
		t.Errorf("first growth made %d mmap calls, want 1", n)
	}
	if !host.IsMapped(dataSpace, brkChunk) {
		t.Errorf("data segment not mapped in %d byte chunks", brkChunk)
	}
	v, ok := h.LookupVMA(dataSpace + 0x1000)
	if !ok || v.Base != dataSpace || v.Length != brkChunk || !v.Prot.Writable {
		t.Errorf("data segment VMA = %+v, %t", v, ok)
	}

	// Growth inside the reservation is free.
	want = dataSpace + brkChunk - 1
	if got := h.Brk(want); got != want {
		t.Errorf("brk(%#x) = %#x", want, got)
	}
	if n := host.Calls(hosttest.OpMmap); n != 1 {
		t.Errorf("growth inside the reservation called mmap")
	}

	// Growth past it maps the next chunk right after the first.
	want = dataSpace + brkChunk + 1
	if got := h.Brk(want); got != want {
		t.Errorf("brk(%#x) = %#x", want, got)
	}
	if !host.IsMapped(dataSpace, 2*brkChunk) {
		t.Errorf("second chunk not mapped")
	}
}

func TestBrkBelowDataSpace(t *testing.T) {
	h, host, _ := newTestHandler(t)
	h.SetProgramBreak(dataSpace, 0)
	h.Brk(dataSpace + 0x5000)
	host.ResetCalls()

	if got := h.Brk(dataSpace - hostarch.PageSize); got != dataSpace {
		t.Errorf("brk below the data segment = %#x, want %#x", got, dataSpace)
	}
	if got := h.Brk(0); got != dataSpace {
		t.Errorf("break not reset to %#x: %#x", dataSpace, got)
	}
	if n := host.Calls(hosttest.OpMunmap); n != 0 {
		t.Errorf("resetting the break unmapped memory")
	}
}

func TestBrkShrinkUnmapsTail(t *testing.T) {
	h, host, _ := newTestHandler(t)
	h.SetProgramBreak(dataSpace, 0)
	h.Brk(dataSpace + 3<<20)

	want := uint64(dataSpace + 0x1800)
	if got := h.Brk(want); got != want {
		t.Fatalf("brk(%#x) = %#x", want, got)
	}
	if !host.IsMapped(dataSpace, 0x2000) {
		t.Errorf("pages below the new break were unmapped")
	}
	if host.IsMapped(dataSpace+0x2000, hostarch.PageSize) {
		t.Errorf("tail above the new break still mapped")
	}
	if _, ok := h.LookupVMA(dataSpace + 0x2000); ok {
		t.Errorf("tail above the new break still tracked")
	}

	// Growing again maps fresh pages.
	host.ResetCalls()
	want = dataSpace + 0x10000
	if got := h.Brk(want); got != want {
		t.Errorf("brk(%#x) = %#x", want, got)
	}
	if n := host.Calls(hosttest.OpMmap); n != 1 {
		t.Errorf("growing after a shrink made %d mmap calls, want 1", n)
	}
	if !host.IsMapped(dataSpace, brkChunk) {
		t.Errorf("regrown data segment not mapped")
	}
}

func TestBrkFailureKeepsBreak(t *testing.T) {
	for _, tc := range []struct {
		name  string
		opts  []testOption
		base  uint64
		setup func(*hosttest.Host)
	}{
		{
			name:  "host mmap fails",
			base:  dataSpace,
			setup: func(host *hosttest.Host) { host.FailNext(hosttest.OpMmap, linuxerr.ENOMEM) },
		},
		{
			name: "range taken",
			base: dataSpace,
			setup: func(host *hosttest.Host) {
				host.Mmap(dataSpace+brkChunk-hostarch.PageSize, hostarch.PageSize, linux.PROT_READ, linux.MAP_FIXED|linux.MAP_PRIVATE|linux.MAP_ANONYMOUS, -1, 0)
			},
		},
		{
			name: "NOREPLACE ignored by host",
			base: dataSpace,
			setup: func(host *hosttest.Host) {
				host.NoReplaceUnsupported = true
				host.Mmap(dataSpace, hostarch.PageSize, linux.PROT_READ, linux.MAP_FIXED|linux.MAP_PRIVATE|linux.MAP_ANONYMOUS, -1, 0)
			},
		},
		{
			name: "32-bit guest past 4GiB",
			opts: []testOption{withABI(I386)},
			base: 0xfff0_0000,
		},
	} {
		t.Run(tc.name, func(t *testing.T) {
			h, host, _ := newTestHandler(t, tc.opts...)
			if tc.setup != nil {
				tc.setup(host)
			}
			before := host.MappedPages()
			h.SetProgramBreak(tc.base, 0)
			if got := h.Brk(tc.base + 0x2000); got != tc.base {
				t.Errorf("failed brk = %#x, want %#x", got, tc.base)
			}
			if after := host.MappedPages(); len(after) != len(before) {
				t.Errorf("failed brk changed the mapped pages: %d before, %d after", len(before), len(after))
			}
			if len(h.VMAs().Entries()) != 0 {
				t.Errorf("failed brk left VMAs: %+v", h.VMAs().Entries())
			}
		})
	}
}
