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
	"testing"

	"gvisor.dev/xlate/pkg/abi/linux"
	"gvisor.dev/xlate/pkg/host/hosttest"
)

func TestNewSelectsStrategy(t *testing.T) {
	for _, tc := range []struct {
		name    string
		version linux.KernelVersion
		opts    Options
		want32  bool
	}{
		{"64-bit guest", linux.MakeKernelVersion(4, 14, 0), Options{}, false},
		{"32-bit guest, old host", linux.MakeKernelVersion(4, 16, 9), Options{Is32Bit: true}, true},
		{"32-bit guest, new host", linux.MakeKernelVersion(4, 17, 0), Options{Is32Bit: true}, false},
		{"32-bit guest, forced", linux.MakeKernelVersion(6, 1, 0), Options{Is32Bit: true, Force32BitAllocator: true}, true},
		{"64-bit guest, forced", linux.MakeKernelVersion(6, 1, 0), Options{Force32BitAllocator: true}, false},
	} {
		t.Run(tc.name, func(t *testing.T) {
			a := New(hosttest.New(tc.version.String()), tc.version, tc.opts)
			_, is32 := a.(*Allocator32)
			if is32 != tc.want32 {
				t.Errorf("New(%v, %+v) returned %T", tc.version, tc.opts, a)
			}
		})
	}
}

func TestPassthroughForwards(t *testing.T) {
	h := hosttest.New("6.1.0")
	p := NewPassthrough(h)
	addr, err := p.Mmap(0, 0x2000, rw, anon, -1, 0)
	if err != nil {
		t.Fatalf("Mmap failed: %v", err)
	}
	if addr < 1<<32 {
		t.Errorf("Passthrough placed the mapping at %#x; want the host's choice", addr)
	}
	if got, err := p.Mremap(addr, 0x2000, 0x1000, 0, 0); err != nil || got != addr {
		t.Errorf("Mremap got (%#x, %v) want %#x", got, err, addr)
	}
	if err := p.Munmap(addr, 0x1000); err != nil {
		t.Errorf("Munmap failed: %v", err)
	}
	h.AddSegment(1, 0x1000)
	shm, err := p.Shmat(1, 0, 0)
	if err != nil {
		t.Fatalf("Shmat failed: %v", err)
	}
	if err := p.Shmdt(shm); err != nil {
		t.Errorf("Shmdt failed: %v", err)
	}
	for _, op := range []string{hosttest.OpMmap, hosttest.OpMremap, hosttest.OpMunmap, hosttest.OpShmat, hosttest.OpShmdt} {
		if n := h.Calls(op); n != 1 {
			t.Errorf("host %s calls got %d want 1", op, n)
		}
	}
}
