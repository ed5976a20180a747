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

package linux

import (
	"testing"

	"gvisor.dev/xlate/pkg/abi/linux"
	"gvisor.dev/xlate/pkg/errors/linuxerr"
	"gvisor.dev/xlate/pkg/host"
	"gvisor.dev/xlate/pkg/host/hosttest"
	"gvisor.dev/xlate/pkg/hostarch"
	"gvisor.dev/xlate/pkg/kernel"
)

const (
	anonPrivate = linux.MAP_PRIVATE | linux.MAP_ANONYMOUS
	protRW      = linux.PROT_READ | linux.PROT_WRITE

	// noFD is -1 as the guest passes it.
	noFD = 0xffffffff
)

func TestMmapSyscalls(t *testing.T) {
	e := newTestEnv(t, kernel.X86_64)
	addr := e.syscall(9, 0, 3*hostarch.PageSize, protRW, anonPrivate, noFD, 0)
	if linuxerr.IsSyscallError(addr) {
		t.Fatalf("mmap = %#x", addr)
	}
	v, ok := e.h.LookupVMA(addr)
	if !ok || v.Base != addr || v.Length != 3*hostarch.PageSize {
		t.Fatalf("LookupVMA(%#x) = %+v, %t", addr, v, ok)
	}

	if got := e.syscall(10, addr, hostarch.PageSize, linux.PROT_READ); got != 0 {
		t.Errorf("mprotect = %#x", got)
	}
	if v, _ := e.h.LookupVMA(addr); v.Prot.Writable {
		t.Errorf("first page still writable after mprotect")
	}

	moved := e.syscall(25, addr, 3*hostarch.PageSize, 4*hostarch.PageSize, linux.MREMAP_MAYMOVE, 0)
	if linuxerr.IsSyscallError(moved) {
		t.Fatalf("mremap = %#x", moved)
	}
	if _, ok := e.h.LookupVMA(moved + 3*hostarch.PageSize); !ok {
		t.Errorf("grown tail of %#x not tracked", moved)
	}

	if got := e.syscall(11, moved, 4*hostarch.PageSize); got != 0 {
		t.Errorf("munmap = %#x", got)
	}
	if _, ok := e.h.LookupVMA(moved); ok {
		t.Errorf("%#x still tracked after munmap", moved)
	}
	if got := e.syscall(11, moved+1, hostarch.PageSize); got != errno(linuxerr.EINVAL) {
		t.Errorf("munmap of unaligned address = %#x, want EINVAL", got)
	}
}

func TestMmapFileOffsets(t *testing.T) {
	const fd = 5
	for _, tc := range []struct {
		name   string
		abi    kernel.ABI
		nr     uint64
		offset uint64
	}{
		{"mmap", kernel.X86_64, 9, 0x3000},
		// mmap2 takes the offset in pages.
		{"mmap2", kernel.I386, 192, 3},
	} {
		t.Run(tc.name, func(t *testing.T) {
			e := newTestEnv(t, tc.abi)
			e.host.SetFile(fd, host.FileID{Dev: 1, Ino: 2, Path: "/lib/libc.so.6"})
			addr := e.syscall(tc.nr, 0, hostarch.PageSize, linux.PROT_READ, linux.MAP_PRIVATE, fd, tc.offset)
			if linuxerr.IsSyscallError(addr) {
				t.Fatalf("%s = %#x", tc.name, addr)
			}
			v, ok := e.h.LookupVMA(addr)
			if !ok || v.Offset != 0x3000 {
				t.Errorf("LookupVMA(%#x) = %+v, %t, want offset 0x3000", addr, v, ok)
			}
			if !tc.abi.Is64Bit() && addr >= 1<<32 {
				t.Errorf("32-bit guest mapping at %#x", addr)
			}
		})
	}
}

func TestMmapBadFile(t *testing.T) {
	e := newTestEnv(t, kernel.X86_64)
	if got := e.syscall(9, 0, hostarch.PageSize, linux.PROT_READ, linux.MAP_PRIVATE, 9, 0); got != errno(linuxerr.EBADF) {
		t.Errorf("mmap of unknown fd = %#x, want EBADF", got)
	}
}

func TestOldMmap(t *testing.T) {
	e := newTestEnv(t, kernel.I386)
	argsAddr := e.guestPage(t)
	writeArgs := func(offset uint32) {
		var buf [24]byte
		for i, v := range []uint32{0, 2 * hostarch.PageSize, protRW, anonPrivate, noFD, offset} {
			hostarch.ByteOrder.PutUint32(buf[i*4:], v)
		}
		if err := e.host.CopyOut(argsAddr, buf[:]); err != nil {
			t.Fatalf("CopyOut failed: %v", err)
		}
	}

	writeArgs(0)
	addr := e.syscall(90, argsAddr)
	if linuxerr.IsSyscallError(addr) {
		t.Fatalf("old mmap = %#x", addr)
	}
	if v, ok := e.h.LookupVMA(addr); !ok || v.Length != 2*hostarch.PageSize {
		t.Errorf("LookupVMA(%#x) = %+v, %t", addr, v, ok)
	}

	writeArgs(100)
	if got := e.syscall(90, argsAddr); got != errno(linuxerr.EINVAL) {
		t.Errorf("old mmap with unaligned offset = %#x, want EINVAL", got)
	}
	if got := e.syscall(90, 0); got != errno(linuxerr.EFAULT) {
		t.Errorf("old mmap(NULL) = %#x, want EFAULT", got)
	}
}

func TestBrkSyscall(t *testing.T) {
	const dataSpace = 0x1000_0000
	e := newTestEnv(t, kernel.X86_64)
	e.h.SetProgramBreak(dataSpace, 0)
	if got := e.syscall(12, 0); got != dataSpace {
		t.Fatalf("brk(0) = %#x, want %#x", got, dataSpace)
	}
	if got := e.syscall(12, dataSpace+0x1800); got != dataSpace+0x1800 {
		t.Errorf("brk grow = %#x, want %#x", got, dataSpace+0x1800)
	}
	if _, ok := e.h.LookupVMA(dataSpace); !ok {
		t.Errorf("break not tracked")
	}
	e.host.FailNext(hosttest.OpMmap, linuxerr.ENOMEM)
	if got := e.syscall(12, dataSpace+16<<20); got != dataSpace+0x1800 {
		t.Errorf("failed brk = %#x, want the old break", got)
	}
}
