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
	"gvisor.dev/xlate/pkg/abi/linux"
	"gvisor.dev/xlate/pkg/errors/linuxerr"
	"gvisor.dev/xlate/pkg/hostarch"
	"gvisor.dev/xlate/pkg/kernel"
)

// Mmap implements linux syscall mmap(2).
func Mmap(t *kernel.Thread, addr, length, prot, flags, fd, offset uint64) uint64 {
	return linuxerr.ToSyscallReturn(t.Handler().GuestMmap(addr, length, int(int32(prot)), int(int32(flags)), int(int32(fd)), int64(offset)))
}

// Mmap2 implements the i386 syscall mmap2(2), whose offset is in pages.
func Mmap2(t *kernel.Thread, addr, length, prot, flags, fd, pgoffset uint64) uint64 {
	offset := int64(uint32(pgoffset)) << hostarch.PageShift
	return linuxerr.ToSyscallReturn(t.Handler().GuestMmap(addr, length, int(int32(prot)), int(int32(flags)), int(int32(fd)), offset))
}

// OldMmap implements the i386 syscall old_mmap, which reads its arguments
// from a struct mmap_arg_struct in guest memory.
func OldMmap(t *kernel.Thread, argsAddr uint64) uint64 {
	var a linux.MmapArgStruct
	buf := make([]byte, a.SizeBytes())
	if err := t.Handler().OS().CopyIn(argsAddr, buf); err != nil {
		return linuxerr.ToSyscallReturn(0, linuxerr.EFAULT)
	}
	a.UnmarshalBytes(buf)
	if a.Offset&(hostarch.PageSize-1) != 0 {
		return linuxerr.ToSyscallReturn(0, linuxerr.EINVAL)
	}
	return linuxerr.ToSyscallReturn(t.Handler().GuestMmap(uint64(a.Addr), uint64(a.Len), int(int32(a.Prot)), int(int32(a.Flags)), int(int32(a.FD)), int64(a.Offset)))
}

// Munmap implements linux syscall munmap(2).
func Munmap(t *kernel.Thread, addr, length uint64) uint64 {
	return linuxerr.ToSyscallReturn(0, t.Handler().GuestMunmap(addr, length))
}

// Mprotect implements linux syscall mprotect(2).
func Mprotect(t *kernel.Thread, addr, length, prot uint64) uint64 {
	return linuxerr.ToSyscallReturn(0, t.Handler().GuestMprotect(addr, length, int(int32(prot))))
}

// Mremap implements linux syscall mremap(2).
func Mremap(t *kernel.Thread, oldAddr, oldSize, newSize, flags, newAddr uint64) uint64 {
	return linuxerr.ToSyscallReturn(t.Handler().GuestMremap(oldAddr, oldSize, newSize, int(int32(flags)), newAddr))
}

// Brk implements linux syscall brk(2). It never fails; the current break is
// returned when it cannot be moved.
func Brk(t *kernel.Thread, addr uint64) uint64 {
	return t.Handler().Brk(addr)
}
