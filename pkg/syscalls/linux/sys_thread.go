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

// Exit implements linux syscall exit(2).
func Exit(t *kernel.Thread, status uint64) uint64 {
	t.RequestExit(int(status & 0xff))
	return 0
}

// ExitGroup implements linux syscall exit_group(2). It exits the host
// process, taking every guest thread with it.
func ExitGroup(t *kernel.Thread, status uint64) uint64 {
	t.Handler().OS().Exit(int(status & 0xff))
	return 0
}

// SetTidAddress implements linux syscall set_tid_address(2).
func SetTidAddress(t *kernel.Thread, addr uint64) uint64 {
	t.SetClearChildTID(addr)
	return uint64(t.TID())
}

// ArchPrctl implements linux syscall arch_prctl(2) for the segment base
// codes.
func ArchPrctl(t *kernel.Thread, code, addr uint64) uint64 {
	s := t.State
	switch code {
	case linux.ARCH_SET_FS, linux.ARCH_SET_GS:
		if addr >= kernel.TaskMax {
			return linuxerr.ToSyscallReturn(0, linuxerr.EPERM)
		}
		if code == linux.ARCH_SET_FS {
			s.FSBase = addr
		} else {
			s.GSBase = addr
		}
		return 0
	case linux.ARCH_GET_FS, linux.ARCH_GET_GS:
		base := s.FSBase
		if code == linux.ARCH_GET_GS {
			base = s.GSBase
		}
		var buf [8]byte
		hostarch.ByteOrder.PutUint64(buf[:], base)
		if err := t.Handler().OS().CopyOut(addr, buf[:]); err != nil {
			return linuxerr.ToSyscallReturn(0, linuxerr.EFAULT)
		}
		return 0
	default:
		return linuxerr.ToSyscallReturn(0, linuxerr.EINVAL)
	}
}

// SetThreadArea implements the i386 syscall set_thread_area(2).
func SetThreadArea(t *kernel.Thread, addr uint64) uint64 {
	return linuxerr.ToSyscallReturn(0, t.Handler().SetThreadArea(t, addr))
}

// GetThreadArea implements the i386 syscall get_thread_area(2).
func GetThreadArea(t *kernel.Thread, addr uint64) uint64 {
	return linuxerr.ToSyscallReturn(0, t.Handler().GetThreadArea(t, addr))
}
