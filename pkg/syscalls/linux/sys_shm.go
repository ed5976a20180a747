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
	"time"

	"golang.org/x/sys/unix"
	"gvisor.dev/xlate/pkg/abi/linux"
	"gvisor.dev/xlate/pkg/errors/linuxerr"
	"gvisor.dev/xlate/pkg/kernel"
	"gvisor.dev/xlate/pkg/log"
)

// ipcLog reports unsupported ipc(2) calls.
var ipcLog = log.BasicRateLimitedLogger(time.Second)

// Shmat implements linux syscall shmat(2).
func Shmat(t *kernel.Thread, shmid, addr, shmflg uint64) uint64 {
	return linuxerr.ToSyscallReturn(t.Handler().GuestShmat(int(int32(shmid)), addr, int(int32(shmflg))))
}

// Shmdt implements linux syscall shmdt(2).
func Shmdt(t *kernel.Thread, addr uint64) uint64 {
	return linuxerr.ToSyscallReturn(0, t.Handler().GuestShmdt(addr))
}

// Ipc implements the i386 System V IPC multiplexer ipc(2). Only the shared
// memory calls that change the guest address space are supported.
//
//	sys_ipc(call, first, second, third, ptr, fifth)
func Ipc(t *kernel.Thread, call, first, second, third, ptr, fifth uint64) uint64 {
	h := t.Handler()
	version := call >> 16
	switch call & 0xffff {
	case linux.SHMAT:
		// Version 1 is the iBCS2 calling convention, which Linux only
		// accepts from kernel callers.
		if version == 1 {
			return linuxerr.ToSyscallReturn(0, linuxerr.EINVAL)
		}
		addr, err := h.GuestShmat(int(int32(first)), ptr, int(int32(second)))
		if err != nil {
			return linuxerr.ToSyscallReturn(0, err)
		}
		return linuxerr.ToSyscallReturn(0, h.OS().WriteUint32(third, uint32(addr)))
	case linux.SHMDT:
		return linuxerr.ToSyscallReturn(0, h.GuestShmdt(ptr))
	case linux.SHMGET:
		return linuxerr.ToSyscallReturn(h.OS().Syscall6(unix.SYS_SHMGET, first, second, third, 0, 0, 0))
	default:
		ipcLog.Warningf("%v: unsupported ipc call %d", t, call&0xffff)
		return linuxerr.ToSyscallReturn(0, linuxerr.ENOSYS)
	}
}
