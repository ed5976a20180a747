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
	"golang.org/x/sys/unix"
	"gvisor.dev/xlate/pkg/kernel"
	"gvisor.dev/xlate/pkg/syscalls"
)

// I386 is the set of implemented i386 syscalls, by number.
var I386 = map[int]kernel.Syscall{
	1:   syscalls.NoReturn("exit", Exit),
	2:   syscalls.Supported("fork", Fork),
	3:   syscalls.Passthrough("read", unix.SYS_READ, 3),
	4:   syscalls.Passthrough("write", unix.SYS_WRITE, 3),
	20:  syscalls.Passthrough("getpid", unix.SYS_GETPID, 0),
	45:  syscalls.Supported("brk", Brk),
	90:  syscalls.Supported("mmap", OldMmap),
	91:  syscalls.Supported("munmap", Munmap),
	117: syscalls.Supported("ipc", Ipc),
	120: syscalls.Supported("clone", Clone32),
	122: syscalls.Supported("uname", Uname),
	125: syscalls.Supported("mprotect", Mprotect),
	163: syscalls.Supported("mremap", Mremap),
	190: syscalls.Supported("vfork", Vfork),
	192: syscalls.Supported("mmap2", Mmap2),
	224: syscalls.Passthrough("gettid", unix.SYS_GETTID, 0),
	243: syscalls.Supported("set_thread_area", SetThreadArea),
	244: syscalls.Supported("get_thread_area", GetThreadArea),
	252: syscalls.NoReturn("exit_group", ExitGroup),
	258: syscalls.Supported("set_tid_address", SetTidAddress),
	395: syscalls.Passthrough("shmget", unix.SYS_SHMGET, 3),
	397: syscalls.Supported("shmat", Shmat),
	398: syscalls.Supported("shmdt", Shmdt),
	435: syscalls.Supported("clone3", Clone3),
}

// NewI386Table returns the i386 syscall table. Unimplemented syscalls behave
// according to missing.
func NewI386Table(missing kernel.MissingSyscallPolicy) *kernel.SyscallTable {
	return newTable(kernel.I386, I386, missing)
}
