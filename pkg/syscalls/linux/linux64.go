// Copyright 2018 The gVisor Authors.
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

// Package linux provides syscall tables for x86-64 and i386 Linux guests.
package linux

import (
	"golang.org/x/sys/unix"
	"gvisor.dev/xlate/pkg/kernel"
	"gvisor.dev/xlate/pkg/syscalls"
)

// MaxSyscalls is the number of slots in each table.
const MaxSyscalls = 512

// AMD64 is the set of implemented x86-64 syscalls, by number. Syscalls with
// identical semantics on the host are passed through.
var AMD64 = map[int]kernel.Syscall{
	0:   syscalls.Passthrough("read", unix.SYS_READ, 3),
	1:   syscalls.Passthrough("write", unix.SYS_WRITE, 3),
	9:   syscalls.Supported("mmap", Mmap),
	10:  syscalls.Supported("mprotect", Mprotect),
	11:  syscalls.Supported("munmap", Munmap),
	12:  syscalls.Supported("brk", Brk),
	25:  syscalls.Supported("mremap", Mremap),
	29:  syscalls.Passthrough("shmget", unix.SYS_SHMGET, 3),
	30:  syscalls.Supported("shmat", Shmat),
	39:  syscalls.Passthrough("getpid", unix.SYS_GETPID, 0),
	56:  syscalls.Supported("clone", Clone),
	57:  syscalls.Supported("fork", Fork),
	58:  syscalls.Supported("vfork", Vfork),
	60:  syscalls.NoReturn("exit", Exit),
	63:  syscalls.Supported("uname", Uname),
	67:  syscalls.Supported("shmdt", Shmdt),
	158: syscalls.Supported("arch_prctl", ArchPrctl),
	186: syscalls.Passthrough("gettid", unix.SYS_GETTID, 0),
	218: syscalls.Supported("set_tid_address", SetTidAddress),
	231: syscalls.NoReturn("exit_group", ExitGroup),
	435: syscalls.Supported("clone3", Clone3),
}

// NewAMD64Table returns the x86-64 syscall table. Unimplemented syscalls
// behave according to missing.
func NewAMD64Table(missing kernel.MissingSyscallPolicy) *kernel.SyscallTable {
	return newTable(kernel.X86_64, AMD64, missing)
}

// NewTable returns the syscall table for abi.
func NewTable(abi kernel.ABI, missing kernel.MissingSyscallPolicy) *kernel.SyscallTable {
	if abi.Is64Bit() {
		return NewAMD64Table(missing)
	}
	return NewI386Table(missing)
}

func newTable(abi kernel.ABI, entries map[int]kernel.Syscall, missing kernel.MissingSyscallPolicy) *kernel.SyscallTable {
	s := kernel.NewSyscallTable(abi, MaxSyscalls, missing)
	for nr, sc := range entries {
		s.Register(nr, sc)
	}
	return s
}
