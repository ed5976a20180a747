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

// Package syscalls builds the entries of a kernel.SyscallTable.
//
// Handlers are plain functions of the guest thread and up to six raw
// arguments. The arity of the function passed to Supported becomes the
// entry's argument count, so the JIT knows how many registers to marshal.
package syscalls

import (
	"fmt"

	"gvisor.dev/xlate/pkg/errors/linuxerr"
	"gvisor.dev/xlate/pkg/kernel"
)

// Supported returns an entry for a syscall implemented by fn. fn must be a
// func of *kernel.Thread and zero to six uint64 arguments returning the
// guest's return register.
func Supported(name string, fn any) kernel.Syscall {
	sc := kernel.Syscall{
		Name:              name,
		HostSyscallNumber: kernel.NoHostSyscall,
	}
	switch fn := fn.(type) {
	case func(*kernel.Thread) uint64:
		sc.NumArgs, sc.Fn0 = 0, fn
	case func(*kernel.Thread, uint64) uint64:
		sc.NumArgs, sc.Fn1 = 1, fn
	case func(*kernel.Thread, uint64, uint64) uint64:
		sc.NumArgs, sc.Fn2 = 2, fn
	case func(*kernel.Thread, uint64, uint64, uint64) uint64:
		sc.NumArgs, sc.Fn3 = 3, fn
	case func(*kernel.Thread, uint64, uint64, uint64, uint64) uint64:
		sc.NumArgs, sc.Fn4 = 4, fn
	case func(*kernel.Thread, uint64, uint64, uint64, uint64, uint64) uint64:
		sc.NumArgs, sc.Fn5 = 5, fn
	case func(*kernel.Thread, uint64, uint64, uint64, uint64, uint64, uint64) uint64:
		sc.NumArgs, sc.Fn6 = 6, fn
	default:
		panic(fmt.Sprintf("syscall %s: unsupported handler type %T", name, fn))
	}
	return sc
}

// NoReturn returns an entry for a syscall implemented by fn that never
// returns to the guest.
func NoReturn(name string, fn any) kernel.Syscall {
	sc := Supported(name, fn)
	sc.Flags |= kernel.SyscallNoReturn
	return sc
}

// Passthrough returns an entry that issues host syscall hostNR with the
// guest's first nargs arguments unchanged. The JIT may inline it.
func Passthrough(name string, hostNR uintptr, nargs uint8) kernel.Syscall {
	call := func(t *kernel.Thread, a1, a2, a3, a4, a5, a6 uint64) uint64 {
		rv, err := t.Handler().OS().Syscall6(hostNR, a1, a2, a3, a4, a5, a6)
		return linuxerr.ToSyscallReturn(rv, err)
	}
	sc := kernel.Syscall{
		Name:              name,
		NumArgs:           nargs,
		Flags:             kernel.SyscallInlineHost,
		HostSyscallNumber: int32(hostNR),
	}
	switch nargs {
	case 0:
		sc.Fn0 = func(t *kernel.Thread) uint64 { return call(t, 0, 0, 0, 0, 0, 0) }
	case 1:
		sc.Fn1 = func(t *kernel.Thread, a1 uint64) uint64 { return call(t, a1, 0, 0, 0, 0, 0) }
	case 2:
		sc.Fn2 = func(t *kernel.Thread, a1, a2 uint64) uint64 { return call(t, a1, a2, 0, 0, 0, 0) }
	case 3:
		sc.Fn3 = func(t *kernel.Thread, a1, a2, a3 uint64) uint64 { return call(t, a1, a2, a3, 0, 0, 0) }
	case 4:
		sc.Fn4 = func(t *kernel.Thread, a1, a2, a3, a4 uint64) uint64 { return call(t, a1, a2, a3, a4, 0, 0) }
	case 5:
		sc.Fn5 = func(t *kernel.Thread, a1, a2, a3, a4, a5 uint64) uint64 { return call(t, a1, a2, a3, a4, a5, 0) }
	case 6:
		sc.Fn6 = call
	default:
		panic(fmt.Sprintf("syscall %s: invalid arity %d", name, nargs))
	}
	return sc
}

// Error returns an entry for a syscall that always fails with err.
func Error(name string, err error) kernel.Syscall {
	return kernel.Syscall{
		Name:              name,
		NumArgs:           0,
		Flags:             kernel.SyscallNoSideEffects,
		HostSyscallNumber: kernel.NoHostSyscall,
		Fn0: func(*kernel.Thread) uint64 {
			return linuxerr.ToSyscallReturn(0, err)
		},
	}
}
