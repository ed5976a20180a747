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

// Clone implements linux syscall clone(2) with the x86-64 argument order:
//
//	sys_clone(clone_flags, newsp, parent_tidptr, child_tidptr, tls_val)
func Clone(t *kernel.Thread, flags, stack, parentTID, childTID, tls uint64) uint64 {
	return clone(t, flags, stack, parentTID, childTID, tls)
}

// Clone32 implements linux syscall clone(2) with the i386 argument order,
// which swaps the TLS and child TID arguments:
//
//	sys_clone(clone_flags, newsp, parent_tidptr, tls_val, child_tidptr)
func Clone32(t *kernel.Thread, flags, stack, parentTID, tls, childTID uint64) uint64 {
	return clone(t, flags, stack, parentTID, childTID, tls)
}

func clone(t *kernel.Thread, flags, stack, parentTID, childTID, tls uint64) uint64 {
	// clone(2) flags are an int; the clone3-only bits cannot be passed.
	flags = uint64(uint32(flags))
	args := linux.CloneArgs{
		Flags:      flags &^ linux.CSIGNAL,
		ExitSignal: flags & linux.CSIGNAL,
		Stack:      stack,
		ParentTID:  parentTID,
		ChildTID:   childTID,
		TLS:        tls,
	}
	if flags&linux.CLONE_PIDFD != 0 {
		// The pidfd is returned through parent_tidptr, so it cannot also
		// receive the TID.
		if flags&linux.CLONE_PARENT_SETTID != 0 {
			return linuxerr.ToSyscallReturn(0, linuxerr.EINVAL)
		}
		args.Pidfd = parentTID
	}
	return linuxerr.ToSyscallReturn(t.Handler().Clone(t, kernel.CloneRequest{Type: kernel.Clone2, Args: args}))
}

// Clone3 implements linux syscall clone3(2).
func Clone3(t *kernel.Thread, argsAddr, size uint64) uint64 {
	if size < linux.CloneArgsSizeVer0 {
		return linuxerr.ToSyscallReturn(0, linuxerr.EINVAL)
	}
	if size > hostarch.PageSize {
		return linuxerr.ToSyscallReturn(0, linuxerr.E2BIG)
	}
	buf := make([]byte, size)
	if err := t.Handler().OS().CopyIn(argsAddr, buf); err != nil {
		return linuxerr.ToSyscallReturn(0, linuxerr.EFAULT)
	}
	// A larger struct from a newer caller is accepted only if the fields
	// we do not know are zero.
	if size > linux.CloneArgsSize {
		for _, b := range buf[linux.CloneArgsSize:] {
			if b != 0 {
				return linuxerr.ToSyscallReturn(0, linuxerr.E2BIG)
			}
		}
	}
	var args linux.CloneArgs
	args.UnmarshalBytes(buf)
	if args.ExitSignal&^linux.CSIGNAL != 0 {
		return linuxerr.ToSyscallReturn(0, linuxerr.EINVAL)
	}
	return linuxerr.ToSyscallReturn(t.Handler().Clone(t, kernel.CloneRequest{Type: kernel.Clone3, Args: args}))
}

// Fork implements linux syscall fork(2).
func Fork(t *kernel.Thread) uint64 {
	return linuxerr.ToSyscallReturn(t.Handler().Fork(t, false))
}

// Vfork implements linux syscall vfork(2).
func Vfork(t *kernel.Thread) uint64 {
	return linuxerr.ToSyscallReturn(t.Handler().Fork(t, true))
}
