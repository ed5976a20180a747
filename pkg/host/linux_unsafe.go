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

//go:build linux && go1.18
// +build linux,go1.18

// //go:linkname directives type-checked by checklinkname. Any other
// non-linkname assumptions outside the Go 1 compatibility guarantee should
// have an accompanied vet check or version guard build tag.

package host

import (
	"syscall"
	"unsafe"

	"golang.org/x/sys/unix"
	"gvisor.dev/xlate/pkg/abi/linux"
	"gvisor.dev/xlate/pkg/errors/linuxerr"
)

//go:linkname beforeFork syscall.runtime_BeforeFork
func beforeFork()

//go:linkname afterFork syscall.runtime_AfterFork
func afterFork()

//go:linkname afterForkInChild syscall.runtime_AfterForkInChild
func afterForkInChild()

// SetSignalMask implements OS.SetSignalMask.
func (*Linux) SetSignalMask(mask uint64) uint64 {
	var old uint64
	unix.RawSyscall6(unix.SYS_RT_SIGPROCMASK, unix.SIG_SETMASK, uintptr(unsafe.Pointer(&mask)), uintptr(unsafe.Pointer(&old)), 8, 0, 0)
	return old
}

// Fork implements OS.Fork.
func (*Linux) Fork(vfork bool) (ForkResult, error) {
	// Declared ahead of beforeFork: nothing between beforeFork and
	// afterFork may allocate.
	var (
		pid   uintptr
		errno syscall.Errno
		pipe  = [2]int{-1, -1}
	)
	if vfork {
		if err := unix.Pipe2(pipe[:], unix.O_CLOEXEC); err != nil {
			return ForkResult{}, linuxerr.ErrorFromUnix(linuxerr.ErrnoOf(err))
		}
	}

	// Among other things, beforeFork masks all signals.
	beforeFork()
	pid, _, errno = syscall.RawSyscall6(syscall.SYS_CLONE, uintptr(syscall.SIGCHLD), 0, 0, 0, 0, 0)
	if errno != 0 {
		afterFork()
		if vfork {
			unix.Close(pipe[0])
			unix.Close(pipe[1])
		}
		return ForkResult{}, linuxerr.ErrorFromUnix(unix.Errno(errno))
	}
	if pid == 0 {
		afterForkInChild()
		if vfork {
			// The write end stays open until exec or exit.
			unix.Close(pipe[0])
		}
		return ForkResult{Child: true, VforkFD: -1}, nil
	}
	afterFork()
	if vfork {
		unix.Close(pipe[1])
	}
	return ForkResult{PID: int32(pid), VforkFD: pipe[0]}, nil
}

func rawClone(args *linux.CloneArgs, entry func()) (int32, error) {
	beforeFork()
	pid, _, errno := syscall.RawSyscall(unix.SYS_CLONE3, uintptr(unsafe.Pointer(args)), linux.CloneArgsSize, 0)
	if errno != 0 {
		afterFork()
		return 0, linuxerr.ErrorFromUnix(unix.Errno(errno))
	}
	if pid == 0 {
		afterForkInChild()
		entry()
		unix.Exit(0)
	}
	afterFork()
	return int32(pid), nil
}

// WriteUint32 implements OS.WriteUint32.
func (*Linux) WriteUint32(addr uint64, v uint32) error {
	if addr == 0 {
		return linuxerr.EFAULT
	}
	*(*uint32)(unsafe.Pointer(uintptr(addr))) = v
	return nil
}

// ReadUint32 implements OS.ReadUint32.
func (*Linux) ReadUint32(addr uint64) (uint32, error) {
	if addr == 0 {
		return 0, linuxerr.EFAULT
	}
	return *(*uint32)(unsafe.Pointer(uintptr(addr))), nil
}

// CopyIn implements OS.CopyIn.
func (*Linux) CopyIn(addr uint64, dst []byte) error {
	if addr == 0 {
		return linuxerr.EFAULT
	}
	copy(dst, unsafe.Slice((*byte)(unsafe.Pointer(uintptr(addr))), len(dst)))
	return nil
}

// CopyOut implements OS.CopyOut.
func (*Linux) CopyOut(addr uint64, src []byte) error {
	if addr == 0 {
		return linuxerr.EFAULT
	}
	copy(unsafe.Slice((*byte)(unsafe.Pointer(uintptr(addr))), len(src)), src)
	return nil
}
