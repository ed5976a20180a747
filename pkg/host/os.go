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

// Package host is the narrow interface between the syscall layer and the
// kernel it runs on.
//
// Every guest memory operation, fork and clone goes through OS so that the
// layer above can be exercised against a fake host (see package hosttest).
// Errors are *errors.Error values from package linuxerr.
package host

import (
	"gvisor.dev/xlate/pkg/abi/linux"
)

// FileID identifies the file backing a mapping.
type FileID struct {
	Dev uint64
	Ino uint64

	// Path is the file's path, or empty if it could not be resolved.
	Path string
}

// Stack is a host stack allocated for a cloned child.
type Stack struct {
	Base uint64
	Size uint64
}

// Top returns the initial stack pointer of s.
func (s Stack) Top() uint64 {
	return s.Base + s.Size
}

// ForkResult is the outcome of OS.Fork, as seen by one side of the fork.
type ForkResult struct {
	// PID is the child's PID in the parent and 0 in the child.
	PID int32

	// Child is true on the child side.
	Child bool

	// VforkFD is the parent's end of the vfork completion pipe, or -1.
	VforkFD int
}

// OS is the host kernel.
type OS interface {
	// Mmap maps memory with mmap(2) semantics and returns the mapped
	// address.
	Mmap(addr, length uint64, prot, flags int, fd int, offset int64) (uint64, error)

	// Munmap unmaps [addr, addr+length).
	Munmap(addr, length uint64) error

	// Mprotect changes the protection of [addr, addr+length).
	Mprotect(addr, length uint64, prot int) error

	// Mremap resizes or moves a mapping with mremap(2) semantics.
	Mremap(oldAddr, oldSize, newSize uint64, flags int, newAddr uint64) (uint64, error)

	// Shmat attaches a SysV shared memory segment.
	Shmat(shmid int, addr uint64, shmflg int) (uint64, error)

	// Shmdt detaches the segment attached at addr.
	Shmdt(addr uint64) error

	// ShmSegmentSize returns shm_segsz of the segment, from IPC_STAT.
	ShmSegmentSize(shmid int) (uint64, error)

	// Uname returns the host's utsname.
	Uname() (linux.UtsName, error)

	// FileID returns the device and inode of fd.
	FileID(fd int) (FileID, error)

	// Gettid returns the calling thread's host TID.
	Gettid() int32

	// Getpid returns the host PID.
	Getpid() int32

	// SetSignalMask replaces the calling thread's signal mask and returns
	// the previous one.
	SetSignalMask(mask uint64) uint64

	// AllocateStack allocates a host stack of at least size bytes.
	AllocateStack(size uint64) (Stack, error)

	// FreeStack releases a stack from AllocateStack.
	FreeStack(s Stack) error

	// Fork forks the process. If vfork is set, the parent can wait with
	// WaitVforkChild until the child execs or exits.
	Fork(vfork bool) (ForkResult, error)

	// WaitVforkChild blocks until the vfork child of r has execed or
	// exited. It returns immediately if r is not a vfork parent.
	WaitVforkChild(r ForkResult) error

	// RawCloneFlags returns the clone flags RawClone serves a request for
	// flags with, or the error it fails such a request with.
	RawCloneFlags(flags uint64) (uint64, error)

	// RawClone clones the process with the given clone3 arguments, whose
	// flags come from RawCloneFlags. The child runs entry, which must not
	// return. If the flags include CLONE_VM the child runs on
	// [args.Stack, args.Stack+args.StackSize). The parent gets the child's
	// TID.
	RawClone(args *linux.CloneArgs, entry func()) (int32, error)

	// PidfdOpen returns a pidfd referring to pid.
	PidfdOpen(pid int32) (int, error)

	// WriteUint32 stores v at guest address addr.
	WriteUint32(addr uint64, v uint32) error

	// ReadUint32 loads the value at guest address addr.
	ReadUint32(addr uint64) (uint32, error)

	// CopyIn reads len(dst) bytes of guest memory at addr.
	CopyIn(addr uint64, dst []byte) error

	// CopyOut writes src to guest memory at addr.
	CopyOut(addr uint64, src []byte) error

	// Syscall6 issues host syscall nr directly. It serves syscalls whose
	// guest and host semantics are identical.
	Syscall6(nr uintptr, a1, a2, a3, a4, a5, a6 uint64) (uint64, error)

	// Exit terminates the calling process with the given status.
	Exit(code int)
}
