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

//go:build linux
// +build linux

package host

import (
	"fmt"

	"golang.org/x/sys/unix"
	"gvisor.dev/xlate/pkg/abi/linux"
	"gvisor.dev/xlate/pkg/errors/linuxerr"
	"gvisor.dev/xlate/pkg/log"
)

// Linux is the real host kernel.
type Linux struct{}

// NewLinux returns the real host.
func NewLinux() *Linux {
	return &Linux{}
}

var _ OS = (*Linux)(nil)

func errnoErr(errno unix.Errno) error {
	return linuxerr.ErrorFromUnix(errno)
}

// Mmap implements OS.Mmap.
func (*Linux) Mmap(addr, length uint64, prot, flags int, fd int, offset int64) (uint64, error) {
	r, _, errno := unix.Syscall6(unix.SYS_MMAP, uintptr(addr), uintptr(length), uintptr(prot), uintptr(flags), uintptr(fd), uintptr(offset))
	if errno != 0 {
		return 0, errnoErr(errno)
	}
	return uint64(r), nil
}

// Munmap implements OS.Munmap.
func (*Linux) Munmap(addr, length uint64) error {
	if _, _, errno := unix.Syscall(unix.SYS_MUNMAP, uintptr(addr), uintptr(length), 0); errno != 0 {
		return errnoErr(errno)
	}
	return nil
}

// Mprotect implements OS.Mprotect.
func (*Linux) Mprotect(addr, length uint64, prot int) error {
	if _, _, errno := unix.Syscall(unix.SYS_MPROTECT, uintptr(addr), uintptr(length), uintptr(prot)); errno != 0 {
		return errnoErr(errno)
	}
	return nil
}

// Mremap implements OS.Mremap.
func (*Linux) Mremap(oldAddr, oldSize, newSize uint64, flags int, newAddr uint64) (uint64, error) {
	r, _, errno := unix.Syscall6(unix.SYS_MREMAP, uintptr(oldAddr), uintptr(oldSize), uintptr(newSize), uintptr(flags), uintptr(newAddr), 0)
	if errno != 0 {
		return 0, errnoErr(errno)
	}
	return uint64(r), nil
}

// Shmat implements OS.Shmat.
func (*Linux) Shmat(shmid int, addr uint64, shmflg int) (uint64, error) {
	r, _, errno := unix.Syscall(unix.SYS_SHMAT, uintptr(shmid), uintptr(addr), uintptr(shmflg))
	if errno != 0 {
		return 0, errnoErr(errno)
	}
	return uint64(r), nil
}

// Shmdt implements OS.Shmdt.
func (*Linux) Shmdt(addr uint64) error {
	if _, _, errno := unix.Syscall(unix.SYS_SHMDT, uintptr(addr), 0, 0); errno != 0 {
		return errnoErr(errno)
	}
	return nil
}

// ShmSegmentSize implements OS.ShmSegmentSize.
func (*Linux) ShmSegmentSize(shmid int) (uint64, error) {
	var desc unix.SysvShmDesc
	if _, err := unix.SysvShmCtl(shmid, unix.IPC_STAT, &desc); err != nil {
		return 0, linuxerr.ErrorFromUnix(linuxerr.ErrnoOf(err))
	}
	return uint64(desc.Segsz), nil
}

// Uname implements OS.Uname.
func (*Linux) Uname() (linux.UtsName, error) {
	var uts unix.Utsname
	if err := unix.Uname(&uts); err != nil {
		return linux.UtsName{}, linuxerr.ErrorFromUnix(linuxerr.ErrnoOf(err))
	}
	return linux.UtsName{
		Sysname:    uts.Sysname,
		Nodename:   uts.Nodename,
		Release:    uts.Release,
		Version:    uts.Version,
		Machine:    uts.Machine,
		Domainname: uts.Domainname,
	}, nil
}

// FileID implements OS.FileID.
func (*Linux) FileID(fd int) (FileID, error) {
	var st unix.Stat_t
	if err := unix.Fstat(fd, &st); err != nil {
		return FileID{}, linuxerr.ErrorFromUnix(linuxerr.ErrnoOf(err))
	}
	id := FileID{Dev: uint64(st.Dev), Ino: st.Ino}
	buf := make([]byte, unix.PathMax)
	if n, err := unix.Readlink(fmt.Sprintf("/proc/self/fd/%d", fd), buf); err == nil {
		id.Path = string(buf[:n])
	}
	return id, nil
}

// Gettid implements OS.Gettid.
func (*Linux) Gettid() int32 {
	return int32(unix.Gettid())
}

// Getpid implements OS.Getpid.
func (*Linux) Getpid() int32 {
	return int32(unix.Getpid())
}

// Syscall6 implements OS.Syscall6.
func (*Linux) Syscall6(nr uintptr, a1, a2, a3, a4, a5, a6 uint64) (uint64, error) {
	r, _, errno := unix.Syscall6(nr, uintptr(a1), uintptr(a2), uintptr(a3), uintptr(a4), uintptr(a5), uintptr(a6))
	if errno != 0 {
		return 0, errnoErr(errno)
	}
	return uint64(r), nil
}

// AllocateStack implements OS.AllocateStack.
func (l *Linux) AllocateStack(size uint64) (Stack, error) {
	base, err := l.Mmap(0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_PRIVATE|unix.MAP_ANONYMOUS|unix.MAP_STACK, -1, 0)
	if err != nil {
		return Stack{}, err
	}
	return Stack{Base: base, Size: size}, nil
}

// FreeStack implements OS.FreeStack.
func (l *Linux) FreeStack(s Stack) error {
	if s.Size == 0 {
		return nil
	}
	return l.Munmap(s.Base, s.Size)
}

// WaitVforkChild implements OS.WaitVforkChild.
//
// The child holds the write end of a close-on-exec pipe, so the read end
// hangs up once the child has execed or exited.
func (*Linux) WaitVforkChild(r ForkResult) error {
	if r.Child || r.VforkFD < 0 {
		return nil
	}
	defer unix.Close(r.VforkFD)
	fds := []unix.PollFd{{Fd: int32(r.VforkFD), Events: unix.POLLIN}}
	for {
		_, err := unix.Ppoll(fds, nil, nil)
		if err == unix.EINTR {
			continue
		}
		if err != nil {
			return linuxerr.ErrorFromUnix(linuxerr.ErrnoOf(err))
		}
		if fds[0].Revents&(unix.POLLHUP|unix.POLLERR|unix.POLLIN) != 0 {
			return nil
		}
	}
}

// PidfdOpen implements OS.PidfdOpen.
func (*Linux) PidfdOpen(pid int32) (int, error) {
	fd, err := unix.PidfdOpen(int(pid), 0)
	if err != nil {
		return -1, linuxerr.ErrorFromUnix(linuxerr.ErrnoOf(err))
	}
	return fd, nil
}

// Exit implements OS.Exit.
func (*Linux) Exit(code int) {
	unix.Exit(code)
}

// RawCloneFlags implements OS.RawCloneFlags.
//
// The child is a new process running on a copy of the caller's stack: the Go
// runtime cannot share its address space with a thread it did not create. A
// vfork-style CLONE_VM|CLONE_VFORK request is served with a private copy of
// the address space and of the signal handlers, and the parent still sleeps
// until the child execs or exits. Other requests sharing the address space or
// thread group fail with EINVAL.
func (*Linux) RawCloneFlags(flags uint64) (uint64, error) {
	if flags&(linux.CLONE_VM|linux.CLONE_VFORK|linux.CLONE_THREAD) == linux.CLONE_VM|linux.CLONE_VFORK {
		flags &^= linux.CLONE_VM | linux.CLONE_SIGHAND
	}
	if flags&(linux.CLONE_VM|linux.CLONE_THREAD) != 0 {
		log.Warningf("Host clone cannot share the address space: %s", linux.CloneFlagSet.Parse(flags))
		return 0, linuxerr.EINVAL
	}
	return flags, nil
}

// RawClone implements OS.RawClone.
func (l *Linux) RawClone(args *linux.CloneArgs, entry func()) (int32, error) {
	flags, err := l.RawCloneFlags(args.Flags)
	if err != nil {
		return 0, err
	}
	hostArgs := *args
	hostArgs.Flags = flags
	hostArgs.Stack = 0
	hostArgs.StackSize = 0
	return rawClone(&hostArgs, entry)
}
