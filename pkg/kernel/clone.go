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

package kernel

import (
	"fmt"

	"gvisor.dev/xlate/pkg/abi/linux"
	"gvisor.dev/xlate/pkg/errors/linuxerr"
	"gvisor.dev/xlate/pkg/host"
	"gvisor.dev/xlate/pkg/log"
)

// hostStackSize is the size of the host stack given to children created by
// the raw clone path.
const hostStackSize = 8 << 20

// TaskMax bounds the TLS pointer of a new task. The host's usable address
// space is assumed to be 48 bits.
const TaskMax = 1 << 48

// unhandledCloneFlags cannot be emulated on a thread or fork and are left to
// the host.
const unhandledCloneFlags = linux.CLONE_NEWNS | linux.CLONE_NEWCGROUP | linux.CLONE_NEWUTS |
	linux.CLONE_NEWIPC | linux.CLONE_NEWUSER | linux.CLONE_NEWPID | linux.CLONE_NEWNET |
	linux.CLONE_IO | linux.CLONE_CLEAR_SIGHAND | linux.CLONE_INTO_CGROUP

// threadCloneFlags are the resources a thread created on the fast path
// shares with its parent.
const threadCloneFlags = linux.CLONE_VM | linux.CLONE_FS | linux.CLONE_FILES |
	linux.CLONE_SIGHAND | linux.CLONE_SYSVSEM

// CloneType is the syscall a clone request came from.
type CloneType int

const (
	// Clone2 is clone(2). The stack argument is the initial stack pointer.
	Clone2 CloneType = iota

	// Clone3 is clone3(2). The stack is [Stack, Stack+StackSize).
	Clone3
)

// String implements fmt.Stringer.String.
func (c CloneType) String() string {
	switch c {
	case Clone2:
		return "clone"
	case Clone3:
		return "clone3"
	default:
		return fmt.Sprintf("CloneType(%d)", int(c))
	}
}

// CloneRequest is a guest clone in clone3 form. For Clone2 the exit signal
// has already been split out of the flags.
type CloneRequest struct {
	Type CloneType
	Args linux.CloneArgs
}

// stackPointer returns the child's initial stack pointer, or 0 if the child
// inherits the parent's.
func (r *CloneRequest) stackPointer() uint64 {
	if r.Args.Stack == 0 {
		return 0
	}
	if r.Type == Clone3 {
		return r.Args.Stack + r.Args.StackSize
	}
	return r.Args.Stack
}

// ClonePath is the emulation strategy for a clone request.
type ClonePath int

const (
	// ThreadFastPath runs the child as a new thread of this process.
	ThreadFastPath ClonePath = iota

	// RawCloneSlowPath hands the request to the host's clone3, with the
	// child starting in HandleNewClone.
	RawCloneSlowPath

	// ForkPath forks the process.
	ForkPath
)

// String implements fmt.Stringer.String.
func (p ClonePath) String() string {
	switch p {
	case ThreadFastPath:
		return "thread"
	case RawCloneSlowPath:
		return "raw-clone"
	case ForkPath:
		return "fork"
	default:
		return fmt.Sprintf("ClonePath(%d)", int(p))
	}
}

// Classify picks the path for req, or returns the error the guest sees.
func Classify(req CloneRequest) (ClonePath, error) {
	flags := req.Args.Flags
	if flags&linux.CLONE_CLEAR_SIGHAND != 0 {
		// Callers such as posix_spawn fall back when this fails.
		log.Infof("%v: CLONE_CLEAR_SIGHAND is not supported", req.Type)
		return 0, linuxerr.EINVAL
	}
	if req.Args.TLS != 0 && req.Args.TLS >= TaskMax {
		return 0, linuxerr.EPERM
	}
	// As in copy_process: threads share signal handlers, which need a shared
	// address space.
	if flags&linux.CLONE_THREAD != 0 && flags&linux.CLONE_SIGHAND == 0 ||
		flags&linux.CLONE_SIGHAND != 0 && flags&linux.CLONE_VM == 0 {
		return 0, linuxerr.EINVAL
	}

	switch {
	case flags&unhandledCloneFlags != 0,
		req.Args.SetTIDSize > 0,
		req.Type == Clone3 && flags&linux.CLONE_NEWTIME != 0:
		return RawCloneSlowPath, nil
	case flags&linux.CLONE_THREAD != 0:
		if flags&threadCloneFlags != threadCloneFlags {
			// The thread shares FS, FILES and SYSVSEM with its parent
			// whether or not they were asked for.
			log.Infof("%v: CLONE_THREAD without shared resources, sharing them anyway: %s", req.Type, linux.CloneFlagSet.Parse(flags))
		}
		return ThreadFastPath, nil
	default:
		if flags&(linux.CLONE_VM|linux.CLONE_SIGHAND|linux.CLONE_SYSVSEM) != 0 {
			log.Infof("%v: shared resources without CLONE_THREAD: %s", req.Type, linux.CloneFlagSet.Parse(flags))
			return RawCloneSlowPath, nil
		}
		return ForkPath, nil
	}
}

// Clone implements clone(2) and clone3(2) for t. It returns the child's TID
// in the parent and 0 in a forked child.
func (h *Handler) Clone(t *Thread, req CloneRequest) (uint64, error) {
	path, err := Classify(req)
	if err != nil {
		return 0, err
	}
	flags := req.Args.Flags
	if flags&linux.CLONE_PTRACE != 0 {
		log.Debugf("%v: CLONE_PTRACE is ignored", t)
	}
	if flags&linux.CLONE_VM != 0 {
		h.core.MarkMemoryShared()
	}
	log.Debugf("%v: %v(%s) on the %v path", t, req.Type, linux.CloneFlagSet.Parse(flags), path)

	switch path {
	case ThreadFastPath:
		return h.cloneThread(t, req)
	case RawCloneSlowPath:
		return h.cloneHost(t, req)
	default:
		return h.forkGuest(t, req)
	}
}

// Fork implements fork(2), or vfork(2) if vfork is set.
func (h *Handler) Fork(t *Thread, vfork bool) (uint64, error) {
	req := CloneRequest{Type: Clone2}
	if vfork {
		req.Args.Flags = linux.CLONE_VFORK
	}
	return h.forkGuest(t, req)
}

// cloneThread creates a new guest thread in this process.
func (h *Handler) cloneThread(t *Thread, req CloneRequest) (uint64, error) {
	args := &req.Args
	state := t.State.Copy()
	state.Regs[RAX] = 0
	if sp := req.stackPointer(); sp != 0 {
		state.Regs[RSP] = sp
	}
	if args.Flags&linux.CLONE_SETTLS != 0 {
		if err := h.setTLS(state, args.TLS); err != nil {
			return 0, err
		}
	}
	state.RIP += syscallInsnLen

	nt := h.threads.CreateThread(state)
	h.threads.Start(nt)
	h.threads.WaitStarted(nt)
	tid := nt.TID()

	if args.Flags&linux.CLONE_PARENT_SETTID != 0 {
		h.writeTID(t, args.ParentTID, tid)
	}
	if args.Flags&linux.CLONE_CHILD_SETTID != 0 {
		h.writeTID(t, args.ChildTID, tid)
	}
	if args.Flags&linux.CLONE_CHILD_CLEARTID != 0 {
		nt.SetClearChildTID(args.ChildTID)
	}
	if args.Flags&linux.CLONE_PIDFD != 0 {
		if fd, err := h.os.PidfdOpen(int32(tid)); err != nil {
			log.Warningf("%v: pidfd_open(%d): %v", t, tid, err)
		} else {
			h.writeTID(t, args.Pidfd, ThreadID(fd))
		}
	}

	h.threads.Track(nt)
	h.threads.Resume(nt)

	if args.Flags&linux.CLONE_VFORK != 0 {
		// The parent is suspended until the child exits.
		h.threads.Join(nt)
		h.threads.Destroy(nt)
	}
	return uint64(tid), nil
}

// CloneContext is everything the child of a raw clone needs to start running
// guest code.
type CloneContext struct {
	// Frame is a copy of the parent's registers at the clone.
	Frame *CPUState

	// Request is the guest's request.
	Request CloneRequest

	// SignalMask is the parent's signal mask before the clone.
	SignalMask uint64

	// Stack is the host stack the child runs on if it shares the parent's
	// address space. It is zero otherwise.
	Stack host.Stack
}

// cloneHost passes req to the host.
func (h *Handler) cloneHost(t *Thread, req CloneRequest) (uint64, error) {
	hostArgs := req.Args
	hostArgs.Flags &^= linux.CLONE_SETTLS
	hostArgs.TLS = 0
	hostArgs.Stack = 0
	hostArgs.StackSize = 0
	flags, err := h.os.RawCloneFlags(hostArgs.Flags)
	if err != nil {
		return 0, err
	}
	if flags != hostArgs.Flags {
		log.Debugf("%v: host serves %s as %s", t, linux.CloneFlagSet.Parse(hostArgs.Flags), linux.CloneFlagSet.Parse(flags))
	}
	hostArgs.Flags = flags
	sharedVM := flags&linux.CLONE_VM != 0

	ctx := &CloneContext{
		Frame:   t.State.Copy(),
		Request: req,
	}
	ctx.SignalMask = h.os.SetSignalMask(^uint64(0))
	defer h.os.SetSignalMask(ctx.SignalMask)

	if sharedVM {
		// The host stack must be allocated before the allocator is locked.
		stack, err := h.os.AllocateStack(hostStackSize)
		if err != nil {
			return 0, err
		}
		ctx.Stack = stack
		hostArgs.Stack = stack.Base
		hostArgs.StackSize = stack.Size
	}

	h.LockBeforeFork()
	tid, err := h.os.RawClone(&hostArgs, func() { h.HandleNewClone(ctx) })
	h.UnlockAfterFork(t, false)

	// A vfork child has execed or exited by the time the parent resumes, so
	// it no longer runs on the stack. Other children sharing the address
	// space keep theirs until the process exits.
	if sharedVM && (err != nil || flags&linux.CLONE_VFORK != 0) {
		if ferr := h.os.FreeStack(ctx.Stack); ferr != nil {
			log.Warningf("%v: freeing clone stack: %v", t, ferr)
		}
	}
	if err != nil {
		return 0, err
	}
	return uint64(tid), nil
}

// HandleNewClone is the entry point of a child created by the raw clone
// path. It runs guest code from ctx.Frame and never returns.
func (h *Handler) HandleNewClone(ctx *CloneContext) {
	req := &ctx.Request
	nt := h.threads.CreateThread(ctx.Frame)
	if req.Args.Flags&linux.CLONE_THREAD == 0 {
		// This is a new process holding every lock taken by the parent.
		h.UnlockAfterFork(nt, true)
		h.os.SetSignalMask(ctx.SignalMask)
	}

	state := nt.State
	state.Regs[RAX] = 0
	if sp := req.stackPointer(); sp != 0 {
		state.Regs[RSP] = sp
	}
	if req.Args.Flags&linux.CLONE_SETTLS != 0 {
		if err := h.setTLS(state, req.Args.TLS); err != nil {
			log.Warningf("%v: setting TLS of cloned child: %v", req.Type, err)
		}
	}
	state.RIP += syscallInsnLen

	h.threads.Track(nt)
	h.threads.Resume(nt)
	h.os.Exit(h.threads.Execute(nt))
}

// forkGuest forks the process. t continues in both the parent and the child.
func (h *Handler) forkGuest(t *Thread, req CloneRequest) (uint64, error) {
	args := &req.Args
	vfork := args.Flags&linux.CLONE_VFORK != 0

	mask := h.os.SetSignalMask(^uint64(0))
	h.LockBeforeFork()
	r, err := h.os.Fork(vfork)
	if err != nil {
		h.UnlockAfterFork(t, false)
		h.os.SetSignalMask(mask)
		return 0, err
	}

	if r.Child {
		h.UnlockAfterFork(t, true)
		h.os.SetSignalMask(mask)

		t.refreshIDs()
		t.SetClearChildTID(0)
		if args.Stack != 0 {
			t.State.Regs[RSP] = args.Stack + args.StackSize
		}
		if args.Flags&linux.CLONE_SETTLS != 0 {
			if err := h.setTLS(t.State, args.TLS); err != nil {
				log.Warningf("%v: setting TLS of forked child: %v", t, err)
			}
		}
		if args.Flags&linux.CLONE_CHILD_SETTID != 0 {
			h.writeTID(t, args.ChildTID, t.TID())
		}
		if args.Flags&linux.CLONE_CHILD_CLEARTID != 0 {
			t.SetClearChildTID(args.ChildTID)
		}
		return 0, nil
	}

	if args.Flags&linux.CLONE_PARENT_SETTID != 0 {
		h.writeTID(t, args.ParentTID, ThreadID(r.PID))
	}
	h.UnlockAfterFork(t, false)
	h.os.SetSignalMask(mask)

	if vfork {
		if err := h.os.WaitVforkChild(r); err != nil {
			log.Warningf("%v: waiting for vfork child %d: %v", t, r.PID, err)
		}
	}
	return uint64(r.PID), nil
}

// writeTID stores tid at the guest address addr, if addr is set. The kernel
// ignores faults on these addresses, and so does writeTID.
func (h *Handler) writeTID(t *Thread, addr uint64, tid ThreadID) {
	if addr == 0 {
		return
	}
	if err := h.os.WriteUint32(addr, uint32(tid)); err != nil {
		log.Debugf("%v: writing TID %d to %#x: %v", t, tid, addr, err)
	}
}
