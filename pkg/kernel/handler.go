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

// Package kernel emulates the Linux syscall layer for guest code run by a
// translation core.
//
// A Handler owns everything one guest process needs below the JIT: the
// syscall table, the guest address space allocator, VMA tracking, the
// program break and the guest threads. There are no globals; every syscall
// handler reaches the Handler through the Thread it is invoked on.
//
// Lock ordering:
//
//	ThreadManager.mu
//	  Core fork locks
//	    Handler.brkMu
//	      vma.Tracker.mu
//	        Allocator32.mu
package kernel

import (
	"fmt"
	"runtime"

	"gvisor.dev/xlate/pkg/abi/linux"
	"gvisor.dev/xlate/pkg/host"
	"gvisor.dev/xlate/pkg/log"
	"gvisor.dev/xlate/pkg/mm/alloc"
	"gvisor.dev/xlate/pkg/mm/vma"
	"gvisor.dev/xlate/pkg/sync"
)

// Options configure a Handler.
type Options struct {
	// Table is the syscall table. Its ABI is the guest's.
	Table *SyscallTable

	// Force32BitAllocator selects Allocator32 for a 32-bit guest even on
	// hosts that could confine allocations natively.
	Force32BitAllocator bool

	// AllocSearch is Allocator32's scan direction.
	AllocSearch alloc.SearchDirection

	// SMC is the self-modifying code detection mode.
	SMC vma.SMCMode
}

// Handler is the syscall layer of one guest process.
type Handler struct {
	os    host.OS
	core  Core
	table *SyscallTable
	abi   ABI

	alloc   alloc.Allocator
	vmas    *vma.Tracker
	threads *ThreadManager

	hostUname    linux.UtsName
	hostVersion  linux.KernelVersion
	guestVersion linux.KernelVersion

	// brkMu serializes program break changes.
	brkMu sync.ForkableMutex

	// brk is protected by brkMu.
	brk programBreak
}

// New returns a Handler for a guest running on os and core.
func New(os host.OS, core Core, opts Options) (*Handler, error) {
	if opts.Table == nil {
		return nil, fmt.Errorf("no syscall table")
	}
	u, err := os.Uname()
	if err != nil {
		return nil, fmt.Errorf("uname: %w", err)
	}
	hostVersion := linux.ParseKernelRelease(u.ReleaseString())
	if hostVersion == 0 {
		log.Warningf("Cannot parse host kernel release %q, assuming the oldest supported kernel", u.ReleaseString())
	}

	abi := opts.Table.ABI
	h := &Handler{
		os:           os,
		core:         core,
		table:        opts.Table,
		abi:          abi,
		hostUname:    u,
		hostVersion:  hostVersion,
		guestVersion: GuestKernelVersion(hostVersion),
		alloc: alloc.New(os, hostVersion, alloc.Options{
			Is32Bit:             !abi.Is64Bit(),
			Force32BitAllocator: opts.Force32BitAllocator,
			Direction:           opts.AllocSearch,
		}),
		vmas: vma.NewTracker(os, vma.Options{
			SMC:    opts.SMC,
			Loader: core,
		}),
	}
	h.threads = newThreadManager(h)
	log.Infof("Syscall handler: %v guest, host kernel %v, guest kernel %v, SMC %v", abi, hostVersion, h.guestVersion, opts.SMC)
	return h, nil
}

// OS returns the host h runs on.
func (h *Handler) OS() host.OS {
	return h.os
}

// Core returns the translation core.
func (h *Handler) Core() Core {
	return h.core
}

// Table returns the syscall table.
func (h *Handler) Table() *SyscallTable {
	return h.table
}

// ABI returns the guest ABI.
func (h *Handler) ABI() ABI {
	return h.abi
}

// Is64Bit returns true for a 64-bit guest.
func (h *Handler) Is64Bit() bool {
	return h.abi.Is64Bit()
}

// Allocator returns the guest address space allocator.
func (h *Handler) Allocator() alloc.Allocator {
	return h.alloc
}

// VMAs returns the VMA tracker.
func (h *Handler) VMAs() *vma.Tracker {
	return h.vmas
}

// Threads returns the thread manager.
func (h *Handler) Threads() *ThreadManager {
	return h.threads
}

// HostKernelVersion returns the host's kernel version.
func (h *Handler) HostKernelVersion() linux.KernelVersion {
	return h.hostVersion
}

// GuestKernelVersion returns the kernel version reported to the guest.
func (h *Handler) GuestKernelVersion() linux.KernelVersion {
	return h.guestVersion
}

// NewMainThread returns the tracked first thread of the guest, paused at
// state.
func (h *Handler) NewMainThread(state *CPUState) *Thread {
	t := h.threads.CreateThread(state)
	h.threads.Track(t)
	return t
}

// Run runs t, usually the main thread, on the calling goroutine until it
// exits and returns its exit status.
func (h *Handler) Run(t *Thread) int {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()
	h.threads.Resume(t)
	return h.threads.Execute(t)
}

// HandleSyscall dispatches the syscall described by args on t. The result is
// the guest's return register.
func (h *Handler) HandleSyscall(t *Thread, args SyscallArguments) uint64 {
	return h.table.HandleSyscall(t, args)
}
