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

// Package alloc places guest mappings in the host address space.
//
// A 64-bit guest shares the host's address space layout, so its requests are
// forwarded unchanged (Passthrough). A 32-bit guest must never see an address
// at or above 4GiB; on hosts that cannot honor MAP_FIXED_NOREPLACE, or when
// forced, placement is done by Allocator32, which tracks every page of the
// 32-bit space in a bitmap and only ever asks the host for exact addresses.
package alloc

import (
	"gvisor.dev/xlate/pkg/abi/linux"
	"gvisor.dev/xlate/pkg/host"
	"gvisor.dev/xlate/pkg/log"
)

// Allocator maps guest memory.
//
// Results and errors follow the host syscalls of the same name. All methods
// are safe for concurrent use.
type Allocator interface {
	// Mmap maps memory.
	Mmap(addr, length uint64, prot, flags int, fd int, offset int64) (uint64, error)

	// Munmap unmaps memory.
	Munmap(addr, length uint64) error

	// Mremap resizes or moves a mapping.
	Mremap(oldAddr, oldSize, newSize uint64, flags int, newAddr uint64) (uint64, error)

	// Shmat attaches a SysV shared memory segment and returns its address.
	Shmat(shmid int, addr uint64, shmflg int) (uint64, error)

	// Shmdt detaches the segment attached at addr.
	Shmdt(addr uint64) error

	// LockBeforeFork acquires the allocator's lock ahead of a fork.
	LockBeforeFork()

	// UnlockAfterFork releases the lock taken by LockBeforeFork. In the
	// child the lock is abandoned instead.
	UnlockAfterFork(child bool)
}

// SearchDirection is the direction Allocator32 scans for free pages.
type SearchDirection int

const (
	// SearchDown scans from high addresses down, like the kernel's
	// top-down mmap layout.
	SearchDown SearchDirection = iota

	// SearchUp scans from low addresses up.
	SearchUp
)

// String implements fmt.Stringer.String.
func (d SearchDirection) String() string {
	if d == SearchUp {
		return "up"
	}
	return "down"
}

// Options selects the allocation strategy.
type Options struct {
	// Is32Bit is true for a 32-bit guest.
	Is32Bit bool

	// Force32BitAllocator selects Allocator32 for a 32-bit guest even when
	// the host supports MAP_FIXED_NOREPLACE.
	Force32BitAllocator bool

	// Direction is Allocator32's scan direction.
	Direction SearchDirection
}

// NoReplaceVersion is the first host kernel with MAP_FIXED_NOREPLACE.
var NoReplaceVersion = linux.MakeKernelVersion(4, 17, 0)

// New returns the allocator for a guest on a host running hostVersion. The
// choice is made once and never changes for the life of the process.
func New(os host.OS, hostVersion linux.KernelVersion, opts Options) Allocator {
	if opts.Is32Bit && (hostVersion < NoReplaceVersion || opts.Force32BitAllocator) {
		log.Infof("Using the 32-bit allocator (host kernel %s, forced: %t, search %s)", hostVersion, opts.Force32BitAllocator, opts.Direction)
		return NewAllocator32(os, opts.Direction)
	}
	log.Debugf("Using the passthrough allocator (host kernel %s)", hostVersion)
	return NewPassthrough(os)
}
