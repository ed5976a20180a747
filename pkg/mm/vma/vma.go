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

// Package vma tracks the guest's virtual memory areas and the host resources
// backing them.
//
// Every tracked range is a VMA. VMAs that map the same file, the same
// anonymous shared region or the same SysV shared memory segment are linked
// together through their MappedResource, so that a write to one mirror can be
// propagated to the code cache of all others.
package vma

import (
	"fmt"

	"gvisor.dev/xlate/pkg/abi/linux"
)

// Special device numbers. Real device numbers fit in 32 bits, so these never
// collide with a file's st_dev.
const (
	DevAnon uint64 = 1 << 32
	DevSHM  uint64 = 2 << 32
)

// MRID identifies a mapped resource: a (device, inode) pair for files, or a
// special device with a counter or shmid.
type MRID struct {
	Dev uint64
	ID  uint64
}

// String implements fmt.Stringer.String.
func (m MRID) String() string {
	switch m.Dev {
	case DevAnon:
		return fmt.Sprintf("anon:%d", m.ID)
	case DevSHM:
		return fmt.Sprintf("shm:%d", m.ID)
	default:
		return fmt.Sprintf("%d:%d", m.Dev, m.ID)
	}
}

// AnonMRID returns the MRID of the id'th anonymous shared region.
func AnonMRID(id uint64) MRID {
	return MRID{Dev: DevAnon, ID: id}
}

// SHMMRID returns the MRID of a SysV shared memory segment.
func SHMMRID(shmid int) MRID {
	return MRID{Dev: DevSHM, ID: uint64(shmid)}
}

// Prot is the access of a VMA.
type Prot struct {
	Readable   bool
	Writable   bool
	Executable bool
}

// ProtFromMmap converts mmap(2) protection bits.
func ProtFromMmap(prot int) Prot {
	return Prot{
		Readable:   prot&linux.PROT_READ != 0,
		Writable:   prot&linux.PROT_WRITE != 0,
		Executable: prot&linux.PROT_EXEC != 0,
	}
}

// ProtFromSHM returns the access of a segment attached with shmflg.
func ProtFromSHM(shmflg int) Prot {
	return Prot{
		Readable: true,
		Writable: shmflg&linux.SHM_RDONLY == 0,
	}
}

// String returns the access in /proc/[pid]/maps form, e.g. "rw-".
func (p Prot) String() string {
	b := []byte("---")
	if p.Readable {
		b[0] = 'r'
	}
	if p.Writable {
		b[1] = 'w'
	}
	if p.Executable {
		b[2] = 'x'
	}
	return string(b)
}

// Flags are VMA attributes other than access.
type Flags struct {
	// Shared is set for MAP_SHARED (and MAP_SHARED_VALIDATE) mappings.
	Shared bool
}

// FlagsFromMmap converts mmap(2) flags.
func FlagsFromMmap(flags int) Flags {
	return Flags{Shared: flags&linux.MAP_SHARED != 0}
}

// CacheEntry is opaque state the code cache keeps for a mapped file.
type CacheEntry interface{}

// CacheLoader loads and releases CacheEntries for file-backed resources.
type CacheLoader interface {
	// LoadCacheEntry is called when a file resource is first tracked.
	LoadCacheEntry(path string) CacheEntry

	// UnloadCacheEntry is called when the last VMA of the resource is
	// removed.
	UnloadCacheEntry(CacheEntry)
}

// VMA is a snapshot of one tracked range.
type VMA struct {
	Base   uint64
	Offset uint64
	Length uint64
	Flags  Flags
	Prot   Prot

	// Resource is the backing resource, or nil for private anonymous memory.
	Resource *MRID
}

// End returns the address just past v.
func (v VMA) End() uint64 {
	return v.Base + v.Length
}

// Contains returns true if addr lies in v.
func (v VMA) Contains(addr uint64) bool {
	return v.Base <= addr && addr < v.End()
}

// Mapping describes a range to track.
type Mapping struct {
	// Resource identifies the backing resource. Nil for private anonymous
	// memory.
	Resource *MRID

	// ResourceLength is recorded when the resource is created. It is the
	// segment size for SysV shared memory and 0 otherwise.
	ResourceLength uint64

	// Path is the file backing Resource, if any. When set and the resource is
	// new, the tracker's CacheLoader is consulted.
	Path string

	Base   uint64
	Offset uint64
	Length uint64
	Flags  Flags
	Prot   Prot
}
