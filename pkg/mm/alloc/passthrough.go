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

package alloc

import (
	"gvisor.dev/xlate/pkg/host"
)

// Passthrough forwards every request to the host.
type Passthrough struct {
	os host.OS
}

var _ Allocator = (*Passthrough)(nil)

// NewPassthrough returns a Passthrough allocator.
func NewPassthrough(os host.OS) *Passthrough {
	return &Passthrough{os: os}
}

// Mmap implements Allocator.Mmap.
func (p *Passthrough) Mmap(addr, length uint64, prot, flags int, fd int, offset int64) (uint64, error) {
	return p.os.Mmap(addr, length, prot, flags, fd, offset)
}

// Munmap implements Allocator.Munmap.
func (p *Passthrough) Munmap(addr, length uint64) error {
	return p.os.Munmap(addr, length)
}

// Mremap implements Allocator.Mremap.
func (p *Passthrough) Mremap(oldAddr, oldSize, newSize uint64, flags int, newAddr uint64) (uint64, error) {
	return p.os.Mremap(oldAddr, oldSize, newSize, flags, newAddr)
}

// Shmat implements Allocator.Shmat.
func (p *Passthrough) Shmat(shmid int, addr uint64, shmflg int) (uint64, error) {
	return p.os.Shmat(shmid, addr, shmflg)
}

// Shmdt implements Allocator.Shmdt.
func (p *Passthrough) Shmdt(addr uint64) error {
	return p.os.Shmdt(addr)
}

// LockBeforeFork implements Allocator.LockBeforeFork. Passthrough has no
// state to protect.
func (*Passthrough) LockBeforeFork() {}

// UnlockAfterFork implements Allocator.UnlockAfterFork.
func (*Passthrough) UnlockAfterFork(bool) {}
