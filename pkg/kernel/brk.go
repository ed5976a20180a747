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
	"gvisor.dev/xlate/pkg/hostarch"
	"gvisor.dev/xlate/pkg/log"
)

// brkChunk is the granularity of program break reservations.
const brkChunk = 8 << 20

// programBreak is the guest's data segment. [dataSpace, dataSpace+maxSize)
// is mapped; the break is dataSpace+size.
type programBreak struct {
	dataSpace uint64
	size      uint64
	maxSize   uint64
}

// current returns the break.
func (b *programBreak) current() uint64 {
	return b.dataSpace + b.size
}

// SetProgramBreak sets up the data segment at base. [base, base+size) must
// already be mapped, usually by the ELF loader.
func (h *Handler) SetProgramBreak(base, size uint64) {
	h.brkMu.Lock()
	defer h.brkMu.Unlock()
	h.brk = programBreak{
		dataSpace: base,
		maxSize:   size,
	}
}

// Brk implements brk(2). It returns the new break, or the old one if the
// request cannot be satisfied.
func (h *Handler) Brk(addr uint64) uint64 {
	h.brkMu.Lock()
	defer h.brkMu.Unlock()

	b := &h.brk
	if addr == 0 {
		return b.current()
	}
	if addr < b.dataSpace {
		// The break never moves below the start of the data segment.
		b.size = 0
		return b.current()
	}

	newSize := addr - b.dataSpace
	aligned := hostarch.AlignUp(newSize, hostarch.PageSize)
	switch {
	case newSize < b.size && aligned < b.maxSize:
		// Give the tail back so that growing again yields zeroed pages.
		if err := h.GuestMunmap(b.dataSpace+aligned, b.maxSize-aligned); err != nil {
			panic(fmt.Sprintf("brk: unmapping [%#x, %#x): %v", b.dataSpace+aligned, b.dataSpace+b.maxSize, err))
		}
		b.maxSize = aligned
	case newSize > b.maxSize:
		if !h.growBreakLocked(newSize) {
			return b.current()
		}
	}
	b.size = newSize
	return b.current()
}

// growBreakLocked maps enough of the data segment to hold newSize bytes.
//
// Preconditions: h.brkMu must be locked.
func (h *Handler) growBreakLocked(newSize uint64) bool {
	b := &h.brk
	top := b.dataSpace + b.maxSize
	length := hostarch.AlignUp(newSize, brkChunk) - b.maxSize
	if !h.Is64Bit() && top+length > 1<<32 {
		return false
	}
	got, err := h.GuestMmap(top, length, linux.PROT_READ|linux.PROT_WRITE,
		linux.MAP_FIXED_NOREPLACE|linux.MAP_PRIVATE|linux.MAP_ANONYMOUS, -1, 0)
	if err != nil {
		log.Debugf("brk: growing data segment to %#x: %v", top+length, err)
		return false
	}
	if got != top {
		// The host ignored MAP_FIXED_NOREPLACE.
		if err := h.GuestMunmap(got, length); err != nil {
			panic(fmt.Sprintf("brk: unmapping misplaced extension at %#x: %v", got, err))
		}
		return false
	}
	b.maxSize += length
	return true
}
