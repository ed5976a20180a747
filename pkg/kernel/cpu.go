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
	"github.com/mohae/deepcopy"
)

// General purpose register indices into CPUState.Regs, in x86 encoding
// order.
const (
	RAX = iota
	RCX
	RDX
	RBX
	RSP
	RBP
	RSI
	RDI
	R8
	R9
	R10
	R11
	R12
	R13
	R14
	R15
)

// Segment register indices into CPUState.Segments.
const (
	SegES = iota
	SegCS
	SegSS
	SegDS
	SegFS
	SegGS
)

// syscallInsnLen is the length of both syscall and int $0x80.
const syscallInsnLen = 2

// GDTEntry is the part of a guest segment descriptor the JIT uses.
type GDTEntry struct {
	Base  uint32
	Limit uint32
}

// Present returns true if the entry has been set.
func (e GDTEntry) Present() bool {
	return e.Limit != 0
}

// Segment is a segment register: its selector and the base cached from the
// selected descriptor.
type Segment struct {
	Selector uint16
	Cached   uint64
}

// Entry returns the descriptor index selected by s.
func (s Segment) Entry() uint32 {
	return uint32(s.Selector >> 3)
}

// CPUState is the guest register file of one thread, as seen by the JIT at a
// syscall.
type CPUState struct {
	Regs   [16]uint64
	RIP    uint64
	RFlags uint64

	// FSBase and GSBase are the 64-bit segment bases.
	FSBase uint64
	GSBase uint64

	Segments [6]Segment
	GDT      [32]GDTEntry

	// FPState is the raw XSAVE area.
	FPState []byte
}

// Copy returns a deep copy of s. The copy shares no memory with s.
func (s *CPUState) Copy() *CPUState {
	return deepcopy.Copy(s).(*CPUState)
}

// setGDTBase updates descriptor entry and refreshes the cached base of every
// segment register selecting it.
func (s *CPUState) setGDTBase(entry uint32, base uint32) {
	s.GDT[entry] = GDTEntry{Base: base, Limit: 0xfffff}
	for i := range s.Segments {
		if s.Segments[i].Entry() == entry {
			s.Segments[i].Cached = uint64(base)
		}
	}
}
