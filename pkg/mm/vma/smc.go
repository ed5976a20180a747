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

package vma

import (
	"fmt"

	"gvisor.dev/xlate/pkg/abi/linux"
	"gvisor.dev/xlate/pkg/hostarch"
)

// SMCMode selects how writes to translated guest code are detected.
type SMCMode int

const (
	// SMCNone performs no detection.
	SMCNone SMCMode = iota

	// SMCMTrack write-protects guest pages holding translated code and
	// invalidates on the resulting faults.
	SMCMTrack

	// SMCFull validates code in the JIT itself. The tracker only
	// invalidates on mapping changes.
	SMCFull
)

// String implements fmt.Stringer.String.
func (m SMCMode) String() string {
	switch m {
	case SMCNone:
		return "none"
	case SMCMTrack:
		return "mtrack"
	case SMCFull:
		return "full"
	default:
		return fmt.Sprintf("SMCMode(%d)", int(m))
	}
}

// ParseSMCMode parses the String form of an SMCMode.
func ParseSMCMode(s string) (SMCMode, error) {
	switch s {
	case "none":
		return SMCNone, nil
	case "mtrack":
		return SMCMTrack, nil
	case "full":
		return SMCFull, nil
	default:
		return 0, fmt.Errorf("invalid SMC mode %q", s)
	}
}

// Invalidator drops translated code.
type Invalidator interface {
	// InvalidateRange drops code translated from [start, start+length). If
	// fn is not nil it is called with the range before translation of the
	// range may resume.
	InvalidateRange(start, length uint64, fn func(start, length uint64))
}

// HandleSegfault handles a write fault at addr against a page write-protected
// for self-modifying code detection. The code of the faulting page is dropped
// in every mirror of the page, and writable mirrors are made writable again.
//
// It returns false if the fault is not one the tracker is responsible for.
func (t *Tracker) HandleSegfault(addr uint64, inv Invalidator) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()

	idx, ok := t.lookupLocked(addr)
	if !ok || !t.entries[idx].prot.Writable {
		return false
	}

	// A write spanning two pages faults once per page.
	faultBase := uint64(hostarch.Addr(addr).RoundDown())
	e := &t.entries[idx]
	if !e.flags.Shared || e.res == nil {
		inv.InvalidateRange(faultBase, hostarch.PageSize, t.makeWritable)
		return true
	}

	offset := faultBase - e.base + e.offset
	if e.res.first == none {
		corrupt("shared VMA at %#x has an empty resource", e.base)
	}
	for i := e.res.first; i != none; i = t.entries[i].next {
		m := &t.entries[i]
		if m.offset > offset || m.offset+m.length <= offset {
			continue
		}
		mirrored := offset - m.offset + m.base
		if m.prot.Writable {
			inv.InvalidateRange(mirrored, hostarch.PageSize, t.makeWritable)
		} else {
			inv.InvalidateRange(mirrored, hostarch.PageSize, nil)
		}
	}
	return true
}

func (t *Tracker) makeWritable(start, length uint64) {
	if err := t.os.Mprotect(start, length, linux.PROT_READ|linux.PROT_WRITE); err != nil {
		panic(fmt.Sprintf("mprotect(%#x, %#x) failed: %v", start, length, err))
	}
}

func (t *Tracker) makeReadOnly(start, length uint64) {
	if err := t.os.Mprotect(start, length, linux.PROT_READ); err != nil {
		panic(fmt.Sprintf("mprotect(%#x, %#x) failed: %v", start, length, err))
	}
}

// MarkGuestExecutableRange is called when code in [start, start+length) is
// translated. In SMCMTrack mode every writable mapping of the range,
// including mirrors of shared mappings, is write-protected on the host.
func (t *Tracker) MarkGuestExecutableRange(start, length uint64) {
	if t.smc != SMCMTrack {
		return
	}
	base := uint64(hostarch.Addr(start).RoundDown())
	top := hostarch.AlignUp(start+length, hostarch.PageSize)

	t.mu.RLock()
	defer t.mu.RUnlock()

	for _, n := range t.overlappingLocked(base, top) {
		e := &t.entries[n.idx]
		protectBase := max(e.base, base)
		protectSize := min(e.end(), top) - protectBase

		if !e.flags.Shared || e.res == nil {
			if e.prot.Writable {
				t.makeReadOnly(protectBase, protectSize)
			}
			continue
		}

		offsetBase := protectBase - e.base + e.offset
		offsetTop := offsetBase + protectSize
		for i := e.res.first; i != none; i = t.entries[i].next {
			m := &t.entries[i]
			mTop := m.offset + m.length
			if !m.prot.Writable || m.offset >= offsetTop || mTop <= offsetBase {
				continue
			}
			mirroredBase := max(m.offset, offsetBase)
			mirroredSize := min(offsetTop, mTop) - mirroredBase
			t.makeReadOnly(mirroredBase-m.offset+m.base, mirroredSize)
		}
	}
}

// LookupCacheEntry returns the code cache entry of the file mapped at addr,
// if any, and the address the file's offset 0 would be mapped at.
func (t *Tracker) LookupCacheEntry(addr uint64) (CacheEntry, uint64) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	idx, ok := t.lookupLocked(addr)
	if !ok {
		return nil, 0
	}
	e := &t.entries[idx]
	var c CacheEntry
	if e.res != nil {
		c = e.res.cache
	}
	return c, e.base - e.offset
}
