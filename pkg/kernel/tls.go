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
	"gvisor.dev/xlate/pkg/errors/linuxerr"
)

// The GDT entries available to set_thread_area(2), as on x86 Linux.
const (
	tlsFirstEntry = 12
	tlsEntries    = 3
)

// struct user_desc flag bits reported by get_thread_area(2).
const (
	userDescSeg32Bit      = 1 << 0
	userDescReadExecOnly  = 1 << 3
	userDescLimitInPages  = 1 << 4
	userDescSegNotPresent = 1 << 5
	userDescUseable       = 1 << 6
)

// Field offsets in struct user_desc.
const (
	userDescEntryNumberOff = 0
	userDescBaseAddrOff    = 4
	userDescLimitOff       = 8
	userDescFlagsOff       = 12
)

// setTLS applies a CLONE_SETTLS argument to s. For a 64-bit guest tls is the
// FS base; for a 32-bit guest it points to a struct user_desc.
func (h *Handler) setTLS(s *CPUState, tls uint64) error {
	if h.Is64Bit() {
		s.FSBase = tls
		return nil
	}
	return h.setThreadArea(s, tls)
}

// SetThreadArea implements set_thread_area(2) for t.
func (h *Handler) SetThreadArea(t *Thread, addr uint64) error {
	return h.setThreadArea(t.State, addr)
}

func (h *Handler) setThreadArea(s *CPUState, addr uint64) error {
	entry, err := h.os.ReadUint32(addr + userDescEntryNumberOff)
	if err != nil {
		return err
	}
	base, err := h.os.ReadUint32(addr + userDescBaseAddrOff)
	if err != nil {
		return err
	}

	if entry == ^uint32(0) {
		found := false
		for i := uint32(tlsFirstEntry); i < tlsFirstEntry+tlsEntries; i++ {
			if !s.GDT[i].Present() {
				entry, found = i, true
				break
			}
		}
		if !found {
			return linuxerr.ESRCH
		}
		if err := h.os.WriteUint32(addr+userDescEntryNumberOff, entry); err != nil {
			return err
		}
	} else if entry < tlsFirstEntry || entry >= tlsFirstEntry+tlsEntries {
		return linuxerr.EINVAL
	}

	s.setGDTBase(entry, base)
	return nil
}

// GetThreadArea implements get_thread_area(2) for t. Only the base of an
// entry is tracked; the rest of the descriptor is synthesized.
func (h *Handler) GetThreadArea(t *Thread, addr uint64) error {
	entry, err := h.os.ReadUint32(addr + userDescEntryNumberOff)
	if err != nil {
		return err
	}
	if entry < tlsFirstEntry || entry >= tlsFirstEntry+tlsEntries {
		return linuxerr.EINVAL
	}

	base := t.State.GDT[entry].Base
	var limit, flags uint32
	if base != 0 {
		limit = 0xfffff
		flags = userDescSeg32Bit | userDescLimitInPages | userDescUseable
	} else {
		flags = userDescReadExecOnly | userDescSegNotPresent
	}
	for _, w := range []struct {
		off uint64
		v   uint32
	}{
		{userDescBaseAddrOff, base},
		{userDescLimitOff, limit},
		{userDescFlagsOff, flags},
	} {
		if err := h.os.WriteUint32(addr+w.off, w.v); err != nil {
			return err
		}
	}
	return nil
}
