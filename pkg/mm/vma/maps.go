// Copyright 2018 Google Inc.
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
	"bytes"
	"fmt"
	"strings"
)

const (
	// devMinorBits is the number of minor bits in a device number. Linux:
	// include/linux/kdev_t.h:MINORBITS
	devMinorBits = 20
)

// Maps returns the tracked VMAs in /proc/[pid]/maps format.
func (t *Tracker) Maps() string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	var b bytes.Buffer
	t.vmas.Ascend(func(n node) bool {
		t.mapsEntryLocked(&b, n.idx)
		return true
	})
	return b.String()
}

// mapsEntryLocked appends the maps line of the VMA at idx, including the
// trailing newline.
//
// Preconditions: t.mu must be locked.
func (t *Tracker) mapsEntryLocked(b *bytes.Buffer, idx int32) {
	e := &t.entries[idx]
	private := "p"
	if e.flags.Shared {
		private = "s"
	}

	var dev, ino uint64
	if e.res != nil && e.res.id.Dev != DevAnon && e.res.id.Dev != DevSHM {
		dev, ino = e.res.id.Dev, e.res.id.ID
	}
	devMajor := uint32(dev >> devMinorBits)
	devMinor := uint32(dev & ((1 << devMinorBits) - 1))

	start := b.Len()
	fmt.Fprintf(b, "%08x-%08x %s%s %08x %02x:%02x %d ",
		e.base, e.end(), e.prot, private, e.offset, devMajor, devMinor, ino)

	var s string
	switch {
	case e.res == nil:
	case e.res.id.Dev == DevAnon:
		s = "/dev/zero (deleted)"
	case e.res.id.Dev == DevSHM:
		s = fmt.Sprintf("/SYSV%08x (deleted)", e.res.id.ID)
	default:
		s = e.res.path
	}
	if s != "" {
		// Per linux, we pad until the 74th character.
		if pad := 73 - (b.Len() - start); pad > 0 {
			b.WriteString(strings.Repeat(" ", pad))
		}
		b.WriteString(s)
	}
	b.WriteString("\n")
}
