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

package linux

import (
	"fmt"
)

// KernelVersion is a packed kernel version, laid out like the kernel's
// KERNEL_VERSION macro except that patch gets a full 16 bits.
type KernelVersion uint32

// MakeKernelVersion packs major, minor and patch into a KernelVersion.
func MakeKernelVersion(major, minor, patch uint32) KernelVersion {
	return KernelVersion(major<<24 | minor<<16 | patch)
}

// Major returns the major component.
func (v KernelVersion) Major() uint32 { return uint32(v) >> 24 }

// Minor returns the minor component.
func (v KernelVersion) Minor() uint32 { return (uint32(v) >> 16) & 0xff }

// Patch returns the patch component.
func (v KernelVersion) Patch() uint32 { return uint32(v) & 0xffff }

// String implements fmt.Stringer.String.
func (v KernelVersion) String() string {
	return fmt.Sprintf("%d.%d.%d", v.Major(), v.Minor(), v.Patch())
}

// ParseKernelRelease parses a uname(2) release string of the form
// "<major>.<minor>.<patch>[anything]". Missing or malformed trailing
// components are treated as zero, and a release without a leading number
// yields version 0.
func ParseKernelRelease(release string) KernelVersion {
	var parts [3]uint32
	i := 0
	for p := 0; p < len(parts); p++ {
		start := i
		for i < len(release) && release[i] >= '0' && release[i] <= '9' {
			parts[p] = parts[p]*10 + uint32(release[i]-'0')
			i++
		}
		if i == start || i >= len(release) || release[i] != '.' {
			break
		}
		i++
	}
	return MakeKernelVersion(parts[0], parts[1], parts[2])
}
