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
	"gvisor.dev/xlate/pkg/abi/linux"
)

// The range of kernel versions reported to guests. Hosts outside the range
// are clamped into it.
var (
	MinGuestKernelVersion = linux.MakeKernelVersion(5, 15, 0)
	MaxGuestKernelVersion = linux.MakeKernelVersion(6, 11, 0)
)

// GuestKernelVersion returns the kernel version reported to guests on a host
// running hostVersion.
func GuestKernelVersion(hostVersion linux.KernelVersion) linux.KernelVersion {
	return max(MinGuestKernelVersion, min(MaxGuestKernelVersion, hostVersion))
}

// Uname returns the utsname reported to the guest: the host's, with the
// release replaced by the guest kernel version and the machine by the
// guest's architecture.
func (h *Handler) Uname() linux.UtsName {
	u := h.hostUname
	linux.SetField(&u.Release, h.guestVersion.String())
	machine := "x86_64"
	if !h.abi.Is64Bit() {
		machine = "i686"
	}
	linux.SetField(&u.Machine, machine)
	return u
}
