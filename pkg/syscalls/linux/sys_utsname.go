// Copyright 2018 The gVisor Authors.
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
	"gvisor.dev/xlate/pkg/errors/linuxerr"
	"gvisor.dev/xlate/pkg/kernel"
)

// Uname implements linux syscall uname.
func Uname(t *kernel.Thread, addr uint64) uint64 {
	u := t.Handler().Uname()

	// Copy out the result.
	buf := make([]byte, u.SizeBytes())
	u.MarshalBytes(buf)
	if err := t.Handler().OS().CopyOut(addr, buf); err != nil {
		return linuxerr.ToSyscallReturn(0, linuxerr.EFAULT)
	}
	return 0
}
