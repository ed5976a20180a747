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
	"testing"

	"github.com/google/go-cmp/cmp"
	"gvisor.dev/xlate/pkg/abi/linux"
	"gvisor.dev/xlate/pkg/errors/linuxerr"
	"gvisor.dev/xlate/pkg/hostarch"
	"gvisor.dev/xlate/pkg/kernel"
)

const sigchld = 17

// runChildren runs the children queued by the slow clone path and returns
// their initial register state.
func (e *testEnv) runChildren(n int) []kernel.CPUState {
	states := make(chan kernel.CPUState, n)
	e.core.run = func(th *kernel.Thread) int {
		states <- *th.State.Copy()
		return 0
	}
	e.host.RunClones()
	close(states)
	var got []kernel.CPUState
	for s := range states {
		got = append(got, s)
	}
	return got
}

func TestCloneArgumentOrder(t *testing.T) {
	const (
		ctid = 0x5000
		tls  = 0x7000_1000
	)
	e := newTestEnv(t, kernel.X86_64)
	flags := uint64(linux.CLONE_NEWPID | linux.CLONE_SETTLS | linux.CLONE_CHILD_SETTID | sigchld)
	if got := e.syscall(56, flags, 0x7000_0000, 0, ctid, tls); got != 200 {
		t.Fatalf("clone = %#x, want 200", got)
	}
	clones := e.host.Clones()
	if len(clones) != 1 || clones[0].ChildTID != ctid || clones[0].ExitSignal != sigchld ||
		clones[0].Flags != linux.CLONE_NEWPID|linux.CLONE_CHILD_SETTID {
		t.Fatalf("host clones = %+v", clones)
	}
	children := e.runChildren(1)
	if len(children) != 1 || children[0].FSBase != tls {
		t.Errorf("child FS base = %+v, want %#x", children, uint64(tls))
	}
}

func TestClone32ArgumentOrder(t *testing.T) {
	const ctid = 0x5000
	e := newTestEnv(t, kernel.I386)
	descAddr := e.guestPage(t)
	desc := linux.UserDesc{EntryNumber: 12, BaseAddr: 0x2000, Limit: 0xfffff, Flags: 0x51}
	buf := make([]byte, desc.SizeBytes())
	desc.MarshalBytes(buf)
	if err := e.host.CopyOut(descAddr, buf); err != nil {
		t.Fatalf("CopyOut failed: %v", err)
	}

	flags := uint64(linux.CLONE_NEWPID | linux.CLONE_SETTLS | linux.CLONE_CHILD_SETTID | sigchld)
	if got := e.syscall(120, flags, 0x7000_0000, 0, descAddr, ctid); got != 200 {
		t.Fatalf("clone = %#x, want 200", got)
	}
	if clones := e.host.Clones(); len(clones) != 1 || clones[0].ChildTID != ctid {
		t.Fatalf("host clones = %+v", clones)
	}
	children := e.runChildren(1)
	if len(children) != 1 || children[0].GDT[12].Base != 0x2000 {
		t.Errorf("child GDT entry 12 = %+v, want base 0x2000", children)
	}
}

func TestClonePidfd(t *testing.T) {
	e := newTestEnv(t, kernel.X86_64)
	flags := uint64(linux.CLONE_PIDFD | linux.CLONE_PARENT_SETTID | sigchld)
	if got := e.syscall(56, flags, 0, 0x5000, 0, 0); got != errno(linuxerr.EINVAL) {
		t.Errorf("clone with CLONE_PIDFD|CLONE_PARENT_SETTID = %#x, want EINVAL", got)
	}

	pidfd := e.guestPage(t)
	flags = uint64(linux.CLONE_NEWPID | linux.CLONE_PIDFD | sigchld)
	if got := e.syscall(56, flags, 0, pidfd, 0, 0); got != 200 {
		t.Fatalf("clone = %#x, want 200", got)
	}
	if clones := e.host.Clones(); len(clones) != 1 || clones[0].Pidfd != pidfd || clones[0].ParentTID != pidfd {
		t.Errorf("host clones = %+v", clones)
	}
}

func TestCloneIgnoresHighFlagBits(t *testing.T) {
	e := newTestEnv(t, kernel.X86_64)
	// CLONE_CLEAR_SIGHAND is only reachable through clone3.
	flags := uint64(linux.CLONE_CLEAR_SIGHAND | linux.CLONE_NEWPID | sigchld)
	if got := e.syscall(56, flags, 0, 0, 0, 0); got != 200 {
		t.Errorf("clone = %#x, want 200", got)
	}
}

func TestForkAndVfork(t *testing.T) {
	e := newTestEnv(t, kernel.X86_64)
	if got := e.syscall(57); got != 200 {
		t.Errorf("fork = %d, want 200", got)
	}
	if got := e.syscall(58); got != 201 {
		t.Errorf("vfork = %d, want 201", got)
	}
	if diff := cmp.Diff([]int32{201}, e.host.VforkWaits()); diff != "" {
		t.Errorf("vfork waits mismatch (-want +got):\n%s", diff)
	}
}

func TestClone3(t *testing.T) {
	e := newTestEnv(t, kernel.X86_64)
	page := e.guestPage(t)
	write := func(b []byte) {
		t.Helper()
		if err := e.host.CopyOut(page, b); err != nil {
			t.Fatalf("CopyOut failed: %v", err)
		}
	}
	args := linux.CloneArgs{
		Flags:      linux.CLONE_NEWPID | linux.CLONE_CHILD_SETTID,
		ChildTID:   0x5000,
		ExitSignal: sigchld,
		Stack:      0x7000_0000,
		StackSize:  0x10000,
	}
	buf := make([]byte, hostarch.PageSize)
	args.MarshalBytes(buf)
	write(buf)

	if got := e.syscall(435, page, linux.CloneArgsSize); got != 200 {
		t.Fatalf("clone3 = %#x, want 200", got)
	}
	clones := e.host.Clones()
	if len(clones) != 1 || clones[0].ChildTID != 0x5000 || clones[0].ExitSignal != sigchld {
		t.Fatalf("host clones = %+v", clones)
	}
	children := e.runChildren(1)
	if len(children) != 1 || children[0].Regs[kernel.RSP] != 0x7001_0000 {
		t.Errorf("child stack = %+v, want 0x70010000", children)
	}

	// A larger struct with zeroed unknown fields is accepted.
	if got := e.syscall(435, page, 128); got != 201 {
		t.Errorf("clone3 with a 128-byte struct = %#x, want 201", got)
	}

	for _, tc := range []struct {
		name  string
		setup func()
		addr  uint64
		size  uint64
		want  error
	}{
		{"too small", func() {}, page, linux.CloneArgsSizeVer0 - 8, linuxerr.EINVAL},
		{"too large", func() {}, page, hostarch.PageSize + 8, linuxerr.E2BIG},
		{"unmapped", func() {}, 0, linux.CloneArgsSize, linuxerr.EFAULT},
		{"unknown fields set", func() { write([]byte{linux.CloneArgsSize: 1}) }, page, 128, linuxerr.E2BIG},
		{"bad exit signal", func() {
			bad := args
			bad.ExitSignal = 0x100
			b := make([]byte, hostarch.PageSize)
			bad.MarshalBytes(b)
			write(b)
		}, page, linux.CloneArgsSize, linuxerr.EINVAL},
	} {
		tc.setup()
		if got := e.syscall(435, tc.addr, tc.size); got != errno(tc.want) {
			t.Errorf("clone3 %s = %#x, want %v", tc.name, got, tc.want)
		}
	}
}
