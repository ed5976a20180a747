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

package syscalls

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"gvisor.dev/xlate/pkg/errors/linuxerr"
	"gvisor.dev/xlate/pkg/host/hosttest"
	"gvisor.dev/xlate/pkg/kernel"
)

func newTable(t *testing.T, nr int, sc kernel.Syscall) (*kernel.Handler, *hosttest.Host, *kernel.Thread) {
	t.Helper()
	table := kernel.NewSyscallTable(kernel.X86_64, 16, kernel.MissingENOSYS)
	table.Register(nr, sc)
	host := hosttest.New("6.1.0")
	h, err := kernel.New(host, kernel.NopCore{}, kernel.Options{Table: table})
	if err != nil {
		t.Fatalf("kernel.New failed: %v", err)
	}
	return h, host, h.NewMainThread(&kernel.CPUState{})
}

func TestSupportedArity(t *testing.T) {
	for _, tc := range []struct {
		name string
		fn   any
		args int
	}{
		{"zero", func(*kernel.Thread) uint64 { return 0 }, 0},
		{"one", func(_ *kernel.Thread, a uint64) uint64 { return a }, 1},
		{"two", func(_ *kernel.Thread, a, b uint64) uint64 { return a + b }, 2},
		{"three", func(_ *kernel.Thread, a, b, c uint64) uint64 { return a + b + c }, 3},
		{"four", func(_ *kernel.Thread, a, b, c, d uint64) uint64 { return a + b + c + d }, 4},
		{"five", func(_ *kernel.Thread, a, b, c, d, e uint64) uint64 { return a + b + c + d + e }, 5},
		{"six", func(_ *kernel.Thread, a, b, c, d, e, f uint64) uint64 { return a + b + c + d + e + f }, 6},
	} {
		t.Run(tc.name, func(t *testing.T) {
			sc := Supported(tc.name, tc.fn)
			if int(sc.NumArgs) != tc.args {
				t.Errorf("NumArgs = %d, want %d", sc.NumArgs, tc.args)
			}
			if sc.HostSyscallNumber != kernel.NoHostSyscall {
				t.Errorf("HostSyscallNumber = %d, want none", sc.HostSyscallNumber)
			}
			h, _, th := newTable(t, 3, sc)
			// Each argument is 1, so handlers summing them return the arity.
			got := h.HandleSyscall(th, kernel.SyscallArguments{3, 1, 1, 1, 1, 1, 1})
			if int(got) != tc.args {
				t.Errorf("HandleSyscall = %d, want %d", got, tc.args)
			}
		})
	}
}

func TestSupportedRejectsBadHandlers(t *testing.T) {
	for _, fn := range []any{
		nil,
		func(*kernel.Thread) int { return 0 },
		func(*kernel.Thread, uint32) uint64 { return 0 },
		func(*kernel.Thread, uint64, uint64, uint64, uint64, uint64, uint64, uint64) uint64 { return 0 },
	} {
		func() {
			defer func() {
				if recover() == nil {
					t.Errorf("Supported(%T) did not panic", fn)
				}
			}()
			Supported("bad", fn)
		}()
	}
}

func TestNoReturn(t *testing.T) {
	sc := NoReturn("exit", func(*kernel.Thread, uint64) uint64 { return 0 })
	if sc.Flags&kernel.SyscallNoReturn == 0 {
		t.Errorf("Flags = %v, want noreturn", sc.Flags)
	}
	if sc.NumArgs != 1 {
		t.Errorf("NumArgs = %d, want 1", sc.NumArgs)
	}
}

func TestPassthrough(t *testing.T) {
	const hostNR = 1234
	sc := Passthrough("pread64", hostNR, 4)
	if sc.Flags&kernel.SyscallInlineHost == 0 || sc.HostSyscallNumber != hostNR {
		t.Errorf("Passthrough = %+v, want inline host syscall %d", sc, hostNR)
	}
	h, host, th := newTable(t, 5, sc)
	host.SetSyscallResult(hostNR, 77)
	if got := h.HandleSyscall(th, kernel.SyscallArguments{5, 1, 2, 3, 4, 5, 6}); got != 77 {
		t.Errorf("HandleSyscall = %d, want 77", got)
	}
	want := []hosttest.SyscallRecord{{NR: hostNR, Args: [6]uint64{1, 2, 3, 4}}}
	if diff := cmp.Diff(want, host.Syscalls()); diff != "" {
		t.Errorf("host syscalls mismatch (-want +got):\n%s", diff)
	}
}

func TestPassthroughError(t *testing.T) {
	h, host, th := newTable(t, 0, Passthrough("getpid", 39, 0))
	host.FailNext(hosttest.OpSyscall, linuxerr.EAGAIN)
	got := h.HandleSyscall(th, kernel.SyscallArguments{0})
	if want := linuxerr.ToSyscallReturn(0, linuxerr.EAGAIN); got != want {
		t.Errorf("HandleSyscall = %#x, want %#x", got, want)
	}
}

func TestPassthroughInvalidArity(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Errorf("Passthrough with 7 arguments did not panic")
		}
	}()
	Passthrough("bad", 1, 7)
}

func TestError(t *testing.T) {
	h, _, th := newTable(t, 2, Error("kexec_load", linuxerr.EPERM))
	got := h.HandleSyscall(th, kernel.SyscallArguments{2, 1, 2, 3})
	if want := linuxerr.ToSyscallReturn(0, linuxerr.EPERM); got != want {
		t.Errorf("HandleSyscall = %#x, want %#x", got, want)
	}
}
