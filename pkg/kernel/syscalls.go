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

package kernel

import (
	"fmt"
	"strings"
	"time"

	"gvisor.dev/xlate/pkg/errors/linuxerr"
	"gvisor.dev/xlate/pkg/log"
)

// ABI is a guest system call ABI.
type ABI int

const (
	// X86_64 is the 64-bit syscall ABI.
	X86_64 ABI = iota

	// I386 is the 32-bit int $0x80 ABI.
	I386
)

// String implements fmt.Stringer.String.
func (a ABI) String() string {
	switch a {
	case X86_64:
		return "x86_64"
	case I386:
		return "i386"
	default:
		return fmt.Sprintf("ABI(%d)", int(a))
	}
}

// Is64Bit returns true for the 64-bit ABI.
func (a ABI) Is64Bit() bool {
	return a == X86_64
}

// ParseABI parses the output of ABI.String.
func ParseABI(s string) (ABI, error) {
	switch s {
	case "x86_64", "amd64":
		return X86_64, nil
	case "i386", "x86":
		return I386, nil
	default:
		return 0, fmt.Errorf("invalid ABI %q", s)
	}
}

// SyscallFlags describe a syscall to the JIT.
type SyscallFlags uint32

const (
	// SyscallInlineHost means the guest syscall can be issued directly as
	// HostSyscallNumber, without going through HandleSyscall.
	SyscallInlineHost SyscallFlags = 1 << iota

	// SyscallNoReturn means the syscall never returns to the guest.
	SyscallNoReturn

	// SyscallNoSideEffects means the syscall modifies no guest state other
	// than its return register.
	SyscallNoSideEffects
)

// String implements fmt.Stringer.String.
func (f SyscallFlags) String() string {
	var s []string
	if f&SyscallInlineHost != 0 {
		s = append(s, "inline")
	}
	if f&SyscallNoReturn != 0 {
		s = append(s, "noreturn")
	}
	if f&SyscallNoSideEffects != 0 {
		s = append(s, "nosideeffects")
	}
	return strings.Join(s, "|")
}

// MissingArity is the NumArgs of an unimplemented syscall. Its Fn1 receives
// the syscall number.
const MissingArity = 255

// NoHostSyscall is the HostSyscallNumber of syscalls with no host
// equivalent.
const NoHostSyscall = -1

// Syscall handler types, one per arity. Each returns the value of the guest's
// return register: a result or a negated errno.
type (
	SyscallFn0 func(t *Thread) uint64
	SyscallFn1 func(t *Thread, a1 uint64) uint64
	SyscallFn2 func(t *Thread, a1, a2 uint64) uint64
	SyscallFn3 func(t *Thread, a1, a2, a3 uint64) uint64
	SyscallFn4 func(t *Thread, a1, a2, a3, a4 uint64) uint64
	SyscallFn5 func(t *Thread, a1, a2, a3, a4, a5 uint64) uint64
	SyscallFn6 func(t *Thread, a1, a2, a3, a4, a5, a6 uint64) uint64
)

// Syscall is one entry of a SyscallTable. Exactly the handler matching
// NumArgs is set.
type Syscall struct {
	Name              string
	NumArgs           uint8
	Flags             SyscallFlags
	HostSyscallNumber int32

	Fn0 SyscallFn0
	Fn1 SyscallFn1
	Fn2 SyscallFn2
	Fn3 SyscallFn3
	Fn4 SyscallFn4
	Fn5 SyscallFn5
	Fn6 SyscallFn6
}

// Implemented returns false for the missing-syscall stub.
func (s *Syscall) Implemented() bool {
	return s.NumArgs != MissingArity
}

// SyscallArguments are the syscall number followed by its six arguments.
type SyscallArguments [7]uint64

// MissingSyscallPolicy is what an unimplemented syscall does.
type MissingSyscallPolicy int

const (
	// MissingAbort panics with the syscall's number.
	MissingAbort MissingSyscallPolicy = iota

	// MissingENOSYS returns -ENOSYS to the guest.
	MissingENOSYS
)

// String implements fmt.Stringer.String.
func (p MissingSyscallPolicy) String() string {
	switch p {
	case MissingAbort:
		return "abort"
	case MissingENOSYS:
		return "enosys"
	default:
		return fmt.Sprintf("MissingSyscallPolicy(%d)", int(p))
	}
}

// ParseMissingSyscallPolicy parses the output of MissingSyscallPolicy.String.
func ParseMissingSyscallPolicy(s string) (MissingSyscallPolicy, error) {
	switch s {
	case "abort":
		return MissingAbort, nil
	case "enosys":
		return MissingENOSYS, nil
	default:
		return 0, fmt.Errorf("invalid missing syscall policy %q", s)
	}
}

// missingLog reports unimplemented syscalls under MissingENOSYS.
var missingLog = log.BasicRateLimitedLogger(time.Second)

// SyscallTable maps the syscall numbers of one ABI to their handlers. It is
// immutable once the first thread starts.
type SyscallTable struct {
	// ABI is the table's guest ABI.
	ABI ABI

	// Missing is the policy of the stub in unregistered slots.
	Missing MissingSyscallPolicy

	// Table is indexed by syscall number.
	Table []Syscall
}

// NewSyscallTable returns a table with maxNR slots, all holding the missing
// syscall stub.
func NewSyscallTable(abi ABI, maxNR int, missing MissingSyscallPolicy) *SyscallTable {
	s := &SyscallTable{
		ABI:     abi,
		Missing: missing,
		Table:   make([]Syscall, maxNR),
	}
	stub := s.missingStub()
	for i := range s.Table {
		s.Table[i] = Syscall{
			NumArgs:           MissingArity,
			HostSyscallNumber: NoHostSyscall,
			Fn1:               stub,
		}
	}
	return s
}

func (s *SyscallTable) missingStub() SyscallFn1 {
	if s.Missing == MissingENOSYS {
		return func(t *Thread, nr uint64) uint64 {
			missingLog.Warningf("%v: unimplemented %v syscall %d", t, s.ABI, nr)
			return linuxerr.ToSyscallReturn(0, linuxerr.ENOSYS)
		}
	}
	return func(t *Thread, nr uint64) uint64 {
		panic(fmt.Sprintf("Unhandled %v system call: %d", s.ABI, nr))
	}
}

// Register installs sc as syscall nr.
//
// Precondition: nr has not been registered before.
func (s *SyscallTable) Register(nr int, sc Syscall) {
	if nr < 0 || nr >= len(s.Table) {
		panic(fmt.Sprintf("%v syscall %s: number %d out of range [0, %d)", s.ABI, sc.Name, nr, len(s.Table)))
	}
	if cur := &s.Table[nr]; cur.Implemented() {
		panic(fmt.Sprintf("%v syscall %d registered twice: %s and %s", s.ABI, nr, cur.Name, sc.Name))
	}
	if err := sc.check(); err != nil {
		panic(fmt.Sprintf("%v syscall %d: %v", s.ABI, nr, err))
	}
	s.Table[nr] = sc
}

// check verifies that the handler for sc's arity is set.
func (sc *Syscall) check() error {
	var set bool
	switch sc.NumArgs {
	case 0:
		set = sc.Fn0 != nil
	case 1:
		set = sc.Fn1 != nil
	case 2:
		set = sc.Fn2 != nil
	case 3:
		set = sc.Fn3 != nil
	case 4:
		set = sc.Fn4 != nil
	case 5:
		set = sc.Fn5 != nil
	case 6:
		set = sc.Fn6 != nil
	default:
		return fmt.Errorf("%s has invalid arity %d", sc.Name, sc.NumArgs)
	}
	if !set {
		return fmt.Errorf("%s has no %d-argument handler", sc.Name, sc.NumArgs)
	}
	return nil
}

// Lookup returns the entry for nr, or nil if nr is out of range.
func (s *SyscallTable) Lookup(nr uint64) *Syscall {
	if nr >= uint64(len(s.Table)) {
		return nil
	}
	return &s.Table[nr]
}

// Name returns the name of syscall nr, or "" if it is not implemented.
func (s *SyscallTable) Name(nr uint64) string {
	if sc := s.Lookup(nr); sc != nil {
		return sc.Name
	}
	return ""
}

// Implemented returns the numbers of the registered syscalls in ascending
// order.
func (s *SyscallTable) Implemented() []int {
	var nrs []int
	for i := range s.Table {
		if s.Table[i].Implemented() {
			nrs = append(nrs, i)
		}
	}
	return nrs
}

// MissingSyscalls returns the numbers of the unregistered syscalls in ascending order.
func (s *SyscallTable) MissingSyscalls() []int {
	var nrs []int
	for i := range s.Table {
		if !s.Table[i].Implemented() {
			nrs = append(nrs, i)
		}
	}
	return nrs
}

// HandleSyscall runs the syscall described by args on t and returns the value
// of the guest's return register.
func (s *SyscallTable) HandleSyscall(t *Thread, args SyscallArguments) uint64 {
	nr := args[0]
	if nr >= uint64(len(s.Table)) {
		return linuxerr.ToSyscallReturn(0, linuxerr.ENOSYS)
	}
	sc := &s.Table[nr]
	var rv uint64
	switch sc.NumArgs {
	case 0:
		rv = sc.Fn0(t)
	case 1:
		rv = sc.Fn1(t, args[1])
	case 2:
		rv = sc.Fn2(t, args[1], args[2])
	case 3:
		rv = sc.Fn3(t, args[1], args[2], args[3])
	case 4:
		rv = sc.Fn4(t, args[1], args[2], args[3], args[4])
	case 5:
		rv = sc.Fn5(t, args[1], args[2], args[3], args[4], args[5])
	case 6:
		rv = sc.Fn6(t, args[1], args[2], args[3], args[4], args[5], args[6])
	case MissingArity:
		return sc.Fn1(t, nr)
	default:
		panic(fmt.Sprintf("%v syscall %d (%s) has invalid arity %d", s.ABI, nr, sc.Name, sc.NumArgs))
	}
	if log.IsLogging(log.Debug) {
		log.Debugf("%v: %s(%#x) = %#x", t, sc.Name, args[1:1+sc.NumArgs], rv)
	}
	return rv
}
