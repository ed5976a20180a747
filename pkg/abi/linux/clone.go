// Copyright 2019 The gVisor Authors.
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
	"gvisor.dev/xlate/pkg/abi"
)

// Clone constants per clone(2).
const (
	CSIGNAL = 0xff

	CLONE_NEWTIME        = 0x80 // clone3 only, overlaps CSIGNAL.
	CLONE_VM             = 0x100
	CLONE_FS             = 0x200
	CLONE_FILES          = 0x400
	CLONE_SIGHAND        = 0x800
	CLONE_PIDFD          = 0x1000
	CLONE_PTRACE         = 0x2000
	CLONE_VFORK          = 0x4000
	CLONE_PARENT         = 0x8000
	CLONE_THREAD         = 0x10000
	CLONE_NEWNS          = 0x20000
	CLONE_SYSVSEM        = 0x40000
	CLONE_SETTLS         = 0x80000
	CLONE_PARENT_SETTID  = 0x100000
	CLONE_CHILD_CLEARTID = 0x200000
	CLONE_DETACHED       = 0x400000
	CLONE_UNTRACED       = 0x800000
	CLONE_CHILD_SETTID   = 0x1000000
	CLONE_NEWCGROUP      = 0x2000000
	CLONE_NEWUTS         = 0x4000000
	CLONE_NEWIPC         = 0x8000000
	CLONE_NEWUSER        = 0x10000000
	CLONE_NEWPID         = 0x20000000
	CLONE_NEWNET         = 0x40000000
	CLONE_IO             = 0x80000000

	// Only passable via clone3(2).
	CLONE_CLEAR_SIGHAND = 0x100000000
	CLONE_INTO_CGROUP   = 0x200000000
)

// CloneArgsSizeVer0 is the size of the first published struct clone_args.
// clone3(2) rejects anything smaller.
const CloneArgsSizeVer0 = 64

// CloneArgsSize is the size of struct clone_args as of Linux 5.7
// (CLONE_ARGS_SIZE_VER2).
const CloneArgsSize = 88

// CloneArgs is struct clone_args, from include/uapi/linux/sched.h.
type CloneArgs struct {
	Flags      uint64
	Pidfd      uint64
	ChildTID   uint64
	ParentTID  uint64
	ExitSignal uint64
	Stack      uint64
	StackSize  uint64
	TLS        uint64
	SetTID     uint64
	SetTIDSize uint64
	Cgroup     uint64
}

// UserDesc is struct user_desc, from arch/x86/include/uapi/asm/ldt.h. It is
// the TLS argument of an i386 clone(2) with CLONE_SETTLS.
type UserDesc struct {
	EntryNumber uint32
	BaseAddr    uint32
	Limit       uint32
	Flags       uint32
}

// CloneFlagSet is the set of clone(2) flags.
var CloneFlagSet = abi.FlagSet{
	{Flag: CLONE_VM, Name: "CLONE_VM"},
	{Flag: CLONE_FS, Name: "CLONE_FS"},
	{Flag: CLONE_FILES, Name: "CLONE_FILES"},
	{Flag: CLONE_SIGHAND, Name: "CLONE_SIGHAND"},
	{Flag: CLONE_PIDFD, Name: "CLONE_PIDFD"},
	{Flag: CLONE_PTRACE, Name: "CLONE_PTRACE"},
	{Flag: CLONE_VFORK, Name: "CLONE_VFORK"},
	{Flag: CLONE_PARENT, Name: "CLONE_PARENT"},
	{Flag: CLONE_THREAD, Name: "CLONE_THREAD"},
	{Flag: CLONE_NEWNS, Name: "CLONE_NEWNS"},
	{Flag: CLONE_SYSVSEM, Name: "CLONE_SYSVSEM"},
	{Flag: CLONE_SETTLS, Name: "CLONE_SETTLS"},
	{Flag: CLONE_PARENT_SETTID, Name: "CLONE_PARENT_SETTID"},
	{Flag: CLONE_CHILD_CLEARTID, Name: "CLONE_CHILD_CLEARTID"},
	{Flag: CLONE_DETACHED, Name: "CLONE_DETACHED"},
	{Flag: CLONE_UNTRACED, Name: "CLONE_UNTRACED"},
	{Flag: CLONE_CHILD_SETTID, Name: "CLONE_CHILD_SETTID"},
	{Flag: CLONE_NEWCGROUP, Name: "CLONE_NEWCGROUP"},
	{Flag: CLONE_NEWUTS, Name: "CLONE_NEWUTS"},
	{Flag: CLONE_NEWIPC, Name: "CLONE_NEWIPC"},
	{Flag: CLONE_NEWUSER, Name: "CLONE_NEWUSER"},
	{Flag: CLONE_NEWPID, Name: "CLONE_NEWPID"},
	{Flag: CLONE_NEWNET, Name: "CLONE_NEWNET"},
	{Flag: CLONE_IO, Name: "CLONE_IO"},
	{Flag: CLONE_CLEAR_SIGHAND, Name: "CLONE_CLEAR_SIGHAND"},
	{Flag: CLONE_INTO_CGROUP, Name: "CLONE_INTO_CGROUP"},
}
