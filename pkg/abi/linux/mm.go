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

// Package linux contains the constants and types needed to interface with a
// Linux kernel.
package linux

import (
	"gvisor.dev/xlate/pkg/abi"
)

// Protections for mmap(2).
const (
	PROT_NONE      = 0
	PROT_READ      = 1 << 0
	PROT_WRITE     = 1 << 1
	PROT_EXEC      = 1 << 2
	PROT_SEM       = 1 << 3
	PROT_GROWSDOWN = 1 << 24
	PROT_GROWSUP   = 1 << 25
)

// Flags for mmap(2).
const (
	MAP_SHARED          = 1 << 0
	MAP_PRIVATE         = 1 << 1
	MAP_SHARED_VALIDATE = MAP_SHARED | MAP_PRIVATE
	MAP_TYPE            = 0xf
	MAP_FIXED           = 1 << 4
	MAP_ANONYMOUS       = 1 << 5
	MAP_32BIT           = 1 << 6 // arch/x86/include/uapi/asm/mman.h.
	MAP_GROWSDOWN       = 1 << 8
	MAP_DENYWRITE       = 1 << 11
	MAP_EXECUTABLE      = 1 << 12
	MAP_LOCKED          = 1 << 13
	MAP_NORESERVE       = 1 << 14
	MAP_POPULATE        = 1 << 15
	MAP_NONBLOCK        = 1 << 16
	MAP_STACK           = 1 << 17
	MAP_HUGETLB         = 1 << 18
	MAP_FIXED_NOREPLACE = 1 << 20
)

// Flags for mremap(2).
const (
	MREMAP_MAYMOVE   = 1 << 0
	MREMAP_FIXED     = 1 << 1
	MREMAP_DONTUNMAP = 1 << 2
)

// MAP_FAILED is the value returned by mmap(2) on failure.
const MAP_FAILED = ^uint64(0)

// MmapFlagSet is the set of mmap(2) flags used for logging.
var MmapFlagSet = abi.FlagSet{
	{Flag: MAP_SHARED, Name: "MAP_SHARED"},
	{Flag: MAP_PRIVATE, Name: "MAP_PRIVATE"},
	{Flag: MAP_FIXED, Name: "MAP_FIXED"},
	{Flag: MAP_ANONYMOUS, Name: "MAP_ANONYMOUS"},
	{Flag: MAP_32BIT, Name: "MAP_32BIT"},
	{Flag: MAP_GROWSDOWN, Name: "MAP_GROWSDOWN"},
	{Flag: MAP_NORESERVE, Name: "MAP_NORESERVE"},
	{Flag: MAP_POPULATE, Name: "MAP_POPULATE"},
	{Flag: MAP_STACK, Name: "MAP_STACK"},
	{Flag: MAP_FIXED_NOREPLACE, Name: "MAP_FIXED_NOREPLACE"},
}

// ProtectionFlagSet represents the protection to mmap(2).
var ProtectionFlagSet = abi.FlagSet{
	{Flag: PROT_READ, Name: "PROT_READ"},
	{Flag: PROT_WRITE, Name: "PROT_WRITE"},
	{Flag: PROT_EXEC, Name: "PROT_EXEC"},
}
