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

// Package hostarch contains host arch address operations for guest memory
// managed on the host.
package hostarch

import (
	"encoding/binary"

	"golang.org/x/sys/unix"
)

// ByteOrder is the byte order of guest memory.
var ByteOrder = binary.LittleEndian

const (
	// PageShift is the binary log of the guest and host page size.
	PageShift = 12

	// PageSize is the guest and host page size.
	PageSize = 1 << PageShift

	// HugePageShift is the binary log of the huge page size.
	HugePageShift = 21

	// HugePageSize is the huge page size.
	HugePageSize = 1 << HugePageShift
)

// Limits of a 32-bit guest address space.
const (
	// Max32BitAddr is the highest byte a 32-bit guest can address.
	Max32BitAddr Addr = 1<<32 - 1

	// Pages32Bit is the number of pages in a 32-bit address space.
	Pages32Bit = 1 << (32 - PageShift)

	// Map32BitCeiling is the exclusive upper bound of MAP_32BIT placements
	// (the low 2GiB).
	Map32BitCeiling Addr = 1 << 31
)

// PageRoundDown rounds x down to a page boundary.
func PageRoundDown[T ~uint | ~uint32 | ~uint64 | ~uintptr](x T) T {
	return x &^ (PageSize - 1)
}

// PageRoundUp rounds x up to a page boundary. ok is false if rounding up
// wraps.
func PageRoundUp[T ~uint | ~uint32 | ~uint64 | ~uintptr](x T) (val T, ok bool) {
	val = PageRoundDown(x + PageSize - 1)
	ok = val >= x
	return
}

// PagesFor returns the number of pages needed to hold length bytes.
func PagesFor(length uint64) uint64 {
	return (length + PageSize - 1) >> PageShift
}

// AlignUp rounds x up to a multiple of align, which must be a power of two.
func AlignUp(x, align uint64) uint64 {
	return (x + align - 1) &^ (align - 1)
}

// AlignDown rounds x down to a multiple of align, which must be a power of
// two.
func AlignDown(x, align uint64) uint64 {
	return x &^ (align - 1)
}

func init() {
	// Guest page arithmetic assumes 4K host pages.
	if size := unix.Getpagesize(); size != PageSize {
		panic("Only 4K page size is supported!")
	}
}
