// Copyright 2021 The gVisor Authors.
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

// Package bitmap provides the implementation of bitmap.
package bitmap

import (
	"fmt"
	"math"
	"math/bits"
)

// MaxBitEntryLimit defines the upper limit on how many bit entries are supported by this Bitmap
// implementation.
const MaxBitEntryLimit uint32 = math.MaxInt32

// Bitmap implements an efficient fixed-size bitmap.
type Bitmap struct {
	// numOnes is the number of ones in the bitmap.
	numOnes uint32

	// size is the number of addressable bits.
	size uint32

	// bitBlock holds the bits. The type of bitBlock is uint64 which means
	// each number in bitBlock contains 64 entries.
	bitBlock []uint64
}

// New create a new empty Bitmap holding size bits.
func New(size uint32) Bitmap {
	return Bitmap{
		size:     size,
		bitBlock: make([]uint64, (size+63)/64),
	}
}

// IsEmpty verifies whether the Bitmap is empty.
func (b *Bitmap) IsEmpty() bool {
	return b.numOnes == 0
}

// Size returns the total number of bits in the bitmap.
func (b *Bitmap) Size() uint32 {
	return b.size
}

// IsSet returns true if bit i is set.
func (b *Bitmap) IsSet(i uint32) bool {
	return b.bitBlock[i/64]&(uint64(1)<<(i%64)) != 0
}

// Add add i to the Bitmap.
func (b *Bitmap) Add(i uint32) {
	blockNum, mask := i/64, uint64(1)<<(i%64)
	oldBlock := b.bitBlock[blockNum]
	newBlock := oldBlock | mask
	if oldBlock != newBlock {
		b.bitBlock[blockNum] = newBlock
		b.numOnes++
	}
}

// Remove i from the Bitmap.
func (b *Bitmap) Remove(i uint32) {
	blockNum, mask := i/64, uint64(1)<<(i%64)
	oldBlock := b.bitBlock[blockNum]
	newBlock := oldBlock &^ mask
	if oldBlock != newBlock {
		b.bitBlock[blockNum] = newBlock
		b.numOnes--
	}
}

// rangeMask returns the mask of bits [begin%64, end%64] within one block,
// where begin and end are inclusive and in the same block.
func rangeMask(begin, end uint32) uint64 {
	hi := ^uint64(0) >> (63 - end%64)
	return hi &^ ((uint64(1) << (begin % 64)) - 1)
}

// SetRange sets bits within range (begin and end). begin is inclusive and
// end is exclusive.
func (b *Bitmap) SetRange(begin, end uint32) {
	b.applyRange(begin, end, func(w, m uint64) uint64 { return w | m })
}

// ClearRange clear bits within range (begin and end) for the Bitmap. begin
// is inclusive and end is exclusive.
func (b *Bitmap) ClearRange(begin, end uint32) {
	b.applyRange(begin, end, func(w, m uint64) uint64 { return w &^ m })
}

// applyRange replaces each block w overlapping [begin, end) with op(w, m),
// where m masks the bits of the range in that block, and keeps numOnes
// current.
func (b *Bitmap) applyRange(begin, end uint32, op func(w, m uint64) uint64) {
	if begin >= end {
		return
	}
	last := end - 1
	for blk := begin / 64; blk <= last/64; blk++ {
		lo, hi := blk*64, blk*64+63
		if lo < begin {
			lo = begin
		}
		if hi > last {
			hi = last
		}
		old := b.bitBlock[blk]
		w := op(old, rangeMask(lo, hi))
		b.numOnes += uint32(bits.OnesCount64(w)) - uint32(bits.OnesCount64(old))
		b.bitBlock[blk] = w
	}
}

// FirstZero returns the first unset bit from the range [start, ).
func (b *Bitmap) FirstZero(start uint32) (bit uint32, err error) {
	if bit, ok := b.nextZero(start); ok {
		return bit, nil
	}
	return MaxBitEntryLimit, fmt.Errorf("bitmap has no unset bits")
}

// FirstOne returns the first set bit from the range [start, )
func (b *Bitmap) FirstOne(start uint32) (bit uint32, err error) {
	if bit, ok := b.nextOne(start); ok {
		return bit, nil
	}
	return MaxBitEntryLimit, fmt.Errorf("bitmap has no set bits")
}

// LastOne returns the last set bit from the range [0, end].
func (b *Bitmap) LastOne(end uint32) (bit uint32, err error) {
	if bit, ok := b.prevOne(end); ok {
		return bit, nil
	}
	return MaxBitEntryLimit, fmt.Errorf("bitmap has no set bits")
}

func (b *Bitmap) nextZero(start uint32) (uint32, bool) {
	if start >= b.size {
		return 0, false
	}
	i, n := int(start/64), len(b.bitBlock)
	w := b.bitBlock[i] | ((1 << (start % 64)) - 1)
	for {
		if w != ^uint64(0) {
			r := uint32(bits.TrailingZeros64(^w) + i*64)
			return r, r < b.size
		}
		i++
		if i == n {
			return 0, false
		}
		w = b.bitBlock[i]
	}
}

func (b *Bitmap) nextOne(start uint32) (uint32, bool) {
	if start >= b.size {
		return 0, false
	}
	i, n := int(start/64), len(b.bitBlock)
	w := b.bitBlock[i] & (math.MaxUint64 << (start % 64))
	for {
		if w != 0 {
			r := uint32(bits.TrailingZeros64(w) + i*64)
			return r, r < b.size
		}
		i++
		if i == n {
			return 0, false
		}
		w = b.bitBlock[i]
	}
}

// prevZero returns the highest unset bit <= end.
func (b *Bitmap) prevZero(end uint32) (uint32, bool) {
	if end >= b.size {
		end = b.size - 1
	}
	i := int(end / 64)
	w := b.bitBlock[i] | ^(^uint64(0) >> (63 - end%64))
	for {
		if w != ^uint64(0) {
			return uint32(i*64 + 63 - bits.LeadingZeros64(^w)), true
		}
		i--
		if i < 0 {
			return 0, false
		}
		w = b.bitBlock[i]
	}
}

// prevOne returns the highest set bit <= end.
func (b *Bitmap) prevOne(end uint32) (uint32, bool) {
	if end >= b.size {
		end = b.size - 1
	}
	i := int(end / 64)
	w := b.bitBlock[i] & (^uint64(0) >> (63 - end%64))
	for {
		if w != 0 {
			return uint32(i*64 + 63 - bits.LeadingZeros64(w)), true
		}
		i--
		if i < 0 {
			return 0, false
		}
		w = b.bitBlock[i]
	}
}

// FirstFreeRun returns the lowest bit r such that [r, r+n) are all unset,
// start <= r and r+n <= limit.
func (b *Bitmap) FirstFreeRun(start, n, limit uint32) (uint32, bool) {
	if n == 0 {
		return 0, false
	}
	if limit > b.size {
		limit = b.size
	}
	p := start
	for {
		z, ok := b.nextZero(p)
		if !ok || uint64(z)+uint64(n) > uint64(limit) {
			return 0, false
		}
		o, ok := b.nextOne(z)
		if !ok || o >= z+n {
			return z, true
		}
		p = o + 1
	}
}

// LastFreeRun returns the lowest bit of the highest run of n unset bits
// [r, r+n) such that r+n-1 <= top and floor <= r.
func (b *Bitmap) LastFreeRun(top, n, floor uint32) (uint32, bool) {
	if n == 0 || b.size == 0 {
		return 0, false
	}
	if top >= b.size {
		top = b.size - 1
	}
	p := top
	for {
		z, ok := b.prevZero(p)
		if !ok || uint64(z)+1 < uint64(floor)+uint64(n) {
			return 0, false
		}
		first := z - n + 1
		o, ok := b.prevOne(z)
		if !ok || o < first {
			return first, true
		}
		if o == 0 {
			return 0, false
		}
		p = o - 1
	}
}

// Clone the Bitmap.
func (b *Bitmap) Clone() Bitmap {
	bitmap := Bitmap{b.numOnes, b.size, make([]uint64, len(b.bitBlock))}
	copy(bitmap.bitBlock, b.bitBlock[:])
	return bitmap
}

// CountOnes returns the number of set bits in [begin, end).
func (b *Bitmap) CountOnes(begin, end uint32) uint32 {
	var ones uint32
	if begin >= end {
		return 0
	}
	last := end - 1
	for blk := begin / 64; blk <= last/64; blk++ {
		lo, hi := blk*64, blk*64+63
		if lo < begin {
			lo = begin
		}
		if hi > last {
			hi = last
		}
		ones += uint32(bits.OnesCount64(b.bitBlock[blk] & rangeMask(lo, hi)))
	}
	return ones
}

// ToSlice transform the Bitmap into slice. For example, a bitmap of [0, 1, 0, 1]
// will return the slice [1, 3].
func (b *Bitmap) ToSlice() []uint32 {
	bitmapSlice := make([]uint32, 0, b.numOnes)
	// base is the start number of a bitBlock
	base := 0
	for i := 0; i < len(b.bitBlock); i++ {
		bitBlock := b.bitBlock[i]
		// Iterate through all the numbers held by this bit block.
		for bitBlock != 0 {
			// Extract the lowest set 1 bit.
			j := bitBlock & -bitBlock
			// Interpret the bit as the in32 number it represents and add it to result.
			bitmapSlice = append(bitmapSlice, uint32((base + int(bits.OnesCount64(j-1)))))
			bitBlock ^= j
		}
		base += 64
	}
	return bitmapSlice
}

// GetNumOnes return the the number of ones in the Bitmap.
func (b *Bitmap) GetNumOnes() uint32 {
	return b.numOnes
}
