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

package hostarch

import "testing"

func TestRoundUp(t *testing.T) {
	for _, tc := range []struct {
		in   Addr
		want Addr
		ok   bool
	}{
		{0, 0, true},
		{1, PageSize, true},
		{PageSize, PageSize, true},
		{PageSize + 1, 2 * PageSize, true},
		{^Addr(0), 0, false},
	} {
		got, ok := tc.in.RoundUp()
		if got != tc.want || ok != tc.ok {
			t.Errorf("%v.RoundUp() got (%v, %t) want (%v, %t)", tc.in, got, ok, tc.want, tc.ok)
		}
	}
}

func TestAddLength(t *testing.T) {
	if _, ok := Addr(^uint64(0) - 10).AddLength(100); ok {
		t.Errorf("AddLength overflow not detected")
	}
	if end, ok := Addr(0x1000).AddLength(0x2000); !ok || end != 0x3000 {
		t.Errorf("AddLength got (%v, %t) want (0x3000, true)", end, ok)
	}
}

func TestPagesFor(t *testing.T) {
	for _, tc := range []struct {
		length uint64
		want   uint64
	}{
		{0, 0},
		{1, 1},
		{PageSize, 1},
		{PageSize + 1, 2},
		{0x10000, 16},
	} {
		if got := PagesFor(tc.length); got != tc.want {
			t.Errorf("PagesFor(%#x) got %d want %d", tc.length, got, tc.want)
		}
	}
}

func TestAlignUp(t *testing.T) {
	const eightMiB = 8 << 20
	if got := AlignUp(1, eightMiB); got != eightMiB {
		t.Errorf("AlignUp(1) got %#x want %#x", got, eightMiB)
	}
	if got := AlignUp(eightMiB, eightMiB); got != eightMiB {
		t.Errorf("AlignUp(8MiB) got %#x want %#x", got, eightMiB)
	}
	if got := AlignDown(eightMiB+5, eightMiB); got != eightMiB {
		t.Errorf("AlignDown got %#x want %#x", got, eightMiB)
	}
}

func TestAddrRange(t *testing.T) {
	r := AddrRange{0x1000, 0x3000}
	if !r.Contains(0x1000) || r.Contains(0x3000) {
		t.Errorf("%v.Contains bounds wrong", r)
	}
	if !r.Overlaps(AddrRange{0x2000, 0x4000}) || r.Overlaps(AddrRange{0x3000, 0x4000}) {
		t.Errorf("%v.Overlaps wrong", r)
	}
	if got := r.Intersect(AddrRange{0x2000, 0x5000}); got != (AddrRange{0x2000, 0x3000}) {
		t.Errorf("Intersect got %v want [0x2000, 0x3000)", got)
	}
	if got := r.Intersect(AddrRange{0x5000, 0x6000}); got.Length() != 0 {
		t.Errorf("disjoint Intersect got %v want empty", got)
	}
}
