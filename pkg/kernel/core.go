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
	"gvisor.dev/xlate/pkg/mm/vma"
)

// Core is the translation core executing guest code.
type Core interface {
	vma.Invalidator
	vma.CacheLoader

	// MarkMemoryShared tells the core that guest memory may now be shared
	// with another thread or process, so translated code must tolerate
	// concurrent modification.
	MarkMemoryShared()

	// Run executes t's guest code until the thread exits and returns its
	// exit status.
	Run(t *Thread) int

	// LockBeforeFork takes the core's locks ahead of a fork.
	LockBeforeFork()

	// UnlockAfterFork releases the locks taken by LockBeforeFork. In the
	// child the locks are abandoned instead.
	UnlockAfterFork(child bool)
}

// NopCore is a Core that executes nothing. Threads run on it exit
// immediately with status 0.
type NopCore struct{}

var _ Core = NopCore{}

// InvalidateRange implements vma.Invalidator.InvalidateRange.
func (NopCore) InvalidateRange(start, length uint64, fn func(start, length uint64)) {
	if fn != nil {
		fn(start, length)
	}
}

// LoadCacheEntry implements vma.CacheLoader.LoadCacheEntry.
func (NopCore) LoadCacheEntry(string) vma.CacheEntry { return nil }

// UnloadCacheEntry implements vma.CacheLoader.UnloadCacheEntry.
func (NopCore) UnloadCacheEntry(vma.CacheEntry) {}

// MarkMemoryShared implements Core.MarkMemoryShared.
func (NopCore) MarkMemoryShared() {}

// Run implements Core.Run.
func (NopCore) Run(*Thread) int { return 0 }

// LockBeforeFork implements Core.LockBeforeFork.
func (NopCore) LockBeforeFork() {}

// UnlockAfterFork implements Core.UnlockAfterFork.
func (NopCore) UnlockAfterFork(bool) {}
