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

// LockBeforeFork takes every lock that guards guest process state, in lock
// order, so that a forked child never inherits one mid-update.
func (h *Handler) LockBeforeFork() {
	h.threads.LockBeforeFork()
	h.core.LockBeforeFork()
	h.brkMu.Lock()
	h.vmas.LockForFork()
	h.alloc.LockBeforeFork()
}

// UnlockAfterFork undoes LockBeforeFork. The parent unlocks; the child, where
// live is the only surviving thread, abandons the locks instead.
func (h *Handler) UnlockAfterFork(live *Thread, child bool) {
	h.alloc.UnlockAfterFork(child)
	h.vmas.UnlockAfterFork(child)
	if child {
		h.brkMu.AbandonInChild()
	} else {
		h.brkMu.Unlock()
	}
	h.core.UnlockAfterFork(child)
	h.threads.UnlockAfterFork(live, child)
}
