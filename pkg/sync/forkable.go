// Copyright 2026 The gVisor Authors.
//
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file or at
// https://developers.google.com/open-source/licenses/bsd.

package sync

import (
	"sync"
)

// ForkableMutex is a mutex that may be held across a fork(2) of the process.
//
// The parent releases it with Unlock after the fork. The child inherits the
// locked state but none of the threads that could release it, so it calls
// AbandonInChild instead, which discards the inherited state.
type ForkableMutex struct {
	mu sync.Mutex
}

// Lock locks m.
func (m *ForkableMutex) Lock() {
	m.mu.Lock()
}

// TryLock tries to lock m and reports whether it succeeded.
func (m *ForkableMutex) TryLock() bool {
	return m.mu.TryLock()
}

// Unlock unlocks m.
func (m *ForkableMutex) Unlock() {
	m.mu.Unlock()
}

// AbandonInChild resets m to the unlocked state without unlocking it.
//
// Preconditions:
//   - The caller is the only thread of a freshly forked child.
//   - m was locked before the fork.
func (m *ForkableMutex) AbandonInChild() {
	m.mu = sync.Mutex{}
}

// ForkableRWMutex is the reader/writer form of ForkableMutex. Forking is
// done with the write lock held.
type ForkableRWMutex struct {
	mu sync.RWMutex
}

// Lock locks rw for writing.
func (rw *ForkableRWMutex) Lock() {
	rw.mu.Lock()
}

// Unlock unlocks rw for writing.
func (rw *ForkableRWMutex) Unlock() {
	rw.mu.Unlock()
}

// RLock locks rw for reading.
func (rw *ForkableRWMutex) RLock() {
	rw.mu.RLock()
}

// RUnlock undoes a single RLock call.
func (rw *ForkableRWMutex) RUnlock() {
	rw.mu.RUnlock()
}

// TryLock tries to lock rw for writing and reports whether it succeeded.
func (rw *ForkableRWMutex) TryLock() bool {
	return rw.mu.TryLock()
}

// AbandonInChild resets rw to the unlocked state without unlocking it.
//
// Preconditions: same as ForkableMutex.AbandonInChild.
func (rw *ForkableRWMutex) AbandonInChild() {
	rw.mu = sync.RWMutex{}
}
