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
	"context"
	"runtime"
	"sort"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sys/unix"
	"gvisor.dev/xlate/pkg/abi/linux"
	"gvisor.dev/xlate/pkg/log"
	"gvisor.dev/xlate/pkg/sync"
)

// ThreadManager tracks the guest threads of one process. Each thread is run
// by a goroutine locked to its own host thread.
type ThreadManager struct {
	h *Handler

	// mu protects threads. It is taken first by Handler.LockBeforeFork.
	mu sync.ForkableMutex

	// threads is the set of tracked threads.
	threads map[*Thread]struct{}

	// liveGoroutines is the number of thread goroutines started by Start
	// that have not returned.
	liveGoroutines sync.WaitGroup
}

func newThreadManager(h *Handler) *ThreadManager {
	return &ThreadManager{
		h:       h,
		threads: make(map[*Thread]struct{}),
	}
}

// CreateThread returns a new paused thread that will run from state. The
// thread is neither started nor tracked.
func (m *ThreadManager) CreateThread(state *CPUState) *Thread {
	return newThread(m.h, state)
}

// Start runs t on a new host thread. Start must be called at most once for
// each thread, and never for a thread run with Execute.
func (m *ThreadManager) Start(t *Thread) {
	m.liveGoroutines.Add(1)
	go m.run(t)
}

func (m *ThreadManager) run(t *Thread) {
	defer m.liveGoroutines.Done()

	// The host thread is never unlocked, so it exits with the goroutine
	// instead of being reused by the runtime with guest state in it.
	runtime.LockOSThread()
	m.Execute(t)
}

// Execute runs t on the calling goroutine's host thread until it exits and
// returns its exit status.
func (m *ThreadManager) Execute(t *Thread) int {
	t.refreshIDs()
	close(t.started)
	<-t.resume
	status := m.h.core.Run(t)
	if code, ok := t.requestedExit(); ok {
		status = code
	}
	m.exit(t, status)
	return status
}

// WaitStarted blocks until t has recorded its host TID.
func (m *ThreadManager) WaitStarted(t *Thread) {
	<-t.started
}

// Resume lets t run guest code. It must be called exactly once per thread.
func (m *ThreadManager) Resume(t *Thread) {
	close(t.resume)
}

// exit releases CLONE_CHILD_CLEARTID waiters and untracks t.
func (m *ThreadManager) exit(t *Thread, status int) {
	if addr := t.ClearChildTID(); addr != 0 {
		if err := m.h.os.WriteUint32(addr, 0); err != nil {
			log.Debugf("%v: clearing child TID at %#x: %v", t, addr, err)
		} else if _, err := m.h.os.Syscall6(unix.SYS_FUTEX, addr, linux.FUTEX_WAKE, 1, 0, 0, 0); err != nil {
			log.Debugf("%v: waking child TID waiters at %#x: %v", t, addr, err)
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	t.status = status
	close(t.exited)
	delete(m.threads, t)
}

// Track adds t to the set of threads. Threads that have already exited are
// not tracked.
func (m *ThreadManager) Track(t *Thread) {
	m.mu.Lock()
	defer m.mu.Unlock()
	select {
	case <-t.exited:
		return
	default:
	}
	m.threads[t] = struct{}{}
}

// Join blocks until t exits and returns its exit status.
func (m *ThreadManager) Join(t *Thread) int {
	<-t.exited
	return t.status
}

// Destroy untracks t.
func (m *ThreadManager) Destroy(t *Thread) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.threads, t)
}

// Threads returns the tracked threads ordered by TID.
func (m *ThreadManager) Threads() []*Thread {
	m.mu.Lock()
	defer m.mu.Unlock()
	ts := make([]*Thread, 0, len(m.threads))
	for t := range m.threads {
		ts = append(ts, t)
	}
	sort.Slice(ts, func(i, j int) bool { return ts[i].TID() < ts[j].TID() })
	return ts
}

// LockBeforeFork locks m ahead of a fork.
func (m *ThreadManager) LockBeforeFork() {
	m.mu.Lock()
}

// UnlockAfterFork undoes LockBeforeFork. In the child, where only the
// forking thread live survives, every other thread is dropped.
func (m *ThreadManager) UnlockAfterFork(live *Thread, child bool) {
	if !child {
		m.mu.Unlock()
		return
	}
	m.mu.AbandonInChild()
	for t := range m.threads {
		if t != live {
			delete(m.threads, t)
		}
	}
}

// StopAll asks every tracked thread to stop and waits until they have all
// exited or ctx is done.
func (m *ThreadManager) StopAll(ctx context.Context) error {
	ts := m.Threads()
	for _, t := range ts {
		t.stopRequested.Store(true)
	}
	g, ctx := errgroup.WithContext(ctx)
	for _, t := range ts {
		t := t
		g.Go(func() error {
			select {
			case <-t.exited:
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		})
	}
	return g.Wait()
}

// Wait blocks until every goroutine started by Start has returned.
func (m *ThreadManager) Wait() {
	m.liveGoroutines.Wait()
}
