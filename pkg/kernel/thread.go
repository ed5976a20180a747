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
	"fmt"
	"sync/atomic"
)

// ThreadID is a host thread or process identifier.
type ThreadID int32

// String returns a decimal representation of the ThreadID.
func (tid ThreadID) String() string {
	return fmt.Sprintf("%d", tid)
}

// Thread is a guest thread. Each Thread runs on its own host thread.
type Thread struct {
	h *Handler

	// State is the thread's register file. It is owned by the thread's
	// goroutine once the thread has started.
	State *CPUState

	tid atomic.Int32
	pid atomic.Int32

	// clearChildTID is the CLONE_CHILD_CLEARTID address, or 0.
	clearChildTID atomic.Uint64

	// stopRequested is set by ThreadManager.StopAll and RequestExit.
	stopRequested atomic.Bool

	// exitRequested is set with exitCode by RequestExit.
	exitRequested atomic.Bool
	exitCode      atomic.Int32

	// started is closed once the thread's goroutine has recorded its TID.
	started chan struct{}

	// resume is closed when the thread may run guest code.
	resume chan struct{}

	// exited is closed when the thread's guest code has returned.
	exited chan struct{}

	// status is the exit status. It is valid once exited is closed.
	status int
}

func newThread(h *Handler, state *CPUState) *Thread {
	return &Thread{
		h:       h,
		State:   state,
		started: make(chan struct{}),
		resume:  make(chan struct{}),
		exited:  make(chan struct{}),
	}
}

// Handler returns the syscall handler t belongs to.
func (t *Thread) Handler() *Handler {
	return t.h
}

// TID returns t's host thread ID.
func (t *Thread) TID() ThreadID {
	return ThreadID(t.tid.Load())
}

// PID returns the host PID of t's process.
func (t *Thread) PID() ThreadID {
	return ThreadID(t.pid.Load())
}

// refreshIDs reloads t's TID and PID from the host. It must be called on t's
// host thread.
func (t *Thread) refreshIDs() {
	t.tid.Store(t.h.os.Gettid())
	t.pid.Store(t.h.os.Getpid())
}

// ClearChildTID returns the address cleared when t exits.
func (t *Thread) ClearChildTID() uint64 {
	return t.clearChildTID.Load()
}

// SetClearChildTID sets the address cleared when t exits, as
// set_tid_address(2) does.
func (t *Thread) SetClearChildTID(addr uint64) {
	t.clearChildTID.Store(addr)
}

// StopRequested returns true once the thread has been asked to stop. The
// core polls it between blocks of guest code.
func (t *Thread) StopRequested() bool {
	return t.stopRequested.Load()
}

// RequestExit asks t to stop with the given status, as exit(2) does. The
// status overrides whatever the core returns for t.
func (t *Thread) RequestExit(status int) {
	t.exitCode.Store(int32(status))
	t.exitRequested.Store(true)
	t.stopRequested.Store(true)
}

// requestedExit returns the status passed to RequestExit, if any.
func (t *Thread) requestedExit() (int, bool) {
	if !t.exitRequested.Load() {
		return 0, false
	}
	return int(t.exitCode.Load()), true
}

// ExitStatus returns t's exit status and true if it has exited.
func (t *Thread) ExitStatus() (int, bool) {
	select {
	case <-t.exited:
		return t.status, true
	default:
		return 0, false
	}
}

// String implements fmt.Stringer.String.
func (t *Thread) String() string {
	return fmt.Sprintf("thread %d (pid %d)", t.TID(), t.PID())
}
