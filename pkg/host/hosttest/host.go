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

// Package hosttest provides an in-memory host.OS for tests.
//
// The fake keeps a page table of mappings and a word-granular memory, and
// counts every operation so that tests can assert which host calls were
// made. It never touches real memory.
package hosttest

import (
	"encoding/binary"
	"fmt"
	"runtime"
	"sort"

	"gvisor.dev/xlate/pkg/abi/linux"
	"gvisor.dev/xlate/pkg/errors/linuxerr"
	"gvisor.dev/xlate/pkg/host"
	"gvisor.dev/xlate/pkg/hostarch"
	"gvisor.dev/xlate/pkg/sync"
)

// Operation names accepted by Calls and FailNext.
const (
	OpMmap          = "mmap"
	OpMunmap        = "munmap"
	OpMprotect      = "mprotect"
	OpMremap        = "mremap"
	OpShmat         = "shmat"
	OpShmdt         = "shmdt"
	OpShmctl        = "shmctl"
	OpFork          = "fork"
	OpWaitVfork     = "wait_vfork"
	OpRawClone      = "clone3"
	OpPidfdOpen     = "pidfd_open"
	OpAllocateStack = "allocate_stack"
	OpFreeStack     = "free_stack"
	OpSyscall       = "syscall"
)

// DefaultMmapTop is where unhinted mappings are placed below, mimicking a
// 64-bit host's mmap base.
const DefaultMmapTop = 0x7f00_0000_0000

type page struct {
	prot  int
	shmid int
}

// Host is a fake host.OS.
type Host struct {
	mu sync.Mutex

	// NoReplaceUnsupported makes MAP_FIXED_NOREPLACE behave like a plain
	// hint, as on kernels older than 4.17.
	NoReplaceUnsupported bool

	// PrivateClones makes RawCloneFlags serve requests the way host.Linux
	// does: CLONE_VM|CLONE_VFORK loses CLONE_VM and CLONE_SIGHAND, and any
	// other CLONE_VM or CLONE_THREAD request fails with EINVAL.
	PrivateClones bool

	release  string
	machine  string
	mmapTop  uint64
	pages    map[uint64]page
	mem      map[uint64]byte
	calls    map[string]int
	fail     map[string]error
	segments map[int]uint64
	attached map[uint64]int
	files    map[int]host.FileID
	tid      int32
	pid      int32
	nextPID  int32
	mask     uint64
	asChild  bool
	clones   []linux.CloneArgs
	exits    []int
	vforks   []int32
	tids     []int32
	pending  []func()
	syscalls []SyscallRecord
	sysRet   map[uintptr]uint64
}

// SyscallRecord is a call made through Syscall6.
type SyscallRecord struct {
	NR   uintptr
	Args [6]uint64
}

var _ host.OS = (*Host)(nil)

// New returns an empty fake host reporting the given kernel release.
func New(release string) *Host {
	return &Host{
		release:  release,
		machine:  "aarch64",
		mmapTop:  DefaultMmapTop,
		pages:    make(map[uint64]page),
		mem:      make(map[uint64]byte),
		calls:    make(map[string]int),
		fail:     make(map[string]error),
		segments: make(map[int]uint64),
		attached: make(map[uint64]int),
		files:    make(map[int]host.FileID),
		sysRet:   make(map[uintptr]uint64),
		tid:      100,
		pid:      100,
		nextPID:  200,
	}
}

// Calls returns how many times op was invoked.
func (h *Host) Calls(op string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.calls[op]
}

// ResetCalls zeroes all call counters.
func (h *Host) ResetCalls() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.calls = make(map[string]int)
}

// FailNext makes the next invocation of op fail with err.
func (h *Host) FailNext(op string, err error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.fail[op] = err
}

// AddSegment creates a SysV shared memory segment.
func (h *Host) AddSegment(shmid int, size uint64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.segments[shmid] = size
}

// SetFile registers the identity of fd.
func (h *Host) SetFile(fd int, id host.FileID) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.files[fd] = id
}

// ForkAsChild makes subsequent forks return on the child side.
func (h *Host) ForkAsChild(child bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.asChild = child
}

// SetMmapTop moves the placement cursor for unhinted mappings.
func (h *Host) SetMmapTop(top uint64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.mmapTop = top
}

// Prot returns the protection of the page containing addr.
func (h *Host) Prot(addr uint64) (int, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	p, ok := h.pages[addr>>hostarch.PageShift]
	return p.prot, ok
}

// IsMapped returns true if every page of [addr, addr+length) is mapped.
func (h *Host) IsMapped(addr, length uint64) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.allMappedLocked(addr>>hostarch.PageShift, hostarch.PagesFor(length))
}

// MappedPages returns the sorted page numbers of every mapping.
func (h *Host) MappedPages() []uint64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	ps := make([]uint64, 0, len(h.pages))
	for p := range h.pages {
		ps = append(ps, p)
	}
	sort.Slice(ps, func(i, j int) bool { return ps[i] < ps[j] })
	return ps
}

// Clones returns the arguments of every RawClone call.
func (h *Host) Clones() []linux.CloneArgs {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]linux.CloneArgs(nil), h.clones...)
}

// Exits returns the status of every Exit call.
func (h *Host) Exits() []int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]int(nil), h.exits...)
}

// VforkWaits returns the children waited on by WaitVforkChild.
func (h *Host) VforkWaits() []int32 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]int32(nil), h.vforks...)
}

// enterLocked counts op and returns its injected failure, if any.
func (h *Host) enterLocked(op string) error {
	h.calls[op]++
	if err, ok := h.fail[op]; ok {
		delete(h.fail, op)
		return err
	}
	return nil
}

func (h *Host) allMappedLocked(first, n uint64) bool {
	for p := first; p < first+n; p++ {
		if _, ok := h.pages[p]; !ok {
			return false
		}
	}
	return true
}

func (h *Host) anyMappedLocked(first, n uint64) bool {
	for p := first; p < first+n; p++ {
		if _, ok := h.pages[p]; ok {
			return true
		}
	}
	return false
}

func (h *Host) mapLocked(first, n uint64, prot, shmid int) {
	for p := first; p < first+n; p++ {
		h.pages[p] = page{prot: prot, shmid: shmid}
	}
}

func (h *Host) unmapLocked(first, n uint64) {
	for p := first; p < first+n; p++ {
		delete(h.pages, p)
	}
}

// placeLocked picks the highest free window of n pages below mmapTop.
func (h *Host) placeLocked(n uint64) (uint64, bool) {
	top := h.mmapTop >> hostarch.PageShift
	for first := top - n; first > 0; first-- {
		if !h.anyMappedLocked(first, n) {
			return first, true
		}
	}
	return 0, false
}

// Mmap implements host.OS.Mmap.
func (h *Host) Mmap(addr, length uint64, prot, flags int, fd int, offset int64) (uint64, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if err := h.enterLocked(OpMmap); err != nil {
		return 0, err
	}
	if length == 0 || addr&(hostarch.PageSize-1) != 0 {
		return 0, linuxerr.EINVAL
	}
	n := hostarch.PagesFor(length)
	first := addr >> hostarch.PageShift
	switch {
	case flags&linux.MAP_FIXED != 0:
		h.mapLocked(first, n, prot, -1)
		return addr, nil
	case flags&linux.MAP_FIXED_NOREPLACE != 0 && !h.NoReplaceUnsupported:
		if h.anyMappedLocked(first, n) {
			return 0, linuxerr.EEXIST
		}
		h.mapLocked(first, n, prot, -1)
		return addr, nil
	case addr != 0 && !h.anyMappedLocked(first, n):
		h.mapLocked(first, n, prot, -1)
		return addr, nil
	}
	first, ok := h.placeLocked(n)
	if !ok {
		return 0, linuxerr.ENOMEM
	}
	h.mapLocked(first, n, prot, -1)
	return first << hostarch.PageShift, nil
}

// Munmap implements host.OS.Munmap.
func (h *Host) Munmap(addr, length uint64) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if err := h.enterLocked(OpMunmap); err != nil {
		return err
	}
	if length == 0 || addr&(hostarch.PageSize-1) != 0 {
		return linuxerr.EINVAL
	}
	h.unmapLocked(addr>>hostarch.PageShift, hostarch.PagesFor(length))
	return nil
}

// Mprotect implements host.OS.Mprotect.
func (h *Host) Mprotect(addr, length uint64, prot int) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if err := h.enterLocked(OpMprotect); err != nil {
		return err
	}
	if addr&(hostarch.PageSize-1) != 0 {
		return linuxerr.EINVAL
	}
	first, n := addr>>hostarch.PageShift, hostarch.PagesFor(length)
	if !h.allMappedLocked(first, n) {
		return linuxerr.ENOMEM
	}
	for p := first; p < first+n; p++ {
		pg := h.pages[p]
		pg.prot = prot
		h.pages[p] = pg
	}
	return nil
}

// Mremap implements host.OS.Mremap.
func (h *Host) Mremap(oldAddr, oldSize, newSize uint64, flags int, newAddr uint64) (uint64, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if err := h.enterLocked(OpMremap); err != nil {
		return 0, err
	}
	if oldAddr&(hostarch.PageSize-1) != 0 || newSize == 0 {
		return 0, linuxerr.EINVAL
	}
	oldFirst, oldN := oldAddr>>hostarch.PageShift, hostarch.PagesFor(oldSize)
	newN := hostarch.PagesFor(newSize)
	if oldN == 0 {
		// Mirror of a shared mapping.
		if flags&linux.MREMAP_MAYMOVE == 0 {
			return 0, linuxerr.EINVAL
		}
		src, ok := h.pages[oldFirst]
		if !ok {
			return 0, linuxerr.EFAULT
		}
		dst, ok := h.placeLocked(newN)
		if flags&linux.MREMAP_FIXED != 0 {
			dst, ok = newAddr>>hostarch.PageShift, true
		}
		if !ok {
			return 0, linuxerr.ENOMEM
		}
		h.mapLocked(dst, newN, src.prot, src.shmid)
		return dst << hostarch.PageShift, nil
	}
	if !h.allMappedLocked(oldFirst, oldN) {
		return 0, linuxerr.EFAULT
	}
	prot := h.pages[oldFirst].prot
	move := func(dst uint64) uint64 {
		if flags&linux.MREMAP_DONTUNMAP == 0 {
			h.unmapLocked(oldFirst, oldN)
		}
		h.unmapLocked(dst, newN)
		h.mapLocked(dst, newN, prot, -1)
		return dst << hostarch.PageShift
	}
	if flags&linux.MREMAP_FIXED != 0 {
		if flags&linux.MREMAP_MAYMOVE == 0 || newAddr&(hostarch.PageSize-1) != 0 {
			return 0, linuxerr.EINVAL
		}
		return move(newAddr >> hostarch.PageShift), nil
	}
	if newN <= oldN {
		h.unmapLocked(oldFirst+newN, oldN-newN)
		return oldAddr, nil
	}
	if !h.anyMappedLocked(oldFirst+oldN, newN-oldN) {
		h.mapLocked(oldFirst+oldN, newN-oldN, prot, -1)
		return oldAddr, nil
	}
	if flags&linux.MREMAP_MAYMOVE == 0 {
		return 0, linuxerr.ENOMEM
	}
	dst, ok := h.placeLocked(newN)
	if !ok {
		return 0, linuxerr.ENOMEM
	}
	return move(dst), nil
}

// Shmat implements host.OS.Shmat.
func (h *Host) Shmat(shmid int, addr uint64, shmflg int) (uint64, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if err := h.enterLocked(OpShmat); err != nil {
		return 0, err
	}
	size, ok := h.segments[shmid]
	if !ok {
		return 0, linuxerr.EINVAL
	}
	n := hostarch.PagesFor(size)
	prot := linux.PROT_READ | linux.PROT_WRITE
	if shmflg&linux.SHM_RDONLY != 0 {
		prot = linux.PROT_READ
	}
	var first uint64
	if addr == 0 {
		if first, ok = h.placeLocked(n); !ok {
			return 0, linuxerr.ENOMEM
		}
	} else {
		if addr&(hostarch.PageSize-1) != 0 {
			return 0, linuxerr.EINVAL
		}
		first = addr >> hostarch.PageShift
		if h.anyMappedLocked(first, n) && shmflg&linux.SHM_REMAP == 0 {
			return 0, linuxerr.EINVAL
		}
	}
	h.mapLocked(first, n, prot, shmid)
	h.attached[first<<hostarch.PageShift] = shmid
	return first << hostarch.PageShift, nil
}

// Shmdt implements host.OS.Shmdt.
func (h *Host) Shmdt(addr uint64) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if err := h.enterLocked(OpShmdt); err != nil {
		return err
	}
	shmid, ok := h.attached[addr]
	if !ok {
		return linuxerr.EINVAL
	}
	h.unmapLocked(addr>>hostarch.PageShift, hostarch.PagesFor(h.segments[shmid]))
	delete(h.attached, addr)
	return nil
}

// ShmSegmentSize implements host.OS.ShmSegmentSize.
func (h *Host) ShmSegmentSize(shmid int) (uint64, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if err := h.enterLocked(OpShmctl); err != nil {
		return 0, err
	}
	size, ok := h.segments[shmid]
	if !ok {
		return 0, linuxerr.EINVAL
	}
	return size, nil
}

// Uname implements host.OS.Uname.
func (h *Host) Uname() (linux.UtsName, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	var u linux.UtsName
	linux.SetField(&u.Sysname, "Linux")
	linux.SetField(&u.Nodename, "hosttest")
	linux.SetField(&u.Release, h.release)
	linux.SetField(&u.Version, "#1 SMP")
	linux.SetField(&u.Machine, h.machine)
	return u, nil
}

// FileID implements host.OS.FileID.
func (h *Host) FileID(fd int) (host.FileID, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	id, ok := h.files[fd]
	if !ok {
		return host.FileID{}, linuxerr.EBADF
	}
	return id, nil
}

// QueueTIDs queues TIDs for threads started later. Each Gettid call consumes
// one queued TID; with the queue empty, Gettid returns the process's main
// TID.
func (h *Host) QueueTIDs(tids ...int32) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.tids = append(h.tids, tids...)
}

// Gettid implements host.OS.Gettid.
func (h *Host) Gettid() int32 {
	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.tids) > 0 {
		tid := h.tids[0]
		h.tids = h.tids[1:]
		return tid
	}
	return h.tid
}

// Getpid implements host.OS.Getpid.
func (h *Host) Getpid() int32 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.pid
}

// SetSignalMask implements host.OS.SetSignalMask.
func (h *Host) SetSignalMask(mask uint64) uint64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	old := h.mask
	h.mask = mask
	return old
}

// SignalMask returns the current signal mask.
func (h *Host) SignalMask() uint64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.mask
}

// AllocateStack implements host.OS.AllocateStack. Stacks are not part of the
// page table.
func (h *Host) AllocateStack(size uint64) (host.Stack, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if err := h.enterLocked(OpAllocateStack); err != nil {
		return host.Stack{}, err
	}
	base := uint64(0x7e00_0000_0000) + uint64(h.calls[OpAllocateStack])*size
	return host.Stack{Base: base, Size: size}, nil
}

// FreeStack implements host.OS.FreeStack.
func (h *Host) FreeStack(s host.Stack) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.enterLocked(OpFreeStack)
}

// Fork implements host.OS.Fork. The side returned is chosen by ForkAsChild;
// on the child side the fake's PID and TID become the child's.
func (h *Host) Fork(vfork bool) (host.ForkResult, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if err := h.enterLocked(OpFork); err != nil {
		return host.ForkResult{}, err
	}
	pid := h.nextPID
	h.nextPID++
	if h.asChild {
		h.pid, h.tid = pid, pid
		return host.ForkResult{Child: true, VforkFD: -1}, nil
	}
	r := host.ForkResult{PID: pid, VforkFD: -1}
	if vfork {
		r.VforkFD = int(pid)
	}
	return r, nil
}

// WaitVforkChild implements host.OS.WaitVforkChild.
func (h *Host) WaitVforkChild(r host.ForkResult) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if r.Child || r.VforkFD < 0 {
		return nil
	}
	if err := h.enterLocked(OpWaitVfork); err != nil {
		return err
	}
	h.vforks = append(h.vforks, r.PID)
	return nil
}

// RawCloneFlags implements host.OS.RawCloneFlags. Unless PrivateClones is
// set, every request is served as is.
func (h *Host) RawCloneFlags(flags uint64) (uint64, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.rawCloneFlagsLocked(flags)
}

func (h *Host) rawCloneFlagsLocked(flags uint64) (uint64, error) {
	if !h.PrivateClones {
		return flags, nil
	}
	if flags&(linux.CLONE_VM|linux.CLONE_VFORK|linux.CLONE_THREAD) == linux.CLONE_VM|linux.CLONE_VFORK {
		flags &^= linux.CLONE_VM | linux.CLONE_SIGHAND
	}
	if flags&(linux.CLONE_VM|linux.CLONE_THREAD) != 0 {
		return 0, linuxerr.EINVAL
	}
	return flags, nil
}

// RawClone implements host.OS.RawClone. The child's entry function is
// queued until RunClones.
func (h *Host) RawClone(args *linux.CloneArgs, entry func()) (int32, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if err := h.enterLocked(OpRawClone); err != nil {
		return 0, err
	}
	if flags, err := h.rawCloneFlagsLocked(args.Flags); err != nil {
		return 0, err
	} else if flags != args.Flags {
		return 0, fmt.Errorf("clone flags %#x were not prepared by RawCloneFlags", args.Flags)
	}
	h.clones = append(h.clones, *args)
	h.pending = append(h.pending, entry)
	tid := h.nextPID
	h.nextPID++
	return tid, nil
}

// RunClones runs the children queued by RawClone, one at a time, each on its
// own goroutine, and returns once they have all exited.
func (h *Host) RunClones() {
	h.mu.Lock()
	pending := h.pending
	h.pending = nil
	h.mu.Unlock()

	for _, entry := range pending {
		done := make(chan struct{})
		go func() {
			defer close(done)
			entry()
		}()
		<-done
	}
}

// PidfdOpen implements host.OS.PidfdOpen.
func (h *Host) PidfdOpen(pid int32) (int, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if err := h.enterLocked(OpPidfdOpen); err != nil {
		return -1, err
	}
	return 1000 + int(pid), nil
}

// WriteUint32 implements host.OS.WriteUint32.
func (h *Host) WriteUint32(addr uint64, v uint32) error {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], v)
	return h.CopyOut(addr, b[:])
}

// ReadUint32 implements host.OS.ReadUint32.
func (h *Host) ReadUint32(addr uint64) (uint32, error) {
	var b [4]byte
	if err := h.CopyIn(addr, b[:]); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(b[:]), nil
}

// CopyIn implements host.OS.CopyIn. Memory that was never written reads as
// zero.
func (h *Host) CopyIn(addr uint64, dst []byte) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.allMappedLocked(addr>>hostarch.PageShift, pagesSpanned(addr, uint64(len(dst)))) {
		return linuxerr.EFAULT
	}
	for i := range dst {
		dst[i] = h.mem[addr+uint64(i)]
	}
	return nil
}

// CopyOut implements host.OS.CopyOut.
func (h *Host) CopyOut(addr uint64, src []byte) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.allMappedLocked(addr>>hostarch.PageShift, pagesSpanned(addr, uint64(len(src)))) {
		return linuxerr.EFAULT
	}
	for i, b := range src {
		h.mem[addr+uint64(i)] = b
	}
	return nil
}

// pagesSpanned returns the number of pages touched by [addr, addr+length).
func pagesSpanned(addr, length uint64) uint64 {
	if length == 0 {
		return 0
	}
	return (addr+length-1)>>hostarch.PageShift - addr>>hostarch.PageShift + 1
}

// SetSyscallResult sets what Syscall6 returns for nr. Unset syscalls return 0.
func (h *Host) SetSyscallResult(nr uintptr, ret uint64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.sysRet[nr] = ret
}

// Syscalls returns the calls made through Syscall6.
func (h *Host) Syscalls() []SyscallRecord {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]SyscallRecord(nil), h.syscalls...)
}

// Syscall6 implements host.OS.Syscall6.
func (h *Host) Syscall6(nr uintptr, a1, a2, a3, a4, a5, a6 uint64) (uint64, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if err := h.enterLocked(OpSyscall); err != nil {
		return 0, err
	}
	h.syscalls = append(h.syscalls, SyscallRecord{NR: nr, Args: [6]uint64{a1, a2, a3, a4, a5, a6}})
	return h.sysRet[nr], nil
}

// Exit implements host.OS.Exit. It ends the calling goroutine.
func (h *Host) Exit(code int) {
	h.mu.Lock()
	h.exits = append(h.exits, code)
	h.mu.Unlock()
	runtime.Goexit()
}
