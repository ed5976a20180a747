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

package linux

import (
	"gvisor.dev/xlate/pkg/hostarch"
)

// SizeBytes returns the size of struct clone_args.
func (c *CloneArgs) SizeBytes() int {
	return CloneArgsSize
}

// MarshalBytes serializes c into dst.
func (c *CloneArgs) MarshalBytes(dst []byte) {
	for i, v := range c.fields() {
		hostarch.ByteOrder.PutUint64(dst[i*8:], *v)
	}
}

// UnmarshalBytes deserializes c from src. Fields past the end of src, as
// sent by callers built against an older struct clone_args, are zeroed.
func (c *CloneArgs) UnmarshalBytes(src []byte) {
	for i, v := range c.fields() {
		if len(src) < (i+1)*8 {
			*v = 0
			continue
		}
		*v = hostarch.ByteOrder.Uint64(src[i*8:])
	}
}

func (c *CloneArgs) fields() []*uint64 {
	return []*uint64{
		&c.Flags, &c.Pidfd, &c.ChildTID, &c.ParentTID, &c.ExitSignal,
		&c.Stack, &c.StackSize, &c.TLS, &c.SetTID, &c.SetTIDSize, &c.Cgroup,
	}
}

// SizeBytes returns the size of struct utsname.
func (u *UtsName) SizeBytes() int {
	return 6 * (UTSLen + 1)
}

// MarshalBytes serializes u into dst.
func (u *UtsName) MarshalBytes(dst []byte) {
	for _, f := range []*[UTSLen + 1]byte{&u.Sysname, &u.Nodename, &u.Release, &u.Version, &u.Machine, &u.Domainname} {
		dst = dst[copy(dst, f[:]):]
	}
}

// SizeBytes returns the size of struct user_desc.
func (d *UserDesc) SizeBytes() int {
	return 16
}

// MarshalBytes serializes d into dst.
func (d *UserDesc) MarshalBytes(dst []byte) {
	hostarch.ByteOrder.PutUint32(dst[0:], d.EntryNumber)
	hostarch.ByteOrder.PutUint32(dst[4:], d.BaseAddr)
	hostarch.ByteOrder.PutUint32(dst[8:], d.Limit)
	hostarch.ByteOrder.PutUint32(dst[12:], d.Flags)
}

// UnmarshalBytes deserializes d from src.
func (d *UserDesc) UnmarshalBytes(src []byte) {
	d.EntryNumber = hostarch.ByteOrder.Uint32(src[0:])
	d.BaseAddr = hostarch.ByteOrder.Uint32(src[4:])
	d.Limit = hostarch.ByteOrder.Uint32(src[8:])
	d.Flags = hostarch.ByteOrder.Uint32(src[12:])
}

// MmapArgStruct is struct mmap_arg_struct, the argument block of the i386
// old_mmap(2).
type MmapArgStruct struct {
	Addr   uint32
	Len    uint32
	Prot   uint32
	Flags  uint32
	FD     uint32
	Offset uint32
}

// SizeBytes returns the size of struct mmap_arg_struct.
func (m *MmapArgStruct) SizeBytes() int {
	return 24
}

// UnmarshalBytes deserializes m from src.
func (m *MmapArgStruct) UnmarshalBytes(src []byte) {
	m.Addr = hostarch.ByteOrder.Uint32(src[0:])
	m.Len = hostarch.ByteOrder.Uint32(src[4:])
	m.Prot = hostarch.ByteOrder.Uint32(src[8:])
	m.Flags = hostarch.ByteOrder.Uint32(src[12:])
	m.FD = hostarch.ByteOrder.Uint32(src[16:])
	m.Offset = hostarch.ByteOrder.Uint32(src[20:])
}
