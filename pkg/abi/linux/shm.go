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

package linux

// shmat(2) flags. Source: include/uapi/linux/shm.h
const (
	SHM_RDONLY = 010000 // Read-only access.
	SHM_RND    = 020000 // Round attach address to SHMLBA boundary.
	SHM_REMAP  = 040000 // Take-over region on attach.
	SHM_EXEC   = 0100000
)

// IPC commands. Source: include/uapi/linux/ipc.h
const (
	IPC_RMID = 0
	IPC_SET  = 1
	IPC_STAT = 2
	IPC_INFO = 3
)

// ipc(2) multiplexer calls used by i386. Source: include/uapi/linux/ipc.h
const (
	SHMAT  = 21
	SHMDT  = 22
	SHMGET = 23
	SHMCTL = 24
)
