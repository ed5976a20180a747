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

package cmd

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/google/subcommands"
	"gvisor.dev/xlate/pkg/abi/linux"
	"gvisor.dev/xlate/pkg/mm/alloc"
	"gvisor.dev/xlate/xlate/config"
)

// Alloc implements subcommands.Command for the "alloc" command. It exercises
// the 32-bit allocator against the host.
type Alloc struct {
	count     int
	size      uint64
	direction config.AllocSearch
}

// Name implements subcommands.Command.Name.
func (*Alloc) Name() string {
	return "alloc"
}

// Synopsis implements subcommands.Command.Synopsis.
func (*Alloc) Synopsis() string {
	return "Map anonymous regions with the 32-bit allocator and print where they land."
}

// Usage implements subcommands.Command.Usage.
func (*Alloc) Usage() string {
	return `alloc [options] - Map anonymous regions below 4GiB with the 32-bit allocator,
print their addresses and the allocator's state, then unmap them.
`
}

// SetFlags implements subcommands.Command.SetFlags.
func (a *Alloc) SetFlags(f *flag.FlagSet) {
	f.IntVar(&a.count, "n", 4, "Number of regions to map.")
	f.Uint64Var(&a.size, "size", 1<<20, "Size of each region in bytes.")
	f.Var(&a.direction, "direction", "Search direction: down or up. Defaults to --alloc-search.")
}

// Execute implements subcommands.Command.Execute.
func (a *Alloc) Execute(_ context.Context, f *flag.FlagSet, args ...any) subcommands.ExitStatus {
	if f.NArg() != 0 || a.count <= 0 || a.size == 0 {
		f.Usage()
		return subcommands.ExitUsageError
	}
	conf := args[0].(*config.Config)
	dir := conf.AllocSearch
	f.Visit(func(fl *flag.Flag) {
		if fl.Name == "direction" {
			dir = a.direction
		}
	})

	a32 := alloc.NewAllocator32(hostOS(), alloc.SearchDirection(dir))
	if err := runAlloc(os.Stdout, a32, a.count, a.size); err != nil {
		Fatalf("%v", err)
	}
	return subcommands.ExitSuccess
}

// runAlloc maps count regions of size bytes with a, reports them to w and
// unmaps them again.
func runAlloc(w io.Writer, a *alloc.Allocator32, count int, size uint64) error {
	var addrs []uint64
	defer func() {
		for _, addr := range addrs {
			_ = a.Munmap(addr, size)
		}
	}()
	for i := 0; i < count; i++ {
		addr, err := a.Mmap(0, size, linux.PROT_READ|linux.PROT_WRITE, linux.MAP_PRIVATE|linux.MAP_ANONYMOUS, -1, 0)
		if err != nil {
			return fmt.Errorf("mapping region %d: %w", i, err)
		}
		addrs = append(addrs, addr)
		if _, err := fmt.Fprintf(w, "%08x-%08x\n", addr, addr+size); err != nil {
			return err
		}
	}
	s := a.Stats()
	_, err := fmt.Fprintf(w, "used pages: %d\ncursor: %#x\nshm segments: %d\n", s.UsedPages, s.Cursor, s.ShmSegments)
	return err
}
