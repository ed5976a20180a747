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
	"gvisor.dev/xlate/pkg/hostarch"
	"gvisor.dev/xlate/pkg/kernel"
	"gvisor.dev/xlate/xlate/config"
)

// VMA implements subcommands.Command for the "vma" command. It maps regions
// through the syscall handler and prints the tracked VMAs.
type VMA struct {
	count int
	pages uint64
}

// Name implements subcommands.Command.Name.
func (*VMA) Name() string {
	return "vma"
}

// Synopsis implements subcommands.Command.Synopsis.
func (*VMA) Synopsis() string {
	return "Map regions through the syscall handler and print the tracked VMAs."
}

// Usage implements subcommands.Command.Usage.
func (*VMA) Usage() string {
	return `vma [options] - Map anonymous regions as a guest would, write-protect the
second page of each and print the tracked VMAs in /proc/self/maps format.
`
}

// SetFlags implements subcommands.Command.SetFlags.
func (v *VMA) SetFlags(f *flag.FlagSet) {
	f.IntVar(&v.count, "n", 2, "Number of regions to map.")
	f.Uint64Var(&v.pages, "pages", 4, "Size of each region in pages.")
}

// Execute implements subcommands.Command.Execute.
func (v *VMA) Execute(_ context.Context, f *flag.FlagSet, args ...any) subcommands.ExitStatus {
	if f.NArg() != 0 || v.count <= 0 || v.pages < 2 {
		f.Usage()
		return subcommands.ExitUsageError
	}
	conf := args[0].(*config.Config)
	h, err := newHandler(conf)
	if err != nil {
		Fatalf("creating syscall handler: %v", err)
	}
	if err := runVMA(os.Stdout, h, v.count, v.pages); err != nil {
		Fatalf("%v", err)
	}
	return subcommands.ExitSuccess
}

// runVMA maps count regions of pages pages through h, splits each with a
// read-only page, writes the resulting maps to w and unmaps everything.
func runVMA(w io.Writer, h *kernel.Handler, count int, pages uint64) error {
	size := pages * hostarch.PageSize
	var addrs []uint64
	defer func() {
		for _, addr := range addrs {
			_ = h.GuestMunmap(addr, size)
		}
	}()
	for i := 0; i < count; i++ {
		addr, err := h.GuestMmap(0, size, linux.PROT_READ|linux.PROT_WRITE, linux.MAP_PRIVATE|linux.MAP_ANONYMOUS, -1, 0)
		if err != nil {
			return fmt.Errorf("mapping region %d: %w", i, err)
		}
		addrs = append(addrs, addr)
		if err := h.GuestMprotect(addr+hostarch.PageSize, hostarch.PageSize, linux.PROT_READ); err != nil {
			return fmt.Errorf("protecting region %d: %w", i, err)
		}
	}
	_, err := io.WriteString(w, h.VMAs().Maps())
	return err
}
