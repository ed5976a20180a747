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
	"gvisor.dev/xlate/pkg/kernel"
	"gvisor.dev/xlate/xlate/config"
)

// Uname implements subcommands.Command for the "uname" command.
type Uname struct{}

// Name implements subcommands.Command.Name.
func (*Uname) Name() string {
	return "uname"
}

// Synopsis implements subcommands.Command.Synopsis.
func (*Uname) Synopsis() string {
	return "Print the utsname reported to guests."
}

// Usage implements subcommands.Command.Usage.
func (*Uname) Usage() string {
	return `uname - Print the utsname and kernel versions reported to guests in the configured --mode.
`
}

// SetFlags implements subcommands.Command.SetFlags.
func (*Uname) SetFlags(*flag.FlagSet) {}

// Execute implements subcommands.Command.Execute.
func (*Uname) Execute(_ context.Context, f *flag.FlagSet, args ...any) subcommands.ExitStatus {
	if f.NArg() != 0 {
		f.Usage()
		return subcommands.ExitUsageError
	}
	conf := args[0].(*config.Config)
	h, err := newHandler(conf)
	if err != nil {
		Fatalf("creating syscall handler: %v", err)
	}
	if err := writeUname(os.Stdout, h); err != nil {
		Fatalf("Error writing output: %v", err)
	}
	return subcommands.ExitSuccess
}

func writeUname(w io.Writer, h *kernel.Handler) error {
	u := h.Uname()
	_, err := fmt.Fprintf(w, "ABI: %v\nHost kernel: %v\nGuest kernel: %v\nRelease: %s\nMachine: %s\n",
		h.ABI(), h.HostKernelVersion(), h.GuestKernelVersion(), u.ReleaseString(), u.MachineString())
	return err
}
