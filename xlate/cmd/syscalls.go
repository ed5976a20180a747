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

package cmd

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"text/tabwriter"

	"github.com/google/subcommands"
	"gvisor.dev/xlate/pkg/kernel"
	"gvisor.dev/xlate/pkg/syscalls/linux"
)

// Syscalls implements subcommands.Command for the "syscalls" command.
type Syscalls struct {
	output string
	abi    string
	all    bool
}

// CompatibilityInfo maps an ABI name to its syscall table doc.
type CompatibilityInfo map[string]ABIInfo

// ABIInfo is compatibility doc for one guest ABI.
type ABIInfo struct {
	// Syscalls maps syscall number for the ABI to the doc.
	Syscalls map[int]SyscallDoc `json:"syscalls"`
}

// SyscallDoc represents a single item of syscall documentation.
type SyscallDoc struct {
	Name string `json:"name"`
	num  int

	Args        uint8  `json:"args"`
	Support     string `json:"support"`
	Flags       string `json:"flags,omitempty"`
	HostSyscall *int32 `json:"host_syscall,omitempty"`
}

// Support levels.
const (
	supportInline   = "inline"
	supportEmulated = "emulated"
	supportMissing  = "missing"
)

type outputFunc func(io.Writer, CompatibilityInfo) error

var (
	// The string name to use for printing compatibility for all ABIs.
	abiAll = "all"

	// A map of output type names to output functions.
	outputMap = map[string]outputFunc{
		"table": outputTable,
		"json":  outputJSON,
		"csv":   outputCSV,
	}
)

// Name implements subcommands.Command.Name.
func (*Syscalls) Name() string {
	return "syscalls"
}

// Synopsis implements subcommands.Command.Synopsis.
func (*Syscalls) Synopsis() string {
	return "Print compatibility information for syscalls."
}

// Usage implements subcommands.Command.Usage.
func (*Syscalls) Usage() string {
	return `syscalls [options] - Print compatibility information for syscalls.
`
}

// SetFlags implements subcommands.Command.SetFlags.
func (s *Syscalls) SetFlags(f *flag.FlagSet) {
	f.StringVar(&s.output, "o", "table", "Output format (table, csv, json).")
	f.StringVar(&s.abi, "abi", abiAll, "The guest ABI (x86_64, i386 or all).")
	f.BoolVar(&s.all, "missing", false, "Also list the syscalls that are not implemented.")
}

// Execute implements subcommands.Command.Execute.
func (s *Syscalls) Execute(_ context.Context, f *flag.FlagSet, args ...any) subcommands.ExitStatus {
	out, ok := outputMap[s.output]
	if !ok {
		Fatalf("Unsupported output format %q", s.output)
	}

	info, err := getCompatibilityInfo(s.abi, s.all)
	if err != nil {
		Fatalf("%v", err)
	}

	if err := out(os.Stdout, info); err != nil {
		Fatalf("Error writing output: %v", err)
	}

	return subcommands.ExitSuccess
}

// getCompatibilityInfo returns compatibility info for the given ABI name.
// Supports the special name 'all' that includes every guest ABI.
func getCompatibilityInfo(abiName string, withMissing bool) (CompatibilityInfo, error) {
	abis := []kernel.ABI{kernel.X86_64, kernel.I386}
	if abiName != abiAll {
		abi, err := kernel.ParseABI(abiName)
		if err != nil {
			return nil, err
		}
		abis = []kernel.ABI{abi}
	}

	info := make(CompatibilityInfo)
	for _, abi := range abis {
		info[abi.String()] = getABIInfo(linux.NewTable(abi, kernel.MissingENOSYS), withMissing)
	}
	return info, nil
}

// getABIInfo returns compatibility info for a single syscall table.
func getABIInfo(t *kernel.SyscallTable, withMissing bool) ABIInfo {
	info := ABIInfo{Syscalls: make(map[int]SyscallDoc)}
	for num := range t.Table {
		sc := &t.Table[num]
		doc := SyscallDoc{
			Name:    sc.Name,
			num:     num,
			Args:    sc.NumArgs,
			Support: supportEmulated,
			Flags:   sc.Flags.String(),
		}
		switch {
		case !sc.Implemented():
			if !withMissing {
				continue
			}
			doc.Args = 0
			doc.Support = supportMissing
		case sc.Flags&kernel.SyscallInlineHost != 0:
			doc.Support = supportInline
			nr := sc.HostSyscallNumber
			doc.HostSyscall = &nr
		}
		info.Syscalls[num] = doc
	}
	return info
}

// sortedABIs returns the ABI names of info in a stable order.
func sortedABIs(info CompatibilityInfo) []string {
	names := make([]string, 0, len(info))
	for name := range info {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// sortedCalls returns the syscalls of info ordered by number.
func sortedCalls(info ABIInfo) []SyscallDoc {
	calls := make([]SyscallDoc, 0, len(info.Syscalls))
	for _, sc := range info.Syscalls {
		calls = append(calls, sc)
	}
	sort.Slice(calls, func(i, j int) bool {
		return calls[i].num < calls[j].num
	})
	return calls
}

func hostSyscallString(nr *int32) string {
	if nr == nil {
		return ""
	}
	return strconv.FormatInt(int64(*nr), 10)
}

// outputTable outputs the syscall info in tabular format.
func outputTable(w io.Writer, info CompatibilityInfo) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)

	for _, abiName := range sortedABIs(info) {
		// Print the ABI.
		fmt.Fprintf(w, "%s:\n\n", abiName)

		// Write the header
		_, err := fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n",
			"NUM",
			"NAME",
			"ARGS",
			"SUPPORT",
			"FLAGS",
			"HOST",
		)
		if err != nil {
			return err
		}

		// Write each syscall entry
		for _, sc := range sortedCalls(info[abiName]) {
			_, err = fmt.Fprintf(tw, "%d\t%s\t%d\t%s\t%s\t%s\n",
				sc.num,
				sc.Name,
				sc.Args,
				sc.Support,
				sc.Flags,
				hostSyscallString(sc.HostSyscall),
			)
			if err != nil {
				return err
			}
		}

		if err := tw.Flush(); err != nil {
			return err
		}
	}

	return nil
}

// outputJSON outputs the syscall info in JSON format.
func outputJSON(w io.Writer, info CompatibilityInfo) error {
	e := json.NewEncoder(w)
	e.SetIndent("", "  ")
	return e.Encode(info)
}

// outputCSV outputs the syscall info in comma-separated format.
func outputCSV(w io.Writer, info CompatibilityInfo) error {
	csvWriter := csv.NewWriter(w)

	// Write the header
	err := csvWriter.Write([]string{
		"ABI",
		"Num",
		"Name",
		"Args",
		"Support",
		"Flags",
		"Host",
	})
	if err != nil {
		return err
	}

	for _, abiName := range sortedABIs(info) {
		// Write each syscall entry
		for _, sc := range sortedCalls(info[abiName]) {
			err = csvWriter.Write([]string{
				abiName,
				strconv.Itoa(sc.num),
				sc.Name,
				strconv.Itoa(int(sc.Args)),
				sc.Support,
				sc.Flags,
				hostSyscallString(sc.HostSyscall),
			})
			if err != nil {
				return err
			}
		}
	}

	csvWriter.Flush()
	return csvWriter.Error()
}
