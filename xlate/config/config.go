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

// Package config provides basic infrastructure to set configuration settings
// for xlate. Each setting is a command line flag, optionally read from a TOML
// file first.
package config

import (
	"fmt"
	"reflect"

	"gvisor.dev/xlate/pkg/kernel"
	"gvisor.dev/xlate/pkg/log"
	"gvisor.dev/xlate/pkg/mm/alloc"
	"gvisor.dev/xlate/pkg/mm/vma"
)

// Config holds configuration that is not part of the guest program itself.
//
// Follow these steps to add a new flag:
//  1. Create a new field in Config.
//  2. Add a field tag with the flag name.
//  3. Register a new flag in flags.go, with same name and add a description.
//  4. Add a key for it in File if it can be set from the config file.
type Config struct {
	// LogFilename is the filename to log to, if not empty.
	LogFilename string `flag:"log"`

	// LogFormat is the log format.
	LogFormat string `flag:"log-format"`

	// Debug indicates that debug logging should be enabled.
	Debug bool `flag:"debug"`

	// DebugLog is the path to log debug information to, if not empty. It
	// may contain the %TIMESTAMP%, %COMMAND% and %PID% variables.
	DebugLog string `flag:"debug-log"`

	// DebugLogFormat is the log format for debug.
	DebugLogFormat string `flag:"debug-log-format"`

	// AlsoLogToStderr allows to send log messages to stderr.
	AlsoLogToStderr bool `flag:"alsologtostderr"`

	// Mode is the guest's bitness.
	Mode GuestMode `flag:"mode"`

	// Force32BitAllocator selects the 32-bit allocator for 32-bit guests
	// even on hosts with MAP_FIXED_NOREPLACE.
	Force32BitAllocator bool `flag:"force-32bit-allocator"`

	// AllocSearch is the 32-bit allocator's scan direction.
	AllocSearch AllocSearch `flag:"alloc-search"`

	// SMCChecks selects how writes to translated code are detected.
	SMCChecks SMCChecks `flag:"smc-checks"`

	// UnimplementedSyscall is what the guest sees on syscalls that are not
	// implemented.
	UnimplementedSyscall UnimplementedSyscall `flag:"unimplemented-syscall"`

	// ConfigFile is the TOML file the other settings were read from, if any.
	ConfigFile string `flag:"config"`
}

func (c *Config) validate() error {
	for _, format := range []string{c.LogFormat, c.DebugLogFormat} {
		switch format {
		case "text", "json", "json-k8s":
		default:
			return fmt.Errorf("invalid log format %q, must be 'text', 'json', or 'json-k8s'", format)
		}
	}
	if c.Force32BitAllocator && c.Mode != Mode32 {
		return fmt.Errorf("--force-32bit-allocator requires --mode=32")
	}
	return nil
}

// Log logs important aspects of the configuration to the given log function.
func (c *Config) Log() {
	log.Infof("Config:")
	obj := reflect.ValueOf(c).Elem()
	st := obj.Type()
	for i := 0; i < st.NumField(); i++ {
		log.Infof("\t%s: %s", st.Field(i).Name, getVal(obj.Field(i)))
	}
}

// HandlerOptions returns the syscall handler options the configuration
// selects, with the syscall table built by newTable.
func (c *Config) HandlerOptions(newTable func(kernel.ABI, kernel.MissingSyscallPolicy) *kernel.SyscallTable) kernel.Options {
	return kernel.Options{
		Table:               newTable(c.Mode.ABI(), kernel.MissingSyscallPolicy(c.UnimplementedSyscall)),
		Force32BitAllocator: c.Force32BitAllocator,
		AllocSearch:         alloc.SearchDirection(c.AllocSearch),
		SMC:                 vma.SMCMode(c.SMCChecks),
	}
}

// GuestMode is the bitness of the guest.
type GuestMode int

const (
	// Mode64 runs x86-64 guests.
	Mode64 GuestMode = iota

	// Mode32 runs i386 guests.
	Mode32
)

func guestModePtr(v GuestMode) *GuestMode {
	return &v
}

// Set implements flag.Value. It is also used by the TOML decoder.
func (m *GuestMode) Set(v string) error {
	switch v {
	case "64":
		*m = Mode64
	case "32":
		*m = Mode32
	default:
		return fmt.Errorf("invalid guest mode %q, must be '32' or '64'", v)
	}
	return nil
}

// Get implements flag.Getter.
func (m *GuestMode) Get() any {
	return *m
}

// String implements flag.Value.
func (m GuestMode) String() string {
	if m == Mode32 {
		return "32"
	}
	return "64"
}

// ABI returns the syscall ABI of the guest.
func (m GuestMode) ABI() kernel.ABI {
	if m == Mode32 {
		return kernel.I386
	}
	return kernel.X86_64
}

// AllocSearch is the 32-bit allocator's scan direction.
type AllocSearch alloc.SearchDirection

func allocSearchPtr(v AllocSearch) *AllocSearch {
	return &v
}

// Set implements flag.Value.
func (a *AllocSearch) Set(v string) error {
	switch v {
	case "down":
		*a = AllocSearch(alloc.SearchDown)
	case "up":
		*a = AllocSearch(alloc.SearchUp)
	default:
		return fmt.Errorf("invalid allocator search direction %q, must be 'down' or 'up'", v)
	}
	return nil
}

// Get implements flag.Getter.
func (a *AllocSearch) Get() any {
	return *a
}

// String implements flag.Value.
func (a AllocSearch) String() string {
	return alloc.SearchDirection(a).String()
}

// SMCChecks selects self-modifying code detection.
type SMCChecks vma.SMCMode

func smcChecksPtr(v SMCChecks) *SMCChecks {
	return &v
}

// Set implements flag.Value.
func (s *SMCChecks) Set(v string) error {
	m, err := vma.ParseSMCMode(v)
	if err != nil {
		return err
	}
	*s = SMCChecks(m)
	return nil
}

// Get implements flag.Getter.
func (s *SMCChecks) Get() any {
	return *s
}

// String implements flag.Value.
func (s SMCChecks) String() string {
	return vma.SMCMode(s).String()
}

// UnimplementedSyscall is the behavior of syscalls without a handler.
type UnimplementedSyscall kernel.MissingSyscallPolicy

func unimplementedSyscallPtr(v UnimplementedSyscall) *UnimplementedSyscall {
	return &v
}

// Set implements flag.Value.
func (u *UnimplementedSyscall) Set(v string) error {
	p, err := kernel.ParseMissingSyscallPolicy(v)
	if err != nil {
		return err
	}
	*u = UnimplementedSyscall(p)
	return nil
}

// Get implements flag.Getter.
func (u *UnimplementedSyscall) Get() any {
	return *u
}

// String implements flag.Value.
func (u UnimplementedSyscall) String() string {
	return kernel.MissingSyscallPolicy(u).String()
}
