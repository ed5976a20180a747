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

// Package cmd holds implementations of the xlate commands.
package cmd

import (
	"fmt"
	"io"
	"os"

	"gvisor.dev/xlate/pkg/host"
	"gvisor.dev/xlate/pkg/kernel"
	"gvisor.dev/xlate/pkg/log"
	"gvisor.dev/xlate/pkg/syscalls/linux"
	"gvisor.dev/xlate/xlate/config"
)

// ErrorLogger is where error messages should be written to. These messages
// are consumed by the caller of xlate, in addition to stderr.
var ErrorLogger io.Writer

// Fatalf logs to stderr and ErrorLogger, then exits the program.
func Fatalf(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	log.Warningf("FATAL ERROR: %s", msg)
	fmt.Fprintf(os.Stderr, "xlate: %s\n", msg)
	if ErrorLogger != nil {
		fmt.Fprintf(ErrorLogger, "%s\n", msg)
	}
	os.Exit(128)
}

// hostOS returns the host commands operate on. Tests replace it.
var hostOS = func() host.OS {
	return host.NewLinux()
}

// newHandler returns a syscall handler configured by conf, running on the
// host with a core that executes nothing.
func newHandler(conf *config.Config) (*kernel.Handler, error) {
	return kernel.New(hostOS(), kernel.NopCore{}, conf.HandlerOptions(linux.NewTable))
}
