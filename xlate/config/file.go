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

package config

import (
	"fmt"
	"sort"
	"strings"

	"github.com/BurntSushi/toml"
)

// fileKeys maps "table.key" names of the config file to flag names.
var fileKeys = map[string]string{
	"log.file":             "log",
	"log.format":           "log-format",
	"log.debug":            "debug",
	"log.debug_log":        "debug-log",
	"log.debug_log_format": "debug-log-format",
	"log.alsologtostderr":  "alsologtostderr",

	"syscalls.mode":                  "mode",
	"syscalls.force_32bit_allocator": "force-32bit-allocator",
	"syscalls.alloc_search":          "alloc-search",
	"syscalls.smc_checks":            "smc-checks",
	"syscalls.unimplemented_syscall": "unimplemented-syscall",
}

// LoadFile reads a TOML config file and returns its settings as flag values,
// keyed by flag name. For example:
//
//	[syscalls]
//	mode = 32
//	force_32bit_allocator = true
func LoadFile(path string) (map[string]string, error) {
	var tables map[string]map[string]any
	if _, err := toml.DecodeFile(path, &tables); err != nil {
		return nil, fmt.Errorf("reading config file %q: %w", path, err)
	}

	values := make(map[string]string)
	var unknown []string
	for table, keys := range tables {
		for key, v := range keys {
			name, ok := fileKeys[table+"."+key]
			if !ok {
				unknown = append(unknown, table+"."+key)
				continue
			}
			switch v := v.(type) {
			case string, bool, int64:
				values[name] = fmt.Sprint(v)
			default:
				return nil, fmt.Errorf("config file %q: %s.%s has unsupported type %T", path, table, key, v)
			}
		}
	}
	if len(unknown) > 0 {
		sort.Strings(unknown)
		return nil, fmt.Errorf("config file %q: unknown keys: %s", path, strings.Join(unknown, ", "))
	}
	return values, nil
}
