// This file is part of rbrhook project, available at https://github.com/rbnhelper/rbrhook
// Copyright (c) 2024 The rbrhook Authors. All rights reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at https://www.apache.org/licenses/LICENSE-2.0
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package rbrhook

import (
	"bufio"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

type loadedModules struct{}

// LoadedModules looks modules up in /proc/self/maps. The base of a module is
// the start of its lowest mapping.
func LoadedModules() ModuleLookup {
	return loadedModules{}
}

func (loadedModules) ModuleBase(name string) (Addr, bool) {
	if name == "" {
		exe, err := os.Executable()
		if err != nil {
			return 0, false
		}
		name = filepath.Base(exe)
	}
	f, err := os.Open("/proc/self/maps")
	if err != nil {
		return 0, false
	}
	defer f.Close()
	return findMapping(f, name)
}

// findMapping scans maps-formatted lines like
// "55d0c8a00000-55d0c8a02000 r--p 00000000 08:01 1234  /usr/bin/cat".
func findMapping(r io.Reader, name string) (Addr, bool) {
	var base Addr
	found := false
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) < 6 {
			continue
		}
		path := strings.Join(fields[5:], " ")
		if !strings.EqualFold(filepath.Base(path), name) {
			continue
		}
		dash := strings.IndexByte(fields[0], '-')
		if dash < 0 {
			continue
		}
		start, err := strconv.ParseUint(fields[0][:dash], 16, 64)
		if err != nil {
			continue
		}
		if !found || Addr(start) < base {
			base, found = Addr(start), true
		}
	}
	return base, found
}
