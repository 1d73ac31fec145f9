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
	"github.com/pkg/errors"
)

// fakeMemory is a sparse byte map standing in for the host process.
// Unwritten bytes read as zero.
type fakeMemory struct {
	bytes     map[Addr]byte
	denyRead  bool
	denyWrite bool
	writes    int // successful writes
	attempts  int // all write calls
}

func newFakeMemory() *fakeMemory {
	return &fakeMemory{bytes: map[Addr]byte{}}
}

func (f *fakeMemory) ReadBytes(addr Addr, n int) ([]byte, error) {
	if f.denyRead {
		return nil, errors.Wrapf(ErrAccessDenied, "read %s", addr)
	}
	buf := make([]byte, n)
	for i := range buf {
		buf[i] = f.bytes[addr+Addr(i)]
	}
	return buf, nil
}

func (f *fakeMemory) WriteBytes(addr Addr, buf []byte) error {
	f.attempts++
	if f.denyWrite || addr == 0 {
		return errors.Wrapf(ErrAccessDenied, "write %s", addr)
	}
	f.load(addr, buf...)
	f.writes++
	return nil
}

// load seeds memory without counting as a write.
func (f *fakeMemory) load(addr Addr, buf ...byte) {
	for i, b := range buf {
		f.bytes[addr+Addr(i)] = b
	}
}

func (f *fakeMemory) get(addr Addr, n int) []byte {
	buf, _ := f.ReadBytes(addr, n)
	return buf
}

func (f *fakeMemory) snapshot() map[Addr]byte {
	c := make(map[Addr]byte, len(f.bytes))
	for k, v := range f.bytes {
		c[k] = v
	}
	return c
}

type fakeArena struct {
	next Addr
}

func (a *fakeArena) Alloc(size int) (Addr, error) {
	addr := a.next
	a.next += Addr((size + 15) &^ 15)
	return addr, nil
}

type fakeModules map[string]Addr

func (m fakeModules) ModuleBase(name string) (Addr, bool) {
	base, ok := m[name]
	return base, ok
}

func newTestManager(mem Memory, hostBase Addr, arenaBase Addr, modules fakeModules) *DetourManager {
	return NewDetourManager(
		WithMemory(mem),
		WithResolver(NewResolverFor(modules, hostBase, ReferenceImageBase)),
		WithArena(&fakeArena{next: arenaBase}),
	)
}
