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
	"golang.org/x/sys/windows"
)

const processReadWriteQuery = windows.PROCESS_VM_READ | windows.PROCESS_VM_WRITE |
	windows.PROCESS_VM_OPERATION | windows.PROCESS_QUERY_INFORMATION

type processMemory struct{}

// ProcessMemory returns the accessor for the current process. Every call
// opens its own process handle and closes it before returning.
func ProcessMemory() Memory {
	return processMemory{}
}

func (processMemory) WriteBytes(addr Addr, buf []byte) error {
	if addr == 0 {
		return errors.Wrap(ErrAccessDenied, "write to nil address")
	}
	if len(buf) == 0 {
		return nil
	}
	return withWritablePages(addr, len(buf), func(process windows.Handle) error {
		err := windows.WriteProcessMemory(process, uintptr(addr), &buf[0], uintptr(len(buf)), nil)
		if err != nil {
			return errors.Wrapf(ErrAccessDenied, "WriteProcessMemory %s: %v", addr, err)
		}
		return nil
	})
}

func (processMemory) ReadBytes(addr Addr, n int) ([]byte, error) {
	if n <= 0 {
		return nil, nil
	}
	buf := make([]byte, n)
	err := withWritablePages(addr, n, func(process windows.Handle) error {
		err := windows.ReadProcessMemory(process, uintptr(addr), &buf[0], uintptr(n), nil)
		if err != nil {
			return errors.Wrapf(ErrAccessDenied, "ReadProcessMemory %s: %v", addr, err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return buf, nil
}

// withWritablePages opens the current process, makes [addr, addr+size)
// read-write-execute for the duration of fn and puts the old protection back.
func withWritablePages(addr Addr, size int, fn func(windows.Handle) error) error {
	process, err := windows.OpenProcess(processReadWriteQuery, false, windows.GetCurrentProcessId())
	if err != nil {
		return errors.Wrapf(ErrAccessDenied, "OpenProcess: %v", err)
	}
	defer windows.CloseHandle(process)

	var oldPerms uint32
	err = windows.VirtualProtectEx(process, uintptr(addr), uintptr(size), windows.PAGE_EXECUTE_READWRITE, &oldPerms)
	if err != nil {
		return errors.Wrapf(ErrAccessDenied, "VirtualProtectEx %s: %v", addr, err)
	}
	defer windows.VirtualProtectEx(process, uintptr(addr), uintptr(size), oldPerms, &oldPerms)

	return fn(process)
}

// codeArena hands out executable memory for proxy routines. Pages are never
// freed; proxies live as long as the process.
type codeArena struct {
	next, end Addr
}

const arenaChunk = 4096

// NewArena returns an Arena backed by VirtualAlloc'ed PAGE_EXECUTE_READWRITE pages.
func NewArena() Arena {
	return &codeArena{}
}

func (a *codeArena) Alloc(size int) (Addr, error) {
	size = (size + 15) &^ 15
	if a.next == 0 || a.next+Addr(size) > a.end {
		chunk := arenaChunk
		if size > chunk {
			chunk = (size + arenaChunk - 1) &^ (arenaChunk - 1)
		}
		base, err := windows.VirtualAlloc(0, uintptr(chunk), windows.MEM_COMMIT|windows.MEM_RESERVE, windows.PAGE_EXECUTE_READWRITE)
		if err != nil {
			return 0, errors.Wrapf(ErrAccessDenied, "VirtualAlloc: %v", err)
		}
		a.next, a.end = Addr(base), Addr(base)+Addr(chunk)
	}
	addr := a.next
	a.next += Addr(size)
	return addr, nil
}
