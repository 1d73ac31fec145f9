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

//go:build unix

package rbrhook

import (
	"os"
	"runtime/debug"
	"unsafe"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

type processMemory struct{}

// ProcessMemory returns the accessor for the current process.
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
	if err := makeMemRWX(addr, len(buf)); err != nil {
		return errors.Wrapf(ErrAccessDenied, "mprotect %s: %v", addr, err)
	}
	return copyGuarded(unsafe.Slice((*uint8)(unsafe.Pointer(addr)), len(buf)), buf)
}

func (processMemory) ReadBytes(addr Addr, n int) ([]byte, error) {
	if n <= 0 {
		return nil, nil
	}
	if addr == 0 {
		return nil, errors.Wrap(ErrAccessDenied, "read from nil address")
	}
	buf := make([]byte, n)
	if err := copyGuarded(buf, unsafe.Slice((*uint8)(unsafe.Pointer(addr)), n)); err != nil {
		return nil, err
	}
	return buf, nil
}

// copyGuarded turns a fault on an unmapped address into ErrAccessDenied
// instead of crashing the process.
func copyGuarded(dst, src []byte) (err error) {
	defer debug.SetPanicOnFault(debug.SetPanicOnFault(true))
	defer func() {
		if r := recover(); r != nil {
			err = errors.Wrapf(ErrAccessDenied, "memory fault: %v", r)
		}
	}()
	copy(dst, src)
	return nil
}

func makeMemRWX(addr Addr, size int) error {
	start, sz := calcBoundaries(unsafe.Pointer(addr), size)

	page := unsafe.Slice((*uint8)(start), sz)
	return unix.Mprotect(page, unix.PROT_WRITE|unix.PROT_READ|unix.PROT_EXEC)
}

func calcBoundaries(ptr unsafe.Pointer, size int) (unsafe.Pointer, uintptr) {
	pageSize := uintptr(os.Getpagesize())
	areaStart := unsafe.Pointer(uintptr(ptr) &^ (pageSize - 1))
	areaSize := (uintptr(ptr) + uintptr(size)) - uintptr(areaStart)

	return areaStart, areaSize
}

type codeArena struct {
	chunks    [][]byte
	next, end Addr
}

const arenaChunk = 4096

// NewArena returns an Arena backed by anonymous RWX mappings.
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
		mem, err := unix.Mmap(-1, 0, chunk, unix.PROT_READ|unix.PROT_WRITE|unix.PROT_EXEC, unix.MAP_PRIVATE|unix.MAP_ANON)
		if err != nil {
			return 0, errors.Wrapf(ErrAccessDenied, "mmap: %v", err)
		}
		a.chunks = append(a.chunks, mem)
		base := Addr(unsafe.Pointer(&mem[0]))
		a.next, a.end = base, base+Addr(chunk)
	}
	addr := a.next
	a.next += Addr(size)
	return addr, nil
}

// hostImageBase has no PE image to relocate outside Windows.
func hostImageBase() Addr {
	return ReferenceImageBase
}
