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

// ErrAccessDenied covers every way a transfer can fail: the process handle
// cannot be opened, page protection cannot be changed, or the address is
// not mapped.
var ErrAccessDenied = errors.New("process memory access denied")

// Memory is the only capability that touches live process memory. There is
// no bounds validation beyond what the OS enforces; callers own the
// correctness of addr and length.
type Memory interface {
	ReadBytes(addr Addr, n int) ([]byte, error)
	WriteBytes(addr Addr, buf []byte) error
}

// WriteHex decodes text and writes the resulting opcode buffer to addr.
func WriteHex(mem Memory, addr Addr, text string) error {
	if len(text)/2 > maxHexBytes {
		return ErrHexTooLong
	}
	buf, err := HexToBytes(text)
	if err != nil {
		return err
	}
	return mem.WriteBytes(addr, buf)
}

// WriteInt32 stores v little-endian at addr.
func WriteInt32(mem Memory, addr Addr, v int32) error {
	return mem.WriteBytes(addr, EncodeInt32(v))
}

// ReadInt32 loads a little-endian int32 from addr.
func ReadInt32(mem Memory, addr Addr) (int32, error) {
	buf, err := mem.ReadBytes(addr, 4)
	if err != nil {
		return 0, err
	}
	return DecodeInt32(buf)
}

// WriteFloat32 stores the bits of v at addr.
func WriteFloat32(mem Memory, addr Addr, v float32) error {
	return mem.WriteBytes(addr, EncodeFloat32(v))
}

// ReadFloat32 loads a float32 from addr.
func ReadFloat32(mem Memory, addr Addr) (float32, error) {
	buf, err := mem.ReadBytes(addr, 4)
	if err != nil {
		return 0, err
	}
	return DecodeFloat32(buf)
}

// WritePtr stores a pointer-sized value at addr.
func WritePtr(mem Memory, addr Addr, p uintptr) error {
	return mem.WriteBytes(addr, EncodePtr(p))
}

// ReadPtr loads a pointer-sized value from addr.
func ReadPtr(mem Memory, addr Addr) (uintptr, error) {
	buf, err := mem.ReadBytes(addr, ptrSize)
	if err != nil {
		return 0, err
	}
	return DecodePtr(buf)
}

// WriteByte stores a single byte at addr.
func WriteByte(mem Memory, addr Addr, b byte) error {
	return mem.WriteBytes(addr, []byte{b})
}

// ReadByte returns the byte at addr.
func ReadByte(mem Memory, addr Addr) (byte, error) {
	buf, err := mem.ReadBytes(addr, 1)
	if err != nil {
		return 0, err
	}
	return buf[0], nil
}

// writeAbs32 stores a 32-bit absolute address, the operand width of the
// x86 code this package generates regardless of the host pointer size.
func writeAbs32(mem Memory, addr, v Addr) error {
	if !v.fits32() {
		return errors.Wrapf(ErrAddressRange, "%s", v)
	}
	return WriteInt32(mem, addr, int32(uint32(v)))
}
