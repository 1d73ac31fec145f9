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
	"encoding/binary"
	"encoding/hex"
	"math"
	"strings"
	"unsafe"

	"github.com/pkg/errors"
)

// maxHexBytes is the capacity of the opcode buffer used by WriteHex.
const maxHexBytes = 64

const ptrSize = int(unsafe.Sizeof(uintptr(0)))

var (
	// ErrInvalidHex means the text is not an even-length run of hex digits
	ErrInvalidHex = errors.New("invalid hex opcode string")
	// ErrHexTooLong means the decoded opcode buffer exceeds 64 bytes
	ErrHexTooLong = errors.New("hex opcode string exceeds 64 bytes")
	// ErrShortBuffer means the buffer is shorter than the value being decoded
	ErrShortBuffer = errors.New("buffer too short")
)

// HexToBytes converts text like "E9FB0F0000" into raw bytes, most significant
// nibble first. Both upper and lower case digits are accepted.
func HexToBytes(text string) ([]byte, error) {
	if len(text)%2 != 0 {
		return nil, errors.Wrapf(ErrInvalidHex, "odd length %d", len(text))
	}
	buf, err := hex.DecodeString(text)
	if err != nil {
		return nil, errors.Wrap(ErrInvalidHex, err.Error())
	}
	return buf, nil
}

// BytesToHex is the inverse of HexToBytes, upper case.
func BytesToHex(buf []byte) string {
	return strings.ToUpper(hex.EncodeToString(buf))
}

// EncodeInt32 returns v as 4 little-endian bytes.
func EncodeInt32(v int32) []byte {
	buf := make([]byte, 4)
	binary.LittleEndian.PutUint32(buf, uint32(v))
	return buf
}

// DecodeInt32 reads a little-endian int32 from the start of buf.
func DecodeInt32(buf []byte) (int32, error) {
	if len(buf) < 4 {
		return 0, ErrShortBuffer
	}
	return int32(binary.LittleEndian.Uint32(buf)), nil
}

// EncodeFloat32 stores the IEEE-754 bits of v, so NaN payloads survive.
func EncodeFloat32(v float32) []byte {
	buf := make([]byte, 4)
	binary.LittleEndian.PutUint32(buf, math.Float32bits(v))
	return buf
}

// DecodeFloat32 reads the IEEE-754 bits of a float32 from the start of buf.
func DecodeFloat32(buf []byte) (float32, error) {
	if len(buf) < 4 {
		return 0, ErrShortBuffer
	}
	return math.Float32frombits(binary.LittleEndian.Uint32(buf)), nil
}

// EncodePtr encodes a pointer-sized value, 4 bytes on 386 and 8 on 64-bit hosts.
func EncodePtr(p uintptr) []byte {
	buf := make([]byte, ptrSize)
	if ptrSize == 4 {
		binary.LittleEndian.PutUint32(buf, uint32(p))
	} else {
		binary.LittleEndian.PutUint64(buf, uint64(p))
	}
	return buf
}

// DecodePtr reads a pointer-sized little-endian value from the start of buf.
func DecodePtr(buf []byte) (uintptr, error) {
	if len(buf) < ptrSize {
		return 0, ErrShortBuffer
	}
	if ptrSize == 4 {
		return uintptr(binary.LittleEndian.Uint32(buf)), nil
	}
	return uintptr(binary.LittleEndian.Uint64(buf)), nil
}
