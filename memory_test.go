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
	"math"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteHex(t *testing.T) {
	mem := newFakeMemory()
	require.NoError(t, WriteHex(mem, 0x1000, "8B81F4000000"))
	assert.Equal(t, []byte{0x8B, 0x81, 0xF4, 0x00, 0x00, 0x00}, mem.get(0x1000, 6))

	assert.ErrorIs(t, WriteHex(mem, 0x1000, "8B8"), ErrInvalidHex)
	assert.ErrorIs(t, WriteHex(mem, 0x1000, strings.Repeat("90", maxHexBytes+1)), ErrHexTooLong)
	assert.NoError(t, WriteHex(mem, 0x2000, strings.Repeat("90", maxHexBytes)))
	assert.Equal(t, byte(0x90), mem.get(0x2000+maxHexBytes-1, 1)[0])
}

func TestTypedAccess(t *testing.T) {
	mem := newFakeMemory()

	require.NoError(t, WriteInt32(mem, 0x100, -42))
	i, err := ReadInt32(mem, 0x100)
	require.NoError(t, err)
	assert.Equal(t, int32(-42), i)

	require.NoError(t, WriteFloat32(mem, 0x200, float32(math.Inf(-1))))
	f, err := ReadFloat32(mem, 0x200)
	require.NoError(t, err)
	assert.True(t, math.IsInf(float64(f), -1))

	require.NoError(t, WritePtr(mem, 0x300, 0x01660CE8))
	p, err := ReadPtr(mem, 0x300)
	require.NoError(t, err)
	assert.Equal(t, uintptr(0x01660CE8), p)

	require.NoError(t, WriteByte(mem, 0x400, 0xA1))
	b, err := ReadByte(mem, 0x400)
	require.NoError(t, err)
	assert.Equal(t, byte(0xA1), b)
}

func TestTypedAccessFailures(t *testing.T) {
	mem := newFakeMemory()
	mem.denyRead = true
	mem.denyWrite = true

	_, err := ReadInt32(mem, 0x100)
	assert.ErrorIs(t, err, ErrAccessDenied)
	_, err = ReadByte(mem, 0x100)
	assert.ErrorIs(t, err, ErrAccessDenied)
	assert.ErrorIs(t, WriteFloat32(mem, 0x100, 1), ErrAccessDenied)
	assert.ErrorIs(t, WriteHex(mem, 0x100, "90"), ErrAccessDenied)
}

func TestWriteAbs32(t *testing.T) {
	mem := newFakeMemory()
	require.NoError(t, writeAbs32(mem, 0x100, 0x10000008))
	assert.Equal(t, []byte{0x08, 0x00, 0x00, 0x10}, mem.get(0x100, 4))

	if ptrSize == 4 {
		t.Skip("every address fits 32 bits on this platform")
	}
	wide := uint64(1) << 32
	assert.ErrorIs(t, writeAbs32(mem, 0x100, Addr(wide)), ErrAddressRange)
}
