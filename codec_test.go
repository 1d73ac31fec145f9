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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHexRoundTrip(t *testing.T) {
	for _, text := range []string{"", "00", "90", "E9FB0F000090", "0123456789ABCDEF", "FFFEFDFC"} {
		buf, err := HexToBytes(text)
		require.NoError(t, err, text)
		assert.Len(t, buf, len(text)/2)
		assert.Equal(t, text, BytesToHex(buf))
	}
}

func TestHexMixedCase(t *testing.T) {
	buf, err := HexToBytes("e9Fb0f")
	require.NoError(t, err)
	assert.Equal(t, []byte{0xE9, 0xFB, 0x0F}, buf)
	assert.Equal(t, "E9FB0F", BytesToHex(buf))
}

func TestHexInvalid(t *testing.T) {
	for _, text := range []string{"E", "E9F", "ZZ", "0x90", "9 "} {
		_, err := HexToBytes(text)
		assert.ErrorIs(t, err, ErrInvalidHex, text)
	}
}

func TestInt32Codec(t *testing.T) {
	assert.Equal(t, []byte{0x78, 0x56, 0x34, 0x12}, EncodeInt32(0x12345678))
	assert.Equal(t, []byte{0xFF, 0xFF, 0xFF, 0xFF}, EncodeInt32(-1))

	for _, v := range []int32{0, 1, -1, 0x0FFB, -0x105, math.MaxInt32, math.MinInt32} {
		got, err := DecodeInt32(EncodeInt32(v))
		require.NoError(t, err)
		assert.Equal(t, v, got)
	}
}

func TestFloat32CodecBitExact(t *testing.T) {
	for _, bits := range []uint32{
		0x00000000, // +0
		0x80000000, // -0
		0x00000001, // smallest denormal
		0x807FFFFF, // negative denormal
		0x7F800000, // +Inf
		0x7FC00001, // quiet NaN with payload
		0x7F800001, // signalling NaN
		0x3F800000, // 1.0
	} {
		buf := EncodeFloat32(math.Float32frombits(bits))
		got, err := DecodeFloat32(buf)
		require.NoError(t, err)
		assert.Equal(t, bits, math.Float32bits(got), "bits %08X", bits)
		assert.Equal(t, EncodeFloat32(got), buf)
	}
}

func TestPtrCodec(t *testing.T) {
	for _, p := range []uintptr{0, 1, 0x00400000, 0x7FFFFFFF, ^uintptr(0)} {
		buf := EncodePtr(p)
		assert.Len(t, buf, ptrSize)
		got, err := DecodePtr(buf)
		require.NoError(t, err)
		assert.Equal(t, p, got)
	}
	assert.Equal(t, byte(0x78), EncodePtr(0x12345678)[0])
}

func TestDecodeShortBuffer(t *testing.T) {
	_, err := DecodeInt32([]byte{1, 2, 3})
	assert.ErrorIs(t, err, ErrShortBuffer)
	_, err = DecodeFloat32(nil)
	assert.ErrorIs(t, err, ErrShortBuffer)
	_, err = DecodePtr(make([]byte, ptrSize-1))
	assert.ErrorIs(t, err, ErrShortBuffer)
}
