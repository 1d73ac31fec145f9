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
	"math"

	"github.com/pkg/errors"
)

const (
	opShortJmp = uint8(0xEB)
	opCall     = uint8(0xE8)
	opJmp      = uint8(0xE9)
	opNop      = uint8(0x90)
)

const (
	shortJmpLength = 2 // EB rel8
	rel32Length    = 5 // E8/E9 rel32
)

// ErrAddressRange means an address does not fit a 32-bit x86 operand.
var ErrAddressRange = errors.New("address out of 32-bit range")

// Transfer is the kind of relative control transfer written into a site.
type Transfer int

const (
	ShortJump Transfer = iota // EB rel8
	NearCall                  // E8 rel32
	NearJump                  // E9 rel32
)

func (t Transfer) String() string {
	switch t {
	case ShortJump:
		return "short jump"
	case NearCall:
		return "near call"
	case NearJump:
		return "near jump"
	}
	return "unknown"
}

// Len is the instruction length the displacement is relative to.
func (t Transfer) Len() int {
	if t == ShortJump {
		return shortJmpLength
	}
	return rel32Length
}

func (t Transfer) opcode() uint8 {
	switch t {
	case ShortJump:
		return opShortJmp
	case NearCall:
		return opCall
	}
	return opJmp
}

// Displacement is target-(site+len) truncated to 32 bits.
func Displacement(t Transfer, site, target Addr) int32 {
	return int32(uint32(target) - uint32(site+Addr(t.Len())))
}

// FitsShort reports whether a short jump from site can reach target.
func FitsShort(site, target Addr) bool {
	d := int64(target) - int64(site+shortJmpLength)
	return d >= math.MinInt8 && d <= math.MaxInt8
}

// Encode builds the instruction bytes for a transfer from site to target,
// with one trailing NOP when pad is set. The displacement is not range
// checked: a short jump to a far target silently keeps the low byte.
func Encode(t Transfer, site, target Addr, pad bool) []byte {
	buf := make([]byte, t.Len(), t.Len()+1)
	buf[0] = t.opcode()
	disp := uint32(Displacement(t, site, target))
	if t == ShortJump {
		buf[1] = byte(disp)
	} else {
		binary.LittleEndian.PutUint32(buf[1:], disp)
	}
	if pad {
		buf = append(buf, opNop)
	}
	return buf
}

// DecodeRel32 returns base plus the signed 32-bit displacement in buf. For a
// rel32 instruction at site, base is site+5 and buf holds bytes site+1..site+4.
func DecodeRel32(buf []byte, base Addr) (Addr, error) {
	disp, err := DecodeInt32(buf)
	if err != nil {
		return 0, err
	}
	return base.Add(disp), nil
}

// WriteShortJump writes EB rel8 at site. The displacement is not range checked.
func WriteShortJump(mem Memory, site, target Addr) error {
	return mem.WriteBytes(site, Encode(ShortJump, site, target, false))
}

// WriteCall writes E8 rel32 at site, followed by a NOP if pad is set.
func WriteCall(mem Memory, site, target Addr, pad bool) error {
	return mem.WriteBytes(site, Encode(NearCall, site, target, pad))
}

// WriteJump writes E9 rel32 at site, followed by a NOP if pad is set.
func WriteJump(mem Memory, site, target Addr, pad bool) error {
	return mem.WriteBytes(site, Encode(NearJump, site, target, pad))
}
