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
	"strings"

	"github.com/pkg/errors"
	"golang.org/x/arch/x86/x86asm"
)

// Arena hands out executable memory that lives until the process exits.
type Arena interface {
	Alloc(size int) (Addr, error)
}

// Reg is a 32-bit general purpose register, numbered as in the x86 encoding.
type Reg uint8

const (
	EAX Reg = iota
	ECX
	EDX
	EBX
	ESP
	EBP
	ESI
	EDI
)

var regNames = [...]string{"eax", "ecx", "edx", "ebx", "esp", "ebp", "esi", "edi"}

func (r Reg) String() string {
	if int(r) < len(regNames) {
		return regNames[r]
	}
	return "reg?"
}

// Chain is how a proxy hands control to the previous handler.
type Chain int

const (
	// TailJump jumps to the previous handler with the stack as the site left it.
	TailJump Chain = iota
	// CallReturn calls the previous handler, runs the callback and returns to
	// the site's caller.
	CallReturn
)

// Convention is the contract a proxy has to honour for one site.
//
// Tail jump proxies run:   Replay, push Save, call [callback], pop Save,
// mov eax,[LoadEAX], BeforeChain, jmp [previous].
// Call-return proxies run: Replay, push Save, mov eax,[LoadEAX], BeforeChain,
// call [previous], push eax, call [callback], pop eax, pop Save, ret.
type Convention struct {
	// Replay is the displaced instruction, executed first.
	Replay []byte
	// Save lists the registers that must survive the callback, pushed in order.
	Save []Reg
	// LoadEAX is a reference-image address whose dword is loaded into eax
	// before chaining. Zero means no load.
	LoadEAX Addr
	// BeforeChain is emitted right before control goes to the previous handler.
	BeforeChain []byte
	Chain       Chain
	// KeepEAX preserves the previous handler's return value across the
	// callback. Call-return proxies only.
	KeepEAX bool
}

const (
	opPushReg  = 0x50
	opPopReg   = 0x58
	opRet      = 0xC3
	opMovEAXm  = 0xA1 // mov eax, [moffs32]
	opGroupFF  = 0xFF
	modrmCallM = 0x15 // FF /2, [disp32]
	modrmJmpM  = 0x25 // FF /4, [disp32]
)

// proxySlots is the size of the two dword slots in front of every proxy:
// callback at +0, previous handler at +4.
const proxySlots = 8

type asm struct {
	buf []byte
}

func (a *asm) raw(b ...byte) {
	a.buf = append(a.buf, b...)
}

func (a *asm) abs32(op []byte, addr Addr) {
	a.raw(op...)
	a.buf = binary.LittleEndian.AppendUint32(a.buf, uint32(addr))
}

func (a *asm) push(regs []Reg) {
	for _, r := range regs {
		a.raw(opPushReg + byte(r))
	}
}

func (a *asm) pop(regs []Reg) {
	for i := len(regs) - 1; i >= 0; i-- {
		a.raw(opPopReg + byte(regs[i]))
	}
}

// assembleProxy renders the routine described by conv. callbackSlot and
// previousSlot hold the targets; loadEAX is the already resolved address for
// conv.LoadEAX.
func assembleProxy(conv Convention, callbackSlot, previousSlot, loadEAX Addr) ([]byte, error) {
	for _, a := range []Addr{callbackSlot, previousSlot, loadEAX} {
		if !a.fits32() {
			return nil, errors.Wrapf(ErrAddressRange, "proxy operand %s", a)
		}
	}
	for _, r := range conv.Save {
		if r > EDI || r == ESP {
			return nil, errors.Errorf("cannot save register %s", r)
		}
	}
	if err := checkWhole("replayed", conv.Replay); err != nil {
		return nil, err
	}
	if err := checkWhole("before-chain", conv.BeforeChain); err != nil {
		return nil, err
	}

	var a asm
	a.raw(conv.Replay...)
	a.push(conv.Save)
	switch conv.Chain {
	case TailJump:
		a.abs32([]byte{opGroupFF, modrmCallM}, callbackSlot)
		a.pop(conv.Save)
		if conv.LoadEAX != 0 {
			a.abs32([]byte{opMovEAXm}, loadEAX)
		}
		a.raw(conv.BeforeChain...)
		a.abs32([]byte{opGroupFF, modrmJmpM}, previousSlot)
	case CallReturn:
		if conv.LoadEAX != 0 {
			a.abs32([]byte{opMovEAXm}, loadEAX)
		}
		a.raw(conv.BeforeChain...)
		a.abs32([]byte{opGroupFF, modrmCallM}, previousSlot)
		if conv.KeepEAX {
			a.push([]Reg{EAX})
		}
		a.abs32([]byte{opGroupFF, modrmCallM}, callbackSlot)
		if conv.KeepEAX {
			a.pop([]Reg{EAX})
		}
		a.pop(conv.Save)
		a.raw(opRet)
	default:
		return nil, errors.Errorf("unknown chain mode %d", conv.Chain)
	}

	if err := validateProxy(a.buf); err != nil {
		return nil, err
	}
	return a.buf, nil
}

// validateProxy decodes the routine in 32-bit mode and checks that it is a
// straight run of whole instructions ending in a jump or a return.
func validateProxy(code []byte) error {
	var last x86asm.Inst
	for off := 0; off < len(code); {
		inst, err := x86asm.Decode(code[off:], 32)
		if err != nil {
			return errors.Wrapf(err, "proxy does not decode at +%d", off)
		}
		off += inst.Len
		last = inst
	}
	if last.Op != x86asm.JMP && last.Op != x86asm.RET {
		return errors.Errorf("proxy ends with %s", last.Op)
	}
	return nil
}

// checkWhole fails unless code decodes as whole instructions ending exactly
// at its last byte.
func checkWhole(what string, code []byte) error {
	for off := 0; off < len(code); {
		inst, err := x86asm.Decode(code[off:], 32)
		if err != nil {
			return errors.Wrapf(err, "%s code does not decode at +%d", what, off)
		}
		off += inst.Len
		if off > len(code) {
			return errors.Errorf("%s code ends inside an instruction", what)
		}
	}
	return nil
}

// disassemble renders code located at pc in Intel syntax, one instruction
// per line. It stops at the first byte that does not decode.
func disassemble(code []byte, pc Addr) string {
	var lines []string
	for off := 0; off < len(code); {
		inst, err := x86asm.Decode(code[off:], 32)
		if err != nil {
			lines = append(lines, "(bad)")
			break
		}
		lines = append(lines, x86asm.IntelSyntax(inst, uint64(pc)+uint64(off), nil))
		off += inst.Len
	}
	return strings.Join(lines, "\n")
}
