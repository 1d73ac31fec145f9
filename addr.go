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
	"fmt"
	"math"
)

// Addr is an absolute address inside the current process. Arithmetic on it is
// kept to the resolver, the encoder and the detour manager.
type Addr uintptr

func (a Addr) String() string {
	return fmt.Sprintf("0x%08X", uintptr(a))
}

// Add returns a+off, wrapping like the CPU does for negative offsets.
func (a Addr) Add(off int32) Addr {
	return a + Addr(off)
}

// fits32 reports whether a can be used as an absolute 32-bit operand.
func (a Addr) fits32() bool {
	return uint64(a) <= math.MaxUint32
}
