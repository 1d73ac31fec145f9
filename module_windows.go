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
	"golang.org/x/sys/windows"
)

// hostImageBase is the load address of the executable the plugin lives in.
func hostImageBase() Addr {
	var module windows.Handle
	if err := windows.GetModuleHandleEx(windows.GET_MODULE_HANDLE_EX_FLAG_UNCHANGED_REFCOUNT, nil, &module); err != nil {
		return ReferenceImageBase
	}
	return Addr(module)
}

type loadedModules struct{}

// LoadedModules looks modules up with GetModuleHandleEx without touching
// their reference count.
func LoadedModules() ModuleLookup {
	return loadedModules{}
}

func (loadedModules) ModuleBase(name string) (Addr, bool) {
	var namePtr *uint16
	if name != "" {
		p, err := windows.UTF16PtrFromString(name)
		if err != nil {
			return 0, false
		}
		namePtr = p
	}
	var module windows.Handle
	err := windows.GetModuleHandleEx(windows.GET_MODULE_HANDLE_EX_FLAG_UNCHANGED_REFCOUNT, namePtr, &module)
	if err != nil || module == 0 {
		return 0, false
	}
	return Addr(module), true
}
