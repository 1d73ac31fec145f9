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

// ReferenceImageBase is the load address the host executable had when the
// patch-site addresses were captured.
const ReferenceImageBase Addr = 0x400000

// ModuleLookup finds the base of a loaded module without loading it or
// changing its reference count. An empty name means the host executable.
type ModuleLookup interface {
	ModuleBase(name string) (Addr, bool)
}

// Resolver maps reference-image addresses to addresses in the running process.
type Resolver struct {
	modules       ModuleLookup
	hostBase      Addr
	referenceBase Addr
}

// NewResolver returns a resolver for the current process.
func NewResolver() *Resolver {
	return NewResolverFor(LoadedModules(), hostImageBase(), ReferenceImageBase)
}

// NewResolverFor builds a resolver over an explicit module lookup and bases.
func NewResolverFor(modules ModuleLookup, hostBase, referenceBase Addr) *Resolver {
	return &Resolver{modules: modules, hostBase: hostBase, referenceBase: referenceBase}
}

// ModuleBase returns the base address of a loaded module.
func (r *Resolver) ModuleBase(name string) (Addr, bool) {
	if r.modules == nil {
		return 0, false
	}
	return r.modules.ModuleBase(name)
}

// ModuleOffset returns base(name)+offset, or false if the module is not loaded.
func (r *Resolver) ModuleOffset(name string, offset uint32) (Addr, bool) {
	base, ok := r.ModuleBase(name)
	if !ok {
		return 0, false
	}
	return base + Addr(offset), true
}

// ToProcess converts an address captured against the reference image layout
// into the address in the loaded host image.
func (r *Resolver) ToProcess(imageAddr Addr) Addr {
	return r.hostBase + (imageAddr - r.referenceBase)
}

// HostBase is the load address of the host executable.
func (r *Resolver) HostBase() Addr {
	return r.hostBase
}

// withReferenceBase returns a copy of r that rebases against base.
func (r *Resolver) withReferenceBase(base Addr) *Resolver {
	c := *r
	c.referenceBase = base
	return &c
}
