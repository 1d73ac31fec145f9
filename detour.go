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
	"strings"

	"github.com/pkg/errors"
)

// HookRecord is the state of one interception point. Records are created on
// the first install attempt and never removed.
type HookRecord struct {
	// Installed is the latch. It is set when an install is attempted, before
	// anything is written, so a failed patch is never retried.
	Installed bool
	// Patched reports whether the stub was actually written.
	Patched bool
	// Site is the resolved stub address.
	Site Addr
	// Previous is the handler the proxy chains to: host code or a foreign hook.
	Previous Addr
	// Proxy is the entry point of the generated routine, zero for direct sites.
	Proxy Addr
	// Callback is the plugin function the proxy calls.
	Callback Addr

	block Addr
}

// DetourManager installs the host hooks. There is one per process; it is
// meant to be driven from a single host thread during startup, so nothing
// in it is locked.
type DetourManager struct {
	mem      Memory
	resolver *Resolver
	arena    Arena
	sites    SiteTable
	log      Logger
	records  [hookCount]*HookRecord
}

// Option configures a DetourManager.
type Option func(*DetourManager)

// WithMemory replaces the process memory accessor.
func WithMemory(mem Memory) Option {
	return func(m *DetourManager) {
		m.mem = mem
	}
}

// WithResolver replaces the address resolver.
func WithResolver(r *Resolver) Option {
	return func(m *DetourManager) {
		m.resolver = r
	}
}

// WithArena replaces the allocator for proxy routines.
func WithArena(a Arena) Option {
	return func(m *DetourManager) {
		m.arena = a
	}
}

// WithSites replaces the patch-site table, e.g. one from LoadSiteTable.
func WithSites(t SiteTable) Option {
	return func(m *DetourManager) {
		m.sites = t
	}
}

// WithLogger makes the manager report its decisions and failures.
func WithLogger(l Logger) Option {
	return func(m *DetourManager) {
		m.log = l
	}
}

// NewDetourManager returns a manager for the current process unless options
// say otherwise.
func NewDetourManager(opts ...Option) *DetourManager {
	m := &DetourManager{
		sites: DefaultSites(),
		log:   nopLogger{},
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.mem == nil {
		m.mem = ProcessMemory()
	}
	if m.resolver == nil {
		m.resolver = NewResolver()
	}
	if m.arena == nil {
		m.arena = NewArena()
	}
	if m.sites.ReferenceBase != 0 {
		m.resolver = m.resolver.withReferenceBase(m.sites.ReferenceBase)
	}
	return m
}

// Record returns the state of id, or nil before the first install attempt.
func (m *DetourManager) Record(id HookID) *HookRecord {
	if id < 0 || id >= hookCount {
		return nil
	}
	return m.records[id]
}

// Installed reports whether an install of id has been attempted.
func (m *DetourManager) Installed(id HookID) bool {
	rec := m.Record(id)
	return rec != nil && rec.Installed
}

// Install patches the site of id so that callback runs whenever the host
// reaches it. It returns whether the stub is in place. A second call is a
// no-op that reports the result of the first one. A direct site whose
// required module is not loaded is skipped without setting the latch, and so
// is a zero callback.
func (m *DetourManager) Install(id HookID, callback Addr) bool {
	site, ok := m.sites.Site(id)
	if !ok {
		return false
	}
	if callback == 0 {
		m.log.Printf("rbrhook: %s not installed, no callback", id)
		return false
	}
	if rec := m.records[id]; rec != nil && rec.Installed {
		return rec.Patched
	}
	if site.RequiresModule != "" {
		if _, loaded := m.resolver.ModuleBase(site.RequiresModule); !loaded {
			m.log.Printf("rbrhook: %s skipped, %s not loaded", id, site.RequiresModule)
			return false
		}
	}

	rec := &HookRecord{Installed: true, Callback: callback, Site: m.resolver.ToProcess(site.Addr)}
	m.records[id] = rec

	var err error
	if site.Direct {
		err = m.installDirect(site, rec)
	} else {
		err = m.installProxied(site, rec)
	}
	if err != nil {
		m.log.Printf("rbrhook: %s at %s failed: %v", id, rec.Site, err)
		return false
	}
	rec.Patched = true
	m.log.Printf("rbrhook: %s at %s -> proxy %s, previous %s", id, rec.Site, rec.Proxy, rec.Previous)
	return true
}

func (m *DetourManager) installDirect(site Site, rec *HookRecord) error {
	return m.mem.WriteBytes(rec.Site, Encode(site.Stub, rec.Site, rec.Callback, site.Pad))
}

func (m *DetourManager) installProxied(site Site, rec *HookRecord) error {
	current, err := m.mem.ReadBytes(rec.Site, rel32Length)
	if err != nil {
		return errors.WithMessage(err, "failed to read site")
	}
	rec.Previous, err = m.previousHandler(site, current)
	if err != nil {
		return err
	}

	block, err := m.arena.Alloc(proxySlots + maxProxyLen)
	if err != nil {
		return errors.WithMessage(err, "failed to allocate proxy")
	}
	code, err := assembleProxy(site.Convention, block, block+4, m.loadEAX(site))
	if err != nil {
		return err
	}
	if len(code) > maxProxyLen {
		return errors.Errorf("proxy needs %d bytes, arena block has %d", len(code), maxProxyLen)
	}
	rec.block = block
	rec.Proxy = block + proxySlots

	// slots and code go in before the stub makes them reachable
	if err = writeAbs32(m.mem, block, rec.Callback); err != nil {
		return errors.WithMessage(err, "failed to write callback slot")
	}
	if err = writeAbs32(m.mem, block+4, rec.Previous); err != nil {
		return errors.WithMessage(err, "failed to write previous handler slot")
	}
	if err = m.mem.WriteBytes(rec.Proxy, code); err != nil {
		return errors.WithMessage(err, "failed to write proxy")
	}
	if err = m.mem.WriteBytes(rec.Site, Encode(site.Stub, rec.Site, rec.Proxy, site.Pad)); err != nil {
		return errors.WithMessage(err, "failed to write stub")
	}
	return nil
}

func (m *DetourManager) loadEAX(site Site) Addr {
	if site.Convention.LoadEAX == 0 {
		return 0
	}
	return m.resolver.ToProcess(site.Convention.LoadEAX)
}

// maxProxyLen bounds the generated routine: replay and before-chain
// instructions of at most 15 bytes each plus the fixed frame.
const maxProxyLen = 64

// previousHandler decides who runs after the proxy, given the first bytes at
// the site. A virgin site continues at the host's fallback address; anything
// else is taken to be a rel32 stub left by a compatible hook.
func (m *DetourManager) previousHandler(site Site, current []byte) (Addr, error) {
	if len(current) < 1 {
		return 0, ErrShortBuffer
	}
	if current[0] == site.Virgin {
		return m.resolver.ToProcess(site.Fallback), nil
	}
	off := int(site.ChainDisp - site.Addr)
	if off < 0 || off+4 > len(current) {
		// displacement lies outside the bytes already read
		buf, err := m.mem.ReadBytes(m.resolver.ToProcess(site.ChainDisp), 4)
		if err != nil {
			return 0, errors.WithMessage(err, "failed to read foreign displacement")
		}
		return DecodeRel32(buf, m.resolver.ToProcess(site.ChainBase))
	}
	return DecodeRel32(current[off:off+4], m.resolver.ToProcess(site.ChainBase))
}

// SetCallback points an installed proxy at a new plugin function. Direct
// sites keep the target they were installed with.
func (m *DetourManager) SetCallback(id HookID, callback Addr) bool {
	rec := m.Record(id)
	if rec == nil || !rec.Patched || rec.block == 0 || callback == 0 {
		return false
	}
	if err := writeAbs32(m.mem, rec.block, callback); err != nil {
		m.log.Printf("rbrhook: %s callback update failed: %v", id, err)
		return false
	}
	rec.Callback = callback
	return true
}

// Describe disassembles the instruction currently at the site of id.
func (m *DetourManager) Describe(id HookID) (string, error) {
	site, ok := m.sites.Site(id)
	if !ok {
		return "", errors.Errorf("unknown hook %d", id)
	}
	addr := m.resolver.ToProcess(site.Addr)
	buf, err := m.mem.ReadBytes(addr, 16)
	if err != nil {
		return "", err
	}
	text := disassemble(buf, addr)
	if i := strings.IndexByte(text, '\n'); i >= 0 {
		text = text[:i]
	}
	return text, nil
}

// ProxyCode returns the generated routine of an installed hook, for diagnostics.
func (m *DetourManager) ProxyCode(id HookID) (string, error) {
	rec := m.Record(id)
	if rec == nil || rec.Proxy == 0 {
		return "", errors.Errorf("%s has no proxy", id)
	}
	site, _ := m.sites.Site(id)
	expected, err := assembleProxy(site.Convention, rec.block, rec.block+4, m.loadEAX(site))
	if err != nil {
		return "", err
	}
	code, err := m.mem.ReadBytes(rec.Proxy, len(expected))
	if err != nil {
		return "", err
	}
	return disassemble(code, rec.Proxy), nil
}
