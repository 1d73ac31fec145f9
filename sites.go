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
	"io"
	"strings"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// HookID identifies one interception point in the host.
type HookID int

const (
	// GameModeChanged fires whenever the host writes a new game mode
	// (menu, map loaded, cam spinning, racing, replay, pause).
	GameModeChanged HookID = iota
	// Frame fires per frame while racing or replaying, from the countdown on.
	Frame
	// BeginScene fires after the host's Direct3D BeginScene handler.
	BeginScene
	// EndScene fires before the frame is posted to the GPU.
	EndScene
	// StartRace fires when a custom stage is started as a quick race.
	// Only available with the RSF installation.
	StartRace

	hookCount
)

var hookNames = [...]string{"game_mode_changed", "frame", "begin_scene", "end_scene", "start_race"}

func (id HookID) String() string {
	if id >= 0 && id < hookCount {
		return hookNames[id]
	}
	return "unknown"
}

// InstallOrder is the order the plugin installs hooks in.
var InstallOrder = []HookID{GameModeChanged, Frame, BeginScene, EndScene, StartRace}

// Site is one row of the patch-site table. All addresses are relative to the
// reference image base.
type Site struct {
	ID HookID
	// Addr is where the stub is written.
	Addr Addr
	// Virgin is the first opcode byte of the untouched instruction.
	Virgin byte
	// Fallback is where the host's own code continues when nobody else
	// hooked the site.
	Fallback Addr
	// ChainBase and ChainDisp locate a foreign rel32 stub: the previous
	// handler is ChainBase + int32 at ChainDisp.
	ChainBase Addr
	ChainDisp Addr
	// Stub is the transfer written at Addr, padded with one NOP if Pad is set.
	Stub Transfer
	Pad  bool
	// Direct sites are redirected straight to the callback, without a proxy
	// and without capturing a previous handler.
	Direct bool
	// RequiresModule gates a direct site on an auxiliary module being loaded.
	RequiresModule string
	Convention     Convention
}

// StubLen is the number of bytes written at the site.
func (s Site) StubLen() int {
	if s.Pad {
		return s.Stub.Len() + 1
	}
	return s.Stub.Len()
}

// SiteTable is the versioned contract with one build of the host executable.
type SiteTable struct {
	ReferenceBase Addr
	Sites         [hookCount]Site
}

// RallySimFansModule is the auxiliary module the start-race hook depends on.
const RallySimFansModule = "Rallysimfans.hu.dll"

// DefaultSites returns the table for RichardBurnsRally_SSE.exe 1.02.
func DefaultSites() SiteTable {
	return SiteTable{
		ReferenceBase: ReferenceImageBase,
		Sites: [hookCount]Site{
			GameModeChanged: {
				ID:        GameModeChanged,
				Addr:      0x47F392,
				Virgin:    0x89, // mov [esi+0x728], edi
				Fallback:  0x47F398,
				ChainBase: 0x47F397,
				ChainDisp: 0x47F393,
				Stub:      NearJump,
				Pad:       true,
				Convention: Convention{
					Replay: []byte{0x89, 0xBE, 0x28, 0x07, 0x00, 0x00},
					Save:   []Reg{ESI, EDI},
					Chain:  TailJump,
				},
			},
			Frame: {
				ID:        Frame,
				Addr:      0x578CDF,
				Virgin:    0xA1, // mov eax, [0x1660CE8]
				Fallback:  0x578CE4,
				ChainBase: 0x578CE4,
				ChainDisp: 0x578CE0,
				Stub:      NearJump,
				Convention: Convention{
					Save:    []Reg{EBX, ESI, EDI},
					LoadEAX: 0x01660CE8,
					Chain:   TailJump,
				},
			},
			BeginScene: {
				ID:        BeginScene,
				Addr:      0x40E880,
				Virgin:    0x8B, // mov eax, [ecx+0xF4]
				Fallback:  0x40E886,
				ChainBase: 0x40E885,
				ChainDisp: 0x40E881,
				Stub:      NearJump,
				Pad:       true,
				Convention: Convention{
					Save:        []Reg{ECX},
					BeforeChain: []byte{0x8B, 0x81, 0xF4, 0x00, 0x00, 0x00},
					Chain:       CallReturn,
					KeepEAX:     true,
				},
			},
			EndScene: {
				ID:        EndScene,
				Addr:      0x40E896,
				Virgin:    0x33, // xor eax, eax
				Fallback:  0x40E89B,
				ChainBase: 0x40E89B,
				ChainDisp: 0x40E897,
				Stub:      NearJump,
				Convention: Convention{
					Save:        []Reg{ECX, EDX},
					BeforeChain: []byte{0x33, 0xC0},
					Chain:       TailJump,
				},
			},
			StartRace: {
				ID:             StartRace,
				Addr:           0x626AAC,
				Stub:           NearCall,
				Pad:            true,
				Direct:         true,
				RequiresModule: RallySimFansModule,
			},
		},
	}
}

// Site returns the row for id.
func (t *SiteTable) Site(id HookID) (Site, bool) {
	if id < 0 || id >= hookCount {
		return Site{}, false
	}
	return t.Sites[id], true
}

type siteFile struct {
	ReferenceBase *uint64              `yaml:"reference_base"`
	Hooks         map[string]siteEntry `yaml:"hooks"`
}

type siteEntry struct {
	Site           *uint64 `yaml:"site"`
	Virgin         *uint8  `yaml:"virgin"`
	Fallback       *uint64 `yaml:"fallback"`
	ChainBase      *uint64 `yaml:"chain_base"`
	ChainDisp      *uint64 `yaml:"chain_disp"`
	Pad            *bool   `yaml:"pad"`
	RequiresModule *string `yaml:"requires_module"`
	LoadEAX        *uint64 `yaml:"load_eax"`
}

// LoadSiteTable reads overrides for a different host build on top of
// DefaultSites:
//
//	reference_base: 0x400000
//	hooks:
//	  frame:
//	    site: 0x578CDF
//	    virgin: 0xA1
//	    fallback: 0x578CE4
//
// Calling conventions stay bound to the hook identity.
func LoadSiteTable(r io.Reader) (SiteTable, error) {
	table := DefaultSites()

	var file siteFile
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&file); err != nil && err != io.EOF {
		return SiteTable{}, errors.Wrap(err, "failed to parse site table")
	}

	if file.ReferenceBase != nil {
		table.ReferenceBase = Addr(*file.ReferenceBase)
	}
	for name, e := range file.Hooks {
		id, ok := hookByName(name)
		if !ok {
			return SiteTable{}, errors.Errorf("unknown hook %q in site table", name)
		}
		site := &table.Sites[id]
		setAddr(&site.Addr, e.Site)
		setAddr(&site.Fallback, e.Fallback)
		setAddr(&site.ChainBase, e.ChainBase)
		setAddr(&site.ChainDisp, e.ChainDisp)
		setAddr(&site.Convention.LoadEAX, e.LoadEAX)
		if e.Virgin != nil {
			site.Virgin = *e.Virgin
		}
		if e.Pad != nil {
			site.Pad = *e.Pad
		}
		if e.RequiresModule != nil {
			site.RequiresModule = *e.RequiresModule
		}
		if site.Addr == 0 {
			return SiteTable{}, errors.Errorf("hook %s has no site address", name)
		}
	}
	return table, nil
}

func setAddr(dst *Addr, v *uint64) {
	if v != nil {
		*dst = Addr(*v)
	}
}

func hookByName(name string) (HookID, bool) {
	for i, n := range hookNames {
		if strings.EqualFold(n, name) {
			return HookID(i), true
		}
	}
	return 0, false
}
