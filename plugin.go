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

// Callbacks is the table of host events a plugin can handle. Nil entries are
// not forwarded.
type Callbacks struct {
	Initialize           func()
	DrawFrontEndPage     func()
	DrawResultsUI        func()
	HandleFrontEndEvents func(key byte, up, down, left, right, sel bool)
	TickFrontEndPage     func(delta float32)
	StageStarted         func(mapID int32, player string, falseStart bool)
	HandleResults        func(checkPoint1, checkPoint2, finishTime float32, player string)
	CheckPoint           func(checkPointTime float32, checkPointID int32, player string)
}

// Plugin is the host-facing side: the host calls its lifecycle methods and
// the first Name call installs the hooks whose callbacks are registered.
type Plugin struct {
	name        string
	cb          Callbacks
	hooks       [hookCount]Addr
	detours     *DetourManager
	initialized bool
}

// NewPlugin returns a plugin named name that installs hooks through detours.
func NewPlugin(name string, detours *DetourManager) *Plugin {
	return &Plugin{name: name, detours: detours}
}

// SetCallbacks replaces the forwarding table.
func (p *Plugin) SetCallbacks(cb Callbacks) {
	p.cb = cb
}

// SetHookCallback registers the native function run when the hook fires.
// Registering before the first Name call is what gets the hook installed;
// afterwards it only retargets an installed proxy.
func (p *Plugin) SetHookCallback(id HookID, fn Addr) {
	if id < 0 || id >= hookCount {
		return
	}
	p.hooks[id] = fn
	if p.initialized && fn != 0 {
		p.detours.SetCallback(id, fn)
	}
}

// Detours exposes the manager, mostly for diagnostics.
func (p *Plugin) Detours() *DetourManager {
	return p.detours
}

// Name is the first thing the host asks a plugin, so it doubles as the
// one-time initialization point.
func (p *Plugin) Name() string {
	if !p.initialized && p.cb.Initialize != nil {
		p.initialized = true
		p.cb.Initialize()
		for _, id := range InstallOrder {
			if fn := p.hooks[id]; fn != 0 {
				p.detours.Install(id, fn)
			}
		}
	}
	return p.name
}

// DrawFrontEndPage forwards the host's front-end draw call.
func (p *Plugin) DrawFrontEndPage() {
	if p.cb.DrawFrontEndPage != nil {
		p.cb.DrawFrontEndPage()
	}
}

// DrawResultsUI forwards the host's results screen draw call.
func (p *Plugin) DrawResultsUI() {
	if p.cb.DrawResultsUI != nil {
		p.cb.DrawResultsUI()
	}
}

// HandleFrontEndEvents forwards menu input.
func (p *Plugin) HandleFrontEndEvents(key byte, up, down, left, right, sel bool) {
	if p.cb.HandleFrontEndEvents != nil {
		p.cb.HandleFrontEndEvents(key, up, down, left, right, sel)
	}
}

// TickFrontEndPage forwards the front-end tick, delta in seconds.
func (p *Plugin) TickFrontEndPage(delta float32) {
	if p.cb.TickFrontEndPage != nil {
		p.cb.TickFrontEndPage(delta)
	}
}

// StageStarted forwards the start of a stage.
func (p *Plugin) StageStarted(mapID int32, player string, falseStart bool) {
	if p.cb.StageStarted != nil {
		p.cb.StageStarted(mapID, player, falseStart)
	}
}

// HandleResults forwards the split and finish times of a finished stage.
func (p *Plugin) HandleResults(checkPoint1, checkPoint2, finishTime float32, player string) {
	if p.cb.HandleResults != nil {
		p.cb.HandleResults(checkPoint1, checkPoint2, finishTime, player)
	}
}

// CheckPoint forwards a passed split.
func (p *Plugin) CheckPoint(checkPointTime float32, checkPointID int32, player string) {
	if p.cb.CheckPoint != nil {
		p.cb.CheckPoint(checkPointTime, checkPointID, player)
	}
}
