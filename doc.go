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

/*
Package rbrhook installs in-process code hooks into Richard Burns Rally so that
a plugin gets called at points the host's own plugin interface does not expose.
It should be loaded into the host process only, as part of a plugin DLL.

# Platforms supported

The package rewrites the host's machine code at runtime, therefore it targets
one OS/CPU combination:

  - Windows / x86 (386)

The platform-neutral parts (codec, encoder, site table, proxy generation and
the detour state machine) build and test everywhere. On Unix the process
memory accessor uses mprotect, so the memory contract can be exercised there.

# The concept

Each hook overwrites the instruction at a fixed address with a 5-byte
relative jump (or call), optionally followed by a NOP so the stub covers the
whole displaced instruction. The jump lands in a small generated proxy that
saves the registers the site needs, calls the plugin callback, restores the
registers, reproduces what the displaced instruction did and continues in the
previous handler.

The previous handler is the host's own continuation when the site is
untouched. If another plugin already put a rel32 stub there, its target is
decoded from the stub and becomes the previous handler, so any number of
plugins using the same convention chain up: the last one installed runs
first and the host code still runs exactly once.

Typical use from a plugin DLL:

	detours := rbrhook.NewDetourManager()
	plugin := rbrhook.NewPlugin("My Plugin", detours)
	plugin.SetCallbacks(rbrhook.Callbacks{Initialize: initialize})
	plugin.SetHookCallback(rbrhook.EndScene, rbrhook.Addr(windows.NewCallback(onEndScene)))

	// the host calls plugin.Name() first, which installs the EndScene hook

# Caveats

Hooks are never removed. An install attempt latches even if writing the stub
fails, and such a hook is not retried. The patch-site table matches one build
of the host executable; use [LoadSiteTable] for another one.
*/
package rbrhook
