// Copyright 2024 Dominik Honnef and contributors
// SPDX-License-Identifier: Apache-2.0 OR MIT

// Package profiler defines the profiling hooks that recording code calls
// without depending on a particular GPU backend.
package profiler

type ProfilerGroup interface {
	Start(label string) ProfilerGroup
	End()
}

// Nop is a ProfilerGroup that records nothing.
var Nop ProfilerGroup = nop{}

type nop struct{}

func (nop) Start(string) ProfilerGroup { return nop{} }
func (nop) End()                       {}

// Or returns g, or Nop if g is nil.
func Or(g ProfilerGroup) ProfilerGroup {
	if g == nil {
		return Nop
	}
	return g
}
