// Copyright 2024 Dominik Honnef and contributors
// SPDX-License-Identifier: Apache-2.0 OR MIT

package cpu_engine

import (
	"time"

	"honnef.co/go/splat/profiler"
)

// Timings is a profiler.ProfilerGroup that measures wall clock time.
type Timings struct {
	Label     string
	StartTime time.Time
	EndTime   time.Time
	Children  []*Timings
}

var _ profiler.ProfilerGroup = (*Timings)(nil)

func NewTimings(label string) *Timings {
	return &Timings{Label: label, StartTime: time.Now()}
}

func (t *Timings) Start(label string) profiler.ProfilerGroup {
	c := NewTimings(label)
	t.Children = append(t.Children, c)
	return c
}

func (t *Timings) End() {
	if !t.EndTime.IsZero() {
		panic("trying to end same group twice")
	}
	t.EndTime = time.Now()
}

func (t *Timings) Duration() time.Duration {
	if t.EndTime.IsZero() {
		return 0
	}
	return t.EndTime.Sub(t.StartTime)
}

// Walk calls fn for t and all of its descendants, depth first.
func (t *Timings) Walk(fn func(depth int, t *Timings)) {
	var walk func(depth int, t *Timings)
	walk = func(depth int, t *Timings) {
		fn(depth, t)
		for _, c := range t.Children {
			walk(depth+1, c)
		}
	}
	walk(0, t)
}
