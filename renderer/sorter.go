// Copyright 2024 Dominik Honnef and contributors
// SPDX-License-Identifier: Apache-2.0 OR MIT

package renderer

// SortSlot is one half of a sorter's ping-pong storage.
type SortSlot struct {
	Keys   BufferProxy
	Values BufferProxy
}

// SortBuffers are the buffers a sorter shares with the renderer.
//
// Info starts with a SortInfo, Dispatch holds DispatchIndirectArgs for the
// sort kernels. Preprocess appends key/value pairs to PingPong[0] and bumps
// the counters in Info and Dispatch.
type SortBuffers struct {
	Info     BufferProxy
	Dispatch BufferProxy
	PingPong [2]SortSlot
}

// Sorter sorts key/value pairs on the GPU in ascending key order.
//
// Sort must not reset any state of its own; the renderer clears the counters
// at the start of every frame. A key count of zero must be handled, which is
// the case naturally when all sort dispatches are indirect.
type Sorter interface {
	Buffers() *SortBuffers
	// Result returns the values buffer holding the sorted sequence after Sort.
	// It is the same buffer for every frame.
	Result() BufferProxy
	// Capacity returns the maximum number of pairs that can be sorted.
	Capacity() uint32
	// Setup records one-time initialization.
	Setup(rec *Recording)
	// Sort records all sort passes.
	Sort(rec *Recording)
}
