// Copyright 2024 Dominik Honnef and contributors
// SPDX-License-Identifier: Apache-2.0 OR MIT

package cpu

import (
	"honnef.co/go/splat/radix"
	"honnef.co/go/splat/renderer"
)

const RADIX_MASK = radix.RadixSize - 1

// SortHistogram counts the digits of every block of keys.
func SortHistogram(numWgs uint32, resources []CPUBinding) {
	info := fromBytes[renderer.SortInfo](resources[0].(CPUBuffer))
	pass := fromBytes[radix.PassUniform](resources[1].(CPUBuffer))
	keys := sliceOf[uint32](resources[2])
	histogram := sliceOf[uint32](resources[3])

	n := info.KeysSize
	numBlocks := blockCount(n)
	for wg := range numWgs {
		var counts [radix.RadixSize]uint32
		for local := range uint32(renderer.SortBlockSize) {
			ix := wg*renderer.SortBlockSize + local
			if ix < n {
				counts[(keys[ix]>>pass.Shift)&RADIX_MASK]++
			}
		}
		for local := range uint32(radix.RadixSize) {
			histogram[local*numBlocks+wg] = counts[local]
		}
	}
}

// SortScan replaces the histogram with its exclusive prefix sum. It is
// dispatched as a single workgroup.
func SortScan(_ uint32, resources []CPUBinding) {
	info := fromBytes[renderer.SortInfo](resources[0].(CPUBuffer))
	histogram := sliceOf[uint32](resources[1])

	total := blockCount(info.KeysSize) * radix.RadixSize
	var carry uint32
	for base := uint32(0); base < total; base += renderer.SortBlockSize {
		end := min(base+renderer.SortBlockSize, total)
		for ix := base; ix < end; ix++ {
			v := histogram[ix]
			histogram[ix] = carry
			carry += v
		}
	}
}

// SortScatter moves every key/value pair to the slot given by the scanned
// histogram and its rank among equal digits in its block.
func SortScatter(numWgs uint32, resources []CPUBinding) {
	info := fromBytes[renderer.SortInfo](resources[0].(CPUBuffer))
	pass := fromBytes[radix.PassUniform](resources[1].(CPUBuffer))
	srcKeys := sliceOf[uint32](resources[2])
	srcValues := sliceOf[uint32](resources[3])
	dstKeys := sliceOf[uint32](resources[4])
	dstValues := sliceOf[uint32](resources[5])
	histogram := sliceOf[uint32](resources[6])

	n := info.KeysSize
	numBlocks := blockCount(n)
	for wg := range numWgs {
		var digits [renderer.SortBlockSize]uint32
		for local := range uint32(renderer.SortBlockSize) {
			ix := wg*renderer.SortBlockSize + local
			digits[local] = radix.RadixSize
			if ix < n {
				digits[local] = (srcKeys[ix] >> pass.Shift) & RADIX_MASK
			}
		}
		for local := range uint32(renderer.SortBlockSize) {
			ix := wg*renderer.SortBlockSize + local
			if ix >= n {
				continue
			}
			digit := digits[local]
			var rank uint32
			for _, d := range digits[:local] {
				if d == digit {
					rank++
				}
			}
			dst := histogram[digit*numBlocks+wg] + rank
			dstKeys[dst] = srcKeys[ix]
			dstValues[dst] = srcValues[ix]
		}
	}
}
