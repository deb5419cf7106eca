// Copyright (C) 2020 Markus L. Noga
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License
// along with this program.  If not, see <https://www.gnu.org/licenses/>.

// Package stats computes the robust per-frame summaries the Validator
// scores frames against: median, MAD, percentiles and a two-pass
// mean/std. The selection kernel is an in-place quickselect, grounded
// on a qsort.QSelectMedianFloat32-style kernel rather than a full
// sort, since the Validator only ever needs a handful of order
// statistics out of a frame that can hold tens of millions of pixels.
package stats

import (
	"github.com/klauspost/cpuid/v2"
)

// cutoverMultiplier converts a chunk width into an insertion-sort
// cutover: below this many elements, insertion sort's simple compare
// loop beats quickselect's partitioning overhead.
const cutoverMultiplier = 8

// smallCutover is the slice length below which insertion sort beats
// quickselect's partitioning overhead, matching the cutover common
// selection kernels use for small star-aperture gathers. Computed once
// at package init from the host's chunk width, so an AVX2-capable host
// — whose wider compare loop vectorizes well at larger lengths —
// switches to quickselect later than a host without it.
var smallCutover = chunkSize() * cutoverMultiplier

// chunkSize picks a partitioning granularity that plays well with the
// CPU's cache line width; AVX2-capable hosts get a wider chunk.
func chunkSize() int {
	if cpuid.CPU.Has(cpuid.AVX2) {
		return 8
	}
	return 4
}

// Select reorders data in place and returns the k-th smallest element
// (0-indexed). data is partitioned as a side effect; callers that need
// the original order must copy first.
func Select(data []float32, k int) float32 {
	lo, hi := 0, len(data)-1
	for {
		if hi-lo < smallCutover {
			insertionSort(data[lo : hi+1])
			return data[lo+k-lo]
		}
		p := partition(data, lo, hi)
		switch {
		case k == p:
			return data[p]
		case k < p:
			hi = p - 1
		default:
			lo = p + 1
		}
	}
}

func insertionSort(a []float32) {
	for i := 1; i < len(a); i++ {
		v := a[i]
		j := i - 1
		for j >= 0 && a[j] > v {
			a[j+1] = a[j]
			j--
		}
		a[j+1] = v
	}
}

// partition applies median-of-three pivot selection and Lomuto-style
// (single forward scan) partitioning, returning the pivot's final index.
func partition(data []float32, lo, hi int) int {
	mid := lo + (hi-lo)/2
	medianOfThree(data, lo, mid, hi)
	pivot := data[mid]
	data[mid], data[hi-1] = data[hi-1], data[mid]

	i := lo
	for j := lo; j < hi-1; j++ {
		if data[j] < pivot {
			data[i], data[j] = data[j], data[i]
			i++
		}
	}
	data[i], data[hi-1] = data[hi-1], data[i]
	return i
}

func medianOfThree(data []float32, lo, mid, hi int) {
	if data[mid] < data[lo] {
		data[mid], data[lo] = data[lo], data[mid]
	}
	if data[hi] < data[lo] {
		data[hi], data[lo] = data[lo], data[hi]
	}
	if data[hi] < data[mid] {
		data[hi], data[mid] = data[mid], data[hi]
	}
}

// Median returns the median of data, destructively reordering it.
// For an even-length slice it averages the two central elements.
func Median(data []float32) float64 {
	n := len(data)
	if n == 0 {
		return 0
	}
	if n%2 == 1 {
		return float64(Select(data, n/2))
	}
	hi := Select(data, n/2)
	lo := Select(data[:n/2], n/2-1)
	return (float64(lo) + float64(hi)) / 2
}

// Percentile returns the p-th percentile (0..100) of data, destructively
// reordering it. Returns the order statistic at index
// floor(p/100*(n-1)) with no interpolation, which is sufficient for the
// Validator's P10/P90 thresholds and avoids interpolation edge cases at
// the tails of a near-constant dark frame.
func Percentile(data []float32, p float64) float64 {
	n := len(data)
	if n == 0 {
		return 0
	}
	idx := int(p / 100 * float64(n-1))
	if idx < 0 {
		idx = 0
	}
	if idx > n-1 {
		idx = n - 1
	}
	return float64(Select(data, idx))
}

// MAD returns the median absolute deviation from the given center,
// destructively reordering a scratch copy the caller supplies via
// scratch (must be len(data)). Callers draw scratch from the pool in
// internal/validator to avoid an extra allocation per frame.
func MAD(data []float32, center float64, scratch []float32) float64 {
	for i, v := range data {
		scratch[i] = float32(abs64(float64(v) - center))
	}
	return Median(scratch)
}

func abs64(x float64) float64 {
	if x < 0 {
		return -x
	}
	return x
}
