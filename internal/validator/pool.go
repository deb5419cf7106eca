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

package validator

import (
	"sync"

	"github.com/pbnjay/memory"
)

// pixelPool hands out []float32 buffers sized for one frame's pixel
// array, keyed by exact size. Only float32 is needed here: the
// Validator processes one frame at a time (§5), so int8/int16/int32/
// int64/float64 variants a general-purpose sized-buffer pool might
// offer have no caller in this package.
var pixelPool = struct {
	sync.RWMutex
	m map[int]*sync.Pool
}{m: make(map[int]*sync.Pool)}

// maxPooledSize caps how large a buffer this pool will retain for
// reuse, derived from total physical memory so a pathologically large
// frame doesn't pin an oversized buffer in the pool forever. Sized
// generously at 1/16th of total RAM, in float32 elements.
var maxPooledSize = func() int {
	total := memory.TotalMemory()
	if total == 0 {
		return 256 << 20 // 256M elements (1GiB) if the probe fails
	}
	return int(total / 16 / 4)
}()

func sizedPool(size int) *sync.Pool {
	pixelPool.RLock()
	p := pixelPool.m[size]
	pixelPool.RUnlock()
	if p != nil {
		return p
	}
	pixelPool.Lock()
	defer pixelPool.Unlock()
	if p = pixelPool.m[size]; p != nil {
		return p
	}
	p = &sync.Pool{New: func() interface{} { return make([]float32, size) }}
	pixelPool.m[size] = p
	return p
}

// getPixelBuffer returns a []float32 of exactly size length, reused
// from the pool when available.
func getPixelBuffer(size int) []float32 {
	return sizedPool(size).Get().([]float32)
}

// putPixelBuffer returns buf to the pool, unless it exceeds the
// retained-size ceiling, in which case it is left for the garbage
// collector instead of growing the pool unbounded.
func putPixelBuffer(buf []float32) {
	if len(buf) > maxPooledSize {
		return
	}
	sizedPool(len(buf)).Put(buf)
}
