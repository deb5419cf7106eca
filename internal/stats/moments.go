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

package stats

import (
	"math"

	"gonum.org/v1/gonum/stat"
)

// MeanStdDev computes the mean and sample standard deviation of data,
// delegating to gonum's numerically stable implementation rather than a
// naive sum-of-squares pass, which loses precision on frames whose pixel
// values cluster far from zero. gonum's MeanVariance is a corrected
// two-pass algorithm (mean first, then deviations), not a single-pass
// Welford accumulator, and it works on a float64 copy of data.
func MeanStdDev(data []float32) (mean, std float64) {
	if len(data) == 0 {
		return 0, 0
	}
	f64 := make([]float64, len(data))
	for i, v := range data {
		f64[i] = float64(v)
	}
	mean, variance := stat.MeanVariance(f64, nil)
	return mean, math.Sqrt(variance)
}
