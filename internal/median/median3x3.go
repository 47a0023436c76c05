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


package median

import (
	"math"
	"runtime"
	"sync"

	"github.com/mlnoga/nightfit/internal/qsort"
	"gonum.org/v1/gonum/mat"
)

// Applies a 3x3 median filter to the data and returns the result as a new matrix.
// Copies over the outermost rows and columns unchanged. Rows are split across all CPUs
func Filter3x3(data *mat.Dense) *mat.Dense {
	rows, cols := data.Dims()
	output := mat.DenseCopyOf(data)
	if rows < 3 || cols < 3 {
		return output
	}

	inner := rows - 2
	stepSize := max((inner+runtime.NumCPU()-1)/runtime.NumCPU(), 1)
	var wg sync.WaitGroup
	for start := 1; start < rows-1; start += stepSize {
		end := min(start+stepSize, rows-1)
		wg.Add(1)
		go func(start, end int) {
			defer wg.Done()
			for r := start; r < end; r++ {
				filterLine3x3(output.RawRowView(r), data.RawRowView(r-1), data.RawRowView(r), data.RawRowView(r+1))
			}
		}(start, end)
	}
	wg.Wait()
	return output
}

// Applies the 3x3 median to three lines and stores results in output.
// Does not touch first and last column
func filterLine3x3(output, above, line, below []float64) {
	gathered := make([]float64, 9)
	for i := 1; i < len(line)-1; i++ {
		copy(gathered[0:3], above[i-1:i+2])
		copy(gathered[3:6], line[i-1:i+2])
		copy(gathered[6:9], below[i-1:i+2])
		output[i] = Median(gathered)
	}
}

// Calculates the median of a float64 slice of length nine
// Modifies the elements in place
// From https://stackoverflow.com/questions/45453537/optimal-9-element-sorting-network-that-reduces-to-an-optimal-median-of-9-network
// See also http://ndevilla.free.fr/median/median/src/optmed.c for other sizes
// Array must not contain IEEE NaN
func MedianSlice9(a []float64) float64 { // 30x min/max
	if a[0] > a[1] {
		a[0], a[1] = a[1], a[0]
	}
	if a[3] > a[4] {
		a[3], a[4] = a[4], a[3]
	}
	if a[6] > a[7] {
		a[6], a[7] = a[7], a[6]
	}
	if a[1] > a[2] {
		a[1], a[2] = a[2], a[1]
	}
	if a[4] > a[5] {
		a[4], a[5] = a[5], a[4]
	}
	if a[7] > a[8] {
		a[7], a[8] = a[8], a[7]
	}
	if a[0] > a[1] {
		a[0], a[1] = a[1], a[0]
	}
	if a[3] > a[4] {
		a[3], a[4] = a[4], a[3]
	}
	if a[6] > a[7] {
		a[6], a[7] = a[7], a[6]
	}
	if a[0] > a[3] {
		a[3] = a[0]
	}
	if a[3] > a[6] {
		a[6] = a[3]
	}
	if a[1] > a[4] {
		a[1], a[4] = a[4], a[1]
	}
	if a[4] > a[7] {
		a[4] = a[7]
	}
	if a[1] > a[4] {
		a[4] = a[1]
	}
	if a[5] > a[8] {
		a[5] = a[8]
	}
	if a[2] > a[5] {
		a[2] = a[5]
	}
	if a[2] > a[4] {
		a[2], a[4] = a[4], a[2]
	}
	if a[4] > a[6] {
		a[4] = a[6]
	}
	if a[2] > a[4] {
		a[4] = a[2]
	}
	return a[4]
}

// Calculates the median of the finite values of a float64 slice. NaN values are skipped.
// Modifies the elements in place
func Median(a []float64) float64 {
	n := 0
	for _, v := range a {
		if !math.IsNaN(v) {
			a[n] = v
			n++
		}
	}
	a = a[:n]
	if len(a) == 0 {
		return math.NaN()
	}
	if len(a) == 9 {
		return MedianSlice9(a)
	}
	return qsort.QSelectMedian(a)
}
