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

	"gonum.org/v1/gonum/mat"
)

// Weights for noise estimation
var enWeights = [9]float64{
	1, -2, 1,
	-2, 4, -2,
	1, -2, 1,
}

// Estimate the level of gaussian noise on a natural image. Windows touching NaN pixels are skipped.
// From J. Immerkær, “Fast Noise Variance Estimation”, Computer Vision and Image Understanding, Vol. 64, No. 2, pp. 300-302, Sep. 1996.
func EstimateNoise(data *mat.Dense) float64 {
	rows, cols := data.Dims()
	if rows < 3 || cols < 3 {
		return math.NaN()
	}
	sum, count := 0.0, 0
	for y := 1; y < rows-1; y++ {
		above, line, below := data.RawRowView(y-1), data.RawRowView(y), data.RawRowView(y+1)
		rowSum, rowCount := 0.0, 0
		for x := 1; x < cols-1; x++ {
			conv := enWeights[0]*above[x-1] + enWeights[1]*above[x] + enWeights[2]*above[x+1] +
				enWeights[3]*line[x-1] + enWeights[4]*line[x] + enWeights[5]*line[x+1] +
				enWeights[6]*below[x-1] + enWeights[7]*below[x] + enWeights[8]*below[x+1]
			if math.IsNaN(conv) {
				continue
			}
			rowSum += math.Abs(conv)
			rowCount++
		}
		sum += rowSum
		count += rowCount
	}
	if count == 0 {
		return math.NaN()
	}
	return sum * math.Sqrt(0.5*math.Pi) / (6 * float64(count))
}
