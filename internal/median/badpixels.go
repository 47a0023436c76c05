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

	"github.com/mlnoga/nightfit/internal/stats"
	"gonum.org/v1/gonum/mat"
)

// Generates a bad pixel mask. Pixels are considered bad if they deviate
// from a local 3x3 median filter by more than sigma times the scale
// of the overall differences from the local median. NaN pixels are always bad.
// Returns the mask with 1 for bad pixels, the number of bad pixels,
// and statistics of the differences
func BadPixelMask(data *mat.Dense, sigmaLow, sigmaHigh float64) (mask *mat.Dense, count int, diffStats *stats.BasicStats) {
	diff := Filter3x3(data)
	diff.Sub(data, diff)

	rows, cols := diff.Dims()
	finite := make([]float64, 0, rows*cols)
	for r := 0; r < rows; r++ {
		for _, v := range diff.RawRowView(r) {
			if !math.IsNaN(v) {
				finite = append(finite, v)
			}
		}
	}
	diffStats = stats.CalcExtendedStats(finite)
	scale := diffStats.Scale
	if scale == 0 {
		scale = diffStats.StdDev
	}
	thresholdLow := diffStats.Location - scale*sigmaLow
	thresholdHigh := diffStats.Location + scale*sigmaHigh

	mask = mat.NewDense(rows, cols, nil)
	for r := 0; r < rows; r++ {
		for c, v := range diff.RawRowView(r) {
			if math.IsNaN(v) || v < thresholdLow || v > thresholdHigh {
				mask.Set(r, c, 1)
				count++
			}
		}
	}
	return mask, count, diffStats
}
