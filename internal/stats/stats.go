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
	"fmt"
	"math"

	"github.com/mlnoga/nightfit/internal/qsort"
	"github.com/valyala/fastrand"
	"gonum.org/v1/gonum/floats"
)

// Basic statistics on data arrays
type BasicStats struct {
	Min    float64 // Minimum
	Max    float64 // Maximum
	Mean   float64 // Mean (average)
	StdDev float64 // Standard deviation (norm 2, sigma)

	Location float64 // Selected location indicator (standard: sigma-clipped median)
	Scale    float64 // Selected scale indicator (standard: MAD normalized to Gaussian sigma)
}

// Pretty print basic stats to string
func (s *BasicStats) String() string {
	return fmt.Sprintf("Min %.6g Max %.6g Mean %.6g StdDev %.6g Location %.6g Scale %.6g",
		s.Min, s.Max, s.Mean, s.StdDev, s.Location, s.Scale)
}

// Pretty print basic stats to CSV header
func (s *BasicStats) ToCSVHeader() string {
	return "Min,Max,Mean,StdDev,Location,Scale"
}

// Pretty print basic stats to CSV line item
func (s *BasicStats) ToCSVLine() string {
	return fmt.Sprintf("%.6g,%.6g,%.6g,%.6g,%.6g,%.6g",
		s.Min, s.Max, s.Mean, s.StdDev, s.Location, s.Scale)
}

// Calculate basic statistics for a data array. NaNs must be removed by the caller
func CalcBasicStats(data []float64) (s *BasicStats) {
	s = &BasicStats{}
	if len(data) == 0 {
		return s
	}
	s.Min, s.Max = floats.Min(data), floats.Max(data)
	s.Mean = floats.Sum(data) / float64(len(data))
	s.StdDev = math.Sqrt(calcVariance(data, s.Mean))
	return s
}

// Number of samples drawn for location and scale estimates on large arrays
const numSamples = 128 * 1024

// Calculates basic statistics plus robust location and scale.
// Large arrays are subsampled for the robust estimates
func CalcExtendedStats(data []float64) (s *BasicStats) {
	s = CalcBasicStats(data)
	if len(data) == 0 {
		return s
	}
	if len(data) > numSamples {
		samples := make([]float64, numSamples)
		rng := fastrand.RNG{}
		for i := range samples {
			samples[i] = data[rng.Uint32n(uint32(len(data)))]
		}
		data = samples
	}
	s.Location, s.Scale = SigmaClippedMedianAndMAD(data, 2, 2)
	return s
}

func calcVariance(data []float64, mean float64) (result float64) {
	for _, d := range data {
		diff := d - mean
		result += diff * diff
	}
	return result / float64(len(data))
}

func MeanStdDev(xs []float64) (mean, stdDev float64) {
	mean = floats.Sum(xs) / float64(len(xs))
	return mean, math.Sqrt(calcVariance(xs, mean))
}

// Returns the sigma clipped median of the data and the MAD around it. Does not change the data.
func SigmaClippedMedianAndMAD(data []float64, sigmaLow, sigmaHigh float64) (median, mad float64) {
	tmp := make([]float64, len(data))
	copy(tmp, data)
	remaining := tmp
	for {
		median = qsort.QSelectMedian(remaining) // reorders, doesnt matter

		// calculate std deviation w.r.t. median
		stdDev := 0.0
		for _, r := range remaining {
			diff := r - median
			stdDev += diff * diff
		}
		stdDev /= float64(len(remaining))
		stdDev = math.Sqrt(stdDev) * 1.134

		// reject outliers based on sigma
		lowBound := median - sigmaLow*stdDev
		highBound := median + sigmaHigh*stdDev
		kept := 0
		for i := 0; i < len(remaining); i++ {
			r := remaining[i]
			if r >= lowBound && r <= highBound {
				remaining[kept] = r
				kept++
			}
		}
		rejected := len(remaining) - kept
		remaining = remaining[:kept]

		// once converged, return results
		if rejected == 0 || len(remaining) <= 3 {
			tmp = tmp[:len(data)]
			for i, d := range data {
				tmp[i] = math.Abs(d - median)
			}
			mad = qsort.QSelectMedian(tmp) * 1.4826
			return median, mad
		}
	}
}

// Calculates fast approximate median of the (presumably large) data by subsampling the given number of values and taking the median of that.
// Uses provided samples array as scratchpad
func FastApproxMedian(data []float64, samples []float64) float64 {
	max := uint32(len(data))
	rng := fastrand.RNG{}
	for i := range samples {
		samples[i] = data[rng.Uint32n(max)]
	}
	return qsort.QSelectMedian(samples)
}

// Median of the data. Does not change the data
func Median(data []float64) float64 {
	tmp := append([]float64(nil), data...)
	return qsort.QSelectMedian(tmp)
}
