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


package conv

import (
	"math"
	"math/cmplx"

	"gonum.org/v1/gonum/mat"
)

// Resamples m at fractional offsets, so that out(r,c) = m(r+dr, c+dc) for band-limited content.
// The shift is circular; callers pad the input to keep wrapped content out of the result.
// Total flux is preserved.
func PhaseShift(m mat.Matrix, dr, dc float64) *mat.Dense {
	rows, cols := m.Dims()
	s := Transform(m, rows, cols)
	w := s.width()

	colFactors := make([]complex128, w)
	for c := range colFactors {
		colFactors[c] = phaseFactor(c, cols, dc)
	}
	for r := 0; r < rows; r++ {
		fr := phaseFactor(r, rows, dr)
		for c := 0; c < w; c++ {
			s.Data[r*w+c] *= fr * colFactors[c]
		}
	}
	return s.Inverse()
}

// Phase factor exp(2 pi i k d / n) for frequency index i of an n-point transform.
// The Nyquist bin of even lengths uses the real part only, keeping the result real.
func phaseFactor(i, n int, d float64) complex128 {
	k := i
	if k > n/2 {
		k -= n
	}
	theta := 2 * math.Pi * float64(k) * d / float64(n)
	if n%2 == 0 && k == n/2 {
		return complex(math.Cos(theta), 0)
	}
	return cmplx.Exp(complex(0, theta))
}

// Returns n sub-pixel displacements evenly spread over a unit pixel, symmetric around zero
func DisplacementSpacing(n int) []float64 {
	res := make([]float64, n)
	if n == 1 {
		return res
	}
	lo := -float64(n-1) / float64(2*n)
	step := 1 / float64(n)
	for i := range res {
		res[i] = lo + float64(i)*step
	}
	return res
}

// Returns x and y displacement grids of ny rows and nx columns, scaled by the pixel scale
func DisplacementGrid(nx, ny int, scale float64) (x, y *mat.Dense) {
	sx, sy := DisplacementSpacing(nx), DisplacementSpacing(ny)
	x, y = mat.NewDense(ny, nx, nil), mat.NewDense(ny, nx, nil)
	for r := 0; r < ny; r++ {
		for c := 0; c < nx; c++ {
			x.Set(r, c, sx[c]*scale)
			y.Set(r, c, sy[r]*scale)
		}
	}
	return x, y
}
