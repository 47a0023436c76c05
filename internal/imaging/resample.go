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


package imaging

import (
	"fmt"
	"math"

	"github.com/mlnoga/nightfit/internal/conv"
	"gonum.org/v1/gonum/mat"
)

// Checks that factor evenly divides both axes of the window
func checkFactor(w Window, factor int) error {
	if factor < 1 {
		return fmt.Errorf("reduction factor %d: %w", factor, ErrDimension)
	}
	if w.Shape[0]%factor != 0 || w.Shape[1]%factor != 0 {
		return fmt.Errorf("reduction factor %d does not divide shape %dx%d: %w", factor, w.Shape[0], w.Shape[1], ErrDimension)
	}
	return nil
}

// Window after binning by factor. The origin stays put
func (w Window) reduced(factor int) Window {
	return Window{
		Origin:     w.Origin,
		Shape:      [2]int{w.Shape[0] / factor, w.Shape[1] / factor},
		PixelScale: w.PixelScale * float64(factor),
	}
}

// Sums non-overlapping factor x factor blocks
func reduceSum(m *mat.Dense, factor int) *mat.Dense {
	rows, cols := m.Dims()
	res := mat.NewDense(rows/factor, cols/factor, nil)
	for r := 0; r < rows/factor*factor; r++ {
		src := m.RawRowView(r)
		dst := res.RawRowView(r / factor)
		for c := 0; c < cols/factor*factor; c++ {
			dst[c/factor] += src[c]
		}
	}
	return res
}

// Marks a block as masked if any of its pixels is masked
func reduceOr(m *mat.Dense, factor int) *mat.Dense {
	res := reduceSum(m, factor)
	rows, _ := res.Dims()
	for r := 0; r < rows; r++ {
		row := res.RawRowView(r)
		for c, v := range row {
			if v != 0 {
				row[c] = 1
			}
		}
	}
	return res
}

// Returns a new image binned by factor, summing the flux of each block.
// The pixel scale grows by factor, the origin is unchanged
func (img *Image) Reduce(factor int) (*Image, error) {
	if err := checkFactor(img.Window, factor); err != nil {
		return nil, err
	}
	meta := img.Meta.clone()
	meta.Window = img.Window.reduced(factor)
	return &Image{Meta: meta, Data: reduceSum(img.Data, factor)}, nil
}

// Trims pixels from the edges of the image in place. Accepts 1 value for all sides,
// 2 values for the x and y sides, or 4 values for left, right, bottom and top
func (img *Image) Crop(pixels ...int) error {
	w, err := img.Window.Crop(pixels...)
	if err != nil {
		return err
	}
	left, _, bottom, _, _ := cropSides(pixels)
	img.Data = sliceDense(img.Data, bottom, left, w.Shape[1], w.Shape[0])
	img.Window = w
	return nil
}

// Moves the origin by a physical offset and resamples the data with a Fourier phase shift,
// so the content stays at its physical location. If prepadded is false, the data is
// extended by edge replication before the shift to keep wrapped content out of the result
func (img *Image) ShiftOrigin(delta [2]float64, prepadded bool) error {
	scale := img.Window.PixelScale
	dx, dy := delta[0]/scale, delta[1]/scale
	if math.IsNaN(dx) || math.IsNaN(dy) || math.IsInf(dx, 0) || math.IsInf(dy, 0) {
		return fmt.Errorf("invalid shift (%g,%g): %w", delta[0], delta[1], ErrGeometry)
	}

	var shifted *mat.Dense
	if prepadded {
		shifted = conv.PhaseShift(img.Data, dy, dx)
	} else {
		pad := int(math.Ceil(math.Max(math.Abs(dx), math.Abs(dy)))) + 2
		padded := padReplicate(img.Data, pad)
		rows, cols := img.Data.Dims()
		shifted = sliceDense(conv.PhaseShift(padded, dy, dx), pad, pad, rows, cols)
	}
	img.Data.Copy(shifted)
	img.Window = img.Window.Shift(delta)
	return nil
}

// Extends m by pad pixels on every side, repeating the edge values
func padReplicate(m *mat.Dense, pad int) *mat.Dense {
	rows, cols := m.Dims()
	res := mat.NewDense(rows+2*pad, cols+2*pad, nil)
	clamp := func(i, n int) int {
		if i < 0 {
			return 0
		}
		if i >= n {
			return n - 1
		}
		return i
	}
	for r := 0; r < rows+2*pad; r++ {
		src := m.RawRowView(clamp(r-pad, rows))
		dst := res.RawRowView(r)
		for c := range dst {
			dst[c] = src[clamp(c-pad, cols)]
		}
	}
	return res
}
