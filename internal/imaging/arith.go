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

	"gonum.org/v1/gonum/mat"
)

// Returns views onto the common region of two windowed buffers. Both views have the same size.
// Returns nil views if the windows do not overlap, and an error if the pixel scales differ
func overlapViews(wa Window, a *mat.Dense, wb Window, b *mat.Dense) (va, vb *mat.Dense, err error) {
	if err := checkScale(wa, wb); err != nil {
		return nil, nil, err
	}
	inter, ok := wa.Intersect(wb)
	if !ok {
		return nil, nil, nil
	}
	ra, ca, rows, cols := wa.indexRange(inter)
	rb, cb, rowsB, colsB := wb.indexRange(inter)
	if rowsB < rows {
		rows = rowsB
	}
	if colsB < cols {
		cols = colsB
	}
	if rows <= 0 || cols <= 0 {
		return nil, nil, nil
	}
	return sliceDense(a, ra, ca, rows, cols), sliceDense(b, rb, cb, rows, cols), nil
}

// Arithmetic between windows requires a common pixel scale
func checkScale(wa, wb Window) error {
	if math.Abs(wa.PixelScale-wb.PixelScale) > gridTolerance*wa.PixelScale {
		return fmt.Errorf("pixel scale %g does not match %g: %w", wb.PixelScale, wa.PixelScale, ErrDimension)
	}
	return nil
}

// Applies op row by row to the overlap of two windowed buffers
func overlapApply(wa Window, a *mat.Dense, wb Window, b *mat.Dense, op func(dst, src []float64)) error {
	va, vb, err := overlapViews(wa, a, wb, b)
	if err != nil || va == nil {
		return err
	}
	rows, _ := va.Dims()
	for r := 0; r < rows; r++ {
		op(va.RawRowView(r), vb.RawRowView(r))
	}
	return nil
}

func addRow(dst, src []float64) {
	for i, v := range src {
		dst[i] += v
	}
}

func subRow(dst, src []float64) {
	for i, v := range src {
		dst[i] -= v
	}
}

func assignRow(dst, src []float64) {
	copy(dst, src)
}

// Adds other into the image on their common region. Pixels outside the overlap are untouched,
// and an empty overlap is a no-op
func (img *Image) Add(other *Image) error {
	return img.overlapApply(other, addRow)
}

// Subtracts other from the image on their common region
func (img *Image) Subtract(other *Image) error {
	return img.overlapApply(other, subRow)
}

// Overwrites the image with the pixels of other on their common region
func (img *Image) Assign(other *Image) error {
	return img.overlapApply(other, assignRow)
}

func (img *Image) overlapApply(other *Image, op func(dst, src []float64)) error {
	if err := img.checkShape(); err != nil {
		return err
	}
	if err := other.checkShape(); err != nil {
		return err
	}
	return overlapApply(img.Window, img.Data, other.Window, other.Data, op)
}
