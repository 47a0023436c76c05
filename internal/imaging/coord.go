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

import "math"

// Maps a physical coordinate to the (row, col) index of the pixel containing it.
// Row indexes y and col indexes x. Results may lie outside the window
func (w Window) ToIndex(x, y float64) (row, col int) {
	fr, fc := w.ToIndexFrac(x, y)
	return int(math.Floor(fr)), int(math.Floor(fc))
}

// Continuous pixel index of a physical coordinate, measured from the lower left corner
func (w Window) ToIndexFrac(x, y float64) (row, col float64) {
	return (y - w.Origin[1]) / w.PixelScale, (x - w.Origin[0]) / w.PixelScale
}

// Physical coordinate of the center of pixel (row, col)
func (w Window) ToWorld(row, col int) (x, y float64) {
	return w.ToWorldFrac(float64(row)+0.5, float64(col)+0.5)
}

// Physical coordinate of a continuous pixel index
func (w Window) ToWorldFrac(row, col float64) (x, y float64) {
	return w.Origin[0] + col*w.PixelScale, w.Origin[1] + row*w.PixelScale
}

// Index range of sub within the pixel grid of w, clamped to the grid.
// The number of rows or cols is zero if there is nothing in common
func (w Window) indexRange(sub Window) (r0, c0, rows, cols int) {
	c0 = int(math.Round((sub.Origin[0] - w.Origin[0]) / w.PixelScale))
	r0 = int(math.Round((sub.Origin[1] - w.Origin[1]) / w.PixelScale))
	cols, rows = sub.Shape[0], sub.Shape[1]
	if c0 < 0 {
		cols += c0
		c0 = 0
	}
	if r0 < 0 {
		rows += r0
		r0 = 0
	}
	if c0+cols > w.Shape[0] {
		cols = w.Shape[0] - c0
	}
	if r0+rows > w.Shape[1] {
		rows = w.Shape[1] - r0
	}
	if rows < 0 || cols < 0 {
		rows, cols = 0, 0
	}
	return r0, c0, rows, cols
}

// Window of the pixel block starting at (r0, c0), aligned to the grid of w
func (w Window) block(r0, c0, rows, cols int) Window {
	return Window{
		Origin: [2]float64{
			w.Origin[0] + float64(c0)*w.PixelScale,
			w.Origin[1] + float64(r0)*w.PixelScale,
		},
		Shape:      [2]int{cols, rows},
		PixelScale: w.PixelScale,
	}
}
