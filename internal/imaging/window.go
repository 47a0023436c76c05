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
)

// An axis-aligned rectangle in physical coordinates, mapped onto a pixel grid.
// Index 0 refers to the x axis, index 1 to the y axis.
type Window struct {
	Origin     [2]float64 // Lower left corner
	Shape      [2]int     // Number of pixels along x and y
	PixelScale float64    // Physical units per pixel edge
}

// Relative tolerance for comparing physical coordinates, in units of the pixel scale
const gridTolerance = 1e-6

// Creates a window, validating shape and scale
func NewWindow(origin [2]float64, shape [2]int, pixelScale float64) (Window, error) {
	w := Window{Origin: origin, Shape: shape, PixelScale: pixelScale}
	if err := w.validate(); err != nil {
		return Window{}, err
	}
	return w, nil
}

func (w Window) validate() error {
	if w.Empty() {
		return fmt.Errorf("non-positive window shape %dx%d: %w", w.Shape[0], w.Shape[1], ErrGeometry)
	}
	if !(w.PixelScale > 0) || math.IsInf(w.PixelScale, 0) {
		return fmt.Errorf("invalid pixel scale %g: %w", w.PixelScale, ErrGeometry)
	}
	return nil
}

// Upper right corner, origin + shape*scale
func (w Window) Extent() [2]float64 {
	return [2]float64{
		w.Origin[0] + float64(w.Shape[0])*w.PixelScale,
		w.Origin[1] + float64(w.Shape[1])*w.PixelScale,
	}
}

func (w Window) Center() [2]float64 {
	return [2]float64{
		w.Origin[0] + 0.5*float64(w.Shape[0])*w.PixelScale,
		w.Origin[1] + 0.5*float64(w.Shape[1])*w.PixelScale,
	}
}

// Number of pixels in the window
func (w Window) Pixels() int {
	return w.Shape[0] * w.Shape[1]
}

// True for the zero window returned when there is no overlap
func (w Window) Empty() bool {
	return w.Shape[0] <= 0 || w.Shape[1] <= 0
}

// Equality by origin, shape and scale. Origins are compared up to rounding noise
func (w Window) Equal(o Window) bool {
	if w.Shape != o.Shape || w.PixelScale != o.PixelScale {
		return false
	}
	tol := gridTolerance * w.PixelScale
	return math.Abs(w.Origin[0]-o.Origin[0]) <= tol && math.Abs(w.Origin[1]-o.Origin[1]) <= tol
}

// Tests whether the two windows share a region of positive area
func (w Window) Overlaps(o Window) bool {
	_, ok := w.Intersect(o)
	return ok
}

// Returns the window covering the common region, on the pixel scale of the receiver.
// Returns false if the region is empty along any axis. A zero-area intersection is no overlap, not an error
func (w Window) Intersect(o Window) (Window, bool) {
	we, oe := w.Extent(), o.Extent()
	res := Window{PixelScale: w.PixelScale}
	for i := 0; i < 2; i++ {
		lo := math.Max(w.Origin[i], o.Origin[i])
		hi := math.Min(we[i], oe[i])
		n := int(math.Round((hi - lo) / w.PixelScale))
		if n <= 0 {
			return Window{}, false
		}
		res.Origin[i] = lo
		res.Shape[i] = n
	}
	return res, true
}

// Returns the smallest window on the pixel scale of the receiver enclosing both windows
func (w Window) Union(o Window) Window {
	we, oe := w.Extent(), o.Extent()
	res := Window{PixelScale: w.PixelScale}
	for i := 0; i < 2; i++ {
		lo := math.Min(w.Origin[i], o.Origin[i])
		hi := math.Max(we[i], oe[i])
		res.Origin[i] = lo
		res.Shape[i] = int(math.Ceil((hi-lo)/w.PixelScale - gridTolerance))
	}
	return res
}

// Returns the window moved by the given physical offset
func (w Window) Shift(delta [2]float64) Window {
	w.Origin[0] += delta[0]
	w.Origin[1] += delta[1]
	return w
}

// Returns the window grown by the given number of pixels on every side
func (w Window) Pad(pixels int) Window {
	w.Origin[0] -= float64(pixels) * w.PixelScale
	w.Origin[1] -= float64(pixels) * w.PixelScale
	w.Shape[0] += 2 * pixels
	w.Shape[1] += 2 * pixels
	return w
}

// Tests whether the physical point lies inside the window
func (w Window) Contains(x, y float64) bool {
	e := w.Extent()
	return x >= w.Origin[0] && x < e[0] && y >= w.Origin[1] && y < e[1]
}

// Expands 1, 2 or 4 crop amounts into left, right, bottom and top pixel counts
func cropSides(pixels []int) (left, right, bottom, top int, err error) {
	switch len(pixels) {
	case 1:
		left, right, bottom, top = pixels[0], pixels[0], pixels[0], pixels[0]
	case 2:
		left, right, bottom, top = pixels[0], pixels[0], pixels[1], pixels[1]
	case 4:
		left, right, bottom, top = pixels[0], pixels[1], pixels[2], pixels[3]
	default:
		return 0, 0, 0, 0, fmt.Errorf("crop takes 1, 2 or 4 values, got %d: %w", len(pixels), ErrGeometry)
	}
	if left < 0 || right < 0 || bottom < 0 || top < 0 {
		return 0, 0, 0, 0, fmt.Errorf("negative crop %v: %w", pixels, ErrGeometry)
	}
	return left, right, bottom, top, nil
}

// Returns the window with pixels trimmed from its edges. Accepts 1 value for all sides,
// 2 values for the x and y sides, or 4 values for left, right, bottom and top
func (w Window) Crop(pixels ...int) (Window, error) {
	left, right, bottom, top, err := cropSides(pixels)
	if err != nil {
		return Window{}, err
	}
	if left+right >= w.Shape[0] || bottom+top >= w.Shape[1] {
		return Window{}, fmt.Errorf("crop %v exceeds window %dx%d: %w", pixels, w.Shape[0], w.Shape[1], ErrGeometry)
	}
	w.Origin[0] += float64(left) * w.PixelScale
	w.Origin[1] += float64(bottom) * w.PixelScale
	w.Shape[0] -= left + right
	w.Shape[1] -= bottom + top
	return w, nil
}

func (w Window) String() string {
	return fmt.Sprintf("%dx%d@(%g,%g)/%g", w.Shape[0], w.Shape[1], w.Origin[0], w.Origin[1], w.PixelScale)
}
