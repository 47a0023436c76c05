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

	"gonum.org/v1/gonum/mat"
)

// Geometry and calibration shared by all image roles
type Meta struct {
	Window    Window
	Zeropoint *float64 // Photometric zero point, nil if uncalibrated
	Note      string
}

// Returns the zero point and whether one is set
func (m *Meta) ZeroPoint() (float64, bool) {
	if m.Zeropoint == nil {
		return 0, false
	}
	return *m.Zeropoint, true
}

// Sets the zero point
func (m *Meta) SetZeroPoint(zp float64) {
	m.Zeropoint = &zp
}

func (m Meta) clone() Meta {
	if m.Zeropoint != nil {
		zp := *m.Zeropoint
		m.Zeropoint = &zp
	}
	return m
}

// A 2-D pixel buffer bound to a window. Data has one row per y pixel and one column
// per x pixel, row 0 at the bottom of the window.
type Image struct {
	Meta
	Data *mat.Dense
	view bool // Data borrows the storage of another image
}

// Creates an image from the given data, owning it. The window shape follows the data
func NewImage(data *mat.Dense, pixelScale float64, origin [2]float64) (*Image, error) {
	if data == nil {
		return nil, fmt.Errorf("nil image data: %w", ErrDimension)
	}
	rows, cols := data.Dims()
	w, err := NewWindow(origin, [2]int{cols, rows}, pixelScale)
	if err != nil {
		return nil, err
	}
	return &Image{Meta: Meta{Window: w}, Data: data}, nil
}

// Creates a zero image covering the given window
func NewImageFromWindow(w Window) (*Image, error) {
	if err := w.validate(); err != nil {
		return nil, err
	}
	return &Image{Meta: Meta{Window: w}, Data: mat.NewDense(w.Shape[1], w.Shape[0], nil)}, nil
}

func (img *Image) PixelScale() float64 {
	return img.Window.PixelScale
}

func (img *Image) Origin() [2]float64 {
	return img.Window.Origin
}

// True if the image borrows the storage of another image
func (img *Image) IsView() bool {
	return img.view
}

// Checks that the data matches the window
func (img *Image) checkShape() error {
	if img.Data == nil {
		return fmt.Errorf("nil data for window %s: %w", img.Window, ErrDimension)
	}
	rows, cols := img.Data.Dims()
	if rows != img.Window.Shape[1] || cols != img.Window.Shape[0] {
		return fmt.Errorf("data %dx%d does not match window %s: %w", cols, rows, img.Window, ErrDimension)
	}
	return nil
}

// Returns a view onto the part of the image covered by w. The view aliases the storage
// of the image, so writes through it are visible in the parent. Returns false if w does not overlap
func (img *Image) SubImage(w Window) (*Image, bool) {
	r0, c0, rows, cols, ok := img.subRange(w)
	if !ok {
		return nil, false
	}
	return &Image{
		Meta: Meta{Window: img.Window.block(r0, c0, rows, cols), Zeropoint: img.Zeropoint, Note: img.Note},
		Data: sliceDense(img.Data, r0, c0, rows, cols),
		view: true,
	}, true
}

// Index range of the overlap of w with the image
func (img *Image) subRange(w Window) (r0, c0, rows, cols int, ok bool) {
	inter, ok := img.Window.Intersect(w)
	if !ok {
		return 0, 0, 0, 0, false
	}
	r0, c0, rows, cols = img.Window.indexRange(inter)
	return r0, c0, rows, cols, rows > 0 && cols > 0
}

func sliceDense(m *mat.Dense, r0, c0, rows, cols int) *mat.Dense {
	return m.Slice(r0, r0+rows, c0, c0+cols).(*mat.Dense)
}

// Returns a deep copy with independent storage
func (img *Image) Copy() *Image {
	return &Image{Meta: img.Meta.clone(), Data: mat.DenseCopyOf(img.Data)}
}

// Returns an image of the same geometry filled with zeros
func (img *Image) BlankCopy() *Image {
	rows, cols := img.Data.Dims()
	return &Image{Meta: img.Meta.clone(), Data: mat.NewDense(rows, cols, nil)}
}

// Total flux
func (img *Image) Sum() float64 {
	return mat.Sum(img.Data)
}

// Adds a constant to every pixel
func (img *Image) AddScalar(v float64) {
	rows, _ := img.Data.Dims()
	for r := 0; r < rows; r++ {
		row := img.Data.RawRowView(r)
		for c := range row {
			row[c] += v
		}
	}
}

// Returns the pixel values as a vector, in row-major order
func (img *Image) Flatten() *mat.VecDense {
	return mat.NewVecDense(img.Window.Pixels(), flattenDense(img.Data))
}

func flattenDense(m *mat.Dense) []float64 {
	rows, cols := m.Dims()
	res := make([]float64, 0, rows*cols)
	for r := 0; r < rows; r++ {
		res = append(res, m.RawRowView(r)...)
	}
	return res
}

// Returns the physical x and y coordinates of every pixel center
func (img *Image) Coordinates() (x, y *mat.Dense) {
	return img.Window.Coordinates()
}

// Returns the physical x and y coordinates of every pixel center of the window
func (w Window) Coordinates() (x, y *mat.Dense) {
	rows, cols := w.Shape[1], w.Shape[0]
	x, y = mat.NewDense(rows, cols, nil), mat.NewDense(rows, cols, nil)
	for r := 0; r < rows; r++ {
		for c := 0; c < cols; c++ {
			px, py := w.ToWorld(r, c)
			x.Set(r, c, px)
			y.Set(r, c, py)
		}
	}
	return x, y
}
