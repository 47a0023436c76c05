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

// Observed data to be fit. Variance, mask and PSF are optional; presence is
// determined by the fields being non-nil. Mask pixels are 1 where masked, 0 otherwise.
type Target struct {
	Image
	Variance *mat.Dense
	Mask     *mat.Dense
	PSF      *PSF
}

// Creates a target from the given pixel data
func NewTarget(data *mat.Dense, pixelScale float64, origin [2]float64) (*Target, error) {
	img, err := NewImage(data, pixelScale, origin)
	if err != nil {
		return nil, err
	}
	return &Target{Image: *img}, nil
}

func (t *Target) HasVariance() bool { return t.Variance != nil }
func (t *Target) HasMask() bool     { return t.Mask != nil }
func (t *Target) HasPSF() bool      { return t.PSF != nil }

func (t *Target) checkAux(name string, m *mat.Dense) error {
	if m == nil {
		return nil
	}
	rows, cols := m.Dims()
	if rows != t.Window.Shape[1] || cols != t.Window.Shape[0] {
		return fmt.Errorf("%s %dx%d does not match data %dx%d: %w", name, cols, rows, t.Window.Shape[0], t.Window.Shape[1], ErrDimension)
	}
	return nil
}

// Attaches a variance map of the same shape as the data. Nil removes it
func (t *Target) SetVariance(v *mat.Dense) error {
	if err := t.checkAux("variance", v); err != nil {
		return err
	}
	t.Variance = v
	return nil
}

// Attaches a mask of the same shape as the data, nonzero where masked. Nil removes it
func (t *Target) SetMask(m *mat.Dense) error {
	if err := t.checkAux("mask", m); err != nil {
		return err
	}
	if m != nil {
		m = normalizeMask(m)
	}
	t.Mask = m
	return nil
}

func normalizeMask(m *mat.Dense) *mat.Dense {
	res := mat.DenseCopyOf(m)
	res.Apply(func(_, _ int, v float64) float64 {
		if v != 0 {
			return 1
		}
		return 0
	}, res)
	return res
}

// Attaches a PSF. Nil removes it
func (t *Target) SetPSF(p *PSF) {
	t.PSF = p
}

// Returns a view onto the region covered by w. Data, variance and mask alias the parent;
// the PSF is shared
func (t *Target) SubImage(w Window) (*Target, bool) {
	img, ok := t.Image.SubImage(w)
	if !ok {
		return nil, false
	}
	r0, c0, rows, cols, _ := t.subRange(w)
	res := &Target{Image: *img, PSF: t.PSF}
	if t.Variance != nil {
		res.Variance = sliceDense(t.Variance, r0, c0, rows, cols)
	}
	if t.Mask != nil {
		res.Mask = sliceDense(t.Mask, r0, c0, rows, cols)
	}
	return res, true
}

// Returns a deep copy, including variance, mask and PSF
func (t *Target) Copy() *Target {
	res := &Target{Image: *t.Image.Copy()}
	if t.Variance != nil {
		res.Variance = mat.DenseCopyOf(t.Variance)
	}
	if t.Mask != nil {
		res.Mask = mat.DenseCopyOf(t.Mask)
	}
	if t.PSF != nil {
		res.PSF = t.PSF.Copy()
	}
	return res
}

// Returns a target of the same geometry with zero data. Variance, mask and PSF are copied
func (t *Target) BlankCopy() *Target {
	res := t.Copy()
	res.Data.Zero()
	return res
}

// Returns a new target binned by factor. Variances of the pixels in a block are summed,
// a block is masked if any of its pixels is, and the PSF is binned by the same factor
func (t *Target) Reduce(factor int) (*Target, error) {
	img, err := t.Image.Reduce(factor)
	if err != nil {
		return nil, err
	}
	res := &Target{Image: *img}
	if t.Variance != nil {
		res.Variance = reduceSum(t.Variance, factor)
	}
	if t.Mask != nil {
		res.Mask = reduceOr(t.Mask, factor)
	}
	if t.PSF != nil {
		if res.PSF, err = t.PSF.Reduce(factor); err != nil {
			return nil, err
		}
	}
	return res, nil
}

// Trims pixels from the edges in place, together with variance and mask.
// The PSF is a kernel in its own frame and is left as is
func (t *Target) Crop(pixels ...int) error {
	w, err := t.Window.Crop(pixels...)
	if err != nil {
		return err
	}
	left, _, bottom, _, _ := cropSides(pixels)
	if t.Variance != nil {
		t.Variance = sliceDense(t.Variance, bottom, left, w.Shape[1], w.Shape[0])
	}
	if t.Mask != nil {
		t.Mask = sliceDense(t.Mask, bottom, left, w.Shape[1], w.Shape[0])
	}
	return t.Image.Crop(pixels...)
}

// Returns per-pixel fit weights: inverse variance, or 1 without variance,
// and 0 for masked pixels or pixels with non-positive variance
func (t *Target) Weight() *mat.Dense {
	rows, cols := t.Data.Dims()
	w := mat.NewDense(rows, cols, nil)
	for r := 0; r < rows; r++ {
		for c := 0; c < cols; c++ {
			v := 1.0
			if t.Variance != nil {
				if s := t.Variance.At(r, c); s > 0 {
					v = 1 / s
				} else {
					v = 0
				}
			}
			if t.Mask != nil && t.Mask.At(r, c) != 0 {
				v = 0
			}
			w.Set(r, c, v)
		}
	}
	return w
}

// Returns the variance in row-major order, or nil without variance
func (t *Target) FlattenVariance() *mat.VecDense {
	if t.Variance == nil {
		return nil
	}
	return mat.NewVecDense(t.Window.Pixels(), flattenDense(t.Variance))
}

// Returns the mask in row-major order, or nil without mask
func (t *Target) FlattenMask() *mat.VecDense {
	if t.Mask == nil {
		return nil
	}
	return mat.NewVecDense(t.Window.Pixels(), flattenDense(t.Mask))
}
