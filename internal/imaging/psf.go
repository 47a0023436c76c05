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

// A point spread function, sampled upscale times finer than the data it belongs to.
// The window is centered on the physical origin
type PSF struct {
	Image
	Upscale int
}

// Creates a PSF from the given kernel. The pixel scale is that of the kernel samples
func NewPSF(data *mat.Dense, pixelScale float64, upscale int) (*PSF, error) {
	if upscale < 1 {
		return nil, fmt.Errorf("PSF upscale %d: %w", upscale, ErrGeometry)
	}
	if data == nil {
		return nil, fmt.Errorf("nil PSF data: %w", ErrDimension)
	}
	rows, cols := data.Dims()
	origin := [2]float64{-0.5 * float64(cols) * pixelScale, -0.5 * float64(rows) * pixelScale}
	img, err := NewImage(data, pixelScale, origin)
	if err != nil {
		return nil, err
	}
	return &PSF{Image: *img, Upscale: upscale}, nil
}

// Padding in PSF pixels needed on each side of an image before convolution, per x and y axis
func (p *PSF) BorderInt() [2]int {
	return [2]int{(p.Window.Shape[0] + 1) / 2, (p.Window.Shape[1] + 1) / 2}
}

// Padding in physical units, per x and y axis
func (p *PSF) Border() [2]float64 {
	b := p.BorderInt()
	return [2]float64{float64(b[0]) * p.Window.PixelScale, float64(b[1]) * p.Window.PixelScale}
}

// Returns a new PSF binned by factor. The upscale is divided by factor and must remain integral
func (p *PSF) Reduce(factor int) (*PSF, error) {
	if factor < 1 || p.Upscale%factor != 0 {
		return nil, fmt.Errorf("reduction factor %d does not divide PSF upscale %d: %w", factor, p.Upscale, ErrDimension)
	}
	img, err := p.Image.Reduce(factor)
	if err != nil {
		return nil, err
	}
	res := &PSF{Image: *img, Upscale: p.Upscale / factor}
	// keep the kernel centered on the physical origin
	res.Window.Origin = [2]float64{
		-0.5 * float64(res.Window.Shape[0]) * res.Window.PixelScale,
		-0.5 * float64(res.Window.Shape[1]) * res.Window.PixelScale,
	}
	return res, nil
}

func (p *PSF) Copy() *PSF {
	return &PSF{Image: *p.Image.Copy(), Upscale: p.Upscale}
}

func (p *PSF) BlankCopy() *PSF {
	return &PSF{Image: *p.Image.BlankCopy(), Upscale: p.Upscale}
}

// Scales the kernel to unit total flux. Fails for a kernel without flux
func (p *PSF) Normalize() error {
	sum := p.Sum()
	if sum == 0 {
		return fmt.Errorf("PSF without flux: %w", ErrDimension)
	}
	p.Data.Scale(1/sum, p.Data)
	return nil
}
