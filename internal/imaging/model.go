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
)

// An accumulation buffer for synthesized flux
type Model struct {
	Image
}

// Creates a zero model covering the window
func NewModel(w Window) (*Model, error) {
	img, err := NewImageFromWindow(w)
	if err != nil {
		return nil, err
	}
	return &Model{Image: *img}, nil
}

// Pastes the pixels of other over the common region, replacing the current values
func (m *Model) Replace(other *Image) error {
	return m.Assign(other)
}

// Convolves the model with the PSF in place. The PSF must be sampled on the pixel scale
// of the model. If prepadded is set, the model already carries a border of at least
// the PSF border on each side
func (m *Model) Convolve(psf *PSF, prepadded bool) error {
	if math.Abs(psf.Window.PixelScale-m.Window.PixelScale) > gridTolerance*m.Window.PixelScale {
		return fmt.Errorf("PSF pixel scale %g does not match model %g: %w", psf.Window.PixelScale, m.Window.PixelScale, ErrDimension)
	}
	res, err := conv.Convolve(m.Data, psf.Data, prepadded)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrDimension, err)
	}
	m.Data.Copy(res)
	return nil
}

func (m *Model) SubImage(w Window) (*Model, bool) {
	img, ok := m.Image.SubImage(w)
	if !ok {
		return nil, false
	}
	return &Model{Image: *img}, true
}

func (m *Model) Copy() *Model {
	return &Model{Image: *m.Image.Copy()}
}

func (m *Model) BlankCopy() *Model {
	return &Model{Image: *m.Image.BlankCopy()}
}

func (m *Model) Reduce(factor int) (*Model, error) {
	img, err := m.Image.Reduce(factor)
	if err != nil {
		return nil, err
	}
	return &Model{Image: *img}, nil
}
