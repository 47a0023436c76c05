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


package profile

import (
	"fmt"
	"math"

	"github.com/mlnoga/nightfit/internal/imaging"
)

// Controls how a profile is turned into pixels
type SampleConfig struct {
	PSF             bool // Convolve with the target PSF if the target carries one
	IntegrateFactor int  // Sub-pixel resolution per level of integration, 1 or less to disable
	IntegrateWindow int  // Pixels around the profile center integrated at higher resolution
	IntegrateDepth  int  // Levels of recursive integration
}

func DefaultSampleConfig() SampleConfig {
	return SampleConfig{PSF: true, IntegrateFactor: 3, IntegrateWindow: 10, IntegrateDepth: 2}
}

// Evaluates the profile on the window of sample and adds the resulting flux into it.
// With a PSF on the target, the profile is evaluated on a padded grid at the PSF
// resolution, convolved, binned back to the target resolution and cropped to the
// sample window
func Sample(p Profile, target *imaging.Target, sample *imaging.Model, cfg SampleConfig) error {
	if cfg.PSF && target != nil && target.HasPSF() {
		return samplePSF(p, target.PSF, sample, cfg)
	}
	work := sample.BlankCopy()
	evaluate(p, work)
	if err := integrate(p, work, cfg, cfg.IntegrateDepth, cfg.IntegrateWindow); err != nil {
		return err
	}
	return sample.Add(&work.Image)
}

func samplePSF(p Profile, psf *imaging.PSF, sample *imaging.Model, cfg SampleConfig) error {
	up := psf.Upscale
	scale := sample.PixelScale()
	if math.Abs(psf.PixelScale()*float64(up)-scale) > 1e-6*scale {
		return fmt.Errorf("PSF pixel scale %g with upscale %d does not match sample scale %g: %w",
			psf.PixelScale(), up, scale, imaging.ErrDimension)
	}

	// pad by the PSF border, in whole sample pixels
	border := psf.BorderInt()
	pad := (max(border[0], border[1]) + up - 1) / up
	padded := sample.Window.Pad(pad)
	fine := imaging.Window{
		Origin:     padded.Origin,
		Shape:      [2]int{padded.Shape[0] * up, padded.Shape[1] * up},
		PixelScale: scale / float64(up),
	}
	work, err := imaging.NewModel(fine)
	if err != nil {
		return err
	}
	evaluate(p, work)
	if err := integrate(p, work, cfg, cfg.IntegrateDepth, cfg.IntegrateWindow*up); err != nil {
		return err
	}
	if err := work.Convolve(psf, true); err != nil {
		return err
	}
	reduced, err := work.Reduce(up)
	if err != nil {
		return err
	}
	if err := reduced.Crop(pad); err != nil {
		return err
	}
	return sample.Add(&reduced.Image)
}

// Fills the model with the profile flux at each pixel center times the pixel area
func evaluate(p Profile, m *imaging.Model) {
	x, y := m.Coordinates()
	scale := m.PixelScale()
	area := scale * scale
	rows, cols := m.Data.Dims()
	for r := 0; r < rows; r++ {
		row := m.Data.RawRowView(r)
		for c := 0; c < cols; c++ {
			row[c] = p.Brightness(x.At(r, c), y.At(r, c)) * area
		}
	}
}

// Re-evaluates the pixels around the profile center at a higher resolution and pastes the
// binned result over m. Recurses with half the physical window at each level
func integrate(p Profile, m *imaging.Model, cfg SampleConfig, depth, window int) error {
	f := cfg.IntegrateFactor
	if depth <= 0 || f <= 1 || window <= 0 {
		return nil
	}
	center := p.Center()
	if math.IsNaN(center[0]) || math.IsNaN(center[1]) {
		return nil
	}
	row, col := m.Window.ToIndex(center[0], center[1])
	half := window / 2
	ox, oy := m.Window.ToWorldFrac(float64(row-half), float64(col-half))
	region := imaging.Window{Origin: [2]float64{ox, oy}, Shape: [2]int{window, window}, PixelScale: m.PixelScale()}
	region, ok := m.Window.Intersect(region)
	if !ok {
		return nil
	}

	fine, err := imaging.NewModel(imaging.Window{
		Origin:     region.Origin,
		Shape:      [2]int{region.Shape[0] * f, region.Shape[1] * f},
		PixelScale: region.PixelScale / float64(f),
	})
	if err != nil {
		return err
	}
	evaluate(p, fine)
	if err := integrate(p, fine, cfg, depth-1, max(window*f/2, 1)); err != nil {
		return err
	}
	reduced, err := fine.Reduce(f)
	if err != nil {
		return err
	}
	return m.Replace(&reduced.Image)
}

// Samples all profiles into a fresh model covering the window
func SampleAll(profiles []Profile, target *imaging.Target, w imaging.Window, cfg SampleConfig) (*imaging.Model, error) {
	m, err := imaging.NewModel(w)
	if err != nil {
		return nil, err
	}
	for _, p := range profiles {
		if err := Sample(p, target, m, cfg); err != nil {
			return nil, fmt.Errorf("sampling %s: %w", p.Name(), err)
		}
	}
	return m, nil
}
