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
	"sort"

	"github.com/mlnoga/nightfit/internal/imaging"
	"github.com/mlnoga/nightfit/internal/stats"
)

// Number of histogram bins for the sky estimate
const skyBins = 256

// Estimates the sky level per pixel and its noise from the unmasked pixels of the target
func EstimateSky(t *imaging.Target) (sky, noise float64, err error) {
	rows, cols := t.Data.Dims()
	data := make([]float64, 0, rows*cols)
	for r := 0; r < rows; r++ {
		for c, v := range t.Data.RawRowView(r) {
			if t.Mask != nil && t.Mask.At(r, c) != 0 {
				continue
			}
			if math.IsNaN(v) {
				continue
			}
			data = append(data, v)
		}
	}
	return stats.SkyLevel(data, skyBins)
}

// Iteratively locates the flux-weighted center of the pixels within radius of start,
// after subtracting the sky. Stops after iterations steps or once the center moves
// less than a tenth of a pixel
func CenterOfMass(img *imaging.Image, start [2]float64, radius, sky float64, iterations int) [2]float64 {
	center := start
	scale := img.PixelScale()
	for it := 0; it < iterations; it++ {
		sx, sy, sw := 0.0, 0.0, 0.0
		forPixelsWithin(img, center, radius, func(x, y, v float64) {
			w := v - sky
			if w <= 0 {
				return
			}
			sx += w * x
			sy += w * y
			sw += w
		})
		if sw == 0 {
			return center
		}
		next := [2]float64{sx / sw, sy / sw}
		moved := math.Hypot(next[0]-center[0], next[1]-center[1])
		center = next
		if moved < 0.1*scale {
			break
		}
	}
	return center
}

// Calls fn with the center coordinates and value of every pixel within radius of center
func forPixelsWithin(img *imaging.Image, center [2]float64, radius float64, fn func(x, y, v float64)) {
	sub, err := imaging.NewWindow(
		[2]float64{center[0] - radius, center[1] - radius},
		[2]int{1, 1}, 2*radius)
	if err != nil {
		return
	}
	view, ok := img.SubImage(sub)
	if !ok {
		return
	}
	xs, ys := view.Coordinates()
	rows, cols := view.Data.Dims()
	for r := 0; r < rows; r++ {
		for c := 0; c < cols; c++ {
			x, y := xs.At(r, c), ys.At(r, c)
			if math.Hypot(x-center[0], y-center[1]) > radius {
				continue
			}
			v := view.Data.At(r, c)
			if math.IsNaN(v) {
				continue
			}
			fn(x, y, v)
		}
	}
}

// Radius enclosing half of the sky-subtracted flux within maxRadius of center
func HalfLightRadius(img *imaging.Image, center [2]float64, maxRadius, sky float64) float64 {
	type sample struct{ r, f float64 }
	var samples []sample
	total := 0.0
	forPixelsWithin(img, center, maxRadius, func(x, y, v float64) {
		f := v - sky
		if f <= 0 {
			return
		}
		samples = append(samples, sample{math.Hypot(x-center[0], y-center[1]), f})
		total += f
	})
	if total == 0 {
		return img.PixelScale()
	}
	sort.Slice(samples, func(i, j int) bool { return samples[i].r < samples[j].r })
	acc := 0.0
	for _, s := range samples {
		acc += s.f
		if acc >= 0.5*total {
			return math.Max(s.r, 0.5*img.PixelScale())
		}
	}
	return maxRadius
}

// Seeds a Sersic profile from the target: center of mass around the current center,
// effective radius from the half-light radius, and the brightness at the effective
// radius from the median brightness near the center
func InitSersic(s *Sersic, t *imaging.Target, sky float64) error {
	scale := t.PixelScale()
	extent := t.Window.Extent()
	radius := 0.5 * math.Min(extent[0]-t.Window.Origin[0], extent[1]-t.Window.Origin[1])
	if !t.Window.Contains(s.X, s.Y) {
		c := t.Window.Center()
		s.X, s.Y = c[0], c[1]
	}
	center := CenterOfMass(&t.Image, [2]float64{s.X, s.Y}, radius, sky, 10)
	re := HalfLightRadius(&t.Image, center, radius, sky)

	var near []float64
	forPixelsWithin(&t.Image, center, math.Max(re/4, 1.5*scale), func(_, _, v float64) {
		near = append(near, v-sky)
	})
	if len(near) == 0 {
		return fmt.Errorf("no pixels near %v: %w", center, ErrParameter)
	}
	central := stats.Median(near) / (scale * scale)
	n := 1.0
	ie := central * math.Exp(-SersicB(n))
	return s.SetValues([]float64{center[0], center[1], 1, 0, n, re, ie})
}

// Seeds a Gaussian profile from the target like InitSersic, with the flux taken
// from the sky-subtracted sum within the search radius
func InitGaussian(g *Gaussian, t *imaging.Target, sky float64) error {
	extent := t.Window.Extent()
	radius := 0.5 * math.Min(extent[0]-t.Window.Origin[0], extent[1]-t.Window.Origin[1])
	if !t.Window.Contains(g.X, g.Y) {
		c := t.Window.Center()
		g.X, g.Y = c[0], c[1]
	}
	center := CenterOfMass(&t.Image, [2]float64{g.X, g.Y}, radius, sky, 10)
	re := HalfLightRadius(&t.Image, center, radius, sky)
	flux := 0.0
	forPixelsWithin(&t.Image, center, radius, func(_, _, v float64) {
		flux += v - sky
	})
	// half-light radius of a circular Gaussian is sigma*sqrt(2 ln 2)
	sigma := re / math.Sqrt(2*math.Ln2)
	return g.SetValues([]float64{center[0], center[1], flux, sigma})
}

// Seeds a profile from the target according to its kind
func Init(p Profile, t *imaging.Target, sky float64) error {
	switch q := p.(type) {
	case *Sersic:
		return InitSersic(q, t, sky)
	case *Gaussian:
		return InitGaussian(q, t, sky)
	case *Sky:
		scale := t.PixelScale()
		return q.SetValues([]float64{sky / (scale * scale)})
	}
	return nil
}
