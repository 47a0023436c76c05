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


package preview

import (
	"image"
	"image/jpeg"
	"io"
	"math"

	colorful "github.com/lucasb-eyer/go-colorful"
	"gonum.org/v1/gonum/mat"
)

// Endpoints of the diverging residual colormap
var (
	residualLow  = colorful.Color{R: 0.13, G: 0.40, B: 0.67}
	residualZero = colorful.Color{R: 0.97, G: 0.97, B: 0.97}
	residualHigh = colorful.Color{R: 0.70, G: 0.09, B: 0.17}
)

// Maps a residual in units of limit onto the diverging colormap, blending in CIE L*a*b*
func ResidualColor(v, limit float64) colorful.Color {
	if math.IsNaN(v) || v == 0 || limit <= 0 {
		return residualZero
	}
	t := math.Max(-1, math.Min(1, v/limit))
	if t < 0 {
		return residualZero.BlendLab(residualLow, -t).Clamped()
	}
	return residualZero.BlendLab(residualHigh, t).Clamped()
}

// Write a residual image to JPG. Zero is white, negative residuals blue, positive red,
// saturating at +-limit. Row 0 of the data is the bottom of the picture
func WriteResidualJPG(writer io.Writer, m *mat.Dense, limit float64, quality int) error {
	height, width := m.Dims()
	img := image.NewRGBA(image.Rectangle{image.Point{0, 0}, image.Point{width, height}})
	for y := 0; y < height; y++ {
		row := m.RawRowView(height - 1 - y)
		for x := 0; x < width; x++ {
			r, g, b := ResidualColor(row[x], limit).RGB255()
			i := img.PixOffset(x, y)
			img.Pix[i+0], img.Pix[i+1], img.Pix[i+2], img.Pix[i+3] = r, g, b, 255
		}
	}
	return jpeg.Encode(writer, img, &jpeg.Options{Quality: quality})
}

func WriteResidualJPGToFile(fileName string, m *mat.Dense, limit float64, quality int) error {
	return createBuffered(fileName, func(w io.Writer) error {
		return WriteResidualJPG(w, m, limit, quality)
	})
}
