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
	"bufio"
	"image"
	"image/color"
	"image/jpeg"
	"io"
	"math"
	"os"

	"github.com/mlnoga/nightfit/internal/stats"
	"golang.org/x/image/tiff"
	"gonum.org/v1/gonum/mat"
)

// Picks a display range from the data: slightly below the sky up to the maximum
func AutoRange(m *mat.Dense) (min, max float64) {
	rows, cols := m.Dims()
	data := make([]float64, 0, rows*cols)
	for r := 0; r < rows; r++ {
		for _, v := range m.RawRowView(r) {
			if !math.IsNaN(v) {
				data = append(data, v)
			}
		}
	}
	s := stats.CalcExtendedStats(data)
	min, max = s.Location-2*s.Scale, s.Max
	if !(max > min) {
		max = min + 1
	}
	return min, max
}

// Maps a value into [0,1] with the given range and gamma. NaNs map to 0
func normalize(v, min, scale, gammaInv float64) float64 {
	v = (v - min) * scale
	// replace NaNs with zeros for export, else JPG output breaks
	if math.IsNaN(v) || v < 0 {
		v = 0
	}
	if v > 1 {
		v = 1
	}
	if gammaInv != 1.0 {
		v = math.Pow(v, gammaInv)
	}
	return v
}

func createBuffered(fileName string, write func(w io.Writer) error) error {
	file, err := os.Create(fileName)
	if err != nil {
		return err
	}
	defer file.Close()

	writer := bufio.NewWriter(file)
	if err := write(writer); err != nil {
		return err
	}
	return writer.Flush()
}

// Write a grayscale image to JPG, using the given min, max and gamma.
func WriteMonoJPGToFile(fileName string, m *mat.Dense, min, max, gamma float64, quality int) error {
	return createBuffered(fileName, func(w io.Writer) error {
		return WriteMonoJPG(w, m, min, max, gamma, quality)
	})
}

// Write a grayscale image to JPG, using the given min, max and gamma.
// Row 0 of the data is the bottom of the picture
func WriteMonoJPG(writer io.Writer, m *mat.Dense, min, max, gamma float64, quality int) error {
	height, width := m.Dims()
	img := image.NewGray(image.Rectangle{image.Point{0, 0}, image.Point{width, height}})
	scale := 1.0 / (max - min)
	gammaInv := 1.0 / gamma
	for y := 0; y < height; y++ {
		row := m.RawRowView(height - 1 - y)
		for x := 0; x < width; x++ {
			gray := normalize(row[x], min, scale, gammaInv)
			img.SetGray(x, y, color.Gray{uint8(gray * 255)})
		}
	}

	return jpeg.Encode(writer, img, &jpeg.Options{Quality: quality})
}

// Write a grayscale image to 16-bit TIFF, using the given min, max and gamma.
func WriteMonoTIFF16ToFile(fileName string, m *mat.Dense, min, max, gamma float64) error {
	return createBuffered(fileName, func(w io.Writer) error {
		return WriteMonoTIFF16(w, m, min, max, gamma)
	})
}

// Write a grayscale image to 16-bit TIFF, using the given min, max and gamma.
// Row 0 of the data is the bottom of the picture
func WriteMonoTIFF16(writer io.Writer, m *mat.Dense, min, max, gamma float64) error {
	height, width := m.Dims()
	img := image.NewGray16(image.Rectangle{image.Point{0, 0}, image.Point{width, height}})
	scale := 1 / (max - min)
	gammaInv := 1.0 / gamma
	for y := 0; y < height; y++ {
		row := m.RawRowView(height - 1 - y)
		for x := 0; x < width; x++ {
			gray := normalize(row[x], min, scale, gammaInv)
			img.SetGray16(x, y, color.Gray16{uint16(gray * 65535)})
		}
	}

	return tiff.Encode(writer, img, &tiff.Options{Compression: tiff.Uncompressed, Predictor: false})
}
