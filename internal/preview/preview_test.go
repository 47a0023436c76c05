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
	"bytes"
	"image"
	"image/jpeg"
	"math"
	"testing"

	"golang.org/x/image/tiff"
	"gonum.org/v1/gonum/mat"
)

func ramp() *mat.Dense {
	m := mat.NewDense(8, 16, nil)
	m.Apply(func(r, c int, _ float64) float64 { return float64(r) }, m)
	m.Set(0, 0, math.NaN())
	return m
}

func TestMonoTIFF16Orientation(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteMonoTIFF16(&buf, ramp(), 0, 7, 1); err != nil {
		t.Fatal(err)
	}
	img, err := tiff.Decode(&buf)
	if err != nil {
		t.Fatal(err)
	}
	if b := img.Bounds(); b.Dx() != 16 || b.Dy() != 8 {
		t.Fatalf("bounds got %v", b)
	}
	gray := img.(*image.Gray16)
	// row 7 is the top of the picture
	if v := gray.Gray16At(5, 0).Y; v != 65535 {
		t.Errorf("top got %d", v)
	}
	if v := gray.Gray16At(5, 7).Y; v != 0 {
		t.Errorf("bottom got %d", v)
	}
	if v := gray.Gray16At(0, 7).Y; v != 0 {
		t.Errorf("NaN got %d", v)
	}
}

func TestMonoJPG(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteMonoJPG(&buf, ramp(), 0, 7, 2.2, 95); err != nil {
		t.Fatal(err)
	}
	img, err := jpeg.Decode(&buf)
	if err != nil {
		t.Fatal(err)
	}
	top, _, _, _ := img.At(8, 0).RGBA()
	bottom, _, _, _ := img.At(8, 7).RGBA()
	if top <= bottom || top < 0xe000 {
		t.Errorf("top %x bottom %x", top, bottom)
	}
}

func TestResidualColor(t *testing.T) {
	zr, zg, zb := ResidualColor(0, 1).RGB255()
	if zr != zg || zg != zb {
		t.Errorf("zero not neutral: %d %d %d", zr, zg, zb)
	}
	hr, _, hb := ResidualColor(5, 1).RGB255()
	lr, _, lb := ResidualColor(-5, 1).RGB255()
	if hr <= hb || lb <= lr {
		t.Errorf("high %d/%d low %d/%d", hr, hb, lr, lb)
	}
	if ResidualColor(math.NaN(), 1) != residualZero {
		t.Errorf("NaN should map to zero color")
	}

	var buf bytes.Buffer
	if err := WriteResidualJPG(&buf, ramp(), 3, 90); err != nil {
		t.Fatal(err)
	}
	if _, err := jpeg.Decode(&buf); err != nil {
		t.Error(err)
	}
}

func TestAutoRange(t *testing.T) {
	min, max := AutoRange(ramp())
	if !(min < max) || max != 7 {
		t.Errorf("range got %g %g", min, max)
	}
	min, max = AutoRange(mat.NewDense(3, 3, nil))
	if max != min+1 {
		t.Errorf("flat range got %g %g", min, max)
	}
}
