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
	"bytes"
	"errors"
	"math"
	"testing"

	"github.com/mlnoga/nightfit/internal/fits"
	"github.com/valyala/fastrand"
	"gonum.org/v1/gonum/mat"
)

func mustTarget(t *testing.T, data *mat.Dense, scale float64, origin [2]float64) *Target {
	t.Helper()
	tgt, err := NewTarget(data, scale, origin)
	if err != nil {
		t.Fatalf("NewTarget: %s", err)
	}
	return tgt
}

func mustPSF(t *testing.T, data *mat.Dense, scale float64, upscale int) *PSF {
	t.Helper()
	p, err := NewPSF(data, scale, upscale)
	if err != nil {
		t.Fatalf("NewPSF: %s", err)
	}
	return p
}

func TestTargetVariance(t *testing.T) {
	tgt := mustTarget(t, filled(16, 32, 1), 1, [2]float64{0.1, 0.1})
	if err := tgt.SetVariance(filled(16, 32, 1)); err != nil {
		t.Fatal(err)
	}
	if !tgt.HasVariance() {
		t.Errorf("target should have variance")
	}
	red, err := tgt.Reduce(2)
	if err != nil {
		t.Fatal(err)
	}
	if red.Variance.At(0, 0) != 4 {
		t.Errorf("reduced variance got %g expect 4", red.Variance.At(0, 0))
	}
	if err := tgt.SetVariance(nil); err != nil || tgt.HasVariance() {
		t.Errorf("variance should be removed")
	}
	if err := tgt.SetVariance(filled(3, 3, 1)); !errors.Is(err, ErrDimension) {
		t.Errorf("expected ErrDimension for mismatched variance, got %v", err)
	}
}

func TestTargetMask(t *testing.T) {
	tgt := mustTarget(t, filled(16, 32, 1), 1, [2]float64{0.1, 0.1})
	mask := mat.NewDense(16, 32, nil)
	mask.Set(1, 1, 1)
	mask.Set(4, 5, 7)
	if err := tgt.SetMask(mask); err != nil {
		t.Fatal(err)
	}
	if !tgt.HasMask() || tgt.Mask.At(4, 5) != 1 {
		t.Errorf("mask not stored as 0/1")
	}
	red, err := tgt.Reduce(2)
	if err != nil {
		t.Fatal(err)
	}
	if red.Mask.At(0, 0) != 1 || red.Mask.At(2, 2) != 1 || red.Mask.At(1, 1) != 0 {
		t.Errorf("reduced mask got %g %g %g", red.Mask.At(0, 0), red.Mask.At(2, 2), red.Mask.At(1, 1))
	}
	tgt.SetMask(nil)
	if tgt.HasMask() {
		t.Errorf("mask should be removed")
	}
}

func TestTargetPSF(t *testing.T) {
	tgt := mustTarget(t, filled(16, 32, 1), 1, [2]float64{0.1, 0.1})
	tgt.SetPSF(mustPSF(t, filled(9, 9, 1), 1, 3))
	if !tgt.HasPSF() {
		t.Fatalf("target should have PSF")
	}
	if b := tgt.PSF.BorderInt(); b != [2]int{5, 5} {
		t.Errorf("border int got %v", b)
	}
	if b := tgt.PSF.Border(); b != [2]float64{5, 5} {
		t.Errorf("border got %v", b)
	}

	// 16x32 is not divisible by 3, so reduce the PSF directly
	red, err := tgt.PSF.Reduce(3)
	if err != nil {
		t.Fatal(err)
	}
	if red.Window.Shape != [2]int{3, 3} || red.Upscale != 1 {
		t.Errorf("reduced PSF got %s upscale %d", red.Window, red.Upscale)
	}
	for r := 0; r < 3; r++ {
		for c := 0; c < 3; c++ {
			if red.Data.At(r, c) != 9 {
				t.Errorf("reduced PSF (%d,%d) got %g expect 9", r, c, red.Data.At(r, c))
			}
		}
	}
	if c := red.Window.Center(); math.Abs(c[0]) > 1e-12 || math.Abs(c[1]) > 1e-12 {
		t.Errorf("reduced PSF center got %v", c)
	}
	if _, err := red.Reduce(3); !errors.Is(err, ErrDimension) {
		t.Errorf("expected ErrDimension reducing upscale 1 by 3, got %v", err)
	}

	tgt.SetPSF(nil)
	if tgt.HasPSF() {
		t.Errorf("PSF should be removed")
	}
}

func TestTargetReduce(t *testing.T) {
	tgt := mustTarget(t, filled(30, 36, 1), 1, [2]float64{0.1, 0.1})
	tgt.SetPSF(mustPSF(t, filled(9, 9, 1), 1, 3))
	red, err := tgt.Reduce(3)
	if err != nil {
		t.Fatal(err)
	}
	if r, c := red.Data.Dims(); r != 10 || c != 12 {
		t.Errorf("reduced data got %dx%d expect 10x12", r, c)
	}
	if r, c := red.PSF.Data.Dims(); r != 3 || c != 3 || red.PSF.Data.At(0, 0) != 9 {
		t.Errorf("reduced PSF got %dx%d (0,0)=%g", r, c, red.PSF.Data.At(0, 0))
	}
	if tgt.PSF.Upscale != 3 || tgt.Window.Shape != [2]int{36, 30} {
		t.Errorf("reduce changed the original")
	}

	big := mustTarget(t, filled(36, 45, 1), 1, [2]float64{0.1, 0.1})
	big.SetPSF(mustPSF(t, filled(15, 15, 1), 1, 3))
	red, err = big.Reduce(3)
	if err != nil {
		t.Fatal(err)
	}
	if red.PSF.Window.Shape != [2]int{5, 5} || red.PSF.Upscale != 1 {
		t.Errorf("reduced PSF got %s upscale %d", red.PSF.Window, red.PSF.Upscale)
	}

	// non-divisible upscale fails the whole reduction
	bad := mustTarget(t, filled(30, 36, 1), 1, [2]float64{0.1, 0.1})
	bad.SetPSF(mustPSF(t, filled(9, 9, 1), 1, 1))
	if _, err := bad.Reduce(3); !errors.Is(err, ErrDimension) {
		t.Errorf("expected ErrDimension, got %v", err)
	}
}

func TestTargetCropAndView(t *testing.T) {
	rng := fastrand.RNG{}
	tgt := mustTarget(t, random(&rng, 12, 14), 1, [2]float64{0, 0})
	tgt.SetVariance(random(&rng, 12, 14))
	tgt.SetMask(mat.NewDense(12, 14, nil))
	tgt.Mask.Set(5, 6, 1)
	tgt.SetPSF(mustPSF(t, filled(5, 5, 1), 1, 1))

	if err := tgt.Crop(2, 1, 3, 0); err != nil {
		t.Fatal(err)
	}
	if r, c := tgt.PSF.Data.Dims(); r != 5 || c != 5 || tgt.PSF.Upscale != 1 {
		t.Errorf("crop should keep the PSF, got %dx%d", r, c)
	}
	if r, c := tgt.Variance.Dims(); r != 9 || c != 11 {
		t.Errorf("cropped variance got %dx%d", r, c)
	}
	if r, c := tgt.Mask.Dims(); r != 9 || c != 11 || tgt.Mask.At(2, 4) != 1 {
		t.Errorf("cropped mask got %dx%d, (2,4)=%g", r, c, tgt.Mask.At(2, 4))
	}

	view, ok := tgt.SubImage(mustWindow(t, [2]float64{5, 4}, [2]int{3, 3}, 1))
	if !ok {
		t.Fatal("no overlap")
	}
	view.Variance.Set(0, 0, -1)
	if tgt.Variance.At(1, 3) != -1 {
		t.Errorf("variance view does not alias parent")
	}
	if view.Mask.At(1, 1) != 1 {
		t.Errorf("mask view got %g", view.Mask.At(1, 1))
	}

	w := tgt.Weight()
	if w.At(2, 4) != 0 || w.At(1, 3) != 0 {
		t.Errorf("masked or negative-variance pixels should have zero weight")
	}
	if v := tgt.Variance.At(0, 0); v > 0 && math.Abs(w.At(0, 0)-1/v) > 1e-12 {
		t.Errorf("weight got %g expect %g", w.At(0, 0), 1/v)
	}
	if fv := tgt.FlattenVariance(); fv.Len() != 99 || fv.AtVec(14) != tgt.Variance.At(1, 3) {
		t.Errorf("flattened variance wrong")
	}
	if fm := tgt.FlattenMask(); fm.AtVec(2*11+4) != 1 {
		t.Errorf("flattened mask wrong")
	}
}

func TestTargetSaveLoad(t *testing.T) {
	rng := fastrand.RNG{}
	tgt := mustTarget(t, random(&rng, 16, 32), 0.76, [2]float64{0.1, 0.1})
	tgt.SetZeroPoint(21.4)
	tgt.Note = "test image"
	tgt.Data.Set(2, 3, math.Copysign(0, -1))
	tgt.SetVariance(random(&rng, 16, 32))
	mask := mat.NewDense(16, 32, nil)
	mask.Set(3, 4, 1)
	tgt.SetMask(mask)
	tgt.SetPSF(mustPSF(t, random(&rng, 9, 9), 0.76/3, 3))

	buf := bytes.Buffer{}
	if err := tgt.Write(&buf); err != nil {
		t.Fatal(err)
	}
	loaded, err := ReadTarget(&buf)
	if err != nil {
		t.Fatal(err)
	}

	if !bitEqual(tgt.Data, loaded.Data) || !bitEqual(tgt.Variance, loaded.Variance) || !bitEqual(tgt.PSF.Data, loaded.PSF.Data) {
		t.Errorf("loaded buffers differ")
	}
	if !mat.Equal(tgt.Mask, loaded.Mask) {
		t.Errorf("loaded mask differs")
	}
	if loaded.Window != tgt.Window || loaded.PSF.Window != tgt.PSF.Window || loaded.PSF.Upscale != 3 {
		t.Errorf("loaded geometry got %s and %s", loaded.Window, loaded.PSF.Window)
	}
	if zp, ok := loaded.ZeroPoint(); !ok || zp != 21.4 || loaded.Note != "test image" {
		t.Errorf("loaded zeropoint %g note '%s'", zp, loaded.Note)
	}

	// plain images have no extensions
	buf.Reset()
	if err := tgt.Image.Write(&buf); err != nil {
		t.Fatal(err)
	}
	plain, err := ReadTarget(&buf)
	if err != nil {
		t.Fatal(err)
	}
	if plain.HasVariance() || plain.HasMask() || plain.HasPSF() || !bitEqual(plain.Data, tgt.Data) {
		t.Errorf("plain image loaded with extras")
	}
}

func TestLoadMissingFields(t *testing.T) {
	img := mustImage(t, filled(4, 4, 1), 1, [2]float64{0, 0})
	h := img.toHDU()
	delete(h.Header.Floats, keyPixelScale)
	buf := bytes.Buffer{}
	if err := fits.Write(&buf, []*fits.HDU{h}); err != nil {
		t.Fatal(err)
	}
	if _, err := ReadImage(&buf); !errors.Is(err, ErrPersistence) {
		t.Errorf("expected ErrPersistence, got %v", err)
	}
	if _, err := ReadImage(bytes.NewReader([]byte("garbage"))); !errors.Is(err, ErrPersistence) {
		t.Errorf("expected ErrPersistence for garbage, got %v", err)
	}
}

func bitEqual(a, b *mat.Dense) bool {
	ar, ac := a.Dims()
	br, bc := b.Dims()
	if ar != br || ac != bc {
		return false
	}
	for r := 0; r < ar; r++ {
		for c := 0; c < ac; c++ {
			if math.Float64bits(a.At(r, c)) != math.Float64bits(b.At(r, c)) {
				return false
			}
		}
	}
	return true
}
