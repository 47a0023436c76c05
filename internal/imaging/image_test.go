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
	"errors"
	"math"
	"testing"

	"github.com/valyala/fastrand"
	"gonum.org/v1/gonum/mat"
)

func filled(rows, cols int, v float64) *mat.Dense {
	m := mat.NewDense(rows, cols, nil)
	m.Apply(func(_, _ int, _ float64) float64 { return v }, m)
	return m
}

func random(rng *fastrand.RNG, rows, cols int) *mat.Dense {
	m := mat.NewDense(rows, cols, nil)
	m.Apply(func(_, _ int, _ float64) float64 { return float64(rng.Uint32n(1<<20)) / 1024 }, m)
	return m
}

func mustImage(t *testing.T, data *mat.Dense, scale float64, origin [2]float64) *Image {
	t.Helper()
	img, err := NewImage(data, scale, origin)
	if err != nil {
		t.Fatalf("NewImage: %s", err)
	}
	return img
}

func TestImageCreation(t *testing.T) {
	img := mustImage(t, mat.NewDense(10, 15, nil), 1, [2]float64{0, 0})
	img.SetZeroPoint(1)
	img.Note = "test image"
	if img.Window.Shape != [2]int{15, 10} {
		t.Errorf("window shape got %v", img.Window.Shape)
	}
	if zp, ok := img.ZeroPoint(); !ok || zp != 1 {
		t.Errorf("zeropoint got %g %v", zp, ok)
	}

	sub, ok := img.SubImage(mustWindow(t, [2]float64{3, 2}, [2]int{4, 5}, 1))
	if !ok || sub.Origin() != [2]float64{3, 2} || !sub.IsView() {
		t.Fatalf("sub-image got %v ok=%v", sub, ok)
	}
	if img.Origin() != [2]float64{0, 0} || img.IsView() {
		t.Errorf("sub-image changed parent")
	}

	plain := mustImage(t, mat.NewDense(10, 15, nil), 1, [2]float64{0, 0})
	if _, ok := plain.ZeroPoint(); ok {
		t.Errorf("zeropoint should be unset")
	}
	if _, err := NewImage(nil, 1, [2]float64{}); !errors.Is(err, ErrDimension) {
		t.Errorf("expected ErrDimension for nil data, got %v", err)
	}
}

func TestImageCopy(t *testing.T) {
	img := mustImage(t, mat.NewDense(10, 15, nil), 1, [2]float64{0.1, 0.1})
	img.SetZeroPoint(1)
	cp := img.Copy()
	if !cp.Window.Equal(img.Window) {
		t.Errorf("copy window got %s", cp.Window)
	}
	cp.Data.Set(0, 0, 5)
	*cp.Zeropoint = 3
	if img.Data.At(0, 0) != 0 || *img.Zeropoint != 1 {
		t.Errorf("copy shares state with original")
	}

	img.Data.Set(1, 1, 2)
	blank := img.BlankCopy()
	if !blank.Window.Equal(img.Window) || blank.Sum() != 0 {
		t.Errorf("blank copy got %s sum %g", blank.Window, blank.Sum())
	}
	blank.Data.Set(1, 1, 7)
	if img.Data.At(1, 1) != 2 {
		t.Errorf("blank copy shares data with original")
	}
}

func TestImageArithmetic(t *testing.T) {
	base := mustImage(t, mat.NewDense(10, 12, nil), 1, [2]float64{1, 1})
	sliced, ok := base.SubImage(mustWindow(t, [2]float64{0, 0}, [2]int{5, 5}, 1))
	if !ok {
		t.Fatal("no overlap")
	}
	sliced.AddScalar(1)
	if base.Data.At(1, 1) != 1 || base.Data.At(5, 5) != 0 {
		t.Errorf("slice update got %g %g", base.Data.At(1, 1), base.Data.At(5, 5))
	}

	second := mustImage(t, filled(5, 5, 1), 1, [2]float64{3, 3})
	if err := base.Add(second); err != nil {
		t.Fatal(err)
	}
	for _, c := range []struct {
		r, c   int
		expect float64
	}{{1, 1, 1}, {3, 3, 2}, {5, 5, 1}, {8, 8, 0}} {
		if v := base.Data.At(c.r, c.c); v != c.expect {
			t.Errorf("after add (%d,%d) got %g expect %g", c.r, c.c, v, c.expect)
		}
	}

	if err := base.Subtract(second); err != nil {
		t.Fatal(err)
	}
	for _, c := range []struct {
		r, c   int
		expect float64
	}{{1, 1, 1}, {3, 3, 1}, {5, 5, 0}, {8, 8, 0}} {
		if v := base.Data.At(c.r, c.c); v != c.expect {
			t.Errorf("after subtract (%d,%d) got %g expect %g", c.r, c.c, v, c.expect)
		}
	}

	far := mustImage(t, filled(3, 3, 9), 1, [2]float64{100, 100})
	before := base.Sum()
	if err := base.Add(far); err != nil || base.Sum() != before {
		t.Errorf("disjoint add should be a no-op, got err %v sum %g", err, base.Sum())
	}

	coarse := mustImage(t, filled(3, 3, 9), 2, [2]float64{1, 1})
	if err := base.Add(coarse); !errors.Is(err, ErrDimension) {
		t.Errorf("expected ErrDimension for scale mismatch, got %v", err)
	}

	// data swapped out behind the window
	stale := mustImage(t, filled(5, 5, 1), 1, [2]float64{3, 3})
	stale.Data = filled(4, 5, 1)
	before = base.Sum()
	for name, apply := range map[string]func(*Image) error{"add": base.Add, "subtract": base.Subtract, "assign": base.Assign} {
		if err := apply(stale); !errors.Is(err, ErrDimension) {
			t.Errorf("%s: expected ErrDimension for stale data, got %v", name, err)
		}
	}
	if err := stale.Add(base); !errors.Is(err, ErrDimension) {
		t.Errorf("expected ErrDimension for stale receiver, got %v", err)
	}
	if base.Sum() != before {
		t.Errorf("failed arithmetic changed the image")
	}
}

func TestAddSubtractRoundTrip(t *testing.T) {
	rng := fastrand.RNG{}
	for i := 0; i < 50; i++ {
		a := mustImage(t, random(&rng, 8+int(rng.Uint32n(8)), 8+int(rng.Uint32n(8))), 0.5,
			[2]float64{float64(rng.Uint32n(8)) * 0.5, float64(rng.Uint32n(8)) * 0.5})
		b := mustImage(t, random(&rng, 1+int(rng.Uint32n(12)), 1+int(rng.Uint32n(12))), 0.5,
			[2]float64{float64(rng.Uint32n(16)) * 0.5, float64(rng.Uint32n(16)) * 0.5})
		orig := a.Copy()
		if err := a.Add(b); err != nil {
			t.Fatal(err)
		}
		if err := a.Subtract(b); err != nil {
			t.Fatal(err)
		}
		if !mat.Equal(a.Data, orig.Data) {
			t.Errorf("round %d: add then subtract did not restore the image", i)
		}
	}
}

func TestAliasingEquivalence(t *testing.T) {
	rng := fastrand.RNG{}
	for i := 0; i < 50; i++ {
		data := random(&rng, 12, 14)
		a := mustImage(t, data, 1, [2]float64{0, 0})
		direct := a.Copy()

		w := mustWindow(t, [2]float64{float64(rng.Uint32n(10)), float64(rng.Uint32n(8))},
			[2]int{1 + int(rng.Uint32n(4)), 1 + int(rng.Uint32n(4))}, 1)
		view, ok := a.SubImage(w)
		if !ok {
			t.Fatalf("window %s does not overlap", w)
		}
		view.AddScalar(3)

		r0, c0 := int(w.Origin[1]), int(w.Origin[0])
		for r := r0; r < r0+w.Shape[1] && r < 12; r++ {
			for c := c0; c < c0+w.Shape[0] && c < 14; c++ {
				direct.Data.Set(r, c, direct.Data.At(r, c)+3)
			}
		}
		if !mat.Equal(a.Data, direct.Data) {
			t.Errorf("round %d: view update differs from direct update over %s", i, w)
		}
	}
}

func TestReduceConservesFlux(t *testing.T) {
	rng := fastrand.RNG{}
	img := mustImage(t, random(&rng, 12, 18), 0.4, [2]float64{0.1, 0.1})
	for _, f := range []int{1, 2, 3, 6} {
		red, err := img.Reduce(f)
		if err != nil {
			t.Fatal(err)
		}
		if math.Abs(red.Sum()-img.Sum()) > 1e-9*img.Sum() {
			t.Errorf("factor %d: flux %g expect %g", f, red.Sum(), img.Sum())
		}
		if red.PixelScale() != img.PixelScale()*float64(f) || red.Origin() != img.Origin() {
			t.Errorf("factor %d: geometry got %s", f, red.Window)
		}
		if red.Window.Shape != [2]int{18 / f, 12 / f} {
			t.Errorf("factor %d: shape got %v", f, red.Window.Shape)
		}
	}
	for _, f := range []int{0, 4, 5} {
		if _, err := img.Reduce(f); !errors.Is(err, ErrDimension) {
			t.Errorf("factor %d: expected ErrDimension, got %v", f, err)
		}
	}

	ones := mustImage(t, filled(16, 32, 1), 1, [2]float64{0.1, 0.1})
	red, _ := ones.Reduce(2)
	if red.Data.At(0, 0) != 4 {
		t.Errorf("reduced pixel got %g expect 4", red.Data.At(0, 0))
	}
}

func TestImageCrop(t *testing.T) {
	img := mustImage(t, filled(16, 32, 1), 1, [2]float64{0, 0})
	if err := img.Crop(1); err != nil {
		t.Fatal(err)
	}
	if r, _ := img.Data.Dims(); r != 14 {
		t.Errorf("rows after crop(1) got %d expect 14", r)
	}
	if err := img.Crop(3, 2); err != nil {
		t.Fatal(err)
	}
	if _, c := img.Data.Dims(); c != 24 {
		t.Errorf("cols after crop(3,2) got %d expect 24", c)
	}
	if err := img.Crop(3, 2, 1, 0); err != nil {
		t.Fatal(err)
	}
	if r, _ := img.Data.Dims(); r != 9 {
		t.Errorf("rows after crop(3,2,1,0) got %d expect 9", r)
	}
	if err := img.checkShape(); err != nil {
		t.Error(err)
	}

	// crops keep the pixels at their physical location
	rng := fastrand.RNG{}
	a := mustImage(t, random(&rng, 10, 10), 1, [2]float64{0, 0})
	b := a.Copy()
	if err := b.Crop(1, 2, 3, 1); err != nil {
		t.Fatal(err)
	}
	if b.Origin() != [2]float64{1, 3} || b.Data.At(0, 0) != a.Data.At(3, 1) {
		t.Errorf("cropped origin %v value %g expect %g", b.Origin(), b.Data.At(0, 0), a.Data.At(3, 1))
	}
	if err := b.Crop(4, 4); !errors.Is(err, ErrGeometry) {
		t.Errorf("expected ErrGeometry for oversize crop, got %v", err)
	}
}

func TestShiftOrigin(t *testing.T) {
	ones := mustImage(t, filled(16, 32, 1), 1, [2]float64{0.1, 0.1})
	if err := ones.ShiftOrigin([2]float64{-0.1, -0.1}, false); err != nil {
		t.Fatal(err)
	}
	if math.Abs(ones.Sum()-16*32) > 1 {
		t.Errorf("shifted field of ones has flux %g", ones.Sum())
	}
	if o := ones.Origin(); math.Abs(o[0]) > 1e-12 || math.Abs(o[1]) > 1e-12 {
		t.Errorf("origin got %v", o)
	}

	// integer shifts move the content by whole pixels, keeping it in place physically
	rng := fastrand.RNG{}
	img := mustImage(t, random(&rng, 9, 11), 2, [2]float64{0, 0})
	orig := img.Copy()
	if err := img.ShiftOrigin([2]float64{2, 4}, true); err != nil {
		t.Fatal(err)
	}
	for r := 0; r < 7; r++ {
		for c := 0; c < 10; c++ {
			if d := math.Abs(img.Data.At(r, c) - orig.Data.At(r+2, c+1)); d > 1e-6 {
				t.Errorf("(%d,%d) differs by %g", r, c, d)
			}
		}
	}
}

func TestModelReplace(t *testing.T) {
	m := &Model{Image: *mustImage(t, filled(16, 32, 1), 1, [2]float64{0.1, 0.1})}
	other := mustImage(t, filled(4, 4, 5), 1, [2]float64{4.1, 4.1})
	if err := m.Replace(other); err != nil {
		t.Fatal(err)
	}
	if m.Data.At(0, 0) != 1 || m.Data.At(5, 5) != 5 || m.Data.At(8, 8) != 1 {
		t.Errorf("replace got %g %g %g", m.Data.At(0, 0), m.Data.At(5, 5), m.Data.At(8, 8))
	}
	if m.Sum() != 16*32+16*4 {
		t.Errorf("replace flux got %g", m.Sum())
	}
}

func TestModelConvolve(t *testing.T) {
	w := mustWindow(t, [2]float64{0, 0}, [2]int{15, 15}, 1)
	m, err := NewModel(w)
	if err != nil {
		t.Fatal(err)
	}
	m.Data.Set(7, 7, 10)
	psf, err := NewPSF(filled(3, 3, 1), 1, 1)
	if err != nil {
		t.Fatal(err)
	}
	if err := psf.Normalize(); err != nil {
		t.Fatal(err)
	}
	if err := m.Convolve(psf, false); err != nil {
		t.Fatal(err)
	}
	if math.Abs(m.Sum()-10) > 1e-9 || math.Abs(m.Data.At(6, 8)-10.0/9) > 1e-9 || math.Abs(m.Data.At(5, 7)) > 1e-9 {
		t.Errorf("convolved model got sum %g, (6,8)=%g, (5,7)=%g", m.Sum(), m.Data.At(6, 8), m.Data.At(5, 7))
	}

	fine, _ := NewPSF(filled(3, 3, 1), 0.5, 2)
	if err := m.Convolve(fine, false); !errors.Is(err, ErrDimension) {
		t.Errorf("expected ErrDimension for PSF scale mismatch, got %v", err)
	}
}
