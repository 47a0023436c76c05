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


package ops

import (
	"bytes"
	"encoding/json"
	"errors"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/mlnoga/nightfit/internal/config"
	"github.com/mlnoga/nightfit/internal/fits"
	"github.com/mlnoga/nightfit/internal/imaging"
	"github.com/mlnoga/nightfit/internal/profile"
	"github.com/valyala/fastrand"
	"gonum.org/v1/gonum/mat"
)

func testContext(log *bytes.Buffer) *Context {
	cfg := config.DefaultConfig()
	cfg.Sampling.IntegrateFactor = 1
	cfg.Profiles = []config.ProfileSpec{{Kind: "sky", Name: "sky"}, {Kind: "gaussian", Name: "star"}}
	return NewContext(log, cfg)
}

func writeSynthetic(t *testing.T, fileName string) {
	t.Helper()
	w, _ := imaging.NewWindow([2]float64{0, 0}, [2]int{40, 36}, 1)
	m, err := profile.SampleAll([]profile.Profile{
		profile.NewSky("sky", 10),
		profile.NewGaussian("star", 19.4, 17.2, 600, 2.1),
	}, nil, w, profile.SampleConfig{IntegrateFactor: 1})
	if err != nil {
		t.Fatal(err)
	}
	target, err := imaging.NewTarget(m.Data, 1, [2]float64{0, 0})
	if err != nil {
		t.Fatal(err)
	}
	if err := target.Save(fileName); err != nil {
		t.Fatal(err)
	}
}

func TestSequenceJSON(t *testing.T) {
	seq := NewOpSequence(
		NewOpLoadMany([]string{"*.fits"}),
		NewOpForEach(NewOpSequence(
			NewOpCrop([]int{2, 4}),
			NewOpReduce(2),
			NewOpFit([]ProfileSpec{{Kind: "sersic", Name: "galaxy"}}, 20),
			NewOpSave("out%d.fits", ContentResidual),
		)),
	)
	b, err := json.Marshal(seq)
	if err != nil {
		t.Fatal(err)
	}
	var got OpSequence
	if err := json.Unmarshal(b, &got); err != nil {
		t.Fatalf("%s: %s", err, string(b))
	}
	if len(got.Steps) != 2 {
		t.Fatalf("steps got %d", len(got.Steps))
	}
	each, ok := got.Steps[1].(*OpForEach)
	if !ok {
		t.Fatalf("step 1 has type %T", got.Steps[1])
	}
	inner := each.Operation.(*OpSequence)
	if crop := inner.Steps[0].(*OpCrop); len(crop.Pixels) != 2 || crop.Pixels[1] != 4 {
		t.Errorf("crop got %v", crop.Pixels)
	}
	if fit := inner.Steps[2].(*OpFit); fit.MaxIterations != 20 || fit.Profiles[0].Kind != "sersic" {
		t.Errorf("fit got %+v", fit)
	}
	if save := inner.Steps[3].(*OpSave); save.Content != ContentResidual || save.OpUnaryBase.Apply == nil {
		t.Errorf("save got %+v", save)
	}

	if _, err := UnmarshalOperator([]byte(`{"type":"stack"}`)); err == nil {
		t.Errorf("expected error for unknown operator")
	}
}

func TestPipelineFitsAndWrites(t *testing.T) {
	dir := t.TempDir()
	writeSynthetic(t, filepath.Join(dir, "frame.fits"))

	var log bytes.Buffer
	c := testContext(&log)
	seq := NewOpSequence(
		NewOpLoadMany([]string{filepath.Join(dir, "*.fits")}),
		NewOpForEach(NewOpSequence(
			NewOpStatsDefault(),
			NewOpFit(nil, 0),
			NewOpSave(filepath.Join(dir, "model%d.fits"), ContentModel),
			NewOpSave(filepath.Join(dir, "residual%d.fits"), ContentResidual),
			NewOpPreview(filepath.Join(dir, "residual%d.jpg"), ContentResidual, 1),
			NewOpPreview(filepath.Join(dir, "data%d.tif"), ContentTarget, 2.2),
		)),
	)
	frames, err := Run(seq, c)
	if err != nil {
		t.Fatalf("%s\n%s", err, log.String())
	}
	if len(frames) != 1 {
		t.Fatalf("frames got %d", len(frames))
	}
	res := frames[0].Result
	expect := map[imaging.ParameterID]float64{"sky:sky": 10, "star:x": 19.4, "star:y": 17.2, "star:flux": 600, "star:sigma": 2.1}
	for i, p := range res.Parameters {
		if e := expect[p]; math.Abs(res.Values[i]-e) > 1e-3*math.Max(1, e) {
			t.Errorf("%s got %g expect %g", p, res.Values[i], e)
		}
	}

	for _, name := range []string{"model0.fits", "residual0.fits", "residual0.jpg", "data0.tif"} {
		if _, err := os.Stat(filepath.Join(dir, name)); err != nil {
			t.Errorf("missing output %s", name)
		}
	}
	model, err := imaging.LoadImage(filepath.Join(dir, "model0.fits"))
	if err != nil {
		t.Fatal(err)
	}
	if math.Abs(model.Sum()-(600+10*40*36)) > 0.1 {
		t.Errorf("model flux got %g", model.Sum())
	}
	if !strings.Contains(log.String(), "0: Fit converged") {
		t.Errorf("log lacks fit summary:\n%s", log.String())
	}
}

func TestCropReduceOps(t *testing.T) {
	dir := t.TempDir()
	fileName := filepath.Join(dir, "frame.fits")
	writeSynthetic(t, fileName)

	var log bytes.Buffer
	c := testContext(&log)
	seq := NewOpSequence(NewOpLoad(7, fileName), NewOpCrop([]int{2, 0}), NewOpReduce(2))
	frames, err := Run(seq, c)
	if err != nil {
		t.Fatal(err)
	}
	w := frames[0].Target.Window
	if w.Shape != [2]int{18, 18} || w.PixelScale != 2 || w.Origin != [2]float64{2, 0} {
		t.Errorf("window got %s", w)
	}
	if frames[0].ID != 7 || !strings.Contains(log.String(), "7: Reduced") {
		t.Errorf("log got %s", log.String())
	}

	// 36 rows do not split into 5
	if _, err := Run(NewOpSequence(NewOpLoad(1, fileName), NewOpReduce(5)), c); !errors.Is(err, imaging.ErrDimension) {
		t.Errorf("expected ErrDimension, got %v", err)
	}
}

func TestLoadPlainFITS(t *testing.T) {
	dir := t.TempDir()
	fileName := filepath.Join(dir, "camera.fits")
	data := make([]float64, 6*4)
	for i := range data {
		data[i] = float64(i)
	}
	if err := fits.WriteFile(fileName, []*fits.HDU{fits.NewHDU([]int{6, 4}, data)}); err != nil {
		t.Fatal(err)
	}
	var log bytes.Buffer
	c := testContext(&log)
	c.PixelScale = 0.4
	frames, err := Run(NewOpLoad(0, fileName), c)
	if err != nil {
		t.Fatal(err)
	}
	tg := frames[0].Target
	if tg.PixelScale() != 0.4 || tg.Window.Shape != [2]int{6, 4} || tg.Data.At(1, 2) != 8 {
		t.Errorf("plain target got %s", tg.Window)
	}
}

func TestRestrictedPaths(t *testing.T) {
	var log bytes.Buffer
	c := testContext(&log)
	c.RestrictPaths = true
	if _, err := NewOpLoad(0, "/etc/hosts").MakePromises(nil, c); err == nil {
		t.Errorf("absolute path accepted")
	}
	if _, err := NewOpLoad(0, "../x.fits").MakePromises(nil, c); err == nil {
		t.Errorf("parent path accepted")
	}
	if _, err := NewOpLoad(0, "x.fits").MakePromises(nil, c); err != nil {
		t.Errorf("relative path rejected: %v", err)
	}

	target, err := imaging.NewTarget(mat.NewDense(4, 4, nil), 1, [2]float64{0, 0})
	if err != nil {
		t.Fatal(err)
	}
	f := &Frame{ID: 1, Target: target}
	dir := t.TempDir()
	for _, name := range []string{filepath.Join(dir, "out%d.fits"), "../out%d.fits"} {
		if _, err := NewOpSave(name, ContentTarget).Apply(f, c); err == nil {
			t.Errorf("save to %s accepted", name)
		}
	}
	for _, name := range []string{filepath.Join(dir, "out%d.jpg"), "../out%d.jpg"} {
		if _, err := NewOpPreview(name, ContentTarget, 1).Apply(f, c); err == nil {
			t.Errorf("preview to %s accepted", name)
		}
	}
	if entries, _ := os.ReadDir(dir); len(entries) != 0 {
		t.Errorf("restricted writes created %d files", len(entries))
	}
}

func TestMaterializeAll(t *testing.T) {
	errA, errB := errors.New("a failed"), errors.New("b failed")
	ins := []Promise{
		func() (*Frame, error) { return &Frame{ID: 0}, nil },
		func() (*Frame, error) { return nil, errA },
		func() (*Frame, error) { return &Frame{ID: 2}, nil },
		func() (*Frame, error) { return nil, errB },
	}
	outs, err := MaterializeAll(ins, 2, false)
	if len(outs) != 2 || outs[0].ID != 0 || outs[1].ID != 2 {
		t.Errorf("outs got %v", outs)
	}
	if !errors.Is(err, errA) || !errors.Is(err, errB) {
		t.Errorf("err got %v", err)
	}
	if outs, err := MaterializeAll(ins[:1], 0, true); len(outs) != 0 || err != nil {
		t.Errorf("forget got %v, %v", outs, err)
	}
}

func TestContextReportsMachine(t *testing.T) {
	c := NewContext(&bytes.Buffer{}, nil)
	if c.MemoryMB <= 0 || c.MaxThreads < 1 || c.Config == nil {
		t.Errorf("context got %+v", c)
	}
	if !strings.Contains(c.String(), "threads") {
		t.Errorf("description got %s", c.String())
	}
}

func TestAttachPSFAndConvolve(t *testing.T) {
	dir := t.TempDir()
	fileName, psfName := filepath.Join(dir, "impulse.fits"), filepath.Join(dir, "psf.fits")
	data := mat.NewDense(9, 9, nil)
	data.Set(4, 4, 8)
	target, _ := imaging.NewTarget(data, 1, [2]float64{0, 0})
	if err := target.Save(fileName); err != nil {
		t.Fatal(err)
	}
	kernel, _ := imaging.NewImage(mat.NewDense(3, 3, []float64{1, 2, 1, 2, 4, 2, 1, 2, 1}), 1, [2]float64{0, 0})
	if err := kernel.Save(psfName); err != nil {
		t.Fatal(err)
	}

	var log bytes.Buffer
	c := testContext(&log)
	frames, err := Run(NewOpSequence(NewOpLoad(0, fileName), NewOpAttachPSF(psfName, 1), NewOpConvolveDefault()), c)
	if err != nil {
		t.Fatalf("%s\n%s", err, log.String())
	}
	got := frames[0].Target.Data
	for _, tc := range []struct {
		r, c int
		want float64
	}{{4, 4, 2}, {3, 4, 1}, {5, 3, 0.5}, {0, 0, 0}} {
		if v := got.At(tc.r, tc.c); math.Abs(v-tc.want) > 1e-9 {
			t.Errorf("(%d,%d) got %g want %g", tc.r, tc.c, v, tc.want)
		}
	}

	if _, err := Run(NewOpSequence(NewOpLoad(1, fileName), NewOpConvolveDefault()), c); err == nil {
		t.Errorf("expected error convolving without PSF")
	}
}

func TestBadPixelsKeepsExistingMask(t *testing.T) {
	data := mat.NewDense(16, 16, nil)
	rng := fastrand.RNG{}
	data.Apply(func(_, _ int, _ float64) float64 { return 10 + float64(rng.Uint32n(1<<16))/(1<<16) }, data)
	data.Set(8, 8, 500)
	target, _ := imaging.NewTarget(data, 1, [2]float64{0, 0})
	prior := mat.NewDense(16, 16, nil)
	prior.Set(2, 3, 1)
	if err := target.SetMask(prior); err != nil {
		t.Fatal(err)
	}

	var log bytes.Buffer
	c := testContext(&log)
	f, err := NewOpBadPixels(0, 20).Apply(&Frame{ID: 4, Target: target}, c)
	if err != nil {
		t.Fatal(err)
	}
	if f.Target.Mask.At(8, 8) != 1 || f.Target.Mask.At(2, 3) != 1 || f.Target.Mask.At(5, 5) != 0 {
		t.Errorf("mask got hot %g prior %g clean %g", f.Target.Mask.At(8, 8), f.Target.Mask.At(2, 3), f.Target.Mask.At(5, 5))
	}
	if !strings.Contains(log.String(), "4: Masked") {
		t.Errorf("log got %s", log.String())
	}
}

func TestFindStarsSeedsFit(t *testing.T) {
	w, _ := imaging.NewWindow([2]float64{0, 0}, [2]int{40, 36}, 1)
	m, err := profile.SampleAll([]profile.Profile{
		profile.NewSky("sky", 10),
		profile.NewGaussian("star", 19.4, 17.2, 600, 2.1),
	}, nil, w, profile.SampleConfig{IntegrateFactor: 1})
	if err != nil {
		t.Fatal(err)
	}
	rng := fastrand.RNG{}
	m.Data.Apply(func(_, _ int, v float64) float64 { return v + float64(rng.Uint32n(1<<16))/(1<<16) - 0.5 }, m.Data)
	target, _ := imaging.NewTarget(m.Data, 1, [2]float64{0, 0})

	var log bytes.Buffer
	c := testContext(&log)
	dir := t.TempDir()
	opFit := NewOpFit([]ProfileSpec{{Kind: "sky", Name: "sky"}}, 0)
	opFit.Stars = 1
	seq := NewOpSequence(NewOpFindStars(10, 1.4, 8, filepath.Join(dir, "stars%d.csv")), opFit)
	outs, err := seq.MakePromises([]Promise{func() (*Frame, error) { return &Frame{ID: 2, Target: target}, nil }}, c)
	if err != nil {
		t.Fatal(err)
	}
	frames, err := MaterializeAll(outs, 1, false)
	if err != nil {
		t.Fatalf("%s\n%s", err, log.String())
	}
	f := frames[0]
	if len(f.Stars) != 1 {
		t.Fatalf("stars got %v", f.Stars)
	}
	res := f.Result
	if len(res.Parameters) != 5 || res.Parameters[1] != "star0:x" {
		t.Fatalf("parameters got %v", res.Parameters)
	}
	expect := []float64{10, 19.4, 17.2, 600, 2.1}
	for i, e := range expect {
		if math.Abs(res.Values[i]-e) > 0.03*e {
			t.Errorf("%s got %g expect %g", res.Parameters[i], res.Values[i], e)
		}
	}
	if b, err := os.ReadFile(filepath.Join(dir, "stars2.csv")); err != nil || !strings.HasPrefix(string(b), "Row,Col") {
		t.Errorf("star list got %q, %v", string(b), err)
	}
}

func TestVarianceFromNoise(t *testing.T) {
	rng := fastrand.RNG{}
	data := mat.NewDense(200, 200, nil)
	data.Apply(func(_, _ int, _ float64) float64 {
		sum := 0.0
		for j := 0; j < 12; j++ {
			sum += float64(rng.Uint32n(1<<24)) / (1 << 24)
		}
		return 100 + 2*(sum-6)
	}, data)
	data.Set(0, 0, 95)
	data.Set(25, 25, 200)
	target, _ := imaging.NewTarget(data, 1, [2]float64{0, 0})

	var log bytes.Buffer
	c := testContext(&log)
	f, err := NewOpVariance(true, 1).Apply(&Frame{ID: 1, Target: target}, c)
	if err != nil {
		t.Fatal(err)
	}
	v := f.Target.Variance
	if bg := v.At(0, 0); math.Abs(bg-4) > 0.5 {
		t.Errorf("background variance got %g", bg)
	}
	// Poisson part of a 100 unit signal at unit gain
	if peak := v.At(25, 25) - v.At(0, 0); math.Abs(peak-100) > 1 {
		t.Errorf("signal variance got %g", peak)
	}
	if _, err := NewOpVariance(true, 1).Apply(f, c); err != nil || !strings.Contains(log.String(), "Keeping existing variance") {
		t.Errorf("existing variance not kept: %v", err)
	}
}
