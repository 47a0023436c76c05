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
	"fmt"
	"math"
	"os"
	"strings"

	"github.com/mlnoga/nightfit/internal/fit"
	"github.com/mlnoga/nightfit/internal/imaging"
	"github.com/mlnoga/nightfit/internal/median"
	"github.com/mlnoga/nightfit/internal/preview"
	"github.com/mlnoga/nightfit/internal/profile"
	"github.com/mlnoga/nightfit/internal/star"
	"github.com/mlnoga/nightfit/internal/stats"
	"gonum.org/v1/gonum/mat"
)

// Statistics of the finite pixel values of the target
func frameStats(t *imaging.Target) *stats.BasicStats {
	return stats.CalcExtendedStats(finiteValues(t.Data))
}

func finiteValues(m *mat.Dense) []float64 {
	rows, cols := m.Dims()
	res := make([]float64, 0, rows*cols)
	for r := 0; r < rows; r++ {
		for _, v := range m.RawRowView(r) {
			if !math.IsNaN(v) && !math.IsInf(v, 0) {
				res = append(res, v)
			}
		}
	}
	return res
}

// Expands a %d file pattern with the frame ID
func expandPattern(pattern string, id int) string {
	if strings.Contains(pattern, "%d") {
		return fmt.Sprintf(pattern, id)
	}
	return pattern
}

func hasSuffix(fileName string, suffixes ...string) bool {
	fnLower := strings.ToLower(fileName)
	for _, s := range suffixes {
		if strings.HasSuffix(fnLower, s) {
			return true
		}
	}
	return false
}

// Which pixels to write
const (
	ContentTarget   = "target"
	ContentModel    = "model"
	ContentResidual = "residual"
)

// Data minus fitted model, or an error if the frame was not fitted
func residual(f *Frame) (*mat.Dense, error) {
	if f.Result == nil || f.Result.Model == nil {
		return nil, fmt.Errorf("%d: no fitted model for residual", f.ID)
	}
	var res mat.Dense
	res.Sub(f.Target.Data, f.Result.Model.Data)
	return &res, nil
}

// Saves given promise under a given filename, with pattern expansion for %d based on the frame id.
// FITS files receive the target with its extensions, the model or the residual.
// JPEG and TIFF files receive a preview. Takes one input, produces one output (the materialized but unchanged input)
type OpSave struct {
	OpUnaryBase
	FilePattern string `json:"filePattern"`
	Content     string `json:"content"`
}

func init() { SetOperatorFactory(func() Operator { return NewOpSaveDefault() }) } // register the operator for JSON decoding

func NewOpSaveDefault() *OpSave { return NewOpSave("", ContentTarget) }

func NewOpSave(filenamePattern, content string) *OpSave {
	op := OpSave{
		OpUnaryBase: OpUnaryBase{OpBase: OpBase{Type: "save", Active: filenamePattern != ""}},
		FilePattern: filenamePattern,
		Content:     content,
	}
	op.OpUnaryBase.Apply = op.Apply // assign class method to superclass abstract method
	return &op
}

func (op *OpSave) Apply(f *Frame, c *Context) (result *Frame, err error) {
	if !op.Active || op.FilePattern == "" {
		return f, nil
	}
	fileName := expandPattern(op.FilePattern, f.ID)
	if c.RestrictPaths && !isPathAllowed(fileName) {
		return nil, fmt.Errorf("%d: output filename outside current directory tree", f.ID)
	}

	if hasSuffix(fileName, ".fits", ".fit", ".fts") {
		switch op.Content {
		case ContentTarget, "":
			fmt.Fprintf(c.Log, "%d: Writing %s target to %s\n", f.ID, f.Target.Window, fileName)
			err = f.Target.Save(fileName)
		case ContentModel:
			if f.Result == nil {
				return nil, fmt.Errorf("%d: no fitted model to write to %s", f.ID, fileName)
			}
			fmt.Fprintf(c.Log, "%d: Writing %s model to %s\n", f.ID, f.Result.Model.Window, fileName)
			err = f.Result.Model.Save(fileName)
		case ContentResidual:
			var res *mat.Dense
			if res, err = residual(f); err != nil {
				return nil, err
			}
			img := &imaging.Image{Meta: f.Target.Meta, Data: res}
			fmt.Fprintf(c.Log, "%d: Writing %s residual to %s\n", f.ID, img.Window, fileName)
			err = img.Save(fileName)
		default:
			return nil, fmt.Errorf("%d: unknown content '%s'", f.ID, op.Content)
		}
	} else if hasSuffix(fileName, ".jpeg", ".jpg", ".tif", ".tiff") {
		err = NewOpPreview(op.FilePattern, op.Content, c.Config.Output.Gamma).write(f, fileName, c)
	} else {
		err = fmt.Errorf("Unknown suffix")
	}
	if err != nil {
		return nil, fmt.Errorf("%d: Error writing to file %s: %w", f.ID, fileName, err)
	}
	return f, nil
}

// Trims pixels from the edges of each target. Accepts 1, 2 or 4 values as imaging.Window.Crop
type OpCrop struct {
	OpUnaryBase
	Pixels []int `json:"pixels"`
}

func init() { SetOperatorFactory(func() Operator { return NewOpCropDefault() }) } // register the operator for JSON decoding

func NewOpCropDefault() *OpCrop { return NewOpCrop(nil) }

func NewOpCrop(pixels []int) *OpCrop {
	op := OpCrop{
		OpUnaryBase: OpUnaryBase{OpBase: OpBase{Type: "crop", Active: len(pixels) > 0}},
		Pixels:      pixels,
	}
	op.OpUnaryBase.Apply = op.Apply // assign class method to superclass abstract method
	return &op
}

func (op *OpCrop) Apply(f *Frame, c *Context) (result *Frame, err error) {
	if !op.Active || len(op.Pixels) == 0 {
		return f, nil
	}
	before := f.Target.Window
	if err := f.Target.Crop(op.Pixels...); err != nil {
		return nil, fmt.Errorf("%d: %w", f.ID, err)
	}
	fmt.Fprintf(c.Log, "%d: Cropped %s by %v to %s\n", f.ID, before, op.Pixels, f.Target.Window)
	return f, nil
}

// Bins each target by an integer factor, with variance, mask and PSF
type OpReduce struct {
	OpUnaryBase
	Factor int `json:"factor"`
}

func init() { SetOperatorFactory(func() Operator { return NewOpReduceDefault() }) } // register the operator for JSON decoding

func NewOpReduceDefault() *OpReduce { return NewOpReduce(1) }

func NewOpReduce(factor int) *OpReduce {
	op := OpReduce{
		OpUnaryBase: OpUnaryBase{OpBase: OpBase{Type: "reduce", Active: factor > 1}},
		Factor:      factor,
	}
	op.OpUnaryBase.Apply = op.Apply // assign class method to superclass abstract method
	return &op
}

func (op *OpReduce) Apply(f *Frame, c *Context) (result *Frame, err error) {
	if !op.Active || op.Factor <= 1 {
		return f, nil
	}
	t, err := f.Target.Reduce(op.Factor)
	if err != nil {
		return nil, fmt.Errorf("%d: %w", f.ID, err)
	}
	fmt.Fprintf(c.Log, "%d: Reduced %s by %d to %s\n", f.ID, f.Target.Window, op.Factor, t.Window)
	f.Target = t
	return f, nil
}

// Logs statistics of each target
type OpStats struct {
	OpUnaryBase
}

func init() { SetOperatorFactory(func() Operator { return NewOpStatsDefault() }) } // register the operator for JSON decoding

func NewOpStatsDefault() *OpStats {
	op := OpStats{OpUnaryBase: OpUnaryBase{OpBase: OpBase{Type: "stats", Active: true}}}
	op.OpUnaryBase.Apply = op.Apply // assign class method to superclass abstract method
	return &op
}

func (op *OpStats) Apply(f *Frame, c *Context) (result *Frame, err error) {
	s := frameStats(f.Target)
	sky, noise, err := profile.EstimateSky(f.Target)
	if err != nil {
		return nil, fmt.Errorf("%d: %w", f.ID, err)
	}
	fmt.Fprintf(c.Log, "%d: %s flux %.6g %s sky %.6g noise %.6g\n", f.ID, f.Target.Window, f.Target.Sum(), s, sky, noise)
	return f, nil
}

// Writes a JPEG or 16-bit TIFF preview of the target, the fitted model or the residual
type OpPreview struct {
	OpUnaryBase
	FilePattern string  `json:"filePattern"`
	Content     string  `json:"content"`
	Gamma       float64 `json:"gamma"`
}

func init() { SetOperatorFactory(func() Operator { return NewOpPreviewDefault() }) } // register the operator for JSON decoding

func NewOpPreviewDefault() *OpPreview { return NewOpPreview("", ContentTarget, 1) }

func NewOpPreview(filePattern, content string, gamma float64) *OpPreview {
	op := OpPreview{
		OpUnaryBase: OpUnaryBase{OpBase: OpBase{Type: "preview", Active: filePattern != ""}},
		FilePattern: filePattern,
		Content:     content,
		Gamma:       gamma,
	}
	op.OpUnaryBase.Apply = op.Apply // assign class method to superclass abstract method
	return &op
}

func (op *OpPreview) Apply(f *Frame, c *Context) (result *Frame, err error) {
	if !op.Active || op.FilePattern == "" {
		return f, nil
	}
	fileName := expandPattern(op.FilePattern, f.ID)
	if c.RestrictPaths && !isPathAllowed(fileName) {
		return nil, fmt.Errorf("%d: preview filename outside current directory tree", f.ID)
	}
	if err := op.write(f, fileName, c); err != nil {
		return nil, fmt.Errorf("%d: Error writing preview %s: %w", f.ID, fileName, err)
	}
	return f, nil
}

func (op *OpPreview) write(f *Frame, fileName string, c *Context) error {
	gamma := op.Gamma
	if gamma <= 0 {
		gamma = c.Config.Output.Gamma
	}
	if gamma <= 0 {
		gamma = 1
	}
	tiff := hasSuffix(fileName, ".tif", ".tiff")

	switch op.Content {
	case ContentTarget, "", ContentModel:
		m := f.Target.Data
		if op.Content == ContentModel {
			if f.Result == nil {
				return fmt.Errorf("no fitted model")
			}
			m = f.Result.Model.Data
		}
		min, max := preview.AutoRange(m)
		fmt.Fprintf(c.Log, "%d: Writing %s preview to %s\n", f.ID, op.Content, fileName)
		if tiff {
			return preview.WriteMonoTIFF16ToFile(fileName, m, min, max, gamma)
		}
		return preview.WriteMonoJPGToFile(fileName, m, min, max, gamma, 95)

	case ContentResidual:
		res, err := residual(f)
		if err != nil {
			return err
		}
		if tiff {
			return fmt.Errorf("residual previews are JPEG only")
		}
		limit := 3 * stats.CalcExtendedStats(finiteValues(res)).Scale
		fmt.Fprintf(c.Log, "%d: Writing residual preview to %s, saturating at %.3g\n", f.ID, fileName, limit)
		return preview.WriteResidualJPGToFile(fileName, res, limit, 95)
	}
	return fmt.Errorf("unknown content '%s'", op.Content)
}

// Fits brightness profiles to each target. Profiles and settings come from the context
// configuration unless given here
type OpFit struct {
	OpUnaryBase
	Profiles      []ProfileSpec `json:"profiles"`
	MaxIterations int           `json:"maxIterations"`
	Stars         int           `json:"stars"` // Also fit Gaussians to this many of the brightest detected stars
}

// A profile to fit, by kind and name
type ProfileSpec struct {
	Kind string `json:"kind"`
	Name string `json:"name"`
}

func init() { SetOperatorFactory(func() Operator { return NewOpFitDefault() }) } // register the operator for JSON decoding

func NewOpFitDefault() *OpFit { return NewOpFit(nil, 0) }

func NewOpFit(profiles []ProfileSpec, maxIterations int) *OpFit {
	op := OpFit{
		OpUnaryBase:   OpUnaryBase{OpBase: OpBase{Type: "fit", Active: true}},
		Profiles:      profiles,
		MaxIterations: maxIterations,
	}
	op.OpUnaryBase.Apply = op.Apply // assign class method to superclass abstract method
	return &op
}

func (op *OpFit) newProfiles(center [2]float64, c *Context) ([]profile.Profile, error) {
	if len(op.Profiles) == 0 {
		return c.Config.NewProfiles(center)
	}
	res := make([]profile.Profile, 0, len(op.Profiles))
	for _, s := range op.Profiles {
		p, err := profile.New(s.Kind, s.Name, center)
		if err != nil {
			return nil, err
		}
		res = append(res, p)
	}
	return res, nil
}

func (op *OpFit) Apply(f *Frame, c *Context) (result *Frame, err error) {
	if !op.Active {
		return f, nil
	}
	profiles, err := op.newProfiles(f.Target.Window.Center(), c)
	if err != nil {
		return nil, fmt.Errorf("%d: %w", f.ID, err)
	}
	sky, noise, err := profile.EstimateSky(f.Target)
	if err != nil {
		return nil, fmt.Errorf("%d: %w", f.ID, err)
	}
	fmt.Fprintf(c.Log, "%d: Sky %.6g noise %.6g\n", f.ID, sky, noise)
	for _, p := range profiles {
		if err := profile.Init(p, f.Target, sky); err != nil {
			return nil, fmt.Errorf("%d: initializing %s: %w", f.ID, p.Name(), err)
		}
	}

	profiles = append(profiles, starProfiles(f, op.Stars)...)

	opts := c.Config.FitOptions()
	if op.MaxIterations > 0 {
		opts.MaxIterations = op.MaxIterations
	}
	res, err := fit.Fit(f.ID, f.Target, f.FileName, profiles, c.Config.SampleConfig(), opts, c.Log)
	if err != nil {
		return nil, fmt.Errorf("%d: %w", f.ID, err)
	}
	for i, p := range res.Parameters {
		fmt.Fprintf(c.Log, "%d: %s = %.6g +- %.3g\n", f.ID, p, res.Values[i], res.Errors[i])
	}
	f.Result = res
	return f, nil
}

// Attaches a PSF kernel from a FITS file to each target, sampled upscale times finer than the target
type OpAttachPSF struct {
	OpUnaryBase
	FileName string `json:"fileName"`
	Upscale  int    `json:"upscale"`
}

func init() { SetOperatorFactory(func() Operator { return NewOpAttachPSFDefault() }) } // register the operator for JSON decoding

func NewOpAttachPSFDefault() *OpAttachPSF { return NewOpAttachPSF("", 1) }

func NewOpAttachPSF(fileName string, upscale int) *OpAttachPSF {
	op := OpAttachPSF{
		OpUnaryBase: OpUnaryBase{OpBase: OpBase{Type: "psf", Active: fileName != ""}},
		FileName:    fileName,
		Upscale:     upscale,
	}
	op.OpUnaryBase.Apply = op.Apply // assign class method to superclass abstract method
	return &op
}

func (op *OpAttachPSF) Apply(f *Frame, c *Context) (result *Frame, err error) {
	if !op.Active || op.FileName == "" {
		return f, nil
	}
	if c.RestrictPaths && !isPathAllowed(op.FileName) {
		return nil, fmt.Errorf("%d: PSF filename outside current directory tree", f.ID)
	}
	upscale := max(op.Upscale, 1)
	kernel, err := imaging.LoadImage(op.FileName)
	if err != nil {
		return nil, fmt.Errorf("%d: loading PSF: %w", f.ID, err)
	}
	psf, err := imaging.NewPSF(kernel.Data, f.Target.PixelScale()/float64(upscale), upscale)
	if err != nil {
		return nil, fmt.Errorf("%d: %w", f.ID, err)
	}
	if err := psf.Normalize(); err != nil {
		return nil, fmt.Errorf("%d: %w", f.ID, err)
	}
	f.Target.SetPSF(psf)
	fmt.Fprintf(c.Log, "%d: Attached %s PSF with upscale %d from %s\n", f.ID, psf.Window, upscale, op.FileName)
	return f, nil
}

// Convolves the target data with its own PSF, binned to the pixel scale of the data
type OpConvolve struct {
	OpUnaryBase
}

func init() { SetOperatorFactory(func() Operator { return NewOpConvolveDefault() }) } // register the operator for JSON decoding

func NewOpConvolveDefault() *OpConvolve {
	op := OpConvolve{OpUnaryBase: OpUnaryBase{OpBase: OpBase{Type: "convolve", Active: true}}}
	op.OpUnaryBase.Apply = op.Apply // assign class method to superclass abstract method
	return &op
}

func (op *OpConvolve) Apply(f *Frame, c *Context) (result *Frame, err error) {
	t := f.Target
	if !t.HasPSF() {
		return nil, fmt.Errorf("%d: target has no PSF to convolve with", f.ID)
	}
	psf := t.PSF.Copy()
	if psf.Upscale > 1 {
		if psf, err = psf.Reduce(psf.Upscale); err != nil {
			return nil, fmt.Errorf("%d: %w", f.ID, err)
		}
	}
	if err := psf.Normalize(); err != nil {
		return nil, fmt.Errorf("%d: %w", f.ID, err)
	}
	m := &imaging.Model{Image: *t.Image.Copy()}
	if err := m.Convolve(psf, false); err != nil {
		return nil, fmt.Errorf("%d: %w", f.ID, err)
	}
	t.Data.Copy(m.Data)
	fmt.Fprintf(c.Log, "%d: Convolved %s with %s PSF, flux %.6g\n", f.ID, t.Window, psf.Window, t.Sum())
	return f, nil
}

// Masks pixels deviating from their local 3x3 median by more than the given sigmas
type OpBadPixels struct {
	OpUnaryBase
	SigmaLow  float64 `json:"sigmaLow"`
	SigmaHigh float64 `json:"sigmaHigh"`
}

func init() { SetOperatorFactory(func() Operator { return NewOpBadPixelsDefault() }) } // register the operator for JSON decoding

func NewOpBadPixelsDefault() *OpBadPixels { return NewOpBadPixels(0, 0) }

func NewOpBadPixels(sigmaLow, sigmaHigh float64) *OpBadPixels {
	op := OpBadPixels{
		OpUnaryBase: OpUnaryBase{OpBase: OpBase{Type: "badPixels", Active: sigmaLow > 0 || sigmaHigh > 0}},
		SigmaLow:    sigmaLow,
		SigmaHigh:   sigmaHigh,
	}
	op.OpUnaryBase.Apply = op.Apply // assign class method to superclass abstract method
	return &op
}

func (op *OpBadPixels) Apply(f *Frame, c *Context) (result *Frame, err error) {
	low, high := op.SigmaLow, op.SigmaHigh
	if low <= 0 {
		low = math.Inf(1)
	}
	if high <= 0 {
		high = math.Inf(1)
	}
	mask, count, diffStats := median.BadPixelMask(f.Target.Data, low, high)
	if f.Target.HasMask() {
		mask.Apply(func(r, col int, v float64) float64 { return math.Max(v, f.Target.Mask.At(r, col)) }, mask)
	}
	if err := f.Target.SetMask(mask); err != nil {
		return nil, fmt.Errorf("%d: %w", f.ID, err)
	}
	fmt.Fprintf(c.Log, "%d: Masked %d bad pixels, median difference %s\n", f.ID, count, diffStats)
	return f, nil
}

// Gaussian profiles seeded from the brightest detected stars. The mean radius
// of a circular Gaussian is sigma*sqrt(pi/2)
func starProfiles(f *Frame, n int) []profile.Profile {
	w := f.Target.Window
	var res []profile.Profile
	for i, s := range f.Stars {
		if len(res) >= n {
			break
		}
		if s.Mass <= 0 || s.HFR <= 0 {
			continue
		}
		x, y := w.ToWorldFrac(s.Y, s.X)
		sigma := s.HFR * w.PixelScale / math.Sqrt(math.Pi/2)
		res = append(res, profile.NewGaussian(fmt.Sprintf("star%d", i), x, y, s.Mass, sigma))
	}
	return res
}

// Detects stars above the sky background. Stars are kept with the frame for seeding fits,
// and optionally written as CSV
type OpFindStars struct {
	OpUnaryBase
	StarSig     float64 `json:"starSig"`
	StarInOut   float64 `json:"starInOut"`
	Radius      int     `json:"radius"`
	FilePattern string  `json:"filePattern"`
}

func init() { SetOperatorFactory(func() Operator { return NewOpFindStarsDefault() }) } // register the operator for JSON decoding

func NewOpFindStarsDefault() *OpFindStars { return NewOpFindStars(0, 1.4, 16, "") }

func NewOpFindStars(starSig, starInOut float64, radius int, filePattern string) *OpFindStars {
	op := OpFindStars{
		OpUnaryBase: OpUnaryBase{OpBase: OpBase{Type: "findStars", Active: starSig > 0}},
		StarSig:     starSig,
		StarInOut:   starInOut,
		Radius:      radius,
		FilePattern: filePattern,
	}
	op.OpUnaryBase.Apply = op.Apply // assign class method to superclass abstract method
	return &op
}

func (op *OpFindStars) Apply(f *Frame, c *Context) (result *Frame, err error) {
	sky, noise, err := profile.EstimateSky(f.Target)
	if err != nil {
		return nil, fmt.Errorf("%d: %w", f.ID, err)
	}
	stars, avgHFR := star.FindStars(f.Target.Data, f.Target.Mask, sky, noise, op.StarSig, op.StarInOut, max(op.Radius, 1))
	f.Stars = stars
	fmt.Fprintf(c.Log, "%d: Found %d stars above %.6g, average HFR %.3g pixels\n", f.ID, len(stars), sky+noise*op.StarSig, avgHFR)

	if op.FilePattern == "" {
		return f, nil
	}
	fileName := expandPattern(op.FilePattern, f.ID)
	if c.RestrictPaths && !isPathAllowed(fileName) {
		return nil, fmt.Errorf("%d: star list filename outside current directory tree", f.ID)
	}
	file, err := os.Create(fileName)
	if err != nil {
		return nil, fmt.Errorf("%d: %w", f.ID, err)
	}
	defer file.Close()
	star.PrintStars(file, stars)
	fmt.Fprintf(c.Log, "%d: Wrote star list to %s\n", f.ID, fileName)
	return f, nil
}

// Attaches a variance map to targets without one: the estimated background noise squared,
// plus Poisson noise of the sky-subtracted signal if a gain is given
type OpVariance struct {
	OpUnaryBase
	Gain float64 `json:"gain"` // electrons per data unit, 0=background noise only
}

func init() { SetOperatorFactory(func() Operator { return NewOpVarianceDefault() }) } // register the operator for JSON decoding

func NewOpVarianceDefault() *OpVariance { return NewOpVariance(false, 0) }

func NewOpVariance(active bool, gain float64) *OpVariance {
	op := OpVariance{
		OpUnaryBase: OpUnaryBase{OpBase: OpBase{Type: "variance", Active: active}},
		Gain:        gain,
	}
	op.OpUnaryBase.Apply = op.Apply // assign class method to superclass abstract method
	return &op
}

func (op *OpVariance) Apply(f *Frame, c *Context) (result *Frame, err error) {
	t := f.Target
	if t.HasVariance() {
		fmt.Fprintf(c.Log, "%d: Keeping existing variance\n", f.ID)
		return f, nil
	}
	noise := stats.EstimateNoise(t.Data)
	if math.IsNaN(noise) || noise <= 0 {
		return nil, fmt.Errorf("%d: cannot estimate noise for %s", f.ID, t.Window)
	}
	sky, _, err := profile.EstimateSky(t)
	if err != nil {
		return nil, fmt.Errorf("%d: %w", f.ID, err)
	}
	bg := noise * noise
	v := mat.DenseCopyOf(t.Data)
	v.Apply(func(_, _ int, x float64) float64 {
		if op.Gain > 0 && x > sky {
			return bg + (x-sky)/op.Gain
		}
		return bg
	}, v)
	if err := t.SetVariance(v); err != nil {
		return nil, fmt.Errorf("%d: %w", f.ID, err)
	}
	fmt.Fprintf(c.Log, "%d: Estimated noise %.6g, gain %g\n", f.ID, noise, op.Gain)
	return f, nil
}
