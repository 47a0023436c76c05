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
	"bufio"
	"fmt"
	"io"

	"github.com/mlnoga/nightfit/internal/fits"
	"gonum.org/v1/gonum/mat"
)

// FITS header keys and extension names of the persisted layout
const (
	keyPixelScale = "PXLSCALE"
	keyZeropoint  = "ZEROPNT"
	keyOrigin1    = "ORIGIN1"
	keyOrigin2    = "ORIGIN2"
	keyNote       = "NOTE"
	keyUpscale    = "PSFUPSCL"
	keyExtName    = "EXTNAME"

	ExtVariance = "VARIANCE"
	ExtMask     = "MASK"
	ExtPSF      = "PSF"
)

func denseToHDU(m *mat.Dense) *fits.HDU {
	rows, cols := m.Dims()
	return fits.NewHDU([]int{cols, rows}, flattenDense(m))
}

func hduToDense(h *fits.HDU) (*mat.Dense, error) {
	if len(h.Naxisn) != 2 || h.Naxisn[0] <= 0 || h.Naxisn[1] <= 0 {
		return nil, fmt.Errorf("unit %q has dimensions %s, want 2-D: %w", h.ExtName(), h.DimensionsToString(), ErrPersistence)
	}
	return mat.NewDense(h.Naxisn[1], h.Naxisn[0], h.Data), nil
}

// Header unit holding the image data and geometry
func (img *Image) toHDU() *fits.HDU {
	h := denseToHDU(img.Data)
	h.Header.Floats[keyPixelScale] = img.Window.PixelScale
	h.Header.Floats[keyOrigin1] = img.Window.Origin[0]
	h.Header.Floats[keyOrigin2] = img.Window.Origin[1]
	if img.Zeropoint != nil {
		h.Header.Floats[keyZeropoint] = *img.Zeropoint
	}
	if img.Note != "" {
		h.Header.Strings[keyNote] = img.Note
	}
	return h
}

func requireFloat(h *fits.HDU, key string) (float64, error) {
	v, ok := h.Header.Float(key)
	if !ok {
		return 0, fmt.Errorf("unit %q lacks header key %s: %w", h.ExtName(), key, ErrPersistence)
	}
	return v, nil
}

func imageFromHDU(h *fits.HDU) (*Image, error) {
	data, err := hduToDense(h)
	if err != nil {
		return nil, err
	}
	scale, err := requireFloat(h, keyPixelScale)
	if err != nil {
		return nil, err
	}
	var origin [2]float64
	if origin[0], err = requireFloat(h, keyOrigin1); err != nil {
		return nil, err
	}
	if origin[1], err = requireFloat(h, keyOrigin2); err != nil {
		return nil, err
	}
	img, err := NewImage(data, scale, origin)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrPersistence, err)
	}
	if zp, ok := h.Header.Float(keyZeropoint); ok {
		img.SetZeroPoint(zp)
	}
	img.Note, _ = h.Header.String(keyNote)
	return img, nil
}

// Writes the image as a single-unit FITS stream
func (img *Image) Write(w io.Writer) error {
	return fits.Write(w, []*fits.HDU{img.toHDU()})
}

// Saves the image to a FITS file
func (img *Image) Save(fileName string) error {
	return fits.WriteFile(fileName, []*fits.HDU{img.toHDU()})
}

// Reads an image from a FITS stream, using the primary unit
func ReadImage(r io.Reader) (*Image, error) {
	hdus, err := fits.Read(bufio.NewReader(r), io.Discard)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrPersistence, err)
	}
	return imageFromHDU(hdus[0])
}

// Loads an image from a FITS file
func LoadImage(fileName string) (*Image, error) {
	hdus, err := fits.ReadFile(fileName, io.Discard)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrPersistence, err)
	}
	return imageFromHDU(hdus[0])
}

// Header units of the target: primary data, then variance, mask and PSF extensions if present
func (t *Target) toHDUs() []*fits.HDU {
	hdus := []*fits.HDU{t.Image.toHDU()}
	if t.Variance != nil {
		h := denseToHDU(t.Variance)
		h.Header.Strings[keyExtName] = ExtVariance
		hdus = append(hdus, h)
	}
	if t.Mask != nil {
		h := denseToHDU(t.Mask)
		h.Header.Strings[keyExtName] = ExtMask
		hdus = append(hdus, h)
	}
	if t.PSF != nil {
		h := t.PSF.Image.toHDU()
		h.Header.Strings[keyExtName] = ExtPSF
		h.Header.Ints[keyUpscale] = int64(t.PSF.Upscale)
		hdus = append(hdus, h)
	}
	return hdus
}

func targetFromHDUs(hdus []*fits.HDU) (*Target, error) {
	img, err := imageFromHDU(hdus[0])
	if err != nil {
		return nil, err
	}
	t := &Target{Image: *img}

	if h := fits.Find(hdus, ExtVariance); h != nil {
		v, err := hduToDense(h)
		if err != nil {
			return nil, err
		}
		if err := t.SetVariance(v); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrPersistence, err)
		}
	}
	if h := fits.Find(hdus, ExtMask); h != nil {
		m, err := hduToDense(h)
		if err != nil {
			return nil, err
		}
		if err := t.SetMask(m); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrPersistence, err)
		}
	}
	if h := fits.Find(hdus, ExtPSF); h != nil {
		pimg, err := imageFromHDU(h)
		if err != nil {
			return nil, err
		}
		upscale, ok := h.Header.Int(keyUpscale)
		if !ok || upscale < 1 {
			return nil, fmt.Errorf("PSF unit lacks valid %s: %w", keyUpscale, ErrPersistence)
		}
		t.PSF = &PSF{Image: *pimg, Upscale: int(upscale)}
	}
	return t, nil
}

// Writes the target as a multi-extension FITS stream
func (t *Target) Write(w io.Writer) error {
	return fits.Write(w, t.toHDUs())
}

// Saves the target to a multi-extension FITS file
func (t *Target) Save(fileName string) error {
	return fits.WriteFile(fileName, t.toHDUs())
}

// Reads a target from a multi-extension FITS stream
func ReadTarget(r io.Reader) (*Target, error) {
	hdus, err := fits.Read(bufio.NewReader(r), io.Discard)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrPersistence, err)
	}
	return targetFromHDUs(hdus)
}

// Loads a target from a multi-extension FITS file. Plain single-unit files load as targets
// without variance, mask or PSF
func LoadTarget(fileName string) (*Target, error) {
	hdus, err := fits.ReadFile(fileName, io.Discard)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrPersistence, err)
	}
	return targetFromHDUs(hdus)
}

// Loads a target from a FITS file. Files without persisted geometry, such as camera frames,
// load with the given pixel scale and the origin at zero. Reader warnings go to logWriter
func LoadTargetWithDefaults(fileName string, pixelScale float64, logWriter io.Writer) (*Target, error) {
	hdus, err := fits.ReadFile(fileName, logWriter)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrPersistence, err)
	}
	if len(hdus) == 0 {
		return nil, fmt.Errorf("no header units in %s: %w", fileName, ErrPersistence)
	}
	if _, ok := hdus[0].Header.Float(keyPixelScale); ok {
		return targetFromHDUs(hdus)
	}
	data, err := hduToDense(hdus[0])
	if err != nil {
		return nil, err
	}
	t, err := NewTarget(data, pixelScale, [2]float64{})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrPersistence, err)
	}
	return t, nil
}
