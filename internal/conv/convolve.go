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


package conv

import (
	"errors"
	"fmt"

	"gonum.org/v1/gonum/mat"
)

var (
	// A pre-transformed kernel does not match the working size of the convolution
	ErrSpectrumSize = errors.New("spectrum size mismatch")
	// Requested convolution mode is not available
	ErrUnsupported = errors.New("unsupported convolution")
)

// Returns the working size for convolving an image of n pixels with a kernel of k pixels along one axis
func WorkingSize(n, k int) int {
	return NextFastLen(n + (k+1)/2)
}

// Convolves img with kernel via the frequency domain and returns a new matrix of the
// same size as img. The kernel is centered at index (k-1)/2 along each axis.
// If prepadded is set, img already carries a border wide enough to absorb wrap-around
// and the transform is computed at the image size.
func Convolve(img, kernel mat.Matrix, prepadded bool) (*mat.Dense, error) {
	rows, cols := img.Dims()
	kr, kc := kernel.Dims()
	wr, wc := rows, cols
	if !prepadded {
		wr, wc = WorkingSize(rows, kr), WorkingSize(cols, kc)
	}
	if kr > wr || kc > wc {
		return nil, fmt.Errorf("kernel %dx%d exceeds working size %dx%d: %w", kr, kc, wr, wc, ErrSpectrumSize)
	}
	return ConvolveSpectrum(img, Transform(kernel, wr, wc), kr, kc)
}

// Convolves img with a kernel given as its spectrum. kr, kc are the spatial dimensions
// of the kernel before transformation and determine the re-centering shift.
// The working size is the size of the spectrum.
func ConvolveSpectrum(img mat.Matrix, kernel *Spectrum, kr, kc int) (*mat.Dense, error) {
	rows, cols := img.Dims()
	if kernel.Rows < rows || kernel.Cols < cols {
		return nil, fmt.Errorf("spectrum %dx%d smaller than image %dx%d: %w", kernel.Rows, kernel.Cols, rows, cols, ErrSpectrumSize)
	}
	s := Transform(img, kernel.Rows, kernel.Cols)
	if err := s.Mul(kernel); err != nil {
		return nil, err
	}
	return rollCrop(s.Inverse(), (kr-1)/2, (kc-1)/2, rows, cols), nil
}

// Convolves img with a sequence of spatial-domain kernels, multiplying their spectra
// before a single inverse transform. Pre-transformed kernels are not accepted here.
func ConvolveMulti(img mat.Matrix, kernels []mat.Matrix, prepadded bool) (*mat.Dense, error) {
	if len(kernels) == 0 {
		return mat.DenseCopyOf(img), nil
	}
	rows, cols := img.Dims()
	padR, padC, shiftR, shiftC := 0, 0, 0, 0
	for _, k := range kernels {
		kr, kc := k.Dims()
		padR += (kr + 1) / 2
		padC += (kc + 1) / 2
		shiftR += (kr - 1) / 2
		shiftC += (kc - 1) / 2
	}
	wr, wc := rows, cols
	if !prepadded {
		wr, wc = NextFastLen(rows+padR), NextFastLen(cols+padC)
	}

	s := Transform(img, wr, wc)
	for _, k := range kernels {
		kr, kc := k.Dims()
		if kr > wr || kc > wc {
			return nil, fmt.Errorf("kernel %dx%d exceeds working size %dx%d: %w", kr, kc, wr, wc, ErrSpectrumSize)
		}
		if err := s.Mul(Transform(k, wr, wc)); err != nil {
			return nil, err
		}
	}
	return rollCrop(s.Inverse(), shiftR, shiftC, rows, cols), nil
}

// Pre-transformed kernels on the multi-kernel path
func ConvolveMultiSpectrum(img mat.Matrix, kernels []*Spectrum, prepadded bool) (*mat.Dense, error) {
	return nil, fmt.Errorf("multi-kernel convolution with pre-transformed kernels: %w", ErrUnsupported)
}

// Circularly shifts m by -shiftR rows and -shiftC columns and returns the top left rows x cols block
func rollCrop(m *mat.Dense, shiftR, shiftC, rows, cols int) *mat.Dense {
	mr, mc := m.Dims()
	out := mat.NewDense(rows, cols, nil)
	for r := 0; r < rows; r++ {
		sr := (r + shiftR) % mr
		for c := 0; c < cols; c++ {
			out.Set(r, c, m.At(sr, (c+shiftC)%mc))
		}
	}
	return out
}
