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
	"gonum.org/v1/gonum/dsp/fourier"
	"gonum.org/v1/gonum/mat"
)

// Returns the smallest n'>=n whose only prime factors are 2, 3 and 5.
// Transforms of such lengths are fast with the gonum FFT.
func NextFastLen(n int) int {
	if n <= 1 {
		return 1
	}
	for m := n; ; m++ {
		r := m
		for _, p := range []int{2, 3, 5} {
			for r%p == 0 {
				r /= p
			}
		}
		if r == 1 {
			return m
		}
	}
}

// Half-plane spectrum of a real rows x cols matrix, as produced by a real 2-D FFT.
// Data holds Rows x (Cols/2+1) coefficients in row-major order.
type Spectrum struct {
	Rows, Cols int
	Data       []complex128
}

// Width of a spectrum row
func (s *Spectrum) width() int { return s.Cols/2 + 1 }

// Transforms m, zero-padded or truncated to rows x cols, into the frequency domain
func Transform(m mat.Matrix, rows, cols int) *Spectrum {
	s := &Spectrum{Rows: rows, Cols: cols, Data: make([]complex128, rows*(cols/2+1))}
	w := s.width()
	mr, mc := m.Dims()

	// real transform along each row
	rowFFT := fourier.NewFFT(cols)
	seq := make([]float64, cols)
	coeffs := make([]complex128, w)
	for r := 0; r < rows; r++ {
		for c := range seq {
			seq[c] = 0
		}
		if r < mr {
			for c := 0; c < cols && c < mc; c++ {
				seq[c] = m.At(r, c)
			}
		}
		rowFFT.Coefficients(coeffs, seq)
		copy(s.Data[r*w:(r+1)*w], coeffs)
	}

	// complex transform along each column of the half plane
	colFFT := fourier.NewCmplxFFT(rows)
	col := make([]complex128, rows)
	out := make([]complex128, rows)
	for c := 0; c < w; c++ {
		for r := 0; r < rows; r++ {
			col[r] = s.Data[r*w+c]
		}
		colFFT.Coefficients(out, col)
		for r := 0; r < rows; r++ {
			s.Data[r*w+c] = out[r]
		}
	}
	return s
}

// Returns a deep copy of the spectrum
func (s *Spectrum) Copy() *Spectrum {
	return &Spectrum{Rows: s.Rows, Cols: s.Cols, Data: append([]complex128(nil), s.Data...)}
}

// Multiplies the spectrum elementwise with another of the same size, in place
func (s *Spectrum) Mul(o *Spectrum) error {
	if s.Rows != o.Rows || s.Cols != o.Cols {
		return ErrSpectrumSize
	}
	for i, v := range o.Data {
		s.Data[i] *= v
	}
	return nil
}

// Transforms the spectrum back into the spatial domain. The result is normalized,
// so Transform followed by Inverse reproduces the input
func (s *Spectrum) Inverse() *mat.Dense {
	w := s.width()
	tmp := append([]complex128(nil), s.Data...)

	colFFT := fourier.NewCmplxFFT(s.Rows)
	col := make([]complex128, s.Rows)
	seqCol := make([]complex128, s.Rows)
	for c := 0; c < w; c++ {
		for r := 0; r < s.Rows; r++ {
			col[r] = tmp[r*w+c]
		}
		colFFT.Sequence(seqCol, col)
		for r := 0; r < s.Rows; r++ {
			tmp[r*w+c] = seqCol[r]
		}
	}

	out := mat.NewDense(s.Rows, s.Cols, nil)
	rowFFT := fourier.NewFFT(s.Cols)
	seq := make([]float64, s.Cols)
	norm := 1 / float64(s.Rows*s.Cols)
	for r := 0; r < s.Rows; r++ {
		rowFFT.Sequence(seq, tmp[r*w:(r+1)*w])
		for c, v := range seq {
			out.Set(r, c, v*norm)
		}
	}
	return out
}
