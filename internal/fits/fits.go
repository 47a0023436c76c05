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


package fits

import (
	"fmt"
	"strings"
)

// A FITS header/data unit. The first unit of a file is the primary HDU,
// all others are IMAGE extensions.
// Spec here:   https://fits.gsfc.nasa.gov/standard40/fits_standard40aa-le.pdf
// Primer here: https://fits.gsfc.nasa.gov/fits_primer.html
type HDU struct {
	Header Header    // The header with all non-structural keys, values, comments, history entries etc.
	Bitpix int       // Bits per pixel value from the header. Positive values are integral, negative floating.
	Naxisn []int     // Axis dimensions. Most quickly varying dimension first (i.e. X,Y)
	Data   []float64 // The pixel data, with BZERO and BSCALE applied
}

// Creates an HDU from given naxisn. Data is not copied, allocated if nil. naxisn is deep copied
func NewHDU(naxisn []int, data []float64) *HDU {
	numPixels := 1
	for _, naxis := range naxisn {
		numPixels *= naxis
	}
	if data == nil {
		data = make([]float64, numPixels)
	}
	return &HDU{
		Header: NewHeader(),
		Bitpix: -64,
		Naxisn: append([]int(nil), naxisn...), // clone slice
		Data:   data,
	}
}

// Number of pixels in the unit. Product of Naxisn[]
func (h *HDU) Pixels() int {
	if len(h.Naxisn) == 0 {
		return 0
	}
	n := 1
	for _, naxis := range h.Naxisn {
		n *= naxis
	}
	return n
}

// Extension name, or the empty string for unnamed units
func (h *HDU) ExtName() string {
	return strings.TrimSpace(h.Header.Strings["EXTNAME"])
}

func (h *HDU) DimensionsToString() string {
	b := strings.Builder{}
	for i, naxis := range h.Naxisn {
		if i > 0 {
			fmt.Fprintf(&b, "x%d", naxis)
		} else {
			fmt.Fprintf(&b, "%d", naxis)
		}
	}
	return b.String()
}

// Returns the first unit with the given extension name, or nil
func Find(hdus []*HDU, extName string) *HDU {
	for _, h := range hdus {
		if h.ExtName() == extName {
			return h
		}
	}
	return nil
}

// FITS header data
type Header struct {
	Bools    map[string]bool
	Ints     map[string]int64
	Floats   map[string]float64
	Strings  map[string]string
	Dates    map[string]string
	Comments []string
	History  []string
	End      bool
	Length   int
}

// Creates a FITS header initialized with empty maps and arrays
func NewHeader() Header {
	return Header{
		Bools:    make(map[string]bool),
		Ints:     make(map[string]int64),
		Floats:   make(map[string]float64),
		Strings:  make(map[string]string),
		Dates:    make(map[string]string),
		Comments: make([]string, 0),
		History:  make([]string, 0),
		End:      false,
	}
}

// Returns a float header value. Integral values are converted
func (h *Header) Float(key string) (float64, bool) {
	if v, ok := h.Floats[key]; ok {
		return v, true
	}
	if v, ok := h.Ints[key]; ok {
		return float64(v), true
	}
	return 0, false
}

// Returns an integral header value
func (h *Header) Int(key string) (int64, bool) {
	v, ok := h.Ints[key]
	return v, ok
}

// Returns a string header value with FITS padding removed
func (h *Header) String(key string) (string, bool) {
	v, ok := h.Strings[key]
	return strings.TrimRight(v, " "), ok
}

const fitsBlockSize int = 2880 // Block size of FITS header and data units
const HeaderLineSize int = 80  // Line size of a FITS header
