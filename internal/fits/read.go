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
	"bufio"
	"compress/gzip"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"path"
	"regexp"
	"strconv"
	"strings"
)

var reParser *regexp.Regexp = compileRE() // Regexp parser for FITS header lines

// Read all header/data units from the file with the given name. Decompresses gzip if .gz or .gzip suffix is present.
func ReadFile(fileName string, logWriter io.Writer) (hdus []*HDU, err error) {
	f, err := os.Open(fileName)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var r io.Reader = f
	lExt := strings.ToLower(path.Ext(fileName))
	if lExt == ".gz" || lExt == ".gzip" {
		gz, err := gzip.NewReader(f)
		if err != nil {
			return nil, err
		}
		defer gz.Close()
		r = gz
	}
	return Read(bufio.NewReader(r), logWriter)
}

// Read all header/data units from the given reader, until end of file
func Read(r io.Reader, logWriter io.Writer) (hdus []*HDU, err error) {
	for id := 0; ; id++ {
		h := &HDU{Header: NewHeader()}
		err = h.Header.read(r, id, logWriter)
		if errors.Is(err, io.EOF) && id > 0 {
			return hdus, nil // clean end after the last unit
		}
		if err != nil {
			return nil, err
		}
		if err = h.popStructure(id); err != nil {
			return nil, err
		}
		if err = h.readData(r, id, logWriter); err != nil {
			return nil, err
		}
		hdus = append(hdus, h)
	}
}

func (h *HDU) popHeaderInt(key string, id int) (int64, error) {
	if val, ok := h.Header.Ints[key]; ok {
		delete(h.Header.Ints, key)
		return val, nil
	}
	return 0, fmt.Errorf("%d: FITS header does not contain key %s", id, key)
}

func (h *HDU) popHeaderFloat(key string, def float64) float64 {
	if val, ok := h.Header.Ints[key]; ok {
		delete(h.Header.Ints, key)
		return float64(val)
	} else if val, ok := h.Header.Floats[key]; ok {
		delete(h.Header.Floats, key)
		return val
	}
	return def
}

// Checks mandatory fields as per standard and removes structural keys from the header maps
func (h *HDU) popStructure(id int) (err error) {
	if id == 0 {
		if !h.Header.Bools["SIMPLE"] {
			return fmt.Errorf("%d: Not a valid FITS file; SIMPLE=T missing in header", id)
		}
		delete(h.Header.Bools, "SIMPLE")
		delete(h.Header.Bools, "EXTEND")
	} else {
		ext, ok := h.Header.String("XTENSION")
		if !ok {
			return fmt.Errorf("%d: Not a valid FITS extension; XTENSION missing in header", id)
		}
		if ext != "IMAGE" {
			return fmt.Errorf("%d: Unsupported FITS extension type '%s'", id, ext)
		}
		delete(h.Header.Strings, "XTENSION")
		delete(h.Header.Ints, "PCOUNT")
		delete(h.Header.Ints, "GCOUNT")
	}

	bitpix, err := h.popHeaderInt("BITPIX", id)
	if err != nil {
		return err
	}
	h.Bitpix = int(bitpix)
	naxis, err := h.popHeaderInt("NAXIS", id)
	if err != nil {
		return err
	}
	h.Naxisn = make([]int, naxis)
	for i := int64(1); i <= naxis; i++ {
		nai, err := h.popHeaderInt("NAXIS"+strconv.FormatInt(i, 10), id)
		if err != nil {
			return err
		}
		if nai < 0 {
			return fmt.Errorf("%d: Negative axis length %d", id, nai)
		}
		h.Naxisn[i-1] = int(nai)
	}
	return nil
}

// Reads image data, converts to float64 and applies BZERO and BSCALE.
// Skips the padding up to the next block boundary.
func (h *HDU) readData(r io.Reader, id int, logWriter io.Writer) (err error) {
	bzero := h.popHeaderFloat("BZERO", 0)
	bscale := h.popHeaderFloat("BSCALE", 1)

	var decode func(b []byte) float64
	switch h.Bitpix {
	case 8:
		decode = func(b []byte) float64 { return float64(b[0]) }
	case 16:
		decode = func(b []byte) float64 { return float64(int16(bigEndian16(b))) }
	case 32:
		decode = func(b []byte) float64 { return float64(int32(bigEndian32(b))) }
	case 64:
		fmt.Fprintf(logWriter, "%d: Warning: loss of precision converting int%d to float64 values\n", id, h.Bitpix)
		decode = func(b []byte) float64 { return float64(int64(bigEndian64(b))) }
	case -32:
		decode = func(b []byte) float64 { return float64(math.Float32frombits(bigEndian32(b))) }
	case -64:
		decode = func(b []byte) float64 { return math.Float64frombits(bigEndian64(b)) }
	default:
		return fmt.Errorf("%d: Unknown BITPIX value %d", id, h.Bitpix)
	}

	bytesPerValue := h.Bitpix / 8
	if bytesPerValue < 0 {
		bytesPerValue = -bytesPerValue
	}
	numPixels := h.Pixels()
	h.Data = make([]float64, numPixels)
	buf := make([]byte, bufLen-bufLen%bytesPerValue)

	// apply scaling only when present, so float data passes through bit for bit
	scaled := bzero != 0 || bscale != 1
	dataIndex := 0
	for dataIndex < numPixels {
		bytesToRead := (numPixels - dataIndex) * bytesPerValue
		if bytesToRead > len(buf) {
			bytesToRead = len(buf)
		}
		if _, err := io.ReadFull(r, buf[:bytesToRead]); err != nil {
			return fmt.Errorf("%d: %s", id, err.Error())
		}
		for i := 0; i < bytesToRead; i += bytesPerValue {
			v := decode(buf[i : i+bytesPerValue])
			if scaled {
				v = v*bscale + bzero
			}
			h.Data[dataIndex] = v
			dataIndex++
		}
	}
	h.Bitpix = -64 // reflect that data values are float64 now

	if rem := (numPixels * bytesPerValue) % fitsBlockSize; rem > 0 {
		if _, err := io.CopyN(io.Discard, r, int64(fitsBlockSize-rem)); err != nil && !errors.Is(err, io.EOF) {
			return fmt.Errorf("%d: %s", id, err.Error())
		}
	}
	return nil
}

const bufLen int = 16 * 1024 // input buffer length for reading from file

func bigEndian16(b []byte) uint16 {
	return (uint16(b[0]) << 8) | uint16(b[1])
}

func bigEndian32(b []byte) uint32 {
	return (uint32(b[0]) << 24) | (uint32(b[1]) << 16) | (uint32(b[2]) << 8) | uint32(b[3])
}

func bigEndian64(b []byte) uint64 {
	return (uint64(b[0]) << 56) | (uint64(b[1]) << 48) | (uint64(b[2]) << 40) | (uint64(b[3]) << 32) |
		(uint64(b[4]) << 24) | (uint64(b[5]) << 16) | (uint64(b[6]) << 8) | uint64(b[7])
}

// Reads header blocks until the END card. Returns io.EOF if the reader is exhausted before the first block.
func (h *Header) read(r io.Reader, id int, logWriter io.Writer) error {
	buf := make([]byte, fitsBlockSize)
	for h.Length = 0; !h.End; {
		// read next header unit
		bytesRead, err := io.ReadFull(r, buf)
		if err == io.EOF && h.Length == 0 {
			return io.EOF
		}
		if err != nil || bytesRead != fitsBlockSize {
			return fmt.Errorf("%d: truncated header: %v", id, err)
		}
		h.Length += bytesRead

		// parse all lines in this header unit
		for lineNo := 0; lineNo < fitsBlockSize/HeaderLineSize && !h.End; lineNo++ {
			line := buf[lineNo*HeaderLineSize : (lineNo+1)*HeaderLineSize]
			subValues := reParser.FindSubmatch(line)
			if subValues == nil {
				fmt.Fprintf(logWriter, "%d: Warning:Cannot parse '%s', ignoring\n", id, string(line))
			} else {
				h.readLine(reParser.SubexpNames(), subValues, id, lineNo, logWriter)
			}
		}
	}
	return nil
}

func (h *Header) readLine(subNames []string, subValues [][]byte, id, lineNo int, logWriter io.Writer) {
	key := ""
	// ignore index 0 which is the whole line
	for i := 1; i < len(subNames); i++ {
		if subValues[i] != nil && len(subNames[i]) == 1 {
			switch c := subNames[i][0]; c {
			case byte('E'): // end line
				h.End = true
			case byte('H'): // history line
				h.History = append(h.History, strings.TrimRight(string(subValues[i]), " "))
			case byte('C'): // comment line
				h.Comments = append(h.Comments, strings.TrimRight(string(subValues[i]), " "))
			case byte('k'): // key
				key = string(subValues[i])
			case byte('b'): // boolean
				if len(subValues[i]) > 0 {
					v := subValues[i][0]
					h.Bools[key] = v == byte('t') || v == byte('T')
				}
			case byte('i'): // int
				val, err := strconv.ParseInt(string(subValues[i]), 10, 64)
				if err == nil {
					h.Ints[key] = val
				}
			case byte('f'): // float
				s := strings.Replace(string(subValues[i]), "D", "E", 1)
				val, err := strconv.ParseFloat(s, 64)
				if err == nil {
					h.Floats[key] = val
				}
			case byte('s'): // string
				h.Strings[key] = strings.ReplaceAll(string(subValues[i]), "''", "'")
			case byte('d'): // date
				h.Dates[key] = string(subValues[i])
			case byte('c'): // comment
				// ignore value comments
			default:
				fmt.Fprintf(logWriter, "%d:%d:Warning:Unknown token '%s'\n", id, lineNo, string(c))
			}
		}
	}
}

// Build regexp parser for FITS header lines
func compileRE() *regexp.Regexp {
	white := "\\s+"
	whiteOpt := "\\s*"
	whiteLine := white
	hist := "HISTORY"
	rest := ".*"
	histLine := hist + white + "(?P<H>" + rest + ")"
	commKey := "COMMENT"
	commLine := commKey + white + "(?P<C>" + rest + ")"
	end := "(?P<E>END)"
	endLine := end + whiteOpt
	key := "(?P<k>[A-Z0-9_-]+)"
	equals := "="
	boo := "(?P<b>[TF])"
	inte := "(?P<i>[+-]?[0-9]+)"
	floa := "(?P<f>[+-]?[0-9]*\\.[0-9]*(?:[ED][-+]?[0-9]+)?)"
	stri := "'(?P<s>(?:[^']|'')*)'"
	date := "(?P<d>[0-9]{1,4}-?[012][0-9]-?[0123][0-9]T[012][0-9]:?[0-5][0-9]:?[0-5][0-9].?[0-9]*)" // FIXME: other variants possible, see ISO8601
	val := "(?:" + boo + "|" + inte + "|" + floa + "|" + stri + "|" + date + ")"
	// missing: CONTINUE for strings
	// missing: complex int: (nr, nr)
	// missing: complex float: (nr, nr)
	commOpt := "(?:/(?P<c>.*))?"
	keyLine := key + whiteOpt + equals + whiteOpt + val + whiteOpt + commOpt
	lineRe := "^(?:" + whiteLine + "|" + histLine + "|" + commLine + "|" + keyLine + "|" + endLine + ")$"
	return regexp.MustCompile(lineRe)
}
