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
	"fmt"
	"io"
	"math"
	"os"
	"sort"
	"strconv"
	"strings"
)

// Writes header/data units to a file with given filename.
// Creates/overwrites the file if necessary
func WriteFile(fileName string, hdus []*HDU) error {
	f, err := os.OpenFile(fileName, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return err
	}
	defer f.Close()
	w := bufio.NewWriter(f)
	if err := Write(w, hdus); err != nil {
		return err
	}
	return w.Flush()
}

// Writes header/data units to an io.Writer. The first unit becomes the primary HDU,
// all others are written as IMAGE extensions. Pixel data is always stored as float64.
func Write(w io.Writer, hdus []*HDU) error {
	if len(hdus) == 0 {
		return fmt.Errorf("no header/data units to write")
	}
	for id, h := range hdus {
		if h.Pixels() != len(h.Data) {
			return fmt.Errorf("%d: data length %d does not match dimensions %s", id, len(h.Data), h.DimensionsToString())
		}
		if err := h.writeHeader(w, id); err != nil {
			return err
		}
		if err := writeFloat64Array(w, h.Data); err != nil {
			return err
		}
	}
	return nil
}

func (h *HDU) writeHeader(w io.Writer, id int) error {
	sb := strings.Builder{}
	if id == 0 {
		writeBool(&sb, "SIMPLE", true, "FITS standard 4.0")
	} else {
		writeString(&sb, "XTENSION", "IMAGE", "Image extension")
	}
	writeInt(&sb, "BITPIX", -64, "64-bit floating point")
	writeInt(&sb, "NAXIS", int64(len(h.Naxisn)), "[1] Number of axis")
	for i := 0; i < len(h.Naxisn); i++ {
		writeInt(&sb, fmt.Sprintf("NAXIS%d", i+1), int64(h.Naxisn[i]), "[1] Axis size")
	}
	if id == 0 {
		writeBool(&sb, "EXTEND", true, "Extensions may be present")
	} else {
		writeInt(&sb, "PCOUNT", 0, "No parameters")
		writeInt(&sb, "GCOUNT", 1, "One group")
	}

	hdr := &h.Header
	for _, k := range sortedKeys(hdr.Bools) {
		writeBool(&sb, k, hdr.Bools[k], "")
	}
	for _, k := range sortedKeys(hdr.Ints) {
		writeInt(&sb, k, hdr.Ints[k], "")
	}
	for _, k := range sortedKeys(hdr.Floats) {
		if err := writeFloat(&sb, k, hdr.Floats[k], ""); err != nil {
			return fmt.Errorf("%d: %s", id, err.Error())
		}
	}
	for _, k := range sortedKeys(hdr.Strings) {
		writeString(&sb, k, hdr.Strings[k], "")
	}
	for _, k := range sortedKeys(hdr.Dates) {
		writeString(&sb, k, hdr.Dates[k], "")
	}
	for _, c := range hdr.Comments {
		writeCard(&sb, "COMMENT "+c)
	}
	for _, c := range hdr.History {
		writeCard(&sb, "HISTORY "+c)
	}
	writeEnd(&sb)

	// Pad current header block with spaces if necessary
	if rem := sb.Len() % fitsBlockSize; rem > 0 {
		sb.WriteString(strings.Repeat(" ", fitsBlockSize-rem))
	}
	_, err := io.WriteString(w, sb.String())
	return err
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Writes a single header card, padded or truncated to the line size
func writeCard(sb *strings.Builder, card string) {
	if len(card) > HeaderLineSize {
		card = card[:HeaderLineSize]
	}
	sb.WriteString(card)
	sb.WriteString(strings.Repeat(" ", HeaderLineSize-len(card)))
}

func keyValue(key, value, comment string) string {
	if len(key) > 8 {
		key = key[0:8]
	}
	if comment == "" {
		return fmt.Sprintf("%-8s= %20s", key, value)
	}
	return fmt.Sprintf("%-8s= %20s / %s", key, value, comment)
}

// Writes a FITS header boolean value
func writeBool(sb *strings.Builder, key string, value bool, comment string) {
	v := "F"
	if value {
		v = "T"
	}
	writeCard(sb, keyValue(key, v, comment))
}

// Writes a FITS header integer value
func writeInt(sb *strings.Builder, key string, value int64, comment string) {
	writeCard(sb, keyValue(key, strconv.FormatInt(value, 10), comment))
}

// Writes a FITS header float value in shortest round-trip notation. Always contains a decimal point,
// so the value is read back as a float
func writeFloat(sb *strings.Builder, key string, value float64, comment string) error {
	if math.IsNaN(value) || math.IsInf(value, 0) {
		return fmt.Errorf("cannot store non-finite value %g for key %s in FITS header", value, key)
	}
	s := strconv.FormatFloat(value, 'E', -1, 64)
	if !strings.Contains(s, ".") {
		e := strings.IndexByte(s, 'E')
		s = s[:e] + ".0" + s[e:]
	}
	writeCard(sb, keyValue(key, s, comment))
	return nil
}

// Writes a FITS header string value on a single card, escaping ' characters. Overlong values are truncated
func writeString(sb *strings.Builder, key, value, comment string) {
	if len(key) > 8 {
		key = key[0:8]
	}
	value = strings.ReplaceAll(value, "'", "''")
	const maxLen = HeaderLineSize - 12
	if len(value) > maxLen {
		value = value[:maxLen]
		// do not split an escaped quote
		if strings.HasSuffix(value, "'") && strings.Count(value, "'")%2 == 1 {
			value = value[:maxLen-1]
		}
	}
	if len(value) < 8 {
		value += strings.Repeat(" ", 8-len(value))
	}
	card := fmt.Sprintf("%-8s= '%s'", key, value)
	if comment != "" && len(card)+3+len(comment) <= HeaderLineSize {
		card += " / " + comment
	}
	writeCard(sb, card)
}

// Writes a FITS header end record
func writeEnd(sb *strings.Builder) {
	writeCard(sb, "END")
}

// Writes FITS binary body data in network byte order, padded with zeros to the block size
func writeFloat64Array(w io.Writer, data []float64) error {
	buf := make([]byte, bufLen)
	const perBuf = bufLen >> 3

	for block := 0; block < len(data); block += perBuf {
		size := len(data) - block
		if size > perBuf {
			size = perBuf
		}
		for offset := 0; offset < size; offset++ {
			val := math.Float64bits(data[block+offset])
			o := offset << 3
			buf[o+0] = byte(val >> 56)
			buf[o+1] = byte(val >> 48)
			buf[o+2] = byte(val >> 40)
			buf[o+3] = byte(val >> 32)
			buf[o+4] = byte(val >> 24)
			buf[o+5] = byte(val >> 16)
			buf[o+6] = byte(val >> 8)
			buf[o+7] = byte(val)
		}
		if _, err := w.Write(buf[:size<<3]); err != nil {
			return err
		}
	}

	if rem := (len(data) << 3) % fitsBlockSize; rem > 0 {
		if _, err := w.Write(make([]byte, fitsBlockSize-rem)); err != nil {
			return err
		}
	}
	return nil
}
