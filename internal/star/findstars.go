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


package star

import (
	"fmt"
	"io"
	"math"
	"sort"

	"gonum.org/v1/gonum/mat"
)

// A star, as found on an image by star detection. Positions are continuous pixel
// indices measured from the lower left corner of the data, so the center of
// pixel (row, col) is at (col+0.5, row+0.5)
type Star struct {
	Row   int     // Row of the brightest pixel
	Col   int     // Column of the brightest pixel
	Value float64 // Value of the star in the data array
	X     float64 // Precise star x position via center of mass
	Y     float64 // Precise star y position via center of mass
	Mass  float64 // Star mass. Summed pixel values above location estimate, within given radius
	HFR   float64 // Half-Flux Radius of the star, in pixels
}

// Prints given array of stars as CSV
func PrintStars(w io.Writer, stars []Star) {
	fmt.Fprintln(w, "Row,Col,Value,X,Y,Mass,HFR")
	for _, s := range stars {
		fmt.Fprintf(w, "%d,%d,%g,%g,%g,%g,%g\n", s.Row, s.Col, s.Value, s.X, s.Y, s.Mass, s.HFR)
	}
}

// Finds stars in the given data. Pixels where mask is nonzero, and NaN pixels, are ignored.
// The mask may be nil. Returns stars sorted by descending mass, and their average HFR
func FindStars(data, mask *mat.Dense, location, scale, starSig, starInOut float64, radius int) (stars []Star, avgHFR float64) {
	v := newValues(data, mask)

	// Begin star identification based on pixels significantly above the background
	stars = findBrightPixels(v, location+scale*starSig, radius)

	// filter out faint stars overlapped by brighter ones
	sortStarsDesc(stars, func(s Star) float64 { return s.Value })
	stars = filterOutOverlaps(stars, radius)

	// move stars to centroid position
	shiftToCenterOfMass(stars, v, location+scale*starSig*0.5, radius)

	// filter out faint stars again
	sortStarsDesc(stars, func(s Star) float64 { return s.Mass })
	stars = filterOutOverlaps(stars, radius)

	// remove implausible stars based on HFR and mass
	stars, avgHFR = calcAndFilterHalfFluxRadius(stars, v, float64(radius), location, starInOut)
	sortStarsDesc(stars, func(s Star) float64 { return s.Mass })

	// Return a clone of the final shortlist of stars, so the longer original object can be reclaimed
	res := make([]Star, len(stars))
	copy(res, stars)
	return res, avgHFR
}

// Masked pixel accessor. Returns 0 outside the data and for ignored pixels
type values struct {
	data, mask *mat.Dense
	rows, cols int
}

func newValues(data, mask *mat.Dense) values {
	rows, cols := data.Dims()
	return values{data: data, mask: mask, rows: rows, cols: cols}
}

func (v values) at(r, c int) (float64, bool) {
	if r < 0 || r >= v.rows || c < 0 || c >= v.cols {
		return 0, false
	}
	if v.mask != nil && v.mask.At(r, c) != 0 {
		return 0, false
	}
	x := v.data.At(r, c)
	if math.IsNaN(x) {
		return 0, false
	}
	return x, true
}

func sortStarsDesc(stars []Star, key func(Star) float64) {
	sort.SliceStable(stars, func(i, j int) bool { return key(stars[i]) > key(stars[j]) })
}

// Find pixels above the threshold and return them as stars. Applies early overlap rejection based on radius to reduce allocations.
// Uses central pixel value as initial mass, 1 as initial HFR.
func findBrightPixels(v values, threshold float64, radius int) []Star {
	stars := make([]Star, 0, v.rows*v.cols/100)
	for r := 0; r < v.rows; r++ {
		for c := 0; c < v.cols; c++ {
			x, ok := v.at(r, c)
			if !ok || x <= threshold {
				continue
			}
			is := Star{Row: r, Col: c, Value: x, X: float64(c) + 0.5, Y: float64(r) + 0.5, Mass: x, HFR: 1}

			// check if within radius distance of the previously detected candidate star to optimize memory usage
			if len(stars) > 0 {
				oldS := &stars[len(stars)-1]
				if oldS.Row == is.Row && oldS.Col >= is.Col-radius {
					if oldS.Value < is.Value {
						*oldS = is // replace old candidate with brighter new one
					}
					continue
				}
			}
			stars = append(stars, is)
		}
	}
	return stars
}

// Filters out overlaps from the stars, which must be sorted by descending priority.
// Bins retained stars into a 2D grid to avoid quadratic search effort
func filterOutOverlaps(stars []Star, radius int) []Star {
	binSize := max(2*radius, 16)
	bins := map[[2]int][]int{}
	radiusSquared := float64(radius * radius)

	numRemainingStars := 0
forAllStars:
	for _, s := range stars {
		cell := [2]int{int(s.X) / binSize, int(s.Y) / binSize}

		// For this grid cell and all adjacent cells, and all prior stars in them
		for dy := -1; dy <= 1; dy++ {
			for dx := -1; dx <= 1; dx++ {
				for _, i := range bins[[2]int{cell[0] + dx, cell[1] + dy}] {
					xDist, yDist := s.X-stars[i].X, s.Y-stars[i].Y
					// Skip current star if it's close to a prior star
					if xDist*xDist+yDist*yDist <= radiusSquared {
						continue forAllStars
					}
				}
			}
		}

		// Retain star for output
		stars[numRemainingStars] = s
		bins[cell] = append(bins[cell], numRemainingStars)
		numRemainingStars++
	}
	return stars[:numRemainingStars]
}

// Shifts each star to its floating point-valued center of mass. Modifies stars in place
func shiftToCenterOfMass(stars []Star, v values, threshold float64, radius int) (sumOfShifts float64) {
	for i, s := range stars {
		// until the shifts are below 0.01 pixel, or max rounds reached
		shiftSquared := math.MaxFloat64
		for round := 0; shiftSquared > 0.0001 && round < 10; round++ {
			// calculate star mass and first moments around the current pixel
			xMoment, yMoment, mass := 0.0, 0.0, 0.0
			for y := -radius; y <= radius; y++ {
				for x := -radius; x <= radius; x++ {
					value, _ := v.at(s.Row+y, s.Col+x)
					value = math.Max(value-threshold, 0)
					xMoment += float64(x) * value
					yMoment += float64(y) * value
					mass += value
				}
			}
			if mass == 0 {
				break
			}

			// update x and y from moments over mass
			deltaX, deltaY := xMoment/mass, yMoment/mass
			newX, newY := float64(s.Col)+0.5+deltaX, float64(s.Row)+0.5+deltaY
			shiftSquared = (newX-s.X)*(newX-s.X) + (newY-s.Y)*(newY-s.Y)

			s.Row, s.Col = int(math.Floor(newY)), int(math.Floor(newX))
			s.Value, _ = v.at(s.Row, s.Col)
			s.X, s.Y, s.Mass = newX, newY, mass
		}
		stars[i] = s
		if shiftSquared < math.MaxFloat64 {
			sumOfShifts += math.Sqrt(shiftSquared)
		}
	}
	return sumOfShifts
}

// Calculate the Half-Flux Radius of each star, and filters out implausible candidates
// Returns a new list of stars, each enriched with the HFR field and updated mass
// Based on the algorithm in https://en.wikipedia.org/wiki/Half_flux_diameter
func calcAndFilterHalfFluxRadius(stars []Star, v values, radius, location, starInOut float64) (res []Star, avgHFR float64) {
	numRemainingStars := 0
	for _, s := range stars {
		// calculate mass, moment and HFR around the centroid
		moment, mass, pixels := 0.0, 0.0, 0
		forPixelsWithin(s, v, radius, location, func(distance, value float64) {
			moment += distance * value
			mass += value
			pixels++
		})
		if mass == 0 {
			continue
		}
		hfr := moment / mass

		// sanity check results to avoid long lockups
		if hfr > radius {
			continue
		}

		// calculate mass inside HFR and number of inner pixels
		innerMass, innerPixels := 0.0, 0
		forPixelsWithin(s, v, hfr, location, func(_, value float64) {
			innerMass += value
			innerPixels++
		})

		// plausibility check: is average inner brightness significantly higher than outside?
		// equivalent to innerMass/innerPixels > starInOut*outerMass/outerPixels without division
		outerMass, outerPixels := mass-innerMass, pixels-innerPixels
		if innerMass*float64(outerPixels) <= starInOut*outerMass*float64(innerPixels) {
			continue
		}

		// keep star, enrich with HFR and mass information, and update average
		s.HFR, s.Mass = hfr, mass
		stars[numRemainingStars] = s
		numRemainingStars++
		avgHFR += hfr
	}
	if numRemainingStars > 0 {
		avgHFR /= float64(numRemainingStars)
	}
	return stars[:numRemainingStars], avgHFR
}

// Calls f with distance from the star centroid and the background-subtracted value,
// clamped at zero, for all pixel centers within radius
func forPixelsWithin(s Star, v values, radius, location float64, f func(distance, value float64)) {
	rad := int(math.Ceil(radius)) + 1
	for r := s.Row - rad; r <= s.Row+rad; r++ {
		for c := s.Col - rad; c <= s.Col+rad; c++ {
			dx, dy := float64(c)+0.5-s.X, float64(r)+0.5-s.Y
			distance := math.Sqrt(dx*dx + dy*dy)
			if distance > radius+1e-8 {
				continue
			}
			value, _ := v.at(r, c)
			f(distance, math.Max(value-location, 0))
		}
	}
}
