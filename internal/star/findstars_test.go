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
	"bytes"
	"math"
	"strings"
	"testing"

	"github.com/valyala/fastrand"
	"gonum.org/v1/gonum/mat"
)

func starField() *mat.Dense {
	rng := fastrand.RNG{}
	data := mat.NewDense(64, 64, nil)
	data.Apply(func(r, c int, _ float64) float64 {
		x, y := float64(c)+0.5, float64(r)+0.5
		v := 10 + float64(rng.Uint32n(1<<16))/(1<<16) - 0.5
		for _, s := range []struct{ x, y, flux, sigma float64 }{{20.3, 30.7, 2000, 1.5}, {45.6, 12.2, 1000, 2}} {
			d2 := (x-s.x)*(x-s.x) + (y-s.y)*(y-s.y)
			v += s.flux / (2 * math.Pi * s.sigma * s.sigma) * math.Exp(-0.5*d2/(s.sigma*s.sigma))
		}
		return v
	}, data)
	return data
}

func TestFindStars(t *testing.T) {
	stars, avgHFR := FindStars(starField(), nil, 10, 0.3, 10, 1.4, 8)
	if len(stars) != 2 {
		t.Fatalf("found %d stars: %v", len(stars), stars)
	}
	s := stars[0]
	if math.Abs(s.X-20.3) > 0.15 || math.Abs(s.Y-30.7) > 0.15 || s.Row != 30 || s.Col != 20 {
		t.Errorf("brightest star at %g,%g pixel %d,%d", s.X, s.Y, s.Row, s.Col)
	}
	if want := 1.5 * math.Sqrt(math.Pi/2); math.Abs(s.HFR-want) > 0.2*want {
		t.Errorf("HFR got %g want %g", s.HFR, want)
	}
	if math.Abs(s.Mass-2000) > 150 {
		t.Errorf("mass got %g", s.Mass)
	}
	if math.Abs(stars[1].X-45.6) > 0.15 || math.Abs(stars[1].Y-12.2) > 0.15 {
		t.Errorf("second star at %g,%g", stars[1].X, stars[1].Y)
	}
	if avgHFR <= 0 {
		t.Errorf("average HFR got %g", avgHFR)
	}

	var buf bytes.Buffer
	PrintStars(&buf, stars)
	if lines := strings.Count(buf.String(), "\n"); lines != 3 {
		t.Errorf("CSV got %d lines", lines)
	}
}

func TestFindStarsSkipsMasked(t *testing.T) {
	mask := mat.NewDense(64, 64, nil)
	for r := 0; r < 25; r++ {
		for c := 36; c < 56; c++ {
			mask.Set(r, c, 1)
		}
	}
	stars, _ := FindStars(starField(), mask, 10, 0.3, 10, 1.4, 8)
	if len(stars) != 1 || math.Abs(stars[0].X-20.3) > 0.15 {
		t.Errorf("stars got %v", stars)
	}
}

func TestFilterOutOverlaps(t *testing.T) {
	stars := []Star{{X: 10, Y: 10}, {X: 12, Y: 11}, {X: 30, Y: 10}, {X: 10, Y: 30}}
	res := filterOutOverlaps(stars, 4)
	if len(res) != 3 || res[1].X != 30 || res[2].Y != 30 {
		t.Errorf("got %v", res)
	}
}
