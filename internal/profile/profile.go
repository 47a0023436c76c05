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


package profile

import (
	"errors"
	"fmt"
	"math"

	"github.com/mlnoga/nightfit/internal/imaging"
)

// Parameter values outside the domain of a profile
var ErrParameter = errors.New("invalid profile parameter")

// A parametric surface brightness distribution. Brightness is flux per unit area
// at a physical coordinate
type Profile interface {
	Name() string
	Kind() string
	Parameters() []string
	Values() []float64
	SetValues(v []float64) error
	Center() [2]float64
	Brightness(x, y float64) float64
}

// Parameter identities of a profile, scoped by its name
func ParameterIDs(p Profile) []imaging.ParameterID {
	names := p.Parameters()
	ids := make([]imaging.ParameterID, len(names))
	for i, n := range names {
		ids[i] = imaging.NewParameterID(p.Name(), n)
	}
	return ids
}

func checkLen(p Profile, v []float64) error {
	if len(v) != len(p.Parameters()) {
		return fmt.Errorf("%s: %d values for %d parameters: %w", p.Name(), len(v), len(p.Parameters()), ErrParameter)
	}
	for i, x := range v {
		if math.IsNaN(x) || math.IsInf(x, 0) {
			return fmt.Errorf("%s: %s=%g: %w", p.Name(), p.Parameters()[i], x, ErrParameter)
		}
	}
	return nil
}

// Circular Gaussian with total flux
type Gaussian struct {
	name              string
	X, Y, Flux, Sigma float64
}

func NewGaussian(name string, x, y, flux, sigma float64) *Gaussian {
	return &Gaussian{name: name, X: x, Y: y, Flux: flux, Sigma: sigma}
}

func (g *Gaussian) Name() string         { return g.name }
func (g *Gaussian) Kind() string         { return "gaussian" }
func (g *Gaussian) Parameters() []string { return []string{"x", "y", "flux", "sigma"} }
func (g *Gaussian) Values() []float64    { return []float64{g.X, g.Y, g.Flux, g.Sigma} }
func (g *Gaussian) Center() [2]float64   { return [2]float64{g.X, g.Y} }

func (g *Gaussian) SetValues(v []float64) error {
	if err := checkLen(g, v); err != nil {
		return err
	}
	if v[3] <= 0 {
		return fmt.Errorf("%s: sigma %g: %w", g.name, v[3], ErrParameter)
	}
	g.X, g.Y, g.Flux, g.Sigma = v[0], v[1], v[2], v[3]
	return nil
}

func (g *Gaussian) Brightness(x, y float64) float64 {
	dx, dy := x-g.X, y-g.Y
	s2 := g.Sigma * g.Sigma
	return g.Flux / (2 * math.Pi * s2) * math.Exp(-0.5*(dx*dx+dy*dy)/s2)
}

// Elliptical Sersic profile. Ie is the brightness at the effective radius Re,
// Q the axis ratio and PA the position angle of the major axis in radians from the x axis
type Sersic struct {
	name                   string
	X, Y, Q, PA, N, Re, Ie float64
}

func NewSersic(name string, x, y, q, pa, n, re, ie float64) *Sersic {
	return &Sersic{name: name, X: x, Y: y, Q: q, PA: pa, N: n, Re: re, Ie: ie}
}

func (s *Sersic) Name() string { return s.name }
func (s *Sersic) Kind() string { return "sersic" }
func (s *Sersic) Parameters() []string {
	return []string{"x", "y", "q", "pa", "n", "re", "ie"}
}
func (s *Sersic) Values() []float64 {
	return []float64{s.X, s.Y, s.Q, s.PA, s.N, s.Re, s.Ie}
}
func (s *Sersic) Center() [2]float64 { return [2]float64{s.X, s.Y} }

func (s *Sersic) SetValues(v []float64) error {
	if err := checkLen(s, v); err != nil {
		return err
	}
	if v[2] <= 0 || v[2] > 1 {
		return fmt.Errorf("%s: axis ratio %g: %w", s.name, v[2], ErrParameter)
	}
	if v[4] < 0.2 || v[4] > 10 {
		return fmt.Errorf("%s: index %g: %w", s.name, v[4], ErrParameter)
	}
	if v[5] <= 0 {
		return fmt.Errorf("%s: effective radius %g: %w", s.name, v[5], ErrParameter)
	}
	s.X, s.Y, s.Q, s.PA, s.N, s.Re, s.Ie = v[0], v[1], v[2], v[3], v[4], v[5], v[6]
	return nil
}

// Approximation of the Sersic b_n coefficient by Ciotti & Bertin 1999
func SersicB(n float64) float64 {
	return 2*n - 1.0/3 + 4/(405*n) + 46/(25515*n*n) + 131/(1148175*n*n*n)
}

func (s *Sersic) Brightness(x, y float64) float64 {
	dx, dy := x-s.X, y-s.Y
	sin, cos := math.Sincos(s.PA)
	major := dx*cos + dy*sin
	minor := (-dx*sin + dy*cos) / s.Q
	r := math.Sqrt(major*major + minor*minor)
	return s.Ie * math.Exp(-SersicB(s.N)*(math.Pow(r/s.Re, 1/s.N)-1))
}

// Flat sky background
type Sky struct {
	name  string
	Level float64
}

func NewSky(name string, level float64) *Sky {
	return &Sky{name: name, Level: level}
}

func (s *Sky) Name() string         { return s.name }
func (s *Sky) Kind() string         { return "sky" }
func (s *Sky) Parameters() []string { return []string{"sky"} }
func (s *Sky) Values() []float64    { return []float64{s.Level} }
func (s *Sky) Center() [2]float64   { return [2]float64{math.NaN(), math.NaN()} }

func (s *Sky) SetValues(v []float64) error {
	if err := checkLen(s, v); err != nil {
		return err
	}
	s.Level = v[0]
	return nil
}

func (s *Sky) Brightness(x, y float64) float64 { return s.Level }

// Creates a profile of the given kind with default parameters around center
func New(kind, name string, center [2]float64) (Profile, error) {
	switch kind {
	case "gaussian":
		return NewGaussian(name, center[0], center[1], 1, 1), nil
	case "sersic":
		return NewSersic(name, center[0], center[1], 1, 0, 1, 1, 1), nil
	case "sky":
		return NewSky(name, 0), nil
	}
	return nil, fmt.Errorf("unknown profile kind '%s'", kind)
}
