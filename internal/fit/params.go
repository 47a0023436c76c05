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


package fit

import (
	"github.com/mlnoga/nightfit/internal/imaging"
	"github.com/mlnoga/nightfit/internal/profile"
	"gonum.org/v1/gonum/mat"
)

// The concatenated parameter vector of several profiles
type paramSet struct {
	profiles []profile.Profile
	ids      []imaging.ParameterID
}

func newParamSet(profiles []profile.Profile) *paramSet {
	ps := &paramSet{profiles: profiles}
	for _, p := range profiles {
		ps.ids = append(ps.ids, profile.ParameterIDs(p)...)
	}
	return ps
}

func (ps *paramSet) len() int { return len(ps.ids) }

func (ps *paramSet) values() []float64 {
	res := make([]float64, 0, len(ps.ids))
	for _, p := range ps.profiles {
		res = append(res, p.Values()...)
	}
	return res
}

// Distributes v over the profiles. On error, profiles before the failing one keep
// their new values, so callers restore the previous vector
func (ps *paramSet) set(v []float64) error {
	offset := 0
	for _, p := range ps.profiles {
		n := len(p.Parameters())
		if err := p.SetValues(v[offset : offset+n]); err != nil {
			return err
		}
		offset += n
	}
	return nil
}

// Flattens the Jacobian with columns in the order of the parameter set
func (ps *paramSet) reorder(j *imaging.Jacobian) *mat.Dense {
	flat := j.Flatten()
	rows, _ := flat.Dims()
	res := mat.NewDense(rows, len(ps.ids), nil)
	for c, id := range ps.ids {
		if src := j.Index(id); src >= 0 {
			res.SetCol(c, mat.Col(nil, src, flat))
		}
	}
	return res
}
