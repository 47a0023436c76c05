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

// Relative step for finite differences
const fdStep = 1e-5

func stepSize(v float64) float64 {
	return fdStep * math.Max(math.Abs(v), 1)
}

// Computes the derivatives of the sampled profile with respect to each of its parameters
// by central finite differences over window w. Falls back to a one-sided difference where
// a step leaves the parameter domain. Parameter values are restored before returning
func FiniteDifferenceJacobian(p Profile, target *imaging.Target, w imaging.Window, targetID string, cfg SampleConfig) (*imaging.Jacobian, error) {
	j, err := imaging.NewJacobian(w, targetID, ParameterIDs(p))
	if err != nil {
		return nil, err
	}
	base := p.Values()
	defer p.SetValues(base)

	var center *imaging.Model
	for i := range base {
		h := stepSize(base[i])
		plus, errPlus := sampleAt(p, base, i, h, target, w, cfg)
		if errPlus != nil && !errors.Is(errPlus, ErrParameter) {
			return nil, errPlus
		}
		minus, errMinus := sampleAt(p, base, i, -h, target, w, cfg)
		if errMinus != nil && !errors.Is(errMinus, ErrParameter) {
			return nil, errMinus
		}

		denom := 2 * h
		if plus == nil || minus == nil {
			if plus == nil && minus == nil {
				return nil, fmt.Errorf("%s: no valid step for %s: %w", p.Name(), p.Parameters()[i], ErrParameter)
			}
			if center == nil {
				if center, err = sampleAt(p, base, i, 0, target, w, cfg); err != nil {
					return nil, err
				}
			}
			denom = h
			if plus == nil {
				plus = center
			} else {
				minus = center
			}
		}
		layer := j.Layers[i]
		layer.Sub(plus.Data, minus.Data)
		layer.Scale(1/denom, layer)
	}
	return j, nil
}

// Samples the profile with parameter i offset by delta
func sampleAt(p Profile, base []float64, i int, delta float64, target *imaging.Target, w imaging.Window, cfg SampleConfig) (*imaging.Model, error) {
	v := append([]float64(nil), base...)
	v[i] += delta
	if err := p.SetValues(v); err != nil {
		return nil, err
	}
	m, err := imaging.NewModel(w)
	if err != nil {
		return nil, err
	}
	if err := Sample(p, target, m, cfg); err != nil {
		return nil, err
	}
	return m, nil
}

// Combines the Jacobians of all profiles on the target into one, via the union of their parameters
func CombinedJacobian(profiles []Profile, target *imaging.Target, targetID string, cfg SampleConfig) (*imaging.Jacobian, error) {
	res, err := imaging.NewJacobian(target.Window, targetID, nil)
	if err != nil {
		return nil, err
	}
	for _, p := range profiles {
		j, err := FiniteDifferenceJacobian(p, target, target.Window, targetID, cfg)
		if err != nil {
			return nil, err
		}
		if err := res.Add(j); err != nil {
			return nil, err
		}
	}
	return res, nil
}
