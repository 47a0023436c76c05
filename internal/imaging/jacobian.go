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


package imaging

import (
	"fmt"

	"gonum.org/v1/gonum/mat"
)

// Identity of a fit parameter, unique within a Jacobian
type ParameterID string

// Builds a parameter identity from the name of the owning model and the parameter name
func NewParameterID(scope, name string) ParameterID {
	return ParameterID(scope + ":" + name)
}

// Per-pixel partial derivatives of a model with respect to named parameters, taken for one target.
// Layers[i] holds the derivative with respect to Parameters[i]
type Jacobian struct {
	Meta
	Parameters     []ParameterID
	TargetIdentity string
	Layers         []*mat.Dense
}

// Creates a zero Jacobian over the window for the given parameters, which must be unique
func NewJacobian(w Window, targetIdentity string, params []ParameterID) (*Jacobian, error) {
	if err := w.validate(); err != nil {
		return nil, err
	}
	seen := make(map[ParameterID]bool, len(params))
	for _, p := range params {
		if seen[p] {
			return nil, fmt.Errorf("duplicate parameter %s: %w", p, ErrDimension)
		}
		seen[p] = true
	}
	j := &Jacobian{
		Meta:           Meta{Window: w},
		Parameters:     append([]ParameterID(nil), params...),
		TargetIdentity: targetIdentity,
		Layers:         make([]*mat.Dense, len(params)),
	}
	for i := range j.Layers {
		j.Layers[i] = mat.NewDense(w.Shape[1], w.Shape[0], nil)
	}
	return j, nil
}

// Position of the parameter in the parameter axis, or -1
func (j *Jacobian) Index(p ParameterID) int {
	for i, q := range j.Parameters {
		if q == p {
			return i
		}
	}
	return -1
}

// Derivative layer for the parameter, or nil
func (j *Jacobian) Layer(p ParameterID) *mat.Dense {
	if i := j.Index(p); i >= 0 {
		return j.Layers[i]
	}
	return nil
}

// Adds other into the Jacobian in place. Parameters unknown to the receiver are appended
// in the order of other, with zero layers, so the result carries the ordered union of both
// parameter sets. Each layer is added on the common region of the two windows.
// Fails if the Jacobians belong to different targets
func (j *Jacobian) Add(other *Jacobian) error {
	if j.TargetIdentity != other.TargetIdentity {
		return fmt.Errorf("cannot add Jacobian for %q to Jacobian for %q: %w", other.TargetIdentity, j.TargetIdentity, ErrIdentityMismatch)
	}
	if len(other.Layers) != len(other.Parameters) {
		return fmt.Errorf("%d layers for %d parameters: %w", len(other.Layers), len(other.Parameters), ErrDimension)
	}
	// check geometry before growing the parameter axis
	if err := checkScale(j.Window, other.Window); err != nil {
		return err
	}
	for i, p := range other.Parameters {
		idx := j.Index(p)
		if idx < 0 {
			j.Parameters = append(j.Parameters, p)
			j.Layers = append(j.Layers, mat.NewDense(j.Window.Shape[1], j.Window.Shape[0], nil))
			idx = len(j.Layers) - 1
		}
		if err := overlapApply(j.Window, j.Layers[idx], other.Window, other.Layers[i], addRow); err != nil {
			return err
		}
	}
	return nil
}

// Returns the Jacobian as a matrix with one row per pixel in row-major order
// and one column per parameter, in the order of Parameters. Nil without parameters
func (j *Jacobian) Flatten() *mat.Dense {
	if len(j.Parameters) == 0 {
		return nil
	}
	res := mat.NewDense(j.Window.Pixels(), len(j.Parameters), nil)
	for p, layer := range j.Layers {
		rows, cols := layer.Dims()
		for r := 0; r < rows; r++ {
			for c, v := range layer.RawRowView(r) {
				res.Set(r*cols+c, p, v)
			}
		}
	}
	return res
}

// Returns a view onto the region covered by w, aliasing every layer
func (j *Jacobian) SubImage(w Window) (*Jacobian, bool) {
	inter, ok := j.Window.Intersect(w)
	if !ok {
		return nil, false
	}
	r0, c0, rows, cols := j.Window.indexRange(inter)
	if rows <= 0 || cols <= 0 {
		return nil, false
	}
	meta := j.Meta
	meta.Window = j.Window.block(r0, c0, rows, cols)
	res := &Jacobian{
		Meta:           meta,
		Parameters:     append([]ParameterID(nil), j.Parameters...),
		TargetIdentity: j.TargetIdentity,
		Layers:         make([]*mat.Dense, len(j.Layers)),
	}
	for i, l := range j.Layers {
		res.Layers[i] = sliceDense(l, r0, c0, rows, cols)
	}
	return res, true
}

// Returns a deep copy
func (j *Jacobian) Copy() *Jacobian {
	res := &Jacobian{
		Meta:           j.Meta.clone(),
		Parameters:     append([]ParameterID(nil), j.Parameters...),
		TargetIdentity: j.TargetIdentity,
		Layers:         make([]*mat.Dense, len(j.Layers)),
	}
	for i, l := range j.Layers {
		res.Layers[i] = mat.DenseCopyOf(l)
	}
	return res
}
