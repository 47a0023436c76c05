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


// Package fit adjusts profile parameters to a target with the Levenberg-Marquardt method.
package fit

import (
	"errors"
	"fmt"
	"io"
	"math"

	"github.com/mlnoga/nightfit/internal/imaging"
	"github.com/mlnoga/nightfit/internal/profile"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// No degrees of freedom left, or no parameters to fit
var ErrUnderdetermined = errors.New("fit underdetermined")

type Options struct {
	MaxIterations int
	InitialLambda float64
	Tolerance     float64 // Relative change of chi squared below which the fit has converged
	Verbose       bool    // Log every iteration
}

func DefaultOptions() Options {
	return Options{MaxIterations: 100, InitialLambda: 1e-3, Tolerance: 1e-8}
}

// Largest damping before the fit gives up on finding a better step
const maxLambda = 1e12

type Result struct {
	Chi2       float64
	Ndf        int
	Iterations int
	Converged  bool
	Parameters []imaging.ParameterID
	Values     []float64
	Errors     []float64 // One sigma uncertainties from the covariance matrix, NaN if singular
	Model      *imaging.Model
}

// Reduced chi squared
func (r *Result) Chi2PerNdf() float64 {
	if r.Ndf <= 0 {
		return math.NaN()
	}
	return r.Chi2 / float64(r.Ndf)
}

// Fits the profiles to the target in place. Pixels with zero weight do not contribute.
// Progress is reported to logWriter, prefixed with id
func Fit(id int, target *imaging.Target, targetID string, profiles []profile.Profile,
	sampling profile.SampleConfig, opts Options, logWriter io.Writer) (*Result, error) {
	params := newParamSet(profiles)
	weights := flattenDense(target.Weight())
	data := flattenDense(target.Data)

	ndf := -params.len()
	for _, w := range weights {
		if w > 0 {
			ndf++
		}
	}
	if params.len() == 0 || ndf <= 0 {
		return nil, fmt.Errorf("%d parameters for %d pixels: %w", params.len(), ndf+params.len(), ErrUnderdetermined)
	}

	chi2, model, err := evaluate(target, profiles, sampling, data, weights)
	if err != nil {
		return nil, err
	}
	if opts.Verbose {
		fmt.Fprintf(logWriter, "%d: Initial chi2/ndf %.6g\n", id, chi2/float64(ndf))
	}

	lambda := opts.InitialLambda
	res := &Result{Ndf: ndf}
	var normal *mat.SymDense
	for res.Iterations = 1; res.Iterations <= opts.MaxIterations; res.Iterations++ {
		jac, err := profile.CombinedJacobian(profiles, target, targetID, sampling)
		if err != nil {
			return nil, err
		}
		j := params.reorder(jac)

		residual := weightedResidual(data, flattenDense(model.Data), weights)
		var grad *mat.VecDense
		normal, grad = normalEquations(j, weights, residual)

		base := params.values()
		improved := false
		for lambda <= maxLambda {
			step, ok := solveDamped(normal, grad, lambda)
			if ok {
				trial := make([]float64, len(base))
				floats.AddTo(trial, base, step)
				if params.set(trial) == nil {
					newChi2, newModel, err := evaluate(target, profiles, sampling, data, weights)
					if err != nil {
						return nil, err
					}
					if newChi2 < chi2 {
						rel := (chi2 - newChi2) / math.Max(chi2, math.SmallestNonzeroFloat64)
						chi2, model = newChi2, newModel
						lambda = math.Max(lambda/10, 1e-12)
						improved = true
						res.Converged = rel < opts.Tolerance
						break
					}
				}
				params.set(base)
			}
			lambda *= 10
		}
		if opts.Verbose {
			fmt.Fprintf(logWriter, "%d: Iteration %d chi2/ndf %.6g lambda %.3g\n", id, res.Iterations, chi2/float64(ndf), lambda)
		}
		if !improved {
			// no downhill step left at any damping
			res.Converged = true
			break
		}
		if res.Converged {
			break
		}
	}
	if res.Iterations > opts.MaxIterations {
		res.Iterations = opts.MaxIterations
	}

	res.Chi2, res.Model = chi2, model
	res.Parameters, res.Values = params.ids, params.values()
	res.Errors = uncertainties(params.len(), normal, chi2/float64(ndf))
	fmt.Fprintf(logWriter, "%d: Fit %s after %d iterations, chi2/ndf %.6g\n", id, convergedString(res.Converged), res.Iterations, res.Chi2PerNdf())
	return res, nil
}

func convergedString(c bool) string {
	if c {
		return "converged"
	}
	return "stopped"
}

// Samples all profiles and returns the weighted sum of squared residuals
func evaluate(target *imaging.Target, profiles []profile.Profile, sampling profile.SampleConfig,
	data, weights []float64) (float64, *imaging.Model, error) {
	model, err := profile.SampleAll(profiles, target, target.Window, sampling)
	if err != nil {
		return 0, nil, err
	}
	chi2 := 0.0
	for i, m := range flattenDense(model.Data) {
		if weights[i] == 0 {
			continue
		}
		d := data[i] - m
		chi2 += weights[i] * d * d
	}
	return chi2, model, nil
}

// Returns data - model, zero where the weight is zero so masked NaN pixels drop out
func weightedResidual(data, model, weights []float64) []float64 {
	residual := make([]float64, len(data))
	floats.SubTo(residual, data, model)
	for i, w := range weights {
		if w == 0 {
			residual[i] = 0
		}
	}
	return residual
}

// Builds J^T W J and J^T W r
func normalEquations(j *mat.Dense, weights, residual []float64) (*mat.SymDense, *mat.VecDense) {
	_, n := j.Dims()
	wj := mat.DenseCopyOf(j)
	for i, w := range weights {
		row := wj.RawRowView(i)
		for k := range row {
			row[k] *= w
		}
	}
	var jtwj mat.Dense
	jtwj.Mul(j.T(), wj)
	normal := mat.NewSymDense(n, nil)
	for a := 0; a < n; a++ {
		for b := a; b < n; b++ {
			normal.SetSym(a, b, jtwj.At(a, b))
		}
	}
	grad := mat.NewVecDense(n, nil)
	grad.MulVec(wj.T(), mat.NewVecDense(len(residual), residual))
	return normal, grad
}

// Solves (A + lambda diag(A)) x = g. Returns false if the damped matrix is not positive definite
func solveDamped(a *mat.SymDense, g *mat.VecDense, lambda float64) ([]float64, bool) {
	n := a.SymmetricDim()
	damped := mat.NewSymDense(n, nil)
	damped.CopySym(a)
	for i := 0; i < n; i++ {
		d := a.At(i, i)
		if d == 0 {
			d = 1
		}
		damped.SetSym(i, i, a.At(i, i)+lambda*d)
	}
	var chol mat.Cholesky
	if ok := chol.Factorize(damped); !ok {
		return nil, false
	}
	var x mat.VecDense
	if err := chol.SolveVecTo(&x, g); err != nil {
		return nil, false
	}
	return x.RawVector().Data, true
}

// Parameter uncertainties from the inverse of the normal matrix, scaled by the reduced chi squared
func uncertainties(n int, normal *mat.SymDense, chi2PerNdf float64) []float64 {
	res := make([]float64, n)
	var chol mat.Cholesky
	var cov mat.SymDense
	if normal == nil || !chol.Factorize(normal) || chol.InverseTo(&cov) != nil {
		for i := range res {
			res[i] = math.NaN()
		}
		return res
	}
	for i := range res {
		res[i] = math.Sqrt(cov.At(i, i) * chi2PerNdf)
	}
	return res
}

func flattenDense(m *mat.Dense) []float64 {
	rows, cols := m.Dims()
	res := make([]float64, 0, rows*cols)
	for r := 0; r < rows; r++ {
		res = append(res, m.RawRowView(r)...)
	}
	return res
}
