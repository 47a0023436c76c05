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


package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadMissingYieldsDefaults(t *testing.T) {
	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Fitter.MaxIterations != DefaultConfig().Fitter.MaxIterations || !cfg.Sampling.PSF {
		t.Errorf("expected defaults, got %+v", cfg)
	}
}

func TestSaveLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sub", "fit.yaml")
	cfg := DefaultConfig()
	cfg.Fitter.MaxIterations = 7
	cfg.Sampling.IntegrateDepth = 0
	cfg.Profiles = []ProfileSpec{{Kind: "gaussian", Name: "star"}}
	if err := SaveConfig(cfg, path); err != nil {
		t.Fatal(err)
	}
	got, err := LoadConfig(path)
	if err != nil {
		t.Fatal(err)
	}
	if got.Fitter.MaxIterations != 7 || got.Sampling.IntegrateDepth != 0 || len(got.Profiles) != 1 || got.Profiles[0].Name != "star" {
		t.Errorf("round trip got %+v", got)
	}
	ps, err := got.NewProfiles([2]float64{1, 2})
	if err != nil || len(ps) != 1 || ps[0].Kind() != "gaussian" {
		t.Errorf("profiles got %v, %v", ps, err)
	}
	if s := got.SampleConfig(); s.IntegrateDepth != 0 || !s.PSF {
		t.Errorf("sample config got %+v", s)
	}
}

func TestPartialFileKeepsDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "fit.yaml")
	if err := os.WriteFile(path, []byte("fitter:\n  maxIterations: 3\n"), 0644); err != nil {
		t.Fatal(err)
	}
	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatal(err)
	}
	def := DefaultConfig()
	if cfg.Fitter.MaxIterations != 3 || cfg.Fitter.InitialLambda != def.Fitter.InitialLambda {
		t.Errorf("got %+v", cfg.Fitter)
	}
}

func TestInvalidConfig(t *testing.T) {
	tests := []string{
		"fitter:\n  maxIterations: 0\n",
		"profiles:\n  - {kind: sky, name: a}\n  - {kind: sersic, name: a}\n",
		"fitter: [",
	}
	for i, test := range tests {
		path := filepath.Join(t.TempDir(), "fit.yaml")
		if err := os.WriteFile(path, []byte(test), 0644); err != nil {
			t.Fatal(err)
		}
		if _, err := LoadConfig(path); err == nil {
			t.Errorf("%d: expected error", i)
		}
	}
	if _, err := DefaultConfig().NewProfiles([2]float64{}); err != nil {
		t.Errorf("default profiles: %v", err)
	}
	cfg := DefaultConfig()
	cfg.Profiles = []ProfileSpec{{Kind: "moffat", Name: "x"}}
	if _, err := cfg.NewProfiles([2]float64{}); err == nil {
		t.Errorf("expected error for unknown kind")
	}
}
