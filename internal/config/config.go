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


// Package config loads and saves fit configurations in YAML.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"

	"github.com/mlnoga/nightfit/internal/fit"
	"github.com/mlnoga/nightfit/internal/profile"
	"gopkg.in/yaml.v3"
)

// Fit configuration loaded from YAML
type Config struct {
	// How profiles are turned into pixels
	Sampling struct {
		// Convolve with the target PSF when present
		PSF bool `yaml:"psf"`

		// Sub-pixel resolution per level of integration around profile centers
		IntegrateFactor int `yaml:"integrateFactor"`

		// Pixels around the profile center integrated at higher resolution
		IntegrateWindow int `yaml:"integrateWindow"`

		// Levels of recursive integration
		IntegrateDepth int `yaml:"integrateDepth"`
	} `yaml:"sampling"`

	// Levenberg-Marquardt parameters
	Fitter struct {
		MaxIterations int     `yaml:"maxIterations"`
		InitialLambda float64 `yaml:"initialLambda"`
		Tolerance     float64 `yaml:"tolerance"`
	} `yaml:"fitter"`

	// Profiles fitted to each target, in order
	Profiles []ProfileSpec `yaml:"profiles"`

	Output struct {
		// Log every fitter iteration
		Verbose bool `yaml:"verbose"`

		// Gamma applied to previews
		Gamma float64 `yaml:"gamma"`

		// Number of files processed in parallel
		NumCores int `yaml:"numCores"`
	} `yaml:"output"`
}

// A profile to fit, by kind and name
type ProfileSpec struct {
	Kind string `yaml:"kind"`
	Name string `yaml:"name"`
}

// DefaultConfig returns a configuration with default values
func DefaultConfig() *Config {
	cfg := &Config{}

	s := profile.DefaultSampleConfig()
	cfg.Sampling.PSF = s.PSF
	cfg.Sampling.IntegrateFactor = s.IntegrateFactor
	cfg.Sampling.IntegrateWindow = s.IntegrateWindow
	cfg.Sampling.IntegrateDepth = s.IntegrateDepth

	f := fit.DefaultOptions()
	cfg.Fitter.MaxIterations = f.MaxIterations
	cfg.Fitter.InitialLambda = f.InitialLambda
	cfg.Fitter.Tolerance = f.Tolerance

	cfg.Profiles = []ProfileSpec{{Kind: "sky", Name: "sky"}, {Kind: "sersic", Name: "galaxy"}}

	cfg.Output.Verbose = false
	cfg.Output.Gamma = 1.0
	cfg.Output.NumCores = runtime.NumCPU()

	return cfg
}

// LoadConfig loads configuration from a YAML file.
// If the file doesn't exist, it returns the default configuration
func LoadConfig(configPath string) (*Config, error) {
	cfg := DefaultConfig()

	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return cfg, nil
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("error parsing config file: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("error in config file %s: %w", configPath, err)
	}

	return cfg, nil
}

// SaveConfig saves the configuration to a YAML file
func SaveConfig(cfg *Config, configPath string) error {
	dir := filepath.Dir(configPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("error creating config directory: %w", err)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("error marshaling config: %w", err)
	}

	if err := os.WriteFile(configPath, data, 0644); err != nil {
		return fmt.Errorf("error writing config file: %w", err)
	}

	return nil
}

// Checks value ranges
func (cfg *Config) Validate() error {
	if cfg.Fitter.MaxIterations < 1 {
		return fmt.Errorf("maxIterations %d must be positive", cfg.Fitter.MaxIterations)
	}
	if cfg.Fitter.InitialLambda <= 0 {
		return fmt.Errorf("initialLambda %g must be positive", cfg.Fitter.InitialLambda)
	}
	if cfg.Sampling.IntegrateDepth < 0 {
		return fmt.Errorf("integrateDepth %d must not be negative", cfg.Sampling.IntegrateDepth)
	}
	seen := map[string]bool{}
	for _, p := range cfg.Profiles {
		if seen[p.Name] {
			return fmt.Errorf("duplicate profile name '%s'", p.Name)
		}
		seen[p.Name] = true
	}
	return nil
}

// Sampling settings for the profile package
func (cfg *Config) SampleConfig() profile.SampleConfig {
	return profile.SampleConfig{
		PSF:             cfg.Sampling.PSF,
		IntegrateFactor: cfg.Sampling.IntegrateFactor,
		IntegrateWindow: cfg.Sampling.IntegrateWindow,
		IntegrateDepth:  cfg.Sampling.IntegrateDepth,
	}
}

// Fitter settings for the fit package
func (cfg *Config) FitOptions() fit.Options {
	return fit.Options{
		MaxIterations: cfg.Fitter.MaxIterations,
		InitialLambda: cfg.Fitter.InitialLambda,
		Tolerance:     cfg.Fitter.Tolerance,
		Verbose:       cfg.Output.Verbose,
	}
}

// Instantiates the configured profiles around center
func (cfg *Config) NewProfiles(center [2]float64) ([]profile.Profile, error) {
	res := make([]profile.Profile, 0, len(cfg.Profiles))
	for _, s := range cfg.Profiles {
		p, err := profile.New(s.Kind, s.Name, center)
		if err != nil {
			return nil, err
		}
		res = append(res, p)
	}
	return res, nil
}
