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


package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"runtime/pprof"
	"strconv"
	"strings"
	"time"

	nl "github.com/mlnoga/nightfit/internal"
	"github.com/mlnoga/nightfit/internal/config"
	"github.com/mlnoga/nightfit/internal/ops"
	"github.com/mlnoga/nightfit/internal/rest"
)

const version = "0.1.0"

var cpuprofile = flag.String("cpuprofile", "", "write cpu profile to `file`")
var memprofile = flag.String("memprofile", "", "write memory profile to `file`")

var out = flag.String("out", "out%d.fits", "save output with given filename pattern, %d is replaced by the input index")
var jpg = flag.String("jpg", "%auto", "save 8bit preview of output as JPEG. `%auto` replaces suffix of output pattern with .jpg")
var log = flag.String("log", "%auto", "save log output to `file`. `%auto` replaces suffix of output pattern with .log")
var residual = flag.String("residual", "", "fit: save residuals with given filename pattern, e.g. `res%d.fits`")

var cfgFile = flag.String("config", "", "load fit configuration from YAML `file`")
var saveCfg = flag.String("saveConfig", "", "save effective fit configuration to YAML `file`")

var pixelScale = flag.Float64("pixelScale", 1, "pixel scale for FITS files without persisted geometry")
var reduce = flag.Int("reduce", 1, "bin NxN pixels, 1=no op")
var crop = flag.String("crop", "", "crop pixels from the borders: one value for all sides, `x,y` per axis or `left,right,bottom,top`")

var bpSigLow = flag.Float64("bpSigLow", 0, "mask pixels this many sigmas below their 3x3 median, 0=no op")
var bpSigHigh = flag.Float64("bpSigHigh", 0, "mask pixels this many sigmas above their 3x3 median, 0=no op")

var starSig = flag.Float64("starSig", 0, "detect stars this many sigmas above the sky background, 0=no op")
var starInOut = flag.Float64("starInOut", 1.4, "minimal ratio of brightness inside HFR to outside HFR for star detection")
var starRadius = flag.Int("starRadius", 16, "radius for star detection in pixels")
var stars = flag.String("stars", "", "save star detections as CSV with given filename pattern, e.g. `stars%d.csv`")
var fitStars = flag.Int("fitStars", 0, "fit: add Gaussians for this many of the brightest detected stars")

var variance = flag.Bool("variance", false, "estimate a variance map for inputs without one")
var gain = flag.Float64("gain", 0, "electrons per data unit for the Poisson part of estimated variance, 0=background noise only")

var psf = flag.String("psf", "", "attach PSF kernel from FITS `file`")
var psfUpscale = flag.Int("psfUpscale", 1, "PSF kernel oversampling relative to the data")

var profiles = flag.String("profiles", "", "fit: comma-separated `kind:name` list of profiles, e.g. sky:sky,sersic:galaxy. Blank uses configuration")
var maxIter = flag.Int("maxIter", 0, "fit: maximum Levenberg-Marquardt iterations, 0=use configuration")
var verbose = flag.Bool("verbose", false, "fit: log every iteration")
var gamma = flag.Float64("gamma", 0, "preview gamma, 0=use configuration")

var addr = flag.String("addr", ":8080", "serve: listen on this address")
var chroot = flag.String("chroot", "", "serve: change filesystem root to `dir` before serving (requires root)")
var setuid = flag.Int("setuid", -1, "serve: change user id before serving, -1=no op")

func main() {
	logWriter := nl.Log
	start := time.Now()
	flag.Usage = func() {
		fmt.Fprintf(logWriter, `Nightfit Copyright (c) 2020 Markus L. Noga
This program comes with ABSOLUTELY NO WARRANTY.
This is free software, and you are welcome to redistribute it under certain conditions.
Refer to https://www.gnu.org/licenses/gpl-3.0.en.html for details.

Usage: %s [-flag value] (stats|reduce|crop|convolve|fit|serve|legal|version) (img0.fits ... imgn.fits)

Commands:
  stats    Show input image statistics and sky level
  reduce   Bin input images by the -reduce factor
  crop     Crop input images by the -crop pixels
  convolve Convolve input images with their PSF, or the one given with -psf
  fit      Fit brightness profiles to input images
  serve    Serve the REST API
  legal    Show license and attribution information
  version  Show version information

Flags:
`, os.Args[0])
		flag.PrintDefaults()
	}
	flag.Parse()

	args := flag.Args()
	if len(args) < 1 {
		flag.Usage()
		return
	}
	cmd := args[0]
	writesOutput := cmd == "reduce" || cmd == "crop" || cmd == "convolve" || cmd == "fit"
	if !writesOutput {
		*out = ""
	}

	// Initialize logging to file in addition to stdout, if selected
	if *log == "%auto" {
		*log = autoName(*out, ".log")
	}
	if *log != "" {
		if err := nl.LogAlsoToFile(*log); err != nil {
			nl.LogFatalf("Unable to open logfile '%s'\n", *log)
		}
	}

	// Also auto-select JPEG output target
	if *jpg == "%auto" {
		*jpg = autoName(*out, ".jpg")
	}

	// Enable CPU profiling if flagged
	if *cpuprofile != "" {
		f, err := os.Create(*cpuprofile)
		if err != nil {
			nl.LogFatal("Could not create CPU profile: ", err)
		}
		defer f.Close()
		if err := pprof.StartCPUProfile(f); err != nil {
			nl.LogFatal("Could not start CPU profile: ", err)
		}
		defer pprof.StopCPUProfile()
	}

	cfg, err := loadConfig()
	if err != nil {
		nl.LogFatalf("Error loading configuration: %s\n", err.Error())
	}
	c := ops.NewContext(logWriter, cfg)
	c.PixelScale = *pixelScale

	// run actions
	switch cmd {
	case "serve":
		if err = rest.MakeSandbox(logWriter, *chroot, *setuid); err == nil {
			fmt.Fprintf(logWriter, "Serving on %s, %s\n", *addr, c)
			err = rest.Serve(*addr, cfg)
		}

	case "stats", "reduce", "crop", "convolve", "fit":
		var op ops.Operator
		if op, err = pipeline(cmd, args[1:]); err != nil {
			break
		}
		var m []byte
		if m, err = json.MarshalIndent(op, "", "  "); err != nil {
			break
		}
		fmt.Fprintf(logWriter, "Running on %s with these settings:\n%s\n", c, string(m))
		_, err = ops.Run(op, c)

	case "legal":
		fmt.Fprint(logWriter, legal)

	case "version":
		fmt.Fprintf(logWriter, "Version %s\n", version)
		fmt.Fprintf(logWriter, "Running on %s\n", c)

	case "help", "?":
		flag.Usage()

	default:
		fmt.Fprintf(logWriter, "Unknown command '%s'\n\n", cmd)
		flag.Usage()
		return
	}

	fmt.Fprintf(logWriter, "\nDone after %v\n", time.Since(start))

	// Store memory profile if flagged
	if *memprofile != "" {
		f, err := os.Create(*memprofile)
		if err != nil {
			nl.LogFatal("Could not create memory profile: ", err)
		}
		defer f.Close()
		runtime.GC() // get up-to-date statistics
		if err := pprof.Lookup("allocs").WriteTo(f, 0); err != nil {
			nl.LogFatal("Could not write allocation profile: ", err)
		}
	}

	if err != nil {
		nl.LogFatalf("Error: %s\n", err.Error())
	}
	nl.LogSync()
}

// Replaces the suffix of the output pattern, dropping the index placeholder
func autoName(pattern, suffix string) string {
	if pattern == "" {
		return ""
	}
	base := strings.TrimSuffix(pattern, filepath.Ext(pattern))
	if suffix == ".log" {
		base = strings.ReplaceAll(base, "%d", "")
	}
	return base + suffix
}

// Applies flag overrides on top of the YAML configuration
func loadConfig() (*config.Config, error) {
	cfg := config.DefaultConfig()
	if *cfgFile != "" {
		var err error
		if cfg, err = config.LoadConfig(*cfgFile); err != nil {
			return nil, err
		}
	}
	if *maxIter > 0 {
		cfg.Fitter.MaxIterations = *maxIter
	}
	if *gamma > 0 {
		cfg.Output.Gamma = *gamma
	}
	cfg.Output.Verbose = cfg.Output.Verbose || *verbose
	if *profiles != "" {
		specs, err := parseProfiles(*profiles)
		if err != nil {
			return nil, err
		}
		cfg.Profiles = specs
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if *saveCfg != "" {
		if err := config.SaveConfig(cfg, *saveCfg); err != nil {
			return nil, err
		}
	}
	return cfg, nil
}

func parseProfiles(s string) ([]config.ProfileSpec, error) {
	var res []config.ProfileSpec
	for _, item := range strings.Split(s, ",") {
		kind, name, ok := strings.Cut(strings.TrimSpace(item), ":")
		if !ok {
			name = kind
		}
		if kind == "" {
			return nil, fmt.Errorf("empty profile kind in '%s'", s)
		}
		res = append(res, config.ProfileSpec{Kind: kind, Name: name})
	}
	return res, nil
}

func parseInts(s string) ([]int, error) {
	if s == "" {
		return nil, nil
	}
	var res []int
	for _, f := range strings.Split(s, ",") {
		v, err := strconv.Atoi(strings.TrimSpace(f))
		if err != nil {
			return nil, fmt.Errorf("invalid pixel count '%s': %w", f, err)
		}
		res = append(res, v)
	}
	return res, nil
}

// Builds the operator graph for a command: load, attach PSF, crop, reduce, the command itself, then save
func pipeline(cmd string, files []string) (ops.Operator, error) {
	if len(files) == 0 {
		return nil, fmt.Errorf("%s needs at least one input file", cmd)
	}
	pixels, err := parseInts(*crop)
	if err != nil {
		return nil, err
	}
	if cmd == "crop" && len(pixels) == 0 {
		return nil, fmt.Errorf("crop needs the -crop flag")
	}
	if cmd == "reduce" && *reduce <= 1 {
		return nil, fmt.Errorf("reduce needs a -reduce factor above 1")
	}

	perFile := ops.NewOpSequence(
		ops.NewOpAttachPSF(*psf, *psfUpscale),
		ops.NewOpCrop(pixels),
		ops.NewOpReduce(*reduce),
		ops.NewOpBadPixels(*bpSigLow, *bpSigHigh),
		ops.NewOpVariance(*variance, *gain),
		ops.NewOpFindStars(*starSig, *starInOut, *starRadius, *stars),
	)
	switch cmd {
	case "stats":
		perFile.Append(ops.NewOpStatsDefault())
	case "convolve":
		perFile.Append(ops.NewOpConvolveDefault())
	case "fit":
		opFit := ops.NewOpFit(nil, 0)
		opFit.Stars = *fitStars
		perFile.Append(
			opFit,
			ops.NewOpSave(*out, ops.ContentModel),
			ops.NewOpSave(*residual, ops.ContentResidual),
			ops.NewOpPreview(*jpg, ops.ContentResidual, 1),
		)
		return ops.NewOpSequence(ops.NewOpLoadMany(files), ops.NewOpForEach(perFile)), nil
	}
	perFile.Append(
		ops.NewOpSave(*out, ops.ContentTarget),
		ops.NewOpPreview(*jpg, ops.ContentTarget, 0),
	)
	return ops.NewOpSequence(ops.NewOpLoadMany(files), ops.NewOpForEach(perFile)), nil
}
