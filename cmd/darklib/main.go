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

// Command darklib is a thin driver: it parses flags into a
// config.Params, wires the concrete fitsio/frameheader implementation,
// and runs the pipeline. It does not itself persist configuration or
// offer an interactive UX — that remains the front-end's concern.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/dgedgedge/darklib/internal/config"
	"github.com/dgedgedge/darklib/internal/fitsio"
	"github.com/dgedgedge/darklib/internal/logging"
	"github.com/dgedgedge/darklib/internal/pipeline"
)

const version = "0.1.0"

var (
	inputRoots  = flag.String("input", "", "comma-separated list of input directories to scan")
	libraryRoot = flag.String("library", "", "library root directory for master frames")
	stagingRoot = flag.String("staging", "", "staging directory root, default is <library>/.staging")

	maxAgeDays  = flag.Float64("maxAgeDays", 365, "age window in days, anchored on the latest frame seen")
	tprec       = flag.Float64("tprec", 0.5, "temperature quantization precision in degrees C")
	minDarks    = flag.Int("minDarksThreshold", 0, "minimum frame count override threshold for rule 5")
	force       = flag.Bool("force", false, "force rebuild of every group regardless of dates or signature")
	dryRun      = flag.Bool("dryRun", false, "generate the stacking script and log the command, but do not invoke the engine")

	stackMethod     = flag.String("stackMethod", "average", "stack_method: average, median")
	rejectionMethod = flag.String("rejectionMethod", "winsorized_sigma", "rejection_method: none, sigma, winsorized_sigma, minmax, percentile")
	rejectionParam1 = flag.Float64("rejectionParam1", 3.0, "first rejection parameter")
	rejectionParam2 = flag.Float64("rejectionParam2", 3.0, "second rejection parameter")
	outputNorm      = flag.String("outputNorm", "noscale", "output_norm: noscale, addscale, rejection")

	engineMode = flag.String("engineMode", "native", "stacking engine invocation mode: native, containerised, bundle")
	engineBin  = flag.String("engine", "siril", "native engine binary name or path")
	runtimeBin = flag.String("containerRuntime", "flatpak", "container runtime binary for containerised mode")
	packageID  = flag.String("packageId", "org.siril.Siril", "container package id for containerised mode")
	bundlePath = flag.String("bundlePath", "", "path to the self-contained engine bundle for bundle mode")

	showVersion = flag.Bool("version", false, "print version and exit")
)

func main() {
	flag.Parse()

	if *showVersion {
		fmt.Println("darklib", version)
		return
	}
	if *inputRoots == "" || *libraryRoot == "" {
		fmt.Fprintln(os.Stderr, "darklib: -input and -library are required")
		flag.Usage()
		os.Exit(1)
	}

	log := logging.New(os.Stderr)

	params := config.Default()
	params.InputRoots = strings.Split(*inputRoots, ",")
	params.LibraryRoot = *libraryRoot
	params.StagingRoot = *stagingRoot
	if params.StagingRoot == "" {
		params.StagingRoot = params.LibraryRoot + "/.staging"
	}
	params.MaxAgeDays = *maxAgeDays
	params.TemperaturePrecision = *tprec
	params.MinDarksThreshold = *minDarks
	params.Force = *force

	params.Stack.StackMethod = config.StackMethod(*stackMethod)
	params.Stack.RejectionMethod = config.RejectionMethod(*rejectionMethod)
	params.Stack.RejectionParam1 = *rejectionParam1
	params.Stack.RejectionParam2 = *rejectionParam2
	params.Stack.OutputNorm = config.OutputNorm(*outputNorm)

	params.Engine = config.EngineConfig{
		Mode:             parseEngineMode(*engineMode),
		NativeEngine:     *engineBin,
		ContainerRuntime: *runtimeBin,
		PackageID:        *packageID,
		BundlePath:       *bundlePath,
		DryRun:           *dryRun,
	}

	ctx, cancel := context.WithCancel(context.Background())
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Warn().Msg("interrupt received, finishing current group then stopping")
		cancel()
	}()

	fits := fitsio.New()
	p := pipeline.New(params, fits, fitsio.ReadPixels, log)

	summary, err := p.Run(ctx)
	if err != nil {
		log.Error().Err(err).Msg("run aborted")
		os.Exit(1)
	}

	if len(summary.UpdatedMasters) == 0 && len(summary.RejectedFrames) == 0 {
		log.Info().Msg("nothing to do")
	}
	if summary.GroupFailures > 0 {
		os.Exit(1)
	}
}

func parseEngineMode(s string) config.EngineMode {
	switch strings.ToLower(s) {
	case "containerised", "containerized":
		return config.Containerised
	case "bundle", "self-contained-bundle":
		return config.Bundle
	default:
		return config.Native
	}
}
