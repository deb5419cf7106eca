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

// Package scanner walks input roots and turns candidate files into
// model.FrameInfo records, via a header-reader collaborator.
package scanner

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"

	"github.com/rs/zerolog"

	"github.com/dgedgedge/darklib/internal/config"
	"github.com/dgedgedge/darklib/internal/frameheader"
	"github.com/dgedgedge/darklib/internal/model"
)

// Scanner produces FrameInfo records for Dark/Bias frames under the
// given roots, within the age window anchored on the latest acquired_at
// seen across the whole input set.
type Scanner struct {
	reader     frameheader.Reader
	extensions map[string]bool
	log        zerolog.Logger
}

func New(reader frameheader.Reader, params config.Params, log zerolog.Logger) *Scanner {
	exts := make(map[string]bool, len(params.Extensions))
	for _, e := range params.Extensions {
		exts[strings.ToLower(e)] = true
	}
	return &Scanner{reader: reader, extensions: exts, log: log}
}

// result pairs a candidate path with its header read outcome, fed back
// from the worker pool in unspecified order (§4.1 explicitly allows
// this); the Grouper imposes its own order downstream.
type result struct {
	path string
	info model.FrameInfo
	err  error
}

// Scan walks roots recursively, reads headers with bounded concurrency,
// classifies frame kind, and applies the age-window filter. Order of
// the returned slice is unspecified.
func (s *Scanner) Scan(params config.Params) ([]model.FrameInfo, error) {
	var candidates []string
	for _, root := range params.InputRoots {
		if _, err := os.Stat(root); err != nil {
			return nil, fmt.Errorf("scanner: input root %q: %w", root, err)
		}
		err := filepath.Walk(root, func(path string, fi os.FileInfo, err error) error {
			if err != nil {
				return err
			}
			if !fi.Mode().IsRegular() {
				return nil
			}
			if !s.extensions[strings.ToLower(filepath.Ext(path))] {
				return nil
			}
			candidates = append(candidates, path)
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("scanner: walking %q: %w", root, err)
		}
	}

	raw := s.readAll(candidates)

	var all []model.FrameInfo
	for _, r := range raw {
		if r.err != nil {
			s.log.Warn().Str("path", r.path).Err(r.err).Msg("skipping unreadable header")
			continue
		}
		if r.info.Kind == model.Other {
			continue
		}
		all = append(all, r.info)
	}
	if len(all) == 0 {
		return nil, nil
	}

	var latest = all[0].AcquiredAt
	for _, f := range all[1:] {
		if f.AcquiredAt.After(latest) {
			latest = f.AcquiredAt
		}
	}
	lo, hi := params.AgeWindow(latest)

	var filtered []model.FrameInfo
	for _, f := range all {
		if !f.AcquiredAt.Before(lo) && !f.AcquiredAt.After(hi) {
			filtered = append(filtered, f)
		}
	}
	return filtered, nil
}

// readAll reads headers for every candidate with bounded concurrency:
// one goroutine per file, gated by a semaphore (a
// `sem := make(chan bool, n)` idiom) so at most runtime.NumCPU() reads
// are in flight at once.
func (s *Scanner) readAll(paths []string) []result {
	results := make([]result, len(paths))
	sem := make(chan struct{}, runtime.NumCPU())
	var wg sync.WaitGroup
	for i, path := range paths {
		wg.Add(1)
		sem <- struct{}{}
		go func(i int, path string) {
			defer wg.Done()
			defer func() { <-sem }()
			results[i] = s.readOne(path)
		}(i, path)
	}
	wg.Wait()
	return results
}

func (s *Scanner) readOne(path string) result {
	ff, err := s.reader.ReadFrameHeader(path)
	if err != nil {
		return result{path: path, err: err}
	}
	info := model.FrameInfo{
		Path:         path,
		AcquiredAt:   ff.AcquiredAt,
		CameraID:     ff.CameraID,
		Binning:      model.Binning{H: ff.BinX, V: ff.BinY},
		Gain:         ff.Gain,
		ExposureS:    ff.ExposureS,
		TemperatureC: ff.TemperatureC,
		IsCFA:        ff.IsCFA,
		Kind:         classify(ff),
	}
	return result{path: path, info: info}
}

// classify infers frame kind by header hint first, falling back to the
// exposure-based rule: exactly 0.05s is Bias, anything greater is Dark.
func classify(ff frameheader.FrameFields) model.FrameKind {
	switch strings.ToLower(strings.TrimSpace(ff.KindHint)) {
	case "dark", "dark frame":
		return model.Dark
	case "bias", "bias frame":
		return model.Bias
	case "light", "light frame", "flat", "flat frame":
		return model.Other
	}
	if ff.ExposureS <= config.BiasExposureCeiling {
		return model.Bias
	}
	return model.Dark
}
