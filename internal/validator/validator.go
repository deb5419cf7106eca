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

// Package validator computes robust per-frame statistics and rejects
// contaminated frames before staging. It is the pipeline's statistics-
// heaviest stage: the selection kernels in internal/stats, and the
// buffer pool in this package, exist to serve it.
package validator

import (
	"fmt"

	"github.com/dgedgedge/darklib/internal/config"
	"github.com/dgedgedge/darklib/internal/model"
	"github.com/dgedgedge/darklib/internal/stats"
)

// PixelReader reads a frame's full pixel rectangle into a caller-owned
// buffer, reusing its backing array when possible. This is the
// Validator's only dependency on the concrete frame format.
type PixelReader func(path string, dst []float32) ([]float32, error)

// Validator runs the four-test battery from §4.4 against each frame in
// a group, returning accepted frames (input order preserved) and
// rejected frames with their reason and stats. One Validator reuses a
// single pixel buffer across every frame it validates, growing it only
// when a larger frame demands it. It starts from an empty buffer and
// hands its last buffer back to the shared pool on Close; the pipeline
// creates one Validator per group, so the pixel buffer is reused within
// a group, not across groups.
type Validator struct {
	thresholds config.ValidatorThresholds
	readPixels PixelReader
	buf        []float32
}

func New(thresholds config.ValidatorThresholds, readPixels PixelReader) *Validator {
	return &Validator{thresholds: thresholds, readPixels: readPixels, buf: getPixelBuffer(0)}
}

// Close returns the Validator's pixel buffer to the shared pool. Call
// once the Validator will no longer be used.
func (v *Validator) Close() {
	if v.buf != nil {
		putPixelBuffer(v.buf)
		v.buf = nil
	}
}

// Validate validates every frame in frames. |accepted| + |rejected| ==
// len(frames) always holds.
func (v *Validator) Validate(frames []model.FrameInfo) (accepted []model.FrameInfo, rejected []model.RejectedFrame) {
	for _, f := range frames {
		st, reason, err := v.scoreOne(f.Path)
		if err != nil {
			rejected = append(rejected, model.RejectedFrame{Frame: f, Reason: model.RejectUnreadablePixels})
			continue
		}
		fCopy := f
		fCopy.ImageStats = &st
		if reason == model.RejectNone {
			accepted = append(accepted, fCopy)
		} else {
			rejected = append(rejected, model.RejectedFrame{Frame: fCopy, Reason: reason, Stats: st})
		}
	}
	return accepted, rejected
}

// scoreOne reads one frame's pixel data into the Validator's reused
// buffer, computes its ImageStats, and returns the first failing test
// (RejectNone if all pass).
func (v *Validator) scoreOne(path string) (model.ImageStats, model.RejectReason, error) {
	data, err := v.readPixels(path, v.buf)
	if err != nil {
		return model.ImageStats{}, model.RejectUnreadablePixels, err
	}
	v.buf = data

	st, err := computeStats(data)
	if err != nil {
		return st, model.RejectInvalidMedian, nil
	}

	switch {
	case st.Median > v.thresholds.MedianCeiling:
		return st, model.RejectMedianCeiling, nil
	case st.HotPixelFraction > v.thresholds.HotPixelFraction:
		return st, model.RejectHotPixelFraction, nil
	case st.MADRatio > v.thresholds.MADRatio:
		return st, model.RejectRelativeNoise, nil
	case st.CentralDispersion > v.thresholds.CentralDispersion:
		return st, model.RejectCentralDispersion, nil
	default:
		return st, model.RejectNone, nil
	}
}

// computeStats runs the selection kernels and the mean/std pass over data,
// destructively reordering a scratch copy (the MAD pass needs its own
// copy since it operates on |x-median| values, not the raw pixels the
// caller still needs for the mean/std pass and, afterward, returns to
// the pool).
func computeStats(data []float32) (model.ImageStats, error) {
	median := medianOf(data)
	if median <= 0 {
		return model.ImageStats{Median: median}, fmt.Errorf("validator: median %.4f <= 0, ratios undefined", median)
	}

	scratch := getPixelBuffer(len(data))
	defer putPixelBuffer(scratch)
	mad := stats.MAD(data, median, scratch)

	p10 := percentileOf(data, 10)
	p90 := percentileOf(data, 90)
	mean, std := stats.MeanStdDev(data)

	hotCeiling := mean + 3*std
	hot := 0
	for _, v := range data {
		if float64(v) > hotCeiling {
			hot++
		}
	}

	return model.ImageStats{
		Median:            median,
		MAD:               mad,
		Mean:              mean,
		Std:               std,
		P10:               p10,
		P90:               p90,
		MADRatio:          mad / median,
		CentralDispersion: (p90 - p10) / median,
		HotPixelFraction:  float64(hot) / float64(len(data)),
	}, nil
}

// medianOf and percentileOf each need their own scratch copy because
// stats.Select partitions in place, and the mean/std pass below still
// needs the original pixel order (and the original slice) intact.
func medianOf(data []float32) float64 {
	scratch := append([]float32(nil), data...)
	return stats.Median(scratch)
}

func percentileOf(data []float32, p float64) float64 {
	scratch := append([]float32(nil), data...)
	return stats.Percentile(scratch, p)
}
