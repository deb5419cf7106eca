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

// Package model holds the data types shared across the dark frame
// calibration pipeline: FrameInfo, GroupKey, Group, Master, ImageStats
// and the rejection/decision types that flow between stages.
package model

import (
	"fmt"
	"math"
	"time"
)

// FrameKind classifies an input frame by acquisition intent.
type FrameKind int

const (
	Other FrameKind = iota
	Dark
	Bias
)

func (k FrameKind) String() string {
	switch k {
	case Dark:
		return "dark"
	case Bias:
		return "bias"
	default:
		return "other"
	}
}

// Binning is the (horizontal, vertical) pixel binning factor.
type Binning struct {
	H, V int
}

func (b Binning) String() string {
	return fmt.Sprintf("%dx%d", b.H, b.V)
}

// FrameInfo is one input file's metadata, immutable after the Scanner emits it.
type FrameInfo struct {
	Path         string
	AcquiredAt   time.Time
	CameraID     string
	Binning      Binning
	Gain         int
	ExposureS    float64
	TemperatureC float64
	IsCFA        bool
	Kind         FrameKind

	// ImageStats is populated lazily, only once the Validator requests it.
	ImageStats *ImageStats
}

// GroupKey is the acquisition-equivalence tuple. Two frames belong to the
// same group iff their keys compare equal.
type GroupKey struct {
	CameraID        string
	Binning         Binning
	Gain            int
	ExposureS       float64
	TemperatureCQ   float64 // quantized temperature
	IsCFA           bool
}

// QuantizeTemperature implements quantize(x, q) = round(x/q) * q using
// banker's (round-half-to-even) rounding, so that values exactly halfway
// between two buckets don't drift consistently toward +Inf.
func QuantizeTemperature(c, precision float64) float64 {
	if precision <= 0 {
		return c
	}
	ratio := c / precision
	rounded := roundHalfToEven(ratio)
	return rounded * precision
}

func roundHalfToEven(x float64) float64 {
	floor := math.Floor(x)
	frac := x - floor
	switch {
	case frac < 0.5:
		return floor
	case frac > 0.5:
		return floor + 1
	default:
		// exactly .5: round to even
		if math.Mod(floor, 2) == 0 {
			return floor
		}
		return floor + 1
	}
}

// KeyOf derives the GroupKey for a frame at the given temperature precision.
func KeyOf(f FrameInfo, tprec float64) GroupKey {
	return GroupKey{
		CameraID:      f.CameraID,
		Binning:       f.Binning,
		Gain:          f.Gain,
		ExposureS:     f.ExposureS,
		TemperatureCQ: QuantizeTemperature(f.TemperatureC, tprec),
		IsCFA:         f.IsCFA,
	}
}

// FileSafeName renders a GroupKey into a filesystem-safe filename stem,
// suitable as the master frame's base name within the library root.
func (k GroupKey) FileSafeName() string {
	cfa := "mono"
	if k.IsCFA {
		cfa = "cfa"
	}
	return fmt.Sprintf("master_%s_bin%s_gain%d_exp%s_temp%s_%s",
		sanitizeCameraID(k.CameraID), k.Binning, k.Gain,
		trimFloat(k.ExposureS), trimFloat(k.TemperatureCQ), cfa)
}

func sanitizeCameraID(s string) string {
	out := make([]rune, 0, len(s))
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			out = append(out, r)
		default:
			out = append(out, '_')
		}
	}
	return string(out)
}

func trimFloat(f float64) string {
	s := fmt.Sprintf("%.3f", f)
	// trim trailing zeros, then a dangling dot
	i := len(s)
	for i > 0 && s[i-1] == '0' {
		i--
	}
	if i > 0 && s[i-1] == '.' {
		i--
	}
	s = s[:i]
	if s == "" || s == "-" {
		s = "0"
	}
	return s
}

// Group is an equivalence class of frames sharing a GroupKey, sorted by
// AcquiredAt descending (invariant G1, G2).
type Group struct {
	Key    GroupKey
	Frames []FrameInfo
}

// Latest returns the maximum AcquiredAt across the group's frames.
func (g Group) Latest() time.Time {
	var latest time.Time
	for _, f := range g.Frames {
		if f.AcquiredAt.After(latest) {
			latest = f.AcquiredAt
		}
	}
	return latest
}

// Master describes the existing stacked output for a GroupKey, as read
// back from its own header.
type Master struct {
	Path            string
	CreatedAt       time.Time
	NFramesUsed     int
	StackSignature  string
}

// ImageStats is the robust per-frame pixel summary the Validator computes.
type ImageStats struct {
	Median             float64
	MAD                float64
	Mean               float64
	Std                float64
	P10                float64
	P90                float64
	MADRatio           float64
	CentralDispersion  float64
	HotPixelFraction   float64
}

// RejectReason enumerates why a frame or group was rejected.
type RejectReason int

const (
	RejectNone RejectReason = iota
	RejectMedianCeiling
	RejectHotPixelFraction
	RejectRelativeNoise
	RejectCentralDispersion
	RejectUnreadablePixels
	RejectInvalidMedian // median <= 0, ratios undefined
)

func (r RejectReason) String() string {
	switch r {
	case RejectMedianCeiling:
		return "MedianCeiling"
	case RejectHotPixelFraction:
		return "HotPixelFraction"
	case RejectRelativeNoise:
		return "RelativeNoise"
	case RejectCentralDispersion:
		return "CentralDispersion"
	case RejectUnreadablePixels:
		return "UnreadablePixels"
	case RejectInvalidMedian:
		return "InvalidMedian"
	default:
		return "None"
	}
}

// RejectedFrame carries a rejected frame through to the Reporter. Key
// identifies the group the frame was validated against, so the final
// report can present rejections grouped by group key rather than as
// one undifferentiated list.
type RejectedFrame struct {
	Frame  FrameInfo
	Reason RejectReason
	Stats  ImageStats
	Key    GroupKey
}

// GroupKeyLess is the deterministic lexicographic ordering group keys
// are sorted by wherever a stable per-key traversal order matters
// (Grouper's processing order, Reporter's grouped summary).
func GroupKeyLess(a, b GroupKey) bool {
	if a.CameraID != b.CameraID {
		return a.CameraID < b.CameraID
	}
	if a.Binning.H != b.Binning.H {
		return a.Binning.H < b.Binning.H
	}
	if a.Binning.V != b.Binning.V {
		return a.Binning.V < b.Binning.V
	}
	if a.Gain != b.Gain {
		return a.Gain < b.Gain
	}
	if a.ExposureS != b.ExposureS {
		return a.ExposureS < b.ExposureS
	}
	if a.TemperatureCQ != b.TemperatureCQ {
		return a.TemperatureCQ < b.TemperatureCQ
	}
	return !a.IsCFA && b.IsCFA
}

// Decision is the UpdatePolicy's verdict for a group.
type Decision struct {
	Build     bool
	SkipReason string // empty when Build is true
	Forced    bool   // true if Build was reached via the force flag (rule 1)
}
