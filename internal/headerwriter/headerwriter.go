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

// Package headerwriter stamps a freshly stacked master's header with
// group provenance and a canonical stack_signature, so future runs can
// detect parameter drift (UpdatePolicy rule 3) without textual
// instability forcing spurious rebuilds.
package headerwriter

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/dgedgedge/darklib/internal/config"
	"github.com/dgedgedge/darklib/internal/frameheader"
	"github.com/dgedgedge/darklib/internal/model"
)

// Signature renders params into a canonical, deterministic string:
// sorted key=value pairs, never map-iteration order, so identical
// parameters always render identically across runs and processes.
func Signature(params config.StackParams) string {
	fields := map[string]string{
		"stack_method":      string(params.StackMethod),
		"rejection_method":  string(params.RejectionMethod),
		"rejection_param1":  trimFloat(params.RejectionParam1),
		"rejection_param2":  trimFloat(params.RejectionParam2),
		"output_norm":       string(params.OutputNorm),
	}
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = fmt.Sprintf("%s=%s", k, fields[k])
	}
	return strings.Join(parts, ";")
}

func trimFloat(f float64) string {
	s := fmt.Sprintf("%.6f", f)
	s = strings.TrimRight(s, "0")
	s = strings.TrimSuffix(s, ".")
	return s
}

// Write stamps the master at path with the group's key fields, the
// latest accepted frame's AcquiredAt, the accepted-frame count, and the
// canonical signature for params.
func Write(writer frameheader.Writer, path string, key model.GroupKey, accepted []model.FrameInfo, params config.StackParams) error {
	var latest time.Time
	for _, f := range accepted {
		if f.AcquiredAt.After(latest) {
			latest = f.AcquiredAt
		}
	}

	fields := frameheader.MasterFields{
		CameraID:       key.CameraID,
		BinX:           key.Binning.H,
		BinY:           key.Binning.V,
		Gain:           key.Gain,
		ExposureS:      key.ExposureS,
		TemperatureCQ:  key.TemperatureCQ,
		IsCFA:          key.IsCFA,
		AcquiredAt:     latest,
		NFramesUsed:    len(accepted),
		StackSignature: Signature(params),
	}

	if err := writer.WriteMasterFields(path, fields); err != nil {
		return fmt.Errorf("%w: %v", model.ErrHeaderWriteFailed, err)
	}
	return nil
}
